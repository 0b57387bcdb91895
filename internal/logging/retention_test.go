package logging_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"visualia/internal/logging"
)

func TestCleanupOldLogsRemovesOnlyStaleMatches(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, "visualia-old.log")
	fresh := filepath.Join(dir, "visualia-new.log")
	current := filepath.Join(dir, "visualia-current.log")
	other := filepath.Join(dir, "notes.txt")
	for _, path := range []string{stale, fresh, current, other} {
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}
	old := time.Now().AddDate(0, 0, -10)
	for _, path := range []string{stale, current, other} {
		if err := os.Chtimes(path, old, old); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}

	removed := logging.CleanupOldLogs(logging.NewNop(), 3, logging.RetentionTarget{
		Dir:     dir,
		Pattern: "visualia-*.log",
		Exclude: []string{current},
	})
	if removed != 1 {
		t.Fatalf("expected one removal, got %d", removed)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("expected stale log removed, err=%v", err)
	}
	for _, path := range []string{fresh, current, other} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected %s to remain: %v", path, err)
		}
	}
}

func TestCleanupOldLogsDisabled(t *testing.T) {
	if got := logging.CleanupOldLogs(nil, 0, logging.RetentionTarget{Dir: t.TempDir()}); got != 0 {
		t.Fatalf("expected no removals, got %d", got)
	}
}
