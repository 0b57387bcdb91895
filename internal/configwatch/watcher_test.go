package configwatch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/goleak"

	"visualia/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestReloadsOnWrite(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("[engine]\nmodel = \"base\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	changes := make(chan *config.Config, 4)
	w := New(path, 20*time.Millisecond, nil, func(cfg *config.Config) { changes <- cfg })
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run: %v", err)
		}
	}()

	// Give the watcher time to register before editing.
	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(path, []byte("[engine]\nmodel = \"small\"\n"), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case cfg := <-changes:
		if cfg.Engine.Model != "small" {
			t.Fatalf("model = %q, want small", cfg.Engine.Model)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}
}

func TestInvalidEditIsIgnored(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[logging]\nformat = \"xml\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	called := false
	w := New(path, 0, nil, func(*config.Config) { called = true })
	w.reload()
	if called {
		t.Fatal("onChange called for invalid configuration")
	}
	if w.debounce != DefaultDebounce {
		t.Fatalf("debounce = %v", w.debounce)
	}
}
