package testsupport

import (
	"testing"

	"visualia/internal/config"
	"visualia/internal/transcripts"
)

// MustOpenStore opens the transcript store for cfg and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *transcripts.Store {
	t.Helper()

	store, err := transcripts.Open(cfg.TranscriptsPath())
	if err != nil {
		t.Fatalf("transcripts.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}
