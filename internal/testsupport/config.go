package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"visualia/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// The API binds an ephemeral loopback port, the settle delay is short, and
// hotplug is off.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Engine.ModelsDir = filepath.Join(base, "models")
	cfgVal.Engine.Model = "base"
	cfgVal.Engine.SourceLanguage = "auto"
	cfgVal.Engine.SettleDelayMS = 20
	cfgVal.Engine.StopGraceSeconds = 2
	cfgVal.API.Bind = "127.0.0.1:0"
	cfgVal.Hotplug.Enabled = false

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithEngineScript writes body as an executable shell script and points
// engine.binary at it.
func WithEngineScript(body string) ConfigOption {
	return func(b *configBuilder) {
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		target := filepath.Join(binDir, "visualia-engine")
		if err := os.WriteFile(target, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
			b.t.Fatalf("write engine script: %v", err)
		}
		b.cfg.Engine.Binary = target
	}
}

// WithModelFiles creates empty model files for the given selectors under
// engine.models_dir.
func WithModelFiles(selectors ...string) ConfigOption {
	return func(b *configBuilder) {
		if err := os.MkdirAll(b.cfg.Engine.ModelsDir, 0o755); err != nil {
			b.t.Fatalf("mkdir models dir: %v", err)
		}
		for _, selector := range selectors {
			target := filepath.Join(b.cfg.Engine.ModelsDir, config.ModelFile(selector))
			if err := os.WriteFile(target, nil, 0o644); err != nil {
				b.t.Fatalf("write model %s: %v", selector, err)
			}
		}
	}
}

// WithoutAPI disables the HTTP surface.
func WithoutAPI() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.API.Bind = ""
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
