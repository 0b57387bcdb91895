package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/text/language"

	"visualia/internal/backend"
)

var modelFiles = map[string]string{
	"base":     "whisper-base.gguf",
	"small":    "whisper-small.gguf",
	"medium":   "whisper-medium.gguf",
	"large-v3": "whisper-large-v3.gguf",
}

// Models lists the model selectors in size order.
func Models() []string {
	return []string{"base", "small", "medium", "large-v3"}
}

// Languages lists the source languages offered by the caption UI.
func Languages() []string {
	return []string{"auto", "en", "es", "fr", "de", "ja", "zh"}
}

// ModelFile maps a selector to its model filename. Values ending in .gguf
// are taken as filenames; unknown selectors fall back to the base model.
func ModelFile(selector string) string {
	selector = strings.TrimSpace(selector)
	if strings.HasSuffix(strings.ToLower(selector), ".gguf") {
		return filepath.Base(selector)
	}
	if file, ok := modelFiles[strings.ToLower(selector)]; ok {
		return file
	}
	return defaultModelFile
}

// NormalizeLanguage reduces a BCP 47 tag to the base ISO code the engine
// expects. "auto" and empty input select detection.
func NormalizeLanguage(code string) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" || strings.EqualFold(code, defaultSourceLanguage) {
		return defaultSourceLanguage, nil
	}
	tag, err := language.Parse(code)
	if err != nil {
		return "", fmt.Errorf("parse language %q: %w", code, err)
	}
	base, _ := tag.Base()
	return base.String(), nil
}

// SettleDelay is the pause between stopping and relaunching the engine.
func (c *Config) SettleDelay() time.Duration {
	return time.Duration(c.Engine.SettleDelayMS) * time.Millisecond
}

// StopGrace bounds how long a stopped engine may take to exit before SIGKILL.
// Zero disables escalation.
func (c *Config) StopGrace() time.Duration {
	return time.Duration(c.Engine.StopGraceSeconds) * time.Second
}

// LaunchConfig returns the launch configuration for the configured model and language.
func (c *Config) LaunchConfig() (backend.LaunchConfig, error) {
	return c.LaunchConfigFor(c.Engine.Model, c.Engine.SourceLanguage)
}

// LaunchConfigFor builds a launch configuration for an arbitrary model and
// language, resolving the model file under engine.models_dir.
func (c *Config) LaunchConfigFor(model, lang string) (backend.LaunchConfig, error) {
	normalized, err := NormalizeLanguage(lang)
	if err != nil {
		return backend.LaunchConfig{}, err
	}
	model = strings.TrimSpace(model)
	if model == "" {
		model = defaultModel
	}
	return backend.LaunchConfig{
		Binary:         c.Engine.Binary,
		Model:          model,
		ModelPath:      filepath.Join(c.Engine.ModelsDir, ModelFile(model)),
		SourceLanguage: normalized,
	}, nil
}
