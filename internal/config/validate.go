package config

import (
	"errors"
	"fmt"
	"net"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if c.Engine.Binary == "" {
		return errors.New("engine.binary must be set")
	}
	if c.Engine.SettleDelayMS < 0 {
		return errors.New("engine.settle_delay_ms must be >= 0")
	}
	if c.Engine.StopGraceSeconds < 0 {
		return errors.New("engine.stop_grace_seconds must be >= 0")
	}
	if c.Engine.MaxRestarts < 0 {
		return errors.New("engine.max_restarts must be >= 0")
	}
	if _, err := NormalizeLanguage(c.Engine.SourceLanguage); err != nil {
		return fmt.Errorf("engine.source_language: %w", err)
	}
	if c.Paths.StateDir == "" {
		return errors.New("paths.state_dir must be set")
	}
	if c.Paths.LogDir == "" {
		return errors.New("paths.log_dir must be set")
	}
	if c.API.Bind != "" {
		if _, _, err := net.SplitHostPort(c.API.Bind); err != nil {
			return fmt.Errorf("api.bind: %w", err)
		}
	}
	if c.Transcripts.RetentionDays < 0 {
		return errors.New("transcripts.retention_days must be >= 0")
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must be >= 0")
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
