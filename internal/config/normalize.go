package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizeEngine(); err != nil {
		return err
	}
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeAPI()
	c.normalizeHotplug()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizeEngine() error {
	c.Engine.Binary = strings.TrimSpace(c.Engine.Binary)
	if c.Engine.Binary == "" {
		if value, ok := os.LookupEnv("VISUALIA_BACKEND"); ok {
			c.Engine.Binary = strings.TrimSpace(value)
		}
	}
	if c.Engine.Binary == "" {
		c.Engine.Binary = defaultBinary
	}
	var err error
	if c.Engine.Binary, err = expandPath(c.Engine.Binary); err != nil {
		return fmt.Errorf("engine.binary: %w", err)
	}
	if c.Engine.ModelsDir, err = expandPath(strings.TrimSpace(c.Engine.ModelsDir)); err != nil {
		return fmt.Errorf("engine.models_dir: %w", err)
	}

	c.Engine.Model = strings.TrimSpace(c.Engine.Model)
	if c.Engine.Model == "" {
		if value, ok := os.LookupEnv("VISUALIA_MODEL"); ok {
			c.Engine.Model = strings.TrimSpace(value)
		}
	}
	if c.Engine.Model == "" {
		c.Engine.Model = defaultModel
	}

	c.Engine.SourceLanguage = strings.TrimSpace(c.Engine.SourceLanguage)
	if c.Engine.SourceLanguage == "" {
		if value, ok := os.LookupEnv("VISUALIA_LANG"); ok {
			c.Engine.SourceLanguage = strings.TrimSpace(value)
		}
	}
	if c.Engine.SourceLanguage == "" {
		c.Engine.SourceLanguage = defaultSourceLanguage
	}
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.StateDir, err = expandPath(strings.TrimSpace(c.Paths.StateDir)); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(strings.TrimSpace(c.Paths.LogDir)); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeAPI() {
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	c.API.Token = strings.TrimSpace(c.API.Token)
}

func (c *Config) normalizeHotplug() {
	c.Hotplug.Subsystem = strings.ToLower(strings.TrimSpace(c.Hotplug.Subsystem))
	if c.Hotplug.Subsystem == "" {
		c.Hotplug.Subsystem = defaultHotplugSubsystem
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
