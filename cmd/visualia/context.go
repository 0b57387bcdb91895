package main

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"visualia/internal/api"
	"visualia/internal/config"
	"visualia/internal/logging"
)

type commandContext struct {
	configFlag   *string
	logLevelFlag *string

	configOnce   sync.Once
	config       *config.Config
	configPath   string
	configExists bool
	configErr    error
}

func newCommandContext(configFlag, logLevelFlag *string) *commandContext {
	return &commandContext{
		configFlag:   configFlag,
		logLevelFlag: logLevelFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, exists, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolved
		c.configExists = exists
	})
	return c.config, c.configErr
}

func (c *commandContext) logLevel() (string, error) {
	if c.logLevelFlag == nil {
		return "", nil
	}
	level := strings.ToLower(strings.TrimSpace(*c.logLevelFlag))
	switch level {
	case "", "debug", "info", "warn", "warning", "error":
		return level, nil
	default:
		return "", fmt.Errorf("invalid --log-level %q", *c.logLevelFlag)
	}
}

func (c *commandContext) withClient(fn func(*api.Client) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	client, err := api.NewClient(cfg.API.Bind, cfg.API.Token)
	if err != nil {
		return fmt.Errorf("api client: %w", err)
	}
	if client == nil {
		return errors.New("api.bind is empty; the daemon API is disabled")
	}
	if err := fn(client); err != nil {
		return wrapClientError(err, cfg.API.Bind)
	}
	return nil
}

func wrapClientError(err error, bind string) error {
	if api.IsUnavailable(err) {
		return fmt.Errorf("connect to daemon at %s: %w; start it with `visualia run`", bind, api.ErrUnavailable)
	}
	return err
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func truncate(s string, limit int) string {
	return logging.Truncate(s, limit)
}
