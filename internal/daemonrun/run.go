// Package daemonrun hosts the visualia daemon process: logging setup, log
// retention, the pid file, and the optional terminal view.
package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"

	"visualia/internal/api"
	"visualia/internal/config"
	"visualia/internal/daemon"
	"visualia/internal/deps"
	"visualia/internal/logging"
	"visualia/internal/tui"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
	// ConfigPath is watched for edits when the file exists.
	ConfigPath string
	// TUI renders captions in the terminal; logs then go only to the file.
	TUI bool
}

// Run starts the visualia daemon and blocks until it is interrupted.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	sessionID := uuid.NewString()
	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("visualia-%s.log", runID))
	outputs := []string{"stdout", logPath}
	if opts.TUI {
		outputs = []string{logPath}
	}
	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: outputs,
		Development: opts.Development,
		SessionID:   sessionID,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	logDependencySnapshot(logger, cfg)
	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update visualia.log link: %v\n", err)
	}
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: "visualia-*.log", Exclude: []string{logPath}},
	)
	pidPath := filepath.Join(cfg.Paths.StateDir, "visualia.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	watchPath := ""
	if opts.ConfigPath != "" {
		if _, err := os.Stat(opts.ConfigPath); err == nil {
			watchPath = opts.ConfigPath
		}
	}

	if !opts.TUI {
		d, err := daemon.New(cfg, watchPath, logger, daemon.WithSessionID(sessionID))
		if err != nil {
			return fmt.Errorf("create daemon: %w", err)
		}
		if err := d.Run(signalCtx); err != nil {
			return err
		}
		logger.Info("visualia daemon shutting down")
		return nil
	}
	return runWithTUI(signalCtx, cfg, watchPath, sessionID, logger)
}

func runWithTUI(ctx context.Context, cfg *config.Config, watchPath, sessionID string, logger *slog.Logger) error {
	var d *daemon.Daemon
	model := tui.New(tui.Options{
		Model:     cfg.Engine.Model,
		Language:  cfg.Engine.SourceLanguage,
		Models:    config.Models(),
		Languages: config.Languages(),
		Request: func(name, lang string) error {
			_, err := d.RequestConfig(api.ConfigRequest{Model: name, SourceLanguage: lang})
			return err
		},
	})

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(runCtx))

	d, err := daemon.New(cfg, watchPath, logger,
		daemon.WithSessionID(sessionID),
		daemon.WithSink(tui.Sink(program)),
	)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- d.Run(runCtx)
		program.Quit()
	}()

	_, uiErr := program.Run()
	stop()
	runErr := <-done
	if errors.Is(uiErr, tea.ErrProgramKilled) || errors.Is(uiErr, context.Canceled) {
		uiErr = nil
	}
	return errors.Join(runErr, uiErr)
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "visualia.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	statuses := deps.Check(deps.Requirements(cfg))
	attrs := []logging.Attr{logging.String(logging.FieldEventType, "dependency_snapshot")}
	for _, status := range statuses {
		attrs = append(attrs, logging.Bool(attrKey(status.Name)+"_available", status.Available))
	}
	logger.Info("dependency snapshot", logging.Args(attrs...)...)
	for _, missing := range deps.Missing(statuses) {
		logging.WarnWithContext(logger, "required dependency missing", "dependency_missing",
			logging.String("dependency", missing.Name),
			logging.String("target", missing.Target),
			logging.String("detail", missing.Detail),
			logging.String(logging.FieldErrorHint, "install the engine or fix engine paths in the config"),
			logging.String(logging.FieldImpact, "the engine will fail to launch"),
		)
	}
}

func attrKey(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
}
