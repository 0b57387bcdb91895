package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"visualia/internal/api"
	"visualia/internal/backend"
	"visualia/internal/config"
	"visualia/internal/configwatch"
	"visualia/internal/eventhub"
	"visualia/internal/events"
	"visualia/internal/hotplug"
	"visualia/internal/logging"
	"visualia/internal/protocol"
	"visualia/internal/restart"
	"visualia/internal/transcripts"
)

// ErrAlreadyRunning means another daemon holds the lock.
var ErrAlreadyRunning = errors.New("another visualia daemon instance is already running")

const (
	shutdownSlack = 2 * time.Second
	// stableUptime is how long an engine must run before its crash no
	// longer counts toward engine.max_restarts.
	stableUptime = time.Minute
)

// Option configures a Daemon.
type Option func(*Daemon)

// WithSpawner replaces the engine process spawner.
func WithSpawner(spawner backend.Spawner) Option {
	return func(d *Daemon) { d.spawner = spawner }
}

// WithSink adds an event hub sink, such as the terminal view.
func WithSink(sink eventhub.Sink) Option {
	return func(d *Daemon) { d.sinks = append(d.sinks, sink) }
}

// WithSessionID fixes the session identifier instead of generating one.
func WithSessionID(id string) Option {
	return func(d *Daemon) {
		if id != "" {
			d.session = id
		}
	}
}

// Daemon owns one caption channel and everything attached to it.
type Daemon struct {
	cfg        *config.Config
	configPath string
	logger     *slog.Logger
	session    string
	spawner    backend.Spawner
	sinks      []eventhub.Sink

	lock        *flock.Flock
	dispatcher  *events.Dispatcher
	hub         *eventhub.Hub
	supervisor  *backend.Supervisor
	coordinator *restart.Coordinator
	store       *transcripts.Store
	journal     *transcripts.Journal
	api         *api.Server
	hotplug     *hotplug.Monitor
	watcher     *configwatch.Watcher

	running  atomic.Bool
	stopping atomic.Bool

	mu         sync.Mutex
	desired    backend.LaunchConfig
	launchedAt time.Time
	restarts   int
}

// New constructs a daemon. configPath, when non-empty, is watched for edits.
func New(cfg *config.Config, configPath string, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires config")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	desired, err := cfg.LaunchConfig()
	if err != nil {
		return nil, fmt.Errorf("launch config: %w", err)
	}

	d := &Daemon{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
		session:    uuid.NewString(),
		lock:       flock.New(cfg.LockPath()),
		dispatcher: events.NewDispatcher(),
		hub:        eventhub.New(eventhub.DefaultCapacity),
		desired:    desired,
	}
	for _, opt := range opts {
		opt(d)
	}

	supervisorOpts := []backend.Option{
		backend.WithLogger(logging.NewComponentLogger(logger, "supervisor")),
		backend.WithStopGrace(cfg.StopGrace()),
		backend.WithExitHandler(d.handleExit),
	}
	if d.spawner != nil {
		supervisorOpts = append(supervisorOpts, backend.WithSpawner(d.spawner))
	}
	d.supervisor = backend.New(d.dispatcher, supervisorOpts...)
	d.coordinator = restart.New(d.supervisor,
		restart.WithSettleDelay(cfg.SettleDelay()),
		restart.WithLogger(logging.NewComponentLogger(logger, "restart")),
		restart.WithResultHandler(d.handleRestart),
	)

	d.dispatcher.OnAny(func(event protocol.Event) {
		d.hub.Publish(eventhub.FromEvent(event))
	})
	for _, sink := range d.sinks {
		d.hub.AddSink(sink)
	}

	d.api = api.NewServer(cfg.API.Bind, cfg.API.Token, d, d.hub, nil, logger)
	if cfg.Hotplug.Enabled {
		d.hotplug = hotplug.New(cfg.Hotplug.Subsystem, logger, d.handleDeviceChange)
	}
	if configPath != "" {
		d.watcher = configwatch.New(configPath, configwatch.DefaultDebounce, logger, d.handleConfigChange)
	}
	return d, nil
}

// SessionID identifies this daemon run.
func (d *Daemon) SessionID() string { return d.session }

// Hub exposes the event hub.
func (d *Daemon) Hub() *eventhub.Hub { return d.hub }

// APIAddr reports the bound API address once Run has started listening.
func (d *Daemon) APIAddr() string { return d.api.Addr() }

// Running reports whether Run is active.
func (d *Daemon) Running() bool { return d.running.Load() }

// Run acquires the instance lock, launches the engine, and serves until ctx
// ends. The engine is stopped before Run returns.
func (d *Daemon) Run(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return errors.New("daemon already running")
	}
	defer d.running.Store(false)

	if err := d.cfg.EnsureDirectories(); err != nil {
		return err
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}
	defer func() {
		if err := d.lock.Unlock(); err != nil {
			d.logger.Warn("failed to release daemon lock", logging.Error(err))
		}
	}()

	if err := d.openTranscripts(ctx); err != nil {
		return err
	}
	defer d.closeTranscripts()

	if err := d.api.Start(); err != nil {
		return err
	}

	d.stopping.Store(false)
	d.launchInitial(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.coordinator.Run(gctx) })
	g.Go(func() error { return d.api.Serve(gctx) })
	if d.journal != nil {
		g.Go(func() error { return d.journal.Run(gctx) })
	}
	if d.watcher != nil {
		g.Go(func() error {
			if err := d.watcher.Run(gctx); err != nil {
				logging.WarnWithContext(d.logger, "config watch unavailable", "config_watch_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "config edits require a restart"),
				)
			}
			return nil
		})
	}
	if err := d.hotplug.Start(gctx); err != nil {
		d.logger.Debug("hotplug start", logging.Error(err))
	}
	defer d.hotplug.Stop()

	d.logger.Info("visualia daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.cfg.LockPath()),
		logging.String("api", d.api.Addr()),
	)

	<-gctx.Done()
	d.stopping.Store(true)
	runErr := g.Wait()

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.StopGrace()+shutdownSlack)
	defer cancel()
	if err := d.supervisor.Stop(stopCtx); err != nil {
		logging.WarnWithContext(d.logger, "engine did not stop cleanly", "engine_stop_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "engine process may still be running"),
		)
	}
	d.logger.Info("visualia daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
	return runErr
}

func (d *Daemon) openTranscripts(ctx context.Context) error {
	if !d.cfg.Transcripts.Enabled {
		return nil
	}
	store, err := transcripts.Open(d.cfg.TranscriptsPath())
	if err != nil {
		return fmt.Errorf("open transcripts: %w", err)
	}
	if days := d.cfg.Transcripts.RetentionDays; days > 0 {
		cutoff := time.Now().AddDate(0, 0, -days)
		if removed, err := store.Prune(ctx, cutoff); err != nil {
			logging.WarnWithContext(d.logger, "transcript prune failed", "transcripts_prune_failed", logging.Error(err))
		} else if removed > 0 {
			d.logger.Info("transcripts pruned", logging.Int64("removed", removed))
		}
	}
	d.store = store
	d.journal = transcripts.NewJournal(store, d.session, d.currentLaunch, logging.NewComponentLogger(d.logger, "transcripts"))
	d.hub.AddSink(d.journal)
	d.api.SetHistory(store)
	return nil
}

func (d *Daemon) closeTranscripts() {
	if d.store == nil {
		return
	}
	if err := d.store.Close(); err != nil {
		d.logger.Warn("failed to close transcripts", logging.Error(err))
	}
}

func (d *Daemon) launchInitial(ctx context.Context) {
	cfg := d.desiredLaunch()
	if err := d.supervisor.Launch(ctx, cfg); err != nil {
		d.reportLaunchFailure(cfg, err)
		return
	}
	d.markLaunched()
	d.hub.Publish(eventhub.Started(cfg, d.supervisor.Status().PID))
}

func (d *Daemon) markLaunched() {
	d.mu.Lock()
	d.launchedAt = time.Now()
	d.mu.Unlock()
}

// resetRestarts clears the crash count before a deliberate relaunch.
func (d *Daemon) resetRestarts() {
	d.mu.Lock()
	d.restarts = 0
	d.mu.Unlock()
}

// nextRestart counts an automatic restart and reports whether it is allowed.
func (d *Daemon) nextRestart() (attempt int, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.launchedAt.IsZero() && time.Since(d.launchedAt) >= stableUptime {
		d.restarts = 0
	}
	d.restarts++
	limit := d.cfg.Engine.MaxRestarts
	return d.restarts, limit == 0 || d.restarts <= limit
}

func (d *Daemon) reportLaunchFailure(cfg backend.LaunchConfig, err error) {
	logging.ErrorWithContext(d.logger, "engine launch failed", "engine_launch_failed",
		logging.Error(err),
		logging.String("binary", cfg.Binary),
		logging.String(logging.FieldErrorHint, "run visualia deps to verify the engine binary and model files"),
	)
	d.hub.Publish(eventhub.LaunchFailed(err))
}

func (d *Daemon) handleExit(exit backend.Exit) {
	d.hub.Publish(eventhub.Exited(exit))
	if !exit.Unexpected() || !d.cfg.Engine.AutoRestart || d.stopping.Load() {
		return
	}
	attempt, ok := d.nextRestart()
	if !ok {
		logging.WarnWithContext(d.logger, "engine keeps exiting; automatic restart disabled", "engine_restart_limit",
			logging.Int(logging.FieldPID, exit.PID),
			logging.Int("attempts", attempt-1),
			logging.String(logging.FieldErrorHint, "check the engine log output and model file"),
			logging.String(logging.FieldImpact, "captions stay off until the configuration changes"),
		)
		return
	}
	d.logger.Info("relaunching engine after unexpected exit",
		logging.String(logging.FieldEventType, "engine_auto_restart"),
		logging.Int(logging.FieldPID, exit.PID),
		logging.Int("attempt", attempt),
	)
	d.coordinator.Request(d.desiredLaunch())
}

func (d *Daemon) handleRestart(result restart.Result) {
	if result.Err != nil {
		d.reportLaunchFailure(result.Config, result.Err)
		return
	}
	d.markLaunched()
	d.hub.Publish(eventhub.Started(result.Config, d.supervisor.Status().PID))
}

func (d *Daemon) handleDeviceChange(change hotplug.Change) {
	d.logger.Info("capture device changed; relaunching engine",
		logging.String(logging.FieldEventType, "capture_device_changed"),
		logging.String("action", change.Action),
		logging.String("device", change.Device),
	)
	d.resetRestarts()
	d.coordinator.Request(d.desiredLaunch())
}

func (d *Daemon) handleConfigChange(cfg *config.Config) {
	next, err := cfg.LaunchConfig()
	if err != nil {
		logging.WarnWithContext(d.logger, "ignoring config edit", "config_reload_invalid", logging.Error(err))
		return
	}
	d.mu.Lock()
	changed := next != d.desired
	if changed {
		d.desired = next
	}
	d.mu.Unlock()
	if !changed {
		return
	}
	d.logger.Info("engine configuration changed on disk",
		logging.String(logging.FieldEventType, "config_reloaded"),
		logging.String("model", next.Model),
		logging.String("source_language", next.SourceLanguage),
	)
	d.resetRestarts()
	d.coordinator.Request(next)
}

func (d *Daemon) desiredLaunch() backend.LaunchConfig {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.desired
}

func (d *Daemon) currentLaunch() backend.LaunchConfig {
	return d.supervisor.Status().Launch
}

// RequestConfig asks for a relaunch with a new model and/or source
// language. Empty fields keep the current selection.
func (d *Daemon) RequestConfig(req api.ConfigRequest) (backend.LaunchConfig, error) {
	d.mu.Lock()
	model := d.desired.Model
	lang := d.desired.SourceLanguage
	if req.Model != "" {
		model = req.Model
	}
	if req.SourceLanguage != "" {
		lang = req.SourceLanguage
	}
	next, err := d.cfg.LaunchConfigFor(model, lang)
	if err != nil {
		d.mu.Unlock()
		return backend.LaunchConfig{}, fmt.Errorf("%w: %v", api.ErrInvalidRequest, err)
	}
	next.Binary = d.desired.Binary
	d.desired = next
	d.mu.Unlock()

	d.logger.Info("engine relaunch requested",
		logging.String(logging.FieldEventType, "config_change_requested"),
		logging.String("model", next.Model),
		logging.String("source_language", next.SourceLanguage),
	)
	d.resetRestarts()
	d.coordinator.Request(next)
	return next, nil
}

// Send queues msg for the engine. It reports false when no engine was
// attached or the outbound queue was full.
func (d *Daemon) Send(msg protocol.Message) (bool, error) {
	if d.supervisor.State() != backend.Attached {
		return false, nil
	}
	if err := d.supervisor.Send(msg); err != nil {
		if errors.Is(err, backend.ErrSendQueueFull) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Status summarizes the channel for the API.
func (d *Daemon) Status() api.Status {
	st := d.supervisor.Status()
	out := api.Status{
		SessionID:    d.session,
		State:        st.State.String(),
		PID:          st.PID,
		Launch:       api.FromLaunchConfig(st.Launch),
		RestartPhase: d.coordinator.Phase().String(),
		DroppedLines: st.DroppedLines,
		DroppedSends: st.DroppedSends,
		LastExit:     api.FromExit(st.LastExit),
		Hotplug:      d.hotplug.Running(),
	}
	if !st.StartedAt.IsZero() {
		out.StartedAt = st.StartedAt.UTC().Format(time.RFC3339)
	}
	if pending, ok := d.coordinator.Pending(); ok {
		info := api.FromLaunchConfig(pending)
		out.Pending = &info
	}
	if last, ok := d.hub.Last(string(protocol.KindTranscription)); ok {
		out.LastCaption = last.Text
	}
	return out
}
