// Package restart relaunches the engine after configuration changes.
//
// A Coordinator runs one cycle at a time: stop the attached engine, wait the
// settle delay, then launch the most recently requested configuration.
// Requests arriving while the cycle waits restart the delay; requests
// arriving while it launches schedule one more cycle. Intermediate
// configurations are dropped.
package restart

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"visualia/internal/backend"
	"visualia/internal/logging"
)

// Phase is the coordinator state.
type Phase int

const (
	Idle Phase = iota
	Stopping
	Waiting
	Starting
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Stopping:
		return "stopping"
	case Waiting:
		return "waiting"
	case Starting:
		return "starting"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// DefaultSettleDelay lets ports and device handles release before relaunch.
const DefaultSettleDelay = time.Second

// Target is the supervisor surface the coordinator drives.
type Target interface {
	State() backend.State
	Stop(ctx context.Context) error
	Launch(ctx context.Context, cfg backend.LaunchConfig) error
}

// Result reports the outcome of one completed cycle.
type Result struct {
	Config     backend.LaunchConfig
	Err        error
	Superseded int
}

// Coordinator serializes relaunch requests against a Target.
type Coordinator struct {
	target   Target
	delay    time.Duration
	logger   *slog.Logger
	onResult func(Result)

	wake chan struct{}

	mu         sync.Mutex
	phase      Phase
	pending    *backend.LaunchConfig
	superseded int
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithSettleDelay overrides the pause between stop and launch.
func WithSettleDelay(d time.Duration) Option {
	return func(c *Coordinator) {
		if d >= 0 {
			c.delay = d
		}
	}
}

// WithLogger sets the coordinator logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithResultHandler observes every completed cycle.
func WithResultHandler(fn func(Result)) Option {
	return func(c *Coordinator) { c.onResult = fn }
}

// New returns an idle coordinator for target.
func New(target Target, opts ...Option) *Coordinator {
	c := &Coordinator{
		target: target,
		delay:  DefaultSettleDelay,
		logger: logging.NewNop(),
		wake:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Request asks for a relaunch with cfg. It never blocks; the newest
// request replaces any pending one.
func (c *Coordinator) Request(cfg backend.LaunchConfig) {
	c.mu.Lock()
	if c.pending != nil {
		c.superseded++
	}
	c.pending = &cfg
	phase := c.phase
	c.mu.Unlock()

	c.logger.Debug("relaunch requested",
		logging.String("model", cfg.Model),
		logging.String("source_language", cfg.SourceLanguage),
		logging.String("phase", phase.String()),
	)
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Phase reports the current cycle phase.
func (c *Coordinator) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Pending returns the configuration waiting to be launched, if any.
func (c *Coordinator) Pending() (backend.LaunchConfig, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return backend.LaunchConfig{}, false
	}
	return *c.pending, true
}

// Run processes requests until ctx is done.
func (c *Coordinator) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.wake:
			c.cycle(ctx)
		}
	}
}

func (c *Coordinator) setPhase(p Phase) {
	c.mu.Lock()
	c.phase = p
	c.mu.Unlock()
}

func (c *Coordinator) cycle(ctx context.Context) {
	defer c.setPhase(Idle)

	c.setPhase(Stopping)
	if c.target.State() == backend.Attached {
		if err := c.target.Stop(ctx); err != nil {
			logging.WarnWithContext(c.logger, "engine stop before relaunch failed", "restart_stop_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "relaunch continues after the settle delay"),
			)
		}
	}

	c.setPhase(Waiting)
	timer := time.NewTimer(c.delay)
	defer timer.Stop()
	for waiting := true; waiting; {
		select {
		case <-ctx.Done():
			return
		case <-c.wake:
			timer.Reset(c.delay)
		case <-timer.C:
			waiting = false
		}
	}

	c.mu.Lock()
	if c.pending == nil {
		c.mu.Unlock()
		return
	}
	cfg := *c.pending
	superseded := c.superseded
	c.pending = nil
	c.superseded = 0
	c.phase = Starting
	c.mu.Unlock()

	err := c.target.Launch(ctx, cfg)
	if err != nil {
		logging.ErrorWithContext(c.logger, "engine relaunch failed", "restart_launch_failed",
			logging.Error(err),
			logging.String("model", cfg.Model),
			logging.String(logging.FieldErrorHint, "check engine.binary and the model file"),
		)
	} else {
		c.logger.Info("engine relaunched",
			logging.String(logging.FieldEventType, "engine_relaunched"),
			logging.String("model", cfg.Model),
			logging.String("source_language", cfg.SourceLanguage),
			logging.Int("superseded", superseded),
		)
	}
	c.setPhase(Idle)
	if c.onResult != nil {
		c.onResult(Result{Config: cfg, Err: err, Superseded: superseded})
	}
}
