package backend

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"visualia/internal/logging"
	"visualia/internal/protocol"
)

// State is the channel lifecycle state.
type State int32

const (
	Unattached State = iota
	Attached
	Closed
)

func (s State) String() string {
	switch s {
	case Unattached:
		return "unattached"
	case Attached:
		return "attached"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

const (
	readChunkSize    = 32 * 1024
	maxStderrLine    = 1024 * 1024
	maxLoggedLine    = 512
	defaultStopGrace = 5 * time.Second

	// DefaultSendBuffer is how many outbound messages may wait for the
	// engine to read its stdin.
	DefaultSendBuffer = 256
	// DefaultOutputDrain bounds how long output is read after the engine
	// exits while something else still holds its stdout open.
	DefaultOutputDrain = 2 * time.Second
)

// Dispatcher receives decoded engine events.
type Dispatcher interface {
	Dispatch(protocol.Event)
}

// ExitHandler is told about every process exit, requested or not. It runs
// before Stop returns for requested exits.
type ExitHandler func(Exit)

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger sets the supervisor logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Supervisor) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSpawner replaces the process spawner.
func WithSpawner(spawner Spawner) Option {
	return func(s *Supervisor) {
		if spawner != nil {
			s.spawner = spawner
		}
	}
}

// WithStopGrace sets how long Stop waits after SIGTERM before SIGKILL.
// Zero waits indefinitely.
func WithStopGrace(grace time.Duration) Option {
	return func(s *Supervisor) {
		if grace >= 0 {
			s.grace = grace
		}
	}
}

// WithSendBuffer sets the outbound queue capacity.
func WithSendBuffer(n int) Option {
	return func(s *Supervisor) {
		if n > 0 {
			s.sendBuffer = n
		}
	}
}

// WithOutputDrain sets how long output is drained after the engine exits.
func WithOutputDrain(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.outputDrain = d
		}
	}
}

// WithExitHandler registers the exit observer.
func WithExitHandler(fn ExitHandler) Option {
	return func(s *Supervisor) { s.onExit = fn }
}

// Status is a point-in-time view of the channel.
type Status struct {
	State        State
	PID          int
	Launch       LaunchConfig
	StartedAt    time.Time
	DroppedLines uint64
	DroppedSends uint64
	LastExit     *Exit
}

// Supervisor owns the engine process and its control channel.
type Supervisor struct {
	dispatcher Dispatcher
	spawner    Spawner
	logger     *slog.Logger
	stderrLog  *slog.Logger
	grace       time.Duration
	sendBuffer  int
	outputDrain time.Duration
	onExit      ExitHandler

	dropped      atomic.Uint64
	droppedSends atomic.Uint64

	mu       sync.Mutex
	state    State
	current  *attachment
	launch   LaunchConfig
	lastExit *Exit
}

type attachment struct {
	proc      Process
	path      string
	startedAt time.Time

	// outbox feeds pumpStdin, the only writer of the engine's stdin.
	outbox     chan []byte
	inputDone  chan struct{}
	inputOnce  sync.Once
	writerDone chan struct{}
	writeErr   atomic.Pointer[error]

	// dispatchMu is held while a chunk is framed and dispatched; Stop
	// takes it after setting detached so no dispatch outlives Stop.
	dispatchMu sync.Mutex
	framer     protocol.Framer
	detached   atomic.Bool
	requested  atomic.Bool

	done chan struct{}
}

// New returns an Unattached supervisor delivering events to dispatcher.
func New(dispatcher Dispatcher, opts ...Option) *Supervisor {
	s := &Supervisor{
		dispatcher: dispatcher,
		spawner:     ExecSpawner{},
		logger:      logging.NewNop(),
		grace:       defaultStopGrace,
		sendBuffer:  DefaultSendBuffer,
		outputDrain: DefaultOutputDrain,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.stderrLog = s.logger.With(logging.String(logging.FieldComponent, "engine-stderr"))
	return s
}

// State reports the current channel state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status reports the channel state with process details.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := Status{
		State:        s.state,
		Launch:       s.launch,
		DroppedLines: s.dropped.Load(),
		DroppedSends: s.droppedSends.Load(),
		LastExit:     s.lastExit,
	}
	if s.current != nil {
		status.PID = s.current.proc.PID()
		status.StartedAt = s.current.startedAt
	}
	return status
}

// Launch starts the engine described by cfg.
func (s *Supervisor) Launch(ctx context.Context, cfg LaunchConfig) error {
	if err := s.Start(ctx, cfg.Binary, cfg.Args()); err != nil {
		return err
	}
	s.mu.Lock()
	s.launch = cfg
	s.mu.Unlock()
	return nil
}

// Start spawns path with args and attaches its streams. On failure it
// returns a *LaunchError and the state is unchanged. A process that has
// been told to stop but has not exited yet still counts as attached.
func (s *Supervisor) Start(ctx context.Context, path string, args []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Attached || s.current != nil {
		return ErrAttached
	}

	proc, err := s.spawner.Spawn(ctx, path, args)
	if err != nil {
		return &LaunchError{Path: path, Err: err}
	}

	a := &attachment{
		proc:       proc,
		path:       path,
		startedAt:  time.Now(),
		outbox:     make(chan []byte, s.sendBuffer),
		inputDone:  make(chan struct{}),
		writerDone: make(chan struct{}),
		done:       make(chan struct{}),
	}
	s.current = a
	s.state = Attached
	s.launch = LaunchConfig{Binary: path}

	s.logger.Info("engine started",
		logging.String(logging.FieldEventType, "engine_started"),
		logging.Int(logging.FieldPID, proc.PID()),
		logging.String("path", path),
		logging.Strings("args", args),
	)

	var pumps errgroup.Group
	pumps.Go(func() error { return s.pumpStdout(a) })
	pumps.Go(func() error { return s.pumpStderr(a) })
	go s.pumpStdin(a)
	go s.waitExit(a, &pumps)
	return nil
}

// Send queues msg for the engine's stdin and returns without waiting for
// the write. It is a no-op unless Attached. When the engine has stopped
// reading and the queue is full the message is dropped and
// ErrSendQueueFull is returned.
func (s *Supervisor) Send(msg protocol.Message) error {
	s.mu.Lock()
	a := s.current
	attached := s.state == Attached
	s.mu.Unlock()
	if !attached || a == nil {
		s.logger.Debug("send dropped; engine not attached", logging.String(logging.FieldKind, msg.Type))
		return nil
	}

	wire, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	if errp := a.writeErr.Load(); errp != nil {
		return *errp
	}
	select {
	case <-a.inputDone:
		return nil
	default:
	}
	select {
	case a.outbox <- wire:
		return nil
	default:
		s.droppedSends.Add(1)
		logging.WarnWithContext(s.logger, "outbound queue full; message dropped", "engine_send_dropped",
			logging.Int(logging.FieldPID, a.proc.PID()),
			logging.String(logging.FieldKind, msg.Type),
			logging.Int("capacity", cap(a.outbox)),
			logging.String(logging.FieldErrorHint, "the engine is not reading its stdin"),
			logging.String(logging.FieldImpact, "message not delivered"),
		)
		return ErrSendQueueFull
	}
}

func (s *Supervisor) pumpStdin(a *attachment) {
	defer close(a.writerDone)
	w := a.proc.Stdin()
	for {
		select {
		case <-a.inputDone:
			return
		case wire := <-a.outbox:
			if _, err := w.Write(wire); err != nil {
				if a.detached.Load() {
					return
				}
				err = fmt.Errorf("write to engine: %w", err)
				a.writeErr.Store(&err)
				logging.WarnWithContext(s.logger, "engine stdin write failed", "engine_send_failed",
					logging.Int(logging.FieldPID, a.proc.PID()),
					logging.Error(err),
					logging.String(logging.FieldImpact, "later messages are rejected until the engine is relaunched"),
				)
				return
			}
		}
	}
}

// closeInput stops the writer and closes stdin, unblocking a pending write.
func (a *attachment) closeInput() {
	a.inputOnce.Do(func() {
		close(a.inputDone)
		_ = a.proc.Stdin().Close()
	})
}

// Stop terminates the attached process and waits for it to exit. No
// listener receives an event from that process once Stop returns. Stop is
// a no-op when nothing is attached.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	a := s.current
	if s.state != Attached || a == nil {
		s.mu.Unlock()
		return nil
	}
	a.requested.Store(true)
	a.detached.Store(true)
	s.state = Closed
	s.mu.Unlock()

	a.dispatchMu.Lock()
	a.framer.Reset()
	a.dispatchMu.Unlock()

	pid := a.proc.PID()
	s.logger.Info("stopping engine", logging.Int(logging.FieldPID, pid))
	if err := a.proc.Signal(syscall.SIGTERM); err != nil {
		s.logger.Debug("sigterm failed", logging.Int(logging.FieldPID, pid), logging.Error(err))
	}
	a.closeInput()

	var escalate <-chan time.Time
	if s.grace > 0 {
		timer := time.NewTimer(s.grace)
		defer timer.Stop()
		escalate = timer.C
	}

	select {
	case <-a.done:
		return nil
	case <-escalate:
		logging.WarnWithContext(s.logger, "engine ignored SIGTERM; sending SIGKILL", "engine_stop_escalated",
			logging.Int(logging.FieldPID, pid),
			logging.Duration("grace", s.grace),
			logging.String(logging.FieldErrorHint, "check whether the engine handles SIGTERM"),
			logging.String(logging.FieldImpact, "engine resources may not have been released cleanly"),
		)
		_ = a.proc.Signal(syscall.SIGKILL)
	case <-ctx.Done():
		_ = a.proc.Signal(syscall.SIGKILL)
		return ctx.Err()
	}

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Supervisor) pumpStdout(a *attachment) error {
	buf := make([]byte, readChunkSize)
	r := a.proc.Stdout()
	for {
		n, err := r.Read(buf)
		if n > 0 {
			s.handleChunk(a, buf[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				if pending := a.framer.Pending(); pending > 0 && !a.detached.Load() {
					s.logger.Debug("discarding unterminated engine output", logging.Int("bytes", pending))
				}
				return nil
			}
			if a.detached.Load() {
				return nil
			}
			return fmt.Errorf("read engine stdout: %w", err)
		}
	}
}

func (s *Supervisor) handleChunk(a *attachment, chunk []byte) {
	a.dispatchMu.Lock()
	defer a.dispatchMu.Unlock()
	if a.detached.Load() {
		return
	}
	for line := range a.framer.Feed(chunk) {
		if a.detached.Load() {
			return
		}
		s.handleLine(a, line)
	}
}

func (s *Supervisor) handleLine(a *attachment, line string) {
	msg, err := protocol.Decode(line)
	if err == nil {
		var event protocol.Event
		if event, err = protocol.ParseEvent(msg); err == nil {
			if s.dispatcher != nil {
				s.dispatcher.Dispatch(event)
			}
			return
		}
	}
	s.dropped.Add(1)
	logging.WarnWithContext(s.logger, "dropped engine line", "protocol_decode_failed",
		logging.Int(logging.FieldPID, a.proc.PID()),
		logging.String("line", logging.Truncate(line, maxLoggedLine)),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "engine wrote a line that is not a typed JSON envelope"),
		logging.String(logging.FieldImpact, "line ignored; stream continues"),
	)
}

func (s *Supervisor) pumpStderr(a *attachment) error {
	r := a.proc.Stderr()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxStderrLine)
	pid := a.proc.PID()
	for scanner.Scan() {
		text := scanner.Text()
		if text == "" {
			continue
		}
		s.stderrLog.Info(logging.Truncate(text, maxLoggedLine), logging.Int(logging.FieldPID, pid))
	}
	if err := scanner.Err(); err != nil {
		_, _ = io.Copy(io.Discard, r)
		if !a.detached.Load() {
			return fmt.Errorf("read engine stderr: %w", err)
		}
	}
	return nil
}

func (s *Supervisor) waitExit(a *attachment, pumps *errgroup.Group) {
	err := a.proc.Wait()
	s.drainOutput(a, pumps)
	a.closeInput()
	<-a.writerDone
	exit := exitFromWait(a.proc.PID(), err)
	exit.Requested = a.requested.Load()

	a.detached.Store(true)
	a.dispatchMu.Lock()
	a.framer.Reset()
	a.dispatchMu.Unlock()

	s.mu.Lock()
	if s.current == a {
		s.current = nil
		s.state = Closed
	}
	s.lastExit = &exit
	s.mu.Unlock()

	level := slog.LevelInfo
	if exit.Unexpected() {
		level = slog.LevelWarn
	}
	s.logger.Log(context.Background(), level, "engine exited",
		logging.String(logging.FieldEventType, "engine_exited"),
		logging.Int(logging.FieldPID, exit.PID),
		logging.Int("code", exit.Code),
		logging.String("signal", exit.Signal),
		logging.Bool("requested", exit.Requested),
	)

	if s.onExit != nil {
		s.onExit(exit)
	}
	close(a.done)
}

// drainOutput waits for the stream pumps after the process exited. If the
// streams are still open once outputDrain passes, they are closed.
func (s *Supervisor) drainOutput(a *attachment, pumps *errgroup.Group) {
	pumped := make(chan error, 1)
	go func() { pumped <- pumps.Wait() }()

	timer := time.NewTimer(s.outputDrain)
	defer timer.Stop()
	var err error
	select {
	case err = <-pumped:
	case <-timer.C:
		logging.WarnWithContext(s.logger, "engine output still open after exit", "engine_output_held",
			logging.Int(logging.FieldPID, a.proc.PID()),
			logging.Duration("drain", s.outputDrain),
			logging.String(logging.FieldErrorHint, "a child of the engine may still hold its stdout"),
			logging.String(logging.FieldImpact, "remaining output discarded"),
		)
		a.detached.Store(true)
		_ = a.proc.Stdout().Close()
		_ = a.proc.Stderr().Close()
		err = <-pumped
	}
	if err != nil {
		s.logger.Warn("engine stream pump failed", logging.Error(err))
	}
}
