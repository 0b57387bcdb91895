package backend

import (
	"context"
	"errors"
	"io"
	"sync"
	"syscall"
)

type fakeProcess struct {
	pid        int
	ignoreTerm bool
	ignoreKill bool
	// holdOutput keeps stdout and stderr open after exit, as a
	// surviving grandchild would.
	holdOutput bool

	stdinR  *io.PipeReader
	stdinW  *io.PipeWriter
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter
	stderrR *io.PipeReader
	stderrW *io.PipeWriter

	mu      sync.Mutex
	signals []syscall.Signal

	exitOnce sync.Once
	exitErr  error
	exited   chan struct{}
}

func newFakeProcess(pid int) *fakeProcess {
	p := &fakeProcess{pid: pid, exited: make(chan struct{})}
	p.stdinR, p.stdinW = io.Pipe()
	p.stdoutR, p.stdoutW = io.Pipe()
	p.stderrR, p.stderrW = io.Pipe()
	return p
}

func (p *fakeProcess) PID() int              { return p.pid }
func (p *fakeProcess) Stdin() io.WriteCloser { return p.stdinW }
func (p *fakeProcess) Stdout() io.ReadCloser { return p.stdoutR }
func (p *fakeProcess) Stderr() io.ReadCloser { return p.stderrR }

func (p *fakeProcess) Signal(sig syscall.Signal) error {
	p.mu.Lock()
	p.signals = append(p.signals, sig)
	ignore := (p.ignoreTerm && sig == syscall.SIGTERM) || (p.ignoreKill && sig == syscall.SIGKILL)
	p.mu.Unlock()
	if !ignore {
		p.exit(errors.New("signal: " + sig.String()))
	}
	return nil
}

func (p *fakeProcess) Signals() []syscall.Signal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]syscall.Signal(nil), p.signals...)
}

func (p *fakeProcess) Wait() error {
	<-p.exited
	return p.exitErr
}

// exit simulates process termination: output streams close, Wait returns.
func (p *fakeProcess) exit(err error) {
	p.exitOnce.Do(func() {
		p.mu.Lock()
		hold := p.holdOutput
		p.mu.Unlock()
		p.exitErr = err
		if !hold {
			_ = p.stdoutW.Close()
			_ = p.stderrW.Close()
		}
		_ = p.stdinR.Close()
		close(p.exited)
	})
}

type spawnCall struct {
	Path string
	Args []string
}

type fakeSpawner struct {
	mu    sync.Mutex
	procs []*fakeProcess
	calls []spawnCall
	err   error
}

func (s *fakeSpawner) Spawn(_ context.Context, path string, args []string) (Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, spawnCall{Path: path, Args: append([]string(nil), args...)})
	if s.err != nil {
		return nil, s.err
	}
	p := newFakeProcess(1000 + len(s.calls))
	s.procs = append(s.procs, p)
	return p, nil
}

func (s *fakeSpawner) last() *fakeProcess {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.procs[len(s.procs)-1]
}
