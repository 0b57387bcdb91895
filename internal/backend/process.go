package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// Process is a running engine with its standard streams.
type Process interface {
	PID() int
	Stdin() io.WriteCloser
	// Stdout and Stderr stay readable after Wait returns; closing them
	// unblocks a pending Read.
	Stdout() io.ReadCloser
	Stderr() io.ReadCloser
	// Signal delivers sig to the process and any children it started.
	Signal(sig syscall.Signal) error
	// Wait blocks until the process exits. It is called once and may run
	// while the output streams are still being read.
	Wait() error
}

// Spawner starts engine processes.
type Spawner interface {
	Spawn(ctx context.Context, path string, args []string) (Process, error)
}

// ExecSpawner starts real processes in their own process group.
type ExecSpawner struct {
	Env []string
	Dir string
}

// Spawn starts path with args. The context only gates the spawn; the
// process outlives it and is ended through Signal.
func (s ExecSpawner) Spawn(ctx context.Context, path string, args []string) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if path == "" {
		return nil, errors.New("engine binary not configured")
	}
	cmd := exec.Command(path, args...)
	cmd.Env = s.Env
	cmd.Dir = s.Dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	// Output pipes are owned here rather than by cmd; Wait leaves them open.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		_ = stdin.Close()
		closeAll(stdoutR, stdoutW)
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW
	if err := cmd.Start(); err != nil {
		closeAll(stdoutR, stdoutW, stderrR, stderrW)
		return nil, err
	}
	closeAll(stdoutW, stderrW)
	return &execProcess{cmd: cmd, stdin: stdin, stdout: stdoutR, stderr: stderrR}, nil
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}

type execProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *os.File
	stderr *os.File
}

func (p *execProcess) PID() int              { return p.cmd.Process.Pid }
func (p *execProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *execProcess) Stdout() io.ReadCloser { return p.stdout }
func (p *execProcess) Stderr() io.ReadCloser { return p.stderr }
func (p *execProcess) Wait() error           { return p.cmd.Wait() }

func (p *execProcess) Signal(sig syscall.Signal) error {
	err := unix.Kill(-p.cmd.Process.Pid, sig)
	if errors.Is(err, unix.ESRCH) {
		err = p.cmd.Process.Signal(sig)
	}
	if err != nil && !errors.Is(err, unix.ESRCH) && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("signal %s: %w", sig, err)
	}
	return nil
}
