package backend

import (
	"errors"
	"fmt"
	"os/exec"
	"syscall"
)

// ErrAttached is returned by Start while a process is still attached.
var ErrAttached = errors.New("backend: engine already attached")

// ErrSendQueueFull is returned by Send when the outbound queue is full.
var ErrSendQueueFull = errors.New("backend: outbound queue full")

// LaunchError reports a failed spawn. The supervisor keeps its previous state.
type LaunchError struct {
	Path string
	Err  error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %s: %v", e.Path, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// Exit describes one terminated engine process.
type Exit struct {
	PID       int
	Code      int
	Signal    string
	Err       error
	Requested bool
}

// Unexpected reports whether the process ended without a Stop call.
func (e Exit) Unexpected() bool { return !e.Requested }

func (e Exit) String() string {
	switch {
	case e.Signal != "":
		return fmt.Sprintf("pid %d terminated by %s", e.PID, e.Signal)
	case e.Err != nil && e.Code < 0:
		return fmt.Sprintf("pid %d: %v", e.PID, e.Err)
	default:
		return fmt.Sprintf("pid %d exited with code %d", e.PID, e.Code)
	}
}

func exitFromWait(pid int, err error) Exit {
	exit := Exit{PID: pid}
	if err == nil {
		return exit
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		exit.Code = exitErr.ExitCode()
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			exit.Signal = ws.Signal().String()
		}
		if exit.Code != 0 || exit.Signal != "" {
			exit.Err = err
		}
		return exit
	}
	exit.Code = -1
	exit.Err = err
	return exit
}
