// Package backend supervises the recognition engine subprocess.
//
// A Supervisor owns at most one child process at a time. It wires the
// child's stdout through the protocol Framer and Decoder into a Dispatcher,
// logs stderr lines as diagnostics, writes outbound messages to stdin, and
// reports every exit to the owner through an ExitHandler. Stop is
// cooperative (SIGTERM to the process group) and escalates to SIGKILL when
// the engine outlives the configured grace period.
//
// Listeners run on the stdout pump goroutine and must not call Stop
// synchronously; hand the request to another goroutine instead.
package backend
