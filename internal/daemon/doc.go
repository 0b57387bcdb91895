// Package daemon coordinates the long-running visualia process.
//
// It wires configuration, the engine supervisor, the restart coordinator,
// the event hub and transcript journal, the HTTP API, and the hotplug and
// configuration watchers into a single lifecycle, with flock-based locking
// to prevent multiple instances.
//
// The exit policy lives here: every engine exit is published to the hub,
// and unexpected exits trigger a relaunch when engine.auto_restart is set.
// Keep protocol and process logic in their own packages; the daemon only
// decides who talks to whom.
package daemon
