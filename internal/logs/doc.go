// Package logs reads the daemon log file for `visualia logs`.
//
// Last returns the final lines of a file with bounded memory; Follow then
// streams lines appended after an offset, waking on fsnotify write events.
// Follow resolves the visualia.log pointer once, so it stays on the file of
// the run that was current when it started.
package logs
