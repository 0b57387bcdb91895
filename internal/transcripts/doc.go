// Package transcripts persists received captions in a SQLite journal.
//
// Store owns the database; Journal is the event hub sink that queues
// transcription events and writes them from its own goroutine so the engine
// read path never waits on disk.
package transcripts
