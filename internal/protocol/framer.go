package protocol

import (
	"bytes"
	"iter"
)

// Framer accumulates output chunks and yields complete, trimmed lines.
// A Framer belongs to one attached process and is not safe for concurrent use.
type Framer struct {
	pending []byte
}

// Feed appends chunk to the pending buffer and returns the complete lines it
// now holds. Lines are extracted as the sequence is consumed; a partial
// trailing line stays pending for the next Feed. Whitespace-only lines are
// skipped.
func (f *Framer) Feed(chunk []byte) iter.Seq[string] {
	f.pending = append(f.pending, chunk...)
	return func(yield func(string) bool) {
		for {
			idx := bytes.IndexByte(f.pending, '\n')
			if idx < 0 {
				return
			}
			line := bytes.TrimSpace(f.pending[:idx])
			f.pending = f.pending[idx+1:]
			if len(line) == 0 {
				continue
			}
			if !yield(string(line)) {
				return
			}
		}
	}
}

// Pending reports the number of buffered bytes not yet terminated by a newline.
func (f *Framer) Pending() int {
	return len(f.pending)
}

// Reset discards the pending buffer.
func (f *Framer) Reset() {
	f.pending = nil
}
