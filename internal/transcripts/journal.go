package transcripts

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"visualia/internal/backend"
	"visualia/internal/eventhub"
	"visualia/internal/logging"
	"visualia/internal/protocol"
)

const journalQueue = 256

// Journal is an eventhub.Sink that records transcription events.
type Journal struct {
	store   *Store
	session string
	launch  func() backend.LaunchConfig
	logger  *slog.Logger

	queue   chan Entry
	dropped atomic.Uint64
}

// NewJournal writes captions for session into store. launch reports the
// configuration of the engine that produced them; it may be nil.
func NewJournal(store *Store, session string, launch func() backend.LaunchConfig, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Journal{
		store:   store,
		session: session,
		launch:  launch,
		logger:  logger,
		queue:   make(chan Entry, journalQueue),
	}
}

// Append queues transcription events. It never blocks; when the writer
// falls behind, entries are dropped and counted.
func (j *Journal) Append(evt eventhub.UIEvent) {
	if j == nil || evt.Kind != string(protocol.KindTranscription) || evt.Source != eventhub.SourceEngine || evt.Text == "" {
		return
	}
	entry := Entry{
		SessionID:  j.session,
		Seq:        evt.Seq,
		ReceivedAt: time.Now().UTC(),
		Text:       evt.Text,
	}
	if !evt.Time.IsZero() {
		entry.SpokenAt = evt.Time
	}
	if j.launch != nil {
		cfg := j.launch()
		entry.Model = cfg.Model
		entry.SourceLanguage = cfg.SourceLanguage
	}
	select {
	case j.queue <- entry:
	default:
		j.dropped.Add(1)
	}
}

// Dropped reports entries discarded because the queue was full.
func (j *Journal) Dropped() uint64 {
	return j.dropped.Load()
}

// Run writes queued entries until ctx ends, then flushes what is queued.
// Writes already dequeued complete even if ctx ends mid-insert.
func (j *Journal) Run(ctx context.Context) error {
	writeCtx := context.WithoutCancel(ctx)
	for {
		select {
		case entry := <-j.queue:
			j.write(writeCtx, entry)
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			for {
				select {
				case entry := <-j.queue:
					j.write(flushCtx, entry)
				default:
					return nil
				}
			}
		}
	}
}

func (j *Journal) write(ctx context.Context, entry Entry) {
	if _, err := j.store.Insert(ctx, entry); err != nil {
		logging.WarnWithContext(j.logger, "transcript write failed", "transcript_write_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check free space and permissions for the state directory"),
			logging.String(logging.FieldImpact, "caption missing from history"),
		)
	}
}
