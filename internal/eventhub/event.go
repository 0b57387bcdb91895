// Package eventhub buffers caption events for UI collaborators.
//
// Every event dispatched from the engine, and every supervisor lifecycle
// notice, is published as a sequence-numbered UIEvent. Front-ends long-poll
// Fetch with the last sequence they saw; sinks such as the transcript
// journal receive every event as it is published.
package eventhub

import (
	"encoding/json"
	"time"

	"visualia/internal/backend"
	"visualia/internal/protocol"
)

// Sources distinguish engine output from supervisor notices.
const (
	SourceEngine     = "engine"
	SourceSupervisor = "supervisor"
)

// UIEvent is the transport form of one caption-channel event.
type UIEvent struct {
	Seq     uint64                     `json:"seq"`
	Time    time.Time                  `json:"ts"`
	Kind    string                     `json:"kind"`
	Source  string                     `json:"source"`
	Text    string                     `json:"text,omitempty"`
	Message string                     `json:"message,omitempty"`
	Code    *int                       `json:"code,omitempty"`
	Data    map[string]json.RawMessage `json:"data,omitempty"`
}

// FromEvent converts an engine event.
func FromEvent(event protocol.Event) UIEvent {
	out := UIEvent{Kind: string(event.Kind()), Source: SourceEngine}
	switch e := event.(type) {
	case protocol.Transcription:
		out.Text = e.Text
		if !e.Timestamp.IsZero() {
			out.Time = e.Timestamp
		}
	case protocol.Status:
		out.Message = e.Message
	case protocol.Error:
		out.Message = e.Message
	case protocol.Raw:
		out.Data = e.Data
	}
	return out
}

// Started announces a freshly attached engine.
func Started(cfg backend.LaunchConfig, pid int) UIEvent {
	message := "engine started"
	if cfg.Model != "" {
		message = "engine started (" + cfg.Model + ", " + cfg.SourceLanguage + ")"
	}
	code := pid
	return UIEvent{Kind: string(protocol.KindStatus), Source: SourceSupervisor, Message: message, Code: &code}
}

// LaunchFailed reports a spawn failure.
func LaunchFailed(err error) UIEvent {
	return UIEvent{Kind: string(protocol.KindError), Source: SourceSupervisor, Message: err.Error()}
}

// Exited reports a process exit. Requested exits are status notices;
// unexpected ones are errors.
func Exited(exit backend.Exit) UIEvent {
	code := exit.Code
	if exit.Requested {
		return UIEvent{Kind: string(protocol.KindStatus), Source: SourceSupervisor, Message: "engine stopped", Code: &code}
	}
	return UIEvent{Kind: string(protocol.KindError), Source: SourceSupervisor, Message: "engine exited unexpectedly: " + exit.String(), Code: &code}
}
