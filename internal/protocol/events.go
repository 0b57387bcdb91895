package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind names an event stream. Known kinds have a typed payload; any other
// non-empty message type is delivered as Raw.
type Kind string

const (
	KindTranscription Kind = "transcription"
	KindStatus        Kind = "status"
	KindError         Kind = "error"
)

// Event is one decoded inbound message.
type Event interface {
	Kind() Kind
}

// Transcription carries recognized caption text.
type Transcription struct {
	Text      string
	Timestamp time.Time
}

func (Transcription) Kind() Kind { return KindTranscription }

// Status carries an engine status line such as "ready".
type Status struct {
	Message string
}

func (Status) Kind() Kind { return KindStatus }

// Error carries an engine-reported failure.
type Error struct {
	Message string
}

func (Error) Kind() Kind { return KindError }

// Raw is a message whose type has no typed payload.
type Raw struct {
	Type string
	Data map[string]json.RawMessage
}

func (r Raw) Kind() Kind { return Kind(r.Type) }

// ParseEvent narrows msg into its typed variant. A known kind whose payload
// fields have the wrong shape is ErrMalformed.
func ParseEvent(msg Message) (Event, error) {
	switch Kind(msg.Type) {
	case KindTranscription:
		var payload struct {
			Text      string   `json:"text"`
			Timestamp *float64 `json:"timestamp"`
		}
		if err := decodePayload(msg, &payload); err != nil {
			return nil, err
		}
		event := Transcription{Text: payload.Text}
		if payload.Timestamp != nil && *payload.Timestamp > 0 {
			sec := int64(*payload.Timestamp)
			nsec := int64((*payload.Timestamp - float64(sec)) * float64(time.Second))
			event.Timestamp = time.Unix(sec, nsec).UTC()
		}
		return event, nil
	case KindStatus:
		var payload struct {
			Message string `json:"message"`
		}
		if err := decodePayload(msg, &payload); err != nil {
			return nil, err
		}
		return Status{Message: payload.Message}, nil
	case KindError:
		var payload struct {
			Message string `json:"message"`
		}
		if err := decodePayload(msg, &payload); err != nil {
			return nil, err
		}
		return Error{Message: payload.Message}, nil
	case "":
		return nil, ErrMissingType
	default:
		return Raw{Type: msg.Type, Data: msg.Data}, nil
	}
}

func decodePayload(msg Message, dst any) error {
	raw, err := json.Marshal(msg.Data)
	if err != nil {
		return &DecodeError{Kind: ErrMalformed, Err: err}
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return &DecodeError{Kind: ErrMalformed, Err: fmt.Errorf("%s payload: %w", msg.Type, err)}
	}
	return nil
}

// MessageFor converts a typed event back into its wire envelope.
func MessageFor(event Event) (Message, error) {
	switch e := event.(type) {
	case Transcription:
		payload := map[string]any{"text": e.Text}
		if !e.Timestamp.IsZero() {
			payload["timestamp"] = e.Timestamp.Unix()
		}
		return NewMessage(string(KindTranscription), payload)
	case Status:
		return NewMessage(string(KindStatus), map[string]string{"message": e.Message})
	case Error:
		return NewMessage(string(KindError), map[string]string{"message": e.Message})
	case Raw:
		return Message{Type: e.Type, Data: e.Data}, nil
	default:
		return Message{}, fmt.Errorf("unsupported event %T", event)
	}
}
