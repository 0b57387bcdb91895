package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrMalformed marks a line that is not a JSON object envelope.
	ErrMalformed = errors.New("protocol: malformed message")
	// ErrMissingType marks an envelope without a usable type.
	ErrMissingType = errors.New("protocol: message type missing")
)

// DecodeError describes one dropped line.
type DecodeError struct {
	Kind error
	Line string
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	}
	return e.Kind.Error()
}

// Unwrap exposes both the kind sentinel and the underlying parse error.
func (e *DecodeError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// Message is the wire envelope. Data is never nil after Decode.
type Message struct {
	Type string                     `json:"type"`
	Data map[string]json.RawMessage `json:"data"`
}

type envelope struct {
	Type *string         `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Decode parses one line into a Message. Absent or null data becomes an
// empty mapping.
func Decode(line string) (Message, error) {
	trimmed := bytes.TrimSpace([]byte(line))
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Message{}, &DecodeError{Kind: ErrMalformed, Line: line, Err: errors.New("not a JSON object")}
	}
	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return Message{}, &DecodeError{Kind: ErrMalformed, Line: line, Err: err}
	}

	data := map[string]json.RawMessage{}
	if raw := bytes.TrimSpace(env.Data); len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
		if err := json.Unmarshal(raw, &data); err != nil {
			return Message{}, &DecodeError{Kind: ErrMalformed, Line: line, Err: fmt.Errorf("data: %w", err)}
		}
	}

	if env.Type == nil || *env.Type == "" {
		return Message{}, &DecodeError{Kind: ErrMissingType, Line: line}
	}
	return Message{Type: *env.Type, Data: data}, nil
}

// NewMessage builds an outbound envelope from any JSON-object-shaped payload.
// A nil payload produces empty data.
func NewMessage(messageType string, payload any) (Message, error) {
	if messageType == "" {
		return Message{}, ErrMissingType
	}
	data := map[string]json.RawMessage{}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Message{}, fmt.Errorf("encode payload: %w", err)
		}
		if !bytes.Equal(raw, []byte("null")) {
			if err := json.Unmarshal(raw, &data); err != nil {
				return Message{}, fmt.Errorf("payload must be an object: %w", err)
			}
		}
	}
	return Message{Type: messageType, Data: data}, nil
}

// Encode returns the newline-terminated wire form of msg.
func Encode(msg Message) ([]byte, error) {
	if msg.Type == "" {
		return nil, ErrMissingType
	}
	data := msg.Data
	if data == nil {
		data = map[string]json.RawMessage{}
	}
	raw, err := json.Marshal(Message{Type: msg.Type, Data: data})
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return append(raw, '\n'), nil
}
