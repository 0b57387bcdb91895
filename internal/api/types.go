package api

import (
	"encoding/json"

	"visualia/internal/backend"
	"visualia/internal/eventhub"
	"visualia/internal/transcripts"
)

// LaunchInfo mirrors backend.LaunchConfig.
type LaunchInfo struct {
	Binary         string `json:"binary,omitempty"`
	Model          string `json:"model,omitempty"`
	ModelPath      string `json:"modelPath,omitempty"`
	SourceLanguage string `json:"sourceLanguage,omitempty"`
}

// ExitInfo describes the most recent engine exit.
type ExitInfo struct {
	PID       int    `json:"pid"`
	Code      int    `json:"code"`
	Signal    string `json:"signal,omitempty"`
	Requested bool   `json:"requested"`
	Detail    string `json:"detail"`
}

// Status is the GET /api/status payload.
type Status struct {
	SessionID    string      `json:"sessionId"`
	State        string      `json:"state"`
	PID          int         `json:"pid,omitempty"`
	StartedAt    string      `json:"startedAt,omitempty"`
	Launch       LaunchInfo  `json:"launch"`
	RestartPhase string      `json:"restartPhase"`
	Pending      *LaunchInfo `json:"pending,omitempty"`
	DroppedLines uint64      `json:"droppedLines"`
	DroppedSends uint64      `json:"droppedSends"`
	LastExit     *ExitInfo   `json:"lastExit,omitempty"`
	LastCaption  string      `json:"lastCaption,omitempty"`
	Hotplug      bool        `json:"hotplug"`
}

// EventsResponse is the GET /api/events payload.
type EventsResponse struct {
	Events []eventhub.UIEvent `json:"events"`
	Next   uint64             `json:"next"`
}

// HistoryResponse is the GET /api/history payload.
type HistoryResponse struct {
	Entries []transcripts.Entry `json:"entries"`
}

// ConfigRequest asks for a relaunch. Empty fields keep the current value.
type ConfigRequest struct {
	Model          string `json:"model,omitempty"`
	SourceLanguage string `json:"sourceLanguage,omitempty"`
}

// ConfigResponse echoes the configuration queued for launch.
type ConfigResponse struct {
	Pending LaunchInfo `json:"pending"`
}

// SendRequest is a raw outbound envelope.
type SendRequest struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// SendResponse reports whether the message reached an attached engine.
type SendResponse struct {
	Delivered bool `json:"delivered"`
}

// FromLaunchConfig converts a launch configuration.
func FromLaunchConfig(cfg backend.LaunchConfig) LaunchInfo {
	return LaunchInfo{
		Binary:         cfg.Binary,
		Model:          cfg.Model,
		ModelPath:      cfg.ModelPath,
		SourceLanguage: cfg.SourceLanguage,
	}
}

// FromExit converts an exit record; nil stays nil.
func FromExit(exit *backend.Exit) *ExitInfo {
	if exit == nil {
		return nil
	}
	return &ExitInfo{
		PID:       exit.PID,
		Code:      exit.Code,
		Signal:    exit.Signal,
		Requested: exit.Requested,
		Detail:    exit.String(),
	}
}
