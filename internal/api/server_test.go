package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"visualia/internal/api"
	"visualia/internal/backend"
	"visualia/internal/eventhub"
	"visualia/internal/protocol"
	"visualia/internal/transcripts"
)

type controllerStub struct {
	mu       sync.Mutex
	status   api.Status
	requests []api.ConfigRequest
	sent     []protocol.Message
	attached bool
	err      error
}

func (c *controllerStub) Status() api.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *controllerStub) RequestConfig(req api.ConfigRequest) (backend.LaunchConfig, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return backend.LaunchConfig{}, c.err
	}
	c.requests = append(c.requests, req)
	return backend.LaunchConfig{Model: req.Model, SourceLanguage: req.SourceLanguage}, nil
}

func (c *controllerStub) Send(msg protocol.Message) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return c.attached, nil
}

type historyStub struct {
	entries []transcripts.Entry
	limit   int
	session string
}

func (h *historyStub) Recent(_ context.Context, limit int, session string) ([]transcripts.Entry, error) {
	h.limit = limit
	h.session = session
	return h.entries, nil
}

func newTestServer(t *testing.T, ctrl api.Controller, hub *eventhub.Hub, history api.HistorySource) http.Handler {
	t.Helper()
	srv := api.NewServer("127.0.0.1:0", "", ctrl, hub, history, nil)
	if srv == nil {
		t.Fatal("expected server")
	}
	return srv.Handler()
}

func TestNewServerEmptyBind(t *testing.T) {
	if srv := api.NewServer("  ", "", &controllerStub{}, nil, nil, nil); srv != nil {
		t.Fatal("expected nil server for empty bind")
	}
}

func TestHandleStatus(t *testing.T) {
	ctrl := &controllerStub{status: api.Status{
		SessionID:    "abc",
		State:        "attached",
		PID:          42,
		Launch:       api.LaunchInfo{Model: "base", SourceLanguage: "auto"},
		RestartPhase: "idle",
	}}
	handler := newTestServer(t, ctrl, eventhub.New(8), nil)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 OK, got %d", w.Code)
	}
	var got api.Status
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if diff := cmp.Diff(ctrl.status, got); diff != "" {
		t.Fatalf("status mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(w.Body.String(), `"restartPhase":"idle"`) {
		t.Fatalf("expected camelCase keys, got %s", w.Body.String())
	}
}

func TestHandleEventsPaging(t *testing.T) {
	hub := eventhub.New(16)
	for i := range 5 {
		hub.Publish(eventhub.UIEvent{Kind: string(protocol.KindTranscription), Source: eventhub.SourceEngine, Text: fmt.Sprintf("line %d", i)})
	}
	handler := newTestServer(t, &controllerStub{}, hub, nil)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/events?since=2&limit=2", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 OK, got %d", w.Code)
	}
	var resp api.EventsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(resp.Events))
	}
	if resp.Events[0].Seq != 3 || resp.Events[1].Seq != 4 {
		t.Fatalf("unexpected sequences: %d, %d", resp.Events[0].Seq, resp.Events[1].Seq)
	}
	if resp.Next != 4 {
		t.Fatalf("expected next cursor 4, got %d", resp.Next)
	}
}

func TestHandleEventsFollowWakesOnPublish(t *testing.T) {
	hub := eventhub.New(16)
	handler := newTestServer(t, &controllerStub{}, hub, nil)

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/events?follow=1", nil))
		done <- w
	}()

	time.Sleep(50 * time.Millisecond)
	hub.Publish(eventhub.UIEvent{Kind: string(protocol.KindStatus), Source: eventhub.SourceEngine, Message: "ready"})

	select {
	case w := <-done:
		var resp api.EventsResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(resp.Events) != 1 || resp.Events[0].Message != "ready" {
			t.Fatalf("unexpected events: %+v", resp.Events)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("follow request did not return after publish")
	}
}

func TestHandleEventsEmptyIsArray(t *testing.T) {
	handler := newTestServer(t, &controllerStub{}, eventhub.New(4), nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/events", nil))
	if !strings.Contains(w.Body.String(), `"events":[]`) {
		t.Fatalf("expected empty array, got %s", w.Body.String())
	}
}

func TestHandleConfig(t *testing.T) {
	ctrl := &controllerStub{}
	handler := newTestServer(t, ctrl, eventhub.New(4), nil)

	w := httptest.NewRecorder()
	body := strings.NewReader(`{"model":"small","sourceLanguage":"fr"}`)
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/config", body))
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	var resp api.ConfigResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Pending.Model != "small" || resp.Pending.SourceLanguage != "fr" {
		t.Fatalf("unexpected pending: %+v", resp.Pending)
	}
	if len(ctrl.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ctrl.requests))
	}
}

func TestHandleConfigRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		want int
	}{
		{name: "empty", body: `{}`, want: http.StatusBadRequest},
		{name: "malformed", body: `{"model":`, want: http.StatusBadRequest},
		{name: "unknown field", body: `{"modle":"base"}`, want: http.StatusBadRequest},
		{name: "invalid language", body: `{"sourceLanguage":"zz-invalid"}`, err: fmt.Errorf("%w: bad language", api.ErrInvalidRequest), want: http.StatusBadRequest},
		{name: "controller failure", body: `{"model":"base"}`, err: fmt.Errorf("boom"), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := newTestServer(t, &controllerStub{err: tt.err}, eventhub.New(4), nil)
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/config", strings.NewReader(tt.body)))
			if w.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}
}

func TestHandleSend(t *testing.T) {
	ctrl := &controllerStub{attached: true}
	handler := newTestServer(t, ctrl, eventhub.New(4), nil)

	w := httptest.NewRecorder()
	body := strings.NewReader(`{"type":"flush","data":{"force":true}}`)
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/send", body))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp api.SendResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Delivered {
		t.Fatal("expected delivered")
	}
	if len(ctrl.sent) != 1 || ctrl.sent[0].Type != "flush" || string(ctrl.sent[0].Data["force"]) != "true" {
		t.Fatalf("unexpected sent messages: %+v", ctrl.sent)
	}
}

func TestHandleSendRejects(t *testing.T) {
	for name, body := range map[string]string{
		"missing type": `{"data":{}}`,
		"array data":   `{"type":"x","data":[1]}`,
	} {
		t.Run(name, func(t *testing.T) {
			ctrl := &controllerStub{}
			handler := newTestServer(t, ctrl, eventhub.New(4), nil)
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/send", strings.NewReader(body)))
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", w.Code)
			}
			if len(ctrl.sent) != 0 {
				t.Fatal("nothing should have been sent")
			}
		})
	}
}

func TestHandleHistory(t *testing.T) {
	history := &historyStub{entries: []transcripts.Entry{{ID: 1, SessionID: "s1", Text: "hello"}}}
	handler := newTestServer(t, &controllerStub{}, eventhub.New(4), history)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/history?limit=5&session=s1", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp api.HistoryResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Entries) != 1 || resp.Entries[0].Text != "hello" {
		t.Fatalf("unexpected entries: %+v", resp.Entries)
	}
	if history.limit != 5 || history.session != "s1" {
		t.Fatalf("unexpected query: limit=%d session=%q", history.limit, history.session)
	}
}

func TestHandleHistoryWithoutStore(t *testing.T) {
	handler := newTestServer(t, &controllerStub{}, eventhub.New(4), nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/history", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"entries":[]`) {
		t.Fatalf("unexpected response %d: %s", w.Code, w.Body.String())
	}
}

func TestMethodNotAllowed(t *testing.T) {
	handler := newTestServer(t, &controllerStub{}, eventhub.New(4), nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/config", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", w.Code)
	}
}
