package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"visualia/internal/backend"
	"visualia/internal/eventhub"
	"visualia/internal/logging"
	"visualia/internal/protocol"
	"visualia/internal/transcripts"
)

const (
	defaultEventLimit = 200
	followTimeout     = 25 * time.Second
	maxBodyBytes      = 64 * 1024
)

// ErrInvalidRequest marks controller errors caused by the request payload.
var ErrInvalidRequest = errors.New("invalid request")

// Controller is the daemon surface the handlers drive.
type Controller interface {
	Status() Status
	RequestConfig(req ConfigRequest) (backend.LaunchConfig, error)
	Send(msg protocol.Message) (bool, error)
}

// EventSource is the event hub view used by /api/events.
type EventSource interface {
	Fetch(ctx context.Context, since uint64, limit int, wait bool) ([]eventhub.UIEvent, uint64, error)
	Tail(limit int) ([]eventhub.UIEvent, uint64)
}

// HistorySource reads stored captions.
type HistorySource interface {
	Recent(ctx context.Context, limit int, session string) ([]transcripts.Entry, error)
}

// Server serves the overlay API.
type Server struct {
	bind       string
	logger     *slog.Logger
	controller Controller
	events     EventSource

	historyMu sync.RWMutex
	history   HistorySource

	listener net.Listener
	server   *http.Server
}

// NewServer returns nil when bind is empty. history may be nil.
func NewServer(bind, token string, controller Controller, events EventSource, history HistorySource, logger *slog.Logger) *Server {
	bind = strings.TrimSpace(bind)
	if bind == "" || controller == nil {
		return nil
	}
	s := &Server{
		bind:       bind,
		logger:     logging.NewComponentLogger(logger, "api-server"),
		controller: controller,
		events:     events,
		history:    history,
	}
	s.server = &http.Server{
		Handler:           authMiddleware(token, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      followTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler exposes the routes without authentication.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("POST /api/config", s.handleConfig)
	mux.HandleFunc("POST /api/send", s.handleSend)
	return mux
}

// SetHistory attaches the transcript store once it is open.
func (s *Server) SetHistory(history HistorySource) {
	if s == nil {
		return
	}
	s.historyMu.Lock()
	s.history = history
	s.historyMu.Unlock()
}

func (s *Server) historySource() HistorySource {
	s.historyMu.RLock()
	defer s.historyMu.RUnlock()
	return s.history
}

// Addr reports the bound address once Start has succeeded.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Start listens on the configured address.
func (s *Server) Start() error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener
	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

// Serve blocks serving requests until ctx ends.
func (s *Server) Serve(ctx context.Context) error {
	if s == nil || s.listener == nil {
		return nil
	}
	errs := make(chan error, 1)
	go func() {
		if err := s.server.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
		close(errs)
	}()

	select {
	case err := <-errs:
		return fmt.Errorf("api serve: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
	<-errs
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.controller.Status())
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		s.writeJSON(w, http.StatusOK, EventsResponse{Events: []eventhub.UIEvent{}})
		return
	}
	query := r.URL.Query()
	since, _ := strconv.ParseUint(query.Get("since"), 10, 64)
	limit, _ := strconv.Atoi(query.Get("limit"))
	if limit <= 0 {
		limit = defaultEventLimit
	}
	follow := query.Get("follow") == "1" || strings.EqualFold(query.Get("follow"), "true")
	tail := query.Get("tail") == "1" || strings.EqualFold(query.Get("tail"), "true")

	var (
		events []eventhub.UIEvent
		next   uint64
	)
	if tail && since == 0 && !follow {
		events, next = s.events.Tail(limit)
	} else {
		ctx := r.Context()
		if follow {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, followTimeout)
			defer cancel()
		}
		var err error
		events, next, err = s.events.Fetch(ctx, since, limit, follow)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	if events == nil {
		events = []eventhub.UIEvent{}
	}
	s.writeJSON(w, http.StatusOK, EventsResponse{Events: events, Next: next})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	history := s.historySource()
	if history == nil {
		s.writeJSON(w, http.StatusOK, HistoryResponse{Entries: []transcripts.Entry{}})
		return
	}
	query := r.URL.Query()
	limit, _ := strconv.Atoi(query.Get("limit"))
	entries, err := history.Recent(r.Context(), limit, strings.TrimSpace(query.Get("session")))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []transcripts.Entry{}
	}
	s.writeJSON(w, http.StatusOK, HistoryResponse{Entries: entries})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	var req ConfigRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Model) == "" && strings.TrimSpace(req.SourceLanguage) == "" {
		s.writeError(w, http.StatusBadRequest, "model or sourceLanguage required")
		return
	}
	cfg, err := s.controller.RequestConfig(req)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrInvalidRequest) {
			status = http.StatusBadRequest
		}
		s.writeError(w, status, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, ConfigResponse{Pending: FromLaunchConfig(cfg)})
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var data map[string]json.RawMessage
	if len(req.Data) > 0 && string(req.Data) != "null" {
		if err := json.Unmarshal(req.Data, &data); err != nil {
			s.writeError(w, http.StatusBadRequest, "data must be a JSON object")
			return
		}
	}
	if strings.TrimSpace(req.Type) == "" {
		s.writeError(w, http.StatusBadRequest, "type required")
		return
	}
	delivered, err := s.controller.Send(protocol.Message{Type: req.Type, Data: data})
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, SendResponse{Delivered: delivered})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	writeJSON(w, status, payload, s.logger)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil && logger != nil {
		logger.Error("failed to encode response", logging.Error(err))
	}
}
