// Package control exposes the edge's control channel: application
// messages, sync signals, health and metrics. Every other path is handed to
// the edge itself.
package control

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/Minuteapp/Minute-HR-WARP-Official-sub049/internal/edge"
	"github.com/Minuteapp/Minute-HR-WARP-Official-sub049/internal/obs"
)

type Config struct {
	Prefix  string
	Service *edge.Service
	Metrics *obs.Metrics
	Logger  zerolog.Logger
}

type server struct {
	svc *edge.Service
	log zerolog.Logger
}

func NewRouter(cfg Config) http.Handler {
	s := &server{svc: cfg.Service, log: cfg.Logger.With().Str("component", "control").Logger()}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Route(cfg.Prefix, func(r chi.Router) {
		r.Get("/healthz", s.health)
		r.Get("/status", s.status)
		r.Get("/queue", s.queue)
		r.Post("/messages", s.message)
		r.Post("/sync", s.sync)
		r.Get("/ws", s.websocket)
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	})
	r.Handle("/*", cfg.Service)
	return r
}

type healthResponse struct {
	State       string    `json:"state"`
	Controlling bool      `json:"controlling"`
	Online      bool      `json:"online"`
	ChangedAt   time.Time `json:"changedAt"`
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		State:       s.svc.Lifecycle().State().String(),
		Controlling: s.svc.Lifecycle().Controlling(),
		Online:      s.svc.Monitor().Online(),
		ChangedAt:   s.svc.Monitor().ChangedAt(),
	})
}

func (s *server) status(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Status(r.Context())
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// QueueItem describes a queued request without its body or headers.
type QueueItem struct {
	ID         string     `json:"id"`
	Method     string     `json:"method"`
	URL        string     `json:"url"`
	Timestamp  time.Time  `json:"timestamp"`
	RetryCount int        `json:"retryCount"`
	NextRetry  *time.Time `json:"nextRetry,omitempty"`
}

func (s *server) queue(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.Queue().List(r.Context())
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	items := make([]QueueItem, 0, len(list))
	for _, q := range list {
		items = append(items, QueueItem{
			ID: q.ID, Method: q.Method, URL: q.URL,
			Timestamp: q.Timestamp, RetryCount: q.RetryCount, NextRetry: q.NextRetry,
		})
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *server) message(w http.ResponseWriter, r *http.Request) {
	var msg edge.Message
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&msg); err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	reply, err := s.svc.PostMessage(r.Context(), msg)
	switch {
	case errors.Is(err, edge.ErrUnknownMessage):
		s.fail(w, http.StatusBadRequest, err)
	case err != nil:
		s.fail(w, http.StatusInternalServerError, err)
	case reply == nil:
		w.WriteHeader(http.StatusNoContent)
	default:
		writeJSON(w, http.StatusOK, reply)
	}
}

// sync delivers a background-sync signal and waits for the handlers.
func (s *server) sync(w http.ResponseWriter, r *http.Request) {
	tag := r.URL.Query().Get("tag")
	if tag == "" {
		s.fail(w, http.StatusBadRequest, errors.New("tag is required"))
		return
	}
	if err := s.svc.Sync(r.Context(), tag); err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	st, err := s.svc.Status(r.Context())
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *server) fail(w http.ResponseWriter, status int, err error) {
	if status >= 500 {
		s.log.Error().Err(err).Msg("control request failed")
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
