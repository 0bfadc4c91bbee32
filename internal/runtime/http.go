package runtime

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/loqalabs/loqa-fillers/internal/control"
	"github.com/loqalabs/loqa-fillers/internal/eventstore"
	"github.com/loqalabs/loqa-fillers/internal/protocol"
	"github.com/loqalabs/loqa-fillers/internal/session"
	"github.com/loqalabs/loqa-fillers/internal/transcript"
)

type resultsSource interface {
	WriteResults(w io.Writer) error
	Snapshot() transcript.Snapshot
	SessionID() string
	Status() session.Status
}

type eventLister interface {
	ListSessionEvents(ctx context.Context, sessionID string, limit int) ([]eventstore.Event, error)
	ListSessions(ctx context.Context, limit int) ([]eventstore.Session, error)
	SessionTranscripts(ctx context.Context, sessionID string) (map[string]string, error)
}

type handlers struct {
	ctrl    resultsSource
	events  eventLister
	metrics http.Handler
	ready   func() bool
}

func newMux(h handlers) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/readyz", h.handleReady)
	if h.metrics != nil {
		mux.Handle("/metrics", h.metrics)
	}
	mux.HandleFunc("GET /results", h.handleResults)
	mux.HandleFunc("GET /snapshot", h.handleSnapshot)
	mux.HandleFunc("GET /status", h.handleStatus)
	mux.HandleFunc("GET /sessions", h.handleSessions)
	mux.HandleFunc("GET /events", h.handleEvents)
	mux.HandleFunc("GET /transcripts", h.handleTranscripts)
	return mux
}

func (h handlers) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h handlers) handleReady(w http.ResponseWriter, _ *http.Request) {
	if h.ready != nil && h.ready() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (h handlers) handleResults(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/tab-separated-values; charset=utf-8")
	if err := h.ctrl.WriteResults(w); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (h handlers) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, protocol.NewCountsSnapshot(h.ctrl.SessionID(), h.ctrl.Snapshot(), time.Now().UTC()))
}

func (h handlers) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, control.StatusMessage(h.ctrl.Status()))
}

func (h handlers) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.events.ListSessions(r.Context(), queryLimit(r))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (h handlers) handleEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.events.ListSessionEvents(r.Context(), h.sessionParam(r), queryLimit(r))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (h handlers) handleTranscripts(w http.ResponseWriter, r *http.Request) {
	transcripts, err := h.events.SessionTranscripts(r.Context(), h.sessionParam(r))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, transcripts)
}

// sessionParam defaults to the live session.
func (h handlers) sessionParam(r *http.Request) string {
	if id := r.URL.Query().Get("session"); id != "" {
		return id
	}
	return h.ctrl.SessionID()
}

// queryLimit returns 0 when absent so the store applies its own default.
func queryLimit(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit < 0 {
		return 0
	}
	return limit
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
