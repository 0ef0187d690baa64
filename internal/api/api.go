// Package api provides the HTTP surface for PatientPulse.
//
// It exposes the WebSocket session endpoint that carries patient
// conversations plus RESTful read paths for trends, common issues, patient
// feedback history, and the notification read-side.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/patientpulse/patientpulse/internal/models"
	"github.com/patientpulse/patientpulse/internal/session"
	"github.com/patientpulse/patientpulse/internal/store"
)

// DefaultAddr is the listen address when none is configured.
const DefaultAddr = ":8080"

// Opts holds configuration for the API server.
type Opts struct {
	Addr string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// Server wires the session registry and store to HTTP.
type Server struct {
	registry *session.Registry
	store    store.Store
	addr     string
	server   *http.Server
}

// NewServer creates an API server over the given registry and store.
func NewServer(registry *session.Registry, st store.Store, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	return &Server{registry: registry, store: st, addr: cfg.Addr}
}

// Handler builds the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.wsHandler)
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/issues", s.issuesHandler)
	mux.HandleFunc("/trends", s.trendsHandler)
	mux.HandleFunc("/feedback", s.feedbackHandler)
	mux.HandleFunc("/notifications", s.notificationsHandler)
	mux.HandleFunc("/notifications/read", s.notificationsReadHandler)
	return mux
}

// Start runs the HTTP server until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{Addr: s.addr, Handler: s.Handler()}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server.Start: shutdown failed", "error", err)
		}
	}()

	slog.Info("Server.Start: API listening", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("healthy", nil))
}

func (s *Server) issuesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	issues, err := s.store.CommonIssues(limit)
	if err != nil {
		slog.Error("Server.issuesHandler: query failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to query common issues"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(issues))
}

func (s *Server) trendsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	summary, err := s.store.TrendSummary()
	if err != nil {
		slog.Error("Server.trendsHandler: query failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to query trends"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(summary))
}

func (s *Server) feedbackHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	patientID := r.URL.Query().Get("patient_id")
	if patientID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("patient_id is required"))
		return
	}
	records, err := s.store.FeedbackByPatient(patientID)
	if err != nil {
		slog.Error("Server.feedbackHandler: query failed", "error", err, "patientID", patientID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to query feedback"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(records))
}

func (s *Server) notificationsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	patientID := r.URL.Query().Get("patient_id")
	if patientID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("patient_id is required"))
		return
	}
	notifications, err := s.store.ListNotifications(patientID)
	if err != nil {
		slog.Error("Server.notificationsHandler: query failed", "error", err, "patientID", patientID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to query notifications"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(notifications))
}

func (s *Server) notificationsReadHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		PatientID string `json:"patient_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.PatientID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("patient_id is required"))
		return
	}
	if err := s.store.MarkAllRead(req.PatientID); err != nil {
		slog.Error("Server.notificationsReadHandler: update failed", "error", err, "patientID", req.PatientID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to mark notifications read"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("All notifications marked read", nil))
}

// writeJSONResponse writes a JSON response with the given status code. The
// body is marshaled before any header is written so encoding failures can
// still produce a clean 500.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response interface{}) {
	jsonData, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal JSON response", "error", err)
		jsonData = []byte(`{"status":"error","message":"Internal server error"}`)
		statusCode = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, writeErr := w.Write(jsonData); writeErr != nil {
		slog.Error("Server.writeJSONResponse: failed to write JSON response", "error", writeErr)
	}
}
