// Package session owns the process-wide mapping from session identifier to
// conversation state, the per-session serialization discipline, and the idle
// eviction sweep.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/patientpulse/patientpulse/internal/flow"
	"github.com/patientpulse/patientpulse/internal/models"
)

// Default lifecycle windows for idle sessions.
const (
	DefaultIdleTimeout   = 30 * time.Minute
	DefaultSweepInterval = time.Minute
)

// Opts holds configuration for the session registry.
type Opts struct {
	IdleTimeout   time.Duration
	SweepInterval time.Duration
}

// Option defines a configuration option for the session registry.
type Option func(*Opts)

// WithIdleTimeout sets how long a session may sit idle before eviction.
func WithIdleTimeout(d time.Duration) Option {
	return func(o *Opts) { o.IdleTimeout = d }
}

// WithSweepInterval sets how often the eviction sweep runs.
func WithSweepInterval(d time.Duration) Option {
	return func(o *Opts) { o.SweepInterval = d }
}

// session pairs a conversation state with its serialization lock. stepMu
// serializes engine invocations; mu guards the state pointer, which Reset
// swaps without waiting for an in-flight step.
type session struct {
	stepMu sync.Mutex
	mu     sync.Mutex
	state  *models.ConversationState
}

func (s *session) snapshot() *models.ConversationState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *session) swap(state *models.ConversationState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// Registry maps session identifiers to isolated conversation states and
// enforces that at most one engine invocation is in flight per session.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*session

	engine        *flow.Engine
	idleTimeout   time.Duration
	sweepInterval time.Duration
}

// NewRegistry creates a session registry over the given workflow engine.
func NewRegistry(engine *flow.Engine, opts ...Option) *Registry {
	cfg := Opts{IdleTimeout: DefaultIdleTimeout, SweepInterval: DefaultSweepInterval}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	return &Registry{
		sessions:      make(map[string]*session),
		engine:        engine,
		idleTimeout:   cfg.IdleTimeout,
		sweepInterval: cfg.SweepInterval,
	}
}

// ResolveOrCreate returns the session for the identifier, creating it at
// AWAIT_GREETING when absent. Re-initialization of an existing session does
// not reset its state. Reports whether a new session was created.
func (r *Registry) ResolveOrCreate(sessionID, patientID string) (bool, error) {
	if sessionID == "" || patientID == "" {
		return false, models.ErrEmptyPatientID
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sessionID]; ok {
		return false, nil
	}
	r.sessions[sessionID] = &session{state: models.NewConversationState(sessionID, patientID)}
	slog.Info("Registry.ResolveOrCreate: session created", "sessionID", sessionID)
	return true, nil
}

// Deliver feeds one inbound message to the session's engine. Invocations for
// the same session are serialized; messages for different sessions proceed
// independently. Results produced against a state that was reset mid-flight
// are discarded with ErrStaleGeneration.
func (r *Registry) Deliver(ctx context.Context, sessionID string, msg models.InboundMessage) ([]models.OutboundMessage, error) {
	if msg.Type == models.MessageTypeNewChat {
		return r.Reset(sessionID)
	}

	r.mu.RLock()
	sess, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return nil, models.ErrSessionNotFound
	}

	sess.stepMu.Lock()
	defer sess.stepMu.Unlock()

	state := sess.snapshot()
	msgs, err := r.engine.Step(ctx, state, msg)
	if err != nil {
		return nil, err
	}
	// A concurrent Reset swapped the state out from under this step; the
	// mutated state is orphaned and its output must not reach the patient.
	if sess.snapshot() != state {
		slog.Debug("Registry.Deliver: discarding stale step result",
			"sessionID", sessionID, "generation", state.Generation)
		return nil, models.ErrStaleGeneration
	}
	return msgs, nil
}

// Reset discards the session's state and starts a fresh conversation under
// the same identifiers. It does not wait for an in-flight step: the old
// state is swapped out immediately and any late result is discarded.
func (r *Registry) Reset(sessionID string) ([]models.OutboundMessage, error) {
	r.mu.RLock()
	sess, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return nil, models.ErrSessionNotFound
	}

	old := sess.snapshot()
	fresh := models.NewConversationState(old.SessionID, old.PatientID)
	fresh.Generation = old.Generation + 1
	sess.swap(fresh)

	slog.Info("Registry.Reset: session restarted", "sessionID", sessionID, "generation", fresh.Generation)
	return []models.OutboundMessage{flow.GreetingMessage()}, nil
}

// Evict removes the session. No save occurs: an abandoned, incomplete
// conversation is never persisted.
func (r *Registry) Evict(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sessionID]; ok {
		delete(r.sessions, sessionID)
		slog.Info("Registry.Evict: session removed", "sessionID", sessionID)
	}
}

// Len reports the number of active sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Start runs the idle eviction sweep until the context is cancelled.
func (r *Registry) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(r.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.sweep()
			}
		}
	}()
}

func (r *Registry) sweep() {
	cutoff := time.Now().Add(-r.idleTimeout)

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, sess := range r.sessions {
		if sess.snapshot().LastActivity.Before(cutoff) {
			delete(r.sessions, id)
			slog.Info("Registry.sweep: idle session evicted", "sessionID", id)
		}
	}
}
