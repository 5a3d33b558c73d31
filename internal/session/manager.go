// Package session drives intake conversations: it owns each session's state and
// transcript, serializes turns per session and records every turn to the audit store.
package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/DengueCast/internal/flow"
	"github.com/BTreeMap/DengueCast/internal/metrics"
	"github.com/BTreeMap/DengueCast/internal/models"
	"github.com/BTreeMap/DengueCast/internal/store"
	"github.com/google/uuid"
)

var (
	// ErrSessionNotFound is returned for unknown or ended sessions.
	ErrSessionNotFound = errors.New("session not found")
	// ErrEmptySessionID is returned when a caller-chosen session ID is empty.
	ErrEmptySessionID = errors.New("session ID cannot be empty")
)

// Session is one independent conversation.
type Session struct {
	mu         sync.Mutex
	id         string
	state      models.ConversationState
	transcript Transcript
	lastActive time.Time
	ended      bool
}

func (s *Session) snapshot() models.SessionSnapshot {
	return models.SessionSnapshot{
		SessionID:  s.id,
		State:      s.state,
		Transcript: s.transcript.All(),
	}
}

// Manager holds all live sessions in memory.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	machine *flow.Machine
	store   store.Store
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithStore records every turn and prediction to st. Store failures are logged only.
func WithStore(st store.Store) Option {
	return func(m *Manager) { m.store = st }
}

// WithMetrics reports turn and session counts to mt.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager driving sessions with machine.
func NewManager(machine *flow.Machine, opts ...Option) *Manager {
	m := &Manager{
		sessions: make(map[string]*Session),
		machine:  machine,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start creates a session with a random ID. Its transcript opens with the intro message.
func (m *Manager) Start(ctx context.Context) models.SessionSnapshot {
	snap, _, _ := m.Open(ctx, uuid.NewString())
	return snap
}

// Open returns the session with the given ID, creating it with the intro message if it
// does not exist. created reports whether a new session was made. Messaging transports
// use the canonical phone number as the ID.
func (m *Manager) Open(ctx context.Context, id string) (snap models.SessionSnapshot, created bool, err error) {
	if id == "" {
		return models.SessionSnapshot{}, false, ErrEmptySessionID
	}

	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		s = &Session{
			id:         id,
			state:      models.NewConversationState(),
			lastActive: m.now(),
		}
		s.transcript.Append(models.Turn{Role: models.RoleAssistant, Content: m.machine.Intro()})
		m.sessions[id] = s
		m.updateGauge()
	}
	m.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !ok {
		slog.Info("SessionManager Open: session started", "sessionID", id)
		m.recordTurn(s, 0, s.transcript.All()[0])
	}
	return s.snapshot(), !ok, nil
}

// ProcessMessage runs one user message through the intake machine. Turns within a
// session are serialized; different sessions proceed independently. The user turn
// is recorded trimmed, as the machine validates it.
func (m *Manager) ProcessMessage(ctx context.Context, id, text string) (models.TurnResult, error) {
	s, err := m.lookup(id)
	if err != nil {
		return models.TurnResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return models.TurnResult{}, ErrSessionNotFound
	}

	out := m.machine.Advance(ctx, text, s.state)
	s.state = out.State
	s.lastActive = m.now()

	delta := []models.Turn{
		{Role: models.RoleUser, Content: strings.TrimSpace(text)},
		{Role: models.RoleAssistant, Content: out.Message},
	}
	for _, turn := range delta {
		seq := s.transcript.Len()
		s.transcript.Append(turn)
		m.recordTurn(s, seq, turn)
	}

	m.logOutcome(id, out)
	m.observeOutcome(out)
	if out.Completed != nil {
		m.recordPrediction(id, out)
	}

	return models.TurnResult{
		SessionID:       id,
		TranscriptDelta: delta,
		State:           s.state,
	}, nil
}

// Get returns a snapshot of a live session.
func (m *Manager) Get(id string) (models.SessionSnapshot, error) {
	s, err := m.lookup(id)
	if err != nil {
		return models.SessionSnapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return models.SessionSnapshot{}, ErrSessionNotFound
	}
	return s.snapshot(), nil
}

// End removes a session. A turn already in flight finishes first.
func (m *Manager) End(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
		m.updateGauge()
	}
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	s.mu.Lock()
	s.ended = true
	s.mu.Unlock()
	slog.Info("SessionManager End: session ended", "sessionID", id)
	return nil
}

// Sweep ends every session idle for longer than idle and returns how many were removed.
func (m *Manager) Sweep(idle time.Duration) int {
	cutoff := m.now().Add(-idle)

	m.mu.RLock()
	var stale []string
	for id, s := range m.sessions {
		// TryLock skips sessions with a turn in flight; they are not idle.
		if !s.mu.TryLock() {
			continue
		}
		if s.lastActive.Before(cutoff) {
			stale = append(stale, id)
		}
		s.mu.Unlock()
	}
	m.mu.RUnlock()

	removed := 0
	for _, id := range stale {
		if err := m.End(id); err == nil {
			removed++
		}
	}
	if m.metrics != nil && removed > 0 {
		m.metrics.SessionsSwept.Add(float64(removed))
	}
	slog.Debug("SessionManager Sweep completed", "removed", removed, "idle", idle)
	return removed
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) lookup(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// updateGauge must be called with m.mu held.
func (m *Manager) updateGauge() {
	if m.metrics != nil {
		m.metrics.ActiveSessions.Set(float64(len(m.sessions)))
	}
}

func (m *Manager) logOutcome(id string, out flow.Outcome) {
	switch out.Kind {
	case flow.OutcomeRejected:
		slog.Debug("SessionManager ProcessMessage: input rejected", "sessionID", id,
			"stage", out.Rejection.Stage, "reason", out.Rejection.Reason)
	case flow.OutcomePredictionFailed:
		slog.Error("SessionManager ProcessMessage: prediction failed, session reset", "sessionID", id, "error", out.Err)
	case flow.OutcomePredicted:
		slog.Info("SessionManager ProcessMessage: prediction complete, session reset", "sessionID", id,
			"cases", out.Prediction.PredictedCases, "percent", out.Prediction.PredictedPercent)
	case flow.OutcomeReset:
		if errors.Is(out.Err, flow.ErrUnknownStage) {
			slog.Warn("SessionManager ProcessMessage: unknown stage, session reset", "sessionID", id, "error", out.Err)
		} else {
			slog.Info("SessionManager ProcessMessage: session reset", "sessionID", id)
		}
	default:
		slog.Debug("SessionManager ProcessMessage: input accepted", "sessionID", id, "stage", out.State.Stage)
	}
}

func (m *Manager) observeOutcome(out flow.Outcome) {
	if m.metrics == nil {
		return
	}
	m.metrics.TurnsTotal.WithLabelValues(string(out.Kind)).Inc()
	if out.Rejection != nil {
		m.metrics.RejectionsTotal.WithLabelValues(out.Rejection.Stage.String(), string(out.Rejection.Reason)).Inc()
	}
}

func (m *Manager) recordTurn(s *Session, seq int, turn models.Turn) {
	if m.store == nil {
		return
	}
	rec := models.TurnRecord{
		SessionID: s.id,
		Seq:       seq,
		Role:      turn.Role,
		Content:   turn.Content,
		Stage:     s.state.Stage,
		CreatedAt: m.now(),
	}
	if err := m.store.AddTurn(rec); err != nil {
		slog.Error("SessionManager recordTurn failed", "sessionID", s.id, "seq", seq, "error", err)
	}
}

func (m *Manager) recordPrediction(id string, out flow.Outcome) {
	if m.store == nil {
		return
	}
	c := out.Completed
	rec := models.PredictionRecord{
		SessionID:         id,
		Year:              *c.Year,
		Month:             *c.Month,
		DistrictCode:      *c.DistrictCode,
		RainfallMm:        *c.RainfallMm,
		TemperatureC:      *c.TemperatureC,
		HumidityPct:       *c.HumidityPct,
		MosquitoIndex:     *c.MosquitoIndex,
		PopulationDensity: *c.PopulationDensity,
		CreatedAt:         m.now(),
	}
	if out.Prediction != nil {
		rec.PredictedCases = out.Prediction.PredictedCases
		rec.PredictedPercent = out.Prediction.PredictedPercent
	}
	if out.Err != nil {
		rec.Error = out.Err.Error()
	}
	if err := m.store.AddPrediction(rec); err != nil {
		slog.Error("SessionManager recordPrediction failed", "sessionID", id, "error", err)
	}
}
