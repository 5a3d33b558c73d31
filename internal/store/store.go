// Package store provides storage backends for DengueCast.
//
// The store is an audit log: every transcript turn and every prediction attempt is
// appended here. Live conversation state is never read back from it.
package store

import (
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/BTreeMap/DengueCast/internal/models"
)

const (
	// DefaultListLimit caps ListPredictions when no positive limit is given.
	DefaultListLimit = 100
	// MaxListLimit is the largest number of records ListPredictions returns.
	MaxListLimit = 1000
)

// MemoryDSN selects the in-memory store in New.
const MemoryDSN = "memory"

// ErrDSNNotSet is returned when a database store is created without a DSN.
var ErrDSNNotSet = errors.New("database DSN not set")

// Store is the audit log used by the session layer.
type Store interface {
	AddTurn(r models.TurnRecord) error
	ListTurns(sessionID string) ([]models.TurnRecord, error)
	AddPrediction(r models.PredictionRecord) error
	// ListPredictions returns the most recent predictions, newest first. limit is
	// clamped to (0, MaxListLimit]; non-positive means DefaultListLimit.
	ListPredictions(limit int) ([]models.PredictionRecord, error)
	Close() error
}

// Opts holds configuration for the database backed stores.
type Opts struct {
	DSN string
}

// Option configures a store.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType returns "postgres" for PostgreSQL URLs and keyword DSNs, and
// "sqlite3" for everything else.
func DetectDSNType(dsn string) string {
	d := strings.TrimSpace(dsn)
	if strings.HasPrefix(d, "postgres://") || strings.HasPrefix(d, "postgresql://") ||
		strings.Contains(d, "host=") || strings.Contains(d, "dbname=") {
		return "postgres"
	}
	return "sqlite3"
}

// New opens the store selected by dsn: MemoryDSN for the in-memory store,
// a PostgreSQL DSN for Postgres, and a file path for SQLite.
func New(dsn string) (Store, error) {
	if dsn == MemoryDSN {
		return NewInMemoryStore(), nil
	}
	if DetectDSNType(dsn) == "postgres" {
		return NewPostgresStore(WithPostgresDSN(dsn))
	}
	return NewSQLiteStore(WithSQLiteDSN(dsn))
}

// InMemoryStore keeps the audit log in process memory.
type InMemoryStore struct {
	mu          sync.RWMutex
	turns       map[string][]models.TurnRecord
	predictions []models.PredictionRecord
	inbound     map[string]*DedupRecord
}

var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		turns:   make(map[string][]models.TurnRecord),
		inbound: make(map[string]*DedupRecord),
	}
}

func (s *InMemoryStore) AddTurn(r models.TurnRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns[r.SessionID] = append(s.turns[r.SessionID], r)
	return nil
}

func (s *InMemoryStore) ListTurns(sessionID string) ([]models.TurnRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]models.TurnRecord(nil), s.turns[sessionID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (s *InMemoryStore) AddPrediction(r models.PredictionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.predictions = append(s.predictions, r)
	return nil
}

func (s *InMemoryStore) ListPredictions(limit int) ([]models.PredictionRecord, error) {
	limit = listLimit(limit)
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.PredictionRecord, 0, min(limit, len(s.predictions)))
	for i := len(s.predictions) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.predictions[i])
	}
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }
