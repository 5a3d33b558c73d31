// Package store provides storage backends for DengueCast.
//
// This file implements a PostgreSQL-backed audit log.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/DengueCast/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, ErrDSNNotSet
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) AddTurn(r models.TurnRecord) error {
	_, err := s.db.Exec(`INSERT INTO turns (`+turnColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		r.SessionID, r.Seq, string(r.Role), r.Content, r.Stage.String(), r.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore AddTurn failed", "error", err, "sessionID", r.SessionID, "seq", r.Seq)
		return fmt.Errorf("failed to insert turn %d for session %s: %w", r.Seq, r.SessionID, err)
	}
	slog.Debug("PostgresStore AddTurn succeeded", "sessionID", r.SessionID, "seq", r.Seq, "role", r.Role)
	return nil
}

func (s *PostgresStore) ListTurns(sessionID string) ([]models.TurnRecord, error) {
	rows, err := s.db.Query(`SELECT `+turnColumns+` FROM turns WHERE session_id = $1 ORDER BY seq`, sessionID)
	if err != nil {
		slog.Error("PostgresStore ListTurns query failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	var turns []models.TurnRecord
	for rows.Next() {
		r, err := scanTurn(rows)
		if err != nil {
			slog.Error("PostgresStore ListTurns scan failed", "error", err)
			return nil, err
		}
		turns = append(turns, r)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore ListTurns rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate turn rows: %w", err)
	}
	return turns, nil
}

func (s *PostgresStore) AddPrediction(r models.PredictionRecord) error {
	_, err := s.db.Exec(`INSERT INTO predictions (`+predictionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`, predictionArgs(r)...)
	if err != nil {
		slog.Error("PostgresStore AddPrediction failed", "error", err, "sessionID", r.SessionID)
		return fmt.Errorf("failed to insert prediction for session %s: %w", r.SessionID, err)
	}
	slog.Debug("PostgresStore AddPrediction succeeded", "sessionID", r.SessionID, "failed", r.Error != "")
	return nil
}

func (s *PostgresStore) ListPredictions(limit int) ([]models.PredictionRecord, error) {
	rows, err := s.db.Query(`SELECT `+predictionColumns+` FROM predictions ORDER BY id DESC LIMIT $1`, listLimit(limit))
	if err != nil {
		slog.Error("PostgresStore ListPredictions query failed", "error", err)
		return nil, fmt.Errorf("failed to query predictions: %w", err)
	}
	defer rows.Close()

	var out []models.PredictionRecord
	for rows.Next() {
		r, err := scanPrediction(rows)
		if err != nil {
			slog.Error("PostgresStore ListPredictions scan failed", "error", err)
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate prediction rows: %w", err)
	}
	return out, nil
}

// Close closes the PostgreSQL database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing PostgreSQL database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close PostgreSQL database", "error", err)
	}
	return err
}
