// Package store provides storage backends for DengueCast.
//
// This file implements an SQLite-backed audit log.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	"github.com/BTreeMap/DengueCast/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("SQLiteStore.NewSQLiteStore: creating SQLite store", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, ErrDSNNotSet
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// SQLite allows a single writer at a time.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully", "dir", dir)

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) AddTurn(r models.TurnRecord) error {
	_, err := s.db.Exec(`INSERT INTO turns (`+turnColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		r.SessionID, r.Seq, string(r.Role), r.Content, r.Stage.String(), r.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore AddTurn failed", "error", err, "sessionID", r.SessionID, "seq", r.Seq)
		return fmt.Errorf("failed to insert turn %d for session %s: %w", r.Seq, r.SessionID, err)
	}
	slog.Debug("SQLiteStore AddTurn succeeded", "sessionID", r.SessionID, "seq", r.Seq, "role", r.Role)
	return nil
}

func (s *SQLiteStore) ListTurns(sessionID string) ([]models.TurnRecord, error) {
	rows, err := s.db.Query(`SELECT `+turnColumns+` FROM turns WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		slog.Error("SQLiteStore ListTurns query failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	var turns []models.TurnRecord
	for rows.Next() {
		r, err := scanTurn(rows)
		if err != nil {
			slog.Error("SQLiteStore ListTurns scan failed", "error", err)
			return nil, err
		}
		turns = append(turns, r)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore ListTurns rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate turn rows: %w", err)
	}
	return turns, nil
}

func (s *SQLiteStore) AddPrediction(r models.PredictionRecord) error {
	_, err := s.db.Exec(`INSERT INTO predictions (`+predictionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, predictionArgs(r)...)
	if err != nil {
		slog.Error("SQLiteStore AddPrediction failed", "error", err, "sessionID", r.SessionID)
		return fmt.Errorf("failed to insert prediction for session %s: %w", r.SessionID, err)
	}
	slog.Debug("SQLiteStore AddPrediction succeeded", "sessionID", r.SessionID, "failed", r.Error != "")
	return nil
}

func (s *SQLiteStore) ListPredictions(limit int) ([]models.PredictionRecord, error) {
	rows, err := s.db.Query(`SELECT `+predictionColumns+` FROM predictions ORDER BY id DESC LIMIT ?`, listLimit(limit))
	if err != nil {
		slog.Error("SQLiteStore ListPredictions query failed", "error", err)
		return nil, fmt.Errorf("failed to query predictions: %w", err)
	}
	defer rows.Close()

	var out []models.PredictionRecord
	for rows.Next() {
		r, err := scanPrediction(rows)
		if err != nil {
			slog.Error("SQLiteStore ListPredictions scan failed", "error", err)
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate prediction rows: %w", err)
	}
	return out, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
