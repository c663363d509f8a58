// Package profile persists personas and their performance counters in
// PostgreSQL. It is optional; sessions run fine without a configured store.
package profile

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/wanderlust-sh/wander/api/schemas"
)

// DBPool abstracts pgxpool.Pool so tests can substitute a mock.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

var _ DBPool = (*pgxpool.Pool)(nil)

// ErrPersonaNotFound is returned when the named persona has no row.
var ErrPersonaNotFound = errors.New("persona not found")

const schemaDDL = `
CREATE TABLE IF NOT EXISTS personas (
	name               TEXT PRIMARY KEY,
	interests          TEXT[] NOT NULL DEFAULT '{}',
	routine            TEXT NOT NULL DEFAULT '',
	sessions_completed INTEGER NOT NULL DEFAULT 0,
	actions_taken      INTEGER NOT NULL DEFAULT 0,
	actions_failed     INTEGER NOT NULL DEFAULT 0,
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Store is the PostgreSQL persona repository.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New verifies the connection and ensures the schema exists.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, schemaDDL); err != nil {
		return nil, fmt.Errorf("failed to ensure personas schema: %w", err)
	}
	return &Store{pool: pool, log: logger.Named("profile")}, nil
}

// Connect opens a pool from a connection string and builds a store over it.
func Connect(ctx context.Context, databaseURL string, logger *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}
	store, err := New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// Load fetches a persona by name.
func (s *Store) Load(ctx context.Context, name string) (*schemas.Persona, error) {
	p := schemas.Persona{Name: name}
	err := s.pool.QueryRow(ctx,
		`SELECT interests, routine, sessions_completed, actions_taken, actions_failed
		 FROM personas WHERE name = $1`, name,
	).Scan(&p.Interests, &p.Routine,
		&p.Stats.SessionsCompleted, &p.Stats.ActionsTaken, &p.Stats.ActionsFailed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrPersonaNotFound, name)
		}
		return nil, fmt.Errorf("failed to load persona %s: %w", name, err)
	}
	return &p, nil
}

// Save upserts the persona's descriptive fields, leaving counters alone for
// existing rows.
func (s *Store) Save(ctx context.Context, p *schemas.Persona) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO personas (name, interests, routine)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (name) DO UPDATE
		 SET interests = EXCLUDED.interests, routine = EXCLUDED.routine, updated_at = now()`,
		p.Name, p.Interests, p.Routine)
	if err != nil {
		return fmt.Errorf("failed to save persona %s: %w", p.Name, err)
	}
	return nil
}

// RecordSession folds one finished session into the persona's counters.
func (s *Store) RecordSession(ctx context.Context, name string, actions, failed int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE personas
		 SET sessions_completed = sessions_completed + 1,
		     actions_taken = actions_taken + $2,
		     actions_failed = actions_failed + $3,
		     updated_at = now()
		 WHERE name = $1`,
		name, actions, failed)
	if err != nil {
		return fmt.Errorf("failed to record session for persona %s: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrPersonaNotFound, name)
	}
	return nil
}

// Close releases the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}
