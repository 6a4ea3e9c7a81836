package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("session not found")

// Store keeps session state in sqlite for as long as the session lives.
// Every save pushes the expiry out by the TTL; expired rows are invisible and purged.
type Store struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

// NewStore returns a store whose sessions expire ttl after their last save.
func NewStore(db *sql.DB, ttl time.Duration) *Store {
	return &Store{db: db, ttl: ttl, now: time.Now}
}

// Create starts and persists a new session.
func (s *Store) Create(ctx context.Context) (State, error) {
	state := New(uuid.NewString())
	if err := s.Save(ctx, state); err != nil {
		return State{}, err
	}
	return state, nil
}

// Load returns the live session with id.
func (s *Store) Load(ctx context.Context, id string) (State, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `
		SELECT state_json
		FROM sessions
		WHERE id = ? AND expires_at > ?
	`, id, s.now().Unix()).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return State{}, ErrNotFound
	}
	if err != nil {
		return State{}, fmt.Errorf("query session: %w", err)
	}

	var state State
	if err := json.Unmarshal([]byte(payload), &state); err != nil {
		return State{}, fmt.Errorf("decode session %s: %w", id, err)
	}
	state.ID = id
	return state, nil
}

// Save writes state and extends its expiry.
func (s *Store) Save(ctx context.Context, state State) error {
	if state.ID == "" {
		return fmt.Errorf("save session: empty id")
	}

	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", state.ID, err)
	}

	expiresAt := s.now().Add(s.ttl).Unix()
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, state_json, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state_json = excluded.state_json,
			expires_at = excluded.expires_at,
			updated_at = CURRENT_TIMESTAMP
	`, state.ID, string(payload), expiresAt); err != nil {
		return fmt.Errorf("upsert session %s: %w", state.ID, err)
	}
	return nil
}

// Delete ends a session. Deleting an unknown session is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

// PurgeExpired removes expired sessions and reports how many were dropped.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, s.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	return n, nil
}
