package postgres

import (
	"context"
	"database/sql"
	"errors"

	provisioning "github.com/kovacsmedia/SchoolLive-backend/internal/provisioning/domain"
)

// SessionStore persists provisioning sessions in Postgres.
type SessionStore struct {
	db *sql.DB
}

// NewSessionStore constructs a store.
func NewSessionStore(db *sql.DB) *SessionStore {
	if db == nil {
		return nil
	}
	return &SessionStore{db: db}
}

// Create inserts a session.
func (s *SessionStore) Create(ctx context.Context, session provisioning.Session) error {
	if s == nil || s.db == nil {
		return errors.New("session store: nil db")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO provisioning_sessions (token, device_id, created_at, expires_at, used)
VALUES ($1, $2, $3, $4, $5)`,
		session.Token, session.DeviceID, session.CreatedAt, session.ExpiresAt, session.Used)
	return err
}

// Get loads a session by token, or nil.
func (s *SessionStore) Get(ctx context.Context, token string) (*provisioning.Session, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("session store: nil db")
	}
	row := s.db.QueryRowContext(ctx, `
SELECT token, device_id, created_at, expires_at, used
FROM provisioning_sessions
WHERE token = $1`, token)

	var session provisioning.Session
	err := row.Scan(&session.Token, &session.DeviceID, &session.CreatedAt, &session.ExpiresAt, &session.Used)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// MarkUsed redeems a session exactly once.
func (s *SessionStore) MarkUsed(ctx context.Context, token string) (bool, error) {
	if s == nil || s.db == nil {
		return false, errors.New("session store: nil db")
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE provisioning_sessions
SET used = TRUE
WHERE token = $1 AND used = FALSE`, token)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}
