package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"mce-assistant-backend/internal/db"
)

// DatabaseStore persists sessions in Postgres so sign-ins survive restarts.
// It mirrors the MemoryStore session surface; OAuth state stays in memory
// because it only lives for one redirect round-trip.
type DatabaseStore struct {
	db  *db.DB
	ttl time.Duration
}

func NewDatabaseStore(database *db.DB) *DatabaseStore {
	return &DatabaseStore{db: database, ttl: DefaultSessionTTL}
}

func (s *DatabaseStore) PutSession(sid string, u SessionUser) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO sessions (session_id, email, name, provider, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id) DO UPDATE
		SET email = $2, name = $3, provider = $4, created_at = $5`,
		sid, u.Email, u.Name, u.Provider, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (s *DatabaseStore) GetSession(sid string) (SessionUser, bool, error) {
	var u SessionUser
	err := s.db.QueryRow(`
		SELECT email, name, provider, created_at
		FROM sessions WHERE session_id = $1`, sid).
		Scan(&u.Email, &u.Name, &u.Provider, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionUser{}, false, nil
	}
	if err != nil {
		return SessionUser{}, false, fmt.Errorf("failed to load session: %w", err)
	}
	if time.Since(u.CreatedAt) > s.ttl {
		_ = s.DeleteSession(sid)
		return SessionUser{}, false, nil
	}
	return u, true, nil
}

func (s *DatabaseStore) DeleteSession(sid string) error {
	if _, err := s.db.Exec(`DELETE FROM sessions WHERE session_id = $1`, sid); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
