package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const sessionTimeFormat = time.RFC3339

// InsertSession persists a freshly issued auth session.
func (s *Store) InsertSession(ctx context.Context, token string, createdAt time.Time) error {
	if s.readOnly {
		return fmt.Errorf("config: insert session: store opened read-only")
	}

	stamp := createdAt.UTC().Format(sessionTimeFormat)
	if _, err := s.db.ExecContext(ctx, `
        INSERT INTO sessions (token, instance_name, created_at, last_seen_at)
        VALUES (?, ?, ?, ?)
    `, token, s.instanceName, stamp, stamp); err != nil {
		return fmt.Errorf("config: insert session: %w", err)
	}
	return nil
}

// ListSessions returns every persisted session for the active instance.
func (s *Store) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT token, created_at, last_seen_at
        FROM sessions
        WHERE instance_name = ?
        ORDER BY created_at ASC
    `, s.instanceName)
	if err != nil {
		return nil, fmt.Errorf("config: list sessions: %w", err)
	}

	return scanList(rows, scanSession, "config: scan session row", "config: iterate session rows")
}

// TouchSession advances a session's last_seen_at marker.
func (s *Store) TouchSession(ctx context.Context, token string, seenAt time.Time) error {
	if s.readOnly {
		return fmt.Errorf("config: touch session: store opened read-only")
	}

	if _, err := s.db.ExecContext(ctx, `
        UPDATE sessions SET last_seen_at = ? WHERE instance_name = ? AND token = ?
    `, seenAt.UTC().Format(sessionTimeFormat), s.instanceName, token); err != nil {
		return fmt.Errorf("config: touch session: %w", err)
	}
	return nil
}

// DeleteSession revokes one session. Unknown tokens are not an error: logout
// must be idempotent.
func (s *Store) DeleteSession(ctx context.Context, token string) error {
	if s.readOnly {
		return fmt.Errorf("config: delete session: store opened read-only")
	}

	if _, err := s.db.ExecContext(ctx, `
        DELETE FROM sessions WHERE instance_name = ? AND token = ?
    `, s.instanceName, token); err != nil {
		return fmt.Errorf("config: delete session: %w", err)
	}
	return nil
}

// DeleteSessionsExcept revokes every session other than keep. An empty keep
// revokes all sessions.
func (s *Store) DeleteSessionsExcept(ctx context.Context, keep string) (int, error) {
	if s.readOnly {
		return 0, fmt.Errorf("config: delete sessions: store opened read-only")
	}

	var (
		res sql.Result
		err error
	)
	if keep == "" {
		res, err = s.db.ExecContext(ctx, `
            DELETE FROM sessions WHERE instance_name = ?
        `, s.instanceName)
	} else {
		res, err = s.db.ExecContext(ctx, `
            DELETE FROM sessions WHERE instance_name = ? AND token != ?
        `, s.instanceName, keep)
	}
	if err != nil {
		return 0, fmt.Errorf("config: delete sessions: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("config: delete sessions: %w", err)
	}
	return int(affected), nil
}

// PurgeExpiredSessions removes sessions idle since before cutoff and returns
// how many were dropped.
func (s *Store) PurgeExpiredSessions(ctx context.Context, cutoff time.Time) (int, error) {
	if s.readOnly {
		return 0, fmt.Errorf("config: purge sessions: store opened read-only")
	}

	res, err := s.db.ExecContext(ctx, `
        DELETE FROM sessions WHERE instance_name = ? AND last_seen_at < ?
    `, s.instanceName, cutoff.UTC().Format(sessionTimeFormat))
	if err != nil {
		return 0, fmt.Errorf("config: purge sessions: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("config: purge sessions: %w", err)
	}
	return int(affected), nil
}

func scanSession(scanner rowScanner) (Session, error) {
	var session Session
	err := scanner.Scan(&session.Token, &session.CreatedAt, &session.LastSeenAt)
	return session, err
}
