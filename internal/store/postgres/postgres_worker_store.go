package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/relaydesk/taskrelay/internal/store"
	"github.com/relaydesk/taskrelay/types"
	"time"
)

type postgresWorkerStore struct {
	db *sql.DB
}

// NewPostgresWorkerStore creates a WorkerStore backed by relay_schema.worker_sessions.
func NewPostgresWorkerStore(db *sql.DB) store.WorkerStore {
	return &postgresWorkerStore{db: db}
}

func (s *postgresWorkerStore) Upsert(ctx context.Context, userID int64, workerID string, info map[string]any, seenAt time.Time) error {
	if info == nil {
		info = map[string]any{}
	}
	payload, err := json.Marshal(info)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO relay_schema.worker_sessions (user_id, worker_id, last_seen, info)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, worker_id)
		DO UPDATE SET last_seen = EXCLUDED.last_seen, info = EXCLUDED.info
	`, userID, workerID, seenAt, payload)
	if err != nil {
		return fmt.Errorf("upsert worker session %s: %w", workerID, err)
	}
	return nil
}

func (s *postgresWorkerStore) Find(ctx context.Context, userID int64, workerID string) (*types.WorkerSession, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT worker_id, user_id, last_seen, info
		FROM relay_schema.worker_sessions
		WHERE user_id = $1 AND worker_id = $2
	`, userID, workerID)

	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return session, nil
}

func (s *postgresWorkerStore) ListByUser(ctx context.Context, userID int64) ([]types.WorkerSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT worker_id, user_id, last_seen, info
		FROM relay_schema.worker_sessions
		WHERE user_id = $1
		ORDER BY last_seen DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []types.WorkerSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *session)
	}
	return sessions, rows.Err()
}

func scanSession(row rowScanner) (*types.WorkerSession, error) {
	var (
		session types.WorkerSession
		info    []byte
	)
	if err := row.Scan(&session.WorkerID, &session.UserID, &session.LastSeen, &info); err != nil {
		return nil, err
	}
	if len(info) > 0 {
		if err := json.Unmarshal(info, &session.Info); err != nil {
			return nil, fmt.Errorf("decode info of worker %s: %w", session.WorkerID, err)
		}
	}
	return &session, nil
}
