package memory

import (
	"context"
	"github.com/relaydesk/taskrelay/internal/store"
	"github.com/relaydesk/taskrelay/types"
	"sort"
	"sync"
	"time"
)

type sessionKey struct {
	userID   int64
	workerID string
}

type WorkerStore struct {
	mu       sync.RWMutex
	sessions map[sessionKey]types.WorkerSession
}

var _ store.WorkerStore = (*WorkerStore)(nil)

func NewWorkerStore() *WorkerStore {
	return &WorkerStore{sessions: make(map[sessionKey]types.WorkerSession)}
}

func (s *WorkerStore) Upsert(_ context.Context, userID int64, workerID string, info map[string]any, seenAt time.Time) error {
	copied := make(map[string]any, len(info))
	for k, v := range info {
		copied[k] = v
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionKey{userID, workerID}] = types.WorkerSession{
		WorkerID: workerID,
		UserID:   userID,
		LastSeen: seenAt,
		Info:     copied,
	}
	return nil
}

func (s *WorkerStore) Find(_ context.Context, userID int64, workerID string) (*types.WorkerSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[sessionKey{userID, workerID}]
	if !ok {
		return nil, nil
	}
	return &session, nil
}

func (s *WorkerStore) ListByUser(_ context.Context, userID int64) ([]types.WorkerSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sessions []types.WorkerSession
	for key, session := range s.sessions {
		if key.userID == userID {
			sessions = append(sessions, session)
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].LastSeen.After(sessions[j].LastSeen)
	})
	return sessions, nil
}
