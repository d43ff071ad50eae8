package memory

import (
	"context"
	"github.com/relaydesk/taskrelay/custom_errors"
	"github.com/relaydesk/taskrelay/internal/store"
	"github.com/relaydesk/taskrelay/types"
	"golang.org/x/crypto/bcrypt"
	"sync"
	"time"
)

type UserStore struct {
	mu     sync.RWMutex
	nextID int64
	users  map[int64]types.User
}

var _ store.UserStore = (*UserStore)(nil)

func NewUserStore() *UserStore {
	return &UserStore{users: make(map[int64]types.User)}
}

func (s *UserStore) Create(_ context.Context, email, password, apiKey string) (int64, error) {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email || u.APIKey == apiKey {
			return 0, custom_errors.ErrUserExists
		}
	}
	s.nextID++
	s.users[s.nextID] = types.User{
		ID:        s.nextID,
		Email:     email,
		Password:  string(hashedPassword),
		APIKey:    apiKey,
		CreatedAt: time.Now(),
	}
	return s.nextID, nil
}

func (s *UserStore) Find(_ context.Context, email, password string) (*types.User, error) {
	s.mu.RLock()
	var found *types.User
	for _, u := range s.users {
		if u.Email == email {
			user := u
			found = &user
			break
		}
	}
	s.mu.RUnlock()

	if found == nil {
		return nil, nil
	}
	if err := bcrypt.CompareHashAndPassword([]byte(found.Password), []byte(password)); err != nil {
		return nil, custom_errors.ErrUnauthorized
	}
	found.Password = ""
	return found, nil
}

func (s *UserStore) FindByAPIKey(_ context.Context, apiKey string) (*types.User, error) {
	if apiKey == "" {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.APIKey == apiKey {
			u.Password = ""
			return &u, nil
		}
	}
	return nil, nil
}

func (s *UserStore) FindByID(_ context.Context, id int64) (*types.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	u.Password = ""
	return &u, nil
}
