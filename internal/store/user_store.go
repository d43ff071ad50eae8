package store

import (
	"context"
	"github.com/relaydesk/taskrelay/types"
)

// UserStore handles user-related database operations.
type UserStore interface {
	// Create adds a new user with a hashed password and the given API key and returns its ID.
	Create(ctx context.Context, email, password, apiKey string) (int64, error)

	// Find looks up a user matching the given email and password. It returns (nil, nil)
	// for an unknown email and custom_errors.ErrUnauthorized for a wrong password.
	Find(ctx context.Context, email, password string) (*types.User, error)

	// FindByAPIKey resolves a worker bearer credential. Returns nil when unknown.
	FindByAPIKey(ctx context.Context, apiKey string) (*types.User, error)

	FindByID(ctx context.Context, id int64) (*types.User, error)
}
