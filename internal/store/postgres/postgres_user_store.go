package postgres

import (
	"context"
	"database/sql"
	"errors"
	"github.com/lib/pq"
	"github.com/relaydesk/taskrelay/custom_errors"
	"github.com/relaydesk/taskrelay/internal/store"
	"github.com/relaydesk/taskrelay/types"
	"golang.org/x/crypto/bcrypt"
)

const uniqueViolation = "23505"

type postgresUserStore struct {
	db *sql.DB
}

// NewPostgresUserStore creates a new UserStore with a DB connection
func NewPostgresUserStore(db *sql.DB) store.UserStore {
	return &postgresUserStore{db: db}
}

func (r *postgresUserStore) Create(ctx context.Context, email, password, apiKey string) (int64, error) {
	var id int64
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, err
	}
	query := `INSERT INTO relay_schema.users (email, password, api_key) VALUES ($1, $2, $3) RETURNING id`
	err = r.db.QueryRowContext(ctx, query, email, hashedPassword, apiKey).Scan(&id)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return 0, custom_errors.ErrUserExists
		}
		return 0, err
	}
	return id, nil
}

func (r *postgresUserStore) Find(ctx context.Context, email, password string) (*types.User, error) {
	query := `SELECT id, email, password, api_key, created_at FROM relay_schema.users WHERE email = $1`
	user := &types.User{}
	err := r.db.QueryRowContext(ctx, query, email).Scan(&user.ID, &user.Email, &user.Password, &user.APIKey, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // user not found
		}
		return nil, err
	}
	err = bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password))
	if err != nil {
		return nil, custom_errors.ErrUnauthorized
	}
	user.Password = ""
	return user, nil
}

func (r *postgresUserStore) FindByAPIKey(ctx context.Context, apiKey string) (*types.User, error) {
	query := `SELECT id, email, api_key, created_at FROM relay_schema.users WHERE api_key = $1`
	user := &types.User{}
	err := r.db.QueryRowContext(ctx, query, apiKey).Scan(&user.ID, &user.Email, &user.APIKey, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

func (r *postgresUserStore) FindByID(ctx context.Context, id int64) (*types.User, error) {
	query := `SELECT id, email, api_key, created_at FROM relay_schema.users WHERE id = $1`
	user := &types.User{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(&user.ID, &user.Email, &user.APIKey, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}
