package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/example/psybot/pkg/models"
)

// UserRepository handles database operations for users
type UserRepository struct{}

// NewUserRepository creates a new repository instance
func NewUserRepository() *UserRepository {
	return &UserRepository{}
}

// GetByID returns a user by Telegram chat id.
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	err := DB.GetContext(ctx, &user,
		"SELECT id, username, is_admin, created_at, updated_at FROM users WHERE id = $1", id)
	if err != nil {
		return nil, fmt.Errorf("failed to get user %d: %v", id, err)
	}
	return &user, nil
}

// FindByUsername returns the user with the given username, or nil when no
// such user has contacted the bot yet.
func (r *UserRepository) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	err := DB.GetContext(ctx, &user,
		"SELECT id, username, is_admin, created_at, updated_at FROM users WHERE username = $1", username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user %q: %v", username, err)
	}
	return &user, nil
}

// Upsert creates the user on first contact or refreshes the stored username
// when it changed. The username is what senders address tests to, so keeping
// it current is what makes later waitlist reconciliation line up.
func (r *UserRepository) Upsert(ctx context.Context, id int64, username string) error {
	res, err := DB.ExecContext(ctx,
		"UPDATE users SET username = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2", username, id)
	if err != nil {
		return fmt.Errorf("failed to update user %d: %v", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %v", err)
	}
	if affected > 0 {
		return nil
	}

	_, err = DB.ExecContext(ctx,
		"INSERT INTO users (id, username) VALUES ($1, $2)", id, username)
	if err != nil {
		return fmt.Errorf("failed to create user %d: %v", id, err)
	}
	return nil
}
