package repository

import (
	"context"

	"restylinchpin/internal/domain"
)

// UserRepository defines persistence operations for User entities.
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
	GetByAPIKeyHash(ctx context.Context, hash string) (*domain.User, error)
	List(ctx context.Context) ([]domain.User, error)
	Update(ctx context.Context, username string, changes UserChanges) error
	Delete(ctx context.Context, username string) error
	// ClearAPIKey drops the key from whichever user holds hash.
	ClearAPIKey(ctx context.Context, hash string) error
}

// UserChanges lists the fields to overwrite; nil pointers are left untouched.
type UserChanges struct {
	PasswordHash *string
	APIKeyHash   *string
	Email        *string
	Admin        *bool
	CredsFolder  *string
}
