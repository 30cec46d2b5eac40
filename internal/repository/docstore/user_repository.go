package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"restylinchpin/internal/domain"
	"restylinchpin/internal/repository"
	"restylinchpin/internal/store"
)

const (
	fieldUsername     = "username"
	fieldPasswordHash = "password_hash"
	fieldAPIKeyHash   = "api_key_hash"
	fieldEmail        = "email"
	fieldAdmin        = "admin"
	fieldCredsFolder  = "creds_folder"
	fieldCreatedAt    = "created_at"
	fieldUpdatedAt    = "updated_at"
)

type UserRepository struct {
	records store.RecordStore
}

func NewUserRepository(records store.RecordStore) repository.UserRepository {
	return &UserRepository{records: records}
}

func (r *UserRepository) Create(ctx context.Context, user *domain.User) error {
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	doc := store.Document{
		fieldUsername:     user.Username,
		fieldPasswordHash: user.PasswordHash,
		fieldEmail:        user.Email,
		fieldAdmin:        user.Admin,
		fieldCreatedAt:    formatTime(user.CreatedAt),
		fieldUpdatedAt:    formatTime(user.UpdatedAt),
	}
	if user.APIKeyHash != "" {
		doc[fieldAPIKeyHash] = user.APIKeyHash
	}
	if user.CredsFolder != "" {
		doc[fieldCredsFolder] = user.CredsFolder
	}

	if err := r.records.Insert(ctx, store.Users, doc); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return fmt.Errorf("%w: user %s", domain.ErrAlreadyExists, user.Username)
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return r.findOne(ctx, store.Filter{fieldUsername: username})
}

func (r *UserRepository) GetByAPIKeyHash(ctx context.Context, hash string) (*domain.User, error) {
	if hash == "" {
		return nil, fmt.Errorf("%w: user", domain.ErrNotFound)
	}
	return r.findOne(ctx, store.Filter{fieldAPIKeyHash: hash})
}

func (r *UserRepository) List(ctx context.Context) ([]domain.User, error) {
	docs, err := r.records.FindAll(ctx, store.Users, nil)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	users := make([]domain.User, 0, len(docs))
	for _, doc := range docs {
		users = append(users, *decodeUser(doc))
	}
	return users, nil
}

func (r *UserRepository) Update(ctx context.Context, username string, changes repository.UserChanges) error {
	patch := store.Patch{fieldUpdatedAt: formatTime(time.Now().UTC())}
	if changes.PasswordHash != nil {
		patch[fieldPasswordHash] = *changes.PasswordHash
	}
	if changes.APIKeyHash != nil {
		patch[fieldAPIKeyHash] = *changes.APIKeyHash
	}
	if changes.Email != nil {
		patch[fieldEmail] = *changes.Email
	}
	if changes.Admin != nil {
		patch[fieldAdmin] = *changes.Admin
	}
	if changes.CredsFolder != nil {
		patch[fieldCredsFolder] = *changes.CredsFolder
	}

	n, err := r.records.Update(ctx, store.Users, store.Filter{fieldUsername: username}, patch)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: user %s", domain.ErrNotFound, username)
	}
	return nil
}

func (r *UserRepository) Delete(ctx context.Context, username string) error {
	n, err := r.records.Remove(ctx, store.Users, store.Filter{fieldUsername: username})
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: user %s", domain.ErrNotFound, username)
	}
	return nil
}

func (r *UserRepository) ClearAPIKey(ctx context.Context, hash string) error {
	if hash == "" {
		return fmt.Errorf("%w: api key", domain.ErrNotFound)
	}
	n, err := r.records.Update(ctx, store.Users, store.Filter{fieldAPIKeyHash: hash}, store.Patch{
		fieldAPIKeyHash: nil,
		fieldUpdatedAt:  formatTime(time.Now().UTC()),
	})
	if err != nil {
		return fmt.Errorf("remove api key: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: api key", domain.ErrNotFound)
	}
	return nil
}

func (r *UserRepository) findOne(ctx context.Context, filter store.Filter) (*domain.User, error) {
	doc, err := r.records.FindOne(ctx, store.Users, filter)
	if err != nil {
		if errors.Is(err, store.ErrNoDocument) {
			return nil, fmt.Errorf("%w: user", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return decodeUser(doc), nil
}

func decodeUser(doc store.Document) *domain.User {
	return &domain.User{
		Username:     doc.String(fieldUsername),
		PasswordHash: doc.String(fieldPasswordHash),
		APIKeyHash:   doc.String(fieldAPIKeyHash),
		Email:        doc.String(fieldEmail),
		Admin:        doc.Bool(fieldAdmin),
		CredsFolder:  doc.String(fieldCredsFolder),
		CreatedAt:    parseTime(doc.String(fieldCreatedAt)),
		UpdatedAt:    parseTime(doc.String(fieldUpdatedAt)),
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime yields the zero time for records written before timestamps existed.
func parseTime(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return t.Local()
}
