package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"restylinchpin/internal/domain"
	"restylinchpin/internal/repository"
)

// ProfileUpdate carries optional profile fields; nil means unchanged.
type ProfileUpdate struct {
	Email    *string
	Password *string
}

// UserService is the identity directory: users, password hashes and API keys.
// Callers are expected to have authorized the principal before mutating.
type UserService interface {
	CreateUser(ctx context.Context, username, password, email string, admin bool) (apiKey string, err error)
	Authenticate(ctx context.Context, username, password string) (apiKey string, err error)
	ResolvePrincipal(ctx context.Context, presentedKey string) (domain.Principal, error)
	GetUser(ctx context.Context, username string) (*domain.User, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
	ResetAPIKey(ctx context.Context, username string) (apiKey string, err error)
	PromoteToAdmin(ctx context.Context, username string) error
	UpdateProfile(ctx context.Context, username string, update ProfileUpdate) error
	SetCredentialsFolder(ctx context.Context, username, folder string) error
	DeleteUser(ctx context.Context, username string) error
	RemoveAPIKey(ctx context.Context, apiKey string) error
	EnsureAdmin(ctx context.Context, username, password, email string) (created bool, err error)
}

type userService struct {
	users  repository.UserRepository
	logger *logrus.Logger
}

func NewUserService(users repository.UserRepository, logger *logrus.Logger) UserService {
	if logger == nil {
		logger = logrus.New()
	}
	return &userService{
		users:  users,
		logger: logger,
	}
}

func (s *userService) CreateUser(ctx context.Context, username, password, email string, admin bool) (string, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)

	if username == "" {
		return "", fmt.Errorf("%w: username is required", domain.ErrValidation)
	}
	if reservedUsernames[strings.ToLower(username)] {
		return "", fmt.Errorf("%w: username %q is reserved", domain.ErrValidation, username)
	}
	if password == "" {
		return "", fmt.Errorf("%w: password is required", domain.ErrValidation)
	}

	if _, err := s.users.GetByUsername(ctx, username); err == nil {
		return "", fmt.Errorf("%w: username already taken, please try again using another username", domain.ErrAlreadyExists)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return "", err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	apiKey := newAPIKey()

	user := &domain.User{
		Username:     username,
		PasswordHash: string(hash),
		APIKeyHash:   HashAPIKey(apiKey),
		Email:        email,
		Admin:        admin,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return "", err
	}

	s.logger.WithField("username", username).WithField("admin", admin).Info("user created")
	return apiKey, nil
}

// Authenticate checks the password and issues a fresh API key. Stored keys are
// hashed, so the previous key cannot be handed back and is replaced.
func (s *userService) Authenticate(ctx context.Context, username, password string) (string, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return "", domain.ErrAuthenticationFailed
	}

	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// keep timing in line with the wrong-password path
			_ = bcrypt.CompareHashAndPassword(dummyHash(), []byte(password))
			return "", domain.ErrAuthenticationFailed
		}
		return "", err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", domain.ErrAuthenticationFailed
	}

	return s.rotateKey(ctx, user.Username)
}

func (s *userService) ResolvePrincipal(ctx context.Context, presentedKey string) (domain.Principal, error) {
	presentedKey = strings.TrimSpace(presentedKey)
	if presentedKey == "" {
		return domain.Principal{}, domain.ErrCredentialMissing
	}

	hash := HashAPIKey(presentedKey)
	user, err := s.users.GetByAPIKeyHash(ctx, hash)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Principal{}, domain.ErrCredentialInvalid
		}
		return domain.Principal{}, err
	}
	if subtle.ConstantTimeCompare([]byte(user.APIKeyHash), []byte(hash)) != 1 {
		return domain.Principal{}, domain.ErrCredentialInvalid
	}

	return domain.Principal{Username: user.Username, Admin: user.Admin}, nil
}

func (s *userService) GetUser(ctx context.Context, username string) (*domain.User, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	return sanitizeUser(user), nil
}

func (s *userService) ListUsers(ctx context.Context) ([]domain.User, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range users {
		users[i] = *sanitizeUser(&users[i])
	}
	return users, nil
}

func (s *userService) ResetAPIKey(ctx context.Context, username string) (string, error) {
	return s.rotateKey(ctx, username)
}

func (s *userService) PromoteToAdmin(ctx context.Context, username string) error {
	admin := true
	if err := s.users.Update(ctx, username, repository.UserChanges{Admin: &admin}); err != nil {
		return err
	}
	s.logger.WithField("username", username).Info("user promoted to admin")
	return nil
}

func (s *userService) UpdateProfile(ctx context.Context, username string, update ProfileUpdate) error {
	var changes repository.UserChanges
	if update.Email != nil {
		email := strings.TrimSpace(*update.Email)
		changes.Email = &email
	}
	if update.Password != nil {
		if *update.Password == "" {
			return fmt.Errorf("%w: password must not be empty", domain.ErrValidation)
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(*update.Password), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash password: %w", err)
		}
		h := string(hash)
		changes.PasswordHash = &h
	}
	return s.users.Update(ctx, username, changes)
}

func (s *userService) SetCredentialsFolder(ctx context.Context, username, folder string) error {
	folder = strings.TrimSpace(folder)
	if folder == "" {
		return fmt.Errorf("%w: credentials folder is required", domain.ErrValidation)
	}
	return s.users.Update(ctx, username, repository.UserChanges{CredsFolder: &folder})
}

func (s *userService) DeleteUser(ctx context.Context, username string) error {
	if err := s.users.Delete(ctx, username); err != nil {
		return err
	}
	s.logger.WithField("username", username).Info("user deleted")
	return nil
}

func (s *userService) RemoveAPIKey(ctx context.Context, apiKey string) error {
	if strings.TrimSpace(apiKey) == "" {
		return fmt.Errorf("%w: api key", domain.ErrNotFound)
	}
	return s.users.ClearAPIKey(ctx, HashAPIKey(strings.TrimSpace(apiKey)))
}

// EnsureAdmin creates the bootstrap admin account unless the username exists.
func (s *userService) EnsureAdmin(ctx context.Context, username, password, email string) (bool, error) {
	if _, err := s.users.GetByUsername(ctx, username); err == nil {
		return false, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return false, err
	}
	if _, err := s.CreateUser(ctx, username, password, email, true); err != nil {
		return false, err
	}
	return true, nil
}

func (s *userService) rotateKey(ctx context.Context, username string) (string, error) {
	apiKey := newAPIKey()
	hash := HashAPIKey(apiKey)
	if err := s.users.Update(ctx, username, repository.UserChanges{APIKeyHash: &hash}); err != nil {
		return "", err
	}
	return apiKey, nil
}

// reservedUsernames collide with static routes under /users.
var reservedUsernames = map[string]bool{
	"apikey": true,
}

// HashAPIKey is the digest persisted in place of the plaintext key.
func HashAPIKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}

func newAPIKey() string {
	return strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
}

// dummyHash keeps unknown-user logins as slow as wrong-password ones.
var dummyHash = sync.OnceValue(func() []byte {
	hash, _ := bcrypt.GenerateFromPassword([]byte("restylinchpin"), bcrypt.DefaultCost)
	return hash
})

func sanitizeUser(user *domain.User) *domain.User {
	if user == nil {
		return nil
	}
	return &domain.User{
		Username:    user.Username,
		Email:       user.Email,
		Admin:       user.Admin,
		CredsFolder: user.CredsFolder,
		CreatedAt:   user.CreatedAt,
		UpdatedAt:   user.UpdatedAt,
	}
}
