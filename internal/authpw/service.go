// Package authpw provides email/password authentication.
package authpw

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"lectern/api/internal/rbac"
	"lectern/api/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidInput       = errors.New("invalid user input")
)

const minPasswordLength = 8

type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	UpsertUser(ctx context.Context, user store.User) (store.User, error)
}

type Service struct {
	store UserStore
	cost  int
}

func NewService(store UserStore) *Service {
	return &Service{store: store, cost: bcrypt.DefaultCost}
}

// WithCost returns a copy hashing with the given bcrypt cost. Tests use
// bcrypt.MinCost.
func (s *Service) WithCost(cost int) *Service {
	out := *s
	out.cost = cost
	return &out
}

func (s *Service) SignIn(ctx context.Context, email, password string) (store.User, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return store.User{}, ErrInvalidCredentials
	}

	user, err := s.store.GetUserByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, sql.ErrNoRows) {
		return store.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return store.User{}, fmt.Errorf("lookup user: %w", err)
	}
	if user.PasswordHash == "" {
		return store.User{}, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	user.Role = string(rbac.Normalize(user.Role))
	return user, nil
}

type SaveUserRequest struct {
	Email       string
	DisplayName string
	Password    string
	Role        string
}

// SaveUser creates or replaces the account for req.Email.
func (s *Service) SaveUser(ctx context.Context, req SaveUserRequest) (store.User, error) {
	email := strings.TrimSpace(req.Email)
	if _, err := mail.ParseAddress(email); err != nil {
		return store.User{}, fmt.Errorf("%w: email %q", ErrInvalidInput, req.Email)
	}
	if len(req.Password) < minPasswordLength {
		return store.User{}, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}
	role := rbac.Role(req.Role)
	if rbac.Normalize(req.Role) != role {
		return store.User{}, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, req.Role)
	}
	name := strings.TrimSpace(req.DisplayName)
	if name == "" {
		name = strings.SplitN(email, "@", 2)[0]
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}

	return s.store.UpsertUser(ctx, store.User{
		DisplayName:  name,
		Email:        email,
		PasswordHash: string(hash),
		Role:         string(role),
	})
}

// EnsureAdmin makes sure the bootstrap admin exists. An existing account
// keeps its password.
func (s *Service) EnsureAdmin(ctx context.Context, email, password string) (store.User, bool, error) {
	existing, err := s.store.GetUserByEmail(ctx, email)
	if err == nil && existing.Role == string(rbac.RoleAdmin) {
		return existing, false, nil
	}
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return store.User{}, false, fmt.Errorf("lookup admin: %w", err)
	}

	user, err := s.SaveUser(ctx, SaveUserRequest{
		Email:       email,
		DisplayName: "Administrator",
		Password:    password,
		Role:        string(rbac.RoleAdmin),
	})
	if err != nil {
		return store.User{}, false, err
	}
	return user, true, nil
}
