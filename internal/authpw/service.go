// Package authpw provides username/email + password authentication.
package authpw

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"scribe/api/internal/store"
	"scribe/api/internal/util"
)

var (
	// ErrInvalidCredentials is returned for both unknown users and wrong
	// passwords so sign-in failures do not reveal which one it was.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrDuplicateUser indicates the username or email is taken.
	ErrDuplicateUser = errors.New("username or email already exists")
)

// UserStore defines the storage interface for auth.
type UserStore interface {
	CreateUser(ctx context.Context, user store.User) error
	GetUserByLogin(ctx context.Context, usernameOrEmail string) (store.User, error)
}

// Service registers and authenticates users.
type Service struct {
	store UserStore
}

func NewService(store UserStore) *Service {
	return &Service{store: store}
}

// RegisterRequest contains sign-up parameters.
type RegisterRequest struct {
	Username string
	Email    string
	Password string
}

// Register creates a new user account.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (store.User, error) {
	if req.Username == "" || req.Email == "" || req.Password == "" {
		return store.User{}, errors.New("username, email, and password are required")
	}
	if len(req.Password) < 8 {
		return store.User{}, errors.New("password must be at least 8 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}

	user := store.User{
		ID:           util.NewID("usr"),
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: string(hash),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicateUser) {
			return store.User{}, ErrDuplicateUser
		}
		return store.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// Login authenticates by username or email plus password.
func (s *Service) Login(ctx context.Context, usernameOrEmail, password string) (store.User, error) {
	if usernameOrEmail == "" || password == "" {
		return store.User{}, ErrInvalidCredentials
	}

	user, err := s.store.GetUserByLogin(ctx, usernameOrEmail)
	if err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	return user, nil
}
