package authpw

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"scribe/api/internal/store"
)

type fakeUserStore struct {
	createUserFn     func(context.Context, store.User) error
	getUserByLoginFn func(context.Context, string) (store.User, error)
}

func (f *fakeUserStore) CreateUser(ctx context.Context, user store.User) error {
	if f.createUserFn != nil {
		return f.createUserFn(ctx, user)
	}
	return nil
}

func (f *fakeUserStore) GetUserByLogin(ctx context.Context, usernameOrEmail string) (store.User, error) {
	if f.getUserByLoginFn != nil {
		return f.getUserByLoginFn(ctx, usernameOrEmail)
	}
	return store.User{}, sql.ErrNoRows
}

func TestRegisterHashesPassword(t *testing.T) {
	var created store.User
	svc := NewService(&fakeUserStore{
		createUserFn: func(_ context.Context, user store.User) error {
			created = user
			return nil
		},
	})

	user, err := svc.Register(context.Background(), RegisterRequest{
		Username: "avery",
		Email:    "avery@example.com",
		Password: "hunter2hunter2",
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if user.ID == "" {
		t.Fatal("expected a generated user id")
	}
	if created.PasswordHash == "hunter2hunter2" {
		t.Fatal("password stored in plaintext")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(created.PasswordHash), []byte("hunter2hunter2")); err != nil {
		t.Fatalf("stored hash does not verify: %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc := NewService(&fakeUserStore{})

	if _, err := svc.Register(context.Background(), RegisterRequest{Username: "avery"}); err == nil {
		t.Fatal("expected error for missing fields")
	}
	if _, err := svc.Register(context.Background(), RegisterRequest{
		Username: "avery", Email: "a@b.c", Password: "short",
	}); err == nil {
		t.Fatal("expected error for short password")
	}
}

func TestRegisterDuplicate(t *testing.T) {
	svc := NewService(&fakeUserStore{
		createUserFn: func(context.Context, store.User) error {
			return store.ErrDuplicateUser
		},
	})
	_, err := svc.Register(context.Background(), RegisterRequest{
		Username: "avery", Email: "avery@example.com", Password: "hunter2hunter2",
	})
	if !errors.Is(err, ErrDuplicateUser) {
		t.Fatalf("expected ErrDuplicateUser, got %v", err)
	}
}

func TestLogin(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2hunter2"), bcrypt.DefaultCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	known := store.User{ID: "usr_1", Username: "avery", Email: "avery@example.com", PasswordHash: string(hash)}
	svc := NewService(&fakeUserStore{
		getUserByLoginFn: func(_ context.Context, login string) (store.User, error) {
			if login == "avery" || login == "avery@example.com" {
				return known, nil
			}
			return store.User{}, sql.ErrNoRows
		},
	})

	for _, login := range []string{"avery", "avery@example.com"} {
		user, err := svc.Login(context.Background(), login, "hunter2hunter2")
		if err != nil {
			t.Fatalf("Login(%q) error = %v", login, err)
		}
		if user.ID != "usr_1" {
			t.Fatalf("Login(%q) returned wrong user: %+v", login, user)
		}
	}

	if _, err := svc.Login(context.Background(), "avery", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for bad password, got %v", err)
	}
	if _, err := svc.Login(context.Background(), "nobody", "hunter2hunter2"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown user, got %v", err)
	}
}
