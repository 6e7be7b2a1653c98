package store

import (
	"errors"
	"time"
)

var (
	// ErrDuplicateUser indicates the username or email is already registered.
	ErrDuplicateUser = errors.New("username or email already exists")
	// ErrAlreadyShared indicates the document is already shared with that user.
	ErrAlreadyShared = errors.New("document already shared with this user")
)

type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// Document carries the effective permission of the user the query ran for:
// "write" for the owner, otherwise whatever the collaborator grant says.
type Document struct {
	ID         string
	Title      string
	Content    string
	OwnerID    string
	OwnerName  string
	Permission string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Collaborator struct {
	UserID     string
	Username   string
	Permission string
	AddedAt    time.Time
}

// Version is one append-only content snapshot. Rows are never updated or
// deleted; version numbers are strictly increasing per document.
type Version struct {
	ID         int64
	DocumentID string
	Content    string
	Number     int
	CreatedBy  string
	AuthorName string
	CreatedAt  time.Time
}
