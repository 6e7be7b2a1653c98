package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Users

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, email, password_hash)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT DO NOTHING
	`, user.ID, user.Username, user.Email, user.PasswordHash)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert user result: %w", err)
	}
	if affected == 0 {
		return ErrDuplicateUser
	}
	return nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, email, password_hash, created_at
		FROM users
		WHERE id=$1
	`, userID).Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// GetUserByLogin resolves a user by username or email, matching the sign-in
// form which accepts either.
func (s *PostgresStore) GetUserByLogin(ctx context.Context, usernameOrEmail string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, email, password_hash, created_at
		FROM users
		WHERE username=$1 OR email=$1
	`, usernameOrEmail).Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// Documents

// effectivePermission resolves what the given user may do with a document:
// owners always get write, collaborators get their granted level.
const effectivePermission = `CASE WHEN d.owner_id = $1 THEN 'write' ELSE dc.permission END`

func (s *PostgresStore) CreateDocument(ctx context.Context, doc Document) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create document: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO documents (id, title, content, owner_id)
		VALUES ($1, $2, $3, $4)
	`, doc.ID, doc.Title, doc.Content, doc.OwnerID); err != nil {
		return fmt.Errorf("insert document: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO document_versions (document_id, content, version_number, created_by)
		VALUES ($1, $2, 1, $3)
	`, doc.ID, doc.Content, doc.OwnerID); err != nil {
		return fmt.Errorf("insert initial version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create document: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListDocumentsForUser(ctx context.Context, userID string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.id, d.title, d.content, d.owner_id, u.username,
			`+effectivePermission+`,
			d.created_at, d.updated_at
		FROM documents d
		JOIN users u ON u.id = d.owner_id
		LEFT JOIN document_collaborators dc ON dc.document_id = d.id AND dc.user_id = $1
		WHERE d.owner_id = $1 OR dc.user_id = $1
		ORDER BY d.updated_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	items := make([]Document, 0)
	for rows.Next() {
		var item Document
		if err := rows.Scan(&item.ID, &item.Title, &item.Content, &item.OwnerID, &item.OwnerName,
			&item.Permission, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return items, nil
}

// GetDocumentForUser returns sql.ErrNoRows both for unknown documents and
// for documents the user has no access to, so callers cannot tell the two
// apart.
func (s *PostgresStore) GetDocumentForUser(ctx context.Context, documentID, userID string) (Document, error) {
	var item Document
	err := s.db.QueryRowContext(ctx, `
		SELECT d.id, d.title, d.content, d.owner_id, u.username,
			`+effectivePermission+`,
			d.created_at, d.updated_at
		FROM documents d
		JOIN users u ON u.id = d.owner_id
		LEFT JOIN document_collaborators dc ON dc.document_id = d.id AND dc.user_id = $1
		WHERE d.id = $2 AND (d.owner_id = $1 OR dc.user_id = $1)
	`, userID, documentID).Scan(&item.ID, &item.Title, &item.Content, &item.OwnerID, &item.OwnerName,
		&item.Permission, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Document{}, err
	}
	return item, nil
}

// DocumentPermission returns the user's effective permission without
// fetching the document body. sql.ErrNoRows covers both unknown documents
// and no access, same as GetDocumentForUser.
func (s *PostgresStore) DocumentPermission(ctx context.Context, documentID, userID string) (string, error) {
	var permission string
	err := s.db.QueryRowContext(ctx, `
		SELECT `+effectivePermission+`
		FROM documents d
		LEFT JOIN document_collaborators dc ON dc.document_id = d.id AND dc.user_id = $1
		WHERE d.id = $2 AND (d.owner_id = $1 OR dc.user_id = $1)
	`, userID, documentID).Scan(&permission)
	if err != nil {
		return "", err
	}
	return permission, nil
}

// SaveContent replaces the document body and, when title is non-nil, the
// title as well.
func (s *PostgresStore) SaveContent(ctx context.Context, documentID, content string, title *string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET content=$2, title=COALESCE($3, title), updated_at=NOW()
		WHERE id=$1
	`, documentID, content, title)
	if err != nil {
		return fmt.Errorf("save content: %w", err)
	}
	return nil
}

// AppendNextVersion assigns max+1 and inserts the snapshot in a single
// statement, so two concurrent saves cannot hand out the same number: the
// slower one either sees the bumped max or trips the unique constraint.
func (s *PostgresStore) AppendNextVersion(ctx context.Context, documentID, content, authorID string) (int, error) {
	var number int
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO document_versions (document_id, content, version_number, created_by)
		SELECT $1, $2, COALESCE(MAX(version_number), 0) + 1, $3
		FROM document_versions
		WHERE document_id = $1
		RETURNING version_number
	`, documentID, content, authorID).Scan(&number)
	if err != nil {
		return 0, fmt.Errorf("append version: %w", err)
	}
	return number, nil
}

func (s *PostgresStore) MaxVersion(ctx context.Context, documentID string) (int, error) {
	var max int
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version_number), 0)
		FROM document_versions
		WHERE document_id=$1
	`, documentID).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("max version: %w", err)
	}
	return max, nil
}

func (s *PostgresStore) ListVersions(ctx context.Context, documentID string) ([]Version, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.id, v.document_id, v.content, v.version_number,
			COALESCE(v.created_by, ''), COALESCE(u.username, ''), v.created_at
		FROM document_versions v
		LEFT JOIN users u ON u.id = v.created_by
		WHERE v.document_id=$1
		ORDER BY v.version_number DESC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	items := make([]Version, 0)
	for rows.Next() {
		var item Version
		if err := rows.Scan(&item.ID, &item.DocumentID, &item.Content, &item.Number,
			&item.CreatedBy, &item.AuthorName, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate versions: %w", err)
	}
	return items, nil
}

// Sharing

func (s *PostgresStore) ShareDocument(ctx context.Context, id, documentID, userID, permission string) error {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO document_collaborators (id, document_id, user_id, permission)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (document_id, user_id) DO NOTHING
	`, id, documentID, userID, permission)
	if err != nil {
		return fmt.Errorf("share document: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("share document result: %w", err)
	}
	if affected == 0 {
		return ErrAlreadyShared
	}
	return nil
}

func (s *PostgresStore) ListCollaborators(ctx context.Context, documentID string) ([]Collaborator, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT dc.user_id, u.username, dc.permission, dc.added_at
		FROM document_collaborators dc
		JOIN users u ON u.id = dc.user_id
		WHERE dc.document_id=$1
		ORDER BY dc.added_at
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list collaborators: %w", err)
	}
	defer rows.Close()

	items := make([]Collaborator, 0)
	for rows.Next() {
		var item Collaborator
		if err := rows.Scan(&item.UserID, &item.Username, &item.Permission, &item.AddedAt); err != nil {
			return nil, fmt.Errorf("scan collaborator: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate collaborators: %w", err)
	}
	return items, nil
}

// Refresh sessions (Postgres fallback when Redis is not configured)

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash string, user User, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, user.ID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.username, u.email
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.Username, &user.Email)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}
