package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"

	"scribe/api/internal/auth"
	"scribe/api/internal/authpw"
	"scribe/api/internal/config"
	"scribe/api/internal/export"
	"scribe/api/internal/search"
	"scribe/api/internal/store"
	"scribe/api/internal/util"
)

// Session is an authenticated caller. Token and RefreshToken are only set
// on the login, register, and refresh paths that mint them.
type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	Username     string
	Email        string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	Ping(ctx context.Context) error
	GetUserByLogin(ctx context.Context, usernameOrEmail string) (store.User, error)
	CreateDocument(ctx context.Context, doc store.Document) error
	ListDocumentsForUser(ctx context.Context, userID string) ([]store.Document, error)
	GetDocumentForUser(ctx context.Context, documentID, userID string) (store.Document, error)
	SaveContent(ctx context.Context, documentID, content string, title *string) error
	AppendNextVersion(ctx context.Context, documentID, content, authorID string) (int, error)
	MaxVersion(ctx context.Context, documentID string) (int, error)
	ListVersions(ctx context.Context, documentID string) ([]store.Version, error)
	ShareDocument(ctx context.Context, id, documentID, userID, permission string) error
	ListCollaborators(ctx context.Context, documentID string) ([]store.Collaborator, error)
}

// sessionStore holds refresh tokens, keyed by hash. Redis when configured,
// Postgres otherwise.
type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type searchService interface {
	Search(q search.Query) search.Response
	IndexDocument(doc search.DocumentRecord)
}

type Service struct {
	cfg         config.Config
	store       dataStore
	sessions    sessionStore
	sessionPing func(ctx context.Context) error
	authpw      *authpw.Service
	search      searchService
	export      *export.Service
}

func New(cfg config.Config, dataStore *store.PostgresStore, sessions sessionStore, searchSvc *search.Service) *Service {
	svc := &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		authpw:   authpw.NewService(dataStore),
		export:   export.NewService(),
	}
	if sessions == nil {
		svc.sessions = dataStore
	} else if pinger, ok := sessions.(interface{ Ping(ctx context.Context) error }); ok {
		svc.sessionPing = pinger.Ping
	}
	if searchSvc != nil {
		svc.search = searchSvc
	}
	return svc
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// PingSessions checks a separately-configured session backend. Returns
// false when refresh tokens live in Postgres, which Ping already covers.
func (s *Service) PingSessions(ctx context.Context) (bool, error) {
	if s.sessionPing == nil {
		return false, nil
	}
	return true, s.sessionPing(ctx)
}

// Auth

func (s *Service) Register(ctx context.Context, username, email, password string) (Session, error) {
	user, err := s.authpw.Register(ctx, authpw.RegisterRequest{
		Username: strings.TrimSpace(username),
		Email:    strings.TrimSpace(email),
		Password: password,
	})
	if err != nil {
		if errors.Is(err, authpw.ErrDuplicateUser) {
			return Session{}, domainError(http.StatusConflict, "USER_EXISTS", "Username or email already registered", nil)
		}
		return Session{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Login(ctx context.Context, usernameOrEmail, password string) (Session, error) {
	user, err := s.authpw.Login(ctx, strings.TrimSpace(usernameOrEmail), password)
	if err != nil {
		return Session{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid credentials", nil)
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
	}
	// Rotate: the presented token is spent whether or not the reissue
	// succeeds.
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	return s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		UserID:    user.ID,
		Username:  user.Username,
		Email:     user.Email,
		JTI:       jti,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft")
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user, now.Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		Username:     user.Username,
		Email:        user.Email,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

// SessionFromToken validates an access token. The claims carry the full
// identity, so no store lookup is needed on the hot path.
func (s *Service) SessionFromToken(token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    claims.UserID,
		Username:  claims.Username,
		Email:     claims.Email,
		JTI:       claims.JTI,
		ExpiresAt: claims.ExpiresAt,
	}, nil
}

// Documents

func (s *Service) ListDocuments(ctx context.Context, session Session) ([]map[string]any, error) {
	documents, err := s.store.ListDocumentsForUser(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(documents))
	for _, doc := range documents {
		payload = append(payload, documentPayload(doc, session.UserID))
	}
	return payload, nil
}

func (s *Service) CreateDocument(ctx context.Context, session Session, title, content string) (map[string]any, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = "Untitled Document"
	}
	doc := store.Document{
		ID:      util.NewID("doc"),
		Title:   title,
		Content: content,
		OwnerID: session.UserID,
	}
	if err := s.store.CreateDocument(ctx, doc); err != nil {
		return nil, err
	}
	s.indexDocument(ctx, doc.ID, session.UserID)

	created, err := s.store.GetDocumentForUser(ctx, doc.ID, session.UserID)
	if err != nil {
		return nil, err
	}
	return documentPayload(created, session.UserID), nil
}

func (s *Service) GetDocument(ctx context.Context, session Session, documentID string) (map[string]any, error) {
	doc, err := s.store.GetDocumentForUser(ctx, documentID, session.UserID)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return documentPayload(doc, session.UserID), nil
}

// SaveDocument is the durable-save call: it replaces the working copy and
// appends the next version snapshot.
func (s *Service) SaveDocument(ctx context.Context, session Session, documentID, content string, title *string) (map[string]any, error) {
	doc, err := s.store.GetDocumentForUser(ctx, documentID, session.UserID)
	if err != nil {
		return nil, mapNoRows(err)
	}
	if doc.Permission != "write" {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Write permission required", nil)
	}

	if err := s.store.SaveContent(ctx, documentID, content, title); err != nil {
		return nil, err
	}
	version, err := s.store.AppendNextVersion(ctx, documentID, content, session.UserID)
	if err != nil {
		return nil, err
	}
	s.indexDocument(ctx, documentID, session.UserID)

	return map[string]any{"ok": true, "version": version}, nil
}

func (s *Service) ShareDocument(ctx context.Context, session Session, documentID, usernameOrEmail, permission string) (map[string]any, error) {
	switch permission {
	case "":
		permission = "write"
	case "read", "write":
	default:
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Permission must be read or write", nil)
	}

	doc, err := s.store.GetDocumentForUser(ctx, documentID, session.UserID)
	if err != nil {
		return nil, mapNoRows(err)
	}
	if doc.OwnerID != session.UserID {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Only the owner can share a document", nil)
	}

	target, err := s.store.GetUserByLogin(ctx, strings.TrimSpace(usernameOrEmail))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainError(http.StatusNotFound, "USER_NOT_FOUND", "User not found", nil)
		}
		return nil, err
	}
	if target.ID == session.UserID {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Cannot share a document with yourself", nil)
	}

	if err := s.store.ShareDocument(ctx, util.NewID("shr"), documentID, target.ID, permission); err != nil {
		if errors.Is(err, store.ErrAlreadyShared) {
			return nil, domainError(http.StatusConflict, "ALREADY_SHARED", "Document already shared with this user", nil)
		}
		return nil, err
	}
	s.indexDocument(ctx, documentID, session.UserID)

	return map[string]any{
		"ok":         true,
		"userId":     target.ID,
		"username":   target.Username,
		"permission": permission,
	}, nil
}

func (s *Service) Collaborators(ctx context.Context, session Session, documentID string) ([]map[string]any, error) {
	if _, err := s.store.GetDocumentForUser(ctx, documentID, session.UserID); err != nil {
		return nil, mapNoRows(err)
	}
	collaborators, err := s.store.ListCollaborators(ctx, documentID)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(collaborators))
	for _, c := range collaborators {
		payload = append(payload, map[string]any{
			"userId":     c.UserID,
			"username":   c.Username,
			"permission": c.Permission,
			"addedAt":    c.AddedAt,
		})
	}
	return payload, nil
}

func (s *Service) Versions(ctx context.Context, session Session, documentID string) ([]map[string]any, error) {
	if _, err := s.store.GetDocumentForUser(ctx, documentID, session.UserID); err != nil {
		return nil, mapNoRows(err)
	}
	versions, err := s.store.ListVersions(ctx, documentID)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(versions))
	for _, v := range versions {
		payload = append(payload, map[string]any{
			"id":         v.ID,
			"documentId": v.DocumentID,
			"version":    v.Number,
			"content":    v.Content,
			"createdBy":  v.CreatedBy,
			"authorName": v.AuthorName,
			"createdAt":  v.CreatedAt,
		})
	}
	return payload, nil
}

// Search

func (s *Service) Search(ctx context.Context, session Session, text string, limit, offset int) (search.Response, error) {
	if s.search == nil {
		return search.Response{}, domainError(http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE", "Search not configured", nil)
	}
	return s.search.Search(search.Query{
		Text:   text,
		UserID: session.UserID,
		Limit:  limit,
		Offset: offset,
	}), nil
}

// Export

func (s *Service) Export(ctx context.Context, session Session, documentID string, format export.Format) (*export.Result, error) {
	doc, err := s.store.GetDocumentForUser(ctx, documentID, session.UserID)
	if err != nil {
		return nil, mapNoRows(err)
	}
	version, err := s.store.MaxVersion(ctx, documentID)
	if err != nil {
		return nil, err
	}
	result, err := s.export.Export(export.Document{
		ID:        doc.ID,
		Title:     doc.Title,
		Content:   doc.Content,
		Author:    doc.OwnerName,
		Version:   version,
		UpdatedAt: doc.UpdatedAt,
	}, format)
	if err != nil {
		if errors.Is(err, export.ErrUnsupportedFormat) {
			return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Unsupported export format", nil)
		}
		if errors.Is(err, export.ErrPDFDependencyMissing) {
			return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "PDF export not available", nil)
		}
		return nil, err
	}
	return result, nil
}

// RenderHTML produces the printable HTML view of a document for
// format=html exports.
func (s *Service) RenderHTML(ctx context.Context, session Session, documentID string) (*export.Result, error) {
	doc, err := s.store.GetDocumentForUser(ctx, documentID, session.UserID)
	if err != nil {
		return nil, mapNoRows(err)
	}
	version, err := s.store.MaxVersion(ctx, documentID)
	if err != nil {
		return nil, err
	}
	html, err := export.RenderDocumentHTML(export.TemplateData{
		Title:     doc.Title,
		Content:   doc.Content,
		Author:    doc.OwnerName,
		Version:   version,
		UpdatedAt: doc.UpdatedAt,
	})
	if err != nil {
		return nil, err
	}
	return &export.Result{
		Data:     []byte(html),
		Filename: doc.Title + ".html",
		MimeType: "text/html; charset=utf-8",
	}, nil
}

// indexDocument refreshes the search entry for a document, best-effort.
func (s *Service) indexDocument(ctx context.Context, documentID, userID string) {
	if s.search == nil {
		return
	}
	doc, err := s.store.GetDocumentForUser(ctx, documentID, userID)
	if err != nil {
		return
	}
	editors := []string{doc.OwnerID}
	if collaborators, err := s.store.ListCollaborators(ctx, documentID); err == nil {
		for _, c := range collaborators {
			editors = append(editors, c.UserID)
		}
	}
	s.search.IndexDocument(search.DocumentRecord{
		ID:      doc.ID,
		Title:   doc.Title,
		Content: doc.Content,
		OwnerID: doc.OwnerID,
		Editors: editors,
	})
}

func documentPayload(doc store.Document, viewerID string) map[string]any {
	return map[string]any{
		"id":         doc.ID,
		"title":      doc.Title,
		"content":    doc.Content,
		"ownerId":    doc.OwnerID,
		"ownerName":  doc.OwnerName,
		"permission": doc.Permission,
		"isOwner":    doc.OwnerID == viewerID,
		"createdAt":  doc.CreatedAt,
		"updatedAt":  doc.UpdatedAt,
	}
}

func mapNoRows(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Document not found", nil)
	}
	return err
}
