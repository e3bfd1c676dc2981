package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"lectern/api/internal/auth"
	"lectern/api/internal/authpw"
	"lectern/api/internal/config"
	"lectern/api/internal/export"
	"lectern/api/internal/filestore"
	"lectern/api/internal/metrics"
	"lectern/api/internal/rank"
	"lectern/api/internal/rbac"
	"lectern/api/internal/search"
	"lectern/api/internal/store"
	"lectern/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Email        string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

type DataStore interface {
	Ping(ctx context.Context) error

	GetUserByID(ctx context.Context, userID string) (store.User, error)
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	UpsertUser(ctx context.Context, user store.User) (store.User, error)

	ListSubjects(ctx context.Context) ([]store.Subject, error)
	GetSubject(ctx context.Context, subjectID string) (store.Subject, error)
	InsertSubject(ctx context.Context, item store.Subject, pos store.Position, place store.Placer) (store.Subject, error)
	UpdateSubject(ctx context.Context, item store.Subject) (store.Subject, error)
	MoveSubject(ctx context.Context, subjectID string, pos store.Position, place store.Placer, updatedBy string) (store.Subject, error)
	DeleteSubject(ctx context.Context, subjectID string) error

	ListTopics(ctx context.Context, subjectID string) ([]store.Topic, error)
	ListAllTopics(ctx context.Context) ([]store.Topic, error)
	GetTopic(ctx context.Context, topicID string) (store.Topic, error)
	InsertTopic(ctx context.Context, item store.Topic, pos store.Position, place store.Placer) (store.Topic, error)
	UpdateTopic(ctx context.Context, item store.Topic) (store.Topic, error)
	MoveTopic(ctx context.Context, topicID, subjectID string, pos store.Position, place store.Placer, updatedBy string) (store.Topic, error)
	DeleteTopic(ctx context.Context, topicID string) error

	ListArticles(ctx context.Context, topicID string) ([]store.Article, error)
	ListAllArticles(ctx context.Context) ([]store.Article, error)
	GetArticle(ctx context.Context, articleID string) (store.Article, error)
	InsertArticle(ctx context.Context, item store.Article, pos store.Position, place store.Placer) (store.Article, error)
	UpdateArticle(ctx context.Context, item store.Article) (store.Article, error)
	SetArticleFile(ctx context.Context, articleID, path, sha string) error
	MoveArticle(ctx context.Context, articleID, topicID string, pos store.Position, place store.Placer, updatedBy string) (store.Article, error)
	DeleteArticle(ctx context.Context, articleID string) error
	GetArticleLocation(ctx context.Context, articleID string) (store.ArticleLocation, error)

	RebalanceScope(ctx context.Context, scope store.Scope, rebalance store.Rebalancer) (int, error)
	LongestRank(ctx context.Context, scope store.Scope) (int, error)
}

// FileMirror keeps a copy of every article body under version control.
type FileMirror interface {
	Create(ctx context.Context, path, body, message, author string) (filestore.File, error)
	Update(ctx context.Context, path, body, message, author, expectedSHA string) (filestore.File, error)
	Delete(ctx context.Context, path, message, author, expectedSHA string) (store.CommitInfo, error)
	FetchSHA(path string) (string, error)
	History(path string, limit int) ([]store.CommitInfo, error)
}

type SearchIndex interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexSubject(r search.SubjectRecord)
	IndexTopic(r search.TopicRecord)
	IndexArticle(r search.ArticleRecord)
	Delete(kind search.ResultType, id string)
}

type SessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
}

type PasswordAuth interface {
	SignIn(ctx context.Context, email, password string) (store.User, error)
	SaveUser(ctx context.Context, req authpw.SaveUserRequest) (store.User, error)
	EnsureAdmin(ctx context.Context, email, password string) (store.User, bool, error)
}

type Exporter interface {
	Export(ctx context.Context, req export.Request) (*export.Result, error)
}

// Deps wires the service. Files, Search and Exporter are optional; the
// features they back are reported as unavailable when nil.
type Deps struct {
	Store     DataStore
	Files     FileMirror
	Search    SearchIndex
	Sessions  SessionStore
	Passwords PasswordAuth
	Exporter  Exporter
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

type Service struct {
	cfg       config.Config
	store     DataStore
	files     FileMirror
	search    SearchIndex
	sessions  SessionStore
	passwords PasswordAuth
	exporter  Exporter
	engine    *rank.Engine
	metrics   *metrics.Metrics
	log       *zap.Logger
}

func New(cfg config.Config, deps Deps) (*Service, error) {
	engine, err := rank.New(cfg.RankConfig())
	if err != nil {
		return nil, fmt.Errorf("rank engine: %w", err)
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cfg:       cfg,
		store:     deps.Store,
		files:     deps.Files,
		search:    deps.Search,
		sessions:  deps.Sessions,
		passwords: deps.Passwords,
		exporter:  deps.Exporter,
		engine:    engine,
		metrics:   deps.Metrics,
		log:       logger.Named("app"),
	}, nil
}

// Bootstrap creates the configured admin account when it does not exist yet.
func (s *Service) Bootstrap(ctx context.Context) error {
	if strings.TrimSpace(s.cfg.AdminEmail) == "" || s.passwords == nil {
		return nil
	}
	user, created, err := s.passwords.EnsureAdmin(ctx, s.cfg.AdminEmail, s.cfg.AdminPassword)
	if err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	if created {
		s.log.Info("admin account created", zap.String("user_id", user.ID), zap.String("email", user.Email))
	}
	return nil
}

func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	if s.passwords == nil {
		return Session{}, domainError(http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
	}
	user, err := s.passwords.SignIn(ctx, email, password)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

// Refresh rotates a refresh token: the old one is revoked and a new pair
// issued.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return Session{}, auth.ErrInvalidToken
	}
	tokenHash := auth.HashToken(refreshToken)
	cached, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	// Pick up role changes made since the token was issued.
	user, err := s.store.GetUserByID(ctx, cached.ID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	jti := util.NewID("jti")
	role := string(rbac.Normalize(user.Role))
	token, claims, err := auth.IssueToken([]byte(s.cfg.JWTSecret), user.ID, user.DisplayName, role, jti, s.cfg.AccessTTL)
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user, time.Now().Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Email:        user.Email,
		Role:         role,
		JTI:          jti,
		ExpiresAt:    claims.Expiry(),
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.sessions.IsAccessTokenRevoked(ctx, claims.ID)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Subject)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Email:     user.Email,
		Role:      string(rbac.Normalize(user.Role)),
		JTI:       claims.ID,
		ExpiresAt: claims.Expiry(),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	var errs []error
	if session.JTI != "" {
		errs = append(errs, s.sessions.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt))
	}
	if refreshToken != "" {
		errs = append(errs, s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)))
	}
	return errors.Join(errs...)
}

// SaveUser creates or replaces an account. Admin only.
func (s *Service) SaveUser(ctx context.Context, session Session, req authpw.SaveUserRequest) (store.User, error) {
	if err := s.authorize(session, rbac.ActionAdmin); err != nil {
		return store.User{}, err
	}
	if s.passwords == nil {
		return store.User{}, domainError(http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
	}
	user, err := s.passwords.SaveUser(ctx, req)
	if err != nil {
		return store.User{}, err
	}
	s.log.Info("user saved", zap.String("user_id", user.ID), zap.String("role", user.Role), zap.String("by", session.UserID))
	return user, nil
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

func (s *Service) authorize(session Session, action rbac.Action) error {
	if s.Can(session.Role, action) {
		return nil
	}
	s.log.Info("permission denied",
		zap.String("user_id", session.UserID),
		zap.String("role", session.Role),
		zap.String("action", string(action)),
	)
	return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", map[string]any{"action": string(action)})
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) CookieOptions() auth.CookieOptions {
	return auth.CookieOptions{Name: s.cfg.CookieName, Secure: s.cfg.CookieSecure}
}

func (s *Service) Search(ctx context.Context, session Session, q search.Query) (search.Response, error) {
	if s.search == nil {
		return search.Response{}, domainError(http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE", "Search is not configured", nil)
	}
	if !s.Can(session.Role, rbac.ActionWrite) {
		q.PublishedOnly = true
	}
	return s.search.Search(ctx, q), nil
}

// ExportTopic prints a topic to PDF. Readers without write access only see
// published articles.
func (s *Service) ExportTopic(ctx context.Context, session Session, topicID string) (*export.Result, error) {
	if s.exporter == nil {
		return nil, export.ErrPDFDependencyMissing
	}
	if _, err := s.store.GetTopic(ctx, topicID); err != nil {
		return nil, err
	}
	return s.exporter.Export(ctx, export.Request{
		TopicID:       topicID,
		PublishedOnly: !s.Can(session.Role, rbac.ActionWrite),
	})
}
