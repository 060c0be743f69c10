package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"planner/api/internal/auth"
	"planner/api/internal/authpw"
	"planner/api/internal/config"
	"planner/api/internal/email"
	"planner/api/internal/export"
	"planner/api/internal/ownership"
	"planner/api/internal/search"
	"planner/api/internal/session"
	"planner/api/internal/store"
	"planner/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       int64
	Username     string
	JTI          string
	ExpiresAt    time.Time
}

// Profile is the account summary returned to its owner.
type Profile struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Username string `json:"username"`
}

func profileOf(user store.User) Profile {
	return Profile{Name: user.Name, Email: user.Email, Username: user.Username}
}

type sessionStore interface {
	SaveRefreshSession(context.Context, string, int64, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
}

type dataStore interface {
	ownership.Store
	authpw.UserStore
	sessionStore
	ProjectTreesByUser(context.Context, int64) ([]store.ProjectTree, error)
	ProjectTree(context.Context, int64) (store.ProjectTree, error)
	AllProjectTrees(context.Context) ([]store.ProjectTree, error)
	ListTasksByStory(context.Context, int64) ([]store.Task, error)
	InsertProject(context.Context, store.Project) (store.Project, error)
	InsertFeature(context.Context, store.Feature) (store.Feature, error)
	InsertUserStory(context.Context, store.UserStory) (store.UserStory, error)
	InsertTask(context.Context, store.Task) (store.Task, error)
	UpdateProject(context.Context, int64, store.ProjectPatch) error
	UpdateFeature(context.Context, int64, store.FeaturePatch) error
	UpdateUserStory(context.Context, int64, store.UserStoryPatch) error
	UpdateTask(context.Context, int64, store.TaskPatch) error
	DeleteProject(context.Context, int64) (int64, error)
	DeleteFeature(context.Context, int64) (int64, error)
	DeleteUserStory(context.Context, int64) (int64, error)
	DeleteTask(context.Context, int64) (int64, error)
	Ping(ctx context.Context) error
}

type searchIndex interface {
	Search(context.Context, search.Query) search.Response
	ReindexProject(store.ProjectTree)
	RemoveProject(int64)
	ReindexAll([]store.ProjectTree)
}

type mailer interface {
	IsConfigured() bool
	SendPasswordResetEmail(to, userName, resetURL string) error
}

type planExporter interface {
	Export(context.Context, export.Request) (*export.Result, error)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	guard    *ownership.Guard
	accounts *authpw.Service
	search   searchIndex
	mail     mailer
	exporter planExporter
}

// New keeps refresh sessions in the entity store.
func New(cfg config.Config, dataStore *store.SQLStore, searchService *search.Service, mail *email.Service, exporter *export.Service) *Service {
	return NewWithSessionStore(cfg, dataStore, dataStore, searchService, mail, exporter)
}

// NewWithSessionStore keeps refresh sessions and revoked tokens in sessions
// (Redis in production).
func NewWithSessionStore(cfg config.Config, dataStore *store.SQLStore, sessions sessionStore, searchService *search.Service, mail *email.Service, exporter *export.Service) *Service {
	svc := newService(cfg, dataStore, sessions)
	if searchService != nil {
		svc.search = searchService
	}
	if mail != nil {
		svc.mail = mail
	}
	if exporter != nil {
		svc.exporter = exporter
	}
	return svc
}

func newService(cfg config.Config, ds dataStore, sessions sessionStore) *Service {
	if sessions == nil {
		sessions = ds
	}
	return &Service{
		cfg:      cfg,
		store:    ds,
		sessions: sessions,
		guard:    ownership.NewGuard(ds),
		accounts: authpw.NewService(ds),
	}
}

// Ping checks the health of service dependencies (database, etc.)
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// MailConfigured reports whether reset tokens are mailed rather than
// returned to the caller.
func (s *Service) MailConfigured() bool {
	return s.mail != nil && s.mail.IsConfigured()
}

func (s *Service) SignUp(ctx context.Context, req authpw.SignUpRequest) (Session, error) {
	user, err := s.accounts.SignUp(ctx, req)
	if err != nil {
		return Session{}, accountError(err)
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Login(ctx context.Context, username, password string) (Session, error) {
	user, err := s.accounts.SignIn(ctx, username, password)
	if err != nil {
		return Session{}, accountError(err)
	}
	return s.issueSession(ctx, user)
}

// Refresh rotates a refresh token: the presented one is revoked and a new
// pair is issued.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return Session{}, auth.ErrInvalidToken
	}
	tokenHash := auth.HashToken(refreshToken)
	owner, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if errors.Is(err, sql.ErrNoRows) || errors.Is(err, session.ErrNotFound) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, owner.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, fmt.Errorf("load session user: %w", err)
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	jti := util.NewID("jti")
	claims := auth.NewClaims(user.ID, user.Username, jti, s.cfg.AccessTTL)
	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), claims)
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, time.Now().Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		Username:     user.Username,
		JTI:          jti,
		ExpiresAt:    claims.ExpiresAt.Time,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	userID, err := claims.UserID()
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

	return Session{
		Token:     token,
		UserID:    userID,
		Username:  claims.Username,
		JTI:       claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func (s *Service) Logout(ctx context.Context, sess Session, refreshToken string) error {
	if sess.JTI != "" {
		_ = s.sessions.RevokeAccessToken(ctx, sess.JTI, sess.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

func (s *Service) GetProfile(ctx context.Context, userID int64) (Profile, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{}, unauthorized("Unauthorized", err)
	}
	if err != nil {
		return Profile{}, fmt.Errorf("load profile: %w", err)
	}
	return profileOf(user), nil
}

// ChangeAccountDetail updates one allow-listed account field and returns
// the resulting profile.
func (s *Service) ChangeAccountDetail(ctx context.Context, userID int64, field, value string) (Profile, error) {
	user, err := s.accounts.ChangeAccountDetail(ctx, userID, field, value)
	if err != nil {
		return Profile{}, accountError(err)
	}
	return profileOf(user), nil
}

// RequestPasswordReset mails a reset link when mail is configured. Without
// mail the token is returned only when DevResetTokens is set.
func (s *Service) RequestPasswordReset(ctx context.Context, emailAddress string) (string, error) {
	token, user, err := s.accounts.RequestPasswordReset(ctx, emailAddress)
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", nil
	}
	if !s.MailConfigured() {
		if s.cfg.DevResetTokens {
			return token, nil
		}
		slog.WarnContext(ctx, "mail: not configured, password reset not sent", "user_id", user.ID)
		return "", nil
	}
	resetURL := s.cfg.AppURL + "/reset-password?token=" + url.QueryEscape(token)
	if err := s.mail.SendPasswordResetEmail(user.Email, user.Name, resetURL); err != nil {
		slog.WarnContext(ctx, "mail: password reset not sent", "user_id", user.ID, "error", err)
	}
	return "", nil
}

func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	err := s.accounts.ResetPassword(ctx, authpw.ResetPasswordRequest{Token: token, NewPassword: newPassword})
	if err != nil {
		return accountError(err)
	}
	return nil
}

func accountError(err error) error {
	switch {
	case errors.Is(err, authpw.ErrInvalidInput):
		dErr := validationError(strings.TrimPrefix(err.Error(), authpw.ErrInvalidInput.Error()+": "))
		dErr.Err = errors.Join(ErrValidation, err)
		return dErr
	case errors.Is(err, authpw.ErrUsernameTaken):
		return &DomainError{Status: http.StatusConflict, Code: "USERNAME_EXISTS", Message: "Username already exists", Err: err}
	case errors.Is(err, authpw.ErrEmailTaken):
		return &DomainError{Status: http.StatusConflict, Code: "EMAIL_EXISTS", Message: "Email already exists", Err: err}
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return &DomainError{Status: http.StatusUnauthorized, Code: "INVALID_CREDENTIALS", Message: "Invalid username or password", Err: err}
	case errors.Is(err, authpw.ErrInvalidResetToken):
		return badRequest("Invalid or expired reset token", err)
	case errors.Is(err, authpw.ErrUserNotFound):
		return unauthorized("Unauthorized", err)
	default:
		return err
	}
}

// Search runs a user-scoped search over plan items.
func (s *Service) Search(ctx context.Context, userID int64, text, kind string, limit, offset int) (search.Response, error) {
	filter, ok := search.ParseResultType(kind)
	if !ok {
		return search.Response{}, validationError("type must be one of project, feature, userStory, task")
	}
	if limit < 0 || offset < 0 {
		return search.Response{}, validationError("limit and offset must not be negative")
	}
	if limit > 100 {
		limit = 100
	}
	q := search.Query{Text: strings.TrimSpace(text), FilterType: filter, UserID: userID, Limit: limit, Offset: offset}
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}, nil
	}
	return s.search.Search(ctx, q), nil
}

// ReindexSearch rebuilds the search index from every project in the store.
func (s *Service) ReindexSearch(ctx context.Context) error {
	if s.search == nil {
		return nil
	}
	trees, err := s.store.AllProjectTrees(ctx)
	if err != nil {
		return fmt.Errorf("load projects for reindex: %w", err)
	}
	s.search.ReindexAll(trees)
	return nil
}

// ExportProject renders the caller's aggregated project in format.
func (s *Service) ExportProject(ctx context.Context, projectID, userID int64, format string) (*export.Result, error) {
	parsed, err := export.ParseFormat(strings.ToLower(strings.TrimSpace(format)))
	if err != nil {
		return nil, validationError("format must be one of html, pdf, docx")
	}
	if s.exporter == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export is not configured", nil)
	}
	project, err := s.GetProject(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}
	if project == nil {
		return nil, notFound("Project not found")
	}
	owner, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load export owner: %w", err)
	}

	result, err := s.exporter.Export(ctx, export.Request{Project: *project, Owner: owner.Name, Format: parsed})
	if errors.Is(err, export.ErrPDFDependencyMissing) || errors.Is(err, export.ErrDOCXDependencyMissing) {
		return nil, &DomainError{Status: http.StatusServiceUnavailable, Code: "EXPORT_UNAVAILABLE", Message: "Export dependency missing", Err: err}
	}
	if err != nil {
		return nil, fmt.Errorf("export project: %w", err)
	}
	return result, nil
}

func (s *Service) reindex(tree store.ProjectTree) {
	if s.search != nil {
		s.search.ReindexProject(tree)
	}
}

func (s *Service) unindex(projectID int64) {
	if s.search != nil {
		s.search.RemoveProject(projectID)
	}
}
