package app

import (
	"context"
	"net/http"
	"strings"
	"time"

	"fieldline/api/internal/auth"
	"fieldline/api/internal/authpw"
	"fieldline/api/internal/closeout"
	"fieldline/api/internal/config"
	"fieldline/api/internal/photos"
	"fieldline/api/internal/store"
	"fieldline/api/internal/timesheet"
	"fieldline/api/internal/util"

	"golang.org/x/crypto/bcrypt"
)

// Session is the verified caller context. OrgID comes from token claims and
// is the only tenant identity the sync core ever sees; request payloads are
// never consulted for it.
type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	OrgID        string
	JTI          string
	ExpiresAt    time.Time
}

// PushResult echoes the caller's idempotency key and reports per-entity
// counts of rows the batch carried. Counts are stable across retries: a
// re-pushed batch reports what the original did even when its rows lose the
// timestamp comparison against already-stored state. The key is not
// persisted or checked; retried batches are safe because upserts are
// idempotent for unchanged payloads.
type PushResult struct {
	IdempotencyKey string             `json:"idempotency_key,omitempty"`
	Accepted       bool               `json:"accepted"`
	Counts         store.UpsertCounts `json:"counts"`
}

var allowedProfitChips = map[string]struct{}{
	"none":   {},
	"red":    {},
	"yellow": {},
	"green":  {},
}

type dataStore interface {
	PullDelta(ctx context.Context, orgID string, since *time.Time) (store.Delta, error)
	ApplyUpserts(ctx context.Context, orgID string, batch store.UpsertBatch) (store.UpsertCounts, error)
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
	JobSheet(ctx context.Context, orgID, jobID string) (store.JobSheet, error)
	DayActivity(ctx context.Context, orgID string, dayStart time.Time) ([]store.TimesheetEntry, error)
	CountUsers(ctx context.Context) (int, error)
	CreateOrg(ctx context.Context, orgID, name string) error
	CreateUser(ctx context.Context, user store.User) error
	Ping(ctx context.Context) error
}

// sessionStore holds refresh tokens; Redis when configured, else Postgres.
type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	authpw   *authpw.Service
	photos   *photos.Service
	closeout closeout.Renderer
}

func New(cfg config.Config, dataStore *store.PostgresStore) *Service {
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: dataStore,
		authpw:   authpw.NewService(dataStore),
		closeout: closeout.NewChromeRenderer(),
	}
}

func NewWithSessionStore(cfg config.Config, dataStore *store.PostgresStore, sessions sessionStore) *Service {
	service := New(cfg, dataStore)
	service.sessions = sessions
	return service
}

func (s *Service) SetPhotoService(photoService *photos.Service) {
	s.photos = photoService
}

// Bootstrap seeds a demo org and crew account on an empty database so a
// fresh checkout can sync immediately.
func (s *Service) Bootstrap(ctx context.Context) error {
	if !s.cfg.SeedDemoOrg {
		return nil
	}
	count, err := s.store.CountUsers(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	const orgID = "org_demo"
	if err := s.store.CreateOrg(ctx, orgID, "Demo Utility Co"); err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte("fieldline"), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return s.store.CreateUser(ctx, store.User{
		ID:           util.NewID("usr"),
		OrgID:        orgID,
		Email:        "crew@demo.fieldline.dev",
		DisplayName:  "Demo Crew",
		PasswordHash: string(hash),
	})
}

func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	user, err := s.authpw.SignIn(ctx, authpw.SignInRequest{Email: email, Password: password})
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	found, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	// Re-read the user so the new token carries current identity; the Redis
	// session store only persists the user id.
	user, err := s.store.GetUserByID(ctx, found.ID)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		Org:  user.OrgID,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		OrgID:        user.OrgID,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	return Session{
		Token:     token,
		UserID:    claims.Sub,
		UserName:  claims.Name,
		OrgID:     claims.Org,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// Pull exports the delta for the session's org since the given watermark.
func (s *Service) Pull(ctx context.Context, session Session, since *time.Time) (store.Delta, error) {
	return s.store.PullDelta(ctx, session.OrgID, since)
}

// Push applies an upsert batch atomically for the session's org. The whole
// batch is validated up front; a single malformed row rejects everything,
// so a client retry can never half-apply.
func (s *Service) Push(ctx context.Context, session Session, idempotencyKey string, batch store.UpsertBatch) (PushResult, error) {
	if err := validateBatch(batch); err != nil {
		return PushResult{}, err
	}

	counts, err := s.store.ApplyUpserts(ctx, session.OrgID, batch)
	if err != nil {
		return PushResult{}, err
	}
	return PushResult{
		IdempotencyKey: idempotencyKey,
		Accepted:       true,
		Counts:         counts,
	}, nil
}

func validateBatch(batch store.UpsertBatch) error {
	for i, job := range batch.Jobs {
		if strings.TrimSpace(job.ID) == "" {
			return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "jobs: row id is required", map[string]any{"index": i})
		}
		if job.ProfitChip != "" {
			if _, ok := allowedProfitChips[job.ProfitChip]; !ok {
				return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "jobs: unknown profit_chip", map[string]any{"index": i, "profit_chip": job.ProfitChip})
			}
		}
	}
	for i, material := range batch.Materials {
		if strings.TrimSpace(material.ID) == "" {
			return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "materials: row id is required", map[string]any{"index": i})
		}
	}
	for i, pin := range batch.Pins {
		if strings.TrimSpace(pin.ID) == "" {
			return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "pins: row id is required", map[string]any{"index": i})
		}
		if pin.Lat < -90 || pin.Lat > 90 || pin.Lng < -180 || pin.Lng > 180 {
			return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "pins: coordinates out of range", map[string]any{"index": i})
		}
	}
	for i, item := range batch.Checklist {
		if strings.TrimSpace(item.ID) == "" {
			return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "checklist: row id is required", map[string]any{"index": i})
		}
	}
	return nil
}

// Closeout renders the job's closeout sheet as a PDF.
func (s *Service) Closeout(ctx context.Context, session Session, jobID string) (closeout.Result, error) {
	sheet, err := s.store.JobSheet(ctx, session.OrgID, jobID)
	if err != nil {
		return closeout.Result{}, err
	}
	return s.closeout.Render(ctx, sheet)
}

// Timesheet formats the org's job activity for the day starting at dayStart.
func (s *Service) Timesheet(ctx context.Context, session Session, dayStart time.Time) (string, error) {
	entries, err := s.store.DayActivity(ctx, session.OrgID, dayStart)
	if err != nil {
		return "", err
	}
	return timesheet.Format(dayStart, entries), nil
}

func (s *Service) PresignUpload(ctx context.Context, session Session, jobID, filename, contentType string) (photos.UploadTicket, error) {
	if s.photos == nil {
		return photos.UploadTicket{}, domainError(http.StatusServiceUnavailable, "PHOTOS_UNAVAILABLE", "Photo storage not configured", nil)
	}
	return s.photos.PresignUpload(ctx, session.OrgID, jobID, filename, contentType)
}

func (s *Service) PresignDownload(ctx context.Context, session Session, key string) (string, error) {
	if s.photos == nil {
		return "", domainError(http.StatusServiceUnavailable, "PHOTOS_UNAVAILABLE", "Photo storage not configured", nil)
	}
	return s.photos.PresignDownload(ctx, session.OrgID, key)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
