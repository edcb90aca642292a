package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"tally/api/internal/auth"
	"tally/api/internal/authpw"
	"tally/api/internal/config"
	"tally/api/internal/oauth"
	"tally/api/internal/rbac"
	"tally/api/internal/search"
	"tally/api/internal/session"
	"tally/api/internal/store"
)

// Session is a resolved caller identity. In open mode it is synthesized
// from the dev header; in restricted mode it comes from a bearer token.
type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

// devDefaultUserID is the well-known id of the very first default dev
// user, so repeated unauthenticated calls resolve to a stable identity.
var devDefaultUserID = uuid.MustParse("11111111-1111-1111-1111-111111111111")

type dataStore interface {
	GetUserByID(ctx context.Context, id uuid.UUID) (store.User, error)
	GetUserByUsername(ctx context.Context, username string) (store.User, error)
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error
	ListUsers(ctx context.Context) ([]store.User, error)

	ListChecklists(ctx context.Context) ([]store.ChecklistSummary, error)
	GetChecklist(ctx context.Context, id int64) (store.Checklist, error)
	CreateChecklist(ctx context.Context, name string, items []string, createdBy uuid.NullUUID) (store.Checklist, []store.ChecklistItem, error)
	DeleteChecklist(ctx context.Context, id int64) (bool, error)
	ListItems(ctx context.Context, checklistID int64) ([]store.ChecklistItem, error)
	UpdateItemOrders(ctx context.Context, checklistID int64, itemIDs []int64) error
	ToggleProgress(ctx context.Context, userID uuid.UUID, itemID int64) error
	ListProgressByChecklist(ctx context.Context, checklistID int64) ([]store.Progress, error)

	RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
	Ping(ctx context.Context) error
}

// refreshStore holds refresh token hashes; Postgres by default, Redis
// when configured.
type refreshStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (string, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions refreshStore
	authpw   *authpw.Service
	oauth    *oauth.Client
	search   *search.Service

	stateMu     sync.Mutex
	oauthStates map[string]time.Time
}

func New(cfg config.Config, dataStore *store.PostgresStore, searchService *search.Service) *Service {
	return newService(cfg, dataStore, dataStore, searchService)
}

// NewWithSessionStore keeps refresh tokens in Redis instead of Postgres.
func NewWithSessionStore(cfg config.Config, dataStore *store.PostgresStore, sessions *session.RedisStore, searchService *search.Service) *Service {
	return newService(cfg, dataStore, sessions, searchService)
}

func newService(cfg config.Config, ds dataStore, sessions refreshStore, searchService *search.Service) *Service {
	svc := &Service{
		cfg:         cfg,
		store:       ds,
		sessions:    sessions,
		authpw:      authpw.NewService(ds, cfg.AdminUsers),
		search:      searchService,
		oauthStates: make(map[string]time.Time),
	}
	if cfg.OAuthClientID != "" {
		svc.oauth = oauth.New(oauth.Config{
			ClientID:     cfg.OAuthClientID,
			ClientSecret: cfg.OAuthClientSecret,
			AuthURL:      cfg.OAuthAuthURL,
			TokenURL:     cfg.OAuthTokenURL,
			UserInfoURL:  cfg.OAuthUserInfoURL,
			RedirectURL:  cfg.OAuthRedirectURL,
		})
	}
	return svc
}

// Bootstrap pushes existing rows into the search index if one is
// configured. Safe to fail; search degrades to Postgres FTS.
func (s *Service) Bootstrap(ctx context.Context) error {
	if s.search != nil {
		s.search.ReindexAllFromPG(ctx)
	}
	return nil
}

func (s *Service) OpenMode() bool {
	return s.cfg.AuthMode != config.AuthModeRestricted
}

func (s *Service) Auth() *authpw.Service {
	return s.authpw
}

func (s *Service) OAuthConfigured() bool {
	return s.oauth != nil && s.oauth.Configured()
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Sessions

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := uuid.NewString()

	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub:  user.ID.String(),
		Name: user.Username,
		Role: user.Role,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := uuid.NewString() + uuid.NewString()
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID.String(), refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID.String(),
		UserName:     user.Username,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

// CreateSession issues tokens for an already-authenticated user.
func (s *Service) CreateSession(ctx context.Context, user store.User) (Session, error) {
	return s.issueSession(ctx, user)
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
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

	userID, err := uuid.Parse(claims.Sub)
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID.String(),
		UserName:  user.Username,
		Role:      user.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

// Refresh rotates a refresh token: the old hash is revoked and a fresh
// session is issued against the user's current row.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	rawUserID, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	userID, err := uuid.Parse(rawUserID)
	if err != nil {
		return Session{}, fmt.Errorf("refresh session user id: %w", err)
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
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

// OAuth2 flow

// NewOAuthState mints a one-time state value for the login redirect.
func (s *Service) NewOAuthState() string {
	state := uuid.NewString()
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	now := time.Now()
	for existing, expiry := range s.oauthStates {
		if now.After(expiry) {
			delete(s.oauthStates, existing)
		}
	}
	s.oauthStates[state] = now.Add(10 * time.Minute)
	return state
}

// ConsumeOAuthState validates and burns a state value.
func (s *Service) ConsumeOAuthState(state string) bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	expiry, ok := s.oauthStates[state]
	if !ok {
		return false
	}
	delete(s.oauthStates, state)
	return time.Now().Before(expiry)
}

func (s *Service) OAuthLoginURL(state string) string {
	return s.oauth.AuthCodeURL(state)
}

// OAuthCallback exchanges a code, resolves the principal to a user row
// (created on first sight), and issues a session.
func (s *Service) OAuthCallback(ctx context.Context, code string) (Session, error) {
	token, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		return Session{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "OAuth exchange failed", nil)
	}
	info, err := s.oauth.UserInfo(ctx, token.AccessToken)
	if err != nil {
		return Session{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "OAuth userinfo failed", nil)
	}
	user, err := s.ensureUserByName(ctx, info.Principal())
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

// Identity resolution

// ResolveDevUser maps the open-mode dev header to a user row, creating
// one on first sight. An empty header resolves to the configured default
// user, which gets a fixed well-known id.
func (s *Service) ResolveDevUser(ctx context.Context, requested string) (store.User, error) {
	name := strings.TrimSpace(requested)
	if name == "" {
		name = s.cfg.DevDefaultUser
	}
	return s.ensureUserByName(ctx, name)
}

func (s *Service) ensureUserByName(ctx context.Context, username string) (store.User, error) {
	user, err := s.store.GetUserByUsername(ctx, username)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return store.User{}, fmt.Errorf("lookup user: %w", err)
	}

	id := uuid.New()
	if username == s.cfg.DevDefaultUser {
		id = devDefaultUserID
	}
	role := string(rbac.RoleUser)
	for _, admin := range s.cfg.AdminUsers {
		if admin == username {
			role = string(rbac.RoleAdmin)
		}
	}

	user = store.User{ID: id, Username: username, Role: role}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return store.User{}, err
	}
	return user, nil
}

func (s *Service) ListUsers(ctx context.Context) ([]map[string]any, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(users))
	for _, user := range users {
		payload = append(payload, map[string]any{
			"id":       user.ID.String(),
			"username": user.Username,
			"role":     user.Role,
		})
	}
	return payload, nil
}

// Checklists

func (s *Service) ListChecklists(ctx context.Context) ([]map[string]any, error) {
	summaries, err := s.store.ListChecklists(ctx)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(summaries))
	for _, summary := range summaries {
		payload = append(payload, map[string]any{
			"id":   summary.ID,
			"name": summary.Name,
		})
	}
	return payload, nil
}

// CreateChecklist creates a checklist with its initial items. Blank item
// strings are skipped; the rest get sequential display order starting
// at 0 in submission order.
func (s *Service) CreateChecklist(ctx context.Context, name string, items []string, createdBy string) (map[string]any, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Checklist name is required", nil)
	}

	contents := make([]string, 0, len(items))
	for _, item := range items {
		if content := strings.TrimSpace(item); content != "" {
			contents = append(contents, content)
		}
	}

	var creator uuid.NullUUID
	if parsed, err := uuid.Parse(createdBy); err == nil {
		creator = uuid.NullUUID{UUID: parsed, Valid: true}
	}

	checklist, created, err := s.store.CreateChecklist(ctx, trimmed, contents, creator)
	if err != nil {
		return nil, err
	}

	if s.search != nil {
		checklistID := strconv.FormatInt(checklist.ID, 10)
		records := make([]search.ItemRecord, 0, len(created))
		for _, item := range created {
			records = append(records, search.ItemRecord{
				ID:          strconv.FormatInt(item.ID, 10),
				Content:     item.Content,
				ChecklistID: checklistID,
			})
		}
		s.search.IndexChecklist(search.ChecklistRecord{ID: checklistID, Name: checklist.Name}, records)
	}

	return map[string]any{"id": checklist.ID, "name": checklist.Name}, nil
}

// ChecklistDetail returns one entry per item, each carrying a progress
// map with an explicit boolean for every known user.
func (s *Service) ChecklistDetail(ctx context.Context, checklistID int64) ([]map[string]any, error) {
	if _, err := s.store.GetChecklist(ctx, checklistID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Checklist not found", nil)
		}
		return nil, err
	}

	items, err := s.store.ListItems(ctx, checklistID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return []map[string]any{}, nil
	}

	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	progresses, err := s.store.ListProgressByChecklist(ctx, checklistID)
	if err != nil {
		return nil, err
	}

	usernameByID := make(map[uuid.UUID]string, len(users))
	for _, user := range users {
		usernameByID[user.ID] = user.Username
	}

	type progressKey struct {
		itemID   int64
		username string
	}
	checked := make(map[progressKey]bool, len(progresses))
	for _, progress := range progresses {
		username, ok := usernameByID[progress.UserID]
		if !ok {
			continue
		}
		if progress.Checked {
			checked[progressKey{progress.ItemID, username}] = true
		}
	}

	entries := make([]map[string]any, 0, len(items))
	for _, item := range items {
		progressMap := make(map[string]bool, len(users))
		for _, username := range usernameByID {
			progressMap[username] = checked[progressKey{item.ID, username}]
		}
		entries = append(entries, map[string]any{
			"itemId":   item.ID,
			"content":  item.Content,
			"progress": progressMap,
		})
	}
	return entries, nil
}

// ToggleItem flips one user's checked state for one item, creating the
// progress row checked=true when absent.
func (s *Service) ToggleItem(ctx context.Context, itemID int64, userID uuid.UUID) error {
	if err := s.store.ToggleProgress(ctx, userID, itemID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domainError(http.StatusNotFound, "NOT_FOUND", "Item or user not found", nil)
		}
		return err
	}
	return nil
}

// ReorderItems validates the submitted id set against the checklist's
// items before any write; a mismatch rejects the whole request.
func (s *Service) ReorderItems(ctx context.Context, checklistID int64, itemIDs []int64) error {
	if _, err := s.store.GetChecklist(ctx, checklistID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domainError(http.StatusNotFound, "NOT_FOUND", "Checklist not found", nil)
		}
		return err
	}

	items, err := s.store.ListItems(ctx, checklistID)
	if err != nil {
		return err
	}
	if len(itemIDs) != len(items) {
		return domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Reorder must list every checklist item exactly once", nil)
	}

	known := make(map[int64]struct{}, len(items))
	for _, item := range items {
		known[item.ID] = struct{}{}
	}
	seen := make(map[int64]struct{}, len(itemIDs))
	for _, itemID := range itemIDs {
		if _, ok := known[itemID]; !ok {
			return domainError(http.StatusBadRequest, "VALIDATION_ERROR", fmt.Sprintf("Item %d does not belong to this checklist", itemID), nil)
		}
		if _, dup := seen[itemID]; dup {
			return domainError(http.StatusBadRequest, "VALIDATION_ERROR", fmt.Sprintf("Item %d listed more than once", itemID), nil)
		}
		seen[itemID] = struct{}{}
	}

	return s.store.UpdateItemOrders(ctx, checklistID, itemIDs)
}

// DeleteChecklist removes a checklist; items and progress cascade.
func (s *Service) DeleteChecklist(ctx context.Context, checklistID int64) error {
	found, err := s.store.DeleteChecklist(ctx, checklistID)
	if err != nil {
		return err
	}
	if !found {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Checklist not found", nil)
	}
	if s.search != nil {
		s.search.DeleteChecklist(strconv.FormatInt(checklistID, 10))
	}
	return nil
}

func (s *Service) Search(q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(q)
}
