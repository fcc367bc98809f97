package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/danuarta/archive-management/internal"
	"github.com/danuarta/archive-management/internal/cache"
	"github.com/danuarta/archive-management/internal/core/events"
	"github.com/danuarta/archive-management/internal/user"
)

// credentials is the login-path snapshot cached under user_credentials:.
// It is a separate shape from user.User because the password hash must
// round-trip through the cache while staying out of every API response.
type credentials struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	FullName     string    `json:"full_name"`
	Email        *string   `json:"email"`
	Phone        *string   `json:"phone"`
	Role         user.Role `json:"role"`
	IsActive     bool      `json:"is_active"`
	PasswordHash string    `json:"password_hash"`
}

func credentialsFromUser(u *user.User) *credentials {
	return &credentials{
		ID:           u.ID,
		Username:     u.Username,
		FullName:     u.FullName,
		Email:        u.Email,
		Phone:        u.Phone,
		Role:         u.Role,
		IsActive:     u.IsActive,
		PasswordHash: u.PasswordHash,
	}
}

func (c *credentials) toUser() *user.User {
	return &user.User{
		ID:           c.ID,
		Username:     c.Username,
		FullName:     c.FullName,
		Email:        c.Email,
		Phone:        c.Phone,
		Role:         c.Role,
		IsActive:     c.IsActive,
		PasswordHash: c.PasswordHash,
	}
}

// Service is the identity and session manager. Refresh tokens, live
// sessions, the access-token blacklist, and login credentials all live in
// the cache store under their reserved prefixes.
type Service struct {
	repo       user.Repository
	tokens     TokenGenerator
	cache      *cache.Store
	credTTL    time.Duration
	refreshTTL time.Duration
	accessTTL  time.Duration
	bcryptCost int
	logger     *slog.Logger
}

func NewService(repo user.Repository, tokens TokenGenerator, store *cache.Store, cfg internal.Config, logger *slog.Logger) *Service {
	return &Service{
		repo:       repo,
		tokens:     tokens,
		cache:      store,
		credTTL:    cfg.Cache.EntryTTL(cfg.Cache.CredentialsTTL),
		refreshTTL: cfg.Security.RefreshTokenTTL,
		accessTTL:  cfg.Security.AccessTokenTTL,
		bcryptCost: cfg.Security.BCryptCost,
		logger:     logger,
	}
}

// Register creates the account and immediately performs the full login
// token-issuance flow.
func (s *Service) Register(ctx context.Context, dto RegisterDTO) (*LoginResponse, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}

	// Uniqueness checks observe the persistent store directly.
	if _, err := s.repo.FindByUsername(ctx, dto.Username); err == nil {
		return nil, internal.ErrUsernameTaken
	} else if !errors.Is(err, user.ErrNotFound) {
		return nil, internal.NewInternalError("failed to check username", err)
	}
	if dto.Email != nil && *dto.Email != "" {
		if _, err := s.repo.FindByEmail(ctx, *dto.Email); err == nil {
			return nil, internal.ErrEmailTaken
		} else if !errors.Is(err, user.ErrNotFound) {
			return nil, internal.NewInternalError("failed to check email", err)
		}
	}
	if dto.Phone != nil && *dto.Phone != "" {
		if _, err := s.repo.FindByPhone(ctx, *dto.Phone); err == nil {
			return nil, internal.ErrPhoneTaken
		} else if !errors.Is(err, user.ErrNotFound) {
			return nil, internal.NewInternalError("failed to check phone", err)
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(dto.Password), s.bcryptCost)
	if err != nil {
		return nil, internal.NewInternalError("failed to hash password", err)
	}

	role := dto.Role
	if role == "" {
		role = user.RoleDepartmentStaff
	}

	u := &user.User{
		FullName:     dto.FullName,
		Username:     dto.Username,
		Email:        dto.Email,
		Phone:        dto.Phone,
		PasswordHash: string(hash),
		Role:         role,
		IsActive:     true,
	}
	if err := s.repo.Create(ctx, u); err != nil {
		return nil, internal.NewInternalError("failed to create user", err)
	}

	s.cache.InvalidatePattern(ctx, user.CachePrefix+"*")
	s.logger.Info("user registered", "username", u.Username, "user_id", u.ID)

	return s.issueTokens(ctx, u)
}

// Login resolves credentials through the cache-aside store so repeated
// logins skip the persistent store for up to the credentials TTL. The
// active-status check therefore reads a snapshot; administrative
// deactivation deletes the snapshot, so the window only applies to direct
// database edits.
func (s *Service) Login(ctx context.Context, username, password string) (*LoginResponse, error) {
	creds, err := cache.GetOrSet(ctx, s.cache, user.CredentialsCacheKey(username),
		cache.Options{TTL: s.credTTL},
		func(ctx context.Context) (*credentials, error) {
			u, err := s.repo.FindByUsername(ctx, username)
			if err != nil {
				if errors.Is(err, user.ErrNotFound) {
					return nil, internal.ErrInvalidCredentials
				}
				return nil, internal.NewInternalError("failed to fetch user", err)
			}
			return credentialsFromUser(u), nil
		})
	if err != nil {
		return nil, err
	}

	if !creds.IsActive {
		return nil, internal.ErrUserInactive
	}
	if bcrypt.CompareHashAndPassword([]byte(creds.PasswordHash), []byte(password)) != nil {
		return nil, internal.ErrInvalidCredentials
	}

	s.logger.Info("user logged in", "username", username, "user_id", creds.ID)
	return s.issueTokens(ctx, creds.toUser())
}

// Logout blacklists the access token for its remaining lifetime and drops
// the user's refresh token, session, and credential snapshot. Safe to call
// twice: the second call's deletes are no-ops.
func (s *Service) Logout(ctx context.Context, userID int64, accessToken string) error {
	claims := s.tokens.DecodeUnverified(accessToken)
	if claims != nil && claims.ExpiresAt != nil {
		if remaining := time.Until(claims.ExpiresAt.Time); remaining > 0 {
			s.cache.Set(ctx, blacklistKey(accessToken), "true", remaining)
		}
	}

	s.cache.Delete(ctx, refreshTokenKey(userID), sessionKey(userID))

	username := ""
	if claims != nil {
		username = claims.Username
	}
	if username == "" {
		if u, err := s.repo.FindByID(ctx, userID); err == nil {
			username = u.Username
		}
	}
	if username != "" {
		s.cache.Delete(ctx, user.CredentialsCacheKey(username))
	}

	s.logger.Info("user logged out", "user_id", userID)
	return nil
}

// RefreshTokens rotates the token pair. The presented token must verify AND
// exactly match the cached copy for its subject; the active-status check
// bypasses every cache.
func (s *Service) RefreshTokens(ctx context.Context, refreshToken string) (*LoginResponse, error) {
	claims, err := s.tokens.ValidateRefreshToken(refreshToken)
	if err != nil {
		return nil, internal.ErrInvalidToken
	}

	var cached string
	if !s.cache.Get(ctx, refreshTokenKey(claims.UserID), &cached) || cached != refreshToken {
		// Never issued, already rotated, or logged out.
		return nil, internal.ErrInvalidToken
	}

	u, err := s.repo.FindByID(ctx, claims.UserID)
	if err != nil {
		return nil, internal.ErrInvalidToken
	}
	if !u.IsActive {
		return nil, internal.ErrUserInactive
	}

	s.logger.Info("tokens refreshed", "username", u.Username, "user_id", u.ID)
	return s.issueTokens(ctx, u)
}

// Authorize checks the blacklist, then signature and expiry, returning the
// claims for downstream handlers.
func (s *Service) Authorize(ctx context.Context, accessToken string) (*Claims, error) {
	var blacklisted string
	if s.cache.Get(ctx, blacklistKey(accessToken), &blacklisted) {
		return nil, internal.ErrInvalidToken
	}
	return s.tokens.ValidateAccessToken(accessToken)
}

// ValidateToken is the boolean form of Authorize: blacklist plus
// cryptographic verification, nothing else.
func (s *Service) ValidateToken(ctx context.Context, accessToken string) bool {
	_, err := s.Authorize(ctx, accessToken)
	return err == nil
}

// GetActiveSession returns the cached session record, or nil when it has
// expired or was never issued. Absence is not an error.
func (s *Service) GetActiveSession(ctx context.Context, userID int64) *Session {
	var session Session
	if !s.cache.Get(ctx, sessionKey(userID), &session) {
		return nil
	}
	return &session
}

// RevokeAllSessions force-logs-out the user: refresh token, session, and
// credential snapshot all go.
func (s *Service) RevokeAllSessions(ctx context.Context, userID int64) error {
	s.cache.Delete(ctx, refreshTokenKey(userID), sessionKey(userID))
	if u, err := s.repo.FindByID(ctx, userID); err == nil {
		s.cache.Delete(ctx, user.CredentialsCacheKey(u.Username))
	}
	s.logger.Info("all sessions revoked", "user_id", userID)
	return nil
}

// RegisterEventHandlers subscribes session revocation to account-change
// events from the user module.
func (s *Service) RegisterEventHandlers(bus *events.EventBus) {
	revoke := func(ctx context.Context, e events.Event) error {
		switch evt := e.(type) {
		case *events.UserDeactivatedEvent:
			return s.RevokeAllSessions(ctx, evt.UserID)
		case *events.UserDeletedEvent:
			return s.RevokeAllSessions(ctx, evt.UserID)
		}
		return nil
	}
	bus.Subscribe(events.EventTypeUserDeactivated, revoke)
	bus.Subscribe(events.EventTypeUserDeleted, revoke)
}

// issueTokens generates the token pair and stores the refresh token and
// session record under the user's id. Two concurrent issuances both
// succeed; the last cache write wins, which is the single-active-session
// semantics, not a race to fix.
func (s *Service) issueTokens(ctx context.Context, u *user.User) (*LoginResponse, error) {
	accessToken, err := s.tokens.GenerateAccessToken(u)
	if err != nil {
		return nil, internal.NewInternalError("failed to sign access token", err)
	}
	refreshToken, err := s.tokens.GenerateRefreshToken(u)
	if err != nil {
		return nil, internal.NewInternalError("failed to sign refresh token", err)
	}

	s.cache.Set(ctx, refreshTokenKey(u.ID), refreshToken, s.refreshTTL)
	s.cache.Set(ctx, sessionKey(u.ID), Session{
		UserID:   u.ID,
		Username: u.Username,
		Role:     u.Role,
		LoginAt:  time.Now(),
	}, s.refreshTTL)

	return &LoginResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.accessTTL.Seconds()),
		User: UserSummary{
			ID:       u.ID,
			Username: u.Username,
			FullName: u.FullName,
			Email:    u.Email,
			Role:     u.Role,
		},
	}, nil
}
