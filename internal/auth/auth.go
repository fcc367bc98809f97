package auth

import (
	"context"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/danuarta/archive-management/internal"
	"github.com/danuarta/archive-management/internal/user"
)

// Cache key namespace shared with operational tooling; do not rename.
const (
	refreshTokenPrefix = "refresh_token:"
	sessionPrefix      = "session:"
	blacklistPrefix    = "blacklist:"
)

func refreshTokenKey(userID int64) string { return refreshTokenPrefix + strconv.FormatInt(userID, 10) }
func sessionKey(userID int64) string      { return sessionPrefix + strconv.FormatInt(userID, 10) }
func blacklistKey(token string) string    { return blacklistPrefix + token }

// Claims is the JWT payload for both access and refresh tokens.
type Claims struct {
	UserID   int64     `json:"user_id"`
	Username string    `json:"username"`
	Role     user.Role `json:"role"`
	jwt.RegisteredClaims
}

// Session is the cached record of a live login, refreshed on every
// login/refresh.
type Session struct {
	UserID   int64     `json:"user_id"`
	Username string    `json:"username"`
	Role     user.Role `json:"role"`
	LoginAt  time.Time `json:"login_at"`
}

// UserSummary is the user shape returned with tokens; it never carries the
// password hash.
type UserSummary struct {
	ID       int64     `json:"id"`
	Username string    `json:"username"`
	FullName string    `json:"full_name"`
	Email    *string   `json:"email"`
	Role     user.Role `json:"role"`
}

type LoginResponse struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	TokenType    string      `json:"token_type"`
	ExpiresIn    int64       `json:"expires_in"`
	User         UserSummary `json:"user"`
}

// TokenGenerator signs and verifies the token pair. Access and refresh
// tokens use distinct secrets so one can never stand in for the other.
type TokenGenerator interface {
	GenerateAccessToken(u *user.User) (string, error)
	GenerateRefreshToken(u *user.User) (string, error)
	ValidateAccessToken(token string) (*Claims, error)
	ValidateRefreshToken(token string) (*Claims, error)
	// DecodeUnverified reads claims without checking signature or expiry.
	// Used on logout, where an already-expired token is still a valid
	// request to end the session.
	DecodeUnverified(token string) *Claims
}

// ServiceAPI is the identity and session surface consumed by transport.
type ServiceAPI interface {
	Register(ctx context.Context, dto RegisterDTO) (*LoginResponse, error)
	Login(ctx context.Context, username, password string) (*LoginResponse, error)
	Logout(ctx context.Context, userID int64, accessToken string) error
	RefreshTokens(ctx context.Context, refreshToken string) (*LoginResponse, error)
	Authorize(ctx context.Context, accessToken string) (*Claims, error)
	ValidateToken(ctx context.Context, accessToken string) bool
	GetActiveSession(ctx context.Context, userID int64) *Session
	RevokeAllSessions(ctx context.Context, userID int64) error
}

type JWTTokenGenerator struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

func NewJWTTokenGenerator(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) *JWTTokenGenerator {
	return &JWTTokenGenerator{
		AccessSecret:  []byte(accessSecret),
		RefreshSecret: []byte(refreshSecret),
		AccessTTL:     accessTTL,
		RefreshTTL:    refreshTTL,
	}
}

func (j *JWTTokenGenerator) sign(u *user.User, ttl time.Duration, secret []byte) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:   u.ID,
		Username: u.Username,
		Role:     u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(u.ID, 10),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func (j *JWTTokenGenerator) GenerateAccessToken(u *user.User) (string, error) {
	return j.sign(u, j.AccessTTL, j.AccessSecret)
}

func (j *JWTTokenGenerator) GenerateRefreshToken(u *user.User) (string, error) {
	return j.sign(u, j.RefreshTTL, j.RefreshSecret)
}

func validate(token string, secret []byte) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, internal.ErrInvalidToken
		}
		return secret, nil
	})
	if err != nil {
		// The caller only ever learns "unauthorized"; expired vs malformed
		// vs bad signature are not distinguished.
		return nil, internal.ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, internal.ErrInvalidToken
	}
	return claims, nil
}

func (j *JWTTokenGenerator) ValidateAccessToken(token string) (*Claims, error) {
	return validate(token, j.AccessSecret)
}

func (j *JWTTokenGenerator) ValidateRefreshToken(token string) (*Claims, error) {
	return validate(token, j.RefreshSecret)
}

func (j *JWTTokenGenerator) DecodeUnverified(token string) *Claims {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil
	}
	return claims
}

type claimsCtxKey struct{}

func ContextWithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsCtxKey{}, claims)
}

func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsCtxKey{}).(*Claims)
	return claims, ok
}
