package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token type claim values. A token is only accepted for its own type.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// InsecureDefaultSecret signs tokens when no secret is configured.
// It is public knowledge; deployments must set their own.
const InsecureDefaultSecret = "deckvault-insecure-development-secret-change-me"

// Default token lifetimes.
const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

// tokenIDBytes gives a 128-bit refresh token id.
const tokenIDBytes = 16

// AccessClaims is the payload of an access token.
type AccessClaims struct {
	jwt.RegisteredClaims
	Role      Role   `json:"role"`
	Type      string `json:"typ"`
	SessionID string `json:"sid,omitempty"`
}

// RefreshClaims is the payload of a refresh token. RegisteredClaims.ID
// carries the random token id.
type RefreshClaims struct {
	jwt.RegisteredClaims
	Type      string `json:"typ"`
	SessionID string `json:"sid,omitempty"`
}

// RefreshPayload is the verified content of a refresh token.
type RefreshPayload struct {
	UserID    string
	TokenID   string
	SessionID string
	ExpiresAt time.Time
}

// TokenConfig configures a TokenService.
type TokenConfig struct {
	Secret     string
	Issuer     string
	Audience   string
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// Now overrides the clock. Nil means time.Now.
	Now func() time.Time
}

// TokenService issues and verifies stateless HS256 access and refresh tokens.
// It holds no mutable state and is safe for concurrent use.
type TokenService struct {
	secret     []byte
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

// NewTokenService creates a TokenService. An empty secret falls back to
// InsecureDefaultSecret and logs a warning.
func NewTokenService(cfg TokenConfig, logger *slog.Logger) *TokenService {
	if logger == nil {
		logger = slog.Default()
	}

	secret := cfg.Secret
	if secret == "" {
		logger.Warn("no JWT secret configured, using insecure default",
			"action_required", "set DECKVAULT_JWT_SECRET before exposing this server",
		)
		secret = InsecureDefaultSecret
	}

	s := &TokenService{
		secret:     []byte(secret),
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		now:        cfg.Now,
		logger:     logger,
	}
	if s.accessTTL <= 0 {
		s.accessTTL = DefaultAccessTTL
	}
	if s.refreshTTL <= 0 {
		s.refreshTTL = DefaultRefreshTTL
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// AccessTTL returns the configured access token lifetime.
func (s *TokenService) AccessTTL() time.Duration {
	return s.accessTTL
}

// IssueAccess signs a short-lived access token for the identity.
func (s *TokenService) IssueAccess(id Identity) (string, error) {
	now := s.now()
	claims := AccessClaims{
		RegisteredClaims: s.registered(id.UserID, uuid.NewString(), now, s.accessTTL),
		Role:             id.Role,
		Type:             TokenTypeAccess,
		SessionID:        id.SessionID,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signing access token: %w", err)
	}
	return signed, nil
}

// IssueRefresh signs a refresh token with a fresh random token id. The
// returned expiry is read back from the signed token so the stored session
// expiry always equals the cryptographic one.
func (s *TokenService) IssueRefresh(id Identity) (token string, expiresAt time.Time, tokenID string, err error) {
	tokenID, err = NewTokenID()
	if err != nil {
		return "", time.Time{}, "", err
	}

	claims := RefreshClaims{
		RegisteredClaims: s.registered(id.UserID, tokenID, s.now(), s.refreshTTL),
		Type:             TokenTypeRefresh,
		SessionID:        id.SessionID,
	}

	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, "", fmt.Errorf("signing refresh token: %w", err)
	}

	expiresAt, err = ExpiryOf(token)
	if err != nil {
		return "", time.Time{}, "", err
	}
	return token, expiresAt, tokenID, nil
}

// VerifyAccess validates an access token and returns the identity it carries.
// Only UserID, Role and SessionID are populated. Every failure is reported as
// ErrTokenInvalid; the concrete reason is logged at debug level.
func (s *TokenService) VerifyAccess(raw string) (*Identity, error) {
	var claims AccessClaims
	if err := s.parse(raw, &claims); err != nil {
		return nil, s.reject(TokenTypeAccess, err)
	}
	if claims.Type != TokenTypeAccess {
		return nil, s.reject(TokenTypeAccess, fmt.Errorf("wrong token type %q", claims.Type))
	}
	if claims.Subject == "" || !IsValidRole(claims.Role) {
		return nil, s.reject(TokenTypeAccess, fmt.Errorf("missing subject or role"))
	}

	return &Identity{
		UserID:    claims.Subject,
		Role:      claims.Role,
		IsActive:  true,
		SessionID: claims.SessionID,
	}, nil
}

// VerifyRefresh validates a refresh token. Failures are reported as ErrTokenInvalid.
func (s *TokenService) VerifyRefresh(raw string) (*RefreshPayload, error) {
	var claims RefreshClaims
	if err := s.parse(raw, &claims); err != nil {
		return nil, s.reject(TokenTypeRefresh, err)
	}
	if claims.Type != TokenTypeRefresh {
		return nil, s.reject(TokenTypeRefresh, fmt.Errorf("wrong token type %q", claims.Type))
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, s.reject(TokenTypeRefresh, fmt.Errorf("missing subject or token id"))
	}

	return &RefreshPayload{
		UserID:    claims.Subject,
		TokenID:   claims.ID,
		SessionID: claims.SessionID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func (s *TokenService) registered(subject, id string, now time.Time, ttl time.Duration) jwt.RegisteredClaims {
	rc := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    s.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        id,
	}
	if s.audience != "" {
		rc.Audience = jwt.ClaimStrings{s.audience}
	}
	return rc
}

func (s *TokenService) parse(raw string, claims jwt.Claims) error {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	if s.audience != "" {
		opts = append(opts, jwt.WithAudience(s.audience))
	}

	_, err := jwt.ParseWithClaims(raw, claims, func(_ *jwt.Token) (any, error) {
		return s.secret, nil
	}, opts...)
	return err
}

func (s *TokenService) reject(kind string, reason error) error {
	s.logger.Debug("token rejected", "type", kind, "reason", reason.Error())
	return ErrTokenInvalid
}

// ExpiryOf decodes the exp claim of a token without verifying it.
func ExpiryOf(token string) (time.Time, error) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, fmt.Errorf("decoding token expiry: %w", err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, fmt.Errorf("decoding token expiry: %w", ErrTokenInvalid)
	}
	return claims.ExpiresAt.Time, nil
}

// NewTokenID returns a random 128-bit identifier as 32 hex characters.
func NewTokenID() (string, error) {
	b := make([]byte, tokenIDBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating token id: %w", err)
	}
	return hex.EncodeToString(b), nil
}
