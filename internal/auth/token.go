package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"sgadmin.org/internal/ids"
)

const (
	defaultIssuer     = "sgadmin"
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 24 * time.Hour * 14

	refreshSecretLen = 32
)

// Claims are the verified contents of an access token.
type Claims struct {
	Username string   `json:"username"`
	Roles    []string `json:"roles"`
	jwt.RegisteredClaims
}

// TokenPair is one issued access/refresh credential pair.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// TokenService issues signed access tokens and opaque single-use refresh
// tokens, validates them, and handles rotation and revocation.
type TokenService struct {
	store      Store
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// TokenOption configures TokenService behavior.
type TokenOption func(*TokenService) error

// WithIssuer overrides the issuer claim.
func WithIssuer(issuer string) TokenOption {
	return func(s *TokenService) error {
		if iss := strings.TrimSpace(issuer); iss != "" {
			s.issuer = iss
		}
		return nil
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) TokenOption {
	return func(s *TokenService) error {
		if ttl > 0 {
			s.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) TokenOption {
	return func(s *TokenService) error {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) TokenOption {
	return func(s *TokenService) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewTokenService constructs a TokenService signing with the given HS256
// secret.
func NewTokenService(store Store, secret string, opts ...TokenOption) (*TokenService, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("auth: token secret is required")
	}
	s := &TokenService{
		store:      store,
		secret:     []byte(secret),
		issuer:     defaultIssuer,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// GenerateTokenPair signs a short-lived access token for the user and
// persists a new active refresh token.
func (s *TokenService) GenerateTokenPair(ctx context.Context, user *User, roles []string) (TokenPair, error) {
	if user == nil || strings.TrimSpace(user.ID) == "" {
		return TokenPair{}, ErrInvalidInput
	}
	now := s.now().UTC()
	access, accessExp, err := s.signAccessToken(user, roles, now)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, rec, err := s.newRefreshToken(user.ID, now)
	if err != nil {
		return TokenPair{}, err
	}
	if err := s.store.RefreshTokens().Create(ctx, rec); err != nil {
		return TokenPair{}, fmt.Errorf("%w: persist refresh token: %v", ErrUnavailable, err)
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: rec.ExpiresAt,
	}, nil
}

// ValidateAccessToken verifies signature and expiry only; it never touches
// storage.
func (s *TokenService) ValidateAccessToken(token string) (*Claims, error) {
	return s.parseAccessToken(token, true)
}

// RefreshAccessToken rotates a refresh token and issues a fresh pair. The
// presented access token may be expired but must belong to the same user as
// the refresh token. Refresh tokens are single-use: of two concurrent calls
// with the same token, exactly one succeeds.
func (s *TokenService) RefreshAccessToken(ctx context.Context, accessToken, refreshToken string) (TokenPair, error) {
	claims, err := s.parseAccessToken(accessToken, false)
	if err != nil {
		return TokenPair{}, ErrInvalidToken
	}
	tokenID, secret, err := splitRefreshToken(refreshToken)
	if err != nil {
		return TokenPair{}, ErrInvalidToken
	}

	record, err := s.store.RefreshTokens().Find(ctx, tokenID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, ErrInvalidToken
		}
		return TokenPair{}, fmt.Errorf("%w: find refresh token: %v", ErrUnavailable, err)
	}
	if record.Status != RefreshStatusActive || s.now().After(record.ExpiresAt) {
		return TokenPair{}, ErrInvalidToken
	}
	if record.UserID != claims.Subject {
		return TokenPair{}, ErrInvalidToken
	}
	if !secureCompareHash(record.TokenHash, secret) {
		// A valid id with a wrong secret suggests token theft; burn the row.
		_ = s.store.RefreshTokens().Revoke(ctx, record.ID)
		return TokenPair{}, ErrInvalidToken
	}

	user, err := s.store.Users().Find(ctx, record.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, ErrInvalidToken
		}
		return TokenPair{}, fmt.Errorf("%w: find user: %v", ErrUnavailable, err)
	}
	if !user.Active {
		return TokenPair{}, ErrInvalidToken
	}
	roles, err := s.store.Roles().ActiveRolesForUser(ctx, record.UserID)
	if err != nil {
		return TokenPair{}, fmt.Errorf("%w: resolve roles: %v", ErrUnavailable, err)
	}

	var pair TokenPair
	err = s.store.WithinTx(ctx, func(tx Store) error {
		// Hold the user's row lock so a concurrent bulk revocation cannot
		// slip between the rotation and the insert of the successor.
		if err := tx.Users().Lock(ctx, record.UserID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return ErrInvalidToken
			}
			return fmt.Errorf("%w: lock user: %v", ErrUnavailable, err)
		}
		rotated, err := tx.RefreshTokens().Rotate(ctx, record.ID)
		if err != nil {
			return fmt.Errorf("%w: rotate refresh token: %v", ErrUnavailable, err)
		}
		if !rotated {
			// A concurrent refresh or revoke won the race.
			return ErrInvalidToken
		}
		now := s.now().UTC()
		access, accessExp, err := s.signAccessToken(user, roleNames(roles), now)
		if err != nil {
			return err
		}
		refresh, rec, err := s.newRefreshToken(user.ID, now)
		if err != nil {
			return err
		}
		if err := tx.RefreshTokens().Create(ctx, rec); err != nil {
			return fmt.Errorf("%w: persist refresh token: %v", ErrUnavailable, err)
		}
		pair = TokenPair{
			AccessToken:      access,
			RefreshToken:     refresh,
			AccessExpiresAt:  accessExp,
			RefreshExpiresAt: rec.ExpiresAt,
		}
		return nil
	})
	if err != nil {
		return TokenPair{}, err
	}
	return pair, nil
}

// RevokeAllRefreshTokens transitions every live token of the user to revoked.
// Used on logout and password change; always succeeds when none exist. The
// sweep runs under the user's row lock so it cannot interleave with a
// rotation in flight: a pair issued before the revoke commits is swept too.
func (s *TokenService) RevokeAllRefreshTokens(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ErrInvalidInput
	}
	err := s.store.WithinTx(ctx, func(tx Store) error {
		if err := tx.Users().Lock(ctx, userID); err != nil {
			return err
		}
		_, err := tx.RefreshTokens().RevokeAllForUser(ctx, userID)
		return err
	})
	if errors.Is(err, ErrNotFound) {
		// Unknown user holds no tokens.
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: revoke refresh tokens: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *TokenService) signAccessToken(user *User, roles []string, now time.Time) (string, time.Time, error) {
	exp := now.Add(s.accessTTL)
	claims := Claims{
		Username: user.Username,
		Roles:    dedupeRoles(roles),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

func (s *TokenService) parseAccessToken(token string, checkExpiry bool) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	keyfunc := func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}
	opts := []jwt.ParserOption{
		jwt.WithIssuer(s.issuer),
		jwt.WithTimeFunc(s.now),
	}
	if !checkExpiry {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, keyfunc, opts...)
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	if !checkExpiry && claims.Issuer != s.issuer {
		return nil, ErrInvalidToken
	}
	claims.Roles = dedupeRoles(claims.Roles)
	return claims, nil
}

func (s *TokenService) newRefreshToken(userID string, now time.Time) (string, *RefreshToken, error) {
	secretBytes := make([]byte, refreshSecretLen)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", nil, err
	}
	secret := base64.RawURLEncoding.EncodeToString(secretBytes)
	sum := sha256.Sum256([]byte(secret))
	rec := &RefreshToken{
		ID:        ids.New(),
		UserID:    userID,
		TokenHash: hex.EncodeToString(sum[:]),
		Status:    RefreshStatusActive,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.refreshTTL),
	}
	return rec.ID + "." + secret, rec, nil
}

func splitRefreshToken(raw string) (id, secret string, err error) {
	parts := strings.Split(strings.TrimSpace(raw), ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.New("invalid refresh token format")
	}
	return parts[0], parts[1], nil
}

func secureCompareHash(expectedHash, secret string) bool {
	sum := sha256.Sum256([]byte(secret))
	actual := hex.EncodeToString(sum[:])
	if len(expectedHash) != len(actual) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expectedHash), []byte(actual)) == 1
}

func roleNames(roles []Role) []string {
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, r.Name)
	}
	return names
}

func dedupeRoles(roles []string) []string {
	if len(roles) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(roles))
	var normalized []string
	for _, role := range roles {
		role = strings.TrimSpace(strings.ToLower(role))
		if role == "" {
			continue
		}
		if _, ok := seen[role]; ok {
			continue
		}
		seen[role] = struct{}{}
		normalized = append(normalized, role)
	}
	return normalized
}
