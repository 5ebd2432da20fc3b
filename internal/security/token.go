package security

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"logistics-auth/internal/model"
)

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"

	issuer = "logistics-auth"
)

// Claims is the JWT payload shared by access and refresh tokens.
type Claims struct {
	Email string     `json:"email"`
	Role  model.Role `json:"role"`
	Type  string     `json:"typ"`
	jwt.RegisteredClaims
}

type IssuedToken struct {
	Value     string
	ExpiresAt time.Time
}

// Sign produces an HS256 token for claims valid for ttl from now. The jti is
// always fresh, so repeated calls never yield the same string.
func Sign(claims Claims, secret []byte, ttl time.Duration, now time.Time) (IssuedToken, error) {
	if len(secret) == 0 {
		return IssuedToken{}, errors.New("sign token: empty secret")
	}

	expiresAt := now.Add(ttl)
	claims.Issuer = issuer
	claims.ID = uuid.NewString()
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.NotBefore = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(expiresAt)

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return IssuedToken{}, fmt.Errorf("sign token: %w", err)
	}

	return IssuedToken{Value: signed, ExpiresAt: expiresAt}, nil
}

// Verify parses raw with secret. Every failure (malformed, wrong algorithm,
// bad signature, expired) is reported as model.ErrInvalidToken.
func Verify(raw string, secret []byte, now time.Time) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (any, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil || !parsed.Valid {
		slog.Debug("token rejected", "reason", verifyReason(err))
		return nil, model.ErrInvalidToken
	}

	if claims.Subject == "" {
		slog.Debug("token rejected", "reason", "missing subject")
		return nil, model.ErrInvalidToken
	}

	return claims, nil
}

func verifyReason(err error) string {
	switch {
	case err == nil:
		return "invalid"
	case errors.Is(err, jwt.ErrTokenExpired):
		return "expired"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "signature"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "malformed"
	default:
		return err.Error()
	}
}

// HashToken is the server-side fingerprint stored for a refresh token.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// TokenIssuer signs access and refresh tokens with independent secrets.
type TokenIssuer struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

func NewTokenIssuer(accessSecret string, refreshSecret string, accessTTL time.Duration, refreshTTL time.Duration) (*TokenIssuer, error) {
	if accessSecret == "" || refreshSecret == "" {
		return nil, errors.New("token secrets are required")
	}
	if accessSecret == refreshSecret {
		return nil, errors.New("access and refresh secrets must differ")
	}
	if accessTTL <= 0 || refreshTTL <= 0 {
		return nil, errors.New("token TTLs must be positive")
	}

	return &TokenIssuer{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		now:           func() time.Time { return time.Now().UTC() },
	}, nil
}

// WithClock replaces the issuer's time source.
func (i *TokenIssuer) WithClock(now func() time.Time) *TokenIssuer {
	i.now = now
	return i
}

func (i *TokenIssuer) AccessTTL() time.Duration {
	return i.accessTTL
}

func (i *TokenIssuer) IssueAccess(user model.AuthUser) (IssuedToken, error) {
	return Sign(claimsFor(user, TokenTypeAccess), i.accessSecret, i.accessTTL, i.now())
}

func (i *TokenIssuer) IssueRefresh(user model.AuthUser) (IssuedToken, error) {
	return Sign(claimsFor(user, TokenTypeRefresh), i.refreshSecret, i.refreshTTL, i.now())
}

func (i *TokenIssuer) VerifyAccess(raw string) (*model.AuthClaims, error) {
	return i.verify(raw, i.accessSecret, TokenTypeAccess)
}

func (i *TokenIssuer) VerifyRefresh(raw string) (*model.AuthClaims, error) {
	return i.verify(raw, i.refreshSecret, TokenTypeRefresh)
}

func (i *TokenIssuer) verify(raw string, secret []byte, expectedType string) (*model.AuthClaims, error) {
	claims, err := Verify(raw, secret, i.now())
	if err != nil {
		return nil, err
	}
	if claims.Type != expectedType {
		slog.Debug("token rejected", "reason", "type", "expected", expectedType, "got", claims.Type)
		return nil, model.ErrInvalidToken
	}

	return &model.AuthClaims{
		UserID:  claims.Subject,
		Email:   claims.Email,
		Role:    claims.Role,
		Type:    claims.Type,
		TokenID: claims.ID,
	}, nil
}

func claimsFor(user model.AuthUser, tokenType string) Claims {
	return Claims{
		Email: user.Email,
		Role:  user.Role,
		Type:  tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: user.ID,
		},
	}
}
