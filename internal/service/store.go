package service

import (
	"context"
	"time"

	"logistics-auth/internal/model"
	"logistics-auth/internal/security"
)

// UserStore is the user half of the credential store.
type UserStore interface {
	FindByEmail(ctx context.Context, email string) (model.User, error)
	FindByID(ctx context.Context, id string) (model.User, error)
	CreateRegistration(ctx context.Context, reg model.Registration) error
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
	UpdateStatus(ctx context.Context, id string, status model.Status, at time.Time) error
	List(ctx context.Context, status model.Status) ([]model.AuthUser, error)
	Account(ctx context.Context, id string) (model.Account, error)
}

// TokenStore keeps refresh-token fingerprints.
type TokenStore interface {
	Store(ctx context.Context, token model.RefreshToken) error
	FindByHash(ctx context.Context, hash string) (model.RefreshToken, error)
	Revoke(ctx context.Context, hash string) error
	Rotate(ctx context.Context, oldHash string, next model.RefreshToken) error
	RevokeAllForUser(ctx context.Context, userID string) (int64, error)
}

type PasswordHasher interface {
	Hash(plain string) (string, error)
	Verify(plain string, digest string) bool
	VerifyDummy(plain string)
}

type TokenIssuer interface {
	AccessTTL() time.Duration
	IssueAccess(user model.AuthUser) (security.IssuedToken, error)
	IssueRefresh(user model.AuthUser) (security.IssuedToken, error)
	VerifyAccess(raw string) (*model.AuthClaims, error)
	VerifyRefresh(raw string) (*model.AuthClaims, error)
}

// Auditor records security-relevant actions. Implementations must not fail
// the caller.
type Auditor interface {
	Log(ctx context.Context, action string, actor model.AuditActor, status string, resource string, before any, after any, errText string)
}

type noopAuditor struct{}

func (noopAuditor) Log(context.Context, string, model.AuditActor, string, string, any, any, string) {}
