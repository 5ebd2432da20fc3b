package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"logistics-auth/internal/event"
	"logistics-auth/internal/metrics"
	"logistics-auth/internal/model"
	"logistics-auth/internal/security"
	"logistics-auth/pkg/apierror"
)

const (
	tokenTypeBearer = "Bearer"

	msgInvalidCredentials = "invalid email or password"
	msgInvalidRefresh     = "invalid or expired refresh token"
	msgInvalidAccess      = "invalid or expired token"
)

type AuthDeps struct {
	Users  UserStore
	Tokens TokenStore
	Hasher PasswordHasher
	Issuer TokenIssuer
	Bus    event.Bus
	Audit  Auditor
	// RotateRefreshTokens makes Refresh revoke the presented token and hand
	// out a new one.
	RotateRefreshTokens bool
	Now                 func() time.Time
}

// AuthService turns credentials and tokens into verified identities and
// sessions.
type AuthService struct {
	users  UserStore
	tokens TokenStore
	hasher PasswordHasher
	issuer TokenIssuer
	bus    event.Bus
	audit  Auditor
	rotate bool
	now    func() time.Time
}

func NewAuthService(deps AuthDeps) (*AuthService, error) {
	if deps.Users == nil || deps.Tokens == nil || deps.Hasher == nil || deps.Issuer == nil {
		return nil, errors.New("auth service: users, tokens, hasher and issuer are required")
	}
	if deps.Audit == nil {
		deps.Audit = noopAuditor{}
	}
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}

	return &AuthService{
		users:  deps.Users,
		tokens: deps.Tokens,
		hasher: deps.Hasher,
		issuer: deps.Issuer,
		bus:    deps.Bus,
		audit:  deps.Audit,
		rotate: deps.RotateRefreshTokens,
		now:    deps.Now,
	}, nil
}

// Register creates a customer or carrier account and opens its first
// session. Carriers start pending until an admin approves them.
func (s *AuthService) Register(ctx context.Context, in model.RegisterInput, actor model.AuditActor) (model.AuthResult, error) {
	email := strings.TrimSpace(in.Email)
	actor.Email = email

	if email == "" || in.Password == "" {
		return model.AuthResult{}, apierror.BadRequest("email and password are required", "")
	}

	role := in.Role
	if role == "" {
		role = model.RoleCustomer
	}
	if role != model.RoleCustomer && role != model.RoleCarrier {
		s.audit.Log(ctx, model.AuditActionRegister, actor, model.AuditStatusFailure, email, nil, nil, "role not allowed")
		return model.AuthResult{}, apierror.BadRequest("invalid role", string(role))
	}

	status := model.StatusActive
	if role == model.RoleCarrier {
		status = model.StatusPending
	}

	digest, err := s.hasher.Hash(in.Password)
	if errors.Is(err, security.ErrPasswordTooLong) {
		return model.AuthResult{}, apierror.BadRequest("password is too long", "maximum is 72 bytes")
	}
	if err != nil {
		return model.AuthResult{}, fmt.Errorf("register: %w", err)
	}

	now := s.now()
	user := model.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: digest,
		Role:         role,
		Status:       status,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	public := user.Public()

	result, refresh, err := s.issueSession(public, now)
	if err != nil {
		return model.AuthResult{}, err
	}

	reg := model.Registration{
		User: user,
		Profile: model.UserProfile{
			UserID:      user.ID,
			FirstName:   strings.TrimSpace(in.FirstName),
			LastName:    strings.TrimSpace(in.LastName),
			Phone:       strings.TrimSpace(in.Phone),
			CompanyName: strings.TrimSpace(in.CompanyName),
			Address:     strings.TrimSpace(in.Address),
			City:        strings.TrimSpace(in.City),
			Province:    strings.TrimSpace(in.Province),
		},
		RefreshToken: refresh,
	}
	if role == model.RoleCarrier {
		reg.Carrier = &model.CarrierProfile{
			UserID:          user.ID,
			CompanyName:     strings.TrimSpace(in.CompanyName),
			BusinessLicense: strings.TrimSpace(in.BusinessLicense),
			CreatedAt:       now,
		}
	}

	if err := s.users.CreateRegistration(ctx, reg); err != nil {
		if errors.Is(err, model.ErrEmailTaken) {
			s.audit.Log(ctx, model.AuditActionRegister, actor, model.AuditStatusFailure, email, nil, nil, "email already registered")
			return model.AuthResult{}, apierror.Conflict("email already registered", "")
		}
		s.audit.Log(ctx, model.AuditActionRegister, actor, model.AuditStatusFailure, email, nil, nil, "storage failure")
		return model.AuthResult{}, fmt.Errorf("register: %w", err)
	}

	actor.UserID = user.ID
	actor.Role = string(role)
	s.audit.Log(ctx, model.AuditActionRegister, actor, model.AuditStatusSuccess, user.ID, nil, public, "")
	metrics.RegistrationsTotal.WithLabelValues(string(role)).Inc()

	payload := userPayload(public)
	s.publish(event.New(event.TypeUserRegistered, user.ID, payload))
	if status == model.StatusPending {
		s.publish(event.New(event.TypeCarrierPendingApproval, user.ID, payload))
	}

	slog.Info("user registered", "user_id", user.ID, "role", role, "status", status)
	return result, nil
}

// Login verifies credentials for any role and opens a new session. Every
// rejection carries the same message.
func (s *AuthService) Login(ctx context.Context, email string, password string, actor model.AuditActor) (model.AuthResult, error) {
	email = strings.TrimSpace(email)
	actor.Email = email

	if email == "" || password == "" {
		return model.AuthResult{}, apierror.BadRequest("email and password are required", "")
	}

	user, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, model.ErrUserNotFound) {
		s.hasher.VerifyDummy(password)
		return model.AuthResult{}, s.rejectLogin(ctx, actor, "unknown email")
	}
	if err != nil {
		metrics.LoginsTotal.WithLabelValues(metrics.ResultError).Inc()
		return model.AuthResult{}, fmt.Errorf("login: %w", err)
	}

	actor.UserID = user.ID
	actor.Role = string(user.Role)

	if !s.hasher.Verify(password, user.PasswordHash) {
		return model.AuthResult{}, s.rejectLogin(ctx, actor, "wrong password")
	}
	if user.Status != model.StatusActive {
		return model.AuthResult{}, s.rejectLogin(ctx, actor, "status "+string(user.Status))
	}

	now := s.now()
	public := user.Public()
	result, refresh, err := s.issueSession(public, now)
	if err != nil {
		metrics.LoginsTotal.WithLabelValues(metrics.ResultError).Inc()
		return model.AuthResult{}, err
	}
	if err := s.tokens.Store(ctx, refresh); err != nil {
		metrics.LoginsTotal.WithLabelValues(metrics.ResultError).Inc()
		return model.AuthResult{}, fmt.Errorf("login: %w", err)
	}

	if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		slog.Warn("failed to update last login", "user_id", user.ID, "error", err)
	}

	metrics.LoginsTotal.WithLabelValues(metrics.ResultSuccess).Inc()
	s.audit.Log(ctx, model.AuditActionLogin, actor, model.AuditStatusSuccess, user.ID, nil, nil, "")
	s.publish(event.New(event.TypeUserLoggedIn, user.ID, userPayload(public)))

	return result, nil
}

func (s *AuthService) rejectLogin(ctx context.Context, actor model.AuditActor, reason string) error {
	metrics.LoginsTotal.WithLabelValues(metrics.ResultFailure).Inc()
	s.audit.Log(ctx, model.AuditActionLogin, actor, model.AuditStatusFailure, actor.UserID, nil, nil, reason)
	slog.Debug("login rejected", "reason", reason)
	return apierror.Unauthorized(msgInvalidCredentials)
}

// Refresh exchanges a refresh token for a new access token. The stored
// record, not the signed claim, decides whether the token is still usable.
func (s *AuthService) Refresh(ctx context.Context, raw string, actor model.AuditActor) (model.RefreshResult, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return model.RefreshResult{}, s.rejectRefresh(ctx, actor, "empty token")
	}

	claims, err := s.issuer.VerifyRefresh(raw)
	if err != nil {
		return model.RefreshResult{}, s.rejectRefresh(ctx, actor, "verification failed")
	}
	actor.UserID = claims.UserID
	actor.Email = claims.Email

	hash := security.HashToken(raw)
	record, err := s.tokens.FindByHash(ctx, hash)
	if errors.Is(err, model.ErrTokenNotFound) {
		return model.RefreshResult{}, s.rejectRefresh(ctx, actor, "unknown token")
	}
	if err != nil {
		metrics.RefreshesTotal.WithLabelValues(metrics.ResultError).Inc()
		return model.RefreshResult{}, fmt.Errorf("refresh: %w", err)
	}

	now := s.now()
	if record.UserID != claims.UserID || !record.Usable(now) {
		return model.RefreshResult{}, s.rejectRefresh(ctx, actor, "token revoked or expired")
	}

	user, err := s.users.FindByID(ctx, claims.UserID)
	if errors.Is(err, model.ErrUserNotFound) {
		return model.RefreshResult{}, s.rejectRefresh(ctx, actor, "user missing")
	}
	if err != nil {
		metrics.RefreshesTotal.WithLabelValues(metrics.ResultError).Inc()
		return model.RefreshResult{}, fmt.Errorf("refresh: %w", err)
	}
	if user.Status != model.StatusActive {
		return model.RefreshResult{}, s.rejectRefresh(ctx, actor, "status "+string(user.Status))
	}
	actor.Role = string(user.Role)

	public := user.Public()
	access, err := s.issuer.IssueAccess(public)
	if err != nil {
		return model.RefreshResult{}, fmt.Errorf("refresh: %w", err)
	}

	result := model.RefreshResult{
		AccessToken: access.Value,
		TokenType:   tokenTypeBearer,
		ExpiresIn:   int64(s.issuer.AccessTTL().Seconds()),
	}

	if s.rotate {
		next, err := s.issuer.IssueRefresh(public)
		if err != nil {
			return model.RefreshResult{}, fmt.Errorf("refresh: %w", err)
		}
		if err := s.tokens.Rotate(ctx, hash, newRefreshRecord(user.ID, next, now)); err != nil {
			if errors.Is(err, model.ErrTokenNotFound) {
				return model.RefreshResult{}, s.rejectRefresh(ctx, actor, "token already rotated")
			}
			metrics.RefreshesTotal.WithLabelValues(metrics.ResultError).Inc()
			return model.RefreshResult{}, fmt.Errorf("refresh: %w", err)
		}
		result.RefreshToken = next.Value
	}

	metrics.RefreshesTotal.WithLabelValues(metrics.ResultSuccess).Inc()
	s.audit.Log(ctx, model.AuditActionRefresh, actor, model.AuditStatusSuccess, user.ID, nil, nil, "")
	return result, nil
}

func (s *AuthService) rejectRefresh(ctx context.Context, actor model.AuditActor, reason string) error {
	metrics.RefreshesTotal.WithLabelValues(metrics.ResultFailure).Inc()
	s.audit.Log(ctx, model.AuditActionRefresh, actor, model.AuditStatusFailure, actor.UserID, nil, nil, reason)
	slog.Debug("refresh rejected", "reason", reason)
	return apierror.Unauthorized(msgInvalidRefresh)
}

// Logout revokes the presented refresh token. Unknown and already revoked
// tokens succeed.
func (s *AuthService) Logout(ctx context.Context, raw string, actor model.AuditActor) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return apierror.BadRequest("refresh token is required", "")
	}

	if claims, err := s.issuer.VerifyRefresh(raw); err == nil {
		actor.UserID = claims.UserID
		actor.Email = claims.Email
		actor.Role = string(claims.Role)
	}

	if err := s.tokens.Revoke(ctx, security.HashToken(raw)); err != nil {
		s.audit.Log(ctx, model.AuditActionLogout, actor, model.AuditStatusFailure, actor.UserID, nil, nil, "storage failure")
		return fmt.Errorf("logout: %w", err)
	}

	metrics.LogoutsTotal.Inc()
	s.audit.Log(ctx, model.AuditActionLogout, actor, model.AuditStatusSuccess, actor.UserID, nil, nil, "")
	return nil
}

// ValidateUser re-reads the user behind an access token. A nil user means
// the account no longer exists and callers must deny.
func (s *AuthService) ValidateUser(ctx context.Context, userID string) (*model.AuthUser, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, nil
	}

	user, err := s.users.FindByID(ctx, userID)
	if errors.Is(err, model.ErrUserNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("validate user: %w", err)
	}

	public := user.Public()
	return &public, nil
}

func (s *AuthService) ValidateAccessToken(raw string) (*model.AuthClaims, error) {
	claims, err := s.issuer.VerifyAccess(strings.TrimSpace(raw))
	if err != nil {
		return nil, apierror.Unauthorized(msgInvalidAccess)
	}
	return claims, nil
}

// Account returns the profile view of the authenticated user.
func (s *AuthService) Account(ctx context.Context, userID string) (model.Account, error) {
	account, err := s.users.Account(ctx, userID)
	if errors.Is(err, model.ErrUserNotFound) {
		return model.Account{}, apierror.NotFound("user not found", "")
	}
	if err != nil {
		return model.Account{}, fmt.Errorf("account: %w", err)
	}
	return account, nil
}

// EnsureAdmin creates an active admin with the given credentials unless an
// account with that email already exists. Empty credentials disable it.
func (s *AuthService) EnsureAdmin(ctx context.Context, email string, password string) error {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil
	}

	existing, err := s.users.FindByEmail(ctx, email)
	if err == nil {
		if existing.Role != model.RoleAdmin {
			slog.Warn("bootstrap admin email belongs to a non-admin account", "user_id", existing.ID, "role", existing.Role)
		}
		return nil
	}
	if !errors.Is(err, model.ErrUserNotFound) {
		return fmt.Errorf("ensure admin: %w", err)
	}

	digest, err := s.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("ensure admin: %w", err)
	}

	now := s.now()
	user := model.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: digest,
		Role:         model.RoleAdmin,
		Status:       model.StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err = s.users.CreateRegistration(ctx, model.Registration{
		User:    user,
		Profile: model.UserProfile{UserID: user.ID, FirstName: "Admin"},
	})
	if errors.Is(err, model.ErrEmailTaken) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("ensure admin: %w", err)
	}

	metrics.RegistrationsTotal.WithLabelValues(string(model.RoleAdmin)).Inc()
	slog.Info("bootstrap admin created", "user_id", user.ID, "email", email)
	return nil
}

// issueSession signs an access and refresh pair and returns the refresh
// record to persist.
func (s *AuthService) issueSession(user model.AuthUser, now time.Time) (model.AuthResult, model.RefreshToken, error) {
	access, err := s.issuer.IssueAccess(user)
	if err != nil {
		return model.AuthResult{}, model.RefreshToken{}, fmt.Errorf("issue access token: %w", err)
	}
	refresh, err := s.issuer.IssueRefresh(user)
	if err != nil {
		return model.AuthResult{}, model.RefreshToken{}, fmt.Errorf("issue refresh token: %w", err)
	}

	result := model.AuthResult{
		User:         user,
		AccessToken:  access.Value,
		RefreshToken: refresh.Value,
		TokenType:    tokenTypeBearer,
		ExpiresIn:    int64(s.issuer.AccessTTL().Seconds()),
	}
	return result, newRefreshRecord(user.ID, refresh, now), nil
}

func newRefreshRecord(userID string, token security.IssuedToken, now time.Time) model.RefreshToken {
	return model.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		TokenHash: security.HashToken(token.Value),
		ExpiresAt: token.ExpiresAt,
		CreatedAt: now,
	}
}

func (s *AuthService) publish(e event.Event) {
	if s.bus != nil {
		s.bus.Publish(e)
	}
}

func userPayload(u model.AuthUser) event.UserPayload {
	return event.UserPayload{UserID: u.ID, Email: u.Email, Role: string(u.Role), Status: string(u.Status)}
}
