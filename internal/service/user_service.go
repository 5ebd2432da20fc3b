package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"logistics-auth/internal/event"
	"logistics-auth/internal/metrics"
	"logistics-auth/internal/model"
	"logistics-auth/pkg/apierror"
)

// UserService is the admin view over accounts.
type UserService struct {
	users  UserStore
	tokens TokenStore
	bus    event.Bus
	audit  Auditor
	now    func() time.Time
}

func NewUserService(users UserStore, tokens TokenStore, bus event.Bus, audit Auditor) *UserService {
	if audit == nil {
		audit = noopAuditor{}
	}
	return &UserService{
		users:  users,
		tokens: tokens,
		bus:    bus,
		audit:  audit,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *UserService) List(ctx context.Context, status string) ([]model.AuthUser, error) {
	filter := model.Status(strings.ToLower(strings.TrimSpace(status)))
	if filter != "" && !filter.Valid() {
		return nil, apierror.BadRequest("invalid status filter", status)
	}

	users, err := s.users.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// UpdateStatus moves an account to status. Leaving active revokes every
// refresh token the account holds.
func (s *UserService) UpdateStatus(ctx context.Context, userID string, status model.Status, actor model.AuditActor) (model.AuthUser, error) {
	if !status.Valid() {
		return model.AuthUser{}, apierror.BadRequest("invalid status", string(status))
	}
	if userID == actor.UserID {
		return model.AuthUser{}, apierror.BadRequest("cannot change your own status", "")
	}

	user, err := s.users.FindByID(ctx, userID)
	if errors.Is(err, model.ErrUserNotFound) {
		return model.AuthUser{}, apierror.NotFound("user not found", userID)
	}
	if err != nil {
		return model.AuthUser{}, fmt.Errorf("update status: %w", err)
	}

	previous := user.Status
	if previous == status {
		return user.Public(), nil
	}

	if err := s.users.UpdateStatus(ctx, userID, status, s.now()); err != nil {
		if errors.Is(err, model.ErrUserNotFound) {
			return model.AuthUser{}, apierror.NotFound("user not found", userID)
		}
		s.audit.Log(ctx, model.AuditActionStatusChange, actor, model.AuditStatusFailure, userID,
			map[string]any{"status": previous}, map[string]any{"status": status}, "storage failure")
		return model.AuthUser{}, fmt.Errorf("update status: %w", err)
	}
	user.Status = status

	if previous == model.StatusActive {
		revoked, err := s.tokens.RevokeAllForUser(ctx, userID)
		if err != nil {
			return model.AuthUser{}, fmt.Errorf("revoke sessions: %w", err)
		}
		metrics.TokensRevokedTotal.Add(float64(revoked))
		slog.Info("sessions revoked after status change", "user_id", userID, "status", status, "revoked", revoked)
	}

	s.audit.Log(ctx, model.AuditActionStatusChange, actor, model.AuditStatusSuccess, userID,
		map[string]any{"status": previous}, map[string]any{"status": status}, "")
	if s.bus != nil {
		s.bus.Publish(event.New(event.TypeUserStatusChanged, actor.UserID, event.StatusChangedPayload{
			UserID: userID,
			From:   string(previous),
			To:     string(status),
		}))
	}

	return user.Public(), nil
}
