package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"logistics-auth/internal/model"
	"logistics-auth/pkg/apierror"
)

const auditWriteTimeout = 3 * time.Second

type AuditRepository interface {
	Log(ctx context.Context, entry model.AuditEntry) error
	Query(ctx context.Context, query model.AuditQuery) ([]model.AuditEntry, model.Meta, error)
}

type AuditService struct {
	repo AuditRepository
	now  func() time.Time
}

func NewAuditService(repo AuditRepository) *AuditService {
	return &AuditService{repo: repo, now: func() time.Time { return time.Now().UTC() }}
}

// Log writes one entry. Failures are logged and swallowed, and the write
// outlives a cancelled request.
func (s *AuditService) Log(ctx context.Context, action string, actor model.AuditActor, status string, resource string, before any, after any, errText string) {
	if s == nil || s.repo == nil {
		return
	}

	entry := model.AuditEntry{
		Action:     action,
		OccurredAt: s.now(),
		Actor:      actor,
		Status:     status,
		Resource:   resource,
		Before:     before,
		After:      after,
		Error:      errText,
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditWriteTimeout)
	defer cancel()

	if err := s.repo.Log(writeCtx, entry); err != nil {
		slog.Warn("audit write failed", "action", action, "status", status, "error", err)
	}
}

func (s *AuditService) Query(ctx context.Context, query model.AuditQuery) ([]model.AuditEntry, model.Meta, error) {
	if err := validateAuditTime(query.From); err != nil {
		return nil, model.Meta{}, apierror.BadRequest("invalid 'from' datetime format", query.From)
	}
	if err := validateAuditTime(query.To); err != nil {
		return nil, model.Meta{}, apierror.BadRequest("invalid 'to' datetime format", query.To)
	}

	return s.repo.Query(ctx, query)
}

func validateAuditTime(raw string) error {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}

	_, err := time.Parse(time.RFC3339Nano, trimmed)
	return err
}
