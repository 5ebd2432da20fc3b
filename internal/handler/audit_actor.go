package handler

import (
	"net/http"

	"logistics-auth/internal/middleware"
	"logistics-auth/internal/model"
)

// actorFromRequest describes the caller for audit entries. Anonymous
// requests carry only the client address.
func actorFromRequest(r *http.Request) model.AuditActor {
	actor := model.AuditActor{IP: middleware.ClientIP(r)}

	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		return actor
	}

	actor.UserID = claims.UserID
	actor.Email = claims.Email
	actor.Role = string(claims.Role)

	return actor
}
