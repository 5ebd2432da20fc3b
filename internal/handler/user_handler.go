package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"logistics-auth/internal/model"
	"logistics-auth/pkg/apierror"
)

type userService interface {
	List(ctx context.Context, status string) ([]model.AuthUser, error)
	UpdateStatus(ctx context.Context, userID string, status model.Status, actor model.AuditActor) (model.AuthUser, error)
}

type UserHandler struct {
	service userService
}

func NewUserHandler(service userService) *UserHandler {
	return &UserHandler{service: service}
}

func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.List(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, model.AuthUserList{Users: users}, nil)
}

func (h *UserHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	if userID == "" {
		writeError(w, apierror.BadRequest("user id is required", "id"))
		return
	}

	var payload model.UpdateStatusRequest
	if err := decodeAndValidate(w, r, &payload); err != nil {
		writeError(w, err)
		return
	}

	user, err := h.service.UpdateStatus(r.Context(), userID, model.Status(payload.Status), actorFromRequest(r))
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, user, nil)
}
