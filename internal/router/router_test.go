package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"logistics-auth/internal/config"
	"logistics-auth/internal/handler"
	"logistics-auth/internal/middleware"
	"logistics-auth/internal/model"
	"logistics-auth/pkg/apierror"
)

var accounts = map[string]model.AuthUser{
	"admin-token":    {ID: "admin-1", Email: "root@example.com", Role: model.RoleAdmin, Status: model.StatusActive},
	"customer-token": {ID: "cust-1", Email: "ana@example.com", Role: model.RoleCustomer, Status: model.StatusActive},
}

type stubAuth struct{}

func (stubAuth) Register(_ context.Context, in model.RegisterInput, _ model.AuditActor) (model.AuthResult, error) {
	return model.AuthResult{User: model.AuthUser{ID: "new", Email: in.Email, Role: model.RoleCustomer, Status: model.StatusActive}}, nil
}

func (stubAuth) Login(_ context.Context, email string, password string, _ model.AuditActor) (model.AuthResult, error) {
	if password != "correct-horse" {
		return model.AuthResult{}, apierror.Unauthorized("invalid email or password")
	}
	return model.AuthResult{User: model.AuthUser{Email: email}, AccessToken: "customer-token", TokenType: "Bearer"}, nil
}

func (stubAuth) Refresh(context.Context, string, model.AuditActor) (model.RefreshResult, error) {
	return model.RefreshResult{}, apierror.Unauthorized("invalid or expired refresh token")
}

func (stubAuth) Logout(context.Context, string, model.AuditActor) error { return nil }

func (stubAuth) Account(_ context.Context, userID string) (model.Account, error) {
	return model.Account{ID: userID}, nil
}

func (stubAuth) ValidateAccessToken(raw string) (*model.AuthClaims, error) {
	user, ok := accounts[raw]
	if !ok {
		return nil, apierror.Unauthorized("invalid or expired token")
	}
	return &model.AuthClaims{UserID: user.ID, Email: user.Email, Role: user.Role, Type: "access"}, nil
}

func (stubAuth) ValidateUser(_ context.Context, userID string) (*model.AuthUser, error) {
	for _, u := range accounts {
		if u.ID == userID {
			found := u
			return &found, nil
		}
	}
	return nil, nil
}

type stubUsers struct{}

func (stubUsers) List(context.Context, string) ([]model.AuthUser, error) {
	return []model.AuthUser{accounts["customer-token"]}, nil
}

func (stubUsers) UpdateStatus(_ context.Context, userID string, status model.Status, _ model.AuditActor) (model.AuthUser, error) {
	return model.AuthUser{ID: userID, Status: status}, nil
}

type stubAudit struct{}

func (stubAudit) Query(context.Context, model.AuditQuery) ([]model.AuditEntry, model.Meta, error) {
	return []model.AuditEntry{}, model.Meta{Page: 1, Limit: 50}, nil
}

type stubDB struct{}

func (stubDB) Health(context.Context) error { return nil }

func newTestRouter() http.Handler {
	cfg := &config.Config{
		Server:    config.ServerConfig{RequestTimeout: 5 * time.Second, CORSOrigins: []string{"*"}},
		RateLimit: config.RateLimitConfig{RPM: 0, AuthRPM: 1000},
	}

	return New(cfg, middleware.NewAuthMiddleware(stubAuth{}), Handlers{
		Auth:   handler.NewAuthHandler(stubAuth{}),
		User:   handler.NewUserHandler(stubUsers{}),
		Audit:  handler.NewAuditHandler(stubAudit{}),
		Health: handler.NewHealthHandler(stubDB{}),
	}, nil)
}

func do(h http.Handler, method string, path string, token string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouter_LoginAliases(t *testing.T) {
	h := newTestRouter()
	body := `{"email":"ana@example.com","password":"correct-horse"}`

	for _, path := range []string{"/auth/login", "/auth/signin", "/api/auth/login", "/api/auth/signin"} {
		rec := do(h, http.MethodPost, path, "", body)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	rec := do(h, http.MethodPost, "/auth/login", "", `{"email":"ana@example.com","password":"wrong"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouter_RegisterAliases(t *testing.T) {
	h := newTestRouter()
	body := `{"email":"new@example.com","password":"longenough"}`

	for _, path := range []string{"/auth/signup", "/auth/register", "/api/auth/signup", "/api/auth/register"} {
		rec := do(h, http.MethodPost, path, "", body)
		assert.Equal(t, http.StatusCreated, rec.Code, path)
	}
}

func TestRouter_LogoutAndRefresh(t *testing.T) {
	h := newTestRouter()

	assert.Equal(t, http.StatusOK, do(h, http.MethodPost, "/auth/signout", "", `{"refreshToken":"x"}`).Code)
	assert.Equal(t, http.StatusOK, do(h, http.MethodPost, "/api/auth/logout", "", `{"refreshToken":"x"}`).Code)
	assert.Equal(t, http.StatusUnauthorized, do(h, http.MethodPost, "/auth/refresh", "", `{"refreshToken":"x"}`).Code)
}

func TestRouter_ProfileRequiresToken(t *testing.T) {
	h := newTestRouter()

	for _, path := range []string{"/auth/me", "/api/auth/me", "/customer/profile", "/api/customer/profile"} {
		assert.Equal(t, http.StatusUnauthorized, do(h, http.MethodGet, path, "", "").Code, path)
		assert.Equal(t, http.StatusOK, do(h, http.MethodGet, path, "customer-token", "").Code, path)
	}
}

func TestRouter_AdminGuard(t *testing.T) {
	h := newTestRouter()

	assert.Equal(t, http.StatusUnauthorized, do(h, http.MethodGet, "/admin/users", "", "").Code)
	assert.Equal(t, http.StatusForbidden, do(h, http.MethodGet, "/admin/users", "customer-token", "").Code)
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/admin/users?status=active", "admin-token", "").Code)
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/admin/audit", "admin-token", "").Code)

	rec := do(h, http.MethodPatch, "/admin/users/cust-1/status", "admin-token", `{"status":"suspended"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"suspended"`)
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	h := newTestRouter()

	for _, path := range []string{"/health", "/api/health"} {
		rec := do(h, http.MethodGet, path, "", "")
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"), path)
	}

	rec := do(h, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "auth_http_requests_total")
}

func TestRouter_UnknownRoute(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, do(newTestRouter(), http.MethodGet, "/nope", "", "").Code)
}
