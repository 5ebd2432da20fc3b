package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"logistics-auth/internal/database"
	"logistics-auth/internal/middleware"
	"logistics-auth/internal/model"
	"logistics-auth/pkg/apierror"
)

type mockAuthService struct {
	mock.Mock
}

func (m *mockAuthService) Register(ctx context.Context, in model.RegisterInput, actor model.AuditActor) (model.AuthResult, error) {
	args := m.Called(ctx, in, actor)
	return args.Get(0).(model.AuthResult), args.Error(1)
}

func (m *mockAuthService) Login(ctx context.Context, email string, password string, actor model.AuditActor) (model.AuthResult, error) {
	args := m.Called(ctx, email, password, actor)
	return args.Get(0).(model.AuthResult), args.Error(1)
}

func (m *mockAuthService) Refresh(ctx context.Context, raw string, actor model.AuditActor) (model.RefreshResult, error) {
	args := m.Called(ctx, raw, actor)
	return args.Get(0).(model.RefreshResult), args.Error(1)
}

func (m *mockAuthService) Logout(ctx context.Context, raw string, actor model.AuditActor) error {
	return m.Called(ctx, raw, actor).Error(0)
}

func (m *mockAuthService) Account(ctx context.Context, userID string) (model.Account, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(model.Account), args.Error(1)
}

type mockUserService struct {
	mock.Mock
}

func (m *mockUserService) List(ctx context.Context, status string) ([]model.AuthUser, error) {
	args := m.Called(ctx, status)
	users, _ := args.Get(0).([]model.AuthUser)
	return users, args.Error(1)
}

func (m *mockUserService) UpdateStatus(ctx context.Context, userID string, status model.Status, actor model.AuditActor) (model.AuthUser, error) {
	args := m.Called(ctx, userID, status, actor)
	return args.Get(0).(model.AuthUser), args.Error(1)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *model.APIError `json:"error"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func jsonRequest(method string, target string, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "10.0.0.7:5123"
	return req
}

func sampleResult() model.AuthResult {
	return model.AuthResult{
		User:         model.AuthUser{ID: "u-1", Email: "ana@example.com", Role: model.RoleCustomer, Status: model.StatusActive},
		AccessToken:  "access",
		RefreshToken: "refresh",
		TokenType:    "Bearer",
		ExpiresIn:    900,
	}
}

func TestLogin_Success(t *testing.T) {
	svc := new(mockAuthService)
	svc.On("Login", mock.Anything, "ana@example.com", "s3cret-pass", model.AuditActor{IP: "10.0.0.7"}).
		Return(sampleResult(), nil)

	rec := httptest.NewRecorder()
	NewAuthHandler(svc).Login(rec, jsonRequest(http.MethodPost, "/auth/login", `{"email":"ana@example.com","password":"s3cret-pass"}`))

	assert.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.True(t, env.Success)

	var result model.AuthResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Equal(t, "access", result.AccessToken)
	assert.Equal(t, "refresh", result.RefreshToken)
	assert.Equal(t, model.RoleCustomer, result.User.Role)
	svc.AssertExpectations(t)
}

func TestLogin_BadBodies(t *testing.T) {
	cases := map[string]string{
		"malformed json":   `{"email":`,
		"empty body":       ``,
		"missing password": `{"email":"ana@example.com"}`,
		"bad email":        `{"email":"not-an-email","password":"x"}`,
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			svc := new(mockAuthService)
			rec := httptest.NewRecorder()
			NewAuthHandler(svc).Login(rec, jsonRequest(http.MethodPost, "/auth/login", body))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.False(t, decodeEnvelope(t, rec).Success)
			svc.AssertNotCalled(t, "Login", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestLogin_RejectedIsGeneric(t *testing.T) {
	svc := new(mockAuthService)
	svc.On("Login", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(model.AuthResult{}, apierror.Unauthorized("invalid email or password"))

	rec := httptest.NewRecorder()
	NewAuthHandler(svc).Login(rec, jsonRequest(http.MethodPost, "/auth/login", `{"email":"ana@example.com","password":"wrong"}`))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	env := decodeEnvelope(t, rec)
	require.NotNil(t, env.Error)
	assert.Equal(t, apierror.CodeUnauthorized, env.Error.Code)
	assert.Equal(t, "invalid email or password", env.Error.Message)
}

func TestRegister_Created(t *testing.T) {
	svc := new(mockAuthService)
	svc.On("Register", mock.Anything, mock.MatchedBy(func(in model.RegisterInput) bool {
		return in.Email == "ana@example.com" && in.Role == model.RoleCarrier && in.CompanyName == "Ana Freight"
	}), mock.Anything).Return(sampleResult(), nil)

	rec := httptest.NewRecorder()
	body := `{"email":"ana@example.com","password":"longenough","role":"carrier","companyName":"Ana Freight"}`
	NewAuthHandler(svc).Register(rec, jsonRequest(http.MethodPost, "/auth/signup", body))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, decodeEnvelope(t, rec).Success)
	svc.AssertExpectations(t)
}

func TestRegister_ValidationDetails(t *testing.T) {
	svc := new(mockAuthService)
	rec := httptest.NewRecorder()
	body := `{"email":"ana@example.com","password":"short","role":"carrier"}`
	NewAuthHandler(svc).Register(rec, jsonRequest(http.MethodPost, "/auth/signup", body))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	env := decodeEnvelope(t, rec)
	require.NotNil(t, env.Error)
	assert.Equal(t, apierror.CodeValidationFailed, env.Error.Code)
	assert.Contains(t, env.Error.Details, "password must be at least 8 characters")
	assert.Contains(t, env.Error.Details, "companyName is required")
}

func TestRegister_PasswordLimitCountsBytes(t *testing.T) {
	svc := new(mockAuthService)
	rec := httptest.NewRecorder()
	body := fmt.Sprintf(`{"email":"ana@example.com","password":%q}`, strings.Repeat("é", 40))
	NewAuthHandler(svc).Register(rec, jsonRequest(http.MethodPost, "/auth/signup", body))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	env := decodeEnvelope(t, rec)
	require.NotNil(t, env.Error)
	assert.Equal(t, apierror.CodeValidationFailed, env.Error.Code)
	assert.Contains(t, env.Error.Details, "password must be at most 72 bytes")
	svc.AssertNotCalled(t, "Register", mock.Anything, mock.Anything, mock.Anything)

	svc.On("Register", mock.Anything, mock.Anything, mock.Anything).Return(model.AuthResult{}, nil)
	rec = httptest.NewRecorder()
	body = fmt.Sprintf(`{"email":"ana@example.com","password":%q}`, strings.Repeat("é", 36))
	NewAuthHandler(svc).Register(rec, jsonRequest(http.MethodPost, "/auth/signup", body))
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestRegister_AdminRoleRejectedByValidation(t *testing.T) {
	svc := new(mockAuthService)
	rec := httptest.NewRecorder()
	body := `{"email":"ana@example.com","password":"longenough","role":"admin"}`
	NewAuthHandler(svc).Register(rec, jsonRequest(http.MethodPost, "/auth/signup", body))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	svc.AssertNotCalled(t, "Register", mock.Anything, mock.Anything, mock.Anything)
}

func TestRegister_DuplicateEmailConflict(t *testing.T) {
	svc := new(mockAuthService)
	svc.On("Register", mock.Anything, mock.Anything, mock.Anything).
		Return(model.AuthResult{}, fmt.Errorf("register: %w", model.ErrEmailTaken))

	rec := httptest.NewRecorder()
	NewAuthHandler(svc).Register(rec, jsonRequest(http.MethodPost, "/auth/signup", `{"email":"ana@example.com","password":"longenough"}`))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, apierror.CodeConflict, decodeEnvelope(t, rec).Error.Code)
}

func TestRefresh_EmptyTokenReachesService(t *testing.T) {
	svc := new(mockAuthService)
	svc.On("Refresh", mock.Anything, "", mock.Anything).
		Return(model.RefreshResult{}, apierror.Unauthorized("invalid or expired refresh token"))

	rec := httptest.NewRecorder()
	NewAuthHandler(svc).Refresh(rec, jsonRequest(http.MethodPost, "/auth/refresh", `{}`))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	svc.AssertExpectations(t)
}

func TestRefresh_Success(t *testing.T) {
	svc := new(mockAuthService)
	svc.On("Refresh", mock.Anything, "tok", mock.Anything).
		Return(model.RefreshResult{AccessToken: "new-access", TokenType: "Bearer", ExpiresIn: 900}, nil)

	rec := httptest.NewRecorder()
	NewAuthHandler(svc).Refresh(rec, jsonRequest(http.MethodPost, "/auth/refresh", `{"refreshToken":"tok"}`))

	assert.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)
	var result map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Equal(t, "new-access", result["accessToken"])
	assert.NotContains(t, result, "refreshToken")
}

func TestLogout(t *testing.T) {
	svc := new(mockAuthService)
	svc.On("Logout", mock.Anything, "tok", mock.Anything).Return(nil)

	rec := httptest.NewRecorder()
	NewAuthHandler(svc).Logout(rec, jsonRequest(http.MethodPost, "/auth/logout", `{"refreshToken":"tok"}`))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeEnvelope(t, rec).Success)

	rec = httptest.NewRecorder()
	NewAuthHandler(svc).Logout(rec, jsonRequest(http.MethodPost, "/auth/logout", `not json`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMe(t *testing.T) {
	svc := new(mockAuthService)
	svc.On("Account", mock.Anything, "u-1").Return(model.Account{ID: "u-1", Email: "ana@example.com"}, nil)
	h := NewAuthHandler(svc)

	rec := httptest.NewRecorder()
	h.Me(rec, httptest.NewRequest(http.MethodGet, "/auth/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req = req.WithContext(middleware.WithClaims(req.Context(), &model.AuthClaims{UserID: "u-1", Role: model.RoleCustomer}))
	rec = httptest.NewRecorder()
	h.Me(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var account model.Account
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &account))
	assert.Equal(t, "ana@example.com", account.Email)
}

func TestWriteError_Mapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{apierror.NotFound("user not found", ""), http.StatusNotFound, apierror.CodeNotFound},
		{fmt.Errorf("wrap: %w", model.ErrUserNotFound), http.StatusNotFound, apierror.CodeNotFound},
		{model.ErrForbidden, http.StatusForbidden, apierror.CodeForbidden},
		{model.ErrInvalidToken, http.StatusUnauthorized, apierror.CodeUnauthorized},
		{fmt.Errorf("login: %w", database.ErrAcquireTimeout), http.StatusInternalServerError, apierror.CodeInternal},
		{errors.New("boom"), http.StatusInternalServerError, apierror.CodeInternal},
	}

	for _, tc := range cases {
		rec := httptest.NewRecorder()
		writeError(rec, tc.err)
		assert.Equal(t, tc.status, rec.Code, tc.err.Error())
		env := decodeEnvelope(t, rec)
		assert.Equal(t, tc.code, env.Error.Code, tc.err.Error())
	}
}

func TestWriteError_InternalHidesDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, errors.New("pq: relation users does not exist"))

	assert.NotContains(t, rec.Body.String(), "relation users")
	assert.Equal(t, "Unexpected server error", decodeEnvelope(t, rec).Error.Message)
}

func withURLParam(req *http.Request, key string, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestUserHandler_UpdateStatus(t *testing.T) {
	svc := new(mockUserService)
	svc.On("UpdateStatus", mock.Anything, "u-2", model.StatusActive, mock.MatchedBy(func(a model.AuditActor) bool {
		return a.UserID == "admin-1" && a.Role == "admin"
	})).Return(model.AuthUser{ID: "u-2", Status: model.StatusActive}, nil)

	req := jsonRequest(http.MethodPatch, "/admin/users/u-2/status", `{"status":"active"}`)
	req = req.WithContext(middleware.WithClaims(req.Context(), &model.AuthClaims{UserID: "admin-1", Role: model.RoleAdmin}))
	req = withURLParam(req, "id", "u-2")

	rec := httptest.NewRecorder()
	NewUserHandler(svc).UpdateStatus(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	svc.AssertExpectations(t)
}

func TestUserHandler_UpdateStatusInvalid(t *testing.T) {
	svc := new(mockUserService)
	req := withURLParam(jsonRequest(http.MethodPatch, "/admin/users/u-2/status", `{"status":"deleted"}`), "id", "u-2")

	rec := httptest.NewRecorder()
	NewUserHandler(svc).UpdateStatus(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeEnvelope(t, rec).Error.Details, "status must be one of")
}

func TestUserHandler_List(t *testing.T) {
	svc := new(mockUserService)
	svc.On("List", mock.Anything, "pending").Return([]model.AuthUser{{ID: "c-1", Role: model.RoleCarrier, Status: model.StatusPending}}, nil)

	rec := httptest.NewRecorder()
	NewUserHandler(svc).List(rec, httptest.NewRequest(http.MethodGet, "/admin/users?status=pending", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var list model.AuthUserList
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &list))
	require.Len(t, list.Users, 1)
	assert.Equal(t, "c-1", list.Users[0].ID)
}

type fakePinger struct{ err error }

func (f fakePinger) Health(context.Context) error { return f.err }

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHealthHandler(fakePinger{}).Check(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	NewHealthHandler(fakePinger{err: errors.New("down")}).Check(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.False(t, decodeEnvelope(t, rec).Success)
}

func TestActorFromRequest_IgnoresForwardingHeadersWithoutProxy(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:4000"
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	req.Header.Set("X-Real-IP", "203.0.113.10")

	assert.Equal(t, "192.0.2.1", actorFromRequest(req).IP)
}
