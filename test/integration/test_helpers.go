//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"logistics-auth/internal/config"
	"logistics-auth/internal/database"
	"logistics-auth/internal/event"
	"logistics-auth/internal/handler"
	"logistics-auth/internal/middleware"
	"logistics-auth/internal/repository"
	"logistics-auth/internal/router"
	"logistics-auth/internal/security"
	"logistics-auth/internal/service"
)

const adminPassword = "admin-password-123"

type testServer struct {
	*httptest.Server
	adminEmail string
}

// newServer wires the full stack against TEST_DATABASE_URL.
func newServer(t *testing.T, authRPM int) *testServer {
	t.Helper()

	dsn := strings.TrimSpace(os.Getenv("TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := database.New(ctx, dsn, database.Options{MaxConns: 10, AcquireTimeout: 5 * time.Second})
	require.NoError(t, err)
	t.Cleanup(db.Close)
	require.NoError(t, db.EnsureSchema(ctx))

	cfg := &config.Config{
		Server:    config.ServerConfig{RequestTimeout: 10 * time.Second, CORSOrigins: []string{"*"}},
		RateLimit: config.RateLimitConfig{RPM: 0, AuthRPM: authRPM},
	}

	userRepo := repository.NewUserRepository(db)
	tokenRepo := repository.NewTokenRepository(db)
	auditService := service.NewAuditService(repository.NewAuditRepository(db))
	issuer, err := security.NewTokenIssuer(strings.Repeat("a", 32), strings.Repeat("r", 32), 15*time.Minute, 24*time.Hour)
	require.NoError(t, err)
	bus := event.NewBus()

	authService, err := service.NewAuthService(service.AuthDeps{
		Users:  userRepo,
		Tokens: tokenRepo,
		Hasher: security.NewPasswordHasher(bcrypt.MinCost),
		Issuer: issuer,
		Bus:    bus,
		Audit:  auditService,
	})
	require.NoError(t, err)

	adminEmail := uniqueEmail("admin")
	require.NoError(t, authService.EnsureAdmin(ctx, adminEmail, adminPassword))

	server := httptest.NewServer(router.New(cfg, middleware.NewAuthMiddleware(authService), router.Handlers{
		Auth:   handler.NewAuthHandler(authService),
		User:   handler.NewUserHandler(service.NewUserService(userRepo, tokenRepo, bus, auditService)),
		Audit:  handler.NewAuditHandler(auditService),
		Health: handler.NewHealthHandler(db),
	}, nil))
	t.Cleanup(server.Close)

	return &testServer{Server: server, adminEmail: adminEmail}
}

func uniqueEmail(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8] + "@example.com"
}

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type session struct {
	User struct {
		ID     string `json:"id"`
		Email  string `json:"email"`
		Role   string `json:"role"`
		Status string `json:"status"`
	} `json:"user"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

func (s *testServer) call(t *testing.T, method string, path string, token string, body any) (int, apiResponse) {
	t.Helper()

	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, s.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var parsed apiResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&parsed))
	return resp.StatusCode, parsed
}

func (s *testServer) login(t *testing.T, email string, password string) (int, session) {
	t.Helper()

	status, resp := s.call(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": email, "password": password})
	var sess session
	if status == http.StatusOK {
		require.NoError(t, json.Unmarshal(resp.Data, &sess))
	}
	return status, sess
}

func (s *testServer) register(t *testing.T, body map[string]string) (int, session) {
	t.Helper()

	status, resp := s.call(t, http.MethodPost, "/api/auth/signup", "", body)
	var sess session
	if status == http.StatusCreated {
		require.NoError(t, json.Unmarshal(resp.Data, &sess))
	}
	return status, sess
}
