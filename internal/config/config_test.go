package config

import (
	"context"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadMap(t *testing.T, env map[string]string) (*Config, error) {
	t.Helper()
	return load(context.Background(), envconfig.MapLookuper(env))
}

func TestLoad_DevelopmentDefaults(t *testing.T) {
	cfg, err := loadMap(t, map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, EnvDevelopment, cfg.AppEnv)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 15*time.Minute, cfg.Auth.AccessTTL)
	assert.Equal(t, 168*time.Hour, cfg.Auth.RefreshTTL)
	assert.Equal(t, 12, cfg.Auth.BcryptCost)
	assert.False(t, cfg.Auth.RotateRefreshTokens)
	assert.Equal(t, int32(10), cfg.Database.MaxConns)
	assert.Equal(t, 5*time.Second, cfg.Database.AcquireTimeout)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "auth.events", cfg.AMQP.Queue)
	assert.Equal(t, time.Hour, cfg.Jobs.TokenCleanupInterval)
	assert.Equal(t, "pretty", cfg.LogFormat)
	assert.NotEmpty(t, cfg.Auth.AccessSecret)
	assert.NotEqual(t, cfg.Auth.AccessSecret, cfg.Auth.RefreshSecret)
	assert.NotEmpty(t, cfg.Database.URL)
}

func TestLoad_Overrides(t *testing.T) {
	cfg, err := loadMap(t, map[string]string{
		"SERVER_PORT":                "9090",
		"JWT_ACCESS_TTL":             "5m",
		"AUTH_ROTATE_REFRESH_TOKENS": "true",
		"CORS_ORIGINS":               "https://portal.example.com,https://admin.example.com",
		"DB_ACQUIRE_TIMEOUT":         "750ms",
		"BCRYPT_COST":                "10",
	})
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 5*time.Minute, cfg.Auth.AccessTTL)
	assert.True(t, cfg.Auth.RotateRefreshTokens)
	assert.Equal(t, []string{"https://portal.example.com", "https://admin.example.com"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 750*time.Millisecond, cfg.Database.AcquireTimeout)
	assert.Equal(t, 10, cfg.Auth.BcryptCost)
}

func productionEnv() map[string]string {
	return map[string]string{
		"APP_ENV":            "production",
		"DATABASE_URL":       "postgres://auth@db:5432/auth",
		"JWT_ACCESS_SECRET":  strings.Repeat("a", 32),
		"JWT_REFRESH_SECRET": strings.Repeat("r", 32),
	}
}

func TestLoad_Production(t *testing.T) {
	cfg, err := loadMap(t, productionEnv())
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoad_ProductionRequiresSettings(t *testing.T) {
	cases := map[string]func(env map[string]string){
		"no access secret":  func(env map[string]string) { delete(env, "JWT_ACCESS_SECRET") },
		"no refresh secret": func(env map[string]string) { delete(env, "JWT_REFRESH_SECRET") },
		"short secret":      func(env map[string]string) { env["JWT_ACCESS_SECRET"] = "too-short" },
		"no database":       func(env map[string]string) { delete(env, "DATABASE_URL") },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			env := productionEnv()
			mutate(env)
			_, err := loadMap(t, env)
			assert.Error(t, err)
		})
	}
}

func TestLoad_Rejects(t *testing.T) {
	cases := map[string]map[string]string{
		"equal secrets":        {"JWT_ACCESS_SECRET": "same-secret", "JWT_REFRESH_SECRET": "same-secret"},
		"access ttl too long":  {"JWT_ACCESS_TTL": "200h"},
		"non-positive ttl":     {"JWT_ACCESS_TTL": "0s"},
		"bcrypt cost too low":  {"BCRYPT_COST": "2"},
		"bcrypt cost too high": {"BCRYPT_COST": "40"},
		"unknown env":          {"APP_ENV": "staging"},
		"half admin":           {"ADMIN_EMAIL": "root@example.com"},
		"min above max conns":  {"DB_MIN_CONNS": "20", "DB_MAX_CONNS": "5"},
		"bad duration":         {"JWT_REFRESH_TTL": "a week"},
		"bad trusted proxy":    {"TRUSTED_PROXIES": "10.0.0.1,proxy.internal"},
	}

	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := loadMap(t, env)
			assert.Error(t, err)
		})
	}
}

func TestLoad_TrustedProxies(t *testing.T) {
	cfg, err := loadMap(t, map[string]string{})
	require.NoError(t, err)
	assert.Empty(t, cfg.Server.TrustedProxyPrefixes())

	cfg, err = loadMap(t, map[string]string{"TRUSTED_PROXIES": "10.0.0.0/8, 192.0.2.10"})
	require.NoError(t, err)
	assert.Equal(t, []netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("192.0.2.10/32"),
	}, cfg.Server.TrustedProxyPrefixes())
}
