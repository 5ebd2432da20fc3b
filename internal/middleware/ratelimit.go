package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"logistics-auth/internal/metrics"
)

const (
	scopeGeneral = "general"
	scopeAuth    = "auth"
)

// LimitStore decides whether key may make one more request under a budget
// of perMinute requests.
type LimitStore interface {
	Allow(ctx context.Context, key string, perMinute int) (bool, error)
}

type RateLimitMiddleware struct {
	generalRPM int
	authRPM    int
	store      LimitStore
}

// NewRateLimitMiddleware limits per client IP. A non-positive generalRPM
// disables the general budget; credential endpoints always have one.
func NewRateLimitMiddleware(generalRPM int, authRPM int) *RateLimitMiddleware {
	if authRPM <= 0 {
		authRPM = 10
	}

	return &RateLimitMiddleware{
		generalRPM: generalRPM,
		authRPM:    authRPM,
		store:      NewLocalLimitStore(),
	}
}

// WithStore replaces the in-process store, e.g. with a Redis one shared by
// every replica.
func (m *RateLimitMiddleware) WithStore(store LimitStore) *RateLimitMiddleware {
	if store != nil {
		m.store = store
	}
	return m
}

func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scope, limit := scopeGeneral, m.generalRPM
		if isAuthPath(r.URL.Path) {
			scope, limit = scopeAuth, m.authRPM
		}

		if limit <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		allowed, err := m.store.Allow(r.Context(), scope+":"+ClientIP(r), limit)
		if err != nil {
			// The limiter backend being down must not take logins down with it.
			slog.Warn("rate limit store unavailable", "scope", scope, "error", err)
			next.ServeHTTP(w, r)
			return
		}

		if !allowed {
			metrics.RateLimitedTotal.WithLabelValues(scope).Inc()
			w.Header().Set("Retry-After", "60")
			writeJSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func isAuthPath(path string) bool {
	path = strings.ToLower(path)
	return strings.HasPrefix(path, "/auth/") || strings.HasPrefix(path, "/api/auth/")
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// LocalLimitStore keeps one token bucket per key in memory.
type LocalLimitStore struct {
	mu      sync.Mutex
	clients map[string]*clientLimiter
}

func NewLocalLimitStore() *LocalLimitStore {
	return &LocalLimitStore{clients: map[string]*clientLimiter{}}
}

func (s *LocalLimitStore) Allow(_ context.Context, key string, perMinute int) (bool, error) {
	return s.getLimiter(key, perMinute).Allow(), nil
}

func (s *LocalLimitStore) getLimiter(key string, perMinute int) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	if client, exists := s.clients[key]; exists {
		client.lastSeen = time.Now()
		s.gcLocked()
		return client.limiter
	}

	created := &clientLimiter{
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
		lastSeen: time.Now(),
	}
	s.clients[key] = created
	s.gcLocked()

	return created.limiter
}

func (s *LocalLimitStore) gcLocked() {
	if len(s.clients) < 1000 {
		return
	}

	cutoff := time.Now().Add(-10 * time.Minute)
	for key, client := range s.clients {
		if client.lastSeen.Before(cutoff) {
			delete(s.clients, key)
		}
	}
}
