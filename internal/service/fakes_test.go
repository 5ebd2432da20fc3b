package service

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"logistics-auth/internal/model"
)

type memUserStore struct {
	mu       sync.Mutex
	byID     map[string]model.User
	profiles map[string]model.UserProfile
	carriers map[string]model.CarrierProfile
	tokens   *memTokenStore

	createErr    error
	findErr      error
	lastLoginErr error
}

func newMemUserStore(tokens *memTokenStore) *memUserStore {
	return &memUserStore{
		byID:     map[string]model.User{},
		profiles: map[string]model.UserProfile{},
		carriers: map[string]model.CarrierProfile{},
		tokens:   tokens,
	}
}

func (s *memUserStore) FindByEmail(_ context.Context, email string) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.findErr != nil {
		return model.User{}, s.findErr
	}
	for _, u := range s.byID {
		if u.Email == email {
			return u, nil
		}
	}
	return model.User{}, model.ErrUserNotFound
}

func (s *memUserStore) FindByID(_ context.Context, id string) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.findErr != nil {
		return model.User{}, s.findErr
	}
	u, ok := s.byID[id]
	if !ok {
		return model.User{}, model.ErrUserNotFound
	}
	return u, nil
}

func (s *memUserStore) CreateRegistration(_ context.Context, reg model.Registration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.createErr != nil {
		return s.createErr
	}
	for _, u := range s.byID {
		if u.Email == reg.User.Email {
			return model.ErrEmailTaken
		}
	}

	s.byID[reg.User.ID] = reg.User
	s.profiles[reg.User.ID] = reg.Profile
	if reg.Carrier != nil {
		s.carriers[reg.User.ID] = *reg.Carrier
	}
	if reg.RefreshToken.TokenHash != "" {
		s.tokens.put(reg.RefreshToken)
	}
	return nil
}

func (s *memUserStore) UpdateLastLogin(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastLoginErr != nil {
		return s.lastLoginErr
	}
	u := s.byID[id]
	u.LastLoginAt = &at
	s.byID[id] = u
	return nil
}

func (s *memUserStore) UpdateStatus(_ context.Context, id string, status model.Status, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return model.ErrUserNotFound
	}
	u.Status = status
	u.UpdatedAt = at
	s.byID[id] = u
	return nil
}

func (s *memUserStore) List(_ context.Context, status model.Status) ([]model.AuthUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users := make([]model.AuthUser, 0)
	for _, u := range s.byID {
		if status == "" || u.Status == status {
			users = append(users, u.Public())
		}
	}
	return users, nil
}

func (s *memUserStore) Account(_ context.Context, id string) (model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return model.Account{}, model.ErrUserNotFound
	}
	account := model.Account{
		ID:          u.ID,
		Email:       u.Email,
		Role:        u.Role,
		Status:      u.Status,
		Profile:     s.profiles[id],
		AccountInfo: model.AccountInfo{CreatedAt: u.CreatedAt, LastLoginAt: u.LastLoginAt},
	}
	if c, ok := s.carriers[id]; ok {
		account.Carrier = &c
	}
	return account, nil
}

func (s *memUserStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

type memTokenStore struct {
	mu     sync.Mutex
	byHash map[string]model.RefreshToken

	storeErr  error
	revokeErr error
}

func newMemTokenStore() *memTokenStore {
	return &memTokenStore{byHash: map[string]model.RefreshToken{}}
}

func (s *memTokenStore) put(t model.RefreshToken) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byHash[t.TokenHash] = t
}

func (s *memTokenStore) get(hash string) (model.RefreshToken, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byHash[hash]
	return t, ok
}

func (s *memTokenStore) Store(_ context.Context, t model.RefreshToken) error {
	if s.storeErr != nil {
		return s.storeErr
	}
	s.put(t)
	return nil
}

func (s *memTokenStore) FindByHash(_ context.Context, hash string) (model.RefreshToken, error) {
	t, ok := s.get(hash)
	if !ok {
		return model.RefreshToken{}, model.ErrTokenNotFound
	}
	return t, nil
}

func (s *memTokenStore) Revoke(_ context.Context, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.revokeErr != nil {
		return s.revokeErr
	}
	if t, ok := s.byHash[hash]; ok {
		t.Revoked = true
		s.byHash[hash] = t
	}
	return nil
}

func (s *memTokenStore) Rotate(_ context.Context, oldHash string, next model.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.byHash[oldHash]
	if !ok || !old.Usable(next.CreatedAt) {
		return model.ErrTokenNotFound
	}
	old.Revoked = true
	s.byHash[oldHash] = old
	s.byHash[next.TokenHash] = next
	return nil
}

func (s *memTokenStore) RevokeAllForUser(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var revoked int64
	for hash, t := range s.byHash {
		if t.UserID == userID && !t.Revoked {
			t.Revoked = true
			s.byHash[hash] = t
			revoked++
		}
	}
	return revoked, nil
}

type mockAuditor struct {
	mock.Mock
}

func (m *mockAuditor) Log(_ context.Context, action string, actor model.AuditActor, status string, resource string, _ any, _ any, errText string) {
	m.Called(action, actor.UserID, status, resource, errText)
}
