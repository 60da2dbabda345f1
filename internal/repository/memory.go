package repository

import (
	"context"
	"strings"
	"sync"
	"time"

	"wattmate/internal/common"
	"wattmate/internal/models"
)

type memoryUser struct {
	user           models.User
	resetHash      string
	resetExpiresAt time.Time
}

// MemoryStore keeps users and the refresh-token ledger in process memory.
// It backs STORAGE_DRIVER=memory and the service tests. Deleting a user cascades to its tokens.
type MemoryStore struct {
	mu     sync.RWMutex
	nextID int64
	users  map[int64]*memoryUser
	tokens map[string]models.RefreshToken
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:  make(map[int64]*memoryUser),
		tokens: make(map[string]models.RefreshToken),
		now:    time.Now,
	}
}

var (
	_ UserRepo         = (*MemoryStore)(nil)
	_ RefreshTokenRepo = (*MemoryStore)(nil)
)

func (s *MemoryStore) CreateUser(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if strings.EqualFold(u.user.Email, user.Email) {
			return common.ErrAlreadyExists
		}
	}
	s.nextID++
	now := s.now().UTC()
	user.ID = s.nextID
	user.CreatedAt = now
	user.UpdatedAt = now
	s.users[user.ID] = &memoryUser{user: *user}
	return nil
}

func (s *MemoryStore) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if strings.EqualFold(u.user.Email, email) {
			cp := u.user
			return &cp, nil
		}
	}
	return nil, common.ErrNotFound
}

func (s *MemoryStore) GetUserByID(_ context.Context, id int64) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := u.user
	return &cp, nil
}

func (s *MemoryStore) UpdateProfile(_ context.Context, id int64, input *models.UpdateProfileRequest) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	u.user.Name = input.Name
	u.user.Phone = input.Phone
	u.user.Address = input.Address
	u.user.UpdatedAt = s.now().UTC()
	cp := u.user
	return &cp, nil
}

func (s *MemoryStore) UpdatePassword(_ context.Context, id int64, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return common.ErrNotFound
	}
	u.user.PasswordHash = passwordHash
	u.user.UpdatedAt = s.now().UTC()
	u.resetHash = ""
	u.resetExpiresAt = time.Time{}
	return nil
}

func (s *MemoryStore) DeleteUser(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return common.ErrNotFound
	}
	delete(s.users, id)
	for tok, rt := range s.tokens {
		if rt.UserID == id {
			delete(s.tokens, tok)
		}
	}
	return nil
}

func (s *MemoryStore) SetResetToken(_ context.Context, id int64, tokenHash string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return common.ErrNotFound
	}
	u.resetHash = tokenHash
	u.resetExpiresAt = expiresAt.UTC()
	return nil
}

func (s *MemoryStore) GetResetToken(_ context.Context, id int64) (*models.PasswordResetToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok || u.resetHash == "" {
		return nil, common.ErrNotFound
	}
	return &models.PasswordResetToken{UserID: id, TokenHash: u.resetHash, ExpiresAt: u.resetExpiresAt}, nil
}

func (s *MemoryStore) ResetPasswordByToken(_ context.Context, tokenHash, passwordHash string, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, u := range s.users {
		if u.resetHash == "" || u.resetHash != tokenHash || !u.resetExpiresAt.After(now) {
			continue
		}
		u.user.PasswordHash = passwordHash
		u.user.UpdatedAt = now.UTC()
		u.resetHash = ""
		u.resetExpiresAt = time.Time{}
		return id, nil
	}
	return 0, common.ErrNotFound
}

func (s *MemoryStore) Create(_ context.Context, token *models.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[token.UserID]; !ok {
		return common.ErrNotFound
	}
	if _, dup := s.tokens[token.Token]; dup {
		return common.ErrAlreadyExists
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = s.now().UTC()
	}
	s.tokens[token.Token] = *token
	return nil
}

func (s *MemoryStore) FindActive(_ context.Context, token string, now time.Time) (*models.RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rt, ok := s.tokens[token]
	if !ok || !rt.ExpiresAt.After(now) {
		return nil, common.ErrNotFound
	}
	return &rt, nil
}

func (s *MemoryStore) DeleteByToken(_ context.Context, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tokens[token]; !ok {
		return false, nil
	}
	delete(s.tokens, token)
	return true, nil
}

func (s *MemoryStore) DeleteByUser(_ context.Context, userID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for tok, rt := range s.tokens {
		if rt.UserID == userID {
			delete(s.tokens, tok)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for tok, rt := range s.tokens {
		if !rt.ExpiresAt.After(now) {
			delete(s.tokens, tok)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) CountActiveByUser(_ context.Context, userID int64, now time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, rt := range s.tokens {
		if rt.UserID == userID && rt.ExpiresAt.After(now) {
			n++
		}
	}
	return n, nil
}
