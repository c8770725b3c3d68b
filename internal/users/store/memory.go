// Package store persists user accounts in memory or in Postgres.
package store

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"lagerkoll/internal/users/models"
	"lagerkoll/pkg/platform/sentinel"
)

// InMemory is a map-backed user store. Usernames are indexed lower-cased to
// enforce case-insensitive uniqueness.
type InMemory struct {
	mu         sync.RWMutex
	users      map[uuid.UUID]*models.User
	byUsername map[string]uuid.UUID
}

func NewInMemory() *InMemory {
	return &InMemory{
		users:      make(map[uuid.UUID]*models.User),
		byUsername: make(map[string]uuid.UUID),
	}
}

func usernameKey(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func (s *InMemory) Create(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := usernameKey(user.Username)
	if _, taken := s.byUsername[key]; taken {
		return sentinel.ErrAlreadyUsed
	}
	s.users[user.ID] = user.Clone()
	s.byUsername[key] = user.ID
	return nil
}

func (s *InMemory) Update(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.users[user.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	oldKey, newKey := usernameKey(existing.Username), usernameKey(user.Username)
	if oldKey != newKey {
		if _, taken := s.byUsername[newKey]; taken {
			return sentinel.ErrAlreadyUsed
		}
		delete(s.byUsername, oldKey)
		s.byUsername[newKey] = user.ID
	}
	s.users[user.ID] = user.Clone()
	return nil
}

func (s *InMemory) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	delete(s.byUsername, usernameKey(user.Username))
	delete(s.users, id)
	return nil
}

func (s *InMemory) FindByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return user.Clone(), nil
}

func (s *InMemory) FindByUsername(_ context.Context, username string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byUsername[usernameKey(username)]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return s.users[id].Clone(), nil
}

// List returns users ordered by username.
func (s *InMemory) List(_ context.Context) ([]*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u.Clone())
	}
	slices.SortFunc(out, func(a, b *models.User) int {
		return strings.Compare(usernameKey(a.Username), usernameKey(b.Username))
	})
	return out, nil
}

func (s *InMemory) CountByRole(_ context.Context, role models.Role) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, u := range s.users {
		if u.Role == role {
			n++
		}
	}
	return n, nil
}

func (s *InMemory) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users), nil
}
