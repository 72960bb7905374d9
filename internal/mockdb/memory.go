package mockdb

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps everything in maps. It is the load-testing database.
type MemoryStore struct {
	mu      sync.RWMutex
	users   map[string]*User
	byEmail map[string]string
	items   map[string]*Item
}

// NewMemoryStore returns an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:   make(map[string]*User),
		byEmail: make(map[string]string),
		items:   make(map[string]*Item),
	}
}

// NewSeededMemoryStore returns a store holding one superuser, so logins work
// without a signup step
func NewSeededMemoryStore(email, password, fullName string) *MemoryStore {
	s := NewMemoryStore()
	u := NewUser(email, password, fullName, true)
	s.users[u.ID] = u
	s.byEmail[u.Email] = u.ID
	return s
}

func (s *MemoryStore) CreateUser(_ context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u.Email = normalizeEmail(u.Email)
	if _, ok := s.byEmail[u.Email]; ok {
		return ErrDuplicate
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	stored := *u
	s.users[u.ID] = &stored
	s.byEmail[u.Email] = u.ID
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *u
	return &out, nil
}

func (s *MemoryStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	s.mu.RLock()
	id, ok := s.byEmail[normalizeEmail(email)]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s.GetUser(ctx, id)
}

func (s *MemoryStore) ListUsers(_ context.Context, skip, limit int) ([]User, int64, error) {
	s.mu.RLock()
	all := make([]User, 0, len(s.users))
	for _, u := range s.users {
		all = append(all, *u)
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.Before(all[j].CreatedAt)
		}
		return all[i].ID < all[j].ID
	})
	from, to := page(len(all), skip, limit)
	return all[from:to], int64(len(all)), nil
}

func (s *MemoryStore) CreateItem(_ context.Context, it *Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if it.ID == "" {
		it.ID = uuid.NewString()
	}
	if it.CreatedAt.IsZero() {
		it.CreatedAt = time.Now().UTC()
	}
	stored := *it
	s.items[it.ID] = &stored
	return nil
}

func (s *MemoryStore) GetItem(_ context.Context, id string) (*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	it, ok := s.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *it
	return &out, nil
}

func (s *MemoryStore) ListItems(_ context.Context, ownerID string, skip, limit int) ([]Item, int64, error) {
	s.mu.RLock()
	var all []Item
	for _, it := range s.items {
		if ownerID == "" || it.OwnerID == ownerID {
			all = append(all, *it)
		}
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.Before(all[j].CreatedAt)
		}
		return all[i].ID < all[j].ID
	})
	from, to := page(len(all), skip, limit)
	out := make([]Item, to-from)
	copy(out, all[from:to])
	return out, int64(len(all)), nil
}

func (s *MemoryStore) UpdateItem(_ context.Context, it *Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.items[it.ID]
	if !ok {
		return ErrNotFound
	}
	existing.Title = it.Title
	existing.Description = it.Description
	*it = *existing
	return nil
}

func (s *MemoryStore) DeleteItem(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[id]; !ok {
		return ErrNotFound
	}
	delete(s.items, id)
	return nil
}

// Close is a no-op
func (s *MemoryStore) Close() error { return nil }
