package auth

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

var ErrUserNotFound = errors.New("user not found")

// User is the record attached to an authenticated connection.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// UserStore looks users up by id.
type UserStore interface {
	UserByID(ctx context.Context, id string) (*User, error)
}

// MemoryUserStore is a fixed in-process user directory.
type MemoryUserStore struct {
	mu    sync.RWMutex
	users map[string]User
}

// NewMemoryUserStore creates a store holding users.
func NewMemoryUserStore(users ...User) *MemoryUserStore {
	s := &MemoryUserStore{users: make(map[string]User, len(users))}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

// ParseUsers reads a user list of the form "id=name,id2=name2". Entries
// without a name use the id as name.
func ParseUsers(list string) []User {
	var users []User
	for _, entry := range strings.Split(list, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		id, name, found := strings.Cut(entry, "=")
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		name = strings.TrimSpace(name)
		if !found || name == "" {
			name = id
		}
		users = append(users, User{ID: id, Name: name})
	}
	return users
}

// Put adds or replaces a user.
func (s *MemoryUserStore) Put(u User) {
	s.mu.Lock()
	s.users[u.ID] = u
	s.mu.Unlock()
}

func (s *MemoryUserStore) UserByID(_ context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, errors.Wrapf(ErrUserNotFound, "id %q", id)
	}
	return &u, nil
}
