// Package auth decides who may run destructive chat commands such as clearing
// the conversation cache.
package auth

import (
	"sort"
	"sync"
)

type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type Repository interface {
	LoadAll() ([]User, error)
	Upsert(user User) error
	Remove(userID int64) error
}

type Service struct {
	mu     sync.RWMutex
	repo   Repository
	admins map[int64]User
}

// NewWithRepo preloads admins from repo and merges the ids from the
// environment. repo may be nil.
func NewWithRepo(repo Repository, initial []int64) (*Service, error) {
	s := &Service{repo: repo, admins: make(map[int64]User)}
	if repo != nil {
		users, err := repo.LoadAll()
		if err == nil {
			for _, u := range users {
				s.admins[u.ID] = u
			}
		}
	}
	for _, id := range initial {
		if _, ok := s.admins[id]; !ok {
			s.admins[id] = User{ID: id}
		}
	}
	return s, nil
}

func (s *Service) IsAdmin(userID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.admins[userID]
	return ok
}

func (s *Service) Grant(user User) error {
	s.mu.Lock()
	s.admins[user.ID] = user
	s.mu.Unlock()
	if s.repo != nil {
		return s.repo.Upsert(user)
	}
	return nil
}

func (s *Service) Revoke(userID int64) error {
	s.mu.Lock()
	delete(s.admins, userID)
	s.mu.Unlock()
	if s.repo != nil {
		return s.repo.Remove(userID)
	}
	return nil
}

// List returns admins ordered by id.
func (s *Service) List() []User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]User, 0, len(s.admins))
	for _, u := range s.admins {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
