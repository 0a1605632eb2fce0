// Package store is the process-local Record Store: an ordered, in-memory
// collection of users guarded by a single lock.
package store

import (
	"sync"

	"github.com/kuitang/user-notes/internal/model"
)

// Predicate selects users.
type Predicate func(u *model.User) bool

// Records is the ordered user collection. It is only reachable through
// Store.Atomically, so every method assumes the store lock is held.
type Records struct {
	users []*model.User
}

// List returns copies of all users in insertion order.
func (r *Records) List() []model.User {
	out := make([]model.User, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, u.Clone())
	}
	return out
}

// Len returns the number of users.
func (r *Records) Len() int {
	return len(r.users)
}

// Insert appends a user.
func (r *Records) Insert(u model.User) {
	stored := u.Clone()
	r.users = append(r.users, &stored)
}

// Remove deletes every user matching pred and returns how many were removed.
// Notes go with their owner.
func (r *Records) Remove(pred Predicate) int {
	kept := r.users[:0]
	removed := 0
	for _, u := range r.users {
		if pred(u) {
			removed++
			continue
		}
		kept = append(kept, u)
	}
	for i := len(kept); i < len(r.users); i++ {
		r.users[i] = nil
	}
	r.users = kept
	return removed
}

// FindOne returns the first user matching pred. The returned pointer is the
// stored record and may be mutated while the lock is held.
func (r *Records) FindOne(pred Predicate) (*model.User, bool) {
	for _, u := range r.users {
		if pred(u) {
			return u, true
		}
	}
	return nil, false
}

// CountNotes returns the total number of notes across all users.
func (r *Records) CountNotes() int {
	n := 0
	for _, u := range r.users {
		n += len(u.Notes)
	}
	return n
}

// Store owns the Records and serialises access to them.
type Store struct {
	mu   sync.Mutex
	recs Records
}

// New creates an empty store.
func New() *Store {
	return &Store{}
}

// Atomically runs fn with exclusive access to the records. A guard chain and
// the mutation it protects must run inside one call.
func (s *Store) Atomically(fn func(r *Records) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&s.recs)
}

// List returns a snapshot of all users in insertion order.
func (s *Store) List() []model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recs.List()
}
