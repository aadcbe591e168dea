// Package session keeps the runtime state of active sessions, one lock per session.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

var (
	// ErrNotFound is returned for unknown or evicted session ids.
	ErrNotFound = errors.New("session not found")
	// ErrExists is returned when creating a session id twice.
	ErrExists = errors.New("session already exists")
)

type entry struct {
	mu    sync.Mutex
	state *State
}

// Store maps session ids to runtime state. Operations on one session are
// serialized; different sessions never contend.
type Store struct {
	items *cache.Cache
	ttl   time.Duration
}

// NewStore creates a store. A zero ttl keeps sessions for the process
// lifetime; a positive ttl evicts sessions idle for that long.
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		return &Store{items: cache.New(cache.NoExpiration, 0)}
	}
	return &Store{items: cache.New(ttl, ttl/2), ttl: ttl}
}

func (s *Store) expiration() time.Duration {
	if s.ttl <= 0 {
		return cache.NoExpiration
	}
	return s.ttl
}

// Create registers the initial state of a session.
func (s *Store) Create(id string, st *State) error {
	if err := s.items.Add(id, &entry{state: st}, s.expiration()); err != nil {
		return fmt.Errorf("create session %s: %w", id, ErrExists)
	}
	return nil
}

func (s *Store) get(id string) (*entry, error) {
	v, ok := s.items.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	e := v.(*entry)
	if s.ttl > 0 {
		s.items.Set(id, e, s.ttl)
	}
	return e, nil
}

// With runs fn with exclusive access to the session state and returns its error.
func (s *Store) With(id string, fn func(*State) error) error {
	e, err := s.get(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.state)
}

// Snapshot returns a copy of the session state.
func (s *Store) Snapshot(id string) (State, error) {
	e, err := s.get(id)
	if err != nil {
		return State{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.clone(), nil
}

// Exists reports whether id is a live session.
func (s *Store) Exists(id string) bool {
	_, ok := s.items.Get(id)
	return ok
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	return s.items.ItemCount()
}
