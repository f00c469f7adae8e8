package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

var (
	// ErrNotFound is returned for unknown and expired ids alike.
	ErrNotFound = errors.New("session not found or expired")

	// ErrBusy is returned when another request holds the session.
	ErrBusy = errors.New("session is busy")
)

// Store owns consultations for their lifetime. Implementations expire
// entries after an inactivity window that every Put restarts.
type Store interface {
	Get(ctx context.Context, id string) (*Consultation, error)
	Put(ctx context.Context, c *Consultation) error
	Delete(ctx context.Context, id string) error

	// Acquire grants exclusive use of a session until release is called.
	// A second Acquire on the same id fails with ErrBusy instead of
	// waiting.
	Acquire(ctx context.Context, id string) (c *Consultation, release func(), err error)
}

// ExpireFunc is told about sessions that expired without being deleted.
type ExpireFunc func(id string, last *Consultation)

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithExpireHook sets the callback run when a session expires. It runs on
// its own goroutine.
func WithExpireHook(fn ExpireFunc) MemoryOption {
	return func(s *MemoryStore) {
		s.onExpire = fn
	}
}

// MemoryStore is an in-process Store bounded by size and TTL.
type MemoryStore struct {
	cache    *expirable.LRU[string, *Consultation]
	ttl      time.Duration
	onExpire ExpireFunc

	// busy and deleted are read from the eviction callback, which runs
	// under the cache lock, so neither may share a lock with cache calls.
	busy    sync.Map
	deleted sync.Map
}

// NewMemoryStore holds at most size sessions (0 means unbounded), each
// expiring ttl after its last Put.
func NewMemoryStore(size int, ttl time.Duration, opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{ttl: ttl}
	for _, opt := range opts {
		opt(s)
	}
	s.cache = expirable.NewLRU[string, *Consultation](size, s.evicted, ttl)
	return s
}

func (s *MemoryStore) evicted(id string, c *Consultation) {
	if _, ok := s.deleted.LoadAndDelete(id); ok {
		return
	}
	// An in-flight stage writes the session back when it finishes.
	if _, ok := s.busy.Load(id); ok {
		return
	}
	if s.onExpire != nil {
		go s.onExpire(id, c)
	}
}

// Get returns a copy of the session.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Consultation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, ok := s.cache.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	return c.Clone(), nil
}

// Put stores a copy of c and restarts its inactivity window.
func (s *MemoryStore) Put(ctx context.Context, c *Consultation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c == nil || c.ID == "" {
		return errors.New("session id required")
	}
	s.deleted.Delete(c.ID)
	s.cache.Add(c.ID, c.Clone())
	return nil
}

// Delete removes a session. Deleting an unknown id is not an error.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.deleted.Store(id, struct{}{})
	if !s.cache.Remove(id) {
		s.deleted.Delete(id)
	}
	return nil
}

// Acquire marks the session busy and returns a copy of it. Expiry is
// checked here, at stage entry, and never while the session is held.
func (s *MemoryStore) Acquire(ctx context.Context, id string) (*Consultation, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if _, held := s.busy.LoadOrStore(id, struct{}{}); held {
		return nil, nil, ErrBusy
	}
	c, ok := s.cache.Get(id)
	if !ok {
		s.busy.Delete(id)
		return nil, nil, ErrNotFound
	}

	var once sync.Once
	release := func() {
		once.Do(func() { s.busy.Delete(id) })
	}
	return c.Clone(), release, nil
}

// Len returns the number of live sessions.
func (s *MemoryStore) Len() int {
	return s.cache.Len()
}

// TTL returns the inactivity window.
func (s *MemoryStore) TTL() time.Duration {
	return s.ttl
}
