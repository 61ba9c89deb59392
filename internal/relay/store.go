// Package relay holds the single time-bounded snapshot slot shared by the
// producer and consumers, and the HTTP server and client around it.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nhle/swipe/internal/model"
)

// ErrNotFound is returned when the slot is empty or its record expired.
var ErrNotFound = errors.New("no valid sync record")

// Clock returns the current time.
type Clock func() time.Time

// Store is the single-slot snapshot cache. Writes replace the slot
// (last writer wins); expiry is evaluated lazily on read.
type Store interface {
	Put(ctx context.Context, rec model.RelayRecord) error
	Get(ctx context.Context) (model.RelayRecord, error)
	Delete(ctx context.Context) error

	// Age reports how old the stored record is, expired or not. ok is
	// false when the slot is empty.
	Age(ctx context.Context) (age time.Duration, ok bool, err error)

	Close() error
}

// Backend names.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// Open creates the store selected by cfg.Backend.
func Open(cfg model.RelayConfig, now Clock) (Store, error) {
	switch cfg.Backend {
	case "", BackendMemory:
		return NewMemoryStore(model.RelayTTL, now), nil
	case BackendSQLite:
		dsn := cfg.DSN
		if dsn == "" {
			dsn = ":memory:"
		}
		return NewSQLStore(dsn, model.RelayTTL, now)
	default:
		return nil, fmt.Errorf("unknown relay backend %q", cfg.Backend)
	}
}

// expired reports whether a record created at createdAt is past ttl at
// now. A record exactly ttl old is still valid.
func expired(createdAt, now time.Time, ttl time.Duration) bool {
	return now.Sub(createdAt) > ttl
}

// MemoryStore keeps the slot in process memory.
type MemoryStore struct {
	mu  sync.RWMutex
	rec *model.RelayRecord
	ttl time.Duration
	now Clock
}

// NewMemoryStore creates an empty in-memory slot. A nil clock uses
// time.Now.
func NewMemoryStore(ttl time.Duration, now Clock) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{ttl: ttl, now: now}
}

// Put replaces the slot. A zero CreatedAt is stamped with the clock.
func (s *MemoryStore) Put(_ context.Context, rec model.RelayRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	rec.Notifications = append([]model.NotificationBundle(nil), rec.Notifications...)

	s.mu.Lock()
	s.rec = &rec
	s.mu.Unlock()
	return nil
}

// Get returns a copy of the record if it has not expired.
func (s *MemoryStore) Get(_ context.Context) (model.RelayRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.rec == nil || expired(s.rec.CreatedAt, s.now(), s.ttl) {
		return model.RelayRecord{}, ErrNotFound
	}
	rec := *s.rec
	rec.Notifications = append([]model.NotificationBundle(nil), s.rec.Notifications...)
	return rec, nil
}

// Delete empties the slot.
func (s *MemoryStore) Delete(_ context.Context) error {
	s.mu.Lock()
	s.rec = nil
	s.mu.Unlock()
	return nil
}

// Age implements Store.
func (s *MemoryStore) Age(_ context.Context) (time.Duration, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.rec == nil {
		return 0, false, nil
	}
	return s.now().Sub(s.rec.CreatedAt), true, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}
