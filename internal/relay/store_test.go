package relay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/swipe/internal/model"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)}
}

func sampleRecord(ids ...string) model.RelayRecord {
	rec := model.RelayRecord{Credential: "tok", WorkspaceID: "ws", Producer: "p1"}
	for _, id := range ids {
		rec.Notifications = append(rec.Notifications, model.NotificationBundle{ID: id, Title: "T " + id})
	}
	return rec
}

func eachBackend(t *testing.T, fn func(t *testing.T, s Store, clock *fakeClock)) {
	t.Run("memory", func(t *testing.T) {
		clock := newFakeClock()
		fn(t, NewMemoryStore(model.RelayTTL, clock.Now), clock)
	})
	t.Run("sqlite", func(t *testing.T) {
		clock := newFakeClock()
		s, err := NewSQLStore(":memory:", model.RelayTTL, clock.Now)
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		fn(t, s, clock)
	})
}

func TestStoreTTLBoundary(t *testing.T) {
	eachBackend(t, func(t *testing.T, s Store, clock *fakeClock) {
		ctx := context.Background()
		require.NoError(t, s.Put(ctx, sampleRecord("a")))

		clock.Advance(model.RelayTTL - time.Millisecond)
		_, err := s.Get(ctx)
		require.NoError(t, err)

		clock.Advance(time.Millisecond)
		_, err = s.Get(ctx)
		require.NoError(t, err, "a record exactly TTL old is still valid")

		clock.Advance(time.Millisecond)
		_, err = s.Get(ctx)
		assert.ErrorIs(t, err, ErrNotFound)

		age, ok, err := s.Age(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, model.RelayTTL+time.Millisecond, age)
	})
}

func TestStoreLastWriterWins(t *testing.T) {
	eachBackend(t, func(t *testing.T, s Store, clock *fakeClock) {
		ctx := context.Background()
		require.NoError(t, s.Put(ctx, sampleRecord("a", "b")))
		clock.Advance(time.Minute)
		require.NoError(t, s.Put(ctx, sampleRecord("c")))

		rec, err := s.Get(ctx)
		require.NoError(t, err)
		require.Len(t, rec.Notifications, 1)
		assert.Equal(t, "c", rec.Notifications[0].ID)
		assert.True(t, rec.CreatedAt.Equal(clock.Now()))
		assert.Equal(t, "tok", rec.Credential)
	})
}

func TestStoreKeepsExplicitCreatedAt(t *testing.T) {
	eachBackend(t, func(t *testing.T, s Store, clock *fakeClock) {
		ctx := context.Background()
		rec := sampleRecord("a")
		rec.CreatedAt = clock.Now().Add(-30 * time.Minute)
		require.NoError(t, s.Put(ctx, rec))

		clock.Advance(31 * time.Minute)
		_, err := s.Get(ctx)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStoreDelete(t *testing.T) {
	eachBackend(t, func(t *testing.T, s Store, clock *fakeClock) {
		ctx := context.Background()

		_, ok, err := s.Age(ctx)
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, s.Put(ctx, sampleRecord("a")))
		require.NoError(t, s.Delete(ctx))

		_, err = s.Get(ctx)
		assert.ErrorIs(t, err, ErrNotFound)
		_, ok, err = s.Age(ctx)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestMemoryStoreCopiesNotifications(t *testing.T) {
	s := NewMemoryStore(model.RelayTTL, nil)
	ctx := context.Background()
	rec := sampleRecord("a")
	require.NoError(t, s.Put(ctx, rec))

	rec.Notifications[0].Title = "mutated"
	got, err := s.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "T a", got.Notifications[0].Title)
}

func TestOpenBackends(t *testing.T) {
	s, err := Open(model.RelayConfig{Backend: BackendSQLite}, nil)
	require.NoError(t, err)
	_, ok := s.(*SQLStore)
	assert.True(t, ok)
	require.NoError(t, s.Close())

	s, err = Open(model.RelayConfig{}, nil)
	require.NoError(t, err)
	_, ok = s.(*MemoryStore)
	assert.True(t, ok)

	_, err = Open(model.RelayConfig{Backend: "redis"}, nil)
	assert.Error(t, err)
}
