package testutil

import (
	"testing"

	"github.com/nhle/swipe/internal/model"
	"github.com/nhle/swipe/internal/relay"
)

// NewTestStore creates an in-memory SQLite relay store with all migrations
// applied. It automatically closes the store when the test completes.
func NewTestStore(t *testing.T, now relay.Clock) *relay.SQLStore {
	t.Helper()

	s, err := relay.NewSQLStore(":memory:", model.RelayTTL, now)
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})

	return s
}

// Bundles builds notification bundles with the given ids.
func Bundles(ids ...string) []model.NotificationBundle {
	out := make([]model.NotificationBundle, 0, len(ids))
	for _, id := range ids {
		out = append(out, model.NotificationBundle{ID: id, Title: "Task " + id})
	}
	return out
}
