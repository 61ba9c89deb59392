package sync

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/swipe/internal/credential"
	"github.com/nhle/swipe/internal/model"
	"github.com/nhle/swipe/internal/relay"
)

func testJWT(t *testing.T, exp time.Time) credential.Credential {
	t.Helper()
	payload, err := json.Marshal(map[string]any{"user": 84233809, "exp": exp.Unix()})
	require.NoError(t, err)
	return credential.Credential("h." + base64.RawURLEncoding.EncodeToString(payload) + ".s")
}

type fakeRelay struct {
	mu      gosync.Mutex
	snap    *model.Snapshot
	pullErr error
	cleared [][]string
	block   chan struct{}
	fail    map[string]bool
}

func (r *fakeRelay) Pull(context.Context) (*model.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pullErr != nil {
		return nil, r.pullErr
	}
	cp := *r.snap
	cp.Notifications = append([]model.NotificationBundle(nil), r.snap.Notifications...)
	return &cp, nil
}

func (r *fakeRelay) Clear(_ context.Context, _ model.Operation, ids []string) (*model.BatchResult, error) {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleared = append(r.cleared, ids)

	res := &model.BatchResult{}
	for _, id := range ids {
		ok := !r.fail[id]
		res.Results = append(res.Results, model.ItemResult{ID: id, Success: ok})
		if ok {
			r.snap.Notifications = model.RelayRecord{Notifications: r.snap.Notifications}.Without([]string{id}).Notifications
		}
	}
	res.RemainingCount = len(r.snap.Notifications)
	return res, nil
}

func newFakeRelay(ids ...string) *fakeRelay {
	snap := &model.Snapshot{WorkspaceID: "ws"}
	for _, id := range ids {
		snap.Notifications = append(snap.Notifications, model.NotificationBundle{ID: id})
	}
	return &fakeRelay{snap: snap, fail: map[string]bool{}}
}

func ids(items []model.NotificationBundle) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.ID)
	}
	return out
}

func TestInboxSkipIsLocalOnly(t *testing.T) {
	r := newFakeRelay("a", "b", "c")
	in := NewInbox(r)
	ctx := context.Background()
	require.NoError(t, in.Refresh(ctx))

	assert.True(t, in.Skip("b"))
	assert.False(t, in.Skip("missing"))
	assert.Equal(t, []string{"a", "c"}, ids(in.Items()))
	assert.Empty(t, r.cleared)

	require.NoError(t, in.Refresh(ctx))
	assert.Equal(t, []string{"a", "b", "c"}, ids(in.Items()), "skipped cards return on refresh")
}

func TestInboxAcceptClearsRemotely(t *testing.T) {
	r := newFakeRelay("a", "b", "c")
	in := NewInbox(r)
	ctx := context.Background()
	require.NoError(t, in.Refresh(ctx))

	res, err := in.Accept(ctx, model.OperationClear, "a")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, [][]string{{"a"}}, r.cleared)
	assert.Equal(t, []string{"b", "c"}, ids(in.Items()))

	require.NoError(t, in.Refresh(ctx))
	assert.Equal(t, []string{"b", "c"}, ids(in.Items()))
}

func TestInboxTakeHidesItemUntilPropagated(t *testing.T) {
	r := newFakeRelay("a", "b")
	r.block = make(chan struct{})
	in := NewInbox(r)
	ctx := context.Background()
	require.NoError(t, in.Refresh(ctx))

	taken, ok := in.Take("a")
	require.True(t, ok)
	assert.Equal(t, "a", taken.ID)
	assert.Equal(t, 1, in.Len(), "removed before the network call")

	done := make(chan model.ItemResult)
	go func() {
		res, _ := in.Propagate(ctx, model.OperationClear, "a")
		done <- res
	}()

	// A refresh racing the in-flight clear must not resurrect the card.
	require.NoError(t, in.Refresh(ctx))
	assert.Equal(t, []string{"b"}, ids(in.Items()))

	close(r.block)
	assert.True(t, (<-done).Success)
}

func TestInboxFailedAcceptReappears(t *testing.T) {
	r := newFakeRelay("a", "b")
	r.fail["a"] = true
	in := NewInbox(r)
	ctx := context.Background()
	require.NoError(t, in.Refresh(ctx))

	res, err := in.Accept(ctx, model.OperationClear, "a")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, []string{"b"}, ids(in.Items()))

	require.NoError(t, in.Refresh(ctx))
	assert.Equal(t, []string{"a", "b"}, ids(in.Items()))
}

func TestInboxRefreshNotFound(t *testing.T) {
	r := newFakeRelay("a")
	in := NewInbox(r)
	ctx := context.Background()
	require.NoError(t, in.Refresh(ctx))
	require.NotNil(t, in.Snapshot())

	r.mu.Lock()
	r.pullErr = relay.ErrNotFound
	r.mu.Unlock()

	err := in.Refresh(ctx)
	assert.True(t, errors.Is(err, relay.ErrNotFound))
	assert.Empty(t, in.Items())
	assert.Nil(t, in.Snapshot())
}
