package relay_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	gosync "sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/swipe/internal/credential"
	"github.com/nhle/swipe/internal/model"
	"github.com/nhle/swipe/internal/relay"
	"github.com/nhle/swipe/internal/source"
	"github.com/nhle/swipe/internal/sync"
	"github.com/nhle/swipe/tests/testutil"
)

type stubMutator struct {
	mu    gosync.Mutex
	calls []string
	errs  map[string]error
}

func (m *stubMutator) Mutate(_ context.Context, _ model.Operation, _ credential.Credential, _ string, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, id)
	return m.errs[id]
}

func (m *stubMutator) fail(id string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[id] = err
}

func (m *stubMutator) called() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

type harness struct {
	store   *relay.MemoryStore
	mutator *stubMutator
	server  *httptest.Server
	client  *relay.Client

	mu  gosync.Mutex
	now time.Time
}

func (h *harness) clock() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.now
}

func (h *harness) advance(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.now = h.now.Add(d)
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		mutator: &stubMutator{errs: map[string]error{}},
		now:     time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC),
	}
	clock := h.clock
	h.store = relay.NewMemoryStore(model.RelayTTL, clock)
	coord := sync.NewCoordinator(h.mutator, h.store, 2, zerolog.Nop()).WithClock(clock)
	srv := relay.NewServer(h.store, coord, zerolog.Nop(), relay.WithClock(clock), relay.WithMaxBodyBytes(1<<16))
	h.server = httptest.NewServer(srv)
	t.Cleanup(h.server.Close)
	h.client = relay.NewClient(h.server.URL, nil)
	return h
}

func jwtExpiringAt(exp time.Time) string {
	payload, _ := json.Marshal(map[string]any{"user": 1, "exp": exp.Unix()})
	return "h." + base64.RawURLEncoding.EncodeToString(payload) + ".s"
}

func TestPushPullClearScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	ack, err := h.client.Push(ctx, relay.PushRequest{
		Notifications: testutil.Bundles("a", "b", "c"),
		Credential:    "opaque",
		WorkspaceID:   "123",
		Producer:      "test",
	})
	require.NoError(t, err)
	assert.True(t, ack.Accepted)
	assert.Equal(t, 3, ack.Count)

	snap, err := h.client.Pull(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, snap.Count)
	assert.True(t, snap.HasCredential)
	assert.Equal(t, "123", snap.WorkspaceID)

	h.advance(10 * time.Minute)
	result, err := h.client.Clear(ctx, model.OperationClear, []string{"a"})
	require.NoError(t, err)
	require.Len(t, result.Results, 1)
	assert.True(t, result.Results[0].Success)
	assert.Equal(t, 2, result.RemainingCount)

	rec, err := h.store.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, []string{rec.Notifications[0].ID, rec.Notifications[1].ID})
	assert.True(t, rec.CreatedAt.Equal(time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)), "reconciliation keeps CreatedAt")

	// Clearing again is idempotent.
	h.mutator.fail("a", &source.HTTPError{StatusCode: http.StatusNotFound})
	again, err := h.client.Clear(ctx, model.OperationClear, []string{"a"})
	require.NoError(t, err)
	assert.True(t, again.Results[0].Success)
	assert.True(t, again.Results[0].AlreadyCleared)
	assert.Equal(t, 2, again.RemainingCount)
}

func TestPullWithholdsCredential(t *testing.T) {
	h := newHarness(t)
	_, err := h.client.Push(context.Background(), relay.PushRequest{
		Notifications: testutil.Bundles("a"),
		Credential:    "secret-token",
		WorkspaceID:   "123",
	})
	require.NoError(t, err)

	resp, err := http.Get(h.server.URL + "/api/sync")
	require.NoError(t, err)
	defer resp.Body.Close()

	var raw map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	assert.NotContains(t, raw, "credential")
	assert.Equal(t, true, raw["hasCredential"])
}

func TestPullNotFoundAndExpired(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.client.Pull(ctx)
	assert.ErrorIs(t, err, relay.ErrNotFound)

	_, err = h.client.Push(ctx, relay.PushRequest{Notifications: testutil.Bundles("a"), Credential: "c", WorkspaceID: "1"})
	require.NoError(t, err)

	h.advance(model.RelayTTL + time.Second)
	resp, err := http.Get(h.server.URL + "/api/sync")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var body relay.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "not_found", body.Error)
	require.NotNil(t, body.AgeSeconds)
	assert.Equal(t, int64(model.RelayTTL/time.Second)+1, *body.AgeSeconds)
}

func TestClearWithoutCredential(t *testing.T) {
	h := newHarness(t)
	_, err := h.client.Clear(context.Background(), model.OperationClear, []string{"a"})
	assert.ErrorIs(t, err, source.ErrNoCredential)
	assert.Empty(t, h.mutator.called())
}

func TestClearAfterPushWithoutCredential(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	resp, err := http.DefaultClient.Do(mustRequest(t, http.MethodPut, h.server.URL+"/api/sync",
		`{"notifications":[{"id":"a"}],"workspaceId":"ws"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	snap, err := h.client.Pull(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Count)
	assert.False(t, snap.HasCredential)

	resp, err = http.DefaultClient.Do(mustRequest(t, http.MethodPost, h.server.URL+"/api/sync/clear", `{"ids":["a"]}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusPreconditionFailed, resp.StatusCode)

	var body relay.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "no_credential", body.Error)
	assert.Empty(t, h.mutator.called())

	snap, err = h.client.Pull(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Count, "a refused clear leaves the snapshot alone")
}

func mustRequest(t *testing.T, method, url, body string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewBufferString(body))
	require.NoError(t, err)
	return req
}

func TestClearWithExpiredCredential(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.client.Push(ctx, relay.PushRequest{
		Notifications: testutil.Bundles("a"),
		Credential:    jwtExpiringAt(h.clock().Add(-time.Minute)),
		WorkspaceID:   "1",
	})
	require.NoError(t, err)

	_, err = h.client.Clear(ctx, model.OperationClear, []string{"a"})
	assert.ErrorIs(t, err, source.ErrCredentialExpired)
	assert.Empty(t, h.mutator.called())
}

func TestClearPartialFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.client.Push(ctx, relay.PushRequest{Notifications: testutil.Bundles("a", "b", "c"), Credential: "c", WorkspaceID: "1"})
	require.NoError(t, err)

	h.mutator.fail("b", errors.New("connection reset"))
	result, err := h.client.Clear(ctx, model.OperationClear, []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed())
	assert.Equal(t, []string{"a"}, result.Succeeded())
	assert.Equal(t, 2, result.RemainingCount)
}

func TestRequestValidation(t *testing.T) {
	h := newHarness(t)

	cases := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"push without workspace", http.MethodPut, "/api/sync", `{"credential":"c","notifications":[]}`, http.StatusBadRequest},
		{"push item without id", http.MethodPut, "/api/sync", `{"credential":"c","workspaceId":"1","notifications":[{"title":"x"}]}`, http.StatusBadRequest},
		{"push malformed", http.MethodPost, "/api/sync/push", `{`, http.StatusBadRequest},
		{"clear without ids", http.MethodPost, "/api/sync/clear", `{"ids":[]}`, http.StatusBadRequest},
		{"clear unknown operation", http.MethodPost, "/api/sync/clear", `{"ids":["a"],"operation":"archive"}`, http.StatusBadRequest},
		{"push too large", http.MethodPut, "/api/sync", `{"credential":"` + string(bytes.Repeat([]byte("x"), 1<<17)) + `"}`, http.StatusRequestEntityTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req, err := http.NewRequest(tc.method, h.server.URL+tc.path, bytes.NewBufferString(tc.body))
			require.NoError(t, err)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, tc.status, resp.StatusCode)
		})
	}
}

func TestDeleteAndHealth(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.client.Push(ctx, relay.PushRequest{Notifications: testutil.Bundles("a"), Credential: "c", WorkspaceID: "1"})
	require.NoError(t, err)

	require.NoError(t, h.client.Delete(ctx))
	_, err = h.client.Pull(ctx)
	assert.ErrorIs(t, err, relay.ErrNotFound)

	resp, err := http.Get(h.server.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWatchReceivesEvents(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events, err := h.client.Watch(ctx)
	require.NoError(t, err)

	// The subscription is registered after the handshake; retry the push
	// until the first event arrives.
	var first relay.Event
	require.Eventually(t, func() bool {
		if _, err := h.client.Push(ctx, relay.PushRequest{Notifications: testutil.Bundles("a", "b"), Credential: "c", WorkspaceID: "1"}); err != nil {
			return false
		}
		select {
		case first = <-events:
			return true
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, relay.EventReplaced, first.Type)
	assert.Equal(t, 2, first.Count)

	_, err = h.client.Clear(ctx, model.OperationClear, []string{"a"})
	require.NoError(t, err)

	for ev := range events {
		if ev.Type == relay.EventReconciled {
			assert.Equal(t, 1, ev.Count)
			return
		}
	}
	t.Fatal("watch closed before reconciled event")
}
