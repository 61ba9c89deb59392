package swipe

import (
	"context"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/swipe/internal/model"
	"github.com/nhle/swipe/internal/relay"
	appsync "github.com/nhle/swipe/internal/sync"
)

type stubRelay struct {
	items   []model.NotificationBundle
	cleared []string
	ops     []model.Operation
	missing bool
}

func (r *stubRelay) Pull(context.Context) (*model.Snapshot, error) {
	if r.missing {
		return nil, relay.ErrNotFound
	}
	snap := model.RelayRecord{Notifications: r.items, Credential: "c"}.Snapshot()
	return &snap, nil
}

func (r *stubRelay) Clear(_ context.Context, op model.Operation, ids []string) (*model.BatchResult, error) {
	r.cleared = append(r.cleared, ids...)
	r.ops = append(r.ops, op)
	res := &model.BatchResult{}
	for _, id := range ids {
		res.Results = append(res.Results, model.ItemResult{ID: id, Success: true})
	}
	return res, nil
}

func newTestModel(t *testing.T, r *stubRelay) Model {
	t.Helper()
	inbox := appsync.NewInbox(r)
	m := New(inbox, 0)

	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	next, _ = next.Update(m.refresh()())
	return next.(Model)
}

func press(t *testing.T, m Model, k tea.KeyMsg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(k)
	return next.(Model), cmd
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestAcceptClearsTopCard(t *testing.T) {
	r := &stubRelay{items: []model.NotificationBundle{
		{ID: "a", Title: "Fix login"},
		{ID: "b", Title: "Write docs"},
	}}
	m := newTestModel(t, r)
	assert.Contains(t, m.View(), "Fix login")

	m, cmd := press(t, m, tea.KeyMsg{Type: tea.KeyRight})
	require.NotNil(t, cmd)
	assert.NotContains(t, m.View(), "Fix login", "card leaves before the relay answers")
	assert.Empty(t, r.cleared)

	next, _ := m.Update(cmd())
	m = next.(Model)
	assert.Equal(t, []string{"a"}, r.cleared)
	assert.Equal(t, []model.Operation{model.OperationClear}, r.ops)
	assert.Equal(t, 1, m.cleared)
	assert.Contains(t, m.View(), "Write docs")
}

func TestMarkReadUsesMarkReadOperation(t *testing.T) {
	r := &stubRelay{items: []model.NotificationBundle{{ID: "a", Title: "Fix login"}}}
	m := newTestModel(t, r)

	_, cmd := press(t, m, runes("m"))
	require.NotNil(t, cmd)
	cmd()
	assert.Equal(t, []model.Operation{model.OperationMarkRead}, r.ops)
}

func TestSkipIsLocal(t *testing.T) {
	r := &stubRelay{items: []model.NotificationBundle{
		{ID: "a", Title: "Fix login"},
		{ID: "b", Title: "Write docs"},
	}}
	m := newTestModel(t, r)

	m, cmd := press(t, m, runes("h"))
	assert.Nil(t, cmd)
	assert.Empty(t, r.cleared)
	assert.Contains(t, m.View(), "Write docs")

	next, _ := m.Update(m.refresh()())
	assert.Contains(t, next.(Model).View(), "Fix login", "skipped card returns on refresh")
}

func TestEmptyAndMissingSnapshot(t *testing.T) {
	r := &stubRelay{missing: true}
	m := newTestModel(t, r)

	view := m.View()
	assert.Contains(t, view, "Inbox zero.")
	assert.Contains(t, view, "producer")

	_, cmd := press(t, m, tea.KeyMsg{Type: tea.KeyRight})
	assert.Nil(t, cmd)
}

func TestSnapshotArrivalClearsMissingNotice(t *testing.T) {
	r := &stubRelay{missing: true}
	m := newTestModel(t, r)
	require.Contains(t, m.statusLine(), "no snapshot")

	r.missing = false
	r.items = []model.NotificationBundle{{ID: "a", Title: "Fix login"}}
	next, _ := m.Update(m.refresh()())
	m = next.(Model)

	assert.NotContains(t, m.statusLine(), "no snapshot")
	assert.Contains(t, m.View(), "Fix login")
}

func TestHelpToggle(t *testing.T) {
	m := newTestModel(t, &stubRelay{})
	m, _ = press(t, m, runes("?"))
	assert.Contains(t, m.View(), "Keyboard Shortcuts")
	m, _ = press(t, m, runes("?"))
	assert.NotContains(t, m.View(), "Keyboard Shortcuts")
}
