// Package swipe is the terminal consumer: it shows the relay snapshot as a
// stack of cards and turns swipes into clear and mark-read requests.
package swipe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/swipe/internal/keys"
	"github.com/nhle/swipe/internal/model"
	"github.com/nhle/swipe/internal/relay"
	appsync "github.com/nhle/swipe/internal/sync"
	"github.com/nhle/swipe/internal/theme"
	"github.com/nhle/swipe/internal/ui"
	helpview "github.com/nhle/swipe/internal/ui/help"
)

// requestTimeout bounds one relay round trip started from the UI.
const requestTimeout = 30 * time.Second

type refreshedMsg struct {
	err error
}

type tickMsg time.Time

type propagatedMsg struct {
	op     model.Operation
	result model.ItemResult
	err    error
}

type relayEventMsg relay.Event

type watchClosedMsg struct{}

// Model is the root Bubble Tea model of the consumer.
type Model struct {
	inbox    *appsync.Inbox
	keys     *keys.KeyMap
	layout   ui.Layout
	help     helpview.Model
	spinner  spinner.Model
	interval time.Duration
	events   <-chan relay.Event

	ready    bool
	loading  bool
	showHelp bool
	cleared  int
	notice   string
	err      error
}

// Option configures a Model.
type Option func(*Model)

// WithEvents makes the model refresh whenever the relay reports a change.
func WithEvents(events <-chan relay.Event) Option {
	return func(m *Model) { m.events = events }
}

// New creates the consumer model. interval is the polling period; a
// non-positive value disables polling.
func New(inbox *appsync.Inbox, interval time.Duration, opts ...Option) Model {
	km := keys.DefaultKeyMap()
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(theme.ColorBlue)

	m := Model{
		inbox:    inbox,
		keys:     km,
		layout:   ui.NewLayout(80, 24),
		help:     helpview.New(km, 80, 22),
		spinner:  sp,
		interval: interval,
		loading:  true,
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

// Init loads the first snapshot and starts polling.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.refresh(), m.tick(), m.waitForEvent())
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.layout = ui.NewLayout(msg.Width, msg.Height)
		m.help.SetSize(m.layout.ContentWidth(), m.layout.ContentHeight())
		m.ready = true
		return m, nil

	case refreshedMsg:
		m.loading = false
		switch {
		case errors.Is(msg.err, relay.ErrNotFound):
			m.err = nil
			m.notice = "no snapshot on the relay yet; is the producer running?"
		case msg.err != nil:
			m.err = msg.err
		default:
			m.err = nil
			m.notice = ""
		}
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.refresh(), m.tick())

	case relayEventMsg:
		return m, tea.Batch(m.refresh(), m.waitForEvent())

	case watchClosedMsg:
		m.events = nil
		return m, nil

	case propagatedMsg:
		switch {
		case msg.err != nil:
			m.err = msg.err
		case !msg.result.Success:
			m.notice = fmt.Sprintf("%s failed for %s; it will come back", msg.op, msg.result.ID)
		default:
			m.cleared++
			m.notice = ""
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.showHelp = !m.showHelp
		return m, nil
	}

	if m.showHelp {
		return m, nil
	}

	top, ok := m.top()

	switch {
	case key.Matches(msg, m.keys.Refresh):
		m.loading = true
		return m, m.refresh()

	case key.Matches(msg, m.keys.Accept) && ok:
		return m, m.swipe(model.OperationClear, top.ID)

	case key.Matches(msg, m.keys.MarkRead) && ok:
		return m, m.swipe(model.OperationMarkRead, top.ID)

	case key.Matches(msg, m.keys.Skip) && ok:
		m.inbox.Skip(top.ID)
		m.notice = ""
		return m, nil

	case key.Matches(msg, m.keys.Open) && ok:
		m.notice = top.URL
		return m, nil
	}

	return m, nil
}

// swipe removes id at once and propagates op in the background.
func (m Model) swipe(op model.Operation, id string) tea.Cmd {
	if _, ok := m.inbox.Take(id); !ok {
		return nil
	}
	inbox := m.inbox
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		res, err := inbox.Propagate(ctx, op, id)
		return propagatedMsg{op: op, result: res, err: err}
	}
}

func (m Model) refresh() tea.Cmd {
	inbox := m.inbox
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return refreshedMsg{err: inbox.Refresh(ctx)}
	}
}

func (m Model) tick() tea.Cmd {
	if m.interval <= 0 {
		return nil
	}
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) waitForEvent() tea.Cmd {
	events := m.events
	if events == nil {
		return nil
	}
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return watchClosedMsg{}
		}
		return relayEventMsg(ev)
	}
}

func (m Model) top() (model.NotificationBundle, bool) {
	items := m.inbox.Items()
	if len(items) == 0 {
		return model.NotificationBundle{}, false
	}
	return items[0], true
}

// View renders the frame.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	header := m.layout.RenderHeader("Inbox", m.headerStatus())

	var content string
	if m.showHelp {
		content = m.help.View()
	} else {
		content = m.renderStack()
	}
	content = lipgloss.NewStyle().
		Width(m.layout.ContentWidth()).
		Height(m.layout.ContentHeight()).
		Render(content)

	return m.layout.RenderWithFrame(header, content, m.layout.RenderStatusBar(m.statusLine()))
}

func (m Model) headerStatus() string {
	if m.loading {
		return m.spinner.View() + " syncing"
	}
	parts := []string{fmt.Sprintf("%d left", m.inbox.Len())}
	if m.cleared > 0 {
		parts = append(parts, fmt.Sprintf("%d cleared", m.cleared))
	}
	if snap := m.inbox.Snapshot(); snap != nil && !snap.CreatedAt.IsZero() {
		parts = append(parts, "pushed "+ago(time.Since(snap.CreatedAt)))
	}
	return strings.Join(parts, " · ")
}

func (m Model) statusLine() string {
	switch {
	case m.err != nil:
		return theme.ErrorStyle.Render(m.err.Error())
	case m.notice != "":
		return m.notice
	default:
		return m.help.Short()
	}
}

func (m Model) renderStack() string {
	items := m.inbox.Items()
	if len(items) == 0 {
		msg := "Inbox zero."
		if m.loading {
			msg = "Loading inbox..."
		}
		return lipgloss.Place(
			m.layout.ContentWidth(), m.layout.ContentHeight(),
			lipgloss.Center, lipgloss.Center,
			theme.DimmedStyle.Render(msg),
		)
	}

	width := min(max(m.layout.ContentWidth()-8, 20), 72)
	card := renderCard(items[0], width)
	counter := theme.DimmedStyle.Render(fmt.Sprintf("1 of %d", len(items)))

	return lipgloss.Place(
		m.layout.ContentWidth(), m.layout.ContentHeight(),
		lipgloss.Center, lipgloss.Center,
		lipgloss.JoinVertical(lipgloss.Center, card, counter),
	)
}

func renderCard(n model.NotificationBundle, width int) string {
	style := theme.CardStyle
	if n.Unread() {
		style = theme.UnreadCardStyle
	}

	var labels []string
	if n.Kind != "" {
		labels = append(labels, theme.KindStyle(n.Kind).Render(n.Kind))
	}
	if n.Status != "" {
		labels = append(labels, theme.StatusStyle(strings.ToLower(n.Status)).Render(n.Status))
	}
	if n.UnreadCount > 1 {
		labels = append(labels, theme.DimmedStyle.Render(fmt.Sprintf("%d unread", n.UnreadCount)))
	}

	lines := []string{theme.TitleStyle.Render(n.Title)}
	if path := locationPath(n.Location); path != "" {
		lines = append(lines, theme.DimmedStyle.Render(path))
	}
	if len(labels) > 0 {
		lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Top, labels...))
	}
	if desc := truncate(n.Description, 280); desc != "" {
		lines = append(lines, "", desc)
	}
	if !n.OccurredAt.IsZero() {
		lines = append(lines, "", theme.DimmedStyle.Render(ago(time.Since(n.OccurredAt))))
	}

	return style.Width(width).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func locationPath(l model.Location) string {
	var parts []string
	for _, p := range []string{l.Space, l.Folder, l.List} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " / ")
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func ago(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
