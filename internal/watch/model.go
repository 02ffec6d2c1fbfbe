package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/rbxstudio-mcp-broker/internal/events"
)

// Model is the BubbleTea model for the watch TUI. Queue depth and
// in-flight count are derived purely from the lifecycle event stream
// (task.queued/task.dispatched/task.completed/task.timed_out/
// result.stale): the broker exposes no separate stats endpoint, so the
// dashboard's state is exactly what an operator watching the feed
// would reconstruct by hand.
type Model struct {
	baseURL string

	width, height int

	queueDepth   int
	pending      int
	lastPoll     time.Time
	lastSubmit   time.Time
	connected    bool
	lastErr      string

	eventLog []events.Event
	stream   viewport.Model
	ready    bool

	hubEvents chan events.Event
	theme     Theme
}

func New(baseURL string) *Model {
	return &Model{
		baseURL:   baseURL,
		hubEvents: make(chan events.Event, 100),
		theme:     NewDefaultTheme(),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeToEvents(m.baseURL, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		streamHeight := m.height - 10
		if streamHeight < 3 {
			streamHeight = 3
		}
		if !m.ready {
			m.stream = viewport.New(m.width-6, streamHeight)
			m.ready = true
		} else {
			m.stream.Width = m.width - 6
			m.stream.Height = streamHeight
		}
		m.stream.SetContent(m.renderEventLines())

	case tickMsg:
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case eventMsg:
		e := events.Event(msg)
		m.eventLog = append([]events.Event{e}, m.eventLog...)
		if len(m.eventLog) > 200 {
			m.eventLog = m.eventLog[:200]
		}
		m.applyEvent(e)
		m.connected = true
		m.lastErr = ""
		if m.ready {
			m.stream.SetContent(m.renderEventLines())
		}
		return m, receiveNextEvent(m.hubEvents)

	case sseDisconnectedMsg:
		m.connected = false
		m.lastErr = "SSE disconnected, reconnecting..."
		return m, tea.Tick(3*time.Second, func(t time.Time) tea.Msg { return reconnectMsg{} })

	case reconnectMsg:
		return m, subscribeToEvents(m.baseURL, m.hubEvents)

	case errMsg:
		m.lastErr = msg.Error()
		return m, tea.Tick(3*time.Second, func(t time.Time) tea.Msg { return reconnectMsg{} })
	}

	if m.ready {
		m.stream, cmd = m.stream.Update(msg)
	}
	return m, cmd
}

// applyEvent updates the derived queue-depth/pending counters from one
// lifecycle event: queued increments the queue, dispatched moves
// queued to pending, completed/timed_out/stale drain pending.
func (m *Model) applyEvent(e events.Event) {
	switch e.Type {
	case events.TypeTaskQueued:
		m.queueDepth++
	case events.TypeTaskDispatched:
		if m.queueDepth > 0 {
			m.queueDepth--
		}
		m.pending++
		m.lastPoll = e.At
	case events.TypeTaskCompleted:
		if m.pending > 0 {
			m.pending--
		}
		m.lastSubmit = e.At
	case events.TypeTaskTimedOut, events.TypeResultStale:
		if m.pending > 0 {
			m.pending--
		}
	}
}

func (m Model) View() string {
	if m.width == 0 {
		return "Initializing broker watch..."
	}

	header := m.renderHeader()
	eventStream := m.renderEventStream()

	var errBar string
	if m.lastErr != "" {
		errBar = m.theme.StatusFailed.Render(" ⚠ " + m.lastErr)
	}

	help := lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Render(" [q] Quit")

	parts := []string{header, eventStream}
	if errBar != "" {
		parts = append(parts, errBar)
	}
	parts = append(parts, help)

	return lipgloss.NewStyle().Margin(1, 2).Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}

func (m Model) renderHeader() string {
	innerWidth := m.width - 4

	status := m.theme.StatusOK.Render("CONNECTED")
	if !m.connected {
		status = m.theme.StatusFailed.Render("CONNECTING")
	}

	pollAgo := "never"
	if !m.lastPoll.IsZero() {
		pollAgo = time.Since(m.lastPoll).Round(time.Second).String() + " ago"
	}
	submitAgo := "never"
	if !m.lastSubmit.IsZero() {
		submitAgo = time.Since(m.lastSubmit).Round(time.Second).String() + " ago"
	}

	title := " ROBLOX STUDIO MCP BROKER WATCH"
	clock := m.theme.Dim.Render(time.Now().Format("15:04:05"))
	pad := innerWidth - lipgloss.Width(title) - lipgloss.Width(clock) - 2
	if pad < 1 {
		pad = 1
	}
	titleLine := title + strings.Repeat(" ", pad) + clock

	statsLine := fmt.Sprintf(" %s  Queue depth: %d  In-flight: %d", status, m.queueDepth, m.pending)
	activityLine := fmt.Sprintf(" Last dispatch: %s  Last completion: %s", pollAgo, submitAgo)

	content := lipgloss.JoinVertical(lipgloss.Left, titleLine, statsLine, activityLine)
	return m.theme.Border.Width(innerWidth).Render(content)
}

// renderEventLines formats the full in-memory event log, newest first,
// for display inside the scrollable viewport.
func (m Model) renderEventLines() string {
	if len(m.eventLog) == 0 {
		return m.theme.Dim.Render("  Waiting for events...")
	}
	lines := make([]string, len(m.eventLog))
	for i, e := range m.eventLog {
		lines[i] = m.formatEvent(e)
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderEventStream() string {
	innerWidth := m.width - 4

	if !m.ready {
		content := lipgloss.JoinVertical(lipgloss.Left,
			m.theme.Title.Render("EVENT STREAM"),
			m.theme.Dim.Render("  Waiting for events..."),
		)
		return m.theme.Border.Width(innerWidth).Render(content)
	}

	body := lipgloss.NewStyle().Padding(0, 1).Render(m.stream.View())
	content := lipgloss.JoinVertical(lipgloss.Left, m.theme.Title.Render("EVENT STREAM (↑/↓ to scroll)"), body)
	return m.theme.Border.Width(innerWidth).Render(content)
}

func (m Model) formatEvent(e events.Event) string {
	ts := m.theme.Dim.Render(e.At.Format("15:04:05"))

	var style lipgloss.Style
	switch e.Type {
	case events.TypeTaskCompleted:
		style = m.theme.StatusOK
	case events.TypeTaskTimedOut, events.TypeResultStale:
		style = m.theme.StatusFailed
	case events.TypeTaskQueued, events.TypeTaskDispatched:
		style = m.theme.Highlight
	default:
		style = m.theme.Dim
	}

	name := style.Render(fmt.Sprintf("%-20s", e.Type))
	return fmt.Sprintf("%s %s %s", ts, name, string(e.Data))
}
