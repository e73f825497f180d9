// Package monitor is the live status TUI: connectivity, queue depth, sync
// activity, and session events in one small dashboard.
package monitor

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/rahat/mess/internal/app"
	"github.com/rahat/mess/internal/bus"
	syncengine "github.com/rahat/mess/internal/sync"
)

const refreshInterval = 2 * time.Second

// maxEventLines bounds the scrollback of the event feed.
const maxEventLines = 8

// Model is the Bubble Tea model for the monitor.
type Model struct {
	App *app.App

	Width  int
	Height int

	Online      bool
	CheckedAt   time.Time
	Pending     int
	Exhausted   int
	LoggedIn    bool
	UserName    string
	Draining    bool
	LastReport  *syncengine.Report
	EventFeed   []feedLine
	LastRefresh time.Time

	spinner spinner.Model
	sub     *bus.Subscription
}

type feedLine struct {
	At   time.Time
	Text string
}

// TickMsg triggers a periodic data refresh.
type TickMsg time.Time

// busMsg carries one bus event into the update loop.
type busMsg bus.Event

// refreshMsg carries freshly gathered data.
type refreshMsg struct {
	online    bool
	checkedAt time.Time
	pending   int
	exhausted int
	loggedIn  bool
	userName  string
	draining  bool
	report    *syncengine.Report
}

// syncDoneMsg signals a manual drain finished.
type syncDoneMsg struct{ report *syncengine.Report }

// New creates the monitor model over a constructed app.
func New(a *app.App) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return Model{
		App:     a,
		spinner: sp,
		sub:     a.Bus.Subscribe(),
	}
}

// Init starts the tick loop and the bus listener.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.tick(), m.listen(), m.refresh(), m.spinner.Tick)
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return TickMsg(t) })
}

func (m Model) listen() tea.Cmd {
	sub := m.sub
	return func() tea.Msg {
		ev, ok := <-sub.C
		if !ok {
			return nil
		}
		return busMsg(ev)
	}
}

func (m Model) refresh() tea.Cmd {
	a := m.App
	return func() tea.Msg {
		msg := refreshMsg{
			pending:  a.PendingCount(),
			draining: a.Engine.Draining(),
			report:   a.Engine.LastReport(),
		}
		st := a.Conn.State()
		msg.online = st.Online
		msg.checkedAt = st.CheckedAt
		msg.loggedIn = a.Session.Authenticated()
		if p, err := a.Session.Profile(); err == nil && p != nil {
			msg.userName = p.Name
		}
		if all, err := a.Queue.All(); err == nil {
			for _, r := range all {
				if r.Exhausted() {
					msg.exhausted++
				}
			}
		}
		return msg
	}
}

func (m Model) syncNow() tea.Cmd {
	a := m.App
	return func() tea.Msg {
		report, err := a.Engine.SyncNow(context.Background())
		if err != nil {
			return syncDoneMsg{}
		}
		return syncDoneMsg{report: report}
	}
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.sub.Cancel()
			return m, tea.Quit
		case "s":
			if !m.Draining {
				m.Draining = true
				return m, m.syncNow()
			}
		case "r":
			return m, m.refresh()
		}
		return m, nil

	case TickMsg:
		return m, tea.Batch(m.tick(), m.refresh())

	case refreshMsg:
		m.Online = msg.online
		m.CheckedAt = msg.checkedAt
		m.Pending = msg.pending
		m.Exhausted = msg.exhausted
		m.LoggedIn = msg.loggedIn
		m.UserName = msg.userName
		m.Draining = msg.draining
		m.LastReport = msg.report
		m.LastRefresh = time.Now()
		return m, nil

	case syncDoneMsg:
		m.Draining = false
		if msg.report != nil {
			m.LastReport = msg.report
		}
		return m, m.refresh()

	case busMsg:
		m.EventFeed = append(m.EventFeed, feedLine{At: time.Now(), Text: describeEvent(bus.Event(msg))})
		if len(m.EventFeed) > maxEventLines {
			m.EventFeed = m.EventFeed[len(m.EventFeed)-maxEventLines:]
		}
		return m, m.listen()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func describeEvent(ev bus.Event) string {
	switch ev.Type {
	case bus.TypeLogin:
		return "logged in"
	case bus.TypeLogout:
		return "logged out"
	case bus.TypeSessionExpired:
		return "session expired"
	case bus.TypeSyncStarted:
		return "sync started"
	case bus.TypeSyncFinished:
		if r, ok := ev.Data.(*syncengine.Report); ok {
			return "sync finished: " + summarize(r)
		}
		return "sync finished"
	case bus.TypeQueueChanged:
		return "queue changed"
	}
	return string(ev.Type)
}
