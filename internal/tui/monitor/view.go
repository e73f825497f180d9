package monitor

import (
	"fmt"
	"strings"
	"time"

	syncengine "github.com/rahat/mess/internal/sync"
)

// View renders the dashboard.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("mess monitor") + "\n\n")

	// Connectivity line
	conn := offlineStyle.Render("● offline")
	if m.Online {
		conn = onlineStyle.Render("● online")
	}
	checked := "never"
	if !m.CheckedAt.IsZero() {
		checked = time.Since(m.CheckedAt).Round(time.Second).String() + " ago"
	}
	b.WriteString(fmt.Sprintf("%s  %s\n", conn, subtleStyle.Render("checked "+checked)))

	// Session line
	sess := subtleStyle.Render("not logged in")
	if m.LoggedIn {
		who := m.UserName
		if who == "" {
			who = "logged in"
		}
		sess = onlineStyle.Render(who)
	}
	b.WriteString("session: " + sess + "\n")

	// Queue line
	queueLine := fmt.Sprintf("queue: %d pending", m.Pending)
	if m.Exhausted > 0 {
		queueLine += warnStyle.Render(fmt.Sprintf("  (%d exhausted)", m.Exhausted))
	}
	b.WriteString(queueLine + "\n")

	// Sync line
	if m.Draining {
		b.WriteString(m.spinner.View() + " syncing...\n")
	} else if m.LastReport != nil {
		b.WriteString("last sync: " + summarize(m.LastReport) + "\n")
	} else {
		b.WriteString(subtleStyle.Render("no sync yet") + "\n")
	}

	// Event feed
	if len(m.EventFeed) > 0 {
		b.WriteString("\n" + panelTitleStyle.Render("events") + "\n")
		for _, line := range m.EventFeed {
			b.WriteString(timestampStyle.Render(line.At.Format("15:04:05")) + "  " + line.Text + "\n")
		}
	}

	b.WriteString("\n" + helpStyle.Render("s sync now · r refresh · q quit"))
	return panelStyle.Render(b.String())
}

func summarize(r *syncengine.Report) string {
	if r == nil {
		return ""
	}
	parts := []string{fmt.Sprintf("%d sent", r.Succeeded)}
	if r.Kept > 0 {
		parts = append(parts, fmt.Sprintf("%d kept", r.Kept))
	}
	dropped := r.DroppedTerminal + r.DroppedUnknown + r.DroppedDupes + r.DroppedExhaust
	if dropped > 0 {
		parts = append(parts, fmt.Sprintf("%d dropped", dropped))
	}
	out := strings.Join(parts, ", ")
	if r.Halt != syncengine.HaltNone {
		out += " · halted: " + string(r.Halt)
	}
	return out
}
