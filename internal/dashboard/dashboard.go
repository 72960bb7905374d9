// Package dashboard is a live terminal view of a running load test.
package dashboard

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/studiowebux/swarm/internal/stats"
	"github.com/studiowebux/swarm/internal/termui"
)

// RefreshInterval is how often the dashboard polls its source
const RefreshInterval = 500 * time.Millisecond

// Source is what the dashboard reads from: a local runner or a master
type Source interface {
	Stats() *stats.Registry
	State() string
	UserCount() int
	Host() string
}

type tickMsg time.Time

// doneMsg ends the program when the run finishes on its own
type doneMsg struct{}

// Model is the bubbletea model of the dashboard
type Model struct {
	source   Source
	title    string
	stop     func()
	interval time.Duration
	started  time.Time

	report   stats.RequestsReport
	width    int
	stopped  bool
	finished bool
}

// New returns a dashboard for src. stop is called when the user quits.
func New(src Source, title string, stop func()) Model {
	m := Model{
		source:   src,
		title:    title,
		stop:     stop,
		interval: RefreshInterval,
		started:  time.Now(),
	}
	m.refresh()
	return m
}

// Stopped reports whether the user ended the run from the dashboard
func (m Model) Stopped() bool { return m.stopped }

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *Model) refresh() {
	m.report = m.source.Stats().Report(m.source.State(), m.source.UserCount())
}

// Init starts polling
func (m Model) Init() tea.Cmd {
	return m.tick()
}

// Update handles ticks, resizes and key presses
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		m.refresh()
		return m, m.tick()

	case doneMsg:
		m.refresh()
		m.finished = true
		return m, tea.Quit

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if !m.stopped && m.stop != nil {
				m.stop()
			}
			m.stopped = true
			return m, tea.Quit
		}
	}
	return m, nil
}

// View renders the dashboard
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(termui.StyleTitle.Render(m.title))
	b.WriteString("\n")
	b.WriteString(m.header())
	b.WriteString("\n\n")
	b.WriteString(m.table())

	if len(m.report.Errors) > 0 {
		b.WriteString("\n\n")
		b.WriteString(termui.StyleError.Render("Failures"))
		b.WriteString("\n")
		for i, f := range m.report.Errors {
			if i == 5 {
				b.WriteString(termui.StyleSubtle.Render(fmt.Sprintf("  … %d more", len(m.report.Errors)-5)))
				b.WriteString("\n")
				break
			}
			fmt.Fprintf(&b, "  %dx %s %s: %s\n", f.Occurrences, f.Method, f.Name, f.Error)
		}
	}

	b.WriteString("\n")
	switch {
	case m.stopped:
		b.WriteString(termui.StyleWarning.Render("Stopping…"))
	case m.finished:
		b.WriteString(termui.StyleSuccess.Render("Run finished"))
	default:
		b.WriteString(termui.StyleSubtle.Render("q: stop the run"))
	}
	b.WriteString("\n")

	view := b.String()
	if m.width > 0 {
		return termui.StyleBox.Width(m.width - 2).Render(strings.TrimRight(view, "\n"))
	}
	return view
}

func (m Model) header() string {
	state := m.report.State
	stateStyle := termui.StyleSuccess
	switch state {
	case "stopped", "stopping":
		stateStyle = termui.StyleWarning
	case "missing":
		stateStyle = termui.StyleError
	}

	fail := m.report.FailRatio * 100
	return lipgloss.JoinHorizontal(lipgloss.Top,
		"Host: "+m.source.Host(),
		"   State: "+stateStyle.Render(strings.ToUpper(state)),
		fmt.Sprintf("   Users: %d", m.report.UserCount),
		fmt.Sprintf("   RPS: %.1f", m.report.TotalRPS),
		"   Failures: "+termui.FailureStyle(fail).Render(fmt.Sprintf("%.2f%%", fail)),
		fmt.Sprintf("   Elapsed: %s", time.Since(m.started).Round(time.Second)),
	)
}

func (m Model) table() string {
	var b strings.Builder
	b.WriteString(termui.StyleHeader.Render(fmt.Sprintf("%-7s %-32s %9s %7s %9s %9s %9s %7s",
		"TYPE", "NAME", "REQUESTS", "FAILS", "MEDIAN", "AVG", "P95", "RPS")))

	for _, row := range m.report.Stats {
		name := row.Name
		if len(name) > 32 {
			name = name[:31] + "…"
		}
		line := fmt.Sprintf("%-7s %-32s %9d %7d %9.0f %s %9.0f %7.1f",
			row.Method, name, row.NumRequests, row.NumFailures,
			row.MedianResponseTime,
			termui.LatencyStyle(row.AvgResponseTime).Render(fmt.Sprintf("%9.0f", row.AvgResponseTime)),
			row.NinetyFifthResponseTime, row.CurrentRPS)
		if row.Name == stats.AggregatedName {
			line = termui.StyleHeader.Render(line)
		}
		b.WriteString("\n")
		b.WriteString(line)
	}
	return b.String()
}

// Run shows the dashboard until the user quits or ctx is done. It reports
// whether the user stopped the run.
func Run(ctx context.Context, src Source, title string, stop func()) (bool, error) {
	p := tea.NewProgram(New(src, title, stop), tea.WithAltScreen())

	go func() {
		<-ctx.Done()
		p.Send(doneMsg{})
	}()

	final, err := p.Run()
	if err != nil {
		return false, err
	}
	return final.(Model).Stopped(), nil
}
