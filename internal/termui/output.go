package termui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/sahilm/fuzzy"

	"github.com/studiowebux/swarm/internal/health"
	"github.com/studiowebux/swarm/internal/history"
	"github.com/studiowebux/swarm/internal/seed"
)

// WriteJSON writes a JSON document, syntax highlighted when color is set
func WriteJSON(w io.Writer, doc string, color bool) error {
	if !strings.HasSuffix(doc, "\n") {
		doc += "\n"
	}
	if color {
		if err := quick.Highlight(w, doc, "json", "terminal256", "monokai"); err == nil {
			return nil
		}
	}
	_, err := io.WriteString(w, doc)
	return err
}

// HealthLines renders a health report as status lines
func HealthLines(r health.Report) []string {
	var lines []string

	if r.Master.Healthy {
		line := fmt.Sprintf("Master: %s Healthy (%s)", Mark(true), r.Master.Endpoint)
		if r.Master.State != "" {
			line += fmt.Sprintf(" state=%s users=%d", r.Master.State, r.Master.UserCount)
		}
		lines = append(lines, StyleSuccess.Render(line))
	} else {
		lines = append(lines, StyleError.Render(fmt.Sprintf("Master: %s Unhealthy: %s", Mark(false), r.Master.Error)))
	}

	switch {
	case !r.Workers.Checked:
		lines = append(lines, StyleSubtle.Render("Workers: skipped"))
	case r.Workers.Error != "":
		lines = append(lines, StyleError.Render(fmt.Sprintf("Workers: %s %s", Mark(false), r.Workers.Error)))
	default:
		line := fmt.Sprintf("Workers: %s %d/%d connected", Mark(r.Workers.Healthy), r.Workers.Connected, r.Workers.Expected)
		style := StyleSuccess
		if !r.Workers.Healthy {
			style = StyleWarning
		}
		lines = append(lines, style.Render(line))
		for _, w := range r.Workers.Workers {
			lines = append(lines, StyleSubtle.Render(fmt.Sprintf("  %s %s users=%d", w.ID, w.State, w.UserCount)))
		}
	}

	overall := StyleSuccess.Render("Overall: " + Mark(true) + " Healthy")
	if !r.Overall {
		overall = StyleError.Render("Overall: " + Mark(false) + " Unhealthy")
	}
	return append(lines, overall)
}

// SeedLines renders the outcome of a seed run
func SeedLines(r *seed.Result) []string {
	if r.LoadTesting {
		return []string{StyleSubtle.Render("Load testing mode: using the pre-configured test user")}
	}

	var lines []string
	switch {
	case r.UserCreated:
		lines = append(lines, StyleSuccess.Render(Mark(true)+" Created test user"))
	case r.UserExisted:
		lines = append(lines, StyleSuccess.Render(Mark(true)+" Test user already exists"))
	}
	if r.Authenticated {
		lines = append(lines, StyleSuccess.Render(Mark(true)+" Authentication successful"))
	} else {
		lines = append(lines, StyleWarning.Render("⚠️ Failed to authenticate"))
	}
	if r.Authenticated && !r.Superuser {
		lines = append(lines, StyleWarning.Render("⚠️ The test user is not a superuser"))
	}

	for _, c := range r.Checks {
		style := StyleSuccess
		if !c.OK {
			style = StyleError
		}
		lines = append(lines, style.Render(fmt.Sprintf("%s %s: %s", Mark(c.OK), c.Name, c.Message)))
	}
	return lines
}

// HistoryTable renders runs as a fixed width table
func HistoryTable(runs []*history.Run) string {
	if len(runs) == 0 {
		return StyleSubtle.Render("No runs recorded yet")
	}

	var b strings.Builder
	b.WriteString(StyleHeader.Render(fmt.Sprintf("%-5s %-20s %-16s %-10s %6s %10s %8s %9s %8s",
		"ID", "STARTED", "SCENARIO", "STATUS", "USERS", "REQUESTS", "FAIL%", "AVG MS", "RPS")))
	b.WriteString("\n")
	for _, r := range runs {
		fail := r.FailRatio() * 100
		b.WriteString(fmt.Sprintf("%-5d %-20s %-16s %-10s %6d %10d %s %s %8.2f\n",
			r.ID,
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			truncate(r.Scenario, 16),
			r.Status,
			r.Users,
			r.TotalRequests,
			FailureStyle(fail).Render(fmt.Sprintf("%7.2f%%", fail)),
			LatencyStyle(r.AvgMs).Render(fmt.Sprintf("%9.2f", r.AvgMs)),
			r.RPS,
		))
	}
	return strings.TrimRight(b.String(), "\n")
}

// RunDetail renders one run with its endpoints
func RunDetail(r *history.Run) string {
	var b strings.Builder
	b.WriteString(StyleTitle.Render(fmt.Sprintf("Run #%d: %s", r.ID, r.Scenario)))
	b.WriteString("\n")
	fmt.Fprintf(&b, "Host:      %s (%s)\n", r.Host, r.Mode)
	fmt.Fprintf(&b, "Started:   %s\n", r.StartedAt.Local().Format(time.RFC1123))
	fmt.Fprintf(&b, "Duration:  %s\n", r.Duration().Round(time.Second))
	fmt.Fprintf(&b, "Status:    %s\n", r.Status)
	fmt.Fprintf(&b, "Users:     %d (spawn rate %.1f/s, %d workers)\n", r.Users, r.SpawnRate, r.Workers)
	fmt.Fprintf(&b, "Requests:  %d (%d failed, %.2f%%)\n", r.TotalRequests, r.TotalFailures, r.FailRatio()*100)
	fmt.Fprintf(&b, "Latency:   avg %.2f / min %.2f / median %.2f / p95 %.2f / p99 %.2f / max %.2f ms\n",
		r.AvgMs, r.MinMs, r.MedianMs, r.P95Ms, r.P99Ms, r.MaxMs)
	fmt.Fprintf(&b, "RPS:       %.2f\n", r.RPS)

	if len(r.Endpoints) > 0 {
		b.WriteString("\n")
		b.WriteString(StyleHeader.Render(fmt.Sprintf("%-7s %-36s %10s %8s %9s %9s %8s",
			"METHOD", "NAME", "REQUESTS", "FAILS", "AVG MS", "P95 MS", "RPS")))
		b.WriteString("\n")
		for _, e := range r.Endpoints {
			fmt.Fprintf(&b, "%-7s %-36s %10d %8d %9.2f %9.2f %8.2f\n",
				e.Method, truncate(e.Name, 36), e.NumRequests, e.NumFailures, e.AvgMs, e.P95Ms, e.RPS)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

type runSource []*history.Run

func (s runSource) String(i int) string { return s[i].Scenario + " " + s[i].Host + " " + s[i].Status }
func (s runSource) Len() int            { return len(s) }

// FilterRuns keeps runs whose scenario, host or status fuzzy match query,
// best match first
func FilterRuns(runs []*history.Run, query string) []*history.Run {
	if query == "" {
		return runs
	}
	matches := fuzzy.FindFrom(query, runSource(runs))
	out := make([]*history.Run, 0, len(matches))
	for _, m := range matches {
		out = append(out, runs[m.Index])
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
