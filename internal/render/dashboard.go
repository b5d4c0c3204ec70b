// Package render draws session snapshots for the terminal.
package render

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/fireshield/fsclient/internal/model"
	"github.com/fireshield/fsclient/internal/session"
)

var (
	text     = lipgloss.Color("#cdd6f4")
	subtext  = lipgloss.Color("#a6adc8")
	surface  = lipgloss.Color("#45475a")
	sapphire = lipgloss.Color("#74c7ec")
	green    = lipgloss.Color("#a6e3a1")
	peach    = lipgloss.Color("#fab387")
	red      = lipgloss.Color("#f38ba8")

	pane = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(surface).
		Foreground(text).
		Padding(0, 1)

	title = lipgloss.NewStyle().Foreground(sapphire).Bold(true)
	muted = lipgloss.NewStyle().Foreground(subtext)
	warn  = lipgloss.NewStyle().Foreground(peach).Bold(true)
	label = lipgloss.NewStyle().Foreground(subtext).Width(16)
)

var sparkRunes = []rune("▁▂▃▄▅▆▇█")

func severityStyle(s model.Severity) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	switch s {
	case model.SeverityCritical:
		return base.Foreground(lipgloss.Color("#1e1e2e")).Background(red)
	case model.SeverityElevated:
		return base.Foreground(lipgloss.Color("#1e1e2e")).Background(peach)
	default:
		return base.Foreground(lipgloss.Color("#1e1e2e")).Background(green)
	}
}

// Dashboard renders the full signed-in view, or a short status line when
// the session is not authenticated.
func Dashboard(snap session.Snapshot, now time.Time) string {
	if !snap.IsAuthenticated {
		return Status(snap, now)
	}
	sections := []string{header(snap, now)}
	if snap.LastError != "" {
		sections = append(sections, warn.Render("! "+snap.LastError))
	}
	if snap.Report == nil {
		sections = append(sections, muted.Render("No report yet."))
		return pane.Render(lipgloss.JoinVertical(lipgloss.Left, sections...))
	}
	sections = append(sections,
		Metrics(*snap.Report),
		seriesLine(snap.Series),
		Advice(*snap.Report),
	)
	return pane.Render(lipgloss.JoinVertical(lipgloss.Left, sections...))
}

// Status is the one-line state summary used by `status` and when signed out.
func Status(snap session.Snapshot, now time.Time) string {
	parts := []string{title.Render("FireShield"), string(snap.State)}
	if snap.IsAuthenticated {
		parts = append(parts, "link "+string(snap.Link))
		if snap.Polling {
			parts = append(parts, "polling")
		}
		if !snap.UpdatedAt.IsZero() {
			parts = append(parts, "updated "+Age(now.Sub(snap.UpdatedAt))+" ago")
		}
	}
	line := strings.Join(parts, muted.Render(" · "))
	if snap.LastError != "" {
		line += "\n" + warn.Render(snap.LastError)
	}
	return line
}

func header(snap session.Snapshot, now time.Time) string {
	badge := severityStyle(snap.Severity).Render(string(snap.Severity))
	info := fmt.Sprintf("last %dh", snap.WindowHours)
	if !snap.UpdatedAt.IsZero() {
		info += " · updated " + Age(now.Sub(snap.UpdatedAt)) + " ago"
	}
	if snap.Stale {
		info += " · cached"
	}
	if snap.Link != "" && snap.Link != session.LinkOK {
		info += " · link " + string(snap.Link)
	}
	return lipgloss.JoinHorizontal(lipgloss.Center, title.Render("FireShield exposure")+" ", badge, " "+muted.Render(info))
}

// Metrics renders the headline TVOC figures. Missing metrics show as "n/a".
func Metrics(r model.Report) string {
	rows := []string{
		row("Average TVOC", ppb(r.AvgTVOC())),
		row("Peak TVOC", ppb(r.MaxTVOC())),
		row("Minimum TVOC", ppb(r.MinTVOC())),
		row("Time elevated", percent(r.FractionElevated())),
		row("Time critical", percent(r.FractionCritical())),
		row("Trend", slope(r.SlopePPBPerHour())),
	}
	if n, ok := r.SamplesCount(); ok {
		rows = append(rows, row("Samples", fmt.Sprintf("%d", n)))
	}
	if score, ok := r.RiskScore(); ok {
		rows = append(rows, row("Risk score", fmt.Sprintf("%d/100", score)))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

// Advice renders the summary, findings and checklists of a report.
func Advice(r model.Report) string {
	var b strings.Builder
	if s := r.Summary(); s != "" {
		b.WriteString(lipgloss.NewStyle().Width(72).Render(s))
		b.WriteString("\n")
	}
	list(&b, "Key findings", r.AIReport.KeyFindings, "•")
	list(&b, "Recommendations", r.AIReport.Recommendations, "•")
	list(&b, "Decon checklist", r.AIReport.DeconChecklist, "☐")
	if p := r.AIReport.PolicySuggestion; p != nil && strings.TrimSpace(*p) != "" {
		b.WriteString(title.Render("Policy"))
		b.WriteString("\n")
		b.WriteString(lipgloss.NewStyle().Width(72).Render(strings.TrimSpace(*p)))
		b.WriteString("\n")
	}
	if r.Model != "" || r.Source != "" {
		b.WriteString(muted.Render(fmt.Sprintf("model %s · source %s", orNA(r.Model), orNA(r.Source))))
	}
	return strings.TrimRight(b.String(), "\n")
}

// SeriesTable lists every point, oldest first.
func SeriesTable(points []model.TimePoint) string {
	if len(points) == 0 {
		return muted.Render("No samples in this window.")
	}
	var b strings.Builder
	for _, p := range points {
		value := "—"
		if p.TVOCPPB != nil {
			value = fmt.Sprintf("%8.1f ppb  %s", *p.TVOCPPB, model.ClassifyTVOC(p.TVOCPPB))
		}
		fmt.Fprintf(&b, "%s  %s\n", p.Timestamp.UTC().Format("2006-01-02 15:04"), value)
	}
	return strings.TrimRight(b.String(), "\n")
}

func seriesLine(points []model.TimePoint) string {
	if len(points) == 0 {
		return row("TVOC", muted.Render("no series"))
	}
	return row("TVOC", Sparkline(points))
}

// Sparkline scales readings between the series minimum and maximum. Empty
// buckets render as a space.
func Sparkline(points []model.TimePoint) string {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, p := range points {
		if p.TVOCPPB == nil {
			continue
		}
		lo = math.Min(lo, *p.TVOCPPB)
		hi = math.Max(hi, *p.TVOCPPB)
	}
	out := make([]rune, 0, len(points))
	for _, p := range points {
		if p.TVOCPPB == nil {
			out = append(out, ' ')
			continue
		}
		idx := 0
		if hi > lo {
			idx = int(math.Round((*p.TVOCPPB - lo) / (hi - lo) * float64(len(sparkRunes)-1)))
		}
		out = append(out, sparkRunes[idx])
	}
	return string(out)
}

// Age formats a duration the way the dashboard header shows it.
func Age(d time.Duration) string {
	switch {
	case d < 0:
		return "0s"
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

func row(name, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, label.Render(name), value)
}

func list(b *strings.Builder, heading string, items []string, bullet string) {
	if len(items) == 0 {
		return
	}
	b.WriteString(title.Render(heading))
	b.WriteString("\n")
	for _, item := range items {
		fmt.Fprintf(b, "  %s %s\n", bullet, item)
	}
}

func ppb(v float64, ok bool) string {
	if !ok {
		return "n/a"
	}
	return fmt.Sprintf("%.1f ppb", v)
}

func percent(v float64, ok bool) string {
	if !ok {
		return "n/a"
	}
	return fmt.Sprintf("%.1f%%", v*100)
}

func slope(v float64, ok bool) string {
	if !ok {
		return "n/a"
	}
	return fmt.Sprintf("%+.2f ppb/h", v)
}

func orNA(s string) string {
	if s == "" {
		return "n/a"
	}
	return s
}
