package render

import (
	"strings"
	"testing"
	"time"

	"github.com/fireshield/fsclient/internal/model"
	"github.com/fireshield/fsclient/internal/session"
	"github.com/fireshield/fsclient/internal/testutil"
)

func TestSparklineScalesAndKeepsGaps(t *testing.T) {
	v := func(f float64) *float64 { return &f }
	points := []model.TimePoint{
		{TVOCPPB: v(100)},
		{TVOCPPB: nil},
		{TVOCPPB: v(550)},
		{TVOCPPB: v(1000)},
	}
	got := []rune(Sparkline(points))
	if len(got) != 4 {
		t.Fatalf("expected 4 runes, got %d", len(got))
	}
	if got[0] != '▁' || got[1] != ' ' || got[3] != '█' {
		t.Fatalf("unexpected sparkline %q", string(got))
	}
}

func TestSparklineFlatSeries(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := Sparkline(testutil.HourlySeries(now, 3, 400)); got != "▁▁▁" {
		t.Fatalf("expected flat sparkline, got %q", got)
	}
}

func TestDashboardShowsReport(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	report := testutil.Report(model.SeverityCritical, 950)
	snap := session.Snapshot{
		State:           session.StateAuthenticated,
		IsAuthenticated: true,
		Report:          &report,
		Series:          testutil.HourlySeries(now, 6, 950),
		Severity:        report.Severity(),
		UpdatedAt:       now.Add(-90 * time.Second),
		Stale:           true,
		LastError:       "Network error. Pull to retry.",
		Link:            session.LinkDegraded,
		WindowHours:     24,
	}
	out := Dashboard(snap, now)
	for _, want := range []string{"CRITICAL", "950.0 ppb", "updated 1m ago", "cached", "link degraded", "Network error. Pull to retry.", "last 24h"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected dashboard to contain %q:\n%s", want, out)
		}
	}
}

func TestDashboardMissingMetricsShowNA(t *testing.T) {
	report := model.Report{}
	out := Metrics(report)
	if !strings.Contains(out, "n/a") {
		t.Fatalf("expected n/a for missing metrics:\n%s", out)
	}
}

func TestDashboardSignedOutIsStatus(t *testing.T) {
	out := Dashboard(session.Snapshot{State: session.StateUnauthenticated, LastError: "Session expired. Please sign in again."}, time.Now())
	if !strings.Contains(out, "unauthenticated") || !strings.Contains(out, "Session expired") {
		t.Fatalf("unexpected signed-out view:\n%s", out)
	}
}

func TestSeriesTable(t *testing.T) {
	v := 950.0
	out := SeriesTable([]model.TimePoint{
		{Timestamp: time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC), TVOCPPB: &v},
		{Timestamp: time.Date(2026, 1, 1, 2, 0, 0, 0, time.UTC)},
	})
	if !strings.Contains(out, "2026-01-01 01:00") || !strings.Contains(out, "CRITICAL") || !strings.Contains(out, "—") {
		t.Fatalf("unexpected series table:\n%s", out)
	}
	if !strings.Contains(SeriesTable(nil), "No samples") {
		t.Fatalf("expected empty-series message")
	}
}

func TestAge(t *testing.T) {
	cases := map[time.Duration]string{
		-time.Second:    "0s",
		5 * time.Second: "5s",
		3 * time.Minute: "3m",
		5 * time.Hour:   "5h",
		72 * time.Hour:  "3d",
	}
	for d, want := range cases {
		if got := Age(d); got != want {
			t.Fatalf("Age(%v): expected %q, got %q", d, want, got)
		}
	}
}
