package testutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/fireshield/fsclient/internal/db"
	"github.com/fireshield/fsclient/internal/model"
)

func NewStore(t *testing.T) (*db.Store, context.Context) {
	t.Helper()
	ctx := context.Background()
	store, err := db.Open(ctx, filepath.Join(t.TempDir(), "fireshield-test.db"))
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	if err := db.ApplyMigrations(ctx, store.DB()); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return store, ctx
}

// Report builds a report carrying the given severity and average TVOC.
func Report(severity model.Severity, avgTVOC float64) model.Report {
	return model.Report{
		WindowHours: 24,
		Metrics: model.MetricsFromValues(map[string]any{
			model.MetricSeverity: string(severity),
			model.MetricAvgTVOC:  avgTVOC,
		}),
		AIReport: model.AIReport{
			Summary:         string(severity) + " exposure",
			KeyFindings:     []string{},
			Recommendations: []string{},
			DeconChecklist:  []string{},
		},
		Model:  "test",
		Source: "test",
	}
}

// HourlySeries returns n hourly points ending at end, all carrying value.
func HourlySeries(end time.Time, n int, value float64) []model.TimePoint {
	out := make([]model.TimePoint, 0, n)
	start := end.Truncate(time.Hour).Add(-time.Duration(n-1) * time.Hour)
	for i := 0; i < n; i++ {
		v := value
		out = append(out, model.TimePoint{Timestamp: start.Add(time.Duration(i) * time.Hour), TVOCPPB: &v})
	}
	return out
}
