package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/fireshield/fsclient/internal/model"
)

func openTestStore(t *testing.T) (*Store, context.Context, string) {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")
	store, err := OpenMigrated(ctx, path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store, ctx, path
}

func TestSecretRoundTripSurvivesReopen(t *testing.T) {
	store, ctx, path := openTestStore(t)

	if _, err := store.GetSecret(ctx, "fireshield.jwt"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on empty store, got %v", err)
	}
	if err := store.PutSecret(ctx, "fireshield.jwt", "abc"); err != nil {
		t.Fatalf("put secret: %v", err)
	}
	if err := store.PutSecret(ctx, "fireshield.jwt", "def"); err != nil {
		t.Fatalf("overwrite secret: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	reopened, err := OpenMigrated(ctx, path)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer reopened.Close() //nolint:errcheck
	got, err := reopened.GetSecret(ctx, "fireshield.jwt")
	if err != nil {
		t.Fatalf("get secret after reopen: %v", err)
	}
	if got != "def" {
		t.Fatalf("expected def, got %q", got)
	}
}

func TestDeleteSecretIsIdempotent(t *testing.T) {
	store, ctx, _ := openTestStore(t)
	if err := store.DeleteSecret(ctx, "fireshield.jwt"); err != nil {
		t.Fatalf("delete on empty store: %v", err)
	}
	if err := store.PutSecret(ctx, "fireshield.jwt", "abc"); err != nil {
		t.Fatalf("put secret: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := store.DeleteSecret(ctx, "fireshield.jwt"); err != nil {
			t.Fatalf("delete pass %d: %v", i, err)
		}
	}
	if _, err := store.GetSecret(ctx, "fireshield.jwt"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestPutSecretRejectsEmptyKey(t *testing.T) {
	store, ctx, _ := openTestStore(t)
	if err := store.PutSecret(ctx, "  ", "abc"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	store, ctx, _ := openTestStore(t)

	if _, err := store.LoadSnapshot(ctx, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound before save, got %v", err)
	}

	v := 612.5
	fetched := time.Date(2025, 10, 19, 13, 0, 0, 0, time.UTC)
	snap := Snapshot{
		WindowHours: 24,
		Report: model.Report{
			WindowHours: 24,
			Metrics:     model.MetricsFromValues(map[string]any{"severity": "ELEVATED", "avg_tvoc_ppb": 612.5}),
			AIReport:    model.AIReport{Summary: "elevated", KeyFindings: []string{"spike"}},
			Model:       "demo",
			Source:      "fallback",
		},
		Series:    []model.TimePoint{{Timestamp: fetched.Add(-time.Hour), TVOCPPB: &v}, {Timestamp: fetched}},
		FetchedAt: fetched,
	}
	if err := store.SaveSnapshot(ctx, snap); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}

	got, err := store.LoadSnapshot(ctx, DefaultSnapshotKey)
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if got.WindowHours != 24 || !got.FetchedAt.Equal(fetched) {
		t.Fatalf("unexpected snapshot header: %+v", got)
	}
	if got.Report.Severity() != model.SeverityElevated {
		t.Fatalf("expected ELEVATED severity to survive round trip, got %s", got.Report.Severity())
	}
	if avg, ok := got.Report.AvgTVOC(); !ok || avg != 612.5 {
		t.Fatalf("unexpected avg tvoc: %v %v", avg, ok)
	}
	if len(got.Series) != 2 || got.Series[0].TVOCPPB == nil || got.Series[1].TVOCPPB != nil {
		t.Fatalf("unexpected series: %+v", got.Series)
	}

	if err := store.DeleteSnapshot(ctx, ""); err != nil {
		t.Fatalf("delete snapshot: %v", err)
	}
	if _, err := store.LoadSnapshot(ctx, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestSaveSnapshotRejectsNonPositiveWindow(t *testing.T) {
	store, ctx, _ := openTestStore(t)
	if err := store.SaveSnapshot(ctx, Snapshot{WindowHours: 0}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
