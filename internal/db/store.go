package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fireshield/fsclient/internal/model"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
)

// DefaultSnapshotKey identifies the dashboard's last good report.
const DefaultSnapshotKey = "dashboard"

type Store struct {
	db *sql.DB
}

func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil && !errors.Is(err, os.ErrNotExist) {
		_ = db.Close()
		return nil, fmt.Errorf("chmod db path: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenMigrated opens the store and brings the schema up to date.
func OpenMigrated(ctx context.Context, path string) (*Store, error) {
	store, err := Open(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := ApplyMigrations(ctx, store.DB()); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) PutSecret(ctx context.Context, key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("%w: secret key is required", ErrInvalidInput)
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO secrets(secret_key, secret_value, updated_at)
VALUES (?, ?, ?)
ON CONFLICT(secret_key) DO UPDATE SET
	secret_value=excluded.secret_value,
	updated_at=excluded.updated_at
`, key, value, ts(time.Now()))
	if err != nil {
		return fmt.Errorf("put secret: %w", err)
	}
	return nil
}

func (s *Store) GetSecret(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT secret_value FROM secrets WHERE secret_key = ?`, strings.TrimSpace(key)).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get secret: %w", err)
	}
	return value, nil
}

// DeleteSecret is a no-op when the key does not exist.
func (s *Store) DeleteSecret(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM secrets WHERE secret_key = ?`, strings.TrimSpace(key)); err != nil {
		return fmt.Errorf("delete secret: %w", err)
	}
	return nil
}

// Snapshot is a persisted last-good report/series pair.
type Snapshot struct {
	Key         string
	WindowHours int
	Report      model.Report
	Series      []model.TimePoint
	FetchedAt   time.Time
}

func (s *Store) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	key := strings.TrimSpace(snap.Key)
	if key == "" {
		key = DefaultSnapshotKey
	}
	if snap.WindowHours <= 0 {
		return fmt.Errorf("%w: window_hours must be positive", ErrInvalidInput)
	}
	if snap.FetchedAt.IsZero() {
		snap.FetchedAt = time.Now().UTC()
	}
	reportJSON, err := json.Marshal(snap.Report)
	if err != nil {
		return fmt.Errorf("marshal snapshot report: %w", err)
	}
	series := snap.Series
	if series == nil {
		series = []model.TimePoint{}
	}
	seriesJSON, err := json.Marshal(series)
	if err != nil {
		return fmt.Errorf("marshal snapshot series: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO report_snapshots(snapshot_key, window_hours, report_json, series_json, fetched_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(snapshot_key) DO UPDATE SET
	window_hours=excluded.window_hours,
	report_json=excluded.report_json,
	series_json=excluded.series_json,
	fetched_at=excluded.fetched_at
`, key, snap.WindowHours, string(reportJSON), string(seriesJSON), ts(snap.FetchedAt))
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (s *Store) LoadSnapshot(ctx context.Context, key string) (Snapshot, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		key = DefaultSnapshotKey
	}
	var (
		out        Snapshot
		reportJSON string
		seriesJSON string
		fetchedAt  string
	)
	err := s.db.QueryRowContext(ctx, `
SELECT snapshot_key, window_hours, report_json, series_json, fetched_at
FROM report_snapshots
WHERE snapshot_key = ?
`, key).Scan(&out.Key, &out.WindowHours, &reportJSON, &seriesJSON, &fetchedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Snapshot{}, ErrNotFound
		}
		return Snapshot{}, fmt.Errorf("scan snapshot: %w", err)
	}
	if err := json.Unmarshal([]byte(reportJSON), &out.Report); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot report: %w", err)
	}
	if err := json.Unmarshal([]byte(seriesJSON), &out.Series); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot series: %w", err)
	}
	if out.FetchedAt, err = parseTS(fetchedAt); err != nil {
		return Snapshot{}, fmt.Errorf("parse snapshot fetched_at: %w", err)
	}
	return out, nil
}

func (s *Store) DeleteSnapshot(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		key = DefaultSnapshotKey
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM report_snapshots WHERE snapshot_key = ?`, key); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTS(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
