package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/presence.report/internal/tof/l4perception"
	"github.com/banshee-data/presence.report/internal/tof/l5tracks"
)

func openTestStore(t *testing.T) *RecordStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "records.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var testStart = time.Date(2024, 3, 9, 14, 5, 6, 250_000_000, time.UTC)

func TestOpenAppliesMigrations(t *testing.T) {
	s := openTestStore(t)

	version, dirty, err := s.MigrateVersion()
	if err != nil {
		t.Fatalf("MigrateVersion: %v", err)
	}
	latest, err := LatestMigrationVersion()
	if err != nil {
		t.Fatalf("LatestMigrationVersion: %v", err)
	}
	if version != latest || dirty {
		t.Errorf("version = %d dirty = %v, want %d clean", version, dirty, latest)
	}
	if latest != 2 {
		t.Errorf("LatestMigrationVersion() = %d, want 2", latest)
	}

	// A second MigrateUp is a no-op.
	if err := s.MigrateUp(); err != nil {
		t.Errorf("repeated MigrateUp: %v", err)
	}
}

func TestPragmasApplied(t *testing.T) {
	s := openTestStore(t)

	var journalMode string
	if err := s.DB().QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("Failed to query journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("Expected journal_mode=wal, got %s", journalMode)
	}

	var busyTimeout int
	if err := s.DB().QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout); err != nil {
		t.Fatalf("Failed to query busy_timeout: %v", err)
	}
	if busyTimeout != 5000 {
		t.Errorf("Expected busy_timeout=5000, got %d", busyTimeout)
	}
}

func TestMigrateDownAndUp(t *testing.T) {
	s := openTestStore(t)

	if err := s.MigrateDown(); err != nil {
		t.Fatalf("MigrateDown: %v", err)
	}
	version, _, err := s.MigrateVersion()
	if err != nil {
		t.Fatalf("MigrateVersion: %v", err)
	}
	if version != 1 {
		t.Errorf("version after down = %d, want 1", version)
	}
	if err := s.MigrateUp(); err != nil {
		t.Fatalf("MigrateUp: %v", err)
	}
	if err := s.WriteRecord(context.Background(), l5tracks.Record{Timestamp: testStart, RunID: "r"}); err != nil {
		t.Errorf("WriteRecord after re-migration: %v", err)
	}
}

func TestWriteRecordRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	runID, err := s.BeginRun(ctx, RunInfo{StartedAt: testStart, SourceDir: "/data/frames"})
	if err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	if len(runID) != 36 {
		t.Errorf("generated run id %q is not a UUID", runID)
	}

	records := []l5tracks.Record{
		{
			Timestamp: testStart,
			FrameID:   41,
			RunID:     runID,
			Detections: [l5tracks.RecordSlots]*l5tracks.Detection{{
				Box:       l4perception.Box{X: 20, Y: 15, W: 10, H: 10},
				Angles:    l5tracks.Angles{HorizontalDeg: -11.8125, VerticalDeg: -6.5},
				PixelArea: 100,
			}},
		},
		{Timestamp: testStart.Add(100 * time.Millisecond), FrameID: 42, RunID: runID},
		{
			Timestamp: testStart.Add(200 * time.Millisecond),
			FrameID:   43,
			RunID:     runID,
			Detections: [l5tracks.RecordSlots]*l5tracks.Detection{
				{Box: l4perception.Box{X: 1, Y: 2, W: 3, H: 4}, Angles: l5tracks.Angles{HorizontalDeg: 50.5}, PixelArea: 12},
				{Box: l4perception.Box{X: 40, Y: 30, W: 2, H: 2}, Angles: l5tracks.Angles{VerticalDeg: 7.25}, PixelArea: 4},
			},
		},
	}
	for _, rec := range records {
		if err := s.WriteRecord(ctx, rec); err != nil {
			t.Fatalf("WriteRecord(%d): %v", rec.FrameID, err)
		}
	}

	got, err := s.Records(ctx, runID, 0)
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	if diff := cmp.Diff(records, got); diff != "" {
		t.Errorf("Records() mismatch (-want +got):\n%s", diff)
	}

	limited, err := s.Records(ctx, runID, 2)
	if err != nil {
		t.Fatalf("Records(limit): %v", err)
	}
	if len(limited) != 2 || limited[1].FrameID != 42 {
		t.Errorf("Records(limit 2) = %+v", limited)
	}

	n, err := s.CountRecords(ctx, runID)
	if err != nil || n != 3 {
		t.Errorf("CountRecords = %d, %v; want 3", n, err)
	}
}

func TestAbsentSlotsAreNull(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := l5tracks.Record{Timestamp: testStart, FrameID: 7, RunID: "run-null"}
	if err := s.WriteRecord(ctx, rec); err != nil {
		t.Fatalf("WriteRecord: %v", err)
	}

	var nulls int
	err := s.DB().QueryRow(`
		SELECT COUNT(*) FROM tof_records
		WHERE x_1 IS NULL AND angle_h_1 IS NULL AND area_1 IS NULL
		  AND x_2 IS NULL AND angle_v_2 IS NULL AND area_2 IS NULL`).Scan(&nulls)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if nulls != 1 {
		t.Errorf("rows with NULL slots = %d, want 1", nulls)
	}

	var ts string
	if err := s.DB().QueryRow(`SELECT timestamp FROM tof_records`).Scan(&ts); err != nil {
		t.Fatalf("query timestamp: %v", err)
	}
	if ts != "2024-03-09 14:05:06.250" {
		t.Errorf("timestamp column = %q", ts)
	}
}

func TestWriteRecordRegistersUnknownRun(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := l5tracks.Record{Timestamp: testStart, FrameID: 1, RunID: "implicit"}
	for i := 0; i < 2; i++ {
		if err := s.WriteRecord(ctx, rec); err != nil {
			t.Fatalf("WriteRecord: %v", err)
		}
	}
	run, err := s.Run(ctx, "implicit")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !run.StartedAt.Equal(testStart) {
		t.Errorf("StartedAt = %v, want %v", run.StartedAt, testStart)
	}
	if run.EndedAt != nil {
		t.Errorf("EndedAt = %v, want nil", run.EndedAt)
	}
}

func TestRunLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	params := json.RawMessage(`{"max_boxes":2}`)
	runID, err := s.BeginRun(ctx, RunInfo{RunID: "fixed", StartedAt: testStart, ParamsJSON: params})
	if err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	if runID != "fixed" {
		t.Errorf("BeginRun returned %q", runID)
	}
	if _, err := s.BeginRun(ctx, RunInfo{RunID: "fixed"}); err == nil {
		t.Error("duplicate BeginRun should fail")
	}

	end := testStart.Add(time.Hour)
	if err := s.EndRun(ctx, runID, end); err != nil {
		t.Fatalf("EndRun: %v", err)
	}
	run, err := s.Run(ctx, runID)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.EndedAt == nil || !run.EndedAt.Equal(end) {
		t.Errorf("EndedAt = %v, want %v", run.EndedAt, end)
	}
	if string(run.ParamsJSON) != string(params) {
		t.Errorf("ParamsJSON = %s", run.ParamsJSON)
	}

	if err := s.EndRun(ctx, "missing", end); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("EndRun(missing) = %v, want ErrRunNotFound", err)
	}
	if _, err := s.Run(ctx, "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Run(missing) = %v, want ErrRunNotFound", err)
	}
}

func TestRecordsAreAppendOnly(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := l5tracks.Record{Timestamp: testStart, FrameID: 5, RunID: "dup"}
	for i := 0; i < 3; i++ {
		if err := s.WriteRecord(ctx, rec); err != nil {
			t.Fatalf("WriteRecord: %v", err)
		}
	}
	// Re-processing the same frame adds rows rather than replacing them.
	n, err := s.CountRecords(ctx, "dup")
	if err != nil || n != 3 {
		t.Errorf("CountRecords = %d, %v; want 3", n, err)
	}
}

func TestRetryOnBusyStopsOnOtherErrors(t *testing.T) {
	calls := 0
	want := errors.New("constraint")
	err := retryOnBusy(context.Background(), func() error {
		calls++
		return want
	})
	if !errors.Is(err, want) || calls != 1 {
		t.Errorf("retryOnBusy = %v after %d calls", err, calls)
	}
}
