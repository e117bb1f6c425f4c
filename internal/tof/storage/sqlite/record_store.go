package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/banshee-data/presence.report/internal/tof/l1frames"
	"github.com/banshee-data/presence.report/internal/tof/l4perception"
	"github.com/banshee-data/presence.report/internal/tof/l5tracks"
)

// ErrRunNotFound is returned when a run identifier has no row.
var ErrRunNotFound = errors.New("run not found")

// pragmas are applied by the driver to every pooled connection.
var pragmas = []string{
	"journal_mode(WAL)",
	"busy_timeout(5000)",
	"synchronous(NORMAL)",
	"temp_store(MEMORY)",
	"foreign_keys(1)",
}

// RunInfo describes one execution of the tracker.
type RunInfo struct {
	RunID      string          `json:"run_id"`
	StartedAt  time.Time       `json:"started_at"`
	EndedAt    *time.Time      `json:"ended_at,omitempty"`
	SourceDir  string          `json:"source_dir,omitempty"`
	ParamsJSON json.RawMessage `json:"params_json,omitempty"`
}

// RecordStore is an append-only store of tracking records.
type RecordStore struct {
	db *sql.DB

	// TimestampLayout formats the human-readable timestamp column.
	TimestampLayout string

	mu   sync.Mutex
	runs map[string]bool
}

// Open opens (creating if needed) the database file at path and migrates it
// to the latest schema. path must name a file; each pooled connection to
// ":memory:" would see its own empty database.
func Open(path string) (*RecordStore, error) {
	q := url.Values{}
	for _, p := range pragmas {
		q.Add("_pragma", p)
	}
	db, err := sql.Open("sqlite", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("open record database %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open record database %s: %w", path, err)
	}
	s := NewRecordStore(db)
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewRecordStore wraps an already-migrated database.
func NewRecordStore(db *sql.DB) *RecordStore {
	return &RecordStore{
		db:              db,
		TimestampLayout: l5tracks.DefaultTimestampLayout,
		runs:            make(map[string]bool),
	}
}

// DB exposes the underlying handle for read-only diagnostics.
func (s *RecordStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *RecordStore) Close() error { return s.db.Close() }

// BeginRun inserts a run row. If RunID is empty a UUID is generated; the
// identifier used is returned. A zero StartedAt is stamped with time.Now.
func (s *RecordStore) BeginRun(ctx context.Context, run RunInfo) (string, error) {
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	var params interface{}
	if len(run.ParamsJSON) > 0 {
		params = string(run.ParamsJSON)
	}
	err := retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO tof_runs (run_id, started_unix_nanos, source_dir, params_json)
			VALUES (?, ?, ?, ?)`,
			run.RunID, run.StartedAt.UnixNano(), run.SourceDir, params,
		)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("begin run %s: %w", run.RunID, err)
	}
	s.mu.Lock()
	s.runs[run.RunID] = true
	s.mu.Unlock()
	return run.RunID, nil
}

// EndRun stamps the end time of a run.
func (s *RecordStore) EndRun(ctx context.Context, runID string, endedAt time.Time) error {
	var res sql.Result
	err := retryOnBusy(ctx, func() error {
		var err error
		res, err = s.db.ExecContext(ctx,
			`UPDATE tof_runs SET ended_unix_nanos = ? WHERE run_id = ?`,
			endedAt.UnixNano(), runID)
		return err
	})
	if err != nil {
		return fmt.Errorf("end run %s: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("end run %s: %w", runID, ErrRunNotFound)
	}
	return nil
}

// Run returns the metadata of one run.
func (s *RecordStore) Run(ctx context.Context, runID string) (*RunInfo, error) {
	var (
		started int64
		ended   sql.NullInt64
		dir     sql.NullString
		params  sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT started_unix_nanos, ended_unix_nanos, source_dir, params_json
		FROM tof_runs WHERE run_id = ?`, runID,
	).Scan(&started, &ended, &dir, &params)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("query run %s: %w", runID, err)
	}
	info := &RunInfo{
		RunID:     runID,
		StartedAt: time.Unix(0, started).UTC(),
		SourceDir: dir.String,
	}
	if ended.Valid {
		t := time.Unix(0, ended.Int64).UTC()
		info.EndedAt = &t
	}
	if params.Valid {
		info.ParamsJSON = json.RawMessage(params.String)
	}
	return info, nil
}

// WriteRecord appends one record. A run row is created on first use of an
// unknown run identifier.
func (s *RecordStore) WriteRecord(ctx context.Context, rec l5tracks.Record) error {
	if err := s.ensureRun(ctx, rec.RunID, rec.Timestamp); err != nil {
		return err
	}
	layout := s.TimestampLayout
	if layout == "" {
		layout = l5tracks.DefaultTimestampLayout
	}
	args := []interface{}{
		rec.RunID, int64(rec.FrameID), rec.Timestamp.UnixNano(), rec.Timestamp.Format(layout),
	}
	for _, d := range rec.Detections {
		args = append(args, detectionArgs(d)...)
	}
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO tof_records (
				run_id, frame_id, timestamp_unix_nanos, timestamp,
				x_1, y_1, w_1, h_1, angle_h_1, angle_v_1, area_1,
				x_2, y_2, w_2, h_2, angle_h_2, angle_v_2, area_2
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			args...,
		)
		if err != nil {
			return fmt.Errorf("insert record for frame %d: %w", rec.FrameID, err)
		}
		return nil
	})
}

func (s *RecordStore) ensureRun(ctx context.Context, runID string, at time.Time) error {
	s.mu.Lock()
	known := s.runs[runID]
	s.mu.Unlock()
	if known {
		return nil
	}
	err := retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO tof_runs (run_id, started_unix_nanos) VALUES (?, ?)`,
			runID, at.UnixNano())
		return err
	})
	if err != nil {
		return fmt.Errorf("register run %s: %w", runID, err)
	}
	s.mu.Lock()
	s.runs[runID] = true
	s.mu.Unlock()
	return nil
}

// detectionArgs returns x, y, w, h, angle_h, angle_v and area for one slot,
// all nil when the slot is empty.
func detectionArgs(d *l5tracks.Detection) []interface{} {
	if d == nil {
		return []interface{}{nil, nil, nil, nil, nil, nil, nil}
	}
	return []interface{}{
		d.Box.X, d.Box.Y, d.Box.W, d.Box.H,
		d.Angles.HorizontalDeg, d.Angles.VerticalDeg, d.PixelArea,
	}
}

// Records returns the records of a run in insertion order. limit <= 0
// returns all of them.
func (s *RecordStore) Records(ctx context.Context, runID string, limit int) ([]l5tracks.Record, error) {
	query := `
		SELECT run_id, frame_id, timestamp_unix_nanos,
			x_1, y_1, w_1, h_1, angle_h_1, angle_v_1, area_1,
			x_2, y_2, w_2, h_2, angle_h_2, angle_v_2, area_2
		FROM tof_records WHERE run_id = ? ORDER BY record_id`
	args := []interface{}{runID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records for run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []l5tracks.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// CountRecords returns the number of records stored for a run.
func (s *RecordStore) CountRecords(ctx context.Context, runID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tof_records WHERE run_id = ?`, runID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count records for run %s: %w", runID, err)
	}
	return n, nil
}

type slotColumns struct {
	x, y, w, h, area sql.NullInt64
	ah, av           sql.NullFloat64
}

func (c *slotColumns) dest() []interface{} {
	return []interface{}{&c.x, &c.y, &c.w, &c.h, &c.ah, &c.av, &c.area}
}

func (c *slotColumns) detection() *l5tracks.Detection {
	if !c.x.Valid {
		return nil
	}
	return &l5tracks.Detection{
		Box: l4perception.Box{
			X: int(c.x.Int64), Y: int(c.y.Int64),
			W: int(c.w.Int64), H: int(c.h.Int64),
		},
		Angles: l5tracks.Angles{
			HorizontalDeg: c.ah.Float64,
			VerticalDeg:   c.av.Float64,
		},
		PixelArea: int(c.area.Int64),
	}
}

// scanRecord scans a record row from a sql.Rows cursor.
func scanRecord(rows *sql.Rows) (*l5tracks.Record, error) {
	var (
		rec     l5tracks.Record
		frameID int64
		nanos   int64
		slots   [l5tracks.RecordSlots]slotColumns
	)
	dest := []interface{}{&rec.RunID, &frameID, &nanos}
	for i := range slots {
		dest = append(dest, slots[i].dest()...)
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, fmt.Errorf("scan record row: %w", err)
	}
	rec.FrameID = l1frames.FrameID(frameID)
	rec.Timestamp = time.Unix(0, nanos).UTC()
	for i := range slots {
		rec.Detections[i] = slots[i].detection()
	}
	return &rec, nil
}

const (
	busyRetries = 5
	busyBackoff = 20 * time.Millisecond
)

// retryOnBusy retries fn while SQLite reports the database as busy or
// locked, backing off linearly.
func retryOnBusy(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; attempt <= busyRetries; attempt++ {
		err = fn()
		if !isBusy(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * busyBackoff):
		}
	}
	return err
}

func isBusy(err error) bool {
	var serr *msqlite.Error
	if !errors.As(err, &serr) {
		return false
	}
	switch serr.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}
