package csvlog

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"sync"

	"github.com/banshee-data/presence.report/internal/fsutil"
	"github.com/banshee-data/presence.report/internal/tof/l5tracks"
)

// Writer appends one CSV row per record and flushes after every row. The
// header is written only when the file is new or empty.
type Writer struct {
	path   string
	layout string

	mu     sync.Mutex
	file   io.WriteCloser
	csv    *csv.Writer
	rows   int
	closed bool
}

// Open opens path for appending, creating its directory if needed. An
// empty layout selects l5tracks.DefaultTimestampLayout.
func Open(fsys fsutil.FileSystem, path, layout string) (*Writer, error) {
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	if layout == "" {
		layout = l5tracks.DefaultTimestampLayout
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := fsys.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create record directory: %w", err)
		}
	}

	needHeader := true
	info, err := fsys.Stat(path)
	switch {
	case err == nil:
		if info.IsDir() {
			return nil, fmt.Errorf("record file %s is a directory", path)
		}
		needHeader = info.Size() == 0
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("stat record file: %w", err)
	}

	f, err := fsys.OpenAppend(path)
	if err != nil {
		return nil, fmt.Errorf("open record file: %w", err)
	}
	w := &Writer{path: path, layout: layout, file: f, csv: csv.NewWriter(f)}
	if needHeader {
		if err := w.writeRow(l5tracks.CSVHeader()); err != nil {
			f.Close()
			return nil, fmt.Errorf("write header: %w", err)
		}
	}
	return w, nil
}

// Path returns the file being written.
func (w *Writer) Path() string { return w.path }

// Rows returns the number of records written through this writer.
func (w *Writer) Rows() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rows
}

// WriteRecord appends rec as one row.
func (w *Writer) WriteRecord(_ context.Context, rec l5tracks.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fs.ErrClosed
	}
	if err := w.writeRow(rec.CSVRow(w.layout)); err != nil {
		return fmt.Errorf("append record for frame %d: %w", rec.FrameID, err)
	}
	w.rows++
	return nil
}

func (w *Writer) writeRow(row []string) error {
	if err := w.csv.Write(row); err != nil {
		return err
	}
	w.csv.Flush()
	return w.csv.Error()
}

// Close flushes and closes the file. Further writes fail with fs.ErrClosed.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	w.csv.Flush()
	return errors.Join(w.csv.Error(), w.file.Close())
}
