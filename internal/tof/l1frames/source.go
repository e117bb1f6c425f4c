package l1frames

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"

	"github.com/banshee-data/presence.report/internal/fsutil"
)

// ErrUnknownFrame is returned by Load for identifiers that were not seen by
// the most recent List.
var ErrUnknownFrame = errors.New("unknown frame id")

// FrameSource is the append-only sequence of depth frames written by the
// acquisition process.
type FrameSource interface {
	// List returns the available identifiers in ascending order.
	List(ctx context.Context) ([]FrameID, error)

	// Load reads and decodes one frame.
	Load(ctx context.Context, id FrameID) (*RawFrame, error)
}

var frameNumber = regexp.MustCompile(`\d+`)

// ParseFrameID extracts the first run of digits from a file name.
func ParseFrameID(name string) (FrameID, bool) {
	m := frameNumber.FindString(filepath.Base(name))
	if m == "" {
		return 0, false
	}
	n, err := strconv.ParseUint(m, 10, 64)
	if err != nil {
		return 0, false
	}
	return FrameID(n), true
}

// DirSource enumerates a directory of frame files named with a numeric
// counter (e.g. "depth_00042.png"). Files without digits or with an
// unsupported extension are ignored. The directory is never written.
type DirSource struct {
	fs      fsutil.FileSystem
	dir     string
	decoder Decoder

	mu    sync.RWMutex
	names map[FrameID]string
}

// NewDirSource returns a source over dir.
func NewDirSource(fsys fsutil.FileSystem, dir string, decoder Decoder) *DirSource {
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	return &DirSource{fs: fsys, dir: dir, decoder: decoder, names: make(map[FrameID]string)}
}

// Dir returns the watched directory.
func (s *DirSource) Dir() string { return s.dir }

// List rescans the directory. When two files share an identifier the one
// that sorts first by name wins.
func (s *DirSource) List(ctx context.Context) ([]FrameID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := s.fs.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list frame directory %s: %w", s.dir, err)
	}

	names := make(map[FrameID]string, len(entries))
	ids := make([]FrameID, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !s.decoder.Supports(e.Name()) {
			continue
		}
		id, ok := ParseFrameID(e.Name())
		if !ok {
			continue
		}
		if _, dup := names[id]; dup {
			continue
		}
		names[id] = e.Name()
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	s.mu.Lock()
	s.names = names
	s.mu.Unlock()
	return ids, nil
}

// Load reads and decodes the frame with the given identifier. It is safe to
// call concurrently.
func (s *DirSource) Load(ctx context.Context, id FrameID) (*RawFrame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	name, ok := s.names[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownFrame, id)
	}

	path := filepath.Join(s.dir, name)
	data, err := s.fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read frame %d: %w", id, err)
	}
	depth, err := s.decoder.Decode(name, data)
	if err != nil {
		return nil, fmt.Errorf("frame %d: %w", id, err)
	}
	return &RawFrame{ID: id, Path: path, Depth: depth}, nil
}
