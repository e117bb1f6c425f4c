// Command gen-frames writes a synthetic sequence of depth frames (a wall
// with an optional target in front of it) for demos and soak tests of
// tof-tracker.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/presence.report/internal/tof/l1frames"
	"github.com/banshee-data/presence.report/internal/tof/l4perception"
)

var (
	outDir      = flag.String("out", "frames", "Output directory")
	count       = flag.Int("n", 60, "Number of frames to write")
	start       = flag.Int("start", 1, "Number of the first frame")
	width       = flag.Int("width", 640, "Frame width in pixels")
	height      = flag.Int("height", 480, "Frame height in pixels")
	wallDepth   = flag.Float64("wall", 4.0, "Wall distance in metres")
	personDepth = flag.Float64("person-depth", 2.0, "Target distance in metres")
	personBox   = flag.String("box", "200,150,100,100", "Target box as x,y,w,h")
	enter       = flag.Int("enter", 20, "Frame index (0-based) at which the target appears")
	leave       = flag.Int("leave", 0, "Frame index at which the target leaves (0 = never)")
	walk        = flag.Int("walk", 0, "Columns the target moves per frame")
	noise       = flag.Float64("noise", 0, "Gaussian depth noise sigma in metres")
	seed        = flag.Uint64("seed", 1, "Noise seed")
	format      = flag.String("format", "png", "Frame format: png or raw")
	depthScale  = flag.Float64("scale", l1frames.DefaultDepthScale, "Metres per raw unit")
	interval    = flag.Duration("interval", 0, "Pause between frames to mimic a live camera")
)

func main() {
	flag.Parse()

	box, err := parseBox(*personBox)
	if err != nil {
		log.Fatalf("invalid -box: %v", err)
	}
	if *width <= 0 || *height <= 0 {
		log.Fatal("width and height must be positive")
	}
	if *format != "png" && *format != "raw" {
		log.Fatalf("unsupported format %q", *format)
	}
	if err := os.MkdirAll(*outDir, 0755); err != nil {
		log.Fatalf("failed to create output dir: %v", err)
	}

	s := &scene{
		width:       *width,
		height:      *height,
		wallDepth:   *wallDepth,
		personDepth: *personDepth,
		person:      box,
		walk:        *walk,
		enter:       *enter,
		leave:       *leave,
		noise:       newNoise(*noise, *seed),
	}

	for i := 0; i < *count; i++ {
		name := filepath.Join(*outDir, fmt.Sprintf("depth_%05d.%s", *start+i, *format))
		if err := writeFrame(name, s.frame(i)); err != nil {
			log.Fatalf("frame %d: %v", i, err)
		}
		if *interval > 0 && i < *count-1 {
			time.Sleep(*interval)
		}
	}
	log.Printf("wrote %d frames to %s", *count, *outDir)
}

// writeFrame writes through a temporary name and renames, so a watcher
// never sees a partial frame.
func writeFrame(name string, f *l1frames.DepthFrame) error {
	var data []byte
	switch filepath.Ext(name) {
	case ".raw":
		var err error
		if data, err = l1frames.EncodeRaw(f, *depthScale); err != nil {
			return err
		}
	default:
		var buf bytes.Buffer
		if err := l1frames.EncodePNG(&buf, f, *depthScale); err != nil {
			return err
		}
		data = buf.Bytes()
	}
	tmp := name + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, name)
}

func parseBox(s string) (l4perception.Box, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return l4perception.Box{}, fmt.Errorf("want x,y,w,h, got %q", s)
	}
	var v [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return l4perception.Box{}, fmt.Errorf("field %d: %w", i+1, err)
		}
		v[i] = n
	}
	if v[2] <= 0 || v[3] <= 0 {
		return l4perception.Box{}, fmt.Errorf("width and height must be positive")
	}
	return l4perception.Box{X: v[0], Y: v[1], W: v[2], H: v[3]}, nil
}
