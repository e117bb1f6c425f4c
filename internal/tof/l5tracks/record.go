package l5tracks

import (
	"strconv"
	"time"

	"github.com/banshee-data/presence.report/internal/tof/l1frames"
	"github.com/banshee-data/presence.report/internal/tof/l4perception"
)

// RecordSlots is the number of detections a record carries.
const RecordSlots = 2

// DefaultTimestampLayout is the time layout for CSV timestamps.
const DefaultTimestampLayout = "2006-01-02 15:04:05.000"

// LegacyTimestampLayout matches the day-first format of the first
// generation tracker logs.
const LegacyTimestampLayout = "02-01-06 15:04:05"

// Detection is one foreground region in a frame.
type Detection struct {
	Box       l4perception.Box `json:"box"`
	Angles    Angles           `json:"angles"`
	PixelArea int              `json:"pixel_area"`
}

// Record is the per-frame output of the pipeline. A nil slot means no
// detection; it is never filled with zeros.
type Record struct {
	Timestamp  time.Time               `json:"timestamp"`
	FrameID    l1frames.FrameID        `json:"frame_id"`
	RunID      string                  `json:"run_id"`
	Detections [RecordSlots]*Detection `json:"detections"`
}

// Assemble fills the detection slots in order from boxes and their angles.
// Boxes beyond RecordSlots, or without a matching angle, are dropped. areas
// may be shorter than boxes.
func Assemble(ts time.Time, frameID l1frames.FrameID, runID string, boxes []l4perception.Box, areas []int, angles []Angles) Record {
	rec := Record{Timestamp: ts, FrameID: frameID, RunID: runID}
	for i := 0; i < RecordSlots && i < len(boxes) && i < len(angles); i++ {
		d := &Detection{Box: boxes[i], Angles: angles[i]}
		if i < len(areas) {
			d.PixelArea = areas[i]
		}
		rec.Detections[i] = d
	}
	return rec
}

// Count returns the number of filled slots.
func (r Record) Count() int {
	n := 0
	for _, d := range r.Detections {
		if d != nil {
			n++
		}
	}
	return n
}

// CSVHeader returns the column names of the legacy tracking log.
func CSVHeader() []string {
	header := []string{"timestamp"}
	for i := 1; i <= RecordSlots; i++ {
		n := strconv.Itoa(i)
		header = append(header,
			"x_"+n, "y_"+n, "w_"+n, "h_"+n, "angle_hor_"+n, "angle_ver_"+n)
	}
	return header
}

// CSVRow renders the record in CSVHeader order. Absent detections produce
// empty fields. An empty layout uses DefaultTimestampLayout.
func (r Record) CSVRow(layout string) []string {
	if layout == "" {
		layout = DefaultTimestampLayout
	}
	row := make([]string, 0, 1+6*RecordSlots)
	row = append(row, r.Timestamp.Format(layout))
	for _, d := range r.Detections {
		if d == nil {
			row = append(row, "", "", "", "", "", "")
			continue
		}
		row = append(row,
			strconv.Itoa(d.Box.X),
			strconv.Itoa(d.Box.Y),
			strconv.Itoa(d.Box.W),
			strconv.Itoa(d.Box.H),
			formatAngle(d.Angles.HorizontalDeg),
			formatAngle(d.Angles.VerticalDeg),
		)
	}
	return row
}

func formatAngle(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
