package events

import (
	"time"

	"github.com/offlinefirst/screenreel/pkg/project"
)

// HeaderSchemaVersion is written into new event logs.
const HeaderSchemaVersion = "1.0"

// Header is the first record of every events.jsonl file.
type Header struct {
	SchemaVersion          string                  `json:"schema_version"`
	EpochMonotonicNs       uint64                  `json:"epoch_monotonic_ns"`
	EpochWall              string                  `json:"epoch_wall"`
	CaptureWidth           int                     `json:"capture_width"`
	CaptureHeight          int                     `json:"capture_height"`
	ScaleFactor            float64                 `json:"scale_factor"`
	PointerSampleRateHz    int                     `json:"pointer_sample_rate_hz"`
	PointerCoordinateSpace project.CoordinateSpace `json:"pointer_coordinate_space,omitempty"`
}

// NewHeader fills the schema version and the wall-clock epoch.
func NewHeader(epoch time.Time, monotonicNs uint64, width, height int, space project.CoordinateSpace) Header {
	return Header{
		SchemaVersion:          HeaderSchemaVersion,
		EpochMonotonicNs:       monotonicNs,
		EpochWall:              epoch.UTC().Format(time.RFC3339Nano),
		CaptureWidth:           width,
		CaptureHeight:          height,
		ScaleFactor:            1.0,
		PointerSampleRateHz:    60,
		PointerCoordinateSpace: space,
	}
}
