package project

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// legacyWebcamOpacity was the hard-coded overlay opacity before it became configurable.
const legacyWebcamOpacity = 0.92

// Migration reports what Migrate had to fill in. Fields listed in Defaulted were absent from
// the document and now hold the value from the default table.
type Migration struct {
	Legacy    bool     `json:"legacy"`
	Defaulted []string `json:"defaulted,omitempty"`
}

func (m *Migration) note(field string) {
	m.Legacy = true
	m.Defaulted = append(m.Defaulted, field)
}

// projectDefault is one row of the documented default table for project.json.
type projectDefault struct {
	path  string
	apply func(*Project)
}

// projectDefaults lists every field older project files may omit and the value it receives.
// Monitor and virtual geometry default to zero, which export treats as unknown.
var projectDefaults = []projectDefault{
	{"recording.pointer_coordinate_space", func(p *Project) { p.Recording.PointerCoordinateSpace = SpaceLegacyUnspecified }},
	{"recording.monitor_width", func(p *Project) { p.Recording.MonitorWidth = 0 }},
	{"recording.monitor_height", func(p *Project) { p.Recording.MonitorHeight = 0 }},
	{"recording.virtual_width", func(p *Project) { p.Recording.VirtualWidth = 0 }},
	{"recording.virtual_height", func(p *Project) { p.Recording.VirtualHeight = 0 }},
	{"recording.audio_sample_rate", func(p *Project) { p.Recording.AudioSampleRate = 48000 }},
	{"recording.scale_factor", func(p *Project) { p.Recording.ScaleFactor = 1.0 }},
	{"export.webcam", func(p *Project) { p.Export.Webcam = DefaultWebcam() }},
	{"export.webcam.corner", func(p *Project) { p.Export.Webcam.Corner = CornerBottomRight }},
	{"export.canvas", func(p *Project) { p.Export.Canvas = DefaultCanvas() }},
}

// Migrate decodes project.json bytes and resolves every missing field through the
// default table. It never guesses silently: each filled field is listed in the report.
func Migrate(data []byte) (Project, Migration, error) {
	var (
		p   Project
		mig Migration
	)
	if !gjson.ValidBytes(data) {
		return p, mig, fmt.Errorf("project document is not valid JSON")
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, mig, fmt.Errorf("decode project: %w", err)
	}
	doc := gjson.ParseBytes(data)
	for _, row := range projectDefaults {
		if doc.Get(row.path).Exists() {
			continue
		}
		if parentMissing(doc, row.path) {
			continue
		}
		row.apply(&p)
		mig.note(row.path)
	}
	if p.Recording.PointerCoordinateSpace == "" {
		p.Recording.PointerCoordinateSpace = SpaceLegacyUnspecified
	}
	if p.Recording.PointerCoordinateSpace == SpaceLegacyUnspecified {
		mig.Legacy = true
	}
	if op := doc.Get("export.webcam.opacity"); op.Exists() && op.Float() == legacyWebcamOpacity {
		p.Export.Webcam.Opacity = 1.0
		mig.note("export.webcam.opacity")
	}
	if p.Version == "" {
		p.Version = SchemaVersion
		mig.note("version")
	}
	return p, mig, nil
}

// parentMissing skips nested rows whose parent block was already defaulted as a whole.
func parentMissing(doc gjson.Result, path string) bool {
	for i := len(path) - 1; i > 0; i-- {
		if path[i] != '.' {
			continue
		}
		parent := path[:i]
		if parent == "recording" || parent == "export" {
			return false
		}
		return !doc.Get(parent).Exists()
	}
	return false
}

// MigrateTimeline decodes timeline.json bytes, filling cursor settings added after the
// first release.
func MigrateTimeline(data []byte) (Timeline, Migration, error) {
	tl := NewTimeline()
	var mig Migration
	if !gjson.ValidBytes(data) {
		return tl, mig, fmt.Errorf("timeline document is not valid JSON")
	}
	doc := gjson.ParseBytes(data)
	if err := json.Unmarshal(data, &tl); err != nil {
		return tl, mig, fmt.Errorf("decode timeline: %w", err)
	}
	defaults := DefaultCursorConfig()
	if !doc.Get("cursor_config").Exists() {
		tl.CursorConfig = defaults
		mig.note("cursor_config")
	} else if !doc.Get("cursor_config.motion_trail").Exists() {
		tl.CursorConfig.MotionTrail = defaults.MotionTrail
		mig.note("cursor_config.motion_trail")
	}
	if tl.Keyframes == nil {
		tl.Keyframes = []Keyframe{}
	}
	if tl.Cuts == nil {
		tl.Cuts = []Cut{}
	}
	if tl.Effects == nil {
		tl.Effects = []Effect{}
	}
	for i := range tl.Keyframes {
		if tl.Keyframes[i].Easing == "" {
			tl.Keyframes[i].Easing = EasingEaseInOut
		}
		if tl.Keyframes[i].Source == "" {
			tl.Keyframes[i].Source = SourceAuto
		}
	}
	tl.Normalize()
	return tl, mig, nil
}
