package export

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/offlinefirst/screenreel/pkg/faults"
	"github.com/offlinefirst/screenreel/pkg/project"
)

// SyncDriftThreshold is the offset delta above which the sync report warns.
const SyncDriftThreshold = 120 * time.Millisecond

// Artifacts are the diagnostic files written next to every export, successful or not.
type Artifacts struct {
	SyncReport   string `json:"sync_report"`
	Debug        string `json:"debug"`
	Verification string `json:"verification"`
}

// ArtifactPaths derives the diagnostic paths for output.
func ArtifactPaths(output string) Artifacts {
	return Artifacts{
		SyncReport:   output + ".sync-report.json",
		Debug:        output + ".ffmpeg-debug.txt",
		Verification: output + ".verification.json",
	}
}

// Dimensions is a width/height pair.
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// TrackReport is one track's entry in the sync report.
type TrackReport struct {
	Name          string   `json:"name"`
	OffsetNs      int64    `json:"offset_ns"`
	DeltaNs       int64    `json:"delta_vs_screen_ns"`
	DurationSecs  *float64 `json:"duration_secs"`
	FileAvailable bool     `json:"file_available"`
}

// SyncReport describes how the tracks were aligned for one export run.
type SyncReport struct {
	DurationSecs     float64       `json:"duration_secs"`
	StartSecs        float64       `json:"start_secs"`
	ForceFullScreen  bool          `json:"force_full_screen_render"`
	SourceDimensions Dimensions    `json:"source_dimensions"`
	MonitorPrecrop   *Crop         `json:"monitor_precrop"`
	Tracks           []TrackReport `json:"tracks"`
	Warnings         []string      `json:"warnings"`
	Error            string        `json:"error,omitempty"`
}

// BuildSyncReport compares every non-screen track against the screen reference.
func BuildSyncReport(in Inputs, forceFull bool, crop *Crop) SyncReport {
	report := SyncReport{
		DurationSecs:     in.End,
		StartSecs:        in.Start,
		ForceFullScreen:  forceFull,
		SourceDimensions: Dimensions{Width: in.SourceWidth, Height: in.SourceHeight},
		MonitorPrecrop:   crop,
		Warnings:         append([]string{}, in.Warnings...),
	}
	report.Tracks = append(report.Tracks, TrackReport{
		Name:          project.TrackScreen,
		OffsetNs:      in.Screen.OffsetNs,
		DurationSecs:  optionalDuration(in.Screen),
		FileAvailable: true,
	})
	threshold := SyncDriftThreshold.Seconds()
	for _, tr := range in.optionalTracks() {
		delta := tr.OffsetNs - in.Screen.OffsetNs
		if math.Abs(float64(delta)) > float64(SyncDriftThreshold.Nanoseconds()) {
			report.Warnings = append(report.Warnings, fmt.Sprintf("%s offset delta (%dns) exceeds %dms",
				tr.Name, delta, SyncDriftThreshold.Milliseconds()))
		}
		if in.Screen.Probed && tr.Probed {
			inferred := in.Screen.DurationSecs - tr.DurationSecs
			expected := float64(delta) / 1e9
			if math.Abs(inferred-expected) > threshold {
				report.Warnings = append(report.Warnings, fmt.Sprintf("%s inferred delta (%.3fs) differs from offset delta (%.3fs)",
					tr.Name, inferred, expected))
			}
		}
		report.Tracks = append(report.Tracks, TrackReport{
			Name:          tr.Name,
			OffsetNs:      tr.OffsetNs,
			DeltaNs:       delta,
			DurationSecs:  optionalDuration(*tr),
			FileAvailable: true,
		})
	}
	return report
}

// optionalTracks returns the present non-screen tracks in input order.
func (in Inputs) optionalTracks() []*Track {
	var out []*Track
	for _, tr := range []*Track{in.Webcam, in.Mic, in.SystemAudio} {
		if tr != nil {
			out = append(out, tr)
		}
	}
	return out
}

func optionalDuration(tr Track) *float64 {
	if !tr.Probed {
		return nil
	}
	d := tr.DurationSecs
	return &d
}

// SyncWarnings converts the report's warnings into fault warnings for run manifests.
func (r SyncReport) SyncWarnings() []faults.Warning {
	out := make([]faults.Warning, 0, len(r.Warnings))
	for _, w := range r.Warnings {
		out = append(out, faults.SyncWarning(w, nil))
	}
	return out
}

// DebugReport is an ordered key=value dump of the render plan.
type DebugReport struct {
	keys   []string
	values map[string]string
}

// Set records key, replacing any earlier value while keeping its position.
func (d *DebugReport) Set(key string, value any) {
	if d.values == nil {
		d.values = make(map[string]string)
	}
	if _, ok := d.values[key]; !ok {
		d.keys = append(d.keys, key)
	}
	d.values[key] = fmt.Sprint(value)
}

// Get returns the recorded value for key.
func (d *DebugReport) Get(key string) (string, bool) {
	v, ok := d.values[key]
	return v, ok
}

// String renders one key=value per line.
func (d *DebugReport) String() string {
	var b strings.Builder
	for _, k := range d.keys {
		fmt.Fprintf(&b, "%s=%s\n", k, d.values[k])
	}
	return b.String()
}

// Verification is the post-render sanity summary.
type Verification struct {
	Output             string `json:"output"`
	SampledFrames      int    `json:"sampled_frames"`
	CutFramesSkipped   int    `json:"cut_frames_skipped"`
	OffCameraCursors   int    `json:"out_of_bounds_cursors"`
	Status             string `json:"status"`
	Error              string `json:"error,omitempty"`
	ExpectedDurationMs int64  `json:"expected_duration_ms"`
}

// offCameraWarnRatio is the share of frames with an edge-pinned cursor that flags a warning.
const offCameraWarnRatio = 0.05

// BuildVerification summarizes a frame plan.
func BuildVerification(output string, plan FramePlan, renderErr error) Verification {
	v := Verification{
		Output:             output,
		SampledFrames:      len(plan.Frames),
		CutFramesSkipped:   plan.Skipped,
		OffCameraCursors:   plan.OffCamera,
		Status:             "ok",
		ExpectedDurationMs: int64(float64(len(plan.Frames)) / float64(max(plan.FPS, 1)) * 1000),
	}
	switch {
	case renderErr != nil:
		v.Status = "failed"
		v.Error = renderErr.Error()
	case len(plan.Frames) == 0:
		v.Status = "warn"
	case float64(plan.OffCamera)/float64(len(plan.Frames)) > offCameraWarnRatio:
		v.Status = "warn"
	}
	return v
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return faults.NewIO("write "+path, err)
	}
	return nil
}
