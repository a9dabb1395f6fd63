package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"

	"github.com/offlinefirst/screenreel/pkg/events"
	"github.com/offlinefirst/screenreel/pkg/faults"
	"github.com/offlinefirst/screenreel/pkg/media"
	"github.com/offlinefirst/screenreel/pkg/project"
)

// Trim bounds the exported range of source time in seconds. A zero End keeps the full tail.
type Trim struct {
	Start float64
	End   float64
}

// Track is one media input resolved to an absolute path.
type Track struct {
	Name         string
	Path         string
	OffsetNs     int64
	DurationSecs float64
	// Probed is set when DurationSecs is known, from metadata or ffprobe.
	Probed bool
}

// Inputs is everything an export reads from the bundle. The pipeline never writes back.
type Inputs struct {
	Layout    project.Layout
	Project   project.Project
	Timeline  project.Timeline
	Events    events.Stream
	Migration project.Migration

	Screen      Track
	Webcam      *Track
	Mic         *Track
	SystemAudio *Track

	SourceWidth  int
	SourceHeight int
	// Subtitles is the subtitle file burned into the video, empty when none is.
	Subtitles string
	// ScreenAudio is set when the prober found an audio stream in the screen source.
	ScreenAudio bool

	// Start and End bound the rendered source time.
	Start float64
	End   float64

	// Warnings found while loading, carried into the sync report.
	Warnings []string
}

// Kept is the length of the trimmed window, before cuts.
func (in Inputs) Kept() float64 {
	return math.Max(in.End-in.Start, 0)
}

// LoadInputs reads the project bundle at root, probes the screen source and resolves the
// render window. Duration falls back from track metadata to ffprobe to the last event.
func LoadInputs(ctx context.Context, root string, prober media.Prober, trim Trim, logger *slog.Logger) (Inputs, error) {
	if logger == nil {
		logger = discardLogger()
	}
	layout := project.BuildLayout(root)
	proj, mig, err := project.Load(layout.ProjectPath)
	if err != nil {
		return Inputs{}, err
	}
	tl, tlMig, err := project.LoadTimeline(layout.TimelinePath)
	if err != nil {
		return Inputs{}, err
	}
	tl.Normalize()
	if tlMig.Legacy {
		mig.Legacy = true
		mig.Defaulted = append(mig.Defaulted, tlMig.Defaulted...)
	}

	in := Inputs{Layout: layout, Project: proj, Timeline: tl, Migration: mig}
	if _, err := os.Stat(layout.EventsPath); err == nil {
		stream, err := events.ReadAll(layout.EventsPath)
		if err != nil {
			return Inputs{}, err
		}
		if stream.Resorted {
			logger.Warn("event log had out-of-order timestamps; re-sorted", slog.String("path", layout.EventsPath))
		}
		in.Events = stream
	} else if !errors.Is(err, os.ErrNotExist) {
		return Inputs{}, faults.NewIO("stat event log", err)
	}

	screen, err := resolveScreen(layout, proj)
	if err != nil {
		return Inputs{}, err
	}
	in.Screen = screen
	missing := func(name, path string) {
		logger.Warn("referenced track file is missing; exporting without it",
			slog.String("track", name), slog.String("path", path))
		in.Warnings = append(in.Warnings, fmt.Sprintf("%s track %s is missing; exported without it", name, path))
	}
	in.Webcam = optionalTrack(layout, project.TrackWebcam, proj.Tracks.Webcam, missing)
	in.Mic = optionalTrack(layout, project.TrackMic, proj.Tracks.Mic, missing)
	in.SystemAudio = optionalTrack(layout, project.TrackSystemAudio, proj.Tracks.SystemAudio, missing)

	if proj.Export.BurnSubtitles {
		if fileExists(layout.SubtitlesPath) {
			in.Subtitles = layout.SubtitlesPath
		} else {
			logger.Warn("burn_subtitles is set but the bundle has no subtitles", slog.String("path", layout.SubtitlesPath))
			in.Warnings = append(in.Warnings, fmt.Sprintf("burn_subtitles is set but %s is missing", layout.Rel(layout.SubtitlesPath)))
		}
	}

	rec := proj.Recording
	in.SourceWidth, in.SourceHeight = rec.CaptureWidth, rec.CaptureHeight
	if prober != nil {
		if w, h, err := prober.Dimensions(ctx, in.Screen.Path); err == nil {
			in.SourceWidth, in.SourceHeight = w, h
		} else {
			logger.Warn("screen dimensions unavailable; using recorded capture size", slog.Any("error", err))
		}
		if ap, ok := prober.(media.AudioProber); ok {
			if has, err := ap.HasAudio(ctx, in.Screen.Path); err == nil {
				in.ScreenAudio = has
			} else {
				logger.Debug("screen audio probe failed", slog.Any("error", err))
			}
		}
		for _, tr := range []*Track{&in.Screen, in.Webcam, in.Mic, in.SystemAudio} {
			if tr == nil || tr.Probed {
				continue
			}
			if d, err := prober.Duration(ctx, tr.Path); err == nil && d > 0 {
				tr.DurationSecs, tr.Probed = d, true
			}
		}
	}
	if rec.MonitorWidth > 0 && (in.SourceWidth != rec.MonitorWidth || in.SourceHeight != rec.MonitorHeight) {
		in.Warnings = append(in.Warnings, fmt.Sprintf("source dimensions %dx%d differ from monitor %dx%d",
			in.SourceWidth, in.SourceHeight, rec.MonitorWidth, rec.MonitorHeight))
	}
	in.Warnings = append(in.Warnings, rec.Warnings...)

	duration := in.Screen.DurationSecs
	if duration <= 0 {
		duration = in.Events.LastSeconds()
		if duration > 0 {
			logger.Info("export duration taken from last input event", slog.Float64("duration_secs", duration))
		}
	}
	if duration <= 0 || math.IsNaN(duration) {
		return Inputs{}, faults.NewRender("unable to determine recording duration from track metadata, media or events", nil)
	}
	end := duration
	if trim.End > 0 {
		end = math.Min(end, trim.End)
	}
	start := math.Max(trim.Start, 0)
	if start >= end {
		return Inputs{}, faults.NewRender(fmt.Sprintf("trim start %.3fs is not before end %.3fs", start, end), nil)
	}
	in.Start, in.End = start, end
	return in, nil
}

func resolveScreen(layout project.Layout, proj project.Project) (Track, error) {
	var declared string
	tr := Track{Name: project.TrackScreen}
	if ref := proj.Tracks.Screen; ref != nil {
		tr.OffsetNs = ref.OffsetNs
		tr.DurationSecs = ref.DurationSecs
		tr.Probed = ref.DurationSecs > 0
		declared = layout.Abs(ref.Path)
		if fileExists(declared) {
			tr.Path = declared
			return tr, nil
		}
	}
	if fileExists(layout.ScreenPath) {
		tr.Path = layout.ScreenPath
		return tr, nil
	}
	if declared != "" {
		return Track{}, faults.NewRender("screen track is missing", fmt.Errorf("%s: %w", declared, os.ErrNotExist))
	}
	return Track{}, faults.NewRender("project has no screen track and sources/screen.mkv does not exist", nil)
}

// optionalTrack resolves a secondary track. A declared track whose file is gone is reported
// through missing and dropped.
func optionalTrack(layout project.Layout, name string, ref *project.TrackRef, missing func(name, path string)) *Track {
	if ref == nil {
		return nil
	}
	path := layout.Abs(ref.Path)
	if !fileExists(path) {
		if missing != nil {
			missing(name, ref.Path)
		}
		return nil
	}
	return &Track{Name: name, Path: path, OffsetNs: ref.OffsetNs, DurationSecs: ref.DurationSecs, Probed: ref.DurationSecs > 0}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// cutRanges returns the timeline cuts that overlap [start, end].
func cutRanges(tl project.Timeline, start, end float64) [][2]float64 {
	var out [][2]float64
	for _, c := range tl.Cuts {
		if c.EndSecs < start || c.StartSecs > end {
			continue
		}
		out = append(out, [2]float64{c.StartSecs, c.EndSecs})
	}
	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
