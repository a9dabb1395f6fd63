package project

import (
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// SchemaVersion is written into new project.json files.
const SchemaVersion = "1.0"

// CoordinateSpace names the reference frame pointer coordinates are normalized against.
type CoordinateSpace string

const (
	SpaceCaptureNormalized        CoordinateSpace = "capture_normalized"
	SpaceVirtualDesktopNormalized CoordinateSpace = "virtual_desktop_normalized"
	SpaceVirtualDesktopRootOrigin CoordinateSpace = "virtual_desktop_root_origin"
	SpaceLegacyUnspecified        CoordinateSpace = "legacy_unspecified"
)

// Known reports whether s is one of the explicit spaces (legacy excluded).
func (s CoordinateSpace) Known() bool {
	switch s {
	case SpaceCaptureNormalized, SpaceVirtualDesktopNormalized, SpaceVirtualDesktopRootOrigin:
		return true
	}
	return false
}

// DisplayServer identifies the windowing system a recording came from.
type DisplayServer string

const (
	DisplayWayland DisplayServer = "wayland"
	DisplayX11     DisplayServer = "x11"
	DisplayWindows DisplayServer = "windows"
	DisplayMacOS   DisplayServer = "macos"
)

// MonitorInfo is a monitor snapshot taken when recording started.
type MonitorInfo struct {
	Index   int    `json:"index"`
	Name    string `json:"name"`
	X       int    `json:"x"`
	Y       int    `json:"y"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Primary bool   `json:"primary,omitempty"`
}

// Recording holds the capture geometry and clock metadata finalized at stop.
type Recording struct {
	CaptureWidth           int             `json:"capture_width"`
	CaptureHeight          int             `json:"capture_height"`
	FPS                    int             `json:"fps"`
	ScaleFactor            float64         `json:"scale_factor"`
	DisplayServer          DisplayServer   `json:"display_server"`
	CursorHidden           bool            `json:"cursor_hidden"`
	MonitorIndex           int             `json:"monitor_index"`
	MonitorName            string          `json:"monitor_name"`
	MonitorX               int             `json:"monitor_x"`
	MonitorY               int             `json:"monitor_y"`
	MonitorWidth           int             `json:"monitor_width"`
	MonitorHeight          int             `json:"monitor_height"`
	VirtualX               int             `json:"virtual_x"`
	VirtualY               int             `json:"virtual_y"`
	VirtualWidth           int             `json:"virtual_width"`
	VirtualHeight          int             `json:"virtual_height"`
	PointerCoordinateSpace CoordinateSpace `json:"pointer_coordinate_space"`
	AudioSampleRate        int             `json:"audio_sample_rate"`
	Monitors               []MonitorInfo   `json:"monitors,omitempty"`
	SessionID              string          `json:"session_id,omitempty"`
	Warnings               []string        `json:"warnings,omitempty"`
}

// TrackRef points at one media file relative to the bundle root.
type TrackRef struct {
	Path         string  `json:"path"`
	DurationSecs float64 `json:"duration_secs"`
	Codec        string  `json:"codec"`
	OffsetNs     int64   `json:"offset_ns"`
}

// Tracks maps the fixed track names to their media. Screen is the zero reference.
type Tracks struct {
	Screen      *TrackRef `json:"screen"`
	Webcam      *TrackRef `json:"webcam"`
	Mic         *TrackRef `json:"mic"`
	SystemAudio *TrackRef `json:"system_audio"`
}

// Named returns the populated tracks in a stable order.
func (t Tracks) Named() []NamedTrack {
	var out []NamedTrack
	for _, nt := range []NamedTrack{
		{Name: TrackScreen, Ref: t.Screen},
		{Name: TrackWebcam, Ref: t.Webcam},
		{Name: TrackMic, Ref: t.Mic},
		{Name: TrackSystemAudio, Ref: t.SystemAudio},
	} {
		if nt.Ref != nil {
			out = append(out, nt)
		}
	}
	return out
}

// Track names used in reports and logs.
const (
	TrackScreen      = "screen"
	TrackWebcam      = "webcam"
	TrackMic         = "mic"
	TrackSystemAudio = "system_audio"
)

// NamedTrack pairs a track name with its reference.
type NamedTrack struct {
	Name string
	Ref  *TrackRef
}

// ExportFormat selects the output container and codecs.
type ExportFormat string

const (
	FormatMP4H264 ExportFormat = "mp4-h264"
	FormatMP4H265 ExportFormat = "mp4-h265"
	FormatGIF     ExportFormat = "gif"
	FormatWebM    ExportFormat = "webm"
)

// Extension returns the file extension for the format.
func (f ExportFormat) Extension() string {
	switch f {
	case FormatGIF:
		return ".gif"
	case FormatWebM:
		return ".webm"
	default:
		return ".mp4"
	}
}

// AspectMode is the framing of the output canvas.
type AspectMode string

const (
	AspectLandscape AspectMode = "landscape"
	AspectPortrait  AspectMode = "portrait"
	AspectSquare    AspectMode = "square"
	AspectCustom    AspectMode = "custom"
)

// CanvasSize returns the rendered frame size for the aspect mode. Portrait keeps the longer
// configured side as the height, square keeps the shorter side; landscape and custom use the
// configured size as-is. Sides are rounded down to even values.
func (e Export) CanvasSize() (int, int) {
	w, h := e.Width, e.Height
	switch e.AspectMode {
	case AspectPortrait:
		long := max(w, h)
		return even(long * 9 / 16), even(long)
	case AspectSquare:
		side := even(min(w, h))
		return side, side
	default:
		return w, h
	}
}

func even(v int) int {
	return max(v-v%2, 2)
}

// WebcamCorner places the picture-in-picture overlay.
type WebcamCorner string

const (
	CornerTopLeft     WebcamCorner = "top_left"
	CornerTopRight    WebcamCorner = "top_right"
	CornerBottomLeft  WebcamCorner = "bottom_left"
	CornerBottomRight WebcamCorner = "bottom_right"
)

// Webcam configures the picture-in-picture overlay.
type Webcam struct {
	Enabled     bool         `json:"enabled"`
	SizeRatio   float64      `json:"size_ratio"`
	Corner      WebcamCorner `json:"corner"`
	MarginRatio float64      `json:"margin_ratio"`
	Opacity     float64      `json:"opacity"`
}

// Canvas styles the background behind the screen content.
type Canvas struct {
	Background      string  `json:"background"`
	CornerRadius    int     `json:"corner_radius"`
	ShadowIntensity float64 `json:"shadow_intensity"`
	Padding         int     `json:"padding"`
}

// Export is the user-editable output configuration.
type Export struct {
	Format           ExportFormat `json:"format"`
	Width            int          `json:"width"`
	Height           int          `json:"height"`
	FPS              int          `json:"fps"`
	VideoBitrateKbps int          `json:"video_bitrate_kbps"`
	AudioBitrateKbps int          `json:"audio_bitrate_kbps"`
	AspectMode       AspectMode   `json:"aspect_mode"`
	BurnSubtitles    bool         `json:"burn_subtitles"`
	Webcam           Webcam       `json:"webcam"`
	Canvas           Canvas       `json:"canvas"`
}

// DefaultWebcam is applied to projects that omit the webcam block.
func DefaultWebcam() Webcam {
	return Webcam{Enabled: true, SizeRatio: 0.24, Corner: CornerBottomRight, MarginRatio: 0.03, Opacity: 1.0}
}

// DefaultCanvas is applied to projects that omit the canvas block.
func DefaultCanvas() Canvas {
	return Canvas{Background: "#1a1a1a", CornerRadius: 20, ShadowIntensity: 0.60, Padding: 56}
}

// Project is the top-level project.json document.
type Project struct {
	Version    string    `json:"version"`
	Name       string    `json:"name"`
	ID         string    `json:"id"`
	CreatedAt  string    `json:"created_at"`
	ModifiedAt string    `json:"modified_at"`
	Recording  Recording `json:"recording"`
	Tracks     Tracks    `json:"tracks"`
	Export     Export    `json:"export"`
}

var timeNow = time.Now

// New creates a project for a capture of width×height at fps.
func New(name string, width, height, fps int) Project {
	now := timeNow().UTC()
	stamp := now.Format(time.RFC3339)
	return Project{
		Version:    SchemaVersion,
		Name:       name,
		ID:         ulid.MustNew(ulid.Timestamp(now), rand.Reader).String(),
		CreatedAt:  stamp,
		ModifiedAt: stamp,
		Recording: Recording{
			CaptureWidth:           width,
			CaptureHeight:          height,
			FPS:                    fps,
			ScaleFactor:            1.0,
			DisplayServer:          DisplayX11,
			CursorHidden:           true,
			MonitorWidth:           width,
			MonitorHeight:          height,
			VirtualWidth:           width,
			VirtualHeight:          height,
			PointerCoordinateSpace: SpaceCaptureNormalized,
			AudioSampleRate:        48000,
		},
		Export: Export{
			Format:           FormatMP4H264,
			Width:            width,
			Height:           height,
			FPS:              fps,
			VideoBitrateKbps: 8000,
			AudioBitrateKbps: 192,
			AspectMode:       AspectLandscape,
			Webcam:           DefaultWebcam(),
			Canvas:           DefaultCanvas(),
		},
	}
}

// Touch bumps ModifiedAt.
func (p *Project) Touch() {
	p.ModifiedAt = timeNow().UTC().Format(time.RFC3339)
}

// Validate checks the fields that downstream code relies on.
func (p *Project) Validate() error {
	var errs []error
	if strings.TrimSpace(p.ID) == "" {
		errs = append(errs, errors.New("id must not be empty"))
	} else if _, err := ulid.ParseStrict(p.ID); err != nil && !legacyID(p.ID) {
		errs = append(errs, fmt.Errorf("id %q: %w", p.ID, err))
	}
	if p.Recording.CaptureWidth <= 0 || p.Recording.CaptureHeight <= 0 {
		errs = append(errs, fmt.Errorf("recording capture size %dx%d must be positive", p.Recording.CaptureWidth, p.Recording.CaptureHeight))
	}
	if p.Recording.FPS <= 0 {
		errs = append(errs, fmt.Errorf("recording fps %d must be positive", p.Recording.FPS))
	}
	if p.Tracks.Screen != nil && p.Tracks.Screen.OffsetNs != 0 {
		errs = append(errs, fmt.Errorf("screen track offset must be 0, got %d", p.Tracks.Screen.OffsetNs))
	}
	switch p.Export.Format {
	case FormatMP4H264, FormatMP4H265, FormatGIF, FormatWebM:
	default:
		errs = append(errs, fmt.Errorf("export format %q unsupported", p.Export.Format))
	}
	if p.Export.Width <= 0 || p.Export.Height <= 0 || p.Export.FPS <= 0 {
		errs = append(errs, fmt.Errorf("export %dx%d@%d must be positive", p.Export.Width, p.Export.Height, p.Export.FPS))
	}
	switch p.Export.AspectMode {
	case "", AspectLandscape, AspectPortrait, AspectSquare, AspectCustom:
	default:
		errs = append(errs, fmt.Errorf("export aspect mode %q unsupported", p.Export.AspectMode))
	}
	return errors.Join(errs...)
}

// legacyID accepts the UUID identifiers written before ULIDs were adopted.
func legacyID(id string) bool {
	return len(id) == 36 && strings.Count(id, "-") == 4
}

// ValidateSources confirms every referenced media file exists under root.
func (p *Project) ValidateSources(root string) error {
	var errs []error
	for _, nt := range p.Tracks.Named() {
		path := filepath.Join(root, nt.Ref.Path)
		if _, err := os.Stat(path); err != nil {
			errs = append(errs, fmt.Errorf("%s track %q: %w", nt.Name, nt.Ref.Path, err))
		}
	}
	return errors.Join(errs...)
}
