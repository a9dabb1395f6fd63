package project

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// TimelineVersion is written into new timeline.json files.
const TimelineVersion = "1.0"

const keyframeTimeEpsilon = 1e-6

// Easing shapes the camera move into a keyframe.
type Easing string

const (
	EasingLinear    Easing = "linear"
	EasingEaseIn    Easing = "ease_in"
	EasingEaseOut   Easing = "ease_out"
	EasingEaseInOut Easing = "ease_in_out"
)

// Apply maps linear progress p in [0,1] onto the easing curve.
func (e Easing) Apply(p float64) float64 {
	p = clamp(p, 0, 1)
	switch e {
	case EasingEaseIn:
		return p * p * p
	case EasingEaseOut:
		q := 1 - p
		return 1 - q*q*q
	case EasingEaseInOut:
		if p < 0.5 {
			return 4 * p * p * p
		}
		q := -2*p + 2
		return 1 - q*q*q/2
	default:
		return p
	}
}

func (e Easing) valid() bool {
	switch e {
	case EasingLinear, EasingEaseIn, EasingEaseOut, EasingEaseInOut:
		return true
	}
	return false
}

// KeyframeSource records who produced a keyframe.
type KeyframeSource string

const (
	SourceAuto   KeyframeSource = "auto"
	SourceManual KeyframeSource = "manual"
)

// Keyframe pins the camera viewport at time T (seconds on the source timeline).
type Keyframe struct {
	T        float64        `json:"t"`
	Viewport Viewport       `json:"viewport"`
	Easing   Easing         `json:"easing"`
	Source   KeyframeSource `json:"source"`
}

// Cut removes [StartSecs, EndSecs] of source time from the export.
type Cut struct {
	StartSecs float64 `json:"start_secs"`
	EndSecs   float64 `json:"end_secs"`
	Reason    string  `json:"reason,omitempty"`
}

// Contains treats both bounds as part of the cut.
func (c Cut) Contains(t float64) bool {
	return t >= c.StartSecs && t <= c.EndSecs
}

// EffectType tags an Effect.
type EffectType string

const (
	EffectCursorSmooth EffectType = "cursor_smooth"
	EffectHighlight    EffectType = "highlight"
)

// Effect is a timeline-level post-processing instruction.
type Effect struct {
	Type      EffectType `json:"type"`
	Strength  float64    `json:"strength,omitempty"`
	StartSecs float64    `json:"start_secs,omitempty"`
	EndSecs   float64    `json:"end_secs,omitempty"`
}

// SmoothingAlgorithm names a cursor smoothing filter.
type SmoothingAlgorithm string

const (
	SmoothingNone          SmoothingAlgorithm = "none"
	SmoothingEMA           SmoothingAlgorithm = "ema"
	SmoothingBezier        SmoothingAlgorithm = "bezier"
	SmoothingKalman        SmoothingAlgorithm = "kalman"
	SmoothingMovingAverage SmoothingAlgorithm = "moving_average"
)

// MotionTrail configures ghost cursor layers drawn behind fast movement.
type MotionTrail struct {
	Enabled        bool    `json:"enabled"`
	GhostCount     int     `json:"ghost_count"`
	SpeedThreshold float64 `json:"speed_threshold"`
	FrameSpacing   int     `json:"frame_spacing"`
}

// CursorConfig controls how the synthetic cursor is drawn.
type CursorConfig struct {
	Smoothing          SmoothingAlgorithm `json:"smoothing"`
	SmoothingFactor    float64            `json:"smoothing_factor"`
	SizeMultiplier     float64            `json:"size_multiplier"`
	CustomAsset        string             `json:"custom_asset,omitempty"`
	ShowClickAnimation bool               `json:"show_click_animation"`
	MotionTrail        MotionTrail        `json:"motion_trail"`
}

// DefaultCursorConfig is used for new timelines and to fill missing fields on load.
func DefaultCursorConfig() CursorConfig {
	return CursorConfig{
		Smoothing:          SmoothingEMA,
		SmoothingFactor:    0.3,
		SizeMultiplier:     1.0,
		ShowClickAnimation: true,
		MotionTrail: MotionTrail{
			Enabled:        false,
			GhostCount:     3,
			SpeedThreshold: 0.8,
			FrameSpacing:   2,
		},
	}
}

// Timeline is the editable description of camera moves, cuts and cursor styling.
type Timeline struct {
	Version      string       `json:"version"`
	Keyframes    []Keyframe   `json:"keyframes"`
	Cuts         []Cut        `json:"cuts"`
	Effects      []Effect     `json:"effects"`
	CursorConfig CursorConfig `json:"cursor_config"`
}

// NewTimeline returns an empty timeline with default cursor styling.
func NewTimeline() Timeline {
	return Timeline{
		Version:      TimelineVersion,
		Keyframes:    []Keyframe{},
		Cuts:         []Cut{},
		Effects:      []Effect{},
		CursorConfig: DefaultCursorConfig(),
	}
}

// Normalize sorts keyframes and collapses entries sharing a timestamp.
// Manual keyframes beat auto ones at the same instant; otherwise the later entry wins.
func (tl *Timeline) Normalize() {
	sort.SliceStable(tl.Keyframes, func(i, j int) bool {
		return tl.Keyframes[i].T < tl.Keyframes[j].T
	})
	out := tl.Keyframes[:0]
	for _, kf := range tl.Keyframes {
		if n := len(out); n > 0 && math.Abs(out[n-1].T-kf.T) < keyframeTimeEpsilon {
			if out[n-1].Source == SourceManual && kf.Source != SourceManual {
				continue
			}
			out[n-1] = kf
			continue
		}
		out = append(out, kf)
	}
	tl.Keyframes = out
	sort.SliceStable(tl.Cuts, func(i, j int) bool {
		return tl.Cuts[i].StartSecs < tl.Cuts[j].StartSecs
	})
}

// SetKeyframe records a user edit. The result is always tagged manual.
func (tl *Timeline) SetKeyframe(kf Keyframe) {
	kf.Source = SourceManual
	if kf.Easing == "" {
		kf.Easing = EasingEaseInOut
	}
	filtered := tl.Keyframes[:0]
	for _, existing := range tl.Keyframes {
		if math.Abs(existing.T-kf.T) < keyframeTimeEpsilon {
			continue
		}
		filtered = append(filtered, existing)
	}
	tl.Keyframes = append(filtered, kf)
	tl.Normalize()
}

// ApplyAuto swaps in a fresh set of generated keyframes. Previous auto keyframes are dropped;
// manual keyframes survive unless overwriteManual is set. It returns the number of auto
// keyframes that made it into the timeline.
func (tl *Timeline) ApplyAuto(auto []Keyframe, overwriteManual bool) int {
	kept := make([]Keyframe, 0, len(tl.Keyframes)+len(auto))
	for _, kf := range tl.Keyframes {
		if kf.Source == SourceManual && !overwriteManual {
			kept = append(kept, kf)
		}
	}
	manualCount := len(kept)
	for _, kf := range auto {
		kf.Source = SourceAuto
		kept = append(kept, kf)
	}
	tl.Keyframes = kept
	tl.Normalize()
	return len(tl.Keyframes) - manualCount
}

// ViewportAt interpolates the camera at source time t using the easing of the keyframe
// being approached. Before the first keyframe and after the last the nearest one holds.
func (tl *Timeline) ViewportAt(t float64) Viewport {
	kfs := tl.Keyframes
	switch len(kfs) {
	case 0:
		return FullViewport
	case 1:
		return kfs[0].Viewport
	}
	if t <= kfs[0].T {
		return kfs[0].Viewport
	}
	last := kfs[len(kfs)-1]
	if t >= last.T {
		return last.Viewport
	}
	idx := sort.Search(len(kfs), func(i int) bool { return kfs[i].T > t })
	a, b := kfs[idx-1], kfs[idx]
	span := b.T - a.T
	if span <= 0 {
		return b.Viewport
	}
	return LerpViewport(a.Viewport, b.Viewport, b.Easing.Apply((t-a.T)/span))
}

// IsCut reports whether source time t falls inside any cut.
func (tl *Timeline) IsCut(t float64) bool {
	for _, c := range tl.Cuts {
		if c.Contains(t) {
			return true
		}
	}
	return false
}

// CursorSmoothStrength returns the strength of the last cursor_smooth effect, if any.
func (tl *Timeline) CursorSmoothStrength() (float64, bool) {
	for i := len(tl.Effects) - 1; i >= 0; i-- {
		if tl.Effects[i].Type == EffectCursorSmooth {
			return clamp(tl.Effects[i].Strength, 0, 1), true
		}
	}
	return 0, false
}

// Validate checks the persisted-timeline invariants.
func (tl *Timeline) Validate() error {
	var errs []error
	for i, kf := range tl.Keyframes {
		if math.IsNaN(kf.T) || kf.T < 0 {
			errs = append(errs, fmt.Errorf("keyframes[%d]: time %v must be non-negative", i, kf.T))
		}
		if i > 0 && kf.T <= tl.Keyframes[i-1].T {
			errs = append(errs, fmt.Errorf("keyframes[%d]: time %v not strictly after %v", i, kf.T, tl.Keyframes[i-1].T))
		}
		if err := kf.Viewport.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("keyframes[%d]: %w", i, err))
		}
		if !kf.Easing.valid() {
			errs = append(errs, fmt.Errorf("keyframes[%d]: unknown easing %q", i, kf.Easing))
		}
		if kf.Source != SourceAuto && kf.Source != SourceManual {
			errs = append(errs, fmt.Errorf("keyframes[%d]: unknown source %q", i, kf.Source))
		}
	}
	for i, c := range tl.Cuts {
		if c.StartSecs < 0 || c.EndSecs <= c.StartSecs {
			errs = append(errs, fmt.Errorf("cuts[%d]: invalid range [%v,%v]", i, c.StartSecs, c.EndSecs))
		}
	}
	switch tl.CursorConfig.Smoothing {
	case SmoothingNone, SmoothingEMA, SmoothingBezier, SmoothingKalman, SmoothingMovingAverage:
	default:
		errs = append(errs, fmt.Errorf("cursor_config.smoothing: unknown algorithm %q", tl.CursorConfig.Smoothing))
	}
	if f := tl.CursorConfig.SmoothingFactor; f < 0 || f > 1 {
		errs = append(errs, fmt.Errorf("cursor_config.smoothing_factor %v outside [0,1]", f))
	}
	return errors.Join(errs...)
}
