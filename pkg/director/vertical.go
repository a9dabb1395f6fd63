package director

import (
	"errors"
	"math"

	"github.com/offlinefirst/screenreel/pkg/events"
	"github.com/offlinefirst/screenreel/pkg/faults"
	"github.com/offlinefirst/screenreel/pkg/project"
)

// VerticalOptions tune the portrait follow camera. Zero values take the defaults.
type VerticalOptions struct {
	// Responsiveness is how far the camera moves toward the pointer per sample, in (0,1].
	Responsiveness float64
	// Height is the normalized crop height; the width follows from 9:16 and SourceAspect.
	Height float64
	// SampleSeconds spaces the emitted keyframes.
	SampleSeconds float64
	// SourceAspect is the capture width/height ratio.
	SourceAspect float64
}

// DefaultVerticalOptions returns the stock follow camera tuning for a 16:9 capture.
func DefaultVerticalOptions() VerticalOptions {
	return VerticalOptions{
		Responsiveness: 0.15,
		Height:         0.6,
		SampleSeconds:  0.5,
		SourceAspect:   16.0 / 9.0,
	}
}

func (o VerticalOptions) withDefaults() (VerticalOptions, error) {
	def := DefaultVerticalOptions()
	if o.Responsiveness == 0 {
		o.Responsiveness = def.Responsiveness
	}
	if o.Height == 0 {
		o.Height = def.Height
	}
	if o.SampleSeconds == 0 {
		o.SampleSeconds = def.SampleSeconds
	}
	if o.SourceAspect == 0 {
		o.SourceAspect = def.SourceAspect
	}
	var errs []error
	if o.Responsiveness < 0 || o.Responsiveness > 1 {
		errs = append(errs, errors.New("responsiveness must be within (0,1]"))
	}
	if o.Height < 0 || o.Height > 1 {
		errs = append(errs, errors.New("height must be within (0,1]"))
	}
	if o.SampleSeconds < 0 || o.SourceAspect < 0 {
		errs = append(errs, errors.New("sample seconds and source aspect must be positive"))
	}
	if err := errors.Join(errs...); err != nil {
		return o, &faults.Error{Code: faults.CodeConfiguration, Message: "invalid vertical options", Err: err}
	}
	return o, nil
}

// Vertical emits a fixed-size 9:16 camera that eases toward the pointer on the focused
// monitor. Samples are taken at most every SampleSeconds; without pointer data a single
// centered keyframe is returned.
func (d *Director) Vertical(evs []events.Event, opts VerticalOptions) ([]project.Keyframe, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	frame := func(t, x, y float64) project.Keyframe {
		return project.Keyframe{
			T:        t,
			Viewport: project.VerticalCenteredViewport(x, y, opts.Height, opts.SourceAspect),
			Easing:   project.EasingEaseInOut,
			Source:   project.SourceAuto,
		}
	}

	var (
		kfs        []project.Keyframe
		camX, camY float64
		next       = math.Inf(-1)
		started    bool
	)
	for _, s := range d.focusedSamples(evs) {
		x, y := s.x, s.y
		t := float64(s.t) / 1e9
		if t < next {
			continue
		}
		next = t + opts.SampleSeconds
		if !started {
			camX, camY, started = x, y, true
		}
		camX += (x - camX) * opts.Responsiveness
		camY += (y - camY) * opts.Responsiveness
		kfs = append(kfs, frame(t, camX, camY))
	}
	d.logger.Debug("vertical camera generated", "keyframes", len(kfs))
	if len(kfs) == 0 {
		return []project.Keyframe{frame(0, 0.5, 0.5)}, nil
	}
	return kfs, nil
}
