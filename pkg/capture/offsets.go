package capture

import (
	"fmt"
	"math"
	"time"

	"github.com/offlinefirst/screenreel/pkg/faults"
)

// DriftThreshold is the largest disagreement between measured start skew and probed
// duration difference that passes without a warning.
const DriftThreshold = 100 * time.Millisecond

// TrackTiming is the raw clock and probe data for one track.
type TrackTiming struct {
	Start        time.Duration
	DurationSecs float64
	Probed       bool
}

// ComputeOffset aligns a track to the screen track. measured is track start minus screen
// start. With both durations known the result averages the measured skew with the duration
// difference; otherwise the measured skew is used as-is.
func ComputeOffset(screen, track TrackTiming) time.Duration {
	measured := track.Start - screen.Start
	if !screen.Probed || !track.Probed {
		return measured
	}
	inferred := secondsToDuration(screen.DurationSecs - track.DurationSecs)
	return time.Duration(math.Round(0.5*float64(measured) + 0.5*float64(inferred)))
}

// DriftWarning returns a SYNC_WARNING when the duration difference and the measured skew
// disagree by more than DriftThreshold.
func DriftWarning(name string, screen, track TrackTiming) (faults.Warning, bool) {
	if !screen.Probed || !track.Probed {
		return faults.Warning{}, false
	}
	measured := track.Start - screen.Start
	inferred := secondsToDuration(screen.DurationSecs - track.DurationSecs)
	drift := inferred - measured
	if drift.Abs() <= DriftThreshold {
		return faults.Warning{}, false
	}
	return faults.SyncWarning(fmt.Sprintf("%s drift %s exceeds %s", name, drift, DriftThreshold), map[string]any{
		"track":       name,
		"measured_ns": int64(measured),
		"inferred_ns": int64(inferred),
	}), true
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(math.Round(s * float64(time.Second)))
}
