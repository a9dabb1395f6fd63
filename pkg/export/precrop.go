package export

import (
	"fmt"
	"math"

	"github.com/offlinefirst/screenreel/pkg/project"
)

// Crop is a pixel rectangle in the screen source.
type Crop struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (c Crop) String() string {
	return fmt.Sprintf("%dx%d+%d+%d", c.Width, c.Height, c.X, c.Y)
}

// MonitorPrecrop returns the selected monitor's rectangle inside a source that captured the
// whole virtual desktop. Sources that already match the monitor, or are smaller than it, are
// left alone.
func MonitorPrecrop(rec project.Recording, srcW, srcH int) (Crop, bool) {
	mw, mh := rec.MonitorWidth, rec.MonitorHeight
	vw, vh := rec.VirtualWidth, rec.VirtualHeight
	if mw <= 0 || mh <= 0 || vw <= 0 || vh <= 0 || srcW <= 0 || srcH <= 0 {
		return Crop{}, false
	}
	if srcW == mw && srcH == mh {
		return Crop{}, false
	}
	if srcW < mw || srcH < mh {
		return Crop{}, false
	}

	sx := float64(srcW) / float64(vw)
	sy := float64(srcH) / float64(vh)
	x := int(math.Max(math.Round(float64(rec.MonitorX-rec.VirtualX)*sx), 0))
	y := int(math.Max(math.Round(float64(rec.MonitorY-rec.VirtualY)*sy), 0))
	w := int(math.Max(math.Round(float64(mw)*sx), 1))
	h := int(math.Max(math.Round(float64(mh)*sy), 1))
	if x >= srcW || y >= srcH {
		return Crop{}, false
	}
	w = min(w, srcW-x)
	h = min(h, srcH-y)

	w = evenDimension(float64(w))
	h = evenDimension(float64(h))
	if x+w > srcW {
		x = max(srcW-w, 0)
	}
	if y+h > srcH {
		y = max(srcH-h, 0)
	}
	return Crop{X: x, Y: y, Width: w, Height: h}, true
}

// evenDimension rounds to the nearest even size of at least 2.
func evenDimension(raw float64) int {
	v := int(math.Round(raw))
	if v < 2 {
		v = 2
	}
	if v%2 != 0 {
		v = max(v-1, 2)
	}
	return v
}
