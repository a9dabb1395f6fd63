package thumbnails

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/offlinefirst/screenreel/pkg/media"
	"github.com/offlinefirst/screenreel/pkg/project"
)

const (
	defaultWidth    = 320
	defaultMaxCount = 12
)

// Options configure the thumbnail generator.
type Options struct {
	Runner   media.Runner
	Width    int
	MaxCount int
	Clock    func() time.Time
}

// Generator renders preview stills of what the camera frames at each keyframe.
type Generator struct {
	runner   media.Runner
	width    int
	maxCount int
	clock    func() time.Time
}

// Result summarises the stills written.
type Result struct {
	Files         []string
	MetadataFiles []string
	Stills        []Still
	Count         int
}

// Still describes one preview image and the keyframe it shows.
type Still struct {
	ImagePath    string           `json:"image_path"`
	MetadataPath string           `json:"-"`
	T            float64          `json:"t"`
	Viewport     project.Viewport `json:"viewport"`
	Source       string           `json:"source"`
	GeneratedAt  time.Time        `json:"generated_at"`
}

// New validates options and returns a generator.
func New(opts Options) (*Generator, error) {
	if opts.Runner == nil {
		return nil, errors.New("thumbnail runner must not be nil")
	}
	if opts.Width < 0 || opts.MaxCount < 0 {
		return nil, errors.New("width and max count must not be negative")
	}
	width := opts.Width
	if width == 0 {
		width = defaultWidth
	}
	maxCount := opts.MaxCount
	if maxCount == 0 {
		maxCount = defaultMaxCount
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Generator{runner: opts.Runner, width: width, maxCount: maxCount, clock: clock}, nil
}

// Generate writes one PNG plus JSON metadata per keyframe into destDir. Keyframes beyond the
// limit are sampled evenly so the stills still span the whole recording.
func (g *Generator) Generate(ctx context.Context, source string, keyframes []project.Keyframe, destDir string) (Result, error) {
	if source == "" {
		return Result{}, errors.New("source must not be empty")
	}
	if destDir == "" {
		return Result{}, errors.New("destination directory must not be empty")
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("ensure destination: %w", err)
	}

	picked := sample(keyframes, g.maxCount)
	res := Result{
		Files:         make([]string, 0, len(picked)),
		MetadataFiles: make([]string, 0, len(picked)),
		Stills:        make([]Still, 0, len(picked)),
	}
	for i, kf := range picked {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		name := fmt.Sprintf("keyframe_%03d", i+1)
		imagePath := filepath.Join(destDir, name+".png")
		if err := g.runner.Run(ctx, stillArgs(source, kf, g.width, imagePath), nil); err != nil {
			return Result{}, fmt.Errorf("render still %q: %w", name, err)
		}

		still := Still{
			ImagePath:    filepath.Base(imagePath),
			MetadataPath: filepath.Join(destDir, name+".json"),
			T:            kf.T,
			Viewport:     kf.Viewport,
			Source:       string(kf.Source),
			GeneratedAt:  g.clock().UTC(),
		}
		data, err := json.MarshalIndent(still, "", "  ")
		if err != nil {
			return Result{}, fmt.Errorf("marshal metadata for %q: %w", name, err)
		}
		if err := os.WriteFile(still.MetadataPath, data, 0o644); err != nil {
			return Result{}, fmt.Errorf("write metadata %q: %w", name, err)
		}

		res.Files = append(res.Files, imagePath)
		res.MetadataFiles = append(res.MetadataFiles, still.MetadataPath)
		res.Stills = append(res.Stills, still)
	}
	res.Count = len(res.Files)
	return res, nil
}

// sample keeps at most limit keyframes, evenly spaced and always including the first.
func sample(keyframes []project.Keyframe, limit int) []project.Keyframe {
	if len(keyframes) <= limit {
		return keyframes
	}
	out := make([]project.Keyframe, 0, limit)
	step := float64(len(keyframes)) / float64(limit)
	for i := 0; i < limit; i++ {
		out = append(out, keyframes[int(float64(i)*step)])
	}
	return out
}

func stillArgs(source string, kf project.Keyframe, width int, out string) []string {
	v := kf.Viewport
	filter := fmt.Sprintf("crop=w=iw*%s:h=ih*%s:x=iw*%s:y=ih*%s,scale=%d:-2",
		num(v.W), num(v.H), num(v.X), num(v.Y), width)
	return []string{
		"-hide_banner", "-nostats", "-y",
		"-ss", num(kf.T),
		"-i", source,
		"-frames:v", "1",
		"-vf", filter,
		"-progress", "pipe:1",
		out,
	}
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}
