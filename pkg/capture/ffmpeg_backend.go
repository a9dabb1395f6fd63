package capture

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/offlinefirst/screenreel/pkg/events"
	"github.com/offlinefirst/screenreel/pkg/media"
	"github.com/offlinefirst/screenreel/pkg/project"
)

// FFmpegBackend captures an X11 desktop with x11grab, v4l2 and pulse inputs. Monitors come
// from `xrandr --listmonitors` and the pointer is sampled with xdotool.
type FFmpegBackend struct {
	FFmpeg        *media.FFmpeg
	Display       string
	Run           media.CommandFunc
	Xdotool       string
	PointerRateHz int
}

// Name implements Backend.
func (b *FFmpegBackend) Name() string { return media.ProviderFFmpeg }

// CoordinateSpace implements Backend. Pointer samples are normalized to the captured monitor.
func (b *FFmpegBackend) CoordinateSpace() project.CoordinateSpace {
	return project.SpaceCaptureNormalized
}

func (b *FFmpegBackend) display() string {
	if strings.TrimSpace(b.Display) != "" {
		return b.Display
	}
	if v := os.Getenv("DISPLAY"); v != "" {
		return v
	}
	return ":0"
}

// Monitors implements Backend.
func (b *FFmpegBackend) Monitors(ctx context.Context) ([]Monitor, error) {
	if b.Run == nil {
		return nil, errors.New("command runner not configured")
	}
	out, err := b.Run(ctx, "xrandr", "--listmonitors")
	if err != nil {
		return nil, fmt.Errorf("list monitors: %w", err)
	}
	return ParseXrandrMonitors(out)
}

var xrandrLine = regexp.MustCompile(`^\s*(\d+):\s+\+?(\*?)(\S+)\s+(\d+)/\d+x(\d+)/\d+\+(-?\d+)\+(-?\d+)`)

// ParseXrandrMonitors parses `xrandr --listmonitors` output.
func ParseXrandrMonitors(out []byte) ([]Monitor, error) {
	var monitors []Monitor
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		m := xrandrLine.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		idx, _ := strconv.Atoi(m[1])
		w, _ := strconv.Atoi(m[4])
		h, _ := strconv.Atoi(m[5])
		x, _ := strconv.Atoi(m[6])
		y, _ := strconv.Atoi(m[7])
		monitors = append(monitors, Monitor{Index: idx, Name: m[3], X: x, Y: y, Width: w, Height: h, Primary: m[2] == "*"})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(monitors) == 0 {
		return nil, errors.New("xrandr reported no monitors")
	}
	return monitors, nil
}

// NewPipeline implements Backend.
func (b *FFmpegBackend) NewPipeline(spec PipelineSpec) (Pipeline, error) {
	if b.FFmpeg == nil {
		return nil, errors.New("ffmpeg not configured")
	}
	args, codec, err := b.pipelineArgs(spec)
	if err != nil {
		return nil, err
	}
	return &ffmpegPipeline{ffmpeg: b.FFmpeg, spec: spec, args: args, codec: codec}, nil
}

func (b *FFmpegBackend) pipelineArgs(spec PipelineSpec) ([]string, string, error) {
	base := []string{"-hide_banner", "-loglevel", "error", "-nostats", "-progress", "pipe:1", "-y"}
	switch spec.Stream {
	case project.TrackScreen:
		drawMouse := "1"
		if spec.CursorHidden {
			drawMouse = "0"
		}
		m := spec.Monitor
		return append(base,
			"-f", "x11grab",
			"-framerate", strconv.Itoa(spec.FPS),
			"-video_size", fmt.Sprintf("%dx%d", m.Width, m.Height),
			"-draw_mouse", drawMouse,
			"-i", fmt.Sprintf("%s+%d,%d", b.display(), m.X, m.Y),
			"-c:v", "libx264", "-preset", "ultrafast", "-crf", "18", "-pix_fmt", "yuv420p",
			spec.Path,
		), "h264", nil
	case project.TrackWebcam:
		device := defaultDevice(spec.Device, "/dev/video0")
		return append(base,
			"-f", "v4l2",
			"-framerate", strconv.Itoa(spec.FPS),
			"-i", device,
			"-c:v", "libx264", "-preset", "ultrafast", "-crf", "23", "-pix_fmt", "yuv420p",
			spec.Path,
		), "h264", nil
	case project.TrackMic, project.TrackSystemAudio:
		fallback := "default"
		if spec.Stream == project.TrackSystemAudio {
			fallback = "@DEFAULT_MONITOR@"
		}
		return append(base,
			"-f", "pulse",
			"-i", defaultDevice(spec.Device, fallback),
			"-ac", "2",
			"-ar", strconv.Itoa(spec.SampleRate),
			"-c:a", "pcm_s16le",
			spec.Path,
		), "pcm_s16le", nil
	default:
		return nil, "", fmt.Errorf("unknown stream %q", spec.Stream)
	}
}

func defaultDevice(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

// Events implements Backend by polling xdotool. Samples outside the monitor are skipped and
// only position changes are emitted.
func (b *FFmpegBackend) Events(clock *RecordingClock, monitor Monitor, _ Bounds) events.EventSource {
	if b.Run == nil || b.Xdotool == "" {
		return nil
	}
	rate := b.PointerRateHz
	if rate <= 0 {
		rate = 60
	}
	return events.EventSourceFunc(func(ctx context.Context, emit func(events.Event) error) error {
		ticker := time.NewTicker(time.Second / time.Duration(rate))
		defer ticker.Stop()
		lastX, lastY := -1, -1
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
			out, err := b.Run(ctx, b.Xdotool, "getmouselocation", "--shell")
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				continue
			}
			x, y, ok := parseMouseLocation(out)
			if !ok || (x == lastX && y == lastY) {
				continue
			}
			lastX, lastY = x, y
			nx, ny, inside := normalizeToMonitor(monitor, x, y)
			if !inside {
				continue
			}
			if err := emit(events.Pointer(uint64(clock.Since()), nx, ny)); err != nil {
				return err
			}
		}
	})
}

func parseMouseLocation(out []byte) (int, int, bool) {
	x, y := -1, -1
	for _, line := range strings.Split(string(out), "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		v, err := strconv.Atoi(value)
		if err != nil {
			continue
		}
		switch key {
		case "X":
			x = v
		case "Y":
			y = v
		}
	}
	return x, y, x >= 0 && y >= 0
}

func normalizeToMonitor(m Monitor, x, y int) (float64, float64, bool) {
	if x < m.X || y < m.Y || x > m.X+m.Width || y > m.Y+m.Height || m.Width <= 0 || m.Height <= 0 {
		return 0, 0, false
	}
	return float64(x-m.X) / float64(m.Width), float64(y-m.Y) / float64(m.Height), true
}

type ffmpegPipeline struct {
	ffmpeg  *media.FFmpeg
	spec    PipelineSpec
	args    []string
	codec   string
	proc    *media.Process
	started time.Time
	latency time.Duration
}

func (p *ffmpegPipeline) Codec() string { return p.codec }

func (p *ffmpegPipeline) Start(ctx context.Context, clock *RecordingClock) error {
	launched := clock.Since()
	begin := time.Now()
	proc, err := p.ffmpeg.Start(ctx, p.args)
	if err != nil {
		return err
	}
	// ffmpeg exits quickly when a device cannot be opened.
	select {
	case err := <-proc.Done():
		if err == nil {
			err = errors.New("ffmpeg exited during startup")
		}
		return err
	case <-time.After(250 * time.Millisecond):
	}
	p.proc = proc
	p.started = begin
	p.latency = time.Since(begin)
	clock.SetStart(p.spec.Stream, launched)
	return nil
}

// frameCounts prefers the counters ffmpeg reported and estimates from the frame rate otherwise.
// Audio streams have no frames.
func frameCounts(spec PipelineSpec, last media.Progress, elapsed time.Duration) (captured, dropped int64) {
	if spec.Stream == project.TrackMic || spec.Stream == project.TrackSystemAudio {
		return 0, 0
	}
	if last.Frame > 0 || last.DroppedFrames > 0 {
		return last.Frame, last.DroppedFrames
	}
	if spec.FPS <= 0 {
		return 0, 0
	}
	return int64(elapsed.Seconds() * float64(spec.FPS)), 0
}

func (p *ffmpegPipeline) Stop(ctx context.Context) (Stats, error) {
	if p.proc == nil {
		return Stats{}, nil
	}
	stopCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	err := p.proc.Stop(stopCtx)
	stats := Stats{Latency: p.latency}
	if info, statErr := os.Stat(p.spec.Path); statErr == nil {
		stats.Bytes = info.Size()
	}
	stats.FramesCaptured, stats.FramesDropped = frameCounts(p.spec, p.proc.Progress(), time.Since(p.started))
	var exitErr *media.ExitError
	if errors.As(err, &exitErr) && stats.Bytes > 0 {
		// `q` makes ffmpeg exit 255 on some inputs even though the file is complete.
		err = nil
	}
	return stats, err
}
