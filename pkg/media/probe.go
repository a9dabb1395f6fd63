package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Prober reads stream metadata from media files.
type Prober interface {
	Duration(ctx context.Context, path string) (float64, error)
	Dimensions(ctx context.Context, path string) (int, int, error)
}

// AudioProber is implemented by probers that can tell whether a file carries audio.
type AudioProber interface {
	HasAudio(ctx context.Context, path string) (bool, error)
}

// CommandFunc runs a tool to completion and returns its stdout.
type CommandFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// ProbeOptions configure an FFprobe.
type ProbeOptions struct {
	Binary   string
	LookPath func(string) (string, error)
	Run      CommandFunc
}

// FFprobe implements Prober by shelling out to ffprobe.
type FFprobe struct {
	binary string
	run    CommandFunc
}

// NewFFprobe resolves the ffprobe binary. A missing binary yields ErrBinaryMissing.
func NewFFprobe(opts ProbeOptions) (*FFprobe, error) {
	lookPath := opts.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	name := defaultString(opts.Binary, "ffprobe")
	path, err := lookPath(name)
	if err != nil {
		return nil, newBinaryError(name, err)
	}
	run := opts.Run
	if run == nil {
		run = RunCommand
	}
	return &FFprobe{binary: path, run: run}, nil
}

// Duration returns the container duration in seconds.
func (p *FFprobe) Duration(ctx context.Context, path string) (float64, error) {
	out, err := p.run(ctx, p.binary,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		return 0, fmt.Errorf("probe duration %s: %w", path, err)
	}
	return ParseDuration(out)
}

// Dimensions returns the width and height of the first video stream.
func (p *FFprobe) Dimensions(ctx context.Context, path string) (int, int, error) {
	out, err := p.run(ctx, p.binary,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height",
		"-of", "csv=p=0:s=x",
		path,
	)
	if err != nil {
		return 0, 0, fmt.Errorf("probe dimensions %s: %w", path, err)
	}
	return ParseDimensions(out)
}

// HasAudio reports whether path has at least one audio stream.
func (p *FFprobe) HasAudio(ctx context.Context, path string) (bool, error) {
	out, err := p.run(ctx, p.binary,
		"-v", "error",
		"-select_streams", "a",
		"-show_entries", "stream=index",
		"-of", "csv=p=0",
		path,
	)
	if err != nil {
		return false, fmt.Errorf("probe audio %s: %w", path, err)
	}
	return firstLine(out) != "", nil
}

// ParseDuration parses ffprobe's bare duration output.
func ParseDuration(out []byte) (float64, error) {
	line := firstLine(out)
	if line == "" || line == "N/A" {
		return 0, errors.New("duration not reported")
	}
	v, err := strconv.ParseFloat(line, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", line, err)
	}
	if v < 0 {
		return 0, fmt.Errorf("negative duration %v", v)
	}
	return v, nil
}

// ParseDimensions parses "WxH" output.
func ParseDimensions(out []byte) (int, int, error) {
	line := strings.TrimSuffix(firstLine(out), "x")
	w, h, ok := strings.Cut(line, "x")
	if !ok {
		return 0, 0, fmt.Errorf("unexpected dimensions %q", line)
	}
	width, err := strconv.Atoi(w)
	if err != nil {
		return 0, 0, fmt.Errorf("parse width %q: %w", w, err)
	}
	height, err := strconv.Atoi(h)
	if err != nil {
		return 0, 0, fmt.Errorf("parse height %q: %w", h, err)
	}
	if width <= 0 || height <= 0 {
		return 0, 0, fmt.Errorf("invalid dimensions %dx%d", width, height)
	}
	return width, height, nil
}

func firstLine(out []byte) string {
	for _, line := range strings.Split(string(out), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}

// RunCommand is the default CommandFunc; non-zero exits carry stderr in an *ExitError.
func RunCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, &ExitError{Binary: name, Stderr: stderr.String(), Err: err}
	}
	return out, nil
}
