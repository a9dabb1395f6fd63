package media

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Progress is one block of ffmpeg `-progress` output.
type Progress struct {
	Frame         int64
	DroppedFrames int64
	OutTime       time.Duration
	Speed         string
	Done          bool
}

// Runner executes an encode to completion.
type Runner interface {
	Run(ctx context.Context, args []string, onProgress func(Progress)) error
}

// FFmpegOptions configure an FFmpeg runner.
type FFmpegOptions struct {
	Binary   string
	LookPath func(string) (string, error)
	Logger   *slog.Logger
}

// FFmpeg runs the ffmpeg binary.
type FFmpeg struct {
	binary string
	logger *slog.Logger
}

// NewFFmpeg resolves the binary. A missing binary yields ErrBinaryMissing.
func NewFFmpeg(opts FFmpegOptions) (*FFmpeg, error) {
	lookPath := opts.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	name := defaultString(opts.Binary, "ffmpeg")
	path, err := lookPath(name)
	if err != nil {
		return nil, newBinaryError(name, err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &FFmpeg{binary: path, logger: logger}, nil
}

// Binary returns the resolved ffmpeg path.
func (f *FFmpeg) Binary() string {
	return f.binary
}

// Run executes ffmpeg with args. Args are expected to include `-progress pipe:1`; stdout is
// parsed into Progress callbacks. On failure the stderr tail is attached to an *ExitError.
func (f *FFmpeg) Run(ctx context.Context, args []string, onProgress func(Progress)) error {
	cmd := exec.CommandContext(ctx, f.binary, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr := &tailBuffer{limit: 8 << 10}
	cmd.Stderr = stderr

	f.logger.Debug("starting ffmpeg", slog.String("binary", f.binary), slog.Int("args", len(args)))
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}
	parseErr := ParseProgress(stdout, func(p Progress) {
		if onProgress != nil {
			onProgress(p)
		}
	})
	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &ExitError{Binary: f.binary, Stderr: stderr.String(), Err: err}
	}
	if parseErr != nil && !errors.Is(parseErr, io.EOF) {
		return fmt.Errorf("read progress: %w", parseErr)
	}
	return nil
}

// ParseProgress reads key=value lines and emits a Progress at every `progress=` marker.
func ParseProgress(r io.Reader, emit func(Progress)) error {
	scanner := bufio.NewScanner(r)
	var cur Progress
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "frame":
			if v, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
				cur.Frame = v
			}
		case "drop_frames":
			if v, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
				cur.DroppedFrames = v
			}
		case "out_time_us", "out_time_ms":
			// ffmpeg reports microseconds under both keys.
			if v, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil && v >= 0 {
				cur.OutTime = time.Duration(v) * time.Microsecond
			}
		case "speed":
			cur.Speed = strings.TrimSpace(value)
		case "progress":
			cur.Done = strings.TrimSpace(value) == "end"
			emit(cur)
		}
	}
	return scanner.Err()
}

// Process is a long-running ffmpeg capture that finalizes its container on Stop.
type Process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *tailBuffer
	done   chan error
	once   sync.Once

	mu   sync.Mutex
	last Progress
}

// Start launches ffmpeg with args and returns once the process is running. When args ask for
// `-progress pipe:1`, the latest block is available from Progress.
func (f *FFmpeg) Start(ctx context.Context, args []string) (*Process, error) {
	cmd := exec.CommandContext(ctx, f.binary, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr := &tailBuffer{limit: 8 << 10}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}
	p := &Process{cmd: cmd, stdin: stdin, stderr: stderr, done: make(chan error, 1)}
	go func() {
		// Wait closes stdout, so the progress stream is drained first.
		if err := ParseProgress(stdout, p.record); err != nil {
			f.logger.Debug("ffmpeg progress stream ended early", slog.Any("error", err))
			_, _ = io.Copy(io.Discard, stdout)
		}
		err := cmd.Wait()
		if err != nil {
			err = &ExitError{Binary: f.binary, Stderr: stderr.String(), Err: err}
		}
		p.done <- err
		close(p.done)
	}()
	return p, nil
}

func (p *Process) record(pr Progress) {
	p.mu.Lock()
	p.last = pr
	p.mu.Unlock()
}

// Progress returns the most recent progress block; zero until ffmpeg reported one.
func (p *Process) Progress() Progress {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// Done is closed once the process has exited.
func (p *Process) Done() <-chan error {
	return p.done
}

// Stop asks ffmpeg to finish writing by sending `q` and waits for exit until ctx is done, after
// which the process is killed.
func (p *Process) Stop(ctx context.Context) error {
	var err error
	p.once.Do(func() {
		_, _ = io.WriteString(p.stdin, "q")
		_ = p.stdin.Close()
		select {
		case err = <-p.done:
		case <-ctx.Done():
			_ = p.cmd.Process.Kill()
			<-p.done
			err = ctx.Err()
		}
	})
	return err
}

type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
