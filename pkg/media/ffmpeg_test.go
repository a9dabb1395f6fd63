package media

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/offlinefirst/screenreel/pkg/project"
)

func TestParseProgressEmitsPerBlock(t *testing.T) {
	input := strings.Join([]string{
		"frame=12",
		"fps=30.0",
		"out_time_us=400000",
		"speed=1.5x",
		"progress=continue",
		"frame=30",
		"out_time_ms=1000000",
		"progress=end",
	}, "\n")

	var got []Progress
	if err := ParseProgress(strings.NewReader(input), func(p Progress) { got = append(got, p) }); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 progress blocks, got %d", len(got))
	}
	require.Equal(t, Progress{Frame: 12, OutTime: 400 * time.Millisecond, Speed: "1.5x"}, got[0])
	require.Equal(t, int64(30), got[1].Frame)
	require.Equal(t, time.Second, got[1].OutTime)
	require.True(t, got[1].Done)
}

func TestParseProgressReadsDroppedFrames(t *testing.T) {
	var got []Progress
	input := "frame=120\ndrop_frames=4\nprogress=continue\nframe=150\ndrop_frames=x\nprogress=end\n"
	require.NoError(t, ParseProgress(strings.NewReader(input), func(p Progress) { got = append(got, p) }))
	require.Len(t, got, 2)
	require.Equal(t, int64(4), got[0].DroppedFrames)
	require.Equal(t, int64(150), got[1].Frame)
	require.Equal(t, int64(4), got[1].DroppedFrames, "unparseable counters keep the previous value")
}

func TestProcessTracksProgress(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	f, err := NewFFmpeg(FFmpegOptions{Binary: "sh"})
	require.NoError(t, err)

	proc, err := f.Start(context.Background(), []string{"-c", "printf 'frame=42\\ndrop_frames=3\\nprogress=end\\n'; read line; exit 0"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, proc.Stop(ctx))
	last := proc.Progress()
	require.Equal(t, int64(42), last.Frame)
	require.Equal(t, int64(3), last.DroppedFrames)
	require.True(t, last.Done)
}

func TestNewFFmpegMissingBinary(t *testing.T) {
	_, err := NewFFmpeg(FFmpegOptions{LookPath: func(string) (string, error) { return "", errors.New("nope") }})
	if !errors.Is(err, ErrBinaryMissing) {
		t.Fatalf("expected ErrBinaryMissing, got %v", err)
	}
}

func TestFFprobeParsesOutput(t *testing.T) {
	var calls [][]string
	probe, err := NewFFprobe(ProbeOptions{
		LookPath: func(name string) (string, error) { return "/usr/bin/" + name, nil },
		Run: func(_ context.Context, name string, args ...string) ([]byte, error) {
			calls = append(calls, append([]string{name}, args...))
			if strings.Contains(strings.Join(args, " "), "format=duration") {
				return []byte("12.500000\n"), nil
			}
			return []byte("4480x1440\n"), nil
		},
	})
	require.NoError(t, err)

	d, err := probe.Duration(context.Background(), "screen.mkv")
	require.NoError(t, err)
	require.InDelta(t, 12.5, d, 1e-9)

	w, h, err := probe.Dimensions(context.Background(), "screen.mkv")
	require.NoError(t, err)
	require.Equal(t, 4480, w)
	require.Equal(t, 1440, h)
	require.Equal(t, "/usr/bin/ffprobe", calls[0][0])
}

func TestParseDurationRejectsNA(t *testing.T) {
	if _, err := ParseDuration([]byte("N/A\n")); err == nil {
		t.Fatalf("expected error for N/A duration")
	}
	if _, _, err := ParseDimensions([]byte("garbage")); err == nil {
		t.Fatalf("expected error for malformed dimensions")
	}
}

func TestDetectEnvironmentMissingTools(t *testing.T) {
	env := DetectEnvironment(DetectorOptions{
		LookPath: func(name string) (string, error) {
			if name == "ffmpeg" {
				return "/usr/bin/ffmpeg", nil
			}
			return "", errors.New("missing")
		},
		LookupEnv: func(key string) (string, bool) {
			switch key {
			case "XDG_SESSION_TYPE":
				return "x11", true
			case "DISPLAY":
				return ":0", true
			}
			return "", false
		},
	})
	require.False(t, env.Available)
	require.Equal(t, ProviderSynthetic, env.Provider)
	require.Equal(t, project.DisplayX11, env.DisplayServer)
	require.Contains(t, env.Message, "ffprobe")
	require.Contains(t, env.Message, "xrandr")
	require.NotEmpty(t, env.Guidance)
}

func TestDetectEnvironmentReady(t *testing.T) {
	env := DetectEnvironment(DetectorOptions{
		LookPath: func(name string) (string, error) { return "/usr/bin/" + name, nil },
		LookupEnv: func(key string) (string, bool) {
			if key == "DISPLAY" {
				return ":1", true
			}
			return "", false
		},
	})
	require.True(t, env.Available)
	require.Equal(t, ProviderFFmpeg, env.Provider)
	require.Equal(t, "/usr/bin/ffprobe", env.FFprobe)
}

func TestTailBufferKeepsSuffix(t *testing.T) {
	b := &tailBuffer{limit: 4}
	_, _ = b.Write([]byte("abc"))
	_, _ = b.Write([]byte("defg"))
	require.Equal(t, "defg", b.String())
}
