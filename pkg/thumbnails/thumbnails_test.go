package thumbnails

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/offlinefirst/screenreel/pkg/media"
	"github.com/offlinefirst/screenreel/pkg/project"
)

type recordingRunner struct {
	calls [][]string
	err   error
}

func (r *recordingRunner) Run(_ context.Context, args []string, _ func(media.Progress)) error {
	r.calls = append(r.calls, append([]string(nil), args...))
	if r.err != nil {
		return r.err
	}
	return os.WriteFile(args[len(args)-1], []byte("png"), 0o644)
}

func keyframesAt(times ...float64) []project.Keyframe {
	out := make([]project.Keyframe, 0, len(times))
	for _, t := range times {
		out = append(out, project.Keyframe{
			T:        t,
			Viewport: project.CenteredViewport(0.5, 0.5, 0.4, 0.4),
			Easing:   project.EasingEaseInOut,
			Source:   project.SourceAuto,
		})
	}
	return out
}

func TestNewValidation(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatalf("expected error for nil runner")
	}
	if _, err := New(Options{Runner: &recordingRunner{}, MaxCount: -1}); err == nil {
		t.Fatalf("expected error for negative max count")
	}
}

func TestGenerateWritesStillPerKeyframe(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	runner := &recordingRunner{}
	gen, err := New(Options{Runner: runner, Clock: func() time.Time { return base }})
	require.NoError(t, err)

	dir := t.TempDir()
	result, err := gen.Generate(context.Background(), "screen.mkv", keyframesAt(0, 2.5), dir)
	require.NoError(t, err)
	require.Equal(t, 2, result.Count)

	for i, path := range result.Files {
		expected := filepath.Join(dir, fmt.Sprintf("keyframe_%03d.png", i+1))
		if path != expected {
			t.Fatalf("unexpected path %q, want %q", path, expected)
		}
		require.FileExists(t, path)
	}

	args := strings.Join(runner.calls[1], " ")
	require.Contains(t, args, "-ss 2.5000")
	require.Contains(t, args, "crop=w=iw*0.4000:h=ih*0.4000:x=iw*0.3000:y=ih*0.3000,scale=320:-2")

	data, err := os.ReadFile(result.MetadataFiles[1])
	require.NoError(t, err)
	var still Still
	require.NoError(t, json.Unmarshal(data, &still))
	require.Equal(t, 2.5, still.T)
	require.Equal(t, "keyframe_002.png", still.ImagePath)
	require.True(t, still.GeneratedAt.Equal(base))
}

func TestGenerateSamplesBeyondLimit(t *testing.T) {
	runner := &recordingRunner{}
	gen, err := New(Options{Runner: runner, MaxCount: 3})
	require.NoError(t, err)

	result, err := gen.Generate(context.Background(), "screen.mkv", keyframesAt(0, 1, 2, 3, 4, 5), t.TempDir())
	require.NoError(t, err)
	require.Equal(t, 3, result.Count)
	require.Equal(t, []float64{0, 2, 4}, []float64{result.Stills[0].T, result.Stills[1].T, result.Stills[2].T})
}

func TestGenerateStopsOnRunnerError(t *testing.T) {
	gen, err := New(Options{Runner: &recordingRunner{err: errors.New("boom")}})
	require.NoError(t, err)
	if _, err := gen.Generate(context.Background(), "screen.mkv", keyframesAt(0), t.TempDir()); err == nil {
		t.Fatalf("expected runner error")
	}
}

func TestGenerateCancellation(t *testing.T) {
	gen, err := New(Options{Runner: &recordingRunner{}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := gen.Generate(ctx, "screen.mkv", keyframesAt(0), t.TempDir()); err == nil {
		t.Fatalf("expected cancellation error")
	}
}
