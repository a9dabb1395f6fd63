package export

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/offlinefirst/screenreel/pkg/events"
	"github.com/offlinefirst/screenreel/pkg/faults"
	"github.com/offlinefirst/screenreel/pkg/media"
	"github.com/offlinefirst/screenreel/pkg/project"
	"github.com/offlinefirst/screenreel/pkg/smoothing"
)

type fakeRunner struct {
	err      error
	args     []string
	progress []media.Progress
}

func (r *fakeRunner) Run(_ context.Context, args []string, onProgress func(media.Progress)) error {
	r.args = append([]string(nil), args...)
	if err := os.WriteFile(args[len(args)-1], []byte("encoded"), 0o644); err != nil {
		return err
	}
	for _, p := range r.progress {
		onProgress(p)
	}
	return r.err
}

type fakeProber struct {
	width, height int
	err           error
}

func (p fakeProber) Duration(context.Context, string) (float64, error) {
	return 0, errors.New("not probed")
}

func (p fakeProber) Dimensions(context.Context, string) (int, int, error) {
	if p.err != nil {
		return 0, 0, p.err
	}
	return p.width, p.height, nil
}

func noEnv(string) (string, bool) { return "", false }

func writeBundle(t *testing.T, mutate func(*project.Project, *project.Timeline)) string {
	t.Helper()
	root := t.TempDir()
	layout := project.BuildLayout(root)
	require.NoError(t, project.EnsureFilesystem(layout))

	p := project.New("demo", 1920, 1080, 30)
	p.Recording.MonitorName = "SYNTH-1"
	p.Tracks.Screen = &project.TrackRef{Path: "sources/screen.mkv", DurationSecs: 20, Codec: "h264"}
	p.Tracks.Mic = &project.TrackRef{Path: "sources/mic.wav", DurationSecs: 19.92, Codec: "pcm_s16le", OffsetNs: int64(80 * time.Millisecond)}
	tl := project.NewTimeline()
	if mutate != nil {
		mutate(&p, &tl)
	}
	require.NoError(t, os.WriteFile(layout.ScreenPath, []byte("screen"), 0o644))
	require.NoError(t, os.WriteFile(layout.MicPath, []byte("mic"), 0o644))
	require.NoError(t, project.Save(layout.ProjectPath, p))
	require.NoError(t, project.SaveTimeline(layout.TimelinePath, tl))

	log, err := events.Create(layout.EventsPath, events.NewHeader(time.Now(), 0, 1920, 1080, project.SpaceCaptureNormalized))
	require.NoError(t, err)
	for _, ev := range events.ScanScript(0, 20*time.Second, 10, 0.2, 0.2, 0.8, 0.7) {
		require.NoError(t, log.Append(ev))
	}
	require.NoError(t, log.Close())
	return root
}

func withCut(_ *project.Project, tl *project.Timeline) {
	tl.Cuts = []project.Cut{{StartSecs: 10, EndSecs: 15, Reason: "silence"}}
}

func TestPiecewiseExpr(t *testing.T) {
	require.Equal(t, "0", PiecewiseExpr(nil))
	require.Equal(t, "0.500000", PiecewiseExpr([]ExprPoint{{T: 1, V: 0.5}}))

	got := PiecewiseExpr([]ExprPoint{{T: 1, V: 1}, {T: 0, V: 0}})
	require.Equal(t, "if(lt(t,1.000000),0.000000+(1.000000)*(t-0.000000)/1.000000,1.000000)", got)

	// Knots closer than the merge window collapse; the later value wins.
	got = PiecewiseExpr([]ExprPoint{{T: 0, V: 0}, {T: 2, V: 0.3}, {T: 2.00001, V: 0.7}})
	require.Equal(t, "if(lt(t,2.000000),0.000000+(0.700000)*(t-0.000000)/2.000000,0.700000)", got)
}

func TestFramePlanSkipsCutFrames(t *testing.T) {
	tl := project.NewTimeline()
	tl.Cuts = []project.Cut{{StartSecs: 10, EndSecs: 15}}
	plan, err := BuildFramePlan(context.Background(), PlanOptions{
		Timeline: &tl,
		Cursor:   []smoothing.Point{{T: 0, X: 0.5, Y: 0.5}},
		FPS:      30,
		End:      20,
		Width:    1920,
		Height:   1080,
		Workers:  3,
	})
	require.NoError(t, err)
	require.Equal(t, 600, plan.Total)
	require.Equal(t, 151, plan.Skipped)
	require.Len(t, plan.Frames, 449)
	for i, f := range plan.Frames {
		if f.T >= 10 && f.T <= 15 {
			t.Fatalf("frame %d at %.3fs falls inside the cut", f.Index, f.T)
		}
		if i > 0 && plan.Frames[i-1].Index >= f.Index {
			t.Fatalf("frames out of order at %d", i)
		}
		require.InDelta(t, 960, f.CursorX, 1e-9)
	}
}

func TestFramePlanHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tl := project.NewTimeline()
	_, err := BuildFramePlan(ctx, PlanOptions{Timeline: &tl, FPS: 30, End: 60, Width: 2, Height: 2})
	require.ErrorIs(t, err, context.Canceled)
}

func TestMonitorPrecropFromVirtualDesktop(t *testing.T) {
	rec := project.Recording{
		MonitorX: 2560, MonitorY: 0, MonitorWidth: 1920, MonitorHeight: 1080,
		VirtualWidth: 4480, VirtualHeight: 1440,
	}
	crop, ok := MonitorPrecrop(rec, 4480, 1440)
	require.True(t, ok)
	require.Equal(t, Crop{X: 2560, Y: 0, Width: 1920, Height: 1080}, crop)

	_, ok = MonitorPrecrop(rec, 1920, 1080)
	require.False(t, ok, "matching source needs no crop")
	_, ok = MonitorPrecrop(rec, 1280, 720)
	require.False(t, ok, "smaller source is never cropped")
}

func TestAudioMap(t *testing.T) {
	cases := []struct {
		name        string
		mic, system int
		screenAudio bool
		keep        string
		filter      string
		mapArg      string
	}{
		{name: "mix", mic: 3, system: 4, filter: "[amic][asystem]amix=inputs=2:weights='1 1':normalize=0[aout]", mapArg: "[aout]"},
		{name: "mic only", mic: 3, system: -1, mapArg: "3:a:0?"},
		{name: "screen passthrough", mic: -1, system: -1, mapArg: "0:a?"},
		{name: "system with cuts", mic: -1, system: 2, keep: "between(t,0,5)", filter: "aselect='between(t,0,5)'", mapArg: "[aout]"},
		{name: "screen audio with cuts", mic: -1, system: -1, screenAudio: true, keep: "between(t,0,5)",
			filter: ";[0:a:0]anull,aselect='between(t,0,5)',asetpts=N/SR/TB[aout]", mapArg: "[aout]"},
		{name: "silent screen with cuts", mic: -1, system: -1, keep: "between(t,0,5)"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			filter, mapArg := AudioMap(tc.mic, tc.system, tc.screenAudio, tc.keep)
			require.Equal(t, tc.mapArg, mapArg)
			if tc.filter == "" {
				require.Empty(t, filter)
				return
			}
			require.Contains(t, filter, tc.filter)
		})
	}
}

type audioProber struct {
	fakeProber
	audio bool
}

func (p audioProber) HasAudio(context.Context, string) (bool, error) { return p.audio, nil }

func TestPlanKeepsScreenAudioAcrossCuts(t *testing.T) {
	root := writeBundle(t, func(p *project.Project, tl *project.Timeline) {
		p.Tracks.Mic = nil
		withCut(p, tl)
	})
	for _, audio := range []bool{true, false} {
		in, err := LoadInputs(context.Background(), root, audioProber{fakeProber: fakeProber{width: 1920, height: 1080}, audio: audio}, Trim{}, nil)
		require.NoError(t, err)
		require.Equal(t, audio, in.ScreenAudio)

		plan, err := BuildPlan(context.Background(), in, PlanConfig{Export: in.Project.Export, CursorIcon: "cursor.svg", LookupEnv: noEnv})
		require.NoError(t, err)
		if audio {
			require.Equal(t, "[aout]", plan.AudioMap)
			require.Contains(t, plan.Graph, "[0:a:0]anull,aselect=")
			require.NotContains(t, plan.Debug.String(), "audio=dropped")
		} else {
			require.Empty(t, plan.AudioMap)
			require.Contains(t, plan.Debug.String(), "audio=dropped")
		}
	}
}

func TestWebcamOpacityPromotesLegacyDefault(t *testing.T) {
	require.Equal(t, 1.0, WebcamOpacity(0.92))
	require.Equal(t, 0.5, WebcamOpacity(0.5))
	require.Equal(t, 1.0, WebcamOpacity(3))
}

func TestNormalizeColor(t *testing.T) {
	require.Equal(t, "0x336699", NormalizeColor("#336699"))
	require.Equal(t, "0xabcdef", NormalizeColor("0xABCDEF"))
	require.Equal(t, "0x1a1a1a", NormalizeColor("teal"))
}

func TestCodecArgsPerFormat(t *testing.T) {
	cfg := project.Export{Format: project.FormatMP4H264, VideoBitrateKbps: 200, AudioBitrateKbps: 32}
	args := strings.Join(CodecArgs(cfg), " ")
	require.Contains(t, args, "-c:v libx264")
	require.Contains(t, args, "-b:v 1000k")
	require.Contains(t, args, "-b:a 64k")

	cfg.Format = project.FormatWebM
	require.Contains(t, strings.Join(CodecArgs(cfg), " "), "libvpx-vp9")
	cfg.Format = project.FormatGIF
	require.Contains(t, CodecArgs(cfg), "-an")
}

func TestSelectProjection(t *testing.T) {
	rec := project.Recording{
		MonitorX: 2560, MonitorWidth: 1920, MonitorHeight: 1080,
		VirtualWidth: 4480, VirtualHeight: 1440,
		PointerCoordinateSpace: project.SpaceLegacyUnspecified,
	}
	var points []smoothing.Point
	for i := 0; i <= 10; i++ {
		f := float64(i) / 10
		points = append(points, smoothing.Point{T: uint64(i), X: 0.6 + 0.3*f, Y: 0.2 + 0.4*f})
	}

	p := SelectProjection(project.SpaceLegacyUnspecified, rec, points, noEnv)
	require.Equal(t, project.SpaceVirtualDesktopNormalized, p.Model)

	p = SelectProjection(project.SpaceCaptureNormalized, rec, points, noEnv)
	require.Equal(t, project.SpaceCaptureNormalized, p.Model)
	require.Equal(t, 1.0, p.Score)

	env := func(key string) (string, bool) {
		if key == ProjectionEnv {
			return "capture", true
		}
		return "", false
	}
	p = SelectProjection(project.SpaceLegacyUnspecified, rec, points, env)
	require.Equal(t, project.SpaceCaptureNormalized, p.Model)
	require.True(t, p.Override)
}

func TestCursorBudget(t *testing.T) {
	require.Equal(t, 32, cursorBudget(2, 30))
	require.Equal(t, 80, cursorBudget(10, 30))
	require.Equal(t, 96, cursorBudget(60, 60))
	require.Equal(t, 10, cursorBudget(1, 10))
}

func TestSimplifyCursorKeepsEndpoints(t *testing.T) {
	var pts []cursorPoint
	for i := 0; i < 500; i++ {
		pts = append(pts, cursorPoint{T: float64(i) / 30, X: float64(i), Y: float64(i % 7)})
	}
	out := simplifyCursor(pts, 40, cursorSimplifyTolPx)
	require.LessOrEqual(t, len(out), 40)
	require.Equal(t, pts[0], out[0])
	require.Equal(t, pts[len(pts)-1], out[len(out)-1])
}

func TestTrailLayers(t *testing.T) {
	pts := []cursorPoint{{T: 0, X: 0, Y: 0}, {T: 0.1, X: 900, Y: 0}, {T: 0.2, X: 1800, Y: 0}}
	layers := buildTrail(pts, project.MotionTrail{Enabled: true, GhostCount: 9, SpeedThreshold: 0.8, FrameSpacing: 2}, 30, 1920, 1080)
	require.Len(t, layers, 4)
	require.InDelta(t, 0.34, layers[0].Opacity, 1e-9)
	require.InDelta(t, 0.085, layers[3].Opacity, 1e-9)

	require.Nil(t, buildTrail(pts, project.MotionTrail{Enabled: false}, 30, 1920, 1080))
}

func TestExportRendersAndWritesArtifacts(t *testing.T) {
	root := writeBundle(t, withCut)
	runner := &fakeRunner{progress: []media.Progress{
		{OutTime: 5 * time.Second},
		{OutTime: 15 * time.Second, Done: true},
	}}
	var seen []Progress
	exporter, err := New(Options{
		Root:       root,
		Prober:     fakeProber{width: 1920, height: 1080},
		Runner:     runner,
		LookupEnv:  noEnv,
		OnProgress: func(p Progress) { seen = append(seen, p) },
	})
	require.NoError(t, err)

	res, err := exporter.Export(context.Background())
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "exports", "demo.mp4"), res.Output)
	require.FileExists(t, res.Output)
	require.Equal(t, 449, res.Frames)
	require.Empty(t, res.Warnings)

	joined := strings.Join(runner.args, " ")
	require.Contains(t, joined, "-itsoffset 0.080000 -i "+filepath.Join(root, "sources", "mic.wav"))
	require.Contains(t, joined, "-t 14.966667")
	require.Contains(t, joined, "-map [aout]")
	require.Contains(t, joined, "[2:a:0]anull,aselect=")
	require.Contains(t, joined, "not(between(t,10.000000,15.000000))")

	var sync SyncReport
	data, err := os.ReadFile(res.Artifacts.SyncReport)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &sync))
	require.Len(t, sync.Tracks, 2)
	require.Equal(t, int64(80*time.Millisecond), sync.Tracks[1].DeltaNs)

	var verification Verification
	data, err = os.ReadFile(res.Artifacts.Verification)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &verification))
	require.Equal(t, 151, verification.CutFramesSkipped)
	require.Equal(t, 449, verification.SampledFrames)

	debug, err := os.ReadFile(res.Artifacts.Debug)
	require.NoError(t, err)
	require.Contains(t, string(debug), "ffmpeg_args=-y -hide_banner")
	require.Contains(t, string(debug), "viewport_points=48")

	require.Equal(t, StageLoading, seen[0].Stage)
	last := seen[len(seen)-1]
	require.Equal(t, StageFinalizing, last.Stage)
	require.Equal(t, 1.0, last.Fraction)
}

func TestExportFailureRemovesTempAndKeepsDiagnostics(t *testing.T) {
	root := writeBundle(t, nil)
	out := filepath.Join(root, "exports", "final.mp4")
	exporter, err := New(Options{
		Root:      root,
		Output:    out,
		Prober:    fakeProber{width: 1920, height: 1080},
		Runner:    &fakeRunner{err: &media.ExitError{Binary: "ffmpeg", Stderr: "Invalid argument\n", Err: errors.New("exit status 1")}},
		LookupEnv: noEnv,
	})
	require.NoError(t, err)

	res, err := exporter.Export(context.Background())
	if !faults.Is(err, faults.CodeRender) {
		t.Fatalf("expected render error, got %v", err)
	}
	require.NoFileExists(t, out)
	entries, err := os.ReadDir(filepath.Dir(out))
	require.NoError(t, err)
	for _, entry := range entries {
		if strings.Contains(entry.Name(), ".partial-") {
			t.Fatalf("temp output %s left behind", entry.Name())
		}
	}
	require.FileExists(t, res.Artifacts.SyncReport)
	require.FileExists(t, res.Artifacts.Verification)
	debug, err := os.ReadFile(res.Artifacts.Debug)
	require.NoError(t, err)
	require.Contains(t, string(debug), "ffmpeg_stderr=Invalid argument")
	require.Equal(t, "failed", res.Verification.Status)
}

func TestLoadInputsFallsBackToLastEvent(t *testing.T) {
	root := writeBundle(t, func(p *project.Project, _ *project.Timeline) {
		p.Tracks.Screen.DurationSecs = 0
		p.Tracks.Mic = nil
	})
	in, err := LoadInputs(context.Background(), root, fakeProber{err: errors.New("no ffprobe")}, Trim{End: 100}, nil)
	require.NoError(t, err)
	require.InDelta(t, 19.9, in.End, 1e-9)
	require.Equal(t, 1920, in.SourceWidth)
	require.Nil(t, in.Mic)

	_, err = LoadInputs(context.Background(), root, nil, Trim{Start: 30}, nil)
	if !faults.Is(err, faults.CodeRender) {
		t.Fatalf("expected render error for empty trim window, got %v", err)
	}
}

func TestForceFullScreenRender(t *testing.T) {
	root := writeBundle(t, func(_ *project.Project, tl *project.Timeline) {
		tl.SetKeyframe(project.Keyframe{T: 0, Viewport: project.CenteredViewport(0.5, 0.5, 0.5, 0.5), Easing: project.EasingLinear, Source: project.SourceManual})
	})
	in, err := LoadInputs(context.Background(), root, nil, Trim{}, nil)
	require.NoError(t, err)
	env := func(key string) (string, bool) { return "yes", key == ForceFullScreenEnv }
	plan, err := BuildPlan(context.Background(), in, PlanConfig{Export: in.Project.Export, CursorIcon: "cursor.svg", LookupEnv: env})
	require.NoError(t, err)
	require.True(t, plan.FullScreen)
	require.Equal(t, project.FullViewport, plan.Frames.Frames[0].Viewport)
	require.False(t, plan.Viewport.Dynamic)
	require.Contains(t, plan.Graph, "alphamerge")
}

func TestEarlyFailureWritesDiagnosticsBesideDefaultOutput(t *testing.T) {
	cases := []struct {
		name   string
		format project.ExportFormat
		remove func(project.Layout) string
		output func(root string) string
	}{
		{
			name:   "missing screen",
			remove: func(l project.Layout) string { return l.ScreenPath },
			output: func(root string) string { return filepath.Join(root, "exports", "demo.mp4") },
		},
		{
			name:   "missing screen with format override",
			format: project.FormatGIF,
			remove: func(l project.Layout) string { return l.ScreenPath },
			output: func(root string) string { return filepath.Join(root, "exports", "demo.gif") },
		},
		{
			name:   "missing project file",
			remove: func(l project.Layout) string { return l.ProjectPath },
			output: func(root string) string {
				return filepath.Join(root, "exports", filepath.Base(root)+".mp4")
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			root := writeBundle(t, nil)
			require.NoError(t, os.Remove(tc.remove(project.BuildLayout(root))))

			runner := &fakeRunner{}
			exporter, err := New(Options{Root: root, Format: tc.format, Runner: runner, LookupEnv: noEnv})
			require.NoError(t, err)

			res, exportErr := exporter.Export(context.Background())
			if exportErr == nil {
				t.Fatalf("expected export to fail")
			}
			want := tc.output(root)
			require.Equal(t, want, res.Output)
			require.Equal(t, ArtifactPaths(want), res.Artifacts)
			require.NoFileExists(t, want)
			require.Nil(t, runner.args)

			for _, path := range []string{res.Artifacts.SyncReport, res.Artifacts.Debug, res.Artifacts.Verification} {
				require.FileExists(t, path)
			}
			data, err := os.ReadFile(res.Artifacts.Verification)
			require.NoError(t, err)
			var verification Verification
			require.NoError(t, json.Unmarshal(data, &verification))
			require.Equal(t, "failed", verification.Status)
			require.Equal(t, exportErr.Error(), verification.Error)
		})
	}
}

func TestLoadInputsReportsMissingOptionalTracks(t *testing.T) {
	root := writeBundle(t, func(p *project.Project, _ *project.Timeline) {
		p.Tracks.Webcam = &project.TrackRef{Path: "sources/webcam.mkv", DurationSecs: 20}
	})
	layout := project.BuildLayout(root)
	require.NoError(t, os.Remove(layout.MicPath))

	in, err := LoadInputs(context.Background(), root, nil, Trim{}, nil)
	require.NoError(t, err)
	require.Nil(t, in.Mic)
	require.Nil(t, in.Webcam)
	require.Contains(t, in.Warnings, "webcam track sources/webcam.mkv is missing; exported without it")
	require.Contains(t, in.Warnings, "mic track sources/mic.wav is missing; exported without it")

	report := BuildSyncReport(in, false, nil)
	require.Contains(t, report.Warnings, "mic track sources/mic.wav is missing; exported without it")
}

func TestPlanUsesAspectModeCanvas(t *testing.T) {
	cases := []struct {
		mode   project.AspectMode
		canvas string
	}{
		{mode: project.AspectLandscape, canvas: "s=1920x1080"},
		{mode: project.AspectPortrait, canvas: "s=1080x1920"},
		{mode: project.AspectSquare, canvas: "s=1080x1080"},
	}
	for _, tc := range cases {
		t.Run(string(tc.mode), func(t *testing.T) {
			root := writeBundle(t, func(p *project.Project, _ *project.Timeline) {
				p.Export.AspectMode = tc.mode
			})
			in, err := LoadInputs(context.Background(), root, nil, Trim{}, nil)
			require.NoError(t, err)
			plan, err := BuildPlan(context.Background(), in, PlanConfig{Export: in.Project.Export, CursorIcon: "cursor.svg", LookupEnv: noEnv})
			require.NoError(t, err)
			require.Contains(t, plan.Graph, "color=c=0x1a1a1a:"+tc.canvas)
			require.Contains(t, plan.Debug.String(), "canvas="+strings.TrimPrefix(tc.canvas, "s=")+" "+string(tc.mode))
		})
	}
}

func TestBurnSubtitles(t *testing.T) {
	root := writeBundle(t, func(p *project.Project, tl *project.Timeline) {
		p.Export.BurnSubtitles = true
		withCut(p, tl)
	})
	layout := project.BuildLayout(root)

	in, err := LoadInputs(context.Background(), root, nil, Trim{}, nil)
	require.NoError(t, err)
	require.Empty(t, in.Subtitles)
	require.Contains(t, in.Warnings, "burn_subtitles is set but sources/subtitles.srt is missing")

	require.NoError(t, os.WriteFile(layout.SubtitlesPath, []byte("1\n00:00:00,000 --> 00:00:02,000\nhello\n"), 0o644))
	in, err = LoadInputs(context.Background(), root, nil, Trim{}, nil)
	require.NoError(t, err)
	require.Equal(t, layout.SubtitlesPath, in.Subtitles)

	plan, err := BuildPlan(context.Background(), in, PlanConfig{Export: in.Project.Export, CursorIcon: "cursor.svg", LookupEnv: noEnv})
	require.NoError(t, err)
	sub := strings.Index(plan.Graph, "subtitles=filename=")
	sel := strings.Index(plan.Graph, "[subtitled]select=")
	if sub < 0 || sel < sub {
		t.Fatalf("subtitles must be burned before cuts are applied: %s", plan.Graph)
	}
}

func TestEscapeFilterPath(t *testing.T) {
	require.Equal(t, `/tmp/a\:b/it'\''s.srt`, escapeFilterPath("/tmp/a:b/it's.srt"))
	require.Equal(t, `C\:\\subs.srt`, escapeFilterPath(`C:\subs.srt`))
}
