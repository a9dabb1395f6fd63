package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/offlinefirst/screenreel/pkg/capture"
	"github.com/offlinefirst/screenreel/pkg/events"
	"github.com/offlinefirst/screenreel/pkg/history"
	"github.com/offlinefirst/screenreel/pkg/media"
	"github.com/offlinefirst/screenreel/pkg/project"
	"github.com/offlinefirst/screenreel/pkg/runmanifest"
)

type fakeRunner struct {
	err   error
	calls int
}

func (r *fakeRunner) Run(_ context.Context, args []string, onProgress func(media.Progress)) error {
	r.calls++
	if err := os.WriteFile(args[len(args)-1], []byte("encoded"), 0o644); err != nil {
		return err
	}
	if onProgress != nil {
		onProgress(media.Progress{OutTime: 100 * time.Millisecond, Done: true})
	}
	return r.err
}

type fakeProber struct{}

func (fakeProber) Duration(context.Context, string) (float64, error) { return 0.5, nil }

func (fakeProber) Dimensions(context.Context, string) (int, int, error) { return 1920, 1080, nil }

type testCLI struct {
	rc     *RootCommand
	stdout *bytes.Buffer
	dir    string
}

func newTestCLI(t *testing.T, runner media.Runner) *testCLI {
	t.Helper()
	dir := t.TempDir()
	var stdout bytes.Buffer
	rc := &RootCommand{
		stdout: &stdout,
		stderr: &bytes.Buffer{},
		environ: map[string]string{
			"SCREENREEL_PROJECTS_DIR": filepath.Join(dir, "projects"),
			"SCREENREEL_HISTORY_DB":   filepath.Join(dir, "history.db"),
			"SCREENREEL_LOG_LEVEL":    "debug",
		},
		toolchain: Toolchain{
			Backend: &capture.SyntheticBackend{Script: events.DwellScript(0, 400*time.Millisecond, 30, 0.3, 0.7)},
			Prober:  fakeProber{},
			Runner:  runner,
		},
	}
	return &testCLI{rc: rc, stdout: &stdout, dir: dir}
}

func (tc *testCLI) run(t *testing.T, args ...string) string {
	t.Helper()
	tc.stdout.Reset()
	if err := tc.rc.Execute(args); err != nil {
		t.Fatalf("%s returned error: %v\noutput: %s", args[0], err, tc.stdout.String())
	}
	return tc.stdout.String()
}

func pinClock(t *testing.T) time.Time {
	t.Helper()
	base := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
	started := time.Now()
	origTime, origHost := timeNow, hostname
	timeNow = func() time.Time { return base.Add(time.Since(started)) }
	hostname = func() (string, error) { return "test-host", nil }
	t.Cleanup(func() {
		timeNow, hostname = origTime, origHost
	})
	return base
}

// loadOnlyManifest returns the single export run recorded under the bundle.
func loadOnlyManifest(t *testing.T, root string) (string, runmanifest.Manifest) {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(project.BuildLayout(root).ExportsDir, "*", "manifest.json"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	man, err := runmanifest.Load(matches[0])
	require.NoError(t, err)
	return filepath.Base(filepath.Dir(matches[0])), man
}

func TestVersionCommand(t *testing.T) {
	origVersion, origGOOS := runtimeVersion, runtimeGOOS
	runtimeVersion = func() string { return "go1.24.0" }
	runtimeGOOS = func() string { return "linux" }
	defer func() { runtimeVersion, runtimeGOOS = origVersion, origGOOS }()

	tc := newTestCLI(t, &fakeRunner{})
	out := tc.run(t, "version")
	if !strings.Contains(out, "(go1.24.0/linux)") {
		t.Fatalf("unexpected version output %q", out)
	}
}

func TestRecordWritesBundleAndAutoCamera(t *testing.T) {
	base := pinClock(t)
	tc := newTestCLI(t, &fakeRunner{})

	out := tc.run(t, "record", "--name", "Demo Take", "--duration", "300ms")

	root := filepath.Join(tc.dir, "projects", "demo_take_"+base.Format("20060102_150405"))
	layout := project.BuildLayout(root)
	require.FileExists(t, layout.ProjectPath)
	require.FileExists(t, layout.EventsPath)
	require.Contains(t, out, "Bundle: "+root)
	require.Contains(t, out, "Auto camera:")

	p, _, err := project.Load(layout.ProjectPath)
	require.NoError(t, err)
	require.Equal(t, "Demo Take", p.Name)
	require.NoError(t, p.ValidateSources(root))

	tl, _, err := project.LoadTimeline(layout.TimelinePath)
	require.NoError(t, err)
	require.NotEmpty(t, tl.Keyframes)
}

func TestRecordListMonitors(t *testing.T) {
	tc := newTestCLI(t, &fakeRunner{})
	out := tc.run(t, "record", "--list-monitors")
	require.Contains(t, out, "SYNTH-1")
	require.Contains(t, out, "SYNTH-2")
	_, err := os.Stat(filepath.Join(tc.dir, "projects"))
	require.True(t, os.IsNotExist(err), "listing monitors must not create a bundle")
}

func TestAnalyzeDryRunLeavesTimelineUntouched(t *testing.T) {
	pinClock(t)
	tc := newTestCLI(t, &fakeRunner{})
	root := filepath.Join(tc.dir, "bundle")
	tc.run(t, "record", "--root", root, "--duration", "200ms", "--no-analyze")

	layout := project.BuildLayout(root)
	before, err := os.ReadFile(layout.TimelinePath)
	require.NoError(t, err)

	out := tc.run(t, "analyze", "--dry-run", root)
	require.Contains(t, out, "Auto camera:")
	after, err := os.ReadFile(layout.TimelinePath)
	require.NoError(t, err)
	require.Equal(t, string(before), string(after))

	tc.run(t, "analyze", root)
	tl, _, err := project.LoadTimeline(layout.TimelinePath)
	require.NoError(t, err)
	require.NotEmpty(t, tl.Keyframes)
}

func TestAnalyzeVerticalSwitchesExportToPortrait(t *testing.T) {
	pinClock(t)
	tc := newTestCLI(t, &fakeRunner{})
	root := filepath.Join(tc.dir, "bundle")
	tc.run(t, "record", "--root", root, "--duration", "200ms", "--no-analyze")
	layout := project.BuildLayout(root)

	out := tc.run(t, "analyze", "--vertical", "--dry-run", root)
	require.Contains(t, out, "Vertical camera:")
	p, _, err := project.Load(layout.ProjectPath)
	require.NoError(t, err)
	require.Equal(t, project.AspectLandscape, p.Export.AspectMode)

	tc.run(t, "analyze", "--vertical", root)
	p, _, err = project.Load(layout.ProjectPath)
	require.NoError(t, err)
	require.Equal(t, project.AspectPortrait, p.Export.AspectMode)

	tl, _, err := project.LoadTimeline(layout.TimelinePath)
	require.NoError(t, err)
	require.NotEmpty(t, tl.Keyframes)
	aspect := focusedAspect(p.Recording)
	for _, kf := range tl.Keyframes {
		require.Equal(t, project.SourceAuto, kf.Source)
		require.InDelta(t, 9.0/16.0, kf.Viewport.W*aspect/kf.Viewport.H, 1e-6)
	}
}

func TestAnalyzeRendersThumbnails(t *testing.T) {
	pinClock(t)
	runner := &fakeRunner{}
	tc := newTestCLI(t, runner)
	root := filepath.Join(tc.dir, "bundle")
	tc.run(t, "record", "--root", root, "--duration", "200ms", "--no-analyze")

	out := tc.run(t, "analyze", "--thumbnails", root)
	require.Contains(t, out, "Thumbnails: ")
	require.Positive(t, runner.calls)
	thumbs := filepath.Join(project.BuildLayout(root).CacheDir, "thumbnails")
	require.FileExists(t, filepath.Join(thumbs, "keyframe_001.png"))
	require.FileExists(t, filepath.Join(thumbs, "keyframe_001.json"))
}

func TestExportRecordsManifestAndHistory(t *testing.T) {
	base := pinClock(t)
	runner := &fakeRunner{}
	tc := newTestCLI(t, runner)
	root := filepath.Join(tc.dir, "bundle")
	tc.run(t, "record", "--root", root, "--duration", "300ms")

	out := tc.run(t, "export", "--format", "webm", root)
	require.Equal(t, 1, runner.calls)
	require.Contains(t, out, "Output: ")
	require.Contains(t, out, "Manifest: ")

	runID, man := loadOnlyManifest(t, root)
	require.True(t, strings.HasPrefix(runID, base.Format("20060102")), runID)
	require.Equal(t, runmanifest.StateCompleted, man.Status.State)
	require.Equal(t, "webm", man.Export.Format)
	require.Equal(t, "test-host", man.Hostname)
	require.True(t, strings.HasSuffix(man.Paths.Output, ".webm"), man.Paths.Output)
	require.NotEmpty(t, man.Status.Stages)

	store, err := history.Open(filepath.Join(tc.dir, "history.db"))
	require.NoError(t, err)
	runs, err := store.List(context.Background(), history.ListOptions{})
	require.NoError(t, err)
	require.NoError(t, store.Close())
	require.Len(t, runs, 1)
	require.Equal(t, runID, runs[0].RunID)
	require.Equal(t, runmanifest.StateCompleted, runs[0].State)

	listing := tc.run(t, "history")
	require.Contains(t, listing, runID)
	require.Contains(t, listing, "completed")
}

func TestExportFailureMarksManifestFailed(t *testing.T) {
	pinClock(t)
	runner := &fakeRunner{err: &media.ExitError{Binary: "ffmpeg", Stderr: "Invalid argument\n", Err: os.ErrInvalid}}
	tc := newTestCLI(t, runner)
	root := filepath.Join(tc.dir, "bundle")
	tc.run(t, "record", "--root", root, "--duration", "200ms", "--no-analyze")

	err := tc.rc.Execute([]string{"export", "--no-history", root})
	if err == nil {
		t.Fatalf("expected export to fail")
	}

	_, man := loadOnlyManifest(t, root)
	require.Equal(t, runmanifest.StateFailed, man.Status.State)
	require.Equal(t, "RENDER", man.Status.ErrorCode)
	_, statErr := os.Stat(filepath.Join(tc.dir, "history.db"))
	require.True(t, os.IsNotExist(statErr), "--no-history must not open the database")
}

func TestExportRejectsUnknownFormat(t *testing.T) {
	tc := newTestCLI(t, &fakeRunner{})
	err := tc.rc.Execute([]string{"export", "--format", "avi", tc.dir})
	require.ErrorContains(t, err, "unsupported export format")
}

func TestValidateReportsBundleState(t *testing.T) {
	pinClock(t)
	tc := newTestCLI(t, &fakeRunner{})
	root := filepath.Join(tc.dir, "bundle")
	tc.run(t, "record", "--root", root, "--duration", "200ms")

	out := tc.run(t, "validate", root)
	require.Contains(t, out, "events.jsonl:")
	require.Contains(t, out, "is valid")

	p, _, err := project.Load(project.BuildLayout(root).ProjectPath)
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(root, p.Tracks.Screen.Path)))

	tc.stdout.Reset()
	err = tc.rc.Execute([]string{"validate", root})
	require.ErrorContains(t, err, "media")
}

func TestBundleRootForSlugifiesName(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	got := bundleRootFor("projects", "  My Demo: Take #2 ", now)
	require.Equal(t, filepath.Join("projects", "my_demo__take__2_20250102_030405"), got)
	require.Equal(t, filepath.Join("projects", "recording_20250102_030405"), bundleRootFor("projects", "!!!", now))
}
