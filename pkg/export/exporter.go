// Package export renders a recorded project into a finished video. It reads the bundle,
// builds a deterministic frame plan and an ffmpeg filter graph from the timeline, runs the
// encode into a temp file and always leaves sync, debug and verification reports next to
// the output.
package export

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/offlinefirst/screenreel/pkg/faults"
	"github.com/offlinefirst/screenreel/pkg/media"
	"github.com/offlinefirst/screenreel/pkg/platform"
	"github.com/offlinefirst/screenreel/pkg/project"
	"github.com/offlinefirst/screenreel/pkg/smoothing"
)

//go:embed assets/cursor.svg
var cursorIcon []byte

const (
	// ForceFullScreenEnv renders the whole capture and ignores timeline zoom.
	ForceFullScreenEnv = "SCREENREEL_FORCE_FULL_SCREEN_RENDER"
	// LogLevelEnv overrides the ffmpeg -loglevel used for the encode.
	LogLevelEnv = "SCREENREEL_FFMPEG_LOGLEVEL"
)

var tracer = otel.Tracer("github.com/offlinefirst/screenreel/pkg/export")

// Stage labels the phase reported through Progress.
type Stage string

const (
	StageLoading    Stage = "loading"
	StagePlanning   Stage = "planning"
	StageRendering  Stage = "rendering"
	StageFinalizing Stage = "finalizing"
)

// Progress is reported while an export runs.
type Progress struct {
	Stage          Stage
	Fraction       float64
	FramesRendered int
	TotalFrames    int
	ETA            time.Duration
}

// Options configure an Exporter. Zero export overrides keep the project's settings.
type Options struct {
	Root   string
	Output string

	Format project.ExportFormat
	Width  int
	Height int
	FPS    int
	Trim   Trim

	Prober    media.Prober
	Runner    media.Runner
	Logger    *slog.Logger
	LookupEnv platform.LookupEnvFunc
	Workers   int
	Clock     func() time.Time

	OnProgress func(Progress)
}

// Exporter runs one export of a project bundle.
type Exporter struct {
	opts   Options
	logger *slog.Logger
	clock  func() time.Time
	lookup platform.LookupEnvFunc
}

// Result describes a finished (or failed) export.
type Result struct {
	Output       string
	Artifacts    Artifacts
	Sync         SyncReport
	Verification Verification
	Warnings     []faults.Warning
	Frames       int
	Elapsed      time.Duration
}

// New validates opts.
func New(opts Options) (*Exporter, error) {
	if strings.TrimSpace(opts.Root) == "" {
		return nil, faults.NewConfiguration("export root must not be empty", nil)
	}
	if opts.Runner == nil {
		return nil, faults.NewConfiguration("export runner must be configured", nil)
	}
	logger := opts.Logger
	if logger == nil {
		logger = discardLogger()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	lookup := opts.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return &Exporter{opts: opts, logger: logger, clock: clock, lookup: lookup}, nil
}

// OutputPath returns the destination for an export of p when no explicit output is given.
func OutputPath(layout project.Layout, p project.Project, format project.ExportFormat) string {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		name = "export"
	}
	name = strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == os.PathSeparator {
			return '_'
		}
		return r
	}, name)
	return filepath.Join(layout.ExportsDir, name+format.Extension())
}

// Export loads the bundle, plans the render and runs the encode. The output only appears
// once the encode has succeeded; the diagnostic artifacts are written either way.
func (e *Exporter) Export(ctx context.Context) (Result, error) {
	ctx, span := tracer.Start(ctx, "export.run", trace.WithAttributes(attribute.String("export.root", e.opts.Root)))
	defer span.End()
	started := e.clock()

	res, err := e.export(ctx)
	res.Elapsed = e.clock().Sub(started)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Error("export failed", slog.String("output", res.Output), slog.Any("error", err))
		return res, err
	}
	e.logger.Info("export finished",
		slog.String("output", res.Output),
		slog.Int("frames", res.Frames),
		slog.Duration("elapsed", res.Elapsed),
		slog.Int("warnings", len(res.Warnings)),
	)
	return res, nil
}

func (e *Exporter) export(ctx context.Context) (Result, error) {
	var res Result
	e.progress(Progress{Stage: StageLoading})

	loadCtx, loadSpan := tracer.Start(ctx, "export.load")
	in, err := LoadInputs(loadCtx, e.opts.Root, e.opts.Prober, e.opts.Trim, e.logger)
	loadSpan.End()
	if err != nil {
		res.Output = e.failureOutput()
		res.Artifacts = ArtifactPaths(res.Output)
		e.writeFailureArtifacts(res.Artifacts, err)
		return res, err
	}
	cfg := e.exportConfig(in.Project.Export)
	res.Output = e.opts.Output
	if res.Output == "" {
		res.Output = OutputPath(in.Layout, in.Project, cfg.Format)
	}
	res.Artifacts = ArtifactPaths(res.Output)
	if err := os.MkdirAll(filepath.Dir(res.Output), 0o755); err != nil {
		err = faults.NewIO("create export directory", err)
		e.writeFailureArtifacts(res.Artifacts, err)
		return res, err
	}

	icon, cleanup, err := e.cursorIcon(in)
	if err != nil {
		e.writeFailureArtifacts(res.Artifacts, err)
		return res, err
	}
	defer cleanup()

	e.progress(Progress{Stage: StagePlanning})
	planCtx, planSpan := tracer.Start(ctx, "export.plan")
	plan, err := BuildPlan(planCtx, in, PlanConfig{
		Export:     cfg,
		CursorIcon: icon,
		LookupEnv:  e.lookup,
		Workers:    e.opts.Workers,
		Clock:      e.clock,
		Logger:     e.logger,
	})
	planSpan.End()
	if err != nil {
		e.writeFailureArtifacts(res.Artifacts, err)
		return res, err
	}
	res.Sync = plan.Sync
	res.Warnings = plan.Sync.SyncWarnings()
	res.Frames = len(plan.Frames.Frames)
	for _, w := range res.Warnings {
		e.logger.Warn("sync warning", slog.String("warning", w.Message))
	}

	renderErr := e.render(ctx, plan, res.Output)
	res.Verification = BuildVerification(res.Output, plan.Frames, renderErr)
	if renderErr != nil {
		res.Sync.Error = renderErr.Error()
	}
	if err := e.writeArtifacts(res.Artifacts, res.Sync, plan.Debug.String(), res.Verification); err != nil && renderErr == nil {
		return res, err
	}
	if renderErr != nil {
		return res, renderErr
	}
	e.progress(Progress{Stage: StageFinalizing, Fraction: 1, FramesRendered: res.Frames, TotalFrames: res.Frames})
	return res, nil
}

// failureOutput names the output used for diagnostics when the bundle could not be loaded.
// The project file is read best-effort; a bundle without one falls back to its directory name.
func (e *Exporter) failureOutput() string {
	if e.opts.Output != "" {
		return e.opts.Output
	}
	layout := project.BuildLayout(e.opts.Root)
	p, _, err := project.Load(layout.ProjectPath)
	if err != nil || strings.TrimSpace(p.Name) == "" {
		p.Name = filepath.Base(filepath.Clean(e.opts.Root))
	}
	format := e.opts.Format
	if format == "" {
		format = p.Export.Format
	}
	if format == "" {
		format = project.FormatMP4H264
	}
	return OutputPath(layout, p, format)
}

func (e *Exporter) exportConfig(base project.Export) project.Export {
	cfg := base
	if e.opts.Format != "" {
		cfg.Format = e.opts.Format
	}
	if e.opts.Width > 0 {
		cfg.Width = e.opts.Width
	}
	if e.opts.Height > 0 {
		cfg.Height = e.opts.Height
	}
	if e.opts.FPS > 0 {
		cfg.FPS = e.opts.FPS
	}
	cfg.Width = evenDimension(float64(cfg.Width))
	cfg.Height = evenDimension(float64(cfg.Height))
	return cfg
}

// cursorIcon resolves the sprite: the timeline's custom asset when it exists, otherwise the
// built-in pointer written to a temp file.
func (e *Exporter) cursorIcon(in Inputs) (string, func(), error) {
	if custom := strings.TrimSpace(in.Timeline.CursorConfig.CustomAsset); custom != "" {
		path := in.Layout.Abs(custom)
		if fileExists(path) {
			return path, func() {}, nil
		}
		e.logger.Warn("custom cursor asset missing; using built-in pointer", slog.String("path", path))
	}
	f, err := os.CreateTemp("", "screenreel-cursor-*.svg")
	if err != nil {
		return "", nil, faults.NewIO("create cursor icon", err)
	}
	if _, err := f.Write(cursorIcon); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", nil, faults.NewIO("write cursor icon", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", nil, faults.NewIO("close cursor icon", err)
	}
	return f.Name(), func() { os.Remove(f.Name()) }, nil
}

// render encodes into a temp file beside output and renames it into place on success.
func (e *Exporter) render(ctx context.Context, plan *Plan, output string) error {
	ctx, span := tracer.Start(ctx, "export.render", trace.WithAttributes(
		attribute.Int("export.frames", len(plan.Frames.Frames)),
		attribute.String("export.format", string(plan.Export.Format)),
	))
	defer span.End()

	dir := filepath.Dir(output)
	ext := filepath.Ext(output)
	stem := strings.TrimSuffix(filepath.Base(output), ext)
	tmp, err := os.CreateTemp(dir, "."+stem+".partial-*"+ext)
	if err != nil {
		return faults.NewIO("create temp output", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	args := plan.Args(tmpPath)
	plan.Debug.Set("ffmpeg_args", strings.Join(args, " "))
	total := len(plan.Frames.Frames)
	expected := plan.OutputSeconds
	begin := e.clock()
	e.progress(Progress{Stage: StageRendering, TotalFrames: total})

	err = e.opts.Runner.Run(ctx, args, func(p media.Progress) {
		fraction := 0.0
		if expected > 0 {
			fraction = math.Min(math.Max(p.OutTime.Seconds()/expected, 0), 1)
		}
		stage := StageRendering
		if p.Done {
			fraction, stage = 1, StageFinalizing
		}
		var eta time.Duration
		if fraction > 0 {
			elapsed := e.clock().Sub(begin)
			eta = max(time.Duration(float64(elapsed)/fraction)-elapsed, 0)
		}
		e.progress(Progress{
			Stage:          stage,
			Fraction:       fraction,
			FramesRendered: int(math.Round(fraction * float64(total))),
			TotalFrames:    total,
			ETA:            eta,
		})
	})
	if err != nil {
		span.RecordError(err)
		if ctx.Err() != nil {
			return faults.NewRender("export cancelled", ctx.Err())
		}
		var exitErr *media.ExitError
		if errors.As(err, &exitErr) && strings.TrimSpace(exitErr.Stderr) != "" {
			plan.Debug.Set("ffmpeg_stderr", strings.ReplaceAll(strings.TrimSpace(exitErr.Stderr), "\n", " | "))
		}
		return faults.NewRender("ffmpeg encode failed", err)
	}
	if err := os.Rename(tmpPath, output); err != nil {
		return faults.NewIO("move export into place", err)
	}
	committed = true
	return nil
}

func (e *Exporter) writeArtifacts(a Artifacts, sync SyncReport, debug string, v Verification) error {
	var errs []error
	if err := writeJSON(a.SyncReport, sync); err != nil {
		errs = append(errs, err)
	}
	if err := os.WriteFile(a.Debug, []byte(debug), 0o644); err != nil {
		errs = append(errs, faults.NewIO("write debug report", err))
	}
	if err := writeJSON(a.Verification, v); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// writeFailureArtifacts records an export that failed before a plan existed.
func (e *Exporter) writeFailureArtifacts(a Artifacts, cause error) {
	if err := os.MkdirAll(filepath.Dir(a.SyncReport), 0o755); err != nil {
		e.logger.Warn("unable to write export diagnostics", slog.Any("error", err))
		return
	}
	var debug DebugReport
	debug.Set("error", cause.Error())
	sync := SyncReport{Tracks: []TrackReport{}, Warnings: []string{}, Error: cause.Error()}
	v := Verification{Output: strings.TrimSuffix(a.SyncReport, ".sync-report.json"), Status: "failed", Error: cause.Error()}
	if err := e.writeArtifacts(a, sync, debug.String(), v); err != nil {
		e.logger.Warn("unable to write export diagnostics", slog.Any("error", err))
	}
}

func (e *Exporter) progress(p Progress) {
	if e.opts.OnProgress != nil {
		e.opts.OnProgress(p)
	}
}

// PlanConfig configures BuildPlan.
type PlanConfig struct {
	Export     project.Export
	CursorIcon string
	LookupEnv  platform.LookupEnvFunc
	Workers    int
	Clock      func() time.Time
	Logger     *slog.Logger
}

// Plan is the complete render recipe for one export.
type Plan struct {
	Inputs        Inputs
	Export        project.Export
	Projection    Projection
	FullScreen    bool
	Frames        FramePlan
	Viewport      ViewportExprs
	Trail         []TrailLayer
	Precrop       *Crop
	Keep          string
	Graph         string
	AudioMap      string
	LogLevel      string
	OutputSeconds float64
	Sync          SyncReport
	Debug         *DebugReport

	inputArgs []string
}

// BuildPlan turns loaded inputs into frame compositions, filter graph and ffmpeg inputs.
func BuildPlan(ctx context.Context, in Inputs, cfg PlanConfig) (*Plan, error) {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = discardLogger()
	}
	began := clock()
	exp := cfg.Export
	if exp.Width <= 0 || exp.Height <= 0 || exp.FPS <= 0 {
		return nil, faults.NewRender(fmt.Sprintf("export %dx%d@%d must be positive", exp.Width, exp.Height, exp.FPS), nil)
	}
	exp.Width, exp.Height = exp.CanvasSize()

	plan := &Plan{Inputs: in, Export: exp, Debug: &DebugReport{}}
	plan.FullScreen = envTruthy(cfg.LookupEnv, ForceFullScreenEnv)
	plan.LogLevel = "error"
	if cfg.LookupEnv != nil {
		if v, ok := cfg.LookupEnv(LogLevelEnv); ok && strings.TrimSpace(v) != "" {
			plan.LogLevel = strings.TrimSpace(v)
		}
	}

	algo := smoothing.FromCursorConfig(in.Timeline.CursorConfig)
	if strength, ok := in.Timeline.CursorSmoothStrength(); ok {
		algo = algo.WithStrength(strength)
	}
	smoothed := algo.Smooth(smoothing.FromEvents(in.Events.Events))
	plan.Projection = SelectProjection(in.Events.Header.PointerCoordinateSpace, in.Project.Recording, smoothed, cfg.LookupEnv)
	if plan.Projection.Override {
		logger.Info("cursor projection overridden", slog.String("model", string(plan.Projection.Model)))
	}
	cursor := plan.Projection.ApplyAll(smoothed)

	tl := in.Timeline
	frames, err := BuildFramePlan(ctx, PlanOptions{
		Timeline:   &tl,
		Cursor:     cursor,
		FPS:        exp.FPS,
		Start:      in.Start,
		End:        in.End,
		Width:      exp.Width,
		Height:     exp.Height,
		FullScreen: plan.FullScreen,
		Workers:    cfg.Workers,
	})
	if err != nil {
		return nil, faults.NewRender("plan frames", err)
	}
	if len(frames.Frames) == 0 {
		return nil, faults.NewRender("every frame falls inside a cut", nil)
	}
	plan.Frames = frames
	plan.OutputSeconds = float64(len(frames.Frames)) / float64(frames.FPS)

	plan.Viewport = viewportExprs(sampleViewport(&tl, in.Start, in.End, plan.FullScreen))
	path := cursorPath(frames, in.Start, in.End, exp.Width, exp.Height)
	cursorX, cursorY := cursorExprs(path)
	plan.Trail = buildTrail(path, tl.CursorConfig.MotionTrail, exp.FPS, exp.Width, exp.Height)
	if crop, ok := MonitorPrecrop(in.Project.Recording, in.SourceWidth, in.SourceHeight); ok {
		plan.Precrop = &crop
	}

	cuts := cutRanges(tl, in.Start, in.End)
	if in.Start > 0 || len(cuts) > 0 {
		plan.Keep = keepExpr(in.Start, in.End, cuts)
	}

	// Input order: screen, cursor sprite, then webcam, mic and system audio when present.
	args := inputArgs(in.Screen.Path, 0)
	args = append(args, "-loop", "1", "-i", cfg.CursorIcon)
	next := 2
	webcam, mic, system := -1, -1, -1
	deltas := map[string]int64{}
	for _, tr := range in.optionalTracks() {
		delta := tr.OffsetNs - in.Screen.OffsetNs
		deltas[tr.Name] = delta
		args = append(args, inputArgs(tr.Path, delta)...)
		switch tr.Name {
		case project.TrackWebcam:
			webcam = next
		case project.TrackMic:
			mic = next
		case project.TrackSystemAudio:
			system = next
		}
		next++
	}
	plan.inputArgs = args

	plan.Graph = BuildFilterGraph(GraphSpec{
		Width:       exp.Width,
		Height:      exp.Height,
		FPS:         exp.FPS,
		Format:      exp.Format,
		Canvas:      exp.Canvas,
		Webcam:      exp.Webcam,
		Viewport:    plan.Viewport,
		CursorX:     cursorX,
		CursorY:     cursorY,
		Trail:       plan.Trail,
		Precrop:     plan.Precrop,
		CursorInput: 1,
		WebcamInput: webcam,
		Keep:        plan.Keep,
		Subtitles:   in.Subtitles,
	})
	if exp.Format != project.FormatGIF {
		audioFilter, audioMap := AudioMap(mic, system, in.ScreenAudio, plan.Keep)
		plan.Graph += audioFilter
		plan.AudioMap = audioMap
		if audioMap == "" {
			plan.Debug.Set("audio", "dropped: screen audio not probed and cuts are active")
		}
	}

	plan.Sync = BuildSyncReport(in, plan.FullScreen, plan.Precrop)

	d := plan.Debug
	d.Set("canvas", fmt.Sprintf("%dx%d %s", exp.Width, exp.Height, defaultString(string(exp.AspectMode), string(project.AspectLandscape))))
	if in.Subtitles != "" {
		d.Set("subtitles", in.Subtitles)
	}
	d.Set("duration_secs", fmt.Sprintf("%.3f", in.End))
	d.Set("start_secs", fmt.Sprintf("%.3f", in.Start))
	d.Set("output_secs", fmt.Sprintf("%.3f", plan.OutputSeconds))
	d.Set("frames", frames.Total)
	d.Set("kept_frames", len(frames.Frames))
	d.Set("skipped_frames", frames.Skipped)
	if plan.FullScreen {
		d.Set("viewport_mode", "full_screen")
	} else {
		d.Set("viewport_mode", "timeline")
	}
	d.Set("viewport_keyframes", len(tl.Keyframes))
	d.Set("viewport_points", plan.Viewport.Points)
	d.Set("viewport_scale_dynamic", plan.Viewport.Dynamic)
	d.Set("cuts", len(cuts))
	d.Set("cursor_projection_model", plan.Projection.Model)
	d.Set("cursor_projection_score", fmt.Sprintf("%.3f", plan.Projection.Score))
	d.Set("cursor_projection_override", plan.Projection.Override)
	d.Set("cursor_smoothing", algo.Kind)
	d.Set("cursor_icon", cfg.CursorIcon)
	d.Set("cursor_trail_layers", len(plan.Trail))
	d.Set("webcam_enabled", webcam >= 0 && exp.Webcam.Enabled)
	d.Set("webcam_corner", exp.Webcam.Corner)
	d.Set("webcam_opacity", fmt.Sprintf("%.3f", WebcamOpacity(exp.Webcam.Opacity)))
	for _, name := range []string{project.TrackWebcam, project.TrackMic, project.TrackSystemAudio} {
		if delta, ok := deltas[name]; ok {
			d.Set(name+"_offset_delta_ns", delta)
		}
	}
	d.Set("source_width", in.SourceWidth)
	d.Set("source_height", in.SourceHeight)
	if plan.Precrop != nil {
		d.Set("monitor_precrop", plan.Precrop.String())
	} else {
		d.Set("monitor_precrop", "none")
	}
	d.Set("smoothed_cursor_points", len(smoothed))
	d.Set("cursor_points", len(path))
	d.Set("expr_len_x", len(plan.Viewport.X))
	d.Set("expr_len_cursor_x", len(cursorX))
	d.Set("filter_len", len(plan.Graph))
	d.Set("audio_map", defaultString(plan.AudioMap, "none"))
	d.Set("ffmpeg_loglevel", plan.LogLevel)
	d.Set("plan_build_ms", clock().Sub(began).Milliseconds())
	return plan, nil
}

// Args returns the full ffmpeg command line writing to output.
func (p *Plan) Args(output string) []string {
	args := []string{"-y", "-hide_banner", "-loglevel", defaultString(p.LogLevel, "error"), "-nostats", "-progress", "pipe:1"}
	args = append(args, p.inputArgs...)
	args = append(args, "-filter_complex", p.Graph, "-map", "[vout]")
	if p.AudioMap != "" {
		args = append(args, "-map", p.AudioMap)
	}
	args = append(args, "-r", fmt.Sprint(p.Export.FPS), "-t", fmt.Sprintf("%.6f", p.OutputSeconds))
	args = append(args, CodecArgs(p.Export)...)
	return append(args, output)
}

func envTruthy(lookup platform.LookupEnvFunc, key string) bool {
	if lookup == nil {
		return false
	}
	v, ok := lookup(key)
	if !ok {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func defaultString(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
