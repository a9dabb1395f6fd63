// Package capture orchestrates one recording session: pipelines, clock, input tap and
// the project metadata finalized at stop.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/offlinefirst/screenreel/pkg/events"
	"github.com/offlinefirst/screenreel/pkg/faults"
	"github.com/offlinefirst/screenreel/pkg/media"
	"github.com/offlinefirst/screenreel/pkg/project"
)

var tracer = otel.Tracer("github.com/offlinefirst/screenreel/pkg/capture")

// Options controls a capture session.
type Options struct {
	Root         string
	Name         string
	Backend      Backend
	Prober       media.Prober
	MonitorIndex int
	FPS          int
	SampleRate   int
	CursorHidden bool

	Webcam            bool
	WebcamDevice      string
	Mic               bool
	MicDevice         string
	SystemAudio       bool
	SystemAudioDevice string

	DisplayServer project.DisplayServer
	Privacy       events.PrivacyPolicy
	Redactor      events.Redactor

	Logger  *slog.Logger
	Clock   func() time.Time
	Control *Controller
}

type state int

const (
	stateOpened state = iota
	stateRunning
	stateFinished
)

type stream struct {
	name     string
	path     string
	pipeline Pipeline
	started  bool
	stats    Stats
}

// Session owns the pipelines, event log and clock of one recording.
type Session struct {
	id       string
	opts     Options
	layout   project.Layout
	logger   *slog.Logger
	clock    func() time.Time
	control  *Controller
	monitors []Monitor
	monitor  Monitor
	virtual  Bounds
	project  project.Project
	log      *events.Log
	logFile  *os.File
	streams  []*stream

	mu         sync.Mutex
	state      state
	rec        *RecordingClock
	runCancel  context.CancelFunc
	tapDone    chan tapOutcome
	tapCancel  context.CancelFunc
	finishOnce sync.Once
}

type tapOutcome struct {
	res events.Result
	err error
}

// Result summarises a finished session.
type Result struct {
	Project  project.Project
	Layout   project.Layout
	Offsets  map[string]time.Duration
	Stats    map[string]Stats
	Events   events.Result
	Warnings []faults.Warning
	Duration time.Duration
	Pauses   []PauseSpan
}

// Open validates the monitor selection, creates the bundle with its initial project.json and
// event log header, and builds every requested pipeline without starting any.
func Open(ctx context.Context, opts Options) (*Session, error) {
	if opts.Backend == nil {
		return nil, faults.NewConfiguration("capture backend must be provided", nil)
	}
	if strings.TrimSpace(opts.Root) == "" {
		return nil, faults.NewConfiguration("bundle root must not be empty", nil)
	}
	if opts.FPS <= 0 {
		opts.FPS = 30
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = 48000
	}
	if opts.Name == "" {
		opts.Name = "Untitled recording"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	control := opts.Control
	if control == nil {
		control = NewController()
	}

	monitors, err := opts.Backend.Monitors(ctx)
	if err != nil {
		return nil, faults.NewCapture("monitor enumeration", err)
	}
	if len(monitors) == 0 {
		return nil, faults.NewConfiguration("no monitors available", nil)
	}
	if opts.MonitorIndex < 0 || opts.MonitorIndex >= len(monitors) {
		return nil, faults.NewConfiguration(
			fmt.Sprintf("monitor index %d out of range; available monitors: %s", opts.MonitorIndex, describeMonitors(monitors)),
			map[string]any{"requested": opts.MonitorIndex, "available": len(monitors)},
		)
	}
	monitor := monitors[opts.MonitorIndex]
	if monitor.Width <= 0 || monitor.Height <= 0 {
		return nil, faults.NewConfiguration(fmt.Sprintf("monitor %s has no usable region", monitor), nil)
	}
	virtual := VirtualBounds(monitors)

	layout := project.BuildLayout(opts.Root)
	if err := project.EnsureFilesystem(layout); err != nil {
		return nil, faults.NewIO("prepare bundle", err)
	}
	logFile, err := os.OpenFile(layout.CaptureLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, faults.NewIO("open capture log", err)
	}

	s := &Session{
		id:       uuid.NewString(),
		opts:     opts,
		layout:   layout,
		logger:   logger,
		clock:    clock,
		control:  control,
		monitors: monitors,
		monitor:  monitor,
		virtual:  virtual,
		logFile:  logFile,
	}
	s.logger = logger.With(slog.String("session_id", s.id))

	s.project = s.initialProject()
	if err := project.Save(layout.ProjectPath, s.project); err != nil {
		logFile.Close()
		return nil, err
	}

	specs := s.pipelineSpecs()
	for _, spec := range specs {
		p, err := opts.Backend.NewPipeline(spec)
		if err != nil {
			logFile.Close()
			return nil, faults.NewCapture(spec.Stream, fmt.Errorf("build pipeline: %w", err))
		}
		s.streams = append(s.streams, &stream{name: spec.Stream, path: spec.Path, pipeline: p})
	}

	writeCaptureLog(logFile, clock(), "session", "opened id=%s backend=%s monitor=%s streams=%d", s.id, opts.Backend.Name(), monitor, len(s.streams))
	s.logger.Info("capture session opened",
		slog.String("backend", opts.Backend.Name()),
		slog.String("monitor", monitor.String()),
		slog.Int("streams", len(s.streams)),
	)
	return s, nil
}

func (s *Session) initialProject() project.Project {
	p := project.New(s.opts.Name, s.monitor.Width, s.monitor.Height, s.opts.FPS)
	rec := &p.Recording
	rec.SessionID = s.id
	rec.CursorHidden = s.opts.CursorHidden
	rec.AudioSampleRate = s.opts.SampleRate
	if s.opts.DisplayServer != "" {
		rec.DisplayServer = s.opts.DisplayServer
	}
	s.applyGeometry(rec)
	return p
}

func (s *Session) applyGeometry(rec *project.Recording) {
	rec.MonitorIndex = s.monitor.Index
	rec.MonitorName = s.monitor.Name
	rec.MonitorX, rec.MonitorY = s.monitor.X, s.monitor.Y
	rec.MonitorWidth, rec.MonitorHeight = s.monitor.Width, s.monitor.Height
	rec.VirtualX, rec.VirtualY = s.virtual.X, s.virtual.Y
	rec.VirtualWidth, rec.VirtualHeight = s.virtual.Width, s.virtual.Height
	rec.PointerCoordinateSpace = s.opts.Backend.CoordinateSpace()
	rec.Monitors = rec.Monitors[:0]
	for _, m := range s.monitors {
		rec.Monitors = append(rec.Monitors, m.Info())
	}
}

func (s *Session) pipelineSpecs() []PipelineSpec {
	specs := []PipelineSpec{{
		Stream:       project.TrackScreen,
		Path:         s.layout.ScreenPath,
		Monitor:      s.monitor,
		FPS:          s.opts.FPS,
		CursorHidden: s.opts.CursorHidden,
	}}
	if s.opts.Webcam {
		specs = append(specs, PipelineSpec{Stream: project.TrackWebcam, Path: s.layout.WebcamPath, FPS: s.opts.FPS, Device: s.opts.WebcamDevice})
	}
	if s.opts.Mic {
		specs = append(specs, PipelineSpec{Stream: project.TrackMic, Path: s.layout.MicPath, Device: s.opts.MicDevice, SampleRate: s.opts.SampleRate})
	}
	if s.opts.SystemAudio {
		specs = append(specs, PipelineSpec{Stream: project.TrackSystemAudio, Path: s.layout.SystemAudioPath, Device: s.opts.SystemAudioDevice, SampleRate: s.opts.SampleRate})
	}
	return specs
}

// ID is the session's UUID.
func (s *Session) ID() string { return s.id }

// Layout returns the bundle layout.
func (s *Session) Layout() project.Layout { return s.layout }

// Monitor returns the selected monitor.
func (s *Session) Monitor() Monitor { return s.monitor }

// Clock returns the session clock; nil before Start.
func (s *Session) Clock() *RecordingClock {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec
}

// elapsed is the recording-clock offset, zero before Start.
func (s *Session) elapsed() time.Duration {
	if rec := s.Clock(); rec != nil {
		return rec.Since()
	}
	return 0
}

// Start launches every pipeline as one group. If any pipeline fails, the ones already running
// are stopped and the session is aborted with a CAPTURE error naming the stream.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != stateOpened {
		s.mu.Unlock()
		return errors.New("session already started")
	}
	s.state = stateRunning
	s.mu.Unlock()

	ctx, span := tracer.Start(ctx, "capture.start")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", s.id), attribute.Int("streams", len(s.streams)))

	rec := NewRecordingClock(s.clock)
	runCtx, runCancel := context.WithCancel(context.WithoutCancel(ctx))

	header := events.NewHeader(rec.Origin(), rec.MonotonicNs(), s.monitor.Width, s.monitor.Height, s.opts.Backend.CoordinateSpace())
	log, err := events.Create(s.layout.EventsPath, header)
	if err != nil {
		runCancel()
		s.abort()
		return faults.NewIO("create event log", err)
	}

	gate := make(chan struct{})
	var started sync.Mutex
	g := new(errgroup.Group)
	for _, st := range s.streams {
		st := st
		g.Go(func() error {
			<-gate
			if err := st.pipeline.Start(runCtx, rec); err != nil {
				return faults.NewCapture(st.name, err)
			}
			rec.MarkStart(st.name)
			started.Lock()
			st.started = true
			started.Unlock()
			return nil
		})
	}
	close(gate)
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "pipeline start failed")
		s.stopPipelines(context.WithoutCancel(ctx))
		runCancel()
		_ = log.Close()
		writeCaptureLog(s.logFile, s.clock(), "session", "aborted: %v", err)
		s.logger.Error("capture start failed", slog.String("error", err.Error()))
		s.abort()
		return err
	}

	s.mu.Lock()
	s.rec = rec
	s.log = log
	s.runCancel = runCancel
	s.mu.Unlock()

	s.startTap(runCtx, rec)

	for _, st := range s.streams {
		at, _ := rec.Start(st.name)
		writeCaptureLog(s.logFile, s.clock(), st.name, "started at %s", at)
	}
	s.logger.Info("capture started", slog.Int("streams", len(s.streams)))
	return nil
}

func (s *Session) startTap(ctx context.Context, rec *RecordingClock) {
	source := s.opts.Backend.Events(rec, s.monitor, s.virtual)
	if source == nil {
		writeCaptureLog(s.logFile, s.clock(), "events", "skipped (backend has no input tap)")
		return
	}
	tap, err := events.NewTap(events.Options{
		Source:   source,
		Privacy:  s.opts.Privacy,
		Redactor: s.opts.Redactor,
		Paused:   s.control.Paused,
		Logger:   s.logger,
	})
	if err != nil {
		writeCaptureLog(s.logFile, s.clock(), "events", "tap unavailable: %v", err)
		return
	}
	tapCtx, cancel := context.WithCancel(ctx)
	done := make(chan tapOutcome, 1)
	go func() {
		res, err := tap.Run(tapCtx, s.log)
		done <- tapOutcome{res: res, err: err}
	}()
	s.mu.Lock()
	s.tapCancel = cancel
	s.tapDone = done
	s.mu.Unlock()
}

// Pause suspends every pipeline that supports it and drops input events until Resume.
func (s *Session) Pause() {
	if !s.control.Pause(s.elapsed()) {
		return
	}
	for _, st := range s.streams {
		if p, ok := st.pipeline.(Pauser); ok {
			p.Pause()
		}
	}
	writeCaptureLog(s.logFile, s.clock(), "session", "paused")
}

// Resume continues a paused session.
func (s *Session) Resume() {
	if !s.control.Resume(s.elapsed()) {
		return
	}
	for _, st := range s.streams {
		if p, ok := st.pipeline.(Pauser); ok {
			p.Resume()
		}
	}
	writeCaptureLog(s.logFile, s.clock(), "session", "resumed")
}

// Stop finalizes every pipeline, closes the event log, probes durations, computes offsets and
// persists the final project.json.
func (s *Session) Stop(ctx context.Context) (Result, error) {
	return s.finish(ctx, false)
}

// Cancel flushes and closes every track and finalizes metadata, tagging the recording as
// cancelled.
func (s *Session) Cancel(ctx context.Context) error {
	_, err := s.finish(ctx, true)
	return err
}

func (s *Session) finish(ctx context.Context, cancelled bool) (Result, error) {
	s.mu.Lock()
	if s.state != stateRunning {
		st := s.state
		s.mu.Unlock()
		if st == stateOpened {
			s.abort()
			return Result{}, errors.New("session was never started")
		}
		return Result{}, errors.New("session already finished")
	}
	s.state = stateFinished
	rec, log := s.rec, s.log
	tapCancel, tapDone, runCancel := s.tapCancel, s.tapDone, s.runCancel
	s.mu.Unlock()

	ctx, span := tracer.Start(ctx, "capture.stop")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", s.id), attribute.Bool("cancelled", cancelled))

	duration := rec.Since()
	s.control.Stop(duration)
	stopErr := s.stopPipelines(ctx)

	var tapRes events.Result
	if tapCancel != nil {
		tapCancel()
		out := <-tapDone
		tapRes = out.res
		if out.err != nil {
			stopErr = errors.Join(stopErr, faults.NewCapture("events", out.err))
		}
	}
	if err := log.Close(); err != nil {
		stopErr = errors.Join(stopErr, faults.NewIO("close event log", err))
	}
	writeCaptureLog(s.logFile, s.clock(), "events", "captured %d events (%d filtered, %d while paused)", tapRes.EventCount, tapRes.FilteredCount, tapRes.PausedCount)
	runCancel()

	res := Result{
		Layout:   s.layout,
		Offsets:  make(map[string]time.Duration),
		Stats:    make(map[string]Stats),
		Events:   tapRes,
		Duration: duration,
		Pauses:   s.control.Spans(),
	}
	for _, st := range s.streams {
		res.Stats[st.name] = st.stats
		s.logger.Info("pipeline stats",
			slog.String("stream", st.name),
			slog.Int64("frames", st.stats.FramesCaptured),
			slog.Int64("dropped", st.stats.FramesDropped),
			slog.Int64("bytes", st.stats.Bytes),
			slog.Duration("latency", st.stats.Latency),
			slog.Float64("drop_rate", st.stats.DropRate()),
		)
		writeCaptureLog(s.logFile, s.clock(), st.name, "stopped frames=%d dropped=%d bytes=%d", st.stats.FramesCaptured, st.stats.FramesDropped, st.stats.Bytes)
	}

	res.Warnings = s.finalizeTracks(ctx, rec, res.Offsets)
	if cancelled {
		res.Warnings = append(res.Warnings, faults.Warning{Code: faults.CodeCapture, Message: "recording cancelled before completion"})
	}
	p := s.project
	p.Recording.Warnings = p.Recording.Warnings[:0]
	for _, w := range res.Warnings {
		p.Recording.Warnings = append(p.Recording.Warnings, w.String())
		writeCaptureLog(s.logFile, s.clock(), "sync", "warning: %s", w)
	}
	p.Touch()
	s.project = p
	if err := project.Save(s.layout.ProjectPath, p); err != nil {
		stopErr = errors.Join(stopErr, err)
	}
	res.Project = p

	verb := "stopped"
	if cancelled {
		verb = "cancelled"
	}
	writeCaptureLog(s.logFile, s.clock(), "session", "%s after %s", verb, duration.Round(time.Millisecond))
	s.logger.Info("capture "+verb,
		slog.Duration("duration", duration),
		slog.Duration("paused", s.control.PausedTotal()),
		slog.Int("warnings", len(res.Warnings)),
	)
	_ = s.logFile.Close()

	if stopErr != nil {
		span.RecordError(stopErr)
		span.SetStatus(codes.Error, "capture stop failed")
	}
	return res, stopErr
}

// finalizeTracks probes every stream, computes offsets relative to the screen and writes the
// tracks and geometry into the in-memory project.
func (s *Session) finalizeTracks(ctx context.Context, rec *RecordingClock, offsets map[string]time.Duration) []faults.Warning {
	var warnings []faults.Warning
	timings := make(map[string]TrackTiming, len(s.streams))
	for _, st := range s.streams {
		at, _ := rec.Start(st.name)
		timing := TrackTiming{Start: at}
		if s.opts.Prober != nil {
			if d, err := s.opts.Prober.Duration(ctx, st.path); err == nil {
				timing.DurationSecs, timing.Probed = d, true
			} else {
				s.logger.Warn("probe duration failed", slog.String("stream", st.name), slog.String("error", err.Error()))
			}
		}
		timings[st.name] = timing
	}

	screen := timings[project.TrackScreen]
	tracks := project.Tracks{}
	for _, st := range s.streams {
		timing := timings[st.name]
		ref := &project.TrackRef{
			Path:         s.layout.Rel(st.path),
			DurationSecs: timing.DurationSecs,
			Codec:        st.pipeline.Codec(),
		}
		if st.name != project.TrackScreen {
			off := ComputeOffset(screen, timing)
			ref.OffsetNs = int64(off)
			offsets[st.name] = off
			if w, ok := DriftWarning(st.name, screen, timing); ok {
				warnings = append(warnings, w)
			}
		} else {
			offsets[st.name] = 0
		}
		switch st.name {
		case project.TrackScreen:
			tracks.Screen = ref
		case project.TrackWebcam:
			tracks.Webcam = ref
		case project.TrackMic:
			tracks.Mic = ref
		case project.TrackSystemAudio:
			tracks.SystemAudio = ref
		}
	}
	s.project.Tracks = tracks
	s.applyGeometry(&s.project.Recording)

	if s.opts.Prober != nil {
		w, h, err := s.opts.Prober.Dimensions(ctx, s.layout.ScreenPath)
		if err == nil && (w != s.monitor.Width || h != s.monitor.Height) {
			warnings = append(warnings, faults.SyncWarning(
				fmt.Sprintf("screen dimensions %dx%d differ from monitor %dx%d", w, h, s.monitor.Width, s.monitor.Height),
				map[string]any{"probed_width": w, "probed_height": h, "monitor": s.monitor.String()},
			))
		}
		if err == nil {
			s.project.Recording.CaptureWidth, s.project.Recording.CaptureHeight = w, h
		}
	}
	return warnings
}

// stopPipelines stops every started pipeline concurrently and records their stats.
func (s *Session) stopPipelines(ctx context.Context) error {
	var mu sync.Mutex
	var errs []error
	var wg sync.WaitGroup
	for _, st := range s.streams {
		if !st.started {
			continue
		}
		st := st
		wg.Add(1)
		go func() {
			defer wg.Done()
			stats, err := st.pipeline.Stop(ctx)
			mu.Lock()
			defer mu.Unlock()
			st.stats = stats
			st.started = false
			if err != nil {
				errs = append(errs, faults.NewCapture(st.name, fmt.Errorf("stop: %w", err)))
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (s *Session) abort() {
	s.finishOnce.Do(func() {
		s.mu.Lock()
		s.state = stateFinished
		s.mu.Unlock()
		s.control.Stop(s.elapsed())
		_ = s.logFile.Close()
	})
}

func writeCaptureLog(file *os.File, timestamp time.Time, subsystem, message string, args ...any) {
	if file == nil {
		return
	}
	formatted := message
	if len(args) > 0 {
		formatted = fmt.Sprintf(message, args...)
	}
	line := fmt.Sprintf("[%s] subsystem=%s %s\n", timestamp.UTC().Format(time.RFC3339), subsystem, formatted)
	_, _ = file.WriteString(line)
}
