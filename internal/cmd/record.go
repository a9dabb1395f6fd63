package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/offlinefirst/screenreel/pkg/capture"
	"github.com/offlinefirst/screenreel/pkg/events"
	"github.com/offlinefirst/screenreel/pkg/logging"
	"github.com/offlinefirst/screenreel/pkg/platform"
)

// stopTimeout bounds finalization after the recording context ends.
const stopTimeout = 30 * time.Second

var (
	timeNow  = time.Now
	hostname = os.Hostname
)

func (rc *RootCommand) recordCommand() *cli.Command {
	return &cli.Command{
		Name:  "record",
		Usage: "Record the screen plus optional webcam, microphone and system audio into a project bundle",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Value: "Untitled recording", Usage: "Project name"},
			&cli.StringFlag{Name: "root", Usage: "Bundle directory (default: <projects_dir>/<name>_<timestamp>)"},
			&cli.DurationFlag{Name: "duration", Usage: "Stop automatically after this long (default: until interrupted)"},
			&cli.StringFlag{Name: "backend", Usage: "Capture backend: auto, synthetic or ffmpeg"},
			&cli.IntFlag{Name: "monitor", Value: -1, Usage: "Monitor index to record"},
			&cli.IntFlag{Name: "fps", Usage: "Capture frame rate"},
			&cli.BoolFlag{Name: "webcam", Usage: "Record the webcam"},
			&cli.BoolFlag{Name: "mic", Usage: "Record the microphone"},
			&cli.BoolFlag{Name: "system-audio", Usage: "Record system audio"},
			&cli.BoolFlag{Name: "list-monitors", Usage: "Print the available monitors and exit"},
			&cli.BoolFlag{Name: "no-analyze", Usage: "Skip generating auto camera keyframes after the recording"},
		},
		Action: rc.runRecord,
	}
}

func (rc *RootCommand) runRecord(c *cli.Context) error {
	app, err := rc.ensureAppContext(c)
	if err != nil {
		return err
	}
	cfg := app.Config
	logger := logging.Component(app.Logger, "capture")

	backendName := cfg.Capture.Backend
	if c.IsSet("backend") {
		backendName = strings.ToLower(c.String("backend"))
	}
	backend, prober, err := rc.resolveBackend(backendName, logger)
	if err != nil {
		return err
	}

	if c.Bool("list-monitors") {
		monitors, err := backend.Monitors(c.Context)
		if err != nil {
			return fmt.Errorf("list monitors: %w", err)
		}
		for _, m := range monitors {
			fmt.Fprintln(rc.stdout, m.String())
		}
		return nil
	}

	privacy := events.NewPrivacyPolicy(cfg.Capture.Events.AllowedApps, cfg.Capture.Events.CaptureKeys, cfg.Capture.Events.DropUnknownApp)
	redactor, err := events.NewRedactor(cfg.Capture.Events.RedactEmails, cfg.Capture.Events.RedactPatterns)
	if err != nil {
		return fmt.Errorf("compile redact patterns: %w", err)
	}

	name := c.String("name")
	root := c.String("root")
	if root == "" {
		root = bundleRootFor(cfg.Paths.ProjectsDir, name, timeNow())
	}
	opts := capture.Options{
		Root:              root,
		Name:              name,
		Backend:           backend,
		Prober:            prober,
		MonitorIndex:      cfg.Capture.MonitorIndex,
		FPS:               cfg.Capture.FPS,
		SampleRate:        cfg.Capture.SampleRate,
		CursorHidden:      cfg.Capture.CursorHidden,
		Webcam:            cfg.Capture.Webcam || c.Bool("webcam"),
		WebcamDevice:      cfg.Capture.WebcamDevice,
		Mic:               cfg.Capture.Mic || c.Bool("mic"),
		MicDevice:         cfg.Capture.MicDevice,
		SystemAudio:       cfg.Capture.SystemAudio || c.Bool("system-audio"),
		SystemAudioDevice: cfg.Capture.SystemAudioDevice,
		DisplayServer:     platform.DetectDisplayServer(rc.lookupEnv),
		Privacy:           privacy,
		Redactor:          redactor,
		Logger:            logger,
		Clock:             timeNow,
	}
	if m := c.Int("monitor"); m >= 0 {
		opts.MonitorIndex = m
	}
	if fps := c.Int("fps"); fps > 0 {
		opts.FPS = fps
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	session, err := capture.Open(ctx, opts)
	if err != nil {
		return err
	}
	if err := session.Start(ctx); err != nil {
		return err
	}
	fmt.Fprintf(rc.stdout, "Recording %s on monitor %s (backend %s)\n", session.Layout().Root, session.Monitor(), backend.Name())

	waitForRecording(ctx, c.Duration("duration"))

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(c.Context), stopTimeout)
	defer cancel()
	result, err := session.Stop(stopCtx)
	if err != nil {
		return err
	}

	printRecordSummary(rc, result)

	if c.Bool("no-analyze") {
		return nil
	}
	summary, err := analyzeBundle(result.Layout.Root, cfg.Director, app.Logger)
	if err != nil {
		return fmt.Errorf("analyze recording: %w", err)
	}
	fmt.Fprintf(rc.stdout, "Auto camera: %d keyframes (%d chunks) -> %s\n", summary.AutoKeyframes, summary.Chunks, result.Layout.TimelinePath)
	return nil
}

// waitForRecording blocks until ctx ends or d elapses. A zero d waits for ctx alone.
func waitForRecording(ctx context.Context, d time.Duration) {
	if d <= 0 {
		<-ctx.Done()
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func printRecordSummary(rc *RootCommand, result capture.Result) {
	fmt.Fprintf(rc.stdout, "Project: %s (%s)\n", result.Project.Name, result.Project.ID)
	fmt.Fprintf(rc.stdout, "Bundle: %s\n", result.Layout.Root)
	fmt.Fprintf(rc.stdout, "Duration: %s\n", result.Duration.Round(time.Millisecond))
	if len(result.Pauses) > 0 {
		var paused time.Duration
		for _, span := range result.Pauses {
			paused += span.End - span.Start
		}
		fmt.Fprintf(rc.stdout, "Paused: %d times, %s total\n", len(result.Pauses), paused.Round(time.Millisecond))
	}

	names := make([]string, 0, len(result.Stats))
	for name := range result.Stats {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Fprintln(rc.stdout, "Tracks:")
	for _, name := range names {
		st := result.Stats[name]
		fmt.Fprintf(rc.stdout, "  - %s: offset=%s frames=%d dropped=%d (%.1f%%) bytes=%d\n",
			name, result.Offsets[name], st.FramesCaptured, st.FramesDropped, st.DropRate()*100, st.Bytes)
	}
	fmt.Fprintf(rc.stdout, "Events: %d recorded, %d filtered, %d dropped while paused\n",
		result.Events.EventCount, result.Events.FilteredCount, result.Events.PausedCount)
	for _, w := range result.Warnings {
		fmt.Fprintf(rc.stdout, "Warning: %s\n", w)
	}
}

// bundleRootFor names a new bundle after the project and the start time.
func bundleRootFor(projectsDir, name string, now time.Time) string {
	slug := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '_'
		}
	}, strings.TrimSpace(name))
	slug = strings.Trim(slug, "_")
	if slug == "" {
		slug = "recording"
	}
	return filepath.Join(projectsDir, slug+"_"+now.UTC().Format("20060102_150405"))
}
