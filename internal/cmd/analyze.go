package cmd

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/offlinefirst/screenreel/pkg/config"
	"github.com/offlinefirst/screenreel/pkg/director"
	"github.com/offlinefirst/screenreel/pkg/events"
	"github.com/offlinefirst/screenreel/pkg/logging"
	"github.com/offlinefirst/screenreel/pkg/project"
	"github.com/offlinefirst/screenreel/pkg/thumbnails"
)

func (rc *RootCommand) analyzeCommand() *cli.Command {
	return &cli.Command{
		Name:      "analyze",
		Usage:     "Generate auto camera keyframes from the recorded pointer activity",
		ArgsUsage: "<bundle>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "overwrite-manual", Usage: "Replace manual keyframes as well"},
			&cli.BoolFlag{Name: "dry-run", Usage: "Print the keyframes without saving the timeline"},
			&cli.BoolFlag{Name: "thumbnails", Usage: "Render a preview still of each keyframe into <bundle>/cache/thumbnails"},
			&cli.BoolFlag{Name: "vertical", Usage: "Follow the pointer with a 9:16 camera and switch the export to portrait"},
		},
		Action: func(c *cli.Context) error {
			app, err := rc.ensureAppContext(c)
			if err != nil {
				return err
			}
			root, err := bundleArg(c)
			if err != nil {
				return err
			}
			dcfg := app.Config.Director
			if c.Bool("overwrite-manual") {
				dcfg.OverwriteManual = true
			}
			summary, err := analyzeBundleWith(root, dcfg, app.Logger, analyzeMode{
				DryRun:   c.Bool("dry-run"),
				Vertical: c.Bool("vertical"),
			})
			if err != nil {
				return err
			}
			for _, kf := range summary.Keyframes {
				fmt.Fprintf(rc.stdout, "  t=%7.3fs x=%.3f y=%.3f w=%.3f h=%.3f %s\n",
					kf.T, kf.Viewport.X, kf.Viewport.Y, kf.Viewport.W, kf.Viewport.H, kf.Easing)
			}
			if summary.Vertical {
				fmt.Fprintf(rc.stdout, "Vertical camera: %d keyframes (%d manual kept), export aspect set to %s\n",
					summary.AutoKeyframes, summary.ManualKept, project.AspectPortrait)
			} else {
				fmt.Fprintf(rc.stdout, "Auto camera: %d keyframes from %d chunks (%d manual kept)\n",
					summary.AutoKeyframes, summary.Chunks, summary.ManualKept)
			}
			if !c.Bool("dry-run") {
				fmt.Fprintf(rc.stdout, "Timeline: %s\n", project.BuildLayout(root).TimelinePath)
			}
			if c.Bool("thumbnails") {
				return rc.renderThumbnails(c, root, summary.Keyframes, app.Logger)
			}
			return nil
		},
	}
}

// analyzeSummary reports what one auto-director pass produced.
type analyzeSummary struct {
	Keyframes     []project.Keyframe
	AutoKeyframes int
	ManualKept    int
	Chunks        int
	Vertical      bool
}

// analyzeMode selects how analyzeBundleWith runs. Vertical replaces the zoom director with
// the portrait follow camera and also rewrites the project's export aspect.
type analyzeMode struct {
	DryRun   bool
	Vertical bool
}

func analyzeBundle(root string, cfg config.DirectorConfig, logger *slog.Logger) (analyzeSummary, error) {
	return analyzeBundleWith(root, cfg, logger, analyzeMode{})
}

// analyzeBundleWith runs the auto director over the bundle's event log and merges the result
// into its timeline.
func analyzeBundleWith(root string, cfg config.DirectorConfig, logger *slog.Logger, mode analyzeMode) (analyzeSummary, error) {
	layout := project.BuildLayout(root)
	p, _, err := project.Load(layout.ProjectPath)
	if err != nil {
		return analyzeSummary{}, err
	}
	stream, err := events.ReadAll(layout.EventsPath)
	if err != nil {
		return analyzeSummary{}, err
	}

	opts := director.Options{
		ChunkSeconds:           cfg.ChunkSeconds,
		DwellThresholdSeconds:  cfg.DwellThresholdSeconds,
		DwellRadius:            cfg.DwellRadius,
		HoverZoom:              cfg.HoverZoom,
		ScanZoom:               cfg.ScanZoom,
		SmoothingWindow:        cfg.SmoothingWindow,
		MinViewportSize:        cfg.MinViewportSize,
		DwellVelocityThreshold: cfg.DwellVelocityThreshold,
		MonitorCount:           1,
		Logger:                 logging.Component(logger, "director"),
	}
	space := stream.Header.PointerCoordinateSpace
	if space == "" {
		space = p.Recording.PointerCoordinateSpace
	}
	// Virtual-desktop coordinates span every monitor side by side.
	if space == project.SpaceVirtualDesktopNormalized && len(p.Recording.Monitors) > 1 {
		opts.MonitorCount = len(p.Recording.Monitors)
		opts.FocusedMonitor = p.Recording.MonitorIndex
	}
	d, err := director.New(opts)
	if err != nil {
		return analyzeSummary{}, err
	}

	started := time.Now()
	var result director.Result
	if mode.Vertical {
		vopts := director.DefaultVerticalOptions()
		vopts.SourceAspect = focusedAspect(p.Recording)
		result.Keyframes, err = d.Vertical(stream.Events, vopts)
		if err != nil {
			return analyzeSummary{}, err
		}
	} else {
		result = d.Analyze(stream.Events)
	}

	tl, _, err := project.LoadTimeline(layout.TimelinePath)
	if err != nil {
		return analyzeSummary{}, err
	}
	before := len(tl.Keyframes)
	applied := tl.ApplyAuto(result.Keyframes, cfg.OverwriteManual)
	summary := analyzeSummary{
		Keyframes:     tl.Keyframes,
		AutoKeyframes: applied,
		ManualKept:    len(tl.Keyframes) - applied,
		Chunks:        len(result.Chunks),
		Vertical:      mode.Vertical,
	}
	logger.Info("auto camera analysed",
		"bundle", root,
		"events", len(stream.Events),
		"resorted", stream.Resorted,
		"keyframes_before", before,
		"keyframes_after", len(tl.Keyframes),
		"vertical", mode.Vertical,
		"elapsed_ms", time.Since(started).Milliseconds(),
	)
	if mode.DryRun {
		return summary, nil
	}
	if err := project.SaveTimeline(layout.TimelinePath, tl); err != nil {
		return analyzeSummary{}, err
	}
	if mode.Vertical && p.Export.AspectMode != project.AspectPortrait {
		p.Export.AspectMode = project.AspectPortrait
		p.Touch()
		if err := project.Save(layout.ProjectPath, p); err != nil {
			return analyzeSummary{}, err
		}
	}
	return summary, nil
}

// focusedAspect is the width/height ratio of the monitor the director works in.
func focusedAspect(rec project.Recording) float64 {
	w, h := rec.CaptureWidth, rec.CaptureHeight
	if rec.MonitorWidth > 0 && rec.MonitorHeight > 0 {
		w, h = rec.MonitorWidth, rec.MonitorHeight
	}
	if w <= 0 || h <= 0 {
		return 0
	}
	return float64(w) / float64(h)
}

func (rc *RootCommand) renderThumbnails(c *cli.Context, root string, keyframes []project.Keyframe, logger *slog.Logger) error {
	runner, err := rc.runner(logging.Component(logger, "thumbnails"))
	if err != nil {
		return err
	}
	gen, err := thumbnails.New(thumbnails.Options{Runner: runner, Clock: timeNow})
	if err != nil {
		return err
	}
	layout := project.BuildLayout(root)
	res, err := gen.Generate(c.Context, layout.ScreenPath, keyframes, filepath.Join(layout.CacheDir, "thumbnails"))
	if err != nil {
		return err
	}
	fmt.Fprintf(rc.stdout, "Thumbnails: %d stills in %s\n", res.Count, filepath.Join(layout.CacheDir, "thumbnails"))
	return nil
}

func bundleArg(c *cli.Context) (string, error) {
	if c.NArg() != 1 {
		return "", fmt.Errorf("%s expects exactly one bundle directory", c.Command.Name)
	}
	return c.Args().First(), nil
}
