package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/offlinefirst/screenreel/internal/buildinfo"
	"github.com/offlinefirst/screenreel/pkg/export"
	"github.com/offlinefirst/screenreel/pkg/faults"
	"github.com/offlinefirst/screenreel/pkg/history"
	"github.com/offlinefirst/screenreel/pkg/logging"
	"github.com/offlinefirst/screenreel/pkg/project"
	"github.com/offlinefirst/screenreel/pkg/runmanifest"
)

var manifestSave = runmanifest.Save

func (rc *RootCommand) exportCommand() *cli.Command {
	return &cli.Command{
		Name:      "export",
		Usage:     "Render a project bundle into a finished video with sync and verification reports",
		ArgsUsage: "<bundle>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "Output file (default: <bundle>/exports/<name>.<ext>)"},
			&cli.StringFlag{Name: "format", Usage: "mp4-h264, mp4-h265, gif or webm (default: project setting)"},
			&cli.IntFlag{Name: "width", Usage: "Output width"},
			&cli.IntFlag{Name: "height", Usage: "Output height"},
			&cli.IntFlag{Name: "fps", Usage: "Output frame rate"},
			&cli.Float64Flag{Name: "start", Usage: "Trim start in seconds"},
			&cli.Float64Flag{Name: "end", Usage: "Trim end in seconds"},
			&cli.IntFlag{Name: "workers", Usage: "Frame planning workers (default: config or CPU count)"},
			&cli.BoolFlag{Name: "full-screen", Usage: "Ignore timeline zoom and render the whole capture"},
			&cli.BoolFlag{Name: "no-history", Usage: "Do not record the run in the history database"},
		},
		Action: rc.runExport,
	}
}

func (rc *RootCommand) runExport(c *cli.Context) error {
	app, err := rc.ensureAppContext(c)
	if err != nil {
		return err
	}
	root, err := bundleArg(c)
	if err != nil {
		return err
	}
	logger := logging.Component(app.Logger, "export")

	format := project.ExportFormat(c.String("format"))
	switch format {
	case "", project.FormatMP4H264, project.FormatMP4H265, project.FormatGIF, project.FormatWebM:
	default:
		return faults.NewConfiguration(fmt.Sprintf("unsupported export format %q", format), nil)
	}
	trim := export.Trim{Start: c.Float64("start"), End: c.Float64("end")}
	if trim.Start < 0 || (trim.End > 0 && trim.End <= trim.Start) {
		return faults.NewConfiguration(fmt.Sprintf("invalid trim %.3f..%.3f", trim.Start, trim.End), nil)
	}
	workers := app.Config.Export.Workers
	if c.IsSet("workers") {
		workers = c.Int("workers")
	}
	forceFull := app.Config.Export.ForceFullScreen || c.Bool("full-screen")

	runner, err := rc.runner(logger)
	if err != nil {
		return err
	}
	prober, err := rc.prober()
	if err != nil {
		logger.Warn("ffprobe unavailable; relying on project metadata", "error", err)
		prober = nil
	}

	bundle := project.BuildLayout(root)
	p, _, loadErr := project.Load(bundle.ProjectPath)
	if loadErr != nil {
		logger.Warn("project metadata unreadable", "error", loadErr)
	}
	settings := runmanifest.ExportSettings{
		Format:          string(p.Export.Format),
		Width:           p.Export.Width,
		Height:          p.Export.Height,
		FPS:             p.Export.FPS,
		TrimStart:       trim.Start,
		TrimEnd:         trim.End,
		ForceFullScreen: forceFull,
	}
	if format != "" {
		settings.Format = string(format)
	}
	if v := c.Int("width"); v > 0 {
		settings.Width = v
	}
	if v := c.Int("height"); v > 0 {
		settings.Height = v
	}
	if v := c.Int("fps"); v > 0 {
		settings.FPS = v
	}

	if err := os.MkdirAll(bundle.ExportsDir, 0o755); err != nil {
		return faults.NewIO("create exports directory", err)
	}
	runID, err := runmanifest.ResolveRunID(bundle.ExportsDir, timeNow())
	if err != nil {
		return fmt.Errorf("resolve run id: %w", err)
	}
	layout := runmanifest.BuildLayout(bundle.ExportsDir, runID)
	if err := runmanifest.EnsureFilesystem(layout); err != nil {
		return fmt.Errorf("prepare run filesystem: %w", err)
	}
	runLog, err := os.OpenFile(layout.LogPath, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return faults.NewIO("open export log", err)
	}
	defer runLog.Close()
	logger = slog.New(logging.Fanout(logger.Handler(), slog.NewTextHandler(runLog, nil))).With("run_id", runID)

	host, err := hostname()
	if err != nil {
		host = "unknown"
	}
	build := buildinfo.Read()
	manifest := runmanifest.New(runmanifest.Options{
		RunID:        runID,
		ProjectID:    p.ID,
		ProjectName:  p.Name,
		CreatedAt:    timeNow(),
		Hostname:     host,
		AppVersion:   build.Version,
		AppCommit:    build.ShortCommit(),
		ConfigSource: app.Config.Source,
		Export:       settings,
		BundleRoot:   bundle.Root,
		Layout:       layout,
	})
	if err := manifestSave(manifest, layout.ManifestPath); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}

	store := rc.openHistory(c, app, logger)
	if store != nil {
		defer store.Close()
	}
	absRoot, _ := filepath.Abs(bundle.Root)
	record := history.Run{
		RunID:       runID,
		BundleRoot:  absRoot,
		ProjectID:   p.ID,
		ProjectName: p.Name,
		Format:      settings.Format,
		State:       runmanifest.StateRunning,
		StartedAt:   timeNow(),
	}
	rc.recordHistory(c, store, record, logger)

	manifest.MarkRunning(timeNow())
	if err := manifestSave(manifest, layout.ManifestPath); err != nil {
		return fmt.Errorf("update manifest status: %w", err)
	}

	lookup := rc.lookupEnv
	if forceFull {
		lookup = func(key string) (string, bool) {
			if key == export.ForceFullScreenEnv {
				return "1", true
			}
			return rc.lookupEnv(key)
		}
	}
	exporter, err := export.New(export.Options{
		Root:      bundle.Root,
		Output:    c.String("output"),
		Format:    format,
		Width:     c.Int("width"),
		Height:    c.Int("height"),
		FPS:       c.Int("fps"),
		Trim:      trim,
		Prober:    prober,
		Runner:    runner,
		Logger:    logger,
		LookupEnv: lookup,
		Workers:   workers,
		Clock:     timeNow,
		OnProgress: func(pr export.Progress) {
			manifest.RecordStage(string(pr.Stage), timeNow())
			printProgress(rc.stdout, pr)
		},
	})
	if err != nil {
		return err
	}

	res, exportErr := exporter.Export(c.Context)
	fmt.Fprintln(rc.stdout)
	if res.Output != "" {
		manifest.RecordArtifacts(bundle.Root, res.Output, res.Artifacts.SyncReport, res.Artifacts.Debug, res.Artifacts.Verification)
	}
	record.Output = res.Output
	record.Frames = res.Frames
	record.Warnings = len(res.Warnings)
	record.EndedAt = timeNow()

	if exportErr != nil {
		manifest.Fail(timeNow(), exportErr, res.Warnings)
		record.State = runmanifest.StateFailed
		record.Error = exportErr.Error()
		var fe *faults.Error
		if errors.As(exportErr, &fe) {
			record.ErrorCode = string(fe.Code)
		}
		rc.recordHistory(c, store, record, logger)
		if saveErr := manifestSave(manifest, layout.ManifestPath); saveErr != nil {
			return fmt.Errorf("export: %v (additionally failed to persist manifest: %w)", exportErr, saveErr)
		}
		if res.Artifacts.Debug != "" {
			fmt.Fprintf(rc.stdout, "Diagnostics: %s\n", res.Artifacts.Debug)
		}
		return exportErr
	}

	manifest.Complete(timeNow(), fmt.Sprintf("%d frames in %s", res.Frames, res.Elapsed.Round(time.Millisecond)), res.Warnings)
	record.State = runmanifest.StateCompleted
	rc.recordHistory(c, store, record, logger)
	if err := manifestSave(manifest, layout.ManifestPath); err != nil {
		return fmt.Errorf("finalise manifest: %w", err)
	}

	fmt.Fprintf(rc.stdout, "Output: %s\n", res.Output)
	fmt.Fprintf(rc.stdout, "Frames: %d (%d skipped by cuts, %d off-camera cursors)\n",
		res.Frames, res.Verification.CutFramesSkipped, res.Verification.OffCameraCursors)
	fmt.Fprintf(rc.stdout, "Verification: %s -> %s\n", res.Verification.Status, res.Artifacts.Verification)
	fmt.Fprintf(rc.stdout, "Sync report: %s\n", res.Artifacts.SyncReport)
	fmt.Fprintf(rc.stdout, "Manifest: %s\n", layout.ManifestPath)
	for _, w := range res.Warnings {
		fmt.Fprintf(rc.stdout, "Warning: %s\n", w)
	}
	return nil
}

func printProgress(w io.Writer, p export.Progress) {
	switch p.Stage {
	case export.StageRendering:
		fmt.Fprintf(w, "\rrendering %5.1f%% (%d/%d frames, eta %s)   ", p.Fraction*100, p.FramesRendered, p.TotalFrames, p.ETA.Round(time.Second))
	default:
		fmt.Fprintf(w, "\r%-60s", string(p.Stage))
	}
}

func (rc *RootCommand) openHistory(c *cli.Context, app *AppContext, logger *slog.Logger) *history.Store {
	if c.Bool("no-history") {
		return nil
	}
	store, err := history.Open(app.Config.Paths.HistoryDB)
	if err != nil {
		logger.Warn("export history unavailable", "path", app.Config.Paths.HistoryDB, "error", err)
		return nil
	}
	return store
}

func (rc *RootCommand) recordHistory(c *cli.Context, store *history.Store, run history.Run, logger *slog.Logger) {
	if store == nil {
		return
	}
	if _, err := store.Record(c.Context, run); err != nil {
		logger.Warn("record export history", "error", err)
	}
}
