package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/offlinefirst/screenreel/internal/buildinfo"
	"github.com/offlinefirst/screenreel/pkg/capture"
	"github.com/offlinefirst/screenreel/pkg/config"
	"github.com/offlinefirst/screenreel/pkg/logging"
	"github.com/offlinefirst/screenreel/pkg/media"
	"github.com/offlinefirst/screenreel/pkg/telemetry"
)

const serviceName = "screenreel"

// AppContext exposes lazily initialised configuration and logging facilities.
type AppContext struct {
	Config config.Config
	Logger *slog.Logger
}

// Toolchain overrides the host integrations. Nil fields are resolved from the environment.
type Toolchain struct {
	Backend capture.Backend
	Prober  media.Prober
	Runner  media.Runner
	Detect  func(media.DetectorOptions) media.Environment
}

// RootCommand builds and runs the CLI.
type RootCommand struct {
	stdout    io.Writer
	stderr    io.Writer
	environ   map[string]string
	toolchain Toolchain
	appCtx    *AppContext
	shutdown  telemetry.ShutdownFunc
}

// NewRootCommand constructs the CLI bound to the process streams and environment.
func NewRootCommand() *RootCommand {
	return &RootCommand{stdout: os.Stdout, stderr: os.Stderr}
}

// Execute runs the CLI with args, which exclude the program name.
func (rc *RootCommand) Execute(args []string) error {
	return rc.App().Run(append([]string{serviceName}, args...))
}

// App assembles the urfave/cli application.
func (rc *RootCommand) App() *cli.App {
	app := &cli.App{
		Name:      serviceName,
		Usage:     "record the screen and export polished, auto-framed videos",
		Version:   versionString(),
		Writer:    rc.stdout,
		ErrWriter: rc.stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "Path to config file (default: ./screenreel.yaml if present)"},
			&cli.StringFlag{Name: "log-level", Usage: "Override log level (debug, info, warn, error)"},
			&cli.StringFlag{Name: "log-format", Usage: "Override log output format (json, console)"},
		},
		Commands: []*cli.Command{
			rc.recordCommand(),
			rc.analyzeCommand(),
			rc.exportCommand(),
			rc.validateCommand(),
			rc.historyCommand(),
			rc.versionCommand(),
		},
		After: func(c *cli.Context) error {
			if rc.shutdown == nil {
				return nil
			}
			return rc.shutdown(context.WithoutCancel(c.Context))
		},
	}
	// Errors are returned to the caller instead of exiting inside the library.
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

func (rc *RootCommand) ensureAppContext(c *cli.Context) (*AppContext, error) {
	if rc.appCtx != nil {
		return rc.appCtx, nil
	}

	cfg, err := config.Load(c.String("config"), rc.environ)
	if err != nil {
		return nil, err
	}

	if lvl := c.String("log-level"); lvl != "" {
		normalized, err := config.NormalizeLogLevel(lvl)
		if err != nil {
			return nil, err
		}
		cfg.Logging.Level = normalized
	}
	if format := c.String("log-format"); format != "" {
		normalized, err := config.NormalizeFormat(format)
		if err != nil {
			return nil, err
		}
		cfg.Logging.Format = normalized
	}

	logger, err := logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: rc.stderr,
	})
	if err != nil {
		return nil, err
	}

	shutdown, err := telemetry.Setup(c.Context, serviceName, rc.lookupEnv)
	if err != nil {
		logger.Warn("tracing disabled", "error", err)
	} else {
		rc.shutdown = shutdown
	}

	logger.Info("configuration loaded", "source", cfg.Source, "projects_dir", cfg.Paths.ProjectsDir, "history_db", cfg.Paths.HistoryDB)

	rc.appCtx = &AppContext{Config: cfg, Logger: logger}
	return rc.appCtx, nil
}

// lookupEnv reads from the injected environment when one is set.
func (rc *RootCommand) lookupEnv(key string) (string, bool) {
	if rc.environ != nil {
		v, ok := rc.environ[key]
		return v, ok
	}
	return os.LookupEnv(key)
}

func versionString() string {
	return fmt.Sprintf("%s (go%s/%s)", buildinfo.Read(), strings.TrimPrefix(runtimeVersion(), "go"), runtimeGOOS())
}

// runtimeVersion is extracted for testability.
var runtimeVersion = func() string { return runtime.Version() }

// runtimeGOOS is extracted for testability.
var runtimeGOOS = func() string { return runtime.GOOS }
