package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const DefaultFileName = "screenreel.yaml"

// Backend names accepted by capture.backend.
const (
	BackendAuto      = "auto"
	BackendSynthetic = "synthetic"
	BackendFFmpeg    = "ffmpeg"
)

// Config captures the user-adjustable knobs for recording, analysis and export.
type Config struct {
	Paths    PathsConfig    `yaml:"paths"`
	Capture  CaptureConfig  `yaml:"capture"`
	Director DirectorConfig `yaml:"director"`
	Export   ExportConfig   `yaml:"export"`
	Logging  LoggingConfig  `yaml:"logging"`

	// Source indicates where the configuration originated (defaults or a file path).
	Source string `yaml:"-"`
}

// PathsConfig controls filesystem locations used by the CLI.
type PathsConfig struct {
	ProjectsDir string `yaml:"projects_dir" env:"SCREENREEL_PROJECTS_DIR"`
	HistoryDB   string `yaml:"history_db" env:"SCREENREEL_HISTORY_DB"`
}

// CaptureConfig selects the backend and the optional tracks of a recording.
type CaptureConfig struct {
	Backend      string `yaml:"backend" env:"SCREENREEL_CAPTURE_BACKEND"`
	MonitorIndex int    `yaml:"monitor_index" env:"SCREENREEL_MONITOR_INDEX"`
	FPS          int    `yaml:"fps" env:"SCREENREEL_CAPTURE_FPS"`
	SampleRate   int    `yaml:"sample_rate"`
	CursorHidden bool   `yaml:"cursor_hidden"`

	Webcam            bool   `yaml:"webcam" env:"SCREENREEL_CAPTURE_WEBCAM"`
	WebcamDevice      string `yaml:"webcam_device"`
	Mic               bool   `yaml:"mic" env:"SCREENREEL_CAPTURE_MIC"`
	MicDevice         string `yaml:"mic_device"`
	SystemAudio       bool   `yaml:"system_audio" env:"SCREENREEL_CAPTURE_SYSTEM_AUDIO"`
	SystemAudioDevice string `yaml:"system_audio_device"`

	Events EventsConfig `yaml:"events"`
}

// EventsConfig configures what the input tap keeps.
type EventsConfig struct {
	CaptureKeys    bool     `yaml:"capture_keys" env:"SCREENREEL_CAPTURE_KEYS"`
	AllowedApps    []string `yaml:"allowed_apps"`
	DropUnknownApp bool     `yaml:"drop_unknown_app"`
	RedactEmails   bool     `yaml:"redact_emails"`
	RedactPatterns []string `yaml:"redact_patterns"`
}

// DirectorConfig tunes the auto camera.
type DirectorConfig struct {
	ChunkSeconds           float64 `yaml:"chunk_seconds"`
	DwellThresholdSeconds  float64 `yaml:"dwell_threshold_seconds"`
	DwellRadius            float64 `yaml:"dwell_radius"`
	HoverZoom              float64 `yaml:"hover_zoom"`
	ScanZoom               float64 `yaml:"scan_zoom"`
	SmoothingWindow        int     `yaml:"smoothing_window"`
	MinViewportSize        float64 `yaml:"min_viewport_size"`
	DwellVelocityThreshold float64 `yaml:"dwell_velocity_threshold"`
	OverwriteManual        bool    `yaml:"overwrite_manual"`
}

// ExportConfig holds render defaults that the project's own export block does not cover.
type ExportConfig struct {
	Workers         int  `yaml:"workers" env:"SCREENREEL_EXPORT_WORKERS"`
	ForceFullScreen bool `yaml:"force_full_screen" env:"SCREENREEL_FORCE_FULL_SCREEN_RENDER"`
}

// LoggingConfig defines log verbosity and formatting.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"SCREENREEL_LOG_LEVEL"`
	Format string `yaml:"format" env:"SCREENREEL_LOG_FORMAT"`
}

// Default returns the baseline configuration used when no overrides are supplied.
func Default() Config {
	return Config{
		Paths: PathsConfig{
			ProjectsDir: "projects",
			HistoryDB:   "screenreel.db",
		},
		Capture: CaptureConfig{
			Backend:    BackendAuto,
			FPS:        30,
			SampleRate: 48000,
			Mic:        true,
			Events: EventsConfig{
				RedactEmails: true,
			},
		},
		Director: DirectorConfig{
			ChunkSeconds:           2.0,
			DwellThresholdSeconds:  1.0,
			DwellRadius:            0.15,
			HoverZoom:              0.4,
			ScanZoom:               0.85,
			SmoothingWindow:        3,
			MinViewportSize:        0.25,
			DwellVelocityThreshold: 0.18,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Source: "<defaults>",
	}
}

// Load reads configuration from disk if present, otherwise returning defaults. Environment
// overrides are applied afterwards. When path is empty, the loader attempts to read
// ./screenreel.yaml but tolerates a missing file.
func Load(path string, environ map[string]string) (Config, error) {
	cfg := Default()

	candidate := strings.TrimSpace(path)
	explicit := candidate != ""
	if !explicit {
		candidate = DefaultFileName
	}

	data, err := os.ReadFile(candidate)
	switch {
	case err == nil:
		if err := decodeYAML(bytes.NewReader(data), &cfg); err != nil {
			return cfg, fmt.Errorf("config file %q: %w", candidate, err)
		}
		cfg.Source = candidate
	case errors.Is(err, os.ErrNotExist):
		if explicit {
			return cfg, fmt.Errorf("config file %q not found", candidate)
		}
	default:
		return cfg, fmt.Errorf("open config file %q: %w", candidate, err)
	}

	if err := ApplyEnv(&cfg, environ); err != nil {
		return cfg, err
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv overlays SCREENREEL_* variables. A nil environ reads the process environment.
// Unset variables leave the current value untouched.
func ApplyEnv(cfg *Config, environ map[string]string) error {
	opts := env.Options{}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func decodeYAML(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}

// Validate ensures essential configuration values are present and sensible.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Paths.ProjectsDir) == "" {
		return errors.New("paths.projects_dir must not be empty")
	}
	if strings.TrimSpace(c.Paths.HistoryDB) == "" {
		return errors.New("paths.history_db must not be empty")
	}

	if _, err := NormalizeLogLevel(c.Logging.Level); err != nil {
		return err
	}
	if _, err := NormalizeFormat(c.Logging.Format); err != nil {
		return err
	}

	switch c.Capture.Backend {
	case BackendAuto, BackendSynthetic, BackendFFmpeg:
	default:
		return fmt.Errorf("capture.backend %q must be one of auto, synthetic, ffmpeg", c.Capture.Backend)
	}
	if c.Capture.MonitorIndex < 0 {
		return errors.New("capture.monitor_index must not be negative")
	}
	if c.Capture.FPS <= 0 || c.Capture.FPS > 240 {
		return errors.New("capture.fps must be between 1 and 240")
	}
	if c.Capture.SampleRate <= 0 {
		return errors.New("capture.sample_rate must be positive")
	}

	d := c.Director
	if d.ChunkSeconds <= 0 {
		return errors.New("director.chunk_seconds must be positive")
	}
	if d.DwellThresholdSeconds < 0 {
		return errors.New("director.dwell_threshold_seconds must not be negative")
	}
	for name, v := range map[string]float64{
		"director.dwell_radius":      d.DwellRadius,
		"director.hover_zoom":        d.HoverZoom,
		"director.scan_zoom":         d.ScanZoom,
		"director.min_viewport_size": d.MinViewportSize,
	} {
		if v <= 0 || v > 1 {
			return fmt.Errorf("%s must be in (0,1]", name)
		}
	}
	if d.SmoothingWindow < 0 {
		return errors.New("director.smoothing_window must not be negative")
	}

	if c.Export.Workers < 0 {
		return errors.New("export.workers must not be negative")
	}
	return nil
}

func (c *Config) normalize() {
	c.Paths.ProjectsDir = filepath.Clean(strings.TrimSpace(c.Paths.ProjectsDir))
	c.Paths.HistoryDB = strings.TrimSpace(c.Paths.HistoryDB)

	defaults := Default()

	if c.Paths.ProjectsDir == "." || c.Paths.ProjectsDir == "" {
		c.Paths.ProjectsDir = defaults.Paths.ProjectsDir
	}
	if c.Paths.HistoryDB == "" {
		c.Paths.HistoryDB = defaults.Paths.HistoryDB
	}
	if level, err := NormalizeLogLevel(c.Logging.Level); err == nil {
		c.Logging.Level = level
	}
	if format, err := NormalizeFormat(c.Logging.Format); err == nil {
		c.Logging.Format = format
	}

	c.Capture.Backend = strings.ToLower(strings.TrimSpace(c.Capture.Backend))
	if c.Capture.Backend == "" {
		c.Capture.Backend = defaults.Capture.Backend
	}
	if c.Capture.FPS == 0 {
		c.Capture.FPS = defaults.Capture.FPS
	}
	if c.Capture.SampleRate == 0 {
		c.Capture.SampleRate = defaults.Capture.SampleRate
	}
	c.Capture.Events.AllowedApps = trimList(c.Capture.Events.AllowedApps)
	c.Capture.Events.RedactPatterns = trimList(c.Capture.Events.RedactPatterns)

	if c.Director.ChunkSeconds == 0 {
		c.Director.ChunkSeconds = defaults.Director.ChunkSeconds
	}
}

func trimList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// NormalizeLogLevel validates and lowercases known logging levels.
func NormalizeLogLevel(level string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return "info", nil
	case "debug":
		return "debug", nil
	case "warn", "warning":
		return "warn", nil
	case "error":
		return "error", nil
	default:
		return "", fmt.Errorf("unsupported log level %q", level)
	}
}

// NormalizeFormat validates and canonicalizes logging format identifiers.
func NormalizeFormat(format string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
		return "json", nil
	case "console", "text":
		return "console", nil
	default:
		return "", fmt.Errorf("unsupported log format %q", format)
	}
}
