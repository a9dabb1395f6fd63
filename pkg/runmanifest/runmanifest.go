// Package runmanifest persists the lifecycle of one export run under exports/<run_id>/.
package runmanifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/offlinefirst/screenreel/pkg/faults"
)

// SchemaVersion captures the manifest version for compatibility checks.
const SchemaVersion = 1

// Run states recorded in Status.State.
const (
	StatePending   = "pending"
	StateRunning   = "running"
	StateCompleted = "completed"
	StateFailed    = "failed"
)

// Layout represents the absolute filesystem locations for a run.
type Layout struct {
	Root         string
	ManifestPath string
	LogPath      string
}

// Paths holds the locations stored in the manifest, relative to the project bundle root.
type Paths struct {
	Manifest     string `json:"manifest"`
	Log          string `json:"log"`
	Output       string `json:"output,omitempty"`
	SyncReport   string `json:"sync_report,omitempty"`
	Debug        string `json:"debug,omitempty"`
	Verification string `json:"verification,omitempty"`
}

// ExportSettings records what the run was asked to produce.
type ExportSettings struct {
	Format          string  `json:"format"`
	Width           int     `json:"width"`
	Height          int     `json:"height"`
	FPS             int     `json:"fps"`
	TrimStart       float64 `json:"trim_start_secs,omitempty"`
	TrimEnd         float64 `json:"trim_end_secs,omitempty"`
	ForceFullScreen bool    `json:"force_full_screen,omitempty"`
}

// Status summarises the lifecycle of an export run.
type Status struct {
	State     string           `json:"state"`
	Summary   string           `json:"summary,omitempty"`
	Error     string           `json:"error,omitempty"`
	ErrorCode string           `json:"error_code,omitempty"`
	StartedAt *time.Time       `json:"started_at,omitempty"`
	EndedAt   *time.Time       `json:"ended_at,omitempty"`
	Stages    []StageEntry     `json:"stages,omitempty"`
	Warnings  []faults.Warning `json:"warnings,omitempty"`
}

// StageEntry records a pipeline stage transition for diagnostics.
type StageEntry struct {
	Stage     string    `json:"stage"`
	Timestamp time.Time `json:"timestamp"`
}

// Manifest is the durable metadata describing an export run.
type Manifest struct {
	SchemaVersion int            `json:"schema_version"`
	RunID         string         `json:"run_id"`
	ProjectID     string         `json:"project_id"`
	ProjectName   string         `json:"project_name"`
	CreatedAt     time.Time      `json:"created_at"`
	Hostname      string         `json:"hostname"`
	AppVersion    string         `json:"app_version"`
	AppCommit     string         `json:"app_commit,omitempty"`
	ConfigSource  string         `json:"config_source"`
	Export        ExportSettings `json:"export"`
	Paths         Paths          `json:"paths"`
	Status        Status         `json:"status"`
}

// Options captures the knobs for creating a new manifest.
type Options struct {
	RunID        string
	ProjectID    string
	ProjectName  string
	CreatedAt    time.Time
	Hostname     string
	AppVersion   string
	AppCommit    string
	ConfigSource string
	Export       ExportSettings
	BundleRoot   string
	Layout       Layout
}

// New constructs a pending manifest using the supplied options.
func New(opts Options) Manifest {
	return Manifest{
		SchemaVersion: SchemaVersion,
		RunID:         opts.RunID,
		ProjectID:     opts.ProjectID,
		ProjectName:   opts.ProjectName,
		CreatedAt:     opts.CreatedAt.UTC(),
		Hostname:      opts.Hostname,
		AppVersion:    opts.AppVersion,
		AppCommit:     opts.AppCommit,
		ConfigSource:  opts.ConfigSource,
		Export:        opts.Export,
		Paths: Paths{
			Manifest: relTo(opts.BundleRoot, opts.Layout.ManifestPath),
			Log:      relTo(opts.BundleRoot, opts.Layout.LogPath),
		},
		Status: Status{State: StatePending},
	}
}

// MarkRunning moves the run into the running state.
func (m *Manifest) MarkRunning(now time.Time) {
	started := now.UTC()
	m.Status.State = StateRunning
	m.Status.StartedAt = &started
}

// RecordStage appends a stage transition, collapsing repeats of the current stage.
func (m *Manifest) RecordStage(stage string, now time.Time) {
	if n := len(m.Status.Stages); n > 0 && m.Status.Stages[n-1].Stage == stage {
		return
	}
	m.Status.Stages = append(m.Status.Stages, StageEntry{Stage: stage, Timestamp: now.UTC()})
}

// Complete marks the run successful.
func (m *Manifest) Complete(now time.Time, summary string, warnings []faults.Warning) {
	ended := now.UTC()
	m.Status.State = StateCompleted
	m.Status.Summary = summary
	m.Status.EndedAt = &ended
	m.Status.Warnings = append(m.Status.Warnings, warnings...)
}

// Fail marks the run failed and records the error code when err carries one.
func (m *Manifest) Fail(now time.Time, err error, warnings []faults.Warning) {
	ended := now.UTC()
	m.Status.State = StateFailed
	m.Status.EndedAt = &ended
	m.Status.Warnings = append(m.Status.Warnings, warnings...)
	if err != nil {
		m.Status.Error = err.Error()
		var fe *faults.Error
		if errors.As(err, &fe) {
			m.Status.ErrorCode = string(fe.Code)
		}
	}
}

// RecordArtifacts stores the output and diagnostic paths relative to bundleRoot.
func (m *Manifest) RecordArtifacts(bundleRoot, output, syncReport, debug, verification string) {
	m.Paths.Output = relTo(bundleRoot, output)
	m.Paths.SyncReport = relTo(bundleRoot, syncReport)
	m.Paths.Debug = relTo(bundleRoot, debug)
	m.Paths.Verification = relTo(bundleRoot, verification)
}

func relTo(root, path string) string {
	if path == "" || root == "" {
		return path
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}

// BuildLayout creates an absolute filesystem layout for a run.
func BuildLayout(exportsDir, runID string) Layout {
	root := filepath.Join(exportsDir, runID)
	return Layout{
		Root:         root,
		ManifestPath: filepath.Join(root, "manifest.json"),
		LogPath:      filepath.Join(root, "export.log"),
	}
}

// EnsureFilesystem prepares the directory tree for a run layout.
func EnsureFilesystem(layout Layout) error {
	if err := os.MkdirAll(layout.Root, 0o755); err != nil {
		return fmt.Errorf("create run root: %w", err)
	}

	file, err := os.OpenFile(layout.LogPath, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("initialise export log: %w", err)
	}
	defer file.Close()

	return nil
}

// Save writes the manifest JSON to disk with indentation for readability.
func Save(man Manifest, path string) error {
	data, err := json.MarshalIndent(man, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace manifest: %w", err)
	}
	return nil
}

// Load reads a manifest JSON file from disk.
func Load(path string) (Manifest, error) {
	var man Manifest
	data, err := os.ReadFile(path)
	if err != nil {
		return man, fmt.Errorf("read manifest: %w", err)
	}
	if err := json.Unmarshal(data, &man); err != nil {
		return man, fmt.Errorf("decode manifest: %w", err)
	}
	return man, nil
}

// ResolveRunID chooses a run identifier derived from the timestamp and avoids collisions.
func ResolveRunID(exportsDir string, now time.Time) (string, error) {
	if strings.TrimSpace(exportsDir) == "" {
		return "", errors.New("exports directory must not be empty")
	}

	base := now.UTC().Format("20060102_150405")
	candidate := base
	suffix := 1
	for {
		_, err := os.Stat(filepath.Join(exportsDir, candidate))
		if err == nil {
			candidate = fmt.Sprintf("%s_%02d", base, suffix)
			suffix++
			continue
		}
		if errors.Is(err, os.ErrNotExist) {
			return candidate, nil
		}
		return "", fmt.Errorf("inspect exports directory: %w", err)
	}
}
