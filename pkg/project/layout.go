package project

import (
	"fmt"
	"os"
	"path/filepath"
)

// Layout holds the absolute locations inside a project bundle.
type Layout struct {
	Root           string
	SourcesDir     string
	MetaDir        string
	CacheDir       string
	ExportsDir     string
	CaptureLogPath string

	ScreenPath      string
	WebcamPath      string
	MicPath         string
	SystemAudioPath string
	SubtitlesPath   string

	ProjectPath  string
	TimelinePath string
	EventsPath   string
}

// BuildLayout derives the bundle layout rooted at root.
func BuildLayout(root string) Layout {
	sources := filepath.Join(root, "sources")
	meta := filepath.Join(root, "meta")
	return Layout{
		Root:            root,
		SourcesDir:      sources,
		MetaDir:         meta,
		CacheDir:        filepath.Join(root, "cache"),
		ExportsDir:      filepath.Join(root, "exports"),
		CaptureLogPath:  filepath.Join(root, "capture.log"),
		ScreenPath:      filepath.Join(sources, "screen.mkv"),
		WebcamPath:      filepath.Join(sources, "webcam.mkv"),
		MicPath:         filepath.Join(sources, "mic.wav"),
		SystemAudioPath: filepath.Join(sources, "system.wav"),
		SubtitlesPath:   filepath.Join(sources, "subtitles.srt"),
		ProjectPath:     filepath.Join(meta, "project.json"),
		TimelinePath:    filepath.Join(meta, "timeline.json"),
		EventsPath:      filepath.Join(meta, "events.jsonl"),
	}
}

// Rel returns path relative to the bundle root, as stored in TrackRef.Path.
func (l Layout) Rel(path string) string {
	rel, err := filepath.Rel(l.Root, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}

// Abs resolves a bundle-relative track path.
func (l Layout) Abs(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(l.Root, filepath.FromSlash(rel))
}

// EnsureFilesystem prepares the directory tree and touches capture.log.
func EnsureFilesystem(layout Layout) error {
	if err := os.MkdirAll(layout.Root, 0o755); err != nil {
		return fmt.Errorf("create bundle root: %w", err)
	}
	for _, dir := range []string{layout.SourcesDir, layout.MetaDir, layout.CacheDir, layout.ExportsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	file, err := os.OpenFile(layout.CaptureLogPath, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("initialise capture log: %w", err)
	}
	return file.Close()
}
