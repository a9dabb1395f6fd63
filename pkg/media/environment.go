// Package media wraps the ffmpeg toolchain: binary discovery, probing and encode runs.
package media

import (
	"os/exec"
	"strings"

	"github.com/offlinefirst/screenreel/pkg/platform"
	"github.com/offlinefirst/screenreel/pkg/project"
)

// Provider identifiers for manifest reporting.
const (
	ProviderFFmpeg    = "ffmpeg"
	ProviderSynthetic = "synthetic"
)

// Environment describes which media tools are usable on this host.
type Environment struct {
	Provider      string
	Available     bool
	FFmpeg        string
	FFprobe       string
	Xrandr        string
	DisplayServer project.DisplayServer
	Permission    string
	Message       string
	Guidance      []string
}

// DetectorOptions controls environment probing.
type DetectorOptions struct {
	FFmpegBinary  string
	FFprobeBinary string
	LookPath      func(string) (string, error)
	LookupEnv     platform.LookupEnvFunc
}

// DetectEnvironment resolves ffmpeg, ffprobe and xrandr and combines them with the screen
// recording probe. Capture falls back to the synthetic provider when any of them is missing.
func DetectEnvironment(opts DetectorOptions) Environment {
	lookPath := opts.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	ffmpegBin := defaultString(opts.FFmpegBinary, "ffmpeg")
	ffprobeBin := defaultString(opts.FFprobeBinary, "ffprobe")

	screen := platform.ProbeScreenRecording(opts.LookupEnv)
	env := Environment{
		Provider:      ProviderFFmpeg,
		DisplayServer: platform.DetectDisplayServer(opts.LookupEnv),
		Permission:    screen.StatusString(),
		Message:       screen.Message,
		Available:     screen.Usable(),
	}
	if screen.Guidance != "" {
		env.Guidance = append(env.Guidance, screen.Guidance)
	}

	var missing []string
	if path, err := lookPath(ffmpegBin); err == nil {
		env.FFmpeg = path
	} else {
		missing = append(missing, ffmpegBin)
	}
	if path, err := lookPath(ffprobeBin); err == nil {
		env.FFprobe = path
	} else {
		missing = append(missing, ffprobeBin)
	}
	if path, err := lookPath("xrandr"); err == nil {
		env.Xrandr = path
	} else if env.DisplayServer == project.DisplayX11 {
		missing = append(missing, "xrandr")
	}
	if env.DisplayServer != project.DisplayX11 {
		env.Guidance = append(env.Guidance, "ffmpeg capture only supports x11grab; use the synthetic backend elsewhere")
		env.Available = false
	}

	if len(missing) > 0 {
		env.Available = false
		env.Message = strings.TrimSpace(strings.TrimPrefix(env.Message+"; missing "+strings.Join(missing, ", "), "; "))
		env.Guidance = append(env.Guidance, "Install ffmpeg (with ffprobe) and x11 utilities and expose them on PATH")
	}
	if !env.Available {
		env.Provider = ProviderSynthetic
	}
	if env.Message == "" && env.Provider == ProviderSynthetic {
		env.Message = "synthetic capture backend"
	}
	return env
}

func defaultString(v, fallback string) string {
	if v = strings.TrimSpace(v); v == "" {
		return fallback
	}
	return v
}
