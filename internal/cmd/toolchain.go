package cmd

import (
	"fmt"
	"log/slog"

	"github.com/offlinefirst/screenreel/pkg/capture"
	"github.com/offlinefirst/screenreel/pkg/config"
	"github.com/offlinefirst/screenreel/pkg/events"
	"github.com/offlinefirst/screenreel/pkg/media"
	"github.com/offlinefirst/screenreel/pkg/platform"
)

const pointerRateHz = 60

// resolveBackend picks the capture backend named by the config. "auto" probes the host and
// falls back to the synthetic backend when the ffmpeg toolchain or display is unusable.
func (rc *RootCommand) resolveBackend(name string, logger *slog.Logger) (capture.Backend, media.Prober, error) {
	if rc.toolchain.Backend != nil {
		return rc.toolchain.Backend, rc.toolchain.Prober, nil
	}

	switch name {
	case config.BackendSynthetic:
		return newSyntheticBackend()
	case config.BackendFFmpeg:
		return rc.newFFmpegBackend(logger)
	}

	detect := rc.toolchain.Detect
	if detect == nil {
		detect = media.DetectEnvironment
	}
	env := detect(media.DetectorOptions{LookupEnv: rc.lookupEnv})
	if !env.Available {
		logger.Warn("capture toolchain unavailable; using synthetic backend",
			"provider", env.Provider,
			"permission", env.Permission,
			"message", env.Message,
			"guidance", env.Guidance,
		)
		return newSyntheticBackend()
	}
	logger.Info("capture toolchain detected", "ffmpeg", env.FFmpeg, "display_server", env.DisplayServer)
	return rc.newFFmpegBackend(logger)
}

func newSyntheticBackend() (capture.Backend, media.Prober, error) {
	b := &capture.SyntheticBackend{Script: events.DemoScript(pointerRateHz), Pace: true}
	return b, b.Prober(), nil
}

func (rc *RootCommand) newFFmpegBackend(logger *slog.Logger) (capture.Backend, media.Prober, error) {
	ff, err := media.NewFFmpeg(media.FFmpegOptions{Logger: logger})
	if err != nil {
		return nil, nil, fmt.Errorf("ffmpeg backend: %w", err)
	}
	prober, err := rc.prober()
	if err != nil {
		return nil, nil, fmt.Errorf("ffmpeg backend: %w", err)
	}
	backend := &capture.FFmpegBackend{
		FFmpeg:        ff,
		Run:           media.RunCommand,
		PointerRateHz: pointerRateHz,
	}
	if v, ok := rc.lookupEnv("DISPLAY"); ok {
		backend.Display = v
	}
	pointer := events.DetectEnvironment(rc.lookupEnv, nil)
	if pointer.Available {
		backend.Xdotool = "xdotool"
	} else {
		logger.Warn("pointer sampling unavailable; recording without cursor events",
			"permission", pointer.Permission,
			"message", pointer.Message,
			"guidance", pointer.Guidance,
		)
	}
	if mic := platform.ProbeMicrophone(rc.lookupEnv); !mic.Usable() {
		logger.Warn("microphone capture may fail", "permission", mic.StatusString(), "message", mic.Message)
	}
	return backend, prober, nil
}

func (rc *RootCommand) prober() (media.Prober, error) {
	if rc.toolchain.Prober != nil {
		return rc.toolchain.Prober, nil
	}
	return media.NewFFprobe(media.ProbeOptions{})
}

func (rc *RootCommand) runner(logger *slog.Logger) (media.Runner, error) {
	if rc.toolchain.Runner != nil {
		return rc.toolchain.Runner, nil
	}
	return media.NewFFmpeg(media.FFmpegOptions{Logger: logger})
}
