package cmd

import (
	"io"
	"log/slog"
	"testing"

	"github.com/offlinefirst/screenreel/pkg/capture"
	"github.com/offlinefirst/screenreel/pkg/config"
	"github.com/offlinefirst/screenreel/pkg/media"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestResolveBackendAutoFallsBackToSynthetic(t *testing.T) {
	rc := &RootCommand{
		environ: map[string]string{},
		toolchain: Toolchain{
			Detect: func(media.DetectorOptions) media.Environment {
				return media.Environment{Provider: media.ProviderFFmpeg, Message: "ffmpeg not found"}
			},
		},
	}
	backend, prober, err := rc.resolveBackend(config.BackendAuto, newTestLogger())
	if err != nil {
		t.Fatalf("resolveBackend returned error: %v", err)
	}
	if _, ok := backend.(*capture.SyntheticBackend); !ok {
		t.Fatalf("expected synthetic backend, got %T", backend)
	}
	if prober == nil {
		t.Fatalf("expected synthetic prober")
	}
}

func TestResolveBackendPrefersInjectedToolchain(t *testing.T) {
	injected := &capture.SyntheticBackend{}
	rc := &RootCommand{toolchain: Toolchain{Backend: injected, Prober: fakeProber{}}}
	backend, _, err := rc.resolveBackend(config.BackendFFmpeg, newTestLogger())
	if err != nil {
		t.Fatalf("resolveBackend returned error: %v", err)
	}
	if backend != injected {
		t.Fatalf("expected injected backend")
	}
}
