// Package platform inspects the host for display-server type and capture permissions.
package platform

import (
	"os"
	"runtime"
	"strings"

	"github.com/offlinefirst/screenreel/pkg/project"
)

// Status enumerates coarse permission results.
type Status string

const (
	// StatusUnknown indicates no explicit signal about permission state.
	StatusUnknown Status = "unknown"
	// StatusGranted signals that capture can proceed without a prompt.
	StatusGranted Status = "granted"
	// StatusDenied indicates the user or policy has refused access.
	StatusDenied Status = "denied"
	// StatusPromptRequired means a portal or OS dialog will ask at runtime.
	StatusPromptRequired Status = "prompt"
	// StatusUnavailable reports that the capability is not supported.
	StatusUnavailable Status = "unavailable"
)

// ProbeResult represents the coarse state for a permission surface.
type ProbeResult struct {
	Status   Status
	Message  string
	Guidance string
}

// LookupEnvFunc exposes environment probing for testability.
type LookupEnvFunc func(string) (string, bool)

// lookupEnv is declared for swapping in tests.
var lookupEnv = func(key string) (string, bool) {
	return os.LookupEnv(key)
}

var goos = runtime.GOOS

// DetectDisplayServer infers the windowing system from the session environment.
func DetectDisplayServer(lookup LookupEnvFunc) project.DisplayServer {
	if lookup == nil {
		lookup = lookupEnv
	}
	switch goos {
	case "windows":
		return project.DisplayWindows
	case "darwin":
		return project.DisplayMacOS
	}
	if v, ok := lookup("XDG_SESSION_TYPE"); ok {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "wayland":
			return project.DisplayWayland
		case "x11":
			return project.DisplayX11
		}
	}
	if v, ok := lookup("WAYLAND_DISPLAY"); ok && strings.TrimSpace(v) != "" {
		return project.DisplayWayland
	}
	return project.DisplayX11
}

// ProbeScreenRecording reports whether screen frames can be grabbed.
func ProbeScreenRecording(lookup LookupEnvFunc) ProbeResult {
	if lookup == nil {
		lookup = lookupEnv
	}
	if value, ok := lookup("SCREENREEL_SCREEN_RECORDING"); ok {
		return interpretPermissionFlag("screen recording", value)
	}
	switch DetectDisplayServer(lookup) {
	case project.DisplayX11:
		if v, ok := lookup("DISPLAY"); !ok || strings.TrimSpace(v) == "" {
			return ProbeResult{Status: StatusUnavailable, Message: "no X11 display available", Guidance: "export DISPLAY or run inside a graphical session"}
		}
		return ProbeResult{Status: StatusGranted, Message: "x11 allows direct frame capture"}
	case project.DisplayWayland:
		return ProbeResult{Status: StatusPromptRequired, Message: "screen cast portal will prompt at runtime"}
	default:
		return ProbeResult{Status: StatusPromptRequired, Message: "screen recording authorisation required"}
	}
}

// ProbeInputMonitoring reports whether global pointer position can be sampled.
func ProbeInputMonitoring(lookup LookupEnvFunc) ProbeResult {
	if lookup == nil {
		lookup = lookupEnv
	}
	if value, ok := lookup("SCREENREEL_INPUT_MONITORING"); ok {
		return interpretPermissionFlag("input monitoring", value)
	}
	if DetectDisplayServer(lookup) == project.DisplayWayland {
		return ProbeResult{Status: StatusUnavailable, Message: "wayland does not expose global pointer position", Guidance: "record under an X11 session for cursor tracks"}
	}
	return ProbeResult{Status: StatusGranted, Message: "pointer sampling available"}
}

// ProbeMicrophone reports coarse microphone capture permissions.
func ProbeMicrophone(lookup LookupEnvFunc) ProbeResult {
	if lookup == nil {
		lookup = lookupEnv
	}
	if value, ok := lookup("SCREENREEL_MICROPHONE"); ok {
		return interpretPermissionFlag("microphone", value)
	}
	if goos == "linux" {
		return ProbeResult{Status: StatusGranted, Message: "pulse sources are readable by the session user"}
	}
	return ProbeResult{Status: StatusPromptRequired, Message: "microphone access will prompt at runtime"}
}

func interpretPermissionFlag(name, value string) ProbeResult {
	normalised := strings.ToLower(strings.TrimSpace(value))
	switch normalised {
	case "granted", "allow", "allowed", "yes", "true":
		return ProbeResult{Status: StatusGranted, Message: name + " permission pre-authorised via env override"}
	case "denied", "no", "false", "blocked":
		return ProbeResult{Status: StatusDenied, Message: name + " permission denied via env override", Guidance: "unset or update SCREENREEL_* env to re-test"}
	case "prompt", "ask":
		return ProbeResult{Status: StatusPromptRequired, Message: name + " permission will prompt at runtime"}
	case "unavailable", "unsupported":
		return ProbeResult{Status: StatusUnavailable, Message: name + " permission unavailable on this platform"}
	default:
		return ProbeResult{Status: StatusUnknown, Message: name + " permission state unknown"}
	}
}

// StatusString returns the string representation for manifest integration.
func (p ProbeResult) StatusString() string {
	if p.Status == "" {
		return string(StatusUnknown)
	}
	return string(p.Status)
}

// Usable reports whether capture may proceed, possibly after a prompt.
func (p ProbeResult) Usable() bool {
	return p.Status == StatusGranted || p.Status == StatusPromptRequired
}
