package events

import (
	"os/exec"

	"github.com/offlinefirst/screenreel/pkg/platform"
)

// Environment summarises pointer sampling support on the host.
type Environment struct {
	Provider   string
	Available  bool
	Permission string
	Message    string
	Guidance   string
}

const (
	providerXdotool   = "xdotool"
	providerSynthetic = "synthetic"
)

// DetectEnvironment reports whether live pointer sampling via xdotool is possible.
// lookPath defaults to exec.LookPath.
func DetectEnvironment(lookup platform.LookupEnvFunc, lookPath func(string) (string, error)) Environment {
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	probe := platform.ProbeInputMonitoring(lookup)
	env := Environment{
		Provider:   providerSynthetic,
		Permission: probe.StatusString(),
		Message:    probe.Message,
		Guidance:   probe.Guidance,
	}
	if !probe.Usable() {
		return env
	}
	if _, err := lookPath("xdotool"); err != nil {
		env.Message = "xdotool not found; pointer events will be synthetic"
		env.Guidance = "install xdotool for live cursor tracking"
		return env
	}
	env.Provider = providerXdotool
	env.Available = true
	return env
}
