package events

import (
	"errors"
	"testing"
)

func TestDetectEnvironmentPrefersXdotool(t *testing.T) {
	lookup := func(key string) (string, bool) {
		if key == "SCREENREEL_INPUT_MONITORING" {
			return "granted", true
		}
		return "", false
	}
	env := DetectEnvironment(lookup, func(string) (string, error) { return "/usr/bin/xdotool", nil })
	if env.Provider != providerXdotool || !env.Available {
		t.Fatalf("expected xdotool provider, got %+v", env)
	}
}

func TestDetectEnvironmentFallsBackToSynthetic(t *testing.T) {
	lookup := func(key string) (string, bool) {
		if key == "SCREENREEL_INPUT_MONITORING" {
			return "granted", true
		}
		return "", false
	}
	env := DetectEnvironment(lookup, func(string) (string, error) { return "", errors.New("not found") })
	if env.Provider != providerSynthetic || env.Available {
		t.Fatalf("expected synthetic provider, got %+v", env)
	}
	if env.Guidance == "" {
		t.Fatalf("expected guidance when xdotool is missing")
	}
}
