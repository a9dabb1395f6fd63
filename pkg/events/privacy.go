package events

import "strings"

// PrivacyPolicy decides which input events reach the log.
// The zero value drops key events and permits everything else.
type PrivacyPolicy struct {
	allowApps   map[string]struct{}
	captureKeys bool
	dropUnknown bool
}

// NewPrivacyPolicy constructs a filter. allowApps restricts window focus events to the
// listed application ids; dropUnknown also drops focus events that carry no app id.
func NewPrivacyPolicy(allowApps []string, captureKeys, dropUnknown bool) PrivacyPolicy {
	policy := PrivacyPolicy{
		allowApps:   make(map[string]struct{}, len(allowApps)),
		captureKeys: captureKeys,
		dropUnknown: dropUnknown,
	}

	for _, app := range allowApps {
		trimmed := strings.TrimSpace(app)
		if trimmed == "" {
			continue
		}
		policy.allowApps[strings.ToLower(trimmed)] = struct{}{}
	}

	return policy
}

// Allows reports whether the event passes the policy.
func (p PrivacyPolicy) Allows(event Event) bool {
	switch event.Kind {
	case KindKey:
		return p.captureKeys
	case KindWindowFocus:
		if len(p.allowApps) == 0 {
			return true
		}
		app := strings.ToLower(strings.TrimSpace(event.AppID))
		if app == "" {
			return !p.dropUnknown
		}
		_, ok := p.allowApps[app]
		return ok
	default:
		return true
	}
}
