package events

import (
	"regexp"
	"strings"
)

const redactedMarker = "[REDACTED]"

// namedPatterns lets configuration refer to common secrets by name.
var namedPatterns = map[string]string{
	"email": `(?i)[a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,}`,
	"cc16":  `\b(?:\d[ -]?){16}\b`,
	"jwt":   `eyJ[A-Za-z0-9_-]*\.[A-Za-z0-9._-]+\.[A-Za-z0-9._-]+`,
	"token": `(?i)(?:token|secret|password)=\S+`,
}

// Redactor masks sensitive text in window titles before they are logged.
//
// The zero value is a no-op redactor.
type Redactor struct {
	patterns []*regexp.Regexp
}

// NewRedactor compiles the given expressions. Entries matching a key in the named pattern
// table ("email", "cc16", "jwt", "token") expand to the built-in expression.
func NewRedactor(redactEmails bool, custom []string) (Redactor, error) {
	exprs := make([]string, 0, len(custom)+1)
	if redactEmails {
		exprs = append(exprs, namedPatterns["email"])
	}
	for _, expr := range custom {
		trimmed := strings.TrimSpace(expr)
		if trimmed == "" {
			continue
		}
		if mapped, ok := namedPatterns[strings.ToLower(trimmed)]; ok {
			trimmed = mapped
		}
		exprs = append(exprs, trimmed)
	}

	patterns := make([]*regexp.Regexp, 0, len(exprs))
	for _, expr := range exprs {
		rx, err := regexp.Compile(expr)
		if err != nil {
			return Redactor{}, err
		}
		patterns = append(patterns, rx)
	}
	return Redactor{patterns: patterns}, nil
}

// ApplyString redacts sensitive content from a string.
func (r Redactor) ApplyString(input string) string {
	redacted := input
	for _, rx := range r.patterns {
		redacted = rx.ReplaceAllString(redacted, redactedMarker)
	}
	return redacted
}

// ApplyEvent returns a copy of ev with free-text fields redacted.
func (r Redactor) ApplyEvent(ev Event) Event {
	if ev.Kind == KindWindowFocus && len(r.patterns) > 0 {
		ev.WindowTitle = r.ApplyString(ev.WindowTitle)
	}
	return ev
}
