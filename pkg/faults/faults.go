package faults

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Code classifies a failure for callers that need to branch on it.
type Code string

const (
	CodeConfiguration Code = "CONFIGURATION" // invalid monitor index, bad region, bad options
	CodeCapture       Code = "CAPTURE"       // pipeline failed to start or stop
	CodeSchema        Code = "SCHEMA"        // malformed project, timeline or event data
	CodeRender        Code = "RENDER"        // invalid viewport, missing track, encoder failure
	CodeIO            Code = "IO"
	CodeSyncWarning   Code = "SYNC_WARNING" // only used on Warning values
)

// Error is a structured failure with a code, human message and optional details.
type Error struct {
	Code    Code
	Message string
	Details map[string]any
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewConfiguration reports invalid user input detected before any capture starts.
func NewConfiguration(msg string, details map[string]any) *Error {
	return &Error{Code: CodeConfiguration, Message: msg, Details: details}
}

// NewCapture reports a pipeline failure for the named stream.
func NewCapture(stream string, err error) *Error {
	return &Error{
		Code:    CodeCapture,
		Message: fmt.Sprintf("%s stream failed", stream),
		Details: map[string]any{"stream": stream},
		Err:     err,
	}
}

// NewSchema reports malformed persisted data at path.
func NewSchema(path string, err error) *Error {
	return &Error{
		Code:    CodeSchema,
		Message: fmt.Sprintf("malformed data in %s", path),
		Details: map[string]any{"path": path},
		Err:     err,
	}
}

// NewRender reports a failure that aborts an export.
func NewRender(msg string, err error) *Error {
	return &Error{Code: CodeRender, Message: msg, Err: err}
}

// NewIO wraps a filesystem failure.
func NewIO(op string, err error) *Error {
	return &Error{Code: CodeIO, Message: op, Err: err}
}

// Is reports whether err (or anything it wraps) is an *Error with the given code.
func Is(err error, code Code) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code == code
	}
	return false
}

// Warning is a non-fatal finding recorded for later consumption.
type Warning struct {
	Code    Code           `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// SyncWarning builds a SYNC_WARNING entry.
func SyncWarning(msg string, details map[string]any) Warning {
	return Warning{Code: CodeSyncWarning, Message: msg, Details: details}
}

// String renders the warning with sorted detail keys for stable logs.
func (w Warning) String() string {
	if len(w.Details) == 0 {
		return w.Message
	}
	keys := make([]string, 0, len(w.Details))
	for k := range w.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, w.Details[k]))
	}
	return w.Message + " (" + strings.Join(parts, " ") + ")"
}
