package events

import "errors"

// ErrClosed is returned when appending to a log that has been closed.
var ErrClosed = errors.New("event log closed")
