package media

import (
	"errors"
	"fmt"
	"strings"
)

// ErrBinaryMissing indicates a required ffmpeg toolchain binary could not be resolved.
var ErrBinaryMissing = errors.New("media binary not found on PATH")

type binaryError struct {
	binary string
	err    error
}

func (e *binaryError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s not found on PATH: %v", e.binary, e.err)
	}
	return e.binary + " not found on PATH"
}

func (e *binaryError) Is(target error) bool {
	return target == ErrBinaryMissing
}

func (e *binaryError) Unwrap() error {
	return e.err
}

func newBinaryError(binary string, err error) error {
	trimmed := strings.TrimSpace(binary)
	if trimmed == "" {
		trimmed = "binary"
	}
	return &binaryError{binary: trimmed, err: err}
}

// ExitError carries the tail of stderr from a failed tool invocation.
type ExitError struct {
	Binary string
	Stderr string
	Err    error
}

func (e *ExitError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("%s: %v", e.Binary, e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", e.Binary, e.Err, msg)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}
