package events

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// EventSource emits input events that should be recorded by the tap.
type EventSource interface {
	Stream(ctx context.Context, emit func(Event) error) error
}

// EventSourceFunc adapts a function literal to the EventSource interface.
type EventSourceFunc func(ctx context.Context, emit func(Event) error) error

// Stream calls the underlying function.
func (f EventSourceFunc) Stream(ctx context.Context, emit func(Event) error) error {
	return f(ctx, emit)
}

// Appender receives events that passed the tap's filters. *Log satisfies it.
type Appender interface {
	Append(Event) error
}

// Options controls tap behaviour.
type Options struct {
	Source   EventSource
	Privacy  PrivacyPolicy
	Redactor Redactor
	// Paused, when set, is consulted per event; events arriving while it returns true are dropped.
	Paused func() bool
	Logger *slog.Logger
}

// Tap streams an EventSource into an Appender, applying privacy and redaction.
type Tap struct {
	source   EventSource
	privacy  PrivacyPolicy
	redactor Redactor
	paused   func() bool
	logger   *slog.Logger
}

// Result summarises one tap run.
type Result struct {
	EventCount    int
	FilteredCount int
	PausedCount   int
	FirstT        uint64
	LastT         uint64
}

// NewTap validates options and constructs a tap instance.
func NewTap(opts Options) (*Tap, error) {
	if opts.Source == nil {
		return nil, errors.New("event source must not be nil")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	paused := opts.Paused
	if paused == nil {
		paused = func() bool { return false }
	}
	return &Tap{
		source:   opts.Source,
		privacy:  opts.Privacy,
		redactor: opts.Redactor,
		paused:   paused,
		logger:   logger,
	}, nil
}

// Run forwards events until the source finishes or ctx is cancelled. Cancellation is the
// normal way to stop a live capture and is not reported as an error.
func (t *Tap) Run(ctx context.Context, sink Appender) (Result, error) {
	if sink == nil {
		return Result{}, errors.New("sink must not be nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var res Result
	streamErr := t.source.Stream(ctx, func(event Event) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if t.paused() {
			res.PausedCount++
			return nil
		}
		if !t.privacy.Allows(event) {
			res.FilteredCount++
			return nil
		}
		if err := sink.Append(t.redactor.ApplyEvent(event)); err != nil {
			return fmt.Errorf("append event: %w", err)
		}
		if res.EventCount == 0 {
			res.FirstT = event.T
		}
		res.EventCount++
		res.LastT = event.T
		return nil
	})

	t.logger.Debug("event tap finished",
		slog.Int("events", res.EventCount),
		slog.Int("filtered", res.FilteredCount),
		slog.Int("paused", res.PausedCount),
	)

	if streamErr != nil {
		if errors.Is(streamErr, context.Canceled) || errors.Is(streamErr, context.DeadlineExceeded) {
			return res, nil
		}
		return res, fmt.Errorf("stream events: %w", streamErr)
	}
	return res, nil
}
