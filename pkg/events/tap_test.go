package events

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type memorySink struct {
	events []Event
	fail   error
}

func (m *memorySink) Append(ev Event) error {
	if m.fail != nil {
		return m.fail
	}
	m.events = append(m.events, ev)
	return nil
}

func TestNewTapValidation(t *testing.T) {
	if _, err := NewTap(Options{}); err == nil {
		t.Fatalf("expected error for nil source")
	}
}

func TestTapAppliesPrivacyAndRedaction(t *testing.T) {
	redactor, err := NewRedactor(true, []string{"token"})
	if err != nil {
		t.Fatalf("new redactor: %v", err)
	}

	source := SyntheticSource{Events: []Event{
		WindowFocus(0, "Inbox - jane@example.com", "mail"),
		Pointer(10, 0.5, 0.5),
		Key(20, "KeyA", StateDown),
		WindowFocus(30, "Roadmap token=abcd1234", "docs"),
		WindowFocus(40, "Chat", "chat"),
	}}
	tap, err := NewTap(Options{
		Source:   source,
		Redactor: redactor,
		Privacy:  NewPrivacyPolicy([]string{"mail", "docs"}, false, true),
	})
	if err != nil {
		t.Fatalf("new tap: %v", err)
	}

	sink := &memorySink{}
	result, err := tap.Run(context.Background(), sink)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if result.EventCount != 3 {
		t.Fatalf("expected 3 events, got %d", result.EventCount)
	}
	if result.FilteredCount != 2 {
		t.Fatalf("expected key and chat focus to be filtered, got %d", result.FilteredCount)
	}
	if result.FirstT != 0 || result.LastT != 30 {
		t.Fatalf("unexpected bounds %d..%d", result.FirstT, result.LastT)
	}
	for _, ev := range sink.events {
		if strings.Contains(ev.WindowTitle, "jane@example.com") {
			t.Fatalf("expected email to be redacted: %q", ev.WindowTitle)
		}
		if strings.Contains(ev.WindowTitle, "abcd1234") {
			t.Fatalf("expected token to be redacted: %q", ev.WindowTitle)
		}
	}
}

func TestTapDropsEventsWhilePaused(t *testing.T) {
	paused := true
	tap, err := NewTap(Options{
		Source: EventSourceFunc(func(ctx context.Context, emit func(Event) error) error {
			if err := emit(Pointer(1, 0.1, 0.1)); err != nil {
				return err
			}
			paused = false
			return emit(Pointer(2, 0.2, 0.2))
		}),
		Paused: func() bool { return paused },
	})
	if err != nil {
		t.Fatalf("new tap: %v", err)
	}

	sink := &memorySink{}
	result, err := tap.Run(context.Background(), sink)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.PausedCount != 1 || len(sink.events) != 1 || sink.events[0].T != 2 {
		t.Fatalf("expected only the unpaused event, got %+v", sink.events)
	}
}

func TestTapStopsCleanlyOnCancellation(t *testing.T) {
	tap, err := NewTap(Options{Source: SyntheticSource{Events: DemoScript(60), Pace: true}})
	if err != nil {
		t.Fatalf("new tap: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	sink := &memorySink{}
	if _, err := tap.Run(ctx, sink); err != nil {
		t.Fatalf("expected cancellation to end the tap without error, got %v", err)
	}
	if len(sink.events) >= len(DemoScript(60)) {
		t.Fatalf("expected paced source to be interrupted")
	}
}

func TestTapPropagatesSinkFailure(t *testing.T) {
	tap, err := NewTap(Options{Source: SyntheticSource{Events: []Event{Pointer(0, 0, 0)}}})
	if err != nil {
		t.Fatalf("new tap: %v", err)
	}
	boom := errors.New("disk full")
	if _, err := tap.Run(context.Background(), &memorySink{fail: boom}); !errors.Is(err, boom) {
		t.Fatalf("expected sink error, got %v", err)
	}
}

func TestRedactorAppliesPatterns(t *testing.T) {
	redactor, err := NewRedactor(true, []string{`secret-\d+`})
	if err != nil {
		t.Fatalf("new redactor: %v", err)
	}

	input := "Email jane@example.com uses secret-123"
	out := redactor.ApplyString(input)
	if strings.Contains(out, "jane@example.com") || strings.Contains(out, "secret-123") {
		t.Fatalf("expected patterns to be redacted: %s", out)
	}

	ev := redactor.ApplyEvent(Key(0, "secret-123", StateDown))
	if ev.Code != "secret-123" {
		t.Fatalf("key codes are not free text and should pass through")
	}
}

func TestPrivacyPolicyZeroValueDropsKeys(t *testing.T) {
	var policy PrivacyPolicy
	if policy.Allows(Key(0, "KeyA", StateDown)) {
		t.Fatalf("expected key events to be dropped by default")
	}
	if !policy.Allows(WindowFocus(0, "x", "")) {
		t.Fatalf("expected focus events to pass without an allow-list")
	}
	if !NewPrivacyPolicy(nil, true, false).Allows(Key(0, "KeyA", StateDown)) {
		t.Fatalf("expected key events when enabled")
	}
}
