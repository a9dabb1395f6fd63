package events

import (
	"encoding/json"
	"fmt"
)

// Kind tags an Event's payload.
type Kind string

const (
	KindPointer     Kind = "pointer"
	KindClick       Kind = "click"
	KindScroll      Kind = "scroll"
	KindKey         Kind = "key"
	KindWindowFocus Kind = "window_focus"
)

// Button identifies a mouse button.
type Button string

const (
	ButtonLeft    Button = "left"
	ButtonRight   Button = "right"
	ButtonMiddle  Button = "middle"
	ButtonBack    Button = "back"
	ButtonForward Button = "forward"
)

// State is the press/release state of a button or key.
type State string

const (
	StateDown State = "down"
	StateUp   State = "up"
)

// Event is one recorded input sample. T is monotonic nanoseconds since session start.
// Only the fields relevant to Kind are meaningful; coordinates are normalized to [0,1].
type Event struct {
	T    uint64
	Kind Kind

	X, Y   float64
	DX, DY float64
	Button Button
	State  State

	Code        string
	WindowTitle string
	AppID       string
}

// Pointer builds a pointer move sample.
func Pointer(t uint64, x, y float64) Event {
	return Event{T: t, Kind: KindPointer, X: x, Y: y}
}

// Click builds a button press or release.
func Click(t uint64, button Button, state State, x, y float64) Event {
	return Event{T: t, Kind: KindClick, Button: button, State: state, X: x, Y: y}
}

// Scroll builds a wheel event at the pointer position.
func Scroll(t uint64, dx, dy, x, y float64) Event {
	return Event{T: t, Kind: KindScroll, DX: dx, DY: dy, X: x, Y: y}
}

// Key builds a keyboard event.
func Key(t uint64, code string, state State) Event {
	return Event{T: t, Kind: KindKey, Code: code, State: state}
}

// WindowFocus records a focus change. appID may be empty.
func WindowFocus(t uint64, title, appID string) Event {
	return Event{T: t, Kind: KindWindowFocus, WindowTitle: title, AppID: appID}
}

// Seconds converts T to seconds.
func (e Event) Seconds() float64 {
	return float64(e.T) / 1e9
}

// Position returns the pointer location for pointer, click and scroll events.
func (e Event) Position() (float64, float64, bool) {
	switch e.Kind {
	case KindPointer, KindClick, KindScroll:
		return e.X, e.Y, true
	}
	return 0, 0, false
}

// wireEvent is the flattened JSON shape; pointers keep zero coordinates on the wire.
type wireEvent struct {
	T           uint64   `json:"t"`
	Type        Kind     `json:"type"`
	Button      Button   `json:"button,omitempty"`
	State       State    `json:"state,omitempty"`
	Code        *string  `json:"code,omitempty"`
	DX          *float64 `json:"dx,omitempty"`
	DY          *float64 `json:"dy,omitempty"`
	X           *float64 `json:"x,omitempty"`
	Y           *float64 `json:"y,omitempty"`
	WindowTitle *string  `json:"window_title,omitempty"`
	AppID       *string  `json:"app_id,omitempty"`
}

// MarshalJSON writes only the fields that belong to the event type.
func (e Event) MarshalJSON() ([]byte, error) {
	w := wireEvent{T: e.T, Type: e.Kind}
	switch e.Kind {
	case KindPointer:
		w.X, w.Y = &e.X, &e.Y
	case KindClick:
		w.Button, w.State = e.Button, e.State
		w.X, w.Y = &e.X, &e.Y
	case KindScroll:
		w.DX, w.DY = &e.DX, &e.DY
		w.X, w.Y = &e.X, &e.Y
	case KindKey:
		w.Code, w.State = &e.Code, e.State
	case KindWindowFocus:
		w.WindowTitle = &e.WindowTitle
		if e.AppID != "" {
			w.AppID = &e.AppID
		}
	default:
		return nil, fmt.Errorf("unknown event type %q", e.Kind)
	}
	return json.Marshal(w)
}

// UnmarshalJSON rejects records missing the fields their type requires.
func (e *Event) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	out := Event{T: w.T, Kind: w.Type, Button: w.Button, State: w.State}
	needXY := func() error {
		if w.X == nil || w.Y == nil {
			return fmt.Errorf("%s event at t=%d missing x/y", w.Type, w.T)
		}
		out.X, out.Y = *w.X, *w.Y
		return nil
	}
	switch w.Type {
	case KindPointer:
		if err := needXY(); err != nil {
			return err
		}
	case KindClick:
		if err := needXY(); err != nil {
			return err
		}
		if !validButton(w.Button) || !validState(w.State) {
			return fmt.Errorf("click event at t=%d has button=%q state=%q", w.T, w.Button, w.State)
		}
	case KindScroll:
		if err := needXY(); err != nil {
			return err
		}
		if w.DX != nil {
			out.DX = *w.DX
		}
		if w.DY != nil {
			out.DY = *w.DY
		}
	case KindKey:
		if w.Code == nil || !validState(w.State) {
			return fmt.Errorf("key event at t=%d missing code or state", w.T)
		}
		out.Code = *w.Code
	case KindWindowFocus:
		if w.WindowTitle == nil {
			return fmt.Errorf("window_focus event at t=%d missing window_title", w.T)
		}
		out.WindowTitle = *w.WindowTitle
		if w.AppID != nil {
			out.AppID = *w.AppID
		}
	default:
		return fmt.Errorf("unknown event type %q", w.Type)
	}
	*e = out
	return nil
}

func validButton(b Button) bool {
	switch b {
	case ButtonLeft, ButtonRight, ButtonMiddle, ButtonBack, ButtonForward:
		return true
	}
	return false
}

func validState(s State) bool {
	return s == StateDown || s == StateUp
}
