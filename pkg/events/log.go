package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
)

// Log is the single writer for an events.jsonl file. Every appended record is also kept
// in memory so tailing readers can follow the capture without polling the file.
type Log struct {
	mu     sync.Mutex
	file   *os.File
	buf    bytes.Buffer
	enc    *json.Encoder
	header Header
	store  []Event
	notify chan struct{}
	closed bool
}

// Create opens path for appending and writes the header line. Existing files are never
// truncated.
func Create(path string, header Header) (*Log, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create event log: %w", err)
	}
	l := &Log{file: file, header: header, notify: make(chan struct{})}
	l.enc = json.NewEncoder(&l.buf)
	l.enc.SetEscapeHTML(false)
	if err := l.writeRecord(header); err != nil {
		file.Close()
		return nil, fmt.Errorf("write event log header: %w", err)
	}
	return l, nil
}

// Header returns the header written at creation.
func (l *Log) Header() Header {
	return l.header
}

// Append writes and fsyncs one event before returning.
func (l *Log) Append(ev Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	if err := l.writeRecord(ev); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	l.store = append(l.store, ev)
	close(l.notify)
	l.notify = make(chan struct{})
	return nil
}

func (l *Log) writeRecord(v any) error {
	l.buf.Reset()
	if err := l.enc.Encode(v); err != nil {
		return err
	}
	if _, err := l.file.Write(l.buf.Bytes()); err != nil {
		return err
	}
	return l.file.Sync()
}

// Len reports how many events have been appended.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.store)
}

// Events returns a copy of everything appended so far.
func (l *Log) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.store))
	copy(out, l.store)
	return out
}

// Close wakes every tail and closes the file. Further appends fail with ErrClosed.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	close(l.notify)
	return l.file.Close()
}

// Tail follows the log from index from onwards.
func (l *Log) Tail(from int) *Tail {
	if from < 0 {
		from = 0
	}
	return &Tail{log: l, pos: from}
}

// Tail is a blocking iterator over a live Log.
type Tail struct {
	log *Log
	pos int
}

// Next returns every event appended since the previous call, stably sorted by T. It blocks
// until new events arrive and returns io.EOF once the log is closed and fully drained.
func (t *Tail) Next(ctx context.Context) ([]Event, error) {
	for {
		l := t.log
		l.mu.Lock()
		if t.pos < len(l.store) {
			batch := make([]Event, len(l.store)-t.pos)
			copy(batch, l.store[t.pos:])
			t.pos = len(l.store)
			l.mu.Unlock()
			sort.SliceStable(batch, func(i, j int) bool { return batch[i].T < batch[j].T })
			return batch, nil
		}
		if l.closed {
			l.mu.Unlock()
			return nil, io.EOF
		}
		wait := l.notify
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wait:
		}
	}
}

// Position is the index of the next event Next will return.
func (t *Tail) Position() int {
	return t.pos
}
