package events

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/offlinefirst/screenreel/pkg/faults"
)

// Reader lazily decodes an events.jsonl file. A final line without a trailing newline is
// assumed to still be in flight: it is held back and completed by a later Next once the
// writer finishes it.
type Reader struct {
	path    string
	file    *os.File
	br      *bufio.Reader
	header  Header
	line    int
	pending []byte
	err     error
}

// Open reads the header and positions the reader on the first event.
func Open(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, faults.NewIO("open event log", err)
	}
	r := &Reader{path: path, file: file}
	if err := r.readHeader(); err != nil {
		file.Close()
		return nil, err
	}
	return r, nil
}

func (r *Reader) readHeader() error {
	r.br = bufio.NewReaderSize(r.file, 64*1024)
	r.line = 0
	r.pending = nil
	r.err = nil
	raw, complete, err := r.readLine()
	if err != nil {
		return faults.NewIO("read event log header", err)
	}
	if !complete || len(raw) == 0 {
		return faults.NewSchema(r.path, errors.New("missing header line"))
	}
	// Older writers prefixed the header with "# ".
	raw = bytes.TrimSpace(bytes.TrimPrefix(bytes.TrimSpace(raw), []byte("#")))
	var h Header
	if err := json.Unmarshal(raw, &h); err != nil {
		return faults.NewSchema(r.path, fmt.Errorf("decode header: %w", err))
	}
	r.header = h
	return nil
}

// readLine returns the next line and whether it was newline-terminated. Bytes of an
// unterminated line are kept in pending and prefixed to the next read.
func (r *Reader) readLine() ([]byte, bool, error) {
	raw, err := r.br.ReadBytes('\n')
	if err != nil {
		if errors.Is(err, io.EOF) {
			r.pending = append(r.pending, raw...)
			return nil, false, nil
		}
		return nil, false, err
	}
	if len(r.pending) > 0 {
		raw = append(r.pending, raw...)
		r.pending = nil
	}
	r.line++
	return bytes.TrimRight(raw, "\r\n"), true, nil
}

// Header returns the decoded header record.
func (r *Reader) Header() Header {
	return r.header
}

// Next decodes the following event. It returns false at end of input or on error; check Err.
func (r *Reader) Next() (Event, bool) {
	if r.err != nil {
		return Event{}, false
	}
	for {
		raw, complete, err := r.readLine()
		if err != nil {
			r.err = faults.NewIO("read event log", err)
			return Event{}, false
		}
		if !complete {
			return Event{}, false
		}
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			r.err = faults.NewSchema(r.path, fmt.Errorf("line %d: %w", r.line, err))
			return Event{}, false
		}
		return ev, true
	}
}

// Err reports the first decode or read failure.
func (r *Reader) Err() error {
	return r.err
}

// Reset rewinds to the first event so the sequence can be read again.
func (r *Reader) Reset() error {
	if _, err := r.file.Seek(0, io.SeekStart); err != nil {
		return faults.NewIO("rewind event log", err)
	}
	return r.readHeader()
}

// Close releases the underlying file.
func (r *Reader) Close() error {
	return r.file.Close()
}

// Stream is the fully materialized content of an event log.
type Stream struct {
	Header Header
	Events []Event
	// Resorted is set when the file contained out-of-order timestamps.
	Resorted bool
}

// ReadAll loads an entire log, stably re-sorting events if t ever decreases.
func ReadAll(path string) (Stream, error) {
	r, err := Open(path)
	if err != nil {
		return Stream{}, err
	}
	defer r.Close()

	s := Stream{Header: r.Header()}
	for {
		ev, ok := r.Next()
		if !ok {
			break
		}
		if n := len(s.Events); n > 0 && ev.T < s.Events[n-1].T {
			s.Resorted = true
		}
		s.Events = append(s.Events, ev)
	}
	if err := r.Err(); err != nil {
		return s, err
	}
	if s.Resorted {
		sort.SliceStable(s.Events, func(i, j int) bool { return s.Events[i].T < s.Events[j].T })
	}
	return s, nil
}

// PointerSamples extracts positional events (pointer, click, scroll) in order.
func (s Stream) PointerSamples() []Event {
	out := make([]Event, 0, len(s.Events))
	for _, ev := range s.Events {
		if _, _, ok := ev.Position(); ok {
			out = append(out, ev)
		}
	}
	return out
}

// LastSeconds is the timestamp of the final event in seconds, or 0 when empty.
func (s Stream) LastSeconds() float64 {
	if len(s.Events) == 0 {
		return 0
	}
	return s.Events[len(s.Events)-1].Seconds()
}
