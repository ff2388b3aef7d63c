package api

import (
	"bytes"
)

// Decoder incrementally splits a generation event stream into events.
// The wire format is a sequence of events delimited by a blank line, each
// carrying an "event: <type>" line and a "data: <json>" line.
//
// Feed may be called with arbitrary byte slices: event boundaries split
// across read boundaries are reassembled exactly, because the last
// incomplete line is retained in the buffer rather than discarded.
type Decoder struct {
	buf     []byte
	evType  EventType
	evData  []byte
	hasData bool
}

// NewDecoder creates an empty stream decoder
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends raw bytes and returns every event completed by them.
func (d *Decoder) Feed(p []byte) []Event {
	d.buf = append(d.buf, p...)

	var events []Event
	for {
		idx := bytes.IndexByte(d.buf, '\n')
		if idx < 0 {
			// Incomplete line: keep it for the next read
			break
		}
		line := d.buf[:idx]
		d.buf = d.buf[idx+1:]

		line = bytes.TrimSuffix(line, []byte("\r"))
		if len(line) == 0 {
			if ev, ok := d.flush(); ok {
				events = append(events, ev)
			}
			continue
		}
		d.field(line)
	}
	return events
}

// field records one "name: value" line of the current event. Unknown
// field names are ignored.
func (d *Decoder) field(line []byte) {
	name, value, found := bytes.Cut(line, []byte(":"))
	if !found {
		return
	}
	value = bytes.TrimPrefix(value, []byte(" "))

	switch string(name) {
	case "event":
		d.evType = EventType(value)
	case "data":
		d.evData = append([]byte(nil), value...)
		d.hasData = true
	}
}

// flush completes the current event, if any fields were accumulated.
func (d *Decoder) flush() (Event, bool) {
	if d.evType == "" && !d.hasData {
		return Event{}, false
	}
	ev := Event{Type: d.evType, Data: d.evData}
	d.evType = ""
	d.evData = nil
	d.hasData = false
	if ev.Type == "" {
		// Data with no event type is unrecognizable; drop it
		return Event{}, false
	}
	return ev, true
}
