package api

import (
	"testing"
)

func TestDecoderSingleEvent(t *testing.T) {
	d := NewDecoder()
	events := d.Feed([]byte("event: content_chunk\ndata: {\"text\":\"hello\"}\n\n"))
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	if events[0].Type != EventContentChunk {
		t.Errorf("Type = %s, want %s", events[0].Type, EventContentChunk)
	}
	if string(events[0].Data) != `{"text":"hello"}` {
		t.Errorf("Data = %s", events[0].Data)
	}
}

func TestDecoderSplitAcrossReads(t *testing.T) {
	d := NewDecoder()

	// The payload line is cut mid-JSON by the read boundary
	events := d.Feed([]byte("event: content_chunk\ndata: {\"te"))
	if len(events) != 0 {
		t.Fatalf("Incomplete event should yield nothing, got %d events", len(events))
	}

	events = d.Feed([]byte("xt\":\"llo\"}\n\n"))
	if len(events) != 1 {
		t.Fatalf("Expected 1 event after completion, got %d", len(events))
	}
	if string(events[0].Data) != `{"text":"llo"}` {
		t.Errorf("Reassembled data = %s, want %s", events[0].Data, `{"text":"llo"}`)
	}
}

func TestDecoderMultipleEventsOneRead(t *testing.T) {
	d := NewDecoder()
	raw := "event: progress\ndata: {\"percent\":10}\n\n" +
		"event: content_chunk\ndata: {\"text\":\"a\"}\n\n" +
		"event: complete\ndata: {\"result\":{}}\n\n"
	events := d.Feed([]byte(raw))
	if len(events) != 3 {
		t.Fatalf("Expected 3 events, got %d", len(events))
	}
	want := []EventType{EventProgress, EventContentChunk, EventComplete}
	for i, ev := range events {
		if ev.Type != want[i] {
			t.Errorf("Event %d type = %s, want %s", i, ev.Type, want[i])
		}
	}
}

func TestDecoderCRLF(t *testing.T) {
	d := NewDecoder()
	events := d.Feed([]byte("event: progress\r\ndata: {\"percent\":50}\r\n\r\n"))
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	if string(events[0].Data) != `{"percent":50}` {
		t.Errorf("Data = %s", events[0].Data)
	}
}

func TestDecoderDataWithoutType(t *testing.T) {
	d := NewDecoder()
	events := d.Feed([]byte("data: {\"orphan\":true}\n\n"))
	if len(events) != 0 {
		t.Errorf("Data without an event type should be dropped, got %d events", len(events))
	}

	// The decoder recovers for the next well-formed event
	events = d.Feed([]byte("event: progress\ndata: {}\n\n"))
	if len(events) != 1 {
		t.Errorf("Expected 1 event after recovery, got %d", len(events))
	}
}

func TestDecoderIgnoresUnknownFields(t *testing.T) {
	d := NewDecoder()
	events := d.Feed([]byte("id: 42\nevent: progress\nretry: 1000\ndata: {\"percent\":5}\n\n"))
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	if string(events[0].Data) != `{"percent":5}` {
		t.Errorf("Data = %s", events[0].Data)
	}
}

func TestDecoderByteAtATime(t *testing.T) {
	d := NewDecoder()
	raw := "event: content_chunk\ndata: {\"text\":\"drip\"}\n\n"

	var events []Event
	for i := 0; i < len(raw); i++ {
		events = append(events, d.Feed([]byte{raw[i]})...)
	}
	if len(events) != 1 {
		t.Fatalf("Expected 1 event from byte-at-a-time feed, got %d", len(events))
	}
	if string(events[0].Data) != `{"text":"drip"}` {
		t.Errorf("Data = %s", events[0].Data)
	}
}

func TestNormalizeResult(t *testing.T) {
	got, err := NormalizeResult([]byte(`[{"title":"only"},{"title":"second"}]`))
	if err != nil {
		t.Fatalf("NormalizeResult: %v", err)
	}
	if string(got) != `{"title":"only"}` {
		t.Errorf("NormalizeResult list = %s, want first element", got)
	}

	got, err = NormalizeResult([]byte(`  {"title":"obj"}`))
	if err != nil {
		t.Fatalf("NormalizeResult: %v", err)
	}
	if string(got) != `{"title":"obj"}` {
		t.Errorf("NormalizeResult object = %s", got)
	}

	if _, err := NormalizeResult([]byte(`[]`)); err == nil {
		t.Error("NormalizeResult should fail on an empty list")
	}
}
