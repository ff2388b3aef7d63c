package util

import (
	"encoding/json"
	"testing"
)

func TestExtractJSON_CodeFence(t *testing.T) {
	input := "Here are the angles:\n```json\n[{\"title\": \"First\"}]\n```\nEnjoy."
	got := ExtractJSON(input)
	want := `[{"title": "First"}]`
	if got != want {
		t.Errorf("ExtractJSON() = %q, want %q", got, want)
	}
}

func TestExtractJSON_SurroundingProse(t *testing.T) {
	input := `Sure! {"title": "Outline", "summary": "three sections"} hope that helps`
	got := ExtractJSON(input)
	want := `{"title": "Outline", "summary": "three sections"}`
	if got != want {
		t.Errorf("ExtractJSON() = %q, want %q", got, want)
	}
}

func TestExtractJSON_TruncatedArray(t *testing.T) {
	input := `[{"title": "One"}, {"title": "Two"}`
	got := ExtractJSON(input)

	var angles []map[string]string
	if err := json.Unmarshal([]byte(got), &angles); err != nil {
		t.Fatalf("Repaired JSON does not parse: %v\n%s", err, got)
	}
	if len(angles) != 2 {
		t.Errorf("Expected 2 entries after repair, got %d", len(angles))
	}
}

func TestExtractJSON_NestedObject(t *testing.T) {
	input := `The outline: {"title": "x", "meta": {"tone": "warm {informal}"}} done`
	got := ExtractJSON(input)

	var m map[string]any
	if err := json.Unmarshal([]byte(got), &m); err != nil {
		t.Fatalf("Extracted JSON does not parse: %v\n%s", err, got)
	}
	if m["title"] != "x" {
		t.Errorf("Unexpected title: %v", m["title"])
	}
}

func TestSanitizeJSON_NewlinesInStrings(t *testing.T) {
	input := "{\"body\": \"line one\nline two\"}"
	got := SanitizeJSON(input)

	var m map[string]string
	if err := json.Unmarshal([]byte(got), &m); err != nil {
		t.Fatalf("Sanitized JSON does not parse: %v\n%s", err, got)
	}
	if m["body"] != "line one\nline two" {
		t.Errorf("Unexpected body: %q", m["body"])
	}
}

func TestSanitizeJSON_PreservesEscapes(t *testing.T) {
	input := `{"body": "already \"escaped\" fine"}`
	if got := SanitizeJSON(input); got != input {
		t.Errorf("SanitizeJSON changed valid input: %q", got)
	}
}
