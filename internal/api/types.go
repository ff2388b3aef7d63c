package api

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Action identifies a logical Generation Service operation
type Action string

const (
	ActionGenerateAngles    Action = "generate_angles"
	ActionRefineIngredients Action = "refine_ingredients"
	ActionGenerateOutline   Action = "generate_outline"
	ActionWriteContent      Action = "write_content"
)

// GenerateRequest is the request body shared by the synchronous and
// streaming surfaces of the Generation Service
type GenerateRequest struct {
	Action  Action          `json:"action"`
	Payload json.RawMessage `json:"payload"`
}

// GenerateResponse is the synchronous response envelope
type GenerateResponse struct {
	Result json.RawMessage `json:"result"`
}

// EventType identifies a streaming event
type EventType string

const (
	EventProgress     EventType = "progress"
	EventContentChunk EventType = "content_chunk"
	EventComplete     EventType = "complete"
	EventError        EventType = "error"
)

// Event is one decoded stream event. Data is the raw body of the data
// line; payload parsing is left to the consumer so a corrupt payload can
// be dropped without aborting the stream.
type Event struct {
	Type EventType
	Data []byte
}

// ProgressPayload is the body of a progress event
type ProgressPayload struct {
	Phase   string  `json:"phase"`
	Message string  `json:"message"`
	Percent float64 `json:"percent"`
}

// ChunkPayload is the body of a content_chunk event
type ChunkPayload struct {
	Text string `json:"text"`
}

// CompletePayload is the body of a complete event
type CompletePayload struct {
	Result json.RawMessage `json:"result"`
}

// ErrorPayload is the body of an error event
type ErrorPayload struct {
	Error string `json:"error"`
}

// ErrorResponse represents a service error response body
type ErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// APIError represents an error returned by the Generation Service
type APIError struct {
	Message    string
	StatusCode int
	Type       string
	Code       string
	Retryable  bool
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("service error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("service error: %s", e.Message)
}

// NormalizeResult collapses the service's "object or single-element list"
// result shape into the object itself. The ambiguity never leaks past
// this adapter.
func NormalizeResult(raw json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty result")
	}
	if trimmed[0] != '[' {
		return trimmed, nil
	}
	var list []json.RawMessage
	if err := json.Unmarshal(trimmed, &list); err != nil {
		return nil, fmt.Errorf("failed to parse result list: %w", err)
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("empty result list")
	}
	return list[0], nil
}
