// Package stream consumes incremental generation results from the
// Generation Service, surfacing partial text and progress in real time
// and degrading to the synchronous call when the stream fails before
// yielding a final result.
package stream

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"

	"github.com/quillforge/quillforge/internal/api"
	"github.com/quillforge/quillforge/internal/metrics"
)

// Client manages at most one active streaming session. Starting a new
// stream or resetting aborts the previous one; an aborted session's
// goroutine only ever writes into the session it owns, so a slow
// abandoned request cannot contaminate its successor.
type Client struct {
	api          *api.Client
	logger       *slog.Logger
	collector    *metrics.Collector
	useStreaming bool

	mu     sync.Mutex
	active *Session
}

// NewClient creates a stream client over the service adapter. When
// useStreaming is false every Start degrades immediately to the
// synchronous surface.
func NewClient(apiClient *api.Client, useStreaming bool, collector *metrics.Collector, logger *slog.Logger) *Client {
	return &Client{
		api:          apiClient,
		logger:       logger,
		collector:    collector,
		useStreaming: useStreaming,
	}
}

// Generate passes a one-shot call straight to the synchronous surface,
// for operations that do not warrant a stream.
func (c *Client) Generate(ctx context.Context, req api.GenerateRequest) (json.RawMessage, error) {
	return c.api.Generate(ctx, req)
}

// Active returns the current session, or nil
func (c *Client) Active() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Start opens a new streaming generation call, superseding any in-flight
// session. The returned session terminates with either a final result or
// an error message; consume it via Wait/Done and the getters.
func (c *Client) Start(ctx context.Context, req api.GenerateRequest) *Session {
	ctx, cancel := context.WithCancel(ctx)
	s := newSession(req.Action, cancel)

	c.mu.Lock()
	prev := c.active
	c.active = s
	c.mu.Unlock()

	if prev != nil {
		prev.abort()
	}

	go c.run(ctx, s, req)
	return s
}

// Reset aborts any in-flight session and detaches it. Safe to call with
// no active session and after natural completion.
func (c *Client) Reset() {
	c.mu.Lock()
	prev := c.active
	c.active = nil
	c.mu.Unlock()

	if prev != nil {
		prev.abort()
	}
}

func (c *Client) run(ctx context.Context, s *Session, req api.GenerateRequest) {
	defer close(s.done)

	logger := c.logger.With("session_id", s.id, "action", req.Action)

	if c.useStreaming {
		c.consumeStream(ctx, logger, s, req)
	} else {
		s.recordError("streaming disabled")
	}

	c.maybeFallback(ctx, logger, s, req)
}

// consumeStream drives one streaming call to its end, dispatching events
// into the owning session.
func (c *Client) consumeStream(ctx context.Context, logger *slog.Logger, s *Session, req api.GenerateRequest) {
	st, err := c.api.OpenStream(ctx, req)
	if err != nil {
		if ctx.Err() == nil {
			logger.Warn("Failed to open stream", "error", err)
			s.recordError(err.Error())
		}
		return
	}
	defer st.Close()

	s.mu.Lock()
	if s.aborted {
		s.mu.Unlock()
		return
	}
	s.status = StatusStreaming
	s.mu.Unlock()

	terminal := false
	for {
		ev, err := st.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			if ctx.Err() == nil && s.recordError(err.Error()) {
				logger.Warn("Stream read failed", "error", err)
			}
			return
		}
		if c.dispatch(logger, s, ev) {
			terminal = true
		}
	}

	// A close with no terminal event is a failure, not a completion
	if !terminal && ctx.Err() == nil {
		if s.recordError("stream ended without completion") {
			logger.Warn("Stream closed before terminal event")
		}
	}
}

// dispatch applies one event to the session. Malformed payloads are
// dropped: a corrupt progress update must not fail the whole generation.
// Returns true for a terminal event.
func (c *Client) dispatch(logger *slog.Logger, s *Session, ev api.Event) bool {
	c.collector.RecordStreamEvent(string(ev.Type))

	s.mu.Lock()
	if s.aborted {
		s.mu.Unlock()
		return false
	}
	s.mu.Unlock()

	switch ev.Type {
	case api.EventProgress:
		var p api.ProgressPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			logger.Warn("Dropping malformed progress event", "error", err)
			return false
		}
		s.mu.Lock()
		s.progress = &p
		s.mu.Unlock()

	case api.EventContentChunk:
		var p api.ChunkPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			logger.Warn("Dropping malformed chunk event", "error", err)
			return false
		}
		s.mu.Lock()
		s.accumulated.WriteString(p.Text)
		s.mu.Unlock()

	case api.EventComplete:
		var p api.CompletePayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			logger.Warn("Dropping malformed complete event", "error", err)
			return false
		}
		result, err := api.NormalizeResult(p.Result)
		if err != nil {
			logger.Warn("Dropping complete event with bad result", "error", err)
			return false
		}
		s.mu.Lock()
		s.finalResult = result
		s.status = StatusComplete
		s.progress = nil
		s.mu.Unlock()
		return true

	case api.EventError:
		var p api.ErrorPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			logger.Warn("Dropping malformed error event", "error", err)
			return false
		}
		if !s.recordError(p.Error) {
			logger.Debug("Dropping repeated error event")
		}
		return true

	default:
		logger.Debug("Ignoring unknown event type", "type", ev.Type)
	}
	return false
}

// maybeFallback issues the one-shot synchronous call when the stream
// failed before producing a final result. It never runs concurrently
// with an open stream (the stream is fully consumed by now), never runs
// twice for one session, and is skipped entirely when the session was
// aborted rather than failed.
func (c *Client) maybeFallback(ctx context.Context, logger *slog.Logger, s *Session, req api.GenerateRequest) {
	s.mu.Lock()
	needed := s.errorSeen && s.finalResult == nil && !s.fallbackAttempted && !s.aborted
	if needed {
		s.fallbackAttempted = true
	}
	s.mu.Unlock()

	if !needed || ctx.Err() != nil {
		return
	}

	logger.Info("Stream failed, falling back to synchronous call")

	result, err := c.api.Generate(ctx, req)
	if err != nil {
		c.collector.RecordFallback(false)
		logger.Error("Fallback call failed", "error", err)
		s.mu.Lock()
		s.errMsg = err.Error()
		s.status = StatusError
		s.mu.Unlock()
		return
	}

	c.collector.RecordFallback(true)
	s.mu.Lock()
	s.finalResult = result
	s.status = StatusComplete
	s.errMsg = ""
	s.progress = nil
	s.mu.Unlock()
}
