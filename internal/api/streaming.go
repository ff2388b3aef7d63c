package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Stream is one open streaming generation call. Events are pulled with
// Recv until io.EOF; Close aborts the underlying request and is safe to
// call multiple times and after natural completion.
type Stream struct {
	body    io.ReadCloser
	dec     *Decoder
	pending []Event
	cancel  context.CancelFunc
	closed  bool
	readBuf []byte
}

// OpenStream starts a streaming generation call. The returned Stream must
// be closed by the caller. Connection failures and non-200 responses are
// returned as errors here so the caller can fall back to Generate.
func (c *Client) OpenStream(ctx context.Context, req GenerateRequest) (*Stream, error) {
	if err := c.limiters.Wait(ctx, c.cfg.BaseURL, c.cfg.RateLimitPerMinute); err != nil {
		return nil, fmt.Errorf("rate limiter wait failed: %w", err)
	}

	// The stream lives past this call, so the timeout context must too.
	// Recv/Close own the cancel func from here on.
	timeout := time.Duration(c.cfg.StreamTimeoutSeconds) * time.Second
	if timeout == 0 {
		timeout = 10 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)

	buf := getBuffer()
	defer putBuffer(buf)

	if err := json.NewEncoder(buf).Encode(req); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.endpoint("generate/stream"), bytes.NewReader(buf.Bytes()))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq, "text/event-stream")

	// The client-wide timeout would kill a healthy long stream; rely on
	// the per-stream context instead.
	streamClient := &http.Client{Transport: c.httpClient.Transport}

	httpResp, err := streamClient.Do(httpReq)
	if err != nil {
		cancel()
		return nil, &APIError{
			Message:    fmt.Sprintf("stream request failed: %v", err),
			StatusCode: 0,
			Retryable:  true,
		}
	}

	if httpResp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(httpResp.Body)
		httpResp.Body.Close()
		cancel()
		return nil, c.statusError(httpResp.StatusCode, bodyBytes)
	}

	c.logger.Debug("Stream opened", "action", req.Action)

	return &Stream{
		body:    httpResp.Body,
		dec:     NewDecoder(),
		cancel:  cancel,
		readBuf: make([]byte, 4096),
	}, nil
}

// Recv returns the next event. io.EOF signals the end of the stream;
// whether the stream ended cleanly is for the consumer to judge by the
// terminal event it saw (or did not see).
func (s *Stream) Recv() (Event, error) {
	for {
		if len(s.pending) > 0 {
			ev := s.pending[0]
			s.pending = s.pending[1:]
			return ev, nil
		}
		if s.closed {
			return Event{}, io.EOF
		}

		n, err := s.body.Read(s.readBuf)
		if n > 0 {
			s.pending = s.dec.Feed(s.readBuf[:n])
		}
		if err != nil {
			s.closed = true
			s.body.Close()
			s.cancel()
			if err != io.EOF && len(s.pending) == 0 {
				return Event{}, err
			}
		}
	}
}

// Close aborts the stream. Safe to call multiple times.
func (s *Stream) Close() error {
	s.cancel()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.body.Close()
}
