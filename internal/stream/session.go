package stream

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/quillforge/quillforge/internal/api"
)

// Status is the lifecycle state of one streaming generation call
type Status string

const (
	StatusIdle       Status = "idle"
	StatusConnecting Status = "connecting"
	StatusStreaming  Status = "streaming"
	StatusComplete   Status = "complete"
	StatusError      Status = "error"
)

// Session holds the observable state of one in-flight generation call:
// last-seen progress, monotonically growing text, and the final result.
// It is created on stream start and superseded (never reused) by the
// next start or an explicit reset.
type Session struct {
	id     string
	action api.Action

	mu          sync.Mutex
	status      Status
	progress    *api.ProgressPayload
	accumulated strings.Builder
	finalResult json.RawMessage
	errMsg      string

	// errorSeen latches the first error event; repeated error events on
	// the same session are dropped so the fallback runs at most once.
	errorSeen         bool
	fallbackAttempted bool
	aborted           bool

	cancel context.CancelFunc
	done   chan struct{}
}

func newSession(action api.Action, cancel context.CancelFunc) *Session {
	return &Session{
		id:     uuid.New().String(),
		action: action,
		status: StatusConnecting,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// ID identifies this session; late events from a superseded stream are
// discarded by comparing session identity, not a shared flag.
func (s *Session) ID() string { return s.id }

// Action returns the logical operation this session is running
func (s *Session) Action() api.Action { return s.action }

// Status returns the current lifecycle state
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Progress returns the last-seen progress update, or nil
func (s *Session) Progress() *api.ProgressPayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.progress == nil {
		return nil
	}
	p := *s.progress
	return &p
}

// AccumulatedText returns the text assembled from chunk events so far.
// It only ever grows while the session is live.
func (s *Session) AccumulatedText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accumulated.String()
}

// FinalResult returns the normalized result, nil until completion
func (s *Session) FinalResult() json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalResult
}

// ErrMessage returns the surfaced error message, empty unless the
// session ended in error
func (s *Session) ErrMessage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errMsg
}

// Done is closed when the session reaches a terminal state or is aborted
func (s *Session) Done() <-chan struct{} { return s.done }

// Wait blocks until the session terminates or the context is cancelled
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return nil
	}
}

// abort cancels the underlying network operation and marks the session
// so its goroutine discards late events and skips the fallback. Safe to
// call multiple times and after natural completion.
func (s *Session) abort() {
	s.mu.Lock()
	s.aborted = true
	s.mu.Unlock()
	s.cancel()
}

// recordError applies the one-shot error latch. Returns false if an
// error was already latched (the event is dropped).
func (s *Session) recordError(msg string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errorSeen {
		return false
	}
	s.errorSeen = true
	s.errMsg = msg
	s.status = StatusError
	return true
}
