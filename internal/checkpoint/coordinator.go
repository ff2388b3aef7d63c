// Package checkpoint mirrors pipeline progress into the durable session
// record. Persistence is best-effort relative to the interactive
// workflow: a failed write is logged, never retried in place, and never
// blocks the user from continuing, because every write carries the full
// current slot values and a later checkpoint re-asserts them.
package checkpoint

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/quillforge/quillforge/internal/metrics"
	"github.com/quillforge/quillforge/internal/pipeline"
	"github.com/quillforge/quillforge/pkg/models"
)

// SessionStore is the durable backing for session records.
type SessionStore interface {
	Insert(ctx context.Context, rec *models.SessionRecord) (string, error)
	Update(ctx context.Context, id string, rec *models.SessionRecord) error
	Get(ctx context.Context, id string) (*models.SessionRecord, error)
}

// markers track the last value persisted for each checkpoint-worthy
// transition; a write is only issued when the current value differs.
type markers struct {
	angleCount      int
	selectedAngleID string
	outlineSaved    bool
	writtenSaved    bool
}

// Coordinator deduplicates and serializes checkpoint writes for one
// session at a time. Writes for different sessions (separate
// coordinators) may overlap freely.
type Coordinator struct {
	store     SessionStore
	logger    *slog.Logger
	collector *metrics.Collector

	mu        sync.Mutex
	inFlight  bool
	sessionID string
	last      markers
}

// NewCoordinator creates a checkpoint coordinator.
func NewCoordinator(store SessionStore, collector *metrics.Collector, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		store:     store,
		logger:    logger,
		collector: collector,
	}
}

// BindSession switches the coordinator to an existing session record,
// priming the markers from its persisted values so a freshly restored
// session does not immediately rewrite itself. A nil record unbinds and
// clears all markers.
func (c *Coordinator) BindSession(rec *models.SessionRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rec == nil {
		c.sessionID = ""
		c.last = markers{}
		return
	}
	c.sessionID = rec.ID
	c.last = markers{
		angleCount:   len(rec.Angles),
		outlineSaved: rec.Outline != nil,
		writtenSaved: rec.WrittenContent != nil,
	}
	if rec.SelectedAngle != nil {
		c.last.selectedAngleID = rec.SelectedAngle.ID
	}
}

// SessionID returns the bound durable record id, empty until the first
// successful write.
func (c *Coordinator) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Sync observes the current pipeline state and persists it if any
// checkpoint-worthy transition changed since the last successful write:
// angles generated, angle selected, outline generated, content written.
//
// The first successful write inserts a record and returns its id so the
// caller can capture it on the pipeline state; subsequent writes update
// that record in place. At most one write per session is in flight at a
// time; a Sync arriving while another is running is skipped, not queued.
func (c *Coordinator) Sync(ctx context.Context, snap pipeline.Snapshot) (string, error) {
	c.mu.Lock()
	if !c.dirtyLocked(snap) {
		id := c.sessionID
		c.mu.Unlock()
		return id, nil
	}
	if c.inFlight {
		c.mu.Unlock()
		c.collector.RecordCheckpointWrite("skipped")
		c.logger.Debug("Checkpoint already in flight, skipping")
		return c.SessionID(), nil
	}
	c.inFlight = true
	id := c.sessionID
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.inFlight = false
		c.mu.Unlock()
	}()

	rec := recordFromSnapshot(snap, models.SessionInProgress)

	start := time.Now()
	if id == "" {
		newID, err := c.store.Insert(ctx, rec)
		if err != nil {
			c.collector.RecordCheckpointWrite("error")
			c.logger.Error("Checkpoint insert failed", "error", err)
			return "", err
		}
		id = newID
		c.collector.RecordCheckpointWrite("insert")
	} else {
		if err := c.store.Update(ctx, id, rec); err != nil {
			c.collector.RecordCheckpointWrite("error")
			c.logger.Error("Checkpoint update failed", "session_id", id, "error", err)
			return id, err
		}
		c.collector.RecordCheckpointWrite("update")
	}

	c.mu.Lock()
	c.sessionID = id
	c.last = markersFromSnapshot(snap)
	c.mu.Unlock()

	c.logger.Debug("Checkpoint saved",
		"session_id", id,
		"stage", snap.FurthestStage,
		"duration_ms", time.Since(start).Milliseconds())

	return id, nil
}

// Finalize writes the record unconditionally with the given terminal
// status ("completed" or "abandoned").
func (c *Coordinator) Finalize(ctx context.Context, snap pipeline.Snapshot, status models.SessionStatus) error {
	c.mu.Lock()
	id := c.sessionID
	c.mu.Unlock()

	rec := recordFromSnapshot(snap, status)
	if id == "" {
		newID, err := c.store.Insert(ctx, rec)
		if err != nil {
			c.collector.RecordCheckpointWrite("error")
			return err
		}
		c.mu.Lock()
		c.sessionID = newID
		c.mu.Unlock()
		c.collector.RecordCheckpointWrite("insert")
		return nil
	}
	if err := c.store.Update(ctx, id, rec); err != nil {
		c.collector.RecordCheckpointWrite("error")
		return err
	}
	c.collector.RecordCheckpointWrite("update")
	return nil
}

func (c *Coordinator) dirtyLocked(snap pipeline.Snapshot) bool {
	cur := markersFromSnapshot(snap)
	if len(snap.Angles) > 0 && cur.angleCount != c.last.angleCount {
		return true
	}
	if snap.SelectedAngle != nil && cur.selectedAngleID != c.last.selectedAngleID {
		return true
	}
	if cur.outlineSaved != c.last.outlineSaved {
		return true
	}
	if cur.writtenSaved != c.last.writtenSaved {
		return true
	}
	return false
}

func markersFromSnapshot(snap pipeline.Snapshot) markers {
	m := markers{
		angleCount:   len(snap.Angles),
		outlineSaved: snap.Outline != nil,
		writtenSaved: snap.WrittenContent != nil,
	}
	if snap.SelectedAngle != nil {
		m.selectedAngleID = snap.SelectedAngle.ID
	}
	return m
}

func recordFromSnapshot(snap pipeline.Snapshot, status models.SessionStatus) *models.SessionRecord {
	return &models.SessionRecord{
		Status:           status,
		TrackingID:       snap.TrackingID,
		Source:           snap.Source,
		Angles:           snap.Angles,
		AnglesContext:    snap.AnglesContext,
		SelectedAngle:    snap.SelectedAngle,
		ApprovedContext:  snap.ApprovedContext,
		Outline:          snap.Outline,
		SelectedHook:     snap.SelectedHook,
		SelectedTemplate: snap.SelectedTemplate,
		WrittenContent:   snap.WrittenContent,
	}
}
