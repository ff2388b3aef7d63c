// Package snapshot implements the usage- and time-bounded read-through
// cache fronting expensive aggregate analytics.
//
// A pure TTL cache is too coarse and a pure invalidate-on-write cache is
// too aggressive; entries here carry both an absolute expiry and an
// integer budget of tolerated mutations, and a miss is reported as soon
// as either runs out.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/quillforge/quillforge/internal/metrics"
	"github.com/quillforge/quillforge/pkg/models"
)

// Store is the durable backing for snapshot entries.
type Store interface {
	Get(ctx context.Context, owner, subject, snapshotType string) (*models.SnapshotEntry, error)
	Put(ctx context.Context, entry *models.SnapshotEntry) error
	Delete(ctx context.Context, subject, snapshotType string) error
	DecrementBudget(ctx context.Context, subject, snapshotType string) error
}

// Cache is the budget+TTL snapshot cache.
type Cache struct {
	store     Store
	logger    *slog.Logger
	collector *metrics.Collector
	now       func() time.Time
}

// NewCache creates a snapshot cache over the given store.
func NewCache(store Store, collector *metrics.Collector, logger *slog.Logger) *Cache {
	return &Cache{
		store:     store,
		logger:    logger,
		collector: collector,
		now:       time.Now,
	}
}

// Get returns the cached payload if the entry exists, has not expired,
// and has usage budget remaining. The boolean reports a hit.
func (c *Cache) Get(ctx context.Context, owner, subject, snapshotType string) (json.RawMessage, bool, error) {
	entry, err := c.store.Get(ctx, owner, subject, snapshotType)
	if err != nil {
		return nil, false, err
	}
	if entry == nil {
		c.collector.RecordSnapshotLookup("miss_absent")
		return nil, false, nil
	}

	now := c.now()
	if entry.Valid(now) {
		c.collector.RecordSnapshotLookup("hit")
		return entry.Payload, true, nil
	}
	if !now.Before(entry.ExpiresAt) {
		c.collector.RecordSnapshotLookup("miss_expired")
		c.logger.Debug("Snapshot expired", "subject", subject, "type", snapshotType)
	} else {
		c.collector.RecordSnapshotLookup("miss_budget")
		c.logger.Debug("Snapshot budget exhausted", "subject", subject, "type", snapshotType)
	}
	return nil, false, nil
}

// Put stores a fresh computation, overwriting any previous entry
// wholesale.
func (c *Cache) Put(ctx context.Context, owner, subject, snapshotType string, payload json.RawMessage, actionsPending int, ttl time.Duration) error {
	if actionsPending < 1 {
		return fmt.Errorf("actions budget must be at least 1 (got %d)", actionsPending)
	}
	entry := &models.SnapshotEntry{
		Owner:          owner,
		Subject:        subject,
		SnapshotType:   snapshotType,
		Payload:        payload,
		ActionsPending: actionsPending,
		ExpiresAt:      c.now().Add(ttl),
	}
	return c.store.Put(ctx, entry)
}

// Invalidate hard-deletes the cached computation; used when a mutation
// fully invalidates it.
func (c *Cache) Invalidate(ctx context.Context, subject, snapshotType string) error {
	return c.store.Delete(ctx, subject, snapshotType)
}

// DecrementBudget erodes the entry's usage budget by one mutation; a
// missing entry is a no-op.
func (c *Cache) DecrementBudget(ctx context.Context, subject, snapshotType string) error {
	return c.store.DecrementBudget(ctx, subject, snapshotType)
}

// GetOrCompute returns the cached payload on a hit; on a miss it runs
// compute, stores the result with the given budget and TTL, and returns
// it. A storage failure after a successful computation is logged and
// swallowed so the caller still gets the fresh value.
func (c *Cache) GetOrCompute(
	ctx context.Context,
	owner, subject, snapshotType string,
	actionsPending int,
	ttl time.Duration,
	compute func(ctx context.Context) (json.RawMessage, error),
) (json.RawMessage, error) {
	payload, hit, err := c.Get(ctx, owner, subject, snapshotType)
	if err != nil {
		// A broken read degrades to recompute rather than failing the view
		c.logger.Warn("Snapshot read failed, recomputing", "subject", subject, "type", snapshotType, "error", err)
	} else if hit {
		return payload, nil
	}

	fresh, err := compute(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot recompute failed: %w", err)
	}

	if err := c.Put(ctx, owner, subject, snapshotType, fresh, actionsPending, ttl); err != nil {
		c.logger.Error("Failed to store snapshot", "subject", subject, "type", snapshotType, "error", err)
	}
	return fresh, nil
}
