package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/quillforge/quillforge/pkg/models"
)

// SnapshotStore persists cached analytics snapshots with SQLite, keyed by
// (owner, subject, snapshot type) with unique-constraint upsert.
type SnapshotStore struct {
	db *sql.DB
}

// NewSnapshotStore creates a new SQLite snapshot store.
func NewSnapshotStore(db *sql.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// Get retrieves an entry, or nil if none exists. Validity (expiry,
// budget) is the cache's concern, not the store's.
func (s *SnapshotStore) Get(ctx context.Context, owner, subject, snapshotType string) (*models.SnapshotEntry, error) {
	entry := &models.SnapshotEntry{
		Owner:        owner,
		Subject:      subject,
		SnapshotType: snapshotType,
	}
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload, actions_pending, expires_at, created_at
		 FROM snapshots WHERE owner = ? AND subject = ? AND snapshot_type = ?`,
		owner, subject, snapshotType,
	).Scan(&payload, &entry.ActionsPending, &entry.ExpiresAt, &entry.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	entry.Payload = json.RawMessage(payload)
	return entry, nil
}

// Put upserts an entry, overwriting payload, budget and expiry wholesale.
func (s *SnapshotStore) Put(ctx context.Context, entry *models.SnapshotEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO snapshots (owner, subject, snapshot_type, payload, actions_pending, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(owner, subject, snapshot_type) DO UPDATE SET
			payload = excluded.payload,
			actions_pending = excluded.actions_pending,
			expires_at = excluded.expires_at,
			created_at = CURRENT_TIMESTAMP`,
		entry.Owner, entry.Subject, entry.SnapshotType,
		string(entry.Payload), entry.ActionsPending, entry.ExpiresAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to put snapshot: %w", err)
	}
	return nil
}

// Delete removes all entries for a subject and type, across owners.
// Used when a mutation fully invalidates the cached computation.
func (s *SnapshotStore) Delete(ctx context.Context, subject, snapshotType string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM snapshots WHERE subject = ? AND snapshot_type = ?`,
		subject, snapshotType,
	)
	if err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}

// DecrementBudget atomically decrements actions_pending by one, floored
// at zero. A missing entry is a no-op.
func (s *SnapshotStore) DecrementBudget(ctx context.Context, subject, snapshotType string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE snapshots SET actions_pending = MAX(actions_pending - 1, 0)
		 WHERE subject = ? AND snapshot_type = ?`,
		subject, snapshotType,
	)
	if err != nil {
		return fmt.Errorf("failed to decrement snapshot budget: %w", err)
	}
	return nil
}
