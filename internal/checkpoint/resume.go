package checkpoint

import (
	"context"
	"fmt"

	"github.com/quillforge/quillforge/internal/pipeline"
	"github.com/quillforge/quillforge/pkg/models"
)

// Restore fetches a durable session record and reconstructs an
// equivalent pipeline state plus the stage the navigation layer should
// resume at. Repeated restores of the same record produce the same
// state and the same target stage.
func Restore(ctx context.Context, store SessionStore, sessionID string) (*pipeline.State, models.Stage, error) {
	rec, err := store.Get(ctx, sessionID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load session: %w", err)
	}

	st := pipeline.FromRecord(rec)
	return st, RestoreTarget(rec), nil
}

// RestoreTarget resolves the stage a restored session resumes at. This
// mirrors, but is not identical to, the live furthest-stage derivation:
// Refine is a restore-only intermediate target, because the live state
// machine treats angle selection as immediately entering Outline once
// context is approved.
func RestoreTarget(rec *models.SessionRecord) models.Stage {
	switch {
	case rec.WrittenContent != nil:
		return models.StageWrite
	case rec.Outline != nil:
		return models.StageOutline
	case rec.ApprovedContext != nil || rec.SelectedAngle != nil:
		return models.StageRefine
	default:
		return models.StageAngles
	}
}
