package pipeline

import (
	"github.com/quillforge/quillforge/pkg/models"
)

// CanEnter reports whether the given stage may be entered: its position
// in the fixed order [Angles, Outline, Write] must be at or before the
// furthest stage reached. Stages outside the gated order (source
// selection) are always enterable.
func (s *State) CanEnter(stage models.Stage) bool {
	pos := stage.Position()
	if pos < 0 {
		return true
	}
	return pos <= s.FurthestStage().Position()
}

// RedirectStage resolves a requested stage to the nearest stage whose
// prerequisite is satisfied. Entering a stage out of order redirects
// rather than corrupting state, which keeps navigation strictly linear
// forward while leaving backward navigation free.
func (s *State) RedirectStage(requested models.Stage) models.Stage {
	if s.CanEnter(requested) {
		return requested
	}
	return s.FurthestStage()
}
