package pipeline

import (
	"github.com/quillforge/quillforge/pkg/models"
)

// FromRecord rehydrates a pipeline state from a durable session record.
// Slots are copied as persisted; the preconditions enforced on live
// transitions are assumed to have held when the record was written.
func FromRecord(rec *models.SessionRecord) *State {
	s := NewState()
	s.sessionID = rec.ID
	s.trackingID = rec.TrackingID
	s.source = copyPtr(rec.Source)
	s.angles = append([]models.Angle(nil), rec.Angles...)
	s.anglesContext = rec.AnglesContext
	s.selectedAngle = copyPtr(rec.SelectedAngle)
	s.approvedContext = rec.ApprovedContext
	s.outline = copyPtr(rec.Outline)
	s.selectedHook = copyPtr(rec.SelectedHook)
	s.selectedTemplate = copyPtr(rec.SelectedTemplate)
	s.writtenContent = copyPtr(rec.WrittenContent)
	return s
}
