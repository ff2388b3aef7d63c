package pipeline

import (
	"fmt"
	"sync"

	"github.com/quillforge/quillforge/pkg/models"
)

// State is the single source of truth for one workflow instance's
// progress: current slots, selection choices, and the derived furthest
// stage. It is created per workflow instance and enforces the forward
// ordering of the pipeline.
//
// The central invariant: a later-stage slot is non-nil only if the
// preceding stage's slot is non-nil, and selecting a new angle clears
// every downstream slot. Backward navigation must never leave stale
// forward-stage data visible.
type State struct {
	mu sync.RWMutex

	source        *models.Source
	angles        []models.Angle
	anglesContext models.RawContext
	sessionID     string
	trackingID    string

	selectedAngle    *models.Angle
	approvedContext  models.RawContext
	outline          *models.Outline
	selectedHook     *models.HookOption
	selectedTemplate *models.TemplateOption
	writtenContent   *models.WrittenContent
}

// NewState creates an empty pipeline state
func NewState() *State {
	return &State{}
}

// SetSource sets the generation strategy and output content type.
// Always allowed.
func (s *State) SetSource(strategy models.SourceStrategy, contentType models.ContentType, rawInput string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.source = &models.Source{
		Strategy:    strategy,
		ContentType: contentType,
		RawInput:    rawInput,
	}
}

// RecordAngles populates the angles slot. Requires a source.
// sessionID may be empty when no durable record exists yet.
func (s *State) RecordAngles(angles []models.Angle, ctx models.RawContext, sessionID, trackingID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.source == nil {
		return fmt.Errorf("cannot record angles: no source set")
	}
	s.angles = append([]models.Angle(nil), angles...)
	s.anglesContext = ctx
	s.sessionID = sessionID
	s.trackingID = trackingID
	return nil
}

// SelectAngle sets the selected angle and clears every downstream slot.
func (s *State) SelectAngle(angle models.Angle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.angles) == 0 {
		return fmt.Errorf("cannot select angle: no angles recorded")
	}
	a := angle
	s.selectedAngle = &a
	s.approvedContext = nil
	s.outline = nil
	s.selectedHook = nil
	s.selectedTemplate = nil
	s.writtenContent = nil
	return nil
}

// ApproveContext sets the approved refinement context. Requires a
// selected angle.
func (s *State) ApproveContext(ctx models.RawContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selectedAngle == nil {
		return fmt.Errorf("cannot approve context: no angle selected")
	}
	s.approvedContext = ctx
	return nil
}

// RecordOutline sets the outline slot. Requires approved context, or an
// already-present outline (the restored-session case, where the approved
// context may not have been persisted).
func (s *State) RecordOutline(outline models.Outline) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.approvedContext == nil && s.outline == nil {
		return fmt.Errorf("cannot record outline: no approved context")
	}
	o := outline
	s.outline = &o
	return nil
}

// SelectHook sets the hook choice for the written content. Requires an
// outline.
func (s *State) SelectHook(hook models.HookOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outline == nil {
		return fmt.Errorf("cannot select hook: no outline recorded")
	}
	h := hook
	s.selectedHook = &h
	return nil
}

// SelectTemplate sets the structural template choice. Requires an outline.
func (s *State) SelectTemplate(tpl models.TemplateOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outline == nil {
		return fmt.Errorf("cannot select template: no outline recorded")
	}
	t := tpl
	s.selectedTemplate = &t
	return nil
}

// RecordWrittenContent sets the final content slot. Requires an outline.
func (s *State) RecordWrittenContent(content models.WrittenContent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outline == nil {
		return fmt.Errorf("cannot record written content: no outline recorded")
	}
	w := content
	s.writtenContent = &w
	return nil
}

// SetSessionID records the durable session record id once the first
// checkpoint write has returned one.
func (s *State) SetSessionID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionID = id
}

// Reset clears all slots; used for "start over".
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.source = nil
	s.angles = nil
	s.anglesContext = nil
	s.sessionID = ""
	s.trackingID = ""
	s.selectedAngle = nil
	s.approvedContext = nil
	s.outline = nil
	s.selectedHook = nil
	s.selectedTemplate = nil
	s.writtenContent = nil
}

// FurthestStage derives the most advanced stage for which result data
// exists. Stage is never stored directly.
func (s *State) FurthestStage() models.Stage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.furthestStageLocked()
}

func (s *State) furthestStageLocked() models.Stage {
	switch {
	case s.writtenContent != nil:
		return models.StageWrite
	case s.selectedAngle != nil:
		return models.StageOutline
	default:
		return models.StageAngles
	}
}

// Snapshot is an immutable copy of the current slot values, used for
// checkpoint writes and by the rendering layer.
type Snapshot struct {
	Source           *models.Source
	Angles           []models.Angle
	AnglesContext    models.RawContext
	SessionID        string
	TrackingID       string
	SelectedAngle    *models.Angle
	ApprovedContext  models.RawContext
	Outline          *models.Outline
	SelectedHook     *models.HookOption
	SelectedTemplate *models.TemplateOption
	WrittenContent   *models.WrittenContent
	FurthestStage    models.Stage
}

// Snapshot returns a copy of the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Source:           copyPtr(s.source),
		Angles:           append([]models.Angle(nil), s.angles...),
		AnglesContext:    s.anglesContext,
		SessionID:        s.sessionID,
		TrackingID:       s.trackingID,
		SelectedAngle:    copyPtr(s.selectedAngle),
		ApprovedContext:  s.approvedContext,
		Outline:          copyPtr(s.outline),
		SelectedHook:     copyPtr(s.selectedHook),
		SelectedTemplate: copyPtr(s.selectedTemplate),
		WrittenContent:   copyPtr(s.writtenContent),
		FurthestStage:    s.furthestStageLocked(),
	}
}

// SessionID returns the durable record id, empty until the first
// checkpoint succeeds.
func (s *State) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID
}

func copyPtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
