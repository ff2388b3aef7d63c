package pipeline

import (
	"encoding/json"
	"testing"

	"github.com/quillforge/quillforge/pkg/models"
)

func testAngles() []models.Angle {
	return []models.Angle{
		{ID: "a1", Title: "Contrarian take"},
		{ID: "a2", Title: "Personal story"},
		{ID: "a3", Title: "How-to"},
	}
}

func advanceToOutline(t *testing.T, s *State) {
	t.Helper()
	s.SetSource(models.StrategyRawIdea, models.ContentTypePost, "ship faster")
	if err := s.RecordAngles(testAngles(), json.RawMessage(`{"k":"v"}`), "sess-1", "track-1"); err != nil {
		t.Fatalf("RecordAngles: %v", err)
	}
	if err := s.SelectAngle(testAngles()[0]); err != nil {
		t.Fatalf("SelectAngle: %v", err)
	}
	if err := s.ApproveContext(json.RawMessage(`{"refined":true}`)); err != nil {
		t.Fatalf("ApproveContext: %v", err)
	}
	if err := s.RecordOutline(models.Outline{Title: "Outline", Sections: []models.OutlineSection{{Heading: "Intro"}}}); err != nil {
		t.Fatalf("RecordOutline: %v", err)
	}
}

func TestStatePreconditions(t *testing.T) {
	s := NewState()

	if err := s.RecordAngles(testAngles(), nil, "", ""); err == nil {
		t.Error("RecordAngles should fail without a source")
	}
	if err := s.SelectAngle(testAngles()[0]); err == nil {
		t.Error("SelectAngle should fail without recorded angles")
	}
	if err := s.ApproveContext(json.RawMessage(`{}`)); err == nil {
		t.Error("ApproveContext should fail without a selected angle")
	}
	if err := s.RecordOutline(models.Outline{Title: "x"}); err == nil {
		t.Error("RecordOutline should fail without approved context")
	}
	if err := s.SelectHook(models.HookOption{ID: "h1"}); err == nil {
		t.Error("SelectHook should fail without an outline")
	}
	if err := s.RecordWrittenContent(models.WrittenContent{Body: "x"}); err == nil {
		t.Error("RecordWrittenContent should fail without an outline")
	}
}

func TestSelectAngleClearsDownstream(t *testing.T) {
	s := NewState()
	advanceToOutline(t, s)
	if err := s.SelectHook(models.HookOption{ID: "h1", Text: "Hook"}); err != nil {
		t.Fatalf("SelectHook: %v", err)
	}
	if err := s.SelectTemplate(models.TemplateOption{ID: "t1"}); err != nil {
		t.Fatalf("SelectTemplate: %v", err)
	}
	if err := s.RecordWrittenContent(models.WrittenContent{Title: "Post", Body: "Body"}); err != nil {
		t.Fatalf("RecordWrittenContent: %v", err)
	}

	// Re-selecting an angle invalidates everything built on the old one
	if err := s.SelectAngle(testAngles()[1]); err != nil {
		t.Fatalf("SelectAngle: %v", err)
	}

	snap := s.Snapshot()
	if snap.SelectedAngle == nil || snap.SelectedAngle.ID != "a2" {
		t.Errorf("SelectedAngle = %+v, want a2", snap.SelectedAngle)
	}
	if snap.ApprovedContext != nil {
		t.Error("ApprovedContext should be cleared on angle re-selection")
	}
	if snap.Outline != nil {
		t.Error("Outline should be cleared on angle re-selection")
	}
	if snap.SelectedHook != nil || snap.SelectedTemplate != nil {
		t.Error("Hook and template choices should be cleared on angle re-selection")
	}
	if snap.WrittenContent != nil {
		t.Error("WrittenContent should be cleared on angle re-selection")
	}
	// Upstream slots survive
	if len(snap.Angles) != 3 || snap.Source == nil {
		t.Error("Angles and source should survive angle re-selection")
	}
}

func TestFurthestStage(t *testing.T) {
	s := NewState()
	if got := s.FurthestStage(); got != models.StageAngles {
		t.Errorf("Empty state furthest stage = %s, want %s", got, models.StageAngles)
	}

	s.SetSource(models.StrategyRawIdea, models.ContentTypePost, "idea")
	if err := s.RecordAngles(testAngles(), nil, "", ""); err != nil {
		t.Fatalf("RecordAngles: %v", err)
	}
	if got := s.FurthestStage(); got != models.StageAngles {
		t.Errorf("After angles furthest stage = %s, want %s", got, models.StageAngles)
	}

	if err := s.SelectAngle(testAngles()[0]); err != nil {
		t.Fatalf("SelectAngle: %v", err)
	}
	if got := s.FurthestStage(); got != models.StageOutline {
		t.Errorf("After selection furthest stage = %s, want %s", got, models.StageOutline)
	}

	if err := s.ApproveContext(json.RawMessage(`{}`)); err != nil {
		t.Fatalf("ApproveContext: %v", err)
	}
	if err := s.RecordOutline(models.Outline{Title: "o"}); err != nil {
		t.Fatalf("RecordOutline: %v", err)
	}
	if err := s.RecordWrittenContent(models.WrittenContent{Body: "b"}); err != nil {
		t.Fatalf("RecordWrittenContent: %v", err)
	}
	if got := s.FurthestStage(); got != models.StageWrite {
		t.Errorf("After write furthest stage = %s, want %s", got, models.StageWrite)
	}
}

func TestRedirectStage(t *testing.T) {
	s := NewState()
	s.SetSource(models.StrategyRawIdea, models.ContentTypePost, "idea")
	if err := s.RecordAngles(testAngles(), nil, "", ""); err != nil {
		t.Fatalf("RecordAngles: %v", err)
	}

	// Forward jump past the furthest stage redirects to it
	if got := s.RedirectStage(models.StageWrite); got != models.StageAngles {
		t.Errorf("RedirectStage(write) = %s, want %s", got, models.StageAngles)
	}
	// Ungated stages are always enterable
	if got := s.RedirectStage(models.StageSourceSelection); got != models.StageSourceSelection {
		t.Errorf("RedirectStage(source_selection) = %s, want it unchanged", got)
	}

	if err := s.SelectAngle(testAngles()[0]); err != nil {
		t.Fatalf("SelectAngle: %v", err)
	}
	// Now outline is reachable, write still is not
	if got := s.RedirectStage(models.StageOutline); got != models.StageOutline {
		t.Errorf("RedirectStage(outline) = %s, want %s", got, models.StageOutline)
	}
	if got := s.RedirectStage(models.StageWrite); got != models.StageOutline {
		t.Errorf("RedirectStage(write) = %s, want %s", got, models.StageOutline)
	}
	// Backward navigation is always allowed
	if !s.CanEnter(models.StageAngles) {
		t.Error("CanEnter(angles) should be true after moving forward")
	}
}

func TestRecordOutlineAllowedWhenRestored(t *testing.T) {
	rec := &models.SessionRecord{
		ID:            "sess-9",
		SelectedAngle: &models.Angle{ID: "a1"},
		Outline:       &models.Outline{Title: "old"},
	}
	s := FromRecord(rec)

	// Approved context was not persisted but an outline exists, so a
	// regenerated outline may replace it.
	if err := s.RecordOutline(models.Outline{Title: "new"}); err != nil {
		t.Fatalf("RecordOutline on restored state: %v", err)
	}
	if got := s.Snapshot().Outline.Title; got != "new" {
		t.Errorf("Outline title = %q, want %q", got, "new")
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	s := NewState()
	advanceToOutline(t, s)

	snap := s.Snapshot()
	snap.Outline.Title = "mutated"
	snap.Angles[0].Title = "mutated"

	fresh := s.Snapshot()
	if fresh.Outline.Title == "mutated" {
		t.Error("Mutating a snapshot outline leaked into state")
	}
	if fresh.Angles[0].Title == "mutated" {
		t.Error("Mutating a snapshot angle leaked into state")
	}
}

func TestReset(t *testing.T) {
	s := NewState()
	advanceToOutline(t, s)
	s.Reset()

	snap := s.Snapshot()
	if snap.Source != nil || len(snap.Angles) != 0 || snap.SelectedAngle != nil || snap.Outline != nil {
		t.Errorf("Reset left data behind: %+v", snap)
	}
	if snap.SessionID != "" || snap.TrackingID != "" {
		t.Error("Reset should clear session identifiers")
	}
	if got := s.FurthestStage(); got != models.StageAngles {
		t.Errorf("Furthest stage after reset = %s, want %s", got, models.StageAngles)
	}
}

func TestFromRecordHydratesSlots(t *testing.T) {
	rec := &models.SessionRecord{
		ID:             "sess-5",
		TrackingID:     "track-5",
		Source:         &models.Source{Strategy: models.StrategyArticle, RawInput: "https://example.com/a"},
		Angles:         testAngles(),
		SelectedAngle:  &models.Angle{ID: "a2", Title: "Personal story"},
		Outline:        &models.Outline{Title: "o"},
		WrittenContent: &models.WrittenContent{Title: "t", Body: "b"},
	}
	s := FromRecord(rec)

	if s.SessionID() != "sess-5" {
		t.Errorf("SessionID = %q, want sess-5", s.SessionID())
	}
	if got := s.FurthestStage(); got != models.StageWrite {
		t.Errorf("Furthest stage = %s, want %s", got, models.StageWrite)
	}
	snap := s.Snapshot()
	if snap.SelectedAngle == nil || snap.SelectedAngle.ID != "a2" {
		t.Errorf("SelectedAngle = %+v, want a2", snap.SelectedAngle)
	}
	if len(snap.Angles) != 3 {
		t.Errorf("Angles = %d entries, want 3", len(snap.Angles))
	}
}
