package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/quillforge/quillforge/internal/pipeline"
	"github.com/quillforge/quillforge/pkg/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSessionStore records writes in memory. An optional blockWrites
// channel holds every write open until the channel is closed.
type fakeSessionStore struct {
	mu          sync.Mutex
	inserts     int
	updates     int
	recs        map[string]*models.SessionRecord
	insertErr   error
	updateErr   error
	blockWrites chan struct{}
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{recs: make(map[string]*models.SessionRecord)}
}

func (f *fakeSessionStore) Insert(ctx context.Context, rec *models.SessionRecord) (string, error) {
	if f.blockWrites != nil {
		<-f.blockWrites
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return "", f.insertErr
	}
	f.inserts++
	id := fmt.Sprintf("sess-%d", f.inserts)
	cp := *rec
	cp.ID = id
	f.recs[id] = &cp
	return id, nil
}

func (f *fakeSessionStore) Update(ctx context.Context, id string, rec *models.SessionRecord) error {
	if f.blockWrites != nil {
		<-f.blockWrites
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	if _, ok := f.recs[id]; !ok {
		return fmt.Errorf("session not found: %s", id)
	}
	f.updates++
	cp := *rec
	cp.ID = id
	f.recs[id] = &cp
	return nil
}

func (f *fakeSessionStore) Get(ctx context.Context, id string) (*models.SessionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.recs[id]
	if !ok {
		return nil, fmt.Errorf("session not found: %s", id)
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeSessionStore) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inserts, f.updates
}

func stateWithAngles(t *testing.T) *pipeline.State {
	t.Helper()
	s := pipeline.NewState()
	s.SetSource(models.StrategyRawIdea, models.ContentTypePost, "idea")
	angles := []models.Angle{{ID: "a1", Title: "One"}, {ID: "a2", Title: "Two"}}
	if err := s.RecordAngles(angles, json.RawMessage(`{}`), "", "track-1"); err != nil {
		t.Fatalf("RecordAngles: %v", err)
	}
	return s
}

func TestSyncInsertsThenUpdates(t *testing.T) {
	store := newFakeSessionStore()
	c := NewCoordinator(store, nil, testLogger())
	st := stateWithAngles(t)
	ctx := context.Background()

	id, err := c.Sync(ctx, st.Snapshot())
	if err != nil {
		t.Fatalf("First Sync: %v", err)
	}
	if id == "" {
		t.Fatal("First Sync should return the inserted record id")
	}

	// Same snapshot again: nothing changed, nothing written
	id2, err := c.Sync(ctx, st.Snapshot())
	if err != nil {
		t.Fatalf("Second Sync: %v", err)
	}
	if id2 != id {
		t.Errorf("Second Sync id = %q, want %q", id2, id)
	}
	if ins, ups := store.counts(); ins != 1 || ups != 0 {
		t.Errorf("After idempotent Sync: %d inserts, %d updates, want 1/0", ins, ups)
	}

	// Selecting an angle dirties the markers and updates in place
	if err := st.SelectAngle(models.Angle{ID: "a2", Title: "Two"}); err != nil {
		t.Fatalf("SelectAngle: %v", err)
	}
	if _, err := c.Sync(ctx, st.Snapshot()); err != nil {
		t.Fatalf("Third Sync: %v", err)
	}
	if ins, ups := store.counts(); ins != 1 || ups != 1 {
		t.Errorf("After angle selection: %d inserts, %d updates, want 1/1", ins, ups)
	}

	rec, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.SelectedAngle == nil || rec.SelectedAngle.ID != "a2" {
		t.Errorf("Persisted SelectedAngle = %+v, want a2", rec.SelectedAngle)
	}
	if rec.Status != models.SessionInProgress {
		t.Errorf("Status = %s, want %s", rec.Status, models.SessionInProgress)
	}
}

func TestSyncSkipsWhileWriteInFlight(t *testing.T) {
	store := newFakeSessionStore()
	store.blockWrites = make(chan struct{})
	c := NewCoordinator(store, nil, testLogger())
	st := stateWithAngles(t)
	ctx := context.Background()

	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		if _, err := c.Sync(ctx, st.Snapshot()); err != nil {
			t.Errorf("Blocked Sync: %v", err)
		}
	}()

	// Wait until the first write is actually in flight
	deadline := time.After(5 * time.Second)
	for {
		c.mu.Lock()
		inFlight := c.inFlight
		c.mu.Unlock()
		if inFlight {
			break
		}
		select {
		case <-deadline:
			t.Fatal("First write never entered flight")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	// A dirty Sync arriving mid-write is skipped, not queued
	if _, err := c.Sync(ctx, st.Snapshot()); err != nil {
		t.Fatalf("Concurrent Sync: %v", err)
	}

	close(store.blockWrites)
	<-firstDone

	if ins, ups := store.counts(); ins != 1 || ups != 0 {
		t.Errorf("Writes = %d inserts, %d updates, want exactly 1/0", ins, ups)
	}
}

func TestBindSessionPrimesMarkers(t *testing.T) {
	store := newFakeSessionStore()
	c := NewCoordinator(store, nil, testLogger())
	ctx := context.Background()

	rec := &models.SessionRecord{
		ID:            "sess-restored",
		Angles:        []models.Angle{{ID: "a1"}, {ID: "a2"}},
		SelectedAngle: &models.Angle{ID: "a1"},
		Outline:       &models.Outline{Title: "o"},
	}
	store.recs["sess-restored"] = rec
	c.BindSession(rec)

	if got := c.SessionID(); got != "sess-restored" {
		t.Errorf("SessionID = %q, want sess-restored", got)
	}

	// A snapshot matching the persisted record must not rewrite it
	st := pipeline.FromRecord(rec)
	if _, err := c.Sync(ctx, st.Snapshot()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if ins, ups := store.counts(); ins != 0 || ups != 0 {
		t.Errorf("Restored session wrote %d inserts, %d updates, want 0/0", ins, ups)
	}

	// Unbinding clears markers and identity
	c.BindSession(nil)
	if got := c.SessionID(); got != "" {
		t.Errorf("SessionID after unbind = %q, want empty", got)
	}
}

func TestSyncRecoversMarkersOnlyOnSuccess(t *testing.T) {
	store := newFakeSessionStore()
	store.insertErr = fmt.Errorf("disk full")
	c := NewCoordinator(store, nil, testLogger())
	st := stateWithAngles(t)
	ctx := context.Background()

	if _, err := c.Sync(ctx, st.Snapshot()); err == nil {
		t.Fatal("Sync should surface the insert error")
	}

	// The failed write must not mark the state clean; the next Sync
	// re-asserts the same snapshot.
	store.mu.Lock()
	store.insertErr = nil
	store.mu.Unlock()

	id, err := c.Sync(ctx, st.Snapshot())
	if err != nil {
		t.Fatalf("Retry Sync: %v", err)
	}
	if id == "" {
		t.Error("Retry Sync should insert and return an id")
	}
}

func TestFinalizeWritesTerminalStatus(t *testing.T) {
	store := newFakeSessionStore()
	c := NewCoordinator(store, nil, testLogger())
	st := stateWithAngles(t)
	ctx := context.Background()

	id, err := c.Sync(ctx, st.Snapshot())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if err := c.Finalize(ctx, st.Snapshot(), models.SessionCompleted); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	rec, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Status != models.SessionCompleted {
		t.Errorf("Status = %s, want %s", rec.Status, models.SessionCompleted)
	}
}

func TestFinalizeInsertsWhenNeverSynced(t *testing.T) {
	store := newFakeSessionStore()
	c := NewCoordinator(store, nil, testLogger())
	st := stateWithAngles(t)
	ctx := context.Background()

	if err := c.Finalize(ctx, st.Snapshot(), models.SessionAbandoned); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if ins, _ := store.counts(); ins != 1 {
		t.Errorf("Finalize on unsynced session made %d inserts, want 1", ins)
	}
	rec, err := store.Get(ctx, c.SessionID())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Status != models.SessionAbandoned {
		t.Errorf("Status = %s, want %s", rec.Status, models.SessionAbandoned)
	}
}
