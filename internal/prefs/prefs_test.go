package prefs

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/quillforge/quillforge/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memBackend struct {
	values map[string]string
}

func newMemBackend() *memBackend {
	return &memBackend{values: make(map[string]string)}
}

func (m *memBackend) Get(ctx context.Context, key string) (string, error) {
	return m.values[key], nil
}

func (m *memBackend) Set(ctx context.Context, key, value string) error {
	m.values[key] = value
	return nil
}

func (m *memBackend) Delete(ctx context.Context, key string) error {
	delete(m.values, key)
	return nil
}

func (m *memBackend) DeletePrefix(ctx context.Context, prefix string) error {
	for k := range m.values {
		if strings.HasPrefix(k, prefix) {
			delete(m.values, k)
		}
	}
	return nil
}

func TestSetAndGet(t *testing.T) {
	backend := newMemBackend()
	s := NewStore(backend, nil, testLogger())
	ctx := context.Background()

	if err := s.Set(ctx, "workspace", "w-1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := s.Get(ctx, "workspace")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "w-1" {
		t.Errorf("Get = %q, want w-1", got)
	}
}

func TestChangingParentClearsDependents(t *testing.T) {
	backend := newMemBackend()
	s := NewStore(backend, map[string][]string{
		"workspace": {"workspace-settings."},
	}, testLogger())
	ctx := context.Background()

	if err := s.Set(ctx, "workspace", "w-1"); err != nil {
		t.Fatalf("Set parent: %v", err)
	}
	if err := s.Set(ctx, "workspace-settings.tone", "formal"); err != nil {
		t.Fatalf("Set dependent: %v", err)
	}

	// Switching the workspace must clear preferences scoped to the old one
	if err := s.Set(ctx, "workspace", "w-2"); err != nil {
		t.Fatalf("Set new parent: %v", err)
	}
	if got, _ := s.Get(ctx, "workspace-settings.tone"); got != "" {
		t.Errorf("Dependent preference survived a parent change: %q", got)
	}
	if got, _ := s.Get(ctx, "workspace"); got != "w-2" {
		t.Errorf("Parent = %q, want w-2", got)
	}
}

func TestRewritingSameParentValueKeepsDependents(t *testing.T) {
	backend := newMemBackend()
	s := NewStore(backend, map[string][]string{
		"workspace": {"workspace-settings."},
	}, testLogger())
	ctx := context.Background()

	if err := s.Set(ctx, "workspace", "w-1"); err != nil {
		t.Fatalf("Set parent: %v", err)
	}
	if err := s.Set(ctx, "workspace-settings.tone", "formal"); err != nil {
		t.Fatalf("Set dependent: %v", err)
	}

	// Re-asserting the same value is not a change
	if err := s.Set(ctx, "workspace", "w-1"); err != nil {
		t.Fatalf("Re-set parent: %v", err)
	}
	if got, _ := s.Get(ctx, "workspace-settings.tone"); got != "formal" {
		t.Errorf("Dependent preference cleared without a value change: %q", got)
	}
}

func TestFirstParentWriteKeepsDependents(t *testing.T) {
	backend := newMemBackend()
	s := NewStore(backend, map[string][]string{
		"workspace": {"workspace-settings."},
	}, testLogger())
	ctx := context.Background()

	// A dependent written before the parent ever had a value survives
	// the parent's first write.
	if err := s.Set(ctx, "workspace-settings.tone", "casual"); err != nil {
		t.Fatalf("Set dependent: %v", err)
	}
	if err := s.Set(ctx, "workspace", "w-1"); err != nil {
		t.Fatalf("Set parent: %v", err)
	}
	if got, _ := s.Get(ctx, "workspace-settings.tone"); got != "casual" {
		t.Errorf("Dependent cleared on the parent's first write: %q", got)
	}
}

func TestDependentClearOverSQLiteBackend(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "prefs.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	s := NewStore(store.NewPreferenceStore(db), map[string][]string{
		"last.strategy": {"last.run."},
	}, testLogger())
	ctx := context.Background()

	if err := s.Set(ctx, "last.strategy", "raw_idea"); err != nil {
		t.Fatalf("Set parent: %v", err)
	}
	if err := s.Set(ctx, "last.run.session", "sess-1"); err != nil {
		t.Fatalf("Set dependent: %v", err)
	}

	if err := s.Set(ctx, "last.strategy", "article"); err != nil {
		t.Fatalf("Change parent: %v", err)
	}
	if got, _ := s.Get(ctx, "last.run.session"); got != "" {
		t.Errorf("Run record survived a strategy change: %q", got)
	}
	if got, _ := s.Get(ctx, "last.strategy"); got != "article" {
		t.Errorf("Parent = %q, want article", got)
	}
}

func TestSubscribersNotified(t *testing.T) {
	backend := newMemBackend()
	s := NewStore(backend, nil, testLogger())
	ctx := context.Background()

	type change struct{ key, value string }
	var seen []change
	s.Subscribe(func(key, value string) {
		seen = append(seen, change{key, value})
	})

	if err := s.Set(ctx, "workspace", "w-1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Delete(ctx, "workspace"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	want := []change{{"workspace", "w-1"}, {"workspace", ""}}
	if len(seen) != len(want) {
		t.Fatalf("Saw %d notifications, want %d", len(seen), len(want))
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("Notification %d = %+v, want %+v", i, seen[i], want[i])
		}
	}
}
