package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"coil/internal/types"
)

func TestSessionStore_AppendSurvivesRestart(t *testing.T) {
	dir := t.TempDir()

	first, err := NewSessionStore(dir)
	if err != nil {
		t.Fatalf("NewSessionStore: %v", err)
	}
	h, err := first.GetOrCreate("sess-1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	want := []types.Message{
		types.NewUserText("hello"),
		types.NewAssistantText("hi there"),
	}
	if err := h.Append(want...); err != nil {
		t.Fatalf("Append: %v", err)
	}

	// A second store over the same directory is the restart.
	second, err := NewSessionStore(dir)
	if err != nil {
		t.Fatalf("NewSessionStore: %v", err)
	}
	reopened, err := second.GetOrCreate("sess-1")
	if err != nil {
		t.Fatalf("GetOrCreate after restart: %v", err)
	}

	if diff := cmp.Diff(want, reopened.List()); diff != "" {
		t.Errorf("items mismatch after restart (-want +got):\n%s", diff)
	}
}

func TestSessionStore_HandlesAreShared(t *testing.T) {
	s, err := NewSessionStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	a, _ := s.GetOrCreate("sess-1")
	b, _ := s.GetOrCreate("sess-1")
	if a != b {
		t.Error("same id should return the same handle")
	}
}

func TestSessionHandle_ListReturnsCopies(t *testing.T) {
	s, err := NewSessionStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	h, _ := s.GetOrCreate("sess-1")
	h.Append(types.NewUserText("original"))

	got := h.List()
	got[0].Fragments[0].Text = "mutated"

	if h.List()[0].Fragments[0].Text != "original" {
		t.Error("List must hand out copies")
	}
}

func TestSessionHandle_Clear(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSessionStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	h, _ := s.GetOrCreate("sess-1")
	h.Append(types.NewUserText("to be removed"))

	if err := h.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if h.Len() != 0 {
		t.Errorf("Len after Clear: %d", h.Len())
	}

	// Clear persists, so a restart sees the empty session too.
	second, _ := NewSessionStore(dir)
	reopened, _ := second.GetOrCreate("sess-1")
	if reopened.Len() != 0 {
		t.Errorf("restart saw %d items after Clear", reopened.Len())
	}
}

func TestSessionStore_Sessions(t *testing.T) {
	s, err := NewSessionStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	h1, _ := s.GetOrCreate("sess-1")
	h1.Append(types.NewUserText("a"), types.NewAssistantText("b"))
	h2, _ := s.GetOrCreate("sess-2")
	h2.Append(types.NewUserText("c"))

	infos, err := s.Sessions()
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(infos))
	}

	counts := map[string]int{}
	for _, info := range infos {
		counts[info.ID] = info.ItemCount
		if info.UpdatedAt.IsZero() {
			t.Errorf("session %s has zero UpdatedAt", info.ID)
		}
	}
	if counts["sess-1"] != 2 || counts["sess-2"] != 1 {
		t.Errorf("item counts: %v", counts)
	}
}

func TestSessionStore_Delete(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSessionStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	h, _ := s.GetOrCreate("sess-1")
	h.Append(types.NewUserText("x"))

	if err := s.Delete("sess-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "sess-1.json")); !os.IsNotExist(err) {
		t.Error("session file should be gone")
	}

	// Deleting again is fine.
	if err := s.Delete("sess-1"); err != nil {
		t.Errorf("second Delete: %v", err)
	}

	// And the id starts fresh afterwards.
	fresh, _ := s.GetOrCreate("sess-1")
	if fresh.Len() != 0 {
		t.Errorf("deleted session should restart empty, got %d items", fresh.Len())
	}
}

func TestSessionStore_CleanupOlderThan(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSessionStore(dir)
	if err != nil {
		t.Fatal(err)
	}

	// One stale session written directly in the store's file format.
	stale := sessionFile{
		Version:   sessionFileVersion,
		ID:        "old",
		Items:     []types.Message{types.NewUserText("ancient")},
		UpdatedAt: time.Now().Add(-48 * time.Hour).UTC(),
	}
	data, _ := json.Marshal(stale)
	if err := os.WriteFile(filepath.Join(dir, "old.json"), data, 0644); err != nil {
		t.Fatal(err)
	}

	h, _ := s.GetOrCreate("fresh")
	h.Append(types.NewUserText("recent"))

	removed, err := s.CleanupOlderThan(24 * time.Hour)
	if err != nil {
		t.Fatalf("CleanupOlderThan: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 removed, got %d", removed)
	}

	infos, _ := s.Sessions()
	if len(infos) != 1 || infos[0].ID != "fresh" {
		t.Errorf("surviving sessions: %+v", infos)
	}
}

func TestSessionStore_RejectsBadIDs(t *testing.T) {
	s, err := NewSessionStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"", "a/b", `a\b`, "../escape"} {
		if _, err := s.GetOrCreate(id); err == nil {
			t.Errorf("id %q should be rejected", id)
		}
	}
}

func TestSessionStore_CorruptFileStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "sess-1.json"), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	s, err := NewSessionStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	h, err := s.GetOrCreate("sess-1")
	if err != nil {
		t.Fatalf("GetOrCreate on corrupt file: %v", err)
	}
	if h.Len() != 0 {
		t.Errorf("corrupt session should start empty, got %d items", h.Len())
	}

	// The next Append repairs the file.
	if err := h.Append(types.NewUserText("recovered")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	second, _ := NewSessionStore(dir)
	reopened, _ := second.GetOrCreate("sess-1")
	if reopened.Len() != 1 {
		t.Errorf("repaired session should hold 1 item, got %d", reopened.Len())
	}
}
