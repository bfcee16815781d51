package chromem

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"recalld/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testMemory(id, sessionID string, embedding []float32) domain.Memory {
	return domain.Memory{
		ID:          id,
		Content:     "content for " + id,
		ContextType: "fact",
		SessionID:   sessionID,
		Embedding:   embedding,
		Importance:  0.5,
		CreatedAt:   time.Now().UTC(),
	}
}

func TestInsertAndSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Insert(ctx, testMemory("m1", "sess-a", []float32{1, 0, 0})); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.Insert(ctx, testMemory("m2", "sess-a", []float32{0.9, 0.1, 0})); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	matches, err := s.Search(ctx, []float32{1, 0, 0}, "sess-a", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) == 0 {
		t.Fatal("no matches")
	}
	if matches[0].Memory.ID != "m1" {
		t.Errorf("top match = %q, want m1", matches[0].Memory.ID)
	}
}

func TestInsertRequiresEmbedding(t *testing.T) {
	s := newTestStore(t)
	err := s.Insert(context.Background(), testMemory("m1", "sess-a", nil))
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("error = %v, want ErrInvalidInput", err)
	}
}

func TestInsertIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mem := testMemory("m1", "sess-a", []float32{1, 0})
	if err := s.Insert(ctx, mem); err != nil {
		t.Fatal(err)
	}
	if err := s.Insert(ctx, mem); err != nil {
		t.Fatalf("replayed insert: %v", err)
	}

	n, err := s.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
}

func TestSessionIsolation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	vec := []float32{1, 0}

	if err := s.Insert(ctx, testMemory("a1", "sess-a", vec)); err != nil {
		t.Fatal(err)
	}
	if err := s.Insert(ctx, testMemory("b1", "sess-b", vec)); err != nil {
		t.Fatal(err)
	}

	matches, err := s.Search(ctx, vec, "sess-a", 10)
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range matches {
		if m.Memory.SessionID != "sess-a" {
			t.Errorf("leaked memory from session %q", m.Memory.SessionID)
		}
	}

	all, err := s.Search(ctx, vec, "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Errorf("cross-session search got %d, want 2", len(all))
	}
}

func TestSearchEmptyIndex(t *testing.T) {
	s := newTestStore(t)
	matches, err := s.Search(context.Background(), []float32{1}, "nope", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("got %d matches from empty index", len(matches))
	}
}

func TestUpdateImportance(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Insert(ctx, testMemory("m1", "sess-a", []float32{1, 0})); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateImportance(ctx, "m1", 0.95); err != nil {
		t.Fatalf("UpdateImportance: %v", err)
	}

	matches, err := s.Search(ctx, []float32{1, 0}, "sess-a", 1)
	if err != nil {
		t.Fatal(err)
	}
	if matches[0].Memory.Importance != 0.95 {
		t.Errorf("importance = %f, want 0.95", matches[0].Memory.Importance)
	}

	if err := s.UpdateImportance(ctx, "missing", 0.1); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestLowestImportanceAndPurge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ids := []string{"high", "low", "mid"}
	for i, imp := range []float64{0.9, 0.1, 0.5} {
		mem := testMemory(ids[i], "sess-a", []float32{1, 0})
		mem.Importance = imp
		if err := s.Insert(ctx, mem); err != nil {
			t.Fatal(err)
		}
	}

	lowest, err := s.LowestImportance(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(lowest) != 2 || lowest[0].ID != "low" || lowest[1].ID != "mid" {
		t.Fatalf("lowest = %v, want [low mid]", lowest)
	}

	if err := s.Purge(ctx, []string{"low", "mid"}); err != nil {
		t.Fatalf("Purge: %v", err)
	}

	n, _ := s.Count(ctx)
	if n != 1 {
		t.Errorf("count after purge = %d, want 1", n)
	}
	matches, err := s.Search(ctx, []float32{1, 0}, "sess-a", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 || matches[0].Memory.ID != "high" {
		t.Errorf("purged entries still searchable: %v", matches)
	}
}

func TestSessionStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, imp := range []float64{0.2, 0.8} {
		mem := testMemory([]string{"m1", "m2"}[i], "sess-a", []float32{1, 0})
		mem.Importance = imp
		if err := s.Insert(ctx, mem); err != nil {
			t.Fatal(err)
		}
	}

	stats, err := s.SessionStats(ctx, "sess-a")
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalMemories != 2 {
		t.Errorf("total = %d, want 2", stats.TotalMemories)
	}
	if stats.AverageImportance < 0.49 || stats.AverageImportance > 0.51 {
		t.Errorf("avg = %f, want 0.5", stats.AverageImportance)
	}
}
