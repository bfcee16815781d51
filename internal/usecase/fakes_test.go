package usecase

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"recalld/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeIndex is an in-memory domain.Index with injectable latency and
// failures, used to exercise the scheduler's deadline behavior and the
// write queue's retry path.
type fakeIndex struct {
	mu          sync.Mutex
	memories    map[string]domain.Memory
	searchDelay time.Duration
	insertDelay time.Duration
	insertErr   error
	searchErr   error
	inserts     int
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{memories: make(map[string]domain.Memory)}
}

func (f *fakeIndex) Insert(ctx context.Context, mem domain.Memory) error {
	if f.insertDelay > 0 {
		select {
		case <-time.After(f.insertDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserts++
	if f.insertErr != nil {
		return f.insertErr
	}
	f.memories[mem.ID] = mem
	return nil
}

func (f *fakeIndex) Search(ctx context.Context, embedding []float32, sessionID string, limit int) ([]domain.Match, error) {
	if f.searchDelay > 0 {
		select {
		case <-time.After(f.searchDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.searchErr != nil {
		return nil, f.searchErr
	}

	var matches []domain.Match
	for _, mem := range f.memories {
		if sessionID != "" && mem.SessionID != sessionID {
			continue
		}
		sim := cosineSimilarity(embedding, mem.Embedding)
		if sim <= 0 {
			continue
		}
		matches = append(matches, domain.Match{Memory: mem, Similarity: sim})
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (f *fakeIndex) UpdateImportance(ctx context.Context, id string, importance float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	mem, ok := f.memories[id]
	if !ok {
		return domain.ErrNotFound
	}
	mem.Importance = importance
	f.memories[id] = mem
	return nil
}

func (f *fakeIndex) LowestImportance(ctx context.Context, n int) ([]domain.Memory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all := make([]domain.Memory, 0, len(f.memories))
	for _, mem := range f.memories {
		all = append(all, mem)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Importance < all[j].Importance })
	if len(all) > n {
		all = all[:n]
	}
	return all, nil
}

func (f *fakeIndex) Purge(ctx context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		delete(f.memories, id)
	}
	return nil
}

func (f *fakeIndex) Count(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.memories), nil
}

func (f *fakeIndex) SizeBytes(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var total int64
	for _, mem := range f.memories {
		total += int64(len(mem.Content)) + int64(len(mem.Embedding)*4)
	}
	return total, nil
}

func (f *fakeIndex) SessionStats(ctx context.Context, sessionID string) (domain.SessionStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var stats domain.SessionStats
	var sum float64
	for _, mem := range f.memories {
		if mem.SessionID != sessionID {
			continue
		}
		stats.TotalMemories++
		sum += mem.Importance
	}
	if stats.TotalMemories > 0 {
		stats.AverageImportance = sum / float64(stats.TotalMemories)
	}
	return stats, nil
}

func (f *fakeIndex) Name() string { return "fake" }
func (f *fakeIndex) Close() error { return nil }

func (f *fakeIndex) insertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inserts
}

var _ domain.Index = (*fakeIndex)(nil)

// fakeEmbedder maps known phrases to fixed vectors so ranking assertions
// are exact. Unknown text embeds to a distinct unit vector.
type fakeEmbedder struct {
	vectors map[string][]float32
	err     error
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{vectors: map[string][]float32{}}
}

func (f *fakeEmbedder) set(text string, vec []float32) { f.vectors[text] = vec }

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if vec, ok := f.vectors[t]; ok {
			out[i] = vec
		} else {
			out[i] = []float32{0, 0, 0, 1}
		}
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int { return 4 }
func (f *fakeEmbedder) Name() string    { return "fake" }

var _ domain.EmbeddingProvider = (*fakeEmbedder)(nil)
