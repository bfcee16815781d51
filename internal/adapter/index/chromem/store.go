package chromem

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"recalld/internal/domain"
)

// Store implements domain.Index on chromem-go, a pure Go embedded vector
// database. Each session gets its own collection for namespace isolation.
//
// chromem keeps vectors in process memory, so this backend trades
// durability for zero I/O on the search path. A sidecar record map backs
// the operations chromem has no native answer for (importance scans,
// per-session stats).
type Store struct {
	db     *chromem.DB
	logger *slog.Logger

	mu       sync.RWMutex
	cols     map[string]*chromem.Collection // session → collection
	memories map[string]domain.Memory       // id → authoritative record
}

// New creates a chromem-backed index.
func New(logger *slog.Logger) (*Store, error) {
	return &Store{
		db:       chromem.NewDB(),
		logger:   logger,
		cols:     make(map[string]*chromem.Collection),
		memories: make(map[string]domain.Memory),
	}, nil
}

// getOrCreateCollection returns the collection for a session.
func (s *Store) getOrCreateCollection(sessionID string) (*chromem.Collection, error) {
	s.mu.RLock()
	col, exists := s.cols[sessionID]
	s.mu.RUnlock()
	if exists {
		return col, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check after acquiring write lock.
	if col, exists := s.cols[sessionID]; exists {
		return col, nil
	}

	name := "session_" + sessionID
	if sessionID == "" {
		name = "global"
	}

	// nil embedding func: we always provide embeddings ourselves.
	col, err := s.db.CreateCollection(name, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create collection: %v", domain.ErrIndexStore, err)
	}
	s.cols[sessionID] = col
	return col, nil
}

// Insert implements domain.Index. chromem overwrites on duplicate document
// ID, which keeps retried writes idempotent.
func (s *Store) Insert(ctx context.Context, mem domain.Memory) error {
	if mem.ID == "" {
		return fmt.Errorf("%w: insert: memory id is empty", domain.ErrInvalidInput)
	}
	if len(mem.Embedding) == 0 {
		return fmt.Errorf("%w: insert: memory %q has no embedding", domain.ErrInvalidInput, mem.ID)
	}
	if mem.CreatedAt.IsZero() {
		mem.CreatedAt = time.Now().UTC()
	}

	col, err := s.getOrCreateCollection(mem.SessionID)
	if err != nil {
		return err
	}

	doc := chromem.Document{
		ID:        mem.ID,
		Content:   mem.Content,
		Embedding: mem.Embedding,
		Metadata: map[string]string{
			"session_id":   mem.SessionID,
			"context_type": mem.ContextType,
			"importance":   strconv.FormatFloat(mem.Importance, 'f', -1, 64),
			"created_at":   mem.CreatedAt.Format(time.RFC3339Nano),
		},
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("%w: add document: %v", domain.ErrIndexStore, err)
	}

	s.mu.Lock()
	s.memories[mem.ID] = mem
	s.mu.Unlock()
	return nil
}

// Search implements domain.Index. An empty sessionID searches every
// collection and merges the results.
func (s *Store) Search(ctx context.Context, embedding []float32, sessionID string, limit int) ([]domain.Match, error) {
	if limit <= 0 {
		limit = 10
	}
	if len(embedding) == 0 {
		return nil, fmt.Errorf("%w: search: empty query embedding", domain.ErrInvalidInput)
	}

	s.mu.RLock()
	var cols []*chromem.Collection
	if sessionID != "" {
		if col, ok := s.cols[sessionID]; ok {
			cols = append(cols, col)
		}
	} else {
		for _, col := range s.cols {
			cols = append(cols, col)
		}
	}
	s.mu.RUnlock()

	var matches []domain.Match
	for _, col := range cols {
		// chromem requires nResults <= collection size.
		n := limit
		if count := col.Count(); count < n {
			n = count
		}
		if n == 0 {
			continue
		}

		results, err := col.QueryEmbedding(ctx, embedding, n, nil, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: query: %v", domain.ErrIndexSearch, err)
		}
		for _, res := range results {
			if res.Similarity <= 0 {
				continue
			}
			matches = append(matches, domain.Match{
				Memory:     s.lookup(res),
				Similarity: float64(res.Similarity),
			})
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].Memory.CreatedAt.After(matches[j].Memory.CreatedAt)
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// lookup resolves a chromem result to the full memory record, falling back
// to reconstructing it from document metadata.
func (s *Store) lookup(res chromem.Result) domain.Memory {
	s.mu.RLock()
	mem, ok := s.memories[res.ID]
	s.mu.RUnlock()
	if ok {
		return mem
	}

	importance, _ := strconv.ParseFloat(res.Metadata["importance"], 64)
	createdAt, _ := time.Parse(time.RFC3339Nano, res.Metadata["created_at"])
	return domain.Memory{
		ID:          res.ID,
		Content:     res.Content,
		ContextType: res.Metadata["context_type"],
		SessionID:   res.Metadata["session_id"],
		Embedding:   res.Embedding,
		Importance:  importance,
		CreatedAt:   createdAt,
	}
}

// UpdateImportance implements domain.Index by re-adding the document with
// refreshed metadata.
func (s *Store) UpdateImportance(ctx context.Context, id string, importance float64) error {
	s.mu.Lock()
	mem, ok := s.memories[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: id %q", domain.ErrNotFound, id)
	}
	mem.Importance = importance
	s.memories[id] = mem
	s.mu.Unlock()

	return s.Insert(ctx, mem)
}

// LowestImportance implements domain.Index.
func (s *Store) LowestImportance(ctx context.Context, n int) ([]domain.Memory, error) {
	if n <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	all := make([]domain.Memory, 0, len(s.memories))
	for _, mem := range s.memories {
		all = append(all, mem)
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].Importance != all[j].Importance {
			return all[i].Importance < all[j].Importance
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})
	if len(all) > n {
		all = all[:n]
	}
	return all, nil
}

// Purge implements domain.Index.
func (s *Store) Purge(ctx context.Context, ids []string) error {
	for _, id := range ids {
		s.mu.Lock()
		mem, ok := s.memories[id]
		if ok {
			delete(s.memories, id)
		}
		col := s.cols[mem.SessionID]
		s.mu.Unlock()

		if !ok || col == nil {
			continue
		}
		if err := col.Delete(ctx, nil, nil, id); err != nil {
			return fmt.Errorf("%w: delete %q: %v", domain.ErrIndexStore, id, err)
		}
	}
	return nil
}

// Count implements domain.Index.
func (s *Store) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.memories), nil
}

// SizeBytes implements domain.Index. chromem has no page accounting, so
// this is an estimate of content plus vector bytes.
func (s *Store) SizeBytes(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int64
	for _, mem := range s.memories {
		total += int64(len(mem.Content)) + int64(len(mem.Embedding)*4)
	}
	return total, nil
}

// SessionStats implements domain.Index.
func (s *Store) SessionStats(ctx context.Context, sessionID string) (domain.SessionStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats domain.SessionStats
	var sum float64
	for _, mem := range s.memories {
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

// Name implements domain.Index.
func (s *Store) Name() string { return "chromem" }

// Close implements domain.Index. chromem keeps everything in memory.
func (s *Store) Close() error { return nil }

// Compile-time interface check.
var _ domain.Index = (*Store)(nil)
