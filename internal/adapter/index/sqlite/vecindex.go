package sqlite

import (
	"context"
	"sync"

	"recalld/internal/domain"
)

// vecIndex is an in-memory index of embedding vectors that avoids SQLite I/O
// on every search. Entries are loaded lazily on the first search and updated
// incrementally on Insert/Purge operations.
type vecIndex struct {
	mu      sync.RWMutex
	entries map[string]domain.Memory // id → memory with embedding
	loaded  bool
}

func newVecIndex() *vecIndex {
	return &vecIndex{
		entries: make(map[string]domain.Memory),
	}
}

// search performs in-memory cosine similarity search, filtered to sessionID
// when non-empty. Returns nil if the index has not been loaded yet.
func (idx *vecIndex) search(queryVec []float32, sessionID string, limit int) []domain.Match {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if !idx.loaded {
		return nil
	}

	matches := make([]domain.Match, 0, limit)
	for _, mem := range idx.entries {
		if sessionID != "" && mem.SessionID != sessionID {
			continue
		}
		sim := cosineSimilarity(queryVec, mem.Embedding)
		if sim <= 0 {
			continue
		}
		matches = append(matches, domain.Match{Memory: mem, Similarity: float64(sim)})
	}

	sortMatches(matches)
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

// put adds or updates a memory in the index.
func (idx *vecIndex) put(mem domain.Memory) {
	if mem.Embedding == nil {
		return
	}
	idx.mu.Lock()
	idx.entries[mem.ID] = mem
	idx.mu.Unlock()
}

// setImportance updates the cached importance for id, if present.
func (idx *vecIndex) setImportance(id string, importance float64) {
	idx.mu.Lock()
	if mem, ok := idx.entries[id]; ok {
		mem.Importance = importance
		idx.entries[id] = mem
	}
	idx.mu.Unlock()
}

// remove deletes a memory from the index.
func (idx *vecIndex) remove(id string) {
	idx.mu.Lock()
	delete(idx.entries, id)
	idx.mu.Unlock()
}

// isLoaded returns whether the index has been populated from the database.
func (idx *vecIndex) isLoaded() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.loaded
}

// size returns the number of entries in the index.
func (idx *vecIndex) size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

// loadFromDB populates the index from the database. This is called once
// on the first search. Subsequent calls are no-ops.
func (idx *vecIndex) loadFromDB(ctx context.Context, s *Store) error {
	idx.mu.Lock()
	if idx.loaded {
		idx.mu.Unlock()
		return nil
	}
	idx.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, context_type, content, metadata, embedding, importance, created_at
		 FROM memories WHERE embedding IS NOT NULL`,
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	entries := make(map[string]domain.Memory)
	for rows.Next() {
		mem, ok := s.scanMemory(rows)
		if !ok || mem.Embedding == nil {
			continue
		}
		entries[mem.ID] = mem
	}

	idx.mu.Lock()
	idx.entries = entries
	idx.loaded = true
	idx.mu.Unlock()

	return rows.Err()
}
