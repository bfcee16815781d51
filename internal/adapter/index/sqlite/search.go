package sqlite

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"recalld/internal/domain"
)

const defaultMaxCandidates = 10000

// Search implements domain.Index: cosine similarity over stored embeddings,
// filtered to sessionID when non-empty. Results are ordered by descending
// similarity; ties go to the more recently created memory.
//
// It uses the in-memory vector index when available (avoiding SQLite I/O),
// and falls back to a database scan while the index loads.
func (s *Store) Search(ctx context.Context, embedding []float32, sessionID string, limit int) ([]domain.Match, error) {
	if limit <= 0 {
		limit = 10
	}
	if len(embedding) == 0 {
		return nil, fmt.Errorf("%w: search: empty query embedding", domain.ErrInvalidInput)
	}

	if !s.vecIdx.isLoaded() {
		if err := s.vecIdx.loadFromDB(ctx, s); err != nil {
			s.logger.Warn("index: failed to load vec index, falling back to DB scan", "error", err)
			return s.searchDB(ctx, embedding, sessionID, limit)
		}
	}

	matches := s.vecIdx.search(embedding, sessionID, limit)
	if matches != nil {
		return matches, nil
	}

	return s.searchDB(ctx, embedding, sessionID, limit)
}

// searchDB is the database-scan based search, used as a fallback when the
// in-memory index is unavailable.
func (s *Store) searchDB(ctx context.Context, embedding []float32, sessionID string, limit int) ([]domain.Match, error) {
	query := `SELECT id, session_id, context_type, content, metadata, embedding, importance, created_at
		FROM memories WHERE embedding IS NOT NULL`
	args := []any{}
	if sessionID != "" {
		query += " AND session_id = ?"
		args = append(args, sessionID)
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, defaultMaxCandidates)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query: %v", domain.ErrIndexSearch, err)
	}
	defer rows.Close()

	var matches []domain.Match
	for rows.Next() {
		mem, ok := s.scanMemory(rows)
		if !ok {
			continue
		}
		sim := cosineSimilarity(embedding, mem.Embedding)
		if sim <= 0 {
			continue
		}
		matches = append(matches, domain.Match{Memory: mem, Similarity: float64(sim)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: rows: %v", domain.ErrIndexSearch, err)
	}

	sortMatches(matches)
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// sortMatches orders by descending similarity, then by more recent CreatedAt.
func sortMatches(matches []domain.Match) {
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].Memory.CreatedAt.After(matches[j].Memory.CreatedAt)
	})
}

// cosineSimilarity computes dot(a,b) / (||a|| * ||b||).
// Returns 0 for zero-length vectors, length mismatch, or NaN/Inf results.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float32
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	denom := float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB)))
	if denom == 0 {
		return 0
	}
	result := dot / denom
	if math.IsNaN(float64(result)) || math.IsInf(float64(result), 0) {
		return 0
	}
	return result
}

// float32ToBytes converts a float32 slice to little-endian bytes.
func float32ToBytes(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// bytesToFloat32 converts little-endian bytes back to a float32 slice.
func bytesToFloat32(b []byte) []float32 {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
