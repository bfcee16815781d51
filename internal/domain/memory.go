package domain

import (
	"context"
	"time"
)

// Memory is one stored unit of context content.
//
// ID, Content, ContextType, SessionID, Embedding, and CreatedAt are
// immutable after creation. Importance is mutable and only ever updated
// inside the engine (access boosts, decay).
type Memory struct {
	ID          string            `json:"id"`
	Content     string            `json:"content"`
	ContextType string            `json:"context_type"`
	SessionID   string            `json:"session_id"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Embedding   []float32         `json:"-"`
	Importance  float64           `json:"importance"`
	CreatedAt   time.Time         `json:"created_at"`
}

// ScoredMemory pairs a Memory with its per-query relevance score.
// Relevance is transient: computed during retrieval, never stored.
type ScoredMemory struct {
	Memory
	Relevance float64 `json:"relevance_score"`
}

// Match is a persistent-index search hit: a memory plus its cosine
// similarity to the query embedding.
type Match struct {
	Memory     Memory
	Similarity float64
}

// RecallResult is the outcome of a RetrieveFast call.
type RecallResult struct {
	Memories    []ScoredMemory `json:"memories"`
	QueryTimeMS float64        `json:"query_time_ms"`
	Summary     string         `json:"context_summary"`
	// Degraded is true when the persistent index was skipped or did not
	// answer before the deadline and the result is hot-cache-only.
	Degraded bool `json:"degraded"`
}

// EngineStatus is the aggregate engine view, recomputed on demand.
type EngineStatus struct {
	TotalContexts    int     `json:"total_contexts"`
	ActiveSessions   int     `json:"active_sessions"`
	MemoryUsageBytes int64   `json:"memory_usage_bytes"`
	AvgRetrievalMS   float64 `json:"avg_retrieval_time_ms"`
}

// SessionStats is the per-session view.
type SessionStats struct {
	TotalMemories     int     `json:"total_memories"`
	AverageImportance float64 `json:"average_importance"`
}

// Index is the persistent, vector-searchable memory tier.
//
// Insert must be idempotent on Memory.ID (retried writes never produce
// duplicate search results). Search orders by descending similarity,
// breaking ties by more recent CreatedAt; an empty sessionID searches
// across all sessions. Purge is destructive and irreversible.
type Index interface {
	Insert(ctx context.Context, mem Memory) error
	Search(ctx context.Context, embedding []float32, sessionID string, limit int) ([]Match, error)
	UpdateImportance(ctx context.Context, id string, importance float64) error
	LowestImportance(ctx context.Context, n int) ([]Memory, error)
	Purge(ctx context.Context, ids []string) error
	Count(ctx context.Context) (int, error)
	SizeBytes(ctx context.Context) (int64, error)
	SessionStats(ctx context.Context, sessionID string) (SessionStats, error)
	Name() string
	Close() error
}
