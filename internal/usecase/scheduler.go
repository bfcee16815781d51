package usecase

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"recalld/internal/domain"
	"recalld/internal/infra/tracer"
)

// Scheduler runs a time-boxed two-tier retrieval: the hot cache answers
// synchronously, the persistent index is queried concurrently and merged
// in only if it beats the deadline.
type Scheduler struct {
	hot    *HotCache
	index  domain.Index
	rank   RankFunc
	floor  time.Duration // minimum budget required to fan out to the index
	logger *slog.Logger
}

// NewScheduler creates a retrieval scheduler.
func NewScheduler(hot *HotCache, index domain.Index, rank RankFunc, floor time.Duration, logger *slog.Logger) *Scheduler {
	if rank == nil {
		rank = WeightedRank
	}
	return &Scheduler{
		hot:    hot,
		index:  index,
		rank:   rank,
		floor:  floor,
		logger: logger,
	}
}

// Retrieve returns up to limit memories ranked by relevance to queryVec.
// ctx is expected to carry the retrieval deadline. degraded reports that
// the persistent index was skipped or did not answer in time, so the
// result is hot-cache-only.
func (s *Scheduler) Retrieve(ctx context.Context, queryVec []float32, sessionID string, limit int) (memories []domain.ScoredMemory, degraded bool, err error) {
	ctx, span := tracer.StartSpan(ctx, "scheduler.retrieve")
	defer span.End()
	span.SetAttributes(
		tracer.StringAttr("session_id", sessionID),
		tracer.IntAttr("limit", limit),
	)

	// Fan out to the index first so it searches while we scan the cache.
	type indexResult struct {
		matches []domain.Match
		err     error
	}
	var indexCh chan indexResult

	budget := time.Duration(0)
	if deadline, ok := ctx.Deadline(); ok {
		budget = time.Until(deadline)
	}

	if budget > s.floor {
		indexCh = make(chan indexResult, 1)
		go func() {
			matches, err := s.index.Search(ctx, queryVec, sessionID, limit)
			indexCh <- indexResult{matches: matches, err: err}
		}()
	} else {
		degraded = true
	}

	hotMatches := s.searchHot(queryVec, sessionID, limit)

	var indexMatches []domain.Match
	if indexCh != nil {
		select {
		case res := <-indexCh:
			if res.err != nil {
				s.logger.Warn("index search failed, serving hot tier only", "error", res.err)
				tracer.RecordError(span, res.err)
				degraded = true
			} else {
				indexMatches = res.matches
			}
		case <-ctx.Done():
			s.logger.Debug("index search missed the deadline, serving hot tier only",
				"session_id", sessionID)
			degraded = true
		}
	}

	merged := s.merge(hotMatches, indexMatches, limit)
	if !degraded {
		tracer.SetOK(span)
	}
	return merged, degraded, nil
}

// searchHot scores the cached memories against the query. An empty
// sessionID scans all sessions (unscoped retrieval).
func (s *Scheduler) searchHot(queryVec []float32, sessionID string, limit int) []domain.Match {
	var cached []domain.Memory
	if sessionID == "" {
		cached = s.hot.All()
	} else {
		cached = s.hot.Session(sessionID)
	}
	if len(cached) == 0 {
		return nil
	}

	matches := make([]domain.Match, 0, len(cached))
	for _, mem := range cached {
		sim := cosineSimilarity(queryVec, mem.Embedding)
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
	return matches
}

// merge combines both tiers, deduplicating by memory ID. The hot copy
// wins a collision: it is never staler than the indexed one, so a write
// is readable immediately after StoreContext even while the async
// durability queue is behind.
func (s *Scheduler) merge(hot, index []domain.Match, limit int) []domain.ScoredMemory {
	seen := make(map[string]struct{}, len(hot)+len(index))
	scored := make([]domain.ScoredMemory, 0, len(hot)+len(index))

	for _, m := range hot {
		seen[m.Memory.ID] = struct{}{}
		scored = append(scored, domain.ScoredMemory{
			Memory:    m.Memory,
			Relevance: s.rank(m.Similarity, m.Memory.Importance),
		})
	}
	for _, m := range index {
		if _, dup := seen[m.Memory.ID]; dup {
			continue
		}
		scored = append(scored, domain.ScoredMemory{
			Memory:    m.Memory,
			Relevance: s.rank(m.Similarity, m.Memory.Importance),
		})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Relevance != scored[j].Relevance {
			return scored[i].Relevance > scored[j].Relevance
		}
		return scored[i].CreatedAt.After(scored[j].CreatedAt)
	})
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}
