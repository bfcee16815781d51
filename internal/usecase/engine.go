package usecase

import (
	"context"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"recalld/internal/domain"
	"recalld/internal/infra/config"
	"recalld/internal/infra/tracer"
)

// latencyWindow is how many recent retrievals feed the average latency.
const latencyWindow = 256

// Engine is the facade over both storage tiers: StoreContext admits a
// memory into the hot cache and schedules its durable write, RetrieveFast
// answers within the configured deadline from whichever tiers respond.
type Engine struct {
	cfg      config.EngineConfig
	hot      *HotCache
	registry *Registry
	evictor  *Evictor
	sched    *Scheduler
	queue    *WriteQueue
	index    domain.Index
	embedder domain.EmbeddingProvider
	scorer   domain.Scorer
	logger   *slog.Logger

	latMu   sync.Mutex
	lats    [latencyWindow]float64
	latPos  int
	latFill int

	closed atomic.Bool
}

// NewEngine wires the engine from its dependencies.
func NewEngine(cfg config.EngineConfig, index domain.Index, embedder domain.EmbeddingProvider, scorer domain.Scorer, logger *slog.Logger) *Engine {
	if scorer == nil {
		scorer = HeuristicScorer{}
	}

	evictor := NewEvictor(24*time.Hour, logger)
	hot := NewHotCache(cfg.HotCacheCapacity, evictor)

	e := &Engine{
		cfg:      cfg,
		hot:      hot,
		registry: NewRegistry(),
		evictor:  evictor,
		sched:    NewScheduler(hot, index, WeightedRank, cfg.PersistentFloor, logger),
		index:    index,
		embedder: embedder,
		scorer:   scorer,
		logger:   logger,
	}
	if cfg.Durability != "sync" {
		e.queue = NewWriteQueue(index, cfg.WriteQueueSize, logger)
	}
	return e
}

// ulidEntropy is shared across calls so IDs generated within the same
// millisecond stay unique. Monotonic readers are not safe for concurrent
// use, hence the mutex.
var (
	ulidMu      sync.Mutex
	ulidEntropy = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

// generateULID returns a lexicographically sortable unique memory ID.
func generateULID(t time.Time) string {
	ulidMu.Lock()
	defer ulidMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), ulidEntropy).String()
}

// StoreContext embeds and stores one unit of context. The memory is
// readable from RetrieveFast as soon as this returns, before the durable
// write lands.
func (e *Engine) StoreContext(ctx context.Context, sessionID, content, contextType string, metadata map[string]string) (domain.Memory, error) {
	const op = "Engine.StoreContext"
	if e.closed.Load() {
		return domain.Memory{}, domain.NewDomainError(op, domain.ErrEngineClosed, "")
	}
	if strings.TrimSpace(sessionID) == "" {
		return domain.Memory{}, domain.NewDomainError(op, domain.ErrInvalidInput, "session_id is empty")
	}
	if strings.TrimSpace(content) == "" {
		return domain.Memory{}, domain.NewDomainError(op, domain.ErrInvalidInput, "content is empty")
	}

	ctx, span := tracer.StartSpan(ctx, "engine.store_context")
	defer span.End()
	span.SetAttributes(tracer.StringAttr("session_id", sessionID))

	vecs, err := e.embedder.Embed(ctx, []string{content})
	if err != nil {
		tracer.RecordError(span, err)
		return domain.Memory{}, domain.WrapOp(op, err)
	}
	if len(vecs) == 0 {
		err := domain.NewDomainError(op, domain.ErrEmbeddingFailed, "provider returned no vectors")
		tracer.RecordError(span, err)
		return domain.Memory{}, err
	}

	now := time.Now().UTC()
	mem := domain.Memory{
		ID:          generateULID(now),
		Content:     content,
		ContextType: contextType,
		SessionID:   sessionID,
		Metadata:    metadata,
		Embedding:   vecs[0],
		Importance:  e.scorer.Score(content, contextType),
		CreatedAt:   now,
	}

	if err := e.hot.Put(mem); err != nil {
		// Eviction could not free space: the write is rejected, nothing
		// reaches the index or the registry.
		err = domain.NewDomainError(op, domain.ErrCapacityExceeded, "hot cache cannot admit memory")
		tracer.RecordError(span, err)
		return domain.Memory{}, err
	}
	e.registry.Register(sessionID, mem.ID)

	if err := e.persist(ctx, mem); err != nil {
		tracer.RecordError(span, err)
		return domain.Memory{}, domain.WrapOp(op, err)
	}

	tracer.SetOK(span)
	return mem, nil
}

// persist routes the durable write according to the durability mode. In
// async mode the caller never sees an index failure: the hot cache
// already holds the memory, and a missed durable write is a logged
// warning, not a store error.
func (e *Engine) persist(ctx context.Context, mem domain.Memory) error {
	if e.queue == nil {
		return e.index.Insert(ctx, mem)
	}
	if err := e.queue.Enqueue(mem); err != nil {
		e.logger.Warn("write queue full, inserting synchronously", "id", mem.ID)
		if insErr := e.index.Insert(ctx, mem); insErr != nil {
			e.logger.Warn("durable write failed, memory is cache-only", "id", mem.ID, "error", insErr)
		}
	}
	return nil
}

// RetrieveFast returns the most relevant memories for the query within
// the configured deadline. An empty sessionID searches across all
// sessions. When the persistent index cannot answer in time the result
// is hot-cache-only and flagged Degraded.
func (e *Engine) RetrieveFast(ctx context.Context, sessionID, query string, limit int) (domain.RecallResult, error) {
	const op = "Engine.RetrieveFast"
	if e.closed.Load() {
		return domain.RecallResult{}, domain.NewDomainError(op, domain.ErrEngineClosed, "")
	}
	if strings.TrimSpace(query) == "" {
		return domain.RecallResult{}, domain.NewDomainError(op, domain.ErrInvalidInput, "query is empty")
	}
	if limit <= 0 {
		limit = 10
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, e.cfg.RetrievalTimeout)
	defer cancel()

	ctx, span := tracer.StartSpan(ctx, "engine.retrieve_fast")
	defer span.End()
	span.SetAttributes(tracer.StringAttr("session_id", sessionID))

	vecs, err := e.embedder.Embed(ctx, []string{query})
	if err != nil {
		tracer.RecordError(span, err)
		return domain.RecallResult{}, domain.WrapOp(op, err)
	}
	if len(vecs) == 0 {
		err := domain.NewDomainError(op, domain.ErrEmbeddingFailed, "provider returned no vectors")
		tracer.RecordError(span, err)
		return domain.RecallResult{}, err
	}

	memories, degraded, err := e.sched.Retrieve(ctx, vecs[0], sessionID, limit)
	if err != nil {
		tracer.RecordError(span, err)
		return domain.RecallResult{}, domain.WrapOp(op, err)
	}

	// Returned memories just proved useful: boost their cached copies.
	for _, m := range memories {
		e.hot.Touch(m.SessionID, m.ID)
	}
	if sessionID != "" {
		e.registry.Touch(sessionID)
	}

	elapsed := float64(time.Since(start).Microseconds()) / 1000.0
	e.recordLatency(elapsed)
	span.SetAttributes(tracer.IntAttr("results", len(memories)))
	tracer.SetOK(span)

	return domain.RecallResult{
		Memories:    memories,
		QueryTimeMS: elapsed,
		Summary:     summarize(memories),
		Degraded:    degraded,
	}, nil
}

// Summary bounds so the synopsis stays a synopsis.
const (
	summaryMaxMemories = 3
	summarySnippetLen  = 80
)

// summarize builds a deterministic structural synopsis of the top-ranked
// memories. Not generative: just the leading contents, truncated.
func summarize(memories []domain.ScoredMemory) string {
	if len(memories) == 0 {
		return "no relevant context found"
	}

	var b strings.Builder
	for i, m := range memories {
		if i == summaryMaxMemories {
			break
		}
		if b.Len() > 0 {
			b.WriteString("; ")
		}
		b.WriteString(truncate(m.Content, summarySnippetLen))
	}
	return b.String()
}

// truncate shortens s to at most n runes with an ellipsis.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-3]) + "..."
}

// recordLatency stores one retrieval latency in the sliding window.
func (e *Engine) recordLatency(ms float64) {
	e.latMu.Lock()
	e.lats[e.latPos] = ms
	e.latPos = (e.latPos + 1) % latencyWindow
	if e.latFill < latencyWindow {
		e.latFill++
	}
	e.latMu.Unlock()
}

// avgLatencyMS returns the mean over the sliding window, 0 when empty.
func (e *Engine) avgLatencyMS() float64 {
	e.latMu.Lock()
	defer e.latMu.Unlock()

	if e.latFill == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < e.latFill; i++ {
		sum += e.lats[i]
	}
	return sum / float64(e.latFill)
}

// Status reports the engine-wide view, recomputed on demand.
func (e *Engine) Status(ctx context.Context) (domain.EngineStatus, error) {
	const op = "Engine.Status"
	if e.closed.Load() {
		return domain.EngineStatus{}, domain.NewDomainError(op, domain.ErrEngineClosed, "")
	}

	total, err := e.index.Count(ctx)
	if err != nil {
		return domain.EngineStatus{}, domain.WrapOp(op, err)
	}
	size, err := e.index.SizeBytes(ctx)
	if err != nil {
		return domain.EngineStatus{}, domain.WrapOp(op, err)
	}

	return domain.EngineStatus{
		TotalContexts:    total,
		ActiveSessions:   e.registry.ActiveCount(),
		MemoryUsageBytes: size,
		AvgRetrievalMS:   e.avgLatencyMS(),
	}, nil
}

// SessionStats reports one session's aggregate view.
func (e *Engine) SessionStats(ctx context.Context, sessionID string) (domain.SessionStats, error) {
	const op = "Engine.SessionStats"
	if e.closed.Load() {
		return domain.SessionStats{}, domain.NewDomainError(op, domain.ErrEngineClosed, "")
	}

	if _, err := e.registry.Get(sessionID); err != nil {
		// Unknown to the registry, but memories may still be persisted
		// from a previous process lifetime.
		stats, statErr := e.index.SessionStats(ctx, sessionID)
		if statErr != nil {
			return domain.SessionStats{}, domain.WrapOp(op, statErr)
		}
		if stats.TotalMemories == 0 {
			return domain.SessionStats{}, domain.NewDomainError(op, domain.ErrSessionNotFound, sessionID)
		}
		return stats, nil
	}

	stats, err := e.index.SessionStats(ctx, sessionID)
	if err != nil {
		return domain.SessionStats{}, domain.WrapOp(op, err)
	}
	return stats, nil
}

// Sweep runs one maintenance round: purge the index down to the memory
// limit and reap sessions idle for over an hour.
func (e *Engine) Sweep(ctx context.Context) {
	if e.closed.Load() {
		return
	}

	purged, err := e.evictor.SweepIndex(ctx, e.index, e.cfg.MemoryLimitBytes)
	if err != nil {
		e.logger.Warn("pressure sweep failed", "error", err)
	}
	reaped := e.registry.ReapStale(time.Hour)
	if purged > 0 || reaped > 0 {
		e.logger.Info("maintenance sweep done", "purged", purged, "sessions_reaped", reaped)
	}
}

// Close drains the write queue and closes the index. Safe to call once.
func (e *Engine) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	if e.queue != nil {
		e.queue.Close()
	}
	return e.index.Close()
}
