package usecase

import (
	"context"
	"log/slog"
	"time"

	"recalld/internal/domain"
)

// Evictor holds the importance policy shared by the hot cache and the
// persistent index pressure sweep.
//
// Effective importance layers two signals on the stored base importance:
// recency decay (old memories matter less) and an access boost (memories
// that keep getting retrieved matter more). The boost itself decays
// between accesses so a once-hot memory cools off.
type Evictor struct {
	decay     DecayFunc
	boostStep float64
	boostCap  float64
	logger    *slog.Logger
}

// NewEvictor creates an evictor with the given decay half-life.
func NewEvictor(halfLife time.Duration, logger *slog.Logger) *Evictor {
	return &Evictor{
		decay:     ExponentialDecay(halfLife),
		boostStep: 0.1,
		boostCap:  0.5,
		logger:    logger,
	}
}

// Effective computes base*decay(age) + boost*decay(sinceAccess), clamped
// to [0,1].
func (e *Evictor) Effective(mem domain.Memory, boost float64, lastAccess, now time.Time) float64 {
	score := mem.Importance * e.decay(now.Sub(mem.CreatedAt))
	if boost > 0 && !lastAccess.IsZero() {
		score += boost * e.decay(now.Sub(lastAccess))
	}
	if score > 1 {
		return 1
	}
	if score < 0 {
		return 0
	}
	return score
}

// Boost returns the new boost value after an access: the stale boost
// decays first, then a step is added with diminishing returns toward the cap.
func (e *Evictor) Boost(current float64, lastAccess, now time.Time) float64 {
	if !lastAccess.IsZero() {
		current *= e.decay(now.Sub(lastAccess))
	}
	next := current + e.boostStep*(1-current/e.boostCap)
	if next > e.boostCap {
		next = e.boostCap
	}
	return next
}

// sweepBatch is how many purge candidates one sweep round considers.
const sweepBatch = 64

// maxSweepRounds bounds one sweep call. SQLite keeps freed pages
// allocated, so SizeBytes may not shrink immediately after a purge;
// without a bound the loop could drain the whole index in one call.
const maxSweepRounds = 4

// SweepIndex purges lowest-importance entries from the index while its
// footprint exceeds limitBytes. A limit of 0 disables purging. Selection
// is two-phase: candidates are picked by stored importance, then
// revalidated against effective importance so a recently re-accessed
// memory survives the sweep.
//
// Returns the number of purged entries.
func (e *Evictor) SweepIndex(ctx context.Context, index domain.Index, limitBytes int64) (int, error) {
	if limitBytes <= 0 {
		return 0, nil
	}

	purged := 0
	for round := 0; round < maxSweepRounds; round++ {
		size, err := index.SizeBytes(ctx)
		if err != nil {
			return purged, domain.WrapOp("Evictor.SweepIndex", err)
		}
		if size <= limitBytes {
			return purged, nil
		}

		candidates, err := index.LowestImportance(ctx, sweepBatch)
		if err != nil {
			return purged, domain.WrapOp("Evictor.SweepIndex", err)
		}
		if len(candidates) == 0 {
			return purged, nil
		}

		// Phase 2: revalidate. Keep entries whose effective importance
		// is still meaningful; purge the rest.
		now := time.Now()
		ids := make([]string, 0, len(candidates))
		for _, mem := range candidates {
			if e.Effective(mem, 0, time.Time{}, now) >= 0.5 {
				continue
			}
			ids = append(ids, mem.ID)
		}
		if len(ids) == 0 {
			// Everything left is high-value; stop rather than purge it.
			e.logger.Warn("index over memory limit but remaining entries are high-importance",
				"size_bytes", size, "limit_bytes", limitBytes)
			return purged, nil
		}

		if err := index.Purge(ctx, ids); err != nil {
			return purged, domain.WrapOp("Evictor.SweepIndex", err)
		}
		purged += len(ids)
		e.logger.Info("pressure sweep purged entries",
			"count", len(ids), "size_bytes", size, "limit_bytes", limitBytes)
	}
	return purged, nil
}
