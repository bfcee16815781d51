package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"recalld/internal/domain"
)

// Default circuit breaker settings for the durability path.
const (
	defaultWQMaxFailures uint32        = 5
	defaultWQTimeout     time.Duration = 10 * time.Second
	defaultWQInterval    time.Duration = 60 * time.Second

	writeAttempts    = 3
	writeBackoffBase = 100 * time.Millisecond
	writeTimeout     = 5 * time.Second
)

// WriteQueue decouples StoreContext from index latency: writes are
// buffered and drained by a single worker, so a slow or failing index
// never blocks the store path. A circuit breaker prevents retry storms
// when the index is down; writes that cannot land are dropped with a
// warning (the hot cache still serves them until evicted).
type WriteQueue struct {
	index   domain.Index
	breaker *gobreaker.CircuitBreaker[any]
	logger  *slog.Logger

	ch     chan domain.Memory
	wg     sync.WaitGroup
	closed sync.Once
}

// NewWriteQueue creates a write queue with the given buffer size and
// starts its worker.
func NewWriteQueue(index domain.Index, size int, logger *slog.Logger) *WriteQueue {
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "index:" + index.Name(),
		MaxRequests: 1, // allow 1 probe in half-open state
		Interval:    defaultWQInterval,
		Timeout:     defaultWQTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= defaultWQMaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil
		},
	})

	q := &WriteQueue{
		index:   index,
		breaker: cb,
		logger:  logger,
		ch:      make(chan domain.Memory, size),
	}
	q.wg.Add(1)
	go q.worker()
	return q
}

// Enqueue hands a memory to the durability worker without blocking.
// Returns domain.ErrCapacityExceeded when the buffer is full; the caller
// decides whether to fall back to a synchronous insert.
func (q *WriteQueue) Enqueue(mem domain.Memory) error {
	select {
	case q.ch <- mem:
		return nil
	default:
		return fmt.Errorf("%w: write queue full (%d pending)", domain.ErrCapacityExceeded, len(q.ch))
	}
}

// Pending returns the number of buffered writes.
func (q *WriteQueue) Pending() int { return len(q.ch) }

func (q *WriteQueue) worker() {
	defer q.wg.Done()
	for mem := range q.ch {
		if err := q.insert(mem); err != nil {
			q.logger.Warn("dropping memory: durable insert failed",
				"id", mem.ID, "session_id", mem.SessionID, "error", err)
		}
	}
}

// insert writes one memory through the breaker with bounded retries.
func (q *WriteQueue) insert(mem domain.Memory) error {
	var lastErr error
	for attempt := 0; attempt < writeAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(writeBackoffBase << (attempt - 1))
		}

		_, err := q.breaker.Execute(func() (any, error) {
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			defer cancel()
			return nil, q.index.Insert(ctx, mem)
		})
		if err == nil {
			return nil
		}
		lastErr = err

		// An open breaker means the index is down; retrying this write
		// now only burns the backoff budget.
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("%w: %v", domain.ErrIndexUnavailable, err)
		}
	}
	return lastErr
}

// Close stops accepting writes and drains the buffer.
func (q *WriteQueue) Close() {
	q.closed.Do(func() {
		close(q.ch)
	})
	q.wg.Wait()
}
