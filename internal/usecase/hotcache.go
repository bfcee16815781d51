package usecase

import (
	"sort"
	"sync"
	"time"

	"recalld/internal/domain"
)

// hotEntry is a cached memory plus its access state. The boost rises on
// each access and decays between accesses; both feed the eviction policy.
type hotEntry struct {
	mem        domain.Memory
	boost      float64
	lastAccess time.Time
}

// HotCache is the bounded in-process tier. Lookups never touch disk, so
// retrieval stays fast even when the persistent index is slow or down.
//
// Admission is strict: when the cache is full, the entry with the lowest
// effective importance is evicted under the same lock before the new one
// is admitted. Evicted entries are not lost — every memory is also sent
// to the persistent index on store.
type HotCache struct {
	mu       sync.RWMutex
	sessions map[string]map[string]*hotEntry // sessionID → id → entry
	size     int
	capacity int
	evictor  *Evictor
}

// NewHotCache creates a cache bounded to capacity entries.
func NewHotCache(capacity int, evictor *Evictor) *HotCache {
	return &HotCache{
		sessions: make(map[string]map[string]*hotEntry),
		capacity: capacity,
		evictor:  evictor,
	}
}

// Put admits a memory, evicting the lowest-effective-importance entry
// first when at capacity. Returns domain.ErrCapacityExceeded only when
// the cache cannot hold anything at all (capacity <= 0).
func (c *HotCache) Put(mem domain.Memory) error {
	if c.capacity <= 0 {
		return domain.ErrCapacityExceeded
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	sess, ok := c.sessions[mem.SessionID]
	if !ok {
		sess = make(map[string]*hotEntry)
		c.sessions[mem.SessionID] = sess
	}

	if _, exists := sess[mem.ID]; exists {
		sess[mem.ID].mem = mem
		return nil
	}

	if c.size >= c.capacity {
		c.evictLowestLocked()
	}

	sess[mem.ID] = &hotEntry{mem: mem, lastAccess: time.Now()}
	c.size++
	return nil
}

// evictLowestLocked removes the entry with the lowest effective importance
// across all sessions. Caller must hold the write lock.
func (c *HotCache) evictLowestLocked() {
	now := time.Now()
	var (
		lowestSession string
		lowestID      string
		lowestScore   = 2.0 // above any possible effective importance
	)

	for sid, sess := range c.sessions {
		for id, e := range sess {
			score := c.evictor.Effective(e.mem, e.boost, e.lastAccess, now)
			if score < lowestScore {
				lowestScore = score
				lowestSession = sid
				lowestID = id
			}
		}
	}

	if lowestID == "" {
		return
	}
	delete(c.sessions[lowestSession], lowestID)
	if len(c.sessions[lowestSession]) == 0 {
		delete(c.sessions, lowestSession)
	}
	c.size--
}

// Session returns copies of all cached memories for a session, most
// recent first.
func (c *HotCache) Session(sessionID string) []domain.Memory {
	c.mu.RLock()
	defer c.mu.RUnlock()

	sess, ok := c.sessions[sessionID]
	if !ok {
		return nil
	}
	memories := make([]domain.Memory, 0, len(sess))
	for _, e := range sess {
		memories = append(memories, e.mem)
	}
	sort.Slice(memories, func(i, j int) bool {
		return memories[i].CreatedAt.After(memories[j].CreatedAt)
	})
	return memories
}

// All returns copies of every cached memory across all sessions. Used by
// unscoped retrieval, which is an explicit opt-in.
func (c *HotCache) All() []domain.Memory {
	c.mu.RLock()
	defer c.mu.RUnlock()

	memories := make([]domain.Memory, 0, c.size)
	for _, sess := range c.sessions {
		for _, e := range sess {
			memories = append(memories, e.mem)
		}
	}
	return memories
}

// Touch records an access on a cached memory: the boost rises with
// diminishing returns toward the evictor's cap, and the access clock
// resets so the boost decays from now.
func (c *HotCache) Touch(sessionID, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, ok := c.sessions[sessionID]
	if !ok {
		return
	}
	e, ok := sess[id]
	if !ok {
		return
	}
	e.boost = c.evictor.Boost(e.boost, e.lastAccess, time.Now())
	e.lastAccess = time.Now()
}

// Remove drops a memory from the cache, if present.
func (c *HotCache) Remove(sessionID, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, ok := c.sessions[sessionID]
	if !ok {
		return
	}
	if _, ok := sess[id]; !ok {
		return
	}
	delete(sess, id)
	if len(sess) == 0 {
		delete(c.sessions, sessionID)
	}
	c.size--
}

// Len returns the total number of cached entries.
func (c *HotCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.size
}

// SessionLen returns the number of cached entries for one session.
func (c *HotCache) SessionLen(sessionID string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sessions[sessionID])
}
