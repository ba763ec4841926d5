package routing

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// DecisionCache provides short-TTL caching of routing decisions keyed by
// a request-derived hash. Decisions are immutable once built, so cached
// entries are returned as-is.
type DecisionCache struct {
	mu              sync.RWMutex
	items           map[string]*cacheItem
	stats           CacheStats
	maxSize         int
	cleanupInterval time.Duration
	stopCleanup     chan bool
}

type cacheItem struct {
	decision  *RoutingDecision
	expiresAt time.Time
}

// CacheStats provides cache performance metrics
type CacheStats struct {
	Size      int     `json:"size"`
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	HitRate   float64 `json:"hit_rate"`
}

// NewDecisionCache creates a cache with the given capacity and a
// background cleanup routine.
func NewDecisionCache(maxSize int, cleanupInterval time.Duration) *DecisionCache {
	if maxSize <= 0 {
		maxSize = 1000
	}
	if cleanupInterval <= 0 {
		cleanupInterval = 5 * time.Minute
	}
	c := &DecisionCache{
		items:           make(map[string]*cacheItem),
		maxSize:         maxSize,
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan bool),
	}

	go c.cleanupRoutine()

	return c
}

// CacheKey derives the cache key from everything that influences a
// decision: pattern identity, constraints, caller identity, and the
// session's assignment history.
func CacheKey(req *PatternRequest, execCtx *ExecutionContext) string {
	var b strings.Builder
	b.WriteString(req.PatternID)
	b.WriteByte('|')
	b.WriteString(req.Query)
	b.WriteByte('|')

	keys := make([]string, 0, len(req.Metadata))
	for k := range req.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s;", k, req.Metadata[k])
	}

	if req.Constraints != nil {
		fmt.Fprintf(&b, "|c:%v,%d,%v,%s",
			req.Constraints.MaxLatencyMS,
			req.Constraints.MinSecurityLevel,
			req.Constraints.RequireConsensus,
			strings.Join(req.Constraints.RequiredSkills, ","))
	}

	fmt.Fprintf(&b, "|u:%s|s:%s|d:%d", execCtx.UserID, execCtx.SessionID, len(execCtx.RecentDecisions))

	h := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(h[:])[:16]
}

// Get retrieves a cached decision
func (c *DecisionCache) Get(key string) (*RoutingDecision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, found := c.items[key]
	if !found || time.Now().After(item.expiresAt) {
		c.stats.Misses++
		return nil, false
	}

	c.stats.Hits++
	c.updateHitRate()
	return item.decision, true
}

// Set stores a decision with the given TTL
func (c *DecisionCache) Set(key string, decision *RoutingDecision, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.items) >= c.maxSize {
		c.evictExpired()
		if len(c.items) >= c.maxSize {
			c.evictOldest()
		}
	}

	c.items[key] = &cacheItem{
		decision:  decision,
		expiresAt: time.Now().Add(ttl),
	}
	c.stats.Size = len(c.items)
}

// Clear removes all cached decisions
func (c *DecisionCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*cacheItem)
	c.stats.Size = 0
}

// Stats returns cache statistics
func (c *DecisionCache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := c.stats
	stats.Size = len(c.items)
	return stats
}

// Stop stops the cleanup routine
func (c *DecisionCache) Stop() {
	close(c.stopCleanup)
}

func (c *DecisionCache) cleanupRoutine() {
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			c.evictExpired()
			c.stats.Size = len(c.items)
			c.mu.Unlock()
		case <-c.stopCleanup:
			return
		}
	}
}

func (c *DecisionCache) evictExpired() {
	now := time.Now()
	for key, item := range c.items {
		if now.After(item.expiresAt) {
			delete(c.items, key)
			c.stats.Evictions++
		}
	}
}

func (c *DecisionCache) evictOldest() {
	var oldestKey string
	var oldestTime time.Time

	for key, item := range c.items {
		if oldestTime.IsZero() || item.expiresAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = item.expiresAt
		}
	}
	if oldestKey != "" {
		delete(c.items, oldestKey)
		c.stats.Evictions++
	}
}

func (c *DecisionCache) updateHitRate() {
	total := c.stats.Hits + c.stats.Misses
	if total > 0 {
		c.stats.HitRate = float64(c.stats.Hits) / float64(total)
	}
}
