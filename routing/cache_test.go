package routing

import (
	"testing"
	"time"
)

func cacheRequest() *PatternRequest {
	return &PatternRequest{
		PatternID: "pat-1",
		Query:     "transform the order feed",
		Metadata:  map[string]string{MetadataType: "data_transformation", MetadataPriority: "high"},
	}
}

func TestCacheKeyStable(t *testing.T) {
	execCtx := NewExecutionContext("user-1", "session-1", 50)

	k1 := CacheKey(cacheRequest(), execCtx)
	k2 := CacheKey(cacheRequest(), execCtx)
	if k1 != k2 {
		t.Errorf("Identical inputs must produce identical keys: %s vs %s", k1, k2)
	}
	if len(k1) != 16 {
		t.Errorf("Expected 16-char key, got %d", len(k1))
	}
}

func TestCacheKeyDiscriminates(t *testing.T) {
	base := NewExecutionContext("user-1", "session-1", 50)
	baseKey := CacheKey(cacheRequest(), base)

	// Different metadata
	req := cacheRequest()
	req.Metadata[MetadataPriority] = "low"
	if CacheKey(req, base) == baseKey {
		t.Error("Metadata change must change the key")
	}

	// Different constraints
	req = cacheRequest()
	req.Constraints = &RoutingConstraints{RequiredSkills: []string{"auth"}}
	if CacheKey(req, base) == baseKey {
		t.Error("Constraint change must change the key")
	}

	// Different user
	other := NewExecutionContext("user-2", "session-1", 50)
	if CacheKey(cacheRequest(), other) == baseKey {
		t.Error("User change must change the key")
	}

	// New decision in the session invalidates the key
	grown := NewExecutionContext("user-1", "session-1", 50)
	grown.AddDecision(DecisionRecord{DecisionID: "d1", AgentID: "a"})
	if CacheKey(cacheRequest(), grown) == baseKey {
		t.Error("Session history growth must change the key")
	}
}

func TestCacheSetGet(t *testing.T) {
	cache := NewDecisionCache(10, time.Minute)
	defer cache.Stop()

	decision := &RoutingDecision{ID: "d1", Agent: AgentRef{ID: "a"}}
	cache.Set("key1", decision, time.Minute)

	got, ok := cache.Get("key1")
	if !ok {
		t.Fatal("Expected cache hit")
	}
	if got.ID != "d1" {
		t.Errorf("Unexpected decision: %s", got.ID)
	}

	if _, ok := cache.Get("missing"); ok {
		t.Error("Expected cache miss for unknown key")
	}
}

func TestCacheExpiry(t *testing.T) {
	cache := NewDecisionCache(10, time.Minute)
	defer cache.Stop()

	cache.Set("short", &RoutingDecision{ID: "d1"}, 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	if _, ok := cache.Get("short"); ok {
		t.Error("Expected expired entry to miss")
	}
}

func TestCacheEviction(t *testing.T) {
	cache := NewDecisionCache(2, time.Minute)
	defer cache.Stop()

	cache.Set("a", &RoutingDecision{ID: "a"}, time.Minute)
	cache.Set("b", &RoutingDecision{ID: "b"}, 2*time.Minute)
	cache.Set("c", &RoutingDecision{ID: "c"}, 3*time.Minute)

	stats := cache.Stats()
	if stats.Size > 2 {
		t.Errorf("Cache exceeded max size: %d", stats.Size)
	}
	if stats.Evictions == 0 {
		t.Error("Expected at least one eviction")
	}
	// The soonest-to-expire entry goes first
	if _, ok := cache.Get("a"); ok {
		t.Error("Expected oldest entry evicted")
	}
}

func TestCacheStats(t *testing.T) {
	cache := NewDecisionCache(10, time.Minute)
	defer cache.Stop()

	cache.Set("k", &RoutingDecision{ID: "d"}, time.Minute)
	cache.Get("k")
	cache.Get("k")
	cache.Get("nope")

	stats := cache.Stats()
	if stats.Hits != 2 {
		t.Errorf("Expected 2 hits, got %d", stats.Hits)
	}
	if stats.Misses != 1 {
		t.Errorf("Expected 1 miss, got %d", stats.Misses)
	}
	if stats.HitRate < 0.66 || stats.HitRate > 0.67 {
		t.Errorf("Unexpected hit rate: %v", stats.HitRate)
	}
}

func TestCacheClear(t *testing.T) {
	cache := NewDecisionCache(10, time.Minute)
	defer cache.Stop()

	cache.Set("k", &RoutingDecision{ID: "d"}, time.Minute)
	cache.Clear()

	if _, ok := cache.Get("k"); ok {
		t.Error("Expected empty cache after Clear")
	}
	if cache.Stats().Size != 0 {
		t.Error("Expected zero size after Clear")
	}
}
