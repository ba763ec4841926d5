// Package search provides nearest-neighbor lookup over agent-capability
// vectors. Index construction and maintenance belong to the owning service;
// the router only consumes the narrow VectorSearchClient interface and
// falls back to skill-based candidates when search is unavailable.
package search

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/itsneelabh/patternroute/core"
)

// Neighbor is one nearest-neighbor hit: an agent and its similarity
// to the query vector.
type Neighbor struct {
	AgentID    string  `json:"agent_id"`
	Similarity float64 `json:"similarity"`
}

// VectorSearchClient finds the k agents whose capability vectors are
// closest to the query.
type VectorSearchClient interface {
	NearestNeighbors(ctx context.Context, vector []float32, k int) ([]Neighbor, error)
}

// InMemoryIndex is a brute-force cosine-similarity VectorSearchClient.
// It stands in for the external index service in tests and
// single-replica deployments.
type InMemoryIndex struct {
	mu      sync.RWMutex
	vectors map[string][]float32
}

// NewInMemoryIndex creates an empty index
func NewInMemoryIndex() *InMemoryIndex {
	return &InMemoryIndex{
		vectors: make(map[string][]float32),
	}
}

// Upsert stores or replaces an agent's capability vector
func (idx *InMemoryIndex) Upsert(agentID string, vector []float32) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.vectors[agentID] = append([]float32(nil), vector...)
}

// Remove drops an agent from the index
func (idx *InMemoryIndex) Remove(agentID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.vectors, agentID)
}

// NearestNeighbors returns up to k agents ranked by cosine similarity,
// ties broken by agent ID for determinism.
func (idx *InMemoryIndex) NearestNeighbors(ctx context.Context, vector []float32, k int) ([]Neighbor, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("nearest neighbors: empty query vector: %w", core.ErrSearchUnavailable)
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	neighbors := make([]Neighbor, 0, len(idx.vectors))
	for agentID, v := range idx.vectors {
		neighbors = append(neighbors, Neighbor{
			AgentID:    agentID,
			Similarity: CosineSimilarity(vector, v),
		})
	}

	sort.Slice(neighbors, func(i, j int) bool {
		if neighbors[i].Similarity != neighbors[j].Similarity {
			return neighbors[i].Similarity > neighbors[j].Similarity
		}
		return neighbors[i].AgentID < neighbors[j].AgentID
	})

	if k > 0 && len(neighbors) > k {
		neighbors = neighbors[:k]
	}
	return neighbors, nil
}

// CosineSimilarity computes the cosine of the angle between two vectors.
// Mismatched lengths compare over the shorter prefix; zero vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
