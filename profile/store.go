package profile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/itsneelabh/patternroute/core"
)

// Store is the profile arena: many concurrent readers on the routing path,
// a single mutation entry point driven by execution completion.
type Store interface {
	// Load returns a snapshot of one profile
	Load(ctx context.Context, id string) (*AgentProfile, error)

	// LoadBatch returns snapshots for the given IDs, skipping unknown ones
	LoadBatch(ctx context.Context, ids []string) ([]*AgentProfile, error)

	// List returns snapshots of every registered profile
	List(ctx context.Context) ([]*AgentProfile, error)

	// FindBySkill returns snapshots of agents declaring the given skill
	FindBySkill(ctx context.Context, skill string) ([]*AgentProfile, error)

	// Save registers or replaces a profile
	Save(ctx context.Context, p *AgentProfile) error

	// RecordExecution folds a completed execution into the agent's profile.
	// Safe to run concurrently with read-side routing.
	RecordExecution(ctx context.Context, update ExecutionUpdate) error

	// Assign increments the agent's concurrent-assignment counter
	Assign(ctx context.Context, id string) error

	// SetAvailability flips the agent's availability flag
	SetAvailability(ctx context.Context, id string, available bool) error
}

// InMemoryStore is a Store backed by a process-local map.
// Useful for tests and single-replica deployments.
type InMemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]*AgentProfile
	logger   core.Logger
	clock    func() time.Time
}

// NewInMemoryStore creates an empty in-memory profile store
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		profiles: make(map[string]*AgentProfile),
		logger:   &core.NoOpLogger{},
		clock:    time.Now,
	}
}

// SetLogger sets the logger provider
func (s *InMemoryStore) SetLogger(logger core.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetClock overrides the time source, used by tests
func (s *InMemoryStore) SetClock(clock func() time.Time) {
	if clock != nil {
		s.clock = clock
	}
}

// Load returns a snapshot of one profile
func (s *InMemoryStore) Load(ctx context.Context, id string) (*AgentProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[id]
	if !ok {
		return nil, fmt.Errorf("load profile %s: %w", id, core.ErrProfileNotFound)
	}
	return p.Clone(), nil
}

// LoadBatch returns snapshots for the given IDs, skipping unknown ones
func (s *InMemoryStore) LoadBatch(ctx context.Context, ids []string) ([]*AgentProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	profiles := make([]*AgentProfile, 0, len(ids))
	for _, id := range ids {
		if p, ok := s.profiles[id]; ok {
			profiles = append(profiles, p.Clone())
		}
	}
	return profiles, nil
}

// List returns snapshots of every registered profile
func (s *InMemoryStore) List(ctx context.Context) ([]*AgentProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	profiles := make([]*AgentProfile, 0, len(s.profiles))
	for _, p := range s.profiles {
		profiles = append(profiles, p.Clone())
	}
	return profiles, nil
}

// FindBySkill returns snapshots of agents declaring the given skill
func (s *InMemoryStore) FindBySkill(ctx context.Context, skill string) ([]*AgentProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var profiles []*AgentProfile
	for _, p := range s.profiles {
		if p.HasSkill(skill) {
			profiles = append(profiles, p.Clone())
		}
	}
	return profiles, nil
}

// Save registers or replaces a profile
func (s *InMemoryStore) Save(ctx context.Context, p *AgentProfile) error {
	if p.ID == "" {
		return fmt.Errorf("save profile: missing agent id: %w", core.ErrInvalidConfiguration)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := p.Clone()
	stored.UpdatedAt = s.clock()
	s.profiles[p.ID] = stored
	return nil
}

// RecordExecution folds a completed execution into the agent's profile
func (s *InMemoryStore) RecordExecution(ctx context.Context, update ExecutionUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[update.AgentID]
	if !ok {
		return fmt.Errorf("record execution for %s: %w", update.AgentID, core.ErrProfileNotFound)
	}
	p.apply(update, s.clock())

	s.logger.Debug("Recorded execution outcome", map[string]interface{}{
		"operation":    "record_execution",
		"agent_id":     update.AgentID,
		"pattern_type": update.PatternType,
		"success":      update.Success,
		"latency_ms":   update.LatencyMS,
	})
	return nil
}

// Assign increments the agent's concurrent-assignment counter
func (s *InMemoryStore) Assign(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[id]
	if !ok {
		return fmt.Errorf("assign %s: %w", id, core.ErrProfileNotFound)
	}
	p.CurrentAssignments++
	return nil
}

// SetAvailability flips the agent's availability flag
func (s *InMemoryStore) SetAvailability(ctx context.Context, id string, available bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[id]
	if !ok {
		return fmt.Errorf("set availability %s: %w", id, core.ErrProfileNotFound)
	}
	p.Available = available
	p.UpdatedAt = s.clock()
	return nil
}
