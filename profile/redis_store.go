package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/itsneelabh/patternroute/core"
)

// RedisStore is a Redis-backed Store for multi-replica deployments.
// Profiles are stored as JSON under namespace:profiles:<id> with skill
// index sets under namespace:skills:<skill> for the skill-based
// candidate fallback.
type RedisStore struct {
	client    *redis.Client
	namespace string
	logger    core.Logger
	clock     func() time.Time
}

// NewRedisStore creates a Redis profile store
func NewRedisStore(redisURL, namespace string) (*RedisStore, error) {
	client, err := core.NewRedisClient(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisStore{
		client:    client,
		namespace: namespace,
		logger:    &core.NoOpLogger{},
		clock:     time.Now,
	}, nil
}

// NewRedisStoreWithClient wraps an existing client, used by tests
func NewRedisStoreWithClient(client *redis.Client, namespace string) *RedisStore {
	return &RedisStore{
		client:    client,
		namespace: namespace,
		logger:    &core.NoOpLogger{},
		clock:     time.Now,
	}
}

// SetLogger sets the logger provider
func (s *RedisStore) SetLogger(logger core.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

func (s *RedisStore) profileKey(id string) string {
	return fmt.Sprintf("%s:profiles:%s", s.namespace, id)
}

func (s *RedisStore) skillKey(skill string) string {
	return fmt.Sprintf("%s:skills:%s", s.namespace, skill)
}

func (s *RedisStore) indexKey() string {
	return fmt.Sprintf("%s:profiles", s.namespace)
}

// Load returns a snapshot of one profile
func (s *RedisStore) Load(ctx context.Context, id string) (*AgentProfile, error) {
	data, err := s.client.Get(ctx, s.profileKey(id)).Result()
	if err == redis.Nil {
		return nil, fmt.Errorf("load profile %s: %w", id, core.ErrProfileNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load profile %s: %w", id, err)
	}

	var p AgentProfile
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, fmt.Errorf("decode profile %s: %w", id, err)
	}
	return &p, nil
}

// LoadBatch returns snapshots for the given IDs in one round trip,
// skipping unknown or malformed entries.
func (s *RedisStore) LoadBatch(ctx context.Context, ids []string) ([]*AgentProfile, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.profileKey(id)
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("batch load profiles: %w", err)
	}

	profiles := make([]*AgentProfile, 0, len(ids))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var p AgentProfile
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			s.logger.Warn("Skipping malformed profile entry", map[string]interface{}{
				"operation": "load_batch",
				"agent_id":  ids[i],
				"error":     err.Error(),
			})
			continue
		}
		profiles = append(profiles, &p)
	}
	return profiles, nil
}

// List returns snapshots of every registered profile
func (s *RedisStore) List(ctx context.Context) ([]*AgentProfile, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	return s.LoadBatch(ctx, ids)
}

// FindBySkill returns snapshots of agents declaring the given skill
func (s *RedisStore) FindBySkill(ctx context.Context, skill string) ([]*AgentProfile, error) {
	ids, err := s.client.SMembers(ctx, s.skillKey(skill)).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("find by skill %s: %w", skill, err)
	}
	return s.LoadBatch(ctx, ids)
}

// Save registers or replaces a profile and maintains the skill indexes
// atomically in one transaction.
func (s *RedisStore) Save(ctx context.Context, p *AgentProfile) error {
	if p.ID == "" {
		return fmt.Errorf("save profile: missing agent id: %w", core.ErrInvalidConfiguration)
	}

	stored := p.Clone()
	stored.UpdatedAt = s.clock()

	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("encode profile %s: %w", p.ID, err)
	}

	// Drop stale skill index entries when skills changed
	previous, err := s.Load(ctx, p.ID)
	if err != nil && !core.IsNotFound(err) {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.profileKey(p.ID), data, 0)
	pipe.SAdd(ctx, s.indexKey(), p.ID)
	if previous != nil {
		for _, skill := range previous.Skills {
			if !stored.HasSkill(skill) {
				pipe.SRem(ctx, s.skillKey(skill), p.ID)
			}
		}
	}
	for _, skill := range stored.Skills {
		pipe.SAdd(ctx, s.skillKey(skill), p.ID)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save profile %s: %w", p.ID, err)
	}

	s.logger.Info("Saved agent profile", map[string]interface{}{
		"operation":   "profile_save",
		"agent_id":    p.ID,
		"agent_name":  p.Name,
		"skill_count": len(p.Skills),
		"available":   p.Available,
	})
	return nil
}

// RecordExecution folds a completed execution into the agent's profile.
// Updates are read-modify-write per agent; routing keeps using its own
// earlier snapshot, so a lost update only delays convergence.
func (s *RedisStore) RecordExecution(ctx context.Context, update ExecutionUpdate) error {
	p, err := s.Load(ctx, update.AgentID)
	if err != nil {
		return err
	}
	p.apply(update, s.clock())

	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode profile %s: %w", update.AgentID, err)
	}
	if err := s.client.Set(ctx, s.profileKey(update.AgentID), data, 0).Err(); err != nil {
		return fmt.Errorf("record execution for %s: %w", update.AgentID, err)
	}

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
func (s *RedisStore) Assign(ctx context.Context, id string) error {
	p, err := s.Load(ctx, id)
	if err != nil {
		return err
	}
	p.CurrentAssignments++

	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode profile %s: %w", id, err)
	}
	if err := s.client.Set(ctx, s.profileKey(id), data, 0).Err(); err != nil {
		return fmt.Errorf("assign %s: %w", id, err)
	}
	return nil
}

// SetAvailability flips the agent's availability flag
func (s *RedisStore) SetAvailability(ctx context.Context, id string, available bool) error {
	p, err := s.Load(ctx, id)
	if err != nil {
		return err
	}
	p.Available = available
	p.UpdatedAt = s.clock()

	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode profile %s: %w", id, err)
	}
	if err := s.client.Set(ctx, s.profileKey(id), data, 0).Err(); err != nil {
		return fmt.Errorf("set availability %s: %w", id, err)
	}
	return nil
}
