package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"competency-service/internal/models"

	"github.com/redis/go-redis/v9"
)

// RedisCache is the distributed cache backend.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, userID, skillID string) (*models.CompetencyState, bool) {
	raw, err := c.client.Get(ctx, stateKey(userID, skillID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Printf("Error reading competency state from cache: %v", err)
		}
		return nil, false
	}

	var state models.CompetencyState
	if err := json.Unmarshal(raw, &state); err != nil {
		log.Printf("Error decoding cached competency state: %v", err)
		return nil, false
	}
	return &state, true
}

// GetMany fetches several skills for one learner in a single MGET. Skills
// absent from the cache are simply missing from the returned map.
func (c *RedisCache) GetMany(ctx context.Context, userID string, skillIDs []string) map[string]*models.CompetencyState {
	found := make(map[string]*models.CompetencyState, len(skillIDs))
	if len(skillIDs) == 0 {
		return found
	}

	keys := make([]string, len(skillIDs))
	for i, skillID := range skillIDs {
		keys[i] = stateKey(userID, skillID)
	}

	vals, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		log.Printf("Error batch reading competency states from cache: %v", err)
		return found
	}
	for i, val := range vals {
		raw, ok := val.(string)
		if !ok {
			continue
		}
		var state models.CompetencyState
		if err := json.Unmarshal([]byte(raw), &state); err != nil {
			log.Printf("Error decoding cached competency state: %v", err)
			continue
		}
		found[skillIDs[i]] = &state
	}
	return found
}

func (c *RedisCache) Set(ctx context.Context, userID, skillID string, state *models.CompetencyState, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("error encoding competency state for cache: %w", err)
	}
	if err := c.client.Set(ctx, stateKey(userID, skillID), raw, ttl).Err(); err != nil {
		return fmt.Errorf("error writing competency state to cache: %w", err)
	}
	return nil
}

func (c *RedisCache) SetMany(ctx context.Context, states []*models.CompetencyState, ttl time.Duration) error {
	if len(states) == 0 {
		return nil
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	pipe := c.client.Pipeline()
	for _, state := range states {
		raw, err := json.Marshal(state)
		if err != nil {
			return fmt.Errorf("error encoding competency state for cache: %w", err)
		}
		pipe.Set(ctx, stateKey(state.UserID, state.SkillID), raw, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("error batch writing competency states: %w", err)
	}
	return nil
}

// Invalidate removes all cached state for one learner.
func (c *RedisCache) Invalidate(ctx context.Context, userID string) error {
	pattern := fmt.Sprintf(stateKeyPattern, userID, "*")

	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("error scanning keys for invalidation: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("error deleting invalidated keys: %w", err)
	}
	return nil
}

func (c *RedisCache) GetRecommendations(ctx context.Context, userID string) (*models.AdaptationResponse, bool) {
	raw, err := c.client.Get(ctx, recommendationKey(userID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Printf("Error reading recommendation batch from cache: %v", err)
		}
		return nil, false
	}

	var resp models.AdaptationResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		log.Printf("Error decoding cached recommendation batch: %v", err)
		return nil, false
	}
	return &resp, true
}

func (c *RedisCache) SetRecommendations(ctx context.Context, userID string, resp *models.AdaptationResponse, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultRecommendTTL
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("error encoding recommendation batch for cache: %w", err)
	}
	if err := c.client.Set(ctx, recommendationKey(userID), raw, ttl).Err(); err != nil {
		return fmt.Errorf("error writing recommendation batch to cache: %w", err)
	}
	return nil
}

func (c *RedisCache) InvalidateRecommendations(ctx context.Context, userID string) error {
	if err := c.client.Del(ctx, recommendationKey(userID)).Err(); err != nil {
		return fmt.Errorf("error deleting recommendation batch: %w", err)
	}
	return nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
