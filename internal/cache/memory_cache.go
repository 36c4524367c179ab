package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"competency-service/internal/models"
)

// MemoryCache is the in-process fallback with the same TTL semantics as the
// Redis backend. A janitor goroutine sweeps expired entries.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	done    chan struct{}
	once    sync.Once
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

func NewMemoryCache() *MemoryCache {
	c := &MemoryCache{
		entries: make(map[string]memoryEntry),
		done:    make(chan struct{}),
	}
	go c.janitor()
	return c
}

func (c *MemoryCache) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for k, e := range c.entries {
				if now.After(e.expiresAt) {
					delete(c.entries, k)
				}
			}
			c.mu.Unlock()
		}
	}
}

func (c *MemoryCache) get(key string) ([]byte, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.value, true
}

func (c *MemoryCache) set(key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c.mu.Lock()
	c.entries[key] = memoryEntry{value: value, expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()
}

func (c *MemoryCache) Get(ctx context.Context, userID, skillID string) (*models.CompetencyState, bool) {
	return decodeState(c.get(stateKey(userID, skillID)))
}

func (c *MemoryCache) GetMany(ctx context.Context, userID string, skillIDs []string) map[string]*models.CompetencyState {
	found := make(map[string]*models.CompetencyState, len(skillIDs))
	for _, skillID := range skillIDs {
		if state, ok := c.Get(ctx, userID, skillID); ok {
			found[skillID] = state
		}
	}
	return found
}

func (c *MemoryCache) Set(ctx context.Context, userID, skillID string, state *models.CompetencyState, ttl time.Duration) error {
	raw, err := encode(state)
	if err != nil {
		return err
	}
	c.set(stateKey(userID, skillID), raw, ttl)
	return nil
}

func (c *MemoryCache) SetMany(ctx context.Context, states []*models.CompetencyState, ttl time.Duration) error {
	for _, state := range states {
		if err := c.Set(ctx, state.UserID, state.SkillID, state, ttl); err != nil {
			return err
		}
	}
	return nil
}

func (c *MemoryCache) Invalidate(ctx context.Context, userID string) error {
	prefix := keyPrefix + ":state:" + userID + ":"
	c.mu.Lock()
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) GetRecommendations(ctx context.Context, userID string) (*models.AdaptationResponse, bool) {
	return decodeRecommendations(c.get(recommendationKey(userID)))
}

func (c *MemoryCache) SetRecommendations(ctx context.Context, userID string, resp *models.AdaptationResponse, ttl time.Duration) error {
	raw, err := encode(resp)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = DefaultRecommendTTL
	}
	c.set(recommendationKey(userID), raw, ttl)
	return nil
}

func (c *MemoryCache) InvalidateRecommendations(ctx context.Context, userID string) error {
	c.mu.Lock()
	delete(c.entries, recommendationKey(userID))
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}
