package cache

import (
	"context"
	"fmt"
	"log"
	"time"

	"competency-service/internal/config"
	"competency-service/internal/models"

	"github.com/redis/go-redis/v9"
)

// Key namespace. Every key this service writes carries the fixed prefix so a
// shared Redis can be swept per-service.
const (
	keyPrefix           = "competency"
	stateKeyPattern     = keyPrefix + ":state:%s:%s" // user, skill
	recKeyPattern       = keyPrefix + ":rec:%s"      // user
	DefaultTTL          = 300 * time.Second
	DefaultRecommendTTL = 30 * time.Minute
)

func stateKey(userID, skillID string) string {
	return fmt.Sprintf(stateKeyPattern, userID, skillID)
}

func recommendationKey(userID string) string {
	return fmt.Sprintf(recKeyPattern, userID)
}

// CompetencyCache is the concurrency-safe state cache in front of the
// repository. Exactly one implementation is active at a time; callers never
// observe which.
type CompetencyCache interface {
	Get(ctx context.Context, userID, skillID string) (*models.CompetencyState, bool)
	GetMany(ctx context.Context, userID string, skillIDs []string) map[string]*models.CompetencyState
	Set(ctx context.Context, userID, skillID string, state *models.CompetencyState, ttl time.Duration) error
	SetMany(ctx context.Context, states []*models.CompetencyState, ttl time.Duration) error
	Invalidate(ctx context.Context, userID string) error

	GetRecommendations(ctx context.Context, userID string) (*models.AdaptationResponse, bool)
	SetRecommendations(ctx context.Context, userID string, resp *models.AdaptationResponse, ttl time.Duration) error
	InvalidateRecommendations(ctx context.Context, userID string) error

	Close() error
}

// NewCompetencyCache connects to Redis and falls back to the in-process cache
// when the backend is unreachable at startup. Caching is never disabled; the
// fallback is logged once and is otherwise transparent.
func NewCompetencyCache(cfg *config.RedisConfig) CompetencyCache {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis unreachable at %s (%v), falling back to in-memory competency cache", cfg.Address, err)
		_ = client.Close()
		return NewMemoryCache()
	}

	log.Printf("Connected to Redis at %s for competency cache", cfg.Address)
	return NewRedisCache(client)
}
