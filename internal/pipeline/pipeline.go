package pipeline

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"competency-service/internal/bkt"
	"competency-service/internal/cache"
	"competency-service/internal/models"
)

// Repository is the durable-store boundary the pipeline writes through to.
type Repository interface {
	GetCompetency(ctx context.Context, userID, skillID string) (*models.CompetencyState, bool, error)
	SaveCompetency(ctx context.Context, state *models.CompetencyState) error
	SavePerformanceEvent(ctx context.Context, event *models.PerformanceEvent) error
}

// ParameterSource supplies per-skill BKT parameters.
type ParameterSource interface {
	GetSkillParameters(ctx context.Context, skillID string) (models.BKTParameters, bool, error)
}

// Publisher receives domain events after successful updates. May be nil.
type Publisher interface {
	PublishCompetencyUpdated(result models.BKTUpdateResult) error
	PublishMasteryAchieved(result models.BKTUpdateResult) error
}

// Config bounds the pipeline's concurrency and batch size.
type Config struct {
	Workers         int
	UpdateBatchSize int
	StateCacheTTL   time.Duration
}

func DefaultConfig() Config {
	return Config{
		Workers:         10,
		UpdateBatchSize: 100,
		StateCacheTTL:   cache.DefaultTTL,
	}
}

// Pipeline ingests performance events: read-through cache, BKT update,
// write-through cache, durable persist, recommendation invalidation.
// Same-key events are serialized; distinct keys run fully parallel.
type Pipeline struct {
	engine    *bkt.Engine
	cache     cache.CompetencyCache
	repo      Repository
	params    ParameterSource
	publisher Publisher
	config    Config
	locks     *keyLock
}

func New(engine *bkt.Engine, stateCache cache.CompetencyCache, repo Repository, params ParameterSource, publisher Publisher, config Config) *Pipeline {
	if config.Workers <= 0 {
		config.Workers = DefaultConfig().Workers
	}
	if config.UpdateBatchSize <= 0 {
		config.UpdateBatchSize = DefaultConfig().UpdateBatchSize
	}
	if config.StateCacheTTL <= 0 {
		config.StateCacheTTL = cache.DefaultTTL
	}
	return &Pipeline{
		engine:    engine,
		cache:     stateCache,
		repo:      repo,
		params:    params,
		publisher: publisher,
		config:    config,
		locks:     newKeyLock(),
	}
}

// ProcessEvent applies a single event under its key's critical section.
// Cache reads inside the section are read-your-own-write consistent because
// every writer for the key holds the same lock.
func (p *Pipeline) ProcessEvent(ctx context.Context, event *models.PerformanceEvent) (models.BKTUpdateResult, error) {
	if err := event.Validate(); err != nil {
		return models.BKTUpdateResult{UserID: event.UserID, SkillID: event.SkillID, Error: err.Error()}, err
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	unlock := p.locks.Lock(event.Key())
	defer unlock()

	return p.applyLocked(ctx, event)
}

// applyLocked runs the per-event sequence. Caller holds the key lock.
func (p *Pipeline) applyLocked(ctx context.Context, event *models.PerformanceEvent) (models.BKTUpdateResult, error) {
	params, found, err := p.params.GetSkillParameters(ctx, event.SkillID)
	if err != nil {
		return errorResult(event, err), err
	}
	if !found {
		params = models.DefaultBKTParameters(event.SkillID)
	}

	state, err := p.loadState(ctx, event.UserID, event.SkillID, params)
	if err != nil {
		return errorResult(event, err), err
	}

	result, _ := p.engine.ApplyEvent(state, event, params)

	// Write-through: the next update for this key must see this state.
	if err := p.cache.Set(ctx, state.UserID, state.SkillID, state, p.config.StateCacheTTL); err != nil {
		log.Printf("Error write-through caching state for %s: %v", event.Key(), err)
	}

	// Durable persist. A transient failure is recorded on this event's
	// result; it never aborts sibling events in a batch.
	if err := p.persistWithRetry(ctx, state, event); err != nil {
		log.Printf("Error persisting update for %s: %v", event.Key(), err)
		result.Error = err.Error()
	}

	// The learner's cached recommendation batch is stale now.
	if err := p.cache.InvalidateRecommendations(ctx, event.UserID); err != nil {
		log.Printf("Error invalidating recommendations for user %s: %v", event.UserID, err)
	}

	if p.publisher != nil {
		if err := p.publisher.PublishCompetencyUpdated(result); err != nil {
			log.Printf("Error publishing competency update event: %v", err)
		}
		if result.MasteryGained {
			if err := p.publisher.PublishMasteryAchieved(result); err != nil {
				log.Printf("Error publishing mastery achieved event: %v", err)
			}
		}
	}

	return result, nil
}

// loadState is the read-through path: cache first, then repository, then
// lazy creation seeded with the skill's prior knowledge.
func (p *Pipeline) loadState(ctx context.Context, userID, skillID string, params models.BKTParameters) (*models.CompetencyState, error) {
	if state, found := p.cache.Get(ctx, userID, skillID); found {
		return state, nil
	}

	state, found, err := p.repo.GetCompetency(ctx, userID, skillID)
	if err != nil {
		return nil, err
	}
	if !found {
		state = models.NewCompetencyState(userID, skillID, params)
	}

	if err := p.cache.Set(ctx, userID, skillID, state, p.config.StateCacheTTL); err != nil {
		log.Printf("Error populating cache for %s/%s: %v", userID, skillID, err)
	}
	return state, nil
}

// persistWithRetry saves state and event, retrying each write once on a
// transient failure (repository timeouts are retryable, not fatal).
func (p *Pipeline) persistWithRetry(ctx context.Context, state *models.CompetencyState, event *models.PerformanceEvent) error {
	if err := retryOnce(func() error { return p.repo.SaveCompetency(ctx, state) }); err != nil {
		return fmt.Errorf("failed to persist competency state: %w", err)
	}
	if err := retryOnce(func() error { return p.repo.SavePerformanceEvent(ctx, event) }); err != nil {
		return fmt.Errorf("failed to persist performance event: %w", err)
	}
	return nil
}

func retryOnce(op func() error) error {
	if err := op(); err != nil {
		time.Sleep(50 * time.Millisecond)
		return op()
	}
	return nil
}

// ProcessBatch applies a bounded batch. Events are grouped by (user, skill)
// and each group is applied in timestamp order; groups fan out across the
// worker pool. One event's failure is recorded on its own result only.
func (p *Pipeline) ProcessBatch(ctx context.Context, events []*models.PerformanceEvent) ([]models.BKTUpdateResult, error) {
	if len(events) == 0 {
		return []models.BKTUpdateResult{}, nil
	}
	if len(events) > p.config.UpdateBatchSize {
		return nil, fmt.Errorf("batch of %d events exceeds limit %d: chunk the batch and resubmit", len(events), p.config.UpdateBatchSize)
	}

	type indexedEvent struct {
		index int
		event *models.PerformanceEvent
	}

	groups := make(map[string][]indexedEvent)
	for i, event := range events {
		groups[event.Key()] = append(groups[event.Key()], indexedEvent{index: i, event: event})
	}
	for _, group := range groups {
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].event.Timestamp.Before(group[j].event.Timestamp)
		})
	}

	groupChan := make(chan []indexedEvent, len(groups))
	for _, group := range groups {
		groupChan <- group
	}
	close(groupChan)

	results := make([]models.BKTUpdateResult, len(events))

	var wg sync.WaitGroup
	workers := p.config.Workers
	if workers > len(groups) {
		workers = len(groups)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for group := range groupChan {
				for _, ie := range group {
					result, err := p.ProcessEvent(ctx, ie.event)
					if err != nil && result.Error == "" {
						result.Error = err.Error()
					}
					results[ie.index] = result
				}
			}
		}()
	}
	wg.Wait()

	return results, nil
}

func errorResult(event *models.PerformanceEvent, err error) models.BKTUpdateResult {
	return models.BKTUpdateResult{
		UserID:     event.UserID,
		SkillID:    event.SkillID,
		ActivityID: event.ActivityID,
		Error:      err.Error(),
	}
}
