package service

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"competency-service/internal/bkt"
	"competency-service/internal/cache"
	"competency-service/internal/models"
	"competency-service/internal/pipeline"
)

// CompetencyReader is the read side of the competency store.
type CompetencyReader interface {
	GetCompetency(ctx context.Context, userID, skillID string) (*models.CompetencyState, bool, error)
	ListByUser(ctx context.Context, userID string) ([]*models.CompetencyState, error)
}

// EventHistory reads the immutable performance-event log.
type EventHistory interface {
	ListBySkill(ctx context.Context, userID, skillID string, limit int64) ([]*models.PerformanceEvent, error)
}

// SkillCatalog resolves skill metadata and BKT parameters.
type SkillCatalog interface {
	GetSkillParameters(ctx context.Context, skillID string) (models.BKTParameters, bool, error)
	GetSkillInfo(ctx context.Context, skillID string) (*models.SkillInfo, bool, error)
	ListSkillInfo(ctx context.Context) ([]models.SkillInfo, error)
}

// BatchNotifier is told when a whole batch has been processed. May be nil.
type BatchNotifier interface {
	PublishBatchProcessed(results []models.BKTUpdateResult) error
}

// CompetencyService is the upward-facing surface for competency updates and
// reads. All mutation goes through the pipeline; reads go cache-first and
// warm the cache on a repository hit.
type CompetencyService struct {
	Pipeline *pipeline.Pipeline
	Engine   *bkt.Engine
	States   CompetencyReader
	History  EventHistory
	Catalog  SkillCatalog
	Cache    cache.CompetencyCache
	CacheTTL time.Duration
	Notifier BatchNotifier
}

func NewCompetencyService(p *pipeline.Pipeline, engine *bkt.Engine, states CompetencyReader, history EventHistory, catalog SkillCatalog, c cache.CompetencyCache, cacheTTL time.Duration) *CompetencyService {
	if cacheTTL <= 0 {
		cacheTTL = cache.DefaultTTL
	}
	return &CompetencyService{
		Pipeline: p,
		Engine:   engine,
		States:   states,
		History:  history,
		Catalog:  catalog,
		Cache:    c,
		CacheTTL: cacheTTL,
	}
}

// UpdateCompetency applies a single performance observation.
func (s *CompetencyService) UpdateCompetency(ctx context.Context, req *models.UpdateCompetencyRequest) (models.BKTUpdateResult, error) {
	return s.Pipeline.ProcessEvent(ctx, eventFromRequest(req))
}

// BatchUpdateCompetencies applies a bounded batch; results align with the
// request order and each carries its own error, if any.
func (s *CompetencyService) BatchUpdateCompetencies(ctx context.Context, req *models.BatchUpdateRequest) ([]models.BKTUpdateResult, error) {
	events := make([]*models.PerformanceEvent, len(req.Events))
	for i := range req.Events {
		events[i] = eventFromRequest(&req.Events[i])
	}

	results, err := s.Pipeline.ProcessBatch(ctx, events)
	if err != nil {
		return nil, err
	}
	if s.Notifier != nil {
		if err := s.Notifier.PublishBatchProcessed(results); err != nil {
			log.Printf("Error publishing batch processed event: %v", err)
		}
	}
	return results, nil
}

// GetSkillCompetency returns the analytics view for one (user, skill) pair.
// found is false when the pair has never been observed.
func (s *CompetencyService) GetSkillCompetency(ctx context.Context, userID, skillID string) (*models.SkillCompetencyView, bool, error) {
	state, found := s.Cache.Get(ctx, userID, skillID)
	if !found {
		var err error
		state, found, err = s.States.GetCompetency(ctx, userID, skillID)
		if err != nil {
			return nil, false, fmt.Errorf("failed to load competency for %s/%s: %w", userID, skillID, err)
		}
		if !found {
			return nil, false, nil
		}
		if err := s.Cache.Set(ctx, userID, skillID, state, s.CacheTTL); err != nil {
			log.Printf("Error caching competency state for %s/%s: %v", userID, skillID, err)
		}
	}
	view := s.buildView(ctx, state)
	return &view, true, nil
}

// GetPerformanceHistory returns the event log for one (user, skill) pair in
// timestamp order.
func (s *CompetencyService) GetPerformanceHistory(ctx context.Context, userID, skillID string, limit int64) ([]*models.PerformanceEvent, error) {
	events, err := s.History.ListBySkill(ctx, userID, skillID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load performance history for %s/%s: %w", userID, skillID, err)
	}
	return events, nil
}

// GetCompetencyProfile returns the learner's full skill portfolio, sorted by
// descending mastery.
func (s *CompetencyService) GetCompetencyProfile(ctx context.Context, userID string) (*models.UserCompetencyProfile, error) {
	states, err := s.States.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load competency profile for %s: %w", userID, err)
	}

	// Warm the cache so the updates that usually follow a profile read skip
	// the repository round trip.
	if err := s.Cache.SetMany(ctx, states, s.CacheTTL); err != nil {
		log.Printf("Error warming competency cache for user %s: %v", userID, err)
	}

	profile := &models.UserCompetencyProfile{
		UserID:      userID,
		Skills:      make([]models.SkillCompetencyView, 0, len(states)),
		GeneratedAt: time.Now(),
	}

	total := 0.0
	for _, state := range states {
		view := s.buildView(ctx, state)
		profile.Skills = append(profile.Skills, view)
		total += state.MasteryProbability
		if state.IsMastered {
			profile.MasteredCount++
		}
	}
	if len(states) > 0 {
		profile.MeanMastery = total / float64(len(states))
	}

	sort.SliceStable(profile.Skills, func(i, j int) bool {
		if profile.Skills[i].MasteryProbability != profile.Skills[j].MasteryProbability {
			return profile.Skills[i].MasteryProbability > profile.Skills[j].MasteryProbability
		}
		return profile.Skills[i].SkillID < profile.Skills[j].SkillID
	})

	return profile, nil
}

// InvalidateUserCache drops every cached state and recommendation batch for
// one learner. Used after out-of-band data corrections; the next read rebuilds
// from the repository.
func (s *CompetencyService) InvalidateUserCache(ctx context.Context, userID string) error {
	if err := s.Cache.Invalidate(ctx, userID); err != nil {
		return fmt.Errorf("failed to invalidate cached states for %s: %w", userID, err)
	}
	if err := s.Cache.InvalidateRecommendations(ctx, userID); err != nil {
		return fmt.Errorf("failed to invalidate cached recommendations for %s: %w", userID, err)
	}
	return nil
}

// buildView derives the analytics a raw state does not store: confidence
// interval, learning velocity, and the recommended practice intensity.
func (s *CompetencyService) buildView(ctx context.Context, state *models.CompetencyState) models.SkillCompetencyView {
	lo, hi := s.Engine.ConfidenceInterval(state.CorrectAttempts, state.TotalAttempts)

	view := models.SkillCompetencyView{
		SkillID:            state.SkillID,
		MasteryProbability: state.MasteryProbability,
		ConfidenceLow:      lo,
		ConfidenceHigh:     hi,
		TotalAttempts:      state.TotalAttempts,
		CorrectAttempts:    state.CorrectAttempts,
		Accuracy:           state.Accuracy(),
		IsMastered:         state.IsMastered,
		MasteryAchievedAt:  state.MasteryAchievedAt,
		PracticeIntensity:  string(bkt.RecommendIntensity(state.MasteryProbability)),
		LastAttemptAt:      state.LastAttemptAt,
	}

	params, found, err := s.Catalog.GetSkillParameters(ctx, state.SkillID)
	if err != nil || !found {
		params = models.DefaultBKTParameters(state.SkillID)
	}
	if velocity, ok := s.Engine.LearningVelocity(state, params.PriorKnowledge); ok {
		view.LearningVelocity = &velocity
	}

	if info, found, err := s.Catalog.GetSkillInfo(ctx, state.SkillID); err == nil && found {
		view.SkillName = info.Name
	}

	return view
}

// eventFromRequest maps the transport contract onto the internal event.
// Absence of an explicit correctness flag is preserved, not defaulted, so the
// score fallback and low-confidence reporting stay honest downstream.
func eventFromRequest(req *models.UpdateCompetencyRequest) *models.PerformanceEvent {
	event := &models.PerformanceEvent{
		UserID:         req.UserID,
		SkillID:        req.SkillID,
		ActivityID:     req.ActivityID,
		Score:          req.Score,
		ResponseTimeMs: req.ResponseTimeMs,
		Timestamp:      time.Now(),
	}
	if req.IsCorrect != nil {
		event.IsCorrect = *req.IsCorrect
		event.HasCorrectness = true
	}
	return event
}
