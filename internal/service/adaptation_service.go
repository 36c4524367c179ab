package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"competency-service/internal/cache"
	"competency-service/internal/models"
	"competency-service/internal/selection"
)

// ActivitySource supplies the candidate catalog.
type ActivitySource interface {
	GetActivities(ctx context.Context, filter models.ActivityFilter) ([]models.Activity, error)
}

// AdaptationService answers "what should this learner do next". Ranked
// batches are cached per user and invalidated by the update pipeline; the
// cache is an accelerator, never the source of truth.
type AdaptationService struct {
	Selector              *selection.Engine
	States                CompetencyReader
	Catalog               SkillCatalog
	Activities            ActivitySource
	Cache                 cache.CompetencyCache
	DefaultSessionMinutes int
}

func NewAdaptationService(selector *selection.Engine, states CompetencyReader, catalog SkillCatalog, activities ActivitySource, c cache.CompetencyCache, defaultSessionMinutes int) *AdaptationService {
	if defaultSessionMinutes <= 0 {
		defaultSessionMinutes = 30
	}
	return &AdaptationService{
		Selector:              selector,
		States:                states,
		Catalog:               catalog,
		Activities:            activities,
		Cache:                 c,
		DefaultSessionMinutes: defaultSessionMinutes,
	}
}

// GetRecommendations builds the ranked activity batch for a learner. Only the
// default-shaped request is served from cache; any customization recomputes.
func (s *AdaptationService) GetRecommendations(ctx context.Context, req *models.AdaptationRequest) (*models.AdaptationResponse, error) {
	if req.UserID == "" {
		return nil, fmt.Errorf("adaptation request missing user_id")
	}
	if req.TimeBudgetMinutes <= 0 {
		req.TimeBudgetMinutes = s.DefaultSessionMinutes
	}

	cacheable := s.isCacheable(req)
	if cacheable {
		if cached, found := s.Cache.GetRecommendations(ctx, req.UserID); found {
			cached.Metadata.FromCache = true
			return cached, nil
		}
	}

	profile, err := s.buildProfile(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	catalog, err := s.Activities.GetActivities(ctx, models.ActivityFilter{ActiveOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to load activity catalog: %w", err)
	}

	resp, err := s.Selector.SelectNext(profile, catalog, req)
	if err != nil {
		return nil, err
	}

	if cacheable {
		ttl := time.Duration(resp.RefreshInMinutes) * time.Minute
		if err := s.Cache.SetRecommendations(ctx, req.UserID, resp, ttl); err != nil {
			log.Printf("Error caching recommendations for user %s: %v", req.UserID, err)
		}
	}

	return resp, nil
}

// isCacheable: a request with goals, strategy override, exclusions, or a
// non-default budget describes a different ranking than the cached batch.
func (s *AdaptationService) isCacheable(req *models.AdaptationRequest) bool {
	return len(req.GoalSkillIDs) == 0 &&
		len(req.ExcludeActivityIDs) == 0 &&
		req.PreferredDifficulty == nil &&
		(req.Strategy == "" || req.Strategy == models.StrategyWeighted) &&
		req.TimeBudgetMinutes == s.DefaultSessionMinutes &&
		req.MaxAlternatives == 0
}

// buildProfile assembles the learner's states, per-skill parameters, and the
// skill graph the prerequisite gate needs.
func (s *AdaptationService) buildProfile(ctx context.Context, userID string) (*selection.LearnerProfile, error) {
	states, err := s.States.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load competency states for %s: %w", userID, err)
	}

	// The cache is written through on every update, so a cached copy is at
	// least as fresh as the repository read. One MGET covers all skills.
	skillIDs := make([]string, 0, len(states))
	for _, state := range states {
		skillIDs = append(skillIDs, state.SkillID)
	}
	cached := s.Cache.GetMany(ctx, userID, skillIDs)

	profile := &selection.LearnerProfile{
		UserID: userID,
		States: make(map[string]*models.CompetencyState, len(states)),
		Params: make(map[string]models.BKTParameters, len(states)),
		Skills: make(map[string]models.SkillInfo),
	}

	for _, state := range states {
		if fresh, ok := cached[state.SkillID]; ok {
			state = fresh
		}
		profile.States[state.SkillID] = state
		params, found, err := s.Catalog.GetSkillParameters(ctx, state.SkillID)
		if err != nil || !found {
			params = models.DefaultBKTParameters(state.SkillID)
		}
		profile.Params[state.SkillID] = params
	}

	skills, err := s.Catalog.ListSkillInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load skill catalog: %w", err)
	}
	for _, skill := range skills {
		profile.Skills[skill.ID] = skill
	}

	return profile, nil
}
