package service

import (
	"context"
	"testing"
	"time"

	"competency-service/internal/cache"
	"competency-service/internal/models"
	"competency-service/internal/selection"
)

type fakeActivities struct {
	catalog []models.Activity
}

func (f *fakeActivities) GetActivities(ctx context.Context, filter models.ActivityFilter) ([]models.Activity, error) {
	return f.catalog, nil
}

func newTestAdaptationService(store *fakeStore, catalog *fakeCatalog, activities []models.Activity) (*AdaptationService, cache.CompetencyCache) {
	c := cache.NewMemoryCache()
	selector := selection.NewEngine(nil, nil)
	svc := NewAdaptationService(selector, store, catalog, &fakeActivities{catalog: activities}, c, 30)
	return svc, c
}

func testActivity(id string, difficulty float64, skillIDs ...string) models.Activity {
	return models.Activity{
		ID:               id,
		Name:             id,
		TargetSkillIDs:   skillIDs,
		Difficulty:       difficulty,
		EstimatedMinutes: 10,
		Category:         "general",
		IsActive:         true,
	}
}

func TestGetRecommendationsRequiresUser(t *testing.T) {
	svc, c := newTestAdaptationService(newFakeStore(), newFakeCatalog(), nil)
	defer c.Close()

	if _, err := svc.GetRecommendations(context.Background(), &models.AdaptationRequest{}); err == nil {
		t.Fatal("Expected error for request without user_id")
	}
}

func TestGetRecommendationsNewLearner(t *testing.T) {
	svc, c := newTestAdaptationService(newFakeStore(), newFakeCatalog(), []models.Activity{
		testActivity("act-1", 0.3, "skill-1"),
	})
	defer c.Close()

	resp, err := svc.GetRecommendations(context.Background(), &models.AdaptationRequest{UserID: "user-new"})
	if err != nil {
		t.Fatalf("GetRecommendations failed: %v", err)
	}
	if resp.Next == nil {
		t.Fatal("A learner with no history still gets a recommendation")
	}
	if resp.Metadata.FromCache {
		t.Error("First call must not be served from cache")
	}
	if resp.RefreshInMinutes != 30 {
		t.Errorf("No evidence means a 30-minute refresh, got %d", resp.RefreshInMinutes)
	}
}

func TestGetRecommendationsDefaultRequestCached(t *testing.T) {
	store := newFakeStore()
	store.put(&models.CompetencyState{UserID: "user-1", SkillID: "skill-1", MasteryProbability: 0.5, TotalAttempts: 10, CorrectAttempts: 5})

	svc, c := newTestAdaptationService(store, newFakeCatalog(), []models.Activity{
		testActivity("act-1", 0.5, "skill-1"),
	})
	defer c.Close()
	ctx := context.Background()

	req := &models.AdaptationRequest{UserID: "user-1"}
	first, err := svc.GetRecommendations(ctx, req)
	if err != nil {
		t.Fatalf("GetRecommendations failed: %v", err)
	}
	if first.Metadata.FromCache {
		t.Error("First call computes")
	}

	second, err := svc.GetRecommendations(ctx, &models.AdaptationRequest{UserID: "user-1"})
	if err != nil {
		t.Fatalf("GetRecommendations failed: %v", err)
	}
	if !second.Metadata.FromCache {
		t.Error("Second default-shaped call must be served from cache")
	}
	if second.Next == nil || second.Next.Activity.ID != first.Next.Activity.ID {
		t.Error("Cached batch must match the computed one")
	}
}

func TestGetRecommendationsCustomRequestBypassesCache(t *testing.T) {
	store := newFakeStore()
	store.put(&models.CompetencyState{UserID: "user-1", SkillID: "skill-1", MasteryProbability: 0.5, TotalAttempts: 10, CorrectAttempts: 5})

	svc, c := newTestAdaptationService(store, newFakeCatalog(), []models.Activity{
		testActivity("act-1", 0.5, "skill-1"),
		testActivity("act-2", 0.5, "skill-1"),
	})
	defer c.Close()
	ctx := context.Background()

	if _, err := svc.GetRecommendations(ctx, &models.AdaptationRequest{UserID: "user-1"}); err != nil {
		t.Fatalf("GetRecommendations failed: %v", err)
	}

	custom, err := svc.GetRecommendations(ctx, &models.AdaptationRequest{
		UserID:             "user-1",
		ExcludeActivityIDs: []string{"act-1"},
	})
	if err != nil {
		t.Fatalf("GetRecommendations failed: %v", err)
	}
	if custom.Metadata.FromCache {
		t.Error("A customized request must recompute, not hit the cache")
	}
	if custom.Next == nil || custom.Next.Activity.ID != "act-2" {
		t.Errorf("Exclusion must be honored, got %+v", custom.Next)
	}
}

func TestGetRecommendationsInvalidationAfterUpdate(t *testing.T) {
	store := newFakeStore()
	catalog := newFakeCatalog()
	store.put(&models.CompetencyState{UserID: "user-1", SkillID: "skill-1", MasteryProbability: 0.5, TotalAttempts: 10, CorrectAttempts: 5})

	adaptSvc, c := newTestAdaptationService(store, catalog, []models.Activity{
		testActivity("act-1", 0.5, "skill-1"),
	})
	defer c.Close()
	ctx := context.Background()

	if _, err := adaptSvc.GetRecommendations(ctx, &models.AdaptationRequest{UserID: "user-1"}); err != nil {
		t.Fatalf("GetRecommendations failed: %v", err)
	}
	if _, found := c.GetRecommendations(ctx, "user-1"); !found {
		t.Fatal("Expected cached batch after first request")
	}

	// The update pipeline evicts the learner's batch through this same call.
	if err := c.InvalidateRecommendations(ctx, "user-1"); err != nil {
		t.Fatalf("InvalidateRecommendations failed: %v", err)
	}

	resp, err := adaptSvc.GetRecommendations(ctx, &models.AdaptationRequest{UserID: "user-1"})
	if err != nil {
		t.Fatalf("GetRecommendations failed: %v", err)
	}
	if resp.Metadata.FromCache {
		t.Error("Invalidated batch must be recomputed")
	}
}

// A state written through to the cache after an update must win over the
// repository copy when the profile is assembled.
func TestGetRecommendationsUseFresherCachedState(t *testing.T) {
	store := newFakeStore()
	store.put(&models.CompetencyState{UserID: "user-1", SkillID: "skill-a", MasteryProbability: 0.2, TotalAttempts: 10, CorrectAttempts: 2})
	store.put(&models.CompetencyState{UserID: "user-1", SkillID: "skill-b", MasteryProbability: 0.5, TotalAttempts: 10, CorrectAttempts: 5})

	svc, c := newTestAdaptationService(store, newFakeCatalog(), []models.Activity{
		testActivity("act-a", 0.5, "skill-a"),
		testActivity("act-b", 0.5, "skill-b"),
	})
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "user-1", "skill-a", &models.CompetencyState{
		UserID: "user-1", SkillID: "skill-a",
		MasteryProbability: 0.65, TotalAttempts: 10, CorrectAttempts: 6,
	}, time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	resp, err := svc.GetRecommendations(ctx, &models.AdaptationRequest{
		UserID:   "user-1",
		Strategy: models.StrategyZPD,
	})
	if err != nil {
		t.Fatalf("GetRecommendations failed: %v", err)
	}
	// At the cached 0.65, skill-a sits closest to the zone's upper bound; at
	// the stale 0.2 it would not even be in the zone.
	if resp.Next == nil || resp.Next.Activity.ID != "act-a" {
		t.Errorf("Profile must use the write-through cached state, got %+v", resp.Next)
	}
}

func TestGetRecommendationsGoalFocus(t *testing.T) {
	store := newFakeStore()
	store.put(&models.CompetencyState{UserID: "user-1", SkillID: "skill-goal", MasteryProbability: 0.5, TotalAttempts: 10, CorrectAttempts: 5})
	store.put(&models.CompetencyState{UserID: "user-1", SkillID: "skill-other", MasteryProbability: 0.5, TotalAttempts: 10, CorrectAttempts: 5})

	svc, c := newTestAdaptationService(store, newFakeCatalog(), []models.Activity{
		testActivity("act-other", 0.5, "skill-other"),
		testActivity("act-goal", 0.5, "skill-goal"),
	})
	defer c.Close()

	resp, err := svc.GetRecommendations(context.Background(), &models.AdaptationRequest{
		UserID:       "user-1",
		GoalSkillIDs: []string{"skill-goal"},
	})
	if err != nil {
		t.Fatalf("GetRecommendations failed: %v", err)
	}
	if resp.Next == nil || resp.Next.Activity.ID != "act-goal" {
		t.Errorf("Goal skills must steer the ranking, got %+v", resp.Next)
	}
}
