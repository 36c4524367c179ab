package service

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"competency-service/internal/bkt"
	"competency-service/internal/cache"
	"competency-service/internal/models"
	"competency-service/internal/pipeline"
)

const epsilon = 0.001

// fakeStore backs both the pipeline and the read side in tests.
type fakeStore struct {
	mu     sync.Mutex
	states map[string]*models.CompetencyState
	events []*models.PerformanceEvent
}

func newFakeStore() *fakeStore {
	return &fakeStore{states: make(map[string]*models.CompetencyState)}
}

func (s *fakeStore) GetCompetency(ctx context.Context, userID, skillID string) (*models.CompetencyState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[userID+":"+skillID]
	if !ok {
		return nil, false, nil
	}
	copied := *state
	return &copied, true, nil
}

func (s *fakeStore) SaveCompetency(ctx context.Context, state *models.CompetencyState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *state
	s.states[state.UserID+":"+state.SkillID] = &copied
	return nil
}

func (s *fakeStore) SavePerformanceEvent(ctx context.Context, event *models.PerformanceEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *fakeStore) ListBySkill(ctx context.Context, userID, skillID string, limit int64) ([]*models.PerformanceEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.PerformanceEvent
	for _, e := range s.events {
		if e.UserID == userID && e.SkillID == skillID {
			out = append(out, e)
		}
		if limit > 0 && int64(len(out)) == limit {
			break
		}
	}
	return out, nil
}

func (s *fakeStore) ListByUser(ctx context.Context, userID string) ([]*models.CompetencyState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.CompetencyState
	for _, state := range s.states {
		if state.UserID == userID {
			copied := *state
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *fakeStore) put(state *models.CompetencyState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.UserID+":"+state.SkillID] = state
}

// fakeCatalog serves fixed parameters and skill metadata.
type fakeCatalog struct {
	params map[string]models.BKTParameters
	skills map[string]models.SkillInfo
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		params: make(map[string]models.BKTParameters),
		skills: make(map[string]models.SkillInfo),
	}
}

func (c *fakeCatalog) GetSkillParameters(ctx context.Context, skillID string) (models.BKTParameters, bool, error) {
	params, ok := c.params[skillID]
	return params, ok, nil
}

func (c *fakeCatalog) GetSkillInfo(ctx context.Context, skillID string) (*models.SkillInfo, bool, error) {
	info, ok := c.skills[skillID]
	if !ok {
		return nil, false, nil
	}
	return &info, true, nil
}

func (c *fakeCatalog) ListSkillInfo(ctx context.Context) ([]models.SkillInfo, error) {
	var out []models.SkillInfo
	for _, info := range c.skills {
		out = append(out, info)
	}
	return out, nil
}

func newTestCompetencyService(store *fakeStore, catalog *fakeCatalog) (*CompetencyService, cache.CompetencyCache) {
	engine := bkt.NewEngine(nil)
	c := cache.NewMemoryCache()
	p := pipeline.New(engine, c, store, catalog, nil, pipeline.Config{})
	return NewCompetencyService(p, engine, store, store, catalog, c, 0), c
}

func boolPtr(b bool) *bool { return &b }

func floatPtr(f float64) *float64 { return &f }

func TestUpdateCompetencyExplicitCorrectness(t *testing.T) {
	store := newFakeStore()
	svc, c := newTestCompetencyService(store, newFakeCatalog())
	defer c.Close()

	result, err := svc.UpdateCompetency(context.Background(), &models.UpdateCompetencyRequest{
		UserID:    "user-1",
		SkillID:   "skill-1",
		IsCorrect: boolPtr(true),
	})
	if err != nil {
		t.Fatalf("UpdateCompetency failed: %v", err)
	}
	if result.PosteriorMastery <= result.PriorMastery {
		t.Error("Correct answer must raise mastery")
	}
	if result.LowConfidence {
		t.Error("Explicit correctness must not be low-confidence")
	}
}

func TestUpdateCompetencyScoreFallback(t *testing.T) {
	store := newFakeStore()
	svc, c := newTestCompetencyService(store, newFakeCatalog())
	defer c.Close()
	ctx := context.Background()

	high, err := svc.UpdateCompetency(ctx, &models.UpdateCompetencyRequest{
		UserID: "user-1", SkillID: "skill-high", Score: floatPtr(0.85),
	})
	if err != nil {
		t.Fatalf("UpdateCompetency failed: %v", err)
	}
	if !high.IsCorrect {
		t.Error("Score 0.85 must resolve as correct")
	}

	low, err := svc.UpdateCompetency(ctx, &models.UpdateCompetencyRequest{
		UserID: "user-1", SkillID: "skill-low", Score: floatPtr(0.5),
	})
	if err != nil {
		t.Fatalf("UpdateCompetency failed: %v", err)
	}
	if low.IsCorrect {
		t.Error("Score 0.5 must resolve as incorrect")
	}
}

func TestUpdateCompetencyNoOutcomeIsLowConfidence(t *testing.T) {
	store := newFakeStore()
	svc, c := newTestCompetencyService(store, newFakeCatalog())
	defer c.Close()

	result, err := svc.UpdateCompetency(context.Background(), &models.UpdateCompetencyRequest{
		UserID: "user-1", SkillID: "skill-1",
	})
	if err != nil {
		t.Fatalf("UpdateCompetency failed: %v", err)
	}
	if !result.LowConfidence {
		t.Error("Event without outcome or score must be flagged low-confidence")
	}
	if result.IsCorrect {
		t.Error("Missing outcome defaults to incorrect")
	}
}

type fakeNotifier struct {
	mu      sync.Mutex
	batches [][]models.BKTUpdateResult
}

func (n *fakeNotifier) PublishBatchProcessed(results []models.BKTUpdateResult) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.batches = append(n.batches, results)
	return nil
}

func TestBatchUpdateResultsAlignWithRequestOrder(t *testing.T) {
	store := newFakeStore()
	svc, c := newTestCompetencyService(store, newFakeCatalog())
	defer c.Close()
	notifier := &fakeNotifier{}
	svc.Notifier = notifier

	results, err := svc.BatchUpdateCompetencies(context.Background(), &models.BatchUpdateRequest{
		Events: []models.UpdateCompetencyRequest{
			{UserID: "user-1", SkillID: "skill-a", IsCorrect: boolPtr(true)},
			{UserID: "user-1", SkillID: "skill-b", IsCorrect: boolPtr(false)},
			{UserID: "user-2", SkillID: "skill-a", IsCorrect: boolPtr(true)},
		},
	})
	if err != nil {
		t.Fatalf("BatchUpdateCompetencies failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("Expected 3 results, got %d", len(results))
	}
	if results[0].SkillID != "skill-a" || results[1].SkillID != "skill-b" || results[2].UserID != "user-2" {
		t.Error("Results must align with request order")
	}
	if len(notifier.batches) != 1 || len(notifier.batches[0]) != 3 {
		t.Errorf("Expected one batch-processed notification for 3 results, got %+v", notifier.batches)
	}
}

func TestGetSkillCompetencyNotFound(t *testing.T) {
	store := newFakeStore()
	svc, c := newTestCompetencyService(store, newFakeCatalog())
	defer c.Close()

	_, found, err := svc.GetSkillCompetency(context.Background(), "user-1", "skill-1")
	if err != nil {
		t.Fatalf("GetSkillCompetency failed: %v", err)
	}
	if found {
		t.Error("Unobserved pair must report not found")
	}
}

func TestGetSkillCompetencyView(t *testing.T) {
	store := newFakeStore()
	catalog := newFakeCatalog()
	catalog.skills["skill-1"] = models.SkillInfo{ID: "skill-1", Name: "Fractions"}

	now := time.Now()
	store.put(&models.CompetencyState{
		UserID: "user-1", SkillID: "skill-1",
		MasteryProbability: 0.85,
		TotalAttempts:      10, CorrectAttempts: 8,
		IsMastered:     true,
		FirstAttemptAt: now.Add(-5 * 24 * time.Hour),
		LastAttemptAt:  now,
	})

	svc, c := newTestCompetencyService(store, catalog)
	defer c.Close()

	view, found, err := svc.GetSkillCompetency(context.Background(), "user-1", "skill-1")
	if err != nil || !found {
		t.Fatalf("Expected view, found=%v err=%v", found, err)
	}
	if view.SkillName != "Fractions" {
		t.Errorf("Expected skill name from catalog, got %q", view.SkillName)
	}
	if math.Abs(view.Accuracy-0.8) > epsilon {
		t.Errorf("Expected accuracy 0.8, got %.4f", view.Accuracy)
	}
	if view.PracticeIntensity != "maintenance" {
		t.Errorf("Mastery 0.85 recommends maintenance, got %q", view.PracticeIntensity)
	}
	if view.ConfidenceLow <= 0 || view.ConfidenceHigh >= 1 {
		t.Error("10 attempts give a non-trivial Wilson interval")
	}
	if view.LearningVelocity == nil {
		t.Fatal("Expected a learning velocity with 10 attempts over 5 days")
	}
	// (0.85 - default prior 0.1) / 5 days
	if math.Abs(*view.LearningVelocity-0.15) > epsilon {
		t.Errorf("Expected velocity 0.15/day, got %.4f", *view.LearningVelocity)
	}
}

func TestGetSkillCompetencyTrivialIntervalWithFewAttempts(t *testing.T) {
	store := newFakeStore()
	store.put(&models.CompetencyState{
		UserID: "user-1", SkillID: "skill-1",
		MasteryProbability: 0.3, TotalAttempts: 2, CorrectAttempts: 1,
	})

	svc, c := newTestCompetencyService(store, newFakeCatalog())
	defer c.Close()

	view, _, err := svc.GetSkillCompetency(context.Background(), "user-1", "skill-1")
	if err != nil {
		t.Fatalf("GetSkillCompetency failed: %v", err)
	}
	if view.ConfidenceLow != 0 || view.ConfidenceHigh != 1 {
		t.Errorf("Fewer than 3 attempts give the trivial interval, got (%.2f, %.2f)", view.ConfidenceLow, view.ConfidenceHigh)
	}
	if view.LearningVelocity != nil {
		t.Error("Velocity is undefined with under a day of history")
	}
}

func TestGetPerformanceHistory(t *testing.T) {
	store := newFakeStore()
	svc, c := newTestCompetencyService(store, newFakeCatalog())
	defer c.Close()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := svc.UpdateCompetency(ctx, &models.UpdateCompetencyRequest{
			UserID: "user-1", SkillID: "skill-1", IsCorrect: boolPtr(i%2 == 0),
		}); err != nil {
			t.Fatalf("UpdateCompetency failed: %v", err)
		}
	}

	events, err := svc.GetPerformanceHistory(ctx, "user-1", "skill-1", 3)
	if err != nil {
		t.Fatalf("GetPerformanceHistory failed: %v", err)
	}
	if len(events) != 3 {
		t.Errorf("Expected limit of 3 events, got %d", len(events))
	}

	all, err := svc.GetPerformanceHistory(ctx, "user-1", "skill-1", 0)
	if err != nil {
		t.Fatalf("GetPerformanceHistory failed: %v", err)
	}
	if len(all) != 5 {
		t.Errorf("Expected 5 events, got %d", len(all))
	}
}

func TestInvalidateUserCacheForcesRepositoryReload(t *testing.T) {
	store := newFakeStore()
	svc, c := newTestCompetencyService(store, newFakeCatalog())
	defer c.Close()
	ctx := context.Background()

	if _, err := svc.UpdateCompetency(ctx, &models.UpdateCompetencyRequest{
		UserID: "user-1", SkillID: "skill-1", IsCorrect: boolPtr(true),
	}); err != nil {
		t.Fatalf("UpdateCompetency failed: %v", err)
	}
	if _, found := c.Get(ctx, "user-1", "skill-1"); !found {
		t.Fatal("Expected write-through cached state")
	}

	if err := svc.InvalidateUserCache(ctx, "user-1"); err != nil {
		t.Fatalf("InvalidateUserCache failed: %v", err)
	}
	if _, found := c.Get(ctx, "user-1", "skill-1"); found {
		t.Error("Expected cached state to be dropped")
	}

	// Repository copy survives, so the read path still serves the view.
	view, found, err := svc.GetSkillCompetency(ctx, "user-1", "skill-1")
	if err != nil || !found {
		t.Fatalf("Expected view after invalidation, found=%v err=%v", found, err)
	}
	if view.TotalAttempts != 1 {
		t.Errorf("Expected reloaded state with 1 attempt, got %d", view.TotalAttempts)
	}
}

func TestGetCompetencyProfileAggregates(t *testing.T) {
	store := newFakeStore()
	store.put(&models.CompetencyState{UserID: "user-1", SkillID: "skill-a", MasteryProbability: 0.9, TotalAttempts: 5, CorrectAttempts: 5, IsMastered: true})
	store.put(&models.CompetencyState{UserID: "user-1", SkillID: "skill-b", MasteryProbability: 0.3, TotalAttempts: 4, CorrectAttempts: 1})
	store.put(&models.CompetencyState{UserID: "other", SkillID: "skill-a", MasteryProbability: 0.5, TotalAttempts: 2, CorrectAttempts: 1})

	svc, c := newTestCompetencyService(store, newFakeCatalog())
	defer c.Close()

	profile, err := svc.GetCompetencyProfile(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("GetCompetencyProfile failed: %v", err)
	}
	if len(profile.Skills) != 2 {
		t.Fatalf("Expected 2 skills for user-1, got %d", len(profile.Skills))
	}
	if profile.Skills[0].SkillID != "skill-a" {
		t.Error("Profile must sort by descending mastery")
	}
	if profile.MasteredCount != 1 {
		t.Errorf("Expected 1 mastered skill, got %d", profile.MasteredCount)
	}
	if math.Abs(profile.MeanMastery-0.6) > epsilon {
		t.Errorf("Expected mean mastery 0.6, got %.4f", profile.MeanMastery)
	}
}
