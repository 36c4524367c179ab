package bkt

import (
	"math"
	"testing"
	"time"

	"competency-service/internal/models"
)

const epsilon = 0.001

func testParams() models.BKTParameters {
	return models.BKTParameters{
		SkillID:          "skill-1",
		PriorKnowledge:   0.1,
		LearningRate:     0.1,
		SlipProbability:  0.1,
		GuessProbability: 0.2,
	}
}

func TestUpdateExactValues(t *testing.T) {
	engine := NewEngine(nil)

	params := models.BKTParameters{
		SkillID:          "skill-1",
		PriorKnowledge:   0.1,
		LearningRate:     0.1,
		SlipProbability:  0.1,
		GuessProbability: 0.2,
	}

	testCases := []struct {
		name              string
		prior             float64
		isCorrect         bool
		expectedEvidence  float64
		expectedPosterior float64
	}{
		// evidence = 0.5*0.9/(0.5*0.9+0.5*0.2) = 0.8182, posterior = 0.8182 + 0.1818*0.1
		{"correct from 0.5", 0.5, true, 0.8182, 0.8364},
		// evidence = 0.5*0.1/(0.5*0.1+0.5*0.8) = 0.1111, posterior = 0.1111 + 0.8889*0.1
		{"incorrect from 0.5", 0.5, false, 0.1111, 0.2},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			posterior, diag := engine.Update(tc.prior, tc.isCorrect, params)

			if math.Abs(diag.Evidence-tc.expectedEvidence) > epsilon {
				t.Errorf("Expected evidence %.4f, got %.4f", tc.expectedEvidence, diag.Evidence)
			}
			if math.Abs(posterior-tc.expectedPosterior) > epsilon {
				t.Errorf("Expected posterior %.4f, got %.4f", tc.expectedPosterior, posterior)
			}
			if diag.Degenerate {
				t.Error("Expected non-degenerate update")
			}
		})
	}
}

func TestUpdatePosteriorAlwaysInRange(t *testing.T) {
	engine := NewEngine(nil)

	priors := []float64{0, 0.001, 0.1, 0.25, 0.5, 0.75, 0.9, 0.999, 1}
	paramSets := []models.BKTParameters{
		{SkillID: "a", PriorKnowledge: 0.1, LearningRate: 0.1, SlipProbability: 0.1, GuessProbability: 0.2},
		{SkillID: "b", PriorKnowledge: 0.5, LearningRate: 0.9, SlipProbability: 0.4, GuessProbability: 0.4},
		{SkillID: "c", PriorKnowledge: 0, LearningRate: 0, SlipProbability: 0, GuessProbability: 0},
		{SkillID: "d", PriorKnowledge: 1, LearningRate: 1, SlipProbability: 1, GuessProbability: 1},
	}

	for _, params := range paramSets {
		for _, prior := range priors {
			for _, isCorrect := range []bool{true, false} {
				posterior, _ := engine.Update(prior, isCorrect, params)
				if posterior < 0 || posterior > 1 {
					t.Errorf("Posterior %.4f out of [0,1] for prior=%.3f correct=%v params=%s",
						posterior, prior, isCorrect, params.SkillID)
				}
				if math.IsNaN(posterior) {
					t.Errorf("Posterior is NaN for prior=%.3f correct=%v params=%s", prior, isCorrect, params.SkillID)
				}
			}
		}
	}
}

func TestUpdateMonotonicLearning(t *testing.T) {
	engine := NewEngine(nil)
	params := testParams()

	mastery := 0.1
	for i := 0; i < 10; i++ {
		next, _ := engine.Update(mastery, true, params)
		if next < mastery {
			t.Errorf("Step %d: mastery decreased from %.4f to %.4f on a correct answer", i, mastery, next)
		}
		mastery = next
	}

	if mastery <= 0.7 {
		t.Errorf("Expected mastery > 0.7 after 10 correct answers, got %.4f", mastery)
	}
}

func TestUpdateDegenerateDenominator(t *testing.T) {
	engine := NewEngine(nil)

	// prior=0 with guess=0 makes the correct-branch denominator zero.
	params := models.BKTParameters{SkillID: "degen", SlipProbability: 0, GuessProbability: 0}
	posterior, diag := engine.Update(0, true, params)

	if !diag.Degenerate {
		t.Error("Expected degenerate flag on zero denominator")
	}
	// Mastery stays put apart from the learning transition (zero here).
	if posterior != 0 {
		t.Errorf("Expected posterior 0, got %.4f", posterior)
	}
}

func TestApplyEventBookkeeping(t *testing.T) {
	engine := NewEngine(nil)
	params := testParams()
	state := models.NewCompetencyState("user-1", "skill-1", params)

	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	event := &models.PerformanceEvent{
		UserID:         "user-1",
		SkillID:        "skill-1",
		ActivityID:     "act-1",
		IsCorrect:      true,
		HasCorrectness: true,
		Timestamp:      ts,
	}

	result, diag := engine.ApplyEvent(state, event, params)

	if state.TotalAttempts != 1 || state.CorrectAttempts != 1 {
		t.Errorf("Expected 1/1 attempts, got %d/%d", state.CorrectAttempts, state.TotalAttempts)
	}
	if !state.FirstAttemptAt.Equal(ts) || !state.LastAttemptAt.Equal(ts) {
		t.Error("Expected first/last attempt stamped with event timestamp")
	}
	if len(state.RecentPerformance) != 1 || !state.RecentPerformance[0] {
		t.Error("Expected recent performance ring to record the correct outcome")
	}
	if result.PosteriorMastery != state.MasteryProbability {
		t.Error("Result posterior should match state mastery")
	}
	if diag.Branch != "correct" {
		t.Errorf("Expected correct branch, got %s", diag.Branch)
	}
}

func TestRecentPerformanceRingBounded(t *testing.T) {
	engine := NewEngine(nil)
	params := testParams()
	state := models.NewCompetencyState("user-1", "skill-1", params)

	for i := 0; i < models.RecentPerformanceSize+15; i++ {
		event := &models.PerformanceEvent{
			UserID: "user-1", SkillID: "skill-1",
			IsCorrect: i%2 == 0, HasCorrectness: true,
			Timestamp: time.Now(),
		}
		engine.ApplyEvent(state, event, params)
	}

	if len(state.RecentPerformance) != models.RecentPerformanceSize {
		t.Errorf("Expected ring bounded at %d, got %d", models.RecentPerformanceSize, len(state.RecentPerformance))
	}
}

func TestMasteryIsSticky(t *testing.T) {
	engine := NewEngine(nil)
	params := testParams()
	state := models.NewCompetencyState("user-1", "skill-1", params)

	// Drive mastery over the threshold.
	for i := 0; i < 10; i++ {
		event := &models.PerformanceEvent{
			UserID: "user-1", SkillID: "skill-1",
			IsCorrect: true, HasCorrectness: true,
			Timestamp: time.Now(),
		}
		engine.ApplyEvent(state, event, params)
	}

	if !state.IsMastered {
		t.Fatalf("Expected mastery after 10 correct answers, mastery=%.4f attempts=%d",
			state.MasteryProbability, state.TotalAttempts)
	}
	if state.MasteryAchievedAt == nil {
		t.Fatal("Expected MasteryAchievedAt to be stamped")
	}
	achievedAt := *state.MasteryAchievedAt

	// A run of wrong answers may drop the probability but never the flag.
	for i := 0; i < 8; i++ {
		event := &models.PerformanceEvent{
			UserID: "user-1", SkillID: "skill-1",
			IsCorrect: false, HasCorrectness: true,
			Timestamp: time.Now(),
		}
		result, _ := engine.ApplyEvent(state, event, params)
		if result.MasteryGained {
			t.Error("MasteryGained must only fire on the first crossing")
		}
	}

	if !state.IsMastered {
		t.Error("IsMastered must never revert once set")
	}
	if !state.MasteryAchievedAt.Equal(achievedAt) {
		t.Error("MasteryAchievedAt must never be overwritten")
	}
}

func TestMasteryRequiresMinAttempts(t *testing.T) {
	engine := NewEngine(nil)
	params := models.BKTParameters{
		SkillID:          "skill-1",
		PriorKnowledge:   0.75,
		LearningRate:     0.3,
		SlipProbability:  0.05,
		GuessProbability: 0.2,
	}
	state := models.NewCompetencyState("user-1", "skill-1", params)

	event := &models.PerformanceEvent{
		UserID: "user-1", SkillID: "skill-1",
		IsCorrect: true, HasCorrectness: true,
		Timestamp: time.Now(),
	}
	engine.ApplyEvent(state, event, params)

	if state.MasteryProbability < 0.8 {
		t.Fatalf("Test setup: expected mastery >= 0.8 after one correct, got %.4f", state.MasteryProbability)
	}
	if state.IsMastered {
		t.Error("Mastery must not be granted before the minimum attempt count")
	}
}

func TestConfidenceIntervalInsufficientEvidence(t *testing.T) {
	engine := NewEngine(nil)

	testCases := []struct {
		correct int
		total   int
	}{
		{0, 0},
		{0, 1},
		{1, 1},
		{2, 2},
	}

	for _, tc := range testCases {
		lo, hi := engine.ConfidenceInterval(tc.correct, tc.total)
		if lo != 0.0 || hi != 1.0 {
			t.Errorf("Expected trivial (0,1) for %d/%d attempts, got (%.4f,%.4f)", tc.correct, tc.total, lo, hi)
		}
	}
}

func TestConfidenceIntervalWilson(t *testing.T) {
	engine := NewEngine(nil)

	lo, hi := engine.ConfidenceInterval(8, 10)
	if lo < 0 || hi > 1 || lo >= hi {
		t.Fatalf("Malformed interval (%.4f,%.4f)", lo, hi)
	}
	// Wilson at p=0.8, n=10, z=1.96: roughly (0.49, 0.94).
	if math.Abs(lo-0.490) > 0.01 || math.Abs(hi-0.943) > 0.01 {
		t.Errorf("Unexpected Wilson interval (%.4f,%.4f)", lo, hi)
	}

	// More evidence narrows the interval.
	lo2, hi2 := engine.ConfidenceInterval(80, 100)
	if (hi2 - lo2) >= (hi - lo) {
		t.Errorf("Expected narrower interval with more attempts: (%.4f,%.4f) vs (%.4f,%.4f)", lo2, hi2, lo, hi)
	}
}

func TestLearningVelocity(t *testing.T) {
	engine := NewEngine(nil)

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	state := &models.CompetencyState{
		UserID:             "user-1",
		SkillID:            "skill-1",
		MasteryProbability: 0.6,
		TotalAttempts:      5,
		FirstAttemptAt:     base,
		LastAttemptAt:      base.Add(5 * 24 * time.Hour),
	}

	v, ok := engine.LearningVelocity(state, 0.1)
	if !ok {
		t.Fatal("Expected a defined velocity")
	}
	if math.Abs(v-0.1) > epsilon {
		t.Errorf("Expected velocity 0.1/day, got %.4f", v)
	}

	// Under 2 attempts: undefined.
	state.TotalAttempts = 1
	if _, ok := engine.LearningVelocity(state, 0.1); ok {
		t.Error("Expected undefined velocity with fewer than 2 attempts")
	}

	// Under a day of history: undefined.
	state.TotalAttempts = 5
	state.LastAttemptAt = base.Add(2 * time.Hour)
	if _, ok := engine.LearningVelocity(state, 0.1); ok {
		t.Error("Expected undefined velocity with under a day of history")
	}
}

func TestRecommendIntensity(t *testing.T) {
	testCases := []struct {
		mastery  float64
		expected PracticeIntensity
	}{
		{0.0, IntensityIntensive},
		{0.29, IntensityIntensive},
		{0.3, IntensityModerate},
		{0.59, IntensityModerate},
		{0.6, IntensityLight},
		{0.79, IntensityLight},
		{0.8, IntensityMaintenance},
		{1.0, IntensityMaintenance},
	}

	for _, tc := range testCases {
		if got := RecommendIntensity(tc.mastery); got != tc.expected {
			t.Errorf("mastery %.2f: expected %s, got %s", tc.mastery, tc.expected, got)
		}
	}
}

func TestResolveCorrectness(t *testing.T) {
	score := func(v float64) *float64 { return &v }

	testCases := []struct {
		name        string
		event       models.PerformanceEvent
		threshold   float64
		wantCorrect bool
		wantLowConf bool
	}{
		{"explicit correct wins over low score", models.PerformanceEvent{IsCorrect: true, HasCorrectness: true, Score: score(0.1)}, 0.7, true, false},
		{"explicit incorrect", models.PerformanceEvent{IsCorrect: false, HasCorrectness: true}, 0.7, false, false},
		{"score at threshold", models.PerformanceEvent{Score: score(0.7)}, 0.7, true, false},
		{"score below threshold", models.PerformanceEvent{Score: score(0.69)}, 0.7, false, false},
		{"stricter threshold flips outcome", models.PerformanceEvent{Score: score(0.85)}, 0.9, false, false},
		{"zero threshold falls back to default", models.PerformanceEvent{Score: score(0.7)}, 0, true, false},
		{"no signal defaults incorrect", models.PerformanceEvent{}, 0.7, false, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			gotCorrect, gotLow := tc.event.ResolveCorrectness(tc.threshold)
			if gotCorrect != tc.wantCorrect || gotLow != tc.wantLowConf {
				t.Errorf("got (%v,%v), want (%v,%v)", gotCorrect, gotLow, tc.wantCorrect, tc.wantLowConf)
			}
		})
	}
}

// A configured score threshold must reach the update path, not just the
// resolver.
func TestApplyEventHonorsConfiguredScoreThreshold(t *testing.T) {
	strict := NewEngine(&BKTConfig{
		MasteryThreshold:      0.8,
		MinAttemptsForMastery: 3,
		ConfidenceZ:           1.96,
		ScoreCorrectThreshold: 0.9,
	})

	score := 0.85
	state := models.NewCompetencyState("user-1", "skill-1", testParams())
	result, _ := strict.ApplyEvent(state, &models.PerformanceEvent{
		UserID: "user-1", SkillID: "skill-1", Score: &score,
	}, testParams())

	if result.IsCorrect {
		t.Error("Score 0.85 under a 0.9 threshold must resolve as incorrect")
	}
	if result.LowConfidence {
		t.Error("A scored event is not low-confidence")
	}
}

func TestParameterValidation(t *testing.T) {
	valid := testParams()
	if err := valid.Validate(); err != nil {
		t.Errorf("Expected valid parameters, got %v", err)
	}

	invalid := []models.BKTParameters{
		{SkillID: "s", PriorKnowledge: -0.1, LearningRate: 0.1, SlipProbability: 0.1, GuessProbability: 0.2},
		{SkillID: "s", PriorKnowledge: 0.1, LearningRate: 1.1, SlipProbability: 0.1, GuessProbability: 0.2},
		{SkillID: "s", PriorKnowledge: 0.1, LearningRate: 0.1, SlipProbability: 2, GuessProbability: 0.2},
		{SkillID: "s", PriorKnowledge: 0.1, LearningRate: 0.1, SlipProbability: 0.1, GuessProbability: -1},
	}
	for i, p := range invalid {
		if err := p.Validate(); err == nil {
			t.Errorf("Case %d: expected validation error", i)
		}
	}
}
