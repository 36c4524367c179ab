package selection

import (
	"fmt"
	"math"
	"sort"
	"time"

	"competency-service/internal/bkt"
	"competency-service/internal/models"
)

// Engine ranks candidate activities for a learner. It is stateless between
// calls; all learner context arrives in the profile.
type Engine struct {
	config *SelectionConfig
	bkt    *bkt.Engine
}

// NewEngine creates a selection engine; nil config uses the defaults.
func NewEngine(config *SelectionConfig, bktEngine *bkt.Engine) *Engine {
	if config == nil {
		config = DefaultSelectionConfig()
	}
	if bktEngine == nil {
		bktEngine = bkt.NewEngine(nil)
	}
	return &Engine{config: config, bkt: bktEngine}
}

// SelectNext runs the full selection pipeline: eligibility filter, weighted
// scoring, ranking, session packing, and the refresh-interval decision.
func (e *Engine) SelectNext(profile *LearnerProfile, catalog []models.Activity, req *models.AdaptationRequest) (*models.AdaptationResponse, error) {
	strategy := req.Strategy
	if strategy == "" {
		strategy = models.StrategyWeighted
	}
	if !strategy.Valid() {
		return nil, fmt.Errorf("unknown selection strategy %q", strategy)
	}

	eligible := e.filterEligible(profile, catalog, req.ExcludeActivityIDs)

	var ranked []scoredActivity
	switch strategy {
	case models.StrategyWeighted:
		ranked = e.rankWeighted(profile, eligible, req)
	case models.StrategyMastery:
		ranked = e.rankByMastery(profile, eligible)
	case models.StrategyZPD:
		ranked = e.rankByZPD(profile, eligible)
	case models.StrategySpaced:
		ranked = e.rankBySpacing(profile, eligible, time.Now())
	case models.StrategyProgression:
		ranked = e.rankByProgression(profile, eligible)
	case models.StrategyMixed:
		ranked = e.rankMixed(profile, eligible, req)
	}

	maxAlternatives := req.MaxAlternatives
	if maxAlternatives <= 0 {
		maxAlternatives = e.config.MaxAlternatives
	}

	resp := &models.AdaptationResponse{
		Alternatives: []models.Recommendation{},
		SessionPlan:  []models.Recommendation{},
		Metadata: models.AdaptationMetadata{
			Strategy:        strategy,
			CandidateCount:  len(catalog),
			EligibleCount:   len(eligible),
			MeanConfidence:  e.meanConfidence(profile),
			GeneratedAt:     time.Now(),
			SkillsEvaluated: len(profile.States),
		},
	}

	if len(ranked) > 0 {
		next := toRecommendation(ranked[0])
		resp.Next = &next
		for i := 1; i < len(ranked) && i <= maxAlternatives; i++ {
			resp.Alternatives = append(resp.Alternatives, toRecommendation(ranked[i]))
		}
		resp.SessionPlan = e.packSession(ranked, req.TimeBudgetMinutes)
	}

	resp.RefreshInMinutes = e.refreshInterval(resp.Metadata.MeanConfidence)
	return resp, nil
}

// filterEligible drops excluded, inactive, and prerequisite-gated activities.
// A missing prerequisite state counts as unmet, not as a pass.
func (e *Engine) filterEligible(profile *LearnerProfile, catalog []models.Activity, excludeIDs []string) []models.Activity {
	excluded := make(map[string]bool, len(excludeIDs))
	for _, id := range excludeIDs {
		excluded[id] = true
	}

	var eligible []models.Activity
	for _, activity := range catalog {
		if excluded[activity.ID] || !activity.IsActive {
			continue
		}
		if e.prerequisitesMet(profile, activity) {
			eligible = append(eligible, activity)
		}
	}
	return eligible
}

func (e *Engine) prerequisitesMet(profile *LearnerProfile, activity models.Activity) bool {
	for _, skillID := range activity.TargetSkillIDs {
		skill, ok := profile.Skills[skillID]
		if !ok {
			continue
		}
		for _, prereqID := range skill.PrerequisiteSkillIDs {
			mastery, known := profile.Mastery(prereqID)
			if !known || mastery < e.config.PrerequisiteThreshold {
				return false
			}
		}
	}
	return true
}

// rankWeighted scores each eligible activity on the five weighted criteria
// and sorts descending. Ties break on activity ID for a stable order.
func (e *Engine) rankWeighted(profile *LearnerProfile, eligible []models.Activity, req *models.AdaptationRequest) []scoredActivity {
	categoryFreq := make(map[string]int, len(eligible))
	for _, a := range eligible {
		categoryFreq[a.Category]++
	}

	scored := make([]scoredActivity, 0, len(eligible))
	for _, activity := range eligible {
		sa := e.scoreActivity(profile, activity, req, categoryFreq, len(eligible))
		scored = append(scored, sa)
	}

	sortRanked(scored)
	return scored
}

func (e *Engine) scoreActivity(profile *LearnerProfile, activity models.Activity, req *models.AdaptationRequest, categoryFreq map[string]int, candidateCount int) scoredActivity {
	competency := e.competencyAlignment(profile, activity)
	goal := e.goalAlignment(activity, req.GoalSkillIDs)
	optimal := e.activityOptimalDifficulty(profile, activity)
	difficulty := e.difficultyFit(activity.Difficulty, optimal, req.PreferredDifficulty)
	timeFit := e.timeFit(activity.EstimatedMinutes, req.TimeBudgetMinutes)
	variety := e.varietyScore(activity.Category, categoryFreq, candidateCount)

	total := e.config.CompetencyWeight*competency +
		e.config.GoalWeight*goal +
		e.config.DifficultyWeight*difficulty +
		e.config.TimeWeight*timeFit +
		e.config.VarietyWeight*variety

	return scoredActivity{
		activity:          activity,
		total:             bkt.Clamp01(total),
		competency:        competency,
		goal:              goal,
		difficulty:        difficulty,
		timeFit:           timeFit,
		variety:           variety,
		optimalDifficulty: optimal,
		reason:            e.describeAlignment(profile, activity),
	}
}

// competencyAlignment classifies each target skill's mastery against the ZPD
// band, weights it by evidence strength, and averages. Unknown skills score a
// neutral 0.5.
func (e *Engine) competencyAlignment(profile *LearnerProfile, activity models.Activity) float64 {
	if len(activity.TargetSkillIDs) == 0 {
		return 0.5
	}

	total := 0.0
	for _, skillID := range activity.TargetSkillIDs {
		state, ok := profile.States[skillID]
		if !ok {
			total += 0.5
			continue
		}

		var band float64
		switch {
		case state.MasteryProbability < e.config.ZPDLower:
			band = 0.6
		case state.MasteryProbability <= e.config.ZPDUpper:
			band = 1.0
		default:
			band = 0.4
		}

		strength := e.bkt.ConfidenceStrength(state.CorrectAttempts, state.TotalAttempts)
		total += band * strength
	}
	return total / float64(len(activity.TargetSkillIDs))
}

// goalAlignment is the fraction of caller goals covered by the activity.
func (e *Engine) goalAlignment(activity models.Activity, goals []string) float64 {
	if len(goals) == 0 {
		return 0.5
	}

	targets := make(map[string]bool, len(activity.TargetSkillIDs))
	for _, id := range activity.TargetSkillIDs {
		targets[id] = true
	}

	covered := 0
	for _, goal := range goals {
		if targets[goal] {
			covered++
		}
	}
	return float64(covered) / float64(len(goals))
}

// difficultyFit rewards activities near the computed optimal difficulty,
// blended 50/50 with the caller's preference when one is supplied.
func (e *Engine) difficultyFit(activityDifficulty, optimal float64, preferred *float64) float64 {
	fit := func(target float64) float64 {
		v := 1 - 2*math.Abs(activityDifficulty-target)
		if v < 0 {
			return 0
		}
		return v
	}

	score := fit(optimal)
	if preferred != nil {
		score = 0.5*score + 0.5*fit(*preferred)
	}
	return score
}

func (e *Engine) timeFit(estimatedMinutes, budgetMinutes int) float64 {
	if budgetMinutes <= 0 {
		return 1.0
	}
	switch {
	case estimatedMinutes <= budgetMinutes:
		return 1.0
	case float64(estimatedMinutes) <= 1.2*float64(budgetMinutes):
		return 0.7
	default:
		return 0.3
	}
}

// varietyScore gives rarer categories a small edge so one category cannot
// monopolize the ranking. The weighted contribution stays well under the 0.2
// bound.
func (e *Engine) varietyScore(category string, categoryFreq map[string]int, candidateCount int) float64 {
	if candidateCount == 0 {
		return 0
	}
	return 1 - float64(categoryFreq[category])/float64(candidateCount)
}

// activityOptimalDifficulty averages the per-skill optimal difficulty over
// the activity's target skills.
func (e *Engine) activityOptimalDifficulty(profile *LearnerProfile, activity models.Activity) float64 {
	if len(activity.TargetSkillIDs) == 0 {
		return 0.5
	}

	total := 0.0
	for _, skillID := range activity.TargetSkillIDs {
		mastery, known := profile.Mastery(skillID)
		if !known {
			mastery = 0.5
		}
		total += e.OptimalDifficulty(mastery, profile.ParamsFor(skillID))
	}
	return total / float64(len(activity.TargetSkillIDs))
}

// OptimalDifficulty finds the difficulty at which predicted success equals
// the target success rate, by binary search on [0,1]. Predicted success is
//
//	mastery*(1-slip') + (1-mastery)*guess*(1-d), slip' = min(0.5, slip+d*0.3)
//
// which decreases in d: harder activities raise the slip rate and shrink the
// guess channel.
func (e *Engine) OptimalDifficulty(mastery float64, params models.BKTParameters) float64 {
	predicted := func(d float64) float64 {
		slip := math.Min(0.5, params.SlipProbability+d*0.3)
		return mastery*(1-slip) + (1-mastery)*params.GuessProbability*(1-d)
	}

	target := e.config.TargetSuccessRate

	if predicted(0) <= target {
		return 0
	}
	if predicted(1) >= target {
		return 1
	}

	lo, hi := 0.0, 1.0
	for i := 0; i < 50 && hi-lo > 0.01; i++ {
		mid := (lo + hi) / 2
		if predicted(mid) > target {
			lo = mid
		} else {
			hi = mid
		}
	}
	return (lo + hi) / 2
}

// packSession greedily accepts ranked activities into the time budget and
// stops at the first overflow; it does not reorder to fill the remainder.
func (e *Engine) packSession(ranked []scoredActivity, budgetMinutes int) []models.Recommendation {
	plan := make([]models.Recommendation, 0, len(ranked))
	if budgetMinutes <= 0 {
		for _, sa := range ranked {
			plan = append(plan, toRecommendation(sa))
		}
		return plan
	}

	used := 0
	for _, sa := range ranked {
		if used+sa.activity.EstimatedMinutes > budgetMinutes {
			break
		}
		used += sa.activity.EstimatedMinutes
		plan = append(plan, toRecommendation(sa))
	}
	return plan
}

// meanConfidence averages the evidence strength across the learner's states.
func (e *Engine) meanConfidence(profile *LearnerProfile) float64 {
	if len(profile.States) == 0 {
		return 0
	}
	total := 0.0
	for _, state := range profile.States {
		total += e.bkt.ConfidenceStrength(state.CorrectAttempts, state.TotalAttempts)
	}
	return total / float64(len(profile.States))
}

// refreshInterval tells the caller how soon to re-request recommendations:
// weak evidence goes stale fast.
func (e *Engine) refreshInterval(meanConfidence float64) int {
	switch {
	case meanConfidence < 0.5:
		return 30
	case meanConfidence < 0.8:
		return 60
	default:
		return 120
	}
}

func (e *Engine) describeAlignment(profile *LearnerProfile, activity models.Activity) string {
	inZPD := 0
	fresh := 0
	for _, skillID := range activity.TargetSkillIDs {
		mastery, known := profile.Mastery(skillID)
		if !known {
			fresh++
			continue
		}
		if mastery >= e.config.ZPDLower && mastery <= e.config.ZPDUpper {
			inZPD++
		}
	}
	switch {
	case inZPD > 0:
		return fmt.Sprintf("%d of %d target skills in the optimal learning zone", inZPD, len(activity.TargetSkillIDs))
	case fresh > 0:
		return fmt.Sprintf("introduces %d new skills", fresh)
	default:
		return "reinforces existing skills"
	}
}

func toRecommendation(sa scoredActivity) models.Recommendation {
	return models.Recommendation{
		Activity:          sa.activity,
		Score:             bkt.Clamp01(sa.total),
		TargetSkillIDs:    sa.activity.TargetSkillIDs,
		OptimalDifficulty: sa.optimalDifficulty,
		Reason:            sa.reason,
	}
}

func sortRanked(scored []scoredActivity) {
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].total != scored[j].total {
			return scored[i].total > scored[j].total
		}
		return scored[i].activity.ID < scored[j].activity.ID
	})
}
