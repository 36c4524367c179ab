package selection

import (
	"math"
	"sort"
	"time"

	"competency-service/internal/models"
)

// reviewIntervals is the spaced-repetition ladder, in days, indexed by the
// trailing run of correct outcomes.
var reviewIntervals = []int{1, 3, 7, 14, 30, 90}

// rankByMastery works the learner's active material first: skills already in
// progress (between the learning and mastery thresholds) outrank brand-new
// ones, which outrank mastered skills kept only for review. Within a tier the
// weakest skill sorts first.
func (e *Engine) rankByMastery(profile *LearnerProfile, eligible []models.Activity) []scoredActivity {
	scored := make([]scoredActivity, 0, len(eligible))
	for _, activity := range eligible {
		mean := 0.0
		for _, skillID := range activity.TargetSkillIDs {
			mean += e.masteryTierScore(profile, skillID)
		}
		if len(activity.TargetSkillIDs) > 0 {
			mean /= float64(len(activity.TargetSkillIDs))
		}

		scored = append(scored, scoredActivity{
			activity:          activity,
			total:             mean,
			optimalDifficulty: e.activityOptimalDifficulty(profile, activity),
			reason:            "targets skills still being learned",
		})
	}
	sortRanked(scored)
	return scored
}

// masteryTierScore places a skill in one of three disjoint score bands:
// in-progress in (2/3,1], new or barely started in (1/3,2/3], mastered in
// [0,1/3]. Lower mastery scores higher inside every band.
func (e *Engine) masteryTierScore(profile *LearnerProfile, skillID string) float64 {
	mastery, known := profile.Mastery(skillID)
	switch {
	case known && mastery >= e.config.LearningThreshold && mastery < e.config.MasteryThreshold:
		return (2 + (1 - mastery)) / 3
	case !known || mastery < e.config.LearningThreshold:
		return (1 + (1 - mastery)) / 3
	default:
		return (1 - mastery) / 3
	}
}

// rankByZPD restricts attention to skills inside the zone of proximal
// development, ordered by closeness to the zone's upper bound: a skill at 0.65
// is nearly ready to leave the zone and outranks one at 0.5. Skills outside
// the zone pad the ranking, scored below every in-zone skill by their distance
// to the nearest bound.
func (e *Engine) rankByZPD(profile *LearnerProfile, eligible []models.Activity) []scoredActivity {
	scored := make([]scoredActivity, 0, len(eligible))
	for _, activity := range eligible {
		total := 0.0
		for _, skillID := range activity.TargetSkillIDs {
			mastery, known := profile.Mastery(skillID)
			if !known {
				total += 0.5
				continue
			}
			if mastery >= e.config.ZPDLower && mastery <= e.config.ZPDUpper {
				total += 1 - (e.config.ZPDUpper - mastery)
				continue
			}
			dist := e.config.ZPDLower - mastery
			if mastery > e.config.ZPDUpper {
				dist = mastery - e.config.ZPDUpper
			}
			pad := 0.5 - dist
			if pad < 0 {
				pad = 0
			}
			total += pad
		}
		if len(activity.TargetSkillIDs) > 0 {
			total /= float64(len(activity.TargetSkillIDs))
		}

		scored = append(scored, scoredActivity{
			activity:          activity,
			total:             total,
			optimalDifficulty: e.activityOptimalDifficulty(profile, activity),
			reason:            "skills in the optimal learning zone",
		})
	}
	sortRanked(scored)
	return scored
}

// rankBySpacing implements spaced repetition: a skill's review interval grows
// with its trailing streak of correct outcomes, and overdue skills score
// proportionally to how late the review is. Skills never practiced have
// nothing to review and score zero.
func (e *Engine) rankBySpacing(profile *LearnerProfile, eligible []models.Activity, now time.Time) []scoredActivity {
	scored := make([]scoredActivity, 0, len(eligible))
	for _, activity := range eligible {
		total := 0.0
		for _, skillID := range activity.TargetSkillIDs {
			total += e.reviewUrgency(profile, skillID, now)
		}
		if len(activity.TargetSkillIDs) > 0 {
			total /= float64(len(activity.TargetSkillIDs))
		}

		scored = append(scored, scoredActivity{
			activity:          activity,
			total:             total,
			optimalDifficulty: e.activityOptimalDifficulty(profile, activity),
			reason:            "skills due for review",
		})
	}
	sortRanked(scored)
	return scored
}

// reviewUrgency is elapsed-over-interval: exactly due scores 1, half the
// interval elapsed scores 0.5, and a skill two intervals overdue scores 2, so
// overdue skills keep ranking against each other. Mastered skills move one
// rung up the ladder and wait longer between reviews.
func (e *Engine) reviewUrgency(profile *LearnerProfile, skillID string, now time.Time) float64 {
	state, ok := profile.States[skillID]
	if !ok || state.LastAttemptAt.IsZero() {
		return 0
	}

	idx := state.ConsecutiveCorrect()
	if state.IsMastered {
		idx++
	}
	if idx >= len(reviewIntervals) {
		idx = len(reviewIntervals) - 1
	}
	interval := time.Duration(reviewIntervals[idx]) * 24 * time.Hour

	elapsed := now.Sub(state.LastAttemptAt)
	urgency := float64(elapsed) / float64(interval)
	if urgency < 0 {
		return 0
	}
	return urgency
}

// rankByProgression builds a climbing difficulty ladder: the learner's skills
// sorted ascending by mastery each get a target difficulty one more step
// (0.1) above their mastery than the previous skill's, so a session works
// upward instead of circling one level. Ties break toward the easier activity.
func (e *Engine) rankByProgression(profile *LearnerProfile, eligible []models.Activity) []scoredActivity {
	targets := e.progressionTargets(profile)

	scored := make([]scoredActivity, 0, len(eligible))
	for _, activity := range eligible {
		total := 0.0
		for _, skillID := range activity.TargetSkillIDs {
			target, ok := targets[skillID]
			if !ok {
				target = 0.6
			}
			closeness := 1 - 2*math.Abs(activity.Difficulty-target)
			if closeness < 0 {
				closeness = 0
			}
			total += closeness
		}
		if len(activity.TargetSkillIDs) > 0 {
			total /= float64(len(activity.TargetSkillIDs))
		}

		scored = append(scored, scoredActivity{
			activity:          activity,
			total:             total,
			optimalDifficulty: e.activityOptimalDifficulty(profile, activity),
			reason:            "next rung on the difficulty ladder",
		})
	}

	sortRankedWith(scored, func(a, b scoredActivity) bool {
		return a.activity.Difficulty < b.activity.Difficulty
	})
	return scored
}

// progressionTargets assigns each known skill a target difficulty of
// mastery + i*0.1, i counting from 1 over the skills sorted ascending by
// mastery, capped at 1. The sequence of targets is strictly increasing.
func (e *Engine) progressionTargets(profile *LearnerProfile) map[string]float64 {
	type rung struct {
		skillID string
		mastery float64
	}
	rungs := make([]rung, 0, len(profile.States))
	for skillID, state := range profile.States {
		rungs = append(rungs, rung{skillID: skillID, mastery: state.MasteryProbability})
	}
	sort.Slice(rungs, func(i, j int) bool {
		if rungs[i].mastery != rungs[j].mastery {
			return rungs[i].mastery < rungs[j].mastery
		}
		return rungs[i].skillID < rungs[j].skillID
	})

	targets := make(map[string]float64, len(rungs))
	for i, r := range rungs {
		target := r.mastery + 0.1*float64(i+1)
		if target > 1 {
			target = 1
		}
		targets[r.skillID] = target
	}
	return targets
}

// rankMixed scores with the weighted criteria, then interleaves categories
// round-robin so consecutive picks rotate subject matter.
func (e *Engine) rankMixed(profile *LearnerProfile, eligible []models.Activity, req *models.AdaptationRequest) []scoredActivity {
	scored := e.rankWeighted(profile, eligible, req)
	if len(scored) < 2 {
		return scored
	}

	// Bucket by category, preserving the per-category score order.
	var order []string
	buckets := make(map[string][]scoredActivity)
	for _, sa := range scored {
		if _, seen := buckets[sa.activity.Category]; !seen {
			order = append(order, sa.activity.Category)
		}
		buckets[sa.activity.Category] = append(buckets[sa.activity.Category], sa)
	}

	interleaved := make([]scoredActivity, 0, len(scored))
	for len(interleaved) < len(scored) {
		for _, category := range order {
			if len(buckets[category]) == 0 {
				continue
			}
			interleaved = append(interleaved, buckets[category][0])
			buckets[category] = buckets[category][1:]
		}
	}
	return interleaved
}

// sortRankedWith sorts descending by score, breaking ties with the supplied
// comparison, then by ID.
func sortRankedWith(scored []scoredActivity, tieBreak func(a, b scoredActivity) bool) {
	sort.SliceStable(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.total != b.total {
			return a.total > b.total
		}
		if tieBreak(a, b) != tieBreak(b, a) {
			return tieBreak(a, b)
		}
		return a.activity.ID < b.activity.ID
	})
}
