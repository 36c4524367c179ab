package bkt

import (
	"log"
	"math"
	"time"

	"competency-service/internal/models"
)

// UpdateDiagnostics records the intermediate values of one Bayes update so
// callers can audit which branch ran and how much the estimate moved.
type UpdateDiagnostics struct {
	Prior      float64 `json:"prior"`
	Evidence   float64 `json:"evidence"`
	Posterior  float64 `json:"posterior"`
	Delta      float64 `json:"delta"`
	Branch     string  `json:"branch"`
	Degenerate bool    `json:"degenerate"`
}

// BKTConfig holds the thresholds of the update engine.
type BKTConfig struct {
	MasteryThreshold      float64 `json:"mastery_threshold"`
	MinAttemptsForMastery int     `json:"min_attempts_for_mastery"`
	ConfidenceZ           float64 `json:"confidence_z"`
	LearningThreshold     float64 `json:"learning_threshold"`
	ScoreCorrectThreshold float64 `json:"score_correct_threshold"`
}

// DefaultBKTConfig returns the standard thresholds: mastery at 0.8 after at
// least 3 attempts, 95% Wilson intervals, scores of 0.7 counting as correct.
func DefaultBKTConfig() *BKTConfig {
	return &BKTConfig{
		MasteryThreshold:      0.8,
		MinAttemptsForMastery: 3,
		ConfidenceZ:           1.96,
		LearningThreshold:     0.3,
		ScoreCorrectThreshold: models.ScoreCorrectThreshold,
	}
}

// Engine performs Bayesian Knowledge Tracing updates. The math is pure; the
// engine does no I/O.
type Engine struct {
	config *BKTConfig
}

// NewEngine creates an update engine; nil config uses the defaults.
func NewEngine(config *BKTConfig) *Engine {
	if config == nil {
		config = DefaultBKTConfig()
	}
	return &Engine{config: config}
}

// Config exposes the engine thresholds to collaborating components.
func (e *Engine) Config() *BKTConfig {
	return e.config
}

// Update computes the posterior mastery probability after one observation.
//
// Correct:   evidence = prior*(1-slip) / (prior*(1-slip) + (1-prior)*guess)
// Incorrect: evidence = prior*slip / (prior*slip + (1-prior)*(1-guess))
//
// A zero denominator leaves mastery unchanged rather than producing NaN.
// The learning transition is then applied: posterior = evidence + (1-evidence)*P(T).
func (e *Engine) Update(prior float64, isCorrect bool, params models.BKTParameters) (float64, UpdateDiagnostics) {
	prior = Clamp01(prior)

	diag := UpdateDiagnostics{Prior: prior}

	var evidence float64
	if isCorrect {
		diag.Branch = "correct"
		num := prior * (1 - params.SlipProbability)
		den := num + (1-prior)*params.GuessProbability
		if den == 0 {
			log.Printf("Warning: degenerate BKT update (correct branch) for skill %s, prior=%.4f", params.SkillID, prior)
			diag.Degenerate = true
			evidence = prior
		} else {
			evidence = num / den
		}
	} else {
		diag.Branch = "incorrect"
		num := prior * params.SlipProbability
		den := num + (1-prior)*(1-params.GuessProbability)
		if den == 0 {
			log.Printf("Warning: degenerate BKT update (incorrect branch) for skill %s, prior=%.4f", params.SkillID, prior)
			diag.Degenerate = true
			evidence = prior
		} else {
			evidence = num / den
		}
	}

	posterior := Clamp01(evidence + (1-evidence)*params.LearningRate)

	diag.Evidence = evidence
	diag.Posterior = posterior
	diag.Delta = posterior - prior
	return posterior, diag
}

// ApplyEvent runs the full per-event mutation on a competency state:
// correctness resolution, Bayes update, attempt bookkeeping, and the sticky
// mastery check. The caller holds the per-key lock.
func (e *Engine) ApplyEvent(state *models.CompetencyState, event *models.PerformanceEvent, params models.BKTParameters) (models.BKTUpdateResult, UpdateDiagnostics) {
	isCorrect, lowConfidence := event.ResolveCorrectness(e.config.ScoreCorrectThreshold)
	if lowConfidence {
		log.Printf("Data quality: event for user %s skill %s has neither correctness flag nor score, defaulting to incorrect", event.UserID, event.SkillID)
	}

	posterior, diag := e.Update(state.MasteryProbability, isCorrect, params)

	state.MasteryProbability = posterior
	state.TotalAttempts++
	if isCorrect {
		state.CorrectAttempts++
	}
	state.PushRecent(isCorrect)

	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	if state.FirstAttemptAt.IsZero() {
		state.FirstAttemptAt = ts
	}
	state.LastAttemptAt = ts
	state.UpdatedAt = time.Now()

	masteryGained := e.checkMastery(state, ts)

	return models.BKTUpdateResult{
		UserID:           state.UserID,
		SkillID:          state.SkillID,
		ActivityID:       event.ActivityID,
		PriorMastery:     diag.Prior,
		PosteriorMastery: posterior,
		Delta:            diag.Delta,
		IsCorrect:        isCorrect,
		MasteryGained:    masteryGained,
		IsMastered:       state.IsMastered,
		LowConfidence:    lowConfidence,
	}, diag
}

// checkMastery flips IsMastered the first time mastery crosses the threshold
// with enough attempts behind it. The flag is sticky: once set it never
// reverts and MasteryAchievedAt is never overwritten.
func (e *Engine) checkMastery(state *models.CompetencyState, at time.Time) bool {
	if state.IsMastered {
		return false
	}
	if state.MasteryProbability >= e.config.MasteryThreshold && state.TotalAttempts >= e.config.MinAttemptsForMastery {
		state.IsMastered = true
		achieved := at
		state.MasteryAchievedAt = &achieved
		return true
	}
	return false
}

// ConfidenceInterval returns the Wilson score interval for the observed
// correct ratio. With fewer than 3 attempts there is no usable evidence and
// the trivial (0,1) interval is returned.
func (e *Engine) ConfidenceInterval(correctAttempts, totalAttempts int) (float64, float64) {
	if totalAttempts < 3 {
		return 0.0, 1.0
	}

	n := float64(totalAttempts)
	p := float64(correctAttempts) / n
	z := e.config.ConfidenceZ
	z2 := z * z

	denom := 1 + z2/n
	center := (p + z2/(2*n)) / denom
	margin := (z / denom) * math.Sqrt(p*(1-p)/n+z2/(4*n*n))

	return Clamp01(center - margin), Clamp01(center + margin)
}

// ConfidenceStrength collapses the Wilson interval into a single evidence
// weight in [0,1]: a narrow interval means strong evidence.
func (e *Engine) ConfidenceStrength(correctAttempts, totalAttempts int) float64 {
	lo, hi := e.ConfidenceInterval(correctAttempts, totalAttempts)
	return Clamp01(1 - (hi - lo))
}

// LearningVelocity is mastery gained per day since the first attempt.
// ok is false when there are fewer than 2 attempts or less than a day of
// history; returning a number there would be misleading.
func (e *Engine) LearningVelocity(state *models.CompetencyState, priorKnowledge float64) (velocity float64, ok bool) {
	if state.TotalAttempts < 2 {
		return 0, false
	}
	days := state.LastAttemptAt.Sub(state.FirstAttemptAt).Hours() / 24
	if days < 1 {
		return 0, false
	}
	return (state.MasteryProbability - priorKnowledge) / days, true
}

// PracticeIntensity maps mastery to a recommended practice level.
type PracticeIntensity string

const (
	IntensityIntensive   PracticeIntensity = "intensive"
	IntensityModerate    PracticeIntensity = "moderate"
	IntensityLight       PracticeIntensity = "light"
	IntensityMaintenance PracticeIntensity = "maintenance"
)

// RecommendIntensity is a pure step function of mastery probability.
func RecommendIntensity(mastery float64) PracticeIntensity {
	switch {
	case mastery < 0.3:
		return IntensityIntensive
	case mastery < 0.6:
		return IntensityModerate
	case mastery < 0.8:
		return IntensityLight
	default:
		return IntensityMaintenance
	}
}

// Clamp01 bounds a probability to [0,1]. Every probability leaving this
// package goes through it.
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
