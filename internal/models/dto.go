package models

import "time"

// SelectionStrategy selects which ranking algorithm builds the recommendation.
type SelectionStrategy string

const (
	StrategyWeighted    SelectionStrategy = "weighted"
	StrategyMastery     SelectionStrategy = "mastery"
	StrategyZPD         SelectionStrategy = "zpd"
	StrategySpaced      SelectionStrategy = "spaced"
	StrategyProgression SelectionStrategy = "progression"
	StrategyMixed       SelectionStrategy = "mixed"
)

// Valid reports whether the strategy is one of the recognized values.
func (s SelectionStrategy) Valid() bool {
	switch s {
	case StrategyWeighted, StrategyMastery, StrategyZPD, StrategySpaced, StrategyProgression, StrategyMixed:
		return true
	}
	return false
}

// BKTUpdateResult reports the outcome of applying one performance event.
type BKTUpdateResult struct {
	UserID           string  `json:"user_id"`
	SkillID          string  `json:"skill_id"`
	ActivityID       string  `json:"activity_id,omitempty"`
	PriorMastery     float64 `json:"prior_mastery"`
	PosteriorMastery float64 `json:"posterior_mastery"`
	Delta            float64 `json:"delta"`
	IsCorrect        bool    `json:"is_correct"`
	MasteryGained    bool    `json:"mastery_gained"`
	IsMastered       bool    `json:"is_mastered"`
	LowConfidence    bool    `json:"low_confidence,omitempty"`
	Error            string  `json:"error,omitempty"`
}

// UpdateCompetencyRequest is the single-event upward contract.
type UpdateCompetencyRequest struct {
	UserID         string   `json:"user_id"`
	SkillID        string   `json:"skill_id"`
	ActivityID     string   `json:"activity_id"`
	IsCorrect      *bool    `json:"is_correct,omitempty"`
	Score          *float64 `json:"score,omitempty"`
	ResponseTimeMs int      `json:"response_time_ms,omitempty"`
}

// BatchUpdateRequest carries a bounded batch of events.
type BatchUpdateRequest struct {
	Events []UpdateCompetencyRequest `json:"events"`
}

// Recommendation is one scored candidate. Recomputed per request; a ranked
// batch may be cached briefly but is never the source of truth.
type Recommendation struct {
	Activity          Activity `json:"activity"`
	Score             float64  `json:"score"`
	TargetSkillIDs    []string `json:"target_skill_ids"`
	OptimalDifficulty float64  `json:"optimal_difficulty"`
	Reason            string   `json:"reason"`
}

// AdaptationRequest asks for the next best activities for a learner.
// Fields are explicit and enumerated; there is no free-form metadata bag.
type AdaptationRequest struct {
	UserID              string            `json:"user_id"`
	GoalSkillIDs        []string          `json:"goal_skill_ids,omitempty"`
	TimeBudgetMinutes   int               `json:"time_budget_minutes,omitempty"`
	PreferredDifficulty *float64          `json:"preferred_difficulty,omitempty"`
	Strategy            SelectionStrategy `json:"strategy,omitempty"`
	ExcludeActivityIDs  []string          `json:"exclude_activity_ids,omitempty"`
	MaxAlternatives     int               `json:"max_alternatives,omitempty"`
}

// AdaptationMetadata summarizes how a response was produced.
type AdaptationMetadata struct {
	Strategy        SelectionStrategy `json:"strategy"`
	CandidateCount  int               `json:"candidate_count"`
	EligibleCount   int               `json:"eligible_count"`
	MeanConfidence  float64           `json:"mean_confidence"`
	FromCache       bool              `json:"from_cache"`
	GeneratedAt     time.Time         `json:"generated_at"`
	SkillsEvaluated int               `json:"skills_evaluated"`
}

// SkillCompetencyView is the read-model for one (user, skill) pair: the raw
// state plus the derived analytics callers actually consume.
type SkillCompetencyView struct {
	SkillID            string     `json:"skill_id"`
	SkillName          string     `json:"skill_name,omitempty"`
	MasteryProbability float64    `json:"mastery_probability"`
	ConfidenceLow      float64    `json:"confidence_low"`
	ConfidenceHigh     float64    `json:"confidence_high"`
	TotalAttempts      int        `json:"total_attempts"`
	CorrectAttempts    int        `json:"correct_attempts"`
	Accuracy           float64    `json:"accuracy"`
	IsMastered         bool       `json:"is_mastered"`
	MasteryAchievedAt  *time.Time `json:"mastery_achieved_at,omitempty"`
	LearningVelocity   *float64   `json:"learning_velocity,omitempty"`
	PracticeIntensity  string     `json:"practice_intensity"`
	LastAttemptAt      time.Time  `json:"last_attempt_at"`
}

// UserCompetencyProfile aggregates a learner's skill views.
type UserCompetencyProfile struct {
	UserID        string                `json:"user_id"`
	Skills        []SkillCompetencyView `json:"skills"`
	MasteredCount int                   `json:"mastered_count"`
	MeanMastery   float64               `json:"mean_mastery"`
	GeneratedAt   time.Time             `json:"generated_at"`
}

// AdaptationResponse is the ranked recommendation batch returned upward.
type AdaptationResponse struct {
	Next             *Recommendation    `json:"next"`
	Alternatives     []Recommendation   `json:"alternatives"`
	SessionPlan      []Recommendation   `json:"session_plan"`
	RefreshInMinutes int                `json:"refresh_in_minutes"`
	Metadata         AdaptationMetadata `json:"metadata"`
}
