package selection

import "competency-service/internal/models"

// SelectionConfig holds the scoring weights and thresholds of the adaptive
// selection engine. Weights sum to 1.0 so total scores stay in [0,1].
type SelectionConfig struct {
	CompetencyWeight float64 `json:"competency_weight"`
	GoalWeight       float64 `json:"goal_weight"`
	DifficultyWeight float64 `json:"difficulty_weight"`
	TimeWeight       float64 `json:"time_weight"`
	VarietyWeight    float64 `json:"variety_weight"`

	ZPDLower              float64 `json:"zpd_lower"`
	ZPDUpper              float64 `json:"zpd_upper"`
	PrerequisiteThreshold float64 `json:"prerequisite_threshold"`
	TargetSuccessRate     float64 `json:"target_success_rate"`
	LearningThreshold     float64 `json:"learning_threshold"`
	MasteryThreshold      float64 `json:"mastery_threshold"`

	MaxAlternatives int `json:"max_alternatives"`
}

// DefaultSelectionConfig returns the standard weighting: competency
// alignment dominates, variety only breaks ties.
func DefaultSelectionConfig() *SelectionConfig {
	return &SelectionConfig{
		CompetencyWeight:      0.40,
		GoalWeight:            0.25,
		DifficultyWeight:      0.20,
		TimeWeight:            0.10,
		VarietyWeight:         0.05,
		ZPDLower:              0.3,
		ZPDUpper:              0.7,
		PrerequisiteThreshold: 0.6,
		TargetSuccessRate:     0.7,
		LearningThreshold:     0.3,
		MasteryThreshold:      0.8,
		MaxAlternatives:       3,
	}
}

// LearnerProfile is the full competency picture the engine selects against:
// per-skill state, per-skill BKT parameters, and the catalog's skill records
// (prerequisites, categories).
type LearnerProfile struct {
	UserID string
	States map[string]*models.CompetencyState
	Params map[string]models.BKTParameters
	Skills map[string]models.SkillInfo
}

// Mastery returns the learner's mastery for a skill and whether any state
// exists. An unobserved skill has no mastery, not zero mastery.
func (p *LearnerProfile) Mastery(skillID string) (float64, bool) {
	state, ok := p.States[skillID]
	if !ok {
		return 0, false
	}
	return state.MasteryProbability, true
}

// ParamsFor returns the skill's BKT parameters, defaulting when unknown.
func (p *LearnerProfile) ParamsFor(skillID string) models.BKTParameters {
	if params, ok := p.Params[skillID]; ok {
		return params
	}
	return models.DefaultBKTParameters(skillID)
}

// scoredActivity pairs a candidate with its criterion breakdown while the
// engine ranks.
type scoredActivity struct {
	activity          models.Activity
	total             float64
	competency        float64
	goal              float64
	difficulty        float64
	timeFit           float64
	variety           float64
	optimalDifficulty float64
	reason            string
}
