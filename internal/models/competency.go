package models

import (
	"fmt"
	"time"
)

// RecentPerformanceSize bounds the ring of most recent outcomes kept on a state.
const RecentPerformanceSize = 20

// BKTParameters are the per-skill Bayesian Knowledge Tracing parameters.
// They are read-mostly: loaded from the skill_parameters collection and
// treated as immutable for the duration of an update.
type BKTParameters struct {
	SkillID          string  `bson:"skill_id" json:"skill_id"`
	PriorKnowledge   float64 `bson:"prior_knowledge" json:"prior_knowledge"`
	LearningRate     float64 `bson:"learning_rate" json:"learning_rate"`
	SlipProbability  float64 `bson:"slip_probability" json:"slip_probability"`
	GuessProbability float64 `bson:"guess_probability" json:"guess_probability"`
}

// Validate rejects parameters outside [0,1]. Invalid parameters are never
// clamped; the load fails instead.
func (p *BKTParameters) Validate() error {
	check := func(name string, v float64) error {
		if v < 0 || v > 1 {
			return fmt.Errorf("invalid BKT parameter %s=%.4f for skill %s: must be in [0,1]", name, v, p.SkillID)
		}
		return nil
	}
	if err := check("prior_knowledge", p.PriorKnowledge); err != nil {
		return err
	}
	if err := check("learning_rate", p.LearningRate); err != nil {
		return err
	}
	if err := check("slip_probability", p.SlipProbability); err != nil {
		return err
	}
	return check("guess_probability", p.GuessProbability)
}

// DefaultBKTParameters are used for skills without stored parameters.
func DefaultBKTParameters(skillID string) BKTParameters {
	return BKTParameters{
		SkillID:          skillID,
		PriorKnowledge:   0.1,
		LearningRate:     0.1,
		SlipProbability:  0.1,
		GuessProbability: 0.2,
	}
}

// CompetencyState is the per (user, skill) mastery estimate. One document per
// pair, created lazily on the first observed event and never deleted.
type CompetencyState struct {
	ID                 string     `bson:"_id,omitempty" json:"id,omitempty"`
	UserID             string     `bson:"user_id" json:"user_id"`
	SkillID            string     `bson:"skill_id" json:"skill_id"`
	MasteryProbability float64    `bson:"mastery_probability" json:"mastery_probability"`
	TotalAttempts      int        `bson:"total_attempts" json:"total_attempts"`
	CorrectAttempts    int        `bson:"correct_attempts" json:"correct_attempts"`
	RecentPerformance  []bool     `bson:"recent_performance" json:"recent_performance"`
	FirstAttemptAt     time.Time  `bson:"first_attempt_at" json:"first_attempt_at"`
	LastAttemptAt      time.Time  `bson:"last_attempt_at" json:"last_attempt_at"`
	IsMastered         bool       `bson:"is_mastered" json:"is_mastered"`
	MasteryAchievedAt  *time.Time `bson:"mastery_achieved_at,omitempty" json:"mastery_achieved_at,omitempty"`
	CreatedAt          time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt          time.Time  `bson:"updated_at" json:"updated_at"`
}

// NewCompetencyState initializes state for a pair on its first event, seeding
// mastery with the skill's prior knowledge.
func NewCompetencyState(userID, skillID string, params BKTParameters) *CompetencyState {
	now := time.Now()
	return &CompetencyState{
		UserID:             userID,
		SkillID:            skillID,
		MasteryProbability: params.PriorKnowledge,
		RecentPerformance:  []bool{},
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// PushRecent appends an outcome to the bounded recent-performance ring.
func (s *CompetencyState) PushRecent(isCorrect bool) {
	s.RecentPerformance = append(s.RecentPerformance, isCorrect)
	if len(s.RecentPerformance) > RecentPerformanceSize {
		s.RecentPerformance = s.RecentPerformance[len(s.RecentPerformance)-RecentPerformanceSize:]
	}
}

// Accuracy is the lifetime correct ratio; 0 when no attempts recorded.
func (s *CompetencyState) Accuracy() float64 {
	if s.TotalAttempts == 0 {
		return 0
	}
	return float64(s.CorrectAttempts) / float64(s.TotalAttempts)
}

// ConsecutiveCorrect counts the trailing run of correct outcomes in the
// recent-performance ring. Used by the spaced-repetition schedule.
func (s *CompetencyState) ConsecutiveCorrect() int {
	count := 0
	for i := len(s.RecentPerformance) - 1; i >= 0; i-- {
		if !s.RecentPerformance[i] {
			break
		}
		count++
	}
	return count
}
