package models

import (
	"fmt"
	"time"
)

// ScoreCorrectThreshold is the score cutoff used when an event carries a
// numeric score but no explicit correctness flag.
const ScoreCorrectThreshold = 0.7

// PerformanceEvent is an immutable observation of one answer/attempt.
// Events are write-once; corrections are new events, never updates.
type PerformanceEvent struct {
	ID             string    `bson:"_id,omitempty" json:"id,omitempty"`
	UserID         string    `bson:"user_id" json:"user_id"`
	SkillID        string    `bson:"skill_id" json:"skill_id"`
	ActivityID     string    `bson:"activity_id" json:"activity_id"`
	IsCorrect      bool      `bson:"is_correct" json:"is_correct"`
	HasCorrectness bool      `bson:"has_correctness" json:"has_correctness"`
	Score          *float64  `bson:"score,omitempty" json:"score,omitempty"`
	ResponseTimeMs int       `bson:"response_time_ms,omitempty" json:"response_time_ms,omitempty"`
	Timestamp      time.Time `bson:"timestamp" json:"timestamp"`
}

// Key identifies the serialization unit for concurrent updates.
func (e *PerformanceEvent) Key() string {
	return e.UserID + ":" + e.SkillID
}

// Validate checks the identifying fields an event must carry.
func (e *PerformanceEvent) Validate() error {
	if e.UserID == "" {
		return fmt.Errorf("performance event missing user_id")
	}
	if e.SkillID == "" {
		return fmt.Errorf("performance event missing skill_id")
	}
	if e.Score != nil && (*e.Score < 0) {
		return fmt.Errorf("performance event score %.4f must be >= 0", *e.Score)
	}
	return nil
}

// ResolveCorrectness determines the boolean outcome of the event.
// An explicit flag wins; otherwise a score at or above scoreThreshold counts
// as correct (non-positive thresholds fall back to the 0.7 default).
// With neither present the event defaults to incorrect and is reported as
// low-confidence so callers can flag the data-quality issue.
func (e *PerformanceEvent) ResolveCorrectness(scoreThreshold float64) (isCorrect bool, lowConfidence bool) {
	if scoreThreshold <= 0 {
		scoreThreshold = ScoreCorrectThreshold
	}
	if e.HasCorrectness {
		return e.IsCorrect, false
	}
	if e.Score != nil {
		return *e.Score >= scoreThreshold, false
	}
	return false, true
}
