package event

import (
	"time"

	"competency-service/internal/models"
)

// Routing keys published to the competency exchange.
const (
	CompetencyUpdatedKey = "competency.updated"
	MasteryAchievedKey   = "competency.mastery.achieved"
	BatchProcessedKey    = "competency.batch.processed"
)

// CompetencyEvent is the envelope published after a BKT update.
type CompetencyEvent struct {
	EventType        string    `json:"event_type"`
	UserID           string    `json:"user_id"`
	SkillID          string    `json:"skill_id"`
	ActivityID       string    `json:"activity_id,omitempty"`
	PriorMastery     float64   `json:"prior_mastery"`
	PosteriorMastery float64   `json:"posterior_mastery"`
	Delta            float64   `json:"delta"`
	IsCorrect        bool      `json:"is_correct"`
	IsMastered       bool      `json:"is_mastered"`
	Timestamp        time.Time `json:"timestamp"`
}

// BatchProcessedEvent summarizes a completed batch.
type BatchProcessedEvent struct {
	EventType   string    `json:"event_type"`
	EventCount  int       `json:"event_count"`
	FailedCount int       `json:"failed_count"`
	Timestamp   time.Time `json:"timestamp"`
}

// QuizAnswerEvent is the upstream event consumed from the quiz exchange. One
// answer is one performance observation against the question's skill.
type QuizAnswerEvent struct {
	EventType      string    `json:"event_type"`
	UserID         string    `json:"user_id"`
	SkillID        string    `json:"skill_id"`
	QuestionID     string    `json:"question_id"`
	SessionID      string    `json:"session_id"`
	IsCorrect      *bool     `json:"is_correct,omitempty"`
	Score          *float64  `json:"score,omitempty"`
	ResponseTimeMs int       `json:"response_time_ms,omitempty"`
	AnsweredAt     time.Time `json:"answered_at"`
}

func competencyEventFromResult(eventType string, result models.BKTUpdateResult) *CompetencyEvent {
	return &CompetencyEvent{
		EventType:        eventType,
		UserID:           result.UserID,
		SkillID:          result.SkillID,
		ActivityID:       result.ActivityID,
		PriorMastery:     result.PriorMastery,
		PosteriorMastery: result.PosteriorMastery,
		Delta:            result.Delta,
		IsCorrect:        result.IsCorrect,
		IsMastered:       result.IsMastered,
		Timestamp:        time.Now(),
	}
}
