package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"competency-service/internal/models"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

type CompetencyRepository struct {
	collection *mongo.Collection
}

func NewCompetencyRepository(db *mongo.Database) *CompetencyRepository {
	return &CompetencyRepository{
		collection: db.Collection("competency_states"),
	}
}

// GetCompetency returns the state for one (user, skill) pair.
// found is false when the pair has never been observed.
func (r *CompetencyRepository) GetCompetency(ctx context.Context, userID, skillID string) (*models.CompetencyState, bool, error) {
	filter := bson.M{"user_id": userID, "skill_id": skillID}

	var state models.CompetencyState
	err := r.collection.FindOne(ctx, filter).Decode(&state)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to load competency state for %s/%s: %w", userID, skillID, err)
	}
	return &state, true, nil
}

// SaveCompetency upserts the state document. States are never deleted; an
// update always carries the full current snapshot.
func (r *CompetencyRepository) SaveCompetency(ctx context.Context, state *models.CompetencyState) error {
	state.UpdatedAt = time.Now()
	if state.CreatedAt.IsZero() {
		state.CreatedAt = state.UpdatedAt
	}

	filter := bson.M{"user_id": state.UserID, "skill_id": state.SkillID}
	update := bson.M{"$set": bson.M{
		"user_id":             state.UserID,
		"skill_id":            state.SkillID,
		"mastery_probability": state.MasteryProbability,
		"total_attempts":      state.TotalAttempts,
		"correct_attempts":    state.CorrectAttempts,
		"recent_performance":  state.RecentPerformance,
		"first_attempt_at":    state.FirstAttemptAt,
		"last_attempt_at":     state.LastAttemptAt,
		"is_mastered":         state.IsMastered,
		"mastery_achieved_at": state.MasteryAchievedAt,
		"updated_at":          state.UpdatedAt,
	}, "$setOnInsert": bson.M{
		"created_at": state.CreatedAt,
	}}

	_, err := r.collection.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save competency state for %s/%s: %w", state.UserID, state.SkillID, err)
	}
	return nil
}

// ListByUser returns every competency state for one learner.
func (r *CompetencyRepository) ListByUser(ctx context.Context, userID string) ([]*models.CompetencyState, error) {
	cur, err := r.collection.Find(ctx, bson.M{"user_id": userID})
	if err != nil {
		return nil, fmt.Errorf("failed to list competency states for user %s: %w", userID, err)
	}
	defer cur.Close(ctx)

	var states []*models.CompetencyState
	for cur.Next(ctx) {
		var state models.CompetencyState
		if err := cur.Decode(&state); err != nil {
			return nil, fmt.Errorf("failed to decode competency state: %w", err)
		}
		states = append(states, &state)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("cursor error listing competency states: %w", err)
	}
	return states, nil
}
