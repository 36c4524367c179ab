package repository

import (
	"context"
	"errors"
	"fmt"

	"competency-service/internal/models"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// ParameterRepository serves per-skill BKT parameters. Read-mostly; writes
// happen out of band (parameter fitting is not this service's concern).
type ParameterRepository struct {
	collection *mongo.Collection
}

func NewParameterRepository(db *mongo.Database) *ParameterRepository {
	return &ParameterRepository{
		collection: db.Collection("skill_parameters"),
	}
}

// GetSkillParameters returns the stored parameters for a skill, validated at
// load. Out-of-range parameters are rejected, never clamped. found is false
// when the skill has no stored parameters; callers fall back to defaults.
func (r *ParameterRepository) GetSkillParameters(ctx context.Context, skillID string) (models.BKTParameters, bool, error) {
	var params models.BKTParameters
	err := r.collection.FindOne(ctx, bson.M{"skill_id": skillID}).Decode(&params)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.BKTParameters{}, false, nil
		}
		return models.BKTParameters{}, false, fmt.Errorf("failed to load BKT parameters for skill %s: %w", skillID, err)
	}

	if err := params.Validate(); err != nil {
		return models.BKTParameters{}, false, err
	}
	return params, true, nil
}

// GetSkillInfo returns the catalog-side skill record (prerequisites, category).
func (r *ParameterRepository) GetSkillInfo(ctx context.Context, skillID string) (*models.SkillInfo, bool, error) {
	var info models.SkillInfo
	err := r.collection.Database().Collection("skills").FindOne(ctx, bson.M{"_id": skillID}).Decode(&info)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to load skill info for %s: %w", skillID, err)
	}
	return &info, true, nil
}

// ListSkillInfo returns all skill records; the selection engine validates the
// prerequisite graph on load.
func (r *ParameterRepository) ListSkillInfo(ctx context.Context) ([]models.SkillInfo, error) {
	cur, err := r.collection.Database().Collection("skills").Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("failed to list skills: %w", err)
	}
	defer cur.Close(ctx)

	var skills []models.SkillInfo
	for cur.Next(ctx) {
		var info models.SkillInfo
		if err := cur.Decode(&info); err != nil {
			return nil, fmt.Errorf("failed to decode skill info: %w", err)
		}
		skills = append(skills, info)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("cursor error listing skills: %w", err)
	}

	if err := models.ValidateSkillGraph(skills); err != nil {
		return nil, err
	}
	return skills, nil
}
