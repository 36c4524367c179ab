package models

import (
	"fmt"
	"time"
)

// Activity is a candidate learning activity in the catalog. An activity can
// target multiple skills; skills can be targeted by many activities.
type Activity struct {
	ID               string    `bson:"_id,omitempty" json:"id"`
	Name             string    `bson:"name" json:"name"`
	Description      string    `bson:"description" json:"description"`
	TargetSkillIDs   []string  `bson:"target_skill_ids" json:"target_skill_ids"`
	Difficulty       float64   `bson:"difficulty" json:"difficulty"`
	EstimatedMinutes int       `bson:"estimated_minutes" json:"estimated_minutes"`
	Category         string    `bson:"category" json:"category"`
	IsActive         bool      `bson:"is_active" json:"is_active"`
	CreatedAt        time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt        time.Time `bson:"updated_at" json:"updated_at"`
}

// SkillInfo carries the catalog-side skill fields the selection engine needs:
// prerequisite links (a DAG) and a category for mixed-practice rotation.
type SkillInfo struct {
	ID                   string   `bson:"_id,omitempty" json:"id"`
	Name                 string   `bson:"name" json:"name"`
	Category             string   `bson:"category" json:"category"`
	PrerequisiteSkillIDs []string `bson:"prerequisite_skill_ids" json:"prerequisite_skill_ids"`
}

// ActivityFilter narrows catalog queries.
type ActivityFilter struct {
	SkillIDs   []string
	Category   string
	ActiveOnly bool
	MaxMinutes int
}

// ValidateSkillGraph rejects prerequisite graphs containing cycles.
// Prerequisites must form a DAG; a cycle would make every member skill
// permanently ineligible.
func ValidateSkillGraph(skills []SkillInfo) error {
	prereqs := make(map[string][]string, len(skills))
	for _, s := range skills {
		prereqs[s.ID] = s.PrerequisiteSkillIDs
	}

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(skills))

	var visit func(id string) error
	visit = func(id string) error {
		switch state[id] {
		case visiting:
			return fmt.Errorf("prerequisite cycle detected at skill %s", id)
		case done:
			return nil
		}
		state[id] = visiting
		for _, dep := range prereqs[id] {
			if err := visit(dep); err != nil {
				return err
			}
		}
		state[id] = done
		return nil
	}

	for _, s := range skills {
		if err := visit(s.ID); err != nil {
			return err
		}
	}
	return nil
}
