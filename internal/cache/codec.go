package cache

import (
	"encoding/json"
	"fmt"
	"log"

	"competency-service/internal/models"
)

// Both backends store JSON so a Redis entry written by one process can be
// read by another.

func encode(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("error encoding cache entry: %w", err)
	}
	return raw, nil
}

func decodeState(raw []byte, ok bool) (*models.CompetencyState, bool) {
	if !ok {
		return nil, false
	}
	var state models.CompetencyState
	if err := json.Unmarshal(raw, &state); err != nil {
		log.Printf("Error decoding cached competency state: %v", err)
		return nil, false
	}
	return &state, true
}

func decodeRecommendations(raw []byte, ok bool) (*models.AdaptationResponse, bool) {
	if !ok {
		return nil, false
	}
	var resp models.AdaptationResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		log.Printf("Error decoding cached recommendation batch: %v", err)
		return nil, false
	}
	return &resp, true
}
