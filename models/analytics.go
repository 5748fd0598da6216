// api/models/analytics.go
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// FeatureScore is the importance assigned to one feature.
type FeatureScore struct {
	Feature string  `json:"feature"`
	Score   float64 `json:"score"`
}

// FeatureImportance holds one score per feature, in schema order.
type FeatureImportance []FeatureScore

// AsMap returns the feature -> score mapping served to clients.
func (fi FeatureImportance) AsMap() map[string]float64 {
	out := make(map[string]float64, len(fi))
	for _, fs := range fi {
		out[fs.Feature] = fs.Score
	}
	return out
}

// Total is the sum of all scores.
func (fi FeatureImportance) Total() float64 {
	total := 0.0
	for _, fs := range fi {
		total += fs.Score
	}
	return total
}

// RankedFeature is a feature and its score as served in the top features list.
// It encodes as a two element array: ["feature", score].
type RankedFeature struct {
	Feature string
	Score   float64
}

func (r RankedFeature) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{r.Feature, r.Score})
}

func (r *RankedFeature) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("ranked feature: expected [name, score], got %d elements", len(pair))
	}
	if err := json.Unmarshal(pair[0], &r.Feature); err != nil {
		return err
	}
	return json.Unmarshal(pair[1], &r.Score)
}

// Segment is one behavioral cluster. Centroid holds the mean of each
// unstandardized feature value over its members.
type Segment struct {
	ID       int                `json:"id"`
	Size     int                `json:"size"`
	Centroid map[string]float64 `json:"centroid"`
}

// SegmentProfile maps feature -> segment id -> mean value.
type SegmentProfile map[string]map[int]float64

// RetentionRate maps cohort key -> fraction of active users.
type RetentionRate map[string]float64

// TopFeaturesResponse is the payload of the top features endpoint.
type TopFeaturesResponse struct {
	TopFeatures []RankedFeature `json:"top_features"`
	Suggestion  string          `json:"suggestion"`
}

// Snapshot is the complete result set of one successful pipeline run.
// A published Snapshot is never modified.
type Snapshot struct {
	RunID             string            `json:"run_id"`
	Source            string            `json:"source"`
	ComputedAt        time.Time         `json:"computed_at"`
	Rows              int               `json:"rows"`
	FeatureImportance FeatureImportance `json:"feature_importance"`
	TopFeatures       []RankedFeature   `json:"top_features"`
	Recommendation    string            `json:"recommendation"`
	Segments          []Segment         `json:"segments"`
	Retention         RetentionRate     `json:"retention"`
}

// SegmentProfile pivots the segments into the per-feature breakdown.
func (s *Snapshot) SegmentProfile() SegmentProfile {
	out := make(SegmentProfile, NumFeatures)
	if s == nil {
		return out
	}
	for _, seg := range s.Segments {
		for feature, mean := range seg.Centroid {
			byID, ok := out[feature]
			if !ok {
				byID = make(map[int]float64, len(s.Segments))
				out[feature] = byID
			}
			byID[seg.ID] = mean
		}
	}
	return out
}
