// api/store/analytics_store.go
package store

import (
	"sync/atomic"

	"revsend/api/models"
)

// AnalyticsStore holds the latest complete pipeline result. Replace swaps in
// a fully built snapshot; readers load one pointer and never see a mix of
// two runs.
type AnalyticsStore struct {
	current atomic.Pointer[models.Snapshot]
}

func NewAnalyticsStore() *AnalyticsStore {
	return &AnalyticsStore{}
}

// Replace publishes snap. The snapshot must not be modified afterwards.
func (s *AnalyticsStore) Replace(snap *models.Snapshot) {
	s.current.Store(snap)
}

// Snapshot returns the latest result, or nil before the first successful run.
func (s *AnalyticsStore) Snapshot() *models.Snapshot {
	return s.current.Load()
}

// Ready reports whether a result has been published.
func (s *AnalyticsStore) Ready() bool {
	return s.current.Load() != nil
}

// GetFeatureImportance returns feature -> score, empty before the first run.
func (s *AnalyticsStore) GetFeatureImportance() map[string]float64 {
	snap := s.Snapshot()
	if snap == nil {
		return map[string]float64{}
	}
	return snap.FeatureImportance.AsMap()
}

// GetUserSegments returns feature -> segment id -> mean value.
func (s *AnalyticsStore) GetUserSegments() models.SegmentProfile {
	return s.Snapshot().SegmentProfile()
}

// GetRetentionRates returns cohort -> retention rate.
func (s *AnalyticsStore) GetRetentionRates() models.RetentionRate {
	snap := s.Snapshot()
	out := models.RetentionRate{}
	if snap == nil {
		return out
	}
	for cohort, rate := range snap.Retention {
		out[cohort] = rate
	}
	return out
}

// GetTopFeaturesAndSuggestion returns the ranked features and recommendation.
func (s *AnalyticsStore) GetTopFeaturesAndSuggestion() models.TopFeaturesResponse {
	snap := s.Snapshot()
	if snap == nil {
		return models.TopFeaturesResponse{TopFeatures: []models.RankedFeature{}}
	}
	return models.TopFeaturesResponse{
		TopFeatures: append([]models.RankedFeature{}, snap.TopFeatures...),
		Suggestion:  snap.Recommendation,
	}
}
