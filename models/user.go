// api/models/user.go
package models

import (
	"fmt"
	"math"
	"time"
)

// Feature names in schema order. Every UserRecord carries one value per name.
const (
	FeatureMarketplaceUsage     = "marketplace_usage"
	FeatureChromeExtensionUsage = "chrome_extension_usage"
	FeatureCampaignsCreated     = "campaigns_created"
	FeaturePersonalizationLevel = "personalization_level"
	FeatureHandwrittenNotesSent = "handwritten_notes_sent"
)

const (
	NumFeatures       = 5
	CohortLayout      = "2006-01"
	UnassignedSegment = -1

	// Personalization level is an ordinal 1..5 scale, not a count.
	MinPersonalizationLevel = 1
	MaxPersonalizationLevel = 5
	personalizationIndex    = 3
)

// FeatureNames lists the behavioral features in schema order.
var FeatureNames = [NumFeatures]string{
	FeatureMarketplaceUsage,
	FeatureChromeExtensionUsage,
	FeatureCampaignsCreated,
	FeaturePersonalizationLevel,
	FeatureHandwrittenNotesSent,
}

// UserRecord is one row of the behavioral dataset.
type UserRecord struct {
	UserID          string               `json:"userId"`
	Features        [NumFeatures]float64 `json:"features"`
	ConvertedToPaid int                  `json:"convertedToPaid"`
	Cohort          string               `json:"cohort"`
	IsActive        int                  `json:"isActive"`
	Segment         int                  `json:"segment"`
}

// UserProfile is a row of the users table used to derive labels and cohorts.
type UserProfile struct {
	UserID     string    `json:"userId"`
	Plan       string    `json:"plan"`
	CreatedAt  time.Time `json:"created_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

// IsPaid reports whether the profile is on a paying plan.
func (p UserProfile) IsPaid() bool {
	switch p.Plan {
	case "", "free", "trial":
		return false
	default:
		return true
	}
}

// Dataset is the ordered set of records for one pipeline run.
type Dataset []UserRecord

// CohortKey formats a signup time as its monthly cohort key.
func CohortKey(t time.Time) string {
	return t.UTC().Format(CohortLayout)
}

// Matrix returns the feature columns as rows of float64, one row per record.
func (d Dataset) Matrix() [][]float64 {
	X := make([][]float64, len(d))
	for i := range d {
		row := make([]float64, NumFeatures)
		copy(row, d[i].Features[:])
		X[i] = row
	}
	return X
}

// Labels returns the conversion labels in record order.
func (d Dataset) Labels() []int {
	y := make([]int, len(d))
	for i := range d {
		y[i] = d[i].ConvertedToPaid
	}
	return y
}

// Validate checks that every record is fully populated with in-range values.
func (d Dataset) Validate() error {
	if len(d) == 0 {
		return fmt.Errorf("dataset is empty")
	}
	for i, r := range d {
		if r.Cohort == "" {
			return fmt.Errorf("record %d (%s): missing cohort", i, r.UserID)
		}
		if r.ConvertedToPaid != 0 && r.ConvertedToPaid != 1 {
			return fmt.Errorf("record %d (%s): converted_to_paid must be 0 or 1, got %d", i, r.UserID, r.ConvertedToPaid)
		}
		if r.IsActive != 0 && r.IsActive != 1 {
			return fmt.Errorf("record %d (%s): is_active must be 0 or 1, got %d", i, r.UserID, r.IsActive)
		}
		for j, v := range r.Features {
			if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
				return fmt.Errorf("record %d (%s): invalid value %v for %s", i, r.UserID, v, FeatureNames[j])
			}
		}
		level := r.Features[personalizationIndex]
		if level < MinPersonalizationLevel || level > MaxPersonalizationLevel {
			return fmt.Errorf("record %d (%s): personalization_level %v outside %d..%d", i, r.UserID, level, MinPersonalizationLevel, MaxPersonalizationLevel)
		}
	}
	return nil
}
