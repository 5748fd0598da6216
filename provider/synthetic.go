package provider

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/go-playground/validator/v10"

	"revsend/api/models"
)

// SyntheticConfig parameterizes the generated dataset.
type SyntheticConfig struct {
	Samples        int       `validate:"gt=0"`
	Seed           int64     `validate:"-"`
	ConversionRate float64   `validate:"gte=0,lte=1"`
	ActiveRate     float64   `validate:"gte=0,lte=1"`
	Start          time.Time `validate:"required"`
}

// DefaultSyntheticConfig returns 1000 users from 2023-01-01 with a 30%
// conversion rate and an 80% active rate.
func DefaultSyntheticConfig() SyntheticConfig {
	return SyntheticConfig{
		Samples:        1000,
		Seed:           42,
		ConversionRate: 0.3,
		ActiveRate:     0.8,
		Start:          time.Date(2023, time.January, 1, 0, 0, 0, 0, time.UTC),
	}
}

// Half-open uniform integer ranges per feature, in schema order.
var syntheticBounds = [models.NumFeatures][2]int{
	{0, 10}, // marketplace_usage
	{0, 20}, // chrome_extension_usage
	{0, 5},  // campaigns_created
	{1, 6},  // personalization_level, 1-5 scale
	{0, 15}, // handwritten_notes_sent
}

// Synthetic generates a reproducible dataset in place of a real analytics
// source. User i signs up on Start + i days.
type Synthetic struct {
	cfg SyntheticConfig
}

var validate = validator.New()

// NewSynthetic validates cfg and returns the generator.
func NewSynthetic(cfg SyntheticConfig) (*Synthetic, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return &Synthetic{cfg: cfg}, nil
}

func (s *Synthetic) Name() string { return "synthetic" }

// Fetch draws the dataset column by column from a source seeded with the
// configured seed, so every call returns the same rows.
func (s *Synthetic) Fetch(ctx context.Context) (models.Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderFailure, err)
	}
	n := s.cfg.Samples
	rnd := rand.New(rand.NewSource(s.cfg.Seed))

	ds := make(models.Dataset, n)
	for i := range ds {
		ds[i].UserID = fmt.Sprintf("synthetic-%04d", i)
		ds[i].Cohort = models.CohortKey(s.cfg.Start.AddDate(0, 0, i))
		ds[i].Segment = models.UnassignedSegment
	}
	for j, b := range syntheticBounds {
		for i := range ds {
			ds[i].Features[j] = float64(b[0] + rnd.Intn(b[1]-b[0]))
		}
	}
	for i := range ds {
		if rnd.Float64() < s.cfg.ConversionRate {
			ds[i].ConvertedToPaid = 1
		}
	}
	for i := range ds {
		if rnd.Float64() < s.cfg.ActiveRate {
			ds[i].IsActive = 1
		}
	}
	return ds, nil
}
