package analytics

import (
	"fmt"
	"math"

	"revsend/api/ml"
	"revsend/api/models"
)

// ImportanceOptions configures the random forest behind EstimateImportance.
type ImportanceOptions struct {
	Trees int
	Seed  int64
	// MaxDepth limits tree depth; 0 grows trees until leaves are pure.
	MaxDepth int
	// MaxFeatures is the number of candidate features per split; 0 uses sqrt(p).
	MaxFeatures      int
	DisableBootstrap bool
}

// DefaultImportanceOptions mirrors the forest used by the dashboard.
func DefaultImportanceOptions() ImportanceOptions {
	return ImportanceOptions{Trees: 100, Seed: 42}
}

// EstimateImportance fits a random forest predicting converted_to_paid from the
// behavioral features and returns the mean decrease in impurity per feature,
// normalized to sum to 1. The dataset is not modified.
func EstimateImportance(ds models.Dataset, opts ImportanceOptions) (models.FeatureImportance, error) {
	if len(ds) == 0 {
		return nil, fmt.Errorf("%w: no records", ErrInvalidDataset)
	}
	if !hasBothClasses(ds) {
		return nil, fmt.Errorf("%w: converted_to_paid has a single class", ErrInvalidDataset)
	}
	if opts.Trees <= 0 {
		opts.Trees = DefaultImportanceOptions().Trees
	}

	forestOpts := []ml.ForestOption{
		ml.WithNEstimators(opts.Trees),
		ml.WithForestSeed(opts.Seed),
		ml.WithForestMaxDepth(opts.MaxDepth),
		ml.WithBootstrap(!opts.DisableBootstrap),
	}
	if opts.MaxFeatures > 0 {
		forestOpts = append(forestOpts, ml.WithForestMaxFeatures(opts.MaxFeatures))
	}
	rf := ml.NewRandomForest(forestOpts...)
	if err := rf.Fit(ds.Matrix(), ds.Labels()); err != nil {
		return nil, fmt.Errorf("%w: fitting random forest: %v", ErrComputation, err)
	}

	scores := rf.FeatureImportances()
	out := make(models.FeatureImportance, models.NumFeatures)
	for j, name := range models.FeatureNames {
		s := scores[j]
		if math.IsNaN(s) || math.IsInf(s, 0) || s < 0 {
			return nil, fmt.Errorf("%w: importance for %s is %v", ErrComputation, name, s)
		}
		out[j] = models.FeatureScore{Feature: name, Score: s}
	}
	return out, nil
}

func hasBothClasses(ds models.Dataset) bool {
	first := ds[0].ConvertedToPaid
	for _, r := range ds[1:] {
		if r.ConvertedToPaid != first {
			return true
		}
	}
	return false
}
