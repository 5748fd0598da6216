package analytics

import (
	"fmt"

	"revsend/api/ml"
	"revsend/api/models"
)

// SegmentOptions configures SegmentUsers.
type SegmentOptions struct {
	Clusters int
	Seed     int64
	// Zero values keep the k-means defaults.
	NInit   int
	MaxIter int
	Tol     float64
}

// DefaultSegmentOptions returns three clusters with a fixed seed.
func DefaultSegmentOptions() SegmentOptions {
	return SegmentOptions{Clusters: 3, Seed: 42}
}

// SegmentUsers standardizes the behavioral features and clusters the users
// with k-means. Each record's Segment field is set to its cluster id.
//
// Cluster ids are numbered by first appearance in dataset order, so the same
// partition always gets the same labels. When the data has fewer distinct
// rows than requested clusters, one cluster per distinct row is produced.
func SegmentUsers(ds models.Dataset, opts SegmentOptions) ([]models.Segment, error) {
	if len(ds) == 0 {
		return nil, fmt.Errorf("%w: no records to segment", ErrInvalidDataset)
	}
	k := opts.Clusters
	if k <= 0 {
		k = DefaultSegmentOptions().Clusters
	}
	if d := distinctRows(ds); d < k {
		k = d
	}

	var scaler ml.StandardScaler
	X, err := scaler.FitTransform(ds.Matrix())
	if err != nil {
		return nil, fmt.Errorf("%w: standardizing features: %v", ErrComputation, err)
	}
	if !ml.AllFinite(X) {
		return nil, fmt.Errorf("%w: non-finite values after standardization", ErrComputation)
	}

	kmOpts := []ml.KMeansOption{ml.WithKMeansSeed(opts.Seed)}
	if opts.NInit > 0 {
		kmOpts = append(kmOpts, ml.WithNInit(opts.NInit))
	}
	if opts.MaxIter > 0 {
		kmOpts = append(kmOpts, ml.WithMaxIter(opts.MaxIter))
	}
	if opts.Tol > 0 {
		kmOpts = append(kmOpts, ml.WithTol(opts.Tol))
	}
	km := ml.NewKMeans(k, kmOpts...)
	if err := km.Fit(X); err != nil {
		return nil, fmt.Errorf("%w: clustering: %v", ErrComputation, err)
	}

	labels := canonicalLabels(km.Labels)
	for i := range ds {
		ds[i].Segment = labels[i]
	}
	return segmentProfiles(ds), nil
}

// canonicalLabels renumbers cluster labels in order of first appearance.
// Clusters that ended up empty simply get no id.
func canonicalLabels(raw []int) []int {
	mapping := make(map[int]int)
	out := make([]int, len(raw))
	for i, l := range raw {
		id, ok := mapping[l]
		if !ok {
			id = len(mapping)
			mapping[l] = id
		}
		out[i] = id
	}
	return out
}

// segmentProfiles averages the unstandardized feature values per segment.
func segmentProfiles(ds models.Dataset) []models.Segment {
	k := 0
	for _, r := range ds {
		if r.Segment+1 > k {
			k = r.Segment + 1
		}
	}
	sums := make([][models.NumFeatures]float64, k)
	sizes := make([]int, k)
	for _, r := range ds {
		sizes[r.Segment]++
		for j, v := range r.Features {
			sums[r.Segment][j] += v
		}
	}

	segments := make([]models.Segment, k)
	for id := range segments {
		centroid := make(map[string]float64, models.NumFeatures)
		for j, name := range models.FeatureNames {
			centroid[name] = sums[id][j] / float64(sizes[id])
		}
		segments[id] = models.Segment{ID: id, Size: sizes[id], Centroid: centroid}
	}
	return segments
}

func distinctRows(ds models.Dataset) int {
	seen := make(map[[models.NumFeatures]float64]struct{}, len(ds))
	for _, r := range ds {
		seen[r.Features] = struct{}{}
	}
	return len(seen)
}
