package analytics

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"revsend/api/models"
)

// behaviorData builds n users whose conversion is decided by
// campaigns_created; the other features are uniform noise.
func behaviorData(n int, seed int64) models.Dataset {
	rnd := rand.New(rand.NewSource(seed))
	ds := make(models.Dataset, n)
	for i := range ds {
		campaigns := rnd.Intn(5)
		converted := 0
		if campaigns >= 3 {
			converted = 1
		}
		ds[i] = models.UserRecord{
			UserID: fmt.Sprintf("u%d", i),
			Features: [models.NumFeatures]float64{
				float64(rnd.Intn(10)),
				float64(rnd.Intn(20)),
				float64(campaigns),
				float64(1 + rnd.Intn(5)),
				float64(rnd.Intn(15)),
			},
			ConvertedToPaid: converted,
			Cohort:          fmt.Sprintf("2023-%02d", 1+i%12),
			IsActive:        rnd.Intn(2),
			Segment:         models.UnassignedSegment,
		}
	}
	return ds
}

func TestEstimateImportance(t *testing.T) {
	ds := behaviorData(400, 11)
	before := append(models.Dataset(nil), ds...)

	fi, err := EstimateImportance(ds, ImportanceOptions{Trees: 40, Seed: 42})
	require.NoError(t, err)
	require.Len(t, fi, models.NumFeatures)

	t.Run("schema order and normalized", func(t *testing.T) {
		for j, fs := range fi {
			assert.Equal(t, models.FeatureNames[j], fs.Feature)
			assert.GreaterOrEqual(t, fs.Score, 0.0)
		}
		assert.InDelta(t, 1.0, fi.Total(), 1e-9)
	})

	t.Run("predictive feature scores highest", func(t *testing.T) {
		m := fi.AsMap()
		for name, score := range m {
			if name == models.FeatureCampaignsCreated {
				continue
			}
			assert.Greater(t, m[models.FeatureCampaignsCreated], score, name)
		}
	})

	t.Run("deterministic for a fixed seed", func(t *testing.T) {
		again, err := EstimateImportance(ds, ImportanceOptions{Trees: 40, Seed: 42})
		require.NoError(t, err)
		assert.Equal(t, fi, again)
	})

	t.Run("dataset untouched", func(t *testing.T) {
		assert.Equal(t, before, ds)
	})
}

func TestEstimateImportanceStumps(t *testing.T) {
	ds := behaviorData(400, 11)

	fi, err := EstimateImportance(ds, ImportanceOptions{
		Trees:            5,
		Seed:             7,
		MaxDepth:         1,
		MaxFeatures:      models.NumFeatures,
		DisableBootstrap: true,
	})
	require.NoError(t, err)

	// Every depth-1 tree sees all rows and all features, so each one splits
	// on the single feature that separates the classes.
	m := fi.AsMap()
	assert.InDelta(t, 1.0, m[models.FeatureCampaignsCreated], 1e-9)
	for name, score := range m {
		if name != models.FeatureCampaignsCreated {
			assert.Zero(t, score, name)
		}
	}
}

func TestEstimateImportanceSingleClass(t *testing.T) {
	ds := behaviorData(50, 3)
	for i := range ds {
		ds[i].ConvertedToPaid = 0
	}
	_, err := EstimateImportance(ds, DefaultImportanceOptions())
	assert.ErrorIs(t, err, ErrInvalidDataset)

	_, err = EstimateImportance(nil, DefaultImportanceOptions())
	assert.ErrorIs(t, err, ErrInvalidDataset)
}

func TestRankFeatures(t *testing.T) {
	fi := models.FeatureImportance{
		{Feature: "a_one", Score: 0.1},
		{Feature: "b_two", Score: 0.3},
		{Feature: "c_three", Score: 0.2},
		{Feature: "d_four", Score: 0.3},
		{Feature: "e_five", Score: 0.1},
	}

	ranked := RankFeatures(fi, TopFeatureCount)
	require.Len(t, ranked, 3)
	assert.Equal(t, "b_two", ranked[0].Feature, "ties keep schema order")
	assert.Equal(t, "d_four", ranked[1].Feature)
	assert.Equal(t, "c_three", ranked[2].Feature)

	sum := 0.0
	for i, r := range ranked {
		sum += r.Score
		if i > 0 {
			assert.LessOrEqual(t, r.Score, ranked[i-1].Score)
		}
	}
	assert.LessOrEqual(t, sum, fi.Total())

	assert.Len(t, RankFeatures(fi[:2], TopFeatureCount), 2)
	assert.Empty(t, RankFeatures(nil, TopFeatureCount))
}

func TestRecommend(t *testing.T) {
	ranked := []models.RankedFeature{
		{Feature: "campaigns_created", Score: 0.4},
		{Feature: "chrome_extension_usage", Score: 0.3},
		{Feature: "handwritten_notes_sent", Score: 0.2},
	}

	t.Run("three features", func(t *testing.T) {
		got := Recommend(ranked)
		want := "Based on these insights, we believe that the best way to increase conversions is to focus on improving 'campaigns created'. " +
			"Additionally, optimizing 'chrome extension usage' and 'handwritten notes sent' could also significantly impact user conversion rates."
		assert.Equal(t, want, got)

		first := strings.Index(got, "campaigns created")
		second := strings.Index(got, "chrome extension usage")
		third := strings.Index(got, "handwritten notes sent")
		assert.True(t, first >= 0 && first < second && second < third)
	})

	t.Run("two features", func(t *testing.T) {
		got := Recommend(ranked[:2])
		assert.Contains(t, got, "improving 'campaigns created'.")
		assert.Contains(t, got, "Additionally, optimizing 'chrome extension usage' could also")
		assert.NotContains(t, got, " and '")
	})

	t.Run("one feature", func(t *testing.T) {
		got := Recommend(ranked[:1])
		assert.Contains(t, got, "'campaigns created'")
		assert.NotContains(t, got, "Additionally")
	})

	t.Run("no features", func(t *testing.T) {
		assert.Empty(t, Recommend(nil))
	})
}

func TestHumanize(t *testing.T) {
	assert.Equal(t, "marketplace usage", Humanize("marketplace_usage"))
	assert.Equal(t, "chrome extension usage", Humanize("chrome-extension_usage"))
	assert.Equal(t, "Already Spaced", Humanize("Already Spaced"))
}

func TestSegmentUsers(t *testing.T) {
	ds := behaviorData(300, 5)

	segments, err := SegmentUsers(ds, DefaultSegmentOptions())
	require.NoError(t, err)
	require.Len(t, segments, 3)

	t.Run("every record assigned to one of k segments", func(t *testing.T) {
		ids := map[int]int{}
		for _, r := range ds {
			require.GreaterOrEqual(t, r.Segment, 0)
			require.Less(t, r.Segment, 3)
			ids[r.Segment]++
		}
		assert.Len(t, ids, 3)
		for _, seg := range segments {
			assert.Equal(t, ids[seg.ID], seg.Size)
		}
		assert.Equal(t, 0, ds[0].Segment, "ids follow first appearance")
	})

	t.Run("centroids are means of unstandardized values", func(t *testing.T) {
		for _, seg := range segments {
			for j, name := range models.FeatureNames {
				sum, n := 0.0, 0
				for _, r := range ds {
					if r.Segment == seg.ID {
						sum += r.Features[j]
						n++
					}
				}
				assert.InDelta(t, sum/float64(n), seg.Centroid[name], 1e-9)
			}
		}
	})

	t.Run("same seed same partition", func(t *testing.T) {
		again := behaviorData(300, 5)
		segs, err := SegmentUsers(again, DefaultSegmentOptions())
		require.NoError(t, err)
		assert.Equal(t, segments, segs)
		for i := range ds {
			assert.Equal(t, ds[i].Segment, again[i].Segment)
		}
	})
}

func TestSegmentUsersKMeansOptions(t *testing.T) {
	opts := SegmentOptions{Clusters: 3, Seed: 9, NInit: 1, MaxIter: 5, Tol: 1e-3}

	ds := behaviorData(200, 8)
	segments, err := SegmentUsers(ds, opts)
	require.NoError(t, err)
	require.Len(t, segments, 3)

	total := 0
	for _, seg := range segments {
		assert.Positive(t, seg.Size)
		total += seg.Size
	}
	assert.Equal(t, len(ds), total)

	again := behaviorData(200, 8)
	segs, err := SegmentUsers(again, opts)
	require.NoError(t, err)
	assert.Equal(t, segments, segs)
}

func TestSegmentUsersDegenerate(t *testing.T) {
	t.Run("fewer distinct rows than clusters", func(t *testing.T) {
		ds := behaviorData(4, 1)
		for i := range ds {
			ds[i].Features = [models.NumFeatures]float64{1, 2, 3, 4, 5}
		}
		ds[3].Features = [models.NumFeatures]float64{2, 2, 3, 4, 5}

		segments, err := SegmentUsers(ds, DefaultSegmentOptions())
		require.NoError(t, err)
		assert.Len(t, segments, 2)
		assert.Equal(t, []int{0, 0, 0, 1}, []int{ds[0].Segment, ds[1].Segment, ds[2].Segment, ds[3].Segment})
	})

	t.Run("single user", func(t *testing.T) {
		ds := behaviorData(1, 1)
		segments, err := SegmentUsers(ds, DefaultSegmentOptions())
		require.NoError(t, err)
		require.Len(t, segments, 1)
		assert.Equal(t, 1, segments[0].Size)
	})

	t.Run("empty dataset", func(t *testing.T) {
		_, err := SegmentUsers(nil, DefaultSegmentOptions())
		assert.ErrorIs(t, err, ErrInvalidDataset)
	})
}

func TestRetentionByCohort(t *testing.T) {
	ds := models.Dataset{
		{Cohort: "2023-01", IsActive: 1},
		{Cohort: "2023-01", IsActive: 0},
		{Cohort: "2023-01", IsActive: 1},
		{Cohort: "2023-02", IsActive: 0},
		{Cohort: "2023-03", IsActive: 1},
	}
	got := RetentionByCohort(ds)
	assert.Equal(t, models.RetentionRate{
		"2023-01": 2.0 / 3.0,
		"2023-02": 0,
		"2023-03": 1,
	}, got)

	for _, rate := range RetentionByCohort(behaviorData(500, 9)) {
		assert.GreaterOrEqual(t, rate, 0.0)
		assert.LessOrEqual(t, rate, 1.0)
	}
	assert.Empty(t, RetentionByCohort(nil))
}
