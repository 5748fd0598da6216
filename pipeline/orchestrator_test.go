package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"revsend/api/analytics"
	"revsend/api/models"
	"revsend/api/provider"
	"revsend/api/store"
)

type staticProvider struct {
	name string
	ds   models.Dataset
	err  error
}

func (p *staticProvider) Name() string { return p.name }

func (p *staticProvider) Fetch(ctx context.Context) (models.Dataset, error) {
	if p.err != nil {
		return nil, p.err
	}
	return append(models.Dataset(nil), p.ds...), nil
}

// fixedSelector always returns the same provider.
type fixedSelector struct{ p provider.Provider }

func (s fixedSelector) Select(string) provider.Provider { return s.p }

func newSyntheticOrchestrator(t *testing.T) (*Orchestrator, *store.AnalyticsStore) {
	t.Helper()
	synth, err := provider.NewSynthetic(provider.DefaultSyntheticConfig())
	require.NoError(t, err)
	st := store.NewAnalyticsStore()
	return NewOrchestrator(&provider.Selector{Synthetic: synth}, st, DefaultConfig()), st
}

func TestTriggerRunSyntheticScenario(t *testing.T) {
	o, st := newSyntheticOrchestrator(t)
	assert.Equal(t, StateStale, o.State())
	assert.Empty(t, st.GetFeatureImportance())
	assert.Empty(t, st.GetRetentionRates())
	assert.Empty(t, st.GetUserSegments())
	assert.Empty(t, st.GetTopFeaturesAndSuggestion().TopFeatures)

	snap, err := o.TriggerRun(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, StateReady, o.State())
	assert.Same(t, snap, st.Snapshot())
	assert.Equal(t, "synthetic", snap.Source)
	assert.Equal(t, 1000, snap.Rows)

	t.Run("feature importance", func(t *testing.T) {
		fi := st.GetFeatureImportance()
		assert.Len(t, fi, 5)
		total := 0.0
		for _, v := range fi {
			assert.GreaterOrEqual(t, v, 0.0)
			total += v
		}
		assert.Greater(t, total, 0.0)
	})

	t.Run("top features and suggestion", func(t *testing.T) {
		top := st.GetTopFeaturesAndSuggestion()
		require.Len(t, top.TopFeatures, 3)
		assert.NotEmpty(t, top.Suggestion)

		sum := 0.0
		last := -1
		for i, rf := range top.TopFeatures {
			sum += rf.Score
			if i > 0 {
				assert.LessOrEqual(t, rf.Score, top.TopFeatures[i-1].Score)
			}
			pos := strings.Index(top.Suggestion, analytics.Humanize(rf.Feature))
			assert.Greater(t, pos, last, "feature %q out of order", rf.Feature)
			last = pos
		}
		assert.LessOrEqual(t, sum, snap.FeatureImportance.Total()+1e-12)
	})

	t.Run("retention per monthly cohort", func(t *testing.T) {
		rates := st.GetRetentionRates()
		assert.Len(t, rates, 33)
		for cohort, rate := range rates {
			assert.GreaterOrEqual(t, rate, 0.0, cohort)
			assert.LessOrEqual(t, rate, 1.0, cohort)
			assert.InDelta(t, 0.8, rate, 0.3, cohort)
		}
	})

	t.Run("segments", func(t *testing.T) {
		require.Len(t, snap.Segments, 3)
		size := 0
		for i, seg := range snap.Segments {
			assert.Equal(t, i, seg.ID)
			size += seg.Size
		}
		assert.Equal(t, 1000, size)

		profile := st.GetUserSegments()
		assert.Len(t, profile, 5)
		for _, byID := range profile {
			assert.Len(t, byID, 3)
		}
	})
}

func TestTriggerRunIdempotent(t *testing.T) {
	o, _ := newSyntheticOrchestrator(t)

	first, err := o.TriggerRun(context.Background(), "")
	require.NoError(t, err)
	second, err := o.TriggerRun(context.Background(), "")
	require.NoError(t, err)

	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, first.FeatureImportance, second.FeatureImportance)
	assert.Equal(t, first.TopFeatures, second.TopFeatures)
	assert.Equal(t, first.Recommendation, second.Recommendation)
	assert.Equal(t, first.Retention, second.Retention)
	assert.Equal(t, first.Segments, second.Segments)
}

func TestTriggerRunFailuresKeepPreviousResults(t *testing.T) {
	o, st := newSyntheticOrchestrator(t)
	good, err := o.TriggerRun(context.Background(), "")
	require.NoError(t, err)

	singleClass, err := provider.NewSynthetic(provider.SyntheticConfig{
		Samples:        50,
		Seed:           1,
		ConversionRate: 0,
		ActiveRate:     0.8,
		Start:          provider.DefaultSyntheticConfig().Start,
	})
	require.NoError(t, err)

	tests := []struct {
		name    string
		p       provider.Provider
		wantErr error
	}{
		{"single class label", singleClass, analytics.ErrInvalidDataset},
		{"empty dataset", &staticProvider{name: "empty"}, analytics.ErrInvalidDataset},
		{"malformed record", &staticProvider{name: "bad", ds: models.Dataset{{UserID: "x", Cohort: "", ConvertedToPaid: 1}}}, analytics.ErrInvalidDataset},
		{"provider error", &staticProvider{name: "down", err: errors.New("timeout")}, provider.ErrProviderFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			failing := NewOrchestrator(fixedSelector{tt.p}, st, DefaultConfig())
			snap, err := failing.TriggerRun(context.Background(), "")
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, snap)
			assert.Same(t, good, st.Snapshot(), "store must keep the last good run")
		})
	}
}

func TestTriggerRunCanceled(t *testing.T) {
	o, st := newSyntheticOrchestrator(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.TriggerRun(ctx, "")
	assert.Error(t, err)
	assert.Nil(t, st.Snapshot())
	assert.Equal(t, StateStale, o.State())
}

func TestConcurrentReadsSeeWholeSnapshots(t *testing.T) {
	o, st := newSyntheticOrchestrator(t)
	_, err := o.TriggerRun(context.Background(), "")
	require.NoError(t, err)

	done := make(chan struct{})
	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				snap := st.Snapshot()
				if !assert.NotNil(t, snap) {
					return
				}
				assert.Equal(t, analytics.Recommend(snap.TopFeatures), snap.Recommendation)
				assert.Len(t, snap.FeatureImportance, 5)
			}
		}()
	}

	for i := 0; i < 2; i++ {
		_, err := o.TriggerRun(context.Background(), "")
		require.NoError(t, err)
	}
	close(done)
	wg.Wait()
}

// sharedProvider hands out the same records on every fetch.
type sharedProvider struct{ ds models.Dataset }

func (p *sharedProvider) Name() string { return "shared" }

func (p *sharedProvider) Fetch(ctx context.Context) (models.Dataset, error) {
	return p.ds, nil
}

func TestTriggerRunBranchesUseSeparateRecords(t *testing.T) {
	synth, err := provider.NewSynthetic(provider.SyntheticConfig{
		Samples:        300,
		Seed:           5,
		ConversionRate: 0.3,
		ActiveRate:     0.8,
		Start:          provider.DefaultSyntheticConfig().Start,
	})
	require.NoError(t, err)
	ds, err := synth.Fetch(context.Background())
	require.NoError(t, err)

	st := store.NewAnalyticsStore()
	cfg := DefaultConfig()
	cfg.Importance.Trees = 10
	o := NewOrchestrator(fixedSelector{&sharedProvider{ds: ds}}, st, cfg)

	// Run with -race: segmentation must not write records the importance
	// and retention branches are reading.
	for i := 0; i < 3; i++ {
		snap, err := o.TriggerRun(context.Background(), "")
		require.NoError(t, err)
		require.Len(t, snap.Segments, 3)
	}
	for i, r := range ds {
		require.Equal(t, models.UnassignedSegment, r.Segment, "record %d", i)
	}
}

type recordingSelector struct {
	p provider.Provider

	mu          sync.Mutex
	credentials []string
}

func (s *recordingSelector) Select(credential string) provider.Provider {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credentials = append(s.credentials, credential)
	return s.p
}

func (s *recordingSelector) seen() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.credentials...)
}

type countingProvider struct {
	provider.Provider
	fetches atomic.Int32
}

func (p *countingProvider) Fetch(ctx context.Context) (models.Dataset, error) {
	p.fetches.Add(1)
	return p.Provider.Fetch(ctx)
}

func TestStartRefreshesWithLastCredential(t *testing.T) {
	cfg := provider.DefaultSyntheticConfig()
	cfg.Samples = 200
	synth, err := provider.NewSynthetic(cfg)
	require.NoError(t, err)
	counting := &countingProvider{Provider: synth}
	sel := &recordingSelector{p: counting}

	pcfg := DefaultConfig()
	pcfg.Importance.Trees = 5
	st := store.NewAnalyticsStore()
	o := NewOrchestrator(sel, st, pcfg)

	first, err := o.TriggerRun(context.Background(), "key-1")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o.Start(ctx, time.Millisecond)

	require.Eventually(t, func() bool {
		return counting.fetches.Load() >= 4
	}, 10*time.Second, 5*time.Millisecond, "refresh runs repeatedly")

	cancel()
	// Wait for any run that was in flight at cancellation to finish.
	require.Eventually(t, func() bool {
		before := counting.fetches.Load()
		time.Sleep(20 * time.Millisecond)
		return counting.fetches.Load() == before
	}, 10*time.Second, time.Millisecond)

	stopped := counting.fetches.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, stopped, counting.fetches.Load(), "no runs after cancel")

	for _, c := range sel.seen() {
		assert.Equal(t, "key-1", c)
	}
	assert.Equal(t, StateReady, o.State())
	assert.NotEqual(t, first.RunID, st.Snapshot().RunID)
}

func TestStartDisabledForZeroInterval(t *testing.T) {
	synth, err := provider.NewSynthetic(provider.DefaultSyntheticConfig())
	require.NoError(t, err)
	counting := &countingProvider{Provider: synth}
	o := NewOrchestrator(&recordingSelector{p: counting}, store.NewAnalyticsStore(), DefaultConfig())

	o.Start(context.Background(), 0)
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, counting.fetches.Load())
}
