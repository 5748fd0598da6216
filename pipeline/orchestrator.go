// Package pipeline runs the analytics computations end to end and publishes
// the result to the AnalyticsStore.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"revsend/api/analytics"
	"revsend/api/logging"
	"revsend/api/metrics"
	"revsend/api/models"
	"revsend/api/provider"
	"revsend/api/store"
)

// State is the externally visible pipeline state.
type State string

const (
	StateStale State = "stale"
	StateReady State = "ready"
)

// Config holds the model parameters used on every run.
type Config struct {
	Importance analytics.ImportanceOptions
	Segments   analytics.SegmentOptions
	TopN       int
}

func DefaultConfig() Config {
	return Config{
		Importance: analytics.DefaultImportanceOptions(),
		Segments:   analytics.DefaultSegmentOptions(),
		TopN:       analytics.TopFeatureCount,
	}
}

// ProviderSelector picks the data source for a credential.
type ProviderSelector interface {
	Select(credential string) provider.Provider
}

// Orchestrator executes pipeline runs one at a time. Reads go straight to the
// store and are never blocked by a run.
type Orchestrator struct {
	selector ProviderSelector
	store    *store.AnalyticsStore
	cfg      Config
	now      func() time.Time

	mu             sync.Mutex // serializes runs
	lastCredential string
}

func NewOrchestrator(selector ProviderSelector, st *store.AnalyticsStore, cfg Config) *Orchestrator {
	if cfg.TopN <= 0 {
		cfg.TopN = analytics.TopFeatureCount
	}
	return &Orchestrator{
		selector: selector,
		store:    st,
		cfg:      cfg,
		now:      time.Now,
	}
}

// State reports Ready once a run has been published.
func (o *Orchestrator) State() State {
	if o.store.Ready() {
		return StateReady
	}
	return StateStale
}

// TriggerRun fetches a dataset, runs every computation and atomically
// replaces the published snapshot. On any failure the previous snapshot
// stays in place and the error wraps one of analytics.ErrInvalidDataset,
// analytics.ErrComputation, provider.ErrProviderFailure or the context error.
func (o *Orchestrator) TriggerRun(ctx context.Context, credential string) (*models.Snapshot, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	start := o.now()
	runID := uuid.NewString()
	src := o.selector.Select(credential)
	log := logging.WithComponent("pipeline").With().
		Str("run_id", runID).
		Str("source", src.Name()).
		Logger()

	log.Info().Msg("Pipeline run started")
	snap, err := o.run(ctx, src, runID, start)
	metrics.PipelineRunDuration.Observe(o.now().Sub(start).Seconds())
	if err != nil {
		metrics.PipelineRuns.WithLabelValues(outcome(err), src.Name()).Inc()
		log.Error().Err(err).Msg("Pipeline run failed; keeping previous results")
		return nil, err
	}

	o.store.Replace(snap)
	o.lastCredential = credential

	metrics.PipelineRuns.WithLabelValues("success", src.Name()).Inc()
	metrics.DatasetRows.Set(float64(snap.Rows))
	metrics.LastSuccess.Set(float64(snap.ComputedAt.Unix()))
	log.Info().
		Int("rows", snap.Rows).
		Int("segments", len(snap.Segments)).
		Int("cohorts", len(snap.Retention)).
		Dur("elapsed", o.now().Sub(start)).
		Msg("Pipeline run published")
	return snap, nil
}

func (o *Orchestrator) run(ctx context.Context, src provider.Provider, runID string, start time.Time) (*models.Snapshot, error) {
	ds, err := src.Fetch(ctx)
	if err != nil {
		if errors.Is(err, provider.ErrProviderFailure) || ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", provider.ErrProviderFailure, err)
	}
	if err := ds.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", analytics.ErrInvalidDataset, err)
	}

	var (
		importance models.FeatureImportance
		ranked     []models.RankedFeature
		segments   []models.Segment
		retention  models.RetentionRate
	)

	// SegmentUsers writes Segment on every record while the other branches
	// copy whole records, so it annotates its own copy of the dataset.
	segDS := append(models.Dataset(nil), ds...)

	var g errgroup.Group
	g.Go(func() error {
		fi, err := analytics.EstimateImportance(ds, o.cfg.Importance)
		if err != nil {
			return err
		}
		importance = fi
		ranked = analytics.RankFeatures(fi, o.cfg.TopN)
		return nil
	})
	g.Go(func() error {
		segs, err := analytics.SegmentUsers(segDS, o.cfg.Segments)
		if err != nil {
			return err
		}
		segments = segs
		return nil
	})
	g.Go(func() error {
		retention = analytics.RetentionByCohort(ds)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("pipeline run canceled: %w", err)
	}

	return &models.Snapshot{
		RunID:             runID,
		Source:            src.Name(),
		ComputedAt:        start.UTC(),
		Rows:              len(ds),
		FeatureImportance: importance,
		TopFeatures:       ranked,
		Recommendation:    analytics.Recommend(ranked),
		Segments:          segments,
		Retention:         retention,
	}, nil
}

// Start re-runs the pipeline every interval until ctx is done, reusing the
// credential of the last successful run. A zero interval disables it.
func (o *Orchestrator) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if ctx.Err() != nil {
					return
				}
				o.mu.Lock()
				credential := o.lastCredential
				o.mu.Unlock()
				// Failures are logged and counted by TriggerRun.
				_, _ = o.TriggerRun(ctx, credential)
			}
		}
	}()
}

func outcome(err error) string {
	switch {
	case errors.Is(err, analytics.ErrInvalidDataset):
		return "invalid_dataset"
	case errors.Is(err, provider.ErrProviderFailure):
		return "provider_failure"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "computation_failure"
	}
}
