package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"revsend/api/logging"
	"revsend/api/models"
)

// EventSource returns per-user behavior aggregates.
type EventSource interface {
	GetUserEventCounts(ctx context.Context, since time.Time) ([]models.UserEventCounts, error)
}

// ProfileSource returns the user profiles that carry signup date, plan and
// last activity.
type ProfileSource interface {
	ListUserProfiles(ctx context.Context) ([]models.UserProfile, error)
}

// WarehouseConfig tunes the warehouse provider.
type WarehouseConfig struct {
	// ActivityWindow is how recently a user must have been seen to count as active.
	ActivityWindow time.Duration
	// Lookback bounds the events considered. Zero reads all events.
	Lookback time.Duration
	// FailureThreshold consecutive failures open the breaker for BreakerTimeout.
	FailureThreshold uint32
	BreakerTimeout   time.Duration
}

func DefaultWarehouseConfig() WarehouseConfig {
	return WarehouseConfig{
		ActivityWindow:   30 * 24 * time.Hour,
		FailureThreshold: 3,
		BreakerTimeout:   30 * time.Second,
	}
}

// Warehouse builds the dataset from tracked events (ClickHouse) joined with
// user profiles (Postgres). Fetches go through a circuit breaker so a
// failing warehouse is not hammered by repeated runs.
type Warehouse struct {
	events   EventSource
	profiles ProfileSource
	cfg      WarehouseConfig
	breaker  *gobreaker.CircuitBreaker[models.Dataset]
	now      func() time.Time
}

func NewWarehouse(events EventSource, profiles ProfileSource, cfg WarehouseConfig) *Warehouse {
	w := &Warehouse{
		events:   events,
		profiles: profiles,
		cfg:      cfg,
		now:      time.Now,
	}
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 1
	}
	w.breaker = gobreaker.NewCircuitBreaker[models.Dataset](gobreaker.Settings{
		Name:        "warehouse",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// A caller giving up is not a warehouse failure.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("component", "provider").
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Warehouse circuit breaker changed state")
		},
	})
	return w
}

func (w *Warehouse) Name() string { return "warehouse" }

func (w *Warehouse) Fetch(ctx context.Context) (models.Dataset, error) {
	ds, err := w.breaker.Execute(func() (models.Dataset, error) {
		return w.fetch(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProviderFailure, err)
	}
	return ds, nil
}

func (w *Warehouse) fetch(ctx context.Context) (models.Dataset, error) {
	now := w.now()
	var since time.Time
	if w.cfg.Lookback > 0 {
		since = now.Add(-w.cfg.Lookback)
	}

	profiles, err := w.profiles.ListUserProfiles(ctx)
	if err != nil {
		return nil, err
	}
	counts, err := w.events.GetUserEventCounts(ctx, since)
	if err != nil {
		return nil, err
	}
	return joinProfiles(profiles, counts, now.Add(-w.cfg.ActivityWindow)), nil
}

// joinProfiles produces one record per profile, in profile order. Users with
// no tracked events get zero counts and the lowest personalization level.
func joinProfiles(profiles []models.UserProfile, counts []models.UserEventCounts, activeSince time.Time) models.Dataset {
	byUser := make(map[string]models.UserEventCounts, len(counts))
	for _, c := range counts {
		byUser[c.UserID] = c
	}

	ds := make(models.Dataset, 0, len(profiles))
	for _, p := range profiles {
		c, ok := byUser[p.UserID]
		if !ok {
			c = models.UserEventCounts{UserID: p.UserID}
		}
		rec := models.UserRecord{
			UserID:   p.UserID,
			Features: c.Features(),
			Cohort:   models.CohortKey(p.CreatedAt),
			Segment:  models.UnassignedSegment,
		}
		if p.IsPaid() {
			rec.ConvertedToPaid = 1
		}
		if !p.LastSeenAt.Before(activeSince) {
			rec.IsActive = 1
		}
		ds = append(ds, rec)
	}
	return ds
}
