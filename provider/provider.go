// Package provider supplies the behavioral dataset a pipeline run consumes.
package provider

import (
	"context"
	"errors"

	"revsend/api/logging"
	"revsend/api/models"
)

var (
	// ErrProviderFailure wraps any failure to acquire data from a source.
	ErrProviderFailure = errors.New("provider failure")

	// ErrInvalidConfig marks a provider configured with unusable parameters.
	ErrInvalidConfig = errors.New("invalid provider configuration")
)

// Provider produces the dataset for one pipeline run.
type Provider interface {
	Name() string
	Fetch(ctx context.Context) (models.Dataset, error)
}

// Selector picks the data source for a run. The warehouse is used only when
// the caller presents a credential and a warehouse is configured; everything
// else falls back to synthetic data.
type Selector struct {
	Synthetic Provider
	Warehouse Provider // nil when no warehouse is configured
}

// Select returns the provider to use for the given credential.
func (s *Selector) Select(credential string) Provider {
	if credential == "" {
		return s.Synthetic
	}
	if s.Warehouse == nil {
		logging.Warn().
			Str("component", "provider").
			Msg("Credential supplied but no warehouse is configured; falling back to synthetic data")
		return s.Synthetic
	}
	return s.Warehouse
}
