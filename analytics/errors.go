// Package analytics derives conversion insights from a behavioral dataset:
// feature importance, ranked recommendations, user segments and cohort
// retention.
package analytics

import "errors"

var (
	// ErrInvalidDataset marks input the computations cannot use: empty data,
	// malformed records or a conversion label with a single class.
	ErrInvalidDataset = errors.New("invalid dataset")

	// ErrComputation marks a numerical failure while fitting a model.
	ErrComputation = errors.New("computation failure")
)
