package ml

import (
	"errors"
	"math"
)

// StandardScaler rescales each column to zero mean and unit variance using
// the population standard deviation. A constant column keeps scale 1, so it
// standardizes to all zeros.
type StandardScaler struct {
	Mean  []float64
	Scale []float64
}

// Fit computes per-column statistics.
func (s *StandardScaler) Fit(X [][]float64) error {
	if len(X) == 0 {
		return errors.New("scaler: empty X")
	}
	rows, cols := len(X), len(X[0])
	s.Mean = make([]float64, cols)
	s.Scale = make([]float64, cols)
	for j := 0; j < cols; j++ {
		sum := 0.0
		for i := 0; i < rows; i++ {
			sum += X[i][j]
		}
		mean := sum / float64(rows)

		sq := 0.0
		for i := 0; i < rows; i++ {
			d := X[i][j] - mean
			sq += d * d
		}
		std := math.Sqrt(sq / float64(rows))
		if std == 0 {
			std = 1
		}
		s.Mean[j] = mean
		s.Scale[j] = std
	}
	return nil
}

// Transform standardizes X with the fitted statistics. X is not modified.
func (s *StandardScaler) Transform(X [][]float64) [][]float64 {
	out := make([][]float64, len(X))
	for i, row := range X {
		r := make([]float64, len(row))
		for j, v := range row {
			r[j] = (v - s.Mean[j]) / s.Scale[j]
		}
		out[i] = r
	}
	return out
}

// FitTransform fits on X and returns the standardized copy.
func (s *StandardScaler) FitTransform(X [][]float64) ([][]float64, error) {
	if err := s.Fit(X); err != nil {
		return nil, err
	}
	return s.Transform(X), nil
}

// AllFinite reports whether every value in X is neither NaN nor infinite.
func AllFinite(X [][]float64) bool {
	for _, row := range X {
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}
