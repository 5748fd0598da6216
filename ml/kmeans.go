package ml

import (
	"errors"
	"math"
	"math/rand"
	"runtime"
	"sync"
)

// KMeans partitions rows into K clusters with Lloyd's algorithm and
// k-means++ seeding. The best of NInit seeded runs (lowest inertia) is kept.
type KMeans struct {
	K           int
	MaxIter     int
	NInit       int
	Tol         float64 // relative to the mean column variance of X
	RandomState int64

	Centroids [][]float64
	Labels    []int
	Inertia   float64 // sum of squared distances to the assigned centroid
	NIter     int
}

// KMeansOption configures a KMeans model.
type KMeansOption func(*KMeans)

func WithMaxIter(n int) KMeansOption      { return func(m *KMeans) { m.MaxIter = n } }
func WithNInit(n int) KMeansOption        { return func(m *KMeans) { m.NInit = n } }
func WithTol(tol float64) KMeansOption    { return func(m *KMeans) { m.Tol = tol } }
func WithKMeansSeed(s int64) KMeansOption { return func(m *KMeans) { m.RandomState = s } }

// NewKMeans creates a KMeans model for k clusters.
func NewKMeans(k int, opts ...KMeansOption) *KMeans {
	m := &KMeans{
		K:       k,
		MaxIter: 300,
		NInit:   10,
		Tol:     1e-4,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Fit clusters X. It needs at least K rows.
func (m *KMeans) Fit(X [][]float64) error {
	if len(X) == 0 {
		return errors.New("kmeans: input data cannot be empty")
	}
	if m.K < 1 {
		return errors.New("kmeans: K must be positive")
	}
	if len(X) < m.K {
		return errors.New("kmeans: number of data points is less than K")
	}
	nInit := m.NInit
	if nInit < 1 {
		nInit = 1
	}

	tol := m.Tol * meanVariance(X)
	rnd := rand.New(rand.NewSource(m.RandomState))

	m.Inertia = math.Inf(1)
	for run := 0; run < nInit; run++ {
		centroids, labels, inertia, iters := m.lloyd(X, m.initCenters(X, rnd), tol)
		if inertia < m.Inertia {
			m.Centroids, m.Labels, m.Inertia, m.NIter = centroids, labels, inertia, iters
		}
	}
	return nil
}

// Predict assigns each row to its nearest centroid.
func (m *KMeans) Predict(X [][]float64) ([]int, error) {
	if len(m.Centroids) == 0 {
		return nil, errors.New("kmeans: model not fitted")
	}
	if len(X) == 0 {
		return nil, errors.New("kmeans: input data for prediction cannot be empty")
	}
	if len(X[0]) != len(m.Centroids[0]) {
		return nil, errors.New("kmeans: feature count mismatch between input data and model centroids")
	}
	labels := make([]int, len(X))
	assign(X, m.Centroids, labels)
	return labels, nil
}

func (m *KMeans) lloyd(X [][]float64, centroids [][]float64, tol float64) ([][]float64, []int, float64, int) {
	n, p := len(X), len(X[0])
	labels := make([]int, n)
	for i := range labels {
		labels[i] = -1
	}

	iters := 0
	for iters < m.MaxIter {
		iters++
		changed := assign(X, centroids, labels)

		sums := make([][]float64, m.K)
		counts := make([]int, m.K)
		for k := range sums {
			sums[k] = make([]float64, p)
		}
		for i, k := range labels {
			counts[k]++
			for j := 0; j < p; j++ {
				sums[k][j] += X[i][j]
			}
		}
		m.relocateEmpty(X, centroids, labels, sums, counts)

		shift := 0.0
		for k := 0; k < m.K; k++ {
			if counts[k] == 0 {
				continue
			}
			for j := 0; j < p; j++ {
				c := sums[k][j] / float64(counts[k])
				d := c - centroids[k][j]
				shift += d * d
				centroids[k][j] = c
			}
		}

		if !changed || shift <= tol {
			break
		}
	}

	// Final assignment so labels agree with the returned centroids.
	assign(X, centroids, labels)
	m.fillEmpty(X, centroids, labels)
	inertia := 0.0
	for i, k := range labels {
		inertia += euclidSquared(X[i], centroids[k])
	}
	return centroids, labels, inertia, iters
}

// fillEmpty repairs clusters left empty by the final assignment: each one
// takes over a far row and every centroid is reset to its members' mean.
// It reports whether anything moved.
func (m *KMeans) fillEmpty(X [][]float64, centroids [][]float64, labels []int) bool {
	p := len(X[0])
	sums := make([][]float64, m.K)
	counts := make([]int, m.K)
	for k := range sums {
		sums[k] = make([]float64, p)
	}
	for i, k := range labels {
		counts[k]++
		for j := 0; j < p; j++ {
			sums[k][j] += X[i][j]
		}
	}

	empty := false
	for _, c := range counts {
		if c == 0 {
			empty = true
			break
		}
	}
	if !empty {
		return false
	}

	m.relocateEmpty(X, centroids, labels, sums, counts)
	for k := 0; k < m.K; k++ {
		if counts[k] == 0 {
			continue
		}
		for j := 0; j < p; j++ {
			centroids[k][j] = sums[k][j] / float64(counts[k])
		}
	}
	return true
}

// relocateEmpty moves each empty cluster onto the row farthest from its
// current centroid, taking that row out of its old cluster.
func (m *KMeans) relocateEmpty(X [][]float64, centroids [][]float64, labels []int, sums [][]float64, counts []int) {
	for k := 0; k < m.K; k++ {
		if counts[k] > 0 {
			continue
		}
		far, farDist := -1, -1.0
		for i, l := range labels {
			if counts[l] < 2 {
				continue
			}
			if d := euclidSquared(X[i], centroids[l]); d > farDist {
				far, farDist = i, d
			}
		}
		if far < 0 {
			continue
		}
		old := labels[far]
		counts[old]--
		for j := range X[far] {
			sums[old][j] -= X[far][j]
		}
		labels[far] = k
		counts[k] = 1
		copy(sums[k], X[far])
	}
}

// initCenters picks K starting centroids with k-means++: the first uniformly,
// each next one with probability proportional to its squared distance to the
// nearest chosen centroid. Rows already at distance zero are never picked.
func (m *KMeans) initCenters(X [][]float64, rnd *rand.Rand) [][]float64 {
	n := len(X)
	centroids := make([][]float64, 0, m.K)
	centroids = append(centroids, append([]float64(nil), X[rnd.Intn(n)]...))

	distSq := make([]float64, n)
	for i := range X {
		distSq[i] = euclidSquared(X[i], centroids[0])
	}

	for len(centroids) < m.K {
		total := 0.0
		for _, d := range distSq {
			total += d
		}
		next := -1
		if total > 0 {
			r := rnd.Float64() * total
			cumulative := 0.0
			for i, d := range distSq {
				if d == 0 {
					continue
				}
				cumulative += d
				next = i
				if cumulative >= r {
					break
				}
			}
		} else {
			// Every row coincides with a chosen centroid.
			next = rnd.Intn(n)
		}
		c := append([]float64(nil), X[next]...)
		centroids = append(centroids, c)
		for i := range X {
			if d := euclidSquared(X[i], c); d < distSq[i] {
				distSq[i] = d
			}
		}
	}
	return centroids
}

// assign labels every row with its nearest centroid, splitting rows across
// GOMAXPROCS workers. It reports whether any label changed.
func assign(X [][]float64, centroids [][]float64, labels []int) bool {
	n := len(X)
	workers := runtime.GOMAXPROCS(0)
	rowsPerWorker := (n + workers - 1) / workers
	changed := make([]bool, workers)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		start := w * rowsPerWorker
		end := start + rowsPerWorker
		if end > n {
			end = n
		}
		if start >= end {
			continue
		}
		wg.Add(1)
		go func(w, start, end int) {
			defer wg.Done()
			for i := start; i < end; i++ {
				best, bestDist := 0, math.MaxFloat64
				for k, c := range centroids {
					if d := euclidSquared(X[i], c); d < bestDist {
						best, bestDist = k, d
					}
				}
				if labels[i] != best {
					changed[w] = true
					labels[i] = best
				}
			}
		}(w, start, end)
	}
	wg.Wait()

	for _, c := range changed {
		if c {
			return true
		}
	}
	return false
}

func euclidSquared(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

func meanVariance(X [][]float64) float64 {
	rows, cols := len(X), len(X[0])
	total := 0.0
	for j := 0; j < cols; j++ {
		mean := 0.0
		for i := 0; i < rows; i++ {
			mean += X[i][j]
		}
		mean /= float64(rows)
		v := 0.0
		for i := 0; i < rows; i++ {
			d := X[i][j] - mean
			v += d * d
		}
		total += v / float64(rows)
	}
	return total / float64(cols)
}
