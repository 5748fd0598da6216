package ml

import (
	"errors"
	"math/rand"
	"runtime"
	"sort"
	"sync"
)

// RandomForest is a bagged ensemble of DecisionTree classifiers.
type RandomForest struct {
	NEstimators     int
	MaxDepth        int
	MinSamplesSplit int
	MinSamplesLeaf  int
	MaxFeatures     int
	Bootstrap       bool
	RandomState     int64
	Workers         int

	Trees   []*DecisionTree
	classes []int
}

// ForestOption configures a RandomForest.
type ForestOption func(*RandomForest)

func WithNEstimators(n int) ForestOption { return func(rf *RandomForest) { rf.NEstimators = n } }
func WithBootstrap(b bool) ForestOption  { return func(rf *RandomForest) { rf.Bootstrap = b } }
func WithForestMaxDepth(d int) ForestOption {
	return func(rf *RandomForest) { rf.MaxDepth = d }
}
func WithForestMaxFeatures(k int) ForestOption {
	return func(rf *RandomForest) { rf.MaxFeatures = k }
}
func WithForestSeed(seed int64) ForestOption {
	return func(rf *RandomForest) { rf.RandomState = seed }
}
func WithWorkers(n int) ForestOption { return func(rf *RandomForest) { rf.Workers = n } }

// NewRandomForest returns a forest with sklearn's classifier defaults:
// 100 trees, bootstrap sampling, sqrt(p) candidate features per split.
func NewRandomForest(opts ...ForestOption) *RandomForest {
	rf := &RandomForest{
		NEstimators:     100,
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
		MaxFeatures:     MaxFeaturesSqrt,
		Bootstrap:       true,
	}
	for _, o := range opts {
		o(rf)
	}
	return rf
}

// Fit trains the forest. Labels may be any ints; they are mapped to class
// indices in ascending label order. Tree i draws its bootstrap sample and
// feature order from seed RandomState+i, so results do not depend on
// scheduling.
func (rf *RandomForest) Fit(X [][]float64, y []int) error {
	if err := checkXY(X, y); err != nil {
		return err
	}
	if rf.NEstimators < 1 {
		return errors.New("randomforest: NEstimators must be positive")
	}

	rf.classes = uniqueSorted(y)
	if len(rf.classes) < 2 {
		return errors.New("randomforest: need at least two classes in y")
	}
	yIdx := make([]int, len(y))
	for i, lab := range y {
		yIdx[i] = indexOf(rf.classes, lab)
	}

	workers := rf.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	n := len(X)
	rf.Trees = make([]*DecisionTree, rf.NEstimators)
	errs := make([]error, rf.NEstimators)
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				seed := rf.RandomState + int64(i)
				rnd := rand.New(rand.NewSource(seed))

				sample := make([]int, n)
				for j := range sample {
					if rf.Bootstrap {
						sample[j] = rnd.Intn(n)
					} else {
						sample[j] = j
					}
				}

				tree := NewDecisionTree(
					WithMaxDepth(rf.MaxDepth),
					WithMinSamplesSplit(rf.MinSamplesSplit),
					WithMinSamplesLeaf(rf.MinSamplesLeaf),
					WithMaxFeatures(rf.MaxFeatures),
					WithRandomState(seed),
				)
				errs[i] = tree.fitSample(X, yIdx, len(rf.classes), sample, rnd)
				rf.Trees[i] = tree
			}
		}()
	}
	for i := 0; i < rf.NEstimators; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// FeatureImportances is the mean decrease in impurity: each tree's
// normalized importances averaged over the forest, renormalized to sum 1.
// Trees are reduced in index order so the result is bit-for-bit stable.
func (rf *RandomForest) FeatureImportances() []float64 {
	if len(rf.Trees) == 0 {
		return nil
	}
	out := make([]float64, rf.Trees[0].nFeatures)
	for _, tree := range rf.Trees {
		for j, v := range tree.FeatureImportances() {
			out[j] += v
		}
	}
	total := 0.0
	for j := range out {
		out[j] /= float64(len(rf.Trees))
		total += out[j]
	}
	if total <= 0 {
		return out
	}
	for j := range out {
		out[j] /= total
	}
	return out
}

// PredictProba averages the trees' class distributions. Columns follow
// Classes().
func (rf *RandomForest) PredictProba(X [][]float64) [][]float64 {
	out := make([][]float64, len(X))
	for i := range out {
		out[i] = make([]float64, len(rf.classes))
	}
	for _, tree := range rf.Trees {
		for i, p := range tree.PredictProba(X) {
			for c := range p {
				out[i][c] += p[c]
			}
		}
	}
	for i := range out {
		for c := range out[i] {
			out[i][c] /= float64(len(rf.Trees))
		}
	}
	return out
}

// Predict returns the label with the highest averaged probability.
func (rf *RandomForest) Predict(X [][]float64) []int {
	out := make([]int, len(X))
	for i, p := range rf.PredictProba(X) {
		best := 0
		for c := 1; c < len(p); c++ {
			if p[c] > p[best] {
				best = c
			}
		}
		out[i] = rf.classes[best]
	}
	return out
}

// Classes returns the labels seen during Fit in ascending order.
func (rf *RandomForest) Classes() []int {
	return append([]int(nil), rf.classes...)
}

func uniqueSorted(y []int) []int {
	seen := make(map[int]struct{})
	var out []int
	for _, v := range y {
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	sort.Ints(out)
	return out
}

func indexOf(classes []int, label int) int {
	for i, c := range classes {
		if c == label {
			return i
		}
	}
	return -1
}
