package ml

import (
	"errors"
	"math"
	"math/rand"
	"sort"
)

// DecisionTree is a CART classifier using gini impurity on numeric features.
// Splits are of the form x[feature] <= threshold.
type DecisionTree struct {
	MaxDepth        int // 0 => no limit
	MinSamplesSplit int
	MinSamplesLeaf  int
	MaxFeatures     int // 0 => all features; MaxFeaturesSqrt => floor(sqrt(p))
	RandomState     int64

	root        *treeNode
	nClasses    int
	nFeatures   int
	importances []float64 // weighted impurity decrease per feature, unnormalized
}

type treeNode struct {
	leaf      bool
	feature   int
	threshold float64
	left      *treeNode
	right     *treeNode

	n      int
	counts []int
}

// MaxFeaturesSqrt selects floor(sqrt(p)) candidate features per split.
const MaxFeaturesSqrt = -1

// TreeOption configures a DecisionTree.
type TreeOption func(*DecisionTree)

func WithMaxDepth(d int) TreeOption { return func(t *DecisionTree) { t.MaxDepth = d } }
func WithMinSamplesSplit(n int) TreeOption {
	return func(t *DecisionTree) { t.MinSamplesSplit = n }
}
func WithMinSamplesLeaf(n int) TreeOption {
	return func(t *DecisionTree) { t.MinSamplesLeaf = n }
}
func WithMaxFeatures(k int) TreeOption { return func(t *DecisionTree) { t.MaxFeatures = k } }
func WithRandomState(seed int64) TreeOption {
	return func(t *DecisionTree) { t.RandomState = seed }
}

// NewDecisionTree returns a tree with sklearn-like defaults.
func NewDecisionTree(opts ...TreeOption) *DecisionTree {
	t := &DecisionTree{
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Fit trains the tree on every row of X. Labels must be class indices in
// [0, nClasses).
func (t *DecisionTree) Fit(X [][]float64, y []int, nClasses int) error {
	if err := checkXY(X, y); err != nil {
		return err
	}
	sample := make([]int, len(X))
	for i := range sample {
		sample[i] = i
	}
	return t.fitSample(X, y, nClasses, sample, rand.New(rand.NewSource(t.RandomState)))
}

// fitSample trains on the rows named by sample. Indices may repeat
// (bootstrap draws); a repeated row counts once per occurrence.
func (t *DecisionTree) fitSample(X [][]float64, y []int, nClasses int, sample []int, rnd *rand.Rand) error {
	if len(sample) == 0 {
		return errors.New("dtree: empty sample")
	}
	if nClasses < 1 {
		return errors.New("dtree: no classes")
	}
	for _, i := range sample {
		if y[i] < 0 || y[i] >= nClasses {
			return errors.New("dtree: label outside class range")
		}
	}
	t.nClasses = nClasses
	t.nFeatures = len(X[0])
	t.importances = make([]float64, t.nFeatures)

	idx := append([]int(nil), sample...)
	t.root = t.build(X, y, idx, 0, rnd)
	return nil
}

// FeatureImportances returns the impurity decrease per feature normalized
// to sum to 1. A tree that never split returns all zeros.
func (t *DecisionTree) FeatureImportances() []float64 {
	out := make([]float64, len(t.importances))
	total := 0.0
	for _, v := range t.importances {
		total += v
	}
	if total <= 0 {
		return out
	}
	for i, v := range t.importances {
		out[i] = v / total
	}
	return out
}

// PredictProba returns the class distribution of the leaf each row falls in.
func (t *DecisionTree) PredictProba(X [][]float64) [][]float64 {
	out := make([][]float64, len(X))
	for i, x := range X {
		out[i] = t.leafFor(x).probas()
	}
	return out
}

func (t *DecisionTree) leafFor(x []float64) *treeNode {
	node := t.root
	for !node.leaf {
		if x[node.feature] <= node.threshold {
			node = node.left
		} else {
			node = node.right
		}
	}
	return node
}

func (n *treeNode) probas() []float64 {
	p := make([]float64, len(n.counts))
	if n.n == 0 {
		return p
	}
	for i, c := range n.counts {
		p[i] = float64(c) / float64(n.n)
	}
	return p
}

type split struct {
	feature   int
	threshold float64
	impurity  float64 // weighted child impurity (lower is better)
	leftIdx   []int
	rightIdx  []int
}

func (t *DecisionTree) build(X [][]float64, y []int, idx []int, depth int, rnd *rand.Rand) *treeNode {
	node := &treeNode{n: len(idx), counts: classCounts(y, idx, t.nClasses)}
	parent := gini(node.counts, node.n)

	if parent == 0 || len(idx) < t.MinSamplesSplit || len(idx) < 2*t.MinSamplesLeaf ||
		(t.MaxDepth > 0 && depth >= t.MaxDepth) {
		node.leaf = true
		return node
	}

	best, ok := t.bestSplit(X, y, idx, rnd)
	if !ok {
		node.leaf = true
		return node
	}

	nl, nr := float64(len(best.leftIdx)), float64(len(best.rightIdx))
	leftImp := gini(classCounts(y, best.leftIdx, t.nClasses), len(best.leftIdx))
	rightImp := gini(classCounts(y, best.rightIdx, t.nClasses), len(best.rightIdx))
	decrease := float64(node.n)*parent - nl*leftImp - nr*rightImp
	if decrease > 0 {
		t.importances[best.feature] += decrease
	}

	node.feature = best.feature
	node.threshold = best.threshold
	node.left = t.build(X, y, best.leftIdx, depth+1, rnd)
	node.right = t.build(X, y, best.rightIdx, depth+1, rnd)
	return node
}

// bestSplit draws features in random order and inspects at least
// maxFeatures non-constant ones, continuing past that budget until a valid
// split has been found.
func (t *DecisionTree) bestSplit(X [][]float64, y []int, idx []int, rnd *rand.Rand) (split, bool) {
	p := t.nFeatures
	budget := t.maxFeatures(p)

	order := rnd.Perm(p)
	best := split{impurity: math.Inf(1)}
	found := false
	visited := 0
	for _, f := range order {
		if visited >= budget && found {
			break
		}
		s, nonConstant, valid := t.splitFeature(X, y, idx, f)
		if !nonConstant {
			continue
		}
		visited++
		if valid && s.impurity < best.impurity {
			best = s
			found = true
		}
	}
	return best, found
}

func (t *DecisionTree) maxFeatures(p int) int {
	switch {
	case t.MaxFeatures == MaxFeaturesSqrt:
		k := int(math.Sqrt(float64(p)))
		if k < 1 {
			k = 1
		}
		return k
	case t.MaxFeatures > 0 && t.MaxFeatures < p:
		return t.MaxFeatures
	default:
		return p
	}
}

// splitFeature scans every threshold between distinct sorted values of f.
func (t *DecisionTree) splitFeature(X [][]float64, y []int, idx []int, f int) (split, bool, bool) {
	sorted := append([]int(nil), idx...)
	sort.SliceStable(sorted, func(a, b int) bool { return X[sorted[a]][f] < X[sorted[b]][f] })

	n := len(sorted)
	if X[sorted[0]][f] == X[sorted[n-1]][f] {
		return split{}, false, false
	}

	left := make([]int, t.nClasses)
	right := classCounts(y, sorted, t.nClasses)
	bestImp := math.Inf(1)
	bestPos := -1
	for s := 1; s < n; s++ {
		c := y[sorted[s-1]]
		left[c]++
		right[c]--
		if X[sorted[s]][f] == X[sorted[s-1]][f] {
			continue
		}
		if s < t.MinSamplesLeaf || n-s < t.MinSamplesLeaf {
			continue
		}
		imp := (float64(s)*gini(left, s) + float64(n-s)*gini(right, n-s)) / float64(n)
		if imp < bestImp {
			bestImp = imp
			bestPos = s
		}
	}
	if bestPos < 0 {
		return split{}, true, false
	}
	return split{
		feature:   f,
		threshold: (X[sorted[bestPos-1]][f] + X[sorted[bestPos]][f]) / 2,
		impurity:  bestImp,
		leftIdx:   sorted[:bestPos],
		rightIdx:  sorted[bestPos:],
	}, true, true
}

func classCounts(y []int, idx []int, nClasses int) []int {
	counts := make([]int, nClasses)
	for _, i := range idx {
		counts[y[i]]++
	}
	return counts
}

func gini(counts []int, n int) float64 {
	if n == 0 {
		return 0
	}
	sumSq := 0.0
	for _, c := range counts {
		p := float64(c) / float64(n)
		sumSq += p * p
	}
	return 1 - sumSq
}

func checkXY(X [][]float64, y []int) error {
	if len(X) == 0 {
		return errors.New("ml: empty X")
	}
	if len(y) != len(X) {
		return errors.New("ml: X and y length mismatch")
	}
	p := len(X[0])
	if p == 0 {
		return errors.New("ml: X has no columns")
	}
	for i := range X {
		if len(X[i]) != p {
			return errors.New("ml: inconsistent number of features in X rows")
		}
	}
	return nil
}
