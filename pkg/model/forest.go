package model

import (
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"
)

// ForestConfig holds the ensemble hyperparameters. The zero value is not
// usable; call DefaultForestConfig and adjust.
type ForestConfig struct {
	NumTrees       int
	MinSamplesLeaf int
	MaxDepth       int // 0 means unlimited
	MaxFeatures    int // 0 means sqrt(num features)
	// ClassWeights biases impurity and leaf probabilities toward the
	// positive (risky) class: index 0 is the negative class weight,
	// index 1 the positive.
	ClassWeights [2]float64
	Seed         int64
}

// DefaultForestConfig mirrors the production training setup: 200 trees,
// unlimited depth, two samples per leaf, and a 10x cost on missing a risky
// applicant.
func DefaultForestConfig() ForestConfig {
	return ForestConfig{
		NumTrees:       200,
		MinSamplesLeaf: 2,
		ClassWeights:   [2]float64{1, 10},
		Seed:           42,
	}
}

// RandomForest is a cost-weighted binary classification forest. Training is
// deterministic for a fixed seed: every tree derives its own rng from the
// seed, so trees can be fitted in parallel without changing the result.
type RandomForest struct {
	cfg         ForestConfig
	trees       []*treeNode
	numFeatures int
	importance  []float64
	trained     bool
}

type treeNode struct {
	leaf     bool
	prob     float64 // weighted positive-class fraction at the leaf
	feature  int
	split    float64
	left     *treeNode
	right    *treeNode
}

// NewRandomForest creates an untrained forest.
func NewRandomForest(cfg ForestConfig) *RandomForest {
	if cfg.NumTrees <= 0 {
		cfg.NumTrees = 200
	}
	if cfg.MinSamplesLeaf <= 0 {
		cfg.MinSamplesLeaf = 1
	}
	if cfg.ClassWeights[0] <= 0 {
		cfg.ClassWeights[0] = 1
	}
	if cfg.ClassWeights[1] <= 0 {
		cfg.ClassWeights[1] = 1
	}
	return &RandomForest{cfg: cfg}
}

// Train fits the forest on the encoded feature matrix. Labels must be 0 or 1.
func (f *RandomForest) Train(X [][]float64, y []int) error {
	if len(X) == 0 {
		return fmt.Errorf("forest: empty training set")
	}
	if len(X) != len(y) {
		return fmt.Errorf("forest: %d rows but %d labels", len(X), len(y))
	}
	f.numFeatures = len(X[0])
	for i, row := range X {
		if len(row) != f.numFeatures {
			return fmt.Errorf("forest: row %d has %d features, want %d", i, len(row), f.numFeatures)
		}
	}
	for i, label := range y {
		if label != 0 && label != 1 {
			return fmt.Errorf("forest: label %d at row %d is not binary", label, i)
		}
	}

	mtry := f.cfg.MaxFeatures
	if mtry <= 0 {
		mtry = int(math.Sqrt(float64(f.numFeatures)))
		if mtry < 1 {
			mtry = 1
		}
	}

	trees := make([]*treeNode, f.cfg.NumTrees)
	importances := make([][]float64, f.cfg.NumTrees)

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := 0; i < f.cfg.NumTrees; i++ {
		i := i
		g.Go(func() error {
			// per-tree rng keeps training reproducible under parallel fitting
			rng := rand.New(rand.NewSource(f.cfg.Seed + int64(i)*2654435761))
			imp := make([]float64, f.numFeatures)
			idx := bootstrap(len(X), rng)
			trees[i] = f.buildTree(X, y, idx, 0, mtry, rng, imp)
			importances[i] = imp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	total := make([]float64, f.numFeatures)
	sum := 0.0
	for _, imp := range importances {
		for j, v := range imp {
			total[j] += v
			sum += v
		}
	}
	if sum > 0 {
		for j := range total {
			total[j] /= sum
		}
	}

	f.trees = trees
	f.importance = total
	f.trained = true
	return nil
}

// PredictProba returns the forest's positive-class probability for one
// aligned feature vector.
func (f *RandomForest) PredictProba(x []float64) (float64, error) {
	if !f.trained {
		return 0, fmt.Errorf("forest: not trained")
	}
	if len(x) != f.numFeatures {
		return 0, fmt.Errorf("forest: vector has %d features, want %d", len(x), f.numFeatures)
	}
	sum := 0.0
	for _, t := range f.trees {
		sum += classify(t, x)
	}
	return sum / float64(len(f.trees)), nil
}

// PredictBatch scores many vectors at once.
func (f *RandomForest) PredictBatch(X [][]float64) ([]float64, error) {
	out := make([]float64, len(X))
	for i, x := range X {
		p, err := f.PredictProba(x)
		if err != nil {
			return nil, err
		}
		out[i] = p
	}
	return out, nil
}

// Importances returns the normalized per-feature impurity decrease. The
// slice is indexed by the training column order.
func (f *RandomForest) Importances() []float64 {
	out := make([]float64, len(f.importance))
	copy(out, f.importance)
	return out
}

// NumFeatures reports the trained feature count.
func (f *RandomForest) NumFeatures() int { return f.numFeatures }

func classify(n *treeNode, x []float64) float64 {
	for !n.leaf {
		if x[n.feature] < n.split {
			n = n.left
		} else {
			n = n.right
		}
	}
	return n.prob
}

func bootstrap(n int, rng *rand.Rand) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = rng.Intn(n)
	}
	return idx
}

// weightedCounts sums the class weights over a sample subset.
func (f *RandomForest) weightedCounts(y []int, idx []int) (w0, w1 float64) {
	for _, i := range idx {
		if y[i] == 1 {
			w1 += f.cfg.ClassWeights[1]
		} else {
			w0 += f.cfg.ClassWeights[0]
		}
	}
	return
}

func gini(w0, w1 float64) float64 {
	total := w0 + w1
	if total == 0 {
		return 0
	}
	p0 := w0 / total
	p1 := w1 / total
	return 1 - p0*p0 - p1*p1
}

func (f *RandomForest) buildTree(X [][]float64, y []int, idx []int, depth, mtry int, rng *rand.Rand, imp []float64) *treeNode {
	w0, w1 := f.weightedCounts(y, idx)
	nodeGini := gini(w0, w1)

	leaf := func() *treeNode {
		prob := 0.0
		if w0+w1 > 0 {
			prob = w1 / (w0 + w1)
		}
		return &treeNode{leaf: true, prob: prob}
	}

	if len(idx) < 2*f.cfg.MinSamplesLeaf || nodeGini == 0 {
		return leaf()
	}
	if f.cfg.MaxDepth > 0 && depth >= f.cfg.MaxDepth {
		return leaf()
	}

	feature, split, gain, ok := f.bestSplit(X, y, idx, nodeGini, w0+w1, mtry, rng)
	if !ok {
		return leaf()
	}

	var left, right []int
	for _, i := range idx {
		if X[i][feature] < split {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	imp[feature] += gain

	return &treeNode{
		feature: feature,
		split:   split,
		left:    f.buildTree(X, y, left, depth+1, mtry, rng, imp),
		right:   f.buildTree(X, y, right, depth+1, mtry, rng, imp),
	}
}

// bestSplit searches mtry randomly chosen features for the threshold with
// the largest weighted impurity decrease.
func (f *RandomForest) bestSplit(X [][]float64, y []int, idx []int, parentGini, parentWeight float64, mtry int, rng *rand.Rand) (feature int, split, gain float64, ok bool) {
	candidates := rng.Perm(f.numFeatures)[:mtry]
	// stable candidate order keeps tie-breaking deterministic
	sort.Ints(candidates)

	type pair struct {
		v     float64
		label int
	}
	bestGain := 0.0

	for _, fi := range candidates {
		pairs := make([]pair, len(idx))
		for k, i := range idx {
			pairs[k] = pair{v: X[i][fi], label: y[i]}
		}
		sort.Slice(pairs, func(a, b int) bool { return pairs[a].v < pairs[b].v })

		var left0, left1 float64
		right0, right1 := f.weightedCounts(y, idx)
		nLeft := 0

		for k := 0; k < len(pairs)-1; k++ {
			w := f.cfg.ClassWeights[pairs[k].label]
			if pairs[k].label == 1 {
				left1 += w
				right1 -= w
			} else {
				left0 += w
				right0 -= w
			}
			nLeft++
			if pairs[k].v == pairs[k+1].v {
				continue
			}
			if nLeft < f.cfg.MinSamplesLeaf || len(pairs)-nLeft < f.cfg.MinSamplesLeaf {
				continue
			}
			lw := left0 + left1
			rw := right0 + right1
			childGini := (lw*gini(left0, left1) + rw*gini(right0, right1)) / parentWeight
			g := (parentGini - childGini) * parentWeight
			if g > bestGain {
				bestGain = g
				feature = fi
				split = (pairs[k].v + pairs[k+1].v) / 2
			}
		}
	}
	if bestGain <= 0 {
		return 0, 0, 0, false
	}
	return feature, split, bestGain, true
}
