package model

import (
	"fmt"
	"math/rand"
	"sort"
)

// StratifiedSplit partitions row indices into train and test sets, keeping
// the class ratio of y in both. The split is deterministic for a fixed seed.
func StratifiedSplit(y []int, testFraction float64, seed int64) (train, test []int, err error) {
	if testFraction <= 0 || testFraction >= 1 {
		return nil, nil, fmt.Errorf("split: test fraction %v out of (0,1)", testFraction)
	}
	byClass := map[int][]int{}
	for i, label := range y {
		byClass[label] = append(byClass[label], i)
	}
	classes := make([]int, 0, len(byClass))
	for c := range byClass {
		classes = append(classes, c)
	}
	sort.Ints(classes)

	rng := rand.New(rand.NewSource(seed))
	for _, c := range classes {
		idx := byClass[c]
		rng.Shuffle(len(idx), func(a, b int) { idx[a], idx[b] = idx[b], idx[a] })
		nTest := int(float64(len(idx))*testFraction + 0.5)
		if nTest == 0 && len(idx) > 1 {
			nTest = 1
		}
		test = append(test, idx[:nTest]...)
		train = append(train, idx[nTest:]...)
	}
	sort.Ints(train)
	sort.Ints(test)
	if len(train) == 0 || len(test) == 0 {
		return nil, nil, fmt.Errorf("split: %d train / %d test rows", len(train), len(test))
	}
	return train, test, nil
}

// Subset gathers the rows of X at the given indices.
func Subset(X [][]float64, idx []int) [][]float64 {
	out := make([][]float64, len(idx))
	for k, i := range idx {
		out[k] = X[i]
	}
	return out
}

// SubsetLabels gathers the labels at the given indices.
func SubsetLabels(y []int, idx []int) []int {
	out := make([]int, len(idx))
	for k, i := range idx {
		out[k] = y[i]
	}
	return out
}
