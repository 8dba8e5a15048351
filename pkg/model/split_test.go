package model

import "testing"

func TestStratifiedSplitKeepsRatio(t *testing.T) {
	y := make([]int, 1000)
	for i := range y {
		if i%10 < 3 {
			y[i] = 1
		}
	}

	train, test, err := StratifiedSplit(y, 0.2, 42)
	if err != nil {
		t.Fatalf("StratifiedSplit: %v", err)
	}
	if len(train)+len(test) != len(y) {
		t.Fatalf("split sizes %d + %d != %d", len(train), len(test), len(y))
	}
	if len(test) != 200 {
		t.Errorf("test size = %d, want 200", len(test))
	}

	seen := make(map[int]bool, len(y))
	for _, i := range append(append([]int{}, train...), test...) {
		if seen[i] {
			t.Fatalf("index %d appears twice", i)
		}
		seen[i] = true
	}

	pos := 0
	for _, i := range test {
		pos += y[i]
	}
	// 30% positives should survive in the held-out set
	if pos != 60 {
		t.Errorf("test positives = %d, want 60", pos)
	}
}

func TestStratifiedSplitDeterministic(t *testing.T) {
	y := make([]int, 100)
	for i := range y {
		y[i] = i % 2
	}
	trainA, testA, _ := StratifiedSplit(y, 0.25, 7)
	trainB, testB, _ := StratifiedSplit(y, 0.25, 7)
	for i := range trainA {
		if trainA[i] != trainB[i] {
			t.Fatal("train indices differ across identical seeds")
		}
	}
	for i := range testA {
		if testA[i] != testB[i] {
			t.Fatal("test indices differ across identical seeds")
		}
	}
}

func TestStratifiedSplitRejectsBadFraction(t *testing.T) {
	y := []int{0, 1, 0, 1}
	for _, fr := range []float64{0, 1, -0.5, 1.5} {
		if _, _, err := StratifiedSplit(y, fr, 1); err == nil {
			t.Errorf("fraction %v accepted", fr)
		}
	}
}

func TestSubset(t *testing.T) {
	X := [][]float64{{1}, {2}, {3}}
	y := []int{0, 1, 0}
	gotX := Subset(X, []int{2, 0})
	gotY := SubsetLabels(y, []int{2, 0})
	if gotX[0][0] != 3 || gotX[1][0] != 1 {
		t.Errorf("Subset = %v", gotX)
	}
	if gotY[0] != 0 || gotY[1] != 0 {
		t.Errorf("SubsetLabels = %v", gotY)
	}
}
