package model

// Evaluation holds the held-out metrics of one training run. The confusion
// matrix is row-major with actual class as the row and predicted class as
// the column: [0][0] true negatives, [0][1] false positives, [1][0] false
// negatives, [1][1] true positives.
type Evaluation struct {
	Accuracy     float64   `json:"accuracy"`
	Precision    float64   `json:"precision"`
	Recall       float64   `json:"recall"`
	F1           float64   `json:"f1"`
	Confusion    [2][2]int `json:"confusion_matrix"`
	TrainSamples int       `json:"train_samples"`
	TestSamples  int       `json:"test_samples"`
	TotalSamples int       `json:"total_samples"`
}

// Evaluate computes classification metrics for probability scores cut at
// the given threshold. Undefined ratios (zero denominators) evaluate to 0
// rather than NaN.
func Evaluate(probs []float64, y []int, threshold float64) Evaluation {
	var ev Evaluation
	for i, p := range probs {
		pred := 0
		if p >= threshold {
			pred = 1
		}
		ev.Confusion[y[i]][pred]++
	}
	tn := ev.Confusion[0][0]
	fp := ev.Confusion[0][1]
	fn := ev.Confusion[1][0]
	tp := ev.Confusion[1][1]

	total := tn + fp + fn + tp
	if total > 0 {
		ev.Accuracy = float64(tn+tp) / float64(total)
	}
	if tp+fp > 0 {
		ev.Precision = float64(tp) / float64(tp+fp)
	}
	if tp+fn > 0 {
		ev.Recall = float64(tp) / float64(tp+fn)
	}
	if ev.Precision+ev.Recall > 0 {
		ev.F1 = 2 * ev.Precision * ev.Recall / (ev.Precision + ev.Recall)
	}
	ev.TestSamples = total
	return ev
}

func recallAt(probs []float64, y []int, threshold float64) float64 {
	tp, fn := 0, 0
	for i, p := range probs {
		if y[i] != 1 {
			continue
		}
		if p >= threshold {
			tp++
		} else {
			fn++
		}
	}
	if tp+fn == 0 {
		return 0
	}
	return float64(tp) / float64(tp+fn)
}

func f1At(probs []float64, y []int, threshold float64) float64 {
	return Evaluate(probs, y, threshold).F1
}
