package scoring

import (
	"time"

	"creditguard/pkg/dataset"
	"creditguard/pkg/features"
	"creditguard/pkg/model"
)

// Snapshot bundles every artifact of one training run. A snapshot is
// immutable once published; readers always observe either the previous
// complete bundle or the new one, never a mix.
type Snapshot struct {
	Forest       *model.RandomForest
	Codec        *features.Codec
	FeatureNames []string
	Threshold    float64
	MetRecall    bool // whether the threshold search reached its recall target
	Eval         model.Evaluation
	// Reference keeps the unencoded dataset (with derived columns) for
	// sample-record serving and explanation value recovery.
	Reference *dataset.Frame
	// Matrix is the encoded training matrix, retained as the drift
	// baseline source.
	Matrix      [][]float64
	TrainedAt   time.Time
	DatasetInfo string
}

// FeatureIndex returns the position of a feature in the trained column
// order, or -1.
func (s *Snapshot) FeatureIndex(name string) int {
	for i, f := range s.FeatureNames {
		if f == name {
			return i
		}
	}
	return -1
}
