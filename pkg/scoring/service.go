package scoring

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"creditguard/pkg/dataset"
	"creditguard/pkg/features"
	"creditguard/pkg/model"
)

const (
	labelColumn   = "class"
	labelPositive = "bad" // risky applicants are the positive class
	labelNegative = "good"
)

// RequiredFields must be present (after alias normalization) for a
// prediction to be attempted.
var RequiredFields = []string{
	"duration", "credit_amount", "age",
	"housing", "checking_status", "purpose", "savings_status",
}

var (
	predictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "creditguard", Subsystem: "scoring", Name: "predictions_total", Help: "Predictions served, by decision."},
		[]string{"decision"},
	)
	encodingFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "creditguard", Subsystem: "scoring", Name: "encoding_fallbacks_total", Help: "Unknown categorical values substituted with the lowest-coded class, by column."},
		[]string{"column"},
	)
	trainingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "creditguard", Subsystem: "scoring", Name: "trainings_total", Help: "Training runs, by outcome."},
		[]string{"outcome"},
	)
	trainingDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Namespace: "creditguard", Subsystem: "scoring", Name: "training_duration_seconds", Help: "Wall time of a full training run.", Buckets: prometheus.ExponentialBuckets(0.1, 2, 12)},
	)
)

func init() {
	prometheus.MustRegister(predictionsTotal, encodingFallbacks, trainingsTotal, trainingDuration)
}

// DecisionRecord is the composite result of one inference call.
type DecisionRecord struct {
	ID              string    `json:"id"`
	RiskScore       int       `json:"risk_score"`
	Decision        Decision  `json:"decision"`
	RiskLevel       RiskLevel `json:"risk_level"`
	RiskProbability float64   `json:"risk_probability"`
	Explanation     string    `json:"explanation"`
}

// FeatureSchema describes the trained feature surface for client form
// generation.
type FeatureSchema struct {
	NumericFeatures     []string            `json:"numeric_features"`
	CategoricalFeatures map[string][]string `json:"categorical_features"`
	AllFeatures         []string            `json:"all_features"`
}

// Config wires the service's collaborators and policies.
type Config struct {
	Fetcher      *dataset.Fetcher
	Forest       model.ForestConfig
	Threshold    model.ThresholdSearch
	Bands        BandPolicy
	TestFraction float64
	Seed         int64
}

// DefaultConfig returns the production policies with the given fetcher.
func DefaultConfig(f *dataset.Fetcher) Config {
	return Config{
		Fetcher:      f,
		Forest:       model.DefaultForestConfig(),
		Threshold:    model.DefaultThresholdSearch(),
		Bands:        DefaultBands(),
		TestFraction: 0.2,
		Seed:         42,
	}
}

// Service owns the trained artifacts and exposes the training and inference
// orchestrators. The snapshot pointer is swapped atomically, so readers
// never observe a partial artifact set.
type Service struct {
	cfg  Config
	snap atomic.Pointer[Snapshot]
	sf   singleflight.Group

	mu        sync.Mutex
	sampleRng *rand.Rand

	// onVector, when set, receives every successfully scored feature
	// vector for distribution monitoring.
	onVector func(names []string, vec []float64)
}

// New creates an untrained service.
func New(cfg Config) *Service {
	if cfg.TestFraction <= 0 || cfg.TestFraction >= 1 {
		cfg.TestFraction = 0.2
	}
	return &Service{
		cfg:       cfg,
		sampleRng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// OnVector registers a callback invoked with every scored feature vector.
// Set before serving; not synchronized against concurrent predictions.
func (s *Service) OnVector(fn func(names []string, vec []float64)) { s.onVector = fn }

// Ready reports whether a trained snapshot is published.
func (s *Service) Ready() bool { return s.snap.Load() != nil }

// Snapshot returns the current snapshot or ErrModelNotReady.
func (s *Service) Snapshot() (*Snapshot, error) {
	snap := s.snap.Load()
	if snap == nil {
		return nil, ErrModelNotReady
	}
	return snap, nil
}

// Ensure lazily trains the model. Concurrent first callers share a single
// training run; later callers reuse the published snapshot.
func (s *Service) Ensure(ctx context.Context) (*Snapshot, error) {
	if snap := s.snap.Load(); snap != nil {
		return snap, nil
	}
	v, err, _ := s.sf.Do("train", func() (any, error) {
		if snap := s.snap.Load(); snap != nil {
			return snap, nil
		}
		return s.Train(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Snapshot), nil
}

// Retrain discards the current artifacts and runs a fresh training pass.
func (s *Service) Retrain(ctx context.Context) (*Snapshot, error) {
	s.snap.Store(nil)
	return s.Train(ctx)
}

// Train runs the full training orchestration: fetch, label-map, engineer,
// fit codec, split, fit forest, select threshold, evaluate, and publish one
// immutable snapshot.
func (s *Service) Train(ctx context.Context) (*Snapshot, error) {
	start := time.Now()
	snap, err := s.train(ctx)
	if err != nil {
		trainingsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	trainingsTotal.WithLabelValues("ok").Inc()
	trainingDuration.Observe(time.Since(start).Seconds())
	s.snap.Store(snap)
	log.Info().
		Int("features", len(snap.FeatureNames)).
		Float64("threshold", snap.Threshold).
		Bool("met_recall_target", snap.MetRecall).
		Float64("recall", snap.Eval.Recall).
		Float64("f1", snap.Eval.F1).
		Dur("elapsed", time.Since(start)).
		Msg("training run published")
	return snap, nil
}

func (s *Service) train(ctx context.Context) (*Snapshot, error) {
	frame, err := s.cfg.Fetcher.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	return s.trainOnFrame(frame)
}

// trainOnFrame is the dataset-independent remainder of the pipeline; tests
// feed it synthetic frames directly.
func (s *Service) trainOnFrame(frame *dataset.Frame) (*Snapshot, error) {
	if !frame.HasColumn(labelColumn) {
		return nil, fmt.Errorf("training: dataset has no %q column", labelColumn)
	}

	y := make([]int, frame.NumRows())
	for i, row := range frame.Rows {
		v, ok := row.String(labelColumn)
		if !ok {
			return nil, fmt.Errorf("training: row %d has no label", i)
		}
		switch v {
		case labelPositive:
			y[i] = 1
		case labelNegative:
			y[i] = 0
		default:
			return nil, fmt.Errorf("training: row %d has unknown label %q", i, v)
		}
	}

	features.AddDerived(frame)
	reference := frame.Clone()

	codec := features.FitCodec(frame, labelColumn)

	var featureNames []string
	for _, col := range frame.Columns {
		if col != labelColumn {
			featureNames = append(featureNames, col)
		}
	}

	X := make([][]float64, frame.NumRows())
	for i, row := range frame.Rows {
		vec := make([]float64, len(featureNames))
		for j, col := range featureNames {
			if codec.HasColumn(col) {
				sv, _ := row.String(col)
				code, _, err := codec.Encode(col, sv)
				if err != nil {
					return nil, fmt.Errorf("training: row %d: %w", i, err)
				}
				vec[j] = float64(code)
			} else if fv, ok := row.Float(col); ok {
				vec[j] = fv
			}
		}
		X[i] = vec
	}

	trainIdx, testIdx, err := model.StratifiedSplit(y, s.cfg.TestFraction, s.cfg.Seed)
	if err != nil {
		return nil, fmt.Errorf("training: %w", err)
	}

	forest := model.NewRandomForest(s.cfg.Forest)
	if err := forest.Train(model.Subset(X, trainIdx), model.SubsetLabels(y, trainIdx)); err != nil {
		return nil, fmt.Errorf("training: %w", err)
	}

	testProbs, err := forest.PredictBatch(model.Subset(X, testIdx))
	if err != nil {
		return nil, fmt.Errorf("training: %w", err)
	}
	testLabels := model.SubsetLabels(y, testIdx)

	threshold, metRecall := s.cfg.Threshold.Select(testProbs, testLabels)

	eval := model.Evaluate(testProbs, testLabels, threshold)
	eval.TrainSamples = len(trainIdx)
	eval.TotalSamples = frame.NumRows()

	return &Snapshot{
		Forest:       forest,
		Codec:        codec,
		FeatureNames: featureNames,
		Threshold:    threshold,
		MetRecall:    metRecall,
		Eval:         eval,
		Reference:    reference,
		Matrix:       X,
		TrainedAt:    time.Now().UTC(),
		DatasetInfo:  fmt.Sprintf("German Credit Data (%d Samples)", frame.NumRows()),
	}, nil
}

// Predict runs the inference orchestration against the current snapshot.
// It does not trigger training; callers wanting lazy behavior go through
// Ensure first.
func (s *Service) Predict(record dataset.Record) (*DecisionRecord, error) {
	snap := s.snap.Load()
	if snap == nil {
		return nil, ErrModelNotReady
	}

	raw := record.Clone()
	rec := normalizeAliases(record.Clone(), snap)

	var missing []string
	for _, f := range RequiredFields {
		if _, ok := rec[f]; !ok {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return nil, &ValidationError{Fields: missing}
	}

	derived := features.DeriveRecord(rec)
	vec, err := s.assembleVector(snap, derived)
	if err != nil {
		return nil, err
	}

	prob, err := snap.Forest.PredictProba(vec)
	if err != nil {
		return nil, fmt.Errorf("inference: %w", err)
	}

	score := int(prob * 100)
	decision, level := s.cfg.Bands.Classify(score)
	predictionsTotal.WithLabelValues(string(decision)).Inc()
	if s.onVector != nil {
		s.onVector(snap.FeatureNames, vec)
	}

	return &DecisionRecord{
		ID:              uuid.NewString(),
		RiskScore:       score,
		Decision:        decision,
		RiskLevel:       level,
		RiskProbability: prob,
		Explanation:     explain(snap, vec, derived, raw),
	}, nil
}

// assembleVector encodes the record into the exact trained column order.
// A permuted vector silently corrupts predictions, so the order comes from
// the snapshot, never from the caller.
func (s *Service) assembleVector(snap *Snapshot, rec dataset.Record) ([]float64, error) {
	defaults := features.Defaults()
	vec := make([]float64, len(snap.FeatureNames))
	for i, col := range snap.FeatureNames {
		switch {
		case snap.Codec.HasColumn(col):
			value, ok := rec.String(col)
			if !ok {
				dv, hasDefault := defaults[col].(string)
				if !hasDefault {
					continue // unknown categorical feature with no default: 0
				}
				value = dv
			}
			code, fellBack, err := snap.Codec.Encode(col, value)
			if err != nil {
				return nil, fmt.Errorf("inference: %w", err)
			}
			if fellBack {
				encodingFallbacks.WithLabelValues(col).Inc()
				log.Warn().Str("column", col).Str("value", value).
					Msg("unknown category, substituting lowest-coded class")
			}
			vec[i] = float64(code)
		default:
			if fv, ok := rec.Float(col); ok {
				vec[i] = fv
			} else if dv, ok := defaults[col].(float64); ok {
				vec[i] = dv
			}
			// undocumented numeric feature stays 0
		}
	}
	return vec, nil
}

func normalizeAliases(rec dataset.Record, snap *Snapshot) dataset.Record {
	for alias, canonical := range features.Aliases() {
		v, ok := rec[alias]
		if !ok {
			continue
		}
		if snap.FeatureIndex(canonical) >= 0 {
			if _, exists := rec[canonical]; !exists {
				rec[canonical] = v
			}
			delete(rec, alias)
		}
	}
	return rec
}

// Metrics returns the held-out evaluation of the current snapshot.
func (s *Service) Metrics() (model.Evaluation, string, error) {
	snap := s.snap.Load()
	if snap == nil {
		return model.Evaluation{}, "", ErrModelNotReady
	}
	return snap.Eval, snap.DatasetInfo, nil
}

// FeatureSchema describes the trained features and their known categories.
func (s *Service) FeatureSchema() (*FeatureSchema, error) {
	snap := s.snap.Load()
	if snap == nil {
		return nil, ErrModelNotReady
	}
	schema := &FeatureSchema{
		CategoricalFeatures: make(map[string][]string),
		AllFeatures:         append([]string(nil), snap.FeatureNames...),
	}
	for _, f := range snap.FeatureNames {
		if snap.Codec.HasColumn(f) {
			schema.CategoricalFeatures[f] = snap.Codec.Classes(f)
		} else {
			schema.NumericFeatures = append(schema.NumericFeatures, f)
		}
	}
	return schema, nil
}

// SampleRecord returns one random row of the retained unencoded dataset,
// without the label columns. With includeLabel the true risk outcome is
// annotated for client-side testing.
func (s *Service) SampleRecord(includeLabel bool) (dataset.Record, error) {
	snap := s.snap.Load()
	if snap == nil {
		return nil, ErrModelNotReady
	}
	s.mu.Lock()
	row, err := snap.Reference.Sample(s.sampleRng)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("sample: %w", err)
	}
	label, _ := row.String(labelColumn)
	delete(row, labelColumn)
	if includeLabel && label != "" {
		row["actual_risk"] = label
		if label == labelPositive {
			row["actual_risk_label"] = "Risky"
		} else {
			row["actual_risk_label"] = "Safe"
		}
	}
	return row, nil
}
