package scoring

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"creditguard/pkg/dataset"
	"creditguard/pkg/features"
)

var (
	checkingClasses = []string{"<0", "0<=X<200", ">=200", "no checking"}
	savingsClasses  = []string{"<100", "100<=X<500", "no known savings"}
	housingClasses  = []string{"own", "rent", "free"}
	purposeClasses  = []string{"new car", "education", "radio/tv"}
)

// synthApplicants builds a deterministic applicant table where weak
// checking status and large amounts drive the risky label.
func synthApplicants(n int) *dataset.Frame {
	cols := []string{"checking_status", "duration", "credit_amount", "savings_status", "housing", "purpose", "age", "class"}
	types := map[string]dataset.ColumnType{
		"checking_status": dataset.Categorical,
		"duration":        dataset.Numeric,
		"credit_amount":   dataset.Numeric,
		"savings_status":  dataset.Categorical,
		"housing":         dataset.Categorical,
		"purpose":         dataset.Categorical,
		"age":             dataset.Numeric,
		"class":           dataset.Categorical,
	}
	f := dataset.NewFrame(cols, types)
	rng := rand.New(rand.NewSource(99))
	for i := 0; i < n; i++ {
		checking := checkingClasses[rng.Intn(len(checkingClasses))]
		amount := float64(500 + rng.Intn(11500))
		label := "good"
		if checking == "<0" || amount > 9000 {
			label = "bad"
		}
		f.Rows = append(f.Rows, dataset.Record{
			"checking_status": checking,
			"duration":        float64(6 + rng.Intn(42)),
			"credit_amount":   amount,
			"savings_status":  savingsClasses[rng.Intn(len(savingsClasses))],
			"housing":         housingClasses[rng.Intn(len(housingClasses))],
			"purpose":         purposeClasses[rng.Intn(len(purposeClasses))],
			"age":             float64(20 + rng.Intn(50)),
			"class":           label,
		})
	}
	return f
}

// frameARFF serializes a frame the way the registry serves it, so tests
// exercise the full fetch-parse-train path.
func frameARFF(f *dataset.Frame) string {
	var sb strings.Builder
	sb.WriteString("@relation synthetic-credit\n")
	nominal := map[string][]string{
		"checking_status": checkingClasses,
		"savings_status":  savingsClasses,
		"housing":         housingClasses,
		"purpose":         purposeClasses,
		"class":           {"good", "bad"},
	}
	for _, col := range f.Columns {
		if f.IsNumeric(col) {
			fmt.Fprintf(&sb, "@attribute %s numeric\n", col)
		} else {
			quoted := make([]string, len(nominal[col]))
			for i, v := range nominal[col] {
				quoted[i] = "'" + v + "'"
			}
			fmt.Fprintf(&sb, "@attribute %s {%s}\n", col, strings.Join(quoted, ","))
		}
	}
	sb.WriteString("@data\n")
	for _, row := range f.Rows {
		cells := make([]string, len(f.Columns))
		for i, col := range f.Columns {
			if f.IsNumeric(col) {
				v, _ := row.Float(col)
				cells[i] = fmt.Sprintf("%g", v)
			} else {
				s, _ := row.String(col)
				cells[i] = "'" + s + "'"
			}
		}
		sb.WriteString(strings.Join(cells, ",") + "\n")
	}
	return sb.String()
}

func testServiceConfig(f *dataset.Fetcher) Config {
	cfg := DefaultConfig(f)
	cfg.Forest.NumTrees = 40
	return cfg
}

// newServiceFixture serves the synthetic dataset over a local registry and
// returns an untrained service plus a counter of registry hits.
func newServiceFixture(t *testing.T) (*Service, *atomic.Int32) {
	t.Helper()
	body := frameARFF(synthApplicants(400))
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	fetcher := dataset.NewFetcher(srv.URL,
		dataset.WithHTTPClient(srv.Client()),
		dataset.WithStrategies([]dataset.Strategy{{Label: "fixture", Path: "/credit.arff"}}),
		dataset.WithAttempts(1),
	)
	return New(testServiceConfig(fetcher)), &hits
}

func newTrainedService(t *testing.T) *Service {
	t.Helper()
	svc, _ := newServiceFixture(t)
	if _, err := svc.Train(context.Background()); err != nil {
		t.Fatalf("Train: %v", err)
	}
	return svc
}

func validApplication() dataset.Record {
	return dataset.Record{
		"duration":        float64(24),
		"credit_amount":   float64(5000),
		"age":             float64(35),
		"housing":         "own",
		"checking_status": ">=200",
		"purpose":         "new car",
		"savings_status":  "100<=X<500",
	}
}

func TestTrainPublishesSnapshot(t *testing.T) {
	svc := newTrainedService(t)
	snap, err := svc.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	for _, name := range snap.FeatureNames {
		if name == "class" {
			t.Error("label column leaked into feature names")
		}
	}
	hasDerived := false
	for _, name := range snap.FeatureNames {
		if name == features.ColPaymentPerMonth {
			hasDerived = true
		}
	}
	if !hasDerived {
		t.Error("derived columns missing from feature names")
	}

	if snap.Eval.TotalSamples != 400 {
		t.Errorf("total samples = %d, want 400", snap.Eval.TotalSamples)
	}
	if snap.Eval.TrainSamples+snap.Eval.TestSamples != 400 {
		t.Errorf("train %d + test %d != 400", snap.Eval.TrainSamples, snap.Eval.TestSamples)
	}
	if snap.Threshold < 0.1 || snap.Threshold > 0.6 {
		if snap.Threshold != svc.cfg.Threshold.SafeDefault {
			t.Errorf("threshold %v outside grid and not the safe default", snap.Threshold)
		}
	}
	if len(snap.Matrix) != 400 {
		t.Errorf("baseline matrix rows = %d, want 400", len(snap.Matrix))
	}
	if !strings.Contains(snap.DatasetInfo, "400") {
		t.Errorf("dataset info = %q", snap.DatasetInfo)
	}
}

func TestPredictBeforeTraining(t *testing.T) {
	svc, _ := newServiceFixture(t)
	if _, err := svc.Predict(validApplication()); err != ErrModelNotReady {
		t.Fatalf("Predict error = %v, want ErrModelNotReady", err)
	}
	if _, _, err := svc.Metrics(); err != ErrModelNotReady {
		t.Errorf("Metrics error = %v, want ErrModelNotReady", err)
	}
	if _, err := svc.SampleRecord(false); err != ErrModelNotReady {
		t.Errorf("SampleRecord error = %v, want ErrModelNotReady", err)
	}
}

func TestPredictMissingFields(t *testing.T) {
	svc := newTrainedService(t)
	rec := validApplication()
	delete(rec, "housing")
	delete(rec, "purpose")

	_, err := svc.Predict(rec)
	ve, ok := AsValidationError(err)
	if !ok {
		t.Fatalf("Predict error = %v, want ValidationError", err)
	}
	got := strings.Join(ve.Fields, ",")
	if !strings.Contains(got, "housing") || !strings.Contains(got, "purpose") {
		t.Errorf("missing fields = %v", ve.Fields)
	}
}

func TestPredictHappyPath(t *testing.T) {
	svc := newTrainedService(t)
	result, err := svc.Predict(validApplication())
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}

	if result.ID == "" {
		t.Error("empty decision id")
	}
	if result.RiskProbability < 0 || result.RiskProbability > 1 {
		t.Errorf("probability = %v", result.RiskProbability)
	}
	if result.RiskScore != int(result.RiskProbability*100) {
		t.Errorf("score %d does not match probability %v", result.RiskScore, result.RiskProbability)
	}
	wantDecision, wantLevel := svc.cfg.Bands.Classify(result.RiskScore)
	if result.Decision != wantDecision || result.RiskLevel != wantLevel {
		t.Errorf("decision %s/%s inconsistent with score %d", result.Decision, result.RiskLevel, result.RiskScore)
	}
	if result.Explanation == "" {
		t.Error("empty explanation")
	}
}

func TestPredictRiskOrdering(t *testing.T) {
	svc := newTrainedService(t)

	safe := validApplication()
	risky := validApplication()
	risky["checking_status"] = "<0"
	risky["credit_amount"] = float64(11000)

	safeRes, err := svc.Predict(safe)
	if err != nil {
		t.Fatalf("Predict(safe): %v", err)
	}
	riskyRes, err := svc.Predict(risky)
	if err != nil {
		t.Fatalf("Predict(risky): %v", err)
	}
	if riskyRes.RiskProbability <= safeRes.RiskProbability {
		t.Errorf("risky %v <= safe %v", riskyRes.RiskProbability, safeRes.RiskProbability)
	}
}

func TestPredictAcceptsLegacyAlias(t *testing.T) {
	svc := newTrainedService(t)

	canonical := validApplication()
	legacy := validApplication()
	delete(legacy, "savings_status")
	legacy["saving_status"] = "100<=X<500"

	a, err := svc.Predict(canonical)
	if err != nil {
		t.Fatalf("Predict(canonical): %v", err)
	}
	b, err := svc.Predict(legacy)
	if err != nil {
		t.Fatalf("Predict(legacy): %v", err)
	}
	if a.RiskProbability != b.RiskProbability {
		t.Errorf("alias changed the probability: %v vs %v", a.RiskProbability, b.RiskProbability)
	}
}

func TestPredictUnknownCategoryDeterministic(t *testing.T) {
	svc := newTrainedService(t)

	rec := validApplication()
	rec["purpose"] = "submarine"

	first, err := svc.Predict(rec)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	for i := 0; i < 3; i++ {
		again, err := svc.Predict(rec)
		if err != nil {
			t.Fatalf("Predict: %v", err)
		}
		if again.RiskProbability != first.RiskProbability || again.RiskScore != first.RiskScore {
			t.Fatal("unknown-category prediction not deterministic")
		}
	}
}

func TestPredictFillsDefaults(t *testing.T) {
	svc := newTrainedService(t)
	// only the required fields; everything else comes from the defaults
	if _, err := svc.Predict(validApplication()); err != nil {
		t.Fatalf("Predict with minimal record: %v", err)
	}
}

func TestAssembleVectorOrder(t *testing.T) {
	svc := newTrainedService(t)
	snap, _ := svc.Snapshot()

	rec := features.DeriveRecord(validApplication())
	vec, err := svc.assembleVector(snap, rec)
	if err != nil {
		t.Fatalf("assembleVector: %v", err)
	}
	if len(vec) != len(snap.FeatureNames) {
		t.Fatalf("vector length %d != %d features", len(vec), len(snap.FeatureNames))
	}

	di := snap.FeatureIndex("duration")
	if di < 0 || vec[di] != 24 {
		t.Errorf("duration at %d = %v, want 24", di, vec[di])
	}
	hi := snap.FeatureIndex("housing")
	wantCode, _, err := snap.Codec.Encode("housing", "own")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if hi < 0 || vec[hi] != float64(wantCode) {
		t.Errorf("housing at %d = %v, want code %d", hi, vec[hi], wantCode)
	}
}

func TestRetrainReproducible(t *testing.T) {
	svc, _ := newServiceFixture(t)
	ctx := context.Background()

	first, err := svc.Train(ctx)
	if err != nil {
		t.Fatalf("Train: %v", err)
	}
	second, err := svc.Retrain(ctx)
	if err != nil {
		t.Fatalf("Retrain: %v", err)
	}

	if first.Eval != second.Eval {
		t.Errorf("retrain changed the evaluation:\n%+v\n%+v", first.Eval, second.Eval)
	}
	if first.Threshold != second.Threshold {
		t.Errorf("retrain changed the threshold: %v vs %v", first.Threshold, second.Threshold)
	}
}

func TestEnsureTrainsOnce(t *testing.T) {
	svc, hits := newServiceFixture(t)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.Ensure(context.Background())
		}()
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			t.Fatalf("Ensure: %v", err)
		}
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("registry hits = %d, want 1", got)
	}

	// later callers reuse the snapshot
	if _, err := svc.Ensure(context.Background()); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("registry hits after reuse = %d, want 1", got)
	}
}

func TestMetricsPayload(t *testing.T) {
	svc := newTrainedService(t)
	eval, info, err := svc.Metrics()
	if err != nil {
		t.Fatalf("Metrics: %v", err)
	}
	if eval.TotalSamples != 400 {
		t.Errorf("total samples = %d", eval.TotalSamples)
	}
	if info != "German Credit Data (400 Samples)" {
		t.Errorf("dataset info = %q", info)
	}
}

func TestFeatureSchema(t *testing.T) {
	svc := newTrainedService(t)
	schema, err := svc.FeatureSchema()
	if err != nil {
		t.Fatalf("FeatureSchema: %v", err)
	}

	cats, ok := schema.CategoricalFeatures["housing"]
	if !ok {
		t.Fatal("housing missing from categorical features")
	}
	if len(cats) != len(housingClasses) {
		t.Errorf("housing classes = %v", cats)
	}
	numeric := strings.Join(schema.NumericFeatures, ",")
	for _, f := range []string{"duration", "credit_amount", "age"} {
		if !strings.Contains(numeric, f) {
			t.Errorf("numeric features %v missing %s", schema.NumericFeatures, f)
		}
	}
	if len(schema.AllFeatures) != len(schema.NumericFeatures)+len(schema.CategoricalFeatures) {
		t.Errorf("feature partition does not cover all features")
	}
}

func TestSampleRecord(t *testing.T) {
	svc := newTrainedService(t)

	plain, err := svc.SampleRecord(false)
	if err != nil {
		t.Fatalf("SampleRecord: %v", err)
	}
	if _, ok := plain["class"]; ok {
		t.Error("label leaked into sample")
	}
	if _, ok := plain["actual_risk"]; ok {
		t.Error("actual_risk present without include flag")
	}

	labeled, err := svc.SampleRecord(true)
	if err != nil {
		t.Fatalf("SampleRecord: %v", err)
	}
	risk, ok := labeled.String("actual_risk")
	if !ok {
		t.Fatal("actual_risk missing")
	}
	lab, _ := labeled.String("actual_risk_label")
	switch risk {
	case "bad":
		if lab != "Risky" {
			t.Errorf("label for bad = %q", lab)
		}
	case "good":
		if lab != "Safe" {
			t.Errorf("label for good = %q", lab)
		}
	default:
		t.Errorf("actual_risk = %q", risk)
	}
}

func TestTrainRejectsUnlabeledFrame(t *testing.T) {
	svc, _ := newServiceFixture(t)
	f := synthApplicants(10)
	for _, row := range f.Rows {
		row["class"] = "maybe"
	}
	if _, err := svc.trainOnFrame(f); err == nil {
		t.Error("unknown label value accepted")
	}
}
