package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"creditguard/pkg/dataset"
	"creditguard/pkg/drift"
	"creditguard/pkg/metrics"
	"creditguard/pkg/scoring"
)

const maxRequestBody = 64 * 1024

// numericBounds are the accepted ranges for numeric applicant fields.
// Fields outside their range are rejected before scoring.
var numericBounds = map[string][2]float64{
	"duration":               {1, 120},
	"age":                    {18, 100},
	"installment_commitment": {1, 4},
	"residence_since":        {1, 4},
	"existing_credits":       {1, 4},
	"num_dependents":         {1, 2},
}

type apiServer struct {
	svc            *scoring.Service
	monitor        *drift.Monitor
	retrainLimiter *rate.Limiter
	allowedOrigins map[string]bool
	version        string

	mu       sync.Mutex
	baseline *scoring.Snapshot
}

func newAPIServer(svc *scoring.Service, monitor *drift.Monitor, origins []string, version string) *apiServer {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o = strings.TrimSpace(o); o != "" {
			allowed[o] = true
		}
	}
	return &apiServer{
		svc:            svc,
		monitor:        monitor,
		retrainLimiter: rate.NewLimiter(rate.Every(30*time.Second), 2),
		allowedOrigins: allowed,
		version:        version,
	}
}

func (a *apiServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/", metrics.Instrument("root", http.HandlerFunc(a.handleRoot)))
	mux.Handle("/health", metrics.Instrument("health", http.HandlerFunc(a.handleHealth)))
	mux.Handle("/predict", metrics.Instrument("predict", http.HandlerFunc(a.handlePredict)))
	mux.Handle("/model-performance", metrics.Instrument("model_performance", http.HandlerFunc(a.handleModelPerformance)))
	mux.Handle("/model-features", metrics.Instrument("model_features", http.HandlerFunc(a.handleModelFeatures)))
	mux.Handle("/sample-data", metrics.Instrument("sample_data", http.HandlerFunc(a.handleSampleData)))
	mux.Handle("/retrain-model", metrics.Instrument("retrain_model", http.HandlerFunc(a.handleRetrain)))
	mux.Handle("/metrics", metrics.Handler())
	return a.corsMiddleware(mux)
}

func (a *apiServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && a.allowedOrigins[origin] {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Vary", "Origin")
			if r.Method == http.MethodOptions {
				h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type")
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (a *apiServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "CreditGuard API",
		"status":  "running",
		"version": a.version,
	})
}

func (a *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "healthy",
		"model_trained": a.svc.Ready(),
	})
}

func (a *apiServer) handlePredict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	record, err := decodeApplication(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if fields := outOfRangeFields(record); len(fields) > 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("out of range: %s", strings.Join(fields, ", ")))
		return
	}
	if !a.ensureTrained(w, r) {
		return
	}
	result, err := a.svc.Predict(record)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *apiServer) handleModelPerformance(w http.ResponseWriter, r *http.Request) {
	if !a.ensureTrained(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, a.performancePayload())
}

func (a *apiServer) handleModelFeatures(w http.ResponseWriter, r *http.Request) {
	schema, err := a.svc.FeatureSchema()
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, schema)
}

func (a *apiServer) handleSampleData(w http.ResponseWriter, r *http.Request) {
	includeTarget := true
	if v := r.URL.Query().Get("include_target"); v != "" {
		includeTarget = v == "true" || v == "1"
	}
	if !a.ensureTrained(w, r) {
		return
	}
	sample, err := a.svc.SampleRecord(includeTarget)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sample)
}

func (a *apiServer) handleRetrain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !a.retrainLimiter.Allow() {
		writeError(w, http.StatusTooManyRequests, "retrain rate limit exceeded")
		return
	}
	snap, err := a.svc.Retrain(r.Context())
	if err != nil {
		if errors.Is(err, dataset.ErrUnavailable) {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	a.refreshBaseline(r, snap)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "model retrained",
		"metrics": a.performancePayload(),
	})
}

// ensureTrained lazily trains the model on first use. It writes the error
// response itself and reports whether the caller may proceed.
func (a *apiServer) ensureTrained(w http.ResponseWriter, r *http.Request) bool {
	snap, err := a.svc.Ensure(r.Context())
	if err != nil {
		if errors.Is(err, dataset.ErrUnavailable) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return false
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return false
	}
	a.refreshBaseline(r, snap)
	return true
}

// refreshBaseline rebuilds the drift baseline when a new snapshot appears.
func (a *apiServer) refreshBaseline(r *http.Request, snap *scoring.Snapshot) {
	if a.monitor == nil || snap == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.baseline == snap {
		return
	}
	if err := a.monitor.SetBaseline(r.Context(), snap.FeatureNames, snap.Matrix); err == nil {
		a.baseline = snap
	}
}

func (a *apiServer) performancePayload() map[string]any {
	eval, datasetInfo, err := a.svc.Metrics()
	if err != nil {
		return map[string]any{}
	}
	return map[string]any{
		"metrics": map[string]any{
			"accuracy":  eval.Accuracy,
			"precision": eval.Precision,
			"recall":    eval.Recall,
			"f1":        eval.F1,
		},
		"confusion_matrix": eval.Confusion,
		"dataset_info":     datasetInfo,
	}
}

// decodeApplication parses the request body into a record, dropping nulls
// and rejecting values that are neither numbers nor strings.
func decodeApplication(w http.ResponseWriter, r *http.Request) (dataset.Record, error) {
	defer r.Body.Close()
	var raw map[string]any
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("invalid request body: %w", err)
	}
	record := make(dataset.Record, len(raw))
	for k, v := range raw {
		switch tv := v.(type) {
		case nil:
			// optional field left empty
		case float64:
			record[k] = tv
		case string:
			record[k] = tv
		case bool:
			return nil, fmt.Errorf("field %q: expected number or string", k)
		default:
			return nil, fmt.Errorf("field %q: expected number or string", k)
		}
	}
	return record, nil
}

func outOfRangeFields(record dataset.Record) []string {
	var bad []string
	for field, bounds := range numericBounds {
		v, ok := record.Float(field)
		if !ok {
			continue
		}
		if v < bounds[0] || v > bounds[1] {
			bad = append(bad, field)
		}
	}
	if v, ok := record.Float("credit_amount"); ok && v < 0 {
		bad = append(bad, "credit_amount")
	}
	sort.Strings(bad)
	return bad
}

func writeServiceError(w http.ResponseWriter, err error) {
	if errors.Is(err, scoring.ErrModelNotReady) {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if ve, ok := scoring.AsValidationError(err); ok {
		writeError(w, http.StatusBadRequest, ve.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
