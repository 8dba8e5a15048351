// Package drift watches the distribution of applicant features seen at
// inference time against the distribution the model was trained on.
package drift

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	numBins        = 10
	minWindowCount = 100
	psiAlertBound  = 0.1
	statsTTL       = 7 * 24 * time.Hour
	alertTTL       = 30 * 24 * time.Hour
)

var (
	alertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "creditguard", Subsystem: "drift", Name: "alerts_total", Help: "Drift alerts raised, by severity and feature."},
		[]string{"severity", "feature"},
	)
	scoreGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: "creditguard", Subsystem: "drift", Name: "score", Help: "Latest drift score per feature."},
		[]string{"feature"},
	)
)

func init() {
	prometheus.MustRegister(alertsTotal, scoreGauge)
}

// Severity buckets a drift score for alert routing.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Baseline holds the per-feature training distribution the live window is
// compared against. Bins are fixed at baseline time so both histograms
// share edges.
type Baseline struct {
	Feature   string    `json:"feature"`
	Mean      float64   `json:"mean"`
	Min       float64   `json:"min"`
	Max       float64   `json:"max"`
	Count     int       `json:"count"`
	Histogram []int     `json:"histogram"`
	Edges     []float64 `json:"edges"`
	BuiltAt   time.Time `json:"built_at"`
}

// window accumulates live values binned against the baseline edges.
type window struct {
	count     int
	mean      float64
	histogram []int
}

// Alert records one detected distribution shift.
type Alert struct {
	ID           string    `json:"id"`
	Feature      string    `json:"feature"`
	Severity     Severity  `json:"severity"`
	Score        float64   `json:"score"`
	KS           float64   `json:"ks"`
	PSI          float64   `json:"psi"`
	BaselineMean float64   `json:"baseline_mean"`
	WindowMean   float64   `json:"window_mean"`
	WindowCount  int       `json:"window_count"`
	DetectedAt   time.Time `json:"detected_at"`
}

// Monitor compares a rolling window of observed feature vectors against a
// training baseline using a binned KS statistic and the population
// stability index. A nil redis client disables persistence.
type Monitor struct {
	rdb        *redis.Client
	threshold  float64
	windowSize int

	mu        sync.Mutex
	baselines map[string]*Baseline
	windows   map[string]*window
	onAlert   func(Alert)
}

// NewMonitor builds a monitor with the given KS alert threshold and window
// size. Zero values take the defaults (0.05, 1000).
func NewMonitor(rdb *redis.Client, threshold float64, windowSize int) *Monitor {
	if threshold <= 0 {
		threshold = 0.05
	}
	if windowSize <= 0 {
		windowSize = 1000
	}
	return &Monitor{
		rdb:        rdb,
		threshold:  threshold,
		windowSize: windowSize,
		baselines:  make(map[string]*Baseline),
		windows:    make(map[string]*window),
	}
}

// OnAlert registers a callback invoked on its own goroutine per alert.
func (m *Monitor) OnAlert(fn func(Alert)) {
	m.mu.Lock()
	m.onAlert = fn
	m.mu.Unlock()
}

// SetBaseline rebuilds all baselines from the training matrix. Columns of
// names and X must align.
func (m *Monitor) SetBaseline(ctx context.Context, names []string, X [][]float64) error {
	if len(X) == 0 {
		return fmt.Errorf("drift: empty training matrix")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.baselines = make(map[string]*Baseline, len(names))
	m.windows = make(map[string]*window, len(names))
	for j, name := range names {
		col := make([]float64, len(X))
		for i := range X {
			if j >= len(X[i]) {
				return fmt.Errorf("drift: row %d is narrower than feature list", i)
			}
			col[i] = X[i][j]
		}
		b := buildBaseline(name, col)
		m.baselines[name] = b
		if m.rdb != nil {
			if err := m.persistBaseline(ctx, b); err != nil {
				log.Warn().Err(err).Str("feature", name).Msg("baseline persistence failed")
			}
		}
	}
	return nil
}

// Observe records one feature vector from a served prediction. When a
// feature's window fills, it is checked against the baseline and reset.
func (m *Monitor) Observe(ctx context.Context, names []string, vec []float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for j, name := range names {
		if j >= len(vec) {
			return
		}
		b, ok := m.baselines[name]
		if !ok {
			continue
		}
		w, ok := m.windows[name]
		if !ok {
			w = &window{histogram: make([]int, numBins)}
			m.windows[name] = w
		}
		v := vec[j]
		w.count++
		w.mean += (v - w.mean) / float64(w.count)
		w.histogram[b.bin(v)]++
		if w.count >= m.windowSize {
			m.check(ctx, b, w)
			m.windows[name] = &window{histogram: make([]int, numBins)}
		}
	}
}

// check runs under m.mu.
func (m *Monitor) check(ctx context.Context, b *Baseline, w *window) {
	if w.count < minWindowCount {
		return
	}
	ks := ksStatistic(b.Histogram, b.Count, w.histogram, w.count)
	psi := psiScore(b.Histogram, b.Count, w.histogram, w.count)
	score := math.Max(ks, psi)
	scoreGauge.WithLabelValues(b.Feature).Set(score)

	if ks <= m.threshold && psi <= psiAlertBound {
		return
	}

	alert := Alert{
		ID:           uuid.NewString(),
		Feature:      b.Feature,
		Severity:     severityFor(score),
		Score:        score,
		KS:           ks,
		PSI:          psi,
		BaselineMean: b.Mean,
		WindowMean:   w.mean,
		WindowCount:  w.count,
		DetectedAt:   time.Now().UTC(),
	}
	alertsTotal.WithLabelValues(string(alert.Severity), b.Feature).Inc()
	log.Warn().
		Str("feature", b.Feature).
		Str("severity", string(alert.Severity)).
		Float64("ks", ks).
		Float64("psi", psi).
		Msg("feature drift detected")

	if m.rdb != nil {
		if err := m.storeAlert(ctx, &alert); err != nil {
			log.Warn().Err(err).Msg("drift alert persistence failed")
		}
	}
	if m.onAlert != nil {
		go m.onAlert(alert)
	}
}

// Alerts returns persisted alerts detected after since. Without redis it
// returns nil.
func (m *Monitor) Alerts(ctx context.Context, since time.Time) ([]Alert, error) {
	if m.rdb == nil {
		return nil, nil
	}
	keys, err := m.rdb.Keys(ctx, "creditguard:drift:alert:*").Result()
	if err != nil {
		return nil, fmt.Errorf("drift: list alerts: %w", err)
	}
	var alerts []Alert
	for _, key := range keys {
		data, err := m.rdb.Get(ctx, key).Bytes()
		if err != nil {
			continue
		}
		var a Alert
		if err := json.Unmarshal(data, &a); err != nil {
			continue
		}
		if a.DetectedAt.After(since) {
			alerts = append(alerts, a)
		}
	}
	return alerts, nil
}

func (b *Baseline) bin(v float64) int {
	if b.Max <= b.Min {
		return 0
	}
	i := int((v - b.Min) / (b.Max - b.Min) * numBins)
	if i < 0 {
		return 0
	}
	if i >= numBins {
		return numBins - 1
	}
	return i
}

func buildBaseline(name string, values []float64) *Baseline {
	b := &Baseline{
		Feature:   name,
		Min:       values[0],
		Max:       values[0],
		Count:     len(values),
		Histogram: make([]int, numBins),
		Edges:     make([]float64, numBins+1),
		BuiltAt:   time.Now().UTC(),
	}
	sum := 0.0
	for _, v := range values {
		sum += v
		if v < b.Min {
			b.Min = v
		}
		if v > b.Max {
			b.Max = v
		}
	}
	b.Mean = sum / float64(len(values))
	width := (b.Max - b.Min) / numBins
	for i := 0; i <= numBins; i++ {
		b.Edges[i] = b.Min + float64(i)*width
	}
	for _, v := range values {
		b.Histogram[b.bin(v)]++
	}
	return b
}

func ksStatistic(base []int, baseN int, cur []int, curN int) float64 {
	maxDiff, cdfBase, cdfCur := 0.0, 0.0, 0.0
	for i := 0; i < numBins; i++ {
		cdfBase += float64(base[i]) / float64(baseN)
		cdfCur += float64(cur[i]) / float64(curN)
		if d := math.Abs(cdfBase - cdfCur); d > maxDiff {
			maxDiff = d
		}
	}
	return maxDiff
}

func psiScore(base []int, baseN int, cur []int, curN int) float64 {
	const floor = 1e-4
	psi := 0.0
	for i := 0; i < numBins; i++ {
		p := math.Max(float64(base[i])/float64(baseN), floor)
		q := math.Max(float64(cur[i])/float64(curN), floor)
		psi += (q - p) * math.Log(q/p)
	}
	return psi
}

func severityFor(score float64) Severity {
	switch {
	case score > 0.25:
		return SeverityCritical
	case score > 0.15:
		return SeverityHigh
	case score > 0.10:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

func (m *Monitor) persistBaseline(ctx context.Context, b *Baseline) error {
	data, err := json.Marshal(b)
	if err != nil {
		return err
	}
	key := fmt.Sprintf("creditguard:drift:baseline:%s", b.Feature)
	return m.rdb.Set(ctx, key, data, statsTTL).Err()
}

func (m *Monitor) storeAlert(ctx context.Context, a *Alert) error {
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	key := fmt.Sprintf("creditguard:drift:alert:%s", a.ID)
	return m.rdb.Set(ctx, key, data, alertTTL).Err()
}
