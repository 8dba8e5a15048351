package dataset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrUnavailable wraps the last underlying cause when every retrieval
// strategy for the reference dataset has failed.
var ErrUnavailable = errors.New("reference dataset unavailable")

// Strategy identifies one way of locating the reference dataset on the
// registry. The fetcher walks the strategies in order and returns the first
// frame that parses.
type Strategy struct {
	Label string
	Path  string
}

// DefaultStrategies mirrors the retrieval order the service has always used
// for the German Credit dataset: data id 31 first, the dataset name second,
// and the alternate upload 42402 last.
func DefaultStrategies() []Strategy {
	return []Strategy{
		{Label: "data_id=31", Path: "/data/v1/download/31/credit-g.arff"},
		{Label: "name=credit-g", Path: "/data/v1/download/name/credit-g.arff"},
		{Label: "data_id=42402", Path: "/data/v1/download/42402/credit-g.arff"},
	}
}

// Fetcher retrieves the reference dataset from an OpenML-compatible
// registry.
type Fetcher struct {
	baseURL    string
	client     *http.Client
	strategies []Strategy
	attempts   int
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithHTTPClient overrides the HTTP client (tests point it at a local
// fixture server).
func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *Fetcher) { f.client = c }
}

// WithStrategies overrides the retrieval strategies.
func WithStrategies(s []Strategy) FetcherOption {
	return func(f *Fetcher) { f.strategies = s }
}

// WithAttempts sets how many times each strategy is tried before moving on.
func WithAttempts(n int) FetcherOption {
	return func(f *Fetcher) {
		if n > 0 {
			f.attempts = n
		}
	}
}

// NewFetcher creates a Fetcher against the given registry base URL
// (typically https://api.openml.org).
func NewFetcher(baseURL string, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		baseURL:    baseURL,
		client:     &http.Client{Timeout: 30 * time.Second},
		strategies: DefaultStrategies(),
		attempts:   2,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch downloads and parses the reference dataset, falling through the
// configured strategies. The returned error wraps ErrUnavailable and the
// last underlying cause.
func (f *Fetcher) Fetch(ctx context.Context) (*Frame, error) {
	var lastErr error
	for _, s := range f.strategies {
		for attempt := 1; attempt <= f.attempts; attempt++ {
			frame, err := f.fetchOne(ctx, s)
			if err == nil {
				log.Info().Str("strategy", s.Label).Int("rows", frame.NumRows()).
					Msg("reference dataset loaded")
				return frame, nil
			}
			lastErr = err
			log.Warn().Str("strategy", s.Label).Int("attempt", attempt).Err(err).
				Msg("dataset fetch failed")
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %w", ErrUnavailable, ctx.Err())
			}
			if attempt < f.attempts {
				select {
				case <-ctx.Done():
					return nil, fmt.Errorf("%w: %w", ErrUnavailable, ctx.Err())
				case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
				}
			}
		}
	}
	return nil, fmt.Errorf("%w: all strategies exhausted: %w", ErrUnavailable, lastErr)
}

func (f *Fetcher) fetchOne(ctx context.Context, s Strategy) (*Frame, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+s.Path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/plain")
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("registry returned %s for %s", resp.Status, s.Path)
	}
	frame, err := ParseARFF(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("strategy %s: %w", s.Label, err)
	}
	return frame, nil
}
