package collect

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/leadtool/internal/model"
	"github.com/sells-group/leadtool/internal/resilience"
)

// AdaptiveLimiter wraps a rate.Limiter that speeds up on success and backs
// off on 429. The rate stays within [initial/4, initial*2].
type AdaptiveLimiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	current rate.Limit
	min     rate.Limit
	max     rate.Limit
}

// NewAdaptiveLimiter returns a limiter starting at perSec requests per second.
func NewAdaptiveLimiter(perSec float64, burst int) *AdaptiveLimiter {
	if perSec <= 0 {
		perSec = 5
	}
	if burst <= 0 {
		burst = 1
	}
	initial := rate.Limit(perSec)
	return &AdaptiveLimiter{
		limiter: rate.NewLimiter(initial, burst),
		current: initial,
		min:     initial / 4,
		max:     initial * 2,
	}
}

// Wait blocks until a request may be sent.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// OnSuccess raises the rate by 20%.
func (a *AdaptiveLimiter) OnSuccess() { a.set(a.Limit() * 1.2) }

// OnRateLimit halves the rate.
func (a *AdaptiveLimiter) OnRateLimit() {
	a.set(a.Limit() * 0.5)
	zap.L().Warn("collect: rate limited, slowing down", zap.Float64("rate", float64(a.Limit())))
}

// Limit returns the current rate.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

func (a *AdaptiveLimiter) set(r rate.Limit) {
	a.mu.Lock()
	defer a.mu.Unlock()
	r = max(a.min, min(r, a.max))
	a.current = r
	a.limiter.SetLimit(r)
}

// HTTPSource pulls a lead export from an HTTP endpoint. The body is a JSON
// array, JSONL or CSV depending on Format (or the URL extension).
type HTTPSource struct {
	URL       string
	Format    string
	Headers   map[string]string
	UserAgent string
	CSV       CSVOptions
	Meta      Meta

	Client  *http.Client
	Limiter *AdaptiveLimiter
	Breaker *resilience.CircuitBreaker
	Retry   resilience.RetryConfig
}

// NewHTTPSource returns an HTTPSource with a 30s client, a 5 req/s limiter
// and a breaker that opens after 5 consecutive transient failures.
func NewHTTPSource(rawURL string, meta Meta) *HTTPSource {
	return &HTTPSource{
		URL:       rawURL,
		UserAgent: "leadtool/1.0",
		Meta:      meta,
		Client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		Limiter: NewAdaptiveLimiter(5, 5),
		Breaker: resilience.NewCircuitBreaker(5, 30*time.Second, func(from, to resilience.CircuitState) {
			zap.L().Warn("collect: http circuit changed",
				zap.String("url", rawURL),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		}),
		Retry: resilience.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: time.Second,
			MaxBackoff:     30 * time.Second,
			OnRetry:        resilience.RetryLogger("collect", "http get"),
		},
	}
}

func (s *HTTPSource) Stream(ctx context.Context, out chan<- model.Observation) error {
	format, err := formatFor(s.Format, s.URL)
	if err != nil {
		return err
	}
	body, err := s.open(ctx)
	if err != nil {
		return err
	}
	defer body.Close() //nolint:errcheck

	meta := s.Meta
	if meta.SourceURL == "" {
		meta.SourceURL = s.URL
	}
	return decodeStream(ctx, body, format, s.CSV, meta, out)
}

// open GETs the URL, retrying transient failures through the breaker.
func (s *HTTPSource) open(ctx context.Context) (io.ReadCloser, error) {
	var body io.ReadCloser
	err := resilience.Do(ctx, s.Retry, func(ctx context.Context) error {
		get := func(ctx context.Context) error {
			b, err := s.get(ctx)
			if err != nil {
				return err
			}
			body = b
			return nil
		}
		if s.Breaker == nil {
			return get(ctx)
		}
		return s.Breaker.Execute(ctx, get)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "http: get %s", s.URL)
	}
	return body, nil
}

func (s *HTTPSource) get(ctx context.Context) (io.ReadCloser, error) {
	if s.Limiter != nil {
		if err := s.Limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "rate limiter wait")
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "create request")
	}
	if s.UserAgent != "" {
		req.Header.Set("User-Agent", s.UserAgent)
	}
	for k, v := range s.Headers {
		req.Header.Set(k, v)
	}

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, resilience.NewTransientError(eris.Wrap(err, "request failed"), 0)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		if s.Limiter != nil {
			s.Limiter.OnSuccess()
		}
		return resp.Body, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		_ = resp.Body.Close()
		if s.Limiter != nil {
			s.Limiter.OnRateLimit()
		}
		return nil, resilience.NewTransientError(eris.New("http 429"), resp.StatusCode)
	case resilience.IsTransientHTTPStatus(resp.StatusCode):
		_ = resp.Body.Close()
		return nil, resilience.NewTransientError(eris.Errorf("http %d", resp.StatusCode), resp.StatusCode)
	default:
		_ = resp.Body.Close()
		return nil, eris.Errorf("unexpected status %d", resp.StatusCode)
	}
}
