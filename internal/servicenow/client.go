// Package servicenow provides the first-record fetcher for the ServiceNow Table API.
//
// # Fetch Contract
//
// A [Fetcher] sends exactly one GET per call:
//
//	GET {BaseURL}{TableAPIPath}/{table}?sysparm_limit=1
//
// and classifies what comes back. The checks run in a fixed order and the
// first match wins:
//
//	┌───┬──────────────────────────────────────┬──────────────────────────┐
//	│ # │ Condition                            │ Outcome                  │
//	├───┼──────────────────────────────────────┼──────────────────────────┤
//	│ 1 │ transport error (no response)        │ TransportError           │
//	│ 2 │ status outside 200–299               │ StatusError              │
//	│ 3 │ body contains the hibernation marker │ Hibernating              │
//	│ 4 │ anything else                        │ Success                  │
//	└───┴──────────────────────────────────────┴──────────────────────────┘
//
// There is no retry, backoff, pagination or caching. A failed call is
// reported as observed; calling again issues a fresh request.
//
// # Thread Safety
//
// A Fetcher holds only read-only configuration and is safe for concurrent use.
package servicenow

import (
	"context"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/RaikaSurendra/servicenow-change-adapter/internal/config"
	"github.com/RaikaSurendra/servicenow-change-adapter/internal/observability"
)

// Fetcher retrieves the first record of a ServiceNow table.
type Fetcher struct {
	cfg       config.ServiceNowConfig
	transport Transport
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// FetcherOption is a functional option for configuring a Fetcher.
type FetcherOption func(*Fetcher)

// WithTransport replaces the default resty transport.
func WithTransport(t Transport) FetcherOption {
	return func(f *Fetcher) {
		f.transport = t
	}
}

// WithRateLimiter sets a client-side rate limiter shared by all calls made
// through the Fetcher. It only spaces calls out; it never retries.
func WithRateLimiter(rps float64) FetcherOption {
	return func(f *Fetcher) {
		if rps > 0 {
			f.limiter = rate.NewLimiter(rate.Limit(rps), int(math.Max(1, rps)))
		}
	}
}

// NewFetcher creates a Fetcher for the configured instance.
func NewFetcher(cfg config.ServiceNowConfig, logger *slog.Logger, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		cfg:    cfg,
		logger: logger.With("component", "sn-fetcher"),
	}

	for _, opt := range opts {
		opt(f)
	}

	if f.transport == nil {
		f.transport = NewRestyTransport(time.Duration(cfg.TimeoutSeconds)*time.Second, logger)
	}

	return f
}

// FetchFirstRecord requests the first record of table and returns the
// classified outcome. It blocks until the transport completes.
func (f *Fetcher) FetchFirstRecord(ctx context.Context, table string) Outcome {
	start := time.Now()
	spec := NewRequestSpec(f.cfg, table)

	outcome := f.fetch(ctx, spec)

	observability.Metrics.FetchTotal.WithLabelValues(table, outcome.Kind().String()).Inc()
	observability.Metrics.FetchDuration.WithLabelValues(table).Observe(time.Since(start).Seconds())
	return outcome
}

// FetchFirstRecordAsync runs FetchFirstRecord in its own goroutine. The
// returned channel yields exactly one Outcome and is then closed.
func (f *Fetcher) FetchFirstRecordAsync(ctx context.Context, table string) <-chan Outcome {
	ch := make(chan Outcome, 1)
	go func() {
		defer close(ch)
		ch <- f.FetchFirstRecord(ctx, table)
	}()
	return ch
}

func (f *Fetcher) fetch(ctx context.Context, spec RequestSpec) Outcome {
	endpoint := spec.Endpoint()

	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			observability.Metrics.SNAPIErrorsTotal.WithLabelValues(spec.Method, "rate_limited").Inc()
			f.logger.Error("rate limiter wait failed", "endpoint", endpoint, "error", err)
			return TransportErrorOutcome(err)
		}
	}

	f.logger.Debug("fetching first record", "url", spec.URL())

	requestStart := time.Now()
	resp, err := f.transport.Do(ctx, spec)
	observability.Metrics.SNAPIRequestsTotal.WithLabelValues(spec.Method, endpoint).Inc()
	observability.Metrics.SNAPILatency.WithLabelValues(spec.Method, endpoint).Observe(time.Since(requestStart).Seconds())

	return f.classify(spec, resp, err)
}

// classify turns a transport result into an Outcome. The order of the checks
// is part of the contract: transport, then status, then body.
func (f *Fetcher) classify(spec RequestSpec, resp *Response, err error) Outcome {
	endpoint := spec.Endpoint()

	switch {
	case err != nil:
		observability.Metrics.SNAPIErrorsTotal.WithLabelValues(spec.Method, "network").Inc()
		f.logger.Error("request failed", "endpoint", endpoint, "error", err)
		return TransportErrorOutcome(err)

	case resp == nil:
		observability.Metrics.SNAPIErrorsTotal.WithLabelValues(spec.Method, "network").Inc()
		f.logger.Error("transport returned no response", "endpoint", endpoint)
		return TransportErrorOutcome(errNoResponse)

	case !validStatus(resp.StatusCode):
		observability.Metrics.SNAPIErrorsTotal.WithLabelValues(spec.Method, strconv.Itoa(resp.StatusCode)).Inc()
		f.logger.Error("bad response code",
			"endpoint", endpoint,
			"status", resp.StatusCode,
			"body", truncateBody(resp.Body),
		)
		return StatusErrorOutcome(resp)

	case isHibernating(resp.Body):
		observability.Metrics.SNAPIErrorsTotal.WithLabelValues(spec.Method, "hibernating").Inc()
		f.logger.Error(HibernatingMessage, "endpoint", endpoint, "status", resp.StatusCode)
		return HibernatingOutcome()

	default:
		return SuccessOutcome(resp)
	}
}

// validStatus accepts the 2xx range.
func validStatus(code int) bool {
	return code >= 200 && code < 300
}

func isHibernating(body []byte) bool {
	return strings.Contains(string(body), hibernatingMarker)
}
