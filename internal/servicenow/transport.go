package servicenow

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// Transport sends one prepared request and returns the raw response. A
// non-nil error means no usable response arrived. Implementations must not
// retry and must be safe for concurrent use.
type Transport interface {
	Do(ctx context.Context, spec RequestSpec) (*Response, error)
}

// RestyTransport is the default Transport, backed by a resty client with
// retries disabled.
type RestyTransport struct {
	client *resty.Client
}

// NewRestyTransport creates a RestyTransport with the given overall request
// timeout. A zero timeout leaves the request bounded only by its context.
func NewRestyTransport(timeout time.Duration, logger *slog.Logger) *RestyTransport {
	return newRestyTransport(resty.New(), timeout, logger)
}

// NewRestyTransportWithClient wraps an existing *http.Client, e.g. one with a
// custom TLS configuration or round tripper.
func NewRestyTransportWithClient(hc *http.Client, logger *slog.Logger) *RestyTransport {
	return newRestyTransport(resty.NewWithClient(hc), 0, logger)
}

func newRestyTransport(c *resty.Client, timeout time.Duration, logger *slog.Logger) *RestyTransport {
	if timeout > 0 {
		c.SetTimeout(timeout)
	}
	c.SetRetryCount(0)
	c.SetLogger(&restyLogger{logger: logger.With("component", "sn-transport")})
	return &RestyTransport{client: c}
}

// Do executes spec with a Basic Authorization header. Transport failures are
// returned as resty reports them, without wrapping.
func (t *RestyTransport) Do(ctx context.Context, spec RequestSpec) (*Response, error) {
	auth := NewBasicAuthenticator(spec.Username, spec.Password)

	resp, err := t.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetHeader("Authorization", auth.Header()).
		Execute(spec.Method, spec.URL())
	if err != nil {
		return nil, err
	}

	return &Response{
		StatusCode: resp.StatusCode(),
		Header:     resp.Header(),
		Body:       resp.Body(),
	}, nil
}

// restyLogger routes resty's internal log output through slog.
type restyLogger struct {
	logger *slog.Logger
}

func (l *restyLogger) Errorf(format string, v ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, v...))
}

func (l *restyLogger) Warnf(format string, v ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, v...))
}

func (l *restyLogger) Debugf(format string, v ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, v...))
}
