package servicenow

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/RaikaSurendra/servicenow-change-adapter/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func testCfg(baseURL string) config.ServiceNowConfig {
	return config.ServiceNowConfig{
		BaseURL:        baseURL,
		TableAPIPath:   "/api/now/table",
		Auth:           config.AuthConfig{Username: "admin", Password: "secret"},
		TimeoutSeconds: 10,
	}
}

// fakeTransport returns a canned result and records every spec it receives.
type fakeTransport struct {
	mu    sync.Mutex
	resp  *Response
	err   error
	specs []RequestSpec
}

func (f *fakeTransport) Do(_ context.Context, spec RequestSpec) (*Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.specs = append(f.specs, spec)
	return f.resp, f.err
}

func (f *fakeTransport) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.specs)
}
