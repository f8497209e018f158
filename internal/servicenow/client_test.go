package servicenow

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestFetchFirstRecord_Success(t *testing.T) {
	const body = `{"result":[{"number":"CHG001"}]}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		if r.URL.Path != "/api/now/table/change_request" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.URL.RawQuery != "sysparm_limit=1" {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "admin" || pass != "secret" {
			t.Errorf("basic auth = (%q, %q, %v)", user, pass, ok)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
	defer srv.Close()

	f := NewFetcher(testCfg(srv.URL), testLogger())
	outcome := f.FetchFirstRecord(context.Background(), "change_request")

	if outcome.Kind() != OutcomeSuccess {
		t.Fatalf("Kind = %v, want success (err: %v)", outcome.Kind(), outcome.Err())
	}
	if outcome.Err() != nil {
		t.Errorf("Err = %v, want nil", outcome.Err())
	}
	resp := outcome.Response()
	if resp == nil {
		t.Fatal("Response is nil")
	}
	if string(resp.Body) != body {
		t.Errorf("Body = %q, want %q", resp.Body, body)
	}
	if resp.Header.Get("Content-Type") != "application/json" {
		t.Errorf("Content-Type = %q", resp.Header.Get("Content-Type"))
	}
	records, err := resp.Records()
	if err != nil {
		t.Fatalf("Records failed: %v", err)
	}
	if len(records) != 1 || records[0]["number"] != "CHG001" {
		t.Errorf("records = %v", records)
	}
}

func TestFetchFirstRecord_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("service unavailable"))
	}))
	defer srv.Close()

	f := NewFetcher(testCfg(srv.URL), testLogger())
	outcome := f.FetchFirstRecord(context.Background(), "change_request")

	if outcome.Kind() != OutcomeStatusError {
		t.Fatalf("Kind = %v, want status_error", outcome.Kind())
	}
	var statusErr *StatusError
	if !errors.As(outcome.Err(), &statusErr) {
		t.Fatalf("Err = %T, want *StatusError", outcome.Err())
	}
	if statusErr.Response.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("StatusCode = %d, want 503", statusErr.Response.StatusCode)
	}
	if string(statusErr.Response.Body) != "service unavailable" {
		t.Errorf("Body = %q", statusErr.Response.Body)
	}
	if outcome.Response() != nil {
		t.Error("Response() should be nil for a status error")
	}
	if outcome.StatusCode() != http.StatusServiceUnavailable {
		t.Errorf("outcome.StatusCode = %d, want 503", outcome.StatusCode())
	}
}

func TestFetchFirstRecord_StatusErrorWithJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"message":"Invalid table not_a_table","detail":null},"status":"failure"}`))
	}))
	defer srv.Close()

	f := NewFetcher(testCfg(srv.URL), testLogger())
	outcome := f.FetchFirstRecord(context.Background(), "not_a_table")

	if outcome.Kind() != OutcomeStatusError {
		t.Fatalf("Kind = %v, want status_error", outcome.Kind())
	}
	if !strings.Contains(outcome.Err().Error(), "Invalid table not_a_table") {
		t.Errorf("error should carry the ServiceNow message: %v", outcome.Err())
	}
}

func TestFetchFirstRecord_StatusErrorWithValidRecords(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"result":[{"number":"CHG001"}]}`))
	}))
	defer srv.Close()

	f := NewFetcher(testCfg(srv.URL), testLogger())
	outcome := f.FetchFirstRecord(context.Background(), "change_request")

	if outcome.Kind() != OutcomeStatusError {
		t.Fatalf("Kind = %v, want status_error", outcome.Kind())
	}
}

func TestFetchFirstRecord_Hibernating(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>Instance Hibernating page</html>"))
	}))
	defer srv.Close()

	f := NewFetcher(testCfg(srv.URL), testLogger())
	outcome := f.FetchFirstRecord(context.Background(), "change_request")

	if outcome.Kind() != OutcomeHibernating {
		t.Fatalf("Kind = %v, want hibernating", outcome.Kind())
	}
	var hibErr *HibernatingError
	if !errors.As(outcome.Err(), &hibErr) {
		t.Fatalf("Err = %T, want *HibernatingError", outcome.Err())
	}
	if hibErr.Message != "Service Now instance is hibernating" {
		t.Errorf("Message = %q", hibErr.Message)
	}
	if outcome.Err().Error() != "Service Now instance is hibernating" {
		t.Errorf("Error() = %q", outcome.Err().Error())
	}
	if outcome.Response() != nil {
		t.Error("hibernating outcome should not expose the response")
	}
	if outcome.StatusCode() != 0 {
		t.Errorf("StatusCode = %d, want 0", outcome.StatusCode())
	}
}

func TestFetchFirstRecord_HibernatingBehindBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("<html>Instance Hibernating page</html>"))
	}))
	defer srv.Close()

	f := NewFetcher(testCfg(srv.URL), testLogger())
	outcome := f.FetchFirstRecord(context.Background(), "change_request")

	if outcome.Kind() != OutcomeStatusError {
		t.Fatalf("Kind = %v, want status_error (status is checked before body)", outcome.Kind())
	}
}

func TestFetchFirstRecord_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	baseURL := srv.URL
	srv.Close() // nothing listens on baseURL any more

	f := NewFetcher(testCfg(baseURL), testLogger())
	outcome := f.FetchFirstRecord(context.Background(), "change_request")

	if outcome.Kind() != OutcomeTransportError {
		t.Fatalf("Kind = %v, want transport_error", outcome.Kind())
	}
	var transportErr *TransportError
	if !errors.As(outcome.Err(), &transportErr) {
		t.Fatalf("Err = %T, want *TransportError", outcome.Err())
	}
	if transportErr.Unwrap() == nil {
		t.Error("TransportError should wrap the underlying failure")
	}
	if outcome.Response() != nil || outcome.StatusCode() != 0 {
		t.Error("transport error must not carry a response")
	}
}

func TestFetchFirstRecord_ContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	f := NewFetcher(testCfg(srv.URL), testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	outcome := f.FetchFirstRecord(ctx, "change_request")
	if outcome.Kind() != OutcomeTransportError {
		t.Fatalf("Kind = %v, want transport_error", outcome.Kind())
	}
	if ctx.Err() == nil {
		t.Error("outcome returned before the context expired")
	}
}

func TestFetchFirstRecord_IndependentCalls(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&hits, 1)
		if n == 1 {
			w.Write([]byte(`{"result":[{"number":"CHG001"}]}`))
			return
		}
		w.Write([]byte(`{"result":[{"number":"CHG002"}]}`))
	}))
	defer srv.Close()

	f := NewFetcher(testCfg(srv.URL), testLogger())
	first := f.FetchFirstRecord(context.Background(), "change_request")
	second := f.FetchFirstRecord(context.Background(), "change_request")

	if atomic.LoadInt32(&hits) != 2 {
		t.Fatalf("server hits = %d, want 2", hits)
	}
	if !first.OK() || !second.OK() {
		t.Fatalf("both calls should succeed: %v, %v", first.Err(), second.Err())
	}
	if string(first.Response().Body) == string(second.Response().Body) {
		t.Error("second call reused the first response")
	}
}

func TestFetchFirstRecord_NoRetryOnFailure(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	f := NewFetcher(testCfg(srv.URL), testLogger())
	outcome := f.FetchFirstRecord(context.Background(), "change_request")

	if outcome.Kind() != OutcomeStatusError {
		t.Fatalf("Kind = %v, want status_error", outcome.Kind())
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Errorf("server hits = %d, want exactly 1", hits)
	}
}

func TestFetchFirstRecord_TableNamePassedThrough(t *testing.T) {
	tests := []struct {
		table    string
		wantPath string
	}{
		{"change_request", "/api/now/table/change_request"},
		{"", "/api/now/table/"},
		{"Not-A-Table", "/api/now/table/Not-A-Table"},
	}
	for _, tt := range tests {
		var gotPath, gotQuery string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			gotQuery = r.URL.RawQuery
			w.Write([]byte(`{"result":[]}`))
		}))

		f := NewFetcher(testCfg(srv.URL), testLogger())
		f.FetchFirstRecord(context.Background(), tt.table)
		srv.Close()

		if gotPath != tt.wantPath {
			t.Errorf("table %q: path = %q, want %q", tt.table, gotPath, tt.wantPath)
		}
		if gotQuery != "sysparm_limit=1" {
			t.Errorf("table %q: query = %q, want sysparm_limit=1", tt.table, gotQuery)
		}
	}
}

func TestClassify_Order(t *testing.T) {
	ok := &Response{StatusCode: 200, Body: []byte(`{"result":[]}`)}
	hib := &Response{StatusCode: 200, Body: []byte("<html>Instance Hibernating page</html>")}
	badHib := &Response{StatusCode: 503, Body: []byte("<html>Instance Hibernating page</html>")}

	tests := []struct {
		name string
		resp *Response
		err  error
		want OutcomeKind
	}{
		{"transport error wins over response", ok, errors.New("connection reset"), OutcomeTransportError},
		{"nil response", nil, nil, OutcomeTransportError},
		{"status before body", badHib, nil, OutcomeStatusError},
		{"199 rejected", &Response{StatusCode: 199}, nil, OutcomeStatusError},
		{"300 rejected", &Response{StatusCode: 300}, nil, OutcomeStatusError},
		{"204 accepted", &Response{StatusCode: 204}, nil, OutcomeSuccess},
		{"hibernating 200", hib, nil, OutcomeHibernating},
		{"plain success", ok, nil, OutcomeSuccess},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ft := &fakeTransport{resp: tt.resp, err: tt.err}
			f := NewFetcher(testCfg("https://instance.service-now.com"), testLogger(), WithTransport(ft))

			outcome := f.FetchFirstRecord(context.Background(), "change_request")
			if outcome.Kind() != tt.want {
				t.Errorf("Kind = %v, want %v", outcome.Kind(), tt.want)
			}
			if (outcome.Err() == nil) != (tt.want == OutcomeSuccess) {
				t.Errorf("Err = %v for kind %v", outcome.Err(), outcome.Kind())
			}
			if ft.calls() != 1 {
				t.Errorf("transport calls = %d, want 1", ft.calls())
			}
		})
	}
}

func TestFetchFirstRecord_SuccessResponseUnmodified(t *testing.T) {
	resp := &Response{StatusCode: 201, Header: http.Header{"X-Test": {"1"}}, Body: []byte("not json at all")}
	ft := &fakeTransport{resp: resp}
	f := NewFetcher(testCfg("https://instance.service-now.com"), testLogger(), WithTransport(ft))

	outcome := f.FetchFirstRecord(context.Background(), "change_request")
	if outcome.Response() != resp {
		t.Error("success should carry the transport's response as-is")
	}
	if outcome.StatusCode() != 201 {
		t.Errorf("StatusCode = %d, want 201", outcome.StatusCode())
	}
}

func TestFetchFirstRecord_RequestSpec(t *testing.T) {
	ft := &fakeTransport{resp: &Response{StatusCode: 200}}
	cfg := testCfg("https://instance.service-now.com/")
	f := NewFetcher(cfg, testLogger(), WithTransport(ft))

	f.FetchFirstRecord(context.Background(), "change_request")

	spec := ft.specs[0]
	if spec.Method != http.MethodGet {
		t.Errorf("Method = %q", spec.Method)
	}
	if spec.Username != "admin" || spec.Password != "secret" {
		t.Errorf("credentials = (%q, %q)", spec.Username, spec.Password)
	}
	if spec.URL() != "https://instance.service-now.com/api/now/table/change_request?sysparm_limit=1" {
		t.Errorf("URL = %q", spec.URL())
	}
}

func TestFetchFirstRecordAsync_DeliversOnce(t *testing.T) {
	ft := &fakeTransport{resp: &Response{StatusCode: 200, Body: []byte(`{"result":[]}`)}}
	f := NewFetcher(testCfg("https://instance.service-now.com"), testLogger(), WithTransport(ft))

	ch := f.FetchFirstRecordAsync(context.Background(), "change_request")

	select {
	case outcome, ok := <-ch:
		if !ok {
			t.Fatal("channel closed before delivering an outcome")
		}
		if !outcome.OK() {
			t.Errorf("Kind = %v, want success", outcome.Kind())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no outcome delivered")
	}

	if _, ok := <-ch; ok {
		t.Error("channel delivered a second outcome")
	}
}

func TestWithRateLimiter_CancelledWaitIsTransportError(t *testing.T) {
	ft := &fakeTransport{resp: &Response{StatusCode: 200}}
	// One token per 1000s: the first call passes, the second cannot.
	f := NewFetcher(testCfg("https://instance.service-now.com"), testLogger(),
		WithTransport(ft), WithRateLimiter(0.001))

	if o := f.FetchFirstRecord(context.Background(), "change_request"); !o.OK() {
		t.Fatalf("first call: Kind = %v", o.Kind())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	outcome := f.FetchFirstRecord(ctx, "change_request")

	if outcome.Kind() != OutcomeTransportError {
		t.Fatalf("Kind = %v, want transport_error", outcome.Kind())
	}
	if ft.calls() != 1 {
		t.Errorf("transport calls = %d, want 1", ft.calls())
	}
}

func TestNewRequestSpec(t *testing.T) {
	cfg := testCfg("https://instance.service-now.com")

	tests := []struct {
		table    string
		wantPath string
	}{
		{"change_request", "/api/now/table/change_request?sysparm_limit=1"},
		{"", "/api/now/table/?sysparm_limit=1"},
		{"bad name", "/api/now/table/bad name?sysparm_limit=1"},
		{"/incident", "/api/now/table//incident?sysparm_limit=1"},
	}
	for _, tt := range tests {
		spec := NewRequestSpec(cfg, tt.table)
		if spec.Path != tt.wantPath {
			t.Errorf("NewRequestSpec(%q).Path = %q, want %q", tt.table, spec.Path, tt.wantPath)
		}
	}
	if ep := NewRequestSpec(cfg, "incident").Endpoint(); ep != "/api/now/table/incident" {
		t.Errorf("Endpoint = %q", ep)
	}
}

func TestOutcomeKindString(t *testing.T) {
	tests := map[OutcomeKind]string{
		OutcomeSuccess:        "success",
		OutcomeTransportError: "transport_error",
		OutcomeStatusError:    "status_error",
		OutcomeHibernating:    "hibernating",
		OutcomeUnknown:        "unknown",
	}
	for kind, want := range tests {
		if got := kind.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int(kind), got, want)
		}
	}
}

func TestStatusErrorMessage(t *testing.T) {
	withDetail := &StatusError{Response: &Response{
		StatusCode: 404,
		Body:       []byte(`{"error":{"message":"No Record found","detail":"ACL restricts the record retrieval"}}`),
	}}
	if got := withDetail.Error(); got != "servicenow status 404: No Record found (ACL restricts the record retrieval)" {
		t.Errorf("Error() = %q", got)
	}

	plain := &StatusError{Response: &Response{StatusCode: 502, Body: []byte("bad gateway")}}
	if got := plain.Error(); got != "servicenow status 502: bad gateway" {
		t.Errorf("Error() = %q", got)
	}
}

func TestTruncateBody(t *testing.T) {
	short := "hello"
	if truncateBody([]byte(short)) != short {
		t.Error("short body should not be truncated")
	}

	long := strings.Repeat("x", 600)
	result := truncateBody([]byte(long))
	if len(result) > 510 { // 500 + "..."
		t.Errorf("truncated body too long: %d", len(result))
	}
	if !strings.HasSuffix(result, "...") {
		t.Error("truncated body should end with ...")
	}
}

func TestOutcome_NilResponse(t *testing.T) {
	success := SuccessOutcome(nil)
	if success.StatusCode() != 0 {
		t.Errorf("SuccessOutcome(nil).StatusCode() = %d, want 0", success.StatusCode())
	}

	statusErr := StatusErrorOutcome(nil)
	if statusErr.StatusCode() != 0 {
		t.Errorf("StatusErrorOutcome(nil).StatusCode() = %d, want 0", statusErr.StatusCode())
	}
	if got := statusErr.Err().Error(); got != "servicenow status error: no response" {
		t.Errorf("Error() = %q", got)
	}
}
