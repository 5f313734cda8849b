package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// gatherFamily returns the named metric family from reg, or nil.
func gatherFamily(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func labelValue(m *dto.Metric, name string) string {
	for _, label := range m.GetLabel() {
		if label.GetName() == name {
			return label.GetValue()
		}
	}
	return ""
}

func newInstrumentedHandler(t *testing.T, status int, body string) (*prometheus.Registry, http.Handler) {
	t.Helper()
	m := NewMetrics()
	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	wrapped := HTTPMetrics(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	return reg, wrapped
}

func TestHTTPMetrics_RecordsJournalTraffic(t *testing.T) {
	// The path label must be the normalized route pattern, never the raw
	// path: record UUIDs and scope segments would otherwise mint a label
	// set per request.
	tests := []struct {
		name       string
		method     string
		path       string
		status     int
		wantPath   string
		wantStatus string
	}{
		{
			name:       "create record",
			method:     http.MethodPost,
			path:       "/v1/records",
			status:     http.StatusCreated,
			wantPath:   "/v1/records",
			wantStatus: "201",
		},
		{
			name:       "get record by id",
			method:     http.MethodGet,
			path:       "/v1/records/1c7a3f52-09a3-44ad-9de0-6ba184d1a22b",
			status:     http.StatusOK,
			wantPath:   "/v1/records/{id}",
			wantStatus: "200",
		},
		{
			name:       "propose edit",
			method:     http.MethodPost,
			path:       "/v1/records/1c7a3f52-09a3-44ad-9de0-6ba184d1a22b/edits",
			status:     http.StatusCreated,
			wantPath:   "/v1/records/{id}/edits",
			wantStatus: "201",
		},
		{
			name:       "verify scope chain",
			method:     http.MethodGet,
			path:       "/v1/scopes/ELD-001/2026-03-14/verify",
			status:     http.StatusOK,
			wantPath:   "/v1/scopes/{device_id}/{log_date}/verify",
			wantStatus: "200",
		},
		{
			name:       "missing record",
			method:     http.MethodGet,
			path:       "/v1/records/does-not-exist",
			status:     http.StatusNotFound,
			wantPath:   "/v1/records/{id}",
			wantStatus: "404",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, wrapped := newInstrumentedHandler(t, tt.status, `{}`)

			rec := httptest.NewRecorder()
			wrapped.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))

			family := gatherFamily(t, reg, MetricHTTPRequestsTotal)
			if family == nil {
				t.Fatal("requests total metric not gathered")
			}
			if len(family.GetMetric()) != 1 {
				t.Fatalf("label sets = %d, want 1", len(family.GetMetric()))
			}
			metric := family.GetMetric()[0]
			if got := labelValue(metric, "method"); got != tt.method {
				t.Errorf("method label = %q, want %q", got, tt.method)
			}
			if got := labelValue(metric, "path"); got != tt.wantPath {
				t.Errorf("path label = %q, want %q", got, tt.wantPath)
			}
			if got := labelValue(metric, "status"); got != tt.wantStatus {
				t.Errorf("status label = %q, want %q", got, tt.wantStatus)
			}
		})
	}
}

func TestHTTPMetrics_HealthEndpointsExcluded(t *testing.T) {
	reg, wrapped := newInstrumentedHandler(t, http.StatusOK, `{"status":"healthy"}`)

	for _, path := range []string{"/health", "/ready"} {
		rec := httptest.NewRecorder()
		wrapped.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("GET %s status = %d, want %d", path, rec.Code, http.StatusOK)
		}
	}

	family := gatherFamily(t, reg, MetricHTTPRequestsTotal)
	if family != nil && len(family.GetMetric()) != 0 {
		t.Errorf("health endpoints produced %d label sets, want 0", len(family.GetMetric()))
	}
}

func TestHTTPMetrics_RequestSizeFromContentLength(t *testing.T) {
	reg, wrapped := newInstrumentedHandler(t, http.StatusCreated, `{}`)

	payload := `{"device_id":"ELD-001","log_date":"2026-03-14","event_type":"1"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/records", strings.NewReader(payload))
	req.Header.Set("Content-Length", strconv.Itoa(len(payload)))

	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	family := gatherFamily(t, reg, MetricHTTPRequestSizeBytes)
	if family == nil || len(family.GetMetric()) != 1 {
		t.Fatal("request size metric not gathered")
	}
	hist := family.GetMetric()[0].GetHistogram()
	if hist.GetSampleCount() != 1 {
		t.Errorf("sample count = %d, want 1", hist.GetSampleCount())
	}
	if got := hist.GetSampleSum(); got != float64(len(payload)) {
		t.Errorf("sample sum = %v, want %d", got, len(payload))
	}
}

func TestHTTPMetrics_ResponseSizeAccumulatesWrites(t *testing.T) {
	// Scope listings stream the record array in chunks; the size metric
	// must cover the whole body, not the last write.
	m := NewMetrics()
	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	chunks := []string{`{"records":[`, `{"id":"a"},`, `{"id":"b"}`, `]}`}
	wrapped := HTTPMetrics(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, chunk := range chunks {
			_, _ = w.Write([]byte(chunk))
		}
	}))

	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/scopes/ELD-001/2026-03-14/records", nil))

	var total int
	for _, chunk := range chunks {
		total += len(chunk)
	}
	family := gatherFamily(t, reg, MetricHTTPResponseSizeBytes)
	if family == nil || len(family.GetMetric()) != 1 {
		t.Fatal("response size metric not gathered")
	}
	if got := family.GetMetric()[0].GetHistogram().GetSampleSum(); got != float64(total) {
		t.Errorf("sample sum = %v, want %d", got, total)
	}
}

func TestHTTPMetrics_DistinctRoutesDistinctSeries(t *testing.T) {
	m := NewMetrics()
	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	wrapped := HTTPMetrics(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// Two record fetches and one verify: two series, one of count 2.
	for _, path := range []string{
		"/v1/records/aaa",
		"/v1/records/bbb",
		"/v1/scopes/ELD-001/2026-03-14/verify",
	} {
		rec := httptest.NewRecorder()
		wrapped.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	family := gatherFamily(t, reg, MetricHTTPRequestsTotal)
	if family == nil {
		t.Fatal("requests total metric not gathered")
	}
	if len(family.GetMetric()) != 2 {
		t.Fatalf("label sets = %d, want 2", len(family.GetMetric()))
	}
	counts := make(map[string]float64)
	for _, metric := range family.GetMetric() {
		counts[labelValue(metric, "path")] = metric.GetCounter().GetValue()
	}
	if counts["/v1/records/{id}"] != 2 {
		t.Errorf("record fetch series count = %v, want 2", counts["/v1/records/{id}"])
	}
	if counts["/v1/scopes/{device_id}/{log_date}/verify"] != 1 {
		t.Errorf("verify series count = %v, want 1", counts["/v1/scopes/{device_id}/{log_date}/verify"])
	}
}

func TestMetricsResponseWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	mrw := newMetricsResponseWriter(rec)

	n1, err := mrw.Write([]byte("part one "))
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	n2, err := mrw.Write([]byte("part two"))
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if mrw.size != int64(n1+n2) {
		t.Errorf("size = %d, want %d", mrw.size, n1+n2)
	}

	// Only the first WriteHeader counts; handlers that double-write must
	// not corrupt the status label.
	mrw.WriteHeader(http.StatusConflict)
	mrw.WriteHeader(http.StatusInternalServerError)
	if mrw.statusCode != http.StatusConflict {
		t.Errorf("statusCode = %d, want %d", mrw.statusCode, http.StatusConflict)
	}
}
