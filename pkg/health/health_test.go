package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestReportStatusAggregation(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("down")

	tests := []struct {
		name   string
		checks map[string]error
		want   Status
	}{
		{"no checks", map[string]error{}, StatusOK},
		{"all pass", map[string]error{"storage": nil, "origin": nil}, StatusOK},
		{"one fails", map[string]error{"storage": nil, "origin": boom}, StatusDegraded},
		{"all fail", map[string]error{"storage": boom, "origin": boom}, StatusUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReporter("v3")
			for name, err := range tt.checks {
				err := err
				r.Register(name, func(context.Context) error { return err })
			}
			report := r.Report(ctx)
			if report.Status != tt.want {
				t.Errorf("status = %v, want %v", report.Status, tt.want)
			}
			if report.CacheVersion != "v3" {
				t.Errorf("cacheVersion = %q, want v3", report.CacheVersion)
			}
			if len(report.Checks) != len(tt.checks) {
				t.Errorf("checks = %d, want %d", len(report.Checks), len(tt.checks))
			}
		})
	}
}

func TestReportRecordsCheckErrors(t *testing.T) {
	r := NewReporter("v1")
	r.Register("origin", func(context.Context) error { return errors.New("origin circuit open") })

	report := r.Report(context.Background())
	result := report.Checks["origin"]
	if result.Healthy {
		t.Error("failing check reported healthy")
	}
	if result.Error != "origin circuit open" {
		t.Errorf("check error = %q", result.Error)
	}
}

func TestServeHTTPStatusCodes(t *testing.T) {
	boom := errors.New("down")

	tests := []struct {
		name     string
		checkErr error
		wantCode int
	}{
		{"healthy", nil, http.StatusOK},
		{"unavailable", boom, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReporter("v1")
			r.Register("storage", func(context.Context) error { return tt.checkErr })

			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			if rec.Code != tt.wantCode {
				t.Errorf("status code = %d, want %d", rec.Code, tt.wantCode)
			}
			var report Report
			if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
				t.Fatalf("body decode error = %v", err)
			}
		})
	}
}
