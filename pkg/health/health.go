// Package health exposes a liveness/readiness report for the cache
// daemon: named checks over storage, origin, and lifecycle, served as
// JSON.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Status summarizes a report.
type Status string

const (
	StatusOK          Status = "ok"
	StatusDegraded    Status = "degraded"
	StatusUnavailable Status = "unavailable"
)

// Check probes one dependency. A nil return means healthy.
type Check func(ctx context.Context) error

// CheckResult is one check's outcome within a report.
type CheckResult struct {
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// Report is the full health snapshot.
type Report struct {
	Status       Status                 `json:"status"`
	CacheVersion string                 `json:"cacheVersion"`
	Uptime       string                 `json:"uptime"`
	Checks       map[string]CheckResult `json:"checks"`
}

// Reporter runs registered checks on demand and serves the report over
// HTTP.
type Reporter struct {
	cacheVersion string
	started      time.Time

	mu     sync.RWMutex
	checks map[string]Check
}

// NewReporter creates a reporter with no checks registered.
func NewReporter(cacheVersion string) *Reporter {
	return &Reporter{
		cacheVersion: cacheVersion,
		started:      time.Now(),
		checks:       make(map[string]Check),
	}
}

// Register adds or replaces a named check.
func (r *Reporter) Register(name string, check Check) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks[name] = check
}

// Report runs every check and aggregates. All passing is ok, all
// failing is unavailable, anything between is degraded.
func (r *Reporter) Report(ctx context.Context) *Report {
	r.mu.RLock()
	checks := make(map[string]Check, len(r.checks))
	for name, check := range r.checks {
		checks[name] = check
	}
	r.mu.RUnlock()

	report := &Report{
		CacheVersion: r.cacheVersion,
		Uptime:       time.Since(r.started).Round(time.Second).String(),
		Checks:       make(map[string]CheckResult, len(checks)),
	}

	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	failed := 0
	for _, name := range names {
		if err := checks[name](ctx); err != nil {
			failed++
			report.Checks[name] = CheckResult{Healthy: false, Error: err.Error()}
		} else {
			report.Checks[name] = CheckResult{Healthy: true}
		}
	}

	switch {
	case failed == 0:
		report.Status = StatusOK
	case failed == len(checks) && len(checks) > 0:
		report.Status = StatusUnavailable
	default:
		report.Status = StatusDegraded
	}
	return report
}

// ServeHTTP serves the report. Unavailable maps to 503; ok and degraded
// both answer 200 so a limping cache keeps taking traffic.
func (r *Reporter) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	report := r.Report(req.Context())

	w.Header().Set("Content-Type", "application/json")
	if report.Status == StatusUnavailable {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(report)
}
