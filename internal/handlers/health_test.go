package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domain "github.com/finitefield/pos-api/internal/domain"
)

type stubReadiness struct {
	report domain.ReadinessReport
}

func (s stubReadiness) Check(context.Context) domain.ReadinessReport { return s.report }

func TestHealthHandlersHealthz(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start.Add(30 * time.Second)
	handlers := NewHealthHandlers(
		WithHealthBuildInfo(BuildInfo{Version: "1.0.0", CommitSHA: "abc123", Environment: "prod", StartedAt: start}),
		WithHealthClock(func() time.Time { return now }),
	)

	rr := httptest.NewRecorder()
	handlers.Healthz(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body["status"] != domain.HealthStatusOK || body["version"] != "1.0.0" || body["commitSha"] != "abc123" {
		t.Fatalf("unexpected body %v", body)
	}
	if body["uptime"] != "30s" {
		t.Fatalf("expected uptime 30s, got %v", body["uptime"])
	}
}

func TestHealthHandlersReadyz(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 1, 0, 0, time.UTC)
	cases := []struct {
		name    string
		report  domain.ReadinessReport
		status  int
		details int
	}{
		{
			name: "ok",
			report: domain.ReadinessReport{Status: domain.HealthStatusOK, Dependencies: map[string]domain.DependencyStatus{
				"storage": {Status: domain.HealthStatusOK, Detail: "ok", Latency: 10 * time.Millisecond},
			}},
			status: http.StatusOK,
		},
		{
			name: "degraded optional",
			report: domain.ReadinessReport{Status: domain.HealthStatusDegraded, Dependencies: map[string]domain.DependencyStatus{
				"storage":   {Status: domain.HealthStatusOK, Detail: "ok"},
				"reporting": {Status: domain.HealthStatusError, Detail: "timeout"},
			}},
			status:  http.StatusOK,
			details: 1,
		},
		{
			name: "storage down",
			report: domain.ReadinessReport{Status: domain.HealthStatusError, Dependencies: map[string]domain.DependencyStatus{
				"storage": {Status: domain.HealthStatusError, Detail: "connection refused"},
			}},
			status:  http.StatusServiceUnavailable,
			details: 1,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handlers := NewHealthHandlers(WithHealthReadiness(stubReadiness{report: tc.report}), WithHealthClock(func() time.Time { return now }))
			rr := httptest.NewRecorder()
			handlers.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

			if rr.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, rr.Code)
			}
			var body readinessResponse
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("failed to parse response: %v", err)
			}
			if body.Status != tc.report.Status || len(body.Details) != tc.details {
				t.Fatalf("unexpected body %+v", body)
			}
		})
	}
}
