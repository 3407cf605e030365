package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	domain "github.com/finitefield/pos-api/internal/domain"
	"github.com/finitefield/pos-api/internal/platform/httpx"
)

// BuildInfo identifies the running binary on /healthz.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// ReadinessChecker probes backing services for /readyz.
type ReadinessChecker interface {
	Check(ctx context.Context) domain.ReadinessReport
}

// HealthHandlers serves the liveness and readiness probes.
type HealthHandlers struct {
	build     BuildInfo
	readiness ReadinessChecker
	clock     func() time.Time
}

// HealthOption customises HealthHandlers.
type HealthOption func(*HealthHandlers)

func WithHealthBuildInfo(info BuildInfo) HealthOption {
	return func(h *HealthHandlers) {
		h.build = info
	}
}

func WithHealthReadiness(checker ReadinessChecker) HealthOption {
	return func(h *HealthHandlers) {
		h.readiness = checker
	}
}

func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// NewHealthHandlers constructs the probe handlers. Without a readiness checker /readyz always reports ok.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.build.StartedAt.IsZero() {
		h.build.StartedAt = h.clock()
	}
	return h
}

type healthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version,omitempty"`
	CommitSHA   string `json:"commitSha,omitempty"`
	Environment string `json:"environment,omitempty"`
	Uptime      string `json:"uptime"`
	Timestamp   string `json:"timestamp"`
}

type dependencyPayload struct {
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`
	LatencyMS int64  `json:"latencyMs"`
}

type readinessResponse struct {
	Status    string                       `json:"status"`
	Checks    map[string]dependencyPayload `json:"checks"`
	Details   []string                     `json:"details,omitempty"`
	Timestamp string                       `json:"timestamp"`
}

func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	now := h.clock().UTC()
	httpx.WriteJSON(w, http.StatusOK, healthResponse{
		Status:      domain.HealthStatusOK,
		Version:     h.build.Version,
		CommitSHA:   h.build.CommitSHA,
		Environment: h.build.Environment,
		Uptime:      now.Sub(h.build.StartedAt).Round(time.Second).String(),
		Timestamp:   now.Format(time.RFC3339),
	})
}

// Readyz answers 503 only when a required dependency is down; degraded optional ones stay 200.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	now := h.clock().UTC()
	resp := readinessResponse{
		Status:    domain.HealthStatusOK,
		Checks:    map[string]dependencyPayload{},
		Timestamp: now.Format(time.RFC3339),
	}
	if h.readiness == nil {
		httpx.WriteJSON(w, http.StatusOK, resp)
		return
	}

	report := h.readiness.Check(r.Context())
	resp.Status = report.Status
	names := make([]string, 0, len(report.Dependencies))
	for name := range report.Dependencies {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		dep := report.Dependencies[name]
		resp.Checks[name] = dependencyPayload{Status: dep.Status, Detail: dep.Detail, LatencyMS: dep.Latency.Milliseconds()}
		if dep.Status != domain.HealthStatusOK {
			resp.Details = append(resp.Details, name+": "+dep.Detail)
		}
	}

	status := http.StatusOK
	if report.Status == domain.HealthStatusError {
		status = http.StatusServiceUnavailable
	}
	httpx.WriteJSON(w, status, resp)
}
