package domain

import "time"

const (
	HealthStatusOK       = "ok"
	HealthStatusDegraded = "degraded"
	HealthStatusError    = "error"
)

// DependencyStatus is the outcome of probing one backing service.
type DependencyStatus struct {
	Status    string
	Detail    string
	Latency   time.Duration
	CheckedAt time.Time
}

// ReadinessReport aggregates dependency probes for /readyz.
type ReadinessReport struct {
	Status       string
	Dependencies map[string]DependencyStatus
	GeneratedAt  time.Time
}
