package repositories

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	domain "github.com/finitefield/pos-api/internal/domain"
)

const defaultProbeTimeout = 1500 * time.Millisecond

// DependencyProbe checks that one backing service answers.
type DependencyProbe struct {
	Name     string
	Timeout  time.Duration
	Optional bool
	Check    func(context.Context) error
}

// ReadinessChecker runs dependency probes concurrently and folds them into a report.
type ReadinessChecker struct {
	probes  []DependencyProbe
	timeout time.Duration
	now     func() time.Time
}

// ReadinessOption customises a ReadinessChecker.
type ReadinessOption func(*ReadinessChecker)

// WithProbeTimeout overrides the timeout applied when a probe omits its own.
func WithProbeTimeout(timeout time.Duration) ReadinessOption {
	return func(c *ReadinessChecker) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithReadinessClock injects a clock for tests.
func WithReadinessClock(clock func() time.Time) ReadinessOption {
	return func(c *ReadinessChecker) {
		if clock != nil {
			c.now = clock
		}
	}
}

// NewReadinessChecker validates the probe set.
func NewReadinessChecker(probes []DependencyProbe, opts ...ReadinessOption) (*ReadinessChecker, error) {
	if len(probes) == 0 {
		return nil, errors.New("readiness: at least one probe is required")
	}
	for _, probe := range probes {
		if strings.TrimSpace(probe.Name) == "" {
			return nil, errors.New("readiness: probe name is required")
		}
		if probe.Check == nil {
			return nil, errors.New("readiness: probe " + probe.Name + " has no check")
		}
	}
	checker := &ReadinessChecker{
		probes:  append([]DependencyProbe(nil), probes...),
		timeout: defaultProbeTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(checker)
		}
	}
	return checker, nil
}

// Check runs every probe. Required probe failures mark the report as error, optional ones as degraded.
func (c *ReadinessChecker) Check(ctx context.Context) domain.ReadinessReport {
	results := make(map[string]domain.DependencyStatus, len(c.probes))
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, probe := range c.probes {
		wg.Add(1)
		go func(probe DependencyProbe) {
			defer wg.Done()
			result := c.run(ctx, probe)
			mu.Lock()
			results[probe.Name] = result
			mu.Unlock()
		}(probe)
	}
	wg.Wait()

	status := domain.HealthStatusOK
	for _, probe := range c.probes {
		if results[probe.Name].Status == domain.HealthStatusOK {
			continue
		}
		if !probe.Optional {
			status = domain.HealthStatusError
			break
		}
		status = domain.HealthStatusDegraded
	}

	return domain.ReadinessReport{
		Status:       status,
		Dependencies: results,
		GeneratedAt:  c.now(),
	}
}

func (c *ReadinessChecker) run(ctx context.Context, probe DependencyProbe) domain.DependencyStatus {
	timeout := probe.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := c.now()
	err := probe.Check(probeCtx)
	end := c.now()

	result := domain.DependencyStatus{
		Status:    domain.HealthStatusOK,
		Detail:    "ok",
		Latency:   end.Sub(start),
		CheckedAt: end,
	}
	switch {
	case err == nil && probeCtx.Err() == nil:
	case errors.Is(err, context.DeadlineExceeded) || (err == nil && probeCtx.Err() != nil):
		result.Status = domain.HealthStatusError
		result.Detail = "timeout"
	case err != nil:
		result.Status = domain.HealthStatusError
		result.Detail = err.Error()
	}
	return result
}
