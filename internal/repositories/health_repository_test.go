package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/finitefield/pos-api/internal/domain"
)

func TestReadinessCheckerAllHealthy(t *testing.T) {
	now := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)
	checker, err := NewReadinessChecker([]DependencyProbe{
		{Name: "firestore", Check: func(context.Context) error { return nil }},
		{Name: "postgres", Optional: true, Check: func(context.Context) error { return nil }},
	}, WithReadinessClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("NewReadinessChecker: %v", err)
	}

	report := checker.Check(context.Background())
	if report.Status != domain.HealthStatusOK {
		t.Fatalf("expected ok, got %s", report.Status)
	}
	if len(report.Dependencies) != 2 {
		t.Fatalf("expected 2 dependencies, got %d", len(report.Dependencies))
	}
	if report.Dependencies["firestore"].CheckedAt != now {
		t.Fatalf("expected checkedAt %s", now)
	}
}

func TestReadinessCheckerOptionalFailureDegrades(t *testing.T) {
	checker, err := NewReadinessChecker([]DependencyProbe{
		{Name: "firestore", Check: func(context.Context) error { return nil }},
		{Name: "rabbitmq", Optional: true, Check: func(context.Context) error { return errors.New("connection refused") }},
	})
	if err != nil {
		t.Fatalf("NewReadinessChecker: %v", err)
	}

	report := checker.Check(context.Background())
	if report.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected degraded, got %s", report.Status)
	}
	if detail := report.Dependencies["rabbitmq"].Detail; detail != "connection refused" {
		t.Fatalf("unexpected detail %q", detail)
	}
}

func TestReadinessCheckerRequiredTimeout(t *testing.T) {
	checker, err := NewReadinessChecker([]DependencyProbe{
		{Name: "firestore", Timeout: 10 * time.Millisecond, Check: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}},
	})
	if err != nil {
		t.Fatalf("NewReadinessChecker: %v", err)
	}

	report := checker.Check(context.Background())
	if report.Status != domain.HealthStatusError {
		t.Fatalf("expected error, got %s", report.Status)
	}
	if report.Dependencies["firestore"].Detail != "timeout" {
		t.Fatalf("expected timeout detail, got %q", report.Dependencies["firestore"].Detail)
	}
}

func TestNewReadinessCheckerRejectsInvalidProbes(t *testing.T) {
	if _, err := NewReadinessChecker(nil); err == nil {
		t.Fatalf("expected error for empty probe set")
	}
	if _, err := NewReadinessChecker([]DependencyProbe{{Name: "x"}}); err == nil {
		t.Fatalf("expected error for probe without check")
	}
}
