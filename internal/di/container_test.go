package di

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/finitefield/pos-api/internal/domain"
	"github.com/finitefield/pos-api/internal/platform/config"
	"github.com/finitefield/pos-api/internal/platform/idempotency"
	"github.com/finitefield/pos-api/internal/services"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []services.OrderEvent
}

func (p *recordingPublisher) PublishOrderEvent(_ context.Context, event services.OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func memoryConfig() config.Config {
	cfg := config.Config{}
	cfg.Storage.Driver = config.StorageDriverMemory
	cfg.Orders.Currency = "VND"
	return cfg
}

func TestNewContainer_MemoryRegistryServesOrders(t *testing.T) {
	ctx := context.Background()
	cfg := memoryConfig()

	reg, err := OpenRegistry(ctx, cfg)
	require.NoError(t, err)

	publisher := &recordingPublisher{}
	now := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)
	container, err := NewContainer(ctx, cfg, reg,
		WithClock(func() time.Time { return now }),
		WithAdapters(Adapters{Events: publisher}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Close(ctx) })

	require.NotNil(t, container.Services.Orders)
	require.NotNil(t, container.Services.Customers)
	assert.IsType(t, &idempotency.MemoryStore{}, container.Idempotency)

	order, err := container.Services.Orders.Create(ctx, services.CreateOrderCommand{StaffID: "stf-1"})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, order.Status)
	assert.NotEmpty(t, order.Code)

	publisher.mu.Lock()
	assert.NotEmpty(t, publisher.events)
	publisher.mu.Unlock()

	report := container.Readiness.Check(ctx)
	assert.Equal(t, domain.HealthStatusOK, report.Status)
	assert.Contains(t, report.Dependencies, "storage")
}

func TestOpenRegistry_LoadsSeedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tables:\n  - id: T1\n    name: Table 1\n"), 0o600))

	cfg := memoryConfig()
	cfg.Storage.SeedFile = path
	reg, err := OpenRegistry(context.Background(), cfg)
	require.NoError(t, err)

	table, err := reg.Tables().GetTable(context.Background(), "T1")
	require.NoError(t, err)
	assert.Equal(t, domain.TableStatusAvailable, table.Status)
}

func TestOpenRegistry_RejectsUnknownDriver(t *testing.T) {
	cfg := memoryConfig()
	cfg.Storage.Driver = "sqlite"
	_, err := OpenRegistry(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sqlite")
}

func TestNewContainer_RequiresRegistry(t *testing.T) {
	_, err := NewContainer(context.Background(), memoryConfig(), nil)
	require.Error(t, err)
}
