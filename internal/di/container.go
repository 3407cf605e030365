package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	gcs "cloud.google.com/go/storage"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/finitefield/pos-api/internal/payments"
	"github.com/finitefield/pos-api/internal/platform/config"
	"github.com/finitefield/pos-api/internal/platform/events"
	pfirestore "github.com/finitefield/pos-api/internal/platform/firestore"
	"github.com/finitefield/pos-api/internal/platform/idempotency"
	"github.com/finitefield/pos-api/internal/platform/kitchen"
	"github.com/finitefield/pos-api/internal/platform/observability"
	"github.com/finitefield/pos-api/internal/platform/receipts"
	"github.com/finitefield/pos-api/internal/platform/reporting"
	"github.com/finitefield/pos-api/internal/repositories"
	firestorerepo "github.com/finitefield/pos-api/internal/repositories/firestore"
	"github.com/finitefield/pos-api/internal/repositories/memory"
	"github.com/finitefield/pos-api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Orders    services.OrderService
	Customers services.CustomerService
}

// Adapters are the optional outbound integrations of the order service. Nil fields are skipped.
type Adapters struct {
	Payments  services.PaymentVerifier
	Events    services.OrderEventPublisher
	Kitchen   services.KitchenDispatcher
	Projector services.OrderProjector
	Receipts  services.ReceiptArchiver
}

// Container wires repositories, services, and outbound adapters for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
	Readiness    *repositories.ReadinessChecker
	Idempotency  idempotency.Store

	closers []func(context.Context) error
}

type containerOptions struct {
	logger   *zap.Logger
	meter    metric.Meter
	clock    func() time.Time
	adapters *Adapters
}

// Option customises container construction.
type Option func(*containerOptions)

func WithLogger(logger *zap.Logger) Option {
	return func(o *containerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithMeter(meter metric.Meter) Option {
	return func(o *containerOptions) {
		if meter != nil {
			o.meter = meter
		}
	}
}

func WithClock(clock func() time.Time) Option {
	return func(o *containerOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithAdapters replaces the config-driven adapters, typically with fakes in tests.
func WithAdapters(adapters Adapters) Option {
	return func(o *containerOptions) {
		o.adapters = &adapters
	}
}

// OpenRegistry builds the repository registry selected by Storage.Driver.
func OpenRegistry(ctx context.Context, cfg config.Config) (repositories.Registry, error) {
	switch cfg.Storage.Driver {
	case config.StorageDriverMemory:
		var opts []memory.Option
		if path := strings.TrimSpace(cfg.Storage.SeedFile); path != "" {
			seed, err := memory.LoadSeedFile(path)
			if err != nil {
				return nil, err
			}
			opts = append(opts, memory.WithSeed(seed))
		}
		return memory.NewRegistry(opts...), nil
	case config.StorageDriverFirestore, "":
		var providerOpts []pfirestore.ProviderOption
		if file := strings.TrimSpace(cfg.Firebase.CredentialsFile); file != "" {
			providerOpts = append(providerOpts, pfirestore.WithClientOptions(option.WithCredentialsFile(file)))
		}
		provider := pfirestore.NewProvider(cfg.Firestore, providerOpts...)
		if _, err := provider.Client(ctx); err != nil {
			return nil, fmt.Errorf("initialise firestore client: %w", err)
		}
		reg, err := firestorerepo.NewRegistry(provider)
		if err != nil {
			_ = provider.Close(ctx)
			return nil, err
		}
		return reg, nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
	}
}

// NewContainer constructs the runtime dependencies on top of reg.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, opts ...Option) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}
	options := containerOptions{
		logger: zap.NewNop(),
		meter:  noop.NewMeterProvider().Meter("pos-api"),
		clock:  time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	c := &Container{Config: cfg, Repositories: reg}
	probes := []repositories.DependencyProbe{{Name: "storage", Check: reg.Ping}}

	adapters := Adapters{}
	if options.adapters != nil {
		adapters = *options.adapters
	} else {
		built, extraProbes, err := c.buildAdapters(ctx, cfg, options.logger)
		if err != nil {
			_ = c.Close(ctx)
			return nil, err
		}
		adapters = built
		probes = append(probes, extraProbes...)
	}

	svc, err := buildServices(reg, cfg, adapters, options)
	if err != nil {
		_ = c.Close(ctx)
		return nil, err
	}
	c.Services = svc

	store, err := openIdempotencyStore(reg)
	if err != nil {
		_ = c.Close(ctx)
		return nil, err
	}
	c.Idempotency = store

	readiness, err := repositories.NewReadinessChecker(probes, repositories.WithReadinessClock(options.clock))
	if err != nil {
		_ = c.Close(ctx)
		return nil, err
	}
	c.Readiness = readiness
	return c, nil
}

// Close releases adapters in reverse order of construction, then the repositories.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		errs = append(errs, c.closers[i](ctx))
	}
	c.closers = nil
	if c.Repositories != nil {
		errs = append(errs, c.Repositories.Close(ctx))
	}
	return errors.Join(errs...)
}

func (c *Container) onClose(fn func(context.Context) error) {
	c.closers = append(c.closers, fn)
}

func (c *Container) buildAdapters(ctx context.Context, cfg config.Config, logger *zap.Logger) (Adapters, []repositories.DependencyProbe, error) {
	var (
		adapters Adapters
		probes   []repositories.DependencyProbe
		gcpOpts  []option.ClientOption
	)
	if file := strings.TrimSpace(cfg.Firebase.CredentialsFile); file != "" {
		gcpOpts = append(gcpOpts, option.WithCredentialsFile(file))
	}

	if key := strings.TrimSpace(cfg.Payments.StripeAPIKey); key != "" {
		verifier, err := payments.NewStripeVerifier(payments.StripeVerifierConfig{
			APIKey:            key,
			CaptureAuthorized: true,
			Logger:            observability.EventLogger(logger.Named("payments")),
		})
		if err != nil {
			return Adapters{}, nil, fmt.Errorf("build stripe verifier: %w", err)
		}
		adapters.Payments = verifier
	}

	if topic := strings.TrimSpace(cfg.Events.Topic); topic != "" {
		client, err := pubsub.NewClient(ctx, cfg.Events.ProjectID, gcpOpts...)
		if err != nil {
			return Adapters{}, nil, fmt.Errorf("build pubsub client: %w", err)
		}
		publisher, err := events.NewPubSubPublisher(client.Topic(topic), events.WithPublishTimeout(cfg.Events.PublishTimeout))
		if err != nil {
			_ = client.Close()
			return Adapters{}, nil, err
		}
		c.onClose(func(context.Context) error {
			publisher.Stop()
			return client.Close()
		})
		adapters.Events = publisher
	}

	if url := strings.TrimSpace(cfg.Kitchen.URL); url != "" && cfg.Features.EnableKitchenTickets {
		dispatcher, err := kitchen.Dial(url, cfg.Kitchen.Exchange, cfg.Kitchen.RoutingKey)
		if err != nil {
			return Adapters{}, nil, err
		}
		c.onClose(func(context.Context) error { return dispatcher.Close() })
		adapters.Kitchen = dispatcher
		probes = append(probes, repositories.DependencyProbe{Name: "kitchen", Optional: true, Check: dispatcher.Ping})
	}

	if dsn := strings.TrimSpace(cfg.Reporting.DatabaseURL); dsn != "" {
		projector, err := reporting.Connect(ctx, dsn)
		if err != nil {
			return Adapters{}, nil, err
		}
		c.onClose(func(context.Context) error {
			projector.Close()
			return nil
		})
		adapters.Projector = projector
		probes = append(probes, repositories.DependencyProbe{Name: "reporting", Optional: true, Check: projector.Ping})
	}

	if bucket := strings.TrimSpace(cfg.Receipts.Bucket); bucket != "" && cfg.Features.EnableReceipts {
		client, err := gcs.NewClient(ctx, gcpOpts...)
		if err != nil {
			return Adapters{}, nil, fmt.Errorf("build storage client: %w", err)
		}
		archiver, err := receipts.NewGCSArchiver(client, bucket, cfg.Receipts.Prefix, cfg.Orders.Currency)
		if err != nil {
			_ = client.Close()
			return Adapters{}, nil, err
		}
		c.onClose(func(context.Context) error { return client.Close() })
		adapters.Receipts = archiver
	}

	return adapters, probes, nil
}

// openIdempotencyStore keeps replay keys next to the orders they protect.
func openIdempotencyStore(reg repositories.Registry) (idempotency.Store, error) {
	if fs, ok := reg.(*firestorerepo.Registry); ok {
		store, err := idempotency.NewFirestoreStore(fs.Provider())
		if err != nil {
			return nil, fmt.Errorf("build idempotency store: %w", err)
		}
		return store, nil
	}
	return idempotency.NewMemoryStore(), nil
}

func buildServices(reg repositories.Registry, cfg config.Config, adapters Adapters, options containerOptions) (Services, error) {
	eventLogger := observability.EventLogger(options.logger.Named("orders"))

	customers, err := services.NewCustomerService(services.CustomerServiceDeps{
		Customers: reg.Customers(),
		Clock:     options.clock,
		Logger:    eventLogger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build customer service: %w", err)
	}

	metrics, err := observability.NewOrderMetrics(options.meter)
	if err != nil {
		return Services{}, fmt.Errorf("build order metrics: %w", err)
	}

	orders, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:     reg.Orders(),
		Catalog:    reg.Catalog(),
		Tables:     reg.Tables(),
		Promotions: reg.Promotions(),
		Usage:      reg.PromotionUsage(),
		Ledger:     reg.Ledger(),
		Counters:   reg.Counters(),
		Customers:  customers,
		UnitOfWork: reg,
		Payments:   adapters.Payments,
		Events:     adapters.Events,
		Kitchen:    adapters.Kitchen,
		Projector:  adapters.Projector,
		Receipts:   adapters.Receipts,
		Metrics:    metrics,
		Currency:   cfg.Orders.Currency,
		Clock:      options.clock,
		Logger:     eventLogger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}

	return Services{Orders: orders, Customers: customers}, nil
}
