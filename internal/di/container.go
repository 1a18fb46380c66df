// Package di assembles repositories, services and HTTP handlers from configuration.
package di

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	domain "github.com/customwear/api/internal/domain"
	"github.com/customwear/api/internal/handlers"
	"github.com/customwear/api/internal/payments"
	"github.com/customwear/api/internal/platform/auth"
	"github.com/customwear/api/internal/platform/config"
	"github.com/customwear/api/internal/platform/events"
	pfirestore "github.com/customwear/api/internal/platform/firestore"
	"github.com/customwear/api/internal/platform/idempotency"
	"github.com/customwear/api/internal/platform/observability"
	"github.com/customwear/api/internal/repositories"
	"github.com/customwear/api/internal/repositories/cache"
	firestorerepo "github.com/customwear/api/internal/repositories/firestore"
	"github.com/customwear/api/internal/repositories/memory"
	"github.com/customwear/api/internal/repositories/postgres"
	"github.com/customwear/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Orders        services.OrderService
	Inventory     services.InventoryService
	Catalog       services.CatalogService
	Customization services.CustomizationPricingService
	System        services.SystemService
}

// Container wires repositories, services and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
	Idempotency  idempotency.Store
	Build        services.BuildInfo

	logger  *zap.Logger
	clock   func() time.Time
	closers []func(context.Context) error
}

// Option customises container construction, mainly so tests can inject fakes.
type Option func(*options)

type options struct {
	registry repositories.Registry
	redis    redis.UniversalClient
	refunds  services.RefundGateway
	events   services.OrderEventPublisher
	clock    func() time.Time
	build    services.BuildInfo
}

// WithRegistry bypasses backend selection and uses reg directly.
func WithRegistry(reg repositories.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// WithRedisClient supplies the Redis client instead of dialing Config.Redis.Addr.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(o *options) { o.redis = client }
}

// WithRefundGateway overrides the payment provider used for refunds.
func WithRefundGateway(gateway services.RefundGateway) Option {
	return func(o *options) { o.refunds = gateway }
}

// WithEventPublisher overrides the order event publisher.
func WithEventPublisher(publisher services.OrderEventPublisher) Option {
	return func(o *options) { o.events = publisher }
}

// WithClock overrides the clock used by every service.
func WithClock(clock func() time.Time) Option {
	return func(o *options) { o.clock = clock }
}

// WithBuildInfo sets the metadata exposed by the health endpoints.
func WithBuildInfo(build services.BuildInfo) Option {
	return func(o *options) { o.build = build }
}

// NewContainer builds the runtime dependencies described by cfg. On failure every
// resource opened so far is closed again.
func NewContainer(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (_ *Container, err error) {
	var o options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := o.clock
	if clock == nil {
		clock = time.Now
	}
	build := o.build
	if build.StartedAt.IsZero() {
		build.StartedAt = clock().UTC()
	}

	c := &Container{Config: cfg, Build: build, logger: logger, clock: clock}
	defer func() {
		if err != nil {
			_ = c.Close(context.Background())
		}
	}()

	rdb := o.redis
	if rdb == nil && strings.TrimSpace(cfg.Redis.Addr) != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		c.closers = append(c.closers, func(context.Context) error { return client.Close() })
		rdb = client
	}
	var extraChecks []repositories.DependencyCheck
	if rdb != nil {
		extraChecks = append(extraChecks, repositories.DependencyCheck{Name: "redis", Timeout: 2 * time.Second, Check: cache.Ping(rdb)})
	}

	reg := o.registry
	probed := false
	if reg == nil {
		if reg, probed, err = c.openRegistry(ctx, extraChecks); err != nil {
			return nil, err
		}
		c.closers = append(c.closers, reg.Close)
	}
	c.Repositories = reg

	health := reg.Health()
	if !probed && len(extraChecks) > 0 {
		health = composedHealth{base: health, extra: extraChecks}
	}

	rules := reg.CustomizationRules()
	if rdb != nil {
		ruleCache, cacheErr := cache.NewRuleCache(rules, rdb, cfg.Redis.RulesTTL, observability.ServiceLogger(logger.Named("cache")))
		if cacheErr != nil {
			return nil, fmt.Errorf("build rule cache: %w", cacheErr)
		}
		rules = ruleCache
		store, storeErr := idempotency.NewRedisStore(rdb)
		if storeErr != nil {
			return nil, fmt.Errorf("build idempotency store: %w", storeErr)
		}
		c.Idempotency = store
	} else {
		c.Idempotency = idempotency.NewMemoryStore()
	}

	publisher := o.events
	if publisher == nil {
		if publisher, err = c.openPublisher(ctx); err != nil {
			return nil, err
		}
	}

	refunds := o.refunds
	if refunds == nil {
		if refunds, err = c.openRefundGateway(); err != nil {
			return nil, err
		}
	}

	if c.Services, err = c.buildServices(reg, rules, health, publisher, refunds); err != nil {
		return nil, err
	}
	return c, nil
}

// openRegistry selects the storage backend. probed reports whether extraChecks were
// handed to the registry's own health repository.
func (c *Container) openRegistry(ctx context.Context, extraChecks []repositories.DependencyCheck) (_ repositories.Registry, probed bool, _ error) {
	switch c.Config.Storage.Backend {
	case "", "memory":
		c.logger.Warn("using in-memory storage; data is lost on restart")
		return memory.NewRegistry(), false, nil
	case "firestore":
		provider := pfirestore.NewProvider(c.Config.Firestore)
		if _, err := provider.Client(ctx); err != nil {
			return nil, false, fmt.Errorf("connect firestore: %w", err)
		}
		reg, err := firestorerepo.NewRegistry(provider, firestorerepo.WithHealthChecks(extraChecks...))
		if err != nil {
			_ = provider.Close(ctx)
			return nil, false, fmt.Errorf("build firestore registry: %w", err)
		}
		return reg, true, nil
	case "postgres":
		db, err := postgres.Open(ctx, c.Config.Postgres)
		if err != nil {
			return nil, false, fmt.Errorf("connect postgres: %w", err)
		}
		if c.Config.Postgres.MigrateOnStart {
			results, err := postgres.Migrate(ctx, db)
			if err != nil {
				_ = db.Close()
				return nil, false, fmt.Errorf("migrate postgres: %w", err)
			}
			c.logger.Info("postgres migrations applied", zap.Int("count", len(results)))
		}
		reg, err := postgres.NewRegistry(db, extraChecks...)
		if err != nil {
			_ = db.Close()
			return nil, false, fmt.Errorf("build postgres registry: %w", err)
		}
		return reg, true, nil
	default:
		return nil, false, fmt.Errorf("unknown storage backend %q", c.Config.Storage.Backend)
	}
}

func (c *Container) openPublisher(ctx context.Context) (services.OrderEventPublisher, error) {
	cfg := c.Config.Events
	switch cfg.Backend {
	case "", "none":
		return nil, nil
	case "pubsub":
		client, err := pubsub.NewClient(ctx, cfg.PubSubProjectID)
		if err != nil {
			return nil, fmt.Errorf("connect pubsub: %w", err)
		}
		publisher, err := events.NewPubSubPublisher(client.Topic(cfg.PubSubTopic))
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		c.closers = append(c.closers, func(context.Context) error {
			return errors.Join(publisher.Close(), client.Close())
		})
		return publisher, nil
	case "kafka":
		publisher, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, func(context.Context) error { return publisher.Close() })
		return publisher, nil
	default:
		return nil, fmt.Errorf("unknown events backend %q", cfg.Backend)
	}
}

// openRefundGateway returns nil when no PSP is configured; refunds are then recorded locally.
func (c *Container) openRefundGateway() (services.RefundGateway, error) {
	key := strings.TrimSpace(c.Config.PSP.StripeAPIKey)
	if key == "" {
		c.logger.Warn("no payment provider configured; refunds are recorded without a provider call")
		return nil, nil
	}
	stripe, err := payments.NewStripeProvider(payments.StripeProviderConfig{
		APIKey: key,
		Logger: observability.ServiceLogger(c.logger.Named("payments")),
		Clock:  c.clock,
	})
	if err != nil {
		return nil, fmt.Errorf("build stripe provider: %w", err)
	}
	manager, err := payments.NewManager(map[string]payments.Provider{"stripe": stripe})
	if err != nil {
		return nil, fmt.Errorf("build payment manager: %w", err)
	}
	return manager, nil
}

func (c *Container) buildServices(
	reg repositories.Registry,
	rules repositories.CustomizationRuleRepository,
	health repositories.HealthRepository,
	publisher services.OrderEventPublisher,
	refunds services.RefundGateway,
) (Services, error) {
	cfg := c.Config
	logger := observability.ServiceLogger(c.logger.Named("services"))
	var svc Services

	customization, err := services.NewCustomizationPricingService(services.CustomizationPricingServiceDeps{
		Rules:  rules,
		Clock:  c.clock,
		Logger: logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build customization pricing service: %w", err)
	}
	svc.Customization = customization

	inventory, err := services.NewInventoryService(services.InventoryServiceDeps{
		Inventory:  reg.Inventory(),
		Intents:    reg.StockIntents(),
		Orders:     reg.Orders(),
		SweepAge:   cfg.Inventory.SweepAge,
		SweepBatch: cfg.Inventory.SweepBatch,
		Clock:      c.clock,
		Logger:     logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build inventory service: %w", err)
	}
	svc.Inventory = inventory

	catalog, err := services.NewCatalogService(services.CatalogServiceDeps{
		Catalog:   reg.Catalog(),
		Inventory: reg.Inventory(),
		Clock:     c.clock,
		Logger:    logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build catalog service: %w", err)
	}
	svc.Catalog = catalog

	policy, err := pricingPolicy(cfg.Orders)
	if err != nil {
		return Services{}, err
	}
	var discounts services.DiscountResolver
	if len(cfg.Orders.DiscountCodes) > 0 {
		resolver, err := services.NewStaticDiscountResolver(cfg.Orders.DiscountCodes)
		if err != nil {
			return Services{}, fmt.Errorf("build discount resolver: %w", err)
		}
		discounts = resolver
	}
	pricing, err := services.NewOrderPricingEngine(services.OrderPricingEngineDeps{
		Catalog:       reg.Catalog(),
		Customization: customization,
		Discounts:     discounts,
		Policy:        &policy,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build pricing engine: %w", err)
	}

	location, err := cfg.Orders.Location()
	if err != nil {
		return Services{}, fmt.Errorf("load order timezone: %w", err)
	}
	numbers, err := services.NewOrderNumberGenerator(services.OrderNumberGeneratorDeps{
		Counters: reg.Counters(),
		Prefix:   cfg.Orders.NumberPrefix,
		Location: location,
		Clock:    c.clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order number generator: %w", err)
	}

	orders, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:     reg.Orders(),
		Pricing:    pricing,
		Inventory:  inventory,
		Numbers:    numbers,
		Refunds:    refunds,
		UnitOfWork: reg,
		Clock:      c.clock,
		Events:     publisher,
		Logger:     logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orders

	system, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: health,
		Clock:            c.clock,
		Build:            c.Build,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build system service: %w", err)
	}
	svc.System = system
	return svc, nil
}

func pricingPolicy(cfg config.OrdersConfig) (services.PricingPolicy, error) {
	policy := services.DefaultPricingPolicy()
	if cfg.Currency != "" {
		policy.Currency = cfg.Currency
	}
	if strings.TrimSpace(cfg.TaxRate) != "" {
		rate, err := decimal.NewFromString(strings.TrimSpace(cfg.TaxRate))
		if err != nil || rate.IsNegative() {
			return services.PricingPolicy{}, fmt.Errorf("invalid order tax rate %q", cfg.TaxRate)
		}
		policy.TaxRate = rate
	}
	if cfg.ShippingFlat >= 0 {
		policy.ShippingFlat = cfg.ShippingFlat
	}
	if cfg.FreeShippingThreshold >= 0 {
		policy.FreeShippingThreshold = cfg.FreeShippingThreshold
	}
	return policy, nil
}

// Handler assembles the HTTP router with the shared middleware chain.
func (c *Container) Handler(projectID string) http.Handler {
	cfg := c.Config
	httpLogger := c.logger.Named("http")

	authenticator := auth.NewAuthenticator(cfg.Auth.SigningKey,
		auth.WithIssuer(cfg.Auth.Issuer),
		auth.WithHeaderActor(cfg.Auth.AllowHeaderActor),
		auth.WithClock(c.clock),
	)
	idem := idempotency.Middleware(c.Idempotency,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(observability.ServiceLogger(c.logger.Named("idempotency"))),
		idempotency.WithClock(c.clock),
	)

	orders := handlers.NewOrderHandlers(c.Services.Orders, handlers.WithCreateMiddleware(idem))
	catalog := handlers.NewCatalogHandlers(c.Services.Catalog)
	customizations := handlers.NewCustomizationHandlers(c.Services.Customization)
	health := handlers.NewHealthHandlers(
		handlers.WithHealthSystemService(c.Services.System),
		handlers.WithHealthBuildInfo(c.Build),
		handlers.WithHealthClock(c.clock),
	)

	return handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.Trace(projectID),
			observability.RequestLogger(httpLogger),
			observability.Recovery(httpLogger),
			authenticator.Authenticate,
			observability.AnnotateActor,
			handlers.RateLimit(cfg.RateLimits.DefaultPerMinute, cfg.RateLimits.StaffPerMinute, handlers.WithRateLimitClock(c.clock)),
		),
		handlers.WithHealthHandlers(health),
		handlers.WithOrderRoutes(orders.Routes),
		handlers.WithCatalogRoutes(catalog.Routes),
		handlers.WithCustomizationRoutes(customizations.Routes),
	)
}

// StartBackground launches the inventory sweeper and idempotency cleanup. The returned
// function cancels them and waits for both to exit.
func (c *Container) StartBackground(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup

	if c.Config.Inventory.SweepInterval > 0 && c.Services.Inventory != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			services.RunInventorySweeper(ctx, c.Services.Inventory, c.Config.Inventory.SweepInterval,
				observability.ServiceLogger(c.logger.Named("inventory")))
		}()
	}
	if c.Config.Idempotency.CleanupInterval > 0 && c.Idempotency != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			idempotency.RunCleanup(ctx, c.Idempotency, c.Config.Idempotency.CleanupInterval, c.Config.Idempotency.CleanupBatchSize,
				observability.ServiceLogger(c.logger.Named("idempotency")))
		}()
	}

	return func() {
		cancel()
		wg.Wait()
	}
}

// Close releases clients in reverse order of creation.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

// composedHealth adds probes to a registry whose health repository cannot take them.
type composedHealth struct {
	base  repositories.HealthRepository
	extra []repositories.DependencyCheck
}

func (h composedHealth) Collect(ctx context.Context) (domain.SystemHealthReport, error) {
	report, err := h.base.Collect(ctx)
	if err != nil {
		return report, err
	}
	extra, err := repositories.NewDependencyHealthRepository(h.extra)
	if err != nil {
		return report, err
	}
	more, err := extra.Collect(ctx)
	if err != nil {
		return report, err
	}
	if report.Checks == nil {
		report.Checks = make(map[string]domain.SystemHealthCheck, len(more.Checks))
	}
	for name, check := range more.Checks {
		report.Checks[name] = check
	}
	if severity(more.Status) > severity(report.Status) {
		report.Status = more.Status
	}
	return report, nil
}

func severity(status domain.HealthStatus) int {
	switch status {
	case domain.HealthStatusOK, "":
		return 0
	case domain.HealthStatusDegraded:
		return 1
	default:
		return 2
	}
}
