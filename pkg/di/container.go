package di

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/goliatone/go-vplan-cache/besteschule"
	"github.com/goliatone/go-vplan-cache/cache"
	"github.com/goliatone/go-vplan-cache/config"
	"github.com/goliatone/go-vplan-cache/freshness"
	"github.com/goliatone/go-vplan-cache/internal/logging"
	"github.com/goliatone/go-vplan-cache/internal/telemetry"
	"github.com/goliatone/go-vplan-cache/remote"
	"github.com/goliatone/go-vplan-cache/store"
)

// Container wires the store, the remote client, the freshness engine, the
// repositories and the sync coordinator from one configuration.
// Every collaborator is built once and handed to its users explicitly.
type Container struct {
	config        config.Config
	store         *store.Store
	client        *remote.Client
	cacheService  cache.CacheService
	keySerializer cache.KeySerializer
	engine        *freshness.Engine
	metrics       *telemetry.Metrics
	registry      *prometheus.Registry
	repos         *besteschule.Repositories
	coordinator   *besteschule.Coordinator
}

// Option adjusts how the container builds its collaborators.
type Option func(*options)

type options struct {
	clock      func() time.Time
	httpClient *http.Client
	logger     *zerolog.Logger
}

// WithClock sets the time source used for staleness and cachedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.clock = now }
}

// WithHTTPClient replaces the http.Client the remote client sends with.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

// WithLogger sets the base logger; components derive their own from it.
func WithLogger(log zerolog.Logger) Option {
	return func(o *options) { o.logger = &log }
}

// NewContainer opens and migrates the database and builds every component.
// The caller owns the container and must Close it.
func NewContainer(ctx context.Context, cfg config.Config, opts ...Option) (*Container, error) {
	o := options{clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	c := &Container{
		config:        cfg,
		keySerializer: cache.NewDefaultKeySerializer(),
	}

	// Metrics stay nil when disabled; every recorder is nil-safe.
	if cfg.Metrics.Enabled {
		c.registry = prometheus.NewRegistry()
		c.metrics = telemetry.New(c.registry)
	}

	component := func(name string) zerolog.Logger {
		if o.logger == nil {
			return logging.Component(name)
		}
		return o.logger.With().Str("component", name).Logger()
	}

	svc, err := cache.NewCacheService(cfg.Refresh)
	if err != nil {
		return nil, fmt.Errorf("refresh cache: %w", err)
	}
	c.cacheService = svc

	db, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	c.store = store.New(db, store.WithLogger(component("store")))
	if err := c.store.Migrate(ctx); err != nil {
		c.store.Close()
		return nil, err
	}

	clientOpts := []remote.Option{remote.WithLogger(component("remote")), remote.WithMetrics(c.metrics)}
	if o.httpClient != nil {
		clientOpts = append(clientOpts, remote.WithHTTPClient(o.httpClient))
	}
	c.client = remote.NewClient(cfg.Remote, clientOpts...)

	c.engine = freshness.NewEngine(svc,
		freshness.WithClock(o.clock),
		freshness.WithLogger(component("freshness")),
		freshness.WithMetrics(c.metrics),
	)

	deps := besteschule.Deps{
		Store:       c.store,
		Client:      c.client,
		Engine:      c.engine,
		Keys:        c.keySerializer,
		Metrics:     c.metrics,
		Log:         o.logger,
		IdleTimeout: cfg.Registry.IdleTimeout,
	}
	c.repos = besteschule.NewRepositories(deps)
	c.coordinator = besteschule.NewCoordinator(deps, c.repos)

	return c, nil
}

// NewContainerWithDefaults builds a container from config.Default.
func NewContainerWithDefaults(ctx context.Context, opts ...Option) (*Container, error) {
	return NewContainer(ctx, config.Default(), opts...)
}

// Config returns the configuration the container was built from.
func (c *Container) Config() config.Config {
	return c.config
}

func (c *Container) Store() *store.Store {
	return c.store
}

func (c *Container) Client() *remote.Client {
	return c.client
}

// CacheService returns the refresh coalescing cache shared by all reads.
func (c *Container) CacheService() cache.CacheService {
	return c.cacheService
}

func (c *Container) KeySerializer() cache.KeySerializer {
	return c.keySerializer
}

func (c *Container) Engine() *freshness.Engine {
	return c.engine
}

func (c *Container) Repositories() *besteschule.Repositories {
	return c.repos
}

func (c *Container) Coordinator() *besteschule.Coordinator {
	return c.coordinator
}

// Metrics returns the collectors, or nil when metrics are disabled.
func (c *Container) Metrics() *telemetry.Metrics {
	return c.metrics
}

// Gatherer exposes the metrics registry, or nil when metrics are disabled.
func (c *Container) Gatherer() prometheus.Gatherer {
	if c.registry == nil {
		return nil
	}
	return c.registry
}

// Close releases subscriptions, waits for background refreshes and closes
// the database, in that order.
func (c *Container) Close() error {
	c.repos.Close()
	c.engine.Close()
	return c.store.Close()
}
