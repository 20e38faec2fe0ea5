package di

import (
	"context"
	"fmt"
	"net/http"

	"github.com/goliatone/go-campus-client/api"
	"github.com/goliatone/go-campus-client/cache"
	"github.com/goliatone/go-campus-client/config"
	"github.com/goliatone/go-campus-client/internal/metrics"
	"github.com/goliatone/go-campus-client/notify"
	"github.com/goliatone/go-campus-client/pipeline"
	"github.com/goliatone/go-campus-client/session"
	"github.com/goliatone/go-campus-client/storage"
	"github.com/goliatone/go-campus-client/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Container wires the client from a config.Config. It owns the persistent
// store, the session and the cache service, and builds one pipeline shared by
// every resource domain so that token refreshes are de-duplicated.
type Container struct {
	config     config.Config
	logger     *zap.Logger
	registry   *prometheus.Registry
	metrics    *metrics.Recorder
	store      storage.Store
	closeStore func() error

	session      *session.State
	transport    *transport.Client
	pipeline     *pipeline.Pipeline
	cacheService cache.CacheService
	client       *api.Client
	reminders    *notify.Reminders
}

type options struct {
	logger     *zap.Logger
	httpClient transport.Doer
	store      storage.Store
	scheduler  notify.Scheduler
}

// Option customizes the container.
type Option func(*options)

// WithLogger replaces the logger built from the config's log level.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(d transport.Doer) Option {
	return func(o *options) { o.httpClient = d }
}

// WithStore replaces the store selected by the config. The container does
// not close it.
func WithStore(s storage.Store) Option {
	return func(o *options) { o.store = s }
}

// WithScheduler sets where event reminders are delivered. The default logs
// them.
func WithScheduler(s notify.Scheduler) Option {
	return func(o *options) { o.scheduler = s }
}

// NewContainer validates cfg, opens its store and restores the persisted
// session before returning, so that the session is authoritative from the
// first request.
func NewContainer(ctx context.Context, cfg config.Config, opts ...Option) (*Container, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		l, err := cfg.Logger()
		if err != nil {
			return nil, err
		}
		logger = l
	}

	c := &Container{
		config:     cfg,
		logger:     logger,
		registry:   prometheus.NewRegistry(),
		closeStore: func() error { return nil },
	}
	c.metrics = metrics.New(c.registry)

	if o.store != nil {
		c.store = o.store
	} else {
		store, closeFn, err := cfg.OpenStore(ctx)
		if err != nil {
			return nil, err
		}
		c.store, c.closeStore = store, closeFn
	}

	cacheService, err := cache.NewCacheService(cfg.Cache)
	if err != nil {
		_ = c.closeStore()
		return nil, fmt.Errorf("di: cache service: %w", err)
	}
	c.cacheService = cacheService

	c.session = session.New(c.store, logger.Named("session"))
	c.session.Hydrate(ctx)

	transportOpts := []transport.Option{transport.WithTimeout(cfg.HTTPTimeout), transport.WithLogger(logger.Named("transport"))}
	if o.httpClient != nil {
		transportOpts = append(transportOpts, transport.WithHTTPClient(o.httpClient))
	}
	c.transport = transport.New(cfg.APIURL, transportOpts...)

	c.pipeline = pipeline.New(c.transport, c.session,
		pipeline.Config{ProactiveRefresh: cfg.ProactiveRefresh, RefreshSkew: cfg.RefreshSkew},
		pipeline.WithLogger(logger.Named("pipeline")),
		pipeline.WithMetrics(c.metrics),
	)

	c.client = api.New(c.pipeline, c.session, c.cacheService,
		api.WithLogger(logger),
		api.WithMetrics(c.metrics),
		api.WithKeepUnusedFor(cfg.KeepUnusedFor),
	)

	scheduler := o.scheduler
	if scheduler == nil {
		scheduler = notify.LogScheduler{Logger: logger.Named("notify")}
	}
	c.reminders = notify.NewReminders(c.store, scheduler, notify.WithLogger(logger.Named("reminders")))

	logger.Debug("container ready",
		zap.String("api_url", cfg.APIURL),
		zap.String("store", string(cfg.Store)),
		zap.Bool("logged_in", c.session.LoggedIn()))
	return c, nil
}

// NewContainerWithDefaults creates a container from config.DefaultConfig.
func NewContainerWithDefaults(ctx context.Context, opts ...Option) (*Container, error) {
	return NewContainer(ctx, config.DefaultConfig(), opts...)
}

// Client returns the resource domains.
func (c *Container) Client() *api.Client {
	return c.client
}

// Session returns the session state.
func (c *Container) Session() *session.State {
	return c.session
}

// Reminders returns the event reminder scheduler.
func (c *Container) Reminders() *notify.Reminders {
	return c.reminders
}

// CacheService returns the shared cache service.
func (c *Container) CacheService() cache.CacheService {
	return c.cacheService
}

// Store returns the persistent store.
func (c *Container) Store() storage.Store {
	return c.store
}

// Config returns a copy of the configuration used by this container.
func (c *Container) Config() config.Config {
	return c.config
}

// Logger returns the root logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Gatherer exposes the container's metrics.
func (c *Container) Gatherer() prometheus.Gatherer {
	return c.registry
}

// MetricsHandler serves the container's metrics in the Prometheus format.
func (c *Container) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Close drains pending session writes and closes the store. It is safe to
// call more than once.
func (c *Container) Close() error {
	c.session.Close()
	closeFn := c.closeStore
	c.closeStore = func() error { return nil }
	_ = c.logger.Sync()
	return closeFn()
}
