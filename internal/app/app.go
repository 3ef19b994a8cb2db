package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/Dhoini/purchase-lifecycle/internal/api/rest"
	"github.com/Dhoini/purchase-lifecycle/internal/api/rest/middleware"
	"github.com/Dhoini/purchase-lifecycle/internal/billing"
	"github.com/Dhoini/purchase-lifecycle/internal/config"
	"github.com/Dhoini/purchase-lifecycle/internal/domain"
	"github.com/Dhoini/purchase-lifecycle/internal/kafka"
	"github.com/Dhoini/purchase-lifecycle/internal/kafka/producer"
	"github.com/Dhoini/purchase-lifecycle/internal/metrics"
	"github.com/Dhoini/purchase-lifecycle/internal/provider"
	"github.com/Dhoini/purchase-lifecycle/internal/provider/fake"
	"github.com/Dhoini/purchase-lifecycle/internal/provider/playstore"
	stripeprovider "github.com/Dhoini/purchase-lifecycle/internal/provider/stripe"
	"github.com/Dhoini/purchase-lifecycle/internal/repository"
	"github.com/Dhoini/purchase-lifecycle/internal/repository/postgres"
	"github.com/Dhoini/purchase-lifecycle/internal/scheduler"
	"github.com/Dhoini/purchase-lifecycle/internal/service"
	"github.com/Dhoini/purchase-lifecycle/pkg/logger"
)

const (
	systemMetricsInterval = 15 * time.Second
	refreshJobTimeout     = time.Minute
)

// App представляет собой контейнер для всех компонентов приложения
type App struct {
	Config      *config.Config
	Logger      *logger.Logger
	Registry    *prometheus.Registry
	Provider    provider.Provider
	Coordinator *billing.Coordinator
	Service     *service.EntitlementService
	Scheduler   *scheduler.Scheduler
	Server      *rest.Server

	systemMetrics *metrics.SystemMetrics
	closers       []io.Closer
}

// NewLogger создает логгер по секции log конфигурации
func NewLogger(cfg config.LogConfig) (*logger.Logger, error) {
	level, err := logger.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	if cfg.Format == "json" {
		return logger.NewProduction(level), nil
	}
	return logger.New(level), nil
}

// New создает и связывает все компоненты приложения. Недоступные Redis и
// Kafka не фатальны: сервис продолжает работу без кэша и без событий.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (_ *App, err error) {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	a := &App{
		Config:   cfg,
		Logger:   log,
		Registry: prometheus.NewRegistry(),
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.Registry.MustRegister(collectors.NewGoCollector())
	billingMetrics := metrics.NewBillingMetrics(a.Registry)
	a.systemMetrics = metrics.NewSystemMetrics(a.Registry, log.Named("metrics"))

	subs, oneTime, err := a.newStores(ctx)
	if err != nil {
		return nil, err
	}

	events := a.newEvents(ctx, billingMetrics)

	catalog := domain.DefaultCatalog()
	p, err := newProvider(cfg, catalog, log)
	if err != nil {
		return nil, err
	}
	a.Provider = p

	// Сервис создается после координатора, хук подтверждения обращается к нему позже
	var svc *service.EntitlementService
	coordinator := billing.NewCoordinator(p, log,
		billing.WithCatalog(catalog),
		billing.WithMetrics(billingMetrics),
		billing.WithReconnect(reconnectPolicy(cfg.Billing)),
		billing.WithAutoAcknowledge(cfg.Billing.AutoAcknowledge),
		billing.WithAcknowledgeHook(func(ctx context.Context, token string) {
			if svc != nil {
				svc.PublishAcknowledged(ctx, token)
			}
		}),
	)
	a.Coordinator = coordinator

	opts := []service.Option{}
	if events != nil {
		opts = append(opts, service.WithEvents(events))
	}
	if tracker, ok := p.(service.TokenTracker); ok {
		opts = append(opts, service.WithTokenTracker(tracker))
	}
	svc = service.NewEntitlementService(coordinator, subs, oneTime, log, opts...)
	a.Service = svc

	a.Scheduler = scheduler.New(log.Named("scheduler"), refreshJobTimeout)
	if err := a.Scheduler.Add("refresh", cfg.Billing.RefreshSchedule, svc.Refresh); err != nil {
		return nil, err
	}

	deps := rest.RouterDeps{
		Purchases:    svc,
		BillingState: func() string { return coordinator.State().String() },
		Registry:     a.Registry,
	}
	if h, ok := p.(provider.NotificationHandler); ok {
		deps.Notifications = h
	}
	if cfg.Auth.JWTSecret != "" {
		deps.Validator = &middleware.DefaultTokenValidator{Secret: []byte(cfg.Auth.JWTSecret)}
	} else {
		log.Warn("JWT secret is not set, API authentication is disabled")
	}

	router := rest.SetupRouter(log.Named("http"), deps)
	a.Server = rest.NewServer(router, cfg.App, log.Named("http"))

	return a, nil
}

func (a *App) newStores(ctx context.Context) (repository.SubscriptionStore, repository.OneTimeProductStore, error) {
	log := a.Logger.Named("storage")

	var (
		subs    repository.SubscriptionStore
		oneTime repository.OneTimeProductStore
	)
	if a.Config.Database.DSN != "" {
		db, err := postgres.NewConnection(ctx, a.Config.Database.DSN, log)
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, db)
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			return nil, nil, err
		}
		subs, oneTime = postgresStores(db, log)
	} else {
		log.Info("Database DSN is not set, using in-memory storage")
		subs = repository.NewMemorySubscriptionStore(log)
		oneTime = repository.NewMemoryOneTimeProductStore(log)
	}

	if a.Config.Redis.Addr != "" {
		cache, err := a.newCache(ctx)
		if err != nil {
			log.Warnw("Redis is unavailable, continuing without cache", "error", err)
		} else {
			subs = repository.NewCachedStore(subs, cache, "subscriptions", log)
			oneTime = repository.NewCachedStore(oneTime, cache, "one_time_products", log)
		}
	}

	return repository.NewFeed(subs, log), repository.NewFeed(oneTime, log), nil
}

func postgresStores(db *sqlx.DB, log *logger.Logger) (repository.SubscriptionStore, repository.OneTimeProductStore) {
	return postgres.NewSubscriptionStore(db, log), postgres.NewOneTimeProductStore(db, log)
}

func (a *App) newCache(ctx context.Context) (*repository.RedisCache, error) {
	cfg := a.Config.Redis
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	cache := repository.NewRedisCacheFromClient(client, cfg.TTL, a.Logger.Named("cache"))
	a.closers = append(a.closers, cache)
	a.Logger.Infow("Connected to Redis", "addr", cfg.Addr)
	return cache, nil
}

func (a *App) newEvents(ctx context.Context, recorder producer.Recorder) producer.PurchaseProducer {
	cfg := a.Config.Kafka
	log := a.Logger.Named("kafka")
	if len(cfg.Brokers) == 0 {
		log.Info("Kafka brokers are not set, purchase events are disabled")
		return nil
	}

	if cfg.EnsureTopics {
		if err := kafka.EnsureTopics(ctx, cfg.Brokers, log); err != nil {
			log.Warnw("Failed to ensure Kafka topics", "error", err)
		}
	}

	kafkaCfg := kafka.NewConfig(cfg.Brokers)
	if cfg.ClientID != "" {
		kafkaCfg.ClientID = cfg.ClientID
	}
	sp, err := kafka.NewSyncProducer(kafkaCfg, log)
	if err != nil {
		log.Warnw("Kafka is unavailable, purchase events are disabled", "error", err)
		return nil
	}

	events := producer.NewKafkaPurchaseProducer(sp, a.Config.Provider.Name, recorder, log)
	a.closers = append(a.closers, events)
	return events
}

func newProvider(cfg *config.Config, catalog domain.Catalog, log *logger.Logger) (provider.Provider, error) {
	switch cfg.Provider.Name {
	case "fake", "":
		log.Warn("Using the in-process fake billing provider")
		return fake.NewProvider(), nil
	case "playstore":
		return playstore.New(playstore.Config{
			PackageName:     cfg.Playstore.PackageName,
			CredentialsFile: cfg.Playstore.CredentialsFile,
		}, catalog, log)
	case "stripe":
		return stripeprovider.New(stripeprovider.Config{
			APIKey:        cfg.Stripe.APIKey,
			WebhookSecret: cfg.Stripe.WebhookSecret,
			CustomerID:    cfg.Stripe.CustomerID,
		}, catalog, log)
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedProvider, cfg.Provider.Name)
	}
}

func reconnectPolicy(cfg config.BillingConfig) billing.ReconnectPolicy {
	return billing.ReconnectPolicy{
		Enabled:         cfg.Reconnect,
		InitialInterval: cfg.ReconnectInitial,
		MaxInterval:     cfg.ReconnectMax,
		MaxElapsedTime:  cfg.ReconnectMaxElapsed,
		MaxRetries:      cfg.ReconnectMaxRetries,
	}
}

// Connect передает провайдеру сохраненные токены и подключает координатор.
// Токены передаются до Attach: первый запрос покупок идет сразу после
// установки соединения.
func (a *App) Connect(ctx context.Context) {
	if err := a.Service.Seed(ctx); err != nil {
		a.Logger.Warnw("Failed to seed purchase tokens from storage", "error", err)
	}
	a.Coordinator.Attach(ctx)
}

// Run подключается к провайдеру и обслуживает HTTP до отмены ctx
func (a *App) Run(ctx context.Context) error {
	a.Connect(ctx)
	defer a.Coordinator.Detach()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.Service.Run(gctx) })
	g.Go(func() error { return a.Scheduler.Run(gctx) })
	g.Go(func() error {
		a.systemMetrics.Run(gctx, systemMetricsInterval)
		return nil
	})
	g.Go(func() error {
		if err := a.Server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.Logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.App.ShutdownTimeout)
		defer cancel()
		return a.Server.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	a.Logger.Info("Server exited properly")
	return nil
}

// Close освобождает ресурсы в обратном порядке создания
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.Logger.Warnw("Failed to close resource", "error", err)
		}
	}
	a.closers = nil
}
