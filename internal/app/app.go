// Package app assembles the fern service from its configuration
package app

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/pkg/errors"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/db"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/middleware"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/reconcile"
	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/routes/health"
	"github.com/Ramsey-B/fern/pkg/runlock"
	"github.com/Ramsey-B/fern/pkg/server"
	"github.com/Ramsey-B/fern/pkg/settings"
	"github.com/Ramsey-B/fern/pkg/startup"
	"github.com/Ramsey-B/fern/pkg/store"
	"github.com/Ramsey-B/fern/pkg/store/postgres"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/Ramsey-B/fern/pkg/tracing/exporters"
)

const Version = "0.1.0"

// App owns every long-lived component. Components are created as their startup dependency starts.
type App struct {
	cfg     *config.Config
	logger  ectologger.Logger
	startup *startup.Startup
	checker *health.Checker

	db        database.DB
	redis     *redis.Client
	producer  *kafka.Producer
	tracer    *tracing.Provider
	server    *server.Server
	service   *reconcile.Service
	defaultRC *models.ReconciliationConfig
}

func New(cfg *config.Config, logger ectologger.Logger) (*App, error) {
	defaultRC := settings.Default()
	if cfg.DefaultConfigPath != "" {
		loaded, err := settings.Load(cfg.DefaultConfigPath)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to load default reconciliation config %s", cfg.DefaultConfigPath)
		}
		defaultRC = loaded
	}

	a := &App{
		cfg:       cfg,
		logger:    logger,
		startup:   startup.NewStartup(logger, cfg.StartupMaxAttempts),
		checker:   health.NewChecker(Version),
		defaultRC: defaultRC,
	}

	a.startup.AddDependency(&startup.Dependency{Name: "tracing", StartFn: a.startTracing, StopFn: a.stopTracing})

	var needs []string
	if cfg.StoreDriver == config.StoreDriverPostgres {
		a.startup.AddDependency(&startup.Dependency{Name: "postgres", StartFn: a.startPostgres, StopFn: a.stopPostgres})
		needs = append(needs, "postgres")
	}
	if cfg.RedisEnabled {
		a.startup.AddDependency(&startup.Dependency{Name: "redis", StartFn: a.startRedis, StopFn: a.stopRedis})
		needs = append(needs, "redis")
	}
	if cfg.KafkaEnabled {
		a.startup.AddDependency(&startup.Dependency{Name: "kafka", StartFn: a.startKafka, StopFn: a.stopKafka})
		needs = append(needs, "kafka")
	}
	a.startup.AddDependency(&startup.Dependency{Name: "http", Needs: append(needs, "tracing"), StartFn: a.startHTTP, StopFn: a.stopHTTP})

	return a, nil
}

// Run starts every dependency and blocks until ctx is done or the HTTP server fails
func (a *App) Run(ctx context.Context) error {
	if err := a.startup.Start(ctx); err != nil {
		_ = a.startup.Stop(context.WithoutCancel(ctx))
		return err
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-a.server.Errors():
	}

	a.logger.Info("Shutting down")
	stopErr := a.startup.Stop(context.WithoutCancel(ctx))
	if runErr != nil {
		return runErr
	}
	return stopErr
}

func (a *App) startTracing(ctx context.Context) error {
	provider, err := tracing.NewProvider(ctx, tracing.Config{
		ServiceName: a.cfg.AppName,
		Enabled:     a.cfg.TracingEnabled,
		OTLP: exporters.OTLPConfig{
			Endpoint: a.cfg.OTLPEndpoint,
			Protocol: a.cfg.OTLPProtocol,
			Insecure: a.cfg.OTLPInsecure,
			Timeout:  10 * time.Second,
		},
	}, a.logger)
	if err != nil {
		return err
	}
	a.tracer = provider
	return nil
}

func (a *App) stopTracing(ctx context.Context) error {
	return a.tracer.Shutdown(ctx)
}

// DatabaseConfig maps the service config to the connection settings
func DatabaseConfig(cfg *config.Config) database.Config {
	return database.Config{
		Host:            cfg.DatabaseHost,
		Port:            cfg.DatabasePort,
		User:            cfg.DatabaseUserName,
		Password:        cfg.DatabasePassword,
		Name:            cfg.DatabaseName,
		SSLMode:         cfg.DatabaseSSLMode,
		MaxOpenConns:    cfg.DatabaseMaxOpenConns,
		MaxIdleConns:    cfg.DatabaseMaxIdleConns,
		ConnMaxLifetime: cfg.DatabaseConnMaxLifetime,
	}
}

// Migrate applies the schema migrations to an open connection
func Migrate(cfg *config.Config, conn database.DB, logger ectologger.Logger) error {
	return database.NewMigrationService(logger, &database.MigrationConfig{
		MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
		Embedded:            db.Migrations(),
		Version:             uint(cfg.DatabaseMigrationVersion),
		Force:               cfg.DatabaseMigrationForce,
		AutoRollback:        cfg.DatabaseMigrationAutoRollback,
	}).Migrate(conn.SQL(), cfg.DatabaseName)
}

func (a *App) startPostgres(ctx context.Context) error {
	conn, err := database.Connect(ctx, DatabaseConfig(a.cfg), a.logger)
	if err != nil {
		return err
	}
	if err := Migrate(a.cfg, conn, a.logger); err != nil {
		_ = conn.SQL().Close()
		return err
	}
	a.db = conn
	a.checker.AddCheck("database", func(ctx context.Context) error { return conn.SQL().PingContext(ctx) })
	return nil
}

func (a *App) stopPostgres(context.Context) error {
	return a.db.SQL().Close()
}

func (a *App) startRedis(ctx context.Context) error {
	client, err := redis.NewClient(ctx, redis.Config{
		Host:     a.cfg.RedisHost,
		Port:     a.cfg.RedisPort,
		Password: a.cfg.RedisPassword,
		DB:       a.cfg.RedisDB,
	}, a.logger)
	if err != nil {
		return err
	}
	a.redis = client
	a.checker.AddCheck("redis", client.Ping)
	return nil
}

func (a *App) stopRedis(context.Context) error {
	return a.redis.Close()
}

func (a *App) startKafka(context.Context) error {
	a.producer = kafka.NewProducer(kafka.ProducerConfig{
		Brokers:      a.cfg.KafkaBrokers,
		Topic:        a.cfg.KafkaEventsTopic,
		BatchSize:    a.cfg.KafkaBatchSize,
		BatchTimeout: time.Duration(a.cfg.KafkaBatchTimeout) * time.Millisecond,
		RequiredAcks: a.cfg.KafkaRequiredAcks,
		Compression:  a.cfg.KafkaCompression,
	}, a.logger)
	return nil
}

func (a *App) stopKafka(context.Context) error {
	return a.producer.Close()
}

func (a *App) buildService() *reconcile.Service {
	var st store.Store = store.NewMemoryStore()
	if a.db != nil {
		st = postgres.New(a.db, a.logger)
	}

	var locker runlock.Locker = runlock.NewMemoryLocker()
	if a.redis != nil {
		locker = runlock.NewRedisLocker(a.redis.Redis(), "", a.logger)
	}

	var publisher events.Publisher = events.NoopPublisher{}
	if a.producer != nil {
		publisher = a.producer
	}

	orchestrator := reconcile.NewOrchestrator(st, locker, a.logger, reconcile.Options{
		Workers:             a.cfg.RunWorkers,
		LockTTL:             a.cfg.RunLockTTL,
		BlockingWarnCeiling: a.cfg.BlockingWarnCeiling,
		DefaultConfig:       a.defaultRC,
	})

	return reconcile.NewService(st, orchestrator, a.logger,
		reconcile.WithEmitter(events.NewEmitter(publisher, a.logger)),
		reconcile.WithDefaultConfig(a.defaultRC),
	)
}

func (a *App) startHTTP(ctx context.Context) error {
	a.service = a.buildService()

	var verifier middleware.TokenVerifier
	if a.cfg.AuthEnabled {
		var err error
		if verifier, err = middleware.NewOIDCVerifier(ctx, a.cfg.AuthIssuerURL, a.cfg.AuthClientID); err != nil {
			return err
		}
	}

	a.server = server.New(a.service, a.checker, a.logger, server.Options{
		ServiceName:     a.cfg.AppName,
		Port:            a.cfg.Port,
		ReadTimeout:     a.cfg.ReadTimeout(),
		WriteTimeout:    a.cfg.WriteTimeout(),
		IdleTimeout:     a.cfg.IdleTimeout(),
		ShutdownTimeout: a.cfg.ShutdownTimeout(),
		Verifier:        verifier,
	})
	return a.server.Start(ctx)
}

func (a *App) stopHTTP(ctx context.Context) error {
	return a.server.Stop(ctx)
}

// Addr is the HTTP listener address once the http dependency has started
func (a *App) Addr() string {
	if a.server == nil || a.server.Addr() == nil {
		return ""
	}
	return a.server.Addr().String()
}
