// Package app assembles the server from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"wakeline/internal/api"
	"wakeline/internal/config"
	"wakeline/internal/content"
	"wakeline/internal/database"
	"wakeline/internal/dispatch"
	"wakeline/internal/email"
	"wakeline/internal/logs"
	"wakeline/internal/outcome"
	"wakeline/internal/push"
	"wakeline/internal/receipt"
	"wakeline/internal/registry"
	"wakeline/internal/retry"
	"wakeline/internal/scheduler"
	"wakeline/internal/signaling"
	"wakeline/internal/workers"
)

type App struct {
	Config    *config.Config
	Log       *slog.Logger
	Ring      *logs.Ring
	Events    *logs.EventRing
	DB        *database.DB
	Redis     redis.UniversalClient
	Registry  *registry.Registry
	Transport *push.Transport
	Payloads  *dispatch.Dispatcher
	Scheduler *scheduler.Scheduler
	Retries   *retry.Processor
	Receipts  *receipt.Processor
	Content   content.Generator
	Signaling *signaling.SignalingServer
	Workers   *workers.WorkerManager
}

// Build connects to every configured backend and wires the components. The
// caller owns the returned App and must Close it.
func Build(ctx context.Context, cfg *config.Config, ring *logs.Ring, log *slog.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log, Ring: ring, Events: logs.NewEventRing(cfg.DebugEventCapacity)}

	db, err := database.NewDB(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	a.DB = db

	if cfg.RedisURL != "" {
		rdb, err := NewRedis(ctx, cfg)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Redis = rdb
	}

	a.Registry = registry.New(a.callStore(), log)
	a.Transport = NewTransport(ctx, cfg, log)
	dispatcher := dispatch.New(a.Transport, a.Registry, cfg.CallerHandle, cfg.CallerDisplayName, log)
	a.Payloads = dispatcher

	a.Scheduler = scheduler.New(scheduler.Options{
		Interval:    cfg.SchedulerInterval,
		GraceWindow: cfg.CallGraceWindow,
		BatchSize:   cfg.SchedulerBatchSize,
	}, db, a.ledger(), dispatcher, log)

	a.Retries = retry.New(retry.Options{
		Interval:    cfg.RetryInterval,
		MaxAttempts: cfg.MaxCallAttempts,
		Timeout:     cfg.RetryTimeout,
		Retention:   cfg.RegistryRetention,
	}, a.Registry, db, dispatcher, a.outcomeSink(), log)

	a.Receipts = receipt.New(a.Registry, db, log)
	a.Content = a.contentGenerator()
	a.Signaling = signaling.NewSignalingServer(a.Registry, 30*time.Minute, log)

	a.Workers = workers.NewWorkerManager(2*time.Minute, log)
	a.Workers.RegisterWorker(a.Scheduler)
	a.Workers.RegisterWorker(a.Retries)
	a.Workers.RegisterWorker(a.Signaling)

	return a, nil
}

// NewRedis parses REDIS_URL and verifies the connection.
func NewRedis(ctx context.Context, cfg *config.Config) (redis.UniversalClient, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	if cfg.RedisDB != 0 {
		opts.DB = cfg.RedisDB
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func (a *App) callStore() registry.Store {
	if a.Redis != nil {
		return registry.NewRedisStore(a.Redis, a.Config.RedisPrefix, a.Config.RegistryRetention).WithLogger(a.Log)
	}
	a.Log.Warn("REDIS_URL not set, pending calls are kept in memory and lost on restart")
	return registry.NewMemoryStore()
}

func (a *App) ledger() registry.Ledger {
	if a.Redis != nil {
		return registry.NewRedisLedger(a.Redis, a.Config.RedisPrefix, a.Config.LedgerRetention)
	}
	return registry.NewMemoryLedger(a.Config.LedgerRetention)
}

func (a *App) contentGenerator() content.Generator {
	var next content.Generator = content.Static{}
	if a.Config.ContentServiceURL != "" {
		next = content.NewHTTPGenerator(a.Config.ContentServiceURL, &http.Client{Timeout: 20 * time.Second})
	}
	var cache content.Cache = content.NewMemoryCache()
	if a.Redis != nil {
		cache = content.NewRedisCache(a.Redis, a.Config.RedisPrefix)
	}
	return content.NewCached(next, cache, a.Config.ContentCacheTTL, a.Log)
}

func (a *App) outcomeSink() outcome.Sink {
	sinks := outcome.Fanout{outcome.NewLogSink(a.Log), outcome.NewDBSink(a.DB)}
	if a.Config.OutcomeAlertEmail != "" {
		svc, err := email.NewEmailService(a.Config)
		if err != nil {
			a.Log.Warn("missed call alerts disabled", slog.Any("error", err))
		} else {
			sinks = append(sinks, outcome.NewEmailSink(svc, a.Config.OutcomeAlertEmail, a.Log))
		}
	}
	return sinks
}

// NewTransport builds the push transport with every channel the config
// enables. A channel that fails to initialize is logged and left out.
func NewTransport(ctx context.Context, cfg *config.Config, log *slog.Logger) *push.Transport {
	creds := WakeCredentials(cfg)
	opts := push.Options{
		WakeMissing:   creds.Missing(),
		RatePerSecond: cfg.PushRatePerSecond,
		Timeout:       cfg.PushTimeout,
		Logger:        log,
	}

	if len(opts.WakeMissing) == 0 {
		sender, err := push.NewAPNsSender(creds, cfg.CallerHandle, cfg.CallerDisplayName)
		if err != nil {
			log.Error("wake channel disabled", slog.Any("error", err))
		} else {
			opts.Wake = sender
		}
	} else {
		log.Warn("wake channel not configured", slog.Any("missing", opts.WakeMissing))
	}

	if cfg.ExpoPushURL != "" {
		opts.Expo = push.NewExpoRelay(push.ExpoOptions{
			URL:         cfg.ExpoPushURL,
			AccessToken: cfg.ExpoAccessToken,
			Title:       cfg.CallerDisplayName,
			Body:        cfg.RelayBody,
			ChannelID:   cfg.RelayChannelID,
			HTTPClient:  &http.Client{Timeout: cfg.PushTimeout},
		})
	}

	if cfg.FirebaseCredentialsPath != "" {
		relay, err := push.NewFirebaseRelay(ctx, cfg.FirebaseCredentialsPath, cfg.RelayChannelID)
		if err != nil {
			log.Error("fcm channel disabled", slog.Any("error", err))
		} else {
			opts.FCM = relay
		}
	}

	return push.NewTransport(opts)
}

func WakeCredentials(cfg *config.Config) push.WakeCredentials {
	return push.WakeCredentials{
		KeyID:      cfg.IOSVoipKeyID,
		TeamID:     cfg.IOSVoipTeamID,
		AuthKey:    cfg.IOSVoipAuthKey,
		Topic:      cfg.IOSVoipTopic,
		Production: cfg.APNsProduction,
	}
}

// Handler builds the HTTP surface over the wired components.
func (a *App) Handler() http.Handler {
	validator := push.NewCertificateValidator()
	creds := WakeCredentials(a.Config)

	checks := map[string]api.Check{"database": a.DB.Ping}
	if a.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return a.Redis.Ping(ctx).Err() }
	}

	return api.NewServer(api.Deps{
		Receipts:     a.Receipts,
		Registry:     a.Registry,
		Scheduler:    a.Scheduler,
		Retries:      a.Retries,
		Content:      a.Content,
		Sessions:     a.Signaling,
		Certificates: func() push.CertificateStatus { return validator.Validate(creds) },
		Channels:     a.Transport.Channels,
		Workers:      a.Workers.GetStats,
		Checks:       checks,
		Ring:         a.Ring,
		Events:       a.Events,
		Push:         a.Transport,
		Users:        a.DB,
		Payloads:     a.Payloads,
		Logger:       a.Log,
	}).Router()
}

// Close stops workers and releases connections. Safe on a partially built App.
func (a *App) Close() error {
	if a.Workers != nil {
		a.Workers.Stop()
	}
	var errs []error
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}
