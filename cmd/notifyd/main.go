package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/coursekit/notify/modules/notifications"
	"github.com/coursekit/notify/pkg/engine"
	"github.com/coursekit/notify/pkg/httpserver"
	"github.com/coursekit/notify/pkg/logger"
	"github.com/coursekit/notify/pkg/notification"
	"github.com/coursekit/notify/pkg/preferences"
	"github.com/coursekit/notify/pkg/queue"
	"github.com/coursekit/notify/pkg/sender"
	"github.com/coursekit/notify/pkg/templates"
)

type appConfig struct {
	ServiceName string `env:"SERVICE_NAME" envDefault:"notifyd"`

	DatabaseURL string `env:"DATABASE_URL"` // empty: in-memory delivery store
	RedisURL    string `env:"REDIS_URL"`    // empty: in-memory daily counter
	RulesFile   string `env:"RULES_FILE"`   // optional automation rule set

	// DevSenders routes every channel through logging senders instead of
	// real providers. Disable in production.
	DevSenders    bool   `env:"DEV_SENDERS" envDefault:"true"`
	AWSRegion     string `env:"AWS_REGION" envDefault:"us-east-1"`
	WebhookSecret string `env:"WEBHOOK_SECRET"`

	WorkerConcurrency int `env:"WORKER_CONCURRENCY" envDefault:"4"`
}

func main() {
	if err := run(); err != nil {
		slog.Error("notifyd exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	// Missing .env is fine; real deployments configure the environment
	// directly.
	_ = godotenv.Load()

	var cfg appConfig
	if err := env.Parse(&cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	var logCfg logger.Config
	if err := env.Parse(&logCfg); err != nil {
		return fmt.Errorf("failed to parse log config: %w", err)
	}
	var httpCfg httpserver.Config
	if err := env.Parse(&httpCfg); err != nil {
		return fmt.Errorf("failed to parse http config: %w", err)
	}

	log := logger.New(
		logger.WithLevel(logCfg.Level),
		logger.WithFormat(logCfg.Format),
		logger.WithService(cfg.ServiceName),
	)
	logger.SetAsDefault(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Delivery store: Postgres when configured, in-memory otherwise.
	var store engine.DeliveryStore
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to postgres: %w", err)
		}
		defer pool.Close()

		store, err = engine.NewPGDeliveryStore(pool)
		if err != nil {
			return err
		}
		log.Info("using postgres delivery store")
	} else {
		store = engine.NewMemoryDeliveryStore()
		log.Info("using in-memory delivery store")
	}

	// Preference resolver with an optional Redis-backed daily cap counter.
	resolverOpts := []preferences.ResolverOption{preferences.WithResolverLogger(log)}
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to parse redis url: %w", err)
		}
		client := redis.NewClient(redisOpts)
		defer func() { _ = client.Close() }()
		resolverOpts = append(resolverOpts, preferences.WithDailyCounter(preferences.NewRedisCounter(client)))
	} else {
		resolverOpts = append(resolverOpts, preferences.WithDailyCounter(preferences.NewMemoryCounter()))
	}
	resolver, err := preferences.NewResolver(preferences.NewMemoryStorage(), resolverOpts...)
	if err != nil {
		return err
	}

	tmpl, err := templates.NewEngine(templates.NewMemoryStorage(), templates.WithEngineLogger(log))
	if err != nil {
		return err
	}

	q := queue.NewMemoryQueue()
	enq, err := queue.NewEnqueuer(q)
	if err != nil {
		return err
	}

	senders, err := buildSenders(ctx, cfg, log)
	if err != nil {
		return err
	}

	// The memory directory stands in for the platform user service; a
	// real deployment injects an adapter over it.
	users := engine.NewMemoryDirectory()

	eng, err := engine.New(store, users, resolver, tmpl, enq,
		engine.WithSenders(senders),
		engine.WithJobCanceller(q),
		engine.WithLogger(log),
	)
	if err != nil {
		return err
	}

	if cfg.RulesFile != "" {
		rules, err := engine.LoadRulesFile(cfg.RulesFile)
		if err != nil {
			return err
		}
		if err := eng.RegisterRules(rules...); err != nil {
			return err
		}
		log.Info("loaded automation rules", slog.Int("count", len(rules)))
	}

	channels := make([]string, 0, len(notification.Channels()))
	for _, ch := range notification.Channels() {
		channels = append(channels, string(ch))
	}
	worker, err := queue.NewWorker(q, channels,
		queue.WithConcurrency(cfg.WorkerConcurrency),
		queue.WithWorkerLogger(log),
	)
	if err != nil {
		return err
	}
	eng.Attach(worker)
	go func() {
		if err := worker.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("worker stopped", slog.String("error", err.Error()))
			cancel()
		}
	}()

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Mount("/notifications", notifications.Router(notifications.Handlers{
		Engine:      eng,
		Preferences: resolver,
		Logger:      log,
	}))

	return httpserver.New(httpCfg, log).Run(ctx, r)
}

func buildSenders(ctx context.Context, cfg appConfig, log *slog.Logger) (sender.Registry, error) {
	if cfg.DevSenders {
		return sender.NewRegistry(
			sender.NewDevSender(notification.ChannelEmail, log),
			sender.NewDevSender(notification.ChannelSMS, log),
			sender.NewDevSender(notification.ChannelPush, log),
			sender.NewDevSender(notification.ChannelWebhook, log),
			sender.NewInAppSender(),
		), nil
	}

	var postmarkCfg sender.PostmarkConfig
	if err := env.Parse(&postmarkCfg); err != nil {
		return nil, fmt.Errorf("failed to parse postmark config: %w", err)
	}
	email, err := sender.NewPostmarkSender(postmarkCfg)
	if err != nil {
		return nil, err
	}

	sms, err := sender.NewSNSSender(ctx, cfg.AWSRegion)
	if err != nil {
		return nil, err
	}

	var pushCfg sender.PushConfig
	if err := env.Parse(&pushCfg); err != nil {
		return nil, fmt.Errorf("failed to parse push config: %w", err)
	}
	push, err := sender.NewPushSender(pushCfg)
	if err != nil {
		return nil, err
	}

	webhook, err := sender.NewWebhookSender(cfg.WebhookSecret)
	if err != nil {
		return nil, err
	}

	return sender.NewRegistry(email, sms, push, webhook, sender.NewInAppSender()), nil
}
