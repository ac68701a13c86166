package main

import (
	"context"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"outreach-orchestrator/internal/adapters/actuator"
	"outreach-orchestrator/internal/adapters/generator"
	"outreach-orchestrator/internal/adapters/ranker"
	"outreach-orchestrator/internal/adapters/repo"
	"outreach-orchestrator/internal/adapters/telegram"
	"outreach-orchestrator/internal/domain"
	"outreach-orchestrator/internal/infra/cache"
	"outreach-orchestrator/internal/infra/config"
	"outreach-orchestrator/internal/infra/db"
	logpkg "outreach-orchestrator/internal/infra/log"
	"outreach-orchestrator/internal/infra/metrics"
	"outreach-orchestrator/internal/infra/ollama"
	"outreach-orchestrator/internal/infra/queue"
	"outreach-orchestrator/internal/usecase/outreach"
	"outreach-orchestrator/internal/usecase/schedule"
)

func main() {
	cfg := config.Load()
	logger := logpkg.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loc, err := schedule.LoadLocation(cfg.TZ)
	if err != nil {
		logger.Fatal().Err(err).Str("tz", cfg.TZ).Msg("scheduler: некорректный часовой пояс")
	}

	pool, err := db.Connect(cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: нет подключения к БД")
	}
	defer pool.Close()

	store := repo.NewPostgres(pool,
		repo.WithLocation(loc),
		repo.WithConnectionLimit(cfg.Limits.ConnectionsPerDay),
	)
	if err := store.Migrate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("scheduler: миграция схемы не удалась")
	}

	gen := generator.New(ollama.NewClient(cfg.Ollama.BaseURL, cfg.Ollama.Timeout), generator.Config{
		Model:       cfg.Ollama.Model,
		Temperature: cfg.Ollama.Temperature,
		MaxTokens:   cfg.Ollama.MaxTokens,
		Timeout:     cfg.Ollama.Timeout,
		MaxAttempts: cfg.Ollama.MaxAttempts,
		RetryDelay:  cfg.Ollama.RetryDelay,
	}, logpkg.Component(logger, "generator"))
	if err := gen.LoadTemplates(cfg.Ollama.PromptsPath); err != nil {
		logger.Warn().Err(err).Str("path", cfg.Ollama.PromptsPath).Msg("scheduler: шаблоны не загружены, используются встроенные")
	}
	if cfg.Ollama.WatchPrompts {
		go func() {
			if err := gen.Watch(ctx); err != nil {
				logger.Warn().Err(err).Msg("scheduler: слежение за шаблонами не запущено")
			}
		}()
	}
	if !gen.CheckHealth(ctx) {
		logger.Warn().Str("model", cfg.Ollama.Model).Msg("scheduler: сервис генерации недоступен или модель не загружена")
	}

	act, err := actuator.New(cfg.Actuator.BaseURL, actuator.WithTimeout(cfg.Actuator.Timeout))
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: некорректный адрес исполнителя")
	}

	var (
		redisClient *redis.Client
		lock        *cache.RedisLock
	)
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		lock = cache.NewRedisLock(redisClient)
	}

	events, closeEvents := newEventPublisher(cfg, redisClient, logger)
	defer closeEvents()

	companies := func() []string {
		if list := gen.TargetCompanies(); len(list) > 0 {
			return list
		}
		return cfg.TargetCompanies
	}

	mirror := outreach.NewQuotaMirror(store, store.ConnectionLimit(), loc)
	svc := outreach.NewService(outreach.Deps{
		Targets:   store,
		Posts:     store,
		Quota:     mirror,
		Generator: gen,
		Actuator:  act,
		Harvester: act,
		Ranker:    ranker.NewViral(store, logpkg.Component(logger, "ranker")),
		Events:    events,
		Notifier:  newNotifier(cfg, logger),
		Companies: companies,
	}, outreach.Config{
		CompanyLimit:    cfg.Limits.CompanyLimit,
		Topic:           cfg.Content.Topic,
		HoursBack:       cfg.Content.HoursBack,
		OutreachBatch:   cfg.Limits.OutreachBatch,
		MessageDelay:    cfg.MessageDelay(),
		ConnectionPause: outreach.Pause{Min: cfg.Limits.ConnectionDelayMin, Max: cfg.Limits.ConnectionDelayMax},
		MessagePause:    outreach.Pause{Min: cfg.Limits.MessageDelayMin, Max: cfg.Limits.MessageDelayMax},
	}, logpkg.Component(logger, "outreach"))

	var opts []schedule.Option
	if lock != nil {
		opts = append(opts, schedule.WithLock(lock, cfg.Schedule.LockTTL), schedule.WithDailyGuard(lock))
	}
	sched := schedule.New(loc, cfg.Schedule.Poll, logpkg.Component(logger, "scheduler"), opts...)

	mustRegister(logger, sched.DailyAt("discovery", cfg.Schedule.DiscoveryAt, func(ctx context.Context) error {
		_, err := svc.RunDiscovery(ctx)
		return err
	}))
	mustRegister(logger, sched.DailyAt("content", cfg.Schedule.ContentAt, func(ctx context.Context) error {
		_, err := svc.RunContent(ctx)
		return err
	}))
	mustRegister(logger, sched.Every("connections", cfg.Schedule.ConnectionsEvery, func(ctx context.Context) error {
		_, err := svc.RunConnections(ctx)
		return err
	}))
	mustRegister(logger, sched.Every("acceptance", cfg.Schedule.AcceptanceEvery, func(ctx context.Context) error {
		_, err := svc.RunAcceptance(ctx)
		return err
	}))
	mustRegister(logger, sched.LocalDailyAt("quota_reset", "00:00", svc.ResetQuotaMirror))

	if cfg.MetricsAddr != "" {
		metrics.StartServer(ctx, logpkg.Component(logger, "metrics"), cfg.MetricsAddr)
	}

	logger.Info().
		Str("tz", loc.String()).
		Int("connections_per_day", store.ConnectionLimit()).
		Int("companies", len(companies())).
		Msg("scheduler: старт")
	if err := sched.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("scheduler: цикл завершился с ошибкой")
	}
	logger.Info().Msg("scheduler: остановлен")
}

func mustRegister(logger zerolog.Logger, err error) {
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: не удалось зарегистрировать задачу")
	}
}

// newEventPublisher выбирает RabbitMQ, затем Redis, иначе события отбрасываются.
func newEventPublisher(cfg config.AppConfig, redisClient *redis.Client, logger zerolog.Logger) (domain.EventPublisher, func()) {
	if cfg.RabbitURL != "" {
		pub, err := queue.NewRabbitEventPublisher(cfg.RabbitURL, cfg.Queues.EventsExchange)
		if err == nil {
			logger.Info().Str("exchange", cfg.Queues.EventsExchange).Msg("scheduler: события публикуются в RabbitMQ")
			return pub, func() { _ = pub.Close() }
		}
		logger.Warn().Err(err).Msg("scheduler: RabbitMQ недоступен")
	}
	if redisClient != nil {
		logger.Info().Str("key", cfg.Queues.Events).Msg("scheduler: события публикуются в Redis")
		return queue.NewRedisEventQueue(redisClient, cfg.Queues.Events), func() {}
	}
	return queue.Noop{}, func() {}
}

func newNotifier(cfg config.AppConfig, logger zerolog.Logger) domain.Notifier {
	if cfg.Telegram.Token == "" || cfg.Telegram.OperatorChatID == 0 {
		return telegram.Silent{}
	}
	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Warn().Err(err).Msg("scheduler: бот недоступен, уведомления отключены")
		return telegram.Silent{}
	}
	return telegram.NewNotifier(botAPI, cfg.Telegram.OperatorChatID)
}
