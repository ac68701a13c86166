package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"outreach-orchestrator/internal/adapters/httpapi"
	"outreach-orchestrator/internal/adapters/repo"
	"outreach-orchestrator/internal/infra/config"
	"outreach-orchestrator/internal/infra/db"
	httpinfra "outreach-orchestrator/internal/infra/http"
	logpkg "outreach-orchestrator/internal/infra/log"
	"outreach-orchestrator/internal/infra/metrics"
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
		logger.Fatal().Err(err).Str("tz", cfg.TZ).Msg("api: некорректный часовой пояс")
	}

	pool, err := db.Connect(cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: нет подключения к БД")
	}
	defer pool.Close()

	store := repo.NewPostgres(pool,
		repo.WithLocation(loc),
		repo.WithConnectionLimit(cfg.Limits.ConnectionsPerDay),
	)
	if err := store.Migrate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("api: миграция схемы не удалась")
	}

	if cfg.APIToken == "" {
		logger.Warn().Msg("api: API_TOKEN не задан, операторские методы открыты")
	}

	handler := httpapi.NewHandler(httpapi.Deps{
		Targets: store,
		Posts:   store,
		Reports: store,
		Quota:   store,
		Today:   store.Today,
		Ping:    pool.Ping,
	}, logpkg.Component(logger, "api"))

	server := httpinfra.NewServer(logpkg.Component(logger, "http"))
	handler.Register(server.Router, httpinfra.TokenAuthMiddleware(cfg.APIToken))

	if cfg.MetricsAddr != "" {
		metrics.StartServer(ctx, logpkg.Component(logger, "metrics"), cfg.MetricsAddr)
	}
	go func() {
		if err := server.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logger.Error().Err(err).Msg("api: сервер остановлен")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("api: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}
