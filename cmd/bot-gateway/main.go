package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"

	"outreach-orchestrator/internal/adapters/bot"
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

	if cfg.Telegram.Token == "" || cfg.Telegram.OperatorChatID == 0 {
		logger.Fatal().Msg("нужны TG_BOT_TOKEN и TG_OPERATOR_CHAT_ID")
	}
	loc, err := schedule.LoadLocation(cfg.TZ)
	if err != nil {
		logger.Fatal().Err(err).Str("tz", cfg.TZ).Msg("некорректный часовой пояс")
	}

	pool, err := db.Connect(cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("не удалось подключиться к БД")
	}
	defer pool.Close()

	store := repo.NewPostgres(pool,
		repo.WithLocation(loc),
		repo.WithConnectionLimit(cfg.Limits.ConnectionsPerDay),
	)

	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("не удалось создать бота")
	}

	h := bot.NewHandler(botAPI, logpkg.Component(logger, "bot"), store, store, store, store.Today, store.ConnectionLimit(), cfg.Telegram.OperatorChatID)

	server := httpinfra.NewServer(logpkg.Component(logger, "http"))
	server.Router.Post("/bot/webhook", func(w http.ResponseWriter, r *http.Request) {
		var update tgbotapi.Update
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			httpinfra.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.HandleUpdate(r.Context(), update)
		w.WriteHeader(http.StatusOK)
	})

	go func() {
		logger.Info().Msg("бот-гейтвей запущен")
		if err := server.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logger.Error().Err(err).Msg("HTTP сервер остановлен")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("остановка бота")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}
