package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	JobRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outreach_job_runs_total",
		Help: "Количество запусков периодических задач",
	}, []string{"job", "status"})

	JobDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "outreach_job_duration_seconds",
		Help:    "Длительность выполнения периодических задач",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800, 3600},
	}, []string{"job"})

	DispatchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outreach_dispatch_total",
		Help: "Действия, выполненные через исполнителя",
	}, []string{"action", "status"})

	TargetsDiscovered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "outreach_targets_discovered_total",
		Help: "Новые цели, сохранённые при поиске",
	})

	QuotaRemaining = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "outreach_connection_quota_remaining",
		Help: "Остаток дневной квоты запросов на контакт",
	})

	GenerationRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_generation_retries_total",
		Help: "Повторные попытки генерации",
	}, []string{"prompt"})

	GenerationSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_generation_skipped_total",
		Help: "Генерации, завершившиеся без результата",
	}, []string{"prompt"})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15, 20, 30, 45, 60, 90, 120, 180, 240, 300},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})

	LLMGenerationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "llm_generation_duration_seconds",
		Help:    "Длительность генерации ответа LLM",
		Buckets: prometheus.DefBuckets,
	}, []string{"model"})

	LLMTokensTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_tokens_total",
		Help: "Количество токенов, использованных LLM",
	}, []string{"model", "type"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		JobRunsTotal,
		JobDurationSeconds,
		DispatchTotal,
		TargetsDiscovered,
		QuotaRemaining,
		GenerationRetries,
		GenerationSkipped,
		NetworkRequestDuration,
		NetworkRequestTotal,
		LLMGenerationDuration,
		LLMTokensTotal,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		shutdownTimeout, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
		cancel()
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// ObserveLLMGeneration записывает длительность и токены генерации LLM.
func ObserveLLMGeneration(model string, duration time.Duration, promptTokens, completionTokens int) {
	if model == "" {
		model = "unknown"
	}
	LLMGenerationDuration.WithLabelValues(model).Observe(duration.Seconds())
	if promptTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "completion").Add(float64(completionTokens))
	}
}

// ObserveJob фиксирует результат запуска задачи планировщика.
func ObserveJob(job string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	JobRunsTotal.WithLabelValues(job, status).Inc()
	JobDurationSeconds.WithLabelValues(job).Observe(time.Since(start).Seconds())
}

// ObserveDispatch фиксирует попытку действия через исполнителя.
func ObserveDispatch(action string, ok bool) {
	status := "success"
	if !ok {
		status = "failed"
	}
	DispatchTotal.WithLabelValues(action, status).Inc()
}

// ObserveJobSkipped фиксирует пропуск задачи, занятой другим процессом.
func ObserveJobSkipped(job string) {
	JobRunsTotal.WithLabelValues(job, "skipped").Inc()
}
