package outreach

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"outreach-orchestrator/internal/domain"
)

const (
	defaultCompanyLimit = 10
	defaultBatch        = 30
	summaryChars        = 200
)

// Config задаёт параметры задач воронки.
type Config struct {
	CompanyLimit    int
	Topic           string
	HoursBack       int
	OutreachBatch   int
	MessageDelay    time.Duration
	ConnectionPause Pause
	MessagePause    Pause
}

// Deps содержит зависимости сервиса.
type Deps struct {
	Targets   domain.TargetStore
	Posts     domain.PostRepo
	Quota     *QuotaMirror
	Generator domain.TextGenerator
	Actuator  domain.Actuator
	Harvester domain.Harvester
	Ranker    domain.ContentRanker
	Events    domain.EventPublisher
	Notifier  domain.Notifier
	// Companies возвращает актуальный список целевых компаний.
	Companies func() []string
}

// Service выполняет задачи воронки: поиск, контент, запросы на контакт и сообщения.
type Service struct {
	Deps
	cfg   Config
	log   zerolog.Logger
	sleep func(ctx context.Context, d time.Duration) error
	randN func(n int64) int64
	now   func() time.Time
}

// NewService создаёт сервис воронки.
func NewService(deps Deps, cfg Config, log zerolog.Logger) *Service {
	if cfg.CompanyLimit <= 0 {
		cfg.CompanyLimit = defaultCompanyLimit
	}
	if cfg.OutreachBatch <= 0 {
		cfg.OutreachBatch = defaultBatch
	}
	if cfg.HoursBack <= 0 {
		cfg.HoursBack = 24
	}
	if cfg.Topic == "" {
		cfg.Topic = "AI"
	}
	if deps.Companies == nil {
		deps.Companies = func() []string { return nil }
	}
	return &Service{
		Deps:  deps,
		cfg:   cfg,
		log:   log,
		sleep: sleepCtx,
		randN: defaultRandN,
		now:   time.Now,
	}
}

// ResetQuotaMirror сбрасывает зеркало квоты в полночь.
func (s *Service) ResetQuotaMirror(ctx context.Context) error {
	s.Quota.Reset()
	s.logger(ctx).Info().Msg("зеркало дневной квоты сброшено")
	return nil
}

// logger возвращает логгер запуска из контекста, если планировщик его положил.
func (s *Service) logger(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &s.log
}

func (s *Service) pause(ctx context.Context, p Pause) error {
	return s.sleep(ctx, p.pick(s.randN))
}

// publish отправляет событие. Ошибка только логируется.
func (s *Service) publish(ctx context.Context, kind domain.OutreachEventKind, externalID string, payload map[string]any) {
	if s.Events == nil {
		return
	}
	event := domain.OutreachEvent{
		ID:         uuid.NewString(),
		Kind:       kind,
		ExternalID: externalID,
		RunID:      domain.RunIDFromContext(ctx),
		OccurredAt: s.now().UTC(),
		Payload:    payload,
	}
	if err := s.Events.Publish(ctx, event); err != nil {
		s.logger(ctx).Warn().Err(err).Str("kind", string(kind)).Str("external_id", externalID).Msg("не удалось опубликовать событие")
	}
}

// notify отправляет сообщение оператору. Ошибка только логируется.
func (s *Service) notify(ctx context.Context, text string) {
	if s.Notifier == nil || text == "" {
		return
	}
	if err := s.Notifier.Notify(ctx, text); err != nil {
		s.logger(ctx).Warn().Err(err).Msg("не удалось уведомить оператора")
	}
}

func jsonString(v any, fallback string) string {
	raw, err := json.Marshal(v)
	if err != nil || string(raw) == "null" {
		return fallback
	}
	return string(raw)
}

func clip(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
