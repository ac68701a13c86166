package outreach

import (
	"context"
	"errors"
	"fmt"

	"outreach-orchestrator/internal/domain"
	"outreach-orchestrator/internal/infra/metrics"
)

const promptConnectionRequest = "connection_request"

// DispatchReport описывает итог рассылки.
type DispatchReport struct {
	Candidates int
	Sent       int
	Skipped    int
	Failed     int
	QuotaHit   bool
}

func (r DispatchReport) String() string {
	return fmt.Sprintf("отправлено %d из %d, пропущено %d, ошибок %d", r.Sent, r.Candidates, r.Skipped, r.Failed)
}

// RunConnections отправляет запросы на контакт лучшим целям, пока есть дневная квота.
// Содержимое генерируется и отправляется до записи в хранилище; запись резервирует
// квоту атомарно, отказ хранилища останавливает прогон.
func (s *Service) RunConnections(ctx context.Context) (DispatchReport, error) {
	log := s.logger(ctx)
	var report DispatchReport

	remaining, err := s.Quota.Refresh(ctx)
	if err != nil {
		return report, fmt.Errorf("чтение квоты: %w", err)
	}
	if remaining <= 0 {
		log.Info().Msg("дневной лимит запросов исчерпан")
		report.QuotaHit = true
		return report, nil
	}

	batch := remaining
	if batch > s.cfg.OutreachBatch {
		batch = s.cfg.OutreachBatch
	}
	targets, err := s.Targets.GetTargetsForOutreach(ctx, batch)
	if err != nil {
		return report, fmt.Errorf("выбор целей: %w", err)
	}
	report.Candidates = len(targets)

	for i, t := range targets {
		if ctx.Err() != nil {
			log.Warn().Msg("рассылка запросов прервана")
			break
		}
		if s.Quota.Remaining() <= 0 {
			report.QuotaHit = true
			break
		}
		tlog := log.With().Str("external_id", t.ExternalID).Logger()

		message, ok := s.Generator.Generate(ctx, domain.GenerationRequest{
			PromptKey: promptConnectionRequest,
			Variables: map[string]string{
				"name":    t.Name,
				"company": t.Company,
				"title":   t.Title,
				"summary": clip(t.Summary, summaryChars),
			},
		})
		if !ok {
			tlog.Warn().Msg("текст запроса не сгенерирован, цель пропущена")
			report.Skipped++
			continue
		}

		sent, err := s.Actuator.DispatchConnection(ctx, t.ExternalID, message)
		metrics.ObserveDispatch("connection", err == nil && sent)
		switch {
		case err != nil:
			tlog.Error().Err(err).Msg("исполнитель не отправил запрос")
			report.Failed++
		case !sent:
			tlog.Warn().Msg("исполнитель отклонил запрос")
			report.Failed++
		default:
			stop := s.recordConnection(ctx, t, message, &report)
			if stop {
				report.QuotaHit = true
				log.Info().Int("sent", report.Sent).Msg("квота исчерпана, прогон остановлен")
				return report, nil
			}
		}

		if i < len(targets)-1 {
			if err := s.pause(ctx, s.cfg.ConnectionPause); err != nil {
				log.Warn().Err(err).Msg("пауза между запросами прервана")
				break
			}
		}
	}

	log.Info().Int("sent", report.Sent).Int("candidates", report.Candidates).Int("skipped", report.Skipped).Int("failed", report.Failed).Msg("рассылка запросов завершена")
	if report.Sent > 0 {
		s.notify(ctx, "Запросы на контакт: "+report.String())
	}
	return report, nil
}

// recordConnection сохраняет отправленный запрос. Возвращает true, если квота исчерпана.
func (s *Service) recordConnection(ctx context.Context, t domain.Target, message string, report *DispatchReport) bool {
	tlog := s.logger(ctx).With().Str("external_id", t.ExternalID).Logger()

	recorded, err := s.Targets.RecordConnectionSent(ctx, t.ExternalID, message)
	switch {
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrTargetNotFound):
		tlog.Warn().Err(err).Msg("запрос не записан: цель в неподходящем состоянии")
		report.Skipped++
		return false
	case err != nil:
		tlog.Error().Err(err).Msg("не удалось записать запрос")
		report.Failed++
		return false
	case !recorded:
		tlog.Warn().Msg("хранилище отказало по квоте, запрос не записан")
		if _, err := s.Quota.Refresh(ctx); err != nil {
			tlog.Warn().Err(err).Msg("не удалось обновить квоту")
		}
		return true
	}

	report.Sent++
	remaining, err := s.Quota.Refresh(ctx)
	if err != nil {
		tlog.Warn().Err(err).Msg("не удалось обновить квоту")
	}
	tlog.Info().Int("remaining", remaining).Msg("запрос на контакт отправлен")
	s.publish(ctx, domain.EventConnectionSent, t.ExternalID, map[string]any{"company": t.Company})
	return false
}
