package outreach

import (
	"context"
	"errors"
	"fmt"

	"outreach-orchestrator/internal/domain"
	"outreach-orchestrator/internal/infra/metrics"
)

const promptPersonalizedMessage = "personalized_message"

// AcceptanceReport описывает итог обработки принятых запросов и сообщений.
type AcceptanceReport struct {
	Accepted int
	Ignored  int
	Messages DispatchReport
}

// RunAcceptance отмечает принятые запросы и отправляет первые сообщения целям,
// у которых прошло окно ожидания.
func (s *Service) RunAcceptance(ctx context.Context) (AcceptanceReport, error) {
	log := s.logger(ctx)
	var report AcceptanceReport

	accepted, err := s.Actuator.PollAcceptedConnections(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("не удалось получить принятые запросы")
	}
	for _, externalID := range accepted {
		if ctx.Err() != nil {
			return report, nil
		}
		alog := log.With().Str("external_id", externalID).Logger()
		err := s.Targets.RecordConnectionAccepted(ctx, externalID)
		switch {
		case errors.Is(err, domain.ErrNoOpenConnection),
			errors.Is(err, domain.ErrTargetNotFound),
			errors.Is(err, domain.ErrInvalidTransition):
			alog.Debug().Err(err).Msg("сигнал о принятии проигнорирован")
			report.Ignored++
		case err != nil:
			alog.Error().Err(err).Msg("не удалось записать принятие")
			report.Ignored++
		default:
			alog.Info().Msg("запрос на контакт принят")
			report.Accepted++
			s.publish(ctx, domain.EventConnectionAccepted, externalID, nil)
		}
	}

	pending, err := s.Targets.GetPendingMessages(ctx, s.cfg.MessageDelay)
	if err != nil {
		return report, fmt.Errorf("выбор целей для сообщений: %w", err)
	}
	report.Messages.Candidates = len(pending)

	for i, t := range pending {
		if ctx.Err() != nil {
			log.Warn().Msg("рассылка сообщений прервана")
			break
		}
		s.sendFirstMessage(ctx, t, &report.Messages)
		if i < len(pending)-1 {
			if err := s.pause(ctx, s.cfg.MessagePause); err != nil {
				log.Warn().Err(err).Msg("пауза между сообщениями прервана")
				break
			}
		}
	}

	log.Info().Int("accepted", report.Accepted).Int("messages_sent", report.Messages.Sent).Int("pending", report.Messages.Candidates).Msg("обработка принятых запросов завершена")
	if report.Accepted > 0 || report.Messages.Sent > 0 {
		s.notify(ctx, fmt.Sprintf("Принято запросов: %d. Сообщения: %s", report.Accepted, report.Messages.String()))
	}
	return report, nil
}

func (s *Service) sendFirstMessage(ctx context.Context, t domain.Target, report *DispatchReport) {
	tlog := s.logger(ctx).With().Str("external_id", t.ExternalID).Logger()

	var profile domain.ProfileData
	if t.Profile != nil {
		profile = *t.Profile
	}
	message, ok := s.Generator.Generate(ctx, domain.GenerationRequest{
		PromptKey: promptPersonalizedMessage,
		Variables: map[string]string{
			"name":            t.Name,
			"company":         t.Company,
			"title":           t.Title,
			"profile_data":    jsonString(profile, "{}"),
			"recent_activity": jsonString(profile.RecentActivity, "[]"),
		},
	})
	if !ok {
		tlog.Warn().Msg("текст сообщения не сгенерирован, цель пропущена")
		report.Skipped++
		return
	}

	sent, err := s.Actuator.DispatchMessage(ctx, t.ExternalID, message)
	metrics.ObserveDispatch("message", err == nil && sent)
	switch {
	case err != nil:
		tlog.Error().Err(err).Msg("исполнитель не отправил сообщение")
		report.Failed++
		return
	case !sent:
		tlog.Warn().Msg("исполнитель отклонил сообщение")
		report.Failed++
		return
	}

	if err := s.Targets.RecordMessageSent(ctx, t.ExternalID, message, domain.MessagePersonalized, promptPersonalizedMessage); err != nil {
		tlog.Error().Err(err).Msg("не удалось записать сообщение")
		report.Failed++
		return
	}
	report.Sent++
	tlog.Info().Msg("сообщение отправлено")
	s.publish(ctx, domain.EventMessageSent, t.ExternalID, map[string]any{"type": string(domain.MessagePersonalized)})
}
