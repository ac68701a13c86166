package outreach

import (
	"context"
	"errors"
	"fmt"

	"outreach-orchestrator/internal/domain"
	"outreach-orchestrator/internal/infra/metrics"
)

const promptProfileAnalyzer = "profile_analyzer"

// DiscoveryReport описывает итог поиска целей.
type DiscoveryReport struct {
	Profiles   int
	Added      int
	Duplicates int
	Failed     int
}

func (r DiscoveryReport) String() string {
	return fmt.Sprintf("Поиск целей: профилей %d, добавлено %d, дубликатов %d, ошибок %d", r.Profiles, r.Added, r.Duplicates, r.Failed)
}

// RunDiscovery ищет кандидатов в целевых компаниях, оценивает профили моделью
// и сохраняет новые цели. Дубликаты пропускаются молча.
func (s *Service) RunDiscovery(ctx context.Context) (DiscoveryReport, error) {
	log := s.logger(ctx)
	var report DiscoveryReport

	companies := s.Companies()
	if len(companies) > s.cfg.CompanyLimit {
		companies = companies[:s.cfg.CompanyLimit]
	}
	if len(companies) == 0 {
		log.Warn().Msg("список целевых компаний пуст, поиск пропущен")
		return report, nil
	}

	profiles, err := s.Actuator.SearchCandidates(ctx, companies)
	if err != nil {
		return report, fmt.Errorf("поиск кандидатов: %w", err)
	}
	report.Profiles = len(profiles)

	for _, profile := range profiles {
		if ctx.Err() != nil {
			log.Warn().Msg("поиск прерван")
			break
		}
		target := profile.ToTarget()
		plog := log.With().Str("external_id", target.ExternalID).Str("company", target.Company).Logger()

		if err := target.Validate(); err != nil {
			plog.Warn().Err(err).Msg("некорректный профиль пропущен")
			report.Failed++
			continue
		}

		signal := DefaultSignal
		if analysis, ok := s.Generator.Generate(ctx, domain.GenerationRequest{
			PromptKey: promptProfileAnalyzer,
			Variables: map[string]string{"profile_html": describeProfile(profile)},
		}); ok {
			signal = ParseProfileSignal(analysis)
		}
		target.IsHiringManager = signal.IsHiringManager
		target.RelevanceScore = signal.RelevanceScore

		if err := s.Quota.NoteProfileView(ctx); err != nil {
			plog.Warn().Err(err).Msg("не удалось учесть просмотр профиля")
		}

		if _, err := s.Targets.AddTarget(ctx, target); err != nil {
			if errors.Is(err, domain.ErrDuplicateTarget) {
				plog.Debug().Msg("цель уже известна")
				report.Duplicates++
				continue
			}
			plog.Error().Err(err).Msg("не удалось сохранить цель")
			report.Failed++
			continue
		}
		report.Added++
		metrics.TargetsDiscovered.Inc()
		s.publish(ctx, domain.EventTargetDiscovered, target.ExternalID, map[string]any{
			"company":           target.Company,
			"is_hiring_manager": target.IsHiringManager,
			"relevance_score":   target.RelevanceScore,
		})
	}

	log.Info().Int("profiles", report.Profiles).Int("added", report.Added).Int("duplicates", report.Duplicates).Msg("поиск целей завершён")
	if report.Added > 0 {
		s.notify(ctx, report.String())
	}
	return report, nil
}
