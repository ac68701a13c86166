package outreach

import (
	"context"
	"fmt"

	"outreach-orchestrator/internal/domain"
)

const (
	promptViralPost = "viral_post"
	cachedFallback  = 5
)

// ContentReport описывает итог подготовки черновика.
type ContentReport struct {
	Harvested int
	Selected  int
	Cached    bool
	PostID    int64
}

// RunContent собирает свежие популярные посты (или берёт кэш), строит сводку
// закономерностей и сохраняет черновик поста на одобрение.
func (s *Service) RunContent(ctx context.Context) (ContentReport, error) {
	log := s.logger(ctx)
	var report ContentReport

	harvested, err := s.Harvester.HarvestCandidatePosts(ctx, s.cfg.Topic, s.cfg.HoursBack)
	if err != nil {
		log.Warn().Err(err).Msg("сбор постов не удался, используем кэш")
	}
	report.Harvested = len(harvested)

	top, err := s.Ranker.SelectViral(ctx, harvested, s.cfg.HoursBack)
	if err != nil {
		log.Warn().Err(err).Msg("отбор популярных постов не удался")
		top = nil
	}
	if len(top) == 0 {
		top, err = s.Ranker.GetCached(ctx, cachedFallback)
		if err != nil {
			return report, fmt.Errorf("чтение кэша постов: %w", err)
		}
		report.Cached = true
	}
	report.Selected = len(top)
	if len(top) == 0 {
		log.Info().Msg("нет подходящих постов, черновик не создан")
		return report, nil
	}

	insights := s.Ranker.BuildInsights(top, report.Cached)
	text, ok := s.Generator.Generate(ctx, domain.GenerationRequest{
		PromptKey: promptViralPost,
		Variables: map[string]string{"viral_insights": jsonString(insights, "{}")},
	})
	if !ok {
		log.Warn().Msg("модель не вернула текст поста")
		return report, nil
	}

	post, err := s.Posts.CreatePost(ctx, domain.Post{
		Content:     text,
		ScheduledAt: s.now(),
		Insights:    &insights,
		PromptKey:   promptViralPost,
	})
	if err != nil {
		return report, fmt.Errorf("сохранение черновика: %w", err)
	}
	report.PostID = post.ID

	log.Info().Int64("post_id", post.ID).Bool("cached", report.Cached).Str("preview", clip(text, 100)).Msg("черновик поста ожидает одобрения")
	s.publish(ctx, domain.EventPostDrafted, "", map[string]any{"post_id": post.ID, "cached": report.Cached})
	s.notify(ctx, fmt.Sprintf("Новый черновик поста #%d ждёт одобрения:\n\n%s", post.ID, text))
	return report, nil
}
