package ranker

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"outreach-orchestrator/internal/domain"
)

const (
	// MinEngagementRate задаёт нижнюю границу вовлечённости для отбора.
	MinEngagementRate = 0.05
	cacheSize         = 20
	resultSize        = 5
	topHashtags       = 10
	insightPosts      = 3
	insightChars      = 200
)

// hookPhrases перечисляет вступительные фразы, которые отслеживаются в популярных постах.
var hookPhrases = []string{
	"unpopular opinion",
	"breaking",
	"just discovered",
	"warning",
	"stop",
	"nobody talks about",
	"here's why",
	"the truth about",
	"I was wrong",
}

var hashtagRe = regexp.MustCompile(`#\w+`)

// ViralRanker отбирает популярные посты и ведёт их кэш.
type ViralRanker struct {
	cache domain.ViralCacheRepo
	log   zerolog.Logger
}

var _ domain.ContentRanker = (*ViralRanker)(nil)

// NewViral создаёт ранжировщик популярных постов.
func NewViral(cache domain.ViralCacheRepo, log zerolog.Logger) *ViralRanker {
	return &ViralRanker{cache: cache, log: log}
}

// SelectViral фильтрует посты по свежести и вовлечённости, сохраняет лучшие 20 в кэш
// и возвращает лучшие 5.
func (r *ViralRanker) SelectViral(ctx context.Context, posts []domain.ViralPost, hoursBack int) ([]domain.ViralPost, error) {
	window := time.Duration(hoursBack) * time.Hour
	fresh := make([]domain.ViralPost, 0, len(posts))
	for _, p := range DeduplicateByURL(posts) {
		if hoursBack > 0 && p.Age > window {
			continue
		}
		if p.EngagementRate() < MinEngagementRate {
			continue
		}
		if len(p.Hashtags) == 0 {
			p.Hashtags = ExtractHashtags(p.Content)
		}
		fresh = append(fresh, p)
	}
	if len(fresh) == 0 {
		return nil, nil
	}
	sort.SliceStable(fresh, func(i, j int) bool {
		return fresh[i].EngagementRate() > fresh[j].EngagementRate()
	})

	top := fresh
	if len(top) > cacheSize {
		top = top[:cacheSize]
	}
	if err := r.cache.UpsertViralPosts(ctx, top); err != nil {
		r.log.Warn().Err(err).Int("posts", len(top)).Msg("не удалось обновить кэш популярных постов")
	}

	if len(top) > resultSize {
		top = top[:resultSize]
	}
	return top, nil
}

// GetCached возвращает посты из кэша.
func (r *ViralRanker) GetCached(ctx context.Context, limit int) ([]domain.ViralPost, error) {
	return r.cache.ListCachedViralPosts(ctx, limit)
}

// AnalyzePatterns описывает закономерности набора постов.
func AnalyzePatterns(posts []domain.ViralPost) domain.PatternReport {
	report := domain.PatternReport{
		CommonHashtags:  []domain.HashtagCount{},
		ContentPatterns: []domain.HookPattern{},
	}
	if len(posts) == 0 {
		return report
	}

	var totalLen, totalEng float64
	tagCounts := make(map[string]int)
	for _, p := range posts {
		totalLen += float64(len([]rune(p.Content)))
		totalEng += p.EngagementRate()
		tags := p.Hashtags
		if len(tags) == 0 {
			tags = ExtractHashtags(p.Content)
		}
		for _, tag := range tags {
			tagCounts[tag]++
		}
	}
	n := float64(len(posts))
	report.AvgContentLength = totalLen / n
	report.AvgEngagementRate = totalEng / n

	for tag, count := range tagCounts {
		report.CommonHashtags = append(report.CommonHashtags, domain.HashtagCount{Tag: tag, Count: count})
	}
	sort.Slice(report.CommonHashtags, func(i, j int) bool {
		a, b := report.CommonHashtags[i], report.CommonHashtags[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Tag < b.Tag
	})
	if len(report.CommonHashtags) > topHashtags {
		report.CommonHashtags = report.CommonHashtags[:topHashtags]
	}

	for _, phrase := range hookPhrases {
		needle := strings.ToLower(phrase)
		var (
			count int
			eng   float64
		)
		for _, p := range posts {
			if strings.Contains(strings.ToLower(p.Content), needle) {
				count++
				eng += p.EngagementRate()
			}
		}
		if count == 0 {
			continue
		}
		report.ContentPatterns = append(report.ContentPatterns, domain.HookPattern{
			Pattern:       phrase,
			Frequency:     float64(count) / n,
			AvgEngagement: eng / float64(count),
		})
	}
	sort.SliceStable(report.ContentPatterns, func(i, j int) bool {
		return report.ContentPatterns[i].AvgEngagement > report.ContentPatterns[j].AvgEngagement
	})
	return report
}

// BuildInsights собирает данные для шаблона поста: три лучших поста и закономерности набора.
func (r *ViralRanker) BuildInsights(top []domain.ViralPost, cached bool) domain.ContentInsights {
	insights := domain.ContentInsights{
		TopPosts: make([]domain.InsightPost, 0, insightPosts),
		Patterns: AnalyzePatterns(top),
		Cached:   cached,
	}
	for i, p := range top {
		if i == insightPosts {
			break
		}
		insights.TopPosts = append(insights.TopPosts, domain.InsightPost{
			Content:    clipRunes(p.Content, insightChars),
			Engagement: p.EngagementRate(),
			Hashtags:   p.Hashtags,
		})
	}
	return insights
}

// ExtractHashtags возвращает хэштеги из текста без повторов.
func ExtractHashtags(content string) []string {
	found := hashtagRe.FindAllString(content, -1)
	if len(found) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(found))
	out := make([]string, 0, len(found))
	for _, tag := range found {
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}

// DeduplicateByURL удаляет посты с одинаковыми ссылками.
func DeduplicateByURL(posts []domain.ViralPost) []domain.ViralPost {
	seen := make(map[string]struct{})
	out := make([]domain.ViralPost, 0, len(posts))
	for _, p := range posts {
		key := strings.TrimSpace(p.URL)
		if key == "" {
			out = append(out, p)
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, p)
	}
	return out
}

func clipRunes(text string, limit int) string {
	runes := []rune(text)
	if limit <= 0 || len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
