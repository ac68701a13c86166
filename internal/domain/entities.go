package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Target описывает найденный профиль, который проходит воронку.
type Target struct {
	ID              int64
	ExternalID      string
	Name            string
	Company         string
	Title           string
	Email           *string
	Phone           *string
	Location        string
	Summary         string
	IsHiringManager bool
	RelevanceScore  float64
	LastActivity    *time.Time
	Profile         *ProfileData
	Status          TargetStatus
	OptOut          bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ProfileData хранит структурированные сведения из профиля.
type ProfileData struct {
	Experience     []Experience `json:"experience,omitempty"`
	Skills         []string     `json:"skills,omitempty"`
	RecentActivity []string     `json:"recent_activity,omitempty"`
}

// Experience описывает одно место работы.
type Experience struct {
	Title    string `json:"title"`
	Company  string `json:"company"`
	Duration string `json:"duration,omitempty"`
}

// Validate проверяет цель перед сохранением.
func (t Target) Validate() error {
	if strings.TrimSpace(t.ExternalID) == "" {
		return errors.New("target: external_id is required")
	}
	if strings.TrimSpace(t.Name) == "" {
		return errors.New("target: name is required")
	}
	if t.RelevanceScore < 0 || t.RelevanceScore > 1 {
		return fmt.Errorf("target: relevance_score %.3f out of [0,1]", t.RelevanceScore)
	}
	if t.Status != "" && !t.Status.Valid() {
		return fmt.Errorf("target: unknown status %q", t.Status)
	}
	return nil
}

// Connection фиксирует отправленный запрос на контакт.
type Connection struct {
	ID         int64
	TargetID   int64
	SentAt     time.Time
	AcceptedAt *time.Time
	Message    string
}

// Message описывает личное сообщение цели.
type Message struct {
	ID           int64
	TargetID     int64
	Content      string
	SentAt       time.Time
	RepliedAt    *time.Time
	ReplyContent *string
	Type         MessageType
	PromptKey    string
}

// Post описывает сгенерированный черновик публикации.
type Post struct {
	ID          int64
	Content     string
	ScheduledAt time.Time
	PublishedAt *time.Time
	Approved    bool
	Insights    *ContentInsights
	Metrics     *PostMetrics
	PromptKey   string
	CreatedAt   time.Time
}

// PostMetrics хранит показатели опубликованного поста.
type PostMetrics struct {
	Impressions int `json:"impressions"`
	Reactions   int `json:"reactions"`
	Comments    int `json:"comments"`
	Shares      int `json:"shares"`
}

// ViralPost представляет собранный популярный пост.
type ViralPost struct {
	URL         string
	Author      string
	AuthorTitle string
	Content     string
	Reactions   int
	Comments    int
	Shares      int
	Hashtags    []string
	Age         time.Duration
	ScrapedAt   time.Time
}

// Interactions возвращает сумму реакций, комментариев и репостов.
func (p ViralPost) Interactions() int {
	return p.Reactions + p.Comments + p.Shares
}

// EngagementRate возвращает нормированную вовлечённость поста.
func (p ViralPost) EngagementRate() float64 {
	return float64(p.Interactions()) / 1000.0
}

// ContentInsights собирает сведения о популярных постах для генерации.
type ContentInsights struct {
	TopPosts []InsightPost `json:"top_posts"`
	Patterns PatternReport `json:"patterns"`
	Cached   bool          `json:"cached,omitempty"`
}

// InsightPost — сокращённое представление поста в подсказке модели.
type InsightPost struct {
	Content    string   `json:"content"`
	Engagement float64  `json:"engagement"`
	Hashtags   []string `json:"hashtags,omitempty"`
}

// PatternReport описывает закономерности популярных постов.
type PatternReport struct {
	AvgContentLength  float64        `json:"avg_content_length"`
	AvgEngagementRate float64        `json:"avg_engagement_rate"`
	CommonHashtags    []HashtagCount `json:"common_hashtags"`
	ContentPatterns   []HookPattern  `json:"content_patterns"`
}

// HashtagCount хранит частоту хэштега.
type HashtagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

// HookPattern описывает использование вступительной фразы.
type HookPattern struct {
	Pattern       string  `json:"pattern"`
	Frequency     float64 `json:"frequency"`
	AvgEngagement float64 `json:"avg_engagement"`
}

// DailyQuota хранит счётчики действий за календарный день.
type DailyQuota struct {
	Date            time.Time `json:"date"`
	ConnectionsSent int       `json:"connections_sent"`
	MessagesSent    int       `json:"messages_sent"`
	ProfileViews    int       `json:"profile_views"`
}

// Count возвращает значение указанного счётчика.
func (q DailyQuota) Count(counter QuotaCounter) int {
	switch counter {
	case QuotaConnections:
		return q.ConnectionsSent
	case QuotaMessages:
		return q.MessagesSent
	case QuotaProfileViews:
		return q.ProfileViews
	}
	return 0
}

// Analytics содержит агрегированную статистику воронки.
type Analytics struct {
	TotalTargets        int        `json:"total_targets"`
	HiringManagers      int        `json:"hiring_managers"`
	ConnectionsSent     int        `json:"connections_sent"`
	ConnectionsAccepted int        `json:"connections_accepted"`
	MessagesSent        int        `json:"messages_sent"`
	MessagesReplied     int        `json:"messages_replied"`
	AcceptanceRate      float64    `json:"acceptance_rate"`
	ReplyRate           float64    `json:"reply_rate"`
	PostsPublished      int        `json:"posts_published"`
	Today               DailyQuota `json:"today"`
}

// ComputeRates заполняет производные показатели. При нулевом знаменателе доля равна 0.
func (a *Analytics) ComputeRates() {
	a.AcceptanceRate = ratio(a.ConnectionsAccepted, a.ConnectionsSent)
	a.ReplyRate = ratio(a.MessagesReplied, a.MessagesSent)
}

func ratio(num, denom int) float64 {
	if denom == 0 {
		return 0
	}
	return float64(num) / float64(denom)
}

// CompanyStat содержит разбивку воронки по компании.
type CompanyStat struct {
	Company             string  `json:"company"`
	TotalTargets        int     `json:"total_targets"`
	ConnectionsSent     int     `json:"connections_sent"`
	ConnectionsAccepted int     `json:"connections_accepted"`
	MessagesSent        int     `json:"messages_sent"`
	MessagesReplied     int     `json:"messages_replied"`
	AvgRelevance        float64 `json:"avg_relevance"`
}

// DailyActivity считает количество действий за день.
type DailyActivity struct {
	Date        time.Time `json:"date"`
	Connections int       `json:"connections"`
	Messages    int       `json:"messages"`
}

// ProfileSnapshot — профиль кандидата, полученный от исполнителя действий.
type ProfileSnapshot struct {
	ExternalID     string       `json:"external_id"`
	Name           string       `json:"name"`
	Company        string       `json:"company"`
	Title          string       `json:"title"`
	Email          string       `json:"email,omitempty"`
	Phone          string       `json:"phone,omitempty"`
	Location       string       `json:"location"`
	Summary        string       `json:"summary"`
	Skills         []string     `json:"skills,omitempty"`
	Experience     []Experience `json:"experience,omitempty"`
	RecentActivity []string     `json:"recent_activity,omitempty"`
}

// ToTarget превращает снимок профиля в новую цель.
func (p ProfileSnapshot) ToTarget() Target {
	t := Target{
		ExternalID: strings.TrimSpace(p.ExternalID),
		Name:       strings.TrimSpace(p.Name),
		Company:    strings.TrimSpace(p.Company),
		Title:      strings.TrimSpace(p.Title),
		Location:   strings.TrimSpace(p.Location),
		Summary:    strings.TrimSpace(p.Summary),
		Status:     StatusDiscovered,
	}
	if email := strings.TrimSpace(p.Email); email != "" {
		t.Email = &email
	}
	if phone := strings.TrimSpace(p.Phone); phone != "" {
		t.Phone = &phone
	}
	if len(p.Skills) > 0 || len(p.Experience) > 0 || len(p.RecentActivity) > 0 {
		t.Profile = &ProfileData{
			Experience:     p.Experience,
			Skills:         p.Skills,
			RecentActivity: p.RecentActivity,
		}
	}
	return t
}

// OutreachEventKind описывает тип события воронки.
type OutreachEventKind string

const (
	EventTargetDiscovered   OutreachEventKind = "target_discovered"
	EventConnectionSent     OutreachEventKind = "connection_sent"
	EventConnectionAccepted OutreachEventKind = "connection_accepted"
	EventMessageSent        OutreachEventKind = "message_sent"
	EventPostDrafted        OutreachEventKind = "post_drafted"
)

// OutreachEvent публикуется после успешной записи изменения.
type OutreachEvent struct {
	ID         string            `json:"event_id"`
	Kind       OutreachEventKind `json:"kind"`
	ExternalID string            `json:"external_id,omitempty"`
	RunID      string            `json:"run_id,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
	Payload    map[string]any    `json:"payload,omitempty"`
}
