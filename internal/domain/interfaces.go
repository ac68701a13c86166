package domain

import (
	"context"
	"time"
)

// TargetStore хранит цели и записывает переходы воронки.
type TargetStore interface {
	AddTarget(ctx context.Context, t Target) (int64, error)
	GetTarget(ctx context.Context, externalID string) (Target, error)
	UpdateStatus(ctx context.Context, externalID string, status TargetStatus) error
	// RecordConnectionSent атомарно резервирует квоту, сохраняет запрос и меняет статус.
	// false без ошибки означает исчерпанную дневную квоту.
	RecordConnectionSent(ctx context.Context, externalID, message string) (bool, error)
	RecordConnectionAccepted(ctx context.Context, externalID string) error
	RecordMessageSent(ctx context.Context, externalID, content string, mt MessageType, promptKey string) error
	RecordMessageReplied(ctx context.Context, externalID, reply string) error
	GetPendingMessages(ctx context.Context, delay time.Duration) ([]Target, error)
	GetTargetsForOutreach(ctx context.Context, limit int) ([]Target, error)
	GetAnalytics(ctx context.Context) (Analytics, error)
	OptOut(ctx context.Context, externalID string) error
}

// QuotaLedger ведёт дневные счётчики действий.
type QuotaLedger interface {
	GetOrCreateQuota(ctx context.Context, day time.Time) (DailyQuota, error)
	// TryIncrement увеличивает счётчик, если он меньше max. max <= 0 снимает ограничение.
	TryIncrement(ctx context.Context, day time.Time, counter QuotaCounter, max int) (bool, error)
	ResetQuota(ctx context.Context, day time.Time) error
}

// PostRepo управляет черновиками публикаций.
type PostRepo interface {
	CreatePost(ctx context.Context, post Post) (Post, error)
	GetPendingPost(ctx context.Context) (Post, error)
	UpdatePostContent(ctx context.Context, postID int64, content string) error
	ApprovePost(ctx context.Context, postID int64) error
	RecordPostPublished(ctx context.Context, postID int64) error
	UpdatePostMetrics(ctx context.Context, postID int64, metrics PostMetrics) error
	DeletePost(ctx context.Context, postID int64) error
}

// ViralCacheRepo хранит кэш популярных постов.
type ViralCacheRepo interface {
	UpsertViralPosts(ctx context.Context, posts []ViralPost) error
	ListCachedViralPosts(ctx context.Context, limit int) ([]ViralPost, error)
}

// ReportRepo отдаёт агрегаты для внешней отчётности.
type ReportRepo interface {
	CompanyBreakdown(ctx context.Context, limit int) ([]CompanyStat, error)
	DailyActivity(ctx context.Context, from, to time.Time) ([]DailyActivity, error)
}

// Actuator выполняет действия в соцсети. Реализация внешняя, повторов ядро не делает.
type Actuator interface {
	SearchCandidates(ctx context.Context, companies []string) ([]ProfileSnapshot, error)
	DispatchConnection(ctx context.Context, externalID, message string) (bool, error)
	DispatchMessage(ctx context.Context, externalID, message string) (bool, error)
	PollAcceptedConnections(ctx context.Context) ([]string, error)
}

// Harvester собирает свежие посты по теме.
type Harvester interface {
	HarvestCandidatePosts(ctx context.Context, topic string, hoursBack int) ([]ViralPost, error)
}

// GenerationRequest описывает запрос к модели.
type GenerationRequest struct {
	PromptKey    string
	Variables    map[string]string
	CustomPrompt string
	Temperature  *float64
}

// TextGenerator генерирует текст. ok=false означает отсутствие результата, а не сбой.
type TextGenerator interface {
	Generate(ctx context.Context, req GenerationRequest) (text string, ok bool)
}

// Notifier отправляет уведомления оператору.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// EventPublisher публикует события воронки для внешних потребителей.
type EventPublisher interface {
	Publish(ctx context.Context, event OutreachEvent) error
}

// JobLock не даёт двум процессам одновременно выполнять одну задачу.
type JobLock interface {
	// Acquire возвращает false без ошибки, если блокировка занята.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// ContentRanker отбирает популярные посты и готовит данные для шаблона поста.
type ContentRanker interface {
	SelectViral(ctx context.Context, posts []ViralPost, hoursBack int) ([]ViralPost, error)
	GetCached(ctx context.Context, limit int) ([]ViralPost, error)
	BuildInsights(top []ViralPost, cached bool) ContentInsights
}
