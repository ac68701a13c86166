package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"outreach-orchestrator/internal/domain"
	"outreach-orchestrator/internal/infra/metrics"
)

const postColumns = `id, content, scheduled_at, published_at, approved, insights, performance_metrics, llm_prompt_used, created_at`

// CreatePost сохраняет черновик публикации.
func (p *Postgres) CreatePost(ctx context.Context, post domain.Post) (domain.Post, error) {
	if strings.TrimSpace(post.Content) == "" {
		return domain.Post{}, errors.New("post: content is required")
	}
	insights, err := marshalNullable(post.Insights)
	if err != nil {
		return domain.Post{}, fmt.Errorf("marshal insights: %w", err)
	}
	if post.ScheduledAt.IsZero() {
		post.ScheduledAt = p.now()
	}

	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	row := p.pool.QueryRow(ctx, `
INSERT INTO posts (content, scheduled_at, approved, insights, llm_prompt_used, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING `+postColumns, post.Content, post.ScheduledAt, post.Approved, insights, post.PromptKey, p.now())
	created, err := scanPost(row)
	metrics.ObserveNetworkRequest("postgres", "insert_post", "posts", start, err)
	return created, err
}

// GetPendingPost возвращает самый свежий неодобренный черновик.
func (p *Postgres) GetPendingPost(ctx context.Context) (domain.Post, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	row := p.pool.QueryRow(ctx, `
SELECT `+postColumns+`
FROM posts
WHERE approved = FALSE AND published_at IS NULL
ORDER BY scheduled_at DESC, id DESC
LIMIT 1
`)
	post, err := scanPost(row)
	metrics.ObserveNetworkRequest("postgres", "select_pending_post", "posts", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Post{}, domain.ErrPostNotFound
	}
	return post, err
}

// UpdatePostContent заменяет текст неопубликованного черновика.
func (p *Postgres) UpdatePostContent(ctx context.Context, postID int64, content string) error {
	if strings.TrimSpace(content) == "" {
		return errors.New("post: content is required")
	}
	return p.mutateDraft(ctx, "update_post_content", postID,
		`UPDATE posts SET content = $2 WHERE id = $1 AND published_at IS NULL`, content)
}

// ApprovePost одобряет черновик к публикации.
func (p *Postgres) ApprovePost(ctx context.Context, postID int64) error {
	return p.mutateDraft(ctx, "approve_post", postID,
		`UPDATE posts SET approved = TRUE WHERE id = $1 AND published_at IS NULL`)
}

// RecordPostPublished фиксирует момент публикации.
func (p *Postgres) RecordPostPublished(ctx context.Context, postID int64) error {
	return p.mutateDraft(ctx, "publish_post", postID,
		`UPDATE posts SET approved = TRUE, published_at = $2 WHERE id = $1 AND published_at IS NULL`, p.now())
}

// DeletePost удаляет отклонённый черновик.
func (p *Postgres) DeletePost(ctx context.Context, postID int64) error {
	return p.mutateDraft(ctx, "delete_post", postID,
		`DELETE FROM posts WHERE id = $1 AND published_at IS NULL`)
}

// UpdatePostMetrics сохраняет показатели поста.
func (p *Postgres) UpdatePostMetrics(ctx context.Context, postID int64, m domain.PostMetrics) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `UPDATE posts SET performance_metrics = $2 WHERE id = $1`, postID, raw)
	metrics.ObserveNetworkRequest("postgres", "update_post_metrics", "posts", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPostNotFound
	}
	return nil
}

// mutateDraft выполняет изменение черновика и различает отсутствие поста и уже опубликованный пост.
func (p *Postgres) mutateDraft(ctx context.Context, op string, postID int64, sql string, args ...any) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, sql, append([]any{postID}, args...)...)
	metrics.ObserveNetworkRequest("postgres", op, "posts", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var published bool
	start = time.Now()
	err = p.pool.QueryRow(ctx, `SELECT published_at IS NOT NULL FROM posts WHERE id = $1`, postID).Scan(&published)
	metrics.ObserveNetworkRequest("postgres", "select_post_state", "posts", start, err)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return domain.ErrPostNotFound
	case err != nil:
		return err
	case published:
		return domain.ErrPostPublished
	}
	return domain.ErrPostNotFound
}

// UpsertViralPosts сохраняет посты в кэш, обновляя счётчики по URL.
func (p *Postgres) UpsertViralPosts(ctx context.Context, posts []domain.ViralPost) error {
	batch := &pgx.Batch{}
	for _, post := range posts {
		if strings.TrimSpace(post.URL) == "" {
			continue
		}
		tags := post.Hashtags
		if tags == nil {
			tags = []string{}
		}
		rawTags, err := json.Marshal(tags)
		if err != nil {
			return err
		}
		scraped := post.ScrapedAt
		if scraped.IsZero() {
			scraped = p.now()
		}
		batch.Queue(`
INSERT INTO viral_posts_cache (post_url, author, author_title, content, reactions, comments, shares, hashtags, scraped_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (post_url) DO UPDATE SET
	author = EXCLUDED.author,
	author_title = EXCLUDED.author_title,
	content = EXCLUDED.content,
	reactions = EXCLUDED.reactions,
	comments = EXCLUDED.comments,
	shares = EXCLUDED.shares,
	hashtags = EXCLUDED.hashtags,
	scraped_at = EXCLUDED.scraped_at
`, post.URL, post.Author, post.AuthorTitle, post.Content, post.Reactions, post.Comments, post.Shares, rawTags, scraped)
	}
	if batch.Len() == 0 {
		return nil
	}

	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	err := p.pool.SendBatch(ctx, batch).Close()
	metrics.ObserveNetworkRequest("postgres", "upsert_viral_posts", "viral_posts_cache", start, err)
	return err
}

// ListCachedViralPosts возвращает кэшированные посты по убыванию вовлечённости.
func (p *Postgres) ListCachedViralPosts(ctx context.Context, limit int) ([]domain.ViralPost, error) {
	if limit <= 0 {
		return nil, nil
	}
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT post_url, author, author_title, content, reactions, comments, shares, hashtags, scraped_at
FROM viral_posts_cache
ORDER BY (reactions + comments + shares) DESC, scraped_at DESC
LIMIT $1
`, limit)
	metrics.ObserveNetworkRequest("postgres", "select_viral_posts", "viral_posts_cache", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	now := p.now()
	var out []domain.ViralPost
	for rows.Next() {
		var (
			post    domain.ViralPost
			rawTags []byte
		)
		if err := rows.Scan(&post.URL, &post.Author, &post.AuthorTitle, &post.Content,
			&post.Reactions, &post.Comments, &post.Shares, &rawTags, &post.ScrapedAt); err != nil {
			return nil, err
		}
		if len(rawTags) > 0 {
			if err := json.Unmarshal(rawTags, &post.Hashtags); err != nil {
				return nil, fmt.Errorf("decode hashtags: %w", err)
			}
		}
		post.Age = now.Sub(post.ScrapedAt)
		out = append(out, post)
	}
	return out, rows.Err()
}

func scanPost(row pgx.Row) (domain.Post, error) {
	var (
		post     domain.Post
		insights []byte
		perf     []byte
	)
	if err := row.Scan(&post.ID, &post.Content, &post.ScheduledAt, &post.PublishedAt, &post.Approved,
		&insights, &perf, &post.PromptKey, &post.CreatedAt); err != nil {
		return domain.Post{}, err
	}
	if len(insights) > 0 {
		var ci domain.ContentInsights
		if err := json.Unmarshal(insights, &ci); err != nil {
			return domain.Post{}, fmt.Errorf("decode insights: %w", err)
		}
		post.Insights = &ci
	}
	if len(perf) > 0 {
		var pm domain.PostMetrics
		if err := json.Unmarshal(perf, &pm); err != nil {
			return domain.Post{}, fmt.Errorf("decode metrics: %w", err)
		}
		post.Metrics = &pm
	}
	return post, nil
}

func marshalNullable[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
