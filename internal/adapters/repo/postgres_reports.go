package repo

import (
	"context"
	"time"

	"outreach-orchestrator/internal/domain"
	"outreach-orchestrator/internal/infra/metrics"
)

// CompanyBreakdown группирует воронку по компаниям.
func (p *Postgres) CompanyBreakdown(ctx context.Context, limit int) ([]domain.CompanyStat, error) {
	if limit <= 0 {
		limit = 10
	}
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT
	t.company,
	count(*) AS total,
	count(*) FILTER (WHERE t.status IN ('connection_sent', 'connection_accepted', 'message_sent', 'message_replied')),
	count(*) FILTER (WHERE t.status IN ('connection_accepted', 'message_sent', 'message_replied')),
	count(*) FILTER (WHERE t.status IN ('message_sent', 'message_replied')),
	count(*) FILTER (WHERE t.status = 'message_replied'),
	COALESCE(avg(t.relevance_score), 0)
FROM targets t
WHERE t.opt_out = FALSE AND t.company <> ''
GROUP BY t.company
ORDER BY total DESC, t.company
LIMIT $1
`, limit)
	metrics.ObserveNetworkRequest("postgres", "company_breakdown", "targets", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.CompanyStat
	for rows.Next() {
		var s domain.CompanyStat
		if err := rows.Scan(&s.Company, &s.TotalTargets, &s.ConnectionsSent, &s.ConnectionsAccepted,
			&s.MessagesSent, &s.MessagesReplied, &s.AvgRelevance); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// DailyActivity считает запросы и сообщения по дням в поясе адаптера.
// Границы from и to берутся как календарные даты и входят в отчёт.
func (p *Postgres) DailyActivity(ctx context.Context, from, to time.Time) ([]domain.DailyActivity, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
WITH c AS (
	SELECT (sent_at AT TIME ZONE $3)::date AS day, count(*) AS n
	FROM connections
	WHERE (sent_at AT TIME ZONE $3)::date BETWEEN $1::date AND $2::date
	GROUP BY 1
), m AS (
	SELECT (sent_at AT TIME ZONE $3)::date AS day, count(*) AS n
	FROM messages
	WHERE (sent_at AT TIME ZONE $3)::date BETWEEN $1::date AND $2::date
	GROUP BY 1
)
SELECT COALESCE(c.day, m.day) AS day, COALESCE(c.n, 0), COALESCE(m.n, 0)
FROM c FULL OUTER JOIN m ON c.day = m.day
ORDER BY day
`, from.Format(time.DateOnly), to.Format(time.DateOnly), p.zoneName())
	metrics.ObserveNetworkRequest("postgres", "daily_activity", "connections", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.DailyActivity
	for rows.Next() {
		var d domain.DailyActivity
		if err := rows.Scan(&d.Date, &d.Connections, &d.Messages); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) zoneName() string {
	if p.loc == nil || p.loc == time.Local || p.loc.String() == "Local" {
		return "UTC"
	}
	return p.loc.String()
}
