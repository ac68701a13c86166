package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"outreach-orchestrator/internal/domain"
	"outreach-orchestrator/internal/infra/metrics"
)

// GetOrCreateQuota возвращает счётчики дня, создавая нулевую строку при необходимости.
func (p *Postgres) GetOrCreateQuota(ctx context.Context, day time.Time) (domain.DailyQuota, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	day = domain.CalendarDay(day, time.UTC)
	var q domain.DailyQuota
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO daily_quotas (date) VALUES ($1)
ON CONFLICT (date) DO UPDATE SET date = EXCLUDED.date
RETURNING date, connections_sent, messages_sent, profile_views
`, day).Scan(&q.Date, &q.ConnectionsSent, &q.MessagesSent, &q.ProfileViews)
	metrics.ObserveNetworkRequest("postgres", "upsert_quota", "daily_quotas", start, err)
	if err != nil {
		return domain.DailyQuota{}, err
	}
	return q, nil
}

// TryIncrement атомарно увеличивает счётчик дня, если он ещё меньше max.
func (p *Postgres) TryIncrement(ctx context.Context, day time.Time, counter domain.QuotaCounter, max int) (bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	return tryIncrement(ctx, p.pool, domain.CalendarDay(day, time.UTC), counter, max)
}

// ResetQuota обнуляет счётчики указанного дня.
func (p *Postgres) ResetQuota(ctx context.Context, day time.Time) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO daily_quotas (date) VALUES ($1)
ON CONFLICT (date) DO UPDATE SET connections_sent = 0, messages_sent = 0, profile_views = 0
`, domain.CalendarDay(day, time.UTC))
	metrics.ObserveNetworkRequest("postgres", "reset_quota", "daily_quotas", start, err)
	return err
}

// tryIncrement опирается на блокировку строки при UPDATE: условие перепроверяется
// после ожидания, поэтому параллельные вызовы не превысят max.
func tryIncrement(ctx context.Context, q querier, day time.Time, counter domain.QuotaCounter, max int) (bool, error) {
	if !counter.Valid() {
		return false, fmt.Errorf("unknown quota counter %q", counter)
	}
	column := string(counter)

	start := time.Now()
	_, err := q.Exec(ctx, `INSERT INTO daily_quotas (date) VALUES ($1) ON CONFLICT (date) DO NOTHING`, day)
	metrics.ObserveNetworkRequest("postgres", "ensure_quota", "daily_quotas", start, err)
	if err != nil {
		return false, err
	}

	start = time.Now()
	var value int
	err = q.QueryRow(ctx, `
UPDATE daily_quotas SET `+column+` = `+column+` + 1
WHERE date = $1 AND ($2 <= 0 OR `+column+` < $2)
RETURNING `+column, day, max).Scan(&value)
	metrics.ObserveNetworkRequest("postgres", "increment_quota", "daily_quotas", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
