package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"outreach-orchestrator/internal/domain"
	"outreach-orchestrator/internal/infra/metrics"
)

const targetColumns = `t.id, t.external_id, t.name, t.company, t.title, t.email, t.phone, t.location, t.summary,
	t.is_hiring_manager, t.relevance_score, t.last_activity, t.profile_data, t.status, t.opt_out, t.created_at, t.updated_at`

// AddTarget сохраняет новую цель. Повторный external_id даёт ErrDuplicateTarget.
func (p *Postgres) AddTarget(ctx context.Context, t domain.Target) (int64, error) {
	if err := t.Validate(); err != nil {
		return 0, err
	}
	if t.Status == "" {
		t.Status = domain.StatusDiscovered
	}
	var profile []byte
	if t.Profile != nil {
		raw, err := json.Marshal(t.Profile)
		if err != nil {
			return 0, fmt.Errorf("marshal profile: %w", err)
		}
		profile = raw
	}

	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	now := p.now()
	start := time.Now()
	var id int64
	err := p.pool.QueryRow(ctx, `
INSERT INTO targets (external_id, name, company, title, email, phone, location, summary,
	is_hiring_manager, relevance_score, last_activity, profile_data, status, opt_out, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $15)
RETURNING id
`, t.ExternalID, t.Name, t.Company, t.Title, t.Email, t.Phone, t.Location, t.Summary,
		t.IsHiringManager, t.RelevanceScore, t.LastActivity, profile, string(t.Status), t.OptOut, now).Scan(&id)
	metrics.ObserveNetworkRequest("postgres", "insert_target", "targets", start, err)
	if err != nil {
		if isUniqueViolation(err, "targets_external_id_key") {
			return 0, domain.ErrDuplicateTarget
		}
		return 0, err
	}
	return id, nil
}

// GetTarget возвращает цель по внешнему идентификатору.
func (p *Postgres) GetTarget(ctx context.Context, externalID string) (domain.Target, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	row := p.pool.QueryRow(ctx, `SELECT `+targetColumns+` FROM targets t WHERE t.external_id = $1`, externalID)
	target, err := scanTarget(row)
	metrics.ObserveNetworkRequest("postgres", "select_target", "targets", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Target{}, domain.ErrTargetNotFound
	}
	return target, err
}

// UpdateStatus безусловно выставляет статус, порядок воронки не проверяется.
// opted_out дополнительно ставит флаг исключения.
func (p *Postgres) UpdateStatus(ctx context.Context, externalID string, status domain.TargetStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: unknown status %q", domain.ErrInvalidTransition, status)
	}
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
UPDATE targets SET status = $2, opt_out = (opt_out OR $2 = 'opted_out'), updated_at = $3
WHERE external_id = $1
`, externalID, string(status), p.now())
	metrics.ObserveNetworkRequest("postgres", "update_status", "targets", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTargetNotFound
	}
	return nil
}

// RecordConnectionSent в одной транзакции проверяет цель, резервирует квоту,
// сохраняет запрос и переводит цель в connection_sent.
func (p *Postgres) RecordConnectionSent(ctx context.Context, externalID, message string) (bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	recorded := false
	err := p.withTx(ctx, "connections", func(tx pgx.Tx) error {
		ref, err := lockTarget(ctx, tx, externalID)
		if err != nil {
			return err
		}
		if ref.optOut || !domain.CanTransition(ref.status, domain.StatusConnectionSent) {
			return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, ref.status, domain.StatusConnectionSent)
		}

		ok, err := tryIncrement(ctx, tx, p.Today(), domain.QuotaConnections, p.connectionLimit)
		if err != nil || !ok {
			return err
		}

		now := p.now()
		start := time.Now()
		_, err = tx.Exec(ctx, `INSERT INTO connections (target_id, sent_at, message) VALUES ($1, $2, $3)`, ref.id, now, message)
		metrics.ObserveNetworkRequest("postgres", "insert_connection", "connections", start, err)
		if err != nil {
			if isUniqueViolation(err, "uq_connections_open") {
				return fmt.Errorf("%w: open connection exists", domain.ErrInvalidTransition)
			}
			return err
		}
		if err := setStatus(ctx, tx, ref.id, domain.StatusConnectionSent, now); err != nil {
			return err
		}
		recorded = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return recorded, nil
}

// RecordConnectionAccepted отмечает принятие последнего открытого запроса.
func (p *Postgres) RecordConnectionAccepted(ctx context.Context, externalID string) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	return p.withTx(ctx, "connections", func(tx pgx.Tx) error {
		ref, err := lockTarget(ctx, tx, externalID)
		if err != nil {
			return err
		}

		start := time.Now()
		var connID int64
		err = tx.QueryRow(ctx, `
SELECT id FROM connections
WHERE target_id = $1 AND accepted_at IS NULL
ORDER BY sent_at DESC
LIMIT 1
FOR UPDATE
`, ref.id).Scan(&connID)
		metrics.ObserveNetworkRequest("postgres", "select_open_connection", "connections", start, err)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNoOpenConnection
		}
		if err != nil {
			return err
		}
		if ref.optOut || !domain.CanTransition(ref.status, domain.StatusConnectionAccepted) {
			return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, ref.status, domain.StatusConnectionAccepted)
		}

		now := p.now()
		start = time.Now()
		_, err = tx.Exec(ctx, `UPDATE connections SET accepted_at = $2 WHERE id = $1`, connID, now)
		metrics.ObserveNetworkRequest("postgres", "accept_connection", "connections", start, err)
		if err != nil {
			return err
		}
		return setStatus(ctx, tx, ref.id, domain.StatusConnectionAccepted, now)
	})
}

// RecordMessageSent сохраняет сообщение и увеличивает дневной счётчик сообщений.
// Повторные сообщения не откатывают статус цели.
func (p *Postgres) RecordMessageSent(ctx context.Context, externalID, content string, mt domain.MessageType, promptKey string) error {
	if mt == "" {
		mt = domain.MessagePersonalized
	}
	if !mt.Valid() {
		return fmt.Errorf("unknown message type %q", mt)
	}
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	return p.withTx(ctx, "messages", func(tx pgx.Tx) error {
		ref, err := lockTarget(ctx, tx, externalID)
		if err != nil {
			return err
		}
		switch {
		case ref.optOut:
			return fmt.Errorf("%w: target opted out", domain.ErrInvalidTransition)
		case ref.status == domain.StatusConnectionAccepted,
			ref.status == domain.StatusMessageSent,
			ref.status == domain.StatusMessageReplied:
		default:
			return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, ref.status, domain.StatusMessageSent)
		}

		now := p.now()
		start := time.Now()
		_, err = tx.Exec(ctx, `
INSERT INTO messages (target_id, content, sent_at, message_type, llm_prompt_used)
VALUES ($1, $2, $3, $4, $5)
`, ref.id, content, now, string(mt), promptKey)
		metrics.ObserveNetworkRequest("postgres", "insert_message", "messages", start, err)
		if err != nil {
			return err
		}
		if _, err := tryIncrement(ctx, tx, p.Today(), domain.QuotaMessages, 0); err != nil {
			return err
		}
		if domain.CanTransition(ref.status, domain.StatusMessageSent) {
			return setStatus(ctx, tx, ref.id, domain.StatusMessageSent, now)
		}
		return nil
	})
}

// RecordMessageReplied сохраняет ответ на последнее сообщение без ответа.
func (p *Postgres) RecordMessageReplied(ctx context.Context, externalID, reply string) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	return p.withTx(ctx, "messages", func(tx pgx.Tx) error {
		ref, err := lockTarget(ctx, tx, externalID)
		if err != nil {
			return err
		}

		now := p.now()
		start := time.Now()
		tag, err := tx.Exec(ctx, `
UPDATE messages SET replied_at = $2, reply_content = $3
WHERE id = (
	SELECT id FROM messages
	WHERE target_id = $1 AND replied_at IS NULL
	ORDER BY sent_at DESC
	LIMIT 1
)
`, ref.id, now, reply)
		metrics.ObserveNetworkRequest("postgres", "reply_message", "messages", start, err)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrMessageNotFound
		}
		if !ref.optOut && domain.CanTransition(ref.status, domain.StatusMessageReplied) {
			return setStatus(ctx, tx, ref.id, domain.StatusMessageReplied, now)
		}
		return nil
	})
}

// GetPendingMessages возвращает цели, принявшие запрос не позже now-delay
// и ещё не получившие сообщений. Старые принятия идут первыми.
func (p *Postgres) GetPendingMessages(ctx context.Context, delay time.Duration) ([]domain.Target, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	cutoff := p.now().Add(-delay)
	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT `+targetColumns+`
FROM targets t
JOIN LATERAL (
	SELECT max(c.accepted_at) AS accepted_at
	FROM connections c
	WHERE c.target_id = t.id AND c.accepted_at IS NOT NULL
) acc ON acc.accepted_at IS NOT NULL
WHERE t.status = 'connection_accepted'
  AND t.opt_out = FALSE
  AND acc.accepted_at <= $1
  AND NOT EXISTS (SELECT 1 FROM messages m WHERE m.target_id = t.id)
ORDER BY acc.accepted_at, t.id
`, cutoff)
	metrics.ObserveNetworkRequest("postgres", "select_pending_messages", "targets", start, err)
	if err != nil {
		return nil, err
	}
	return collectTargets(rows)
}

// GetTargetsForOutreach возвращает подходящие цели по убыванию релевантности.
func (p *Postgres) GetTargetsForOutreach(ctx context.Context, limit int) ([]domain.Target, error) {
	if limit <= 0 {
		return nil, nil
	}
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT `+targetColumns+`
FROM targets t
WHERE t.status = 'discovered' AND t.opt_out = FALSE AND t.relevance_score >= 0.5
ORDER BY t.relevance_score DESC, t.id
LIMIT $1
`, limit)
	metrics.ObserveNetworkRequest("postgres", "select_outreach_targets", "targets", start, err)
	if err != nil {
		return nil, err
	}
	return collectTargets(rows)
}

// GetAnalytics собирает сводку воронки и счётчики текущего дня.
func (p *Postgres) GetAnalytics(ctx context.Context) (domain.Analytics, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var a domain.Analytics
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT
	(SELECT count(*) FROM targets WHERE opt_out = FALSE),
	(SELECT count(*) FROM targets WHERE is_hiring_manager AND opt_out = FALSE),
	(SELECT count(*) FROM connections),
	(SELECT count(*) FROM connections WHERE accepted_at IS NOT NULL),
	(SELECT count(*) FROM messages),
	(SELECT count(*) FROM messages WHERE replied_at IS NOT NULL),
	(SELECT count(*) FROM posts WHERE published_at IS NOT NULL)
`).Scan(&a.TotalTargets, &a.HiringManagers, &a.ConnectionsSent, &a.ConnectionsAccepted,
		&a.MessagesSent, &a.MessagesReplied, &a.PostsPublished)
	metrics.ObserveNetworkRequest("postgres", "select_analytics", "targets", start, err)
	if err != nil {
		return domain.Analytics{}, err
	}
	a.ComputeRates()

	today, err := p.GetOrCreateQuota(ctx, p.Today())
	if err != nil {
		return domain.Analytics{}, err
	}
	a.Today = today
	return a, nil
}

// OptOut исключает цель из дальнейшей работы.
func (p *Postgres) OptOut(ctx context.Context, externalID string) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
UPDATE targets SET opt_out = TRUE, status = 'opted_out', updated_at = $2
WHERE external_id = $1
`, externalID, p.now())
	metrics.ObserveNetworkRequest("postgres", "opt_out", "targets", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTargetNotFound
	}
	return nil
}

type targetRef struct {
	id     int64
	status domain.TargetStatus
	optOut bool
}

func lockTarget(ctx context.Context, tx pgx.Tx, externalID string) (targetRef, error) {
	var (
		ref    targetRef
		status string
	)
	start := time.Now()
	err := tx.QueryRow(ctx, `SELECT id, status, opt_out FROM targets WHERE external_id = $1 FOR UPDATE`, externalID).
		Scan(&ref.id, &status, &ref.optOut)
	metrics.ObserveNetworkRequest("postgres", "lock_target", "targets", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return targetRef{}, domain.ErrTargetNotFound
	}
	if err != nil {
		return targetRef{}, err
	}
	ref.status = domain.TargetStatus(status)
	return ref, nil
}

func setStatus(ctx context.Context, q querier, targetID int64, status domain.TargetStatus, now time.Time) error {
	start := time.Now()
	_, err := q.Exec(ctx, `UPDATE targets SET status = $2, updated_at = $3 WHERE id = $1`, targetID, string(status), now)
	metrics.ObserveNetworkRequest("postgres", "update_status", "targets", start, err)
	return err
}

func scanTarget(row pgx.Row) (domain.Target, error) {
	var (
		t       domain.Target
		status  string
		profile []byte
	)
	if err := row.Scan(&t.ID, &t.ExternalID, &t.Name, &t.Company, &t.Title, &t.Email, &t.Phone, &t.Location, &t.Summary,
		&t.IsHiringManager, &t.RelevanceScore, &t.LastActivity, &profile, &status, &t.OptOut, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return domain.Target{}, err
	}
	t.Status = domain.TargetStatus(status)
	if len(profile) > 0 {
		var data domain.ProfileData
		if err := json.Unmarshal(profile, &data); err != nil {
			return domain.Target{}, fmt.Errorf("decode profile_data: %w", err)
		}
		t.Profile = &data
	}
	return t, nil
}

func collectTargets(rows pgx.Rows) ([]domain.Target, error) {
	defer rows.Close()
	var out []domain.Target
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
