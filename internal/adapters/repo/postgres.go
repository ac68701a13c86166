package repo

import (
	"context"
	_ "embed"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"outreach-orchestrator/internal/domain"
	"outreach-orchestrator/internal/infra/metrics"
)

//go:embed schema.sql
var schemaSQL string

const (
	queryTimeout           = 5 * time.Second
	defaultConnectionLimit = 30
	uniqueViolation        = "23505"
)

// Postgres реализует хранилище воронки на основе pgxpool.
type Postgres struct {
	pool            *pgxpool.Pool
	loc             *time.Location
	now             func() time.Time
	connectionLimit int
}

var (
	_ domain.TargetStore    = (*Postgres)(nil)
	_ domain.QuotaLedger    = (*Postgres)(nil)
	_ domain.PostRepo       = (*Postgres)(nil)
	_ domain.ViralCacheRepo = (*Postgres)(nil)
	_ domain.ReportRepo     = (*Postgres)(nil)
)

// Option настраивает адаптер.
type Option func(*Postgres)

// WithLocation задаёт часовой пояс, в котором считаются календарные дни квоты.
func WithLocation(loc *time.Location) Option {
	return func(p *Postgres) {
		if loc != nil {
			p.loc = loc
		}
	}
}

// WithClock подменяет источник текущего времени.
func WithClock(now func() time.Time) Option {
	return func(p *Postgres) {
		if now != nil {
			p.now = now
		}
	}
}

// WithConnectionLimit задаёт дневной лимит запросов на контакт.
func WithConnectionLimit(limit int) Option {
	return func(p *Postgres) {
		if limit > 0 {
			p.connectionLimit = limit
		}
	}
}

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool, opts ...Option) *Postgres {
	p := &Postgres{
		pool:            pool,
		loc:             time.Local,
		now:             time.Now,
		connectionLimit: defaultConnectionLimit,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Migrate создаёт таблицы, если их ещё нет.
func (p *Postgres) Migrate(ctx context.Context) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, schemaSQL)
	metrics.ObserveNetworkRequest("postgres", "migrate", "schema", start, err)
	return err
}

// ConnectionLimit возвращает дневной лимит запросов на контакт.
func (p *Postgres) ConnectionLimit() int {
	return p.connectionLimit
}

// Today возвращает текущую календарную дату квоты.
func (p *Postgres) Today() time.Time {
	return domain.CalendarDay(p.now(), p.loc)
}

func (p *Postgres) connCtxWithParent(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return context.WithTimeout(context.Background(), queryTimeout)
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, queryTimeout)
}

// querier покрывает общий набор методов пула и транзакции.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (p *Postgres) withTx(ctx context.Context, table string, fn func(tx pgx.Tx) error) error {
	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", table, start, err)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", table, start, err)
	return err
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}
