package outreach

import (
	"context"
	"sync"
	"time"

	"outreach-orchestrator/internal/domain"
	"outreach-orchestrator/internal/infra/metrics"
)

// QuotaMirror — короткоживущая копия дневного счётчика запросов.
// Источником истины служит журнал квот в хранилище: зеркало только читает его
// и никогда не увеличивает счётчик само.
type QuotaMirror struct {
	ledger domain.QuotaLedger
	max    int
	loc    *time.Location
	now    func() time.Time

	mu     sync.Mutex
	day    time.Time
	sent   int
	loaded bool
}

// NewQuotaMirror создаёт зеркало для дневного лимита max.
func NewQuotaMirror(ledger domain.QuotaLedger, max int, loc *time.Location) *QuotaMirror {
	if loc == nil {
		loc = time.Local
	}
	return &QuotaMirror{ledger: ledger, max: max, loc: loc, now: time.Now}
}

// Today возвращает календарную дату квоты.
func (m *QuotaMirror) Today() time.Time {
	return domain.CalendarDay(m.now(), m.loc)
}

// Refresh перечитывает счётчик текущего дня и возвращает остаток.
func (m *QuotaMirror) Refresh(ctx context.Context) (int, error) {
	today := m.Today()
	q, err := m.ledger.GetOrCreateQuota(ctx, today)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	m.day = today
	m.sent = q.ConnectionsSent
	m.loaded = true
	m.mu.Unlock()
	remaining := m.Remaining()
	metrics.QuotaRemaining.Set(float64(remaining))
	return remaining, nil
}

// Remaining возвращает остаток по последнему чтению. Для нового дня считается полный лимит.
func (m *QuotaMirror) Remaining() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.loaded || !m.day.Equal(m.Today()) {
		return m.max
	}
	if left := m.max - m.sent; left > 0 {
		return left
	}
	return 0
}

// Reset сбрасывает зеркало в полночь. Журнал в хранилище не меняется.
func (m *QuotaMirror) Reset() {
	m.mu.Lock()
	m.day = m.Today()
	m.sent = 0
	m.loaded = false
	m.mu.Unlock()
	metrics.QuotaRemaining.Set(float64(m.max))
}

// NoteProfileView увеличивает счётчик просмотров профилей без ограничения.
func (m *QuotaMirror) NoteProfileView(ctx context.Context) error {
	_, err := m.ledger.TryIncrement(ctx, m.Today(), domain.QuotaProfileViews, 0)
	return err
}
