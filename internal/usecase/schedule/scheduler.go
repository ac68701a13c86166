package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"outreach-orchestrator/internal/domain"
	"outreach-orchestrator/internal/infra/metrics"
)

// JobFunc выполняет одну задачу.
type JobFunc func(ctx context.Context) error

// DailyGuard пропускает fn, если ключ уже занят. Используется, чтобы суточные
// задачи выполнялись один раз за день среди всех процессов.
type DailyGuard interface {
	Once(ctx context.Context, key string, ttl time.Duration, fn func() error) (bool, error)
}

type job struct {
	name  string
	every time.Duration
	hour  int
	min   int
	daily bool
	local bool
	run   JobFunc
	next  time.Time
}

// Scheduler — кооперативный планировщик: один рабочий цикл, задачи по очереди,
// одна задача не пересекается сама с собой.
type Scheduler struct {
	jobs    []*job
	loc     *time.Location
	poll    time.Duration
	lock    domain.JobLock
	lockTTL time.Duration
	guard   DailyGuard
	log     zerolog.Logger
	now     func() time.Time
	started bool
}

// Option настраивает планировщик.
type Option func(*Scheduler)

// WithLock включает межпроцессную блокировку задач.
func WithLock(lock domain.JobLock, ttl time.Duration) Option {
	return func(s *Scheduler) {
		s.lock = lock
		s.lockTTL = ttl
	}
}

// WithDailyGuard включает защиту суточных задач от повторного запуска за день.
func WithDailyGuard(guard DailyGuard) Option {
	return func(s *Scheduler) {
		s.guard = guard
	}
}

// WithClock подменяет часы.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// New создаёт планировщик с календарём в поясе loc.
func New(loc *time.Location, poll time.Duration, log zerolog.Logger, opts ...Option) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	if poll <= 0 {
		poll = time.Minute
	}
	s := &Scheduler{
		loc:     loc,
		poll:    poll,
		lockTTL: 2 * time.Hour,
		log:     log,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Every регистрирует задачу с интервалом. Первый запуск происходит при старте.
func (s *Scheduler) Every(name string, every time.Duration, fn JobFunc) error {
	if every <= 0 {
		return fmt.Errorf("задача %s: интервал должен быть положительным", name)
	}
	return s.add(&job{name: name, every: every, run: fn})
}

// DailyAt регистрирует суточную задачу на время HH:MM в поясе планировщика.
func (s *Scheduler) DailyAt(name, at string, fn JobFunc) error {
	hour, minute, err := parseClock(at)
	if err != nil {
		return fmt.Errorf("задача %s: время %q: %w", name, at, err)
	}
	return s.add(&job{name: name, hour: hour, min: minute, daily: true, run: fn})
}

// LocalDailyAt регистрирует суточную задачу, которая касается только состояния
// процесса: без блокировки и защиты от повтора.
func (s *Scheduler) LocalDailyAt(name, at string, fn JobFunc) error {
	if err := s.DailyAt(name, at, fn); err != nil {
		return err
	}
	s.jobs[len(s.jobs)-1].local = true
	return nil
}

func (s *Scheduler) add(j *job) error {
	if j.run == nil {
		return fmt.Errorf("задача %s: пустой обработчик", j.name)
	}
	for _, existing := range s.jobs {
		if existing.name == j.name {
			return fmt.Errorf("задача %s уже зарегистрирована", j.name)
		}
	}
	s.jobs = append(s.jobs, j)
	return nil
}

// Start запускает цикл и блокируется до отмены ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	s.init()
	for _, j := range s.jobs {
		s.log.Info().Str("job", j.name).Time("next_run", j.next).Msg("задача запланирована")
	}

	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()
	for {
		s.RunDue(ctx)
		select {
		case <-ctx.Done():
			s.log.Info().Msg("планировщик остановлен")
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) init() {
	if s.started {
		return
	}
	s.started = true
	now := s.now()
	for _, j := range s.jobs {
		if j.daily {
			j.next = nextDaily(now, j.hour, j.min, s.loc)
		} else {
			j.next = now
		}
	}
}

// RunDue выполняет все наступившие задачи в порядке регистрации и возвращает их число.
// Следующий запуск считается от момента завершения задачи.
func (s *Scheduler) RunDue(ctx context.Context) int {
	s.init()
	ran := 0
	for _, j := range s.jobs {
		if ctx.Err() != nil {
			return ran
		}
		if s.now().Before(j.next) {
			continue
		}
		s.runJob(ctx, j)
		ran++
		finished := s.now()
		if j.daily {
			j.next = nextDaily(finished, j.hour, j.min, s.loc)
		} else {
			j.next = finished.Add(j.every)
		}
	}
	return ran
}

// NextRun возвращает время следующего запуска задачи.
func (s *Scheduler) NextRun(name string) (time.Time, bool) {
	s.init()
	for _, j := range s.jobs {
		if j.name == name {
			return j.next, true
		}
	}
	return time.Time{}, false
}

func (s *Scheduler) runJob(ctx context.Context, j *job) {
	runID := uuid.NewString()
	logger := s.log.With().Str("job", j.name).Str("run_id", runID).Logger()
	ctx = logger.WithContext(domain.WithRunID(ctx, runID))

	if j.local || s.lock == nil {
		s.execute(ctx, logger, j)
		return
	}

	release, ok, err := s.lock.Acquire(ctx, j.name, s.lockTTL)
	if err != nil {
		logger.Error().Err(err).Msg("не удалось взять блокировку, запуск пропущен")
		metrics.ObserveJobSkipped(j.name)
		return
	}
	if !ok {
		logger.Info().Msg("задача выполняется другим процессом, запуск пропущен")
		metrics.ObserveJobSkipped(j.name)
		return
	}
	defer release()

	if !j.daily || s.guard == nil {
		s.execute(ctx, logger, j)
		return
	}
	day := domain.CalendarDay(s.now(), s.loc).Format("2006-01-02")
	key := fmt.Sprintf("outreach:daily:%s:%s", j.name, day)
	attempted := false
	_, err = s.guard.Once(ctx, key, 26*time.Hour, func() error {
		attempted = true
		return s.execute(ctx, logger, j)
	})
	switch {
	case attempted:
		// итог залогирован в execute
	case err != nil:
		logger.Error().Err(err).Msg("не удалось проверить суточный ключ, запуск пропущен")
		metrics.ObserveJobSkipped(j.name)
	default:
		logger.Info().Str("day", day).Msg("суточная задача уже выполнена сегодня")
		metrics.ObserveJobSkipped(j.name)
	}
}

func (s *Scheduler) execute(ctx context.Context, logger zerolog.Logger, j *job) (err error) {
	start := time.Now()
	logger.Info().Msg("задача запущена")
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("паника: %v", r)
		}
		metrics.ObserveJob(j.name, start, err)
		if err != nil {
			logger.Error().Err(err).Dur("took", time.Since(start)).Msg("задача завершилась с ошибкой")
			return
		}
		logger.Info().Dur("took", time.Since(start)).Msg("задача завершена")
	}()
	return j.run(ctx)
}
