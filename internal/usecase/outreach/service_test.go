package outreach

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"outreach-orchestrator/internal/domain"
)

type stubLedger struct {
	mu     sync.Mutex
	quotas map[time.Time]*domain.DailyQuota
}

func newStubLedger() *stubLedger {
	return &stubLedger{quotas: make(map[time.Time]*domain.DailyQuota)}
}

func (l *stubLedger) row(day time.Time) *domain.DailyQuota {
	q, ok := l.quotas[day]
	if !ok {
		q = &domain.DailyQuota{Date: day}
		l.quotas[day] = q
	}
	return q
}

func (l *stubLedger) GetOrCreateQuota(_ context.Context, day time.Time) (domain.DailyQuota, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return *l.row(day), nil
}

func (l *stubLedger) TryIncrement(_ context.Context, day time.Time, counter domain.QuotaCounter, max int) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	q := l.row(day)
	var field *int
	switch counter {
	case domain.QuotaConnections:
		field = &q.ConnectionsSent
	case domain.QuotaMessages:
		field = &q.MessagesSent
	default:
		field = &q.ProfileViews
	}
	if max > 0 && *field >= max {
		return false, nil
	}
	*field++
	return true, nil
}

func (l *stubLedger) ResetQuota(_ context.Context, day time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.quotas[day] = &domain.DailyQuota{Date: day}
	return nil
}

// memStore — упрощённое хранилище воронки в памяти.
type memStore struct {
	ledger   *stubLedger
	limit    int
	today    func() time.Time
	targets  map[string]*domain.Target
	accepted map[string]bool
	messages map[string][]string
	nextID   int64
}

func newMemStore(ledger *stubLedger, limit int, today func() time.Time) *memStore {
	return &memStore{
		ledger:   ledger,
		limit:    limit,
		today:    today,
		targets:  make(map[string]*domain.Target),
		accepted: make(map[string]bool),
		messages: make(map[string][]string),
	}
}

func (m *memStore) AddTarget(_ context.Context, t domain.Target) (int64, error) {
	if _, ok := m.targets[t.ExternalID]; ok {
		return 0, domain.ErrDuplicateTarget
	}
	m.nextID++
	t.ID = m.nextID
	if t.Status == "" {
		t.Status = domain.StatusDiscovered
	}
	m.targets[t.ExternalID] = &t
	return t.ID, nil
}

func (m *memStore) GetTarget(_ context.Context, id string) (domain.Target, error) {
	t, ok := m.targets[id]
	if !ok {
		return domain.Target{}, domain.ErrTargetNotFound
	}
	return *t, nil
}

func (m *memStore) UpdateStatus(_ context.Context, id string, status domain.TargetStatus) error {
	t, ok := m.targets[id]
	if !ok {
		return domain.ErrTargetNotFound
	}
	t.Status = status
	return nil
}

func (m *memStore) RecordConnectionSent(ctx context.Context, id, _ string) (bool, error) {
	t, ok := m.targets[id]
	if !ok {
		return false, domain.ErrTargetNotFound
	}
	if !domain.CanTransition(t.Status, domain.StatusConnectionSent) {
		return false, domain.ErrInvalidTransition
	}
	ok, err := m.ledger.TryIncrement(ctx, m.today(), domain.QuotaConnections, m.limit)
	if err != nil || !ok {
		return false, err
	}
	t.Status = domain.StatusConnectionSent
	return true, nil
}

func (m *memStore) RecordConnectionAccepted(_ context.Context, id string) error {
	t, ok := m.targets[id]
	if !ok {
		return domain.ErrTargetNotFound
	}
	if t.Status != domain.StatusConnectionSent {
		return domain.ErrNoOpenConnection
	}
	t.Status = domain.StatusConnectionAccepted
	m.accepted[id] = true
	return nil
}

func (m *memStore) RecordMessageSent(_ context.Context, id, content string, _ domain.MessageType, _ string) error {
	t, ok := m.targets[id]
	if !ok {
		return domain.ErrTargetNotFound
	}
	m.messages[id] = append(m.messages[id], content)
	t.Status = domain.StatusMessageSent
	return nil
}

func (m *memStore) RecordMessageReplied(context.Context, string, string) error { return nil }

func (m *memStore) GetPendingMessages(context.Context, time.Duration) ([]domain.Target, error) {
	var out []domain.Target
	for id, t := range m.targets {
		if m.accepted[id] && t.Status == domain.StatusConnectionAccepted && len(m.messages[id]) == 0 {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) GetTargetsForOutreach(_ context.Context, limit int) ([]domain.Target, error) {
	var out []domain.Target
	for _, t := range m.targets {
		if t.Status == domain.StatusDiscovered && !t.OptOut && t.RelevanceScore >= 0.5 {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RelevanceScore != out[j].RelevanceScore {
			return out[i].RelevanceScore > out[j].RelevanceScore
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) GetAnalytics(context.Context) (domain.Analytics, error) {
	return domain.Analytics{}, nil
}

func (m *memStore) OptOut(_ context.Context, id string) error {
	t, ok := m.targets[id]
	if !ok {
		return domain.ErrTargetNotFound
	}
	t.OptOut = true
	t.Status = domain.StatusOptedOut
	return nil
}

type stubGenerator struct {
	fail     map[string]bool
	text     map[string]string
	requests []domain.GenerationRequest
}

func (g *stubGenerator) Generate(_ context.Context, req domain.GenerationRequest) (string, bool) {
	g.requests = append(g.requests, req)
	if g.fail[req.PromptKey] {
		return "", false
	}
	if text, ok := g.text[req.PromptKey]; ok {
		return text, true
	}
	return "text for " + req.Variables["name"], true
}

type stubActuator struct {
	profiles     []domain.ProfileSnapshot
	accepted     []string
	rejected     map[string]bool
	connections  []string
	messages     []string
	searchedWith []string
}

func (a *stubActuator) SearchCandidates(_ context.Context, companies []string) ([]domain.ProfileSnapshot, error) {
	a.searchedWith = companies
	return a.profiles, nil
}

func (a *stubActuator) DispatchConnection(_ context.Context, id, _ string) (bool, error) {
	if a.rejected[id] {
		return false, errors.New("element not found")
	}
	a.connections = append(a.connections, id)
	return true, nil
}

func (a *stubActuator) DispatchMessage(_ context.Context, id, _ string) (bool, error) {
	a.messages = append(a.messages, id)
	return true, nil
}

func (a *stubActuator) PollAcceptedConnections(context.Context) ([]string, error) {
	return a.accepted, nil
}

type stubEvents struct {
	events []domain.OutreachEvent
}

func (e *stubEvents) Publish(_ context.Context, ev domain.OutreachEvent) error {
	e.events = append(e.events, ev)
	return nil
}

type stubNotifier struct {
	texts []string
}

func (n *stubNotifier) Notify(_ context.Context, text string) error {
	n.texts = append(n.texts, text)
	return nil
}

type fixture struct {
	svc      *Service
	store    *memStore
	ledger   *stubLedger
	gen      *stubGenerator
	actuator *stubActuator
	events   *stubEvents
	notifier *stubNotifier
	pauses   []time.Duration
}

func newFixture(t *testing.T, limit int) *fixture {
	t.Helper()
	day := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return day.Add(9 * time.Hour) }

	ledger := newStubLedger()
	mirror := NewQuotaMirror(ledger, limit, time.UTC)
	mirror.now = clock

	f := &fixture{
		ledger:   ledger,
		store:    newMemStore(ledger, limit, func() time.Time { return day }),
		gen:      &stubGenerator{fail: map[string]bool{}, text: map[string]string{}},
		actuator: &stubActuator{rejected: map[string]bool{}},
		events:   &stubEvents{},
		notifier: &stubNotifier{},
	}
	f.svc = NewService(Deps{
		Targets:   f.store,
		Quota:     mirror,
		Generator: f.gen,
		Actuator:  f.actuator,
		Events:    f.events,
		Notifier:  f.notifier,
		Companies: func() []string { return []string{"A", "B", "C"} },
	}, Config{
		CompanyLimit:    2,
		ConnectionPause: Pause{Min: 30 * time.Second, Max: 90 * time.Second},
		MessagePause:    Pause{Min: time.Minute, Max: 2 * time.Minute},
	}, zerolog.Nop())
	f.svc.now = clock
	f.svc.randN = func(int64) int64 { return 0 }
	f.svc.sleep = func(_ context.Context, d time.Duration) error {
		f.pauses = append(f.pauses, d)
		return nil
	}
	return f
}

func (f *fixture) addTargets(t *testing.T, ids ...string) {
	t.Helper()
	for i, id := range ids {
		_, err := f.store.AddTarget(context.Background(), domain.Target{
			ExternalID:     id,
			Name:           strings.ToUpper(id),
			Company:        "Acme",
			RelevanceScore: 0.9 - float64(i)*0.01,
		})
		if err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
	}
}

func TestRunConnectionsStopsAtQuota(t *testing.T) {
	f := newFixture(t, 2)
	f.addTargets(t, "a", "b", "c")

	report, err := f.svc.RunConnections(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if report.Sent != 2 {
		t.Fatalf("ожидали 2 отправки, получили %d", report.Sent)
	}
	if len(f.actuator.connections) != 2 {
		t.Fatalf("третий запрос не должен уходить исполнителю, получили %v", f.actuator.connections)
	}
	if got, _ := f.store.GetTarget(context.Background(), "c"); got.Status != domain.StatusDiscovered {
		t.Fatalf("цель c должна остаться discovered, получили %s", got.Status)
	}

	again, err := f.svc.RunConnections(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !again.QuotaHit || again.Sent != 0 {
		t.Fatalf("повторный прогон должен упереться в квоту, получили %+v", again)
	}
}

func TestRunConnectionsSkipsFailedGeneration(t *testing.T) {
	f := newFixture(t, 30)
	f.addTargets(t, "a")
	f.gen.fail[promptConnectionRequest] = true

	report, _ := f.svc.RunConnections(context.Background())
	if report.Skipped != 1 || report.Sent != 0 {
		t.Fatalf("ожидали пропуск цели, получили %+v", report)
	}
	if len(f.actuator.connections) != 0 {
		t.Fatalf("без текста отправлять нельзя")
	}
}

func TestRunConnectionsContinuesAfterDispatchFailure(t *testing.T) {
	f := newFixture(t, 30)
	f.addTargets(t, "a", "b")
	f.actuator.rejected["a"] = true

	report, _ := f.svc.RunConnections(context.Background())
	if report.Failed != 1 || report.Sent != 1 {
		t.Fatalf("ожидали одну ошибку и одну отправку, получили %+v", report)
	}
	if len(f.pauses) != 1 || f.pauses[0] != 30*time.Second {
		t.Fatalf("ожидали одну паузу в 30s между целями, получили %v", f.pauses)
	}
	if len(f.events.events) != 1 || f.events.events[0].Kind != domain.EventConnectionSent {
		t.Fatalf("ожидали событие connection_sent, получили %+v", f.events.events)
	}
	if q, _ := f.ledger.GetOrCreateQuota(context.Background(), f.svc.Quota.Today()); q.ConnectionsSent != 1 {
		t.Fatalf("ожидали один учтённый запрос, получили %d", q.ConnectionsSent)
	}
}

func TestRunConnectionsStopsOnCancelledPause(t *testing.T) {
	f := newFixture(t, 30)
	f.addTargets(t, "a", "b", "c")
	ctx, cancel := context.WithCancel(context.Background())
	f.svc.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}

	report, err := f.svc.RunConnections(ctx)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if report.Sent != 1 {
		t.Fatalf("после отмены новые запросы не отправляются, получили %d", report.Sent)
	}
}

func TestRunAcceptanceSendsFirstMessages(t *testing.T) {
	f := newFixture(t, 30)
	f.addTargets(t, "a", "b")
	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		if ok, err := f.store.RecordConnectionSent(ctx, id, ""); err != nil || !ok {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
	}
	f.actuator.accepted = []string{"a", "b", "ghost"}

	report, err := f.svc.RunAcceptance(ctx)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if report.Accepted != 2 || report.Ignored != 1 {
		t.Fatalf("ожидали 2 принятия и 1 пропуск, получили %+v", report)
	}
	if report.Messages.Sent != 2 || len(f.actuator.messages) != 2 {
		t.Fatalf("ожидали 2 сообщения, получили %+v", report.Messages)
	}
	if got, _ := f.store.GetTarget(ctx, "a"); got.Status != domain.StatusMessageSent {
		t.Fatalf("ожидали статус message_sent, получили %s", got.Status)
	}
	if len(f.notifier.texts) != 1 {
		t.Fatalf("ожидали одно уведомление оператору, получили %d", len(f.notifier.texts))
	}

	again, _ := f.svc.RunAcceptance(ctx)
	if again.Messages.Sent != 0 {
		t.Fatalf("повторный прогон не должен отправлять сообщения повторно")
	}
}

func TestRunDiscoveryAppliesSignalAndSkipsDuplicates(t *testing.T) {
	f := newFixture(t, 30)
	f.addTargets(t, "known")
	f.actuator.profiles = []domain.ProfileSnapshot{
		{ExternalID: "new", Name: "New Person", Company: "A", Skills: []string{"ml"}},
		{ExternalID: "known", Name: "Known", Company: "A"},
		{ExternalID: "", Name: "Broken"},
	}
	f.gen.text[promptProfileAnalyzer] = "Hiring manager: true\nAI relevance score: 0.82"

	report, err := f.svc.RunDiscovery(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if report.Added != 1 || report.Duplicates != 1 || report.Failed != 1 {
		t.Fatalf("неожиданный итог %+v", report)
	}
	if len(f.actuator.searchedWith) != 2 {
		t.Fatalf("ожидали ограничение списка компаний до 2, получили %v", f.actuator.searchedWith)
	}
	got, _ := f.store.GetTarget(context.Background(), "new")
	if !got.IsHiringManager || got.RelevanceScore != 0.82 {
		t.Fatalf("ожидали оценку модели, получили %+v", got)
	}
	if !strings.Contains(f.gen.requests[0].Variables["profile_html"], "Skills: ml") {
		t.Fatalf("описание профиля должно содержать навыки")
	}
}

func TestRunDiscoveryDefaultsWhenGenerationFails(t *testing.T) {
	f := newFixture(t, 30)
	f.actuator.profiles = []domain.ProfileSnapshot{{ExternalID: "p", Name: "P"}}
	f.gen.fail[promptProfileAnalyzer] = true

	if _, err := f.svc.RunDiscovery(context.Background()); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	got, _ := f.store.GetTarget(context.Background(), "p")
	if got.IsHiringManager || got.RelevanceScore != 0.5 {
		t.Fatalf("ожидали значения по умолчанию, получили %+v", got)
	}
}

func TestResetQuotaMirror(t *testing.T) {
	f := newFixture(t, 1)
	f.addTargets(t, "a")
	if _, err := f.svc.RunConnections(context.Background()); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if f.svc.Quota.Remaining() != 0 {
		t.Fatalf("ожидали исчерпанную квоту")
	}
	_ = f.svc.ResetQuotaMirror(context.Background())
	if f.svc.Quota.Remaining() != 1 {
		t.Fatalf("после сброса зеркало показывает полный лимит")
	}
	if remaining, _ := f.svc.Quota.Refresh(context.Background()); remaining != 0 {
		t.Fatalf("журнал не сбрасывается вместе с зеркалом, остаток %d", remaining)
	}
}

type stubHarvester struct {
	posts []domain.ViralPost
	err   error
}

func (h *stubHarvester) HarvestCandidatePosts(context.Context, string, int) ([]domain.ViralPost, error) {
	return h.posts, h.err
}

type stubRanker struct {
	cached   []domain.ViralPost
	insights []bool
}

func (r *stubRanker) SelectViral(_ context.Context, posts []domain.ViralPost, _ int) ([]domain.ViralPost, error) {
	var out []domain.ViralPost
	for _, p := range posts {
		if p.EngagementRate() >= 0.05 {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *stubRanker) GetCached(_ context.Context, limit int) ([]domain.ViralPost, error) {
	if len(r.cached) > limit {
		return r.cached[:limit], nil
	}
	return r.cached, nil
}

func (r *stubRanker) BuildInsights(top []domain.ViralPost, cached bool) domain.ContentInsights {
	r.insights = append(r.insights, cached)
	return domain.ContentInsights{TopPosts: []domain.InsightPost{{Content: top[0].Content}}, Cached: cached}
}

type stubPosts struct {
	domain.PostRepo
	created []domain.Post
}

func (p *stubPosts) CreatePost(_ context.Context, post domain.Post) (domain.Post, error) {
	post.ID = int64(len(p.created) + 1)
	p.created = append(p.created, post)
	return post, nil
}

func TestRunContentFallsBackToCache(t *testing.T) {
	f := newFixture(t, 30)
	harvester := &stubHarvester{err: errors.New("timeout")}
	ranker := &stubRanker{cached: []domain.ViralPost{{URL: "u1", Content: "cached hook", Reactions: 200}}}
	posts := &stubPosts{}
	f.svc.Harvester, f.svc.Ranker, f.svc.Posts = harvester, ranker, posts
	f.gen.text[promptViralPost] = "Новый пост про AI"

	report, err := f.svc.RunContent(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !report.Cached || report.PostID != 1 {
		t.Fatalf("ожидали черновик из кэша, получили %+v", report)
	}
	if len(posts.created) != 1 || posts.created[0].Approved || posts.created[0].Content != "Новый пост про AI" {
		t.Fatalf("неожиданный черновик %+v", posts.created)
	}
	if !strings.Contains(f.gen.requests[0].Variables["viral_insights"], "cached hook") {
		t.Fatalf("сводка постов должна попасть в шаблон")
	}
	if len(f.notifier.texts) != 1 || !strings.Contains(f.notifier.texts[0], "#1") {
		t.Fatalf("оператор должен получить черновик, получили %v", f.notifier.texts)
	}
}

func TestRunContentWithoutPostsCreatesNothing(t *testing.T) {
	f := newFixture(t, 30)
	posts := &stubPosts{}
	f.svc.Harvester = &stubHarvester{posts: []domain.ViralPost{{URL: "weak", Reactions: 1}}}
	f.svc.Ranker = &stubRanker{}
	f.svc.Posts = posts

	report, err := f.svc.RunContent(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if report.Selected != 0 || len(posts.created) != 0 || len(f.gen.requests) != 0 {
		t.Fatalf("без постов генерация не запускается, получили %+v", report)
	}
}
