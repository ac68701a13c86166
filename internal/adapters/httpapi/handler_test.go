package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"outreach-orchestrator/internal/domain"
	httpinfra "outreach-orchestrator/internal/infra/http"
)

type stubTargets struct {
	domain.TargetStore
	analytics domain.Analytics
	targets   map[string]domain.Target
	optedOut  []string
	replies   map[string]string
}

func (s *stubTargets) GetAnalytics(context.Context) (domain.Analytics, error) {
	return s.analytics, nil
}

func (s *stubTargets) GetTarget(_ context.Context, id string) (domain.Target, error) {
	t, ok := s.targets[id]
	if !ok {
		return domain.Target{}, domain.ErrTargetNotFound
	}
	return t, nil
}

func (s *stubTargets) OptOut(_ context.Context, id string) error {
	if _, ok := s.targets[id]; !ok {
		return domain.ErrTargetNotFound
	}
	s.optedOut = append(s.optedOut, id)
	return nil
}

func (s *stubTargets) UpdateStatus(_ context.Context, id string, status domain.TargetStatus) error {
	t, ok := s.targets[id]
	if !ok {
		return domain.ErrTargetNotFound
	}
	t.Status = status
	s.targets[id] = t
	return nil
}

func (s *stubTargets) RecordMessageReplied(_ context.Context, id, reply string) error {
	if _, ok := s.targets[id]; !ok {
		return domain.ErrMessageNotFound
	}
	s.replies[id] = reply
	return nil
}

type stubPosts struct {
	domain.PostRepo
	pending   *domain.Post
	published map[int64]bool
	approved  []int64
	edited    map[int64]string
	metrics   map[int64]domain.PostMetrics
}

func (s *stubPosts) GetPendingPost(context.Context) (domain.Post, error) {
	if s.pending == nil {
		return domain.Post{}, domain.ErrPostNotFound
	}
	return *s.pending, nil
}

func (s *stubPosts) UpdatePostContent(_ context.Context, id int64, content string) error {
	if s.published[id] {
		return domain.ErrPostPublished
	}
	s.edited[id] = content
	return nil
}

func (s *stubPosts) ApprovePost(_ context.Context, id int64) error {
	s.approved = append(s.approved, id)
	return nil
}

func (s *stubPosts) UpdatePostMetrics(_ context.Context, id int64, m domain.PostMetrics) error {
	s.metrics[id] = m
	return nil
}

type stubReports struct {
	from, to time.Time
	limit    int
	err      error
}

func (s *stubReports) CompanyBreakdown(_ context.Context, limit int) ([]domain.CompanyStat, error) {
	s.limit = limit
	if s.err != nil {
		return nil, s.err
	}
	return []domain.CompanyStat{{Company: "Acme", TotalTargets: 3}}, nil
}

func (s *stubReports) DailyActivity(_ context.Context, from, to time.Time) ([]domain.DailyActivity, error) {
	s.from, s.to = from, to
	return []domain.DailyActivity{{Date: to, Connections: 4, Messages: 1}}, nil
}

type stubQuota struct {
	domain.QuotaLedger
	reset []time.Time
	quota domain.DailyQuota
}

func (s *stubQuota) GetOrCreateQuota(_ context.Context, day time.Time) (domain.DailyQuota, error) {
	q := s.quota
	q.Date = day
	return q, nil
}

func (s *stubQuota) ResetQuota(_ context.Context, day time.Time) error {
	s.reset = append(s.reset, day)
	return nil
}

type apiFixture struct {
	router  chi.Router
	targets *stubTargets
	posts   *stubPosts
	reports *stubReports
	quota   *stubQuota
}

var today = time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

func newAPIFixture(t *testing.T, token string) *apiFixture {
	t.Helper()
	f := &apiFixture{
		targets: &stubTargets{
			targets: map[string]domain.Target{"ann": {ExternalID: "ann", Name: "Ann", Status: domain.StatusMessageSent}},
			replies: map[string]string{},
		},
		posts: &stubPosts{
			published: map[int64]bool{},
			edited:    map[int64]string{},
			metrics:   map[int64]domain.PostMetrics{},
		},
		reports: &stubReports{},
		quota:   &stubQuota{quota: domain.DailyQuota{ConnectionsSent: 12}},
	}
	h := NewHandler(Deps{
		Targets: f.targets,
		Posts:   f.posts,
		Reports: f.reports,
		Quota:   f.quota,
		Today:   func() time.Time { return today },
	}, zerolog.Nop())
	r := chi.NewRouter()
	h.Register(r, httpinfra.TokenAuthMiddleware(token))
	f.router = r
	return f
}

func (f *apiFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestAnalyticsEndpoint(t *testing.T) {
	f := newAPIFixture(t, "secret")
	f.targets.analytics = domain.Analytics{ConnectionsSent: 10, ConnectionsAccepted: 4, AcceptanceRate: 0.4}

	rec := f.do(t, http.MethodGet, "/api/v1/analytics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("ожидали 200, получили %d", rec.Code)
	}
	var got domain.Analytics
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if got.AcceptanceRate != 0.4 || got.ConnectionsSent != 10 {
		t.Fatalf("неожиданный ответ %+v", got)
	}
}

func TestAuthRequired(t *testing.T) {
	f := newAPIFixture(t, "secret")
	req := httptest.NewRequest(http.MethodGet, "/api/v1/analytics", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("ожидали 401, получили %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz доступен без токена, получили %d", rec.Code)
	}
}

func TestCompanyReportLimit(t *testing.T) {
	f := newAPIFixture(t, "")
	if rec := f.do(t, http.MethodGet, "/api/v1/reports/companies?limit=3", ""); rec.Code != http.StatusOK {
		t.Fatalf("ожидали 200, получили %d", rec.Code)
	}
	if f.reports.limit != 3 {
		t.Fatalf("ожидали limit=3, получили %d", f.reports.limit)
	}
	if rec := f.do(t, http.MethodGet, "/api/v1/reports/companies?limit=-1", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("ожидали 400, получили %d", rec.Code)
	}
	f.reports.err = errors.New("db down")
	if rec := f.do(t, http.MethodGet, "/api/v1/reports/companies", ""); rec.Code != http.StatusInternalServerError {
		t.Fatalf("ожидали 500, получили %d", rec.Code)
	}
}

func TestDailyReportDefaultsToLastWeek(t *testing.T) {
	f := newAPIFixture(t, "")
	rec := f.do(t, http.MethodGet, "/api/v1/reports/daily", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("ожидали 200, получили %d", rec.Code)
	}
	if !f.reports.to.Equal(today) || !f.reports.from.Equal(today.AddDate(0, 0, -6)) {
		t.Fatalf("неожиданный период %v..%v", f.reports.from, f.reports.to)
	}
	if !strings.Contains(rec.Body.String(), `"date":"2024-03-10"`) {
		t.Fatalf("дата должна быть в формате YYYY-MM-DD: %s", rec.Body.String())
	}

	if rec := f.do(t, http.MethodGet, "/api/v1/reports/daily?from=2024-03-10&to=2024-03-01", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("ожидали 400 для обратного периода, получили %d", rec.Code)
	}
}

func TestQuotaResetUsesToday(t *testing.T) {
	f := newAPIFixture(t, "")
	if rec := f.do(t, http.MethodPost, "/api/v1/quota/reset", ""); rec.Code != http.StatusOK {
		t.Fatalf("ожидали 200, получили %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/api/v1/quota/reset", `{"date":"2024-03-09"}`); rec.Code != http.StatusOK {
		t.Fatalf("ожидали 200, получили %d", rec.Code)
	}
	if len(f.quota.reset) != 2 || !f.quota.reset[0].Equal(today) || f.quota.reset[1].Day() != 9 {
		t.Fatalf("неожиданные сбросы %v", f.quota.reset)
	}

	rec := f.do(t, http.MethodGet, "/api/v1/quota/today", "")
	if !strings.Contains(rec.Body.String(), `"connections_sent":12`) {
		t.Fatalf("неожиданный ответ %s", rec.Body.String())
	}
}

func TestTargetActions(t *testing.T) {
	f := newAPIFixture(t, "")
	if rec := f.do(t, http.MethodGet, "/api/v1/targets/ghost", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("ожидали 404, получили %d", rec.Code)
	}
	rec := f.do(t, http.MethodGet, "/api/v1/targets/ann", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"message_sent"`) {
		t.Fatalf("неожиданный ответ %d %s", rec.Code, rec.Body.String())
	}
	if rec := f.do(t, http.MethodPost, "/api/v1/targets/ann/reply", `{"reply":"давайте созвонимся"}`); rec.Code != http.StatusNoContent {
		t.Fatalf("ожидали 204, получили %d", rec.Code)
	}
	if f.targets.replies["ann"] != "давайте созвонимся" {
		t.Fatalf("ответ не записан")
	}
	if rec := f.do(t, http.MethodPost, "/api/v1/targets/ann/reply", `{"reply":" "}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("ожидали 400 для пустого ответа, получили %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/api/v1/targets/ann/opt-out", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("ожидали 204, получили %d", rec.Code)
	}
	if len(f.targets.optedOut) != 1 {
		t.Fatalf("ожидали исключение цели")
	}
}

func TestSetTargetStatus(t *testing.T) {
	f := newAPIFixture(t, "")
	if rec := f.do(t, http.MethodPut, "/api/v1/targets/ann/status", `{"status":"Connection_Accepted"}`); rec.Code != http.StatusNoContent {
		t.Fatalf("ожидали 204, получили %d", rec.Code)
	}
	if got := f.targets.targets["ann"].Status; got != domain.StatusConnectionAccepted {
		t.Fatalf("ожидали connection_accepted, получили %s", got)
	}
	if rec := f.do(t, http.MethodPut, "/api/v1/targets/ann/status", `{"status":"hired"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("ожидали 400 для неизвестного статуса, получили %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPut, "/api/v1/targets/ghost/status", `{"status":"discovered"}`); rec.Code != http.StatusNotFound {
		t.Fatalf("ожидали 404, получили %d", rec.Code)
	}
}

func TestPostWorkflow(t *testing.T) {
	f := newAPIFixture(t, "")
	if rec := f.do(t, http.MethodGet, "/api/v1/posts/pending", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("ожидали 404 без черновиков, получили %d", rec.Code)
	}
	f.posts.pending = &domain.Post{ID: 7, Content: "черновик"}
	rec := f.do(t, http.MethodGet, "/api/v1/posts/pending", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"id":7`) {
		t.Fatalf("неожиданный ответ %d %s", rec.Code, rec.Body.String())
	}

	if rec := f.do(t, http.MethodPut, "/api/v1/posts/7", `{"content":"новый текст"}`); rec.Code != http.StatusNoContent {
		t.Fatalf("ожидали 204, получили %d", rec.Code)
	}
	f.posts.published[8] = true
	if rec := f.do(t, http.MethodPut, "/api/v1/posts/8", `{"content":"поздно"}`); rec.Code != http.StatusConflict {
		t.Fatalf("ожидали 409 для опубликованного поста, получили %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/api/v1/posts/7/approve", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("ожидали 204, получили %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/api/v1/posts/abc/approve", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("ожидали 400 для некорректного id, получили %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPut, "/api/v1/posts/7/metrics", `{"impressions":100,"reactions":-1}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("ожидали 400 для отрицательных показателей, получили %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPut, "/api/v1/posts/7/metrics", `{"impressions":100,"reactions":5}`); rec.Code != http.StatusNoContent {
		t.Fatalf("ожидали 204, получили %d", rec.Code)
	}
	if f.posts.metrics[7].Impressions != 100 {
		t.Fatalf("показатели не записаны")
	}
}
