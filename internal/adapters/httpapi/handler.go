package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"outreach-orchestrator/internal/domain"
	httpinfra "outreach-orchestrator/internal/infra/http"
)

const (
	defaultCompanyLimit = 10
	defaultDailyWindow  = 7
	maxDailyWindow      = 366
	dateLayout          = "2006-01-02"
)

// Deps перечисляет хранилища, с которыми работает API.
type Deps struct {
	Targets domain.TargetStore
	Posts   domain.PostRepo
	Reports domain.ReportRepo
	Quota   domain.QuotaLedger
	// Today возвращает календарную дату квоты.
	Today func() time.Time
	// Ping проверяет доступность хранилища для /healthz.
	Ping func(ctx context.Context) error
}

// Handler обслуживает API отчётности и явных действий оператора.
type Handler struct {
	deps Deps
	log  zerolog.Logger
}

// NewHandler создаёт обработчик.
func NewHandler(deps Deps, log zerolog.Logger) *Handler {
	if deps.Today == nil {
		deps.Today = func() time.Time { return domain.CalendarDay(time.Now(), time.Local) }
	}
	return &Handler{deps: deps, log: log}
}

// Register добавляет маршруты. Все маршруты /api/v1 закрываются auth.
func (h *Handler) Register(r chi.Router, auth func(http.Handler) http.Handler) {
	r.Get("/healthz", h.health)
	r.Route("/api/v1", func(api chi.Router) {
		api.Use(auth)

		api.Get("/analytics", h.analytics)
		api.Get("/reports/companies", h.companies)
		api.Get("/reports/daily", h.daily)

		api.Get("/quota/today", h.quotaToday)
		api.Post("/quota/reset", h.quotaReset)

		api.Get("/targets/{externalID}", h.target)
		api.Post("/targets/{externalID}/opt-out", h.optOut)
		api.Post("/targets/{externalID}/reply", h.reply)
		api.Put("/targets/{externalID}/status", h.setStatus)

		api.Get("/posts/pending", h.pendingPost)
		api.Put("/posts/{postID}", h.editPost)
		api.Delete("/posts/{postID}", h.rejectPost)
		api.Post("/posts/{postID}/approve", h.approvePost)
		api.Post("/posts/{postID}/published", h.publishedPost)
		api.Put("/posts/{postID}/metrics", h.postMetrics)
	})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if h.deps.Ping != nil {
		if err := h.deps.Ping(r.Context()); err != nil {
			h.logger(r).Error().Err(err).Msg("хранилище недоступно")
			httpinfra.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
			return
		}
	}
	httpinfra.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) analytics(w http.ResponseWriter, r *http.Request) {
	a, err := h.deps.Targets.GetAnalytics(r.Context())
	if err != nil {
		h.fail(w, r, err, "analytics")
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, a)
}

func (h *Handler) companies(w http.ResponseWriter, r *http.Request) {
	limit := defaultCompanyLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httpinfra.WriteError(w, http.StatusBadRequest, "limit должен быть положительным числом")
			return
		}
		limit = n
	}
	stats, err := h.deps.Reports.CompanyBreakdown(r.Context(), limit)
	if err != nil {
		h.fail(w, r, err, "company breakdown")
		return
	}
	if stats == nil {
		stats = []domain.CompanyStat{}
	}
	httpinfra.WriteJSON(w, http.StatusOK, map[string]any{"companies": stats})
}

func (h *Handler) daily(w http.ResponseWriter, r *http.Request) {
	to := h.deps.Today()
	from := to.AddDate(0, 0, -(defaultDailyWindow - 1))
	var err error
	if raw := r.URL.Query().Get("to"); raw != "" {
		if to, err = time.Parse(dateLayout, raw); err != nil {
			httpinfra.WriteError(w, http.StatusBadRequest, "to: ожидается дата YYYY-MM-DD")
			return
		}
		from = to.AddDate(0, 0, -(defaultDailyWindow - 1))
	}
	if raw := r.URL.Query().Get("from"); raw != "" {
		if from, err = time.Parse(dateLayout, raw); err != nil {
			httpinfra.WriteError(w, http.StatusBadRequest, "from: ожидается дата YYYY-MM-DD")
			return
		}
	}
	if to.Before(from) {
		httpinfra.WriteError(w, http.StatusBadRequest, "from позже to")
		return
	}
	if to.Sub(from) > maxDailyWindow*24*time.Hour {
		httpinfra.WriteError(w, http.StatusBadRequest, "слишком длинный период")
		return
	}
	days, err := h.deps.Reports.DailyActivity(r.Context(), from, to)
	if err != nil {
		h.fail(w, r, err, "daily activity")
		return
	}
	out := make([]dailyView, 0, len(days))
	for _, d := range days {
		out = append(out, dailyView{Date: d.Date.Format(dateLayout), Connections: d.Connections, Messages: d.Messages})
	}
	httpinfra.WriteJSON(w, http.StatusOK, map[string]any{
		"from": from.Format(dateLayout),
		"to":   to.Format(dateLayout),
		"days": out,
	})
}

func (h *Handler) quotaToday(w http.ResponseWriter, r *http.Request) {
	q, err := h.deps.Quota.GetOrCreateQuota(r.Context(), h.deps.Today())
	if err != nil {
		h.fail(w, r, err, "quota")
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, quotaView{
		Date:            q.Date.Format(dateLayout),
		ConnectionsSent: q.ConnectionsSent,
		MessagesSent:    q.MessagesSent,
		ProfileViews:    q.ProfileViews,
	})
}

type quotaResetRequest struct {
	Date string `json:"date"`
}

// quotaReset обнуляет сохранённый счётчик. Только явное действие оператора.
func (h *Handler) quotaReset(w http.ResponseWriter, r *http.Request) {
	var req quotaResetRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	day := h.deps.Today()
	if req.Date != "" {
		parsed, err := time.Parse(dateLayout, req.Date)
		if err != nil {
			httpinfra.WriteError(w, http.StatusBadRequest, "date: ожидается дата YYYY-MM-DD")
			return
		}
		day = parsed
	}
	if err := h.deps.Quota.ResetQuota(r.Context(), day); err != nil {
		h.fail(w, r, err, "quota reset")
		return
	}
	h.logger(r).Warn().Str("date", day.Format(dateLayout)).Msg("оператор сбросил дневную квоту")
	httpinfra.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok", "date": day.Format(dateLayout)})
}

func (h *Handler) target(w http.ResponseWriter, r *http.Request) {
	t, err := h.deps.Targets.GetTarget(r.Context(), chi.URLParam(r, "externalID"))
	if err != nil {
		h.fail(w, r, err, "get target")
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, newTargetView(t))
}

func (h *Handler) optOut(w http.ResponseWriter, r *http.Request) {
	externalID := chi.URLParam(r, "externalID")
	if err := h.deps.Targets.OptOut(r.Context(), externalID); err != nil {
		h.fail(w, r, err, "opt out")
		return
	}
	h.logger(r).Info().Str("external_id", externalID).Msg("цель исключена из воронки")
	w.WriteHeader(http.StatusNoContent)
}

type replyRequest struct {
	Reply string `json:"reply"`
}

func (h *Handler) reply(w http.ResponseWriter, r *http.Request) {
	var req replyRequest
	if !decodeRequired(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Reply) == "" {
		httpinfra.WriteError(w, http.StatusBadRequest, "reply обязателен")
		return
	}
	externalID := chi.URLParam(r, "externalID")
	if err := h.deps.Targets.RecordMessageReplied(r.Context(), externalID, req.Reply); err != nil {
		h.fail(w, r, err, "record reply")
		return
	}
	h.logger(r).Info().Str("external_id", externalID).Msg("ответ цели записан")
	w.WriteHeader(http.StatusNoContent)
}

type statusRequest struct {
	Status string `json:"status"`
}

// setStatus выставляет статус вручную, без проверки порядка воронки.
func (h *Handler) setStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !decodeRequired(w, r, &req) {
		return
	}
	status, err := domain.ParseTargetStatus(req.Status)
	if err != nil {
		httpinfra.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	externalID := chi.URLParam(r, "externalID")
	if err := h.deps.Targets.UpdateStatus(r.Context(), externalID, status); err != nil {
		h.fail(w, r, err, "update status")
		return
	}
	h.logger(r).Info().Str("external_id", externalID).Str("status", string(status)).Msg("статус цели изменён оператором")
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) pendingPost(w http.ResponseWriter, r *http.Request) {
	post, err := h.deps.Posts.GetPendingPost(r.Context())
	if err != nil {
		h.fail(w, r, err, "pending post")
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, newPostView(post))
}

type editPostRequest struct {
	Content string `json:"content"`
}

func (h *Handler) editPost(w http.ResponseWriter, r *http.Request) {
	id, ok := postID(w, r)
	if !ok {
		return
	}
	var req editPostRequest
	if !decodeRequired(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		httpinfra.WriteError(w, http.StatusBadRequest, "content обязателен")
		return
	}
	if err := h.deps.Posts.UpdatePostContent(r.Context(), id, req.Content); err != nil {
		h.fail(w, r, err, "edit post")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) rejectPost(w http.ResponseWriter, r *http.Request) {
	h.postAction(w, r, "reject post", h.deps.Posts.DeletePost)
}

func (h *Handler) approvePost(w http.ResponseWriter, r *http.Request) {
	h.postAction(w, r, "approve post", h.deps.Posts.ApprovePost)
}

func (h *Handler) publishedPost(w http.ResponseWriter, r *http.Request) {
	h.postAction(w, r, "publish post", h.deps.Posts.RecordPostPublished)
}

func (h *Handler) postAction(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, int64) error) {
	id, ok := postID(w, r)
	if !ok {
		return
	}
	if err := fn(r.Context(), id); err != nil {
		h.fail(w, r, err, op)
		return
	}
	h.logger(r).Info().Int64("post_id", id).Str("op", op).Msg("действие с постом выполнено")
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) postMetrics(w http.ResponseWriter, r *http.Request) {
	id, ok := postID(w, r)
	if !ok {
		return
	}
	var m domain.PostMetrics
	if !decodeRequired(w, r, &m) {
		return
	}
	if m.Impressions < 0 || m.Reactions < 0 || m.Comments < 0 || m.Shares < 0 {
		httpinfra.WriteError(w, http.StatusBadRequest, "показатели не могут быть отрицательными")
		return
	}
	if err := h.deps.Posts.UpdatePostMetrics(r.Context(), id, m); err != nil {
		h.fail(w, r, err, "post metrics")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// fail переводит доменные ошибки в коды HTTP.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error, op string) {
	switch {
	case errors.Is(err, domain.ErrTargetNotFound),
		errors.Is(err, domain.ErrPostNotFound),
		errors.Is(err, domain.ErrMessageNotFound),
		errors.Is(err, domain.ErrNoOpenConnection):
		httpinfra.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrPostPublished),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrDuplicateTarget):
		httpinfra.WriteError(w, http.StatusConflict, err.Error())
	default:
		h.logger(r).Error().Err(err).Str("op", op).Msg("ошибка обработки запроса")
		httpinfra.WriteError(w, http.StatusInternalServerError, "внутренняя ошибка")
	}
}

func (h *Handler) logger(r *http.Request) *zerolog.Logger {
	if l := zerolog.Ctx(r.Context()); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &h.log
}

func postID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "postID"), 10, 64)
	if err != nil || id <= 0 {
		httpinfra.WriteError(w, http.StatusBadRequest, "некорректный id поста")
		return 0, false
	}
	return id, true
}

func decodeRequired(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpinfra.WriteError(w, http.StatusBadRequest, "некорректное тело запроса")
		return false
	}
	return true
}

// decodeOptional допускает пустое тело.
func decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	return decodeRequired(w, r, v)
}
