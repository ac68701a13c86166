package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"outreach-orchestrator/internal/adapters/telegram"
	"outreach-orchestrator/internal/domain"
	"outreach-orchestrator/internal/infra/metrics"
)

type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Handler обслуживает вебхук операторского бота: статистика воронки,
// одобрение черновиков постов и исключение целей.
type Handler struct {
	bot        botAPI
	log        zerolog.Logger
	targets    domain.TargetStore
	posts      domain.PostRepo
	quota      domain.QuotaLedger
	today      func() time.Time
	dailyLimit int
	operator   int64
}

// NewHandler создаёт обработчик. Команды принимаются только из чата operator.
func NewHandler(bot botAPI, log zerolog.Logger, targets domain.TargetStore, posts domain.PostRepo, quota domain.QuotaLedger, today func() time.Time, dailyLimit int, operator int64) *Handler {
	return &Handler{
		bot:        bot,
		log:        log,
		targets:    targets,
		posts:      posts,
		quota:      quota,
		today:      today,
		dailyLimit: dailyLimit,
		operator:   operator,
	}
}

// HandleUpdate обрабатывает входящий апдейт.
func (h *Handler) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	if upd.Message != nil {
		h.handleMessage(ctx, upd.Message)
	} else if upd.CallbackQuery != nil {
		h.handleCallback(ctx, upd.CallbackQuery)
	}
}

func (h *Handler) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	if chatID != h.operator {
		h.log.Warn().Int64("chat", chatID).Msg("команда из постороннего чата")
		h.reply(chatID, "Доступ запрещён", nil)
		return
	}
	command, arg := parseCommand(msg.Text)
	switch command {
	case "/start", "/help":
		h.reply(chatID, helpMessage, nil)
	case "/stats":
		h.handleStats(ctx, chatID)
	case "/quota":
		h.handleQuota(ctx, chatID)
	case "/pending":
		h.handlePending(ctx, chatID)
	case "/approve":
		h.handlePostAction(ctx, chatID, arg, "одобрен", h.posts.ApprovePost)
	case "/reject":
		h.handlePostAction(ctx, chatID, arg, "отклонён", h.posts.DeletePost)
	case "/published":
		h.handlePostAction(ctx, chatID, arg, "отмечен опубликованным", h.posts.RecordPostPublished)
	case "/optout":
		h.handleOptOut(ctx, chatID, arg)
	default:
		h.reply(chatID, "Неизвестная команда. /help — список команд", nil)
	}
}

func (h *Handler) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if cb.Message == nil {
		return
	}
	chatID := cb.Message.Chat.ID
	if chatID == h.operator {
		action, rawID, _ := strings.Cut(cb.Data, ":")
		switch action {
		case "post_approve":
			h.handlePostAction(ctx, chatID, rawID, "одобрен", h.posts.ApprovePost)
		case "post_reject":
			h.handlePostAction(ctx, chatID, rawID, "отклонён", h.posts.DeletePost)
		}
	}
	start := time.Now()
	_, err := h.bot.Request(tgbotapi.NewCallback(cb.ID, ""))
	metrics.ObserveNetworkRequest("telegram_bot", "answer_callback", strconv.FormatInt(chatID, 10), start, err)
	if err != nil {
		h.log.Error().Err(err).Msg("не удалось ответить на callback")
	}
}

func (h *Handler) handleStats(ctx context.Context, chatID int64) {
	a, err := h.targets.GetAnalytics(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("не удалось получить статистику")
		h.reply(chatID, "Не удалось получить статистику. Попробуйте позже", nil)
		return
	}
	h.reply(chatID, formatAnalytics(a), nil)
}

func (h *Handler) handleQuota(ctx context.Context, chatID int64) {
	q, err := h.quota.GetOrCreateQuota(ctx, h.today())
	if err != nil {
		h.log.Error().Err(err).Msg("не удалось получить квоту")
		h.reply(chatID, "Не удалось получить квоту. Попробуйте позже", nil)
		return
	}
	h.reply(chatID, fmt.Sprintf("Квота на %s:\nЗапросы: %d из %d\nСообщения: %d\nПросмотры профилей: %d",
		q.Date.Format("2006-01-02"), q.ConnectionsSent, h.dailyLimit, q.MessagesSent, q.ProfileViews), nil)
}

func (h *Handler) handlePending(ctx context.Context, chatID int64) {
	post, err := h.posts.GetPendingPost(ctx)
	if errors.Is(err, domain.ErrPostNotFound) {
		h.reply(chatID, "Черновиков на одобрение нет", nil)
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("не удалось получить черновик")
		h.reply(chatID, "Не удалось получить черновик. Попробуйте позже", nil)
		return
	}
	h.reply(chatID, fmt.Sprintf("Черновик #%d:\n\n%s", post.ID, post.Content), postKeyboard(post.ID))
}

func (h *Handler) handlePostAction(ctx context.Context, chatID int64, rawID, done string, fn func(context.Context, int64) error) {
	id, err := strconv.ParseInt(strings.TrimSpace(rawID), 10, 64)
	if err != nil || id <= 0 {
		h.reply(chatID, "Укажите номер поста, например /approve 12", nil)
		return
	}
	switch err := fn(ctx, id); {
	case errors.Is(err, domain.ErrPostNotFound):
		h.reply(chatID, fmt.Sprintf("Пост #%d не найден", id), nil)
	case errors.Is(err, domain.ErrPostPublished):
		h.reply(chatID, fmt.Sprintf("Пост #%d уже опубликован", id), nil)
	case err != nil:
		h.log.Error().Err(err).Int64("post_id", id).Msg("не удалось изменить пост")
		h.reply(chatID, "Не удалось изменить пост. Попробуйте позже", nil)
	default:
		h.log.Info().Int64("post_id", id).Str("result", done).Msg("оператор изменил пост")
		h.reply(chatID, fmt.Sprintf("Пост #%d %s", id, done), nil)
	}
}

func (h *Handler) handleOptOut(ctx context.Context, chatID int64, externalID string) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		h.reply(chatID, "Укажите идентификатор профиля, например /optout jane-doe", nil)
		return
	}
	switch err := h.targets.OptOut(ctx, externalID); {
	case errors.Is(err, domain.ErrTargetNotFound):
		h.reply(chatID, "Цель не найдена", nil)
	case err != nil:
		h.log.Error().Err(err).Str("external_id", externalID).Msg("не удалось исключить цель")
		h.reply(chatID, "Не удалось исключить цель. Попробуйте позже", nil)
	default:
		h.log.Info().Str("external_id", externalID).Msg("оператор исключил цель")
		h.reply(chatID, fmt.Sprintf("%s исключён из воронки", externalID), nil)
	}
}

func (h *Handler) reply(chatID int64, text string, keyboard *tgbotapi.InlineKeyboardMarkup) {
	parts := telegram.SplitMessage(text, telegram.MessageLimit)
	for i, part := range parts {
		msg := tgbotapi.NewMessage(chatID, part)
		msg.DisableWebPagePreview = true
		if i == len(parts)-1 && keyboard != nil {
			msg.ReplyMarkup = keyboard
		}
		start := time.Now()
		_, err := h.bot.Send(msg)
		metrics.ObserveNetworkRequest("telegram_bot", "send_message", strconv.FormatInt(chatID, 10), start, err)
		if err != nil {
			h.log.Error().Err(err).Msg("не удалось отправить сообщение")
			return
		}
	}
}

func postKeyboard(postID int64) *tgbotapi.InlineKeyboardMarkup {
	id := strconv.FormatInt(postID, 10)
	kb := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Одобрить", "post_approve:"+id),
			tgbotapi.NewInlineKeyboardButtonData("🗑 Отклонить", "post_reject:"+id),
		),
	)
	return &kb
}

// parseCommand отделяет команду от аргумента и убирает суффикс @botname.
func parseCommand(text string) (string, string) {
	text = strings.TrimSpace(text)
	command, arg, _ := strings.Cut(text, " ")
	if at := strings.IndexByte(command, '@'); at > 0 {
		command = command[:at]
	}
	return strings.ToLower(command), strings.TrimSpace(arg)
}

func formatAnalytics(a domain.Analytics) string {
	lines := []string{
		"📊 Воронка",
		fmt.Sprintf("Целей: %d (нанимающих менеджеров: %d)", a.TotalTargets, a.HiringManagers),
		fmt.Sprintf("Запросов: %d, принято: %d (%.1f%%)", a.ConnectionsSent, a.ConnectionsAccepted, a.AcceptanceRate*100),
		fmt.Sprintf("Сообщений: %d, ответов: %d (%.1f%%)", a.MessagesSent, a.MessagesReplied, a.ReplyRate*100),
		fmt.Sprintf("Опубликовано постов: %d", a.PostsPublished),
		fmt.Sprintf("Сегодня: запросов %d, сообщений %d", a.Today.ConnectionsSent, a.Today.MessagesSent),
	}
	return strings.Join(lines, "\n")
}

const helpMessage = `Команды оператора:
/stats — статистика воронки
/quota — дневная квота
/pending — черновик поста на одобрение
/approve <id> — одобрить пост
/reject <id> — отклонить пост
/published <id> — отметить пост опубликованным
/optout <external_id> — исключить цель из воронки`
