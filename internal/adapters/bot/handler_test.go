package bot

import (
	"context"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"outreach-orchestrator/internal/domain"
)

const operatorChat = 42

type fakeBot struct {
	sent     []tgbotapi.MessageConfig
	requests int
}

func (b *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		b.sent = append(b.sent, msg)
	}
	return tgbotapi.Message{}, nil
}

func (b *fakeBot) Request(tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	b.requests++
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (b *fakeBot) last(t *testing.T) tgbotapi.MessageConfig {
	t.Helper()
	if len(b.sent) == 0 {
		t.Fatal("ожидали ответ бота")
	}
	return b.sent[len(b.sent)-1]
}

type stubTargets struct {
	domain.TargetStore
	analytics domain.Analytics
	optedOut  []string
}

func (s *stubTargets) GetAnalytics(context.Context) (domain.Analytics, error) {
	return s.analytics, nil
}

func (s *stubTargets) OptOut(_ context.Context, id string) error {
	if id == "ghost" {
		return domain.ErrTargetNotFound
	}
	s.optedOut = append(s.optedOut, id)
	return nil
}

type stubPosts struct {
	domain.PostRepo
	pending  *domain.Post
	approved []int64
	deleted  []int64
}

func (s *stubPosts) GetPendingPost(context.Context) (domain.Post, error) {
	if s.pending == nil {
		return domain.Post{}, domain.ErrPostNotFound
	}
	return *s.pending, nil
}

func (s *stubPosts) ApprovePost(_ context.Context, id int64) error {
	if id == 99 {
		return domain.ErrPostPublished
	}
	s.approved = append(s.approved, id)
	return nil
}

func (s *stubPosts) DeletePost(_ context.Context, id int64) error {
	s.deleted = append(s.deleted, id)
	return nil
}

type stubQuota struct {
	domain.QuotaLedger
}

func (stubQuota) GetOrCreateQuota(_ context.Context, day time.Time) (domain.DailyQuota, error) {
	return domain.DailyQuota{Date: day, ConnectionsSent: 7, MessagesSent: 2}, nil
}

func newTestHandler() (*Handler, *fakeBot, *stubTargets, *stubPosts) {
	b := &fakeBot{}
	targets := &stubTargets{}
	posts := &stubPosts{}
	today := func() time.Time { return time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC) }
	h := NewHandler(b, zerolog.Nop(), targets, posts, stubQuota{}, today, 30, operatorChat)
	return h, b, targets, posts
}

func command(chatID int64, text string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: chatID}, Text: text}}
}

func TestForeignChatRejected(t *testing.T) {
	h, b, targets, _ := newTestHandler()
	h.HandleUpdate(context.Background(), command(7, "/optout jane"))
	if len(targets.optedOut) != 0 {
		t.Fatal("посторонний чат не может управлять воронкой")
	}
	if msg := b.last(t); msg.Text != "Доступ запрещён" {
		t.Fatalf("неожиданный ответ %q", msg.Text)
	}
}

func TestStatsCommand(t *testing.T) {
	h, b, targets, _ := newTestHandler()
	targets.analytics = domain.Analytics{ConnectionsSent: 10, ConnectionsAccepted: 4, AcceptanceRate: 0.4}
	h.HandleUpdate(context.Background(), command(operatorChat, "/stats@outreach_bot"))
	if text := b.last(t).Text; !strings.Contains(text, "принято: 4 (40.0%)") {
		t.Fatalf("неожиданный ответ %q", text)
	}
}

func TestQuotaCommand(t *testing.T) {
	h, b, _, _ := newTestHandler()
	h.HandleUpdate(context.Background(), command(operatorChat, "/quota"))
	if text := b.last(t).Text; !strings.Contains(text, "Запросы: 7 из 30") || !strings.Contains(text, "2024-03-10") {
		t.Fatalf("неожиданный ответ %q", text)
	}
}

func TestPendingShowsKeyboard(t *testing.T) {
	h, b, _, posts := newTestHandler()
	h.HandleUpdate(context.Background(), command(operatorChat, "/pending"))
	if text := b.last(t).Text; text != "Черновиков на одобрение нет" {
		t.Fatalf("неожиданный ответ %q", text)
	}

	posts.pending = &domain.Post{ID: 5, Content: "Текст поста"}
	h.HandleUpdate(context.Background(), command(operatorChat, "/pending"))
	msg := b.last(t)
	if !strings.Contains(msg.Text, "Текст поста") {
		t.Fatalf("ожидали текст черновика, получили %q", msg.Text)
	}
	kb, ok := msg.ReplyMarkup.(*tgbotapi.InlineKeyboardMarkup)
	if !ok || *kb.InlineKeyboard[0][0].CallbackData != "post_approve:5" {
		t.Fatalf("ожидали кнопку одобрения поста 5")
	}
}

func TestApproveCommandAndCallback(t *testing.T) {
	h, b, _, posts := newTestHandler()
	h.HandleUpdate(context.Background(), command(operatorChat, "/approve 12"))
	if len(posts.approved) != 1 || posts.approved[0] != 12 {
		t.Fatalf("ожидали одобрение поста 12, получили %v", posts.approved)
	}

	h.HandleUpdate(context.Background(), command(operatorChat, "/approve 99"))
	if text := b.last(t).Text; text != "Пост #99 уже опубликован" {
		t.Fatalf("неожиданный ответ %q", text)
	}

	h.HandleUpdate(context.Background(), command(operatorChat, "/approve abc"))
	if text := b.last(t).Text; !strings.HasPrefix(text, "Укажите номер поста") {
		t.Fatalf("неожиданный ответ %q", text)
	}

	h.HandleUpdate(context.Background(), tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb",
		Data:    "post_reject:5",
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: operatorChat}},
	}})
	if len(posts.deleted) != 1 || posts.deleted[0] != 5 {
		t.Fatalf("ожидали отклонение поста 5, получили %v", posts.deleted)
	}
	if b.requests != 1 {
		t.Fatalf("ожидали ответ на callback")
	}
}

func TestOptOutCommand(t *testing.T) {
	h, b, targets, _ := newTestHandler()
	h.HandleUpdate(context.Background(), command(operatorChat, "/optout jane-doe"))
	if len(targets.optedOut) != 1 || targets.optedOut[0] != "jane-doe" {
		t.Fatalf("ожидали исключение jane-doe, получили %v", targets.optedOut)
	}
	h.HandleUpdate(context.Background(), command(operatorChat, "/optout ghost"))
	if text := b.last(t).Text; text != "Цель не найдена" {
		t.Fatalf("неожиданный ответ %q", text)
	}
}

func TestParseCommand(t *testing.T) {
	cmd, arg := parseCommand("  /Approve@bot   17 ")
	if cmd != "/approve" || arg != "17" {
		t.Fatalf("ожидали /approve 17, получили %q %q", cmd, arg)
	}
}
