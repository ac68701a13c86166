package telegram

import (
	"context"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"outreach-orchestrator/internal/domain"
	"outreach-orchestrator/internal/infra/metrics"
)

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier отправляет уведомления в чат оператора.
type Notifier struct {
	bot    sender
	chatID int64
}

var _ domain.Notifier = (*Notifier)(nil)

// NewNotifier создаёт уведомитель для чата chatID.
func NewNotifier(bot sender, chatID int64) *Notifier {
	return &Notifier{bot: bot, chatID: chatID}
}

// Notify отправляет текст, разбивая его на части по лимиту Bot API.
func (n *Notifier) Notify(ctx context.Context, text string) error {
	target := strconv.FormatInt(n.chatID, 10)
	for _, part := range SplitMessage(text, MessageLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := tgbotapi.NewMessage(n.chatID, part)
		msg.DisableWebPagePreview = true
		start := time.Now()
		_, err := n.bot.Send(msg)
		metrics.ObserveNetworkRequest("telegram_bot", "send_message", target, start, err)
		if err != nil {
			return err
		}
	}
	return nil
}

// Silent используется, когда бот не настроен.
type Silent struct{}

var _ domain.Notifier = Silent{}

func (Silent) Notify(context.Context, string) error { return nil }
