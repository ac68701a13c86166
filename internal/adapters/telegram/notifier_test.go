package telegram

import (
	"context"
	"errors"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type stubSender struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (s *stubSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if s.err != nil {
		return tgbotapi.Message{}, s.err
	}
	s.sent = append(s.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{}, nil
}

func TestNotifySplitsLongText(t *testing.T) {
	bot := &stubSender{}
	n := NewNotifier(bot, 42)

	text := strings.Repeat("x", MessageLimit) + "\n" + "tail"
	if err := n.Notify(context.Background(), text); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(bot.sent) != 2 {
		t.Fatalf("ожидали 2 сообщения, получили %d", len(bot.sent))
	}
	if bot.sent[0].ChatID != 42 || bot.sent[1].Text != "tail" {
		t.Fatalf("неожиданные сообщения %+v", bot.sent)
	}
}

func TestNotifyReturnsSendError(t *testing.T) {
	n := NewNotifier(&stubSender{err: errors.New("forbidden")}, 42)
	if err := n.Notify(context.Background(), "hi"); err == nil {
		t.Fatalf("ожидали ошибку отправки")
	}
}
