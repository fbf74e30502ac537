package sender

import (
	"context"
	"log/slog"

	"github.com/letsssgooo/quizhost/internal/client"
)

// TelegramSender реализует отправку сообщений через Telegram Bot API.
type TelegramSender struct {
	client client.Client
}

// NewTelegramSender создает новый объект структуры TelegramSender.
func NewTelegramSender(client client.Client) *TelegramSender {
	return &TelegramSender{client: client}
}

// Message отправляет текстовое сообщение.
func (s *TelegramSender) Message(ctx context.Context, chatID int64, text string) (*client.Message, error) {
	msg, err := s.client.SendMessage(ctx, chatID, text, nil)
	if err != nil {
		slog.Error("failed to send message", "chat_id", chatID, "err", err)
		return nil, err
	}

	return msg, nil
}
