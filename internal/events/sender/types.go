package sender

import (
	"context"

	"github.com/letsssgooo/quizhost/internal/client"
)

// Sender определяет основной интерфейс для отправки сообщений.
type Sender interface {
	// Message отправляет текстовое сообщение.
	Message(ctx context.Context, chatID int64, text string) (*client.Message, error)
}
