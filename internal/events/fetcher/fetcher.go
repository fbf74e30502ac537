package fetcher

import (
	"context"

	"github.com/letsssgooo/quizhost/internal/client"
)

// TelegramFetcher реализует Fetcher через Telegram Bot API.
// Offset сдвигается сразу после получения пачки, поэтому каждое
// обновление выдаётся ровно один раз.
type TelegramFetcher struct {
	client client.Client
	offset int
}

func NewTelegramFetcher(client client.Client) *TelegramFetcher {
	return &TelegramFetcher{
		client: client,
		offset: 0,
	}
}

// GetUpdates получает слайс Update, учитывая timeout
func (f *TelegramFetcher) GetUpdates(ctx context.Context, timeout int) ([]client.Update, error) {
	updates, err := f.client.GetUpdates(ctx, f.offset, timeout)
	if err != nil {
		return nil, err
	}

	if len(updates) != 0 {
		f.offset = updates[len(updates)-1].UpdateID + 1
	}

	return updates, nil
}
