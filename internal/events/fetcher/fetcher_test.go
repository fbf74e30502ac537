package fetcher

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/letsssgooo/quizhost/internal/client"
)

type fakeClient struct {
	offsets []int
	batches [][]client.Update
	err     error
}

func (c *fakeClient) SendMessage(context.Context, int64, string, *client.SendOptions) (*client.Message, error) {
	return nil, nil
}

func (c *fakeClient) GetUpdates(_ context.Context, offset int, _ int) ([]client.Update, error) {
	c.offsets = append(c.offsets, offset)
	if c.err != nil {
		return nil, c.err
	}
	if len(c.batches) == 0 {
		return nil, nil
	}
	batch := c.batches[0]
	c.batches = c.batches[1:]

	return batch, nil
}

func TestOffsetAdvances(t *testing.T) {
	c := &fakeClient{batches: [][]client.Update{
		{{UpdateID: 3}, {UpdateID: 4}},
		nil,
		{{UpdateID: 9}},
	}}
	f := NewTelegramFetcher(c)

	for range 4 {
		_, err := f.GetUpdates(context.Background(), 0)
		require.NoError(t, err)
	}

	assert.Equal(t, []int{0, 5, 5, 10}, c.offsets)
}

func TestErrorKeepsOffset(t *testing.T) {
	c := &fakeClient{err: errors.New("boom")}
	f := NewTelegramFetcher(c)

	_, err := f.GetUpdates(context.Background(), 0)
	require.Error(t, err)
	_, err = f.GetUpdates(context.Background(), 0)
	require.Error(t, err)

	assert.Equal(t, []int{0, 0}, c.offsets)
}
