package updates

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/letsssgooo/quizhost/internal/domain/models"
	"github.com/letsssgooo/quizhost/internal/quiz"
	"github.com/letsssgooo/quizhost/internal/storage/memory"
)

func setup(t *testing.T) (*Service, *memory.Storage, *quiz.Quiz) {
	t.Helper()

	store := memory.NewStorage()
	q := quiz.New(store, nil)
	require.NoError(t, q.Start("t", "en", 10))

	return NewService(store, q, 0), store, q
}

func TestCollectScenario(t *testing.T) {
	ctx := context.Background()
	svc, store, q := setup(t)

	id, err := store.UpsertTeam(ctx, models.Team{QuizID: "t", ID: 5001, Name: "X", Timestamp: 100})
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	id, err = store.UpsertAnswer(ctx, models.Answer{QuizID: "t", Question: 3, TeamID: 5001, Answer: "Paris", Timestamp: 200})
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	got, err := svc.Collect(ctx, Cursors{})
	require.NoError(t, err)
	require.NotNil(t, got.Status)
	assert.Equal(t, "t", got.Status.QuizID)
	require.Len(t, got.Teams, 1)
	assert.Equal(t, "X", got.Teams[0].Name)
	require.Len(t, got.Answers, 1)
	assert.Equal(t, "Paris", got.Answers[0].Answer)

	got, err = svc.Collect(ctx, Cursors{MinTeamsUpdateID: 1, MinAnswersUpdateID: 1})
	require.NoError(t, err)
	assert.NotNil(t, got.Status)
	assert.Empty(t, got.Teams)
	assert.Empty(t, got.Answers)

	status := q.Status()
	got, err = svc.Collect(ctx, Cursors{MinStatusUpdateID: status.UpdateID + 1, MinTeamsUpdateID: 1, MinAnswersUpdateID: 1})
	require.NoError(t, err)
	assert.True(t, got.Empty())
}

func TestCollectStatusUsesGreaterOrEqual(t *testing.T) {
	svc, _, q := setup(t)

	current := q.Status().UpdateID

	got, err := svc.Collect(context.Background(), Cursors{MinStatusUpdateID: current})
	require.NoError(t, err)
	require.NotNil(t, got.Status)
	assert.Equal(t, current, got.Status.UpdateID)
	assert.True(t, got.Status.Equal(q.Status()))
}

func TestCollectSkipStream(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := setup(t)

	_, err := store.UpsertTeam(ctx, models.Team{QuizID: "t", ID: 1, Name: "A", Timestamp: 1})
	require.NoError(t, err)
	_, err = store.UpsertAnswer(ctx, models.Answer{QuizID: "t", Question: 1, TeamID: 1, Answer: "a", Timestamp: 1})
	require.NoError(t, err)

	got, err := svc.Collect(ctx, Cursors{MinStatusUpdateID: SkipStream, MinAnswersUpdateID: SkipStream})
	require.NoError(t, err)
	assert.Nil(t, got.Status)
	assert.Len(t, got.Teams, 1)
	assert.Empty(t, got.Answers)
}

func TestCollectOtherQuiz(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := setup(t)

	_, err := store.UpsertTeam(ctx, models.Team{QuizID: "other", ID: 1, Name: "A", Timestamp: 1})
	require.NoError(t, err)

	got, err := svc.Collect(ctx, Cursors{})
	require.NoError(t, err)
	assert.Empty(t, got.Teams)
}

func TestCollectWithoutQuiz(t *testing.T) {
	store := memory.NewStorage()
	svc := NewService(store, quiz.New(store, nil), 0)

	got, err := svc.Collect(context.Background(), Cursors{MinStatusUpdateID: 1})
	require.NoError(t, err)
	assert.True(t, got.Empty())
}

func TestIdempotentReread(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := setup(t)

	_, err := store.UpsertTeam(ctx, models.Team{QuizID: "t", ID: 1, Name: "A", Timestamp: 1})
	require.NoError(t, err)

	req := Request{Cursors: Cursors{MinStatusUpdateID: 100}}
	first, err := svc.GetUpdates(ctx, req)
	require.NoError(t, err)
	second, err := svc.GetUpdates(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestZeroTimeoutReturnsImmediately(t *testing.T) {
	svc, _, q := setup(t)

	start := time.Now()
	got, err := svc.GetUpdates(context.Background(), Request{
		Cursors: Cursors{MinStatusUpdateID: q.Status().UpdateID + 1},
	})
	require.NoError(t, err)
	assert.True(t, got.Empty())
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestLongPollWakesOnWrite(t *testing.T) {
	ctx := context.Background()
	svc, store, q := setup(t)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(500 * time.Millisecond)
		_, err := store.UpsertTeam(ctx, models.Team{QuizID: "t", ID: 5001, Name: "X", Timestamp: 100})
		assert.NoError(t, err)
	}()

	start := time.Now()
	got, err := svc.GetUpdates(ctx, Request{
		Cursors: Cursors{MinStatusUpdateID: q.Status().UpdateID + 1},
		Timeout: 3 * time.Second,
	})
	elapsed := time.Since(start)
	wg.Wait()

	require.NoError(t, err)
	require.Len(t, got.Teams, 1)
	assert.Equal(t, int64(5001), got.Teams[0].ID)
	assert.GreaterOrEqual(t, elapsed, 400*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)

	assert.Zero(t, store.Subscribers())
	assert.Zero(t, q.Subscribers())
}

func TestLongPollWakesOnStatusChange(t *testing.T) {
	svc, store, q := setup(t)

	next := q.Status().UpdateID + 1

	go func() {
		time.Sleep(200 * time.Millisecond)
		assert.NoError(t, q.StartRegistration())
	}()

	got, err := svc.GetUpdates(context.Background(), Request{
		Cursors: Cursors{MinStatusUpdateID: next},
		Timeout: 3 * time.Second,
	})
	require.NoError(t, err)
	require.NotNil(t, got.Status)
	assert.True(t, got.Status.Registration)
	assert.Equal(t, next, got.Status.UpdateID)

	assert.Zero(t, store.Subscribers())
	assert.Zero(t, q.Subscribers())
}

func TestLongPollTimeout(t *testing.T) {
	svc, store, q := setup(t)

	start := time.Now()
	got, err := svc.GetUpdates(context.Background(), Request{
		Cursors: Cursors{MinStatusUpdateID: q.Status().UpdateID + 1},
		Timeout: 300 * time.Millisecond,
	})
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Nil(t, got.Status)
	assert.Empty(t, got.Teams)
	assert.Empty(t, got.Answers)
	assert.GreaterOrEqual(t, elapsed, 300*time.Millisecond)

	assert.Zero(t, store.Subscribers())
	assert.Zero(t, q.Subscribers())
}

func TestLongPollTimeoutIsClamped(t *testing.T) {
	store := memory.NewStorage()
	q := quiz.New(store, nil)
	require.NoError(t, q.Start("t", "en", 10))
	svc := NewService(store, q, 200*time.Millisecond)

	start := time.Now()
	got, err := svc.GetUpdates(context.Background(), Request{
		Cursors: Cursors{MinStatusUpdateID: q.Status().UpdateID + 1},
		Timeout: time.Minute,
	})
	require.NoError(t, err)
	assert.True(t, got.Empty())
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestLongPollCanceled(t *testing.T) {
	svc, store, q := setup(t)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	_, err := svc.GetUpdates(ctx, Request{
		Cursors: Cursors{MinStatusUpdateID: q.Status().UpdateID + 1},
		Timeout: 3 * time.Second,
	})
	require.ErrorIs(t, err, context.Canceled)

	assert.Zero(t, store.Subscribers())
	assert.Zero(t, q.Subscribers())
}

func TestConcurrentLongPolls(t *testing.T) {
	ctx := context.Background()
	svc, store, q := setup(t)

	const clients = 20

	var wg sync.WaitGroup
	results := make([]*models.Updates, clients)
	for i := range clients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := svc.GetUpdates(ctx, Request{
				Cursors: Cursors{MinStatusUpdateID: q.Status().UpdateID + 1},
				Timeout: 3 * time.Second,
			})
			assert.NoError(t, err)
			results[i] = got
		}()
	}

	require.Eventually(t, func() bool {
		return store.Subscribers() == clients
	}, time.Second, 10*time.Millisecond)

	_, err := store.UpsertAnswer(ctx, models.Answer{QuizID: "t", Question: 1, TeamID: 1, Answer: "a", Timestamp: 1})
	require.NoError(t, err)
	wg.Wait()

	for _, got := range results {
		require.NotNil(t, got)
		assert.Len(t, got.Answers, 1)
	}
	assert.Zero(t, store.Subscribers())
}
