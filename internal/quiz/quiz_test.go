package quiz

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/letsssgooo/quizhost/internal/client"
	"github.com/letsssgooo/quizhost/internal/storage"
	"github.com/letsssgooo/quizhost/internal/storage/memory"
)

type sentMessage struct {
	chatID int64
	text   string
}

type fakeSender struct {
	sent []sentMessage
	err  error
}

func (s *fakeSender) Message(_ context.Context, chatID int64, text string) (*client.Message, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.sent = append(s.sent, sentMessage{chatID: chatID, text: text})

	return &client.Message{Chat: &client.Chat{ID: chatID}, Text: text}, nil
}

func newQuiz(t *testing.T) (*Quiz, *memory.Storage, *fakeSender) {
	t.Helper()

	store := memory.NewStorage()
	sender := &fakeSender{}

	return New(store, sender), store, sender
}

func intPtr(v int) *int { return &v }

func TestStartStop(t *testing.T) {
	q, _, _ := newQuiz(t)

	var calls atomic.Int32
	q.Subscribe(func() { calls.Add(1) })

	require.ErrorIs(t, q.Stop(), ErrQuizNotStarted)
	assert.Zero(t, calls.Load())

	require.NoError(t, q.Start("test", "en", 10))
	status := q.Status()
	assert.Equal(t, "test", status.QuizID)
	assert.Equal(t, "en", status.Language)
	assert.Equal(t, int64(1), status.UpdateID)
	assert.NotEmpty(t, status.SessionID)
	assert.False(t, status.Time.IsZero())
	assert.Equal(t, int32(1), calls.Load())

	err := q.Start("other", "en", 10)
	require.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int64(1), q.Status().UpdateID)

	require.NoError(t, q.Stop())
	stopped := q.Status()
	assert.Empty(t, stopped.QuizID)
	assert.Equal(t, status.SessionID, stopped.SessionID)
	assert.Equal(t, int64(2), stopped.UpdateID)
	assert.Equal(t, int32(2), calls.Load())

	require.NoError(t, q.Start("test", "en", 10))
	restarted := q.Status()
	assert.NotEqual(t, status.SessionID, restarted.SessionID)
	assert.Equal(t, int64(1), restarted.UpdateID)
}

func TestStartValidation(t *testing.T) {
	q, _, _ := newQuiz(t)

	require.ErrorIs(t, q.Start("", "en", 10), ErrInvalidArgument)
	require.ErrorIs(t, q.Start("test", "en", 0), ErrInvalidArgument)
	assert.Empty(t, q.Status().QuizID)
}

func TestModeratorActionsRequireStartedQuiz(t *testing.T) {
	q, _, _ := newQuiz(t)

	for name, action := range map[string]func() error{
		"StartRegistration": q.StartRegistration,
		"StopRegistration":  q.StopRegistration,
		"StartQuestion":     func() error { return q.StartQuestion(1) },
		"StopQuestion":      q.StopQuestion,
	} {
		t.Run(name, func(t *testing.T) {
			require.ErrorIs(t, action(), ErrQuizNotStarted)
		})
	}
}

func TestStatusTransitions(t *testing.T) {
	q, _, _ := newQuiz(t)
	require.NoError(t, q.Start("test", "ru", 3))

	var calls atomic.Int32
	q.Subscribe(func() { calls.Add(1) })

	require.NoError(t, q.StartRegistration())
	assert.True(t, q.Status().Registration)
	require.ErrorIs(t, q.StartRegistration(), ErrInvalidState)
	require.ErrorIs(t, q.StartQuestion(1), ErrInvalidState)

	require.NoError(t, q.StopRegistration())
	require.ErrorIs(t, q.StopRegistration(), ErrInvalidState)

	require.ErrorIs(t, q.StartQuestion(0), ErrInvalidArgument)
	require.ErrorIs(t, q.StartQuestion(4), ErrInvalidArgument)
	require.NoError(t, q.StartQuestion(3))
	assert.Equal(t, intPtr(3), q.Status().Question)

	require.ErrorIs(t, q.StartQuestion(2), ErrInvalidState)
	require.ErrorIs(t, q.StartRegistration(), ErrInvalidState)

	require.NoError(t, q.StopQuestion())
	assert.Nil(t, q.Status().Question)
	require.ErrorIs(t, q.StopQuestion(), ErrInvalidState)

	// четыре успешных действия после старта
	assert.Equal(t, int32(4), calls.Load())
	assert.Equal(t, int64(5), q.Status().UpdateID)
}

func TestStatusIsACopy(t *testing.T) {
	q, _, _ := newQuiz(t)
	require.NoError(t, q.Start("test", "ru", 3))
	require.NoError(t, q.StartQuestion(2))

	status := q.Status()
	assert.True(t, status.Equal(q.Status()))

	*status.Question = 3

	assert.Equal(t, intPtr(2), q.Status().Question)
	assert.False(t, status.Equal(q.Status()))
}

func TestRegisterTeam(t *testing.T) {
	ctx := context.Background()
	q, store, _ := newQuiz(t)

	_, err := q.RegisterTeam(ctx, 1, "Team", 100)
	require.ErrorIs(t, err, ErrQuizNotStarted)

	require.NoError(t, q.Start("test", "ru", 3))
	_, err = q.RegisterTeam(ctx, 1, "Team", 100)
	require.ErrorIs(t, err, ErrInvalidState)

	require.NoError(t, q.StartRegistration())

	_, err = q.RegisterTeam(ctx, 1, "   ", 100)
	require.ErrorIs(t, err, ErrInvalidArgument)

	id, err := q.RegisterTeam(ctx, 1, "  The \n Team ", 100)
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	id, err = q.RegisterTeam(ctx, 1, "Older name", 99)
	require.NoError(t, err)
	assert.Zero(t, id)

	team, err := q.Team(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "The Team", team.Name)
	assert.Equal(t, "test", team.QuizID)

	_, err = q.Team(ctx, 2)
	require.ErrorIs(t, err, ErrUnknownTeam)

	assert.Equal(t, 0, store.Subscribers())
}

func TestSubmitAnswer(t *testing.T) {
	ctx := context.Background()
	q, store, _ := newQuiz(t)
	require.NoError(t, q.Start("test", "ru", 3))
	require.NoError(t, q.StartRegistration())
	_, err := q.RegisterTeam(ctx, 1, "Team", 100)
	require.NoError(t, err)
	require.NoError(t, q.StopRegistration())

	_, err = q.SubmitAnswer(ctx, 1, "Paris", 200)
	require.ErrorIs(t, err, ErrInvalidState)

	require.NoError(t, q.StartQuestion(2))

	_, err = q.SubmitAnswer(ctx, 7, "Paris", 200)
	require.ErrorIs(t, err, ErrUnknownTeam)

	id, err := q.SubmitAnswer(ctx, 1, "Paris", 200)
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	answers, err := store.ListAnswers(ctx, storage.AnswerFilter{QuizID: "test"})
	require.NoError(t, err)
	require.Len(t, answers, 1)
	assert.Equal(t, 2, answers[0].Question)
	assert.Equal(t, "Paris", answers[0].Answer)
	assert.Nil(t, answers[0].Points)

	got, err := q.TeamResults(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, got.CorrectQuestions)
}

func TestNoAnswersAfterStopQuestion(t *testing.T) {
	ctx := context.Background()
	q, store, _ := newQuiz(t)
	require.NoError(t, q.Start("test", "ru", 3))
	require.NoError(t, q.StartRegistration())

	const teams = 100
	for id := range int64(teams) {
		_, err := q.RegisterTeam(ctx, id+1, "Team", 100)
		require.NoError(t, err)
	}
	require.NoError(t, q.StopRegistration())
	require.NoError(t, q.StartQuestion(1))

	var (
		wg       sync.WaitGroup
		accepted atomic.Int32
		start    = make(chan struct{})
	)
	for id := range int64(teams) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := q.SubmitAnswer(ctx, id+1, "Paris", 200)
			if err != nil {
				assert.ErrorIs(t, err, ErrInvalidState)
				return
			}
			accepted.Add(1)
		}()
	}

	close(start)
	require.NoError(t, q.StopQuestion())

	answers, err := store.ListAnswers(ctx, storage.AnswerFilter{QuizID: "test"})
	require.NoError(t, err)
	atStop := len(answers)

	wg.Wait()

	answers, err = store.ListAnswers(ctx, storage.AnswerFilter{QuizID: "test"})
	require.NoError(t, err)
	assert.Len(t, answers, atStop)
	assert.Equal(t, int32(atStop), accepted.Load())
}

func TestNoTeamsAfterStopRegistration(t *testing.T) {
	ctx := context.Background()
	q, store, _ := newQuiz(t)
	require.NoError(t, q.Start("test", "ru", 3))
	require.NoError(t, q.StartRegistration())

	const teams = 100

	var (
		wg       sync.WaitGroup
		accepted atomic.Int32
		start    = make(chan struct{})
	)
	for id := range int64(teams) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := q.RegisterTeam(ctx, id+1, "Team", 100)
			if err != nil {
				assert.ErrorIs(t, err, ErrInvalidState)
				return
			}
			accepted.Add(1)
		}()
	}

	close(start)
	require.NoError(t, q.StopRegistration())

	registered, err := store.ListTeams(ctx, storage.TeamFilter{QuizID: "test"})
	require.NoError(t, err)
	atStop := len(registered)

	wg.Wait()

	registered, err = store.ListTeams(ctx, storage.TeamFilter{QuizID: "test"})
	require.NoError(t, err)
	assert.Len(t, registered, atStop)
	assert.Equal(t, int32(atStop), accepted.Load())
}

func TestSetAnswerPoints(t *testing.T) {
	ctx := context.Background()
	q, _, _ := newQuiz(t)

	_, err := q.SetAnswerPoints(ctx, 1, 1, 1)
	require.ErrorIs(t, err, ErrQuizNotStarted)

	require.NoError(t, q.Start("test", "ru", 3))
	require.NoError(t, q.StartRegistration())
	_, err = q.RegisterTeam(ctx, 1, "Team", 100)
	require.NoError(t, err)
	require.NoError(t, q.StopRegistration())
	require.NoError(t, q.StartQuestion(1))
	_, err = q.SubmitAnswer(ctx, 1, "Paris", 200)
	require.NoError(t, err)

	_, err = q.SetAnswerPoints(ctx, 2, 1, 1)
	require.ErrorIs(t, err, ErrAnswerNotFound)

	id, err := q.SetAnswerPoints(ctx, 1, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), id)
}

func TestSendResults(t *testing.T) {
	ctx := context.Background()
	q, _, sender := newQuiz(t)
	require.NoError(t, q.Start("test", "en", 5))
	require.NoError(t, q.StartRegistration())
	_, err := q.RegisterTeam(ctx, 5001, "Liverpool", 100)
	require.NoError(t, err)
	require.NoError(t, q.StopRegistration())

	for question, answer := range map[int]string{3: "Apple", 5: "Banana", 1: "Cherry"} {
		require.NoError(t, q.StartQuestion(question))
		_, err = q.SubmitAnswer(ctx, 5001, answer, 200)
		require.NoError(t, err)
		require.NoError(t, q.StopQuestion())
	}

	require.NoError(t, q.SendResults(ctx, 5001))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "You have no correct answers.", sender.sent[0].text)

	_, err = q.SetAnswerPoints(ctx, 5, 5001, 2)
	require.NoError(t, err)
	_, err = q.SetAnswerPoints(ctx, 3, 5001, 1)
	require.NoError(t, err)
	_, err = q.SetAnswerPoints(ctx, 1, 5001, 0)
	require.NoError(t, err)

	require.NoError(t, q.SendResults(ctx, 5001))
	require.Len(t, sender.sent, 2)
	assert.Equal(t, sentMessage{chatID: 5001, text: "Correct answers: 3, 5. Total score: 3."}, sender.sent[1])

	require.ErrorIs(t, q.SendResults(ctx, 42), ErrUnknownTeam)

	sender.err = errors.New("network")
	require.Error(t, q.SendResults(ctx, 5001))
}

func TestSendResultsWithoutSender(t *testing.T) {
	q := New(memory.NewStorage(), nil)
	require.NoError(t, q.Start("test", "en", 5))

	require.ErrorIs(t, q.SendResults(context.Background(), 1), ErrNoSender)
}

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{name: "trims", in: "  hello  ", max: 10, want: "hello"},
		{name: "collapses spaces", in: "a \t\n b", max: 10, want: "a b"},
		{name: "truncates runes", in: "Юнікод😎", max: 3, want: "Юні"},
		{name: "trailing space after cut", in: "ab cd", max: 3, want: "ab"},
		{name: "empty", in: "\x00\x01", max: 10, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeText(tt.in, tt.max))
		})
	}
}

func TestStringsFor(t *testing.T) {
	assert.Equal(t, localized["en"], StringsFor("EN"))
	assert.Equal(t, localized[DefaultLanguage], StringsFor("klingon"))
	assert.True(t, SupportedLanguage("ru"))
	assert.False(t, SupportedLanguage("klingon"))

	got := Format("{team} / {team} / {missing}", map[string]string{"team": "X"})
	assert.Equal(t, "X / X / {missing}", got)
}
