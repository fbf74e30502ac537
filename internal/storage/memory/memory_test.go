package memory

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/letsssgooo/quizhost/internal/domain/models"
	"github.com/letsssgooo/quizhost/internal/metrics"
	"github.com/letsssgooo/quizhost/internal/storage"
	"github.com/letsssgooo/quizhost/internal/storage/storagetest"
)

func TestStorage(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		return NewStorage()
	})
}

func TestListAnswers_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	st := NewStorage()

	_, err := st.UpsertAnswer(ctx, models.Answer{QuizID: "q", Question: 1, TeamID: 1, Answer: "A", Timestamp: 1})
	require.NoError(t, err)
	_, err = st.GradeAnswer(ctx, "q", 1, 1, 5)
	require.NoError(t, err)

	answers, err := st.ListAnswers(ctx, storage.AnswerFilter{QuizID: "q"})
	require.NoError(t, err)
	require.Len(t, answers, 1)
	*answers[0].Points = 100

	answers, err = st.ListAnswers(ctx, storage.AnswerFilter{QuizID: "q"})
	require.NoError(t, err)
	assert.Equal(t, 5, *answers[0].Points)
}

func TestMessages(t *testing.T) {
	st := NewStorage()
	logged := metrics.StoreWrites.WithLabelValues(storage.TableMessages, metrics.ResultAccepted)
	before := testutil.ToFloat64(logged)

	require.NoError(t, st.LogMessage(context.Background(), models.Message{ChatID: 1, Text: "hello"}))
	assert.Equal(t, before+1, testutil.ToFloat64(logged))

	messages := st.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, "hello", messages[0].Text)
}
