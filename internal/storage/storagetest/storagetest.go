// Package storagetest содержит общий набор тестов для реализаций storage.Store.
package storagetest

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/letsssgooo/quizhost/internal/domain/models"
	"github.com/letsssgooo/quizhost/internal/storage"
)

// Factory создаёт пустое хранилище для одного теста.
type Factory func(t *testing.T) storage.Store

// Run прогоняет весь набор тестов против хранилища из factory.
func Run(t *testing.T, factory Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, st storage.Store)
	}{
		{"UpdateIDsAreMonotonic", testMonotonic},
		{"TeamLastWriterWins", testTeamLastWriterWins},
		{"EqualTimestampIsAccepted", testEqualTimestamp},
		{"StaleWriteConsumesNoID", testStaleConsumesNoID},
		{"AnswerPointsResetOnTextChange", testAnswerPointsReset},
		{"GradeAnswer", testGradeAnswer},
		{"CursorCompleteness", testCursorCompleteness},
		{"Filters", testFilters},
		{"StreamsAreIndependent", testIndependentStreams},
		{"NotifiesOnAcceptedWritesOnly", testNotify},
		{"ConcurrentWriters", testConcurrentWriters},
		{"ConcurrentConflictingWriters", testConcurrentConflictingWriters},
		{"LogMessage", testLogMessage},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			st := factory(t)
			t.Cleanup(func() { _ = st.Close() })
			tc.fn(t, st)
		})
	}
}

func team(quizID string, id int64, name string, ts int64) models.Team {
	return models.Team{QuizID: quizID, ID: id, Name: name, Timestamp: ts}
}

func answer(quizID string, question int, teamID int64, text string, ts int64) models.Answer {
	return models.Answer{QuizID: quizID, Question: question, TeamID: teamID, Answer: text, Timestamp: ts}
}

func testMonotonic(t *testing.T, st storage.Store) {
	ctx := context.Background()

	var last int64
	for i := int64(1); i <= 5; i++ {
		id, err := st.UpsertTeam(ctx, team("q", i%2, "Team", i))
		require.NoError(t, err)
		assert.Greater(t, id, last)
		last = id
	}

	last = 0
	for i := int64(1); i <= 5; i++ {
		id, err := st.UpsertAnswer(ctx, answer("q", int(i), 1, "A", i))
		require.NoError(t, err)
		assert.Greater(t, id, last)
		last = id
	}
}

func testTeamLastWriterWins(t *testing.T, st storage.Store) {
	ctx := context.Background()

	id, err := st.UpsertTeam(ctx, team("q", 1, "A", 10))
	require.NoError(t, err)
	require.NotZero(t, id)

	id, err = st.UpsertTeam(ctx, team("q", 1, "B", 5))
	require.NoError(t, err)
	assert.Zero(t, id)

	teams, err := st.ListTeams(ctx, storage.TeamFilter{QuizID: "q"})
	require.NoError(t, err)
	require.Len(t, teams, 1)
	assert.Equal(t, "A", teams[0].Name)
	assert.Equal(t, int64(10), teams[0].Timestamp)

	id, err = st.UpsertTeam(ctx, team("q", 1, "C", 11))
	require.NoError(t, err)
	require.NotZero(t, id)

	teams, err = st.ListTeams(ctx, storage.TeamFilter{QuizID: "q"})
	require.NoError(t, err)
	require.Len(t, teams, 1)
	assert.Equal(t, "C", teams[0].Name)
	assert.Equal(t, int64(11), teams[0].Timestamp)
	assert.Equal(t, id, teams[0].UpdateID)
}

func testEqualTimestamp(t *testing.T, st storage.Store) {
	ctx := context.Background()

	_, err := st.UpsertTeam(ctx, team("q", 1, "A", 10))
	require.NoError(t, err)
	id, err := st.UpsertTeam(ctx, team("q", 1, "B", 10))
	require.NoError(t, err)
	assert.NotZero(t, id)

	_, err = st.UpsertAnswer(ctx, answer("q", 1, 1, "Paris", 10))
	require.NoError(t, err)
	id, err = st.UpsertAnswer(ctx, answer("q", 1, 1, "London", 10))
	require.NoError(t, err)
	assert.NotZero(t, id)
}

func testStaleConsumesNoID(t *testing.T, st storage.Store) {
	ctx := context.Background()

	first, err := st.UpsertAnswer(ctx, answer("q", 1, 1, "Paris", 100))
	require.NoError(t, err)

	stale, err := st.UpsertAnswer(ctx, answer("q", 1, 1, "London", 50))
	require.NoError(t, err)
	require.Zero(t, stale)

	next, err := st.UpsertAnswer(ctx, answer("q", 2, 1, "Rome", 100))
	require.NoError(t, err)
	assert.Equal(t, first+1, next)

	answers, err := st.ListAnswers(ctx, storage.AnswerFilter{QuizID: "q", Question: intPtr(1)})
	require.NoError(t, err)
	require.Len(t, answers, 1)
	assert.Equal(t, "Paris", answers[0].Answer)
}

func testAnswerPointsReset(t *testing.T, st storage.Store) {
	ctx := context.Background()

	_, err := st.UpsertAnswer(ctx, answer("q", 1, 1, "Paris", 100))
	require.NoError(t, err)
	_, err = st.GradeAnswer(ctx, "q", 1, 1, 3)
	require.NoError(t, err)

	_, err = st.UpsertAnswer(ctx, answer("q", 1, 1, "Paris", 101))
	require.NoError(t, err)
	answers, err := st.ListAnswers(ctx, storage.AnswerFilter{QuizID: "q"})
	require.NoError(t, err)
	require.Len(t, answers, 1)
	require.NotNil(t, answers[0].Points)
	assert.Equal(t, 3, *answers[0].Points)
	assert.Equal(t, int64(101), answers[0].Timestamp)

	_, err = st.UpsertAnswer(ctx, answer("q", 1, 1, "London", 102))
	require.NoError(t, err)
	answers, err = st.ListAnswers(ctx, storage.AnswerFilter{QuizID: "q"})
	require.NoError(t, err)
	require.Len(t, answers, 1)
	assert.Nil(t, answers[0].Points)
	assert.Equal(t, "London", answers[0].Answer)
}

func testGradeAnswer(t *testing.T, st storage.Store) {
	ctx := context.Background()

	submitted, err := st.UpsertAnswer(ctx, answer("q", 1, 5001, "Paris", 200))
	require.NoError(t, err)

	graded, err := st.GradeAnswer(ctx, "q", 1, 5001, 7)
	require.NoError(t, err)
	assert.Greater(t, graded, submitted)

	missing, err := st.GradeAnswer(ctx, "q", 1, 9999, 7)
	require.NoError(t, err)
	assert.Zero(t, missing)

	answers, err := st.ListAnswers(ctx, storage.AnswerFilter{QuizID: "q"})
	require.NoError(t, err)
	require.Len(t, answers, 1)
	require.NotNil(t, answers[0].Points)
	assert.Equal(t, 7, *answers[0].Points)
	assert.Equal(t, "Paris", answers[0].Answer)
	assert.Equal(t, int64(200), answers[0].Timestamp)
	assert.Equal(t, graded, answers[0].UpdateID)

	next, err := st.UpsertAnswer(ctx, answer("q", 2, 5001, "Rome", 1))
	require.NoError(t, err)
	assert.Equal(t, graded+1, next)
}

func testCursorCompleteness(t *testing.T, st storage.Store) {
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := st.UpsertAnswer(ctx, answer("q", i%4, int64(i%3), "A", int64(i)))
		require.NoError(t, err)
	}

	all, err := st.ListAnswers(ctx, storage.AnswerFilter{QuizID: "q"})
	require.NoError(t, err)
	require.NotEmpty(t, all)

	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].UpdateID, all[i].UpdateID)
	}

	maxID := all[len(all)-1].UpdateID
	for x := int64(0); x <= maxID; x++ {
		head, err := st.ListAnswers(ctx, storage.AnswerFilter{QuizID: "q", MaxUpdateID: x})
		require.NoError(t, err)
		tail, err := st.ListAnswers(ctx, storage.AnswerFilter{QuizID: "q", MinUpdateID: x})
		require.NoError(t, err)

		if x == 0 {
			assert.Equal(t, all, tail)
			continue
		}

		for _, a := range tail {
			assert.Greater(t, a.UpdateID, x)
		}
		for _, a := range head {
			assert.LessOrEqual(t, a.UpdateID, x)
		}
		assert.Equal(t, all, append(head, tail...))
	}
}

func testFilters(t *testing.T, st storage.Store) {
	ctx := context.Background()

	_, err := st.UpsertTeam(ctx, team("test", 5001, "Unicode Юнікод 😎", 123))
	require.NoError(t, err)
	_, err = st.UpsertTeam(ctx, team("ignored", 5001, "Ignored", 124))
	require.NoError(t, err)
	_, err = st.UpsertTeam(ctx, team("test", 5000, "Another team", 122))
	require.NoError(t, err)

	teams, err := st.ListTeams(ctx, storage.TeamFilter{QuizID: "test"})
	require.NoError(t, err)
	require.Len(t, teams, 2)
	assert.Equal(t, "Unicode Юнікод 😎", teams[0].Name)
	assert.Equal(t, "Another team", teams[1].Name)

	teams, err = st.ListTeams(ctx, storage.TeamFilter{QuizID: "test", TeamID: int64Ptr(5000)})
	require.NoError(t, err)
	require.Len(t, teams, 1)
	assert.Equal(t, int64(5000), teams[0].ID)

	teams, err = st.ListTeams(ctx, storage.TeamFilter{QuizID: "test", TeamID: int64Ptr(111)})
	require.NoError(t, err)
	assert.Empty(t, teams)

	_, err = st.UpsertAnswer(ctx, answer("test", 5, 5001, "Apple", 123))
	require.NoError(t, err)
	_, err = st.UpsertAnswer(ctx, answer("test", 6, 5000, "Pear", 124))
	require.NoError(t, err)
	_, err = st.UpsertAnswer(ctx, answer("ignored", 5, 5001, "Plum", 125))
	require.NoError(t, err)

	answers, err := st.ListAnswers(ctx, storage.AnswerFilter{QuizID: "test", TeamID: int64Ptr(5001)})
	require.NoError(t, err)
	require.Len(t, answers, 1)
	assert.Equal(t, "Apple", answers[0].Answer)

	answers, err = st.ListAnswers(ctx, storage.AnswerFilter{QuizID: "test", Question: intPtr(6)})
	require.NoError(t, err)
	require.Len(t, answers, 1)
	assert.Equal(t, "Pear", answers[0].Answer)

	answers, err = st.ListAnswers(ctx, storage.AnswerFilter{QuizID: "nothing"})
	require.NoError(t, err)
	assert.Empty(t, answers)
}

func testIndependentStreams(t *testing.T, st storage.Store) {
	ctx := context.Background()

	teamID, err := st.UpsertTeam(ctx, team("t", 5001, "X", 100))
	require.NoError(t, err)
	answerID, err := st.UpsertAnswer(ctx, answer("t", 3, 5001, "Paris", 200))
	require.NoError(t, err)

	assert.Equal(t, int64(1), teamID)
	assert.Equal(t, int64(1), answerID)
}

func testNotify(t *testing.T, st storage.Store) {
	ctx := context.Background()

	var calls atomic.Int32
	h := st.Subscribe(func() { calls.Add(1) })

	_, err := st.UpsertTeam(ctx, team("q", 1, "A", 10))
	require.NoError(t, err)
	_, err = st.UpsertTeam(ctx, team("q", 1, "B", 5))
	require.NoError(t, err)
	_, err = st.UpsertAnswer(ctx, answer("q", 1, 1, "A", 10))
	require.NoError(t, err)
	_, err = st.GradeAnswer(ctx, "q", 1, 2, 1)
	require.NoError(t, err)
	_, err = st.GradeAnswer(ctx, "q", 1, 1, 1)
	require.NoError(t, err)

	assert.Equal(t, int32(3), calls.Load())

	st.Unsubscribe(h)
	_, err = st.UpsertTeam(ctx, team("q", 2, "C", 10))
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func testConcurrentWriters(t *testing.T, st storage.Store) {
	ctx := context.Background()

	const writers = 8
	const perWriter = 10

	var (
		mu  sync.Mutex
		ids = make(map[int64]struct{})
		wg  sync.WaitGroup
	)

	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				id, err := st.UpsertAnswer(ctx, answer("q", i, int64(w), "A", int64(i)))
				assert.NoError(t, err)

				mu.Lock()
				_, dup := ids[id]
				ids[id] = struct{}{}
				mu.Unlock()

				assert.False(t, dup, "update id %d returned twice", id)
			}
		}(w)
	}
	wg.Wait()

	assert.Len(t, ids, writers*perWriter)

	answers, err := st.ListAnswers(ctx, storage.AnswerFilter{QuizID: "q"})
	require.NoError(t, err)
	assert.Len(t, answers, writers*perWriter)
}

// testConcurrentConflictingWriters пишет в один и тот же ключ из многих
// горутин. Побеждает самая поздняя запись, принятые id не повторяются.
func testConcurrentConflictingWriters(t *testing.T, st storage.Store) {
	ctx := context.Background()

	const writers = 50

	var (
		mu        sync.Mutex
		teamIDs   = make(map[int64]struct{})
		answerIDs = make(map[int64]struct{})
		wg        sync.WaitGroup
	)

	accept := func(ids map[int64]struct{}, id int64) {
		if id == 0 {
			return
		}
		mu.Lock()
		defer mu.Unlock()

		_, dup := ids[id]
		assert.False(t, dup, "update id %d returned twice", id)
		ids[id] = struct{}{}
	}

	for ts := int64(1); ts <= writers; ts++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			id, err := st.UpsertTeam(ctx, team("q", 5001, "T"+strconv.FormatInt(ts, 10), ts))
			assert.NoError(t, err)
			accept(teamIDs, id)

			id, err = st.UpsertAnswer(ctx, answer("q", 3, 5001, "A"+strconv.FormatInt(ts, 10), ts))
			assert.NoError(t, err)
			accept(answerIDs, id)
		}()
	}
	wg.Wait()

	teams, err := st.ListTeams(ctx, storage.TeamFilter{QuizID: "q"})
	require.NoError(t, err)
	require.Len(t, teams, 1)
	assert.Equal(t, int64(writers), teams[0].Timestamp)
	assert.Equal(t, "T50", teams[0].Name)
	assert.NotEmpty(t, teamIDs)
	assert.Contains(t, teamIDs, teams[0].UpdateID)

	answers, err := st.ListAnswers(ctx, storage.AnswerFilter{QuizID: "q"})
	require.NoError(t, err)
	require.Len(t, answers, 1)
	assert.Equal(t, int64(writers), answers[0].Timestamp)
	assert.Equal(t, "A50", answers[0].Answer)
	assert.Contains(t, answerIDs, answers[0].UpdateID)

	// последний принятый id — максимальный
	for id := range teamIDs {
		assert.LessOrEqual(t, id, teams[0].UpdateID)
	}
	for id := range answerIDs {
		assert.LessOrEqual(t, id, answers[0].UpdateID)
	}
}

func testLogMessage(t *testing.T, st storage.Store) {
	ctx := context.Background()

	require.NoError(t, st.LogMessage(ctx, models.Message{
		InsertTimestamp: 123, Timestamp: 1234567, UpdateID: 1001, ChatID: 2001, Text: "Apple",
	}))
	require.NoError(t, st.LogMessage(ctx, models.Message{
		Timestamp: 1234568, UpdateID: 1002, ChatID: 2002, Text: "Unicode Юнікод 😎",
	}))
}

func intPtr(v int) *int {
	return &v
}

func int64Ptr(v int64) *int64 {
	return &v
}
