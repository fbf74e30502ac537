package quiz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/letsssgooo/quizhost/internal/domain/models"
	"github.com/letsssgooo/quizhost/internal/storage"
)

// ErrNoSender возвращается, если квиз запущен без бота.
var ErrNoSender = errors.New("messages can not be sent without a bot")

// Results — итог команды.
type Results struct {
	CorrectQuestions []int
	TotalScore       int
}

// TeamResults считает итог команды по выставленным баллам.
// Вопрос засчитан, если за него больше 0 баллов.
func (q *Quiz) TeamResults(ctx context.Context, teamID int64) (Results, error) {
	status := q.Status()
	if status.QuizID == "" {
		return Results{}, ErrQuizNotStarted
	}

	answers, err := q.store.ListAnswers(ctx, storage.AnswerFilter{QuizID: status.QuizID, TeamID: &teamID})
	if err != nil {
		return Results{}, fmt.Errorf("failed to get answers of team %d: %w", teamID, err)
	}

	return summarize(answers), nil
}

func summarize(answers []models.Answer) Results {
	var res Results
	for _, a := range answers {
		if a.Points == nil {
			continue
		}
		res.TotalScore += *a.Points
		if *a.Points > 0 {
			res.CorrectQuestions = append(res.CorrectQuestions, a.Question)
		}
	}
	slices.Sort(res.CorrectQuestions)

	return res
}

// ResultsText форматирует итог на языке квиза.
func ResultsText(s Strings, res Results) string {
	if len(res.CorrectQuestions) == 0 {
		return s.SendResultsZeroCorrectAnswers
	}

	questions := make([]string, 0, len(res.CorrectQuestions))
	for _, q := range res.CorrectQuestions {
		questions = append(questions, strconv.Itoa(q))
	}

	return Format(s.SendResultsCorrectAnswers, map[string]string{
		"correctly_answered_questions": strings.Join(questions, ", "),
		"total_score":                  strconv.Itoa(res.TotalScore),
	})
}

// SendResults отправляет команде её итог.
func (q *Quiz) SendResults(ctx context.Context, teamID int64) error {
	if q.sender == nil {
		return ErrNoSender
	}

	if _, err := q.Team(ctx, teamID); err != nil {
		return err
	}

	res, err := q.TeamResults(ctx, teamID)
	if err != nil {
		return err
	}

	text := ResultsText(StringsFor(q.Status().Language), res)
	if _, err := q.sender.Message(ctx, teamID, text); err != nil {
		return fmt.Errorf("failed to send results to team %d: %w", teamID, err)
	}

	slog.Info("results sent", "team_id", teamID, "total_score", res.TotalScore)

	return nil
}
