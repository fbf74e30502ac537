package storage

import (
	"context"

	"github.com/letsssgooo/quizhost/internal/domain/models"
	"github.com/letsssgooo/quizhost/internal/events/notifier"
)

// Имена таблиц, они же имена потоков обновлений.
const (
	TableTeams    = "teams"
	TableAnswers  = "answers"
	TableMessages = "messages"
)

// Store определяет интерфейс версионированного хранилища квиза.
//
// Каждая принятая запись получает новый update id, строго больший всех
// предыдущих в своей таблице. Возврат 0 без ошибки — штатный исход, а не сбой.
type Store interface {
	// UpsertTeam регистрирует или переименовывает команду.
	// Возвращает 0, если сохранённая регистрация новее переданной.
	UpsertTeam(ctx context.Context, team models.Team) (int64, error)

	// UpsertAnswer сохраняет ответ команды на вопрос.
	// Возвращает 0, если сохранённый ответ новее переданного.
	// Оценка сбрасывается, только если изменился текст ответа.
	UpsertAnswer(ctx context.Context, answer models.Answer) (int64, error)

	// GradeAnswer выставляет баллы за существующий ответ без проверки времени.
	// Возвращает 0, если такого ответа нет.
	GradeAnswer(ctx context.Context, quizID string, question int, teamID int64, points int) (int64, error)

	// ListTeams возвращает текущие записи команд, упорядоченные по update id.
	ListTeams(ctx context.Context, filter TeamFilter) ([]models.Team, error)

	// ListAnswers возвращает текущие записи ответов, упорядоченные по update id.
	ListAnswers(ctx context.Context, filter AnswerFilter) ([]models.Answer, error)

	// LogMessage сохраняет входящее сообщение в журнал.
	LogMessage(ctx context.Context, message models.Message) error

	// Subscribe подписывает fn на каждую принятую запись в teams или answers.
	Subscribe(fn func()) notifier.Handle

	// Unsubscribe отменяет подписку.
	Unsubscribe(h notifier.Handle)

	// Close освобождает ресурсы хранилища.
	Close() error
}

// TeamFilter задаёт выборку команд.
// MinUpdateID — курсор клиента, возвращаются записи строго больше него.
// MaxUpdateID == 0 означает отсутствие верхней границы.
type TeamFilter struct {
	QuizID      string
	TeamID      *int64
	MinUpdateID int64
	MaxUpdateID int64
}

// Match проверяет, попадает ли команда в выборку.
func (f TeamFilter) Match(t models.Team) bool {
	if t.QuizID != f.QuizID {
		return false
	}
	if f.TeamID != nil && t.ID != *f.TeamID {
		return false
	}

	return inRange(t.UpdateID, f.MinUpdateID, f.MaxUpdateID)
}

// AnswerFilter задаёт выборку ответов.
type AnswerFilter struct {
	QuizID      string
	TeamID      *int64
	Question    *int
	MinUpdateID int64
	MaxUpdateID int64
}

// Match проверяет, попадает ли ответ в выборку.
func (f AnswerFilter) Match(a models.Answer) bool {
	if a.QuizID != f.QuizID {
		return false
	}
	if f.TeamID != nil && a.TeamID != *f.TeamID {
		return false
	}
	if f.Question != nil && a.Question != *f.Question {
		return false
	}

	return inRange(a.UpdateID, f.MinUpdateID, f.MaxUpdateID)
}

func inRange(updateID, minUpdateID, maxUpdateID int64) bool {
	if updateID <= minUpdateID {
		return false
	}

	return maxUpdateID == 0 || updateID <= maxUpdateID
}
