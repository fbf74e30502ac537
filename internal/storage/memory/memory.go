package memory

import (
	"context"
	"sync"

	"github.com/google/btree"

	"github.com/letsssgooo/quizhost/internal/domain/models"
	"github.com/letsssgooo/quizhost/internal/events/notifier"
	"github.com/letsssgooo/quizhost/internal/metrics"
	"github.com/letsssgooo/quizhost/internal/storage"
)

const degree = 32

type teamKey struct {
	quizID string
	id     int64
}

type answerKey struct {
	quizID   string
	question int
	teamID   int64
}

// Storage реализует storage.Store в памяти процесса.
// Записи индексируются по update id в B-дереве, поэтому выборка по курсору
// обходит только новые записи. Счётчики живут столько же, сколько процесс.
type Storage struct {
	mu sync.RWMutex

	teams        map[teamKey]models.Team
	teamsIndex   *btree.BTreeG[models.Team]
	lastTeamsID  int64
	answers      map[answerKey]models.Answer
	answersIndex *btree.BTreeG[models.Answer]
	lastAnswerID int64
	messages     []models.Message

	notifier *notifier.Notifier
}

var _ storage.Store = (*Storage)(nil)

// NewStorage создаёт новое хранилище в памяти.
func NewStorage() *Storage {
	return &Storage{
		teams: make(map[teamKey]models.Team),
		teamsIndex: btree.NewG(degree, func(a, b models.Team) bool {
			return a.UpdateID < b.UpdateID
		}),
		answers: make(map[answerKey]models.Answer),
		answersIndex: btree.NewG(degree, func(a, b models.Answer) bool {
			return a.UpdateID < b.UpdateID
		}),
		notifier: notifier.New("memory"),
	}
}

// UpsertTeam регистрирует или переименовывает команду.
func (s *Storage) UpsertTeam(_ context.Context, team models.Team) (int64, error) {
	s.mu.Lock()

	key := teamKey{quizID: team.QuizID, id: team.ID}
	current, ok := s.teams[key]
	if ok && current.Timestamp > team.Timestamp {
		s.mu.Unlock()
		metrics.StoreWrites.WithLabelValues(storage.TableTeams, metrics.ResultStale).Inc()
		return 0, nil
	}
	if ok {
		s.teamsIndex.Delete(current)
	}

	s.lastTeamsID++
	team.UpdateID = s.lastTeamsID
	s.teams[key] = team
	s.teamsIndex.ReplaceOrInsert(team)

	s.mu.Unlock()

	metrics.StoreWrites.WithLabelValues(storage.TableTeams, metrics.ResultAccepted).Inc()
	s.notifier.Notify()

	return team.UpdateID, nil
}

// UpsertAnswer сохраняет ответ команды.
func (s *Storage) UpsertAnswer(_ context.Context, answer models.Answer) (int64, error) {
	s.mu.Lock()

	key := answerKey{quizID: answer.QuizID, question: answer.Question, teamID: answer.TeamID}
	current, ok := s.answers[key]
	if ok && current.Timestamp > answer.Timestamp {
		s.mu.Unlock()
		metrics.StoreWrites.WithLabelValues(storage.TableAnswers, metrics.ResultStale).Inc()
		return 0, nil
	}

	answer.Points = nil
	if ok {
		if current.Answer == answer.Answer {
			answer.Points = clonePoints(current.Points)
		}
		s.answersIndex.Delete(current)
	}

	s.lastAnswerID++
	answer.UpdateID = s.lastAnswerID
	s.answers[key] = answer
	s.answersIndex.ReplaceOrInsert(answer)

	s.mu.Unlock()

	metrics.StoreWrites.WithLabelValues(storage.TableAnswers, metrics.ResultAccepted).Inc()
	s.notifier.Notify()

	return answer.UpdateID, nil
}

// GradeAnswer выставляет баллы за существующий ответ.
func (s *Storage) GradeAnswer(_ context.Context, quizID string, question int, teamID int64, points int) (int64, error) {
	s.mu.Lock()

	key := answerKey{quizID: quizID, question: question, teamID: teamID}
	current, ok := s.answers[key]
	if !ok {
		s.mu.Unlock()
		metrics.StoreWrites.WithLabelValues(storage.TableAnswers, metrics.ResultNotFound).Inc()
		return 0, nil
	}

	s.answersIndex.Delete(current)

	s.lastAnswerID++
	current.UpdateID = s.lastAnswerID
	current.Points = &points
	s.answers[key] = current
	s.answersIndex.ReplaceOrInsert(current)

	s.mu.Unlock()

	metrics.StoreWrites.WithLabelValues(storage.TableAnswers, metrics.ResultAccepted).Inc()
	s.notifier.Notify()

	return current.UpdateID, nil
}

// ListTeams возвращает команды новее курсора.
func (s *Storage) ListTeams(_ context.Context, filter storage.TeamFilter) ([]models.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	teams := make([]models.Team, 0)
	s.teamsIndex.AscendGreaterOrEqual(models.Team{UpdateID: filter.MinUpdateID + 1}, func(t models.Team) bool {
		if filter.MaxUpdateID != 0 && t.UpdateID > filter.MaxUpdateID {
			return false
		}
		if filter.Match(t) {
			teams = append(teams, t)
		}
		return true
	})

	return teams, nil
}

// ListAnswers возвращает ответы новее курсора.
func (s *Storage) ListAnswers(_ context.Context, filter storage.AnswerFilter) ([]models.Answer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	answers := make([]models.Answer, 0)
	s.answersIndex.AscendGreaterOrEqual(models.Answer{UpdateID: filter.MinUpdateID + 1}, func(a models.Answer) bool {
		if filter.MaxUpdateID != 0 && a.UpdateID > filter.MaxUpdateID {
			return false
		}
		if filter.Match(a) {
			a.Points = clonePoints(a.Points)
			answers = append(answers, a)
		}
		return true
	})

	return answers, nil
}

// LogMessage сохраняет сообщение в журнал.
func (s *Storage) LogMessage(_ context.Context, message models.Message) error {
	s.mu.Lock()
	s.messages = append(s.messages, message)
	s.mu.Unlock()

	metrics.StoreWrites.WithLabelValues(storage.TableMessages, metrics.ResultAccepted).Inc()

	return nil
}

// Messages возвращает копию журнала сообщений.
func (s *Storage) Messages() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]models.Message(nil), s.messages...)
}

// Subscribe подписывает fn на изменения.
func (s *Storage) Subscribe(fn func()) notifier.Handle {
	return s.notifier.Subscribe(fn)
}

// Unsubscribe отменяет подписку.
func (s *Storage) Unsubscribe(h notifier.Handle) {
	s.notifier.Unsubscribe(h)
}

// Subscribers возвращает число активных подписок.
func (s *Storage) Subscribers() int {
	return s.notifier.Len()
}

// Close ничего не делает: памяти освобождать нечего.
func (s *Storage) Close() error {
	return nil
}

func clonePoints(points *int) *int {
	if points == nil {
		return nil
	}
	p := *points

	return &p
}
