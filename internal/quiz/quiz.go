package quiz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/letsssgooo/quizhost/internal/domain/models"
	"github.com/letsssgooo/quizhost/internal/events/notifier"
	"github.com/letsssgooo/quizhost/internal/events/sender"
	"github.com/letsssgooo/quizhost/internal/storage"
)

// Ошибки управления квизом
var (
	ErrQuizNotStarted  = errors.New("quiz is not started")
	ErrInvalidState    = errors.New("invalid quiz state")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrUnknownTeam     = errors.New("team is not registered")
	ErrAnswerNotFound  = errors.New("answer does not exist")
)

// Quiz владеет статусом текущей сессии квиза и пишет в хранилище от её имени.
//
// Сессия создаётся в Start и уничтожается в Stop. Update id статуса живёт
// только в пределах сессии: новая сессия получает новый SessionID и
// начинает счётчик заново.
type Quiz struct {
	store    storage.Store
	sender   sender.Sender
	notifier *notifier.Notifier
	now      func() time.Time

	// gate держат на чтение записи команд и ответов на всё время от проверки
	// статуса до записи в хранилище, а смена статуса берёт его на запись.
	// Поэтому после возврата из StopRegistration или StopQuestion запоздалых
	// записей уже не будет. Порядок захвата: gate, затем mu.
	gate    sync.RWMutex
	mu      sync.Mutex
	session *session
	last    models.QuizStatus
}

type session struct {
	id                string
	quizID            string
	language          string
	numberOfQuestions int
	question          *int
	registration      bool
	updateID          int64
}

// New создаёт квиз без запущенной сессии. sender может быть nil,
// тогда SendResults недоступен.
func New(store storage.Store, sender sender.Sender) *Quiz {
	return &Quiz{
		store:    store,
		sender:   sender,
		notifier: notifier.New("status"),
		now:      time.Now,
	}
}

// Start запускает новую сессию квиза.
func (q *Quiz) Start(quizID, language string, numberOfQuestions int) error {
	if quizID == "" {
		return fmt.Errorf("%w: quiz id must not be empty", ErrInvalidArgument)
	}
	if numberOfQuestions <= 0 {
		return fmt.Errorf("%w: number of questions must be positive", ErrInvalidArgument)
	}

	q.gate.Lock()
	q.mu.Lock()
	if q.session != nil {
		running := q.session.quizID
		q.mu.Unlock()
		q.gate.Unlock()
		slog.Warn("trying to start a quiz while another one is running", "quiz_id", quizID, "running", running)
		return fmt.Errorf("%w: quiz %q is already running", ErrInvalidState, running)
	}

	q.session = &session{
		id:                uuid.NewString(),
		quizID:            quizID,
		language:          language,
		numberOfQuestions: numberOfQuestions,
		updateID:          1,
	}
	sessionID := q.session.id
	q.mu.Unlock()
	q.gate.Unlock()

	slog.Info("quiz started", "quiz_id", quizID, "session_id", sessionID, "language", language)
	q.notifier.Notify()

	return nil
}

// Stop завершает текущую сессию.
func (q *Quiz) Stop() error {
	q.gate.Lock()
	q.mu.Lock()
	s := q.session
	if s == nil {
		q.mu.Unlock()
		q.gate.Unlock()
		return ErrQuizNotStarted
	}

	q.last = models.QuizStatus{
		SessionID: s.id,
		Language:  s.language,
		UpdateID:  s.updateID + 1,
	}
	q.session = nil
	q.mu.Unlock()
	q.gate.Unlock()

	slog.Info("quiz stopped", "quiz_id", s.quizID, "session_id", s.id)
	q.notifier.Notify()

	return nil
}

// StartRegistration открывает регистрацию команд.
func (q *Quiz) StartRegistration() error {
	return q.change(func(s *session) error {
		if s.question != nil {
			return fmt.Errorf("%w: can not start registration of quiz %q when question %d is running",
				ErrInvalidState, s.quizID, *s.question)
		}
		if s.registration {
			return fmt.Errorf("%w: registration of quiz %q is already on", ErrInvalidState, s.quizID)
		}
		s.registration = true
		return nil
	})
}

// StopRegistration закрывает регистрацию команд.
func (q *Quiz) StopRegistration() error {
	return q.change(func(s *session) error {
		if !s.registration {
			return fmt.Errorf("%w: registration of quiz %q is not running", ErrInvalidState, s.quizID)
		}
		s.registration = false
		return nil
	})
}

// StartQuestion начинает приём ответов на вопрос question (1..N).
func (q *Quiz) StartQuestion(question int) error {
	return q.change(func(s *session) error {
		if s.registration {
			return fmt.Errorf("%w: can not start a question during registration", ErrInvalidState)
		}
		if s.question != nil {
			return fmt.Errorf("%w: can not start question %d during question %d",
				ErrInvalidState, question, *s.question)
		}
		if question < 1 || question > s.numberOfQuestions {
			return fmt.Errorf("%w: question %d is not in the question set 1..%d",
				ErrInvalidArgument, question, s.numberOfQuestions)
		}
		s.question = &question
		return nil
	})
}

// StopQuestion прекращает приём ответов.
func (q *Quiz) StopQuestion() error {
	return q.change(func(s *session) error {
		if s.question == nil {
			return fmt.Errorf("%w: no question is running", ErrInvalidState)
		}
		s.question = nil
		return nil
	})
}

// change применяет fn к сессии, поднимает update id статуса и будит подписчиков.
func (q *Quiz) change(fn func(s *session) error) error {
	q.gate.Lock()
	q.mu.Lock()
	s := q.session
	if s == nil {
		q.mu.Unlock()
		q.gate.Unlock()
		return ErrQuizNotStarted
	}

	if err := fn(s); err != nil {
		q.mu.Unlock()
		q.gate.Unlock()
		slog.Warn("quiz status change rejected", "quiz_id", s.quizID, "err", err)
		return err
	}
	s.updateID++
	status := s.status()
	q.mu.Unlock()
	q.gate.Unlock()

	slog.Info("quiz status changed",
		"quiz_id", status.QuizID,
		"update_id", status.UpdateID,
		"registration", status.Registration,
		"question", status.Question)
	q.notifier.Notify()

	return nil
}

// Status возвращает снимок статуса. Update id не меняется.
func (q *Quiz) Status() models.QuizStatus {
	q.mu.Lock()
	var status models.QuizStatus
	if q.session != nil {
		status = q.session.status()
	} else {
		status = q.last
	}
	q.mu.Unlock()

	status.Time = q.now()

	return status
}

func (s *session) status() models.QuizStatus {
	status := models.QuizStatus{
		SessionID:    s.id,
		QuizID:       s.quizID,
		Language:     s.language,
		Registration: s.registration,
		UpdateID:     s.updateID,
	}
	if s.question != nil {
		question := *s.question
		status.Question = &question
	}

	return status
}

// Subscribe подписывает fn на изменения статуса.
func (q *Quiz) Subscribe(fn func()) notifier.Handle {
	return q.notifier.Subscribe(fn)
}

// Unsubscribe отменяет подписку на изменения статуса.
func (q *Quiz) Unsubscribe(h notifier.Handle) {
	q.notifier.Unsubscribe(h)
}

// Subscribers возвращает число подписчиков на статус.
func (q *Quiz) Subscribers() int {
	return q.notifier.Len()
}

// RegisterTeam регистрирует команду teamID под именем name.
// timestamp — время сообщения по часам клиента. Возвращает 0, если уже
// сохранена более поздняя регистрация.
func (q *Quiz) RegisterTeam(ctx context.Context, teamID int64, name string, timestamp int64) (int64, error) {
	q.gate.RLock()
	defer q.gate.RUnlock()

	status := q.Status()
	if status.QuizID == "" {
		return 0, ErrQuizNotStarted
	}
	if !status.Registration {
		return 0, fmt.Errorf("%w: registration of quiz %q is not running", ErrInvalidState, status.QuizID)
	}

	name = NormalizeText(name, MaxNameLength)
	if name == "" {
		return 0, fmt.Errorf("%w: team name must not be empty", ErrInvalidArgument)
	}

	updateID, err := q.store.UpsertTeam(ctx, models.Team{
		QuizID:    status.QuizID,
		ID:        teamID,
		Name:      name,
		Timestamp: timestamp,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to register team %d: %w", teamID, err)
	}

	slog.Info("team registered", "quiz_id", status.QuizID, "team_id", teamID, "name", name, "update_id", updateID)

	return updateID, nil
}

// Team возвращает зарегистрированную команду или ErrUnknownTeam.
func (q *Quiz) Team(ctx context.Context, teamID int64) (models.Team, error) {
	status := q.Status()
	if status.QuizID == "" {
		return models.Team{}, ErrQuizNotStarted
	}

	teams, err := q.store.ListTeams(ctx, storage.TeamFilter{QuizID: status.QuizID, TeamID: &teamID})
	if err != nil {
		return models.Team{}, fmt.Errorf("failed to get team %d: %w", teamID, err)
	}
	if len(teams) == 0 {
		return models.Team{}, ErrUnknownTeam
	}

	return teams[0], nil
}

// SubmitAnswer сохраняет ответ команды на текущий вопрос.
func (q *Quiz) SubmitAnswer(ctx context.Context, teamID int64, text string, timestamp int64) (int64, error) {
	q.gate.RLock()
	defer q.gate.RUnlock()

	status := q.Status()
	if status.QuizID == "" {
		return 0, ErrQuizNotStarted
	}
	if status.Question == nil {
		return 0, fmt.Errorf("%w: no question is running", ErrInvalidState)
	}

	if _, err := q.Team(ctx, teamID); err != nil {
		return 0, err
	}

	updateID, err := q.store.UpsertAnswer(ctx, models.Answer{
		QuizID:    status.QuizID,
		Question:  *status.Question,
		TeamID:    teamID,
		Answer:    NormalizeText(text, MaxAnswerLength),
		Timestamp: timestamp,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to submit answer of team %d: %w", teamID, err)
	}

	slog.Info("answer received",
		"quiz_id", status.QuizID, "question", *status.Question, "team_id", teamID, "update_id", updateID)

	return updateID, nil
}

// SetAnswerPoints выставляет баллы за ответ команды.
func (q *Quiz) SetAnswerPoints(ctx context.Context, question int, teamID int64, points int) (int64, error) {
	status := q.Status()
	if status.QuizID == "" {
		return 0, ErrQuizNotStarted
	}

	updateID, err := q.store.GradeAnswer(ctx, status.QuizID, question, teamID, points)
	if err != nil {
		return 0, fmt.Errorf("failed to set answer points: %w", err)
	}
	if updateID == 0 {
		return 0, fmt.Errorf("%w: quiz %q, question %d, team %d",
			ErrAnswerNotFound, status.QuizID, question, teamID)
	}

	return updateID, nil
}
