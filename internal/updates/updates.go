package updates

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/letsssgooo/quizhost/internal/domain/models"
	"github.com/letsssgooo/quizhost/internal/events/notifier"
	"github.com/letsssgooo/quizhost/internal/metrics"
	"github.com/letsssgooo/quizhost/internal/storage"
)

// DefaultMaxTimeout — верхняя граница ожидания одного запроса.
const DefaultMaxTimeout = 30 * time.Second

// SkipStream в качестве курсора означает, что поток клиенту не нужен.
const SkipStream int64 = -1

// StatusSource отдаёт статус квиза и сообщает об его изменениях.
type StatusSource interface {
	Status() models.QuizStatus
	Subscribe(fn func()) notifier.Handle
	Unsubscribe(h notifier.Handle)
}

// Cursors — последние update id, которые клиент уже видел.
type Cursors struct {
	MinStatusUpdateID  int64
	MinTeamsUpdateID   int64
	MinAnswersUpdateID int64
}

// Request — параметры long-poll запроса.
type Request struct {
	Cursors
	Timeout time.Duration
}

// Service вычисляет разницу между курсорами клиента и текущим состоянием
// и умеет ждать её появления.
type Service struct {
	store      storage.Store
	status     StatusSource
	maxTimeout time.Duration
}

// NewService создаёт сервис обновлений. maxTimeout <= 0 означает DefaultMaxTimeout.
func NewService(store storage.Store, status StatusSource, maxTimeout time.Duration) *Service {
	if maxTimeout <= 0 {
		maxTimeout = DefaultMaxTimeout
	}

	return &Service{
		store:      store,
		status:     status,
		maxTimeout: maxTimeout,
	}
}

// MaxTimeout возвращает верхнюю границу ожидания.
func (s *Service) MaxTimeout() time.Duration {
	return s.maxTimeout
}

// Collect возвращает всё, что новее курсоров. Ничего не меняет.
//
// Статус возвращается при status.UpdateID >= курсора, потому что это
// снимок, а не дельта. Команды и ответы возвращаются строго после курсора.
func (s *Service) Collect(ctx context.Context, cursors Cursors) (*models.Updates, error) {
	status := s.status.Status()
	updates := &models.Updates{
		Teams:   make([]models.Team, 0),
		Answers: make([]models.Answer, 0),
	}

	if cursors.MinStatusUpdateID != SkipStream && status.UpdateID >= cursors.MinStatusUpdateID {
		updates.Status = &status
	}

	if status.QuizID == "" {
		return updates, nil
	}

	if minID := cursor(cursors.MinTeamsUpdateID); minID != math.MaxInt64 {
		teams, err := s.store.ListTeams(ctx, storage.TeamFilter{QuizID: status.QuizID, MinUpdateID: minID})
		if err != nil {
			return nil, fmt.Errorf("failed to list teams: %w", err)
		}
		updates.Teams = teams
	}

	if minID := cursor(cursors.MinAnswersUpdateID); minID != math.MaxInt64 {
		answers, err := s.store.ListAnswers(ctx, storage.AnswerFilter{QuizID: status.QuizID, MinUpdateID: minID})
		if err != nil {
			return nil, fmt.Errorf("failed to list answers: %w", err)
		}
		updates.Answers = answers
	}

	return updates, nil
}

func cursor(v int64) int64 {
	if v == SkipStream {
		return math.MaxInt64
	}

	return v
}

// GetUpdates возвращает обновления сразу, если они есть, иначе ждёт
// записи или смены статуса, но не дольше req.Timeout.
// Истечение таймаута не ошибка: возвращается пустой результат.
func (s *Service) GetUpdates(ctx context.Context, req Request) (*models.Updates, error) {
	updates, err := s.Collect(ctx, req.Cursors)
	if err != nil {
		metrics.LongPollRequests.WithLabelValues(metrics.OutcomeError).Inc()
		return nil, err
	}

	timeout := min(req.Timeout, s.maxTimeout)
	if !updates.Empty() || timeout <= 0 {
		metrics.LongPollRequests.WithLabelValues(metrics.OutcomeImmediate).Inc()
		return updates, nil
	}

	wake := make(chan struct{}, 1)
	signal := func() {
		select {
		case wake <- struct{}{}:
		default:
		}
	}

	storeHandle := s.store.Subscribe(signal)
	defer s.store.Unsubscribe(storeHandle)
	statusHandle := s.status.Subscribe(signal)
	defer s.status.Unsubscribe(statusHandle)

	// запись могла случиться между первой выборкой и подпиской
	updates, err = s.Collect(ctx, req.Cursors)
	if err != nil {
		metrics.LongPollRequests.WithLabelValues(metrics.OutcomeError).Inc()
		return nil, err
	}
	if !updates.Empty() {
		metrics.LongPollRequests.WithLabelValues(metrics.OutcomeImmediate).Inc()
		return updates, nil
	}

	outcome, err := s.wait(ctx, wake, timeout)
	if err != nil {
		metrics.LongPollRequests.WithLabelValues(outcome).Inc()
		slog.Debug("long poll canceled", "err", err)
		return nil, err
	}

	updates, err = s.Collect(ctx, req.Cursors)
	if err != nil {
		metrics.LongPollRequests.WithLabelValues(metrics.OutcomeError).Inc()
		return nil, err
	}
	metrics.LongPollRequests.WithLabelValues(outcome).Inc()

	return updates, nil
}

func (s *Service) wait(ctx context.Context, wake <-chan struct{}, timeout time.Duration) (string, error) {
	metrics.LongPollWaiting.Inc()
	defer metrics.LongPollWaiting.Dec()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-wake:
		return metrics.OutcomeNotified, nil
	case <-timer.C:
		return metrics.OutcomeTimeout, nil
	case <-ctx.Done():
		return metrics.OutcomeCanceled, ctx.Err()
	}
}
