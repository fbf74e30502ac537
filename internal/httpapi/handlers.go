package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/letsssgooo/quizhost/internal/quiz"
	"github.com/letsssgooo/quizhost/internal/updates"
)

// ErrBadRequest — ошибка в параметрах запроса.
var ErrBadRequest = errors.New("bad request")

const maxBodySize = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
}

type handlerFunc func(ctx context.Context, body []byte) (any, error)

// handle читает тело, вызывает h и пишет JSON ответ.
// Ошибки клиента и состояния квиза отдаются с кодом 400, остальные с 500.
func (s *Server) handle(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body is too large"})
				return
			}
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "failed to read request body"})
			return
		}

		resp, err := h(r.Context(), body)
		if err != nil {
			status := statusCode(err)
			if status == http.StatusInternalServerError {
				slog.Error("internal server error", "url", r.URL, "err", err)
				writeJSON(w, status, errorResponse{Error: "Internal server error"})
				return
			}
			if errors.Is(err, context.Canceled) {
				slog.Warn("connection closed by the client", "url", r.URL)
				return
			}
			writeJSON(w, status, errorResponse{Error: err.Error()})
			return
		}

		if resp == nil {
			resp = struct{}{}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, quiz.ErrQuizNotStarted),
		errors.Is(err, quiz.ErrInvalidState),
		errors.Is(err, quiz.ErrInvalidArgument),
		errors.Is(err, quiz.ErrUnknownTeam),
		errors.Is(err, quiz.ErrAnswerNotFound),
		errors.Is(err, quiz.ErrNoSender):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled):
		// клиент уже ушёл, код никто не увидит
		return 499
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write response", "err", err)
	}
}

// decode разбирает тело запроса. Пустое тело считается пустым объектом.
func decode(body []byte, v any) error {
	if len(bytes.TrimSpace(body)) == 0 {
		body = []byte("{}")
	}

	if err := json.Unmarshal(body, v); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return fmt.Errorf("%w: parameter %s must be of type %s", ErrBadRequest, typeErr.Field, typeErr.Type)
		}
		return fmt.Errorf("%w: request is not a valid JSON object", ErrBadRequest)
	}

	return nil
}

func required[T any](name string, v *T) (T, error) {
	if v == nil {
		var zero T
		return zero, fmt.Errorf("%w: parameter %s must be provided", ErrBadRequest, name)
	}

	return *v, nil
}

type getUpdatesRequest struct {
	MinStatusUpdateID  *int64   `json:"min_status_update_id"`
	MinTeamsUpdateID   *int64   `json:"min_teams_update_id"`
	MinAnswersUpdateID *int64   `json:"min_answers_update_id"`
	Timeout            *float64 `json:"timeout"`
}

func (s *Server) getUpdates(ctx context.Context, body []byte) (any, error) {
	var req getUpdatesRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}

	var (
		cursors updates.Cursors
		err     error
	)
	if cursors.MinStatusUpdateID, err = required("min_status_update_id", req.MinStatusUpdateID); err != nil {
		return nil, err
	}
	if cursors.MinTeamsUpdateID, err = required("min_teams_update_id", req.MinTeamsUpdateID); err != nil {
		return nil, err
	}
	if cursors.MinAnswersUpdateID, err = required("min_answers_update_id", req.MinAnswersUpdateID); err != nil {
		return nil, err
	}

	var timeout time.Duration
	if req.Timeout != nil {
		// ограничиваем в секундах, иначе большое значение переполнит Duration
		secs := min(*req.Timeout, s.updates.MaxTimeout().Seconds())
		timeout = time.Duration(secs * float64(time.Second))
	}

	return s.updates.GetUpdates(ctx, updates.Request{Cursors: cursors, Timeout: timeout})
}

type setAnswerPointsRequest struct {
	Question *int   `json:"question"`
	TeamID   *int64 `json:"team_id"`
	Points   *int   `json:"points"`
}

func (s *Server) setAnswerPoints(ctx context.Context, body []byte) (any, error) {
	var req setAnswerPointsRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}

	question, err := required("question", req.Question)
	if err != nil {
		return nil, err
	}
	teamID, err := required("team_id", req.TeamID)
	if err != nil {
		return nil, err
	}
	points, err := required("points", req.Points)
	if err != nil {
		return nil, err
	}

	if _, err := s.quiz.SetAnswerPoints(ctx, question, teamID, points); err != nil {
		return nil, err
	}

	return nil, nil
}

func (s *Server) startRegistration(_ context.Context, _ []byte) (any, error) {
	return nil, s.quiz.StartRegistration()
}

func (s *Server) stopRegistration(_ context.Context, _ []byte) (any, error) {
	return nil, s.quiz.StopRegistration()
}

type startQuestionRequest struct {
	Question *int `json:"question"`
}

func (s *Server) startQuestion(_ context.Context, body []byte) (any, error) {
	var req startQuestionRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}

	question, err := required("question", req.Question)
	if err != nil {
		return nil, err
	}

	return nil, s.quiz.StartQuestion(question)
}

func (s *Server) stopQuestion(_ context.Context, _ []byte) (any, error) {
	return nil, s.quiz.StopQuestion()
}

type startQuizRequest struct {
	QuizID            *string `json:"quiz_id"`
	Language          *string `json:"language"`
	NumberOfQuestions *int    `json:"number_of_questions"`
}

func (s *Server) startQuiz(_ context.Context, body []byte) (any, error) {
	var req startQuizRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}

	quizID, err := required("quiz_id", req.QuizID)
	if err != nil {
		return nil, err
	}

	language := s.defaults.Language
	if req.Language != nil {
		language = *req.Language
	}
	if !quiz.SupportedLanguage(language) {
		return nil, fmt.Errorf("%w: language %s is not supported", ErrBadRequest, language)
	}

	numberOfQuestions := s.defaults.NumberOfQuestions
	if req.NumberOfQuestions != nil {
		numberOfQuestions = *req.NumberOfQuestions
	}

	return nil, s.quiz.Start(quizID, language, numberOfQuestions)
}

func (s *Server) stopQuiz(_ context.Context, _ []byte) (any, error) {
	return nil, s.quiz.Stop()
}

type sendResultsRequest struct {
	TeamID *int64 `json:"team_id"`
}

func (s *Server) sendResults(ctx context.Context, body []byte) (any, error) {
	var req sendResultsRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}

	teamID, err := required("team_id", req.TeamID)
	if err != nil {
		return nil, err
	}

	return nil, s.quiz.SendResults(ctx, teamID)
}
