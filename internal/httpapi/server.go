package httpapi

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/letsssgooo/quizhost/internal/metrics"
	"github.com/letsssgooo/quizhost/internal/quiz"
	"github.com/letsssgooo/quizhost/internal/updates"
)

// QuizDefaults — значения startQuiz, если клиент их не передал.
type QuizDefaults struct {
	Language          string
	NumberOfQuestions int
}

// Server — HTTP API ведущего квиза.
type Server struct {
	quiz     *quiz.Quiz
	updates  *updates.Service
	defaults QuizDefaults
	upgrader websocket.Upgrader
}

func NewServer(q *quiz.Quiz, u *updates.Service, defaults QuizDefaults) *Server {
	return &Server{
		quiz:     q,
		updates:  u,
		defaults: defaults,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Handler собирает роутер со всеми эндпоинтами API.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(logRequests)

	api := r.PathPrefix("/api").Subrouter()
	api.Methods(http.MethodPost).Path("/getUpdates").HandlerFunc(s.handle(s.getUpdates))
	api.Methods(http.MethodPost).Path("/setAnswerPoints").HandlerFunc(s.handle(s.setAnswerPoints))
	api.Methods(http.MethodPost).Path("/startRegistration").HandlerFunc(s.handle(s.startRegistration))
	api.Methods(http.MethodPost).Path("/stopRegistration").HandlerFunc(s.handle(s.stopRegistration))
	api.Methods(http.MethodPost).Path("/startQuestion").HandlerFunc(s.handle(s.startQuestion))
	api.Methods(http.MethodPost).Path("/stopQuestion").HandlerFunc(s.handle(s.stopQuestion))
	api.Methods(http.MethodPost).Path("/startQuiz").HandlerFunc(s.handle(s.startQuiz))
	api.Methods(http.MethodPost).Path("/stopQuiz").HandlerFunc(s.handle(s.stopQuiz))
	api.Methods(http.MethodPost).Path("/sendResults").HandlerFunc(s.handle(s.sendResults))
	api.Methods(http.MethodGet).Path("/updates/ws").HandlerFunc(s.streamUpdates)

	r.Methods(http.MethodGet).Path("/metrics").Handler(promhttp.Handler())

	return r
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)

		route := r.URL.Path
		if cr := mux.CurrentRoute(r); cr != nil {
			if tpl, err := cr.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		metrics.HTTPRequestDuration.WithLabelValues(route, strconv.Itoa(m.Code)).Observe(m.Duration.Seconds())

		slog.Info("handled", "method", r.Method, "url", r.URL, "duration", m.Duration, "status", m.Code)
	})
}
