package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/letsssgooo/quizhost/internal/domain/models"
	"github.com/letsssgooo/quizhost/internal/updates"
)

const writeWait = 10 * time.Second

// streamUpdates отдаёт обновления по websocket. Курсоры берутся из query
// параметров один раз, дальше сервер сдвигает их сам после каждой отправки.
func (s *Server) streamUpdates(w http.ResponseWriter, r *http.Request) {
	cursors, err := cursorsFromQuery(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("failed to upgrade", "err", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// чтение нужно только для того, чтобы заметить закрытие соединения
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	stream := &stream{cursors: cursors, session: s.quiz.Status().SessionID}
	if err := stream.run(ctx, s.updates, s.quiz.Status, conn); err != nil {
		slog.Error("updates stream failed", "err", err)
		return
	}

	slog.Info("updates stream closed", "remote", r.RemoteAddr)
}

type stream struct {
	cursors updates.Cursors
	session string
}

type jsonWriter interface {
	SetWriteDeadline(t time.Time) error
	WriteJSON(v interface{}) error
}

func (st *stream) run(
	ctx context.Context,
	svc *updates.Service,
	status func() models.QuizStatus,
	conn jsonWriter,
) error {
	for {
		// курсор статуса действителен только в пределах одной сессии
		if current := status().SessionID; current != st.session {
			st.session = current
			if st.cursors.MinStatusUpdateID != updates.SkipStream {
				st.cursors.MinStatusUpdateID = 0
			}
		}

		diff, err := svc.GetUpdates(ctx, updates.Request{Cursors: st.cursors, Timeout: svc.MaxTimeout()})
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if diff.Empty() {
			continue
		}

		if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			return err
		}
		if err := conn.WriteJSON(diff); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}

		st.advance(diff)
	}
}

func (st *stream) advance(diff *models.Updates) {
	if diff.Status != nil {
		st.session = diff.Status.SessionID
		st.cursors.MinStatusUpdateID = diff.Status.UpdateID + 1
	}
	for _, t := range diff.Teams {
		st.cursors.MinTeamsUpdateID = max(st.cursors.MinTeamsUpdateID, t.UpdateID)
	}
	for _, a := range diff.Answers {
		st.cursors.MinAnswersUpdateID = max(st.cursors.MinAnswersUpdateID, a.UpdateID)
	}
}

func cursorsFromQuery(r *http.Request) (updates.Cursors, error) {
	var cursors updates.Cursors

	q := r.URL.Query()
	for name, dst := range map[string]*int64{
		"min_status_update_id":  &cursors.MinStatusUpdateID,
		"min_teams_update_id":   &cursors.MinTeamsUpdateID,
		"min_answers_update_id": &cursors.MinAnswersUpdateID,
	} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return cursors, errors.New("parameter " + name + " must be of type int")
		}
		*dst = v
	}

	return cursors, nil
}
