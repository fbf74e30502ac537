package models

import (
	"time"
)

// Файл с моделями, которые хранилище отдаёт наружу.
// Обработчики (бот, HTTP API) создают экземпляры моделей, заполняют их
// данными и передают в соответствующую функцию хранилища.

// Team определяет модель для таблицы команд.
// Timestamp — время регистрации по часам клиента, используется для
// разрешения конфликтов, а не время вставки.
type Team struct {
	QuizID    string `json:"quiz_id"`
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Timestamp int64  `json:"timestamp"`
	UpdateID  int64  `json:"update_id"`
}

// Answer определяет модель для таблицы ответов.
// Points == nil означает, что ответ ещё не оценён.
type Answer struct {
	QuizID    string `json:"quiz_id"`
	Question  int    `json:"question"`
	TeamID    int64  `json:"team_id"`
	Answer    string `json:"answer"`
	Timestamp int64  `json:"timestamp"`
	Points    *int   `json:"points"`
	UpdateID  int64  `json:"update_id"`
}

// QuizStatus — снимок состояния запущенного квиза.
// Не хранится в базе, UpdateID живёт только в пределах сессии SessionID.
type QuizStatus struct {
	SessionID    string    `json:"session_id"`
	QuizID       string    `json:"quiz_id"`
	Language     string    `json:"language"`
	Question     *int      `json:"question"`
	Registration bool      `json:"registration"`
	UpdateID     int64     `json:"update_id"`
	Time         time.Time `json:"time"`
}

// Equal сравнивает статусы без учёта Time.
func (s QuizStatus) Equal(other QuizStatus) bool {
	if (s.Question == nil) != (other.Question == nil) {
		return false
	}
	if s.Question != nil && *s.Question != *other.Question {
		return false
	}

	return s.SessionID == other.SessionID &&
		s.QuizID == other.QuizID &&
		s.Language == other.Language &&
		s.Registration == other.Registration &&
		s.UpdateID == other.UpdateID
}

// Updates — разница между состоянием клиента и сервера.
type Updates struct {
	Status  *QuizStatus `json:"status"`
	Teams   []Team      `json:"teams"`
	Answers []Answer    `json:"answers"`
}

// Empty возвращает true, если ни в одном потоке нет новых данных.
func (u *Updates) Empty() bool {
	return u.Status == nil && len(u.Teams) == 0 && len(u.Answers) == 0
}

// Message определяет модель для журнала входящих сообщений Telegram.
type Message struct {
	InsertTimestamp int64
	Timestamp       int64
	UpdateID        int64
	ChatID          int64
	Text            string
}
