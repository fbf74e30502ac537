package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestQuizStatusEqual(t *testing.T) {
	q := func(v int) *int { return &v }

	base := QuizStatus{
		SessionID: "s", QuizID: "test", Language: "en",
		Question: q(2), Registration: false, UpdateID: 5, Time: time.Unix(100, 0),
	}

	tests := []struct {
		name   string
		mutate func(s *QuizStatus)
		want   bool
	}{
		{name: "same", mutate: func(*QuizStatus) {}, want: true},
		{name: "time ignored", mutate: func(s *QuizStatus) { s.Time = time.Unix(200, 0) }, want: true},
		{name: "question copy", mutate: func(s *QuizStatus) { s.Question = q(2) }, want: true},
		{name: "other question", mutate: func(s *QuizStatus) { s.Question = q(3) }, want: false},
		{name: "no question", mutate: func(s *QuizStatus) { s.Question = nil }, want: false},
		{name: "session", mutate: func(s *QuizStatus) { s.SessionID = "other" }, want: false},
		{name: "registration", mutate: func(s *QuizStatus) { s.Registration = true }, want: false},
		{name: "update id", mutate: func(s *QuizStatus) { s.UpdateID = 6 }, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			other := base
			tt.mutate(&other)

			assert.Equal(t, tt.want, base.Equal(other))
			assert.Equal(t, tt.want, other.Equal(base))
		})
	}
}
