package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/letsssgooo/quizhost/internal/domain/models"
	"github.com/letsssgooo/quizhost/internal/events/notifier"
	"github.com/letsssgooo/quizhost/internal/metrics"
	"github.com/letsssgooo/quizhost/internal/storage"
)

// Storage реализует storage.Store поверх одного файла SQLite.
//
// Проверка времени, выделение update id и запись выполняются в одной
// транзакции под мьютексом таблицы, поэтому два конкурентных писателя
// одного ключа не могут оба выиграть.
type Storage struct {
	db        *sql.DB
	teamsMu   sync.Mutex
	answersMu sync.Mutex
	notifier  *notifier.Notifier
}

var _ storage.Store = (*Storage)(nil)

// NewStorage открывает (и при необходимости создаёт) базу по пути path.
func NewStorage(ctx context.Context, path string) (*Storage, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_txlock=immediate&_journal_mode=WAL", path)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database %s: %w", path, err)
	}

	s := &Storage{
		db:       db,
		notifier: notifier.New("sqlite"),
	}

	if err = s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}

	slog.Info("sqlite storage opened", "path", path)

	return s, nil
}

func (s *Storage) initSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS teams (
			update_id INTEGER PRIMARY KEY NOT NULL,
			quiz_id TEXT NOT NULL,
			id INTEGER NOT NULL,
			name TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			UNIQUE(quiz_id, id)
		);`,
		`CREATE TABLE IF NOT EXISTS answers (
			update_id INTEGER PRIMARY KEY NOT NULL,
			quiz_id TEXT NOT NULL,
			question INTEGER NOT NULL,
			team_id INTEGER NOT NULL,
			answer TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			points INTEGER,
			UNIQUE(quiz_id, question, team_id)
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			insert_timestamp INTEGER NOT NULL,
			timestamp INTEGER NOT NULL,
			update_id INTEGER NOT NULL,
			chat_id INTEGER NOT NULL,
			text TEXT NOT NULL
		);`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	return nil
}

// UpsertTeam регистрирует или переименовывает команду.
func (s *Storage) UpsertTeam(ctx context.Context, team models.Team) (int64, error) {
	s.teamsMu.Lock()
	updateID, err := s.upsertTeam(ctx, team)
	s.teamsMu.Unlock()

	return s.committed(storage.TableTeams, metrics.ResultStale, updateID, err)
}

func (s *Storage) upsertTeam(ctx context.Context, team models.Team) (int64, error) {
	var newUpdateID int64

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var updateID, timestamp int64
		err := tx.QueryRowContext(ctx,
			`SELECT update_id, timestamp FROM teams WHERE quiz_id = ? AND id = ?`,
			team.QuizID, team.ID,
		).Scan(&updateID, &timestamp)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to select team: %w", err)
		}

		if updateID != 0 && timestamp > team.Timestamp {
			return nil
		}

		next, err := nextUpdateID(ctx, tx, storage.TableTeams)
		if err != nil {
			return err
		}

		if updateID != 0 {
			_, err = tx.ExecContext(ctx,
				`UPDATE teams SET update_id = ?, name = ?, timestamp = ? WHERE update_id = ?`,
				next, team.Name, team.Timestamp, updateID)
		} else {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO teams (update_id, quiz_id, id, name, timestamp) VALUES (?, ?, ?, ?, ?)`,
				next, team.QuizID, team.ID, team.Name, team.Timestamp)
		}
		if err != nil {
			return fmt.Errorf("failed to write team: %w", err)
		}

		newUpdateID = next
		return nil
	})

	return newUpdateID, err
}

// UpsertAnswer сохраняет ответ команды.
func (s *Storage) UpsertAnswer(ctx context.Context, answer models.Answer) (int64, error) {
	s.answersMu.Lock()
	updateID, err := s.upsertAnswer(ctx, answer)
	s.answersMu.Unlock()

	return s.committed(storage.TableAnswers, metrics.ResultStale, updateID, err)
}

func (s *Storage) upsertAnswer(ctx context.Context, answer models.Answer) (int64, error) {
	var newUpdateID int64

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		updateID, timestamp, err := selectAnswer(ctx, tx, answer.QuizID, answer.Question, answer.TeamID)
		if err != nil {
			return err
		}

		if updateID != 0 && timestamp > answer.Timestamp {
			return nil
		}

		next, err := nextUpdateID(ctx, tx, storage.TableAnswers)
		if err != nil {
			return err
		}

		if updateID != 0 {
			_, err = tx.ExecContext(ctx,
				`UPDATE answers
				SET update_id = ?, answer = ?, timestamp = ?,
					points = CASE WHEN answer = ? THEN points ELSE NULL END
				WHERE update_id = ?`,
				next, answer.Answer, answer.Timestamp, answer.Answer, updateID)
		} else {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO answers (update_id, quiz_id, question, team_id, answer, timestamp)
				VALUES (?, ?, ?, ?, ?, ?)`,
				next, answer.QuizID, answer.Question, answer.TeamID, answer.Answer, answer.Timestamp)
		}
		if err != nil {
			return fmt.Errorf("failed to write answer: %w", err)
		}

		newUpdateID = next
		return nil
	})

	return newUpdateID, err
}

// GradeAnswer выставляет баллы за существующий ответ.
func (s *Storage) GradeAnswer(ctx context.Context, quizID string, question int, teamID int64, points int) (int64, error) {
	s.answersMu.Lock()
	updateID, err := s.gradeAnswer(ctx, quizID, question, teamID, points)
	s.answersMu.Unlock()

	return s.committed(storage.TableAnswers, metrics.ResultNotFound, updateID, err)
}

func (s *Storage) gradeAnswer(ctx context.Context, quizID string, question int, teamID int64, points int) (int64, error) {
	var newUpdateID int64

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		updateID, _, err := selectAnswer(ctx, tx, quizID, question, teamID)
		if err != nil {
			return err
		}
		if updateID == 0 {
			return nil
		}

		next, err := nextUpdateID(ctx, tx, storage.TableAnswers)
		if err != nil {
			return err
		}

		if _, err = tx.ExecContext(ctx,
			`UPDATE answers SET update_id = ?, points = ? WHERE update_id = ?`,
			next, points, updateID); err != nil {
			return fmt.Errorf("failed to grade answer: %w", err)
		}

		newUpdateID = next
		return nil
	})

	return newUpdateID, err
}

// ListTeams возвращает команды новее курсора.
func (s *Storage) ListTeams(ctx context.Context, filter storage.TeamFilter) ([]models.Team, error) {
	where := newConditions()
	where.add("quiz_id = ?", filter.QuizID)
	where.add("update_id > ?", filter.MinUpdateID)
	if filter.MaxUpdateID != 0 {
		where.add("update_id <= ?", filter.MaxUpdateID)
	}
	if filter.TeamID != nil {
		where.add("id = ?", *filter.TeamID)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT update_id, quiz_id, id, name, timestamp FROM teams `+where.String()+` ORDER BY update_id`,
		where.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query teams: %w", err)
	}
	defer rows.Close()

	teams := make([]models.Team, 0)
	for rows.Next() {
		var t models.Team
		if err = rows.Scan(&t.UpdateID, &t.QuizID, &t.ID, &t.Name, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan team: %w", err)
		}
		teams = append(teams, t)
	}

	return teams, rows.Err()
}

// ListAnswers возвращает ответы новее курсора.
func (s *Storage) ListAnswers(ctx context.Context, filter storage.AnswerFilter) ([]models.Answer, error) {
	where := newConditions()
	where.add("quiz_id = ?", filter.QuizID)
	where.add("update_id > ?", filter.MinUpdateID)
	if filter.MaxUpdateID != 0 {
		where.add("update_id <= ?", filter.MaxUpdateID)
	}
	if filter.TeamID != nil {
		where.add("team_id = ?", *filter.TeamID)
	}
	if filter.Question != nil {
		where.add("question = ?", *filter.Question)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT update_id, quiz_id, question, team_id, answer, timestamp, points FROM answers `+
			where.String()+` ORDER BY update_id`,
		where.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query answers: %w", err)
	}
	defer rows.Close()

	answers := make([]models.Answer, 0)
	for rows.Next() {
		var (
			a      models.Answer
			points sql.NullInt64
		)
		if err = rows.Scan(&a.UpdateID, &a.QuizID, &a.Question, &a.TeamID, &a.Answer, &a.Timestamp, &points); err != nil {
			return nil, fmt.Errorf("failed to scan answer: %w", err)
		}
		if points.Valid {
			p := int(points.Int64)
			a.Points = &p
		}
		answers = append(answers, a)
	}

	return answers, rows.Err()
}

// LogMessage сохраняет сообщение в журнал.
func (s *Storage) LogMessage(ctx context.Context, message models.Message) error {
	if message.InsertTimestamp == 0 {
		message.InsertTimestamp = time.Now().Unix()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (insert_timestamp, timestamp, update_id, chat_id, text) VALUES (?, ?, ?, ?, ?)`,
		message.InsertTimestamp, message.Timestamp, message.UpdateID, message.ChatID, message.Text)
	if err != nil {
		metrics.StoreWrites.WithLabelValues(storage.TableMessages, metrics.ResultError).Inc()
		return fmt.Errorf("failed to log message: %w", err)
	}
	metrics.StoreWrites.WithLabelValues(storage.TableMessages, metrics.ResultAccepted).Inc()

	return nil
}

// Messages возвращает журнал сообщений в порядке вставки.
func (s *Storage) Messages(ctx context.Context) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT insert_timestamp, timestamp, update_id, chat_id, text FROM messages ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		if err = rows.Scan(&m.InsertTimestamp, &m.Timestamp, &m.UpdateID, &m.ChatID, &m.Text); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, m)
	}

	return messages, rows.Err()
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

// Close закрывает базу.
func (s *Storage) Close() error {
	return s.db.Close()
}

// committed учитывает исход записи и будит подписчиков после коммита.
func (s *Storage) committed(table, rejected string, updateID int64, err error) (int64, error) {
	switch {
	case err != nil:
		metrics.StoreWrites.WithLabelValues(table, metrics.ResultError).Inc()
		return 0, err
	case updateID == 0:
		metrics.StoreWrites.WithLabelValues(table, rejected).Inc()
		return 0, nil
	}

	metrics.StoreWrites.WithLabelValues(table, metrics.ResultAccepted).Inc()
	s.notifier.Notify()

	return updateID, nil
}

func (s *Storage) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err = fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func selectAnswer(ctx context.Context, tx *sql.Tx, quizID string, question int, teamID int64) (int64, int64, error) {
	var updateID, timestamp int64
	err := tx.QueryRowContext(ctx,
		`SELECT update_id, timestamp FROM answers WHERE quiz_id = ? AND question = ? AND team_id = ?`,
		quizID, question, teamID,
	).Scan(&updateID, &timestamp)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, 0, fmt.Errorf("failed to select answer: %w", err)
	}

	return updateID, timestamp, nil
}

// nextUpdateID выделяет следующий update id таблицы внутри транзакции.
func nextUpdateID(ctx context.Context, tx *sql.Tx, table string) (int64, error) {
	var next int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(update_id), 0) + 1 FROM `+table).Scan(&next); err != nil {
		return 0, fmt.Errorf("failed to allocate update id for %s: %w", table, err)
	}

	return next, nil
}

type conditions struct {
	parts []string
	args  []any
}

func newConditions() *conditions {
	return &conditions{}
}

func (c *conditions) add(cond string, arg any) {
	c.parts = append(c.parts, cond)
	c.args = append(c.args, arg)
}

func (c *conditions) String() string {
	if len(c.parts) == 0 {
		return ""
	}

	return "WHERE " + strings.Join(c.parts, " AND ")
}
