package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/letsssgooo/quizhost/internal/domain/models"
	"github.com/letsssgooo/quizhost/internal/events/notifier"
	"github.com/letsssgooo/quizhost/internal/metrics"
	"github.com/letsssgooo/quizhost/internal/storage"
)

// Storage реализует storage.Store поверх PostgreSQL.
type Storage struct {
	pool      *pgxpool.Pool
	teamsMu   sync.Mutex
	answersMu sync.Mutex
	notifier  *notifier.Notifier
}

var _ storage.Store = (*Storage)(nil)

// NewStorage подключается к базе по dsn и создаёт таблицы.
func NewStorage(ctx context.Context, dsn string) (*Storage, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	s := &Storage{
		pool:     pool,
		notifier: notifier.New("postgres"),
	}

	if err = s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}

	slog.Info("postgres storage connected", "host", cfg.ConnConfig.Host, "database", cfg.ConnConfig.Database)

	return s, nil
}

func (s *Storage) initSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS teams (
			update_id BIGINT PRIMARY KEY,
			quiz_id TEXT NOT NULL,
			id BIGINT NOT NULL,
			name TEXT NOT NULL,
			timestamp BIGINT NOT NULL,
			UNIQUE(quiz_id, id)
		)`,
		`CREATE TABLE IF NOT EXISTS answers (
			update_id BIGINT PRIMARY KEY,
			quiz_id TEXT NOT NULL,
			question INTEGER NOT NULL,
			team_id BIGINT NOT NULL,
			answer TEXT NOT NULL,
			timestamp BIGINT NOT NULL,
			points INTEGER,
			UNIQUE(quiz_id, question, team_id)
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			insert_timestamp BIGINT NOT NULL,
			timestamp BIGINT NOT NULL,
			update_id BIGINT NOT NULL,
			chat_id BIGINT NOT NULL,
			text TEXT NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
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

	err := s.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		if err := lockTable(ctx, tx, storage.TableTeams); err != nil {
			return err
		}

		var updateID, timestamp int64
		err := tx.QueryRow(ctx,
			`SELECT update_id, timestamp FROM teams WHERE quiz_id = $1 AND id = $2`,
			team.QuizID, team.ID,
		).Scan(&updateID, &timestamp)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
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
			_, err = tx.Exec(ctx,
				`UPDATE teams SET update_id = $1, name = $2, timestamp = $3 WHERE update_id = $4`,
				next, team.Name, team.Timestamp, updateID)
		} else {
			_, err = tx.Exec(ctx,
				`INSERT INTO teams (update_id, quiz_id, id, name, timestamp) VALUES ($1, $2, $3, $4, $5)`,
				next, team.QuizID, team.ID, team.Name, team.Timestamp)
		}
		if err != nil {
			return fmt.Errorf("failed to write team: %w", err)
		}

		newUpdateID = next
		return nil
	})
	if err != nil {
		return 0, err
	}

	return newUpdateID, nil
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

	err := s.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		if err := lockTable(ctx, tx, storage.TableAnswers); err != nil {
			return err
		}

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
			_, err = tx.Exec(ctx,
				`UPDATE answers
				SET update_id = $1, answer = $2, timestamp = $3,
					points = CASE WHEN answer = $2 THEN points ELSE NULL END
				WHERE update_id = $4`,
				next, answer.Answer, answer.Timestamp, updateID)
		} else {
			_, err = tx.Exec(ctx,
				`INSERT INTO answers (update_id, quiz_id, question, team_id, answer, timestamp)
				VALUES ($1, $2, $3, $4, $5, $6)`,
				next, answer.QuizID, answer.Question, answer.TeamID, answer.Answer, answer.Timestamp)
		}
		if err != nil {
			return fmt.Errorf("failed to write answer: %w", err)
		}

		newUpdateID = next
		return nil
	})
	if err != nil {
		return 0, err
	}

	return newUpdateID, nil
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

	err := s.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		if err := lockTable(ctx, tx, storage.TableAnswers); err != nil {
			return err
		}

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

		if _, err = tx.Exec(ctx,
			`UPDATE answers SET update_id = $1, points = $2 WHERE update_id = $3`,
			next, points, updateID); err != nil {
			return fmt.Errorf("failed to grade answer: %w", err)
		}

		newUpdateID = next
		return nil
	})
	if err != nil {
		return 0, err
	}

	return newUpdateID, nil
}

// ListTeams возвращает команды новее курсора.
func (s *Storage) ListTeams(ctx context.Context, filter storage.TeamFilter) ([]models.Team, error) {
	where := &conditions{}
	where.add("quiz_id = ", filter.QuizID)
	where.add("update_id > ", filter.MinUpdateID)
	if filter.MaxUpdateID != 0 {
		where.add("update_id <= ", filter.MaxUpdateID)
	}
	if filter.TeamID != nil {
		where.add("id = ", *filter.TeamID)
	}

	rows, err := s.pool.Query(ctx,
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
	where := &conditions{}
	where.add("quiz_id = ", filter.QuizID)
	where.add("update_id > ", filter.MinUpdateID)
	if filter.MaxUpdateID != 0 {
		where.add("update_id <= ", filter.MaxUpdateID)
	}
	if filter.TeamID != nil {
		where.add("team_id = ", *filter.TeamID)
	}
	if filter.Question != nil {
		where.add("question = ", *filter.Question)
	}

	rows, err := s.pool.Query(ctx,
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

	_, err := s.pool.Exec(ctx,
		`INSERT INTO messages (insert_timestamp, timestamp, update_id, chat_id, text) VALUES ($1, $2, $3, $4, $5)`,
		message.InsertTimestamp, message.Timestamp, message.UpdateID, message.ChatID, message.Text)
	if err != nil {
		metrics.StoreWrites.WithLabelValues(storage.TableMessages, metrics.ResultError).Inc()
		return fmt.Errorf("failed to log message: %w", err)
	}
	metrics.StoreWrites.WithLabelValues(storage.TableMessages, metrics.ResultAccepted).Inc()

	return nil
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

// Close закрывает пул соединений.
func (s *Storage) Close() error {
	s.pool.Close()
	return nil
}

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

func selectAnswer(ctx context.Context, tx pgx.Tx, quizID string, question int, teamID int64) (int64, int64, error) {
	var updateID, timestamp int64
	err := tx.QueryRow(ctx,
		`SELECT update_id, timestamp FROM answers WHERE quiz_id = $1 AND question = $2 AND team_id = $3`,
		quizID, question, teamID,
	).Scan(&updateID, &timestamp)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return 0, 0, fmt.Errorf("failed to select answer: %w", err)
	}

	return updateID, timestamp, nil
}

// lockTable сериализует писателей таблицы из других соединений до коммита.
func lockTable(ctx context.Context, tx pgx.Tx, table string) error {
	if _, err := tx.Exec(ctx, `LOCK TABLE `+table+` IN SHARE ROW EXCLUSIVE MODE`); err != nil {
		return fmt.Errorf("failed to lock %s: %w", table, err)
	}

	return nil
}

// nextUpdateID выделяет следующий update id таблицы.
func nextUpdateID(ctx context.Context, tx pgx.Tx, table string) (int64, error) {
	var next int64
	if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(update_id), 0) + 1 FROM `+table).Scan(&next); err != nil {
		return 0, fmt.Errorf("failed to allocate update id for %s: %w", table, err)
	}

	return next, nil
}

type conditions struct {
	parts []string
	args  []any
}

// add добавляет условие вида "column op $n".
func (c *conditions) add(cond string, arg any) {
	c.args = append(c.args, arg)
	c.parts = append(c.parts, cond+"$"+strconv.Itoa(len(c.args)))
}

func (c *conditions) String() string {
	if len(c.parts) == 0 {
		return ""
	}

	return "WHERE " + strings.Join(c.parts, " AND ")
}
