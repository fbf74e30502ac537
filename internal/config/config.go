package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Драйверы хранилища
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// EnvPrefix — префикс переменных окружения, например QUIZHOST_HTTP_ADDR.
const EnvPrefix = "QUIZHOST"

// Config — настройки сервера квиза.
type Config struct {
	HTTP     HTTPConfig
	Storage  StorageConfig
	Telegram TelegramConfig
	Quiz     QuizConfig
	LogLevel slog.Level
}

type HTTPConfig struct {
	Addr           string
	MaxPollTimeout time.Duration
}

type StorageConfig struct {
	Driver string
	Path   string
	DSN    string
}

// TelegramConfig — настройки бота. Пустой Token отключает бота.
type TelegramConfig struct {
	Token       string
	APIURL      string
	PollTimeout time.Duration
}

// QuizConfig — значения по умолчанию для startQuiz.
type QuizConfig struct {
	Language          string
	NumberOfQuestions int
}

var ErrInvalidConfig = errors.New("invalid config")

// Load читает настройки из аргументов, окружения и необязательного
// YAML файла (--config). Флаги важнее окружения, окружение важнее файла.
func Load(args []string) (*Config, error) {
	fs := pflag.NewFlagSet("quizhost", pflag.ContinueOnError)
	fs.String("config", "", "path to a YAML config file")
	fs.String("http.addr", ":8000", "address of the HTTP API")
	fs.Duration("http.max-poll-timeout", 30*time.Second, "upper bound of getUpdates timeout")
	fs.String("storage.driver", DriverSQLite, "storage backend: sqlite, postgres or memory")
	fs.String("storage.path", "quiz.db", "sqlite database file")
	fs.String("storage.dsn", "", "postgres connection string")
	fs.String("telegram.token", "", "token of telegram bot, empty disables the bot")
	fs.String("telegram.api-url", "", "telegram bot API base URL")
	fs.Duration("telegram.poll-timeout", 30*time.Second, "telegram long polling timeout")
	fs.String("quiz.language", "ru", "default quiz language")
	fs.Int("quiz.questions", 100, "default number of questions")
	fs.String("log.level", "info", "log level: debug, info, warn or error")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg := &Config{
		HTTP: HTTPConfig{
			Addr:           v.GetString("http.addr"),
			MaxPollTimeout: v.GetDuration("http.max-poll-timeout"),
		},
		Storage: StorageConfig{
			Driver: strings.ToLower(v.GetString("storage.driver")),
			Path:   v.GetString("storage.path"),
			DSN:    v.GetString("storage.dsn"),
		},
		Telegram: TelegramConfig{
			Token:       v.GetString("telegram.token"),
			APIURL:      v.GetString("telegram.api-url"),
			PollTimeout: v.GetDuration("telegram.poll-timeout"),
		},
		Quiz: QuizConfig{
			Language:          v.GetString("quiz.language"),
			NumberOfQuestions: v.GetInt("quiz.questions"),
		},
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(v.GetString("log.level"))); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case DriverSQLite:
		if c.Storage.Path == "" {
			return fmt.Errorf("%w: storage.path is required for sqlite", ErrInvalidConfig)
		}
	case DriverPostgres:
		if c.Storage.DSN == "" {
			return fmt.Errorf("%w: storage.dsn is required for postgres", ErrInvalidConfig)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("%w: unknown storage driver %q", ErrInvalidConfig, c.Storage.Driver)
	}

	if c.HTTP.MaxPollTimeout <= 0 {
		return fmt.Errorf("%w: http.max-poll-timeout must be positive", ErrInvalidConfig)
	}
	if c.Quiz.NumberOfQuestions <= 0 {
		return fmt.Errorf("%w: quiz.questions must be positive", ErrInvalidConfig)
	}

	return nil
}
