package bot

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/letsssgooo/quizhost/internal/client"
	"github.com/letsssgooo/quizhost/internal/domain/models"
	"github.com/letsssgooo/quizhost/internal/events/fetcher"
	"github.com/letsssgooo/quizhost/internal/events/sender"
	"github.com/letsssgooo/quizhost/internal/quiz"
	"github.com/letsssgooo/quizhost/internal/storage"
)

// пауза перед повтором после ошибки getUpdates
const retryDelay = time.Second

// Bot реализует Telegram бота для квизов.
//
// Бот журналирует каждое сообщение, во время регистрации спрашивает
// название команды и регистрирует её, во время вопроса принимает ответы.
type Bot struct {
	fetcher     fetcher.Fetcher
	sender      sender.Sender
	quiz        *quiz.Quiz
	store       storage.Store
	pollTimeout int
	now         func() time.Time

	mu    sync.Mutex
	chats map[int64]*chatState
}

// chatState — состояние диалога с одним чатом в пределах сессии квиза.
type chatState struct {
	session    string
	typingName bool
}

// NewBot создаёт нового бота.
func NewBot(
	fetcher fetcher.Fetcher,
	sender sender.Sender,
	quiz *quiz.Quiz,
	store storage.Store,
	pollTimeout time.Duration,
) *Bot {
	return &Bot{
		fetcher:     fetcher,
		sender:      sender,
		quiz:        quiz,
		store:       store,
		pollTimeout: int(pollTimeout / time.Second),
		now:         time.Now,
		chats:       make(map[int64]*chatState),
	}
}

// Run запускает бота (long polling) и возвращается после отмены ctx.
func (b *Bot) Run(ctx context.Context) error {
	slog.Info("telegram bot started", "poll_timeout", b.pollTimeout)

	for {
		updates, err := b.fetcher.GetUpdates(ctx, b.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("telegram bot stopped")
				return nil
			}

			slog.Error("failed to get updates", "err", err)
			select {
			case <-ctx.Done():
				slog.Info("telegram bot stopped")
				return nil
			case <-time.After(retryDelay):
			}
			continue
		}

		for _, update := range updates {
			if err := b.HandleUpdate(ctx, update); err != nil {
				slog.Error("update caused an error", "update_id", update.UpdateID, "err", err)
			}
		}
	}
}

// HandleUpdate обрабатывает одно обновление.
func (b *Bot) HandleUpdate(ctx context.Context, update client.Update) error {
	msg := update.Message
	if msg == nil {
		slog.Warn("telegram update with no message", "update_id", update.UpdateID)
		return nil
	}

	var chatID int64
	if msg.Chat != nil {
		chatID = msg.Chat.ID
	}

	slog.Info("message", "timestamp", msg.Date, "chat_id", chatID, "text", msg.Text)
	if err := b.store.LogMessage(ctx, models.Message{
		InsertTimestamp: b.now().Unix(),
		Timestamp:       msg.Date,
		UpdateID:        int64(update.UpdateID),
		ChatID:          chatID,
		Text:            msg.Text,
	}); err != nil {
		return err
	}

	if msg.Chat == nil || msg.Text == "" {
		return nil
	}

	status := b.quiz.Status()
	switch {
	case status.QuizID == "":
		return nil
	case status.Registration:
		return b.handleRegistration(ctx, status, msg)
	case status.Question != nil:
		return b.handleAnswer(ctx, status, msg)
	default:
		return nil
	}
}

func (b *Bot) handleRegistration(ctx context.Context, status models.QuizStatus, msg *client.Message) error {
	chatID := msg.Chat.ID
	strs := quiz.StringsFor(status.Language)

	if !b.takeTypingName(chatID, status.SessionID) {
		slog.Info("requesting a team to send their name", "chat_id", chatID, "quiz_id", status.QuizID)
		return b.reply(ctx, chatID, strs.RegistrationInvitation)
	}

	if _, err := b.quiz.RegisterTeam(ctx, chatID, msg.Text, msg.Date); err != nil {
		if errors.Is(err, quiz.ErrInvalidState) || errors.Is(err, quiz.ErrInvalidArgument) {
			slog.Warn("registration message ignored", "chat_id", chatID, "err", err)
			return nil
		}
		return err
	}

	return b.reply(ctx, chatID, quiz.Format(strs.RegistrationConfirmation, map[string]string{
		"team": quiz.NormalizeText(msg.Text, quiz.MaxNameLength),
	}))
}

// takeTypingName возвращает true, если чат уже получил приглашение и
// сейчас присылает название. Иначе переводит чат в это состояние.
func (b *Bot) takeTypingName(chatID int64, session string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, ok := b.chats[chatID]
	if !ok || state.session != session {
		state = &chatState{session: session}
		b.chats[chatID] = state
	}

	if state.typingName {
		state.typingName = false
		return true
	}
	state.typingName = true

	return false
}

func (b *Bot) handleAnswer(ctx context.Context, status models.QuizStatus, msg *client.Message) error {
	chatID := msg.Chat.ID

	if _, err := b.quiz.SubmitAnswer(ctx, chatID, msg.Text, msg.Date); err != nil {
		if errors.Is(err, quiz.ErrUnknownTeam) || errors.Is(err, quiz.ErrInvalidState) {
			slog.Debug("answer ignored", "chat_id", chatID, "err", err)
			return nil
		}
		return err
	}

	strs := quiz.StringsFor(status.Language)

	return b.reply(ctx, chatID, quiz.Format(strs.AnswerConfirmation, map[string]string{
		"question": strconv.Itoa(*status.Question),
		"answer":   quiz.NormalizeText(msg.Text, quiz.MaxAnswerLength),
	}))
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) error {
	_, err := b.sender.Message(ctx, chatID, text)
	return err
}
