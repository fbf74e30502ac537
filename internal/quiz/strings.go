package quiz

import "strings"

// Strings — тексты, которые бот отправляет командам.
// Плейсхолдеры: {team}, {question}, {answer}, {correctly_answered_questions}, {total_score}.
type Strings struct {
	RegistrationInvitation        string
	RegistrationConfirmation      string
	AnswerConfirmation            string
	SendResultsZeroCorrectAnswers string
	SendResultsCorrectAnswers     string
}

// DefaultLanguage используется, если язык квиза не поддерживается.
const DefaultLanguage = "ru"

var localized = map[string]Strings{
	"ru": {
		RegistrationInvitation:        "Привет! Напишите название вашей команды.",
		RegistrationConfirmation:      "Команда «{team}» зарегистрирована. Удачи!",
		AnswerConfirmation:            "Ответ на вопрос №{question} принят: {answer}",
		SendResultsZeroCorrectAnswers: "У вас нет правильных ответов.",
		SendResultsCorrectAnswers:     "Правильные ответы на вопросы: {correctly_answered_questions}. Всего баллов: {total_score}.",
	},
	"en": {
		RegistrationInvitation:        "Hello! Please send the name of your team.",
		RegistrationConfirmation:      "Team \"{team}\" is registered. Good luck!",
		AnswerConfirmation:            "Answer to question #{question} accepted: {answer}",
		SendResultsZeroCorrectAnswers: "You have no correct answers.",
		SendResultsCorrectAnswers:     "Correct answers: {correctly_answered_questions}. Total score: {total_score}.",
	},
}

// StringsFor возвращает тексты для языка language.
func StringsFor(language string) Strings {
	if s, ok := localized[strings.ToLower(language)]; ok {
		return s
	}

	return localized[DefaultLanguage]
}

// SupportedLanguage сообщает, есть ли тексты для language.
func SupportedLanguage(language string) bool {
	_, ok := localized[strings.ToLower(language)]
	return ok
}

// Format подставляет значения в плейсхолдеры вида {name}.
func Format(template string, values map[string]string) string {
	pairs := make([]string, 0, len(values)*2)
	for k, v := range values {
		pairs = append(pairs, "{"+k+"}", v)
	}

	return strings.NewReplacer(pairs...).Replace(template)
}
