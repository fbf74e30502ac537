package quiz

import (
	"strings"
	"unicode"
)

// Ограничения длины текста от команд
const (
	MaxNameLength   = 100
	MaxAnswerLength = 200
)

// NormalizeText убирает управляющие символы, схлопывает пробелы
// и обрезает текст до maxRunes символов.
func NormalizeText(text string, maxRunes int) string {
	text = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, text)

	runes := []rune(strings.Join(strings.Fields(text), " "))
	if len(runes) > maxRunes {
		runes = runes[:maxRunes]
	}

	return strings.TrimSpace(string(runes))
}
