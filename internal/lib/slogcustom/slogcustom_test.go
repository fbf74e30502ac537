package slogcustom

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

func newLogger(buf *bytes.Buffer, level slog.Level) *slog.Logger {
	color.NoColor = true
	return slog.New(NewCustomHandler(buf, level))
}

func TestHandle(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&buf, slog.LevelInfo)

	log.Info("team registered", "team_id", 5001, "name", "X")

	assert.Regexp(t, `^\d{2}:\d{2}:\d{2}\.\d{3} INFO: team registered team_id=5001 name=X\n$`, buf.String())
}

func TestLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&buf, slog.LevelWarn)

	log.Info("skipped")
	log.Debug("skipped")
	log.Warn("kept")

	assert.Contains(t, buf.String(), "WARN: kept")
	assert.NotContains(t, buf.String(), "skipped")
}

func TestWithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&buf, slog.LevelDebug)

	log.With("component", "bot").WithGroup("update").Debug("received", "id", 7, slog.Group("chat", "id", 42))

	assert.Contains(t, buf.String(), "DEBUG: received component=bot update.id=7 update.chat.id=42")
}
