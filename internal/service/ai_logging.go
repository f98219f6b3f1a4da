package service

import (
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/postpipe/internal/logging"
)

const maxAILogSnippetRunes = 1024

// logAIExchange logs a truncated AI request or response at debug level.
func logAIExchange(logger *slog.Logger, kind, phase, content string) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		logger.Debug("ai exchange", "kind", kind, "phase", phase, "content", "<empty>")
		return
	}
	logger.Debug("ai exchange",
		"kind", kind,
		"phase", phase,
		"runes", utf8.RuneCountInString(trimmed),
		"content", logging.Truncate(trimmed, maxAILogSnippetRunes),
	)
}
