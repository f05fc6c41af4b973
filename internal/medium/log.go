package medium

import (
	"context"
	"log/slog"
	"strings"
	"unicode/utf8"
)

const previewLen = 120

// LogItems logs a transfer event at INFO (source and native names) and at
// DEBUG one line per item: a preview for text natives, the size otherwise.
func LogItems(event, source string, items []Item) {
	names := make([]string, len(items))
	for i, it := range items {
		names[i] = it.Name
	}
	slog.Info(event, "source", source, "formats", names)

	if !slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	for _, it := range items {
		if isTextual(it.Name) && utf8.Valid(it.Data) {
			preview := string(it.Data)
			if len(preview) > previewLen {
				preview = truncate(preview, previewLen) + "…"
			}
			slog.Debug("transfer item", "format", it.Name, "preview", preview)
		} else {
			slog.Debug("transfer item", "format", it.Name, "size_bytes", len(it.Data))
		}
	}
}

func isTextual(name string) bool {
	n := strings.ToLower(name)
	return strings.HasPrefix(n, "text/") || strings.Contains(n, "string") || strings.Contains(n, "text")
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
