// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package logging configures the process-wide slog logger.
package logging

import (
	"io"
	"log"
	"log/slog"
	"strings"
)

// Level backs the default handler so the level can change on config reload.
var Level slog.LevelVar

// Setup installs a slog default logger writing to w in the given format
// (json or text; anything else is text) and routes the standard library
// log package through it.
func Setup(level, format string, w io.Writer) *slog.Logger {
	Level.Set(ParseLevel(level))

	opts := &slog.HandlerOptions{Level: &Level}
	var handler slog.Handler
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	log.SetOutput(&slogWriter{logger: logger})
	log.SetFlags(0)
	return logger
}

// SetLevel changes the level of the logger installed by Setup.
func SetLevel(level string) {
	Level.Set(ParseLevel(level))
}

// ParseLevel converts a level name to slog.Level. Defaults to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type slogWriter struct {
	logger *slog.Logger
}

func (w *slogWriter) Write(p []byte) (int, error) {
	w.logger.Info(strings.TrimRight(string(p), "\n"), "source", "stdlib")
	return len(p), nil
}
