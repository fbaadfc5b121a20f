// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation limits for the optional log file.
const (
	maxLogSizeMB  = 50
	maxLogBackups = 5
	maxLogAgeDays = 28
)

// ParseLevel maps a configured level name to a slog.Level. Unknown names
// yield Info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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

// Output returns the log destination: stdout, plus a rotated file when
// path is set. The closer flushes the file and is never nil.
func Output(path string) (io.Writer, io.Closer) {
	if path == "" {
		return os.Stdout, io.NopCloser(nil)
	}
	file := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxLogSizeMB,
		MaxBackups: maxLogBackups,
		MaxAge:     maxLogAgeDays,
		Compress:   true,
	}
	return io.MultiWriter(os.Stdout, file), file
}

// NewTextHandler returns the text handler used for console and file output.
func NewTextHandler(w io.Writer, level slog.Level) slog.Handler {
	return slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
}
