// Package logging builds the structured zap logger used across the
// liveshare server, grounded on MarcoPoloResearchLab-gravity's
// internal/logging/logger.go.
package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a zap logger configured for structured production logging
// at the requested level.
func New(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()

	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	case "info", "":
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	case "warn", "warning":
		cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zapcore.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	return cfg.Build()
}

// ForRoom scopes a logger to a room for the lifetime of its session loop.
func ForRoom(base *zap.Logger, roomID string) *zap.Logger {
	return base.With(zap.String("room_id", roomID))
}

// ForSession scopes a logger to a single connection.
func ForSession(base *zap.Logger, userID string) *zap.Logger {
	return base.With(zap.String("user_id", userID))
}
