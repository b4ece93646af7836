// Package logging builds the tracker's zap loggers and scopes them to runs
// and the resources processed within them.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Service is attached to every production log line.
const Service = "listing-tracker"

// Field keys shared by every component.
const (
	KeyRunID      = "run_id"
	KeyEntity     = "entity"
	KeyResourceID = "resource_id"
	KeyAuditID    = "audit_id"
)

// New builds the process logger: colored console output in development,
// JSON tagged with the service name in production.
func New(development bool) (*zap.Logger, error) {
	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.InitialFields = map[string]any{"service": Service}
	}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

// ForRun scopes logger to one run of an entity.
func ForRun(logger *zap.Logger, runID, entity string) *zap.Logger {
	return logger.With(zap.String(KeyRunID, runID), zap.String(KeyEntity, entity))
}

// ForEntry scopes logger to the audit entry tracking a resource.
func ForEntry(logger *zap.Logger, resourceID, auditID string) *zap.Logger {
	return logger.With(zap.String(KeyResourceID, resourceID), zap.String(KeyAuditID, auditID))
}

// ForResource scopes logger to a resource outside any audit entry.
func ForResource(logger *zap.Logger, resourceID string) *zap.Logger {
	return logger.With(zap.String(KeyResourceID, resourceID))
}
