// Package logging provides structured logging using uber/zap.
//
// This package offers production-ready logging with two modes:
//   - Production: JSON output for machine parsing
//   - Development: Colored console output for human readability
//
// Components take a *Logger and derive a named child with Named, so
// coordinator, hub, and agent lines can be filtered apart.
//
// Example Usage:
//
//	logger := logging.NewDefault()
//	log := logger.Named("coordinator")
//	log.Info("Tab reported camera", zap.String("tab", tabID))
//	log.Warn("Directive send failed", zap.Error(err))
package logging
