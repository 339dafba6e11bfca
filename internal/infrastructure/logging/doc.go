// Package logging provides structured logging using uber/zap.
//
// This package offers production-ready logging with two modes:
//   - Production: JSON output for machine parsing
//   - Development: Colored console output for human readability
//
// An optional log file is rotated by size through lumberjack and always
// receives JSON.
//
// Example Usage:
//
//	logger, err := logging.New(logging.DefaultConfig())
//	logger.Session(uuid).Info("stream open", zap.Uint64("generation", gen))
//	logger.Error("Failed to connect", zap.Error(err))
package logging
