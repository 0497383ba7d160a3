// Package log builds the zap loggers used across a replica process. Every
// engine and transport component receives a child logger scoped with its
// node_id and engine kind so multi-replica test runs can be told apart in a
// single combined log stream.
package log

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects the logger's encoding and level. JSON is meant for
// production/clustered runs, console for local development.
type Config struct {
	Dev   bool
	Level zapcore.Level
}

// New builds a root *zap.Logger per cfg.
func New(cfg Config) (*zap.Logger, error) {
	if cfg.Dev {
		zc := zap.NewDevelopmentConfig()
		zc.Level = zap.NewAtomicLevelAt(cfg.Level)
		return zc.Build()
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(cfg.Level)
	return zc.Build()
}

// NoOp returns a logger that discards everything, for tests that don't want
// output noise.
func NoOp() *zap.Logger {
	return zap.NewNop()
}

// ForReplica returns a child logger tagged with this replica's identity, the
// way every engine/transport component is expected to obtain its logger.
func ForReplica(base *zap.Logger, nodeID int, engine string) *zap.Logger {
	return base.With(
		zap.Int("node_id", nodeID),
		zap.String("engine", engine),
	)
}
