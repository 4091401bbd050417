package kafka

import (
	"github.com/hugolhafner/extoffset/logger"
	"github.com/twmb/franz-go/pkg/kgo"
)

var _ kgo.Logger = kgoLogger{}

var toKgoLevel = map[logger.LogLevel]kgo.LogLevel{
	logger.DebugLevel: kgo.LogLevelDebug,
	logger.InfoLevel:  kgo.LogLevelInfo,
	logger.WarnLevel:  kgo.LogLevelWarn,
	logger.ErrorLevel: kgo.LogLevelError,
}

var fromKgoLevel = map[kgo.LogLevel]logger.LogLevel{
	kgo.LogLevelDebug: logger.DebugLevel,
	kgo.LogLevelInfo:  logger.InfoLevel,
	kgo.LogLevelWarn:  logger.WarnLevel,
	kgo.LogLevelError: logger.ErrorLevel,
}

// kgoLogger forwards franz-go client logs to the logger facade. franz-go
// already passes alternating key/value pairs.
type kgoLogger struct {
	l logger.Logger
}

func newKgoLogger(l logger.Logger) kgoLogger {
	return kgoLogger{l: l.With("component", "kgo")}
}

func (kl kgoLogger) Level() kgo.LogLevel {
	if level, ok := toKgoLevel[kl.l.Level()]; ok {
		return level
	}
	return kgo.LogLevelWarn
}

func (kl kgoLogger) Log(level kgo.LogLevel, msg string, keyvals ...any) {
	mapped, ok := fromKgoLevel[level]
	if !ok {
		return
	}
	kl.l.Log(mapped, msg, keyvals...)
}
