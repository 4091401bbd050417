// Package zaplogger backs logger.Logger with a zap.Logger.
package zaplogger

import (
	"fmt"
	"time"

	"github.com/hugolhafner/extoffset/logger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var _ logger.Base = (*ZapLogger)(nil)

var toZapLevel = map[logger.LogLevel]zapcore.Level{
	logger.DebugLevel: zapcore.DebugLevel,
	logger.InfoLevel:  zapcore.InfoLevel,
	logger.WarnLevel:  zapcore.WarnLevel,
	logger.ErrorLevel: zapcore.ErrorLevel,
}

type ZapLogger struct {
	l *zap.Logger
}

func New(l *zap.Logger) logger.Logger {
	return logger.WrapLogger(&ZapLogger{l: l})
}

func (z *ZapLogger) Level() logger.LogLevel {
	switch lvl := z.l.Level(); {
	case lvl <= zapcore.DebugLevel:
		return logger.DebugLevel
	case lvl == zapcore.InfoLevel:
		return logger.InfoLevel
	case lvl == zapcore.WarnLevel:
		return logger.WarnLevel
	default:
		return logger.ErrorLevel
	}
}

func (z *ZapLogger) Log(level logger.LogLevel, msg string, kv ...any) {
	zl, ok := toZapLevel[level]
	if !ok {
		zl = zapcore.InfoLevel
	}
	z.l.Log(zl, msg, fields(kv)...)
}

// fields turns alternating keys and values into zap fields. Errors keep their
// error encoding, Stringers such as partitions are logged as text, and a
// value without a key is logged under !BADKEY.
func fields(kv []any) []zap.Field {
	out := make([]zap.Field, 0, (len(kv)+1)/2)
	for i := 0; i < len(kv); i += 2 {
		if i+1 == len(kv) {
			out = append(out, zap.Any("!BADKEY", kv[i]))
			break
		}

		key, ok := kv[i].(string)
		if !ok {
			continue
		}

		switch v := kv[i+1].(type) {
		case error:
			out = append(out, zap.NamedError(key, v))
		case time.Duration, time.Time:
			out = append(out, zap.Any(key, v))
		case fmt.Stringer:
			out = append(out, zap.Stringer(key, v))
		default:
			out = append(out, zap.Any(key, v))
		}
	}
	return out
}
