package rtc

import (
	"fmt"

	"github.com/pion/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// loggerFactory routes pion's internal logs through zerolog.
type loggerFactory struct {
	level zerolog.Level
}

// NewLoggerFactory returns a pion logger factory writing at level and above.
func NewLoggerFactory(level zerolog.Level) logging.LoggerFactory {
	return loggerFactory{level: level}
}

func (f loggerFactory) NewLogger(scope string) logging.LeveledLogger {
	l := log.With().Str("module", "pion").Str("scope", scope).Logger().Level(f.level)
	return &leveledLogger{log: l}
}

type leveledLogger struct {
	log zerolog.Logger
}

func (l *leveledLogger) Trace(msg string)                  { l.log.Trace().Msg(msg) }
func (l *leveledLogger) Tracef(format string, args ...any) { l.Trace(fmt.Sprintf(format, args...)) }
func (l *leveledLogger) Debug(msg string)                  { l.log.Debug().Msg(msg) }
func (l *leveledLogger) Debugf(format string, args ...any) { l.Debug(fmt.Sprintf(format, args...)) }
func (l *leveledLogger) Info(msg string)                   { l.log.Info().Msg(msg) }
func (l *leveledLogger) Infof(format string, args ...any)  { l.Info(fmt.Sprintf(format, args...)) }
func (l *leveledLogger) Warn(msg string)                   { l.log.Warn().Msg(msg) }
func (l *leveledLogger) Warnf(format string, args ...any)  { l.Warn(fmt.Sprintf(format, args...)) }
func (l *leveledLogger) Error(msg string)                  { l.log.Error().Msg(msg) }
func (l *leveledLogger) Errorf(format string, args ...any) { l.Error(fmt.Sprintf(format, args...)) }
