package scheduler

import (
	"fmt"

	"github.com/robfig/cron/v3"

	infralogger "github.com/jonesrussell/site-auditor/infrastructure/logger"
)

// cronLogger routes cron's own logging, including recovered job panics,
// through the service logger.
type cronLogger struct {
	log infralogger.Logger
}

var _ cron.Logger = cronLogger{}

func newCronLogger(log infralogger.Logger) cronLogger {
	return cronLogger{log: log}
}

// Info is used by cron for routine scheduling chatter, so it logs at debug.
func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, fields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, append(fields(keysAndValues), infralogger.Error(err))...)
}

func fields(keysAndValues []any) []infralogger.Field {
	out := make([]infralogger.Field, 0, len(keysAndValues)/2+1)
	for i := 0; i < len(keysAndValues); i += 2 {
		key := fmt.Sprint(keysAndValues[i])
		if i+1 == len(keysAndValues) {
			out = append(out, infralogger.Any("extra", keysAndValues[i]))
			break
		}
		out = append(out, infralogger.Any(key, keysAndValues[i+1]))
	}
	return out
}
