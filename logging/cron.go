package logging

import (
	"github.com/rs/zerolog"
)

// CronLogger adapts zerolog to cron.Logger.
type CronLogger struct {
	Log zerolog.Logger
}

func (l CronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.Log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l CronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.Log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
