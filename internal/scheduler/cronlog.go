package scheduler

import "codeberg.org/mutker/sysmetricsd/internal/logger"

// cronLogger routes robfig/cron's own logging into ours. Its routine
// messages (wake, run, schedule) go to debug.
type cronLogger struct {
	log logger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
