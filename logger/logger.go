// Package logger configures the process-wide logrus logger.
package logger

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// Init sets the log level and a text format with full timestamps.
func Init(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	logrus.SetOutput(os.Stderr)
	logrus.SetLevel(lvl)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.DateTime,
	})
	return nil
}

// ClockHook stamps log entries with a corrected clock instead of the raw
// system time, so that logs from a box whose RTC drifted line up with the
// phone's.
type ClockHook struct {
	Now func() time.Time
}

func (h *ClockHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *ClockHook) Fire(entry *logrus.Entry) error {
	entry.Time = h.Now()
	return nil
}

// UseClock installs a ClockHook on the standard logger.
func UseClock(now func() time.Time) {
	logrus.AddHook(&ClockHook{Now: now})
}
