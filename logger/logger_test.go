package logger

import (
	"bytes"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit(t *testing.T) {
	require.NoError(t, Init("debug"))
	assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())
	assert.Error(t, Init("loud"))
	require.NoError(t, Init("info"))
}

func TestClockHook(t *testing.T) {
	fixed := time.Date(2024, 6, 1, 12, 30, 0, 0, time.UTC)

	log := logrus.New()
	var buf bytes.Buffer
	log.SetOutput(&buf)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.DateTime, DisableColors: true})
	log.AddHook(&ClockHook{Now: func() time.Time { return fixed }})

	log.Info("hello")
	assert.Contains(t, buf.String(), `time="2024-06-01 12:30:00"`)
}
