package logging

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/2beens/fitcoach/pkg"
)

func TestGetLevel(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, GetLevel("debug"))
	assert.Equal(t, logrus.ErrorLevel, GetLevel("ERROR"))
	assert.Equal(t, logrus.InfoLevel, GetLevel("info"))
	assert.Equal(t, logrus.WarnLevel, GetLevel("warning"))
	assert.Equal(t, logrus.TraceLevel, GetLevel("whatever"))
}

func TestOutput(t *testing.T) {
	w := output(LoggerSetupParams{})
	assert.NotNil(t, w)

	logPath := filepath.Join(t.TempDir(), "coach")
	w = output(LoggerSetupParams{LogFileName: logPath})
	fileLogger, ok := w.(*lumberjack.Logger)
	require.True(t, ok)
	assert.Equal(t, logPath+".log", fileLogger.Filename)

	w = output(LoggerSetupParams{LogFileName: logPath + ".log", LogToStdout: true})
	combined, ok := w.(*pkg.CombinedWriter)
	require.True(t, ok)
	assert.Len(t, combined.Writers, 2)
}

func TestSentryHook_Fire(t *testing.T) {
	var captured []*sentry.Event
	hook := NewSentryHook([]logrus.Level{logrus.ErrorLevel})
	hook.capture = func(event *sentry.Event) *sentry.EventID {
		captured = append(captured, event)
		return nil
	}
	assert.Equal(t, []logrus.Level{logrus.ErrorLevel}, hook.Levels())

	entry := &logrus.Entry{
		Level:   logrus.ErrorLevel,
		Message: "record feedback failed",
		Time:    time.Now(),
		Data: logrus.Fields{
			"user_id": "u-1",
			"error":   errors.New("store down"),
		},
	}
	require.NoError(t, hook.Fire(entry))

	require.Len(t, captured, 1)
	assert.Equal(t, sentry.LevelError, captured[0].Level)
	assert.Equal(t, "record feedback failed", captured[0].Message)
	assert.Equal(t, "u-1", captured[0].Extra["user_id"])
	assert.Equal(t, "store down", captured[0].Extra["error"])
}
