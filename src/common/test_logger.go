package common

import (
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

// testWriter routes log lines through t.Log so they only show up for failed
// or verbose tests.
type testWriter struct {
	t testing.TB
}

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimSuffix(string(p), "\n"))
	return len(p), nil
}

// NewTestLogger returns a logrus Logger that writes through t.Log.
func NewTestLogger(t testing.TB, level logrus.Level) *logrus.Logger {
	logger := logrus.New()
	logger.Out = testWriter{t: t}
	logger.Level = level
	return logger
}

// NewTestEntry returns a debug-level logrus Entry tagged with the test name.
func NewTestEntry(t testing.TB) *logrus.Entry {
	return NewTestLogger(t, logrus.DebugLevel).WithField("test", t.Name())
}
