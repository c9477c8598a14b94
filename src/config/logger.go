package config

import (
	"os"
	"path/filepath"

	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// Logger returns a formatted logrus Entry, with prefix set to "murmur". When
// LogFile is set, every entry is also written to that file.
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)

		if c.LogFile != "" {
			c.addFileHook(c.Path(c.LogFile))
		}
	}
	return c.logger.WithField("prefix", "murmur")
}

// SetLogger replaces the logger, which is otherwise created on first use.
func (c *Config) SetLogger(logger *logrus.Logger) {
	c.logger = logger
}

func (c *Config) addFileHook(path string) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		c.logger.WithError(err).Warn("Cannot create log directory, logging to stderr only")
		return
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		c.logger.WithError(err).Warn("Cannot open log file, logging to stderr only")
		return
	}
	f.Close()

	pathMap := lfshook.PathMap{}
	for _, level := range logrus.AllLevels {
		pathMap[level] = path
	}

	c.logger.Hooks.Add(lfshook.NewHook(
		pathMap,
		&logrus.TextFormatter{},
	))
}

// LogLevel parses a string into a Logrus log level. Unknown names fall back
// to debug.
func LogLevel(l string) logrus.Level {
	level, err := logrus.ParseLevel(l)
	if err != nil {
		return logrus.DebugLevel
	}
	return level
}
