package utils

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

var Logger *logrus.Logger

const logTimestampFormat = "2006-01-02T15:04:05.000Z07:00"

// InitLogger initializes the global logger.
// output is one of "stdout", "stderr" or "file"; scan results are written to
// stdout, so the CLI defaults to stderr.
func InitLogger(level, format, output, file string) error {
	logger := logrus.New()

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	logger.SetLevel(logLevel)

	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: logTimestampFormat})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: logTimestampFormat,
		})
	}

	var w io.Writer
	switch output {
	case "file":
		if file == "" {
			w = os.Stderr
			break
		}
		f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return err
		}
		w = f
	case "stdout":
		w = os.Stdout
	default:
		w = os.Stderr
	}
	logger.SetOutput(w)

	Logger = logger
	return nil
}

// GetLogger returns the global logger instance
func GetLogger() *logrus.Logger {
	if Logger == nil {
		InitLogger("info", "text", "stderr", "")
	}
	return Logger
}

// ComponentLogger returns an entry tagged with the component name.
func ComponentLogger(component string) *logrus.Entry {
	return GetLogger().WithField("component", component)
}
