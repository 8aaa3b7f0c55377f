package main

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jrick/logrotate/rotator"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	logRotateThresholdKB = 10 * 1024
	logMaxRolls          = 8
)

// parseLogLevel converts a log level string to zerolog.Level.
func parseLogLevel(level string) zerolog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return zerolog.DebugLevel
	case "INFO":
		return zerolog.InfoLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// initLogger creates a zerolog logger with the specified level and format.
// When logFile is set, output is also written to a size-rotated file; the
// returned closer flushes and closes it.
func initLogger(logLevel, logFormat, logFile string) (zerolog.Logger, io.Closer, error) {
	var output io.Writer = os.Stdout
	if logFormat == "console" {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	var closer io.Closer = nopCloser{}
	if logFile != "" {
		if dir := filepath.Dir(logFile); dir != "" {
			if err := os.MkdirAll(dir, 0700); err != nil {
				return zerolog.Logger{}, nil, errors.Wrap(err, "create log directory")
			}
		}
		r, err := rotator.New(logFile, logRotateThresholdKB, false, logMaxRolls)
		if err != nil {
			return zerolog.Logger{}, nil, errors.Wrap(err, "create log rotator")
		}
		output = zerolog.MultiLevelWriter(output, r)
		closer = r
	}

	logger := zerolog.New(output).Level(parseLogLevel(logLevel)).With().Timestamp().Logger()
	return logger, closer, nil
}
