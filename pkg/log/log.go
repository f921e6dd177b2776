// Package log builds the zerolog logger used by the commands and bridges it
// to logr for the library packages.
package log

import (
	"io"
	"os"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zerologr"
	"github.com/rs/zerolog"
)

// New logs to the console, or as JSON to stderr when running in Kubernetes.
// verbosity is the highest logr V-level that is written.
func New(verbosity int) *zerolog.Logger {
	var output io.Writer
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		output = os.Stderr
	} else {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "2006-01-02T15:04:05.999Z07:00"}
	}
	return newLogger(output, verbosity)
}

func newLogger(output io.Writer, verbosity int) *zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerologr.NameFieldName = "logger"
	zerologr.NameSeparator = "/"
	zerologr.SetMaxV(verbosity)

	logger := zerolog.New(output).Level(zerolog.Level(1 - verbosity)).With().Timestamp().Logger()
	return &logger
}

// Logr wraps l for packages that log through logr.
func Logr(l *zerolog.Logger) logr.Logger {
	return zerologr.New(l)
}
