// Package logging builds the zerolog loggers used across birdseed.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"

	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"
	zpkgerrors "github.com/rs/zerolog/pkgerrors"
)

var (
	mu      sync.RWMutex
	current = zerolog.Nop()
)

func init() {
	zerolog.ErrorStackMarshaler = func(err error) interface{} {
		type stackTracer interface{ StackTrace() pkgerrors.StackTrace }
		if _, ok := err.(stackTracer); !ok {
			err = pkgerrors.WithStack(err)
		}
		return zpkgerrors.MarshalStack(err)
	}
}

// New returns a JSON-line logger tagged with the service name.
func New(service, level string) zerolog.Logger {
	return NewWriter(os.Stdout, service, level)
}

// NewWriter is New with an explicit destination.
func NewWriter(w io.Writer, service, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(lvl).With().
		Str("service", service).
		Timestamp().
		Logger()
}

// SetDefault installs l as the logger behind the package-level helpers.
func SetDefault(l zerolog.Logger) {
	mu.Lock()
	current = l
	mu.Unlock()
}

// Default returns the logger behind the package-level helpers.
func Default() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

func Log(level zerolog.Level, msg string, fields map[string]any) {
	l := Default()
	l.WithLevel(level).Fields(fields).Msg(msg)
}

func Info(msg string, fields map[string]any)  { Log(zerolog.InfoLevel, msg, fields) }
func Warn(msg string, fields map[string]any)  { Log(zerolog.WarnLevel, msg, fields) }
func Error(msg string, fields map[string]any) { Log(zerolog.ErrorLevel, msg, fields) }
