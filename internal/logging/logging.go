// Package logging provides the zerolog-based structured logger shared by
// all components. Configure once at startup via Init; obtain component
// loggers with Component.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

// Config controls the global logger.
type Config struct {
	Level  string // trace, debug, info, warn, error (default info)
	Format string // json or console (default json)
	Output io.Writer
}

// Init configures the global logger. Safe to call once at startup.
func Init(cfg Config) {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if strings.EqualFold(cfg.Format, "console") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	logger = zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// InitFromEnv configures the logger from LOG_LEVEL and LOG_FORMAT.
func InitFromEnv() {
	Init(Config{Level: os.Getenv("LOG_LEVEL"), Format: os.Getenv("LOG_FORMAT")})
}

// Component returns a logger tagged with a component name.
func Component(name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}

func Debug() *zerolog.Event { return logger.Debug() }
func Info() *zerolog.Event  { return logger.Info() }
func Warn() *zerolog.Event  { return logger.Warn() }
func Error() *zerolog.Event { return logger.Error() }
