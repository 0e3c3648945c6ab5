// Package logger configures the process-wide zerolog logger and hands out
// component sub-loggers.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config controls log output.
type Config struct {
	// Level is one of trace, debug, info, warn, error. Default: info.
	Level string

	// Format is "json" or "console". Default: console.
	Format string

	// Output is "stdout" or "stderr". Default: stderr.
	Output string
}

// DefaultConfig is used when Init is never called.
var DefaultConfig = Config{
	Level:  "info",
	Format: "console",
	Output: "stderr",
}

// Init installs the global logger.
func Init(cfg Config) error {
	if cfg.Level == "" {
		cfg.Level = DefaultConfig.Level
	}
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return fmt.Errorf("invalid log level '%s': %w", cfg.Level, err)
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	var output io.Writer
	switch strings.ToLower(cfg.Output) {
	case "stdout":
		output = os.Stdout
	default:
		output = os.Stderr
	}

	if strings.ToLower(cfg.Format) != "json" {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.Kitchen}
	}

	log.Logger = zerolog.New(output).With().Timestamp().Logger()
	return nil
}

// For returns a sub-logger tagged with the component name.
func For(component string) zerolog.Logger {
	return log.Logger.With().Str("component", component).Logger()
}

// Truncate shortens text for log lines.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
