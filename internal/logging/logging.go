// Package logging adapts zerolog to the es.Logger interface used by every
// orchestrator component.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/getpup/pupsourcing/es"
	"github.com/rs/zerolog"
)

// Config contains logging configuration.
type Config struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// ApplyDefaults applies default values to logging configuration.
func (c *Config) ApplyDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "console"
	}
	if c.Output == "" {
		c.Output = "stderr"
	}
}

// Validate validates logging configuration.
func (c *Config) Validate() error {
	if _, err := zerolog.ParseLevel(c.Level); err != nil || c.Level == "" {
		return fmt.Errorf("log.level must be one of debug, info, warn, error (got: %s)", c.Level)
	}
	switch c.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be one of json, console (got: %s)", c.Format)
	}
	return nil
}

// Logger implements es.Logger on top of zerolog. Key/value pairs passed to
// Debug, Info and Error become structured fields.
type Logger struct {
	zl zerolog.Logger
}

// Compile-time check that Logger implements es.Logger.
var _ es.Logger = (*Logger)(nil)

// New creates a logger from configuration.
func New(cfg Config) *Logger {
	cfg.ApplyDefaults()
	return NewWithWriter(cfg, outputWriter(cfg.Output))
}

// NewWithWriter creates a logger writing to w. The output setting is ignored.
func NewWithWriter(cfg Config, w io.Writer) *Logger {
	cfg.ApplyDefaults()

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	if strings.ToLower(cfg.Format) == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}

	return &Logger{
		zl: zerolog.New(w).Level(level).With().Timestamp().Logger(),
	}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// With returns a logger that adds the given key/value pairs to every entry.
func (l *Logger) With(args ...interface{}) *Logger {
	return &Logger{zl: l.zl.With().Fields(fields(args)).Logger()}
}

// Debug implements es.Logger.
func (l *Logger) Debug(ctx context.Context, msg string, args ...interface{}) {
	l.zl.Debug().Fields(fields(args)).Msg(msg)
}

// Info implements es.Logger.
func (l *Logger) Info(ctx context.Context, msg string, args ...interface{}) {
	l.zl.Info().Fields(fields(args)).Msg(msg)
}

// Error implements es.Logger.
func (l *Logger) Error(ctx context.Context, msg string, args ...interface{}) {
	l.zl.Error().Fields(fields(args)).Msg(msg)
}

// fields turns alternating keys and values into a field map. A trailing key
// without a value is kept under "!BADKEY".
func fields(args []interface{}) map[string]interface{} {
	m := make(map[string]interface{}, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		if i+1 == len(args) {
			m["!BADKEY"] = args[i]
			break
		}
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		value := args[i+1]
		if err, ok := value.(error); ok {
			value = err.Error()
		}
		m[key] = value
	}
	return m
}

func outputWriter(output string) io.Writer {
	switch output {
	case "stdout":
		return os.Stdout
	default:
		return os.Stderr
	}
}
