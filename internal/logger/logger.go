// Package logger configures the process-wide zerolog logger, its rotating
// file output and credential redaction.
package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config selects where log lines go and how they are filtered
type Config struct {
	Level   string    // trace, debug, info, warn or error; empty means info
	Console io.Writer // nil disables console output
	Pretty  bool      // human-readable console lines instead of JSON

	File     string // empty disables file output
	Rotation Rotation

	Redaction      bool
	RedactPatterns []string // extra regular expressions, matched whole
}

// DefaultConfig logs at info to stderr and to nothing else
func DefaultConfig() Config {
	return Config{
		Level:     "info",
		Console:   os.Stderr,
		Pretty:    true,
		Redaction: true,
		Rotation: Rotation{
			MaxSizeMB:  100,
			MaxAgeDays: 7,
			MaxBackups: 5,
			Compress:   true,
		},
	}
}

// Logger is the installed global logger and the file it writes to
type Logger struct {
	base     zerolog.Logger
	file     io.Closer
	redactor *Redactor
}

// New builds a logger from cfg and installs it as log.Logger
func New(cfg Config) (*Logger, error) {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		parsed, err := zerolog.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level = parsed
	}

	l := &Logger{}
	if cfg.Redaction {
		l.redactor = NewRedactor()
		for _, pattern := range cfg.RedactPatterns {
			if err := l.redactor.AddPattern(pattern); err != nil {
				return nil, fmt.Errorf("invalid redaction pattern %q: %w", pattern, err)
			}
		}
	}

	var outputs []io.Writer
	if cfg.Console != nil {
		if cfg.Pretty {
			outputs = append(outputs, zerolog.ConsoleWriter{Out: cfg.Console, TimeFormat: time.RFC3339})
		} else {
			outputs = append(outputs, cfg.Console)
		}
	}
	if cfg.File != "" {
		file, err := OpenFile(cfg.File, cfg.Rotation)
		if err != nil {
			return nil, err
		}
		l.file = file
		outputs = append(outputs, file)
	}

	var out io.Writer = io.Discard
	switch len(outputs) {
	case 0:
	case 1:
		out = outputs[0]
	default:
		out = zerolog.MultiLevelWriter(outputs...)
	}
	if l.redactor != nil {
		out = l.redactor.Wrap(out)
	}

	l.base = zerolog.New(out).Level(level).With().Timestamp().Logger()
	log.Logger = l.base
	return l, nil
}

// Component returns a child logger tagged with component=name
func (l *Logger) Component(name string) zerolog.Logger {
	return l.base.With().Str("component", name).Logger()
}

// Redactor returns the redactor applied to log output, nil when
// redaction is disabled.
func (l *Logger) Redactor() *Redactor {
	return l.redactor
}

// Close closes the log file
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
