package obs

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
)

type LogConfig struct {
	Level string
	// File receives a copy of every log line when set.
	File string
	// Out defaults to stdout.
	Out     io.Writer
	Version string
}

// NewLogger builds the process logger: a console writer plus an optional
// append-only log file.
func NewLogger(cfg LogConfig) (zerolog.Logger, io.Closer, error) {
	level := zerolog.DebugLevel
	if cfg.Level != "" {
		l, err := zerolog.ParseLevel(cfg.Level)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("logging.level: %w", err)
		}
		level = l
	}

	out := cfg.Out
	if out == nil {
		out = os.Stdout
	}
	outputs := []io.Writer{zerolog.ConsoleWriter{Out: out}}

	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("open log file: %w", err)
		}
		outputs = append(outputs, f)
		closer = f
	}

	ctx := zerolog.New(zerolog.MultiLevelWriter(outputs...)).Level(level).With().Timestamp()
	if cfg.Version != "" {
		ctx = ctx.Str("version", cfg.Version)
	}
	return ctx.Logger(), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
