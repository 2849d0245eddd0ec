package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Options struct {
	Env     string
	Level   string
	Console bool
	Out     io.Writer
}

// New builds the process logger. Console output is human readable; sinks always
// receive JSON lines.
func New(opts Options, sinks ...io.Writer) zerolog.Logger {
	return NewWithWriter(Writer(opts, sinks...), Level(opts))
}

func NewWithWriter(w io.Writer, level zerolog.Level) zerolog.Logger {
	return zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Logger()
}

// Writer returns the primary output for opts, fanned out to sinks.
func Writer(opts Options, sinks ...io.Writer) io.Writer {
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	if opts.Console {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}
	}
	if len(sinks) == 0 {
		return out
	}
	return zerolog.MultiLevelWriter(append([]io.Writer{out}, sinks...)...)
}

func Level(opts Options) zerolog.Level {
	level := zerolog.InfoLevel
	if opts.Env == "development" {
		level = zerolog.DebugLevel
	}
	raw := strings.ToLower(strings.TrimSpace(opts.Level))
	if raw == "" {
		return level
	}
	if parsed, err := zerolog.ParseLevel(raw); err == nil {
		return parsed
	}
	return level
}

// FileSink is an append-only JSON log file.
type FileSink struct {
	f *os.File
}

func OpenFile(path string) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory for %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	return &FileSink{f: f}, nil
}

func (s *FileSink) Write(p []byte) (int, error) {
	return s.f.Write(p)
}

func (s *FileSink) Close() error {
	if s == nil || s.f == nil {
		return nil
	}
	return s.f.Close()
}
