// Package diaglog provides the best-effort diagnostic sink used by the
// exporter: every line goes to the console and, optionally, to a log file.
//
// Nothing in here is allowed to fail a caller. Problems writing to the file
// are reported on the console and otherwise ignored.
//
package diaglog

import (
	"fmt"
	"io"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Sink mirrors log lines to a console writer and an optional file.
//
type Sink struct {
	// console is where every line is written to.
	//
	// default: os.Stdout
	//
	console io.Writer

	// filepath is the location of the log file.
	//
	// optional: if empty, lines only go to the console.
	//
	filepath string

	file   *os.File
	logger *zap.Logger
}

// Option is a functional argument used to override defaults of the sink.
//
type Option func(s *Sink)

// WithConsole overrides the default console writer.
//
func WithConsole(w io.Writer) Option {
	return func(s *Sink) {
		s.console = w
	}
}

// WithFile makes the sink also write every line to the file at `path`,
// truncating it if it already exists.
//
func WithFile(path string) Option {
	return func(s *Sink) {
		s.filepath = path
	}
}

// New instantiates a sink, creating the log file if one was configured.
//
func New(opts ...Option) (*Sink, error) {
	s := &Sink{
		console: os.Stdout,
	}

	for _, opt := range opts {
		opt(s)
	}

	encoderConfig := zap.NewDevelopmentEncoderConfig()
	consoleSyncer := zapcore.Lock(zapcore.AddSync(s.console))

	cores := []zapcore.Core{
		zapcore.NewCore(
			zapcore.NewConsoleEncoder(encoderConfig),
			consoleSyncer,
			zapcore.DebugLevel,
		),
	}

	if s.filepath != "" {
		f, err := os.Create(s.filepath)
		if err != nil {
			return nil, fmt.Errorf("create '%s': %w", s.filepath, err)
		}

		s.file = f
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(encoderConfig),
			zapcore.Lock(f),
			zapcore.DebugLevel,
		))
	}

	s.logger = zap.New(
		zapcore.NewTee(cores...),
		zap.ErrorOutput(consoleSyncer),
	)

	return s, nil
}

// Log writes a single line to every destination of the sink.
//
func (s *Sink) Log(text string) {
	s.logger.Info(text)
}

// Logger exposes the sink as a structured logger so that components can
// share the same destinations.
//
func (s *Sink) Logger() logr.Logger {
	return zapr.NewLogger(s.logger)
}

// Flush syncs buffered lines to the log file, if any.
//
func (s *Sink) Flush() error {
	if s.file == nil {
		return nil
	}

	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("sync '%s': %w", s.filepath, err)
	}

	return nil
}

// Close flushes and closes the log file.
//
func (s *Sink) Close() error {
	if s.file == nil {
		return nil
	}

	if err := s.Flush(); err != nil {
		fmt.Fprintf(s.console, "flush log file: %v\n", err)
	}

	if err := s.file.Close(); err != nil {
		return fmt.Errorf("close '%s': %w", s.filepath, err)
	}

	s.file = nil

	return nil
}
