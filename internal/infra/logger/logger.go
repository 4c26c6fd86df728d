package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

// Options controls where log lines go.
type Options struct {
	Path          string
	Level         Level
	IncludeStdout bool

	// Rotation, in megabytes and number of kept files
	MaxSizeMB  int
	MaxBackups int
}

type Logger struct {
	mu            sync.Mutex
	fileLogger    *log.Logger
	closer        io.Closer
	stdout        io.Writer
	level         Level
	includeStdout bool
}

// New opens a rotating log file at opts.Path.
func New(opts Options) (*Logger, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("log path is required")
	}
	if opts.MaxSizeMB <= 0 {
		opts.MaxSizeMB = 5
	}
	if opts.MaxBackups <= 0 {
		opts.MaxBackups = 3
	}

	// Fail early when the directory is not writable; lumberjack would only
	// report it on the first write
	f, err := os.OpenFile(opts.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	f.Close()

	rotator := &lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
	}

	return &Logger{
		fileLogger:    log.New(rotator, "", 0),
		closer:        rotator,
		stdout:        os.Stdout,
		level:         opts.Level,
		includeStdout: opts.IncludeStdout,
	}, nil
}

// NewWriter logs to w only. Used by tests and by commands that run without a log file.
func NewWriter(w io.Writer, level Level) *Logger {
	return &Logger{
		fileLogger: log.New(w, "", 0),
		level:      level,
	}
}

// NewNop discards everything.
func NewNop() *Logger {
	return NewWriter(io.Discard, LevelFatal+1)
}

func (l *Logger) log(lvl Level, prefix string, format string, v ...interface{}) {
	if lvl < l.level {
		return
	}

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	msg := fmt.Sprintf(format, v...)
	fullMsg := fmt.Sprintf("%s [%s] %s", timestamp, prefix, msg)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.fileLogger.Println(fullMsg)

	// Write to Stdout for CLI if enabled AND level is Info or higher
	// This keeps Debug spam from breaking the progress line
	if l.includeStdout && lvl >= LevelInfo {
		fmt.Fprintf(l.stdout, "\n%s", fullMsg)
	}
}

func ParseLevel(lvl string) Level {
	switch strings.ToLower(lvl) {
	case "debug":
		return LevelDebug
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l *Logger) Debug(f string, v ...any) { l.log(LevelDebug, "DEBUG", f, v...) }
func (l *Logger) Info(f string, v ...any)  { l.log(LevelInfo, "INFO", f, v...) }
func (l *Logger) Warn(f string, v ...any)  { l.log(LevelWarn, "WARN", f, v...) }
func (l *Logger) Error(f string, v ...any) { l.log(LevelError, "ERROR", f, v...) }
func (l *Logger) Fatal(f string, v ...any) { l.log(LevelFatal, "FATAL", f, v...); l.Close(); os.Exit(1) }

func (l *Logger) Write(p []byte) (n int, err error) {
	// Echo and other libraries often include a newline at the end
	msg := strings.TrimSpace(string(p))
	if msg != "" {
		l.Info("%s", msg)
	}
	return len(p), nil
}

// Printf lets the logger stand in for libraries that expect a Printf sink.
// Those lines are library chatter, so they go out at Debug.
func (l *Logger) Printf(f string, v ...any) { l.Debug(f, v...) }

// Close flushes and closes the log file, if any.
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}
