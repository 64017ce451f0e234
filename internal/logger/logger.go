// Package logger provides leveled logging for the detection daemon.
package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

// Level represents a logging level.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "FATAL"
	}
}

// ParseLevel maps a config string to a Level. Unknown values map to InfoLevel.
func ParseLevel(level string) Level {
	switch strings.ToLower(level) {
	case "debug":
		return DebugLevel
	case "warn":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// Logger writes leveled messages either as plain text lines or as one JSON object per line.
type Logger struct {
	mu     sync.Mutex
	level  Level
	json   bool
	out    io.Writer
	logger *log.Logger
}

func newLogger(level Level, format string, w io.Writer) *Logger {
	l := &Logger{level: level, out: w}
	switch strings.ToLower(format) {
	case "json":
		l.json = true
	case "text":
		l.logger = log.New(w, "", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	default:
		l.logger = log.New(w, "", log.LstdFlags|log.Lmicroseconds)
	}
	return l
}

var defaultLogger = newLogger(InfoLevel, "plain", os.Stderr)

// Init replaces the default logger with the given level and format ("json" or "text").
func Init(level string, format string) {
	defaultLogger = newLogger(ParseLevel(level), format, os.Stderr)
}

// SetOutput redirects the default logger, keeping its level and format. Used by tests.
func SetOutput(w io.Writer) {
	format := "plain"
	if defaultLogger.json {
		format = "json"
	}
	defaultLogger = newLogger(defaultLogger.level, format, w)
}

// Enabled reports whether messages at level l are emitted.
func Enabled(l Level) bool {
	return defaultLogger.level <= l
}

type jsonLine struct {
	Time  string `json:"time"`
	Level string `json:"level"`
	Msg   string `json:"msg"`
}

func (l *Logger) output(level Level, format string, args ...interface{}) {
	if level < l.level {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if !l.json {
		_ = l.logger.Output(3, "["+level.String()+"] "+msg)
		return
	}
	line, err := json.Marshal(jsonLine{
		Time:  time.Now().UTC().Format(time.RFC3339Nano),
		Level: strings.ToLower(level.String()),
		Msg:   msg,
	})
	if err != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.out.Write(append(line, '\n'))
}

func Debug(format string, args ...interface{}) {
	defaultLogger.output(DebugLevel, format, args...)
}

func Info(format string, args ...interface{}) {
	defaultLogger.output(InfoLevel, format, args...)
}

func Warn(format string, args ...interface{}) {
	defaultLogger.output(WarnLevel, format, args...)
}

func Error(format string, args ...interface{}) {
	defaultLogger.output(ErrorLevel, format, args...)
}

// Fatal logs regardless of level and exits the process.
func Fatal(format string, args ...interface{}) {
	defaultLogger.output(ErrorLevel+1, format, args...)
	os.Exit(1)
}
