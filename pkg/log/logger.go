// Structured logging for the PlasticPilot daemon
//
// Provides leveled logging with structured fields, text and JSON output
// formats, ANSI colors on terminals, optional caller information and
// per-component sub-loggers. Configuration can come from the environment:
//
//	PLASTICPILOT_LOG_LEVEL:  DEBUG, INFO, WARN, ERROR
//	PLASTICPILOT_LOG_FORMAT: text, json
//	PLASTICPILOT_LOG_CALLER: any non-empty value enables caller info
//	NO_COLOR:                any non-empty value disables colors
//
// Copyright (C) 2025 Go port
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package log

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level represents the severity of a log message.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

// String returns the string representation of the level.
func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	}
	return "UNKNOWN"
}

// ParseLevel parses a string into a Level. Unknown strings map to INFO.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	}
	return INFO
}

// Format selects the output encoding of log records.
type Format int

const (
	// FormatText emits human-readable single-line records.
	FormatText Format = iota
	// FormatJSON emits one JSON object per record.
	FormatJSON
)

// Fields holds structured key-value pairs attached to a record.
type Fields map[string]interface{}

// Logger writes leveled, optionally structured log records.
type Logger struct {
	mu         sync.Mutex
	prefix     string
	writer     io.Writer
	level      Level
	format     Format
	timeLayout string
	colorize   bool
	caller     bool
	fields     Fields
}

var levelColors = map[Level]string{
	DEBUG: "\x1b[36m", // cyan
	INFO:  "\x1b[32m", // green
	WARN:  "\x1b[33m", // yellow
	ERROR: "\x1b[31m", // red
}

const colorReset = "\x1b[0m"

// New creates a logger writing text records to stderr at INFO level.
func New(prefix string) *Logger {
	return &Logger{
		prefix:     prefix,
		writer:     os.Stderr,
		level:      INFO,
		format:     FormatText,
		timeLayout: "2006-01-02 15:04:05.000",
		colorize:   os.Getenv("NO_COLOR") == "",
		fields:     make(Fields),
	}
}

// SetLevel sets the minimum level that will be written.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// GetLevel returns the current minimum level.
func (l *Logger) GetLevel() Level {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// SetWriter replaces the output writer.
func (l *Logger) SetWriter(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writer = w
}

// SetFormat selects text or JSON output.
func (l *Logger) SetFormat(f Format) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.format = f
}

// SetColorize enables or disables ANSI colors in text output.
func (l *Logger) SetColorize(enable bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.colorize = enable
}

// SetCaller enables or disables file:line caller info.
func (l *Logger) SetCaller(enable bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.caller = enable
}

// SetTimeLayout sets the timestamp layout used in text output.
func (l *Logger) SetTimeLayout(layout string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.timeLayout = layout
}

// WithPrefix returns a child logger with the same settings but a new
// component prefix. The child shares the parent's writer.
func (l *Logger) WithPrefix(prefix string) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	child := &Logger{
		prefix:     prefix,
		writer:     l.writer,
		level:      l.level,
		format:     l.format,
		timeLayout: l.timeLayout,
		colorize:   l.colorize,
		caller:     l.caller,
		fields:     make(Fields, len(l.fields)),
	}
	for k, v := range l.fields {
		child.fields[k] = v
	}
	return child
}

// WithField returns an Entry carrying one structured field.
func (l *Logger) WithField(key string, value interface{}) *Entry {
	return &Entry{logger: l, fields: Fields{key: value}}
}

// WithFields returns an Entry carrying the given fields.
func (l *Logger) WithFields(fields Fields) *Entry {
	return &Entry{logger: l, fields: fields}
}

// WithError returns an Entry with the error recorded under the "error" key.
func (l *Logger) WithError(err error) *Entry {
	return l.WithField("error", err.Error())
}

// Debug logs at DEBUG level with optional Printf-style arguments.
func (l *Logger) Debug(msg string, args ...interface{}) {
	l.emit(DEBUG, msg, args, nil)
}

// Info logs at INFO level with optional Printf-style arguments.
func (l *Logger) Info(msg string, args ...interface{}) {
	l.emit(INFO, msg, args, nil)
}

// Warn logs at WARN level with optional Printf-style arguments.
func (l *Logger) Warn(msg string, args ...interface{}) {
	l.emit(WARN, msg, args, nil)
}

// Error logs at ERROR level with optional Printf-style arguments.
func (l *Logger) Error(msg string, args ...interface{}) {
	l.emit(ERROR, msg, args, nil)
}

// emit formats and writes one record. Caller depth is fixed: user code ->
// Debug/Info/... -> emit -> render, so the interesting frame is 3 up.
func (l *Logger) emit(level Level, msg string, args []interface{}, extra Fields) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level < l.level {
		return
	}
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}

	merged := extra
	if len(l.fields) > 0 {
		merged = make(Fields, len(l.fields)+len(extra))
		for k, v := range l.fields {
			merged[k] = v
		}
		for k, v := range extra {
			merged[k] = v
		}
	}

	var site string
	if l.caller {
		site = callSite(3)
	}

	var record string
	if l.format == FormatJSON {
		record = l.renderJSON(level, msg, merged, site)
	} else {
		record = l.renderText(level, msg, merged, site)
	}
	fmt.Fprint(l.writer, record)
}

func callSite(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "unknown:0"
	}
	return fmt.Sprintf("%s:%d", filepath.Base(file), line)
}

func (l *Logger) renderText(level Level, msg string, fields Fields, site string) string {
	var sb strings.Builder
	sb.WriteString(time.Now().Format(l.timeLayout))
	sb.WriteString(" [")
	fmt.Fprintf(&sb, "%-5s", level.String())
	sb.WriteString("] ")

	if l.colorize {
		sb.WriteString(levelColors[level])
	}
	sb.WriteString(l.prefix)
	if l.colorize {
		sb.WriteString(colorReset)
	}
	sb.WriteString(": ")
	sb.WriteString(msg)

	if site != "" {
		sb.WriteString(" (")
		sb.WriteString(site)
		sb.WriteString(")")
	}

	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString(" {")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%s=%v", k, fields[k])
		}
		sb.WriteString("}")
	}

	sb.WriteString("\n")
	return sb.String()
}

type jsonRecord struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Logger    string                 `json:"logger"`
	Message   string                 `json:"message"`
	Caller    string                 `json:"caller,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

func (l *Logger) renderJSON(level Level, msg string, fields Fields, site string) string {
	rec := jsonRecord{
		Timestamp: time.Now().Format(time.RFC3339Nano),
		Level:     level.String(),
		Logger:    l.prefix,
		Message:   msg,
		Caller:    site,
	}
	if len(fields) > 0 {
		rec.Fields = fields
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Sprintf(`{"error":"marshal log record: %v"}`+"\n", err)
	}
	return string(data) + "\n"
}

// Entry is a log statement under construction, carrying structured fields.
type Entry struct {
	logger *Logger
	fields Fields
}

// WithField returns a copy of the entry with one more field.
func (e *Entry) WithField(key string, value interface{}) *Entry {
	merged := make(Fields, len(e.fields)+1)
	for k, v := range e.fields {
		merged[k] = v
	}
	merged[key] = value
	return &Entry{logger: e.logger, fields: merged}
}

// WithFields returns a copy of the entry with the given fields added.
func (e *Entry) WithFields(fields Fields) *Entry {
	merged := make(Fields, len(e.fields)+len(fields))
	for k, v := range e.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Entry{logger: e.logger, fields: merged}
}

// WithError adds the error under the "error" key.
func (e *Entry) WithError(err error) *Entry {
	return e.WithField("error", err.Error())
}

// Debug writes the entry at DEBUG level.
func (e *Entry) Debug(msg string) { e.logger.emit(DEBUG, msg, nil, e.fields) }

// Info writes the entry at INFO level.
func (e *Entry) Info(msg string) { e.logger.emit(INFO, msg, nil, e.fields) }

// Warn writes the entry at WARN level.
func (e *Entry) Warn(msg string) { e.logger.emit(WARN, msg, nil, e.fields) }

// Error writes the entry at ERROR level.
func (e *Entry) Error(msg string) { e.logger.emit(ERROR, msg, nil, e.fields) }

// Debugf writes a formatted entry at DEBUG level.
func (e *Entry) Debugf(format string, args ...interface{}) {
	e.logger.emit(DEBUG, format, args, e.fields)
}

// Infof writes a formatted entry at INFO level.
func (e *Entry) Infof(format string, args ...interface{}) {
	e.logger.emit(INFO, format, args, e.fields)
}

// Warnf writes a formatted entry at WARN level.
func (e *Entry) Warnf(format string, args ...interface{}) {
	e.logger.emit(WARN, format, args, e.fields)
}

// Errorf writes a formatted entry at ERROR level.
func (e *Entry) Errorf(format string, args ...interface{}) {
	e.logger.emit(ERROR, format, args, e.fields)
}

var (
	defaultMu     sync.Mutex
	defaultLogger *Logger
)

// SetDefaultLogger replaces the process-wide default logger.
func SetDefaultLogger(logger *Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = logger
}

// GetLogger returns a component sub-logger derived from the default logger.
func GetLogger(prefix string) *Logger {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultLogger == nil {
		defaultLogger = New("pilot")
		configureFromEnv(defaultLogger)
	}
	if prefix == "" {
		return defaultLogger
	}
	return defaultLogger.WithPrefix(prefix)
}

// Debug logs at DEBUG level on the default logger.
func Debug(msg string, args ...interface{}) { GetLogger("").Debug(msg, args...) }

// Info logs at INFO level on the default logger.
func Info(msg string, args ...interface{}) { GetLogger("").Info(msg, args...) }

// Warn logs at WARN level on the default logger.
func Warn(msg string, args ...interface{}) { GetLogger("").Warn(msg, args...) }

// Error logs at ERROR level on the default logger.
func Error(msg string, args ...interface{}) { GetLogger("").Error(msg, args...) }

// ConfigureFromEnv applies PLASTICPILOT_LOG_* and NO_COLOR settings.
func ConfigureFromEnv(l *Logger) {
	configureFromEnv(l)
}

func configureFromEnv(l *Logger) {
	if s := os.Getenv("PLASTICPILOT_LOG_LEVEL"); s != "" {
		l.SetLevel(ParseLevel(s))
	}
	if s := os.Getenv("PLASTICPILOT_LOG_FORMAT"); s != "" {
		switch strings.ToLower(s) {
		case "json":
			l.SetFormat(FormatJSON)
		case "text":
			l.SetFormat(FormatText)
		}
	}
	if os.Getenv("PLASTICPILOT_LOG_CALLER") != "" {
		l.SetCaller(true)
	}
	if os.Getenv("NO_COLOR") != "" {
		l.SetColorize(false)
	}
}

func init() {
	defaultLogger = New("pilot")
	configureFromEnv(defaultLogger)
}
