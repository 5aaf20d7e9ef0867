// Package logger is the process-wide log sink. A node prefixes each
// line with its own address, so one process running many nodes (the
// interactive cluster manager) still produces attributable output.
// Call Init once before anything logs; logging before Init falls back
// to the standard library logger.
package logger

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

type level uint8

const (
	levelNone level = iota
	levelInfo
	levelError
)

func (lv level) tag() string {
	switch lv {
	case levelInfo:
		return "[INFO] "
	case levelError:
		return "[ERROR] "
	}
	return ""
}

// Logger assembles one line per call and fans it out to its sinks.
type Logger struct {
	mu      sync.Mutex
	sinks   []io.Writer
	prefix  string // rendered "[addr] ", empty when unprefixed
	enabled bool
}

// New creates a logger writing to the given sinks.
func New(prefix string, sinks ...io.Writer) *Logger {
	l := &Logger{sinks: sinks, enabled: true}
	if prefix != "" {
		l.prefix = "[" + prefix + "] "
	}
	return l
}

// Attach adds a sink, such as the TUI log buffer.
func (l *Logger) Attach(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sinks = append(l.sinks, w)
}

// Detach removes a previously attached sink.
func (l *Logger) Detach(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kept := l.sinks[:0]
	for _, s := range l.sinks {
		if s != w {
			kept = append(kept, s)
		}
	}
	l.sinks = kept
}

// Enable turns emission on or off.
func (l *Logger) Enable(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = on
}

// emit renders "[prefix] [LEVEL] message\n" and writes the line to
// every sink. Trailing newlines in the message are collapsed so each
// call produces exactly one line.
func (l *Logger) emit(lv level, format string, args []interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.enabled || len(l.sinks) == 0 {
		return
	}

	var b bytes.Buffer
	b.WriteString(l.prefix)
	b.WriteString(lv.tag())
	fmt.Fprintf(&b, format, args...)
	for b.Len() > 0 && b.Bytes()[b.Len()-1] == '\n' {
		b.Truncate(b.Len() - 1)
	}
	b.WriteByte('\n')

	line := b.Bytes()
	for _, s := range l.sinks {
		s.Write(line)
	}
}

var (
	global     *Logger
	initOnce   sync.Once
	buffer     *LogBuffer
	bufferOnce sync.Once
)

var errNotInitialized = errors.New("logger not initialized: call logger.Init() first")

// GetGlobalLogBuffer returns the shared in-memory log ring, creating it
// on first use. The TUI reads from it via a LogBufferWriter sink.
func GetGlobalLogBuffer() *LogBuffer {
	bufferOnce.Do(func() {
		buffer = NewLogBuffer(1000)
	})
	return buffer
}

// Init installs the global logger. Later calls are no-ops.
func Init(prefix string, writeToStdout bool) {
	initOnce.Do(func() {
		if writeToStdout {
			global = New(prefix, os.Stdout)
		} else {
			global = New(prefix)
		}
	})
}

// AddOutput attaches another sink to the global logger.
func AddOutput(w io.Writer) error {
	if global == nil {
		return errNotInitialized
	}
	global.Attach(w)
	return nil
}

// RemoveOutput detaches a sink from the global logger.
func RemoveOutput(w io.Writer) error {
	if global == nil {
		return errNotInitialized
	}
	global.Detach(w)
	return nil
}

// SetEnabled turns global logging on or off.
func SetEnabled(enabled bool) error {
	if global == nil {
		return errNotInitialized
	}
	global.Enable(enabled)
	return nil
}

// dispatch routes a line to the global logger, or to the standard
// library logger before Init.
func dispatch(lv level, format string, args []interface{}) {
	if global != nil {
		global.emit(lv, format, args)
		return
	}
	log.Printf(lv.tag()+format, args...)
}

// Printf logs one formatted line.
func Printf(format string, v ...interface{}) {
	dispatch(levelNone, format, v)
}

// Infof logs an info-level formatted message.
func Infof(format string, v ...interface{}) {
	dispatch(levelInfo, format, v)
}

// Info logs an info-level message.
func Info(v ...interface{}) {
	dispatch(levelInfo, "%s", []interface{}{fmt.Sprint(v...)})
}

// Errorf logs an error-level formatted message.
func Errorf(format string, v ...interface{}) {
	dispatch(levelError, format, v)
}

// Error logs an error-level message.
func Error(v ...interface{}) {
	dispatch(levelError, "%s", []interface{}{fmt.Sprint(v...)})
}
