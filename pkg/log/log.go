// Copyright 2026 The dirtypipe Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package log is the dirtypipe logging library.
//
// Messages go through a package-level BasicLogger to an Emitter; the default
// emitter formats them with logrus on stderr. Demonstration output, such as
// the page dumps, is not logging and never goes through here.
//
// Debug messages inside loops should be guarded or rate limited:
//
//	if log.IsLogging(log.Debug) {
//		log.Debugf(...)
//	}
package log

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Level is the log level.
type Level uint32

// Levels, from least to most verbose.
const (
	// Warning indicates that output should always be emitted.
	Warning Level = iota

	// Info indicates that output should normally be emitted.
	Info

	// Debug indicates that output should not normally be emitted.
	Debug
)

func (l Level) String() string {
	switch l {
	case Warning:
		return "Warning"
	case Info:
		return "Info"
	case Debug:
		return "Debug"
	default:
		return fmt.Sprintf("Invalid level: %d", l)
	}
}

// Emitter is the final destination for logs.
type Emitter interface {
	// Emit emits the given log statement. This allows for control over the
	// timestamp used for logging. depth is the number of frames between the
	// caller of the public logging function and Emit.
	Emit(depth int, level Level, timestamp time.Time, format string, v ...any)
}

// Writer writes the output to the given writer.
//
// Write failures are counted rather than propagated, and the next successful
// write is preceded by a notice with the number of dropped messages.
type Writer struct {
	// Next is where output is written.
	Next io.Writer

	mu      sync.Mutex
	dropped int
}

// Write implements io.Writer.Write. Each call is one log message.
func (w *Writer) Write(data []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	n, err := w.Next.Write(data)
	if err != nil {
		w.dropped++
		return n, err
	}
	if w.dropped > 0 {
		notice := fmt.Sprintf("\n*** Dropped %d log messages ***\n", w.dropped)
		if _, err := io.WriteString(w.Next, notice); err == nil {
			w.dropped = 0
		}
	}
	return n, nil
}

// Logger is implemented by BasicLogger and by the rate limited loggers, so
// code that logs in loops can take either.
type Logger interface {
	Debugf(format string, v ...any)
	Infof(format string, v ...any)
	Warningf(format string, v ...any)

	// IsLogging returns true iff level is being logged.
	IsLogging(level Level) bool
}

// BasicLogger filters by level and forwards to an Emitter.
type BasicLogger struct {
	Level
	Emitter
}

func (l *BasicLogger) Debugf(format string, v ...any) {
	l.logAtDepth(1, Debug, format, v...)
}

func (l *BasicLogger) Infof(format string, v ...any) {
	l.logAtDepth(1, Info, format, v...)
}

func (l *BasicLogger) Warningf(format string, v ...any) {
	l.logAtDepth(1, Warning, format, v...)
}

// logAtDepth emits at level if enabled. depth counts the frames above the
// caller of logAtDepth that belong to this package.
func (l *BasicLogger) logAtDepth(depth int, level Level, format string, v ...any) {
	if l.IsLogging(level) {
		l.Emit(depth+1, level, time.Now(), format, v...)
	}
}

// IsLogging implements Logger.IsLogging.
func (l *BasicLogger) IsLogging(level Level) bool {
	return Level(atomic.LoadUint32((*uint32)(&l.Level))) >= level
}

// SetLevel sets the logging level.
func (l *BasicLogger) SetLevel(level Level) {
	atomic.StoreUint32((*uint32)(&l.Level), uint32(level))
}

// log is the global logger. SetTarget replaces it, SetLevel changes it in
// place.
var log atomic.Pointer[BasicLogger]

// Log returns the global logger.
func Log() *BasicLogger {
	return log.Load()
}

// SetTarget sends the global logger's output to target, keeping its level.
// Loggers derived from Log() earlier keep the old target, so this should be
// called once at startup.
func SetTarget(target Emitter) {
	log.Store(&BasicLogger{Level: Level(atomic.LoadUint32((*uint32)(&Log().Level))), Emitter: target})
}

// SetLevel sets the global log level.
func SetLevel(level Level) {
	Log().SetLevel(level)
}

// Debugf logs to the global logger.
func Debugf(format string, v ...any) {
	Log().logAtDepth(1, Debug, format, v...)
}

// Infof logs to the global logger.
func Infof(format string, v ...any) {
	Log().logAtDepth(1, Info, format, v...)
}

// Warningf logs to the global logger.
func Warningf(format string, v ...any) {
	Log().logAtDepth(1, Warning, format, v...)
}

// IsLogging returns whether the global logger logs level.
func IsLogging(level Level) bool {
	return Log().IsLogging(level)
}

func init() {
	log.Store(&BasicLogger{Level: Info, Emitter: NewLogrusEmitter(TextFormat, &Writer{Next: os.Stderr})})
}
