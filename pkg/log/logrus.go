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

package log

import (
	"fmt"
	"io"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Supported output formats for NewLogrusEmitter.
const (
	TextFormat = "text"
	JSONFormat = "json"
)

// LogrusEmitter emits log statements through a logrus logger. The level
// filtering is done by BasicLogger, so the underlying logger accepts
// everything.
type LogrusEmitter struct {
	logger *logrus.Logger
}

// NewLogrusEmitter returns an emitter writing to w in the given format. An
// unknown format falls back to text; use ValidFormat to reject it earlier.
func NewLogrusEmitter(format string, w io.Writer) *LogrusEmitter {
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(logrus.DebugLevel)
	switch format {
	case JSONFormat:
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		l.SetFormatter(&logrus.TextFormatter{
			DisableColors:   true,
			FullTimestamp:   true,
			TimestampFormat: "0102 15:04:05.000000",
		})
	}
	return &LogrusEmitter{logger: l}
}

// ValidFormat returns an error if format is not understood by
// NewLogrusEmitter.
func ValidFormat(format string) error {
	switch format {
	case TextFormat, JSONFormat:
		return nil
	default:
		return fmt.Errorf("invalid log format %q, must be %q or %q", format, TextFormat, JSONFormat)
	}
}

// Emit implements Emitter.Emit.
func (e *LogrusEmitter) Emit(depth int, level Level, timestamp time.Time, format string, v ...any) {
	entry := logrus.NewEntry(e.logger).WithTime(timestamp)
	if _, file, line, ok := runtime.Caller(depth + 1); ok {
		if slash := strings.LastIndexByte(file, byte('/')); slash >= 0 {
			file = file[slash+1:] // Trim any directory path from the file.
		}
		entry = entry.WithField("caller", fmt.Sprintf("%s:%d", file, line))
	}
	msg := fmt.Sprintf(format, v...)
	switch level {
	case Warning:
		entry.Warn(msg)
	case Info:
		entry.Info(msg)
	default:
		entry.Debug(msg)
	}
}
