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
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// rateLimitedLogger drops statements over the limit and notes how many were
// dropped on the next statement that gets through.
type rateLimitedLogger struct {
	logger     Logger
	limit      *rate.Limiter
	suppressed atomic.Int64
}

// allow returns the format to log with, or false if the statement is over the
// limit.
func (rl *rateLimitedLogger) allow(format string) (string, bool) {
	if !rl.limit.Allow() {
		rl.suppressed.Add(1)
		return "", false
	}
	if n := rl.suppressed.Swap(0); n > 0 {
		return fmt.Sprintf("%s (%d similar suppressed)", format, n), true
	}
	return format, true
}

func (rl *rateLimitedLogger) Debugf(format string, v ...any) {
	if !rl.logger.IsLogging(Debug) {
		return
	}
	rl.log(Debug, format, v...)
}

func (rl *rateLimitedLogger) Infof(format string, v ...any) {
	rl.log(Info, format, v...)
}

func (rl *rateLimitedLogger) Warningf(format string, v ...any) {
	rl.log(Warning, format, v...)
}

// log forwards an allowed statement. A *BasicLogger is called at a depth
// that skips this wrapper, so the caller field names the real call site.
func (rl *rateLimitedLogger) log(level Level, format string, v ...any) {
	f, ok := rl.allow(format)
	if !ok {
		return
	}
	if bl, ok := rl.logger.(*BasicLogger); ok {
		bl.logAtDepth(2, level, f, v...)
		return
	}
	switch level {
	case Warning:
		rl.logger.Warningf(f, v...)
	case Info:
		rl.logger.Infof(f, v...)
	default:
		rl.logger.Debugf(f, v...)
	}
}

func (rl *rateLimitedLogger) IsLogging(level Level) bool {
	return rl.logger.IsLogging(level)
}

// BasicRateLimitedLogger returns a Logger that logs to the global logger no
// more than once per the provided duration.
func BasicRateLimitedLogger(every time.Duration) Logger {
	return RateLimitedLogger(Log(), every)
}

// RateLimitedLogger returns a Logger that logs to the provided logger no more
// than once per the provided duration.
func RateLimitedLogger(logger Logger, every time.Duration) Logger {
	return &rateLimitedLogger{
		logger: logger,
		limit:  rate.NewLimiter(rate.Every(every), 1),
	}
}
