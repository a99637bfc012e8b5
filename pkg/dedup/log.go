// Copyright 2021 Intel Corporation. All Rights Reserved.
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

package dedup

import (
	stdlog "log"
	"sync"
	"time"

	goxrate "golang.org/x/time/rate"
)

// Logger is the engine's minimal logging surface, mirroring the
// teacher's memtier.Logger interface.
type Logger interface {
	Debugf(format string, v ...interface{})
	Infof(format string, v ...interface{})
	Warnf(format string, v ...interface{})
	Errorf(format string, v ...interface{})
}

type logger struct {
	*stdlog.Logger
}

const logPrefix = "dedup "

var log Logger = &logger{Logger: nil}
var logDebugMessages bool = false

// SetLogger installs the destination for all engine log output. A nil
// logger (the default) discards everything.
func SetLogger(l *stdlog.Logger) {
	log = NewLoggerWrapper(l)
}

// SetLogDebug toggles Debugf output.
func SetLogDebug(debug bool) {
	logDebugMessages = debug
}

func NewLoggerWrapper(l *stdlog.Logger) Logger {
	return &logger{Logger: l}
}

func (l *logger) Debugf(format string, v ...interface{}) {
	if l.Logger != nil && logDebugMessages {
		l.Logger.Printf("DEBUG: "+logPrefix+format, v...)
	}
}

func (l *logger) Infof(format string, v ...interface{}) {
	if l.Logger != nil {
		l.Logger.Printf("INFO: "+logPrefix+format, v...)
	}
}

func (l *logger) Warnf(format string, v ...interface{}) {
	if l.Logger != nil {
		l.Logger.Printf("WARN: "+logPrefix+format, v...)
	}
}

func (l *logger) Errorf(format string, v ...interface{}) {
	if l.Logger != nil {
		l.Logger.Printf("ERROR: "+logPrefix+format, v...)
	}
}

// rateLimitedLogger wraps a Logger and drops repeated Warnf/Errorf
// calls that share a format string more often than rate allows, so a
// per-descriptor scanner warning can't flood the log once per batch.
// Grounded on pkg/log/ratelimit.go's per-message sliding window, here
// simplified to a per-format-string limiter map since the engine has
// a small, known set of warning sites.
type rateLimitedLogger struct {
	Logger
	mu     sync.Mutex
	limit  goxrate.Limit
	burst  int
	limits map[string]*goxrate.Limiter
}

// RateLimited returns a Logger that suppresses Warnf/Errorf calls
// sharing the same format string faster than one per interval, after
// an initial burst.
func RateLimited(l Logger, interval time.Duration, burst int) Logger {
	if burst < 1 {
		burst = 1
	}
	return &rateLimitedLogger{
		Logger: l,
		limit:  goxrate.Every(interval),
		burst:  burst,
		limits: make(map[string]*goxrate.Limiter),
	}
}

func (r *rateLimitedLogger) allow(format string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	lim, ok := r.limits[format]
	if !ok {
		lim = goxrate.NewLimiter(r.limit, r.burst)
		r.limits[format] = lim
	}
	return lim.Allow()
}

func (r *rateLimitedLogger) Warnf(format string, v ...interface{}) {
	if r.allow(format) {
		r.Logger.Warnf(format, v...)
	}
}

func (r *rateLimitedLogger) Errorf(format string, v ...interface{}) {
	if r.allow(format) {
		r.Logger.Errorf(format, v...)
	}
}
