/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package dispose

import (
	"os"
	"strconv"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const logLevelEnv = "SHMDISPOSE_LOG_LEVEL"

const (
	levelTrace = iota
	levelDebug
	levelInfo
	levelWarn
	levelError
	levelNoPrint
)

var (
	loggerMu sync.RWMutex
	logger   *zap.Logger
	level    = zap.NewAtomicLevelAt(zapcore.WarnLevel)
)

func init() {
	if v := os.Getenv(logLevelEnv); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			SetLogLevel(n)
		}
	}
}

// SetLogLevel changes the level of the package's default logger. The default
// is Warn; the process env SHMDISPOSE_LOG_LEVEL (0 trace .. 5 silent) sets it too.
// It has no effect on a logger installed with SetLogger.
func SetLogLevel(l int) {
	switch {
	case l <= levelDebug:
		// zap has no trace level; trace collapses into debug
		level.SetLevel(zapcore.DebugLevel)
	case l == levelInfo:
		level.SetLevel(zapcore.InfoLevel)
	case l == levelWarn:
		level.SetLevel(zapcore.WarnLevel)
	case l == levelError:
		level.SetLevel(zapcore.ErrorLevel)
	case l >= levelNoPrint:
		level.SetLevel(zapcore.FatalLevel + 1)
	}
}

// Logger returns the package logger, building the default one on first use.
func Logger() *zap.Logger {
	loggerMu.RLock()
	l := logger
	loggerMu.RUnlock()
	if l != nil {
		return l
	}

	loggerMu.Lock()
	defer loggerMu.Unlock()
	if logger == nil {
		cfg := zap.NewProductionConfig()
		cfg.Level = level
		cfg.Sampling = nil
		built, err := cfg.Build()
		if err != nil {
			built = zap.NewNop()
		}
		logger = built.Named("dispose")
	}
	return logger
}

// SetLogger replaces the package logger. A nil logger silences it.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	loggerMu.Lock()
	logger = l
	loggerMu.Unlock()
}
