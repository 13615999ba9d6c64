// Copyright 2023 Kami
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

package reactor

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

var (
	loggerMu sync.RWMutex
	logger   = zap.NewNop()
)

// SetLogger installs the package-wide structured logger. Passing nil
// restores the no-op logger. Every reactor goroutine reads the logger
// through loggerMu, so SetLogger is safe to call concurrently with a
// running Server.
func SetLogger(l *zap.Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if l == nil {
		logger = zap.NewNop()
		return
	}
	logger = l
}

// NewFileLogger builds a zap logger that rotates through lumberjack, for
// embedders who want INFO/DEBUG/ERROR/FATAL routed to a rotated file
// instead of stderr.
func NewFileLogger(path string, debug bool) *zap.Logger {
	level := zap.InfoLevel
	if debug {
		level = zap.DebugLevel
	}
	sink := zapcore.AddSync(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     28,
		Compress:   true,
	})
	encoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	core := zapcore.NewCore(encoder, sink, level)
	return zap.New(core)
}

func currentLogger() *zap.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logger
}

func logInfo(msg string, fields ...zap.Field)  { currentLogger().Info(msg, fields...) }
func logDebug(msg string, fields ...zap.Field) { currentLogger().Debug(msg, fields...) }
func logError(msg string, fields ...zap.Field) { currentLogger().Error(msg, fields...) }

// logFatal logs and terminates the process, matching LOG_FATAL in the
// original: reserved for the fatal-initialization-failure class of errors
// (socket/bind/listen/epoll_create/eventfd, multiplexer ADD/MOD failures,
// a second EventLoop on one thread) and to EventLoop methods called from
// outside the loop's own thread.
func logFatal(msg string, fields ...zap.Field) { currentLogger().Fatal(msg, fields...) }
