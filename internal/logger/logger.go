/*
 * Licensed to the Apache Software Foundation (ASF) under one or more
 * contributor license agreements.  See the NOTICE file distributed with
 * this work for additional information regarding copyright ownership.
 * The ASF licenses this file to You under the Apache License, Version 2.0
 * (the "License"); you may not use this file except in compliance with
 * the License.  You may obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package logger 提供基于 zap 的全局日志，支持文件轮转与 OpenTelemetry 上下文
package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// 输出目标
const (
	OutputStdout = "stdout"
	OutputStderr = "stderr"
	OutputFile   = "file"
)

// 编码格式
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// Config 日志配置
type Config struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"`
	Output     string `mapstructure:"output" yaml:"output"`
	FilePath   string `mapstructure:"file_path" yaml:"file_path"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size"`
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

var (
	mu        sync.RWMutex
	base      *zap.Logger
	ctxLogger *otelzap.SugaredLogger
)

func init() {
	l, err := New(Config{Level: "info", Format: FormatConsole, Output: OutputStderr})
	if err != nil {
		l = zap.NewNop()
	}
	setGlobal(l)
}

// New 根据配置创建 zap 日志记录器
func New(cfg Config) (*zap.Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	writer, err := newWriter(cfg)
	if err != nil {
		return nil, err
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	var encoder zapcore.Encoder
	switch cfg.Format {
	case FormatJSON:
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	case FormatConsole, "":
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	default:
		return nil, fmt.Errorf("[Logger] 不支持的日志格式: %s", cfg.Format)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(writer), level)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}

// Init 初始化全局日志记录器
func Init(cfg Config) error {
	l, err := New(cfg)
	if err != nil {
		return err
	}
	setGlobal(l)
	return nil
}

// SetLogger 替换全局日志记录器（测试中使用 zaptest / zap.NewNop）
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	setGlobal(l)
}

func setGlobal(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	base = l
	ctxLogger = otelzap.New(l.WithOptions(zap.AddCallerSkip(1))).Sugar()
}

// L 返回全局 zap 日志记录器
func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// Named 返回带名称的子日志记录器
func Named(name string) *zap.Logger {
	return L().Named(name)
}

// Sync 刷新缓冲区
func Sync() error {
	return L().Sync()
}

func sugared() *otelzap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return ctxLogger
}

// DebugF 输出带上下文的 debug 日志
func DebugF(ctx context.Context, format string, args ...any) {
	sugared().Ctx(ctx).Debugf(format, args...)
}

// InfoF 输出带上下文的 info 日志
func InfoF(ctx context.Context, format string, args ...any) {
	sugared().Ctx(ctx).Infof(format, args...)
}

// WarnF 输出带上下文的 warn 日志
func WarnF(ctx context.Context, format string, args ...any) {
	sugared().Ctx(ctx).Warnf(format, args...)
}

// ErrorF 输出带上下文的 error 日志
func ErrorF(ctx context.Context, format string, args ...any) {
	sugared().Ctx(ctx).Errorf(format, args...)
}

func parseLevel(level string) (zapcore.Level, error) {
	if level == "" {
		return zapcore.InfoLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return l, fmt.Errorf("[Logger] 无效的日志级别: %s", level)
	}
	return l, nil
}

func newWriter(cfg Config) (io.Writer, error) {
	switch cfg.Output {
	case OutputStdout:
		return os.Stdout, nil
	case OutputStderr, "":
		return os.Stderr, nil
	case OutputFile:
		if cfg.FilePath == "" {
			return nil, fmt.Errorf("[Logger] 文件输出需要 file_path")
		}
		return &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSize,
			MaxAge:     cfg.MaxAge,
			MaxBackups: cfg.MaxBackups,
			Compress:   cfg.Compress,
		}, nil
	default:
		return nil, fmt.Errorf("[Logger] 不支持的日志输出: %s", cfg.Output)
	}
}
