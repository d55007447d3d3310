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

// Package environment 提供测试套件共享的环境句柄：工作目录、配置存储客户端与端口分配。
package environment

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/travisjeffery/go-dynaport"
	"github.com/yqlenv/yqlenv/internal/cypress"
	"go.uber.org/zap"
)

// ErrClosed 环境已关闭
var ErrClosed = errors.New("environment: closed")

// Options 环境创建选项
type Options struct {
	// Path 工作目录，为空时创建临时目录
	Path string
	// Store 配置存储，SQLite 路径为空时放在工作目录下
	Store  cypress.Config
	Logger *zap.Logger
}

// Environment 一组组件共享的运行环境
type Environment struct {
	path        string
	storeConfig cypress.Config
	client      *cypress.Client
	logger      *zap.Logger

	mu     sync.Mutex
	closed bool
}

// New 创建工作目录并打开配置存储
func New(ctx context.Context, opts Options) (*Environment, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	path := opts.Path
	if path == "" {
		dir, err := os.MkdirTemp("", "yqlenv-*")
		if err != nil {
			return nil, fmt.Errorf("environment: create work dir: %w", err)
		}
		path = dir
	} else if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("environment: create work dir: %w", err)
	}
	path, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	storeConfig := opts.Store
	if storeConfig.Backend == "" {
		storeConfig.Backend = cypress.BackendSQLite
	}
	if storeConfig.Backend == cypress.BackendSQLite && storeConfig.Database.SQLitePath == "" {
		storeConfig.Database.SQLitePath = filepath.Join(path, "cypress.db")
	}

	client, err := cypress.Open(ctx, storeConfig, logger.Named("cypress"))
	if err != nil {
		return nil, fmt.Errorf("environment: open store: %w", err)
	}

	logger.Info("environment ready",
		zap.String("path", path),
		zap.String("store_backend", storeConfig.Backend))

	return &Environment{
		path:        path,
		storeConfig: storeConfig,
		client:      client,
		logger:      logger,
	}, nil
}

// Path 返回工作目录
func (e *Environment) Path() string {
	return e.path
}

// Client 返回环境共享的存储客户端
func (e *Environment) Client() cypress.Store {
	return e.client
}

// StoreConfig 返回已解析的存储配置，子进程使用它连接同一存储
func (e *Environment) StoreConfig() cypress.Config {
	return e.storeConfig
}

// Logger 返回环境日志
func (e *Environment) Logger() *zap.Logger {
	return e.logger
}

// AllocatePorts 分配 n 个空闲 TCP 端口
func (e *Environment) AllocatePorts(n int) ([]int, error) {
	if n <= 0 {
		return nil, fmt.Errorf("environment: invalid port count %d", n)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	return dynaport.Get(n), nil
}

// Close 关闭存储客户端，工作目录保留用于排查
func (e *Environment) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return e.client.Close()
}
