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

// Package monitoring 提供 Agent 的监控 HTTP 接口：健康检查与 orchid 只读视图。
package monitoring

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yqlenv/yqlenv/internal/orchid"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

const defaultServiceName = "yql-agent"

// ErrAlreadyRunning 服务器已在运行
var ErrAlreadyRunning = errors.New("monitoring: server is already running")

// Config 监控服务器配置
type Config struct {
	Address     string
	ServiceName string
}

// Server 监控 HTTP 服务器
type Server struct {
	config Config
	tree   *orchid.Tree
	logger *zap.Logger
	engine *gin.Engine
	ready  atomic.Bool

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// NewServer 创建监控服务器，tree 为 orchid 数据来源
func NewServer(config Config, tree *orchid.Tree, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.ServiceName == "" {
		config.ServiceName = defaultServiceName
	}

	s := &Server{config: config, tree: tree, logger: logger}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(otelgin.Middleware(config.ServiceName), s.loggerMiddleware())
	engine.GET("/healthz", s.healthz)
	engine.GET("/orchid/*path", s.orchid)
	s.engine = engine
	return s
}

// Handler 返回 HTTP 处理器
func (s *Server) Handler() http.Handler {
	return s.engine
}

// SetReady 设置就绪状态，就绪前 /healthz 返回 503
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

// Start 监听配置地址并在后台提供服务
func (s *Server) Start(ctx context.Context) error {
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", s.config.Address)
	if err != nil {
		return err
	}
	if err := s.Serve(listener); err != nil {
		_ = listener.Close()
		return err
	}
	return nil
}

// Serve 在给定 listener 上后台提供服务
func (s *Server) Serve(listener net.Listener) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return ErrAlreadyRunning
	}

	s.listener = listener
	s.server = &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	server := s.server
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("monitoring server stopped", zap.Error(err))
		}
	}()

	s.logger.Info("monitoring server started", zap.String("address", listener.Addr().String()))
	return nil
}

// Addr 返回实际监听地址，未启动时为 nil
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown 优雅关闭服务器
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.listener = nil
	s.mu.Unlock()

	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}

func (s *Server) healthz(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) orchid(c *gin.Context) {
	path := strings.Trim(c.Param("path"), "/")
	value, err := s.tree.Resolve(c.Request.Context(), path)
	switch {
	case errors.Is(err, orchid.ErrPathNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error_msg": err.Error(), "data": nil})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error_msg": err.Error(), "data": nil})
	default:
		c.JSON(http.StatusOK, value)
	}
}

func (s *Server) loggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	}
}
