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

package orchid

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// DefaultMaxMsgSize is the default maximum message size (16MB).
// DefaultMaxMsgSize 是默认的最大消息大小（16MB）。
const DefaultMaxMsgSize = 16 * 1024 * 1024

// Errors for orchid server operations
// orchid 服务器操作的错误定义
var (
	ErrServerNotRunning     = errors.New("orchid: server is not running")
	ErrServerAlreadyRunning = errors.New("orchid: server is already running")
)

// ServerConfig holds configuration for the orchid server.
// ServerConfig 保存 orchid 服务器的配置。
type ServerConfig struct {
	// Address is the listen address, e.g. "localhost:9013".
	// Address 是监听地址，例如 "localhost:9013"。
	Address string

	// MaxMsgSize is the maximum receive and send message size in bytes.
	// MaxMsgSize 是最大收发消息大小（字节）。
	MaxMsgSize int
}

// Server serves an orchid Tree over gRPC.
// Server 通过 gRPC 提供 orchid Tree。
type Server struct {
	config     ServerConfig
	tree       *Tree
	logger     *zap.Logger
	grpcServer *grpc.Server

	mu       sync.Mutex
	running  bool
	listener net.Listener
}

var _ OrchidServer = (*Server)(nil)

// NewServer creates a new orchid server.
// NewServer 创建 orchid 服务器。
func NewServer(config ServerConfig, tree *Tree, logger *zap.Logger) *Server {
	if config.MaxMsgSize <= 0 {
		config.MaxMsgSize = DefaultMaxMsgSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		config: config,
		tree:   tree,
		logger: logger,
	}
	s.grpcServer = grpc.NewServer(s.buildServerOptions()...)
	RegisterOrchidServer(s.grpcServer, s)
	return s
}

// Start listens on the configured address and serves in the background.
// Start 监听配置的地址并在后台提供服务。
func (s *Server) Start(ctx context.Context) error {
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Address, err)
	}
	if err := s.Serve(listener); err != nil {
		_ = listener.Close()
		return err
	}
	return nil
}

// Serve serves on an existing listener in the background.
// Serve 在已有监听器上后台提供服务。
func (s *Server) Serve(listener net.Listener) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrServerAlreadyRunning
	}
	s.running = true
	s.listener = listener

	s.logger.Info("orchid server starting", zap.String("address", listener.Addr().String()))

	// Start serving in a goroutine
	// 在 goroutine 中启动服务
	go func() {
		if err := s.grpcServer.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			s.logger.Error("orchid server error", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the listener address.
// Addr 返回监听地址。
func (s *Server) Addr() (net.Addr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil, ErrServerNotRunning
	}
	return s.listener.Addr(), nil
}

// Stop gracefully stops the server.
// Stop 优雅地停止服务器。
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.grpcServer.GracefulStop()
	s.running = false
	s.logger.Info("orchid server stopped")
}

// Get resolves a path in the tree.
// Get 在 Tree 中解析路径。
func (s *Server) Get(ctx context.Context, path *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	value, err := s.tree.Resolve(ctx, path.GetValue())
	if errors.Is(err, ErrPathNotFound) {
		return nil, status.Error(codes.NotFound, err.Error())
	}
	if err != nil {
		return nil, status.Errorf(codes.Internal, "resolve %q: %v", path.GetValue(), err)
	}

	data, err := json.Marshal(value)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode %q: %v", path.GetValue(), err)
	}
	return wrapperspb.Bytes(data), nil
}

// buildServerOptions builds gRPC server options.
// buildServerOptions 构建 gRPC 服务器选项。
func (s *Server) buildServerOptions() []grpc.ServerOption {
	return []grpc.ServerOption{
		grpc.MaxRecvMsgSize(s.config.MaxMsgSize),
		grpc.MaxSendMsgSize(s.config.MaxMsgSize),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.ChainUnaryInterceptor(
			s.loggingUnaryInterceptor,
			s.recoveryUnaryInterceptor,
		),
	}
}

// loggingUnaryInterceptor logs unary RPC calls.
// loggingUnaryInterceptor 记录一元 RPC 调用。
func (s *Server) loggingUnaryInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()

	peerAddr := "unknown"
	if p, ok := peer.FromContext(ctx); ok {
		peerAddr = p.Addr.String()
	}

	resp, err := handler(ctx, req)

	fields := []zap.Field{
		zap.String("method", info.FullMethod),
		zap.String("peer", peerAddr),
		zap.Duration("duration", time.Since(start)),
	}
	if err != nil && status.Code(err) != codes.NotFound {
		s.logger.Warn("orchid call failed", append(fields, zap.Error(err))...)
	} else {
		s.logger.Debug("orchid call completed", fields...)
	}
	return resp, err
}

// recoveryUnaryInterceptor recovers from panics in unary handlers.
// recoveryUnaryInterceptor 从一元处理器的 panic 中恢复。
func (s *Server) recoveryUnaryInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("orchid handler panic",
				zap.String("method", info.FullMethod),
				zap.Any("panic", r),
			)
			err = status.Errorf(codes.Internal, "internal server error")
		}
	}()

	return handler(ctx, req)
}
