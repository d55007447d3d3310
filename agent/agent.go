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

// Package agent implements the YQL agent daemon: it registers itself in the
// configuration store, follows its dynamic configuration and exposes the
// effective state over orchid gRPC and a monitoring HTTP endpoint.
// agent 包实现 YQL Agent 守护进程：在配置存储中注册自身、跟踪动态配置，
// 并通过 orchid gRPC 与监控 HTTP 接口暴露生效状态。
package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/flowchartsman/retry"
	"github.com/google/uuid"
	"github.com/yqlenv/yqlenv/agent/config"
	"github.com/yqlenv/yqlenv/agent/internal/dynconfig"
	"github.com/yqlenv/yqlenv/agent/internal/monitoring"
	"github.com/yqlenv/yqlenv/internal/cypress"
	"github.com/yqlenv/yqlenv/internal/orchid"
	"github.com/yqlenv/yqlenv/internal/otel_trace"
	"github.com/yqlenv/yqlenv/internal/registry"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Version information, set at build time
// 版本信息，在构建时设置
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Store connection retry parameters
// 存储连接重试参数
const (
	connectMaxTries     = 10
	connectInitialDelay = 100 * time.Millisecond
	connectMaxDelay     = 2 * time.Second
)

// ErrAlreadyRunning 表示 Agent 已在运行
var ErrAlreadyRunning = errors.New("agent is already running")

// Agent represents the YQL agent service that integrates all components
// Agent 表示集成所有组件的 YQL Agent 服务
type Agent struct {
	// config holds the agent configuration
	// config 保存 Agent 配置
	config *config.Config
	logger *zap.Logger

	runID     string
	startTime time.Time

	// ctx is the main context for the agent, cancelled on shutdown
	// ctx 是 Agent 的主上下文，关闭时取消
	ctx    context.Context
	cancel context.CancelFunc

	client        *cypress.Client
	tree          *orchid.Tree
	orchidServer  *orchid.Server
	monitoring    *monitoring.Server
	dynamicConfig *dynconfig.Manager
	registry      *registry.Registry

	// wg tracks running goroutines for graceful shutdown
	// wg 跟踪运行中的 goroutine 以实现优雅关闭
	wg sync.WaitGroup

	// The heartbeat loop is stopped before the instance is unregistered
	// 心跳循环在注销实例之前停止
	registryCancel context.CancelFunc
	registryDone   chan struct{}

	mu      sync.Mutex
	running bool
	started chan struct{}
	done    chan struct{}
}

// NewAgent creates a new Agent instance
// NewAgent 创建新的 Agent 实例
func NewAgent(cfg *config.Config, logger *zap.Logger) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())

	a := &Agent{
		config:  cfg,
		logger:  logger.With(zap.Int("index", cfg.Instance.Index), zap.String("address", cfg.Instance.RPCAddress())),
		runID:   uuid.NewString(),
		ctx:     ctx,
		cancel:  cancel,
		tree:    orchid.NewTree(),
		started: make(chan struct{}),
		done:    make(chan struct{}),
	}
	a.tree.Register("service", a.serviceNode)
	return a
}

// Run starts the agent and blocks until ctx is done or Shutdown is called.
// Run 启动 Agent 并阻塞，直到 ctx 结束或调用 Shutdown。
func (a *Agent) Run(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return ErrAlreadyRunning
	}
	a.running = true
	a.startTime = time.Now().UTC()
	a.mu.Unlock()
	defer close(a.done)

	a.logger.Info("yql agent starting",
		zap.String("version", Version),
		zap.String("run_id", a.runID),
		zap.String("store", a.config.Store.Backend),
	)

	if err := a.start(ctx); err != nil {
		a.shutdown()
		// 启动期间被取消视为正常退出
		if ctx.Err() != nil || a.ctx.Err() != nil {
			a.logger.Info("yql agent start interrupted", zap.Error(err))
			return nil
		}
		return err
	}

	close(a.started)
	a.logger.Info("yql agent started")

	select {
	case <-ctx.Done():
	case <-a.ctx.Done():
	}
	a.shutdown()
	return nil
}

func (a *Agent) start(ctx context.Context) error {
	ctx, span := otel_trace.Start(ctx, "agent.start")
	defer span.End()

	// Step 1: Artifacts directory / 步骤 1：产物目录
	if err := prepareArtifacts(a.config.ArtifactsPath); err != nil {
		return err
	}

	// Step 2: Connect to the store / 步骤 2：连接配置存储
	if err := a.connectStore(ctx); err != nil {
		return err
	}

	// Step 3: Dynamic config manager / 步骤 3：动态配置管理器
	a.dynamicConfig = dynconfig.NewManager(
		a.client,
		a.config.Paths.ConfigDocument,
		dynconfig.DefaultConfig(),
		a.config.DynamicConfig.UpdatePeriod,
		a.logger.Named("dynconfig"),
	)
	a.tree.Register("dynamic_config_manager", a.dynamicConfig.OrchidNode)

	// Step 4: Orchid and monitoring servers / 步骤 4：orchid 与监控服务
	a.orchidServer = orchid.NewServer(orchid.ServerConfig{Address: a.config.Instance.RPCAddress()}, a.tree, a.logger.Named("orchid"))
	if err := a.orchidServer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start orchid server: %w", err)
	}
	a.monitoring = monitoring.NewServer(monitoring.Config{
		Address:     a.config.Instance.MonitoringAddress(),
		ServiceName: a.config.Telemetry.ServiceName,
	}, a.tree, a.logger.Named("monitoring"))
	if err := a.monitoring.Start(ctx); err != nil {
		return fmt.Errorf("failed to start monitoring server: %w", err)
	}

	// Step 5: Background loops / 步骤 5：后台循环
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.dynamicConfig.Run(a.ctx)
	}()

	a.registry = registry.New(a.client, a.config.Paths.Instances, registry.InstanceInfo{
		Address:               a.config.Instance.RPCAddress(),
		RPCAddress:            a.config.Instance.RPCAddress(),
		MonitoringAddress:     a.config.Instance.MonitoringAddress(),
		PID:                   os.Getpid(),
		Version:               Version,
		RunID:                 a.runID,
		StartTime:             a.startTime,
		NativeClientSupported: a.config.NativeClientSupported,
	}, a.config.Heartbeat.Interval, a.logger.Named("registry"))
	if err := a.registry.Register(ctx); err != nil {
		return err
	}
	registryCtx, registryCancel := context.WithCancel(a.ctx)
	a.registryCancel = registryCancel
	a.registryDone = make(chan struct{})
	go func() {
		defer close(a.registryDone)
		a.registry.Run(registryCtx)
	}()

	// 首次拉取配置后才报告就绪
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		select {
		case <-a.dynamicConfig.Ready():
			a.monitoring.SetReady(true)
		case <-a.ctx.Done():
		}
	}()

	return nil
}

// connectStore opens the store client with retry
// connectStore 连接配置存储（带重试）
func (a *Agent) connectStore(ctx context.Context) error {
	retrier := retry.NewRetrier(connectMaxTries, connectInitialDelay, connectMaxDelay)
	err := retrier.RunContext(ctx, func(ctx context.Context) error {
		client, err := cypress.Open(ctx, a.config.Store, a.logger.Named("cypress"))
		if err != nil {
			a.logger.Warn("store connection failed, will retry", zap.Error(err))
			return err
		}
		a.client = client
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to connect to store: %w", err)
	}
	return nil
}

func prepareArtifacts(path string) error {
	if path == "" {
		return nil
	}
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return os.MkdirAll(path, 0755)
	}
	if err != nil {
		return fmt.Errorf("failed to access artifacts path %s: %w", path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("artifacts path %s is not a directory", path)
	}
	return nil
}

func (a *Agent) serviceNode(context.Context) (any, error) {
	a.mu.Lock()
	startTime := a.startTime
	a.mu.Unlock()

	return map[string]any{
		"version":                 Version,
		"git_commit":              GitCommit,
		"pid":                     os.Getpid(),
		"run_id":                  a.runID,
		"index":                   a.config.Instance.Index,
		"start_time":              startTime.Format(time.RFC3339Nano),
		"artifacts_path":          a.config.ArtifactsPath,
		"native_client_supported": a.config.NativeClientSupported,
	}, nil
}

// Started is closed once the agent has fully started.
// Started 在 Agent 完成启动后关闭。
func (a *Agent) Started() <-chan struct{} {
	return a.started
}

// Shutdown asks a running agent to stop and waits until Run returns.
// Shutdown 通知运行中的 Agent 退出，并等待 Run 返回。
func (a *Agent) Shutdown() {
	a.cancel()

	a.mu.Lock()
	running := a.running
	a.mu.Unlock()
	if running {
		<-a.done
	}
}

// shutdown unregisters the instance, stops loops, closes servers and the store
// shutdown 注销实例、停止后台循环、关闭服务与存储连接
func (a *Agent) shutdown() {
	a.logger.Info("shutting down yql agent")

	if a.monitoring != nil {
		a.monitoring.SetReady(false)
	}

	timeout := a.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = config.DefaultShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if a.registryCancel != nil {
		a.registryCancel()
		<-a.registryDone
	}

	var errs error
	if a.registry != nil {
		errs = multierr.Append(errs, a.registry.Unregister(ctx))
	}

	// Cancel main context to stop all goroutines
	// 取消主上下文以停止所有 goroutine
	a.cancel()
	a.wg.Wait()

	if a.orchidServer != nil {
		a.orchidServer.Stop()
	}
	if a.monitoring != nil {
		errs = multierr.Append(errs, a.monitoring.Shutdown(ctx))
	}
	if a.client != nil {
		errs = multierr.Append(errs, a.client.Close())
	}

	if errs != nil {
		a.logger.Warn("yql agent shutdown finished with errors", zap.Error(errs))
		return
	}
	a.logger.Info("yql agent shutdown complete")
}

// Tree 返回 Agent 的 orchid 树
func (a *Agent) Tree() *orchid.Tree {
	return a.tree
}
