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

// Package yqlagent 实现环境中的 YQL Agent 组件：准备配置、启动进程、等待就绪、写入初始数据与停止。
package yqlagent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	agentconfig "github.com/yqlenv/yqlenv/agent/config"
	"github.com/yqlenv/yqlenv/internal/cypress"
	"github.com/yqlenv/yqlenv/internal/environment"
	"github.com/yqlenv/yqlenv/internal/logger"
	"github.com/yqlenv/yqlenv/internal/process"
	"github.com/yqlenv/yqlenv/internal/registry"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// 存储中的固定路径
const (
	RootPath      = "//sys/yql_agent"
	ConfigPath    = "//sys/yql_agent/config"
	InstancesPath = "//sys/yql_agent/instances"
)

// 默认参数
const (
	DefaultStartTimeout      = 60 * time.Second
	DefaultStopTimeout       = 10 * time.Second
	DefaultHeartbeatInterval = time.Second
	DefaultUpdatePeriod      = 500 * time.Millisecond
	DefaultHost              = "localhost"

	configFileName = "config.yaml"
	logFileName    = "yql-agent.log"
	logTailLines   = 30
)

var (
	ErrInvalidCount   = errors.New("yqlagent: count must be at least 1")
	ErrEmptyPath      = errors.New("yqlagent: agent path is empty")
	ErrNotPrepared    = errors.New("yqlagent: component is not prepared")
	ErrStoreNotShared = errors.New("yqlagent: store backend is not shared between processes")
	ErrInstanceExited = errors.New("yqlagent: instance exited")
)

// Config 组件配置
type Config struct {
	Count                 int
	Path                  string
	ArtifactsPath         string
	NativeClientSupported bool
}

type options struct {
	startTimeout      time.Duration
	stopTimeout       time.Duration
	heartbeatInterval time.Duration
	updatePeriod      time.Duration
	host              string
	environment       map[string]string
	logLevel          string
}

// Option 组件选项
type Option func(*options)

// WithStartTimeout 设置 Wait 的超时，非正值保留默认
func WithStartTimeout(timeout time.Duration) Option {
	return func(o *options) {
		if timeout > 0 {
			o.startTimeout = timeout
		}
	}
}

// WithStopTimeout 设置 SIGTERM 之后等待进程退出的时间
func WithStopTimeout(timeout time.Duration) Option {
	return func(o *options) {
		if timeout > 0 {
			o.stopTimeout = timeout
		}
	}
}

// WithHeartbeatInterval 设置 Agent 心跳间隔
func WithHeartbeatInterval(interval time.Duration) Option {
	return func(o *options) {
		if interval > 0 {
			o.heartbeatInterval = interval
		}
	}
}

// WithUpdatePeriod 设置 Agent 拉取动态配置的间隔
func WithUpdatePeriod(period time.Duration) Option {
	return func(o *options) {
		if period > 0 {
			o.updatePeriod = period
		}
	}
}

// WithHost 设置 Agent 监听的主机名
func WithHost(host string) Option {
	return func(o *options) {
		if host != "" {
			o.host = host
		}
	}
}

// WithProcessEnv 为 Agent 进程追加环境变量
func WithProcessEnv(env map[string]string) Option {
	return func(o *options) {
		if o.environment == nil {
			o.environment = make(map[string]string, len(env))
		}
		for k, v := range env {
			o.environment[k] = v
		}
	}
}

// WithLogLevel 设置 Agent 日志级别
func WithLogLevel(level string) Option {
	return func(o *options) {
		if level != "" {
			o.logLevel = level
		}
	}
}

// instance 单个 Agent 实例
type instance struct {
	name              string
	dir               string
	configFile        string
	logFile           string
	rpcAddress        string
	monitoringAddress string
}

// YqlAgent YQL Agent 组件
type YqlAgent struct {
	opts   options
	logger *zap.Logger

	mu          sync.Mutex
	cfg         Config
	client      cypress.Store
	ownedClient *cypress.Client
	instances   []instance
	processes   *process.ProcessManager
	httpClient  *http.Client
}

var _ environment.Lifecycle[Config] = (*YqlAgent)(nil)

// New 创建组件
func New(opts ...Option) *YqlAgent {
	o := options{
		startTimeout:      DefaultStartTimeout,
		stopTimeout:       DefaultStopTimeout,
		heartbeatInterval: DefaultHeartbeatInterval,
		updatePeriod:      DefaultUpdatePeriod,
		host:              DefaultHost,
		logLevel:          "info",
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &YqlAgent{
		opts:       o,
		logger:     logger.Named("yql_agent"),
		httpClient: &http.Client{Timeout: 2 * time.Second},
	}
}

// Prepare 校验配置，分配端口并为每个实例写入配置文件
func (y *YqlAgent) Prepare(env *environment.Environment, cfg Config) error {
	if cfg.Count < 1 {
		return fmt.Errorf("%w, got %d", ErrInvalidCount, cfg.Count)
	}
	if cfg.Path == "" {
		return ErrEmptyPath
	}
	storeConfig := env.StoreConfig()
	if !storeConfig.Shared() {
		return fmt.Errorf("%w: %s", ErrStoreNotShared, storeConfig.Backend)
	}

	y.mu.Lock()
	defer y.mu.Unlock()

	if env.Logger() != nil {
		y.logger = env.Logger().Named("yql_agent")
	}

	var owned *cypress.Client
	client := env.Client()
	if !cfg.NativeClientSupported {
		var err error
		owned, err = cypress.Open(context.Background(), storeConfig, y.logger.Named("cypress"))
		if err != nil {
			return fmt.Errorf("yqlagent: open store client: %w", err)
		}
		client = owned
	}
	// 准备失败时关闭刚打开的客户端
	fail := func(err error) error {
		if owned != nil {
			err = multierr.Append(err, owned.Close())
		}
		return err
	}

	ports, err := env.AllocatePorts(2 * cfg.Count)
	if err != nil {
		return fail(err)
	}

	instances := make([]instance, 0, cfg.Count)
	for i := 0; i < cfg.Count; i++ {
		inst, err := y.writeInstanceConfig(env, cfg, storeConfig, i, ports[2*i], ports[2*i+1])
		if err != nil {
			return fail(err)
		}
		instances = append(instances, inst)
	}

	if y.ownedClient != nil {
		_ = y.ownedClient.Close()
	}
	y.ownedClient = owned
	y.cfg = cfg
	y.client = client
	y.instances = instances
	y.logger.Info("yql agents prepared", zap.Int("count", cfg.Count), zap.String("path", cfg.Path))
	return nil
}

func (y *YqlAgent) writeInstanceConfig(env *environment.Environment, cfg Config, storeConfig cypress.Config, index, rpcPort, monitoringPort int) (instance, error) {
	name := fmt.Sprintf("yql_agent-%d", index)
	dir := filepath.Join(env.Path(), name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return instance{}, fmt.Errorf("yqlagent: create instance dir: %w", err)
	}

	agentCfg := &agentconfig.Config{
		Instance: agentconfig.InstanceConfig{
			Index:          index,
			Host:           y.opts.host,
			RPCPort:        rpcPort,
			MonitoringPort: monitoringPort,
		},
		Store: storeConfig,
		Paths: agentconfig.PathsConfig{
			ConfigDocument: ConfigPath,
			Instances:      InstancesPath,
		},
		ArtifactsPath:         cfg.ArtifactsPath,
		NativeClientSupported: cfg.NativeClientSupported,
		DynamicConfig:         agentconfig.DynamicConfigConfig{UpdatePeriod: y.opts.updatePeriod},
		Heartbeat:             agentconfig.HeartbeatConfig{Interval: y.opts.heartbeatInterval},
		ShutdownTimeout:       y.opts.stopTimeout / 2,
		Log: logger.Config{
			Level:  y.opts.logLevel,
			Format: logger.FormatConsole,
			Output: logger.OutputStderr,
		},
	}
	if err := agentCfg.Validate(); err != nil {
		return instance{}, fmt.Errorf("yqlagent: instance %d: %w", index, err)
	}
	data, err := agentCfg.ToYAML()
	if err != nil {
		return instance{}, err
	}

	configFile := filepath.Join(dir, configFileName)
	if err := os.WriteFile(configFile, data, 0644); err != nil {
		return instance{}, fmt.Errorf("yqlagent: write config: %w", err)
	}

	return instance{
		name:              name,
		dir:               dir,
		configFile:        configFile,
		logFile:           filepath.Join(dir, logFileName),
		rpcAddress:        agentCfg.Instance.RPCAddress(),
		monitoringAddress: agentCfg.Instance.MonitoringAddress(),
	}, nil
}

// Run 为每个实例启动一个进程
func (y *YqlAgent) Run(ctx context.Context) error {
	y.mu.Lock()
	defer y.mu.Unlock()
	if y.instances == nil {
		return ErrNotPrepared
	}

	if y.processes == nil {
		y.processes = process.NewProcessManager(y.logger.Named("process"))
		y.processes.SetGracefulTimeout(y.opts.stopTimeout)
		y.processes.SetEventHandler(func(name string, event process.ProcessEvent, info *process.ProcessInfo) {
			if event == process.EventCrashed {
				y.logger.Warn("yql agent crashed", zap.String("instance", name), zap.Int("exit_code", info.ExitCode))
			}
		})
	}

	for _, inst := range y.instances {
		err := y.processes.StartProcess(ctx, inst.name, &process.StartParams{
			Path:        y.cfg.Path,
			Args:        []string{"--config", inst.configFile},
			Dir:         inst.dir,
			Environment: y.opts.environment,
			LogFile:     inst.logFile,
		})
		if err != nil {
			return fmt.Errorf("yqlagent: start %s: %w", inst.name, err)
		}
	}
	return nil
}

// Wait 等待所有实例存活、完成注册并通过健康检查
func (y *YqlAgent) Wait(ctx context.Context) error {
	y.mu.Lock()
	instances := y.instances
	processes := y.processes
	client := y.client
	y.mu.Unlock()

	if instances == nil || processes == nil {
		return ErrNotPrepared
	}

	aliveTimeout := 5 * y.opts.heartbeatInterval
	return environment.Wait(ctx, func(ctx context.Context) error {
		for _, inst := range instances {
			if err := y.checkProcess(ctx, processes, inst); err != nil {
				return err
			}
		}

		alive, err := registry.ListAlive(ctx, client, InstancesPath, aliveTimeout)
		if err != nil {
			return err
		}
		registered := make(map[string]bool, len(alive))
		for _, info := range alive {
			registered[info.Address] = true
		}
		for _, inst := range instances {
			if !registered[inst.rpcAddress] {
				return fmt.Errorf("yqlagent: %s (%s) is not registered", inst.name, inst.rpcAddress)
			}
		}

		for _, inst := range instances {
			if err := y.checkHealth(ctx, inst); err != nil {
				return err
			}
		}
		return nil
	}, environment.WaitOptions{Timeout: y.opts.startTimeout})
}

func (y *YqlAgent) checkProcess(ctx context.Context, processes *process.ProcessManager, inst instance) error {
	info, err := processes.GetStatus(ctx, inst.name)
	if err != nil {
		return environment.Abort(err)
	}
	switch info.Status {
	case process.StatusRunning:
		return nil
	case process.StatusStarting:
		return fmt.Errorf("yqlagent: %s is starting", inst.name)
	default:
		return environment.Abort(fmt.Errorf("%w: %s status=%s exit_code=%d\n%s",
			ErrInstanceExited, inst.name, info.Status, info.ExitCode, process.ReadLogTail(inst.logFile, logTailLines)))
	}
}

func (y *YqlAgent) checkHealth(ctx context.Context, inst instance) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+inst.monitoringAddress+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := y.httpClient.Do(req)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("yqlagent: %s healthz returned %d", inst.name, resp.StatusCode)
	}
	return nil
}

// Init 确保动态配置文档存在
func (y *YqlAgent) Init(ctx context.Context) error {
	y.mu.Lock()
	client := y.client
	y.mu.Unlock()
	if client == nil {
		return ErrNotPrepared
	}

	if err := client.Create(ctx, cypress.NodeTypeMap, RootPath, cypress.CreateOptions{Recursive: true, IgnoreExisting: true}); err != nil {
		return err
	}
	return client.Create(ctx, cypress.NodeTypeDocument, ConfigPath, cypress.CreateOptions{
		IgnoreExisting: true,
		Value:          map[string]any{},
	})
}

// Stop 停止全部进程并关闭自有的存储客户端，可重复调用
func (y *YqlAgent) Stop(ctx context.Context) error {
	y.mu.Lock()
	defer y.mu.Unlock()

	var errs error
	if y.processes != nil {
		errs = multierr.Append(errs, y.processes.StopAll(ctx))
		for _, inst := range y.instances {
			y.processes.RemoveProcess(inst.name)
		}
	}
	if y.ownedClient != nil {
		errs = multierr.Append(errs, y.ownedClient.Close())
		y.ownedClient = nil
		y.client = nil
	}
	return errs
}

// Client 返回组件使用的存储客户端
func (y *YqlAgent) Client() cypress.Store {
	y.mu.Lock()
	defer y.mu.Unlock()
	return y.client
}

// Instances 返回各实例的 RPC 地址
func (y *YqlAgent) Instances() []string {
	y.mu.Lock()
	defer y.mu.Unlock()
	addresses := make([]string, 0, len(y.instances))
	for _, inst := range y.instances {
		addresses = append(addresses, inst.rpcAddress)
	}
	return addresses
}
