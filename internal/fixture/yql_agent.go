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

package fixture

import (
	"context"

	"github.com/yqlenv/yqlenv/internal/components/yqlagent"
	"github.com/yqlenv/yqlenv/internal/config"
	"github.com/yqlenv/yqlenv/internal/cypress"
	"github.com/yqlenv/yqlenv/internal/dynconfig"
	"github.com/yqlenv/yqlenv/internal/environment"
	"github.com/yqlenv/yqlenv/internal/logger"
	"github.com/yqlenv/yqlenv/internal/otel_trace"
)

// Component YQL Agent 组件的生命周期约定
type Component = environment.Lifecycle[yqlagent.Config]

// DynamicConfigWaiter 等待动态配置在全部实例上生效
type DynamicConfigWaiter func(ctx context.Context, client cypress.Store, expected any, instancesPath string) error

type options struct {
	component Component
	agentPath string
	waiter    DynamicConfigWaiter
}

// Option YqlAgent 选项
type Option func(*options)

// WithComponent 替换默认组件
func WithComponent(component Component) Option {
	return func(o *options) { o.component = component }
}

// WithAgentPath 指定 Agent 可执行文件
func WithAgentPath(path string) Option {
	return func(o *options) { o.agentPath = path }
}

// WithDynamicConfigWaiter 替换动态配置生效等待
func WithDynamicConfigWaiter(waiter DynamicConfigWaiter) Option {
	return func(o *options) { o.waiter = waiter }
}

// newWaiter 实例心跳超过 5 个间隔未更新即视为失联，与组件的 Wait 保持一致
func newWaiter(cfg *config.Config) DynamicConfigWaiter {
	heartbeat := cfg.Agent.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = yqlagent.DefaultHeartbeatInterval
	}
	return func(ctx context.Context, client cypress.Store, expected any, instancesPath string) error {
		return dynconfig.WaitForDynamicConfigUpdate(ctx, client, expected, instancesPath,
			dynconfig.WithTimeout(cfg.Wait.DynamicConfigTimeout),
			dynconfig.WithPeriod(cfg.Wait.PollPeriod),
			dynconfig.WithAliveTimeout(5*heartbeat),
			dynconfig.WithLogger(logger.Named("dynconfig")),
		)
	}
}

// applyDefaults 用全局配置补全未指定的选项
func (o *options) applyDefaults() error {
	if o.component != nil && o.agentPath != "" && o.waiter != nil {
		return nil
	}
	cfg, err := config.Get()
	if err != nil {
		return err
	}

	if o.component == nil {
		o.component = yqlagent.New(
			yqlagent.WithStartTimeout(cfg.Agent.StartTimeout),
			yqlagent.WithStopTimeout(cfg.Agent.StopTimeout),
			yqlagent.WithHeartbeatInterval(cfg.Agent.HeartbeatInterval),
			yqlagent.WithUpdatePeriod(cfg.Agent.DynamicConfigUpdatePeriod),
			yqlagent.WithLogLevel(cfg.Log.Level),
		)
	}
	if o.agentPath == "" {
		o.agentPath = cfg.Agent.Path
	}
	if o.agentPath == "" {
		o.agentPath = AgentPath()
	}
	if o.waiter == nil {
		o.waiter = newWaiter(cfg)
	}
	return nil
}

// YqlAgent 以作用域方式管理 YQL Agent 组件：Enter 启动并等待就绪，Exit 停止
type YqlAgent struct {
	env       *environment.Environment
	component Component
	config    yqlagent.Config
	waiter    DynamicConfigWaiter
}

// NewYqlAgent 构造组件配置并调用 Prepare，不启动任何进程
func NewYqlAgent(env *environment.Environment, count int, opts ...Option) (*YqlAgent, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.applyDefaults(); err != nil {
		return nil, err
	}

	cfg := yqlagent.Config{
		Count:                 count,
		Path:                  o.agentPath,
		ArtifactsPath:         ArtifactsPath(),
		NativeClientSupported: true,
	}
	if err := o.component.Prepare(env, cfg); err != nil {
		return nil, err
	}

	return &YqlAgent{
		env:       env,
		component: o.component,
		config:    cfg,
		waiter:    o.waiter,
	}, nil
}

// Enter 依次执行 Run、Wait、Init
// 任一步失败时先停止已启动的实例，再原样返回该步的错误
func (y *YqlAgent) Enter(ctx context.Context) error {
	ctx, span := otel_trace.Start(ctx, "fixture.yql_agent.enter")
	defer span.End()

	steps := []func(context.Context) error{
		y.component.Run,
		y.component.Wait,
		y.component.Init,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			span.RecordError(err)
			if stopErr := y.component.Stop(context.WithoutCancel(ctx)); stopErr != nil {
				logger.WarnF(ctx, "[Fixture] stop after failed enter: %v", stopErr)
			}
			return err
		}
	}
	return nil
}

// Exit 停止组件，可在 Enter 失败后调用
func (y *YqlAgent) Exit(ctx context.Context) error {
	ctx, span := otel_trace.Start(ctx, "fixture.yql_agent.exit")
	defer span.End()
	return y.component.Stop(ctx)
}

// With 在 Enter 与 Exit 之间执行 fn，无论 fn 是否出错都会 Exit
// 返回第一个出现的错误
func (y *YqlAgent) With(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if err := y.Enter(ctx); err != nil {
		return err
	}
	defer func() {
		if exitErr := y.Exit(context.WithoutCancel(ctx)); err == nil {
			err = exitErr
		}
	}()
	return fn(ctx)
}

// Client 返回组件使用的存储客户端
func (y *YqlAgent) Client() cypress.Store {
	return y.component.Client()
}

// Component 返回被封装的组件
func (y *YqlAgent) Component() Component {
	return y.component
}

// Config 返回传给组件的配置
func (y *YqlAgent) Config() yqlagent.Config {
	return y.config
}

// Env 返回所属环境
func (y *YqlAgent) Env() *environment.Environment {
	return y.env
}
