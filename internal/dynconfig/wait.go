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

package dynconfig

import (
	"context"
	"fmt"
	"time"

	"github.com/yqlenv/yqlenv/internal/cypress"
	"github.com/yqlenv/yqlenv/internal/environment"
	"github.com/yqlenv/yqlenv/internal/orchid"
	"github.com/yqlenv/yqlenv/internal/registry"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// EffectiveConfigPath 实例 orchid 中生效配置的路径
const EffectiveConfigPath = "dynamic_config_manager/effective_config"

// DefaultTimeout 等待配置生效的默认超时
const DefaultTimeout = 60 * time.Second

// OrchidGetter 读取实例 orchid 的最小接口
type OrchidGetter interface {
	Get(ctx context.Context, path string) (any, error)
	Close() error
}

// Dialer 根据地址创建 orchid 客户端
type Dialer func(ctx context.Context, address string) (OrchidGetter, error)

type waitOptions struct {
	timeout      time.Duration
	period       time.Duration
	aliveTimeout time.Duration
	dialer       Dialer
	logger       *zap.Logger
}

// Option 等待参数
type Option func(*waitOptions)

// WithTimeout 设置整体超时
func WithTimeout(timeout time.Duration) Option {
	return func(o *waitOptions) { o.timeout = timeout }
}

// WithPeriod 设置轮询间隔
func WithPeriod(period time.Duration) Option {
	return func(o *waitOptions) { o.period = period }
}

// WithAliveTimeout 设置判定实例存活的心跳时效
func WithAliveTimeout(timeout time.Duration) Option {
	return func(o *waitOptions) { o.aliveTimeout = timeout }
}

// WithDialer 替换 orchid 客户端的创建方式
func WithDialer(dialer Dialer) Option {
	return func(o *waitOptions) { o.dialer = dialer }
}

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(o *waitOptions) { o.logger = logger }
}

func defaultDialer(ctx context.Context, address string) (OrchidGetter, error) {
	return orchid.Dial(ctx, address)
}

// WaitForDynamicConfigUpdate 等待 instancesPath 下每个存活实例的生效配置包含 expected
//
// 实例列表只读取一次；没有存活实例时立即返回 nil。
// 轮询期间的读取错误视为尚未生效并继续重试。
func WaitForDynamicConfigUpdate(ctx context.Context, client cypress.Store, expected any, instancesPath string, opts ...Option) error {
	o := &waitOptions{
		timeout:      DefaultTimeout,
		period:       environment.DefaultWaitPeriod,
		aliveTimeout: registry.DefaultAliveTimeout,
		dialer:       defaultDialer,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}

	expectedNormalized, err := Normalize(expected)
	if err != nil {
		return err
	}

	instances, err := registry.ListAlive(ctx, client, instancesPath, o.aliveTimeout)
	if err != nil {
		return fmt.Errorf("dynconfig: list instances %s: %w", instancesPath, err)
	}
	if len(instances) == 0 {
		o.logger.Debug("no alive instances, nothing to wait for", zap.String("path", instancesPath))
		return nil
	}

	clients := make(map[string]OrchidGetter, len(instances))
	defer func() {
		for _, c := range clients {
			_ = c.Close()
		}
	}()

	pending := make(map[string]registry.InstanceInfo, len(instances))
	for _, info := range instances {
		pending[info.Address] = info
	}

	check := func(ctx context.Context) error {
		var errs error
		for address, info := range pending {
			getter, ok := clients[address]
			if !ok {
				getter, err = o.dialer(ctx, info.RPCAddress)
				if err != nil {
					errs = multierr.Append(errs, fmt.Errorf("%s: dial: %w", address, err))
					continue
				}
				clients[address] = getter
			}

			effective, err := getter.Get(ctx, EffectiveConfigPath)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", address, err))
				continue
			}
			ok, err = Contains(effective, expectedNormalized)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", address, err))
				continue
			}
			if !ok {
				errs = multierr.Append(errs, fmt.Errorf("%s: effective config does not contain the expected one yet", address))
				continue
			}
			delete(pending, address)
		}
		return errs
	}

	o.logger.Info("waiting for dynamic config update",
		zap.String("path", instancesPath),
		zap.Int("instances", len(instances)))
	return environment.Wait(ctx, check, environment.WaitOptions{Timeout: o.timeout, Period: o.period})
}
