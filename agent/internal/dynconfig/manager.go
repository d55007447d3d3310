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

// Package dynconfig 在 Agent 端轮询动态配置文档，计算生效配置并通知订阅者。
package dynconfig

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/yqlenv/yqlenv/internal/cypress"
	"github.com/yqlenv/yqlenv/internal/dynconfig"
	"go.uber.org/zap"
)

// DefaultUpdatePeriod 默认轮询间隔
const DefaultUpdatePeriod = 500 * time.Millisecond

// ErrNotMap 配置文档不是 map
var ErrNotMap = errors.New("dynconfig: config document is not a map")

// DefaultConfig 返回 Agent 内置的动态配置默认值
func DefaultConfig() map[string]any {
	return map[string]any{
		"yql_agent": map[string]any{},
	}
}

// Snapshot 某一时刻的生效配置
type Snapshot struct {
	Effective      map[string]any
	Revision       int64
	LastUpdateTime time.Time
	LastChangeTime time.Time
}

// Subscriber 生效配置变化时被调用
type Subscriber func(Snapshot)

// Manager 动态配置管理器
type Manager struct {
	client   cypress.Store
	path     string
	defaults any
	period   time.Duration
	logger   *zap.Logger

	mu          sync.RWMutex
	snapshot    Snapshot
	subscribers []Subscriber

	readyOnce sync.Once
	ready     chan struct{}
}

// NewManager 创建管理器，path 为配置文档路径
func NewManager(client cypress.Store, path string, defaults map[string]any, period time.Duration, logger *zap.Logger) *Manager {
	if period <= 0 {
		period = DefaultUpdatePeriod
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaults == nil {
		defaults = DefaultConfig()
	}
	return &Manager{
		client:   client,
		path:     path,
		defaults: defaults,
		period:   period,
		logger:   logger,
		ready:    make(chan struct{}),
	}
}

// Subscribe 注册订阅者
func (m *Manager) Subscribe(fn Subscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, fn)
}

// Ready 首次成功拉取配置后关闭
func (m *Manager) Ready() <-chan struct{} {
	return m.ready
}

// Snapshot 返回当前生效配置
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

// Update 拉取一次配置文档，文档不存在时按空 map 处理
func (m *Manager) Update(ctx context.Context) error {
	document, revision, err := m.fetch(ctx)
	if err != nil {
		return err
	}

	base, err := dynconfig.Normalize(m.defaults)
	if err != nil {
		return fmt.Errorf("dynconfig: normalize defaults: %w", err)
	}
	effective, ok := dynconfig.Merge(base, document).(map[string]any)
	if !ok {
		return ErrNotMap
	}

	now := time.Now().UTC()

	m.mu.Lock()
	changed := !reflect.DeepEqual(m.snapshot.Effective, effective)
	m.snapshot.Revision = revision
	m.snapshot.LastUpdateTime = now
	if changed {
		m.snapshot.Effective = effective
		m.snapshot.LastChangeTime = now
	}
	snapshot := m.snapshot
	subscribers := append([]Subscriber(nil), m.subscribers...)
	m.mu.Unlock()

	m.readyOnce.Do(func() { close(m.ready) })

	if changed {
		m.logger.Info("dynamic config changed", zap.Int64("revision", revision))
		for _, fn := range subscribers {
			fn(snapshot)
		}
	}
	return nil
}

func (m *Manager) fetch(ctx context.Context) (map[string]any, int64, error) {
	value, err := m.client.Get(ctx, m.path)
	if errors.Is(err, cypress.ErrNodeNotFound) {
		return map[string]any{}, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("dynconfig: get %s: %w", m.path, err)
	}

	normalized, err := dynconfig.Normalize(value)
	if err != nil {
		return nil, 0, err
	}
	document, ok := normalized.(map[string]any)
	if !ok {
		return nil, 0, fmt.Errorf("%w: %s", ErrNotMap, m.path)
	}

	revision, err := m.client.Revision(ctx, m.path)
	if errors.Is(err, cypress.ErrNodeNotFound) {
		// 两次读取之间文档被删除
		return map[string]any{}, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("dynconfig: revision %s: %w", m.path, err)
	}
	return document, revision, nil
}

// Run 周期性拉取配置直到 ctx 结束，失败只记录日志并保留上次的生效配置
func (m *Manager) Run(ctx context.Context) {
	if err := m.Update(ctx); err != nil && ctx.Err() == nil {
		m.logger.Warn("dynamic config update failed", zap.Error(err))
	}

	ticker := time.NewTicker(m.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Update(ctx); err != nil && ctx.Err() == nil {
				m.logger.Warn("dynamic config update failed", zap.Error(err))
			}
		}
	}
}

// OrchidNode 返回 orchid 中 dynamic_config_manager 节点的内容
func (m *Manager) OrchidNode(context.Context) (any, error) {
	snapshot := m.Snapshot()
	effective := snapshot.Effective
	if effective == nil {
		effective = map[string]any{}
	}
	node := map[string]any{
		"effective_config": effective,
		"revision":         snapshot.Revision,
	}
	if !snapshot.LastUpdateTime.IsZero() {
		node["last_update_time"] = snapshot.LastUpdateTime.Format(time.RFC3339Nano)
	}
	if !snapshot.LastChangeTime.IsZero() {
		node["last_change_time"] = snapshot.LastChangeTime.Format(time.RFC3339Nano)
	}
	return node, nil
}
