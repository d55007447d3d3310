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

// Package registry 维护 Agent 实例在配置存储中的注册信息与心跳。
// 每个实例以 "<host>:<rpc_port>" 为名写在实例目录下。
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/yqlenv/yqlenv/internal/cypress"
	"go.uber.org/zap"
)

// 默认参数
const (
	DefaultHeartbeatInterval = time.Second
	// DefaultAliveTimeout 超过该时长未心跳的实例视为失联
	DefaultAliveTimeout = 10 * time.Second
)

// InstanceInfo 实例注册信息
type InstanceInfo struct {
	Address               string    `json:"address"`
	RPCAddress            string    `json:"rpc_address"`
	MonitoringAddress     string    `json:"monitoring_address"`
	PID                   int       `json:"pid"`
	Version               string    `json:"version"`
	RunID                 string    `json:"run_id"`
	StartTime             time.Time `json:"start_time"`
	Heartbeat             time.Time `json:"heartbeat"`
	NativeClientSupported bool      `json:"native_client_supported"`
}

// Alive 判断实例心跳是否在 timeout 之内
func (i InstanceInfo) Alive(now time.Time, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = DefaultAliveTimeout
	}
	return now.Sub(i.Heartbeat) <= timeout
}

// Registry 单个实例的注册器
type Registry struct {
	client   cypress.Store
	path     string
	interval time.Duration
	logger   *zap.Logger

	mu   sync.Mutex
	info InstanceInfo
}

// New 创建注册器，path 为实例目录
func New(client cypress.Store, path string, info InstanceInfo, interval time.Duration, logger *zap.Logger) *Registry {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		client:   client,
		path:     path,
		interval: interval,
		logger:   logger,
		info:     info,
	}
}

// NodePath 返回实例节点路径
func (r *Registry) NodePath() string {
	return cypress.Join(r.path, r.info.Address)
}

// Register 创建实例目录并写入首次心跳
func (r *Registry) Register(ctx context.Context) error {
	if r.info.Address == "" {
		return errors.New("registry: instance address is empty")
	}
	if err := r.client.Create(ctx, cypress.NodeTypeMap, r.path, cypress.CreateOptions{Recursive: true, IgnoreExisting: true}); err != nil {
		return fmt.Errorf("registry: create %s: %w", r.path, err)
	}
	if err := r.heartbeat(ctx); err != nil {
		return err
	}
	r.logger.Info("instance registered", zap.String("path", r.NodePath()))
	return nil
}

func (r *Registry) heartbeat(ctx context.Context) error {
	r.mu.Lock()
	r.info.Heartbeat = time.Now().UTC()
	info := r.info
	r.mu.Unlock()

	if err := r.client.Set(ctx, r.NodePath(), info); err != nil {
		return fmt.Errorf("registry: heartbeat %s: %w", r.NodePath(), err)
	}
	return nil
}

// Run 周期性写入心跳直到 ctx 结束
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.heartbeat(ctx); err != nil && ctx.Err() == nil {
				r.logger.Warn("heartbeat failed", zap.Error(err))
			}
		}
	}
}

// Unregister 删除实例节点
func (r *Registry) Unregister(ctx context.Context) error {
	if err := r.client.Remove(ctx, r.NodePath(), cypress.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("registry: unregister %s: %w", r.NodePath(), err)
	}
	r.logger.Info("instance unregistered", zap.String("path", r.NodePath()))
	return nil
}

// ListInstances 读取实例目录下全部实例，目录不存在时返回空
func ListInstances(ctx context.Context, client cypress.Store, path string) ([]InstanceInfo, error) {
	names, err := client.List(ctx, path)
	if errors.Is(err, cypress.ErrNodeNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	instances := make([]InstanceInfo, 0, len(names))
	for _, name := range names {
		value, err := client.Get(ctx, cypress.Join(path, name))
		if errors.Is(err, cypress.ErrNodeNotFound) {
			// 实例在列举期间注销
			continue
		}
		if err != nil {
			return nil, err
		}
		info, err := decodeInstance(value)
		if err != nil {
			return nil, fmt.Errorf("registry: decode instance %s: %w", name, err)
		}
		if info.Address == "" {
			info.Address = name
		}
		instances = append(instances, info)
	}
	return instances, nil
}

// ListAlive 只返回心跳新鲜的实例
func ListAlive(ctx context.Context, client cypress.Store, path string, timeout time.Duration) ([]InstanceInfo, error) {
	instances, err := ListInstances(ctx, client, path)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	alive := instances[:0]
	for _, info := range instances {
		if info.Alive(now, timeout) {
			alive = append(alive, info)
		}
	}
	return alive, nil
}

func decodeInstance(value any) (InstanceInfo, error) {
	var info InstanceInfo
	data, err := json.Marshal(value)
	if err != nil {
		return info, err
	}
	err = json.Unmarshal(data, &info)
	return info, err
}
