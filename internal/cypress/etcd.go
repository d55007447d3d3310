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

package cypress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/namespace"
)

const (
	defaultEtcdNamespace   = "/yqlenv/cypress"
	defaultEtcdDialTimeout = 5 * time.Second
)

// EtcdBackend etcd 存储实现，所有 key 位于配置的命名空间下
type EtcdBackend struct {
	client *clientv3.Client
	kv     clientv3.KV
}

// openEtcdBackend 连接 etcd 并校验端点可用
func openEtcdBackend(ctx context.Context, cfg EtcdConfig) (*EtcdBackend, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, errors.New("cypress/etcd: endpoints are required")
	}
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = defaultEtcdDialTimeout
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: dialTimeout,
		Username:    cfg.Username,
		Password:    cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("cypress/etcd: create client: %w", err)
	}

	statusCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	if _, err := client.Status(statusCtx, cfg.Endpoints[0]); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cypress/etcd: endpoint %s unavailable: %w", cfg.Endpoints[0], err)
	}

	return NewEtcdBackend(client, cfg.Namespace), nil
}

// NewEtcdBackend 基于已有客户端创建存储，Close 时会关闭该客户端
func NewEtcdBackend(client *clientv3.Client, ns string) *EtcdBackend {
	return &EtcdBackend{
		client: client,
		kv:     namespace.NewKV(client.KV, normalizeNamespace(ns)),
	}
}

func normalizeNamespace(ns string) string {
	trimmed := strings.TrimSpace(ns)
	if trimmed == "" {
		trimmed = defaultEtcdNamespace
	}
	return strings.TrimSuffix(trimmed, "/")
}

// Load 读取节点
func (e *EtcdBackend) Load(ctx context.Context, path string) (*Node, error) {
	resp, err := e.kv.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	if len(resp.Kvs) == 0 {
		return nil, ErrNodeNotFound
	}

	var node Node
	if err := json.Unmarshal(resp.Kvs[0].Value, &node); err != nil {
		return nil, fmt.Errorf("decode node %s: %w", path, err)
	}
	return &node, nil
}

// Put 写入节点
func (e *EtcdBackend) Put(ctx context.Context, path string, node *Node) error {
	payload, err := json.Marshal(node)
	if err != nil {
		return err
	}
	_, err = e.kv.Put(ctx, path, string(payload))
	return err
}

// Delete 删除节点
func (e *EtcdBackend) Delete(ctx context.Context, path string) error {
	_, err := e.kv.Delete(ctx, path)
	return err
}

// Children 按前缀列出 key 并筛选直接子节点
func (e *EtcdBackend) Children(ctx context.Context, path string) ([]string, error) {
	resp, err := e.kv.Get(ctx, childPrefix(path), clientv3.WithPrefix(), clientv3.WithKeysOnly())
	if err != nil {
		return nil, err
	}

	var names []string
	for _, kv := range resp.Kvs {
		if name, ok := directChild(path, string(kv.Key)); ok {
			names = append(names, name)
		}
	}
	return names, nil
}

func (e *EtcdBackend) Close() error {
	return e.client.Close()
}
