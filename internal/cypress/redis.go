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

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "yqlenv:cypress:"

// RedisBackend Redis 存储实现
// 节点保存在 <prefix>node:<path>，子节点名保存在集合 <prefix>children:<path>
type RedisBackend struct {
	client *redis.Client
	prefix string // key 前缀，用于区分不同环境
	owned  bool
}

// NewRedisBackend 使用已有客户端创建 Redis 存储实例
func NewRedisBackend(client *redis.Client, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisBackend{
		client: client,
		prefix: prefix,
	}
}

// openRedisBackend 根据配置创建客户端并注入追踪
func openRedisBackend(ctx context.Context, cfg RedisConfig) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	if err := redisotel.InstrumentTracing(client); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("instrument redis tracing: %w", err)
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}

	backend := NewRedisBackend(client, cfg.Prefix)
	backend.owned = true
	return backend, nil
}

func (r *RedisBackend) nodeKey(path string) string {
	return r.prefix + "node:" + path
}

func (r *RedisBackend) childrenKey(path string) string {
	return r.prefix + "children:" + path
}

// Load 从 Redis 中读取节点
func (r *RedisBackend) Load(ctx context.Context, path string) (*Node, error) {
	result, err := r.client.Get(ctx, r.nodeKey(path)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNodeNotFound
		}
		return nil, err
	}

	var node Node
	if err := json.Unmarshal(result, &node); err != nil {
		return nil, fmt.Errorf("decode node %s: %w", path, err)
	}
	return &node, nil
}

// Put 写入节点并登记到父节点的子集合
func (r *RedisBackend) Put(ctx context.Context, path string, node *Node) error {
	data, err := json.Marshal(node)
	if err != nil {
		return err
	}

	parent, name := Split(path)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.nodeKey(path), data, 0)
		if parent != "" {
			pipe.SAdd(ctx, r.childrenKey(parent), name)
		}
		return nil
	})
	return err
}

// Delete 删除节点及其子集合
func (r *RedisBackend) Delete(ctx context.Context, path string) error {
	parent, name := Split(path)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.nodeKey(path), r.childrenKey(path))
		if parent != "" {
			pipe.SRem(ctx, r.childrenKey(parent), name)
		}
		return nil
	})
	return err
}

// Children 读取子集合
func (r *RedisBackend) Children(ctx context.Context, path string) ([]string, error) {
	return r.client.SMembers(ctx, r.childrenKey(path)).Result()
}

func (r *RedisBackend) Close() error {
	if !r.owned {
		return nil
	}
	return r.client.Close()
}
