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
	"sync"
)

// MemoryBackend 内存存储实现
// 使用 sync.Map 实现线程安全的内存存储，仅在单进程内可见
type MemoryBackend struct {
	data sync.Map
}

// NewMemoryBackend 创建新的内存存储实例
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

// Load 从内存中读取节点
func (m *MemoryBackend) Load(ctx context.Context, path string) (*Node, error) {
	value, ok := m.data.Load(path)
	if !ok {
		return nil, ErrNodeNotFound
	}
	node, ok := value.(*Node)
	if !ok {
		return nil, ErrNodeNotFound
	}
	// 返回副本，避免调用方修改内部状态
	copied := *node
	return &copied, nil
}

// Put 将节点写入内存
func (m *MemoryBackend) Put(ctx context.Context, path string, node *Node) error {
	copied := *node
	m.data.Store(path, &copied)
	return nil
}

// Delete 从内存中删除节点
func (m *MemoryBackend) Delete(ctx context.Context, path string) error {
	m.data.Delete(path)
	return nil
}

// Children 遍历所有 key 找出直接子节点
func (m *MemoryBackend) Children(ctx context.Context, path string) ([]string, error) {
	var names []string
	m.data.Range(func(key, _ any) bool {
		if name, ok := directChild(path, key.(string)); ok {
			names = append(names, name)
		}
		return true
	})
	return names, nil
}

func (m *MemoryBackend) Close() error {
	return nil
}
