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

// Package cypress 提供层级化的配置存储：以 "//" 开头的路径寻址的节点树，
// 节点分为 map_node（目录）和 document（任意 JSON 值）。
// 树的语义由 Client 实现，底层持久化由可替换的 Backend 提供。
package cypress

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// 错误定义
var (
	ErrNodeNotFound = errors.New("cypress: node not found")
	ErrNodeExists   = errors.New("cypress: node already exists")
	ErrTypeMismatch = errors.New("cypress: node type mismatch")
	ErrInvalidPath  = errors.New("cypress: invalid path")
	ErrNotEmpty     = errors.New("cypress: map node is not empty")
	ErrClosed       = errors.New("cypress: store is closed")
)

// NodeType 节点类型
type NodeType string

const (
	NodeTypeMap      NodeType = "map_node"
	NodeTypeDocument NodeType = "document"
)

// Valid 检查节点类型是否受支持
func (t NodeType) Valid() bool {
	return t == NodeTypeMap || t == NodeTypeDocument
}

// CreateOptions 创建节点选项
type CreateOptions struct {
	// Recursive 自动创建缺失的父节点
	Recursive bool
	// IgnoreExisting 节点已存在且类型相同时不报错
	IgnoreExisting bool
	// Value document 的初始值
	Value any
}

// RemoveOptions 删除节点选项
type RemoveOptions struct {
	// Recursive 允许删除非空 map_node
	Recursive bool
	// Force 节点不存在时不报错
	Force bool
}

// Store 配置存储接口
type Store interface {
	// Get 返回 document 的值；map_node 返回子节点名到值的映射
	Get(ctx context.Context, path string) (any, error)
	// Set 替换 document 的值，不存在时在已有父节点下创建
	Set(ctx context.Context, path string, value any) error
	Create(ctx context.Context, nodeType NodeType, path string, opts CreateOptions) error
	Exists(ctx context.Context, path string) (bool, error)
	// List 返回 map_node 的子节点名（已排序）
	List(ctx context.Context, path string) ([]string, error)
	Remove(ctx context.Context, path string, opts RemoveOptions) error
	// Revision 返回节点的版本号，每次写入递增
	Revision(ctx context.Context, path string) (int64, error)
	Close() error
}

// Node 持久化的节点记录
type Node struct {
	Type      NodeType        `json:"type"`
	Value     json.RawMessage `json:"value,omitempty"`
	Revision  int64           `json:"revision"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Backend 节点记录的持久化层
// 每个节点以完整路径为 key 独立保存，不提供跨 key 事务
type Backend interface {
	// Load 读取节点，不存在时返回 ErrNodeNotFound
	Load(ctx context.Context, path string) (*Node, error)
	// Put 写入（覆盖）节点
	Put(ctx context.Context, path string, node *Node) error
	// Delete 删除节点，不存在时不报错
	Delete(ctx context.Context, path string) error
	// Children 返回直接子节点名，顺序不保证
	Children(ctx context.Context, path string) ([]string, error)
	Close() error
}
