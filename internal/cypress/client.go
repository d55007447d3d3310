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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Client 基于 Backend 实现节点树语义
type Client struct {
	backend Backend
	logger  *zap.Logger

	mu     sync.Mutex // 串行化本进程内的写操作
	closed atomic.Bool
}

var _ Store = (*Client)(nil)

// NewClient 创建节点树客户端，并确保根节点存在
func NewClient(ctx context.Context, backend Backend, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{backend: backend, logger: logger}

	if _, err := backend.Load(ctx, RootPath); err != nil {
		if !errors.Is(err, ErrNodeNotFound) {
			return nil, fmt.Errorf("load root node: %w", err)
		}
		if err := backend.Put(ctx, RootPath, newNode(NodeTypeMap, nil, 1)); err != nil {
			return nil, fmt.Errorf("create root node: %w", err)
		}
	}
	return c, nil
}

func newNode(nodeType NodeType, value json.RawMessage, revision int64) *Node {
	return &Node{
		Type:      nodeType,
		Value:     value,
		Revision:  revision,
		UpdatedAt: time.Now().UTC(),
	}
}

func (c *Client) checkOpen() error {
	if c.closed.Load() {
		return ErrClosed
	}
	return nil
}

// Get 读取节点值
func (c *Client) Get(ctx context.Context, path string) (any, error) {
	if err := ValidatePath(path); err != nil {
		return nil, err
	}
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	return c.get(ctx, path)
}

func (c *Client) get(ctx context.Context, path string) (any, error) {
	node, err := c.backend.Load(ctx, path)
	if err != nil {
		return nil, wrapPath(err, path)
	}

	if node.Type == NodeTypeDocument {
		if len(node.Value) == 0 {
			return nil, nil
		}
		value, err := DecodeValue(node.Value)
		if err != nil {
			return nil, fmt.Errorf("decode document %s: %w", path, err)
		}
		return value, nil
	}

	names, err := c.backend.Children(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("list children of %s: %w", path, err)
	}
	result := make(map[string]any, len(names))
	for _, name := range names {
		value, err := c.get(ctx, Join(path, name))
		if errors.Is(err, ErrNodeNotFound) {
			// 子节点在遍历期间被删除
			continue
		}
		if err != nil {
			return nil, err
		}
		result[name] = value
	}
	return result, nil
}

// Set 替换 document 的值
func (c *Client) Set(ctx context.Context, path string, value any) error {
	if err := ValidatePath(path); err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode value for %s: %w", path, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return err
	}

	node, err := c.backend.Load(ctx, path)
	switch {
	case err == nil:
		if node.Type != NodeTypeDocument {
			return fmt.Errorf("%w: %s is a %s", ErrTypeMismatch, path, node.Type)
		}
		return c.backend.Put(ctx, path, newNode(NodeTypeDocument, raw, node.Revision+1))
	case errors.Is(err, ErrNodeNotFound):
		if err := c.checkParent(ctx, path); err != nil {
			return err
		}
		return c.backend.Put(ctx, path, newNode(NodeTypeDocument, raw, 1))
	default:
		return err
	}
}

// checkParent 要求父节点存在且为 map_node
func (c *Client) checkParent(ctx context.Context, path string) error {
	parent, _ := Split(path)
	if parent == "" {
		return fmt.Errorf("%w: root has no parent", ErrInvalidPath)
	}
	node, err := c.backend.Load(ctx, parent)
	if err != nil {
		return wrapPath(err, parent)
	}
	if node.Type != NodeTypeMap {
		return fmt.Errorf("%w: parent %s is a %s", ErrTypeMismatch, parent, node.Type)
	}
	return nil
}

// Create 创建节点
func (c *Client) Create(ctx context.Context, nodeType NodeType, path string, opts CreateOptions) error {
	if !nodeType.Valid() {
		return fmt.Errorf("%w: unknown node type %q", ErrTypeMismatch, nodeType)
	}
	if err := ValidatePath(path); err != nil {
		return err
	}

	var raw json.RawMessage
	if nodeType == NodeTypeDocument {
		encoded, err := json.Marshal(opts.Value)
		if err != nil {
			return fmt.Errorf("encode value for %s: %w", path, err)
		}
		raw = encoded
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return err
	}
	return c.create(ctx, nodeType, path, raw, opts)
}

func (c *Client) create(ctx context.Context, nodeType NodeType, path string, raw json.RawMessage, opts CreateOptions) error {
	existing, err := c.backend.Load(ctx, path)
	if err == nil {
		if opts.IgnoreExisting && existing.Type == nodeType {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrNodeExists, path)
	}
	if !errors.Is(err, ErrNodeNotFound) {
		return err
	}

	err = c.checkParent(ctx, path)
	if errors.Is(err, ErrNodeNotFound) && opts.Recursive {
		parent, _ := Split(path)
		parentOpts := CreateOptions{Recursive: true, IgnoreExisting: true}
		if err := c.create(ctx, NodeTypeMap, parent, nil, parentOpts); err != nil {
			return err
		}
		err = nil
	}
	if err != nil {
		return err
	}

	c.logger.Debug("create node", zap.String("path", path), zap.String("type", string(nodeType)))
	return c.backend.Put(ctx, path, newNode(nodeType, raw, 1))
}

// Exists 检查节点是否存在
func (c *Client) Exists(ctx context.Context, path string) (bool, error) {
	if err := ValidatePath(path); err != nil {
		return false, err
	}
	if err := c.checkOpen(); err != nil {
		return false, err
	}
	_, err := c.backend.Load(ctx, path)
	if errors.Is(err, ErrNodeNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// List 列出 map_node 的子节点
func (c *Client) List(ctx context.Context, path string) ([]string, error) {
	if err := ValidatePath(path); err != nil {
		return nil, err
	}
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	node, err := c.backend.Load(ctx, path)
	if err != nil {
		return nil, wrapPath(err, path)
	}
	if node.Type != NodeTypeMap {
		return nil, fmt.Errorf("%w: %s is a %s", ErrTypeMismatch, path, node.Type)
	}
	names, err := c.backend.Children(ctx, path)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// Remove 删除节点
func (c *Client) Remove(ctx context.Context, path string, opts RemoveOptions) error {
	if err := ValidatePath(path); err != nil {
		return err
	}
	if path == RootPath {
		return fmt.Errorf("%w: cannot remove root", ErrInvalidPath)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return err
	}

	node, err := c.backend.Load(ctx, path)
	if errors.Is(err, ErrNodeNotFound) && opts.Force {
		return nil
	}
	if err != nil {
		return wrapPath(err, path)
	}

	if node.Type == NodeTypeMap {
		names, err := c.backend.Children(ctx, path)
		if err != nil {
			return err
		}
		if len(names) > 0 && !opts.Recursive {
			return fmt.Errorf("%w: %s", ErrNotEmpty, path)
		}
		if err := c.removeChildren(ctx, path, names); err != nil {
			return err
		}
	}
	return c.backend.Delete(ctx, path)
}

func (c *Client) removeChildren(ctx context.Context, path string, names []string) error {
	for _, name := range names {
		child := Join(path, name)
		grandChildren, err := c.backend.Children(ctx, child)
		if err != nil {
			return err
		}
		if err := c.removeChildren(ctx, child, grandChildren); err != nil {
			return err
		}
		if err := c.backend.Delete(ctx, child); err != nil {
			return err
		}
	}
	return nil
}

// Revision 返回节点版本号
func (c *Client) Revision(ctx context.Context, path string) (int64, error) {
	if err := ValidatePath(path); err != nil {
		return 0, err
	}
	if err := c.checkOpen(); err != nil {
		return 0, err
	}
	node, err := c.backend.Load(ctx, path)
	if err != nil {
		return 0, wrapPath(err, path)
	}
	return node.Revision, nil
}

// Close 关闭客户端及底层存储，可重复调用
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.backend.Close()
}

func wrapPath(err error, path string) error {
	if errors.Is(err, ErrNodeNotFound) {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, path)
	}
	return err
}

// DecodeValue 解码 document 的 JSON 值，数字保留为 json.Number 以免大整数丢失精度
func DecodeValue(data []byte) (any, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}
	if _, err := decoder.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after JSON value")
	}
	return value, nil
}
