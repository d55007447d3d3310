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

package orchid

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrPathNotFound indicates the requested orchid path does not exist.
// ErrPathNotFound 表示请求的 orchid 路径不存在。
var ErrPathNotFound = errors.New("orchid: path not found")

// Provider returns the current value of an orchid subtree.
// Provider 返回 orchid 子树的当前值。
type Provider func(ctx context.Context) (any, error)

// Tree resolves slash separated paths against registered providers.
// Tree 根据注册的 Provider 解析以斜杠分隔的路径。
type Tree struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewTree creates an empty tree.
// NewTree 创建空的 Tree。
func NewTree() *Tree {
	return &Tree{providers: make(map[string]Provider)}
}

// Register adds a provider under a top-level name.
// Register 在顶层名称下注册 Provider。
func (t *Tree) Register(name string, provider Provider) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.providers[name] = provider
}

// Names returns the registered top-level names.
// Names 返回已注册的顶层名称。
func (t *Tree) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.providers))
	for name := range t.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve returns the value at path, normalized to JSON types.
// An empty path returns every provider.
// Resolve 返回路径上的值（已规范化为 JSON 类型），空路径返回全部 Provider。
func (t *Tree) Resolve(ctx context.Context, path string) (any, error) {
	segments := splitPath(path)

	if len(segments) == 0 {
		result := make(map[string]any)
		for _, name := range t.Names() {
			value, err := t.Resolve(ctx, name)
			if err != nil {
				return nil, err
			}
			result[name] = value
		}
		return result, nil
	}

	t.mu.RLock()
	provider, ok := t.providers[segments[0]]
	t.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPathNotFound, path)
	}

	raw, err := provider(ctx)
	if err != nil {
		return nil, err
	}
	value, err := normalize(raw)
	if err != nil {
		return nil, err
	}

	for _, segment := range segments[1:] {
		m, ok := value.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrPathNotFound, path)
		}
		if value, ok = m[segment]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrPathNotFound, path)
		}
	}
	return value, nil
}

func splitPath(path string) []string {
	var segments []string
	for _, s := range strings.Split(strings.Trim(path, "/"), "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}
	return segments
}

// normalize converts arbitrary values into map[string]any, []any, json.Number and scalars.
// normalize 将任意值转换为 JSON 基本类型。
func normalize(value any) (any, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("orchid: encode value: %w", err)
	}
	out, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("orchid: decode value: %w", err)
	}
	return out, nil
}

// decode keeps numbers as json.Number so that large integers survive.
// decode 将数字保留为 json.Number，大整数不丢失精度。
func decode(data []byte) (any, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	var out any
	if err := decoder.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}
