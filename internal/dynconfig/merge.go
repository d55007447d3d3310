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

// Package dynconfig 提供动态配置的合并规则，以及等待配置在所有实例上生效的辅助函数。
package dynconfig

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/yqlenv/yqlenv/internal/cypress"
)

// Merge 将 patch 递归合并到 base 上并返回新值，不修改入参
// 双方都是 map 时逐键合并，否则 patch 整体替换 base
func Merge(base, patch any) any {
	baseMap, baseOK := base.(map[string]any)
	patchMap, patchOK := patch.(map[string]any)
	if !baseOK || !patchOK {
		return deepCopy(patch)
	}

	result := make(map[string]any, len(baseMap)+len(patchMap))
	for k, v := range baseMap {
		result[k] = deepCopy(v)
	}
	for k, v := range patchMap {
		if existing, ok := result[k]; ok {
			result[k] = Merge(existing, v)
		} else {
			result[k] = deepCopy(v)
		}
	}
	return result
}

// Contains 判断 expected 是否已体现在 effective 中：
// 把 expected 合并进 effective 后结果不变
func Contains(effective, expected any) (bool, error) {
	eff, err := Normalize(effective)
	if err != nil {
		return false, err
	}
	exp, err := Normalize(expected)
	if err != nil {
		return false, err
	}
	return equal(Merge(eff, exp), eff), nil
}

// equal 比较规范化后的值，数字按数值比较（1 与 1.0 相等）
func equal(a, b any) bool {
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			other, ok := bv[k]
			if !ok || !equal(v, other) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case json.Number:
		bv, ok := b.(json.Number)
		return ok && numbersEqual(av, bv)
	default:
		return a == b
	}
}

func numbersEqual(a, b json.Number) bool {
	if a == b {
		return true
	}
	x, okX := new(big.Float).SetString(a.String())
	y, okY := new(big.Float).SetString(b.String())
	return okX && okY && x.Cmp(y) == 0
}

// Normalize 通过 JSON 编解码把任意值转换为 map[string]any、[]any、json.Number 与基本类型
func Normalize(value any) (any, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("dynconfig: encode: %w", err)
	}
	out, err := cypress.DecodeValue(data)
	if err != nil {
		return nil, fmt.Errorf("dynconfig: decode: %w", err)
	}
	return out, nil
}

func deepCopy(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = deepCopy(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = deepCopy(item)
		}
		return out
	default:
		return v
	}
}
