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
	"errors"
	"sort"
	"strings"
	"testing"

	"pgregory.net/rapid"
)

// Property: for any sequence of recursive document creations, the children listed
// for every map node SHALL match a reference model of the tree.
// 属性：任意顺序的递归创建之后，每个 map_node 列出的子节点都应与参考模型一致。
func TestProperty_TreeMatchesModel(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		ctx := context.Background()
		client, err := NewClient(ctx, NewMemoryBackend(), nil)
		if err != nil {
			rt.Fatalf("new client: %v", err)
		}
		defer client.Close()

		model := map[string]NodeType{RootPath: NodeTypeMap}

		numOps := rapid.IntRange(1, 30).Draw(rt, "numOps")
		for i := 0; i < numOps; i++ {
			depth := rapid.IntRange(1, 3).Draw(rt, "depth")
			segments := make([]string, depth)
			for j := range segments {
				segments[j] = rapid.SampledFrom([]string{"a", "b", "c"}).Draw(rt, "segment")
			}
			path := "//" + strings.Join(segments, "/")

			err := client.Create(ctx, NodeTypeDocument, path, CreateOptions{Recursive: true, IgnoreExisting: true, Value: i})
			expected := applyCreate(model, path)
			if !errors.Is(err, expected) {
				rt.Fatalf("create %s: got %v, want %v", path, err, expected)
			}
		}

		for path, nodeType := range model {
			if nodeType != NodeTypeMap {
				continue
			}
			names, err := client.List(ctx, path)
			if err != nil {
				rt.Fatalf("list %s: %v", path, err)
			}
			want := modelChildren(model, path)
			if strings.Join(names, ",") != strings.Join(want, ",") {
				rt.Fatalf("children of %s: got %v, want %v", path, names, want)
			}
		}
	})
}

// applyCreate 在模型上执行递归创建，返回预期错误
func applyCreate(model map[string]NodeType, path string) error {
	if nodeType, ok := model[path]; ok {
		if nodeType == NodeTypeDocument {
			return nil
		}
		return ErrNodeExists
	}

	var missing []string
	ancestor, _ := Split(path)
	for {
		nodeType, ok := model[ancestor]
		if ok {
			if nodeType == NodeTypeDocument {
				return ErrTypeMismatch
			}
			break
		}
		missing = append(missing, ancestor)
		ancestor, _ = Split(ancestor)
	}

	for _, p := range missing {
		model[p] = NodeTypeMap
	}
	model[path] = NodeTypeDocument
	return nil
}

func modelChildren(model map[string]NodeType, parent string) []string {
	var names []string
	for path := range model {
		if name, ok := directChild(parent, path); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
