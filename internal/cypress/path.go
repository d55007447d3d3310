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
	"fmt"
	"strings"
)

// RootPath 根节点路径
const RootPath = "/"

// ValidatePath 校验节点路径
// 合法路径为 "/" 或 "//a/b/c"，段不能为空，不能以 "/" 结尾
func ValidatePath(path string) error {
	if path == RootPath {
		return nil
	}
	if !strings.HasPrefix(path, "//") {
		return fmt.Errorf("%w: %q must start with //", ErrInvalidPath, path)
	}
	for _, segment := range strings.Split(path[2:], "/") {
		if segment == "" {
			return fmt.Errorf("%w: %q has an empty segment", ErrInvalidPath, path)
		}
	}
	return nil
}

// Join 拼接父路径与子节点名
func Join(parent, name string) string {
	if parent == RootPath {
		return "//" + name
	}
	return parent + "/" + name
}

// Split 返回父路径与节点名，根节点没有父节点
func Split(path string) (parent, name string) {
	if path == RootPath {
		return "", ""
	}
	idx := strings.LastIndex(path, "/")
	if idx == 1 {
		return RootPath, path[2:]
	}
	return path[:idx], path[idx+1:]
}

// childPrefix 子节点路径的公共前缀
func childPrefix(path string) string {
	if path == RootPath {
		return "//"
	}
	return path + "/"
}

// directChild 判断 key 是否为 parent 的直接子节点，是则返回子节点名
func directChild(parent, key string) (string, bool) {
	prefix := childPrefix(parent)
	if !strings.HasPrefix(key, prefix) || len(key) == len(prefix) {
		return "", false
	}
	rest := key[len(prefix):]
	if strings.Contains(rest, "/") {
		return "", false
	}
	return rest, true
}
