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

// Package testrt 解析测试运行时的工作目录与构建产物目录。
package testrt

import (
	"os"
	"path/filepath"
	"runtime"
)

// 环境变量
const (
	// EnvWorkPath 测试工作目录
	EnvWorkPath = "TEST_WORK_PATH"
	// EnvBinaryRoot 构建产物根目录
	EnvBinaryRoot = "TEST_BINARY_ROOT"
)

// WorkPath 返回工作目录下的路径，TEST_WORK_PATH 未设置时使用当前目录
func WorkPath(elem ...string) string {
	root := os.Getenv(EnvWorkPath)
	if root == "" {
		if wd, err := os.Getwd(); err == nil {
			root = wd
		}
	}
	return filepath.Join(append([]string{root}, elem...)...)
}

// BinaryPath 返回构建产物路径，TEST_BINARY_ROOT 未设置时使用仓库根目录
func BinaryPath(elem ...string) string {
	root := os.Getenv(EnvBinaryRoot)
	if root == "" {
		root = ProjectRoot()
	}
	return filepath.Join(append([]string{root}, elem...)...)
}

// ProjectRoot 从本文件位置向上查找 go.mod 所在目录
func ProjectRoot() string {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		wd, _ := os.Getwd()
		return wd
	}
	dir := filepath.Dir(file)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return filepath.Dir(file)
		}
		dir = parent
	}
}
