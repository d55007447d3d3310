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

// Package fixture 提供 Go 测试使用的 YQL Agent 环境夹具：产物路径解析、
// 组件生命周期封装、动态配置更新以及一站式的 YqlAgentFixture。
package fixture

import (
	"os"

	"github.com/yqlenv/yqlenv/internal/testrt"
)

const (
	// ArtifactsPathEnv 覆盖产物目录的环境变量
	ArtifactsPathEnv = "YDB_ARTIFACTS_PATH"
	// DefaultArtifactsDir 未覆盖时位于测试工作目录下的产物目录
	DefaultArtifactsDir = "yt_binaries"
	// AgentBinary Agent 可执行文件相对构建产物根目录的路径
	AgentBinary = "yt/yql/agent/bin/yql-agent"
)

// ArtifactsPath 返回产物目录
// 环境变量已设置时原样返回（空值也算已设置），否则使用测试工作目录下的 yt_binaries
func ArtifactsPath() string {
	if path, ok := os.LookupEnv(ArtifactsPathEnv); ok {
		return path
	}
	return testrt.WorkPath(DefaultArtifactsDir)
}

// AgentPath 返回默认的 Agent 可执行文件路径
func AgentPath() string {
	return testrt.BinaryPath(AgentBinary)
}
