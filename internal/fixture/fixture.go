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

package fixture

import (
	"context"
	"testing"

	"github.com/yqlenv/yqlenv/internal/environment"
)

// DefaultNumYqlAgents 未指定实例数时启动的 Agent 数量
const DefaultNumYqlAgents = 1

// Suite 测试套件上下文
type Suite struct {
	Env *environment.Environment
	// NumYqlAgents 为 0 时使用 DefaultNumYqlAgents
	NumYqlAgents int
	// YqlAgentDynamicConfig 为 nil 表示不修改动态配置
	YqlAgentDynamicConfig any
	YqlAgentOptions       []Option
}

func (s *Suite) numYqlAgents() int {
	if s.NumYqlAgents == 0 {
		return DefaultNumYqlAgents
	}
	return s.NumYqlAgents
}

// YqlAgentFixture 启动 YQL Agent 并应用动态配置，测试结束时自动停止
// 任何准备阶段的错误都会使测试立即失败
func YqlAgentFixture(t testing.TB, suite *Suite) *YqlAgent {
	t.Helper()

	agent, err := NewYqlAgent(suite.Env, suite.numYqlAgents(), suite.YqlAgentOptions...)
	if err != nil {
		t.Fatalf("prepare yql agent: %v", err)
		return nil
	}

	ctx := context.Background()
	t.Cleanup(func() {
		if err := agent.Exit(ctx); err != nil {
			t.Errorf("stop yql agent: %v", err)
		}
	})

	if err := agent.Enter(ctx); err != nil {
		t.Fatalf("start yql agent: %v", err)
		return nil
	}
	if err := UpdateYqlAgentEnvironment(ctx, suite, agent); err != nil {
		t.Fatalf("update yql agent dynamic config: %v", err)
		return nil
	}
	return agent
}
