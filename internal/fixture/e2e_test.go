//go:build !windows

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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yqlenv/yqlenv/agent"
	"github.com/yqlenv/yqlenv/internal/components/yqlagent"
	"github.com/yqlenv/yqlenv/internal/dynconfig"
	"github.com/yqlenv/yqlenv/internal/environment"
	"github.com/yqlenv/yqlenv/internal/orchid"
	"github.com/yqlenv/yqlenv/internal/registry"
)

// helperEnv 置为 1 时测试二进制作为 yql-agent 运行
const helperEnv = "YQLENV_AGENT_HELPER"

func TestMain(m *testing.M) {
	if os.Getenv(helperEnv) == "1" {
		if err := agent.NewRootCommand().Execute(); err != nil {
			os.Exit(1)
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}

// TestYqlAgentFixtureEndToEnd 启动真实 Agent 进程，验证动态配置覆盖在每个实例上生效
func TestYqlAgentFixtureEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("starts agent processes")
	}
	executable, err := os.Executable()
	require.NoError(t, err)

	work := t.TempDir()
	t.Setenv(ArtifactsPathEnv, filepath.Join(work, "artifacts"))

	env, err := environment.New(context.Background(), environment.Options{Path: work})
	require.NoError(t, err)
	t.Cleanup(func() { _ = env.Close() })

	override := map[string]any{"max_simultaneous_queries": 16, "gateways": map[string]any{"yt": "local"}}
	handle := YqlAgentFixture(t, &Suite{
		Env:                   env,
		NumYqlAgents:          2,
		YqlAgentDynamicConfig: override,
		YqlAgentOptions: []Option{
			WithAgentPath(executable),
			WithComponent(yqlagent.New(
				yqlagent.WithProcessEnv(map[string]string{helperEnv: "1"}),
				yqlagent.WithHeartbeatInterval(100*time.Millisecond),
				yqlagent.WithUpdatePeriod(50*time.Millisecond),
				yqlagent.WithStartTimeout(30*time.Second),
			)),
		},
	})

	ctx := context.Background()
	alive, err := registry.ListAlive(ctx, handle.Client(), yqlagent.InstancesPath, time.Second)
	require.NoError(t, err)
	require.Len(t, alive, 2)

	// 夹具返回时配置已在全部实例上生效
	for _, info := range alive {
		client, err := orchid.Dial(ctx, info.RPCAddress)
		require.NoError(t, err)

		effective, err := client.Get(ctx, dynconfig.EffectiveConfigPath)
		require.NoError(t, err)
		_ = client.Close()

		ok, err := dynconfig.Contains(effective, map[string]any{"yql_agent": override})
		require.NoError(t, err)
		assert.True(t, ok, "instance %s: %v", info.Address, effective)
	}
}
