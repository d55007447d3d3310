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

package agent

import (
	"bytes"
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/travisjeffery/go-dynaport"
	"github.com/yqlenv/yqlenv/agent/config"
	"github.com/yqlenv/yqlenv/internal/cypress"
	"github.com/yqlenv/yqlenv/internal/db"
	"github.com/yqlenv/yqlenv/internal/dynconfig"
	"github.com/yqlenv/yqlenv/internal/orchid"
	"github.com/yqlenv/yqlenv/internal/registry"
)

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	ports := dynaport.Get(2)

	cfg, err := config.Load("", map[string]any{
		"instance.host":                "127.0.0.1",
		"instance.rpc_port":            ports[0],
		"instance.monitoring_port":     ports[1],
		"store.backend":                cypress.BackendSQLite,
		"store.database.sqlite_path":   filepath.Join(dir, "cypress.db"),
		"artifacts_path":               filepath.Join(dir, "artifacts"),
		"dynamic_config.update_period": "20ms",
		"heartbeat.interval":           "50ms",
	})
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	return cfg
}

func openStore(t *testing.T, cfg *config.Config) cypress.Store {
	t.Helper()
	client, err := cypress.Open(context.Background(), cypress.Config{
		Backend:  cypress.BackendSQLite,
		Database: db.Config{SQLitePath: cfg.Store.Database.SQLitePath, LogLevel: "silent"},
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// TestAgentLifecycle 启动 Agent，验证注册、健康检查、orchid 与动态配置生效，然后关闭
func TestAgentLifecycle(t *testing.T) {
	cfg := newTestConfig(t)
	agent := NewAgent(cfg, nil)

	errChan := make(chan error, 1)
	go func() { errChan <- agent.Run(context.Background()) }()

	store := openStore(t, cfg)
	ctx := context.Background()

	require.Eventually(t, func() bool {
		alive, err := registry.ListAlive(ctx, store, cfg.Paths.Instances, time.Second)
		return err == nil && len(alive) == 1
	}, 10*time.Second, 20*time.Millisecond)

	alive, err := registry.ListAlive(ctx, store, cfg.Paths.Instances, time.Second)
	require.NoError(t, err)
	assert.Equal(t, cfg.Instance.RPCAddress(), alive[0].Address)
	assert.Equal(t, cfg.Instance.MonitoringAddress(), alive[0].MonitoringAddress)
	assert.True(t, alive[0].NativeClientSupported)

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + cfg.Instance.MonitoringAddress() + "/healthz")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 10*time.Second, 20*time.Millisecond)

	require.NoError(t, store.Create(ctx, cypress.NodeTypeMap, "//sys/yql_agent", cypress.CreateOptions{Recursive: true, IgnoreExisting: true}))
	expected := map[string]any{"yql_agent": map[string]any{"max_queries": 42}}
	require.NoError(t, store.Set(ctx, cfg.Paths.ConfigDocument, expected))

	orchidClient, err := orchid.Dial(ctx, cfg.Instance.RPCAddress())
	require.NoError(t, err)
	defer orchidClient.Close()

	require.Eventually(t, func() bool {
		effective, err := orchidClient.Get(ctx, dynconfig.EffectiveConfigPath)
		if err != nil {
			return false
		}
		ok, err := dynconfig.Contains(effective, expected)
		return err == nil && ok
	}, 10*time.Second, 20*time.Millisecond)

	service, err := orchidClient.Get(ctx, "service/run_id")
	require.NoError(t, err)
	assert.NotEmpty(t, service)

	agent.Shutdown()
	require.NoError(t, <-errChan)

	instances, err := registry.ListInstances(ctx, store, cfg.Paths.Instances)
	require.NoError(t, err)
	assert.Empty(t, instances)
}

func TestAgentRunTwice(t *testing.T) {
	cfg := newTestConfig(t)
	agent := NewAgent(cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)
	go func() { errChan <- agent.Run(ctx) }()

	select {
	case <-agent.Started():
	case err := <-errChan:
		t.Fatalf("agent exited before start: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("agent did not start")
	}
	assert.ErrorIs(t, agent.Run(ctx), ErrAlreadyRunning)

	cancel()
	require.NoError(t, <-errChan)
}

func TestAgentCancelledDuringStart(t *testing.T) {
	cfg := newTestConfig(t)
	agent := NewAgent(cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, agent.Run(ctx))
}

// TestAgentShutdownLeavesNoInstance 高频心跳下关闭后实例节点不会被重新写入
func TestAgentShutdownLeavesNoInstance(t *testing.T) {
	for i := 0; i < 5; i++ {
		cfg := newTestConfig(t)
		cfg.Heartbeat.Interval = time.Millisecond
		agent := NewAgent(cfg, nil)

		errChan := make(chan error, 1)
		go func() { errChan <- agent.Run(context.Background()) }()
		select {
		case <-agent.Started():
		case err := <-errChan:
			t.Fatalf("agent exited before start: %v", err)
		case <-time.After(10 * time.Second):
			t.Fatal("agent did not start")
		}

		agent.Shutdown()
		require.NoError(t, <-errChan)

		time.Sleep(20 * time.Millisecond)
		instances, err := registry.ListInstances(context.Background(), openStore(t, cfg), cfg.Paths.Instances)
		require.NoError(t, err)
		assert.Empty(t, instances, "iteration %d", i)
	}
}

func TestAgentFailsOnArtifactsFile(t *testing.T) {
	cfg := newTestConfig(t)
	require.NoError(t, writeFile(cfg.ArtifactsPath))

	err := NewAgent(cfg, nil).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a directory")
}

func TestVersionCommand(t *testing.T) {
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "YQL Agent")
	assert.Contains(t, out.String(), Version)
}

func TestRootCommandRejectsInvalidConfig(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config")
}

func writeFile(path string) error {
	return os.WriteFile(path, []byte("x"), 0644)
}
