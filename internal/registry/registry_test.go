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

package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yqlenv/yqlenv/internal/cypress"
)

const instancesPath = "//sys/yql_agent/instances"

func newStore(t *testing.T) cypress.Store {
	t.Helper()
	client, err := cypress.NewClient(context.Background(), cypress.NewMemoryBackend(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRegisterAndUnregister(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	reg := New(store, instancesPath, InstanceInfo{
		Address:               "localhost:9013",
		RPCAddress:            "localhost:9013",
		MonitoringAddress:     "localhost:9014",
		PID:                   42,
		NativeClientSupported: true,
	}, time.Second, nil)
	require.NoError(t, reg.Register(ctx))
	assert.Equal(t, "//sys/yql_agent/instances/localhost:9013", reg.NodePath())

	instances, err := ListAlive(ctx, store, instancesPath, 0)
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, "localhost:9014", instances[0].MonitoringAddress)
	assert.Equal(t, 42, instances[0].PID)
	assert.True(t, instances[0].NativeClientSupported)

	require.NoError(t, reg.Unregister(ctx))
	require.NoError(t, reg.Unregister(ctx))
	instances, err = ListInstances(ctx, store, instancesPath)
	require.NoError(t, err)
	assert.Empty(t, instances)
}

func TestHeartbeatLoopRefreshes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := newStore(t)

	reg := New(store, instancesPath, InstanceInfo{Address: "h:1"}, 20*time.Millisecond, nil)
	require.NoError(t, reg.Register(ctx))
	first, err := ListInstances(ctx, store, instancesPath)
	require.NoError(t, err)
	require.Len(t, first, 1)

	done := make(chan struct{})
	go func() {
		reg.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		current, err := ListInstances(context.Background(), store, instancesPath)
		return err == nil && len(current) == 1 && current[0].Heartbeat.After(first[0].Heartbeat)
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestListAliveFiltersStale(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.Create(ctx, cypress.NodeTypeMap, instancesPath, cypress.CreateOptions{Recursive: true}))

	stale := InstanceInfo{Address: "old:1", Heartbeat: time.Now().Add(-time.Hour)}
	fresh := InstanceInfo{Address: "new:1", Heartbeat: time.Now()}
	require.NoError(t, store.Set(ctx, cypress.Join(instancesPath, stale.Address), stale))
	require.NoError(t, store.Set(ctx, cypress.Join(instancesPath, fresh.Address), fresh))

	alive, err := ListAlive(ctx, store, instancesPath, 10*time.Second)
	require.NoError(t, err)
	require.Len(t, alive, 1)
	assert.Equal(t, "new:1", alive[0].Address)
}

func TestListInstancesMissingDirectory(t *testing.T) {
	instances, err := ListInstances(context.Background(), newStore(t), instancesPath)
	require.NoError(t, err)
	assert.Empty(t, instances)
}
