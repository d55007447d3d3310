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

package dynconfig

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yqlenv/yqlenv/internal/cypress"
	"go.uber.org/goleak"
)

const configPath = "//sys/yql_agent/config"

func newStore(t *testing.T) cypress.Store {
	t.Helper()
	store, err := cypress.NewClient(context.Background(), cypress.NewMemoryBackend(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Create(context.Background(), cypress.NodeTypeMap, "//sys/yql_agent", cypress.CreateOptions{Recursive: true}))
	return store
}

func TestUpdateMissingDocumentUsesDefaults(t *testing.T) {
	m := NewManager(newStore(t), configPath, nil, 0, nil)

	require.NoError(t, m.Update(context.Background()))

	snapshot := m.Snapshot()
	assert.Equal(t, DefaultConfig(), snapshot.Effective)
	assert.Zero(t, snapshot.Revision)
	assert.False(t, snapshot.LastUpdateTime.IsZero())

	select {
	case <-m.Ready():
	default:
		t.Fatal("manager is not ready after first update")
	}
}

func TestUpdateMergesDocumentOverDefaults(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	defaults := map[string]any{
		"yql_agent": map[string]any{"max_queries": 10, "gateways": map[string]any{"yt": "default"}},
	}
	require.NoError(t, store.Set(ctx, configPath, map[string]any{
		"yql_agent": map[string]any{"max_queries": 20},
	}))

	m := NewManager(store, configPath, defaults, 0, nil)
	require.NoError(t, m.Update(ctx))

	snapshot := m.Snapshot()
	assert.Equal(t, map[string]any{
		"yql_agent": map[string]any{"max_queries": json.Number("20"), "gateways": map[string]any{"yt": "default"}},
	}, snapshot.Effective)

	revision, err := store.Revision(ctx, configPath)
	require.NoError(t, err)
	assert.Equal(t, revision, snapshot.Revision)
}

func TestUpdateNotifiesOnlyOnChange(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	m := NewManager(store, configPath, nil, 0, nil)

	var notified []Snapshot
	m.Subscribe(func(s Snapshot) { notified = append(notified, s) })

	require.NoError(t, m.Update(ctx))
	require.NoError(t, m.Update(ctx))
	require.Len(t, notified, 1)
	firstChange := m.Snapshot().LastChangeTime

	require.NoError(t, store.Set(ctx, configPath, map[string]any{"yql_agent": map[string]any{"flag": true}}))
	require.NoError(t, m.Update(ctx))
	require.Len(t, notified, 2)
	assert.Equal(t, true, notified[1].Effective["yql_agent"].(map[string]any)["flag"])
	assert.False(t, m.Snapshot().LastChangeTime.Before(firstChange))
}

func TestUpdateRejectsNonMapDocument(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.Set(ctx, configPath, []any{1, 2}))

	m := NewManager(store, configPath, nil, 0, nil)
	assert.ErrorIs(t, m.Update(ctx), ErrNotMap)
}

func TestOrchidNode(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.Set(ctx, configPath, map[string]any{"yql_agent": map[string]any{"x": "y"}}))

	m := NewManager(store, configPath, nil, 0, nil)

	node, err := m.OrchidNode(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, node.(map[string]any)["effective_config"])

	require.NoError(t, m.Update(ctx))
	node, err = m.OrchidNode(ctx)
	require.NoError(t, err)
	fields := node.(map[string]any)
	assert.Equal(t, map[string]any{"yql_agent": map[string]any{"x": "y"}}, fields["effective_config"])
	assert.Contains(t, fields, "last_update_time")
	assert.Contains(t, fields, "last_change_time")
}

func TestRunPicksUpChanges(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := newStore(t)
	m := NewManager(store, configPath, nil, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Run(ctx)
	}()

	<-m.Ready()
	require.NoError(t, store.Set(context.Background(), configPath, map[string]any{"yql_agent": map[string]any{"v": 1}}))

	assert.Eventually(t, func() bool {
		cfg, ok := m.Snapshot().Effective["yql_agent"].(map[string]any)
		return ok && cfg["v"] == json.Number("1")
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}
