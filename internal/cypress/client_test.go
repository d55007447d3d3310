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
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yqlenv/yqlenv/internal/db"
	"go.uber.org/goleak"
)

func newMemoryClient(t *testing.T) *Client {
	t.Helper()
	client, err := Open(context.Background(), Config{Backend: BackendMemory}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func newSQLiteClient(t *testing.T) *Client {
	t.Helper()
	client, err := Open(context.Background(), Config{
		Backend: BackendSQLite,
		Database: db.Config{
			SQLitePath: filepath.Join(t.TempDir(), "cypress.db"),
			LogLevel:   "silent",
		},
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// runStoreSuite 对任意后端执行相同的节点树语义检查
func runStoreSuite(t *testing.T, newStore func(t *testing.T) *Client) {
	t.Run("root exists", func(t *testing.T) {
		store := newStore(t)
		ok, err := store.Exists(context.Background(), RootPath)
		require.NoError(t, err)
		assert.True(t, ok)

		value, err := store.Get(context.Background(), RootPath)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{}, value)
	})

	t.Run("set and get document", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		require.NoError(t, store.Create(ctx, NodeTypeMap, "//sys/yql_agent", CreateOptions{Recursive: true}))

		doc := map[string]any{"yql_agent": map[string]any{"gateways": []any{"a", "b"}}, "other": json.Number("1.5")}
		require.NoError(t, store.Set(ctx, "//sys/yql_agent/config", doc))

		got, err := store.Get(ctx, "//sys/yql_agent/config")
		require.NoError(t, err)
		assert.Equal(t, doc, got)

		// 超过 2^53 的整数原样保留
		require.NoError(t, store.Set(ctx, "//sys/yql_agent/quota", map[string]any{"bytes": int64(9007199254740993)}))
		got, err = store.Get(ctx, "//sys/yql_agent/quota")
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"bytes": json.Number("9007199254740993")}, got)

		rev, err := store.Revision(ctx, "//sys/yql_agent/config")
		require.NoError(t, err)
		assert.Equal(t, int64(1), rev)

		require.NoError(t, store.Set(ctx, "//sys/yql_agent/config", map[string]any{}))
		rev, err = store.Revision(ctx, "//sys/yql_agent/config")
		require.NoError(t, err)
		assert.Equal(t, int64(2), rev)
	})

	t.Run("get map node aggregates children", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		require.NoError(t, store.Create(ctx, NodeTypeDocument, "//sys/a", CreateOptions{Recursive: true, Value: "x"}))
		require.NoError(t, store.Create(ctx, NodeTypeDocument, "//sys/b/c", CreateOptions{Recursive: true, Value: true}))

		got, err := store.Get(ctx, "//sys")
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"a": "x", "b": map[string]any{"c": true}}, got)
	})

	t.Run("set errors", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		err := store.Set(ctx, "//missing/config", 1)
		assert.True(t, errors.Is(err, ErrNodeNotFound), err)

		require.NoError(t, store.Create(ctx, NodeTypeMap, "//sys", CreateOptions{}))
		err = store.Set(ctx, "//sys", 1)
		assert.True(t, errors.Is(err, ErrTypeMismatch), err)

		err = store.Set(ctx, "sys", 1)
		assert.True(t, errors.Is(err, ErrInvalidPath), err)
	})

	t.Run("create semantics", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		err := store.Create(ctx, NodeTypeMap, "//a/b", CreateOptions{})
		assert.True(t, errors.Is(err, ErrNodeNotFound), err)

		require.NoError(t, store.Create(ctx, NodeTypeMap, "//a/b", CreateOptions{Recursive: true}))
		err = store.Create(ctx, NodeTypeMap, "//a/b", CreateOptions{})
		assert.True(t, errors.Is(err, ErrNodeExists), err)
		assert.NoError(t, store.Create(ctx, NodeTypeMap, "//a/b", CreateOptions{IgnoreExisting: true}))

		err = store.Create(ctx, NodeTypeDocument, "//a/b", CreateOptions{IgnoreExisting: true})
		assert.True(t, errors.Is(err, ErrNodeExists), err)

		require.NoError(t, store.Create(ctx, NodeTypeDocument, "//a/doc", CreateOptions{Value: map[string]any{}}))
		err = store.Create(ctx, NodeTypeMap, "//a/doc/child", CreateOptions{Recursive: true})
		assert.True(t, errors.Is(err, ErrTypeMismatch), err)

		err = store.Create(ctx, NodeType("table"), "//a/t", CreateOptions{})
		assert.True(t, errors.Is(err, ErrTypeMismatch), err)
	})

	t.Run("list and remove", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		for _, p := range []string{"//i/c", "//i/a", "//i/b/x"} {
			require.NoError(t, store.Create(ctx, NodeTypeDocument, p, CreateOptions{Recursive: true, Value: 1}))
		}

		names, err := store.List(ctx, "//i")
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, names)

		_, err = store.List(ctx, "//i/a")
		assert.True(t, errors.Is(err, ErrTypeMismatch), err)

		err = store.Remove(ctx, "//i/b", RemoveOptions{})
		assert.True(t, errors.Is(err, ErrNotEmpty), err)

		require.NoError(t, store.Remove(ctx, "//i/b", RemoveOptions{Recursive: true}))
		ok, err := store.Exists(ctx, "//i/b/x")
		require.NoError(t, err)
		assert.False(t, ok)

		err = store.Remove(ctx, "//i/b", RemoveOptions{})
		assert.True(t, errors.Is(err, ErrNodeNotFound), err)
		assert.NoError(t, store.Remove(ctx, "//i/b", RemoveOptions{Force: true}))

		names, err = store.List(ctx, "//i")
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "c"}, names)

		err = store.Remove(ctx, RootPath, RemoveOptions{Recursive: true})
		assert.True(t, errors.Is(err, ErrInvalidPath), err)
	})

	t.Run("closed store", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Close())
		require.NoError(t, store.Close())

		_, err := store.Get(context.Background(), RootPath)
		assert.True(t, errors.Is(err, ErrClosed), err)
	})
}

func TestMemoryStore(t *testing.T) {
	defer goleak.VerifyNone(t)
	runStoreSuite(t, newMemoryClient)
}

func TestSQLiteStore(t *testing.T) {
	runStoreSuite(t, newSQLiteClient)
}

func TestSQLiteStoreSharedBetweenClients(t *testing.T) {
	ctx := context.Background()
	cfg := Config{
		Backend: BackendSQLite,
		Database: db.Config{
			SQLitePath: filepath.Join(t.TempDir(), "shared.db"),
		},
	}

	writer, err := Open(ctx, cfg, nil)
	require.NoError(t, err)
	defer writer.Close()
	reader, err := Open(ctx, cfg, nil)
	require.NoError(t, err)
	defer reader.Close()

	require.NoError(t, writer.Create(ctx, NodeTypeDocument, "//sys/yql_agent/config",
		CreateOptions{Recursive: true, Value: map[string]any{"yql_agent": "v1"}}))

	got, err := reader.Get(ctx, "//sys/yql_agent/config")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"yql_agent": "v1"}, got)
}

func TestOpenUnsupportedBackend(t *testing.T) {
	_, err := Open(context.Background(), Config{Backend: "zookeeper"}, nil)
	assert.Error(t, err)
}

func TestConfigShared(t *testing.T) {
	assert.False(t, Config{Backend: BackendMemory}.Shared())
	assert.True(t, Config{Backend: BackendSQLite}.Shared())
	assert.True(t, Config{Backend: BackendEtcd}.Shared())
}
