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

package environment

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yqlenv/yqlenv/internal/cypress"
)

func TestNewDefaultsToSQLiteUnderWorkDir(t *testing.T) {
	dir := t.TempDir()
	env, err := New(context.Background(), Options{Path: filepath.Join(dir, "env")})
	require.NoError(t, err)
	defer env.Close()

	cfg := env.StoreConfig()
	assert.Equal(t, cypress.BackendSQLite, cfg.Backend)
	assert.Equal(t, filepath.Join(dir, "env", "cypress.db"), cfg.Database.SQLitePath)
	assert.Equal(t, filepath.Join(dir, "env"), env.Path())

	ok, err := env.Client().Exists(context.Background(), cypress.RootPath)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAllocatePorts(t *testing.T) {
	env, err := New(context.Background(), Options{Path: t.TempDir(), Store: cypress.Config{Backend: cypress.BackendMemory}})
	require.NoError(t, err)

	ports, err := env.AllocatePorts(4)
	require.NoError(t, err)
	require.Len(t, ports, 4)
	seen := map[int]bool{}
	for _, p := range ports {
		assert.Positive(t, p)
		assert.False(t, seen[p], "duplicate port %d", p)
		seen[p] = true
	}

	_, err = env.AllocatePorts(0)
	assert.Error(t, err)

	require.NoError(t, env.Close())
	require.NoError(t, env.Close())
	_, err = env.AllocatePorts(1)
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestWaitSucceedsAfterRetries(t *testing.T) {
	var calls atomic.Int32
	err := Wait(context.Background(), func(ctx context.Context) error {
		if calls.Add(1) < 3 {
			return errors.New("not yet")
		}
		return nil
	}, WaitOptions{Timeout: 5 * time.Second, Period: 10 * time.Millisecond})

	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestWaitTimeoutCarriesLastError(t *testing.T) {
	notReady := errors.New("instance not registered")
	err := Wait(context.Background(), func(ctx context.Context) error {
		return notReady
	}, WaitOptions{Timeout: 100 * time.Millisecond, Period: 10 * time.Millisecond})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrWaitTimeout), err)
	assert.True(t, errors.Is(err, notReady), err)
}

func TestWaitAbort(t *testing.T) {
	crashed := errors.New("process crashed")
	var calls atomic.Int32
	start := time.Now()
	err := Wait(context.Background(), func(ctx context.Context) error {
		calls.Add(1)
		return Abort(crashed)
	}, WaitOptions{Timeout: 5 * time.Second, Period: 10 * time.Millisecond})

	assert.Equal(t, crashed, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.Less(t, time.Since(start), time.Second)
	assert.Nil(t, Abort(nil))
}

func TestWaitParentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Wait(ctx, func(ctx context.Context) error {
		return errors.New("never")
	}, WaitOptions{Timeout: time.Second, Period: 10 * time.Millisecond})
	assert.True(t, errors.Is(err, context.Canceled), err)
}
