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

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpRejectsInvalidDynamicConfig(t *testing.T) {
	env := t.TempDir()
	file := filepath.Join(t.TempDir(), "dynamic.yaml")
	require.NoError(t, os.WriteFile(file, []byte("yql_agent: [1,\n"), 0644))

	_, err := execute(t, "--env", env, "up", "--agent-path", "/bin/true", "--dynamic-config", file)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse dynamic config")

	// 解析失败发生在创建环境之前
	entries, err := os.ReadDir(env)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestUpMissingDynamicConfigFile(t *testing.T) {
	_, err := execute(t, "--env", t.TempDir(), "up", "--dynamic-config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read dynamic config")
}

func TestUpRejectsInvalidCount(t *testing.T) {
	env := t.TempDir()

	_, err := execute(t, "--env", env, "up", "--agent-path", "/bin/true", "--count=-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "count must be at least 1")

	_, err = os.Stat(filepath.Join(env, "yql_agent-0"))
	assert.True(t, os.IsNotExist(err))
}
