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
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestSetGetList(t *testing.T) {
	env := t.TempDir()

	_, err := execute(t, "--env", env, "set", "-r", "//sys/yql_agent/config", `{"yql_agent":{"max_queries":3}}`)
	require.NoError(t, err)

	out, err := execute(t, "--env", env, "get", "//sys/yql_agent/config")
	require.NoError(t, err)
	assert.JSONEq(t, `{"yql_agent":{"max_queries":3}}`, out)

	out, err = execute(t, "--env", env, "list", "//sys/yql_agent")
	require.NoError(t, err)
	assert.Equal(t, []string{"config"}, strings.Fields(out))
}

func TestSetKeepsLargeIntegers(t *testing.T) {
	env := t.TempDir()

	_, err := execute(t, "--env", env, "set", "-r", "//sys/quota", `{"bytes":9007199254740993}`)
	require.NoError(t, err)

	out, err := execute(t, "--env", env, "get", "//sys/quota")
	require.NoError(t, err)
	assert.Contains(t, out, "9007199254740993")
}

func TestSetWithoutParentFails(t *testing.T) {
	env := t.TempDir()
	_, err := execute(t, "--env", env, "set", "//sys/missing/doc", `1`)
	assert.Error(t, err)
}

func TestSetRejectsInvalidJSON(t *testing.T) {
	_, err := execute(t, "--env", t.TempDir(), "set", "//doc", `{not json`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid JSON")
}

func TestSQLiteStoreRequiresEnv(t *testing.T) {
	_, err := execute(t, "get", "/")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--env")
}

func TestGetMissingNode(t *testing.T) {
	_, err := execute(t, "--env", t.TempDir(), "get", "//nope")
	assert.Error(t, err)
}
