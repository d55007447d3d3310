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

package testrt

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWorkPath(t *testing.T) {
	t.Setenv(EnvWorkPath, "/tmp/work")
	assert.Equal(t, "/tmp/work/yt_binaries", WorkPath("yt_binaries"))

	t.Setenv(EnvWorkPath, "")
	wd, _ := os.Getwd()
	assert.Equal(t, filepath.Join(wd, "yt_binaries"), WorkPath("yt_binaries"))
}

func TestBinaryPath(t *testing.T) {
	t.Setenv(EnvBinaryRoot, "/opt/build")
	assert.Equal(t, "/opt/build/yt/yql/agent/bin/yql-agent", BinaryPath("yt/yql/agent/bin/yql-agent"))

	t.Setenv(EnvBinaryRoot, "")
	root := ProjectRoot()
	_, err := os.Stat(filepath.Join(root, "go.mod"))
	assert.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "bin"), BinaryPath("bin"))
}
