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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidatePath(t *testing.T) {
	valid := []string{"/", "//sys", "//sys/yql_agent", "//sys/yql_agent/instances/localhost:1234"}
	for _, p := range valid {
		assert.NoError(t, ValidatePath(p), p)
	}

	invalid := []string{"", "sys", "/sys", "//", "//sys/", "//sys//config", "///sys"}
	for _, p := range invalid {
		err := ValidatePath(p)
		assert.True(t, errors.Is(err, ErrInvalidPath), "%q: %v", p, err)
	}
}

func TestSplitAndJoin(t *testing.T) {
	tests := []struct {
		path   string
		parent string
		name   string
	}{
		{"//sys", "/", "sys"},
		{"//sys/yql_agent", "//sys", "yql_agent"},
		{"//sys/yql_agent/config", "//sys/yql_agent", "config"},
	}
	for _, tt := range tests {
		parent, name := Split(tt.path)
		assert.Equal(t, tt.parent, parent)
		assert.Equal(t, tt.name, name)
		assert.Equal(t, tt.path, Join(parent, name))
	}

	parent, name := Split(RootPath)
	assert.Empty(t, parent)
	assert.Empty(t, name)
}

func TestDirectChild(t *testing.T) {
	name, ok := directChild("//sys", "//sys/yql_agent")
	assert.True(t, ok)
	assert.Equal(t, "yql_agent", name)

	_, ok = directChild("//sys", "//sys/yql_agent/config")
	assert.False(t, ok)

	_, ok = directChild("//sys", "//system")
	assert.False(t, ok)

	name, ok = directChild(RootPath, "//sys")
	assert.True(t, ok)
	assert.Equal(t, "sys", name)
}
