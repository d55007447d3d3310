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
	"fmt"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// 需要设置 YQLENV_TEST_REDIS_ADDR 指向可用的 Redis
func TestRedisStore(t *testing.T) {
	addr := os.Getenv("YQLENV_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("YQLENV_TEST_REDIS_ADDR not set")
	}

	runStoreSuite(t, func(t *testing.T) *Client {
		client, err := Open(context.Background(), Config{
			Backend: BackendRedis,
			Redis: RedisConfig{
				Addr:   addr,
				Prefix: fmt.Sprintf("yqlenv:test:%s:", uuid.NewString()),
			},
		}, nil)
		require.NoError(t, err)
		t.Cleanup(func() { _ = client.Close() })
		return client
	})
}
