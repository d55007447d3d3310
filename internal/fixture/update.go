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

package fixture

import (
	"context"
	"fmt"

	"github.com/yqlenv/yqlenv/internal/components/yqlagent"
	"github.com/yqlenv/yqlenv/internal/otel_trace"
)

// DynamicConfigField 动态配置文档中属于 YQL Agent 的字段
const DynamicConfigField = "yql_agent"

// UpdateYqlAgentEnvironment 把 suite 中的动态配置覆盖写入配置文档并等待生效
//
// 覆盖为 nil 时什么也不做。读取、写回与等待的错误原样返回；
// 读改写之间不加锁。
func UpdateYqlAgentEnvironment(ctx context.Context, suite *Suite, agent *YqlAgent) error {
	if suite == nil || suite.YqlAgentDynamicConfig == nil {
		return nil
	}

	ctx, span := otel_trace.Start(ctx, "fixture.yql_agent.update")
	defer span.End()

	client := agent.Client()
	value, err := client.Get(ctx, yqlagent.ConfigPath)
	if err != nil {
		return err
	}
	config, ok := value.(map[string]any)
	if !ok {
		return fmt.Errorf("fixture: %s is %T, want a map", yqlagent.ConfigPath, value)
	}

	config[DynamicConfigField] = suite.YqlAgentDynamicConfig
	if err := client.Set(ctx, yqlagent.ConfigPath, config); err != nil {
		return err
	}

	return agent.waiter(ctx, client, config, yqlagent.InstancesPath)
}
