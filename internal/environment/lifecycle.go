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

	"github.com/yqlenv/yqlenv/internal/cypress"
)

// Lifecycle 环境中组件的生命周期约定，C 为组件自身的配置类型
//
// 调用顺序为 Prepare、Run、Wait、Init，Stop 在任意阶段之后都可调用。
type Lifecycle[C any] interface {
	// Prepare 校验配置并准备运行所需的文件与端口，不启动进程
	Prepare(env *Environment, cfg C) error
	// Run 启动组件实例
	Run(ctx context.Context) error
	// Wait 阻塞直到所有实例就绪
	Wait(ctx context.Context) error
	// Init 写入组件需要的初始数据
	Init(ctx context.Context) error
	// Stop 停止全部实例，可重复调用
	Stop(ctx context.Context) error
	// Client 返回组件使用的存储客户端
	Client() cypress.Store
}
