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

// Package config 加载 yqlenv 测试环境的全局配置。
// 配置来源优先级：YQLENV_ 前缀的环境变量 > YQLENV_CONFIG_PATH 指定的配置文件 > 默认值。
package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"github.com/yqlenv/yqlenv/internal/cypress"
	"github.com/yqlenv/yqlenv/internal/logger"
	"github.com/yqlenv/yqlenv/internal/otel_trace"
)

// EnvConfigPath 配置文件路径环境变量
const EnvConfigPath = "YQLENV_CONFIG_PATH"

const envPrefix = "YQLENV"

// Config 全局配置
type Config struct {
	Log       logger.Config     `mapstructure:"log"`
	Telemetry otel_trace.Config `mapstructure:"telemetry"`
	Store     cypress.Config    `mapstructure:"store"`
	Agent     AgentConfig       `mapstructure:"agent"`
	Wait      WaitConfig        `mapstructure:"wait"`
}

// AgentConfig YQL Agent 组件配置
type AgentConfig struct {
	// Path 覆盖 Agent 可执行文件路径
	Path                      string        `mapstructure:"path"`
	StartTimeout              time.Duration `mapstructure:"start_timeout"`
	StopTimeout               time.Duration `mapstructure:"stop_timeout"`
	HeartbeatInterval         time.Duration `mapstructure:"heartbeat_interval"`
	DynamicConfigUpdatePeriod time.Duration `mapstructure:"dynamic_config_update_period"`
}

// WaitConfig 动态配置生效等待配置
type WaitConfig struct {
	DynamicConfigTimeout time.Duration `mapstructure:"dynamic_config_timeout"`
	PollPeriod           time.Duration `mapstructure:"poll_period"`
}

var (
	global     *Config
	globalErr  error
	globalOnce sync.Once
)

// Get 返回进程内共享的配置，首次调用时加载
func Get() (*Config, error) {
	globalOnce.Do(func() {
		global, globalErr = Load()
	})
	return global, globalErr
}

// Load 读取配置文件与环境变量
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 加载配置文件路径
	if configPath := os.Getenv(EnvConfigPath); configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("[Config] read config %s failed: %w", configPath, err)
		}
	}

	// 解析配置到结构体
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("[Config] parse config failed: %w", err)
	}
	return &c, nil
}

// setDefaults 设置配置默认值
func setDefaults(v *viper.Viper) {
	// 日志默认配置
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", logger.FormatConsole)
	v.SetDefault("log.output", logger.OutputStderr)
	v.SetDefault("log.file_path", "")

	// 追踪默认配置
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.endpoint", "")
	v.SetDefault("telemetry.insecure", true)
	v.SetDefault("telemetry.service_name", "yqlenv")

	// 存储默认配置，SQLite 文件路径为空时放在环境目录下
	v.SetDefault("store.backend", cypress.BackendSQLite)
	v.SetDefault("store.database.sqlite_path", "")
	v.SetDefault("store.database.log_level", "silent")
	v.SetDefault("store.redis.addr", "")
	v.SetDefault("store.redis.prefix", "")
	v.SetDefault("store.etcd.endpoints", []string{})
	v.SetDefault("store.etcd.dial_timeout", 5*time.Second)
	v.SetDefault("store.etcd.namespace", "")

	// Agent 默认配置
	v.SetDefault("agent.path", "")
	v.SetDefault("agent.start_timeout", 60*time.Second)
	v.SetDefault("agent.stop_timeout", 10*time.Second)
	v.SetDefault("agent.heartbeat_interval", time.Second)
	v.SetDefault("agent.dynamic_config_update_period", 500*time.Millisecond)

	v.SetDefault("wait.dynamic_config_timeout", 60*time.Second)
	v.SetDefault("wait.poll_period", 200*time.Millisecond)
}
