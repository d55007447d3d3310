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

// Package config provides configuration management for the YQL agent.
// config 包提供 YQL Agent 的配置管理功能。
package config

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/yqlenv/yqlenv/internal/cypress"
	"github.com/yqlenv/yqlenv/internal/logger"
	"github.com/yqlenv/yqlenv/internal/otel_trace"
	"gopkg.in/yaml.v3"
)

// Default configuration values
// 默认配置值
const (
	DefaultHost                  = "localhost"
	DefaultConfigDocumentPath    = "//sys/yql_agent/config"
	DefaultInstancesPath         = "//sys/yql_agent/instances"
	DefaultHeartbeatInterval     = time.Second
	DefaultUpdatePeriod          = 500 * time.Millisecond
	DefaultShutdownTimeout       = 5 * time.Second
	DefaultLogLevel              = "info"
	DefaultLogFormat             = logger.FormatConsole
	DefaultLogOutput             = logger.OutputStderr
	DefaultStoreBackend          = cypress.BackendSQLite
	DefaultNativeClientSupported = true

	// EnvPrefix 环境变量前缀，例如 YQL_AGENT_INSTANCE_RPC_PORT
	EnvPrefix = "YQL_AGENT"
)

// Config represents the YQL agent configuration
// Config 表示 YQL Agent 配置
type Config struct {
	Instance              InstanceConfig      `mapstructure:"instance" yaml:"instance"`
	Store                 cypress.Config      `mapstructure:"store" yaml:"store"`
	Paths                 PathsConfig         `mapstructure:"paths" yaml:"paths"`
	ArtifactsPath         string              `mapstructure:"artifacts_path" yaml:"artifacts_path"`
	NativeClientSupported bool                `mapstructure:"native_client_supported" yaml:"native_client_supported"`
	DynamicConfig         DynamicConfigConfig `mapstructure:"dynamic_config" yaml:"dynamic_config"`
	Heartbeat             HeartbeatConfig     `mapstructure:"heartbeat" yaml:"heartbeat"`
	ShutdownTimeout       time.Duration       `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	Log                   logger.Config       `mapstructure:"log" yaml:"log"`
	Telemetry             otel_trace.Config   `mapstructure:"telemetry" yaml:"telemetry"`
}

// InstanceConfig 实例标识与监听端口
type InstanceConfig struct {
	Index          int    `mapstructure:"index" yaml:"index"`
	Host           string `mapstructure:"host" yaml:"host"`
	RPCPort        int    `mapstructure:"rpc_port" yaml:"rpc_port"`
	MonitoringPort int    `mapstructure:"monitoring_port" yaml:"monitoring_port"`
}

// RPCAddress 返回 orchid gRPC 监听地址，同时也是注册名
func (i InstanceConfig) RPCAddress() string {
	return net.JoinHostPort(i.Host, strconv.Itoa(i.RPCPort))
}

// MonitoringAddress 返回监控 HTTP 监听地址
func (i InstanceConfig) MonitoringAddress() string {
	return net.JoinHostPort(i.Host, strconv.Itoa(i.MonitoringPort))
}

// PathsConfig 配置存储中的节点路径
type PathsConfig struct {
	ConfigDocument string `mapstructure:"config_document" yaml:"config_document"`
	Instances      string `mapstructure:"instances" yaml:"instances"`
}

// DynamicConfigConfig 动态配置轮询参数
type DynamicConfigConfig struct {
	UpdatePeriod time.Duration `mapstructure:"update_period" yaml:"update_period"`
}

// HeartbeatConfig represents heartbeat configuration
// HeartbeatConfig 表示心跳配置
type HeartbeatConfig struct {
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
}

// Load loads configuration from file, environment variables, and defaults
// Load 从文件、环境变量和默认值加载配置
// Priority: overrides > env > file > defaults
// 优先级：显式覆盖 > 环境变量 > 配置文件 > 默认值
func Load(configPath string, overrides map[string]any) (*Config, error) {
	v := newViper()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	for key, value := range overrides {
		v.Set(key, value)
	}

	return unmarshal(v)
}

// LoadFromYAML loads configuration from YAML bytes
// LoadFromYAML 从 YAML 字节加载配置
func LoadFromYAML(yamlData []byte) (*Config, error) {
	v := newViper()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(yamlData)); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return unmarshal(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	// Enable environment variable override / 启用环境变量覆盖
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// setDefaults sets default configuration values
// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	// Instance defaults / 实例默认值
	v.SetDefault("instance.index", 0)
	v.SetDefault("instance.host", DefaultHost)
	v.SetDefault("instance.rpc_port", 0)
	v.SetDefault("instance.monitoring_port", 0)

	// Store defaults / 存储默认值
	v.SetDefault("store.backend", DefaultStoreBackend)
	v.SetDefault("store.database.type", "")
	v.SetDefault("store.database.sqlite_path", "")
	v.SetDefault("store.database.log_level", "silent")
	v.SetDefault("store.redis.addr", "")
	v.SetDefault("store.redis.prefix", "")
	v.SetDefault("store.etcd.endpoints", []string{})
	v.SetDefault("store.etcd.namespace", "")

	v.SetDefault("paths.config_document", DefaultConfigDocumentPath)
	v.SetDefault("paths.instances", DefaultInstancesPath)

	v.SetDefault("artifacts_path", "")
	v.SetDefault("native_client_supported", DefaultNativeClientSupported)

	v.SetDefault("dynamic_config.update_period", DefaultUpdatePeriod)
	v.SetDefault("heartbeat.interval", DefaultHeartbeatInterval)
	v.SetDefault("shutdown_timeout", DefaultShutdownTimeout)

	// Log defaults / 日志默认值
	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.format", DefaultLogFormat)
	v.SetDefault("log.output", DefaultLogOutput)
	v.SetDefault("log.file_path", "")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.endpoint", "")
	v.SetDefault("telemetry.insecure", true)
	v.SetDefault("telemetry.service_name", "yql-agent")
}

// Validate validates the configuration
// Validate 验证配置
func (c *Config) Validate() error {
	if c.Instance.Host == "" {
		return errors.New("instance.host is required")
	}
	if err := validatePort("instance.rpc_port", c.Instance.RPCPort); err != nil {
		return err
	}
	if err := validatePort("instance.monitoring_port", c.Instance.MonitoringPort); err != nil {
		return err
	}
	if c.Instance.RPCPort == c.Instance.MonitoringPort {
		return errors.New("instance.rpc_port and instance.monitoring_port must differ")
	}

	// Agent 与测试进程通过存储交换数据，进程内存储无法共享
	if !c.Store.Shared() {
		return fmt.Errorf("store.backend %q cannot be shared between processes", c.Store.Backend)
	}

	if err := cypress.ValidatePath(c.Paths.ConfigDocument); err != nil {
		return fmt.Errorf("paths.config_document: %w", err)
	}
	if err := cypress.ValidatePath(c.Paths.Instances); err != nil {
		return fmt.Errorf("paths.instances: %w", err)
	}

	// Validate log level / 验证日志级别
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level)
	}

	if c.Heartbeat.Interval <= 0 {
		return errors.New("heartbeat.interval must be positive")
	}
	if c.DynamicConfig.UpdatePeriod <= 0 {
		return errors.New("dynamic_config.update_period must be positive")
	}

	return nil
}

func validatePort(name string, port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("%s must be in range 1-65535, got %d", name, port)
	}
	return nil
}

// String returns a string representation of the config (for debugging)
// String 返回配置的字符串表示（用于调试）
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Instance: %d@%s, Monitoring: %s, Store: %s, Heartbeat.Interval: %v, Log.Level: %s}",
		c.Instance.Index,
		c.Instance.RPCAddress(),
		c.Instance.MonitoringAddress(),
		c.Store.Backend,
		c.Heartbeat.Interval,
		c.Log.Level,
	)
}

// ToYAML serializes the configuration to YAML format
// ToYAML 将配置序列化为 YAML 格式
func (c *Config) ToYAML() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Equal compares two configs for equality
// Equal 比较两个配置是否相等，nil 切片与空切片视为相等
func (c *Config) Equal(other *Config) bool {
	if c == nil || other == nil {
		return c == other
	}

	if c.Instance != other.Instance || c.Paths != other.Paths {
		return false
	}
	if !storeEqual(c.Store, other.Store) {
		return false
	}
	if c.ArtifactsPath != other.ArtifactsPath || c.NativeClientSupported != other.NativeClientSupported {
		return false
	}
	if c.DynamicConfig != other.DynamicConfig || c.Heartbeat != other.Heartbeat {
		return false
	}
	if c.ShutdownTimeout != other.ShutdownTimeout {
		return false
	}
	return c.Log == other.Log && c.Telemetry == other.Telemetry
}

func storeEqual(a, b cypress.Config) bool {
	if a.Backend != b.Backend || a.Database != b.Database || a.Redis != b.Redis {
		return false
	}
	ea, eb := a.Etcd, b.Etcd
	return slices.Equal(ea.Endpoints, eb.Endpoints) &&
		ea.DialTimeout == eb.DialTimeout &&
		ea.Username == eb.Username &&
		ea.Password == eb.Password &&
		ea.Namespace == eb.Namespace
}
