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
	"time"

	"github.com/yqlenv/yqlenv/internal/db"
	"go.uber.org/zap"
)

// 存储后端类型
const (
	BackendMemory   = "memory"
	BackendSQLite   = db.DatabaseTypeSQLite
	BackendMySQL    = db.DatabaseTypeMySQL
	BackendPostgres = db.DatabaseTypePostgres
	BackendRedis    = "redis"
	BackendEtcd     = "etcd"
)

// Config 存储配置
// memory 后端只在当前进程内可见，不能与 Agent 进程共享
type Config struct {
	Backend  string      `mapstructure:"backend" yaml:"backend"`
	Database db.Config   `mapstructure:"database" yaml:"database"`
	Redis    RedisConfig `mapstructure:"redis" yaml:"redis"`
	Etcd     EtcdConfig  `mapstructure:"etcd" yaml:"etcd"`
}

// RedisConfig Redis 后端配置
type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
	PoolSize int    `mapstructure:"pool_size" yaml:"pool_size"`
	Prefix   string `mapstructure:"prefix" yaml:"prefix"`
}

// EtcdConfig etcd 后端配置
type EtcdConfig struct {
	Endpoints   []string      `mapstructure:"endpoints" yaml:"endpoints"`
	DialTimeout time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
	Username    string        `mapstructure:"username" yaml:"username"`
	Password    string        `mapstructure:"password" yaml:"password"`
	Namespace   string        `mapstructure:"namespace" yaml:"namespace"`
}

// Shared 判断该后端是否可以跨进程共享
func (c Config) Shared() bool {
	return c.Backend != BackendMemory
}

// Open 根据配置选择后端并创建客户端
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}

	client, err := NewClient(ctx, backend, logger)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	return client, nil
}

func openBackend(ctx context.Context, cfg Config) (Backend, error) {
	switch cfg.Backend {
	case BackendMemory:
		return NewMemoryBackend(), nil
	case "", BackendSQLite, BackendMySQL, BackendPostgres:
		dbConfig := cfg.Database
		if cfg.Backend != "" {
			dbConfig.Type = cfg.Backend
		}
		gdb, err := db.Open(dbConfig)
		if err != nil {
			return nil, err
		}
		backend, err := NewGormBackend(ctx, gdb, true)
		if err != nil {
			_ = db.Close(gdb)
			return nil, err
		}
		return backend, nil
	case BackendRedis:
		return openRedisBackend(ctx, cfg.Redis)
	case BackendEtcd:
		return openEtcdBackend(ctx, cfg.Etcd)
	default:
		return nil, fmt.Errorf("cypress: unsupported backend %q, supported: memory, sqlite, mysql, postgres, redis, etcd", cfg.Backend)
	}
}
