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
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/yqlenv/yqlenv/internal/config"
	"github.com/yqlenv/yqlenv/internal/cypress"
	"github.com/yqlenv/yqlenv/internal/logger"
	"github.com/yqlenv/yqlenv/internal/otel_trace"
)

// cliState 命令之间共享的状态
type cliState struct {
	configFile string
	envDir     string
	config     *config.Config
}

func newRootCommand() *cobra.Command {
	state := &cliState{}

	rootCmd := &cobra.Command{
		Use:   "yqlenv",
		Short: "yqlenv - local YQL agent environment",
		Long: `yqlenv starts YQL agents against a local configuration store and
inspects or edits the store.
yqlenv 启动连接本地配置存储的 YQL Agent，并查看或修改存储内容。`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return state.init(cmd.Context())
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			otel_trace.Shutdown(context.Background())
			_ = logger.Sync()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&state.configFile, "config", "c", "", "config file path (overrides "+config.EnvConfigPath+")")
	rootCmd.PersistentFlags().StringVarP(&state.envDir, "env", "e", "", "environment directory (default: a new temporary directory for up)")

	rootCmd.AddCommand(
		newUpCommand(state),
		newGetCommand(state),
		newSetCommand(state),
		newListCommand(state),
	)
	return rootCmd
}

func (s *cliState) init(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.configFile != "" {
		if err := os.Setenv(config.EnvConfigPath, s.configFile); err != nil {
			return err
		}
	}

	cfg, err := config.Get()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	s.config = cfg

	if err := logger.Init(cfg.Log); err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	otel_trace.Init(ctx, cfg.Telemetry)
	return nil
}

// storeConfig 返回环境目录对应的存储配置，SQLite 路径为空时使用 <env>/cypress.db
func (s *cliState) storeConfig() (cypress.Config, error) {
	store := s.config.Store
	if (store.Backend == "" || store.Backend == cypress.BackendSQLite) && store.Database.SQLitePath == "" {
		if s.envDir == "" {
			return store, fmt.Errorf("--env is required for the sqlite store")
		}
		store.Database.SQLitePath = filepath.Join(s.envDir, "cypress.db")
	}
	return store, nil
}

// openStore 打开配置存储客户端
func (s *cliState) openStore(ctx context.Context) (*cypress.Client, error) {
	store, err := s.storeConfig()
	if err != nil {
		return nil, err
	}
	return cypress.Open(ctx, store, logger.Named("cypress"))
}
