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
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/yqlenv/yqlenv/internal/environment"
	"github.com/yqlenv/yqlenv/internal/fixture"
	"github.com/yqlenv/yqlenv/internal/logger"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

func newUpCommand(state *cliState) *cobra.Command {
	var (
		count             int
		agentPath         string
		dynamicConfigFile string
	)

	cmd := &cobra.Command{
		Use:   "up",
		Short: "Start YQL agents and keep them running until interrupted / 启动 YQL Agent 直到被中断",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var dynamicConfig any
			if dynamicConfigFile != "" {
				data, err := os.ReadFile(dynamicConfigFile)
				if err != nil {
					return fmt.Errorf("failed to read dynamic config: %w", err)
				}
				if err := yaml.Unmarshal(data, &dynamicConfig); err != nil {
					return fmt.Errorf("failed to parse dynamic config: %w", err)
				}
			}

			env, err := environment.New(ctx, environment.Options{
				Path:   state.envDir,
				Store:  state.config.Store,
				Logger: logger.Named("environment"),
			})
			if err != nil {
				return err
			}
			defer env.Close()

			var opts []fixture.Option
			if agentPath != "" {
				opts = append(opts, fixture.WithAgentPath(agentPath))
			}
			agent, err := fixture.NewYqlAgent(env, count, opts...)
			if err != nil {
				return err
			}

			return agent.With(ctx, func(ctx context.Context) error {
				suite := &fixture.Suite{Env: env, NumYqlAgents: count, YqlAgentDynamicConfig: dynamicConfig}
				if err := fixture.UpdateYqlAgentEnvironment(ctx, suite, agent); err != nil {
					return err
				}

				logger.L().Info("yql agents are running",
					zap.String("env", env.Path()),
					zap.Int("count", count),
				)
				fmt.Fprintf(cmd.OutOrStdout(), "environment: %s\n", env.Path())

				<-ctx.Done()
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", fixture.DefaultNumYqlAgents, "number of YQL agents")
	cmd.Flags().StringVar(&agentPath, "agent-path", "", "YQL agent executable")
	cmd.Flags().StringVar(&dynamicConfigFile, "dynamic-config", "", "YAML file with the yql_agent dynamic config override")
	return cmd
}
