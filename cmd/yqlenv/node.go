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
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/yqlenv/yqlenv/internal/cypress"
)

func newGetCommand(state *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "get PATH",
		Short: "Print a node as JSON / 以 JSON 输出节点",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := state.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()

			value, err := client.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(value, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

func newSetCommand(state *cliState) *cobra.Command {
	var recursive bool

	cmd := &cobra.Command{
		Use:   "set PATH JSON",
		Short: "Replace a document with a JSON value / 用 JSON 值替换文档",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := cypress.DecodeValue([]byte(args[1]))
			if err != nil {
				return fmt.Errorf("invalid JSON value: %w", err)
			}

			client, err := state.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()

			if recursive {
				if err := ensureParent(cmd.Context(), client, args[0]); err != nil {
					return err
				}
			}
			return client.Set(cmd.Context(), args[0], value)
		},
	}
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "create missing parent map nodes")
	return cmd
}

func newListCommand(state *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "list PATH",
		Short: "List children of a map node / 列出 map 节点的子节点",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := state.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()

			names, err := client.List(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

// ensureParent 递归创建 path 的父 map 节点
func ensureParent(ctx context.Context, client cypress.Store, path string) error {
	if err := cypress.ValidatePath(path); err != nil {
		return err
	}
	parent, _ := cypress.Split(path)
	if parent == "" || parent == cypress.RootPath {
		return nil
	}
	return client.Create(ctx, cypress.NodeTypeMap, parent, cypress.CreateOptions{Recursive: true, IgnoreExisting: true})
}
