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

package orchid

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Client reads orchid values from a remote agent.
// Client 从远程 Agent 读取 orchid 值。
type Client struct {
	conn *grpc.ClientConn
}

// Dial creates a client for the given address. Extra options are appended
// after the insecure transport credentials.
// Dial 创建连接指定地址的客户端。
func Dial(ctx context.Context, address string, opts ...grpc.DialOption) (*Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}, opts...)

	conn, err := grpc.NewClient(address, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("orchid: dial %s: %w", address, err)
	}
	return &Client{conn: conn}, nil
}

// Get returns the value at path. A missing path yields ErrPathNotFound.
// Get 返回路径上的值，路径不存在时返回 ErrPathNotFound。
func (c *Client) Get(ctx context.Context, path string) (any, error) {
	out := new(wrapperspb.BytesValue)
	err := c.conn.Invoke(ctx, GetMethod, wrapperspb.String(path), out)
	if status.Code(err) == codes.NotFound {
		return nil, fmt.Errorf("%w: %s", ErrPathNotFound, path)
	}
	if err != nil {
		return nil, err
	}
	value, err := decode(out.GetValue())
	if err != nil {
		return nil, fmt.Errorf("orchid: decode %s: %w", path, err)
	}
	return value, nil
}

// Close closes the underlying connection.
// Close 关闭底层连接。
func (c *Client) Close() error {
	if c.conn == nil {
		return errors.New("orchid: client not connected")
	}
	return c.conn.Close()
}
