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

// Package orchid provides the introspection RPC served by every YQL agent.
// orchid 包提供每个 YQL Agent 暴露的内部状态查询 RPC。
//
// The service is declared by hand over protobuf well-known types. The reply
// carries the JSON encoding of the value so that 64-bit integers are exact:
// 服务直接基于 protobuf 内置类型声明，返回值为 JSON 编码，64 位整数不丢失精度：
//
//	service Orchid {
//	  rpc Get(google.protobuf.StringValue) returns (google.protobuf.BytesValue);
//	}
package orchid

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	// ServiceName is the fully qualified gRPC service name.
	// ServiceName 是 gRPC 服务全名。
	ServiceName = "yqlenv.Orchid"

	// GetMethod is the full method name of Get.
	// GetMethod 是 Get 方法的全名。
	GetMethod = "/" + ServiceName + "/Get"
)

// OrchidServer is the server API for the Orchid service.
// OrchidServer 是 Orchid 服务的服务端接口。
type OrchidServer interface {
	Get(ctx context.Context, path *wrapperspb.StringValue) (*wrapperspb.BytesValue, error)
}

// RegisterOrchidServer registers the Orchid service on a gRPC server.
// RegisterOrchidServer 在 gRPC 服务器上注册 Orchid 服务。
func RegisterOrchidServer(s grpc.ServiceRegistrar, srv OrchidServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func getHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OrchidServer).Get(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: GetMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(OrchidServer).Get(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

// ServiceDesc is the grpc.ServiceDesc for the Orchid service.
// ServiceDesc 是 Orchid 服务的描述。
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*OrchidServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Get",
			Handler:    getHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "orchid.proto",
}
