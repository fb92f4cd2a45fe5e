// Package grpclocal provides the "grpc" resource provider, which runs an
// in-process gRPC server as a Local resource together with a client
// connection to it.
//
// By default the server listens on an in-memory bufconn listener. Setting
// the "listen" property makes it listen on a real address through
// rebind.Listen, so an installed listen rebase provider moves fixed ports
// to ephemeral loopback ones.
//
// Services are registered by name with RegisterService and selected with
// the comma separated "services" property. The standard health service is
// always served.
//
// A started server contributes the bindings *grpc.ClientConn,
// grpc.ClientConnInterface and *grpc.Server under the resource name.
package grpclocal
