package httpapi

import (
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// GRPCServer serves the standard gRPC health v1 service so load balancers
// and sidecars can probe the process without speaking HTTP.
type GRPCServer struct {
	server *grpc.Server
	health *health.Server
}

// NewGRPCServer creates the server with both the empty service name and
// the named one reporting SERVING.
func NewGRPCServer() *GRPCServer {
	s := grpc.NewServer()
	h := health.NewServer()
	h.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	h.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, h)
	return &GRPCServer{server: s, health: h}
}

// Serve blocks serving the listener until Stop or GracefulStop.
func (g *GRPCServer) Serve(lis net.Listener) error {
	return g.server.Serve(lis)
}

// SetNotServing flips health to NOT_SERVING ahead of connection draining,
// so probes stop sending traffic before shutdown begins.
func (g *GRPCServer) SetNotServing() {
	g.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	g.health.SetServingStatus(serviceName, healthpb.HealthCheckResponse_NOT_SERVING)
}

// GracefulStop drains in-flight RPCs and stops the server.
func (g *GRPCServer) GracefulStop() {
	g.server.GracefulStop()
}
