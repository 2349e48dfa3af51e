package main

import (
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/HatiCode/vmpredict/pkg/service"
)

// grpcServiceName is the service name reported by the gRPC health service.
const grpcServiceName = "vmpredict.Predictor"

// healthServer mirrors the service state on grpc.health.v1. The empty
// service name reports process liveness and is always SERVING until shutdown.
type healthServer struct {
	server *health.Server
}

func newHealthServer() *healthServer {
	s := health.NewServer()
	s.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	s.SetServingStatus(grpcServiceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	return &healthServer{server: s}
}

func (h *healthServer) setState(st service.State) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if st == service.Ready {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	h.server.SetServingStatus(grpcServiceName, status)
}

func (h *healthServer) shutdown() {
	h.server.Shutdown()
}
