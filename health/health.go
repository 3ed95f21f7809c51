// Package health implements the built-in health-checking service of
// spec.md's introspection section: a per-service serving-status map with
// Check (point-in-time) and Watch (streaming) semantics, wired to the
// real grpc.health.v1 wire messages so any standard gRPC health-check
// client can talk to it.
package health

import (
	"sync"

	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/wireloop/wireloop/rpcctx"
	"github.com/wireloop/wireloop/status"
	"github.com/wireloop/wireloop/streamio"
)

// overallServiceName is the empty-string service name healthpb reserves
// for the whole server's status, same convention grpc-go's own health
// package uses.
const overallServiceName = ""

// Service implements the two methods of the health-check protocol
// described by grpc_health_v1.HealthServer (Check and Watch), registered
// like any other service.
type Service struct {
	mu        sync.RWMutex
	status    map[string]healthpb.HealthCheckResponse_ServingStatus
	watchers  map[string][]chan healthpb.HealthCheckResponse_ServingStatus
}

// New creates a Service with the overall server status set to SERVING.
func New() *Service {
	return &Service{
		status: map[string]healthpb.HealthCheckResponse_ServingStatus{
			overallServiceName: healthpb.HealthCheckResponse_SERVING,
		},
		watchers: make(map[string][]chan healthpb.HealthCheckResponse_ServingStatus),
	}
}

// SetServingStatus records service's current status and notifies any
// active Watch streams, mirroring grpc-go health.Server's SetServingStatus.
func (s *Service) SetServingStatus(service string, st healthpb.HealthCheckResponse_ServingStatus) {
	s.mu.Lock()
	s.status[service] = st
	watchers := append([]chan healthpb.HealthCheckResponse_ServingStatus(nil), s.watchers[service]...)
	s.mu.Unlock()

	for _, ch := range watchers {
		select {
		case ch <- st:
		default:
			// The channel still holds an undelivered older status: replace
			// it, so a slow watcher only ever sees the latest status once it
			// drains its channel; health status is level-triggered, not
			// an event log, so dropping an intermediate update is fine.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- st:
			default:
			}
		}
	}
}

// Shutdown marks every known service NOT_SERVING, used while draining
// (spec: the server stops accepting new RPCs for a service before it
// finishes in-flight ones).
func (s *Service) Shutdown() {
	s.mu.Lock()
	names := make([]string, 0, len(s.status))
	for name := range s.status {
		names = append(names, name)
	}
	s.mu.Unlock()
	for _, name := range names {
		s.SetServingStatus(name, healthpb.HealthCheckResponse_NOT_SERVING)
	}
}

// Check implements the point-in-time health RPC.
func (s *Service) Check(ctx *rpcctx.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, *status.Status) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.status[req.Service]
	if !ok {
		return nil, status.Newf(codes.NotFound, "unknown service %q", req.Service)
	}
	return &healthpb.HealthCheckResponse{Status: st}, nil
}

// Watch implements the streaming health RPC: it sends the current status
// immediately, then the latest status after each SetServingStatus call
// (changes made faster than the stream sends them are coalesced to the
// most recent one), until the client cancels.
func (s *Service) Watch(ctx *rpcctx.Context, req *healthpb.HealthCheckRequest, stream streamio.ServerStream[healthpb.HealthCheckResponse]) *status.Status {
	ch := make(chan healthpb.HealthCheckResponse_ServingStatus, 1)

	s.mu.Lock()
	current, ok := s.status[req.Service]
	if !ok {
		current = healthpb.HealthCheckResponse_SERVICE_UNKNOWN
	}
	s.watchers[req.Service] = append(s.watchers[req.Service], ch)
	s.mu.Unlock()

	defer s.removeWatcher(req.Service, ch)

	if err := stream.Send(&healthpb.HealthCheckResponse{Status: current}); err != nil {
		return status.FromError(err)
	}

	for {
		select {
		case st := <-ch:
			if err := stream.Send(&healthpb.HealthCheckResponse{Status: st}); err != nil {
				return status.FromError(err)
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

func (s *Service) removeWatcher(service string, ch chan healthpb.HealthCheckResponse_ServingStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	watchers := s.watchers[service]
	for i, w := range watchers {
		if w == ch {
			s.watchers[service] = append(watchers[:i], watchers[i+1:]...)
			break
		}
	}
}
