// Package server implements spec.md §4.11: the listener lifecycle that
// turns a frozen registry into a running gRPC-over-HTTP/2 endpoint -
// accept loop, state machine, graceful/forced shutdown, and the
// health/reflection services every server auto-registers, adapted from
// the grpc.Server wrapper shape of a pack reference server (Stop,
// GracefulStop, Serve) onto our own transport.Conn instead of
// google.golang.org/grpc.
package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wireloop/wireloop/config"
	"github.com/wireloop/wireloop/dispatch"
	"github.com/wireloop/wireloop/grpcframe"
	"github.com/wireloop/wireloop/health"
	"github.com/wireloop/wireloop/interceptor"
	"github.com/wireloop/wireloop/reflection"
	"github.com/wireloop/wireloop/registry"
	"github.com/wireloop/wireloop/transport"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	reflectionpb "google.golang.org/grpc/reflection/grpc_reflection_v1"
)

// State is one position in the lifecycle state machine spec §4.11 names:
// STOPPED -> STARTING -> RUNNING -> DRAINING -> STOPPING -> STOPPED.
type State int

const (
	Stopped State = iota
	Starting
	Running
	Draining
	Stopping
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "STOPPED"
	case Starting:
		return "STARTING"
	case Running:
		return "RUNNING"
	case Draining:
		return "DRAINING"
	case Stopping:
		return "STOPPING"
	default:
		return "UNKNOWN"
	}
}

// Server owns one listener's worth of connections and the catalog they
// dispatch against. Health and reflection are auto-registered into the
// registry at New, matching spec §4.12's "a server always exposes
// health and reflection unless explicitly disabled" requirement.
type Server struct {
	cfg        config.Config
	logger     *zap.Logger
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
	health     *health.Service

	mu       sync.Mutex
	state    State
	listener net.Listener
	tls      *tls.Config
	conns    map[*transport.Conn]struct{}
	wg       sync.WaitGroup
}

// options holds the optional collaborators New accepts beyond the
// required cfg/reg/logger: a metrics registerer and a tracer, each
// defaulted (own prometheus.Registry, no-op tracer) so a caller that
// doesn't care about observability wiring needs zero boilerplate.
type options struct {
	metricsRegisterer prometheus.Registerer
	tracer            trace.Tracer
}

// Option configures optional Server collaborators.
type Option func(*options)

// WithMetricsRegisterer sets the prometheus.Registerer the Metrics
// interceptor registers its collectors on. Defaults to a fresh
// prometheus.NewRegistry() (not the global DefaultRegisterer) so
// repeated Server construction in tests never panics on duplicate
// registration.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.metricsRegisterer = reg }
}

// WithTracer sets the tracer the Tracing interceptor starts spans on.
// Defaults to a no-op tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) { o.tracer = tracer }
}

// New builds a Server around reg. reg must not be frozen yet: New
// registers the health and reflection services (unless disabled in cfg)
// and freezes the registry itself, since no method may be added once a
// connection can dispatch against it (spec §4.9). Every call is routed
// through the standard interceptor chain (spec §5): panic recovery,
// structured logging, tracing, then metrics, outermost first.
func New(cfg config.Config, reg *registry.Registry, logger *zap.Logger, opts ...Option) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{metricsRegisterer: prometheus.NewRegistry()}
	for _, opt := range opts {
		opt(&o)
	}

	healthSvc := health.New()
	if cfg.EnableHealthCheck {
		registerHealthService(reg, healthSvc)
	}
	if cfg.EnableReflection {
		registerReflectionService(reg, reflection.New(reg, nil))
	}
	reg.Freeze()

	tlsConfig, err := buildTLSConfig(cfg.TLS)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}

	chain := []interceptor.Interceptor{
		interceptor.NewRecovery(logger),
		interceptor.NewLogging(logger),
		interceptor.NewTracing(o.tracer),
		interceptor.NewMetrics(o.metricsRegisterer),
	}

	return &Server{
		cfg:        cfg,
		logger:     logger,
		registry:   reg,
		dispatcher: dispatch.New(reg, chain...),
		health:     healthSvc,
		state:      Stopped,
		tls:        tlsConfig,
		conns:      make(map[*transport.Conn]struct{}),
	}, nil
}

// registerHealthService wires health.Service's Check and Watch methods into
// reg under its real grpc.health.v1 package name, the dynamic-registry
// equivalent of grpc-go's grpc_health_v1.RegisterHealthServer.
func registerHealthService(reg *registry.Registry, svc *health.Service) {
	s := registry.NewService(healthpb.Health_ServiceDesc.ServiceName, "grpc.health.v1")
	registry.RegisterUnary(s, "Check", svc.Check)
	registry.RegisterServerStream(s, "Watch", svc.Watch)
	reg.Register(s)
}

// registerReflectionService wires reflection.Service's single
// bidi-streaming RPC into reg, the registry equivalent of grpc-go's
// reflection.Register.
func registerReflectionService(reg *registry.Registry, svc *reflection.Service) {
	s := registry.NewService(reflectionpb.ServerReflection_ServiceDesc.ServiceName, "grpc.reflection.v1")
	registry.RegisterBidiStream(s, "ServerReflectionInfo", svc.ServerReflectionInfo)
	reg.Register(s)
}

func buildTLSConfig(t *config.TLS) (*tls.Config, error) {
	if t == nil {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(t.CertFile, t.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load TLS key pair: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{"h2"},
	}, nil
}

// State reports the server's current lifecycle position.
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Addr returns the listener's bound address, or nil before Start; after
// Stop it still reports the address the closed listener was bound to.
// Useful when cfg.Port is 0 (let the OS choose a free port).
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start implements spec §4.11's start operation: bind the listener, mark
// the overall health status SERVING (the health service itself is
// registered by New), and spawn the accept loop. It returns once the
// listener is bound and accepting; the accept loop keeps running until
// Stop is called or ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != Stopped {
		s.mu.Unlock()
		return fmt.Errorf("server: cannot start from state %s", s.state)
	}
	s.state = Starting
	s.mu.Unlock()

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.setState(Stopped)
		return fmt.Errorf("server: listen on %s: %w", addr, err)
	}
	if s.tls != nil {
		ln = tls.NewListener(ln, s.tls)
	}

	s.mu.Lock()
	s.listener = ln
	s.state = Running
	s.mu.Unlock()

	if s.cfg.EnableHealthCheck {
		s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	}

	s.wg.Add(1)
	go s.acceptLoop(ctx, ln)

	s.logger.Info("server started", zap.String("addr", addr), zap.Bool("tls", s.tls != nil))
	return nil
}

func (s *Server) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// acceptLoop runs spec §4.11's connection admission loop: every accepted
// socket becomes a transport.Conn served on its own goroutine, subject to
// cfg.MaxConnections. It returns when the listener is closed by Stop.
func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) {
	defer s.wg.Done()
	for {
		netConn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			s.mu.Lock()
			stopping := s.state == Stopping || s.state == Stopped
			s.mu.Unlock()
			if stopping {
				return
			}
			s.logger.Warn("accept failed", zap.Error(err))
			continue
		}

		if s.cfg.MaxConnections > 0 && s.activeConns() >= s.cfg.MaxConnections {
			s.logger.Warn("rejecting connection: max_connections reached", zap.Int("limit", s.cfg.MaxConnections))
			netConn.Close()
			continue
		}

		conn := transport.NewWithSettings(
			netConn,
			s.dispatcher,
			s.compressorRegistry(),
			s.logger,
			transport.KeepaliveParams{
				Interval:            s.cfg.KeepaliveInterval,
				Timeout:             s.cfg.KeepaliveTimeout,
				PermitWithoutStream: false,
			},
			transport.Settings{
				MaxConcurrentStreams: uint32(s.cfg.MaxConcurrentStreams),
				MaxFrameSize:         uint32(s.cfg.MaxFrameSize),
				HeaderTableSize:      uint32(s.cfg.HeaderTableSize),
				InitialWindowSize:    int32(s.cfg.InitialWindowSize),
			},
		)

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := conn.Serve(ctx); err != nil {
				s.logger.Debug("connection closed", zap.Error(err))
			}
			s.mu.Lock()
			delete(s.conns, conn)
			s.mu.Unlock()
		}()
	}
}

// compressorRegistry builds the per-connection compressor set from
// cfg.CompressionEnabled alone (spec §6): when it is off, an empty
// registry accepts identity only, since grpcframe.Registry.Get always
// resolves "identity" without a registered Compressor; when it is on,
// grpcframe.NewRegistry's default set is used. cfg.SupportedCodecs is not
// consulted.
func (s *Server) compressorRegistry() *grpcframe.Registry {
	if !s.cfg.CompressionEnabled {
		return &grpcframe.Registry{}
	}
	reg := grpcframe.NewRegistry()
	return reg
}

func (s *Server) activeConns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Stop implements spec §4.11's stop(force, timeout) operation. force
// closes the listener and aborts every connection immediately. Graceful
// (force=false) closes the listener, GOAWAYs every connection, and waits
// up to timeout for active streams to drain before aborting the rest.
func (s *Server) Stop(force bool, timeout time.Duration) error {
	s.mu.Lock()
	if s.state != Running {
		s.mu.Unlock()
		return fmt.Errorf("server: cannot stop from state %s", s.state)
	}
	s.state = Draining
	ln := s.listener
	conns := make([]*transport.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	if s.cfg.EnableHealthCheck {
		s.health.Shutdown()
	}
	s.setState(Stopping)
	if ln != nil {
		ln.Close()
	}

	ctx := context.Background()
	var cancel context.CancelFunc
	if !force {
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var wg sync.WaitGroup
	for _, c := range conns {
		wg.Add(1)
		go func(c *transport.Conn) {
			defer wg.Done()
			c.Shutdown(ctx, force)
		}(c)
	}
	wg.Wait()

	s.wg.Wait()
	s.setState(Stopped)
	s.logger.Info("server stopped", zap.Bool("force", force))
	return nil
}

// ReloadTLS implements spec §4.11's reload_tls operation: valid only
// while RUNNING with TLS already configured, it re-reads the certificate
// chain for new connections. Connections already accepted keep whatever
// certificate they negotiated at handshake time.
func (s *Server) ReloadTLS(certFile, keyFile string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Running {
		return fmt.Errorf("server: reload_tls requires state RUNNING, got %s", s.state)
	}
	if s.tls == nil {
		return fmt.Errorf("server: reload_tls requires TLS to already be configured")
	}

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return fmt.Errorf("server: reload_tls: %w", err)
	}
	s.tls.Certificates = []tls.Certificate{cert}
	return nil
}
