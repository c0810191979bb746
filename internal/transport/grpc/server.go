// grpc — gRPC-сервер краулера: управление проходами и очисткой
// (crawler.v1.Crawler) и стандартный health-протокол.
package grpc

import (
	"context"
	"log/slog"
	"time"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName — имя сервиса в health-протоколе.
const ServiceName = "crawler"

// Options — параметры gRPC-сервера.
type Options struct {
	Logger *slog.Logger
	// Timeout — таймаут вызовов; CleanupTimeout — таймаут Cleanup (0 — без ограничения).
	Timeout        time.Duration
	CleanupTimeout time.Duration
	// RunContext — время жизни проходов, запущенных через TriggerRun; nil — context.Background().
	RunContext context.Context
	// Reflection включает server reflection (только local/dev).
	Reflection bool
}

// Server — gRPC-сервер краулера с health-протоколом.
type Server struct {
	srv    *grpc.Server
	health *health.Server
}

// NewServer собирает gRPC-сервер. Изначально статус — NOT_SERVING.
func NewServer(svc Service, opts Options) *Server {
	srv := grpc.NewServer(
		// Интерсепторы (внешний -> внутренний); метрики видят итоговый код.
		grpc.ChainUnaryInterceptor(
			grpc_prometheus.UnaryServerInterceptor,
			Logging(opts.Logger),
			Recover(),
			Errors(),
			Timeouts(opts.Timeout, map[string]time.Duration{MethodCleanup: opts.CleanupTimeout}),
			RejectWhileRunning(svc.Running, MethodCleanup),
		),
		grpc.ChainStreamInterceptor(
			grpc_prometheus.StreamServerInterceptor,
		),
	)

	RegisterCrawlerServer(srv, newCrawlerServer(svc, opts.RunContext))

	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	if opts.Reflection {
		reflection.Register(srv)
	}

	grpc_prometheus.Register(srv)

	s := &Server{srv: srv, health: hs}
	s.SetServing(false)

	return s
}

// GRPC возвращает нижележащий *grpc.Server (Serve/GracefulStop/Stop).
func (s *Server) GRPC() *grpc.Server {
	return s.srv
}

// SetServing переключает статус health для "", ServiceName и CrawlerServiceName.
func (s *Server) SetServing(ok bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		st = healthpb.HealthCheckResponse_SERVING
	}

	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
	s.health.SetServingStatus(CrawlerServiceName, st)
}
