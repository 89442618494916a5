package httpapi

import (
	"context"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"classdesk.org/internal/auth"
	"classdesk.org/internal/obs"
)

// Health methods callable without a token. Watch streams and everything else
// registered later require bearer metadata.
var publicGRPCMethods = map[string]struct{}{
	"/grpc.health.v1.Health/Check": {},
	"/grpc.health.v1.Health/List":  {},
}

// GRPCServer serves the standard health service behind the token gate.
type GRPCServer struct {
	server *grpc.Server
	health *healthService
}

type healthService struct {
	*health.Server
	readiness readinessChecker
	log       *slog.Logger
}

// Check refreshes serving status from the readiness probe before answering.
func (h *healthService) Check(ctx context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	h.refresh(ctx)
	return h.Server.Check(ctx, req)
}

func (h *healthService) refresh(ctx context.Context) {
	st := healthpb.HealthCheckResponse_SERVING
	if err := h.readiness.Check(ctx); err != nil {
		h.log.WarnContext(ctx, "grpc readiness check failed", "error", err)
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.SetServingStatus("", st)
	h.SetServingStatus(serviceName, st)
}

// NewGRPCServer builds a gRPC server whose interceptors verify bearer tokens.
func NewGRPCServer(tokens *auth.TokenService, r readinessChecker, logger *slog.Logger, opts ...grpc.ServerOption) *GRPCServer {
	if r == nil {
		r = ReadyProbe{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	opts = append(opts,
		grpc.ChainUnaryInterceptor(unaryAuthInterceptor(tokens)),
		grpc.ChainStreamInterceptor(streamAuthInterceptor(tokens)),
	)
	hs := &healthService{Server: health.NewServer(), readiness: r, log: logger}
	hs.refresh(context.Background())

	srv := grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(srv, hs)
	return &GRPCServer{server: srv, health: hs}
}

// Server exposes the underlying server for additional registrations.
func (s *GRPCServer) Server() *grpc.Server {
	return s.server
}

func (s *GRPCServer) Serve(lis net.Listener) error {
	return s.server.Serve(lis)
}

// GracefulStop marks the service as not serving and drains in-flight calls.
func (s *GRPCServer) GracefulStop() {
	s.health.Shutdown()
	s.server.GracefulStop()
}

func (s *GRPCServer) Stop() {
	s.health.Shutdown()
	s.server.Stop()
}

func unaryAuthInterceptor(tokens *auth.TokenService) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if _, ok := publicGRPCMethods[info.FullMethod]; ok {
			return handler(ctx, req)
		}
		ctx, err := authenticateGRPC(ctx, tokens)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

func streamAuthInterceptor(tokens *auth.TokenService) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if _, ok := publicGRPCMethods[info.FullMethod]; ok {
			return handler(srv, ss)
		}
		ctx, err := authenticateGRPC(ss.Context(), tokens)
		if err != nil {
			return err
		}
		return handler(srv, &authedStream{ServerStream: ss, ctx: ctx})
	}
}

type authedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authedStream) Context() context.Context {
	return s.ctx
}

func authenticateGRPC(ctx context.Context, tokens *auth.TokenService) (context.Context, error) {
	var header string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get("authorization"); len(vals) > 0 {
			header = vals[0]
		}
	}
	claims, token, fail := authenticateBearer(tokens, header)
	if fail != nil {
		obs.ObserveTokenVerification(fail.outcome)
		return nil, status.Error(codes.Unauthenticated, fail.reason)
	}
	obs.ObserveTokenVerification("ok")
	ctx = auth.ContextWithClaims(ctx, claims)
	return auth.ContextWithToken(ctx, token), nil
}
