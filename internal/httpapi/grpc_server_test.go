package httpapi

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"classdesk.org/internal/auth"
)

const bufSize = 1024 * 1024

func startBufGRPC(t *testing.T, srv *GRPCServer) *grpc.ClientConn {
	t.Helper()

	listener := bufconn.Listen(bufSize)
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			t.Logf("grpc serve error: %v", err)
		}
	}()

	dialer := func(ctx context.Context, _ string) (net.Conn, error) {
		return listener.DialContext(ctx)
	}
	conn, err := grpc.NewClient(
		"passthrough:///bufnet",
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial bufnet: %v", err)
	}

	t.Cleanup(func() {
		_ = conn.Close()
		srv.Stop()
		_ = listener.Close()
	})
	return conn
}

func grpcTokens(t *testing.T) *auth.TokenService {
	t.Helper()
	tokens, err := auth.NewTokenService(auth.TokenConfig{Secret: []byte("grpc-secret"), TTL: time.Minute})
	if err != nil {
		t.Fatalf("token service: %v", err)
	}
	return tokens
}

func TestGRPCHealthCheckIsPublic(t *testing.T) {
	conn := startBufGRPC(t, NewGRPCServer(grpcTokens(t), ReadyProbe{}, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("unexpected status: %s", resp.GetStatus())
	}
}

func TestGRPCHealthCheckNotServing(t *testing.T) {
	conn := startBufGRPC(t, NewGRPCServer(grpcTokens(t), failingProbe{}, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: serviceName})
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("unexpected status: %s", resp.GetStatus())
	}
}

func TestGRPCWatchRequiresToken(t *testing.T) {
	tokens := grpcTokens(t)
	conn := startBufGRPC(t, NewGRPCServer(tokens, ReadyProbe{}, nil))
	client := healthpb.NewHealthClient(conn)

	expired, _, err := tokens.IssueWithTTL(auth.Identity{UserID: 1, Email: "a@example.com"}, -time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	cases := []struct {
		name   string
		md     metadata.MD
		reason string
	}{
		{"missing", nil, reasonMissingHeader},
		{"scheme", metadata.Pairs("authorization", "Basic abc"), reasonInvalidScheme},
		{"expired", metadata.Pairs("authorization", "Bearer "+expired), reasonExpired},
		{"garbage", metadata.Pairs("authorization", "Bearer nope"), reasonInvalidToken},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if tc.md != nil {
				ctx = metadata.NewOutgoingContext(ctx, tc.md)
			}
			stream, err := client.Watch(ctx, &healthpb.HealthCheckRequest{})
			if err == nil {
				_, err = stream.Recv()
			}
			st, ok := status.FromError(err)
			if !ok || st.Code() != codes.Unauthenticated {
				t.Fatalf("expected Unauthenticated, got %v", err)
			}
			if st.Message() != tc.reason {
				t.Fatalf("unexpected reason: %q", st.Message())
			}
		})
	}
}

func TestGRPCWatchWithToken(t *testing.T) {
	tokens := grpcTokens(t)
	conn := startBufGRPC(t, NewGRPCServer(tokens, ReadyProbe{}, nil))

	token, _, err := tokens.Issue(auth.Identity{UserID: 1, Email: "a@example.com"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)

	stream, err := healthpb.NewHealthClient(conn).Watch(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("Watch error: %v", err)
	}
	resp, err := stream.Recv()
	if err != nil {
		t.Fatalf("Recv error: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("unexpected status: %s", resp.GetStatus())
	}
}
