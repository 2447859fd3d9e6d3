package grpcx

import (
	"context"
	"testing"

	"github.com/md-rashed-zaman/apptledger/libs/httpx"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

func TestRequestIDInterceptorUsesIncomingMetadata(t *testing.T) {
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(RequestIDMetadataKey, "req-7"))

	var seen string
	_, err := UnaryServerRequestIDInterceptor()(ctx, nil, &grpc.UnaryServerInfo{FullMethod: "/test"}, func(ctx context.Context, _ any) (any, error) {
		seen = httpx.RequestIDFromContext(ctx)
		return nil, nil
	})
	if err != nil {
		t.Fatalf("interceptor: %v", err)
	}
	if seen != "req-7" {
		t.Fatalf("expected req-7, got %q", seen)
	}
}

func TestRequestIDInterceptorMintsID(t *testing.T) {
	var seen string
	_, _ = UnaryServerRequestIDInterceptor()(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/test"}, func(ctx context.Context, _ any) (any, error) {
		seen = httpx.RequestIDFromContext(ctx)
		return nil, nil
	})
	if seen == "" {
		t.Fatal("expected a generated request id")
	}
}
