package grpcx

import (
	"context"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/apptledger/libs/httpx"
	"google.golang.org/grpc/metadata"
)

// RequestIDMetadataKey is the canonical key used for request id propagation over gRPC metadata.
// Lowercase is recommended by gRPC metadata conventions.
const RequestIDMetadataKey = "x-request-id"

// requestIDFromIncoming reads the request id from metadata or mints one.
// The id is stored with the httpx context key so logging code does not care
// which transport a request came through.
func requestIDFromIncoming(ctx context.Context) (context.Context, string) {
	id := ""
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get(RequestIDMetadataKey); len(vals) > 0 {
			id = vals[0]
		}
	}
	if id == "" {
		id = uuid.NewString()
	}
	return httpx.ContextWithRequestID(ctx, id), id
}
