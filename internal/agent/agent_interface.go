package agent

import "context"

// Transport performs one request/response exchange with the service.
// It never retries; a failure is always a *TransportError.
type Transport interface {
	Exchange(ctx context.Context, req Request) (*Reply, error)
}

// Client is a Transport that owns connection resources.
type Client interface {
	Transport

	// Health checks that the service is reachable.
	Health(ctx context.Context) error

	// Close releases resources.
	Close() error
}

var (
	_ Client = (*GrpcClient)(nil)
	_ Client = (*HTTPClient)(nil)
)
