package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrMissingEndpoint is returned when no endpoint is configured.
var ErrMissingEndpoint = errors.New("mentor endpoint is not configured")

// NewClient builds the Client selected by cfg.Kind.
func NewClient(ctx context.Context, cfg Config, logger *slog.Logger) (Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Endpoint == "" {
		return nil, ErrMissingEndpoint
	}

	switch cfg.Kind {
	case KindHTTP, "":
		c, err := NewHTTPClient(cfg.Endpoint, cfg.Timeout, logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	case KindGRPC:
		gcfg := DefaultGrpcClientConfig()
		gcfg.Address = cfg.Endpoint
		gcfg.RequestTimeout = cfg.Timeout
		if cfg.GrpcMethod != "" {
			gcfg.Method = cfg.GrpcMethod
		}
		c, err := NewGrpcClient(ctx, gcfg, logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Kind)
	}
}
