package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ashureev/mentor-chat/internal/agent"
	"github.com/ashureev/mentor-chat/internal/api"
	"github.com/ashureev/mentor-chat/internal/config"
	"github.com/ashureev/mentor-chat/internal/identity"
	"github.com/ashureev/mentor-chat/internal/middleware"
	"github.com/ashureev/mentor-chat/internal/session"
	"github.com/ashureev/mentor-chat/internal/store"
)

func newServeCmd() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat API for browser widgets",
		Long:  "Serve the chat API. Configuration comes from the environment (and .env).",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if port != "" {
				cfg.Port = port
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "listen port (overrides PORT)")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "store", cfg.StoreBackend, "transport", cfg.Transport)

	st, err := store.Open(ctx, store.Options{
		Backend:   cfg.StoreBackend,
		DBPath:    cfg.DBPath,
		Dir:       cfg.StoreDir,
		RedisAddr: cfg.RedisAddr,
	})
	if err != nil {
		return fmt.Errorf("initialize store: %w", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("Failed to close store", "error", closeErr)
		}
	}()

	if err := st.Ping(ctx); err != nil {
		return fmt.Errorf("store health check failed: %w", err)
	}
	slog.Info("Store connected", "backend", cfg.StoreBackend)

	client, err := agent.NewClient(ctx, agent.Config{
		Kind:       cfg.Transport,
		Endpoint:   cfg.Endpoint,
		Timeout:    cfg.RequestTimeout,
		GrpcMethod: cfg.GrpcMethod,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize Mentor client: %w", err)
	}
	defer func() {
		if closeErr := client.Close(); closeErr != nil {
			slog.Warn("Failed to close Mentor client", "error", closeErr)
		}
	}()

	registry := session.NewRegistry(client, st, cfg.SessionTTL, logger)
	defer registry.Close()

	limiter := api.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
	defer limiter.Close()

	handler := api.NewHandler(registry, limiter, logger)
	handler.SetOriginPatterns(originPatterns(cfg))
	handler.AddCheck("store", st.Ping)
	handler.AddCheck("mentor", client.Health)

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))
	r.Use(identity.Middleware(cfg.DefaultCourseID, cfg.IsDevelopment()))
	handler.RegisterRoutes(r)

	// No WriteTimeout: websocket streams stay open and a submit waits for
	// the whole turn, which REQUEST_TIMEOUT already bounds.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return registry.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("Server stopped successfully")
	return nil
}

// originPatterns converts allowed origins to websocket host patterns.
func originPatterns(cfg *config.Config) []string {
	origins := cfg.AllowedOrigins()
	patterns := make([]string, 0, len(origins))
	for _, o := range origins {
		if o == "*" {
			return []string{"*"}
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			patterns = append(patterns, u.Host)
		}
	}
	return patterns
}
