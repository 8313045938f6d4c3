package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gridfund/gateway/client"
	gwconfig "gridfund/gateway/config"
	"gridfund/gateway/middleware"
	"gridfund/gateway/routes"
	"gridfund/observability/logging"
)

func main() {
	configFile := flag.String("config", "./gateway.yaml", "Path to the gateway configuration file")
	flag.Parse()

	cfg, err := gwconfig.Load(*configFile)
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := logging.Setup(logging.Options{
		Service: "gridfund-gateway",
		Env:     strings.TrimSpace(cfg.LogEnv),
	})

	node := client.New(cfg.Node.Endpoint, cfg.Node.Token, cfg.Node.Timeout)

	var authenticator *middleware.Authenticator
	if cfg.Auth.Enabled {
		authenticator = middleware.NewAuthenticator(middleware.AuthConfig{
			Enabled:    true,
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			ScopeClaim: cfg.Auth.ScopeClaim,
			ClockSkew:  cfg.Auth.ClockSkew,
		}, logger)
	}

	limits := make(map[string]middleware.RateLimit, len(cfg.RateLimits))
	for _, limit := range cfg.RateLimits {
		limits[limit.ID] = middleware.RateLimit{
			RequestsPerMinute: limit.RequestsPerMinute,
			Burst:             limit.Burst,
		}
	}
	var limiter *middleware.RateLimiter
	if len(limits) > 0 {
		limiter = middleware.NewRateLimiter(limits, logger)
	}

	handler := routes.New(routes.Config{
		Node:          node,
		Authenticator: authenticator,
		RateLimiter:   limiter,
		WriteScope:    cfg.Auth.WriteScope,
		CORS: middleware.CORSConfig{
			AllowedOrigins:   cfg.CORS.AllowedOrigins,
			AllowedMethods:   cfg.CORS.AllowedMethods,
			AllowedHeaders:   cfg.CORS.AllowedHeaders,
			AllowCredentials: cfg.CORS.AllowCredentials,
		},
	})

	server := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", "addr", cfg.ListenAddress, "node", cfg.Node.Endpoint)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("gateway stopped", "err", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", "err", err)
		}
		logger.Info("gateway stopped")
	}
}
