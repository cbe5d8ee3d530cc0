package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/justinas/alice"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/chartbridge/chartbridge/internal/audit"
	"github.com/chartbridge/chartbridge/internal/cache"
	"github.com/chartbridge/chartbridge/internal/config"
	"github.com/chartbridge/chartbridge/internal/fhir"
	"github.com/chartbridge/chartbridge/internal/jwt"
	"github.com/chartbridge/chartbridge/internal/observe"
	"github.com/chartbridge/chartbridge/internal/tools"
)

func configureServerRoutes(ctx context.Context, cfg config.Config) (http.Handler, error) {
	// wrap a mux such that HTTP telemetry is configured by default
	mux := observe.NewMux()
	muxWithoutTelemetry := http.NewServeMux()
	muxWithoutTelemetry.Handle("/", mux)

	// configure middleware
	auditor := audit.Middleware()

	// The request body size is fairly limited to prevent accidental or
	// deliberate abuse. Given the current API shape, this is not configurable.
	requestLimitBytes := int64(20 << 10) // 20 KB
	requestLimiter := maxRequestSize(requestLimitBytes)

	toolRouteMiddleware := alice.New(requestLimiter, auditor)
	standardRouteMiddleware := alice.New(requestLimiter)

	// inbound authorization is optional: without an issuer the tool routes
	// trust the process boundary
	if cfg.Authorization.IssuerURL != "" {
		authorizer, err := jwt.Middleware(cfg.Authorization)
		if err != nil {
			return nil, fmt.Errorf("authorizer configuration failed: %w", err)
		}
		toolRouteMiddleware = toolRouteMiddleware.Append(authorizer)
	}

	// setup the FHIR client and its token source
	credential, err := fhir.NewCredential(ctx, cfg.FHIR)
	if err != nil {
		return nil, fmt.Errorf("FHIR credential configuration failed: %w", err)
	}

	tokenCache, err := cache.NewMemory[fhir.Token](time.Hour, 100)
	if err != nil {
		return nil, fmt.Errorf("token cache configuration failed: %w", err)
	}

	httpClient := &http.Client{
		Timeout: time.Duration(cfg.FHIR.RequestTimeoutSeconds) * time.Second,
	}

	tokenSource := fhir.NewTokenSource(credential, httpClient, cache.NewInstrumented(tokenCache, "memory"))

	client, err := fhir.NewClient(cfg.FHIR.BaseURL, tokenSource, httpClient)
	if err != nil {
		return nil, fmt.Errorf("FHIR client configuration failed: %w", err)
	}

	catalog, err := tools.Load()
	if err != nil {
		return nil, fmt.Errorf("tool catalog load failed: %w", err)
	}
	runner := tools.NewRunner(catalog, client)

	mux.Handle("GET /tools", toolRouteMiddleware.Then(handleListTools(catalog)))
	mux.Handle("POST /tools/{tool}", toolRouteMiddleware.Then(handleCallTool(runner)))

	// healthchecks are not included in telemetry or authorization
	muxWithoutTelemetry.Handle("GET /healthcheck", standardRouteMiddleware.Then(handleHealthCheck()))

	return muxWithoutTelemetry, nil
}

func main() {
	configureLogging()

	logBuildInfo()

	err := launchServer()
	if err != nil {
		log.Fatal().Err(err).Msg("server failed to start")
	}
}

func launchServer() error {
	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("configuration load failed: %w", err)
	}

	// configure telemetry, including wrapping default HTTP client
	shutdownTelemetry, err := observe.Configure(ctx, cfg.Observe)
	if err != nil {
		return fmt.Errorf("telemetry bootstrap failed: %w", err)
	}

	http.DefaultTransport = observe.HTTPTransport(
		configureHTTPTransport(cfg.Server),
		cfg.Observe,
	)
	http.DefaultClient = &http.Client{
		Transport: http.DefaultTransport,
	}

	// setup routing and dependencies
	handler, err := configureServerRoutes(ctx, cfg)
	if err != nil {
		return fmt.Errorf("server routing configuration failed: %w", err)
	}

	// start the server
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           handler,
		MaxHeaderBytes:    20 << 10,         // 20 KB
		ReadHeaderTimeout: 20 * time.Second, // Prevent Slowloris attacks
	}

	server.RegisterOnShutdown(func() {
		log.Info().Msg("telemetry: shutting down")
		if err := shutdownTelemetry(ctx); err != nil {
			log.Warn().Err(err).Msg("telemetry: shutdown failed")
		} else {
			log.Info().Msg("telemetry: shutdown complete")
		}
	})

	err = serveHTTP(cfg.Server, server)
	if err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

func configureLogging() {
	// Set global level to the minimum: allows the Open Telemetry logging to be
	// configured separately. However, it means that any logger that sets its
	// level will log as this effectively disables the global level.
	zerolog.SetGlobalLevel(zerolog.Level(-128))

	// default level is Info
	log.Logger = log.Level(zerolog.InfoLevel)

	if os.Getenv("ENV") == "development" {
		log.Logger = log.
			Output(zerolog.ConsoleWriter{Out: os.Stdout}).
			Level(zerolog.DebugLevel)
	}

	zerolog.DefaultContextLogger = &log.Logger
}

func logBuildInfo() {
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	ev := log.Info()
	for _, v := range buildInfo.Settings {
		if strings.HasPrefix(v.Key, "vcs.") ||
			strings.HasPrefix(v.Key, "GO") ||
			v.Key == "CGO_ENABLED" {
			ev = ev.Str(v.Key, v.Value)
		}
	}

	ev.Msg("build information")
}

func configureHTTPTransport(cfg config.ServerConfig) *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	transport.MaxIdleConns = cfg.OutgoingHTTPMaxIdleConns
	transport.MaxConnsPerHost = cfg.OutgoingHTTPMaxConnsPerHost

	return transport
}
