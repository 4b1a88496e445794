// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command viewer starts the scriptlens source viewer API server.
//
// The viewer ingests captured scripts with their findings, reformats them,
// builds a call graph and serves a focused view of the code reachable from
// the findings.
//
// Usage:
//
//	go run ./cmd/viewer
//	go run ./cmd/viewer -port 9090 -config ./viewer.config.yaml
//	go run ./cmd/viewer -trace-stdout
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8090/v1/viewer/health
//
//	# Ingest a script
//	curl -X POST http://localhost:8090/v1/viewer/sources \
//	  -H "Content-Type: application/json" \
//	  -d '{"id": "app", "text": "function a(){b()}function b(){}", "findings": [{"line": 1, "column": 13, "severity": "high"}]}'
//
//	# Focused view
//	curl 'http://localhost:8090/v1/viewer/view?src=app'
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/AleutianAI/scriptlens/services/viewer"
	"github.com/AleutianAI/scriptlens/services/viewer/config"
	"github.com/AleutianAI/scriptlens/services/viewer/source"
)

func main() {
	port := flag.Int("port", 0, "Port to listen on (overrides server.port)")
	debug := flag.Bool("debug", false, "Enable debug mode")
	configPath := flag.String("config", config.DefaultFileName, "Path to the viewer config file")
	envFile := flag.String("env-file", ".env", "Optional dotenv file loaded before the config")
	traceStdout := flag.Bool("trace-stdout", false, "Export spans to stdout")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Failed to load env file", slog.String("path", *envFile), slog.String("error", err.Error()))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	config.SetPath(*configPath)
	cfg, err := config.Get(ctx)
	if err != nil {
		slog.Error("Failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if *debug {
		cfg.Server.Debug = true
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}

	level := slog.LevelInfo
	if cfg.Server.Debug {
		level = slog.LevelDebug
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	if *traceStdout {
		shutdown, err := setupStdoutTracing()
		if err != nil {
			slog.Error("Failed to set up tracing", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer shutdown()
	}

	db, err := source.OpenDB(cfg.Store.Path)
	if err != nil {
		slog.Error("Failed to open source store", slog.String("path", cfg.Store.Path), slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			slog.Warn("Failed to close source store", slog.String("error", err.Error()))
		}
	}()

	store, err := source.NewStore(db, slog.Default())
	if err != nil {
		slog.Error("Failed to create source store", slog.String("error", err.Error()))
		os.Exit(1)
	}

	var remote source.Repository
	if cfg.Repository.URL != "" {
		client, err := source.NewHTTPClient(source.HTTPClientConfig{
			BaseURL:       cfg.Repository.URL,
			RatePerSecond: cfg.Repository.RatePerSecond,
			CacheSize:     cfg.Repository.CacheSize,
		})
		if err != nil {
			slog.Error("Failed to create repository client", slog.String("error", err.Error()))
			os.Exit(1)
		}
		remote = client
	}

	svc, err := viewer.NewService(viewer.ServiceConfig{
		Config: cfg,
		Store:  store,
		Remote: remote,
	})
	if err != nil {
		slog.Error("Failed to create viewer service", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := config.Watch(ctx, *configPath, svc.ApplyConfig); err != nil {
		slog.Warn("Config hot reload disabled", slog.String("error", err.Error()))
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("scriptlens-viewer"))
	if cfg.Server.Debug {
		router.Use(gin.Logger())
	}
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	viewer.RegisterRoutes(v1, viewer.NewHandlers(svc))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		slog.Info("Shutting down viewer server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Server shutdown incomplete", slog.String("error", err.Error()))
		}
	}()

	slog.Info("Starting viewer server",
		slog.String("address", srv.Addr),
		slog.Bool("beautify", cfg.Beautify.Enabled),
		slog.Int("max_depth", cfg.Reach.MaxDepth),
		slog.Bool("remote_repository", remote != nil),
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Failed to start server", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// setupStdoutTracing installs a tracer provider that prints spans.
func setupStdoutTracing() (func(), error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("creating stdout exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(tp)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(ctx)
	}, nil
}
