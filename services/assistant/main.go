// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/AleutianAI/AleutianDrive/services/assistant/config"
	"github.com/AleutianAI/AleutianDrive/services/assistant/middleware"
	"github.com/AleutianAI/AleutianDrive/services/assistant/observability"
	"github.com/AleutianAI/AleutianDrive/services/assistant/routes"
	"github.com/AleutianAI/AleutianDrive/services/assistant/services"
	"github.com/AleutianAI/AleutianDrive/services/entitlement"
	"github.com/AleutianAI/AleutianDrive/services/identity"
	"github.com/AleutianAI/AleutianDrive/services/llm"
	"github.com/AleutianAI/AleutianDrive/services/profile"

	"github.com/AleutianAI/AleutianDrive/pkg/logging"
)

// initTracer wires the OTLP gRPC exporter when a collector endpoint is
// configured. Without OTEL_EXPORTER_OTLP_ENDPOINT tracing stays local;
// spans are created but never exported.
func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		slog.Info("OTEL_EXPORTER_OTLP_ENDPOINT not set, trace export disabled")
		return func(context.Context) {}, nil
	}

	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("aleutiandrive-assistant")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

func main() {
	logger, err := logging.New(logging.Config{Service: "assistant", JSON: true, LogDir: os.Getenv("ASSISTANT_LOG_DIR")})
	if err != nil {
		log.Fatalf("failed to build the logger: %v", err)
	}
	defer logger.Close()
	slog.SetDefault(logger.Logger)

	cfg, err := config.Load(os.Getenv("ASSISTANT_CONFIG"))
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	store, err := profile.OpenBadger(profile.DefaultBadgerConfig(cfg.DataDir))
	if err != nil {
		log.Fatalf("failed to open the profile store at %s: %v", cfg.DataDir, err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("failed to close the profile store", "error", err)
		}
	}()

	if cfg.Provider.URL == "" {
		log.Fatal("IDENTITY_PROVIDER_URL is required")
	}
	provider, err := identity.NewHTTPProvider(identity.HTTPProviderConfig{
		BaseURL: cfg.Provider.URL,
		APIKey:  cfg.Provider.APIKey,
	})
	if err != nil {
		log.Fatalf("failed to configure the identity provider: %v", err)
	}

	completionClient, err := llm.NewOpenAIClient(llm.WithModel(cfg.Model))
	if err != nil {
		log.Fatalf("failed to initialize the completion client: %v", err)
	}

	metrics := observability.NewChatMetrics(prometheus.DefaultRegisterer)
	ledger := entitlement.NewGuestLedger()
	resolver := profile.NewResolver(store)
	conversation := services.NewConversation(resolver, store, completionClient, ledger, metrics, services.ConversationConfig{
		Persona:           cfg.Persona,
		MaxTokens:         cfg.MaxTokens,
		Temperature:       cfg.Temperature,
		Limits:            cfg.Limits,
		CompatUsageWrites: cfg.CompatUsageWrites,
	})
	if cfg.CompatUsageWrites {
		slog.Warn("legacy read-then-write usage accounting enabled; concurrent requests may under-count")
	}

	router := gin.Default()
	routes.SetupRoutes(router, routes.Deps{
		Conversation: conversation,
		Resolver:     resolver,
		Store:        store,
		Validator:    provider,
		Metrics:      metrics,
		Limits:       cfg.Limits,
		RateLimiter:  middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		slog.Info("starting the assistant server", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		ledger.Sweep(groupCtx, time.Hour)
		return nil
	})
	group.Go(func() error {
		store.RunGC(groupCtx)
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		log.Fatalf("assistant server failed: %v", err)
	}
	slog.Info("assistant server stopped")
}
