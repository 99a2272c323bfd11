// Copyright (C) 2025 Coastline AI (engineering@coastlineai.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command callflow starts the Coastline Callflow decision API server.
//
// Callflow is the call-time decision engine behind the voice receptionist:
//   - Slot contract compilation (which data-collection fields are active)
//   - Two-tier trigger-rule resolution with caching
//   - Per-turn routing (scenario engine / booking / transfer / message / end)
//   - Bounded-retry phone number capture
//
// Usage:
//
//	go run ./cmd/callflow -config-dir ./configs
//	go run ./cmd/callflow -config-dir ./configs -port 9090
//
// With a persistent rule cache:
//
//	TRIGGER_CACHE_DIR=~/.coastline/cache/triggers go run ./cmd/callflow -config-dir ./configs
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8080/v1/callflow/health
//
//	# Route a turn
//	curl -X POST http://localhost:8080/v1/callflow/route \
//	  -H "Content-Type: application/json" \
//	  -d '{"tenantId": "acme", "turn": {"action": "continue", "intentTag": "asking about business hours"}}'
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/CoastlineAI/CoastlineVoice/services/callflow"
	badgerstore "github.com/CoastlineAI/CoastlineVoice/services/callflow/storage/badger"
	"github.com/CoastlineAI/CoastlineVoice/services/callflow/triggers"
)

func main() {
	port := flag.Int("port", 8080, "Port to listen on")
	debug := flag.Bool("debug", false, "Enable debug mode")
	configDir := flag.String("config-dir", "", "Directory holding tenant and group configuration documents")
	flag.Parse()

	if *debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// W3C TraceContext propagation so trace context flows from inbound
	// headers through all handlers.
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if *configDir == "" {
		slog.Error("-config-dir is required (tenant and group documents)")
		os.Exit(1)
	}
	store := triggers.NewFileStore(*configDir)

	// Persistent rule cache. Graceful degradation: if unavailable, the
	// resolver runs memory-only.
	var persistent *triggers.PersistentRuleCache
	cacheDir := os.Getenv("TRIGGER_CACHE_DIR")
	if cacheDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cacheDir = filepath.Join(home, ".coastline", "cache", "triggers")
		}
	}
	var cacheDB *badgerstore.DB
	if cacheDir != "" {
		db, err := badgerstore.OpenDB(badgerstore.DefaultConfig(cacheDir))
		if err != nil {
			slog.Warn("Trigger cache BadgerDB unavailable, rule persistence disabled",
				slog.String("path", cacheDir),
				slog.String("error", err.Error()),
			)
		} else {
			cacheDB = db
			persistent = triggers.NewPersistentRuleCache(db, 0, slog.Default())
			slog.Info("Trigger cache BadgerDB opened", slog.String("path", cacheDir))
		}
	}

	service, err := callflow.NewService(context.Background(), callflow.ServiceConfig{
		Store:           store,
		PersistentCache: persistent,
	})
	if err != nil {
		slog.Error("Failed to construct Callflow service", slog.String("error", err.Error()))
		os.Exit(1)
	}
	handlers := callflow.NewHandlers(service)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("coastline-callflow"))
	if *debug {
		router.Use(gin.Logger())
	}

	v1 := router.Group("/v1")
	callflow.RegisterRoutes(v1, handlers)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Handle graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		slog.Info("Shutting down Coastline Callflow server")
		if cacheDB != nil {
			if err := cacheDB.Close(); err != nil {
				slog.Warn("Failed to close trigger cache BadgerDB", slog.String("error", err.Error()))
			}
		}
		os.Exit(0)
	}()

	addr := fmt.Sprintf(":%d", *port)
	slog.Info("Starting Coastline Callflow server", slog.String("address", addr))
	if err := router.Run(addr); err != nil {
		slog.Error("Failed to start server", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
