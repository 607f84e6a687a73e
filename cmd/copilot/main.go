// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command copilot starts the BioCopilot arbitration server.
//
// BioCopilot sits between a researcher's visualization frontend and the
// agent action backend:
//   - Safety tiers (GREEN/YELLOW/RED) over a fixed tool whitelist
//   - Proposal lifecycle with one-way PENDING -> APPROVED/REJECTED
//   - Transcript reconciliation without echo loops
//   - Evidence-linked narration rendering with clickable entities
//
// Usage:
//
//	go run ./cmd/copilot
//	go run ./cmd/copilot -port 9090
//
// With a backend:
//
//	COPILOT_BACKEND_URL=http://localhost:8021 go run ./cmd/copilot
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8090/v1/copilot/health
//
//	# Run a researcher turn
//	curl -X POST http://localhost:8090/v1/copilot/query \
//	  -H "Content-Type: application/json" \
//	  -d '{"session_id": "s1", "query": "run enrichment on this pathway"}'
//
//	# Approve a proposal
//	curl -X POST http://localhost:8090/v1/copilot/proposals/<id>/resolve \
//	  -H "Content-Type: application/json" \
//	  -d '{"session_id": "s1", "accepted": true}'
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/AleutianAI/BioCopilot/services/copilot"
	"github.com/AleutianAI/BioCopilot/services/copilot/backend"
	"github.com/AleutianAI/BioCopilot/services/copilot/config"
	"github.com/AleutianAI/BioCopilot/services/copilot/store"
)

func main() {
	port := flag.Int("port", 8090, "Port to listen on")
	debug := flag.Bool("debug", false, "Enable debug mode")
	flag.Parse()

	if *debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	cfg := config.Load()
	setupLogging(cfg.LogLevel, *debug)

	// W3C TraceContext propagation so trace context flows from the
	// frontend through handlers to the backend client.
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	clientOpts := []backend.Option{
		backend.WithTimeout(cfg.BackendTimeout),
		backend.WithHistoryTurns(cfg.HistoryTurns),
		backend.WithLanguage(cfg.Language),
		backend.WithLogger(slog.Default()),
	}
	// The key goes straight into a memguard enclave; no copy lives in
	// config or on this stack after the option runs.
	if apiKey := os.Getenv("COPILOT_BACKEND_API_KEY"); apiKey != "" {
		clientOpts = append(clientOpts, backend.WithAPIKey(apiKey))
	}

	client, err := backend.NewHTTPClient(cfg.BackendURL, clientOpts...)
	if err != nil {
		slog.Error("Failed to create backend client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	var st *store.Store
	if cfg.StoreDir != "" {
		st, err = store.Open(cfg.StoreDir, cfg.SessionRetention, slog.Default())
		if err != nil {
			slog.Error("Failed to open session store", slog.String("error", err.Error()))
			os.Exit(1)
		}
		slog.Info("Session store open", slog.String("dir", cfg.StoreDir))
	}

	svc := copilot.NewService(cfg, client, st, slog.Default())
	svc.StartSweep()
	handlers := copilot.NewHandlers(svc)

	watchCtx, stopWatch := context.WithCancel(context.Background())
	if cfg.SafetyOverridesPath != "" {
		go func() {
			if err := svc.WatchOverrides(watchCtx); err != nil {
				slog.Error("Tier overrides watch stopped", slog.String("error", err.Error()))
			}
		}()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("aleutian-copilot"))
	if *debug {
		router.Use(gin.Logger())
	}

	v1 := router.Group("/v1")
	copilot.RegisterRoutes(v1, handlers)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	printBanner(*port, cfg.BackendURL)

	// Handle graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		slog.Info("Shutting down BioCopilot server")
		stopWatch()
		svc.StopSweep()
		if st != nil {
			if err := st.Close(); err != nil {
				slog.Error("Closing session store", slog.String("error", err.Error()))
			}
		}
		os.Exit(0)
	}()

	addr := fmt.Sprintf(":%d", *port)
	slog.Info("Starting BioCopilot server", slog.String("address", addr))
	if err := router.Run(addr); err != nil {
		slog.Error("Failed to start server", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// setupLogging installs a JSON slog handler at the configured level.
func setupLogging(level string, debug bool) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	if debug {
		lvl = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})))
}

func printBanner(port int, backendURL string) {
	banner := `
╔═══════════════════════════════════════════════════════════════════╗
║                       BIOCOPILOT SERVER                           ║
╠═══════════════════════════════════════════════════════════════════╣
║                                                                   ║
║  Action arbitration for the scientific workspace agent.           ║
║  Backend: %-55s ║
║                                                                   ║
║  Quick Start:                                                     ║
║  ┌─────────────────────────────────────────────────────────────┐  ║
║  │ # Health check                                              │  ║
║  │ curl http://localhost:%d/v1/copilot/health            │  ║
║  │                                                             │  ║
║  │ # Run a researcher turn                                     │  ║
║  │ curl -X POST http://localhost:%d/v1/copilot/query \   │  ║
║  │   -H "Content-Type: application/json" \                     │  ║
║  │   -d '{"session_id": "s1", "query": "what is TP53?"}'       │  ║
║  └─────────────────────────────────────────────────────────────┘  ║
║                                                                   ║
║  Endpoints:                                                       ║
║  ├── Chat: /query, /history                                       ║
║  ├── Proposals: /proposals/:id/resolve                            ║
║  ├── Narration: /render, /events (websocket)                      ║
║  └── Ops: /health, /ready, /metrics                               ║
║                                                                   ║
║  Press Ctrl+C to stop                                             ║
╚═══════════════════════════════════════════════════════════════════╝
`
	fmt.Printf(banner, backendURL, port, port)
}
