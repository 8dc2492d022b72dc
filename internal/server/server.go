// Package server provides HTTP server initialization and lifecycle
// management for the Recall API.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/scrypster/recall/internal/config"
	"github.com/scrypster/recall/internal/importer"
	"github.com/scrypster/recall/internal/ingest"
	"github.com/scrypster/recall/internal/memory"
	"github.com/scrypster/recall/internal/search"
	"github.com/scrypster/recall/internal/storage"
	"github.com/scrypster/recall/web/handlers"
)

// Deps carries the wired application components into the HTTP layer.
type Deps struct {
	DB         *sql.DB
	Graph      storage.GraphStore
	Sources    storage.SourceStore
	Memories   *memory.Adapter
	Aggregator *search.Aggregator
	Ingestor   *ingest.Service
	Importer   *importer.Importer

	// Registry is the Prometheus registry exposed at /metrics. Nil disables
	// the endpoint.
	Registry *prometheus.Registry
}

// securityHeadersMiddleware adds security headers to all HTTP responses.
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// Start initializes and starts the HTTP server.
// Returns the actual address being listened on (useful for testing with
// port 0) and the WebSocketHub for wiring ingestion event broadcasts.
// The server shuts down gracefully when ctx is cancelled.
func Start(ctx context.Context, cfg *config.Config, deps Deps) (string, *handlers.WebSocketHub, error) {
	mux := http.NewServeMux()

	wsHub := handlers.NewWebSocketHub(cfg.Server.Port)
	go wsHub.Run()

	// Ingestion events broadcast over the hub. Wired here, before the
	// listener opens, so no request can observe the swap.
	if deps.Ingestor != nil {
		deps.Ingestor.SetPublisher(wsHub)
	}

	rps, burst := cfg.Security.RateLimit, cfg.Security.RateBurst
	if rps <= 0 {
		rps = 25
	}
	if burst <= 0 {
		burst = 50
	}
	rateLimiter := handlers.NewRateLimiter(rps, burst)

	searchHandler := handlers.NewSearchHandler(deps.Aggregator, deps.Sources)
	entityHandler := handlers.NewEntityHandler(deps.Graph)
	memoryHandlers := handlers.NewMemoryHandlers(deps.Memories, deps.Ingestor)
	sourceHandlers := handlers.NewSourceHandlers(deps.Sources, deps.Ingestor)
	statsHandler := handlers.NewStatsHandler(deps.DB)
	importHandlers := handlers.NewImportHandlers(deps.Importer)
	configHandlers := handlers.NewConfigHandlers(cfg, deps.DB)

	// API routes (behind auth when a token is configured)
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("/api/search", searchHandler.Search)
	apiMux.HandleFunc("/api/suggestions", searchHandler.Suggest)

	apiMux.HandleFunc("/api/entities", entityHandler.ListEntities)
	apiMux.HandleFunc("/api/entities/{id}", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			entityHandler.GetEntity(w, r)
		case http.MethodDelete:
			entityHandler.DeleteEntity(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})

	apiMux.HandleFunc("/api/memories", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			memoryHandlers.ListMemories(w, r)
		case http.MethodPost:
			memoryHandlers.CreateMemory(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	apiMux.HandleFunc("/api/memories/{id}", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			memoryHandlers.GetMemory(w, r)
		case http.MethodDelete:
			memoryHandlers.DeleteMemory(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})

	apiMux.HandleFunc("/api/sources/{type}", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			sourceHandlers.ListItems(w, r)
		case http.MethodPost:
			sourceHandlers.CreateItem(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	apiMux.HandleFunc("/api/sources/{type}/{id}", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			sourceHandlers.GetItem(w, r)
		case http.MethodDelete:
			sourceHandlers.DeleteItem(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})

	apiMux.HandleFunc("/api/stats", statsHandler.GetStats)
	apiMux.HandleFunc("/api/import/markdown", importHandlers.ImportMarkdown)
	apiMux.HandleFunc("/api/config/user", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			configHandlers.GetUserConfig(w, r)
		case http.MethodPost:
			configHandlers.PostUserConfig(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})

	// Health check (no auth required)
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","version":"1.0.0"}`))
	})

	// Wrap API routes with auth middleware
	mux.Handle("/api/", handlers.RequireAuth(apiMux, cfg))

	// WebSocket endpoint (no auth required - origin validation handles security)
	mux.Handle("/ws", wsHub)

	if deps.Registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))
	}

	// Wrap entire server with rate limiting, then security headers
	handler := handlers.RateLimitMiddleware(mux, rateLimiter)
	handler = securityHeadersMiddleware(handler)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		wsHub.Stop()
		return "", nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	actualAddr := listener.Addr().String()

	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("Server error: %v", err)
		}
	}()

	// Handle graceful shutdown
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
		wsHub.Stop()
	}()

	return actualAddr, wsHub, nil
}
