package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/scrypster/recall/internal/config"
	"github.com/scrypster/recall/internal/extract"
	"github.com/scrypster/recall/internal/graph"
	"github.com/scrypster/recall/internal/importer"
	"github.com/scrypster/recall/internal/ingest"
	"github.com/scrypster/recall/internal/memory"
	"github.com/scrypster/recall/internal/notify"
	"github.com/scrypster/recall/internal/search"
	"github.com/scrypster/recall/internal/server"
	"github.com/scrypster/recall/internal/sources"
	"github.com/scrypster/recall/internal/storage"
	"github.com/scrypster/recall/internal/storage/postgres"
	"github.com/scrypster/recall/internal/storage/sqlite"
)

func main() {
	// Bootstrap config from the environment to locate the database, then
	// reload with user settings layered in from the settings table.
	bootCfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := os.MkdirAll(bootCfg.Storage.DataPath, 0o700); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	store, err := sqlite.Open(filepath.Join(bootCfg.Storage.DataPath, "recall.db"))
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()

	cfg, err := config.LoadConfigFromDB(store.GetDB())
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	extractor := extract.NewExtractor(extract.Config{
		Provider:       cfg.Extract.Provider,
		BaseURL:        cfg.Extract.OllamaURL,
		Model:          cfg.Extract.OllamaModel,
		EmbeddingModel: cfg.Extract.OllamaEmbeddingModel,
		Timeout:        cfg.ExtractTimeout(),
	})

	provider, closeProvider, err := buildMemoryProvider(cfg, store, extractor)
	if err != nil {
		log.Fatalf("Failed to initialize memory backend: %v", err)
	}
	if closeProvider != nil {
		defer closeProvider()
	}

	memories := memory.NewAdapter(store, provider)
	resolver := graph.NewResolver(store, graph.Options{FuzzyAliasing: cfg.Search.FuzzyAliasing})

	registry := prometheus.NewRegistry()
	aggregator, err := search.NewAggregator(store,
		search.Options{
			SourceTimeout: cfg.SourceTimeout(),
			Metrics:       search.NewMetrics(registry),
		},
		memories,
		sources.NewDocuments(store),
		sources.NewProjects(store),
		sources.NewCalendar(store),
		sources.NewReminders(store),
	)
	if err != nil {
		log.Fatalf("Failed to build search aggregator: %v", err)
	}

	// The server swaps in its WebSocket hub as the event publisher.
	ingestor := ingest.NewService(store, memories, extractor, resolver, nil)
	imp := importer.NewImporter(ingestor)

	addr, _, err := server.Start(ctx, cfg, server.Deps{
		DB:         store.GetDB(),
		Graph:      store,
		Sources:    store,
		Memories:   memories,
		Aggregator: aggregator,
		Ingestor:   ingestor,
		Importer:   imp,
		Registry:   registry,
	})
	if err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	if cfg.Import.InboxEnabled && cfg.Import.InboxPath != "" {
		watcher := notify.NewInboxWatcher(cfg.Import.InboxPath, imp)
		if err := watcher.Start(); err != nil {
			log.Printf("Warning: inbox watcher disabled: %v", err)
		} else {
			defer watcher.Stop()
		}
	}

	log.Printf("Recall API running at http://%s", addr)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down gracefully...")
	cancel()
	time.Sleep(1 * time.Second) // Give time for connections to close
}

// buildMemoryProvider selects the memory search backend. The default is the
// in-process SQLite FTS5 provider; pgvector requires a DSN and an embedding
// model reachable through the extraction provider.
func buildMemoryProvider(cfg *config.Config, store *sqlite.Store, extractor extract.Extractor) (storage.MemoryProvider, func(), error) {
	if cfg.Storage.MemoryBackend != "pgvector" {
		return sqlite.NewMemoryProvider(store.GetDB()), nil, nil
	}

	embedder, ok := extractor.(*extract.OllamaExtractor)
	if !ok {
		log.Printf("Warning: pgvector backend needs the ollama extractor for embeddings, falling back to fts")
		return sqlite.NewMemoryProvider(store.GetDB()), nil, nil
	}

	pg, err := postgres.Open(cfg.Storage.PostgresDSN, embedder.Embed)
	if err != nil {
		return nil, nil, err
	}
	return pg, func() { _ = pg.Close() }, nil
}
