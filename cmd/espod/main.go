// Package main provides the espod daemon - the alkanes AMM analytics
// indexer.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/subfrost/espo/internal/amm"
	"github.com/subfrost/espo/internal/aof"
	"github.com/subfrost/espo/internal/chain"
	"github.com/subfrost/espo/internal/config"
	"github.com/subfrost/espo/internal/indexer"
	"github.com/subfrost/espo/internal/pricefeed"
	"github.com/subfrost/espo/internal/rpc"
	"github.com/subfrost/espo/internal/source"
	"github.com/subfrost/espo/internal/store"
	"github.com/subfrost/espo/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	// Parse flags
	var (
		dataDir     = flag.String("data-dir", "~/.espo", "Data directory")
		network     = flag.String("network", "", "Network (mainnet, testnet, regtest), overrides config")
		apiAddr     = flag.String("api", "", "JSON-RPC API address, overrides config")
		viewOnly    = flag.Bool("view-only", false, "Disable indexing, serve reads only")
		logLevel    = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	// Set up logging (initial, may be overridden by config)
	log := logging.New(&logging.Config{
		Level:      *logLevel,
		TimeFormat: time.TimeOnly,
	})
	logging.SetDefault(log)

	if *showVersion {
		log.Infof("espod %s (commit: %s)", version, commit)
		os.Exit(0)
	}

	// Load or create config file
	cfg, err := config.Load(*dataDir)
	if err != nil {
		log.Fatal("Failed to load config", "error", err)
	}

	// Apply CLI overrides (CLI flags take precedence over config file)
	if *network != "" {
		cfg.NetworkType = config.NetworkType(*network)
	}
	if *apiAddr != "" {
		cfg.RPC.Listen = *apiAddr
	}
	if *viewOnly {
		cfg.Indexer.ViewOnly = true
	}
	cfg.Logging.Level = *logLevel

	// Update logging with config level
	log = logging.New(&logging.Config{
		Level:      cfg.Logging.Level,
		TimeFormat: time.TimeOnly,
	})
	logging.SetDefault(log)

	log.Info("Config loaded", "path", config.ConfigPath(*dataDir))

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Open the primary and AOF stores
	db, err := store.Open(config.ExpandPath(cfg.Storage.DBPath))
	if err != nil {
		log.Fatal("Failed to open primary store", "error", err)
	}

	logdb, err := store.Open(config.ExpandPath(cfg.Storage.AofPath))
	if err != nil {
		db.Close()
		log.Fatal("Failed to open AOF store", "error", err)
	}
	log.Info("Storage initialized", "db", cfg.Storage.DBPath, "aof", cfg.Storage.AofPath)

	aofMgr, err := aof.New(db, logdb, cfg.Indexer.AofDepth, log.Component("aof"))
	if err != nil {
		log.Fatal("Failed to initialize AOF", "error", err)
	}

	meta := chain.NewMetadata(db)

	// Start RPC server
	rpcServer := rpc.NewServer(cfg, db)
	if err := rpcServer.Start(cfg.RPC.Listen); err != nil {
		log.Fatal("Failed to start RPC server", "error", err)
	}

	printBanner(log, cfg, version)

	// Wire and run the indexer unless in view-only mode
	errCh := make(chan error, 1)
	if cfg.Indexer.ViewOnly {
		log.Info("View-only mode: indexing disabled")
	} else {
		blocks := source.NewEsploraSource(cfg.Indexer.SourceURL)
		essentials := source.NewHTTPEssentials(cfg.Indexer.EssentialsURL)
		feed := pricefeed.NewLive(cfg.Indexer.SourceURL, log.Component("pricefeed"))

		pipeline, err := amm.NewPipeline(cfg, db, aofMgr, meta, essentials, feed, log.Component("amm"))
		if err != nil {
			log.Fatal("Failed to initialize pipeline", "error", err)
		}

		ix := indexer.New(cfg, db, aofMgr, meta, pipeline, blocks, log.Component("indexer"))
		ix.OnBlock(func(height uint32, hash string) {
			if hub := rpcServer.WSHub(); hub != nil {
				hub.Broadcast(rpc.EventBlockIndexed, map[string]interface{}{
					"height": height,
					"hash":   hash,
				})
			}
		})

		go func() {
			errCh <- ix.Run(ctx)
		}()
	}

	// Wait for interrupt signal or a fatal indexer error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case <-sigCh:
		log.Info("Shutting down...")
		cancel()
		if !cfg.Indexer.ViewOnly {
			// The indexer finishes the in-flight block before exiting.
			if err := <-errCh; err != nil {
				log.Error("Indexer error during shutdown", "error", err)
				exitCode = 1
			}
		}
	case err := <-errCh:
		if err != nil {
			log.Error("Indexer failed", "error", err)
			exitCode = 1
		}
		cancel()
	}

	if err := rpcServer.Stop(); err != nil {
		log.Error("Error stopping RPC server", "error", err)
	}
	if err := logdb.Close(); err != nil {
		log.Error("Error closing AOF store", "error", err)
	}
	if err := db.Close(); err != nil {
		log.Error("Error closing primary store", "error", err)
	}

	log.Info("Goodbye!")
	os.Exit(exitCode)
}

func printBanner(log *logging.Logger, cfg *config.AppConfig, version string) {
	log.Info("")
	log.Info("=================================================")
	log.Infof("  Espo AMM Indexer (%s)", cfg.NetworkType)
	log.Infof("  Version: %s", version)
	log.Info("=================================================")
	log.Info("")
	log.Infof("  API: http://%s", cfg.RPC.Listen)
	log.Infof("  WS:  ws://%s/ws", cfg.RPC.Listen)
	log.Infof("  Genesis height: %d", config.GenesisHeight(cfg.NetworkType))
	log.Infof("  AOF depth: %d blocks", cfg.Indexer.AofDepth)
	log.Info("")
	log.Info("=================================================")
	log.Info("")
}
