// Command loadblocks reads a textual block-replay stream and feeds it into
// the coin-name index: the relational store plus its coin-name forest.
package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/rawblock/coinforest/internal/coinbase"
	"github.com/rawblock/coinforest/internal/forest"
	"github.com/rawblock/coinforest/internal/ingest"
	"github.com/rawblock/coinforest/internal/monitor"
	"github.com/rawblock/coinforest/internal/replay"
	"github.com/rawblock/coinforest/internal/store"
)

func main() {
	log.Println("Starting coinforest loadblocks...")

	var (
		inputPath   = flag.String("input", "", "path to a block-replay stream (default: stdin)")
		maxBlocks   = flag.Uint64("max-blocks", 300000, "maximum block index to accept")
		cacheSize   = flag.Int("cache-size", ingest.DefaultCacheSize, "buffered coin count before an automatic flush")
		mergeThresh = flag.Int("merge-threshold", forest.DefaultMergeThreshold, "row-file count at which the forest merges its two smallest files")
		monitorAddr = flag.String("monitor-addr", "", "if set, serve a read-only coin-lookup/flush-feed HTTP API on this address (e.g. :8090)")
	)
	flag.Parse()

	// ─── Required Environment Variables ─────────────────────────────────
	// Credentials come from the environment, never from flags, so they
	// never end up in a shell history or process listing.
	// ────────────────────────────────────────────────────────────────────
	dbURL := requireEnv("DATABASE_URL")
	forestDir := getEnvOrDefault("COINFOREST_DIR", "./coinforest_root")
	forestPrefix := getEnvOrDefault("COINFOREST_PREFIX", "coin")

	ctx := context.Background()

	st, err := store.Connect(ctx, dbURL)
	if err != nil {
		log.Fatalf("FATAL: failed to connect to PostgreSQL: %v", err)
	}
	defer st.Close()

	if err := st.InitSchema(ctx); err != nil {
		log.Fatalf("FATAL: schema init failed: %v", err)
	}

	if err := os.MkdirAll(forestDir, 0o755); err != nil {
		log.Fatalf("FATAL: could not create forest directory %s: %v", forestDir, err)
	}
	f, err := forest.Open(forestDir, forestPrefix)
	if err != nil {
		log.Fatalf("FATAL: could not open coin-name forest: %v", err)
	}
	f.MergeThreshold = *mergeThresh

	codec := coinbase.New()
	pipeline := ingest.New(st, f, codec)
	pipeline.CacheSize = *cacheSize

	if err := pipeline.Reconcile(ctx); err != nil {
		log.Printf("Warning: forest/store reconciliation failed: %v", err)
	}

	if *monitorAddr != "" {
		hub := monitor.NewHub()
		go hub.Run()
		srv := monitor.NewServer(st, f, codec, hub)
		pipeline.OnFlush = srv.BroadcastFlush
		go func() {
			if err := srv.Router().Run(*monitorAddr); err != nil {
				log.Printf("Warning: monitor server stopped: %v", err)
			}
		}()
		log.Printf("monitor: serving on %s", *monitorAddr)
	}

	input := os.Stdin
	if *inputPath != "" {
		fh, err := os.Open(*inputPath)
		if err != nil {
			log.Fatalf("FATAL: could not open %s: %v", *inputPath, err)
		}
		defer fh.Close()
		input = fh
	}

	if err := replay.Load(ctx, input, pipeline, *maxBlocks); err != nil {
		log.Fatalf("FATAL: load failed: %v", err)
	}
	log.Println("coinforest loadblocks finished")
}

// requireEnv reads a required environment variable and exits if it is not set.
func requireEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		log.Fatalf("FATAL: required environment variable %s is not set", key)
	}
	return val
}

// getEnvOrDefault returns the env var value or a safe default for non-secret settings.
func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
