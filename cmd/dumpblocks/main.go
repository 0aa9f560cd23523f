// Command dumpblocks reads every block back out of the coin-name index and
// writes it as a textual block-replay stream, in canonical order.
package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/rawblock/coinforest/internal/coinbase"
	"github.com/rawblock/coinforest/internal/replay"
	"github.com/rawblock/coinforest/internal/store"
)

func main() {
	log.Println("Starting coinforest dumpblocks...")

	var (
		outputPath = flag.String("output", "", "path to write the replay stream (default: stdout)")
		maxBlocks  = flag.Uint64("max-blocks", 1_000_000_000_000, "maximum block index to dump")
		describe   = flag.Bool("describe", false, "print a human-readable rendering instead of the replay format")
	)
	flag.Parse()

	dbURL := requireEnv("DATABASE_URL")

	ctx := context.Background()

	st, err := store.Connect(ctx, dbURL)
	if err != nil {
		log.Fatalf("FATAL: failed to connect to PostgreSQL: %v", err)
	}
	defer st.Close()

	it, err := st.BlocksWithNames(ctx, coinbase.New())
	if err != nil {
		log.Fatalf("FATAL: could not open block scan: %v", err)
	}
	defer it.Close()

	output := os.Stdout
	if *outputPath != "" {
		fh, err := os.Create(*outputPath)
		if err != nil {
			log.Fatalf("FATAL: could not create %s: %v", *outputPath, err)
		}
		defer fh.Close()
		output = fh
	}

	dump := replay.Dump
	if *describe {
		dump = replay.Describe
	}
	if err := dump(output, it, *maxBlocks); err != nil {
		log.Fatalf("FATAL: dump failed: %v", err)
	}
	log.Println("coinforest dumpblocks finished")
}

// requireEnv reads a required environment variable and exits if it is not set.
func requireEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		log.Fatalf("FATAL: required environment variable %s is not set", key)
	}
	return val
}
