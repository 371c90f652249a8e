package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"

	"github.com/yiblet/clipvault/internal/blobfs"
	"github.com/yiblet/clipvault/internal/capture"
	"github.com/yiblet/clipvault/internal/history"
	"github.com/yiblet/clipvault/internal/store"
	"github.com/yiblet/clipvault/internal/store/dbstore"
)

type benchArgs struct {
	Items   int      `arg:"-n,--items" default:"20000" help:"Items to seed"`
	Rounds  int      `arg:"-r,--rounds" default:"5" help:"Timed runs per query"`
	Dir     string   `arg:"--dir" help:"Data directory (temporary when omitted)"`
	Queries []string `arg:"positional" help:"Queries to time (defaults to a built-in set)"`
}

var words = strings.Fields(`alpha bravo charlie delta echo foxtrot golf hotel india juliet kilo lima
	mike november oscar papa quebec romeo sierra tango uniform victor whiskey xray yankee zulu
	func return error context select insert update delete config server client request response`)

func main() {
	var args benchArgs
	arg.MustParse(&args)

	dir := args.Dir
	if dir == "" {
		tmp, err := os.MkdirTemp("", "clipvault-bench-")
		if err != nil {
			log.Fatal("failed to create temp dir", "err", err)
		}
		defer os.RemoveAll(tmp)
		dir = tmp
	}

	bfs, err := blobfs.NewWithRoot(dir, blobfs.Options{})
	if err != nil {
		log.Fatal("failed to create data directory", "err", err)
	}
	repo, err := dbstore.NewSQLiteStore(filepath.Join(dir, blobfs.DBFile), dbstore.Options{})
	if err != nil {
		log.Fatal("failed to open database", "err", err)
	}
	manager := history.NewManager(repo, bfs, history.Options{})
	defer manager.Close()

	ctx := context.Background()
	seed(ctx, manager, bfs, args.Items)

	start := time.Now()
	if err := manager.WarmIndex(ctx); err != nil {
		log.Fatal("failed to build index", "err", err)
	}
	fmt.Printf("index built in %s\n\n", time.Since(start))

	queries := args.Queries
	if len(queries) == 0 {
		queries = []string{"select", "ctx err", "fxtrt", "zulu request", "q"}
	}

	fmt.Printf("%-16s %-7s %-10s %12s %8s\n", "query", "mode", "path", "avg", "results")
	for _, q := range queries {
		for _, mode := range []store.SearchMode{store.ModeExact, store.ModeFuzzy, store.ModeFuzzyPlus} {
			paths := []bool{false}
			if mode != store.ModeExact {
				paths = append(paths, true)
			}
			for _, full := range paths {
				avg, n, err := timeQuery(ctx, manager, store.SearchRequest{Query: q, Mode: mode, ForceFullRescan: full, Limit: 50}, args.Rounds)
				if err != nil {
					fmt.Printf("%-16q %-7s error: %v\n", q, mode, err)
					continue
				}
				path := "default"
				if full {
					path = "rescan"
				}
				fmt.Printf("%-16q %-7s %-10s %12s %8d\n", q, mode, path, avg, n)
			}
		}
	}

	stats, err := manager.DetailedStorageStats(ctx)
	if err == nil {
		fmt.Printf("\n%d items, database %s\n", stats.ItemCount, humanize.IBytes(uint64(stats.DBBytes)))
	}
}

func seed(ctx context.Context, manager *history.Manager, bfs *blobfs.FS, n int) {
	producer := capture.New(nil, manager, bfs, capture.Options{AppBundleID: "bench"})
	rng := rand.New(rand.NewSource(1))

	start := time.Now()
	for i := 0; i < n; i++ {
		count := 3 + rng.Intn(30)
		parts := make([]string, count)
		for j := range parts {
			parts[j] = words[rng.Intn(len(words))]
		}
		text := fmt.Sprintf("%s #%d", strings.Join(parts, " "), i)
		if _, err := producer.Capture(ctx, []byte(text), store.TypeText); err != nil {
			log.Fatal("failed to seed", "n", i, "err", err)
		}
	}
	fmt.Printf("seeded %d items in %s\n", n, time.Since(start))
}

func timeQuery(ctx context.Context, manager *history.Manager, req store.SearchRequest, rounds int) (time.Duration, int, error) {
	rounds = max(rounds, 1)
	var total time.Duration
	var results int
	for i := 0; i < rounds; i++ {
		start := time.Now()
		res, err := manager.Search(ctx, req)
		if err != nil {
			return 0, 0, err
		}
		total += time.Since(start)
		results = len(res.Items)
	}
	return total / time.Duration(rounds), results, nil
}
