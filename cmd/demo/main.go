package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/yiblet/clipvault/internal/blobfs"
	"github.com/yiblet/clipvault/internal/capture"
	"github.com/yiblet/clipvault/internal/history"
	"github.com/yiblet/clipvault/internal/store"
	"github.com/yiblet/clipvault/internal/store/memstore"
)

func main() {
	fmt.Println("clipvault History Demo")
	ctx := context.Background()

	dir, err := os.MkdirTemp("", "clipvault-demo-")
	if err != nil {
		log.Fatal("failed to create temp dir", "err", err)
	}
	defer os.RemoveAll(dir)

	// Create in-memory store over a throwaway blob directory
	bfs, err := blobfs.NewWithRoot(dir, blobfs.Options{})
	if err != nil {
		log.Fatal("failed to create blob storage", "err", err)
	}
	manager := history.NewManager(memstore.NewMemoryStore(), bfs, history.Options{InlineThreshold: 1024})
	defer manager.Close()
	producer := capture.New(nil, manager, bfs, capture.Options{SpoolThreshold: 1024, AppBundleID: "demo"})

	testContent := []string{
		"Hello, World! This is the first item in our history.",
		"package main\n\nimport \"fmt\"\n\nfunc main() {\n    fmt.Println(\"Hello, Go!\")\n}",
		"#!/bin/bash\necho \"Starting script...\"\nfor i in {1..5}; do\n    echo \"Processing $i\"\ndone",
		"SELECT * FROM users WHERE created_at > '2023-01-01' ORDER BY created_at DESC LIMIT 10;",
		"<html><body><h1>Release notes</h1><p>Fixed the <b>search</b> timeout.</p></body></html>",
		strings.Repeat("Lorem ipsum dolor sit amet, consectetur adipiscing elit. ", 40),
		"Hello, World! This is the first item in our history.",
	}

	fmt.Println("Capturing items:")
	for i, content := range testContent {
		item, err := producer.Capture(ctx, []byte(content), "")
		if err != nil {
			log.Error("failed to capture item", "n", i, "err", err)
			continue
		}
		placement := "inline"
		if item.HasExternalContent() {
			placement = "blob " + item.StorageRef
		}
		fmt.Printf("%d. #%d %-6s uses=%d %-16s %s\n", i+1, item.ID, item.Type, item.UseCount, placement, history.Label(item, 50))
	}

	if err := manager.Pin(ctx, 2); err != nil {
		log.Error("failed to pin", "err", err)
	}

	items, err := manager.FetchRecent(ctx, 20, 0)
	if err != nil {
		log.Fatal("failed to list items", "err", err)
	}
	fmt.Printf("\nHistory (%d items, pinned first):\n", len(items))
	for i := range items {
		marker := " "
		if items[i].IsPinned {
			marker = "*"
		}
		fmt.Printf("%s #%d %s\n", marker, items[i].ID, history.Label(&items[i], 60))
	}

	queries := []struct {
		query string
		mode  store.SearchMode
	}{
		{"hello", store.ModeExact},
		{"slct usrs", store.ModeFuzzy},
		{"echo done", store.ModeFuzzyPlus},
		{`^#!`, store.ModeRegex},
		{"release", store.ModeExact},
	}
	for _, q := range queries {
		res, err := manager.Search(ctx, store.SearchRequest{Query: q.query, Mode: q.mode, Limit: 5})
		if err != nil {
			log.Error("search failed", "query", q.query, "err", err)
			continue
		}
		fmt.Printf("\n%s %q -> %d results\n", q.mode, q.query, len(res.Items))
		for i := range res.Items {
			fmt.Printf("  #%d %s\n", res.Items[i].ID, history.Label(&res.Items[i], 60))
		}
	}

	stats, err := manager.DetailedStorageStats(ctx)
	if err != nil {
		log.Fatal("failed to read stats", "err", err)
	}
	fmt.Printf("\nStorage: %d items, %d bytes in blobs\n", stats.ItemCount, stats.ExternalBytes)
	fmt.Printf("\nDemo complete! (Using in-memory store)\n")
}
