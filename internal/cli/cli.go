package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/yiblet/clipvault/internal/blobfs"
	"github.com/yiblet/clipvault/internal/capture"
	"github.com/yiblet/clipvault/internal/cleanup"
	"github.com/yiblet/clipvault/internal/clipboard"
	"github.com/yiblet/clipvault/internal/clipboard/nativeboard"
	"github.com/yiblet/clipvault/internal/clipboard/sysboard"
	"github.com/yiblet/clipvault/internal/config"
	"github.com/yiblet/clipvault/internal/history"
	"github.com/yiblet/clipvault/internal/store"
	"github.com/yiblet/clipvault/internal/store/dbstore"
	"github.com/yiblet/clipvault/internal/tui"
)

// labelWidth bounds item labels in list and search output.
const labelWidth = 72

// CLI handles the command-line interface
type CLI struct {
	cfgManager *config.ConfigManager
	cfg        *config.Config
	blobs      *blobfs.FS
	manager    *history.Manager
	clipboard  clipboard.Clipboard
	log        *log.Logger

	in  io.Reader
	out io.Writer
}

// NewWithArgs loads the configuration and opens the store the arguments point at.
func NewWithArgs(args *Args) (*CLI, error) {
	if args == nil {
		args = &Args{}
	}

	level := log.InfoLevel
	if args.Verbose {
		level = log.DebugLevel
	}
	lg := log.NewWithOptions(os.Stderr, log.Options{
		Prefix:          "clipvault",
		Level:           level,
		ReportTimestamp: true,
	})

	var cm *config.ConfigManager
	if args.ConfigFile != nil {
		cm = config.NewConfigManagerWithPath(*args.ConfigFile)
	} else {
		var err error
		if cm, err = config.NewConfigManager(); err != nil {
			return nil, err
		}
	}
	cfg, err := cm.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Determine data directory (precedence: flag > env var > config > default)
	dataDir := cfg.DataDir
	if args.DataDir != nil {
		dataDir = *args.DataDir
	}

	blobOpts := cfg.BlobOptions()
	blobOpts.Logger = lg
	bfs, err := blobfs.New(dataDir, blobOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	repo, err := dbstore.NewSQLiteStore(bfs.DBPath(), dbstore.Options{Logger: lg})
	if err != nil {
		return nil, fmt.Errorf("failed to create database store: %w", err)
	}

	histOpts := cfg.HistoryOptions()
	histOpts.Logger = lg

	return &CLI{
		cfgManager: cm,
		cfg:        cfg,
		blobs:      bfs,
		manager:    history.NewManager(repo, bfs, histOpts),
		log:        lg,
		in:         os.Stdin,
		out:        os.Stdout,
	}, nil
}

// Close waits for background work and closes the store.
func (c *CLI) Close() error {
	return c.manager.Close()
}

// board returns the clipboard, preferring the native one for image support.
func (c *CLI) board() clipboard.Clipboard {
	if c.clipboard != nil {
		return c.clipboard
	}
	if native := nativeboard.New(); native.IsSupported() {
		c.clipboard = native
	} else {
		c.clipboard = sysboard.New()
	}
	return c.clipboard
}

func (c *CLI) producer(app string) *capture.Producer {
	return capture.New(c.board(), c.manager, c.blobs, capture.Options{
		Logger:         c.log,
		SpoolThreshold: c.cfg.InlineThresholdBytes,
		AppBundleID:    app,
	})
}

// Execute runs the CLI command based on parsed arguments
func (c *CLI) Execute(ctx context.Context, args *Args) error {
	if err := args.Validate(); err != nil {
		return err
	}

	switch {
	case args.Store != nil:
		return c.executeStore(ctx, args.Store)
	case args.Capture != nil:
		return c.executeCapture(ctx, args.Capture)
	case args.List != nil:
		return c.executeList(ctx, args.List)
	case args.Search != nil:
		return c.executeSearch(ctx, args.Search)
	case args.Get != nil:
		return c.executeGet(ctx, args.Get)
	case args.Pin != nil:
		return c.eachID(ctx, args.Pin, "Pinned", c.manager.Pin)
	case args.Unpin != nil:
		return c.eachID(ctx, args.Unpin, "Unpinned", c.manager.Unpin)
	case args.Delete != nil:
		return c.eachID(ctx, args.Delete, "Deleted", c.manager.Delete)
	case args.Clear != nil:
		return c.executeClear(ctx, args.Clear)
	case args.Stats != nil:
		return c.executeStats(ctx, args.Stats)
	case args.Cleanup != nil:
		return c.executeCleanup(ctx, args.Cleanup)
	case args.Watch != nil:
		return c.executeWatch(ctx, args.Watch)
	case args.Config != nil:
		return c.executeConfig(args.Config)
	case args.Pick != nil:
		return c.executePick(ctx, args.Pick)
	default:
		return c.executePick(ctx, &PickCmd{Mode: string(store.ModeFuzzy)})
	}
}

// executeStore handles the 'clipvault store' command
func (c *CLI) executeStore(ctx context.Context, cmd *StoreCmd) error {
	t := store.ItemType(cmd.Type)

	switch {
	case cmd.Clipboard:
		snap, err := clipboard.ReadSnapshot(c.board())
		if err != nil {
			return fmt.Errorf("failed to read clipboard: %w", err)
		}
		if snap.Image && t == "" {
			t = store.TypeImage
		}
		return c.storeData(ctx, cmd.App, snap.Data, t, "clipboard")

	case len(cmd.Files) > 0:
		for _, filename := range cmd.Files {
			data, err := os.ReadFile(filename)
			if err != nil {
				return fmt.Errorf("failed to read file %s: %w", filename, err)
			}
			if err := c.storeData(ctx, cmd.App, data, t, filename); err != nil {
				return err
			}
		}
		return nil

	default:
		data, err := io.ReadAll(c.in)
		if err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
		return c.storeData(ctx, cmd.App, data, t, "stdin")
	}
}

func (c *CLI) storeData(ctx context.Context, app string, data []byte, t store.ItemType, source string) error {
	item, err := capture.New(nil, c.manager, c.blobs, capture.Options{
		Logger:         c.log,
		SpoolThreshold: c.cfg.InlineThresholdBytes,
		AppBundleID:    app,
	}).Capture(ctx, data, t)
	if errors.Is(err, capture.ErrEmpty) {
		return fmt.Errorf("no content in %s", source)
	}
	if err != nil {
		return fmt.Errorf("failed to store content from %s: %w", source, err)
	}
	fmt.Fprintf(c.out, "Stored #%d: %s\n", item.ID, history.Label(item, labelWidth))
	return nil
}

// executeCapture handles the 'clipvault capture' command
func (c *CLI) executeCapture(ctx context.Context, cmd *CaptureCmd) error {
	item, err := c.producer(cmd.App).Poll(ctx)
	if err != nil {
		return fmt.Errorf("failed to capture clipboard: %w", err)
	}
	if item == nil {
		fmt.Fprintln(c.out, "Clipboard is empty")
		return nil
	}
	fmt.Fprintf(c.out, "Stored #%d: %s\n", item.ID, history.Label(item, labelWidth))
	return nil
}

// executeList handles the 'clipvault list' command
func (c *CLI) executeList(ctx context.Context, cmd *ListCmd) error {
	req, err := cmd.Request("", store.ModeExact)
	if err != nil {
		return err
	}
	res, err := c.manager.Search(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to list history: %w", err)
	}
	if len(res.Items) == 0 {
		fmt.Fprintln(c.out, "No items")
		return nil
	}
	c.printItems(res, false)
	return nil
}

// executeSearch handles the 'clipvault search' command
func (c *CLI) executeSearch(ctx context.Context, cmd *SearchCmd) error {
	mode, err := store.ParseSearchMode(cmd.Mode)
	if err != nil {
		return err
	}
	req, err := cmd.Request(cmd.Query, mode)
	if err != nil {
		return err
	}
	req.ForceFullRescan = cmd.FullRescan

	res, err := c.manager.Search(ctx, req)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	if len(res.Items) == 0 && !cmd.IDOnly {
		fmt.Fprintln(c.out, "No matches")
		return nil
	}
	c.printItems(res, cmd.IDOnly)
	return nil
}

func (c *CLI) printItems(res *store.SearchResult, idOnly bool) {
	for i := range res.Items {
		item := &res.Items[i]
		if idOnly {
			fmt.Fprintln(c.out, item.ID)
			continue
		}
		marker := " "
		if item.IsPinned {
			marker = "*"
		}
		fmt.Fprintf(c.out, "%6d %s %-8s %-14s %s\n",
			item.ID, marker, item.Type, humanize.Time(item.LastUsedAt), history.Label(item, labelWidth))
	}
	if idOnly {
		return
	}
	switch {
	case res.Total != store.TotalUnknown && res.HasMore:
		fmt.Fprintf(c.out, "(%d of %d)\n", len(res.Items), res.Total)
	case res.HasMore:
		fmt.Fprintln(c.out, "(more results available)")
	}
}

// executeGet handles the 'clipvault get' command
func (c *CLI) executeGet(ctx context.Context, cmd *GetCmd) error {
	item, data, err := c.manager.Use(ctx, cmd.ID)
	if err != nil {
		return fmt.Errorf("failed to get item %d: %w", cmd.ID, err)
	}

	switch {
	case cmd.Clipboard:
		if err := clipboard.WriteContent(c.board(), item.Type, data); err != nil {
			return fmt.Errorf("failed to copy to clipboard: %w", err)
		}
		fmt.Fprintf(c.out, "Copied to clipboard: %s\n", history.Label(item, labelWidth))
	case cmd.File != nil:
		if err := os.WriteFile(*cmd.File, data, 0644); err != nil {
			return fmt.Errorf("failed to write file: %w", err)
		}
		fmt.Fprintf(c.out, "Wrote %s to %s\n", humanize.IBytes(uint64(len(data))), *cmd.File)
	default:
		if _, err := c.out.Write(data); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}
	return nil
}

func (c *CLI) eachID(ctx context.Context, cmd *IDsCmd, verb string, op func(context.Context, int64) error) error {
	for _, id := range cmd.IDs {
		if err := op(ctx, id); err != nil {
			return fmt.Errorf("item %d: %w", id, err)
		}
		fmt.Fprintf(c.out, "%s #%d\n", verb, id)
	}
	return nil
}

// executeClear handles the 'clipvault clear' command
func (c *CLI) executeClear(ctx context.Context, cmd *ClearCmd) error {
	stats, err := c.manager.StorageStats(ctx)
	if err != nil {
		return fmt.Errorf("failed to read stats: %w", err)
	}
	if stats.ItemCount == 0 {
		fmt.Fprintln(c.out, "History is already empty")
		return nil
	}

	if !cmd.Force {
		fmt.Fprintf(c.out, "This will delete every unpinned item (%d total). Continue? [y/N]: ", stats.ItemCount)
		response, err := bufio.NewReader(c.in).ReadString('\n')
		if err != nil && err != io.EOF {
			return fmt.Errorf("failed to read confirmation: %w", err)
		}
		response = strings.TrimSpace(strings.ToLower(response))
		if response != "y" && response != "yes" {
			fmt.Fprintln(c.out, "Operation cancelled")
			return nil
		}
	}

	removed, err := c.manager.ClearAllExceptPinned(ctx)
	if err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}
	fmt.Fprintf(c.out, "Deleted %d items\n", removed)
	return nil
}

// executeStats handles the 'clipvault stats' command
func (c *CLI) executeStats(ctx context.Context, cmd *StatsCmd) error {
	if !cmd.Detailed {
		stats, err := c.manager.StorageStats(ctx)
		if err != nil {
			return fmt.Errorf("failed to read stats: %w", err)
		}
		fmt.Fprintf(c.out, "Items:   %d\n", stats.ItemCount)
		fmt.Fprintf(c.out, "Content: %s\n", humanize.IBytes(uint64(stats.SizeBytes)))
		return nil
	}

	stats, err := c.manager.DetailedStorageStats(ctx)
	if err != nil {
		return fmt.Errorf("failed to read stats: %w", err)
	}
	fmt.Fprintf(c.out, "Items:     %d\n", stats.ItemCount)
	fmt.Fprintf(c.out, "Database:  %s\n", humanize.IBytes(uint64(stats.DBBytes)))
	fmt.Fprintf(c.out, "External:  %s\n", humanize.IBytes(uint64(stats.ExternalBytes)))
	fmt.Fprintf(c.out, "Total:     %s\n", humanize.IBytes(uint64(stats.TotalBytes)))
	fmt.Fprintf(c.out, "Location:  %s\n", stats.DBPath)
	return nil
}

// executeCleanup handles the 'clipvault cleanup' command
func (c *CLI) executeCleanup(ctx context.Context, cmd *CleanupCmd) error {
	report, err := c.manager.RunMaintenance(ctx)
	if report != nil {
		printReport(c.out, report)
	}
	if err != nil {
		return fmt.Errorf("cleanup failed: %w", err)
	}

	if cmd.Sweep {
		swept, err := c.manager.SweepOrphans(ctx)
		if err != nil {
			return fmt.Errorf("orphan sweep failed: %w", err)
		}
		fmt.Fprintf(c.out, "Swept %d blobs, %d thumbnails, %d temp files\n",
			swept.Blobs, swept.Thumbnails, swept.TempFiles)
	}
	return nil
}

func printReport(w io.Writer, report *cleanup.Report) {
	fmt.Fprintf(w, "Deleted %d items\n", report.Deleted())
	for _, pass := range report.Passes {
		if pass.Deleted == 0 {
			continue
		}
		fmt.Fprintf(w, "  %-14s %d items, %s\n", string(pass.Pass)+":", pass.Deleted, humanize.IBytes(uint64(pass.FreedBytes)))
	}
	if report.Housekept {
		fmt.Fprintln(w, "  checkpointed write-ahead log")
	}
}

// executeWatch handles the 'clipvault watch' command. It records clipboard
// changes, sweeps orphaned files and follows config edits until ctx is done.
func (c *CLI) executeWatch(ctx context.Context, cmd *WatchCmd) error {
	if !c.board().IsSupported() {
		return fmt.Errorf("no clipboard available on this system")
	}

	interval := cmd.Interval
	if interval == 0 {
		interval = c.cfg.PollInterval
	}

	if err := c.manager.WarmIndex(ctx); err != nil {
		c.log.Warn("failed to warm search index", "err", err)
	}

	producer := c.producer(cmd.App)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return producer.Watch(ctx, interval, func(item *store.StoredItem) {
			c.log.Info("captured", "id", item.ID, "label", history.Label(item, 40))
		})
	})

	g.Go(func() error {
		return c.sweepLoop(ctx, c.cfg.OrphanSweepInterval)
	})

	g.Go(func() error {
		return c.cfgManager.Watch(ctx, func(cfg *config.Config, err error) {
			if err != nil {
				c.log.Warn("config reload failed", "err", err)
				return
			}
			c.manager.SetLimits(cfg.Limits())
			c.log.Info("config reloaded", "path", c.cfgManager.GetConfigPath())
		})
	})

	c.log.Info("watching clipboard", "interval", interval, "data", c.blobs.Root())
	return g.Wait()
}

func (c *CLI) sweepLoop(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			report, err := c.manager.SweepOrphans(ctx)
			if err != nil {
				c.log.Warn("orphan sweep failed", "err", err)
				continue
			}
			if report.Blobs+report.Thumbnails+report.TempFiles > 0 {
				c.log.Info("swept orphans", "blobs", report.Blobs, "thumbnails", report.Thumbnails, "temp", report.TempFiles)
			}
		}
	}
}

// executePick runs the interactive picker and copies (or prints) the chosen item.
func (c *CLI) executePick(ctx context.Context, cmd *PickCmd) error {
	mode, err := store.ParseSearchMode(cmd.Mode)
	if err != nil {
		return err
	}
	if err := c.manager.WarmIndex(ctx); err != nil {
		c.log.Warn("failed to warm search index", "err", err)
	}

	model := tui.New(ctx, c.manager, tui.Options{Mode: mode})
	final, err := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	if err != nil {
		return fmt.Errorf("picker failed: %w", err)
	}

	picked, ok := final.(tui.Model)
	if !ok || picked.Chosen() == nil {
		return nil
	}
	return c.executeGet(ctx, &GetCmd{ID: picked.Chosen().ID, Clipboard: !cmd.Print})
}

// executeConfig handles the 'clipvault config' command
func (c *CLI) executeConfig(cmd *ConfigCmd) error {
	switch {
	case cmd.Get != nil:
		value, err := c.cfgManager.Get(cmd.Get.Key)
		if err != nil {
			return fmt.Errorf("failed to get config: %w", err)
		}
		fmt.Fprintln(c.out, value)
		return nil

	case cmd.Set != nil:
		if err := c.cfgManager.Update(cmd.Set.Key, cmd.Set.Value); err != nil {
			return fmt.Errorf("failed to set config: %w", err)
		}
		fmt.Fprintf(c.out, "Set %s = %s\n", cmd.Set.Key, cmd.Set.Value)
		return nil

	default:
		values, err := c.cfgManager.List()
		if err != nil {
			return fmt.Errorf("failed to list config: %w", err)
		}
		for _, key := range config.Keys() {
			fmt.Fprintf(c.out, "%s = %s\n", key, values[key])
		}
		return nil
	}
}
