package cli

import (
	"fmt"
	"time"

	"github.com/yiblet/clipvault/internal/store"
)

// Args represents the top-level command structure
type Args struct {
	DataDir    *string `arg:"--data-dir,env:CLIPVAULT_DATA_DIR" help:"Data directory (absolute, or relative to ~/.config/clipvault)"`
	ConfigFile *string `arg:"--config-file,env:CLIPVAULT_CONFIG" help:"Config file (default ~/.config/clipvault/config.yaml)"`
	Verbose    bool    `arg:"-v,--verbose" help:"Enable debug logging"`

	Store   *StoreCmd   `arg:"subcommand:store" help:"Store content from stdin, files or the clipboard"`
	Capture *CaptureCmd `arg:"subcommand:capture" help:"Capture the current clipboard once"`
	List    *ListCmd    `arg:"subcommand:list" help:"List history, pinned items first"`
	Search  *SearchCmd  `arg:"subcommand:search" help:"Search history"`
	Get     *GetCmd     `arg:"subcommand:get" help:"Output an item and record the use"`
	Pin     *IDsCmd     `arg:"subcommand:pin" help:"Pin items so cleanup never removes them"`
	Unpin   *IDsCmd     `arg:"subcommand:unpin" help:"Unpin items"`
	Delete  *IDsCmd     `arg:"subcommand:delete" help:"Delete items"`
	Clear   *ClearCmd   `arg:"subcommand:clear" help:"Delete every unpinned item"`
	Stats   *StatsCmd   `arg:"subcommand:stats" help:"Show storage statistics"`
	Cleanup *CleanupCmd `arg:"subcommand:cleanup" help:"Apply retention limits now"`
	Watch   *WatchCmd   `arg:"subcommand:watch" help:"Record clipboard changes until interrupted"`
	Pick    *PickCmd    `arg:"subcommand:pick" help:"Interactive picker (default)"`
	Config  *ConfigCmd  `arg:"subcommand:config" help:"Manage configuration"`
}

// StoreCmd represents the 'clipvault store' command
type StoreCmd struct {
	Files     []string `arg:"positional" help:"Files to read from (stdin when omitted)"`
	Clipboard bool     `arg:"-c,--clipboard" help:"Read from clipboard"`
	Type      string   `arg:"-t,--type" help:"Item type (text, rtf, html, image, file, other); sniffed when omitted"`
	App       string   `arg:"--app" help:"Source application identifier"`
}

// CaptureCmd represents the 'clipvault capture' command
type CaptureCmd struct {
	App string `arg:"--app" help:"Source application identifier"`
}

// FilterArgs are the listing filters shared by list and search.
type FilterArgs struct {
	Types []string `arg:"-t,--type,separate" help:"Only items of this type (repeatable)"`
	App   string   `arg:"--app" help:"Only items from this application"`
	Sort  string   `arg:"-s,--sort" default:"recency" help:"recency, frequency or created"`
	Limit int      `arg:"-n,--limit" default:"20" help:"Maximum number of results"`
	Skip  int      `arg:"--offset" help:"Results to skip"`
}

// ListCmd represents the 'clipvault list' command
type ListCmd struct {
	FilterArgs
}

// SearchCmd represents the 'clipvault search' command
type SearchCmd struct {
	Query string `arg:"positional,required" help:"Search query"`
	Mode  string `arg:"-m,--mode" default:"fuzzy" help:"exact, fuzzy, fuzzy+ or regex"`
	FilterArgs
	FullRescan bool `arg:"--full-rescan" help:"Score every item instead of prefiltering with the full-text index"`
	IDOnly     bool `arg:"--id-only" help:"Print only item ids"`
}

// GetCmd represents the 'clipvault get' command
type GetCmd struct {
	ID        int64   `arg:"positional,required" help:"Item id"`
	File      *string `arg:"positional" help:"Output file (optional)"`
	Clipboard bool    `arg:"-c,--clipboard" help:"Copy to clipboard"`
}

// IDsCmd represents commands that act on item ids
type IDsCmd struct {
	IDs []int64 `arg:"positional,required" help:"Item ids"`
}

// ClearCmd represents the 'clipvault clear' command
type ClearCmd struct {
	Force bool `arg:"-f,--force" help:"Skip confirmation prompt"`
}

// StatsCmd represents the 'clipvault stats' command
type StatsCmd struct {
	Detailed bool `arg:"-d,--detailed" help:"Break storage down by tier"`
}

// CleanupCmd represents the 'clipvault cleanup' command
type CleanupCmd struct {
	Sweep bool `arg:"--sweep" help:"Also remove files no item references"`
}

// WatchCmd represents the 'clipvault watch' command
type WatchCmd struct {
	Interval time.Duration `arg:"-i,--interval" help:"Polling interval (default from config)"`
	App      string        `arg:"--app" help:"Source application identifier"`
}

// PickCmd represents the 'clipvault pick' command
type PickCmd struct {
	Mode  string `arg:"-m,--mode" default:"fuzzy" help:"Initial search mode"`
	Print bool   `arg:"-p,--print" help:"Print the chosen item instead of copying it"`
}

// ConfigCmd represents the 'clipvault config' command
type ConfigCmd struct {
	Get  *ConfigGetCmd  `arg:"subcommand:get" help:"Get configuration value"`
	Set  *ConfigSetCmd  `arg:"subcommand:set" help:"Set configuration value"`
	List *ConfigListCmd `arg:"subcommand:list" help:"List all configuration"`
}

type ConfigGetCmd struct {
	Key string `arg:"positional,required" help:"Configuration key"`
}

type ConfigSetCmd struct {
	Key   string `arg:"positional,required" help:"Configuration key"`
	Value string `arg:"positional,required" help:"Configuration value"`
}

type ConfigListCmd struct{}

// Description returns the program description
func (Args) Description() string {
	return "clipvault - persistent clipboard history with fast search"
}

// Version returns the program version
func (Args) Version() string {
	return "clipvault 0.1.0"
}

// Epilogue returns additional help text
func (Args) Epilogue() string {
	return `Examples:
  clipvault watch                  # Record the clipboard in the background
  echo "hello" | clipvault store   # Store from stdin
  clipvault search -m exact "TODO" # Full-text search
  clipvault get 42 -c              # Copy item 42 back to the clipboard
  clipvault                        # Interactive picker`
}

// NoCommand reports whether no subcommand was given.
func (args *Args) NoCommand() bool {
	return args.Store == nil && args.Capture == nil && args.List == nil && args.Search == nil &&
		args.Get == nil && args.Pin == nil && args.Unpin == nil && args.Delete == nil &&
		args.Clear == nil && args.Stats == nil && args.Cleanup == nil && args.Watch == nil &&
		args.Pick == nil && args.Config == nil
}

// Validate performs validation on the parsed arguments
func (args *Args) Validate() error {
	switch {
	case args.Store != nil:
		return args.Store.Validate()
	case args.List != nil:
		return args.List.Validate()
	case args.Search != nil:
		return args.Search.Validate()
	case args.Get != nil:
		return args.Get.Validate()
	case args.Pick != nil:
		_, err := store.ParseSearchMode(args.Pick.Mode)
		return err
	case args.Watch != nil:
		if args.Watch.Interval < 0 {
			return fmt.Errorf("interval must be positive")
		}
	}
	return nil
}

// Validate validates store command arguments
func (s *StoreCmd) Validate() error {
	if len(s.Files) > 0 && s.Clipboard {
		return fmt.Errorf("cannot specify both files and clipboard input")
	}
	if s.Type != "" {
		if _, err := store.ParseItemType(s.Type); err != nil {
			return err
		}
	}
	return nil
}

// Validate validates the shared filter arguments
func (f *FilterArgs) Validate() error {
	if f.Limit < 0 || f.Skip < 0 {
		return fmt.Errorf("limit and offset must be non-negative")
	}
	_, err := f.Filters()
	return err
}

// Filters converts the arguments into store filters.
func (f *FilterArgs) Filters() (store.Filters, error) {
	filters := store.Filters{App: f.App}
	for _, name := range f.Types {
		t, err := store.ParseItemType(name)
		if err != nil {
			return store.Filters{}, err
		}
		filters.Types = append(filters.Types, t)
	}
	if _, err := store.ParseSortMode(f.Sort); err != nil {
		return store.Filters{}, err
	}
	return filters, nil
}

// Request builds a search request for query in mode.
func (f *FilterArgs) Request(query string, mode store.SearchMode) (store.SearchRequest, error) {
	filters, err := f.Filters()
	if err != nil {
		return store.SearchRequest{}, err
	}
	sortMode, err := store.ParseSortMode(f.Sort)
	if err != nil {
		return store.SearchRequest{}, err
	}
	return store.SearchRequest{
		Query:   query,
		Mode:    mode,
		Sort:    sortMode,
		Filters: filters,
		Limit:   f.Limit,
		Offset:  f.Skip,
	}, nil
}

// Validate validates search command arguments
func (s *SearchCmd) Validate() error {
	if _, err := store.ParseSearchMode(s.Mode); err != nil {
		return err
	}
	return s.FilterArgs.Validate()
}

// Validate validates get command arguments
func (g *GetCmd) Validate() error {
	if g.ID <= 0 {
		return fmt.Errorf("id must be positive")
	}
	if g.File != nil && g.Clipboard {
		return fmt.Errorf("cannot specify both file and clipboard output")
	}
	return nil
}
