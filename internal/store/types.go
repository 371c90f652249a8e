package store

import (
	"fmt"
	"time"
)

// ItemType is the closed set of clipboard content kinds.
// It is fixed at creation and drives blob placement and copy-out.
type ItemType string

const (
	TypeText  ItemType = "text"
	TypeRTF   ItemType = "rtf"
	TypeHTML  ItemType = "html"
	TypeImage ItemType = "image"
	TypeFile  ItemType = "file"
	TypeOther ItemType = "other"
)

// AllItemTypes lists every ItemType in display order.
var AllItemTypes = []ItemType{TypeText, TypeRTF, TypeHTML, TypeImage, TypeFile, TypeOther}

// ParseItemType converts a user-supplied name into an ItemType.
func ParseItemType(s string) (ItemType, error) {
	t := ItemType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown item type: %q", s)
	}
	return t, nil
}

// Valid reports whether t is one of the known item types.
func (t ItemType) Valid() bool {
	switch t {
	case TypeText, TypeRTF, TypeHTML, TypeImage, TypeFile, TypeOther:
		return true
	}
	return false
}

// Extension returns the blob file extension used when content of this type
// is stored outside the database.
func (t ItemType) Extension() string {
	switch t {
	case TypeText:
		return "txt"
	case TypeRTF:
		return "rtf"
	case TypeHTML:
		return "html"
	case TypeImage:
		return "png"
	case TypeFile:
		return "bin"
	case TypeOther:
		return "dat"
	}
	return "dat"
}

// IsTextual reports whether the payload of t is itself text.
func (t ItemType) IsTextual() bool {
	switch t {
	case TypeText, TypeRTF, TypeHTML:
		return true
	case TypeImage, TypeFile, TypeOther:
		return false
	}
	return false
}

// StoredItem is a persisted clipboard entry. Exactly one item exists per
// ContentHash. Content lives either inline in RawData or in the blob file
// named by StorageRef, never both.
type StoredItem struct {
	// ID is assigned at insert and never reused.
	ID int64

	Type        ItemType
	ContentHash string

	// PlainText is the normalized searchable text. Binary types carry a
	// descriptive label here.
	PlainText string

	// AppBundleID identifies the source application; empty when unknown.
	AppBundleID string

	CreatedAt  time.Time
	LastUsedAt time.Time
	UseCount   int
	IsPinned   bool

	// SizeBytes is the logical content size.
	SizeBytes int64

	// StorageRef is the blob file name (relative to the blob root); empty
	// when content is inline.
	StorageRef string

	// RawData holds inline content. It is not loaded by list and search queries.
	RawData []byte
}

// BlobName returns the deterministic blob file name for an item.
func BlobName(id int64, t ItemType) string {
	return fmt.Sprintf("%d.%s", id, t.Extension())
}

// HasExternalContent reports whether the item's payload lives in a blob file.
func (i *StoredItem) HasExternalContent() bool {
	return i.StorageRef != ""
}

// PayloadKind says where an ingested payload currently lives.
type PayloadKind int

const (
	PayloadNone PayloadKind = iota
	PayloadInline
	PayloadFile
)

// Payload is the raw content accompanying a capture. File payloads point at
// a spooled file that the store moves into the blob directory.
type Payload struct {
	Kind PayloadKind
	Data []byte
	Path string
}

// InlinePayload wraps bytes held in memory.
func InlinePayload(data []byte) Payload {
	return Payload{Kind: PayloadInline, Data: data}
}

// FilePayload wraps a spooled file on disk.
func FilePayload(path string) Payload {
	return Payload{Kind: PayloadFile, Path: path}
}

// ClipboardContent is the producer's pre-normalized capture, the store's sole ingest input.
type ClipboardContent struct {
	Type        ItemType
	PlainText   string
	Payload     Payload
	AppBundleID string
	ContentHash string
	SizeBytes   int64
}

// Validate checks the fields the store relies on.
func (c *ClipboardContent) Validate() error {
	if !c.Type.Valid() {
		return fmt.Errorf("invalid content type: %q", c.Type)
	}
	if c.ContentHash == "" {
		return fmt.Errorf("content hash is required")
	}
	if c.SizeBytes < 0 {
		return fmt.Errorf("size must be non-negative")
	}
	if c.Payload.Kind == PayloadFile && c.Payload.Path == "" {
		return fmt.Errorf("file payload requires a path")
	}
	return nil
}

// SearchMode selects the matching strategy.
type SearchMode string

const (
	ModeExact     SearchMode = "exact"
	ModeFuzzy     SearchMode = "fuzzy"
	ModeFuzzyPlus SearchMode = "fuzzy+"
	ModeRegex     SearchMode = "regex"
)

// ParseSearchMode converts a user-supplied name into a SearchMode.
func ParseSearchMode(s string) (SearchMode, error) {
	switch m := SearchMode(s); m {
	case ModeExact, ModeFuzzy, ModeFuzzyPlus, ModeRegex:
		return m, nil
	case "":
		return ModeExact, nil
	case "fuzzyplus", "fuzzy-plus":
		return ModeFuzzyPlus, nil
	}
	return "", fmt.Errorf("unknown search mode: %q", s)
}

// SortMode selects the ordering of unranked listings and the recency tiebreak of ranked ones.
type SortMode string

const (
	SortRecency   SortMode = "recency"
	SortFrequency SortMode = "frequency"
	SortCreated   SortMode = "created"
)

// ParseSortMode converts a user-supplied name into a SortMode.
func ParseSortMode(s string) (SortMode, error) {
	switch m := SortMode(s); m {
	case SortRecency, SortFrequency, SortCreated:
		return m, nil
	case "":
		return SortRecency, nil
	}
	return "", fmt.Errorf("unknown sort mode: %q", s)
}

// Filters restricts listings and searches. Zero values mean "any".
type Filters struct {
	App   string
	Types []ItemType
}

// Empty reports whether no filter is set.
func (f Filters) Empty() bool {
	return f.App == "" && len(f.Types) == 0
}

// Match reports whether item passes the filters.
func (f Filters) Match(item *StoredItem) bool {
	if f.App != "" && item.AppBundleID != f.App {
		return false
	}
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		if item.Type == t {
			return true
		}
	}
	return false
}

// SearchRequest describes one search call.
type SearchRequest struct {
	Query   string
	Mode    SearchMode
	Sort    SortMode
	Filters Filters

	// ForceFullRescan disables the full-text prefilter for fuzzy queries.
	ForceFullRescan bool

	Limit  int
	Offset int
}

// TotalUnknown is reported in SearchResult.Total when the scan was not exhaustive.
const TotalUnknown = -1

// SearchResult is one page of results.
type SearchResult struct {
	Items   []StoredItem
	Total   int
	HasMore bool
}

// CleanupCandidate is an eviction victim produced by a planning query.
type CleanupCandidate struct {
	ID          int64
	StorageRef  string
	ContentHash string
	SizeBytes   int64
}

// RepoStats aggregates repository-level counters.
type RepoStats struct {
	ItemCount     int
	PinnedCount   int
	InlineBytes   int64
	ExternalBytes int64
}

// StorageStats is the summary exposed to the presentation layer.
type StorageStats struct {
	ItemCount int
	SizeBytes int64
}

// DetailedStorageStats breaks storage down by tier.
type DetailedStorageStats struct {
	ItemCount     int
	DBBytes       int64
	ExternalBytes int64
	TotalBytes    int64
	DBPath        string
}

// References lists every blob name and content hash still referenced by a row.
type References struct {
	StorageRefs   map[string]struct{}
	ContentHashes map[string]struct{}
}
