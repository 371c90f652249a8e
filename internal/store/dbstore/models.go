package dbstore

import (
	"time"

	"github.com/yiblet/clipvault/internal/store"
)

// ItemModel represents a clipboard item in the database.
// Timestamps are stored as unix milliseconds so ordering is exact.
type ItemModel struct {
	ID          int64   `gorm:"primaryKey;autoIncrement"`
	Type        string  `gorm:"size:16;not null;index:idx_items_type"`
	ContentHash string  `gorm:"size:128;not null;uniqueIndex:idx_items_content_hash"`
	PlainText   string  `gorm:"type:text;not null"`
	AppBundleID *string `gorm:"column:app_bundle_id;size:255;index:idx_items_app"`
	CreatedAtMs int64   `gorm:"column:created_at;not null"`
	LastUsedMs  int64   `gorm:"column:last_used_at;not null;index:idx_items_pinned_last_used,priority:2"`
	UseCount    int     `gorm:"not null;default:1"`
	IsPinned    bool    `gorm:"not null;default:false;index:idx_items_pinned_last_used,priority:1"`
	SizeBytes   int64   `gorm:"not null"`
	StorageRef  *string `gorm:"size:255"`
	RawData     []byte  `gorm:"type:blob"`
}

// TableName returns the table name for ItemModel
func (ItemModel) TableName() string {
	return "items"
}

// ToStoredItem converts the GORM model to a store.StoredItem
func (m *ItemModel) ToStoredItem() store.StoredItem {
	item := store.StoredItem{
		ID:          m.ID,
		Type:        store.ItemType(m.Type),
		ContentHash: m.ContentHash,
		PlainText:   m.PlainText,
		CreatedAt:   time.UnixMilli(m.CreatedAtMs),
		LastUsedAt:  time.UnixMilli(m.LastUsedMs),
		UseCount:    m.UseCount,
		IsPinned:    m.IsPinned,
		SizeBytes:   m.SizeBytes,
		RawData:     m.RawData,
	}
	if m.AppBundleID != nil {
		item.AppBundleID = *m.AppBundleID
	}
	if m.StorageRef != nil {
		item.StorageRef = *m.StorageRef
	}
	return item
}

// newItemModel converts a store.StoredItem into its row representation.
func newItemModel(item *store.StoredItem) *ItemModel {
	return &ItemModel{
		ID:          item.ID,
		Type:        string(item.Type),
		ContentHash: item.ContentHash,
		PlainText:   item.PlainText,
		AppBundleID: nullable(item.AppBundleID),
		CreatedAtMs: item.CreatedAt.UnixMilli(),
		LastUsedMs:  item.LastUsedAt.UnixMilli(),
		UseCount:    item.UseCount,
		IsPinned:    item.IsPinned,
		SizeBytes:   item.SizeBytes,
		StorageRef:  nullable(item.StorageRef),
		RawData:     item.RawData,
	}
}

// candidateRow is the projection returned by planning queries.
type candidateRow struct {
	ID          int64
	StorageRef  *string
	ContentHash string
	SizeBytes   int64
}

func (r candidateRow) toCandidate() store.CleanupCandidate {
	c := store.CleanupCandidate{ID: r.ID, ContentHash: r.ContentHash, SizeBytes: r.SizeBytes}
	if r.StorageRef != nil {
		c.StorageRef = *r.StorageRef
	}
	return c
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// listColumns are the columns loaded by listings; raw_data stays on disk.
var listColumns = []string{
	"id", "type", "content_hash", "plain_text", "app_bundle_id",
	"created_at", "last_used_at", "use_count", "is_pinned", "size_bytes", "storage_ref",
}
