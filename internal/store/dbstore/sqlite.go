// Package dbstore implements store.Repository on SQLite. Rows are mapped
// with GORM; the connection comes from the pure-Go modernc driver, which
// ships FTS5 and its trigram tokenizer.
package dbstore

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"

	"github.com/yiblet/clipvault/internal/errors"
	"github.com/yiblet/clipvault/internal/store"
)

// batchDeleteChunk bounds the number of bound parameters per DELETE statement.
const batchDeleteChunk = 500

// Options configures a SQLiteStore.
type Options struct {
	Logger *log.Logger
}

// SQLiteStore is a SQLite-backed implementation of store.Repository
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *gorm.DB
	sqlDB  *sql.DB
	dbPath string
	log    *log.Logger

	// seams for the connection recovery path
	open       func(dbPath string) (*gorm.DB, *sql.DB, error)
	rollbackTx func(tx *gorm.DB) error
}

var _ store.Repository = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database at dbPath, migrates the
// item table and installs the full-text shadow index and its triggers.
func NewSQLiteStore(dbPath string, opts Options) (*SQLiteStore, error) {
	lg := opts.Logger
	if lg == nil {
		lg = log.Default()
	}
	s := &SQLiteStore{
		dbPath:     dbPath,
		log:        lg.WithPrefix("dbstore"),
		open:       openDB,
		rollbackTx: func(tx *gorm.DB) error { return tx.Rollback().Error },
	}

	db, sqlDB, err := s.open(dbPath)
	if err != nil {
		return nil, err
	}
	s.db = db
	s.sqlDB = sqlDB

	return s, nil
}

// openDB opens a connection and brings the schema up to date.
func openDB(dbPath string) (*gorm.DB, *sql.DB, error) {
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}

	db, err := gorm.Open(&sqlite.Dialector{Conn: sqlDB}, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		sqlDB.Close()
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Run auto-migration for the item table
	if err := db.AutoMigrate(&ItemModel{}); err != nil {
		sqlDB.Close()
		return nil, nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	for _, stmt := range ftsSchema {
		if err := db.Exec(stmt).Error; err != nil {
			sqlDB.Close()
			return nil, nil, fmt.Errorf("failed to create full-text index: %w", err)
		}
	}

	return db, sqlDB, nil
}

// conn returns the live connection or NOT_OPEN after Close.
func (s *SQLiteStore) conn(ctx context.Context, op string) (*gorm.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, errors.NewNotOpen(op)
	}
	return s.db.WithContext(ctx), nil
}

// Path returns the database file location.
func (s *SQLiteStore) Path() string {
	return s.dbPath
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sqlDB == nil {
		return nil
	}
	err := s.sqlDB.Close()
	s.db = nil
	s.sqlDB = nil
	return err
}

// reconnect replaces the connection after a failed rollback left it in an
// unknown state. If reopening fails the store reports NOT_OPEN from then on.
func (s *SQLiteStore) reconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sqlDB != nil {
		if err := s.sqlDB.Close(); err != nil {
			s.log.Warn("closing connection before reopen failed", "err", err)
		}
	}
	s.db, s.sqlDB = nil, nil

	db, sqlDB, err := s.open(s.dbPath)
	if err != nil {
		s.log.Error("reopening database failed; store is unusable", "err", err, "path", s.dbPath, "corrupted", true)
		return
	}
	s.db, s.sqlDB = db, sqlDB
	s.log.Info("database connection reopened", "path", s.dbPath)
}

// Insert stores a new item and assigns its ID
func (s *SQLiteStore) Insert(ctx context.Context, item *store.StoredItem) error {
	return s.insert(ctx, item, nil)
}

// InsertExternal stores a new item and names its blob inside the same
// transaction, so the row only commits once the file is in place.
func (s *SQLiteStore) InsertExternal(ctx context.Context, item *store.StoredItem, place func(ref string) error) error {
	return s.insert(ctx, item, place)
}

func (s *SQLiteStore) insert(ctx context.Context, item *store.StoredItem, place func(ref string) error) error {
	db, err := s.conn(ctx, "insert")
	if err != nil {
		return err
	}

	model := newItemModel(item)
	model.ID = 0
	if place != nil {
		model.StorageRef = nil
	}

	var placeErr error
	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(model).Error; err != nil {
			return err
		}
		if place == nil {
			return nil
		}
		ref := store.BlobName(model.ID, item.Type)
		if err := tx.Model(model).UpdateColumn("storage_ref", ref).Error; err != nil {
			return err
		}
		if placeErr = place(ref); placeErr != nil {
			return placeErr
		}
		model.StorageRef = &ref
		return nil
	})
	if placeErr != nil {
		return placeErr
	}
	if err != nil {
		if isUniqueConstraintError(err) {
			return errors.NewInsertFailed("insert", fmt.Errorf("duplicate content hash %q: %w", item.ContentHash, err))
		}
		return errors.NewInsertFailed("insert", err)
	}

	item.ID = model.ID
	if model.StorageRef != nil {
		item.StorageRef = *model.StorageRef
	}
	return nil
}

// isUniqueConstraintError checks if the error is a SQLite UNIQUE constraint violation.
func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// FetchByHash looks up the item with the given content hash, excluding content
func (s *SQLiteStore) FetchByHash(ctx context.Context, hash string) (*store.StoredItem, error) {
	db, err := s.conn(ctx, "fetchByHash")
	if err != nil {
		return nil, err
	}

	var model ItemModel
	if err := db.Select(listColumns).Where("content_hash = ?", hash).Take(&model).Error; err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.NewQueryFailed("fetchByHash", err)
	}

	item := model.ToStoredItem()
	return &item, nil
}

// FetchByID retrieves a single item including inline content
func (s *SQLiteStore) FetchByID(ctx context.Context, id int64) (*store.StoredItem, error) {
	db, err := s.conn(ctx, "fetchByID")
	if err != nil {
		return nil, err
	}

	var model ItemModel
	if err := db.Where("id = ?", id).Take(&model).Error; err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.NewQueryFailed("fetchByID", err)
	}

	item := model.ToStoredItem()
	return &item, nil
}

// FetchRecent lists items pinned-first, newest use first
func (s *SQLiteStore) FetchRecent(ctx context.Context, limit, offset int) ([]store.StoredItem, error) {
	return s.FetchFiltered(ctx, store.Filters{}, store.SortRecency, limit, offset)
}

// FetchFiltered lists items matching filters in the requested order
func (s *SQLiteStore) FetchFiltered(ctx context.Context, filters store.Filters, sort store.SortMode, limit, offset int) ([]store.StoredItem, error) {
	db, err := s.conn(ctx, "fetchFiltered")
	if err != nil {
		return nil, err
	}

	query := applyFilters(db.Model(&ItemModel{}).Select(listColumns), filters).
		Order(orderClause(sort))
	query = paginate(query, limit, offset)

	var models []ItemModel
	if err := query.Find(&models).Error; err != nil {
		return nil, errors.NewQueryFailed("fetchFiltered", err)
	}
	return toStoredItems(models), nil
}

// CountFiltered counts items matching filters
func (s *SQLiteStore) CountFiltered(ctx context.Context, filters store.Filters) (int, error) {
	db, err := s.conn(ctx, "countFiltered")
	if err != nil {
		return 0, err
	}

	var count int64
	if err := applyFilters(db.Model(&ItemModel{}), filters).Count(&count).Error; err != nil {
		return 0, errors.NewQueryFailed("countFiltered", err)
	}
	return int(count), nil
}

// FetchAllForIndex scans every item once, excluding content
func (s *SQLiteStore) FetchAllForIndex(ctx context.Context) ([]store.StoredItem, error) {
	db, err := s.conn(ctx, "fetchAllForIndex")
	if err != nil {
		return nil, err
	}

	var models []ItemModel
	if err := db.Select(listColumns).Order("id ASC").Find(&models).Error; err != nil {
		return nil, errors.NewQueryFailed("fetchAllForIndex", err)
	}
	return toStoredItems(models), nil
}

// FetchByIDs batch-fetches items, preserving the order of ids
func (s *SQLiteStore) FetchByIDs(ctx context.Context, ids []int64) ([]store.StoredItem, error) {
	if len(ids) == 0 {
		return []store.StoredItem{}, nil
	}
	db, err := s.conn(ctx, "fetchByIDs")
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]store.StoredItem, len(ids))
	for _, chunk := range chunkIDs(ids, batchDeleteChunk) {
		var models []ItemModel
		if err := db.Select(listColumns).Where("id IN ?", chunk).Find(&models).Error; err != nil {
			return nil, errors.NewQueryFailed("fetchByIDs", err)
		}
		for i := range models {
			byID[models[i].ID] = models[i].ToStoredItem()
		}
	}

	items := make([]store.StoredItem, 0, len(ids))
	for _, id := range ids {
		if item, ok := byID[id]; ok {
			items = append(items, item)
		}
	}
	return items, nil
}

// UpdateUsage sets last_used_at and use_count without rewriting the row
func (s *SQLiteStore) UpdateUsage(ctx context.Context, id int64, lastUsedAt time.Time, useCount int) error {
	return s.updateColumns(ctx, "updateUsage", id, map[string]any{
		"last_used_at": lastUsedAt.UnixMilli(),
		"use_count":    useCount,
	})
}

// UpdatePin sets the pinned flag
func (s *SQLiteStore) UpdatePin(ctx context.Context, id int64, pinned bool) error {
	return s.updateColumns(ctx, "updatePin", id, map[string]any{"is_pinned": pinned})
}

// UpdateMetadata replaces the source application in place
func (s *SQLiteStore) UpdateMetadata(ctx context.Context, id int64, appBundleID string) error {
	return s.updateColumns(ctx, "updateMetadata", id, map[string]any{"app_bundle_id": nullable(appBundleID)})
}

func (s *SQLiteStore) updateColumns(ctx context.Context, op string, id int64, cols map[string]any) error {
	db, err := s.conn(ctx, op)
	if err != nil {
		return err
	}

	result := db.Model(&ItemModel{}).Where("id = ?", id).UpdateColumns(cols)
	if result.Error != nil {
		return errors.NewUpdateFailed(op, result.Error)
	}
	if result.RowsAffected == 0 {
		return errors.NewNotFound(id)
	}
	return nil
}

// DeleteItem removes an item row by ID
func (s *SQLiteStore) DeleteItem(ctx context.Context, id int64) error {
	db, err := s.conn(ctx, "deleteItem")
	if err != nil {
		return err
	}

	result := db.Delete(&ItemModel{}, id)
	if result.Error != nil {
		return errors.NewDeleteFailed("deleteItem", result.Error)
	}
	if result.RowsAffected == 0 {
		return errors.NewNotFound(id)
	}
	return nil
}

// DeleteAllExceptPinned removes every unpinned row in one transaction
func (s *SQLiteStore) DeleteAllExceptPinned(ctx context.Context) ([]store.CleanupCandidate, error) {
	db, err := s.conn(ctx, "deleteAllExceptPinned")
	if err != nil {
		return nil, err
	}

	var rows []candidateRow
	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&ItemModel{}).
			Select("id", "storage_ref", "content_hash", "size_bytes").
			Where("is_pinned = ?", false).
			Scan(&rows).Error; err != nil {
			return err
		}
		return tx.Where("is_pinned = ?", false).Delete(&ItemModel{}).Error
	})
	if err != nil {
		return nil, errors.NewDeleteFailed("deleteAllExceptPinned", err)
	}
	return toCandidates(rows), nil
}

// PlanCleanupByCount plans the oldest unpinned items beyond maxItems
func (s *SQLiteStore) PlanCleanupByCount(ctx context.Context, maxItems int) ([]store.CleanupCandidate, error) {
	db, err := s.conn(ctx, "planCleanupByCount")
	if err != nil {
		return nil, err
	}

	var unpinned int64
	if err := db.Model(&ItemModel{}).Where("is_pinned = ?", false).Count(&unpinned).Error; err != nil {
		return nil, errors.NewQueryFailed("planCleanupByCount", err)
	}
	excess := int(unpinned) - max(maxItems, 0)
	if excess <= 0 {
		return nil, nil
	}

	var rows []candidateRow
	if err := db.Model(&ItemModel{}).
		Select("id", "storage_ref", "content_hash", "size_bytes").
		Where("is_pinned = ?", false).
		Order("last_used_at ASC, id ASC").
		Limit(excess).
		Scan(&rows).Error; err != nil {
		return nil, errors.NewQueryFailed("planCleanupByCount", err)
	}
	return toCandidates(rows), nil
}

// PlanCleanupByAge plans unpinned items last used before cutoff
func (s *SQLiteStore) PlanCleanupByAge(ctx context.Context, cutoff time.Time) ([]store.CleanupCandidate, error) {
	db, err := s.conn(ctx, "planCleanupByAge")
	if err != nil {
		return nil, err
	}

	var rows []candidateRow
	if err := db.Model(&ItemModel{}).
		Select("id", "storage_ref", "content_hash", "size_bytes").
		Where("is_pinned = ? AND last_used_at < ?", false, cutoff.UnixMilli()).
		Order("last_used_at ASC, id ASC").
		Scan(&rows).Error; err != nil {
		return nil, errors.NewQueryFailed("planCleanupByAge", err)
	}
	return toCandidates(rows), nil
}

// PlanCleanupByTotalSize plans inline victims until inline bytes fit maxBytes
func (s *SQLiteStore) PlanCleanupByTotalSize(ctx context.Context, maxBytes int64) ([]store.CleanupCandidate, error) {
	return s.planBySize(ctx, "planCleanupByTotalSize", "storage_ref IS NULL", maxBytes)
}

// PlanCleanupByExternalSize plans blob victims until blob bytes fit maxBytes
func (s *SQLiteStore) PlanCleanupByExternalSize(ctx context.Context, maxBytes int64) ([]store.CleanupCandidate, error) {
	return s.planBySize(ctx, "planCleanupByExternalSize", "storage_ref IS NOT NULL", maxBytes)
}

// planBySize accumulates the oldest unpinned rows of one storage tier with a
// running sum until the freed bytes cover the excess. Pinned rows count
// toward the total but are never selected.
func (s *SQLiteStore) planBySize(ctx context.Context, op, tier string, maxBytes int64) ([]store.CleanupCandidate, error) {
	db, err := s.conn(ctx, op)
	if err != nil {
		return nil, err
	}

	var total int64
	if err := db.Model(&ItemModel{}).
		Select("COALESCE(SUM(size_bytes), 0)").
		Where(tier).
		Scan(&total).Error; err != nil {
		return nil, errors.NewQueryFailed(op, err)
	}
	excess := total - max(maxBytes, 0)
	if excess <= 0 {
		return nil, nil
	}

	query := `
		SELECT id, storage_ref, content_hash, size_bytes FROM (
			SELECT id, storage_ref, content_hash, size_bytes, last_used_at,
				SUM(size_bytes) OVER (ORDER BY last_used_at ASC, id ASC) AS running
			FROM items
			WHERE is_pinned = 0 AND ` + tier + `
		)
		WHERE running - size_bytes < ?
		ORDER BY last_used_at ASC, id ASC`

	var rows []candidateRow
	if err := db.Raw(query, excess).Scan(&rows).Error; err != nil {
		return nil, errors.NewQueryFailed(op, err)
	}
	return toCandidates(rows), nil
}

// DeleteItemsBatchInTransaction removes all ids atomically. A failed rollback
// triggers a reconnect so later calls do not inherit a broken connection.
func (s *SQLiteStore) DeleteItemsBatchInTransaction(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	db, err := s.conn(ctx, "deleteItemsBatch")
	if err != nil {
		return err
	}

	tx := db.Begin()
	if tx.Error != nil {
		return errors.NewDeleteFailed("deleteItemsBatch", tx.Error)
	}

	for _, chunk := range chunkIDs(ids, batchDeleteChunk) {
		if err := tx.Where("id IN ?", chunk).Delete(&ItemModel{}).Error; err != nil {
			s.rollback(tx)
			return errors.NewDeleteFailed("deleteItemsBatch", err)
		}
	}

	if err := tx.Commit().Error; err != nil {
		s.rollback(tx)
		return errors.NewDeleteFailed("deleteItemsBatch", err)
	}
	return nil
}

func (s *SQLiteStore) rollback(tx *gorm.DB) {
	err := s.rollbackTx(tx)
	if err == nil || stderrors.Is(err, sql.ErrTxDone) {
		return
	}
	s.log.Error("rollback failed; reopening connection", "err", err)
	s.reconnect()
}

// References lists every referenced blob name and content hash
func (s *SQLiteStore) References(ctx context.Context) (*store.References, error) {
	db, err := s.conn(ctx, "references")
	if err != nil {
		return nil, err
	}

	var rows []candidateRow
	if err := db.Model(&ItemModel{}).Select("id", "storage_ref", "content_hash").Scan(&rows).Error; err != nil {
		return nil, errors.NewQueryFailed("references", err)
	}

	refs := &store.References{
		StorageRefs:   make(map[string]struct{}),
		ContentHashes: make(map[string]struct{}, len(rows)),
	}
	for _, row := range rows {
		if row.StorageRef != nil {
			refs.StorageRefs[*row.StorageRef] = struct{}{}
		}
		refs.ContentHashes[row.ContentHash] = struct{}{}
	}
	return refs, nil
}

// Stats returns item counts and per-tier byte totals
func (s *SQLiteStore) Stats(ctx context.Context) (*store.RepoStats, error) {
	db, err := s.conn(ctx, "stats")
	if err != nil {
		return nil, err
	}

	var row struct {
		ItemCount     int
		PinnedCount   int
		InlineBytes   int64
		ExternalBytes int64
	}
	err = db.Raw(`
		SELECT
			COUNT(*) AS item_count,
			COALESCE(SUM(CASE WHEN is_pinned THEN 1 ELSE 0 END), 0) AS pinned_count,
			COALESCE(SUM(CASE WHEN storage_ref IS NULL THEN size_bytes ELSE 0 END), 0) AS inline_bytes,
			COALESCE(SUM(CASE WHEN storage_ref IS NOT NULL THEN size_bytes ELSE 0 END), 0) AS external_bytes
		FROM items`).Scan(&row).Error
	if err != nil {
		return nil, errors.NewQueryFailed("stats", err)
	}

	return &store.RepoStats{
		ItemCount:     row.ItemCount,
		PinnedCount:   row.PinnedCount,
		InlineBytes:   row.InlineBytes,
		ExternalBytes: row.ExternalBytes,
	}, nil
}

// Housekeep checkpoints the write-ahead log and merges full-text segments,
// but only once the log has grown past walThreshold bytes.
func (s *SQLiteStore) Housekeep(ctx context.Context, walThreshold int64) (bool, error) {
	info, err := os.Stat(s.dbPath + "-wal")
	if err != nil || info.Size() < walThreshold {
		return false, nil
	}

	db, err := s.conn(ctx, "housekeep")
	if err != nil {
		return false, err
	}
	if err := db.Exec("PRAGMA wal_checkpoint(TRUNCATE)").Error; err != nil {
		return false, errors.NewQueryFailed("housekeep", err)
	}
	if err := db.Exec("INSERT INTO items_fts(items_fts) VALUES('optimize')").Error; err != nil {
		return true, errors.NewQueryFailed("housekeep", err)
	}
	s.log.Debug("housekeeping done", "walBytes", info.Size())
	return true, nil
}

// applyFilters adds WHERE clauses for the app and type filters
func applyFilters(query *gorm.DB, filters store.Filters) *gorm.DB {
	if filters.App != "" {
		query = query.Where("app_bundle_id = ?", filters.App)
	}
	if len(filters.Types) > 0 {
		query = query.Where("type IN ?", typeNames(filters.Types))
	}
	return query
}

// orderClause maps a sort mode to its ORDER BY; id breaks ties so pages are stable
func orderClause(sort store.SortMode) string {
	switch sort {
	case store.SortFrequency:
		return "is_pinned DESC, use_count DESC, last_used_at DESC, id DESC"
	case store.SortCreated:
		return "is_pinned DESC, created_at DESC, id DESC"
	default:
		return "is_pinned DESC, last_used_at DESC, id DESC"
	}
}

func paginate(query *gorm.DB, limit, offset int) *gorm.DB {
	if limit <= 0 {
		limit = math.MaxInt32
	}
	query = query.Limit(limit)
	if offset > 0 {
		query = query.Offset(offset)
	}
	return query
}

func typeNames(types []store.ItemType) []string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	return names
}

func toStoredItems(models []ItemModel) []store.StoredItem {
	items := make([]store.StoredItem, len(models))
	for i := range models {
		items[i] = models[i].ToStoredItem()
	}
	return items
}

func toCandidates(rows []candidateRow) []store.CleanupCandidate {
	if len(rows) == 0 {
		return nil
	}
	out := make([]store.CleanupCandidate, len(rows))
	for i, row := range rows {
		out[i] = row.toCandidate()
	}
	return out
}

func chunkIDs(ids []int64, size int) [][]int64 {
	var chunks [][]int64
	for len(ids) > size {
		chunks = append(chunks, ids[:size])
		ids = ids[size:]
	}
	if len(ids) > 0 {
		chunks = append(chunks, ids)
	}
	return chunks
}
