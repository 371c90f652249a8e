package dbstore

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/yiblet/clipvault/internal/errors"
	"github.com/yiblet/clipvault/internal/store"
)

// MinPhraseRunes is the shortest phrase the trigram tokenizer can match.
const MinPhraseRunes = 3

// ftsSchema mirrors items.plain_text into an external-content FTS5 table.
// The triggers keep it in step with every insert, delete and text update, so
// the index never holds a rowid without a row.
var ftsSchema = []string{
	`CREATE VIRTUAL TABLE IF NOT EXISTS items_fts USING fts5(
		plain_text,
		content='items',
		content_rowid='id',
		tokenize='trigram'
	)`,
	`CREATE TRIGGER IF NOT EXISTS items_fts_ai AFTER INSERT ON items BEGIN
		INSERT INTO items_fts(rowid, plain_text) VALUES (new.id, new.plain_text);
	END`,
	`CREATE TRIGGER IF NOT EXISTS items_fts_ad AFTER DELETE ON items BEGIN
		INSERT INTO items_fts(items_fts, rowid, plain_text) VALUES ('delete', old.id, old.plain_text);
	END`,
	`CREATE TRIGGER IF NOT EXISTS items_fts_au AFTER UPDATE OF plain_text ON items BEGIN
		INSERT INTO items_fts(items_fts, rowid, plain_text) VALUES ('delete', old.id, old.plain_text);
		INSERT INTO items_fts(rowid, plain_text) VALUES (new.id, new.plain_text);
	END`,
}

// quotePhrase turns raw user text into a single FTS5 phrase. Embedded double
// quotes are doubled, so operators and column filters in the input are inert.
func quotePhrase(text string) string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) < MinPhraseRunes {
		return ""
	}
	return `"` + strings.ReplaceAll(text, `"`, `""`) + `"`
}

// SearchFullText returns ranked IDs of items containing phrase. Only IDs are
// selected so BM25 is computed without joining full rows; callers batch
// fetch the rows afterwards.
func (s *SQLiteStore) SearchFullText(ctx context.Context, phrase string, filters store.Filters, limit, offset int) ([]int64, error) {
	match := quotePhrase(phrase)
	if match == "" {
		return []int64{}, nil
	}
	db, err := s.conn(ctx, "searchFullText")
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	args := []any{match}
	sb.WriteString(`
		SELECT i.id FROM items_fts
		JOIN items i ON i.id = items_fts.rowid
		WHERE items_fts MATCH ?`)
	if filters.App != "" {
		sb.WriteString(` AND i.app_bundle_id = ?`)
		args = append(args, filters.App)
	}
	if len(filters.Types) > 0 {
		sb.WriteString(` AND i.type IN ?`)
		args = append(args, typeNames(filters.Types))
	}
	sb.WriteString(` ORDER BY i.is_pinned DESC, bm25(items_fts) ASC, i.id DESC LIMIT ? OFFSET ?`)
	if limit <= 0 {
		limit = -1
	}
	args = append(args, limit, max(offset, 0))

	var ids []int64
	if err := db.Raw(sb.String(), args...).Scan(&ids).Error; err != nil {
		return nil, errors.NewQueryFailed("searchFullText", err)
	}
	return ids, nil
}
