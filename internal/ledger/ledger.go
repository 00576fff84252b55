// Package ledger persists the identity of every item the pipeline has ever
// ingested, plus the enriched items themselves so previously seen content
// rejoins the feed without another enrichment call.
package ledger

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mphagenaars/focusferry/internal/content"
)

type Ledger struct {
	readDB  *sql.DB
	writeDB *sql.DB
}

func Open(dbPath string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating ledger dir: %w", err)
	}

	writeDB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening write db: %w", err)
	}
	writeDB.SetMaxOpenConns(1)

	readDB, err := sql.Open("sqlite", dbPath+"?mode=ro")
	if err != nil {
		writeDB.Close()
		return nil, fmt.Errorf("opening read db: %w", err)
	}

	l := &Ledger{readDB: readDB, writeDB: writeDB}
	if err := l.init(); err != nil {
		l.Close()
		return nil, err
	}
	return l, nil
}

func (l *Ledger) init() error {
	_, err := l.writeDB.Exec(`
		CREATE TABLE IF NOT EXISTS ledger (
			item_id       TEXT PRIMARY KEY,
			first_seen_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS items (
			id                TEXT PRIMARY KEY,
			kind              TEXT NOT NULL,
			source            TEXT NOT NULL,
			title             TEXT NOT NULL,
			title_lang        TEXT NOT NULL DEFAULT '',
			url               TEXT NOT NULL,
			description       TEXT NOT NULL DEFAULT '',
			thumbnail_url     TEXT NOT NULL DEFAULT '',
			published         DATETIME NOT NULL,
			collected_at      DATETIME NOT NULL,
			enriched_title    TEXT NOT NULL DEFAULT '',
			enriched_summary  TEXT NOT NULL DEFAULT '',
			enrichment_status TEXT NOT NULL DEFAULT 'pending',
			enriched_at       DATETIME
		);
		CREATE INDEX IF NOT EXISTS idx_items_published ON items(published DESC);
		CREATE INDEX IF NOT EXISTS idx_items_source ON items(source);

		CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("initializing schema: %w", err)
	}
	return nil
}

func (l *Ledger) Close() error {
	var errs []error
	if l.readDB != nil {
		errs = append(errs, l.readDB.Close())
	}
	if l.writeDB != nil {
		errs = append(errs, l.writeDB.Close())
	}
	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return nil
}

// FilterNew partitions candidates by ledger membership. Known items come
// back with their persisted enrichment so the assembler can merge them
// without another backend call. With retryFailed set, known items whose
// enrichment never completed move back to the new set for another attempt.
func (l *Ledger) FilterNew(candidates []content.Item, retryFailed bool) (newItems []content.Item, known []content.FeedItem, err error) {
	for _, cand := range candidates {
		var firstSeen time.Time
		err := l.readDB.QueryRow("SELECT first_seen_at FROM ledger WHERE item_id = ?", cand.ID).Scan(&firstSeen)
		if err == sql.ErrNoRows {
			newItems = append(newItems, cand)
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("checking ledger for %s: %w", cand.ID, err)
		}

		stored, err := l.getItem(cand.ID)
		if err == sql.ErrNoRows {
			// In the ledger but no stored row: a crash landed between the
			// two inserts. Carry the candidate with fallback text.
			stored = content.FeedItem{Item: cand, Enrichment: content.Fallback(cand, content.StatusFailed, firstSeen)}
		} else if err != nil {
			return nil, nil, fmt.Errorf("loading item %s: %w", cand.ID, err)
		}

		if retryFailed && stored.Enrichment.Status != content.StatusDone {
			newItems = append(newItems, stored.Item)
			continue
		}
		known = append(known, stored)
	}
	return newItems, known, nil
}

// Commit records items in the ledger and persists their enriched form in a
// single transaction. Ledger rows are append-only: re-committing an id
// keeps its original first_seen_at, so a crash between filter and commit
// cannot double-count an item.
func (l *Ledger) Commit(items []content.FeedItem) error {
	if len(items) == 0 {
		return nil
	}

	tx, err := l.writeDB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	ledgerStmt, err := tx.Prepare(`
		INSERT INTO ledger (item_id, first_seen_at) VALUES (?, ?)
		ON CONFLICT(item_id) DO NOTHING
	`)
	if err != nil {
		return err
	}
	defer ledgerStmt.Close()

	itemStmt, err := tx.Prepare(`
		INSERT INTO items (id, kind, source, title, title_lang, url, description, thumbnail_url,
			published, collected_at, enriched_title, enriched_summary, enrichment_status, enriched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			enriched_title = excluded.enriched_title,
			enriched_summary = excluded.enriched_summary,
			enrichment_status = excluded.enrichment_status,
			enriched_at = excluded.enriched_at
	`)
	if err != nil {
		return err
	}
	defer itemStmt.Close()

	now := time.Now()
	for _, it := range items {
		if _, err := ledgerStmt.Exec(it.ID, now); err != nil {
			return fmt.Errorf("committing ledger entry %s: %w", it.ID, err)
		}
		_, err := itemStmt.Exec(
			it.ID, it.Kind, it.Source, it.Title, it.TitleLang, it.URL, it.Description, it.ThumbnailURL,
			it.Published, it.CollectedAt,
			it.Enrichment.Title, it.Enrichment.Summary, it.Enrichment.Status, it.Enrichment.EnrichedAt,
		)
		if err != nil {
			return fmt.Errorf("committing item %s: %w", it.ID, err)
		}
	}

	return tx.Commit()
}

// Known loads every persisted item with its enrichment, newest first.
func (l *Ledger) Known() ([]content.FeedItem, error) {
	rows, err := l.readDB.Query(`
		SELECT id, kind, source, title, title_lang, url, description, thumbnail_url,
			published, collected_at, enriched_title, enriched_summary, enrichment_status, enriched_at
		FROM items ORDER BY published DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying items: %w", err)
	}
	defer rows.Close()

	var items []content.FeedItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// Contains reports ledger membership for a single id.
func (l *Ledger) Contains(id string) (bool, error) {
	var n int
	err := l.readDB.QueryRow("SELECT COUNT(*) FROM ledger WHERE item_id = ?", id).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (l *Ledger) getItem(id string) (content.FeedItem, error) {
	row := l.readDB.QueryRow(`
		SELECT id, kind, source, title, title_lang, url, description, thumbnail_url,
			published, collected_at, enriched_title, enriched_summary, enrichment_status, enriched_at
		FROM items WHERE id = ?
	`, id)
	return scanItem(row)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (content.FeedItem, error) {
	var it content.FeedItem
	var enrichedAt sql.NullTime
	err := row.Scan(
		&it.ID, &it.Kind, &it.Source, &it.Title, &it.TitleLang, &it.URL, &it.Description, &it.ThumbnailURL,
		&it.Published, &it.CollectedAt,
		&it.Enrichment.Title, &it.Enrichment.Summary, &it.Enrichment.Status, &enrichedAt,
	)
	if err == sql.ErrNoRows {
		return it, err
	}
	if err != nil {
		return it, fmt.Errorf("scanning item: %w", err)
	}
	if enrichedAt.Valid {
		it.Enrichment.EnrichedAt = enrichedAt.Time
	}
	return it, nil
}

// SetLastRun records when the pipeline last completed.
func (l *Ledger) SetLastRun(t time.Time) error {
	_, err := l.writeDB.Exec(`
		INSERT INTO meta (key, value) VALUES ('last_run', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, t.Format(time.RFC3339))
	return err
}

// LastRun returns the completion time of the previous run, or the zero time
// when no run has completed yet.
func (l *Ledger) LastRun() time.Time {
	var value string
	if err := l.readDB.QueryRow("SELECT value FROM meta WHERE key = 'last_run'").Scan(&value); err != nil {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Stats returns the item count and on-disk size of the ledger database.
func (l *Ledger) Stats(dbPath string) (count int, size int64, err error) {
	if err := l.readDB.QueryRow("SELECT COUNT(*) FROM ledger").Scan(&count); err != nil {
		return 0, 0, err
	}
	fi, err := os.Stat(dbPath)
	if err != nil {
		return count, 0, err
	}
	return count, fi.Size(), nil
}
