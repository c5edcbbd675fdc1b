package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/roadmaptools/roadmap-search/internal/roadmap"
)

// Record pairs an update with its sync bookkeeping columns.
type Record struct {
	Update      roadmap.Update
	ContentHash string
	SyncedAt    time.Time
}

// ContentHashes loads the stored content hash for every record, keyed by id.
// The sync controller uses this to classify a batch into inserts, updates,
// and unchanged records without re-reading row by row.
func (d *DB) ContentHashes() (map[string]string, error) {
	rows, err := d.db.Query("SELECT id, content_hash FROM updates")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	hashes := make(map[string]string)
	for rows.Next() {
		var id, hash string
		if err := rows.Scan(&id, &hash); err != nil {
			return nil, err
		}
		hashes[id] = hash
	}
	return hashes, rows.Err()
}

// UpsertBatch writes a batch of records in a single transaction. Existing ids
// are updated in place; new ids are inserted. Either the whole batch commits
// or none of it does.
func (d *DB) UpsertBatch(records []Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
	INSERT INTO updates (
		id, title, description, description_text, status, locale,
		created, modified, tags, product_categories, products, rings,
		content_hash, synced_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		title = excluded.title,
		description = excluded.description,
		description_text = excluded.description_text,
		status = excluded.status,
		locale = excluded.locale,
		created = excluded.created,
		modified = excluded.modified,
		tags = excluded.tags,
		product_categories = excluded.product_categories,
		products = excluded.products,
		rings = excluded.rings,
		content_hash = excluded.content_hash,
		synced_at = excluded.synced_at
	`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for i := range records {
		u := &records[i].Update
		tags, err := json.Marshal(u.Tags)
		if err != nil {
			return fmt.Errorf("marshal tags for %s: %w", u.ID, err)
		}
		categories, err := json.Marshal(u.ProductCategories)
		if err != nil {
			return fmt.Errorf("marshal categories for %s: %w", u.ID, err)
		}
		products, err := json.Marshal(u.Products)
		if err != nil {
			return fmt.Errorf("marshal products for %s: %w", u.ID, err)
		}
		rings, err := json.Marshal(u.Rings)
		if err != nil {
			return fmt.Errorf("marshal rings for %s: %w", u.ID, err)
		}

		_, err = stmt.Exec(
			u.ID, u.Title, u.Description, u.DescriptionText, u.Status, u.Locale,
			u.Created, u.Modified, string(tags), string(categories), string(products), string(rings),
			records[i].ContentHash, records[i].SyncedAt,
		)
		if err != nil {
			return fmt.Errorf("upsert %s: %w", u.ID, err)
		}
	}

	return tx.Commit()
}

const updateColumns = `id, title, description, description_text, status, locale,
	created, modified, tags, product_categories, products, rings`

func scanUpdate(scan func(...any) error) (*roadmap.Update, error) {
	u := &roadmap.Update{}
	var status, locale sql.NullString
	var tags, categories, products, rings string

	err := scan(
		&u.ID, &u.Title, &u.Description, &u.DescriptionText, &status, &locale,
		&u.Created, &u.Modified, &tags, &categories, &products, &rings,
	)
	if err != nil {
		return nil, err
	}

	if status.Valid {
		u.Status = &status.String
	}
	if locale.Valid {
		u.Locale = &locale.String
	}
	if err := json.Unmarshal([]byte(tags), &u.Tags); err != nil {
		return nil, fmt.Errorf("unmarshal tags for %s: %w", u.ID, err)
	}
	if err := json.Unmarshal([]byte(categories), &u.ProductCategories); err != nil {
		return nil, fmt.Errorf("unmarshal categories for %s: %w", u.ID, err)
	}
	if err := json.Unmarshal([]byte(products), &u.Products); err != nil {
		return nil, fmt.Errorf("unmarshal products for %s: %w", u.ID, err)
	}
	if err := json.Unmarshal([]byte(rings), &u.Rings); err != nil {
		return nil, fmt.Errorf("unmarshal rings for %s: %w", u.ID, err)
	}

	return u, nil
}

// Get retrieves a single update by id, or nil when absent.
func (d *DB) Get(id string) (*roadmap.Update, error) {
	row := d.db.QueryRow("SELECT "+updateColumns+" FROM updates WHERE id = ?", id)
	u, err := scanUpdate(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return u, err
}

// GetByIDs retrieves updates for the given ids, preserving the input order.
// Ids with no stored record are silently skipped.
func (d *DB) GetByIDs(ids []string) ([]*roadmap.Update, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := d.db.Query(
		"SELECT "+updateColumns+" FROM updates WHERE id IN ("+placeholders+")", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := make(map[string]*roadmap.Update, len(ids))
	for rows.Next() {
		u, err := scanUpdate(rows.Scan)
		if err != nil {
			return nil, err
		}
		byID[u.ID] = u
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	ordered := make([]*roadmap.Update, 0, len(ids))
	for _, id := range ids {
		if u, ok := byID[id]; ok {
			ordered = append(ordered, u)
		}
	}
	return ordered, nil
}

// Count returns the total number of mirrored updates.
func (d *DB) Count() (int, error) {
	var count int
	err := d.db.QueryRow("SELECT COUNT(*) FROM updates").Scan(&count)
	return count, err
}
