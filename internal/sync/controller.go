package sync

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/roadmaptools/roadmap-search/internal/retry"
	"github.com/roadmaptools/roadmap-search/internal/roadmap"
	"github.com/roadmaptools/roadmap-search/internal/search"
	"github.com/roadmaptools/roadmap-search/internal/storage"
)

// Config holds the tunables the controller receives at startup.
type Config struct {
	StalenessThresholdHours float64
	BatchSize               int
	MaxRetries              int
}

// Controller refreshes the local mirror from the upstream feed and records
// the outcome in the sync checkpoint.
type Controller struct {
	client *roadmap.Client
	db     *storage.DB
	index  *search.Index
	cfg    Config

	// retryDelay overrides the retry executor's initial delay; zero means
	// the executor's default. Tests shrink it.
	retryDelay time.Duration
}

// NewController creates a sync controller.
func NewController(client *roadmap.Client, db *storage.DB, index *search.Index, cfg Config) *Controller {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	return &Controller{
		client: client,
		db:     db,
		index:  index,
		cfg:    cfg,
	}
}

// Stats holds the outcome of one sync run.
type Stats struct {
	TotalRecords int
	Inserted     int
	Updated      int
	Skipped      int
	Duration     time.Duration
}

// SyncIfStale runs a sync only when the staleness evaluator says the mirror
// is due. Returns (nil, nil) when the mirror is fresh or a sync is already
// running, so a scheduled trigger is a cheap no-op.
func (c *Controller) SyncIfStale(ctx context.Context) (*Stats, error) {
	cp, err := c.db.Checkpoint()
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	if !IsStale(cp, c.cfg.StalenessThresholdHours, time.Now()) {
		log.Printf("Mirror is fresh (%s), skipping sync", Freshness(cp, time.Now()))
		return nil, nil
	}
	return c.Sync(ctx)
}

// Sync performs a full refresh: checkpoint to in_progress (compare-and-swap,
// so a racing second caller gets ErrSyncInProgress), fetch every feed page
// through the retry executor, upsert changed records batch by batch, and
// finalize the checkpoint. The deferred finalizer guarantees the checkpoint
// never stays in_progress once this call returns, success or failure.
func (c *Controller) Sync(ctx context.Context) (stats *Stats, err error) {
	start := time.Now()

	if beginErr := c.db.BeginSync(start); beginErr != nil {
		return nil, beginErr
	}

	stats = &Stats{}
	finished := false
	defer func() {
		stats.Duration = time.Since(start)
		now := time.Now()
		if finished {
			if ferr := c.db.FinishSyncSuccess(now, stats.TotalRecords, stats.Duration); ferr != nil && err == nil {
				err = fmt.Errorf("finalize checkpoint: %w", ferr)
			}
			return
		}
		msg := "sync aborted"
		if err != nil {
			msg = err.Error()
		}
		// Partial progress stays committed; only the outcome is recorded.
		if ferr := c.db.FinishSyncFailure(now, stats.Inserted+stats.Updated, stats.Duration, msg); ferr != nil {
			log.Printf("Failed to record sync failure: %v", ferr)
		}
	}()

	log.Println("Starting sync...")

	hashes, err := c.db.ContentHashes()
	if err != nil {
		return stats, fmt.Errorf("load content hashes: %w", err)
	}

	retryOpts := retry.Options{
		MaxRetries:   c.cfg.MaxRetries,
		InitialDelay: c.retryDelay,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			log.Printf("Fetch attempt %d failed (%v), retrying in %v", attempt, err, delay)
		},
	}

	var batch []storage.Record
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := c.db.UpsertBatch(batch); err != nil {
			return fmt.Errorf("upsert batch: %w", err)
		}
		changed := make([]*roadmap.Update, len(batch))
		for i := range batch {
			changed[i] = &batch[i].Update
		}
		if err := c.index.IndexBatch(changed); err != nil {
			return fmt.Errorf("index batch: %w", err)
		}
		batch = batch[:0]
		return nil
	}

	type feedPage struct {
		items []roadmap.Update
		next  string
	}

	cursor := ""
	for pageNum := 1; ; pageNum++ {
		cur := cursor
		page, fetchErr := retry.Do(ctx, func(ctx context.Context) (feedPage, error) {
			items, next, err := c.client.FetchPage(ctx, cur)
			return feedPage{items: items, next: next}, err
		}, retryOpts)
		if fetchErr != nil {
			return stats, fmt.Errorf("fetch page %d: %w", pageNum, fetchErr)
		}

		log.Printf("Fetched page %d: %d updates", pageNum, len(page.items))

		for i := range page.items {
			u := page.items[i]
			stats.TotalRecords++

			hash, hashErr := contentHash(&u)
			if hashErr != nil {
				return stats, fmt.Errorf("hash %s: %w", u.ID, hashErr)
			}

			existing, exists := hashes[u.ID]
			if exists && existing == hash {
				stats.Skipped++
				continue
			}

			batch = append(batch, storage.Record{
				Update:      u,
				ContentHash: hash,
				SyncedAt:    time.Now(),
			})
			if exists {
				stats.Updated++
			} else {
				stats.Inserted++
			}
			hashes[u.ID] = hash

			if len(batch) >= c.cfg.BatchSize {
				if err := flush(); err != nil {
					return stats, err
				}
			}
		}

		if page.next == "" {
			break
		}
		cursor = page.next
	}

	if err := flush(); err != nil {
		return stats, err
	}

	finished = true
	log.Printf("Sync complete: %d new, %d updated, %d unchanged in %v",
		stats.Inserted, stats.Updated, stats.Skipped, time.Since(start))

	return stats, nil
}

// contentHash fingerprints an update for change detection across syncs.
func contentHash(u *roadmap.Update) (string, error) {
	b, err := json.Marshal(u)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", md5.Sum(b)), nil
}
