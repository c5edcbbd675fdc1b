package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadmaptools/roadmap-search/internal/roadmap"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testUpdate(id, title string) roadmap.Update {
	status := "In development"
	retire := time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC)
	return roadmap.Update{
		ID:                id,
		Title:             title,
		Description:       "<p>" + title + "</p>",
		DescriptionText:   title,
		Status:            &status,
		Created:           time.Date(2025, 1, 10, 8, 0, 0, 0, time.UTC),
		Modified:          time.Date(2025, 3, 2, 14, 30, 12, 345678000, time.UTC),
		Tags:              []string{"Security"},
		ProductCategories: []string{"Collaboration"},
		Products:          []string{"Teams"},
		Rings: []roadmap.RingEntry{
			{Ring: roadmap.RingPreview, Date: nil},
			{Ring: roadmap.RingRetirement, Date: &retire},
		},
	}
}

func TestUpsertAndGetRoundTrip(t *testing.T) {
	db := openTestDB(t)

	u := testUpdate("RM-1", "Sensitivity labels")
	err := db.UpsertBatch([]Record{{Update: u, ContentHash: "h1", SyncedAt: time.Now()}})
	require.NoError(t, err)

	got, err := db.Get("RM-1")
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, u.Title, got.Title)
	require.NotNil(t, got.Status)
	assert.Equal(t, "In development", *got.Status)
	assert.Nil(t, got.Locale)
	assert.Equal(t, u.Tags, got.Tags)
	assert.Equal(t, u.Products, got.Products)
	assert.True(t, u.Modified.Equal(got.Modified), "sub-second precision survives storage")

	require.Len(t, got.Rings, 2)
	assert.Equal(t, roadmap.RingPreview, got.Rings[0].Ring)
	assert.Nil(t, got.Rings[0].Date)
	require.NotNil(t, got.Rings[1].Date)
	assert.True(t, got.Rings[1].Date.Equal(time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC)))
}

func TestGetMissingReturnsNil(t *testing.T) {
	db := openTestDB(t)

	got, err := db.Get("nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUpsertSameIDUpdatesInPlace(t *testing.T) {
	db := openTestDB(t)

	first := testUpdate("RM-1", "Old title")
	require.NoError(t, db.UpsertBatch([]Record{{Update: first, ContentHash: "h1", SyncedAt: time.Now()}}))

	second := testUpdate("RM-1", "New title")
	require.NoError(t, db.UpsertBatch([]Record{{Update: second, ContentHash: "h2", SyncedAt: time.Now()}}))

	count, err := db.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count, "upsert must never duplicate an id")

	got, err := db.Get("RM-1")
	require.NoError(t, err)
	assert.Equal(t, "New title", got.Title)

	hashes, err := db.ContentHashes()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"RM-1": "h2"}, hashes)
}

func TestGetByIDsPreservesOrder(t *testing.T) {
	db := openTestDB(t)

	var records []Record
	for _, id := range []string{"a", "b", "c"} {
		records = append(records, Record{Update: testUpdate(id, "title "+id), ContentHash: id, SyncedAt: time.Now()})
	}
	require.NoError(t, db.UpsertBatch(records))

	got, err := db.GetByIDs([]string{"c", "missing", "a"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].ID)
	assert.Equal(t, "a", got[1].ID)
}

func TestCheckpointLifecycle(t *testing.T) {
	db := openTestDB(t)

	cp, err := db.Checkpoint()
	require.NoError(t, err)
	assert.Nil(t, cp, "no checkpoint before the first sync")

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, db.BeginSync(now))

	cp, err = db.Checkpoint()
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, SyncInProgress, cp.Status)
	assert.Nil(t, cp.LastSync)

	// A second trigger while one is running must not take over.
	err = db.BeginSync(time.Now())
	assert.ErrorIs(t, err, ErrSyncInProgress)

	require.NoError(t, db.FinishSyncSuccess(now, 42, 1500*time.Millisecond))

	cp, err = db.Checkpoint()
	require.NoError(t, err)
	assert.Equal(t, SyncSuccess, cp.Status)
	require.NotNil(t, cp.LastSync)
	assert.True(t, cp.LastSync.Equal(now))
	assert.Equal(t, 42, cp.RecordCount)
	assert.Equal(t, int64(1500), cp.DurationMs)
	assert.Nil(t, cp.ErrorMessage)

	// The checkpoint is a singleton: a new sync reuses the same row.
	require.NoError(t, db.BeginSync(time.Now()))
	require.NoError(t, db.FinishSyncFailure(time.Now(), 3, time.Second, "upstream exploded"))

	cp, err = db.Checkpoint()
	require.NoError(t, err)
	assert.Equal(t, SyncFailed, cp.Status)
	require.NotNil(t, cp.ErrorMessage)
	assert.Equal(t, "upstream exploded", *cp.ErrorMessage)
	require.NotNil(t, cp.LastSync, "failure keeps the previous successful sync time")
	assert.True(t, cp.LastSync.Equal(now))

	// failed → in_progress is a legal transition for the next attempt.
	assert.NoError(t, db.BeginSync(time.Now()))
}
