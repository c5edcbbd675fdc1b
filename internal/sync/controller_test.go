package sync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	stdsync "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadmaptools/roadmap-search/internal/roadmap"
	"github.com/roadmaptools/roadmap-search/internal/search"
	"github.com/roadmaptools/roadmap-search/internal/storage"
)

// feedServer serves a mutable set of updates, two per page, over the same
// wire shape the real feed uses.
type feedServer struct {
	mu      stdsync.Mutex
	updates []roadmap.Update
	fail    atomic.Int32 // respond with this HTTP status once, then recover
	hits    atomic.Int32
}

func newFeedServer(updates []roadmap.Update) *feedServer {
	return &feedServer{updates: updates}
}

func (f *feedServer) setUpdates(updates []roadmap.Update) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = updates
}

func (f *feedServer) handler() http.Handler {
	const pageSize = 2
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)
		if status := f.fail.Load(); status != 0 {
			f.fail.Store(0)
			http.Error(w, http.StatusText(int(status)), int(status))
			return
		}

		f.mu.Lock()
		updates := f.updates
		f.mu.Unlock()

		offset := 0
		if c := r.URL.Query().Get("cursor"); c != "" {
			json.Unmarshal([]byte(c), &offset)
		}

		end := offset + pageSize
		next := ""
		if end >= len(updates) {
			end = len(updates)
		} else {
			b, _ := json.Marshal(end)
			next = string(b)
		}

		json.NewEncoder(w).Encode(map[string]any{
			"items":      updates[offset:end],
			"nextCursor": next,
		})
	})
}

func feedFixture() []roadmap.Update {
	status := "In development"
	return []roadmap.Update{
		{
			ID: "RM-1", Title: "First feature", Description: "<p>one</p>",
			Status:   &status,
			Created:  time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
			Modified: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
			Tags:     []string{"Security"},
		},
		{
			ID: "RM-2", Title: "Second feature", Description: "<p>two</p>",
			Created:  time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC),
			Modified: time.Date(2025, 2, 2, 0, 0, 0, 0, time.UTC),
			Tags:     []string{"AI"},
		},
		{
			ID: "RM-3", Title: "Third feature", Description: "<p>three</p>",
			Created:  time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC),
			Modified: time.Date(2025, 2, 3, 0, 0, 0, 0, time.UTC),
		},
	}
}

type testEnv struct {
	controller *Controller
	db         *storage.DB
	feed       *feedServer
}

func newTestEnv(t *testing.T, updates []roadmap.Update) *testEnv {
	t.Helper()

	feed := newFeedServer(updates)
	srv := httptest.NewServer(feed.handler())
	t.Cleanup(srv.Close)

	db, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	idx, err := search.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	controller := NewController(roadmap.NewClient(srv.URL), db, idx, Config{
		StalenessThresholdHours: 24,
		BatchSize:               2,
		MaxRetries:              2,
	})
	controller.retryDelay = time.Millisecond

	return &testEnv{controller: controller, db: db, feed: feed}
}

func TestSyncInsertsAllRecords(t *testing.T) {
	env := newTestEnv(t, feedFixture())

	stats, err := env.controller.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, stats.TotalRecords)
	assert.Equal(t, 3, stats.Inserted)
	assert.Equal(t, 0, stats.Updated)
	assert.Equal(t, 0, stats.Skipped)

	count, err := env.db.Count()
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	cp, err := env.db.Checkpoint()
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, storage.SyncSuccess, cp.Status)
	assert.Equal(t, 3, cp.RecordCount)
	assert.NotNil(t, cp.LastSync)
	assert.Nil(t, cp.ErrorMessage)
}

func TestSyncIsIdempotent(t *testing.T) {
	env := newTestEnv(t, feedFixture())
	ctx := context.Background()

	_, err := env.controller.Sync(ctx)
	require.NoError(t, err)

	stats, err := env.controller.Sync(ctx)
	require.NoError(t, err)

	assert.Equal(t, 0, stats.Inserted, "unchanged upstream data inserts nothing")
	assert.Equal(t, 0, stats.Updated)
	assert.Equal(t, 3, stats.Skipped)

	count, err := env.db.Count()
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestSyncUpsertsChangedRecordInPlace(t *testing.T) {
	env := newTestEnv(t, feedFixture())
	ctx := context.Background()

	_, err := env.controller.Sync(ctx)
	require.NoError(t, err)

	changed := feedFixture()
	changed[1].Title = "Second feature, renamed"
	env.feed.setUpdates(changed)

	stats, err := env.controller.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Inserted)
	assert.Equal(t, 1, stats.Updated)
	assert.Equal(t, 2, stats.Skipped)

	count, err := env.db.Count()
	require.NoError(t, err)
	assert.Equal(t, 3, count, "update-in-place, never a duplicate")

	got, err := env.db.Get("RM-2")
	require.NoError(t, err)
	assert.Equal(t, "Second feature, renamed", got.Title)
}

func TestSyncRetriesTransientUpstreamFailure(t *testing.T) {
	env := newTestEnv(t, feedFixture())
	env.feed.fail.Store(http.StatusServiceUnavailable)

	stats, err := env.controller.Sync(context.Background())
	require.NoError(t, err, "one 503 is absorbed by the retry executor")
	assert.Equal(t, 3, stats.TotalRecords)
}

func TestSyncFailureRecordsCheckpoint(t *testing.T) {
	env := newTestEnv(t, feedFixture())
	// 404 is not a transient signature: no retry, sync fails.
	env.feed.fail.Store(http.StatusNotFound)

	_, err := env.controller.Sync(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(1), env.feed.hits.Load(), "non-retryable errors abort on the first attempt")

	cp, cperr := env.db.Checkpoint()
	require.NoError(t, cperr)
	require.NotNil(t, cp)
	assert.Equal(t, storage.SyncFailed, cp.Status)
	require.NotNil(t, cp.ErrorMessage)
	assert.Contains(t, *cp.ErrorMessage, "404")

	// A failed checkpoint is stale, so the next trigger retries.
	assert.True(t, IsStale(cp, 24, time.Now()))
	_, err = env.controller.Sync(context.Background())
	require.NoError(t, err)
}

func TestSyncGuardsAgainstConcurrentTriggers(t *testing.T) {
	env := newTestEnv(t, feedFixture())

	// Simulate another sync holding the checkpoint.
	require.NoError(t, env.db.BeginSync(time.Now()))

	_, err := env.controller.Sync(context.Background())
	assert.ErrorIs(t, err, storage.ErrSyncInProgress)

	// SyncIfStale sees in_progress as not stale and no-ops.
	stats, err := env.controller.SyncIfStale(context.Background())
	require.NoError(t, err)
	assert.Nil(t, stats)

	cp, err := env.db.Checkpoint()
	require.NoError(t, err)
	assert.Equal(t, storage.SyncInProgress, cp.Status,
		"a rejected trigger must not clobber the running sync's checkpoint")
}

func TestSyncIfStaleSkipsFreshMirror(t *testing.T) {
	env := newTestEnv(t, feedFixture())
	ctx := context.Background()

	stats, err := env.controller.SyncIfStale(ctx)
	require.NoError(t, err)
	require.NotNil(t, stats, "never-synced mirror is stale")

	stats, err = env.controller.SyncIfStale(ctx)
	require.NoError(t, err)
	assert.Nil(t, stats, "freshly synced mirror skips")
}
