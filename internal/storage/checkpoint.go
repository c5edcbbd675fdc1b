package storage

import (
	"database/sql"
	"errors"
	"time"
)

// Checkpoint statuses.
const (
	SyncSuccess    = "success"
	SyncFailed     = "failed"
	SyncInProgress = "in_progress"
)

// checkpointID keys the singleton checkpoint row.
const checkpointID = "roadmap"

// ErrSyncInProgress is returned by BeginSync when another sync already holds
// the checkpoint.
var ErrSyncInProgress = errors.New("sync already in progress")

// Checkpoint records the outcome and timing of the most recent sync attempt.
type Checkpoint struct {
	Status       string     `json:"status"`
	LastSync     *time.Time `json:"lastSync"`
	RecordCount  int        `json:"recordCount"`
	DurationMs   int64      `json:"durationMs"`
	ErrorMessage *string    `json:"errorMessage"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// Checkpoint reads the singleton checkpoint, or nil when no sync has ever
// been attempted.
func (d *DB) Checkpoint() (*Checkpoint, error) {
	cp := &Checkpoint{}
	var lastSync sql.NullTime
	var errMsg sql.NullString

	err := d.db.QueryRow(`
	SELECT status, last_sync, record_count, duration_ms, error_message, created_at, updated_at
	FROM sync_checkpoint WHERE id = ?`, checkpointID).Scan(
		&cp.Status, &lastSync, &cp.RecordCount, &cp.DurationMs, &errMsg, &cp.CreatedAt, &cp.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if lastSync.Valid {
		t := lastSync.Time
		cp.LastSync = &t
	}
	if errMsg.Valid {
		cp.ErrorMessage = &errMsg.String
	}
	return cp, nil
}

// BeginSync transitions the checkpoint to in_progress. The transition is a
// single compare-and-swap statement: if another sync already holds the
// in_progress status, no row changes and ErrSyncInProgress is returned, so
// concurrent triggers cannot both start.
func (d *DB) BeginSync(now time.Time) error {
	res, err := d.db.Exec(`
	INSERT INTO sync_checkpoint (id, status, created_at, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		status = excluded.status,
		updated_at = excluded.updated_at
	WHERE sync_checkpoint.status != ?`,
		checkpointID, SyncInProgress, now, now, SyncInProgress,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrSyncInProgress
	}
	return nil
}

// FinishSyncSuccess transitions the checkpoint to success, recording the sync
// time, record count, and duration, and clearing any previous error message.
func (d *DB) FinishSyncSuccess(now time.Time, recordCount int, duration time.Duration) error {
	_, err := d.db.Exec(`
	UPDATE sync_checkpoint SET
		status = ?, last_sync = ?, record_count = ?, duration_ms = ?,
		error_message = NULL, updated_at = ?
	WHERE id = ?`,
		SyncSuccess, now, recordCount, duration.Milliseconds(), now, checkpointID,
	)
	return err
}

// FinishSyncFailure transitions the checkpoint to failed. Progress already
// committed stays in the mirror; last_sync keeps its previous value so
// staleness math still refers to the last successful refresh.
func (d *DB) FinishSyncFailure(now time.Time, recordCount int, duration time.Duration, message string) error {
	_, err := d.db.Exec(`
	UPDATE sync_checkpoint SET
		status = ?, record_count = ?, duration_ms = ?,
		error_message = ?, updated_at = ?
	WHERE id = ?`,
		SyncFailed, recordCount, duration.Milliseconds(), message, now, checkpointID,
	)
	return err
}
