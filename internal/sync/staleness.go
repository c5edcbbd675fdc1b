package sync

import (
	"fmt"
	"math"
	"time"

	"github.com/roadmaptools/roadmap-search/internal/storage"
)

// IsStale decides whether the mirror is due for a refresh. A missing
// checkpoint or a failed last sync is always stale; an in-progress sync is
// never stale, which is what keeps concurrent triggers from piling up.
func IsStale(cp *storage.Checkpoint, thresholdHours float64, now time.Time) bool {
	if cp == nil {
		return true
	}
	switch cp.Status {
	case storage.SyncFailed:
		return true
	case storage.SyncInProgress:
		return false
	}
	if cp.LastSync == nil {
		return true
	}
	return now.Sub(*cp.LastSync).Hours() >= thresholdHours
}

// HoursSince returns the hours elapsed since the last sync, rounded to one
// decimal, or nil when the mirror has never been synced.
func HoursSince(cp *storage.Checkpoint, now time.Time) *float64 {
	if cp == nil || cp.LastSync == nil {
		return nil
	}
	h := math.Round(now.Sub(*cp.LastSync).Hours()*10) / 10
	return &h
}

// NextSyncTime returns when the mirror next becomes stale. Only computable
// after a successful sync; nil otherwise.
func NextSyncTime(cp *storage.Checkpoint, thresholdHours float64) *time.Time {
	if cp == nil || cp.Status != storage.SyncSuccess || cp.LastSync == nil {
		return nil
	}
	t := cp.LastSync.Add(time.Duration(thresholdHours * float64(time.Hour)))
	return &t
}

// Freshness renders the checkpoint state as a human-readable phrase.
func Freshness(cp *storage.Checkpoint, now time.Time) string {
	if cp == nil {
		return "never synced"
	}
	switch cp.Status {
	case storage.SyncInProgress:
		return "sync in progress"
	case storage.SyncFailed:
		if cp.ErrorMessage != nil && *cp.ErrorMessage != "" {
			return "last sync failed: " + *cp.ErrorMessage
		}
		return "last sync failed"
	}
	if cp.LastSync == nil {
		return "never synced"
	}

	elapsed := now.Sub(*cp.LastSync)
	switch {
	case elapsed < time.Minute:
		return "synced just now"
	case elapsed < time.Hour:
		return "synced " + plural(int(elapsed.Minutes()), "minute") + " ago"
	case elapsed < 48*time.Hour:
		return "synced " + plural(int(elapsed.Hours()), "hour") + " ago"
	default:
		return "synced " + plural(int(elapsed.Hours()/24), "day") + " ago"
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
