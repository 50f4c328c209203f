package auditlog

import "time"

// CleanupInterval is how often the cleanup goroutine runs to delete old log entries.
const CleanupInterval = 1 * time.Hour

// RunCleanupLoop runs a cleanup function periodically until the stop channel is closed.
// It runs cleanup immediately on start, then at CleanupInterval intervals.
func RunCleanupLoop(stop <-chan struct{}, cleanupFn func()) {
	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()

	cleanupFn()

	for {
		select {
		case <-ticker.C:
			cleanupFn()
		case <-stop:
			return
		}
	}
}

// retentionCutoff is the oldest timestamp kept for the given retention.
func retentionCutoff(retentionDays int) time.Time {
	return time.Now().UTC().AddDate(0, 0, -retentionDays)
}
