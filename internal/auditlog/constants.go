package auditlog

// Buffer and capture limits for audit logging.
const (
	// MaxBodyCapture is the maximum size of a captured message or reply (1MB).
	MaxBodyCapture = 1024 * 1024

	// BatchFlushThreshold is the number of entries that triggers an immediate flush.
	// When the batch reaches this size, it's written to storage without waiting for the timer.
	BatchFlushThreshold = 100
)
