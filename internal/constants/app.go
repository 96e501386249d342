package constants

import (
	"time"
)

// Transfer queue concurrency
const (
	// MaxConcurrentUploads - upload tasks running at once
	MaxConcurrentUploads = 3

	// MaxConcurrentDownloads - download tasks running at once
	MaxConcurrentDownloads = 5

	// MaxRetryAttempts - automatic retries seeded from a failed task
	MaxRetryAttempts = 1
)

// Transfer engine
const (
	// TransferChunkSize - read buffer for streaming uploads/downloads (1 MB)
	// Smaller than multipart part sizes; chosen for progress granularity.
	TransferChunkSize = 1 * 1024 * 1024

	// ProgressPublishInterval - minimum time between progress events per task
	ProgressPublishInterval = 200 * time.Millisecond

	// CompletedTaskRetention - terminal tasks kept per outcome (completed, failed)
	// Older entries are dropped in FIFO order.
	CompletedTaskRetention = 50

	// DeleteBatchSize - keys per provider multi-delete call (S3 hard limit)
	DeleteBatchSize = 1000
)

// Folder cache
const (
	// FolderCacheCapacity - maximum cached listing entries (LRU beyond this)
	FolderCacheCapacity = 100

	// FolderCacheTTL - entries older than this are evicted on access
	FolderCacheTTL = 5 * time.Minute

	// FolderCacheStaleAfter - entries older than this are served but flagged stale
	FolderCacheStaleAfter = 2 * time.Minute
)

// Provider client
const (
	// ListMaxKeys - default and maximum page size for object listings
	ListMaxKeys = 1000

	// RequestTimeout - deadline for metadata operations (list, head, delete)
	RequestTimeout = 30 * time.Second

	// ResourceTimeout - deadline for body-streaming operations (get, put)
	ResourceTimeout = 300 * time.Second
)

// Retry configuration (transfer engine only; the provider client never retries)
const (
	// RetryInitialDelay - initial delay before first retry (200ms)
	RetryInitialDelay = 200 * time.Millisecond

	// RetryMaxDelay - maximum delay between retries (15s)
	// Exponential backoff with jitter caps at this value.
	RetryMaxDelay = 15 * time.Second
)

// HTTP broker
const (
	// MaxBodySize - largest accepted object body (5 GiB)
	MaxBodySize = 5 * 1024 * 1024 * 1024

	// StreamBufferSize - copy buffer for piped object bodies (256 KB)
	// The broker never holds more than this per in-flight body.
	StreamBufferSize = 256 * 1024

	// ShutdownGrace - time allowed for in-flight requests to drain
	ShutdownGrace = 3 * time.Second

	// CORSMaxAge - preflight cache duration (24h)
	CORSMaxAge = 24 * time.Hour
)

// Supervisor
const (
	// SupervisorStartTimeout - time to wait for the LISTENING PORT line
	SupervisorStartTimeout = 15 * time.Second

	// SupervisorStopGrace - time between POST /shutdown and OS-level kill
	SupervisorStopGrace = 3 * time.Second

	// SupervisorLogBuffer - stdout/stderr lines retained per subscriber;
	// oldest lines are dropped on overflow
	SupervisorLogBuffer = 500
)

// Event system
const (
	// EventBusDefaultBuffer - default buffer size for event channels
	EventBusDefaultBuffer = 1000

	// EventBusMaxBuffer - maximum buffer size for high-throughput subscribers
	EventBusMaxBuffer = 5000
)

// HTTP client tuning for the provider transport
const (
	// HTTPIdleConnTimeout - how long to keep idle connections open
	HTTPIdleConnTimeout = 90 * time.Second

	// HTTPTLSHandshakeTimeout - timeout for TLS handshake
	HTTPTLSHandshakeTimeout = 60 * time.Second

	// HTTPExpectContinueTimeout - timeout for 100-continue response
	HTTPExpectContinueTimeout = 1 * time.Second

	// HTTPDialTimeout - timeout for establishing a connection
	HTTPDialTimeout = 30 * time.Second

	// HTTPDialKeepAlive - keep-alive period for the dialer
	HTTPDialKeepAlive = 30 * time.Second
)

// ConfigDirName is the per-user directory holding settings and the
// optional download cache.
const ConfigDirName = ".cloudflare-r2-object-storage-browser"
