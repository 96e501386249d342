// Package cloud defines the provider-facing interface consumed by the
// broker and the transfer engine. The r2 subpackage implements it
// against Cloudflare R2's S3-compatible API; tests substitute stubs.
package cloud

import (
	"context"
	"io"
	"time"

	"github.com/r2browser/r2browser/internal/models"
)

// ListObjectsInput carries the listing parameters. Delimiter "" yields a
// flat recursive listing (used by recursive delete); "/" yields the
// hierarchical listing the UIs page through.
type ListObjectsInput struct {
	Bucket            string
	Prefix            string
	Delimiter         string
	MaxKeys           int
	ContinuationToken string
}

// ObjectStream is a non-buffered object body with its metadata. The
// caller owns Body and must close it.
type ObjectStream struct {
	Body          io.ReadCloser
	ContentLength int64
	ContentType   string
	ContentRange  string
	ETag          string
	LastModified  time.Time
	Partial       bool // true when the provider honored a Range request
}

// ObjectStore is the operation surface of the remote provider. Every
// method returns a typed *Error from the r2 package on failure.
// Implementations never retry; retry policy belongs to callers.
type ObjectStore interface {
	ListBuckets(ctx context.Context) ([]models.Bucket, error)
	ListObjects(ctx context.Context, in ListObjectsInput) (models.ListingPage, error)
	GetObject(ctx context.Context, bucket, key, byteRange string) (*ObjectStream, error)
	PutObject(ctx context.Context, bucket, key string, body io.Reader, contentLength int64, contentType string) (models.PutResult, error)
	DeleteObject(ctx context.Context, bucket, key string) error
	DeleteBatch(ctx context.Context, bucket string, keys []string) (models.BatchDeleteResult, error)
	Search(ctx context.Context, bucket, query string) ([]models.Object, error)
}
