// Package r2 implements the ObjectStore interface against Cloudflare
// R2's S3-compatible API using the AWS SDK. The client is a thin
// authenticated wrapper: it signs, maps errors onto the shared taxonomy
// and streams bodies, but never retries and never caches.
package r2

import (
	"context"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/r2browser/r2browser/internal/cloud"
	"github.com/r2browser/r2browser/internal/constants"
	"github.com/r2browser/r2browser/internal/httpx"
	"github.com/r2browser/r2browser/internal/models"
)

// R2 ignores regions but the SDK requires one.
const r2Region = "auto"

// Client wraps the AWS S3 client configured for an R2 endpoint.
//
// Thread-safe: all operations may be used concurrently. The underlying
// HTTP client is shared so the connection pool survives credential
// swaps.
type Client struct {
	client     *s3.Client
	endpoint   string
	httpClient *http.Client
	clientMu   sync.Mutex // protects client during credential updates
}

var _ cloud.ObjectStore = (*Client)(nil)

// NewClient creates a provider client for the account described by
// creds. Every request is SigV4-signed against the derived endpoint.
func NewClient(ctx context.Context, creds *models.Credentials) (*Client, error) {
	if creds == nil {
		return nil, NewError(CodeAuthInvalidCredentials, http.StatusUnauthorized, "no credentials configured", nil)
	}

	httpClient := httpx.NewPooledClient()
	c := &Client{
		endpoint:   creds.Endpoint,
		httpClient: httpClient,
	}
	if err := c.configure(ctx, creds); err != nil {
		return nil, err
	}
	return c, nil
}

// UpdateCredentials swaps the signing credentials in place, reusing the
// pooled HTTP client so open connections are kept.
func (c *Client) UpdateCredentials(ctx context.Context, creds *models.Credentials) error {
	if creds == nil {
		return NewError(CodeAuthInvalidCredentials, http.StatusUnauthorized, "no credentials configured", nil)
	}
	c.endpoint = creds.Endpoint
	return c.configure(ctx, creds)
}

func (c *Client) configure(ctx context.Context, creds *models.Credentials) error {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(r2Region),
		config.WithHTTPClient(c.httpClient),
		config.WithCredentialsProvider(awscreds.NewStaticCredentialsProvider(
			creds.AccessKeyID,
			creds.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return MapError(err)
	}

	endpoint := creds.Endpoint
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
		// Retry policy belongs to the callers; with the SDK's standard
		// retryer left on, their backoff would stack on top of its.
		o.Retryer = aws.NopRetryer{}
	})

	c.clientMu.Lock()
	c.client = client
	c.clientMu.Unlock()
	return nil
}

func (c *Client) s3c() *s3.Client {
	c.clientMu.Lock()
	defer c.clientMu.Unlock()
	return c.client
}

// ListBuckets returns all buckets visible to the credentials.
func (c *Client) ListBuckets(ctx context.Context) ([]models.Bucket, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.RequestTimeout)
	defer cancel()

	resp, err := c.s3c().ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		return nil, MapError(err)
	}

	buckets := make([]models.Bucket, 0, len(resp.Buckets))
	for _, b := range resp.Buckets {
		bucket := models.Bucket{Name: aws.ToString(b.Name)}
		if b.CreationDate != nil {
			t := *b.CreationDate
			bucket.CreationDate = &t
		}
		buckets = append(buckets, bucket)
	}
	return buckets, nil
}

// ListObjects returns one page of a bucket listing. With delimiter "/"
// the page is hierarchical (objects plus common prefixes); with
// delimiter "" it is a flat recursive listing.
func (c *Client) ListObjects(ctx context.Context, in cloud.ListObjectsInput) (models.ListingPage, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.RequestTimeout)
	defer cancel()

	maxKeys := in.MaxKeys
	if maxKeys <= 0 || maxKeys > constants.ListMaxKeys {
		maxKeys = constants.ListMaxKeys
	}

	input := &s3.ListObjectsV2Input{
		Bucket:  aws.String(in.Bucket),
		MaxKeys: aws.Int32(int32(maxKeys)),
	}
	if in.Prefix != "" {
		input.Prefix = aws.String(in.Prefix)
	}
	if in.Delimiter != "" {
		input.Delimiter = aws.String(in.Delimiter)
	}
	if in.ContinuationToken != "" {
		input.ContinuationToken = aws.String(in.ContinuationToken)
	}

	resp, err := c.s3c().ListObjectsV2(ctx, input)
	if err != nil {
		return models.ListingPage{}, MapError(err)
	}

	page := models.ListingPage{
		Objects:        make([]models.Object, 0, len(resp.Contents)),
		CommonPrefixes: make([]string, 0, len(resp.CommonPrefixes)),
		IsTruncated:    aws.ToBool(resp.IsTruncated),
		MaxKeys:        maxKeys,
		Prefix:         in.Prefix,
		Delimiter:      in.Delimiter,
	}
	for _, obj := range resp.Contents {
		page.Objects = append(page.Objects, objectFromS3(obj))
	}
	for _, cp := range resp.CommonPrefixes {
		page.CommonPrefixes = append(page.CommonPrefixes, aws.ToString(cp.Prefix))
	}
	if page.IsTruncated {
		page.ContinuationToken = aws.ToString(resp.NextContinuationToken)
	}
	page.KeyCount = len(page.Objects) + len(page.CommonPrefixes)
	return page, nil
}

// GetObject opens an object body as a stream. byteRange is a raw Range
// header value ("bytes=0-1023") or empty for the whole object. The body
// is never buffered; the caller must close it.
//
// Callers own the deadline: the passed context governs the full body
// read, so attaching the 30s request timeout here would sever long
// downloads mid-stream.
func (c *Client) GetObject(ctx context.Context, bucket, key, byteRange string) (*cloud.ObjectStream, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}
	if byteRange != "" {
		input.Range = aws.String(byteRange)
	}

	resp, err := c.s3c().GetObject(ctx, input)
	if err != nil {
		return nil, MapError(err)
	}

	stream := &cloud.ObjectStream{
		Body:          resp.Body,
		ContentLength: aws.ToInt64(resp.ContentLength),
		ContentType:   aws.ToString(resp.ContentType),
		ContentRange:  aws.ToString(resp.ContentRange),
		ETag:          aws.ToString(resp.ETag),
		Partial:       resp.ContentRange != nil,
	}
	if resp.LastModified != nil {
		stream.LastModified = *resp.LastModified
	}
	return stream, nil
}

// PutObject streams body into the given key. contentLength must match
// the body, or be negative when the caller does not know it (chunked
// uploads); the SDK signs with an unsigned payload for non-seekable
// streams so nothing is buffered.
func (c *Client) PutObject(ctx context.Context, bucket, key string, body io.Reader, contentLength int64, contentType string) (models.PutResult, error) {
	input := &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   body,
	}
	if contentLength >= 0 {
		input.ContentLength = aws.Int64(contentLength)
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	resp, err := c.s3c().PutObject(ctx, input)
	if err != nil {
		return models.PutResult{}, MapError(err)
	}

	return models.PutResult{
		Key:  key,
		ETag: aws.ToString(resp.ETag),
		Size: contentLength,
	}, nil
}

// DeleteObject removes a single key. S3-style deletes are idempotent:
// deleting a missing key succeeds.
func (c *Client) DeleteObject(ctx context.Context, bucket, key string) error {
	ctx, cancel := context.WithTimeout(ctx, constants.RequestTimeout)
	defer cancel()

	_, err := c.s3c().DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return MapError(err)
	}
	return nil
}

// DeleteBatch removes up to 1000 keys in one provider call and reports
// partial failures per key.
func (c *Client) DeleteBatch(ctx context.Context, bucket string, keys []string) (models.BatchDeleteResult, error) {
	if len(keys) == 0 {
		return models.BatchDeleteResult{}, nil
	}
	if len(keys) > constants.DeleteBatchSize {
		return models.BatchDeleteResult{}, NewError(CodeValidationInvalidParam, http.StatusBadRequest, "batch delete accepts at most 1000 keys per call", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, constants.RequestTimeout)
	defer cancel()

	objects := make([]types.ObjectIdentifier, 0, len(keys))
	for _, k := range keys {
		objects = append(objects, types.ObjectIdentifier{Key: aws.String(k)})
	}

	resp, err := c.s3c().DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(bucket),
		Delete: &types.Delete{
			Objects: objects,
			Quiet:   aws.Bool(true),
		},
	})
	if err != nil {
		return models.BatchDeleteResult{}, MapError(err)
	}

	result := models.BatchDeleteResult{}
	for _, e := range resp.Errors {
		result.Failed = append(result.Failed, models.DeleteFailure{
			Key:    aws.ToString(e.Key),
			Reason: aws.ToString(e.Message),
		})
	}
	result.Deleted = len(keys) - len(result.Failed)
	return result, nil
}

// Search walks the bucket's flat listing and returns keys containing
// the query, case-insensitively. R2 has no native search API, so this
// delegates to paginated listing; results are capped at one page worth
// of matches.
func (c *Client) Search(ctx context.Context, bucket, query string) ([]models.Object, error) {
	lowered := strings.ToLower(query)
	var matches []models.Object

	token := ""
	for {
		page, err := c.ListObjects(ctx, cloud.ListObjectsInput{
			Bucket:            bucket,
			Delimiter:         "",
			MaxKeys:           constants.ListMaxKeys,
			ContinuationToken: token,
		})
		if err != nil {
			return nil, err
		}

		for _, obj := range page.Objects {
			if strings.Contains(strings.ToLower(obj.Key), lowered) {
				matches = append(matches, obj)
				if len(matches) >= constants.ListMaxKeys {
					sortByKey(matches)
					return matches, nil
				}
			}
		}

		if !page.IsTruncated {
			break
		}
		token = page.ContinuationToken
	}

	sortByKey(matches)
	return matches, nil
}

func sortByKey(objs []models.Object) {
	sort.Slice(objs, func(i, j int) bool { return objs[i].Key < objs[j].Key })
}

func objectFromS3(obj types.Object) models.Object {
	out := models.Object{
		Key:  aws.ToString(obj.Key),
		Size: aws.ToInt64(obj.Size),
		ETag: strings.Trim(aws.ToString(obj.ETag), `"`),
	}
	if obj.LastModified != nil {
		out.LastModified = *obj.LastModified
	}
	if obj.StorageClass != "" {
		out.StorageClass = string(obj.StorageClass)
	}
	return out
}
