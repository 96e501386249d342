package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/r2browser/r2browser/internal/constants"
	"github.com/r2browser/r2browser/internal/metrics"
	"github.com/r2browser/r2browser/internal/models"
)

// objectKey extracts the wildcard key segment. Keys may contain slashes
// so the route matches with a chi wildcard.
func objectKey(r *http.Request) string {
	return chi.URLParam(r, "*")
}

// handleGetObject streams an object body to the client. A Range header
// is forwarded to the provider verbatim; a partial response comes back
// as 206 with the provider's Content-Range.
func (s *Server) handleGetObject(w http.ResponseWriter, r *http.Request) {
	bucket := chi.URLParam(r, "bucket")
	key := objectKey(r)
	if key == "" {
		writeError(w, r, invalidParam("object key is required"))
		return
	}

	stream, err := s.store.GetObject(r.Context(), bucket, key, r.Header.Get("Range"))
	if err != nil {
		writeError(w, r, mapHandlerError(err))
		return
	}
	defer stream.Body.Close()

	h := w.Header()
	if stream.ContentType != "" {
		h.Set("Content-Type", stream.ContentType)
	} else {
		h.Set("Content-Type", "application/octet-stream")
	}
	if stream.ContentLength > 0 {
		h.Set("Content-Length", strconv.FormatInt(stream.ContentLength, 10))
	}
	if stream.ETag != "" {
		h.Set("ETag", stream.ETag)
	}
	if !stream.LastModified.IsZero() {
		h.Set("Last-Modified", stream.LastModified.UTC().Format(http.TimeFormat))
	}

	status := http.StatusOK
	if stream.Partial {
		status = http.StatusPartialContent
		h.Set("Content-Range", stream.ContentRange)
	}
	w.WriteHeader(status)

	// Bounded copy buffer: the broker pipes bodies, it never holds them.
	buf := make([]byte, constants.StreamBufferSize)
	n, copyErr := io.CopyBuffer(w, stream.Body, buf)
	metrics.TransferBytes.WithLabelValues("download").Add(float64(n))
	if copyErr != nil {
		// Headers are gone; all we can do is log and cut the stream.
		s.log.Warn().
			Str("requestId", requestIDFrom(r.Context())).
			Str("bucket", bucket).
			Err(copyErr).
			Msg("object stream aborted")
	}
}

// countingReader tracks bytes pulled from the request body.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// handlePutObject streams the request body into the provider and
// invalidates the containing listing before responding.
func (s *Server) handlePutObject(w http.ResponseWriter, r *http.Request) {
	bucket := chi.URLParam(r, "bucket")
	key := objectKey(r)
	if key == "" {
		writeError(w, r, invalidParam("object key is required"))
		return
	}
	if r.ContentLength > constants.MaxBodySize {
		writeError(w, r, newAPIError(codeFileTooLarge, http.StatusRequestEntityTooLarge,
			"request body exceeds the 5 GiB limit", nil))
		return
	}

	body := &countingReader{r: http.MaxBytesReader(w, r.Body, constants.MaxBodySize)}
	result, err := s.store.PutObject(r.Context(), bucket, key, body, r.ContentLength, r.Header.Get("Content-Type"))
	metrics.TransferBytes.WithLabelValues("upload").Add(float64(body.n))
	if err != nil {
		writeError(w, r, mapHandlerError(err))
		return
	}
	if result.Size < 0 {
		result.Size = body.n
	}

	// Invalidation must land before the response so a client that
	// immediately re-lists sees its own write. The containing listing is
	// the one that changed, so its prefix is what gets invalidated: that
	// evicts it, its parent, and everything cached beneath it.
	s.cache.InvalidatePrefix(s.accountID, bucket, models.ParentPrefix(key))

	writeData(w, r, http.StatusCreated, result)
}

type deleteResponse struct {
	Key     string `json:"key"`
	Deleted bool   `json:"deleted"`
}

func (s *Server) handleDeleteObject(w http.ResponseWriter, r *http.Request) {
	bucket := chi.URLParam(r, "bucket")
	key := objectKey(r)
	if key == "" {
		writeError(w, r, invalidParam("object key is required"))
		return
	}

	if err := s.store.DeleteObject(r.Context(), bucket, key); err != nil {
		writeError(w, r, mapHandlerError(err))
		return
	}

	s.cache.InvalidatePrefix(s.accountID, bucket, models.ParentPrefix(key))
	writeData(w, r, http.StatusOK, deleteResponse{Key: key, Deleted: true})
}

type batchDeleteRequest struct {
	Keys []string `json:"keys"`
}

// handleBatchDelete removes a client-supplied key set, chunked to the
// provider's 1000-key limit, and reports per-key failures.
func (s *Server) handleBatchDelete(w http.ResponseWriter, r *http.Request) {
	bucket := chi.URLParam(r, "bucket")

	var req batchDeleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, invalidParam("request body must be JSON with a keys array"))
		return
	}
	if len(req.Keys) == 0 {
		writeError(w, r, invalidParam("keys must not be empty"))
		return
	}

	aggregate := models.BatchDeleteResult{Failed: []models.DeleteFailure{}}
	for start := 0; start < len(req.Keys); start += constants.DeleteBatchSize {
		end := start + constants.DeleteBatchSize
		if end > len(req.Keys) {
			end = len(req.Keys)
		}
		result, err := s.store.DeleteBatch(r.Context(), bucket, req.Keys[start:end])
		if err != nil {
			writeError(w, r, mapHandlerError(err))
			return
		}
		aggregate.Deleted += result.Deleted
		aggregate.Failed = append(aggregate.Failed, result.Failed...)
	}

	// One invalidation per distinct containing listing keeps the cache
	// coherent without clearing the whole bucket.
	seen := map[string]struct{}{}
	for _, key := range req.Keys {
		parent := models.ParentPrefix(key)
		if _, done := seen[parent]; done {
			continue
		}
		seen[parent] = struct{}{}
		s.cache.InvalidatePrefix(s.accountID, bucket, parent)
	}

	writeData(w, r, http.StatusOK, aggregate)
}
