package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/r2browser/r2browser/internal/cache"
	"github.com/r2browser/r2browser/internal/cloud"
	"github.com/r2browser/r2browser/internal/constants"
	"github.com/r2browser/r2browser/internal/models"
)

type bucketsResponse struct {
	Buckets []models.Bucket `json:"buckets"`
	Count   int             `json:"count"`
}

func (s *Server) handleListBuckets(w http.ResponseWriter, r *http.Request) {
	buckets, err := s.store.ListBuckets(r.Context())
	if err != nil {
		writeError(w, r, mapHandlerError(err))
		return
	}
	writeData(w, r, http.StatusOK, bucketsResponse{Buckets: buckets, Count: len(buckets)})
}

type listingResponse struct {
	Objects    []models.Object    `json:"objects"`
	Pagination models.ListingPage `json:"pagination"`
}

// handleListObjects serves one listing page. Hierarchical first pages
// (delimiter "/", no continuation token) go through the folder cache;
// everything else hits the provider directly.
func (s *Server) handleListObjects(w http.ResponseWriter, r *http.Request) {
	bucket := chi.URLParam(r, "bucket")
	q := r.URL.Query()

	maxKeys := 0
	if raw := q.Get("maxKeys"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, r, invalidParam("maxKeys must be a positive integer"))
			return
		}
		maxKeys = parsed
	}
	if maxKeys <= 0 || maxKeys > constants.ListMaxKeys {
		maxKeys = constants.ListMaxKeys
	}

	in := cloud.ListObjectsInput{
		Bucket:            bucket,
		Prefix:            q.Get("prefix"),
		Delimiter:         q.Get("delimiter"),
		MaxKeys:           maxKeys,
		ContinuationToken: q.Get("continuationToken"),
	}

	cacheable := in.Delimiter == "/" && in.ContinuationToken == ""
	cacheKey := cache.Key{AccountID: s.accountID, Bucket: bucket, Prefix: in.Prefix}

	if cacheable {
		if entry, ok, _ := s.cache.Get(cacheKey); ok {
			writeData(w, r, http.StatusOK, listingResponse{
				Objects:    entry.Objects,
				Pagination: pageFromEntry(entry, in),
			})
			return
		}
	}

	page, err := s.store.ListObjects(r.Context(), in)
	if err != nil {
		writeError(w, r, mapHandlerError(err))
		return
	}

	if cacheable {
		s.cache.Put(cacheKey, page)
	}
	writeData(w, r, http.StatusOK, listingResponse{Objects: page.Objects, Pagination: page})
}

// pageFromEntry rebuilds the listing page a cached entry was stored
// from, so cache hits and provider responses are indistinguishable on
// the wire.
func pageFromEntry(entry *cache.Entry, in cloud.ListObjectsInput) models.ListingPage {
	return models.ListingPage{
		Objects:           entry.Objects,
		CommonPrefixes:    entry.CommonPrefixes,
		ContinuationToken: entry.ContinuationToken,
		IsTruncated:       entry.ContinuationToken != "",
		KeyCount:          len(entry.Objects) + len(entry.CommonPrefixes),
		MaxKeys:           in.MaxKeys,
		Prefix:            in.Prefix,
		Delimiter:         in.Delimiter,
	}
}

type searchResponse struct {
	Objects []models.Object `json:"objects"`
	Count   int             `json:"count"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	bucket := chi.URLParam(r, "bucket")
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, r, invalidParam("query parameter q is required"))
		return
	}

	objects, err := s.store.Search(r.Context(), bucket, query)
	if err != nil {
		writeError(w, r, mapHandlerError(err))
		return
	}
	if objects == nil {
		objects = []models.Object{}
	}
	writeData(w, r, http.StatusOK, searchResponse{Objects: objects, Count: len(objects)})
}
