// Package models defines the shared data types exchanged between the
// provider client, the folder cache, the transfer engine and the broker.
package models

import (
	"strings"
	"time"
)

// Bucket is a namespace in the remote object store. Identity is the name;
// values come from the provider and are immutable.
type Bucket struct {
	Name         string     `json:"name"`
	CreationDate *time.Time `json:"creationDate,omitempty"`
}

// Object is a single key within a bucket. A key ending in "/" with size 0
// is a folder marker; keys that only appear as common prefixes in a
// listing are virtual folders and never materialize as Objects.
type Object struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
	ETag         string    `json:"etag,omitempty"`
	StorageClass string    `json:"storageClass,omitempty"`
}

// IsFolderMarker reports whether the object is an explicit folder marker.
func (o Object) IsFolderMarker() bool {
	return strings.HasSuffix(o.Key, "/") && o.Size == 0
}

// ListingPage is one response of a paginated listObjects call.
// Invariant: KeyCount == len(Objects) + len(CommonPrefixes), and
// IsTruncated holds exactly when ContinuationToken is non-empty.
type ListingPage struct {
	Objects           []Object `json:"objects"`
	CommonPrefixes    []string `json:"commonPrefixes"`
	ContinuationToken string   `json:"continuationToken,omitempty"`
	IsTruncated       bool     `json:"isTruncated"`
	KeyCount          int      `json:"keyCount"`
	MaxKeys           int      `json:"maxKeys"`
	Prefix            string   `json:"prefix,omitempty"`
	Delimiter         string   `json:"delimiter,omitempty"`
}

// PutResult is the outcome of a successful putObject.
type PutResult struct {
	Key  string `json:"key"`
	ETag string `json:"etag"`
	Size int64  `json:"size"`
}

// DeleteFailure reports one key that a batch delete could not remove.
type DeleteFailure struct {
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

// BatchDeleteResult aggregates a multi-delete across provider calls.
type BatchDeleteResult struct {
	Deleted int             `json:"deleted"`
	Failed  []DeleteFailure `json:"failed"`
}

// ParentPrefix returns the listing prefix that contains the given key or
// prefix: everything up to and including the last "/" before the final
// path segment. The bucket root is the empty prefix.
func ParentPrefix(key string) string {
	trimmed := strings.TrimSuffix(key, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx < 0 {
		return ""
	}
	return trimmed[:idx+1]
}
