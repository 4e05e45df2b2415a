package filestore

import (
	"io"
	"time"
)

// BucketInfo describes a storage bucket.
type BucketInfo struct {
	// Name is the bucket name.
	Name string

	// CreatedAt is when the bucket was created.
	// May be zero if the backend does not expose creation time.
	CreatedAt time.Time
}

// ObjectInfo describes a single object stored in a bucket.
type ObjectInfo struct {
	// Key is the full object path within the bucket (e.g. "HCP_1200/100206/T1w/T1w.nii.gz").
	Key string

	// Size is the byte size of the object. -1 if unknown.
	Size int64

	// ContentType is the MIME type, when the backend reports one.
	ContentType string

	// ETag is the object's entity tag, as returned by the backend.
	ETag string

	// LastModified is when the object was last written.
	LastModified time.Time

	// IsDir is true when the key ends in "/": a directory marker object,
	// not file content.
	IsDir bool
}

// Object is a streaming handle to an object's content.
// The caller MUST call Close() after reading to avoid resource leaks.
type Object interface {
	io.ReadCloser

	// Info returns the metadata for this object.
	Info() *ObjectInfo
}

// ListOptions controls how ListObjects filters results.
type ListOptions struct {
	// Prefix restricts results to objects whose key starts with this string.
	Prefix string

	// Recursive, when true, lists all objects under the prefix without
	// grouping by virtual directories. When false, common prefixes are
	// returned as IsDir entries.
	Recursive bool

	// Limit caps the number of results returned. 0 means no cap.
	Limit int
}

// PageOptions describes a single listing request.
type PageOptions struct {
	// Prefix restricts results to keys starting with this string.
	Prefix string

	// Delimiter groups keys by this separator (usually "/"). Empty lists
	// every key under Prefix.
	Delimiter string

	// MaxKeys caps the entries in the page. 0 means the backend default.
	MaxKeys int

	// ContinuationToken resumes a previous listing. Empty starts at the
	// beginning.
	ContinuationToken string
}

// ListPage is one page of a listing.
type ListPage struct {
	// Objects are the keys in this page, directory markers included.
	Objects []ObjectInfo

	// CommonPrefixes are the grouped child prefixes in delimiter mode.
	CommonPrefixes []string

	// NextContinuationToken fetches the following page. Empty when the
	// listing is exhausted.
	NextContinuationToken string

	// IsTruncated reports whether more entries exist past this page.
	IsTruncated bool
}

// IsDirKey reports whether key names a directory marker.
func IsDirKey(key string) bool {
	return len(key) > 0 && key[len(key)-1] == '/'
}
