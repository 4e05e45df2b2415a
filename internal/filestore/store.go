// Package filestore defines the interface for object storage backends.
//
// Providers (S3, MinIO) implement the Store interface.
// Callers depend only on this package, never on a specific provider package.
//
// Usage:
//
//	cfg := filestore.DefaultConfig()
//	store, err := s3.New(ctx, cfg)
//	if err != nil { ... }
//	defer store.Close()
//
//	page, err := store.ListPage(ctx, "hcp-openaccess", filestore.PageOptions{Prefix: "HCP_1200/", Delimiter: "/"})
package filestore

import (
	"context"
	"time"
)

// Store is the single interface all object storage providers implement.
// It is scoped to read operations.
type Store interface {
	// Ping verifies the storage backend is reachable.
	Ping(ctx context.Context) error

	// Close releases any held resources.
	Close() error

	// ListBuckets returns all buckets visible with the configured credentials.
	ListBuckets(ctx context.Context) ([]BucketInfo, error)

	// ListObjects returns the objects in bucket that match opts, following
	// pagination until opts.Limit or the end of the listing.
	ListObjects(ctx context.Context, bucket string, opts ListOptions) ([]ObjectInfo, error)

	// ListPage issues exactly one listing request.
	ListPage(ctx context.Context, bucket string, opts PageOptions) (*ListPage, error)

	// GetObject opens a streaming handle to the object at key inside bucket.
	// The caller MUST call Object.Close() after reading.
	GetObject(ctx context.Context, bucket, key string) (Object, error)

	// StatObject returns metadata for the object at key inside bucket
	// without downloading its content.
	StatObject(ctx context.Context, bucket, key string) (*ObjectInfo, error)

	// DownloadObject writes the object at key to the local file at path,
	// replacing any existing file. The parent directory must exist.
	DownloadObject(ctx context.Context, bucket, key, path string) error

	// PresignGetURL returns a time-limited URL that allows anyone to download
	// the object at key inside bucket without credentials.
	PresignGetURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
}
