// Package hcp is a client for a single public object-storage bucket, by
// default the Human Connectome Project open-access release.
//
// The Client translates list, existence, fetch and recursive-download
// intents into filestore.Store calls and shapes the results into plain
// values or local files.
//
// Usage:
//
//	store, err := s3.New(ctx, filestore.DefaultConfig())
//	if err != nil { ... }
//	client := hcp.New(store, hcp.WithLocalRoot("/scratch/hcp"))
//
//	subjects, err := client.ListObjects(ctx, "HCP_1200", hcp.Delimiter(true))
//	report, err := client.DownloadPrefix(ctx, "HCP_1200/100206/T1w/", hcp.Trim(1))
package hcp

import (
	"github.com/koustreak/hcpfetch/internal/filestore"
	"github.com/koustreak/hcpfetch/internal/logger"
)

const (
	// DefaultBucket is the HCP open-access bucket.
	DefaultBucket = "hcp-openaccess"

	// DefaultLocalRoot is where DownloadPrefix writes unless told otherwise.
	DefaultLocalRoot = "data"

	// MaxKeysLimit is the most keys a single listing request may return.
	MaxKeysLimit = 1000

	// PathDelimiter separates hierarchy levels in object keys.
	PathDelimiter = "/"
)

// Client is a façade over a filestore.Store bound to a default bucket.
// It holds no per-call state and is safe for concurrent use when the
// underlying Store is.
type Client struct {
	store       filestore.Store
	bucket      string
	localRoot   string
	maxKeys     int
	concurrency int
	log         *logger.Logger
}

// Option configures a Client at construction.
type Option func(*Client)

// WithDefaultBucket sets the bucket used when a call names none.
func WithDefaultBucket(bucket string) Option {
	return func(c *Client) {
		if bucket != "" {
			c.bucket = bucket
		}
	}
}

// WithLocalRoot sets the directory DownloadPrefix writes under.
func WithLocalRoot(dir string) Option {
	return func(c *Client) {
		if dir != "" {
			c.localRoot = dir
		}
	}
}

// WithMaxKeys sets the default page size of ListObjects.
func WithMaxKeys(n int) Option {
	return func(c *Client) {
		c.maxKeys = clampMaxKeys(n)
	}
}

// WithConcurrency sets how many files DownloadPrefix transfers at once.
// Values below 1 mean sequential.
func WithConcurrency(n int) Option {
	return func(c *Client) {
		if n < 1 {
			n = 1
		}
		c.concurrency = n
	}
}

// WithLogger sets the logger for diagnostics.
func WithLogger(l *logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// New returns a Client over store.
func New(store filestore.Store, opts ...Option) *Client {
	c := &Client{
		store:       store,
		bucket:      DefaultBucket,
		localRoot:   DefaultLocalRoot,
		maxKeys:     MaxKeysLimit,
		concurrency: 1,
		log:         logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Bucket returns the client's default bucket.
func (c *Client) Bucket() string {
	return c.bucket
}

// Store returns the underlying store.
func (c *Client) Store() filestore.Store {
	return c.store
}

// CallOption adjusts a single call.
type CallOption func(*callOptions)

type callOptions struct {
	bucket        string
	maxKeys       int
	delimiter     bool
	trailingSlash bool
	localRoot     string
	trim          int
}

func (c *Client) resolve(opts []CallOption) callOptions {
	o := callOptions{
		bucket:        c.bucket,
		maxKeys:       c.maxKeys,
		trailingSlash: true,
		localRoot:     c.localRoot,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Bucket overrides the client's default bucket.
func Bucket(name string) CallOption {
	return func(o *callOptions) {
		if name != "" {
			o.bucket = name
		}
	}
}

// MaxKeys caps the entries ListObjects returns. Values above MaxKeysLimit
// are clamped; values below 1 mean MaxKeysLimit.
func MaxKeys(n int) CallOption {
	return func(o *callOptions) {
		o.maxKeys = clampMaxKeys(n)
	}
}

// Delimiter switches ListObjects to one-level listing of common prefixes.
func Delimiter(on bool) CallOption {
	return func(o *callOptions) {
		o.delimiter = on
	}
}

// TrailingSlash controls whether delimiter mode appends "/" to a prefix
// that lacks one. Default true.
func TrailingSlash(on bool) CallOption {
	return func(o *callOptions) {
		o.trailingSlash = on
	}
}

// LocalRoot overrides the client's download directory.
func LocalRoot(dir string) CallOption {
	return func(o *callOptions) {
		if dir != "" {
			o.localRoot = dir
		}
	}
}

// Trim drops the first n segments of bucket/key when DownloadPrefix lays
// out files locally.
func Trim(n int) CallOption {
	return func(o *callOptions) {
		o.trim = n
	}
}

func clampMaxKeys(n int) int {
	switch {
	case n < 1:
		return MaxKeysLimit
	case n > MaxKeysLimit:
		return MaxKeysLimit
	default:
		return n
	}
}
