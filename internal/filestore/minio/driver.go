// Package minio provides a MinIO implementation of filestore.Store. It also
// speaks to AWS S3 and any other S3-compatible endpoint.
//
// Usage:
//
//	cfg := filestore.DefaultConfig()
//	cfg.Provider = filestore.ProviderMinIO
//	store, err := minio.New(ctx, cfg)
//	if err != nil { ... }
//	defer store.Close()
//
//	page, err := store.ListPage(ctx, "hcp-openaccess", filestore.PageOptions{Prefix: "HCP_1200/"})
package minio

import (
	"context"
	"io"
	"time"

	"github.com/koustreak/hcpfetch/internal/errs"
	"github.com/koustreak/hcpfetch/internal/filestore"
	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// defaultEndpoint is used when the config leaves Endpoint empty.
const defaultEndpoint = "s3.amazonaws.com"

// Driver is a MinIO implementation of filestore.Store.
// It is safe for concurrent use by multiple goroutines.
type Driver struct {
	client *miniogo.Client
	core   miniogo.Core
}

var _ filestore.Store = (*Driver)(nil)

// New creates a MinIO client from cfg. Authenticated clients are pinged
// before New returns; anonymous clients are not, since ListBuckets requires
// credentials.
func New(ctx context.Context, cfg *filestore.Config) (*Driver, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}

	creds := credentialsFor(cfg)

	lookup := miniogo.BucketLookupAuto
	if cfg.PathStyle {
		lookup = miniogo.BucketLookupPath
	}

	client, err := miniogo.New(endpoint, &miniogo.Options{
		Creds:        creds,
		Secure:       cfg.UseSSL,
		Region:       cfg.Region,
		BucketLookup: lookup,
	})
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "failed to create minio client", err)
	}

	d := &Driver{client: client, core: miniogo.Core{Client: client}}

	if !cfg.Anonymous {
		if err := d.Ping(ctx); err != nil {
			return nil, err
		}
	}

	return d, nil
}

// credentialsFor picks anonymous, static or ambient credentials. The ambient
// chain reads AWS then MinIO environment variables, the shared AWS
// credentials file, and finally the instance role.
func credentialsFor(cfg *filestore.Config) *credentials.Credentials {
	switch {
	case cfg.Anonymous:
		return credentials.NewStatic("", "", "", credentials.SignatureAnonymous)
	case cfg.AccessKey != "":
		return credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, "")
	default:
		return credentials.NewChainCredentials([]credentials.Provider{
			&credentials.EnvAWS{},
			&credentials.EnvMinio{},
			&credentials.FileAWSCredentials{},
			&credentials.IAM{},
		})
	}
}

// --- filestore.Store implementation ---

// Ping verifies the server is reachable by listing buckets.
func (d *Driver) Ping(ctx context.Context) error {
	_, err := d.client.ListBuckets(ctx)
	if err != nil {
		return mapError(err, "ping failed")
	}
	return nil
}

// Close is a no-op for MinIO; the SDK client holds no persistent connections.
func (d *Driver) Close() error {
	return nil
}

// ListBuckets returns all buckets accessible with the configured credentials.
func (d *Driver) ListBuckets(ctx context.Context) ([]filestore.BucketInfo, error) {
	raw, err := d.client.ListBuckets(ctx)
	if err != nil {
		return nil, mapError(err, "failed to list buckets")
	}

	buckets := make([]filestore.BucketInfo, len(raw))
	for i, b := range raw {
		buckets[i] = filestore.BucketInfo{
			Name:      b.Name,
			CreatedAt: b.CreationDate,
		}
	}
	return buckets, nil
}

// ListObjects returns objects in bucket that match opts.
func (d *Driver) ListObjects(ctx context.Context, bucket string, opts filestore.ListOptions) ([]filestore.ObjectInfo, error) {
	listOpts := miniogo.ListObjectsOptions{
		Prefix:    opts.Prefix,
		Recursive: opts.Recursive,
	}

	// Stopping early must cancel the listing goroutine.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var results []filestore.ObjectInfo
	for obj := range d.client.ListObjects(ctx, bucket, listOpts) {
		if obj.Err != nil {
			return nil, mapError(obj.Err, "failed to list objects")
		}

		results = append(results, toObjectInfo(obj))
		if opts.Limit > 0 && len(results) >= opts.Limit {
			break
		}
	}

	return results, nil
}

// ListPage issues one ListObjectsV2 request through the core API, which
// exposes the continuation token the high-level iterator hides.
func (d *Driver) ListPage(ctx context.Context, bucket string, opts filestore.PageOptions) (*filestore.ListPage, error) {
	// Core.ListObjectsV2 takes no context.
	if err := ctx.Err(); err != nil {
		return nil, mapError(err, "failed to list objects")
	}

	res, err := d.core.ListObjectsV2(bucket, opts.Prefix, "", opts.ContinuationToken, opts.Delimiter, opts.MaxKeys)
	if err != nil {
		return nil, mapError(err, "failed to list objects")
	}

	page := &filestore.ListPage{
		Objects:        make([]filestore.ObjectInfo, 0, len(res.Contents)),
		CommonPrefixes: make([]string, 0, len(res.CommonPrefixes)),
		IsTruncated:    res.IsTruncated,
	}
	if res.IsTruncated {
		page.NextContinuationToken = res.NextContinuationToken
	}
	for _, obj := range res.Contents {
		page.Objects = append(page.Objects, toObjectInfo(obj))
	}
	for _, p := range res.CommonPrefixes {
		page.CommonPrefixes = append(page.CommonPrefixes, p.Prefix)
	}
	return page, nil
}

// GetObject opens a streaming handle to the object at key inside bucket.
// The caller MUST call Object.Close() after reading.
func (d *Driver) GetObject(ctx context.Context, bucket, key string) (filestore.Object, error) {
	obj, err := d.client.GetObject(ctx, bucket, key, miniogo.GetObjectOptions{})
	if err != nil {
		return nil, mapError(err, "failed to get object")
	}

	// GetObject is lazy; Stat issues the request and surfaces NoSuchKey.
	stat, err := obj.Stat()
	if err != nil {
		obj.Close()
		return nil, mapError(err, "failed to stat object after get")
	}

	return &object{
		ReadCloser: obj,
		info: &filestore.ObjectInfo{
			Key:          key,
			Size:         stat.Size,
			ContentType:  stat.ContentType,
			ETag:         stat.ETag,
			LastModified: stat.LastModified,
		},
	}, nil
}

// StatObject returns metadata for the object at key inside bucket
// without downloading its content.
func (d *Driver) StatObject(ctx context.Context, bucket, key string) (*filestore.ObjectInfo, error) {
	stat, err := d.client.StatObject(ctx, bucket, key, miniogo.StatObjectOptions{})
	if err != nil {
		return nil, mapError(err, "failed to stat object")
	}

	info := toObjectInfo(stat)
	info.Key = key
	return &info, nil
}

// DownloadObject writes the object to path. FGetObject stages the transfer
// in a ".part.minio" sibling and renames it over any existing file.
func (d *Driver) DownloadObject(ctx context.Context, bucket, key, path string) error {
	if err := d.client.FGetObject(ctx, bucket, key, path, miniogo.GetObjectOptions{}); err != nil {
		return mapError(err, "failed to download object")
	}
	return nil
}

// PresignGetURL returns a time-limited public download URL for the object.
func (d *Driver) PresignGetURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	u, err := d.client.PresignedGetObject(ctx, bucket, key, ttl, nil)
	if err != nil {
		return "", mapError(err, "failed to generate presigned URL")
	}
	return u.String(), nil
}

// --- internal types ---

func toObjectInfo(obj miniogo.ObjectInfo) filestore.ObjectInfo {
	return filestore.ObjectInfo{
		Key:          obj.Key,
		Size:         obj.Size,
		ContentType:  obj.ContentType,
		ETag:         obj.ETag,
		LastModified: obj.LastModified,
		IsDir:        filestore.IsDirKey(obj.Key),
	}
}

// object wraps a MinIO GetObject response and exposes filestore.Object.
type object struct {
	io.ReadCloser
	info *filestore.ObjectInfo
}

func (o *object) Info() *filestore.ObjectInfo {
	return o.info
}
