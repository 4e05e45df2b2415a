// Package s3 provides an AWS S3 implementation of filestore.Store built on
// aws-sdk-go-v2.
//
// Usage:
//
//	store, err := s3.New(ctx, filestore.DefaultConfig())
//	if err != nil { ... }
//	defer store.Close()
//
//	info, err := store.StatObject(ctx, "hcp-openaccess", "HCP_1200/100206/T1w/T1w.nii.gz")
package s3

import (
	"context"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/koustreak/hcpfetch/internal/errs"
	"github.com/koustreak/hcpfetch/internal/filestore"
)

// API is the subset of *s3.Client the driver calls.
type API interface {
	ListBuckets(ctx context.Context, params *awss3.ListBucketsInput, optFns ...func(*awss3.Options)) (*awss3.ListBucketsOutput, error)
	HeadObject(ctx context.Context, params *awss3.HeadObjectInput, optFns ...func(*awss3.Options)) (*awss3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *awss3.ListObjectsV2Input, optFns ...func(*awss3.Options)) (*awss3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *awss3.GetObjectInput, optFns ...func(*awss3.Options)) (*awss3.GetObjectOutput, error)
}

// Presigner is the subset of *s3.PresignClient the driver calls.
type Presigner interface {
	PresignGetObject(ctx context.Context, params *awss3.GetObjectInput, optFns ...func(*awss3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Driver is an S3 implementation of filestore.Store.
// It is safe for concurrent use by multiple goroutines.
type Driver struct {
	api     API
	presign Presigner
}

var _ filestore.Store = (*Driver)(nil)

// New builds an S3 client from cfg. Credentials resolve in this order:
// anonymous when cfg.Anonymous is set, the static key pair when given,
// otherwise the SDK's default chain (environment, shared config, IMDS).
//
// New does not contact the service; anonymous clients cannot list buckets,
// so a Ping at construction would fail against public data.
func New(ctx context.Context, cfg *filestore.Config) (*Driver, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	switch {
	case cfg.Anonymous:
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(aws.AnonymousCredentials{}))
	case cfg.AccessKey != "":
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "failed to load aws config", err)
	}

	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	return &Driver{
		api:     client,
		presign: awss3.NewPresignClient(client),
	}, nil
}

// NewWithAPI wraps an existing client. presign may be nil, in which case
// PresignGetURL reports invalid input.
func NewWithAPI(api API, presign Presigner) *Driver {
	return &Driver{api: api, presign: presign}
}

// --- filestore.Store implementation ---

// Ping verifies the endpoint answers an authenticated ListBuckets.
func (d *Driver) Ping(ctx context.Context) error {
	if _, err := d.api.ListBuckets(ctx, &awss3.ListBucketsInput{}); err != nil {
		return mapError(err, "ping failed")
	}
	return nil
}

// Close is a no-op; the SDK's HTTP client needs no teardown.
func (d *Driver) Close() error {
	return nil
}

// ListBuckets returns all buckets owned by the configured credentials.
func (d *Driver) ListBuckets(ctx context.Context) ([]filestore.BucketInfo, error) {
	out, err := d.api.ListBuckets(ctx, &awss3.ListBucketsInput{})
	if err != nil {
		return nil, mapError(err, "failed to list buckets")
	}

	buckets := make([]filestore.BucketInfo, 0, len(out.Buckets))
	for _, b := range out.Buckets {
		buckets = append(buckets, filestore.BucketInfo{
			Name:      aws.ToString(b.Name),
			CreatedAt: aws.ToTime(b.CreationDate),
		})
	}
	return buckets, nil
}

// ListObjects walks every page under opts.Prefix until opts.Limit entries
// are collected or the listing ends.
func (d *Driver) ListObjects(ctx context.Context, bucket string, opts filestore.ListOptions) ([]filestore.ObjectInfo, error) {
	in := &awss3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(opts.Prefix),
	}
	if !opts.Recursive {
		in.Delimiter = aws.String("/")
	}

	var results []filestore.ObjectInfo
	paginator := awss3.NewListObjectsV2Paginator(d.api, in)
	for paginator.HasMorePages() {
		out, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, mapError(err, "failed to list objects")
		}

		page := toPage(out)
		for _, p := range page.CommonPrefixes {
			results = append(results, filestore.ObjectInfo{Key: p, Size: -1, IsDir: true})
		}
		results = append(results, page.Objects...)

		if opts.Limit > 0 && len(results) >= opts.Limit {
			return results[:opts.Limit], nil
		}
	}
	return results, nil
}

// ListPage issues one ListObjectsV2 request.
func (d *Driver) ListPage(ctx context.Context, bucket string, opts filestore.PageOptions) (*filestore.ListPage, error) {
	in := &awss3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(opts.Prefix),
	}
	if opts.Delimiter != "" {
		in.Delimiter = aws.String(opts.Delimiter)
	}
	if opts.MaxKeys > 0 {
		in.MaxKeys = aws.Int32(int32(opts.MaxKeys))
	}
	if opts.ContinuationToken != "" {
		in.ContinuationToken = aws.String(opts.ContinuationToken)
	}

	out, err := d.api.ListObjectsV2(ctx, in)
	if err != nil {
		return nil, mapError(err, "failed to list objects")
	}
	return toPage(out), nil
}

// GetObject opens a streaming handle to the object at key inside bucket.
// The caller MUST call Object.Close() after reading.
func (d *Driver) GetObject(ctx context.Context, bucket, key string) (filestore.Object, error) {
	out, err := d.api.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, mapError(err, "failed to get object")
	}

	return &object{
		ReadCloser: out.Body,
		info: &filestore.ObjectInfo{
			Key:          key,
			Size:         sizeOf(out.ContentLength),
			ContentType:  aws.ToString(out.ContentType),
			ETag:         aws.ToString(out.ETag),
			LastModified: aws.ToTime(out.LastModified),
		},
	}, nil
}

// StatObject issues a HeadObject; the body is never transferred.
func (d *Driver) StatObject(ctx context.Context, bucket, key string) (*filestore.ObjectInfo, error) {
	out, err := d.api.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, mapError(err, "failed to stat object")
	}

	return &filestore.ObjectInfo{
		Key:          key,
		Size:         sizeOf(out.ContentLength),
		ContentType:  aws.ToString(out.ContentType),
		ETag:         aws.ToString(out.ETag),
		LastModified: aws.ToTime(out.LastModified),
		IsDir:        filestore.IsDirKey(key),
	}, nil
}

// DownloadObject streams the object into path.
func (d *Driver) DownloadObject(ctx context.Context, bucket, key, path string) error {
	obj, err := d.GetObject(ctx, bucket, key)
	if err != nil {
		return err
	}
	defer obj.Close()

	return filestore.WriteFile(path, obj)
}

// PresignGetURL returns a time-limited download URL for the object.
func (d *Driver) PresignGetURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	if d.presign == nil {
		return "", errs.New(errs.ErrKindInvalidInput, "presigning is not configured")
	}

	req, err := d.presign.PresignGetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, awss3.WithPresignExpires(ttl))
	if err != nil {
		return "", mapError(err, "failed to generate presigned URL")
	}
	return req.URL, nil
}

// --- internal helpers ---

func toPage(out *awss3.ListObjectsV2Output) *filestore.ListPage {
	page := &filestore.ListPage{
		Objects:        make([]filestore.ObjectInfo, 0, len(out.Contents)),
		CommonPrefixes: make([]string, 0, len(out.CommonPrefixes)),
		IsTruncated:    aws.ToBool(out.IsTruncated),
	}
	if page.IsTruncated {
		page.NextContinuationToken = aws.ToString(out.NextContinuationToken)
	}

	for _, o := range out.Contents {
		key := aws.ToString(o.Key)
		page.Objects = append(page.Objects, filestore.ObjectInfo{
			Key:          key,
			Size:         sizeOf(o.Size),
			ETag:         aws.ToString(o.ETag),
			LastModified: aws.ToTime(o.LastModified),
			IsDir:        filestore.IsDirKey(key),
		})
	}
	for _, p := range out.CommonPrefixes {
		page.CommonPrefixes = append(page.CommonPrefixes, aws.ToString(p.Prefix))
	}
	return page
}

func sizeOf(n *int64) int64 {
	if n == nil {
		return -1
	}
	return *n
}

// object wraps a GetObject response body and exposes filestore.Object.
type object struct {
	io.ReadCloser
	info *filestore.ObjectInfo
}

func (o *object) Info() *filestore.ObjectInfo {
	return o.info
}
