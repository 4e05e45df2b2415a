package s3

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/koustreak/hcpfetch/internal/errs"
	"github.com/koustreak/hcpfetch/internal/filestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAPI serves a fixed set of objects and records listing requests.
type fakeAPI struct {
	objects  map[string]string
	pages    []*awss3.ListObjectsV2Output
	listed   []*awss3.ListObjectsV2Input
	headErr  error
	buckets  []types.Bucket
	getCalls int
}

func (f *fakeAPI) ListBuckets(ctx context.Context, _ *awss3.ListBucketsInput, _ ...func(*awss3.Options)) (*awss3.ListBucketsOutput, error) {
	return &awss3.ListBucketsOutput{Buckets: f.buckets}, nil
}

func (f *fakeAPI) HeadObject(ctx context.Context, in *awss3.HeadObjectInput, _ ...func(*awss3.Options)) (*awss3.HeadObjectOutput, error) {
	if f.headErr != nil {
		return nil, f.headErr
	}
	body, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &awss3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(body)))}, nil
}

func (f *fakeAPI) ListObjectsV2(ctx context.Context, in *awss3.ListObjectsV2Input, _ ...func(*awss3.Options)) (*awss3.ListObjectsV2Output, error) {
	f.listed = append(f.listed, in)
	idx := len(f.listed) - 1
	if idx >= len(f.pages) {
		return &awss3.ListObjectsV2Output{}, nil
	}
	return f.pages[idx], nil
}

func (f *fakeAPI) GetObject(ctx context.Context, in *awss3.GetObjectInput, _ ...func(*awss3.Options)) (*awss3.GetObjectOutput, error) {
	f.getCalls++
	body, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &awss3.GetObjectOutput{
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String("application/octet-stream"),
		ETag:          aws.String(`"etag"`),
	}, nil
}

type fakePresigner struct{}

func (fakePresigner) PresignGetObject(ctx context.Context, in *awss3.GetObjectInput, _ ...func(*awss3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	return &v4.PresignedHTTPRequest{URL: "https://example.test/" + aws.ToString(in.Key)}, nil
}

func TestDriver_ListPage_RequestShape(t *testing.T) {
	api := &fakeAPI{pages: []*awss3.ListObjectsV2Output{{
		Contents: []types.Object{
			{Key: aws.String("HCP_1200/100206/"), Size: aws.Int64(0)},
			{Key: aws.String("HCP_1200/100206/T1w.nii.gz"), Size: aws.Int64(42)},
		},
		CommonPrefixes:        []types.CommonPrefix{{Prefix: aws.String("HCP_1200/100206/MNINonLinear/")}},
		IsTruncated:           aws.Bool(true),
		NextContinuationToken: aws.String("tok-2"),
	}}}
	d := NewWithAPI(api, nil)

	page, err := d.ListPage(context.Background(), "hcp-openaccess", filestore.PageOptions{
		Prefix:            "HCP_1200/100206/",
		Delimiter:         "/",
		MaxKeys:           10,
		ContinuationToken: "tok-1",
	})
	require.NoError(t, err)

	require.Len(t, api.listed, 1)
	in := api.listed[0]
	assert.Equal(t, "hcp-openaccess", aws.ToString(in.Bucket))
	assert.Equal(t, "HCP_1200/100206/", aws.ToString(in.Prefix))
	assert.Equal(t, "/", aws.ToString(in.Delimiter))
	assert.Equal(t, int32(10), aws.ToInt32(in.MaxKeys))
	assert.Equal(t, "tok-1", aws.ToString(in.ContinuationToken))

	assert.Equal(t, "tok-2", page.NextContinuationToken)
	assert.True(t, page.IsTruncated)
	assert.Equal(t, []string{"HCP_1200/100206/MNINonLinear/"}, page.CommonPrefixes)
	require.Len(t, page.Objects, 2)
	assert.True(t, page.Objects[0].IsDir)
	assert.Equal(t, int64(42), page.Objects[1].Size)
}

func TestDriver_ListPage_FlatOmitsDelimiter(t *testing.T) {
	api := &fakeAPI{}
	d := NewWithAPI(api, nil)

	page, err := d.ListPage(context.Background(), "b", filestore.PageOptions{Prefix: "x"})
	require.NoError(t, err)

	assert.Nil(t, api.listed[0].Delimiter)
	assert.Nil(t, api.listed[0].MaxKeys)
	assert.Nil(t, api.listed[0].ContinuationToken)
	assert.Empty(t, page.NextContinuationToken)
}

func TestDriver_ListObjects_FollowsPagesUntilLimit(t *testing.T) {
	api := &fakeAPI{pages: []*awss3.ListObjectsV2Output{
		{
			Contents:              []types.Object{{Key: aws.String("a/1")}, {Key: aws.String("a/2")}},
			IsTruncated:           aws.Bool(true),
			NextContinuationToken: aws.String("t1"),
		},
		{
			Contents: []types.Object{{Key: aws.String("a/3")}, {Key: aws.String("a/4")}},
		},
	}}
	d := NewWithAPI(api, nil)

	all, err := d.ListObjects(context.Background(), "b", filestore.ListOptions{Prefix: "a/", Recursive: true})
	require.NoError(t, err)
	assert.Len(t, all, 4)
	assert.Len(t, api.listed, 2)
	assert.Equal(t, "t1", aws.ToString(api.listed[1].ContinuationToken))
	assert.Nil(t, api.listed[0].Delimiter)
}

func TestDriver_StatObject(t *testing.T) {
	d := NewWithAPI(&fakeAPI{objects: map[string]string{"k": "hello"}}, nil)

	info, err := d.StatObject(context.Background(), "b", "k")
	require.NoError(t, err)
	assert.Equal(t, int64(5), info.Size)

	_, err = d.StatObject(context.Background(), "b", "missing")
	assert.True(t, errs.IsNotFound(err))
}

func TestDriver_GetObject(t *testing.T) {
	d := NewWithAPI(&fakeAPI{objects: map[string]string{"k": "hello"}}, nil)

	obj, err := d.GetObject(context.Background(), "b", "k")
	require.NoError(t, err)
	defer obj.Close()

	body, err := io.ReadAll(obj)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))
	assert.Equal(t, "application/octet-stream", obj.Info().ContentType)
	assert.Equal(t, int64(5), obj.Info().Size)
}

func TestDriver_DownloadObject(t *testing.T) {
	d := NewWithAPI(&fakeAPI{objects: map[string]string{"k": "payload"}}, nil)
	path := filepath.Join(t.TempDir(), "out.bin")

	require.NoError(t, d.DownloadObject(context.Background(), "b", "k", path))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))

	err = d.DownloadObject(context.Background(), "b", "missing", path)
	assert.True(t, errs.IsNotFound(err))
}

func TestDriver_ListBuckets(t *testing.T) {
	created := time.Date(2017, 3, 1, 0, 0, 0, 0, time.UTC)
	d := NewWithAPI(&fakeAPI{buckets: []types.Bucket{
		{Name: aws.String("hcp-openaccess"), CreationDate: aws.Time(created)},
	}}, nil)

	buckets, err := d.ListBuckets(context.Background())
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	assert.Equal(t, "hcp-openaccess", buckets[0].Name)
	assert.Equal(t, created, buckets[0].CreatedAt)
}

func TestDriver_PresignGetURL(t *testing.T) {
	d := NewWithAPI(&fakeAPI{}, fakePresigner{})
	url, err := d.PresignGetURL(context.Background(), "b", "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "https://example.test/k", url)

	_, err = NewWithAPI(&fakeAPI{}, nil).PresignGetURL(context.Background(), "b", "k", time.Minute)
	assert.True(t, errs.IsInvalidInput(err))
}

func responseError(status int) error {
	return &smithyhttp.ResponseError{
		Response: &smithyhttp.Response{Response: &http.Response{StatusCode: status}},
		Err:      errors.New("http error"),
	}
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want errs.ErrKind
	}{
		{"no such key", &types.NoSuchKey{}, errs.ErrKindNotFound},
		{"head not found", &types.NotFound{}, errs.ErrKindNotFound},
		{"access denied", &smithy.GenericAPIError{Code: "AccessDenied"}, errs.ErrKindPermissionDenied},
		{"slow down", &smithy.GenericAPIError{Code: "SlowDown"}, errs.ErrKindTimeout},
		{"invalid bucket", &smithy.GenericAPIError{Code: "InvalidBucketName"}, errs.ErrKindInvalidInput},
		{"unknown code", &smithy.GenericAPIError{Code: "InternalError"}, errs.ErrKindQueryFailed},
		{"bare 404", responseError(http.StatusNotFound), errs.ErrKindNotFound},
		{"bare 403", responseError(http.StatusForbidden), errs.ErrKindPermissionDenied},
		{"bare 500", responseError(http.StatusInternalServerError), errs.ErrKindQueryFailed},
		{"deadline", context.DeadlineExceeded, errs.ErrKindTimeout},
		{"no response", errors.New("dial tcp: connection refused"), errs.ErrKindConnectionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapError(tt.err, "op")
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.Kind)
			assert.ErrorIs(t, got, tt.err)
		})
	}

	assert.Nil(t, mapError(nil, "op"))
}

// isolateAWSEnv points the SDK at empty shared files and the given keys.
func isolateAWSEnv(t *testing.T, accessKey, secretKey string) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("AWS_CONFIG_FILE", filepath.Join(dir, "config"))
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", filepath.Join(dir, "credentials"))
	t.Setenv("AWS_PROFILE", "")
	t.Setenv("AWS_SESSION_TOKEN", "")
	t.Setenv("AWS_ACCESS_KEY_ID", accessKey)
	t.Setenv("AWS_SECRET_ACCESS_KEY", secretKey)
}

func credentialsOf(t *testing.T, d *Driver) aws.CredentialsProvider {
	t.Helper()
	client, ok := d.api.(*awss3.Client)
	require.True(t, ok)
	return client.Options().Credentials
}

func TestNew_DefaultUsesAmbientCredentials(t *testing.T) {
	isolateAWSEnv(t, "AKIAFROMENV", "env-secret")

	d, err := New(context.Background(), filestore.DefaultConfig())
	require.NoError(t, err)

	provider := credentialsOf(t, d)
	require.NotNil(t, provider, "default config must sign requests")
	creds, err := provider.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AKIAFROMENV", creds.AccessKeyID)
}

func TestNew_StaticKeysWinOverEnvironment(t *testing.T) {
	isolateAWSEnv(t, "AKIAFROMENV", "env-secret")

	cfg := filestore.DefaultConfig()
	cfg.AccessKey, cfg.SecretKey = "AKIASTATIC", "static-secret"
	d, err := New(context.Background(), cfg)
	require.NoError(t, err)

	creds, err := credentialsOf(t, d).Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AKIASTATIC", creds.AccessKeyID)
}

func TestNew_AnonymousIsOptIn(t *testing.T) {
	isolateAWSEnv(t, "AKIAFROMENV", "env-secret")

	cfg := filestore.DefaultConfig()
	cfg.Anonymous = true
	d, err := New(context.Background(), cfg)
	require.NoError(t, err)

	provider := credentialsOf(t, d)
	assert.True(t, provider == nil || aws.IsCredentialsProvider(provider, aws.AnonymousCredentials{}),
		"anonymous config must not pick up environment keys")
}
