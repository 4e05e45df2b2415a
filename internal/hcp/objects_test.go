package hcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/koustreak/hcpfetch/internal/errs"
	"github.com/koustreak/hcpfetch/internal/filestore/fstest"
	"github.com/koustreak/hcpfetch/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hcpStore() *fstest.Store {
	return fstest.New().
		Put(DefaultBucket, "HCP_1200/100206/T1w/T1w.nii.gz", "t1w").
		Put(DefaultBucket, "HCP_1200/100206/T1w/T2w.nii.gz", "t2w").
		Put(DefaultBucket, "HCP_1200/100307/T1w/T1w.nii.gz", "t1w-2").
		Put(DefaultBucket, "HCP_1200/README.txt", "readme").
		Put("other-bucket", "x/y.txt", "y")
}

func TestEffectivePrefix(t *testing.T) {
	tests := []struct {
		prefix        string
		delimiter     bool
		trailingSlash bool
		want          string
	}{
		{"HCP_1200", true, true, "HCP_1200/"},
		{"HCP_1200/", true, true, "HCP_1200/"},
		{"", true, true, ""},
		{"HCP_1200", true, false, "HCP_1200"},
		{"HCP_1200", false, true, "HCP_1200"},
		{"HCP_1200", false, false, "HCP_1200"},
	}

	for _, tt := range tests {
		name := fmt.Sprintf("%q/delim=%v/slash=%v", tt.prefix, tt.delimiter, tt.trailingSlash)
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, EffectivePrefix(tt.prefix, tt.delimiter, tt.trailingSlash))
		})
	}
}

func TestClient_ListBuckets(t *testing.T) {
	c := New(hcpStore())

	names, err := c.ListBuckets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"hcp-openaccess", "other-bucket"}, names)
}

func TestClient_ListBuckets_PropagatesServiceError(t *testing.T) {
	store := hcpStore()
	store.FailOn("ListBuckets", "", errs.New(errs.ErrKindPermissionDenied, "anonymous"))

	_, err := New(store).ListBuckets(context.Background())
	assert.True(t, errs.IsPermissionDenied(err))
}

func TestClient_Exists(t *testing.T) {
	store := hcpStore()
	c := New(store)
	ctx := context.Background()

	ok, err := c.Exists(ctx, "HCP_1200/README.txt")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Exists(ctx, "HCP_1200/missing.txt")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = c.Exists(ctx, "x/y.txt", Bucket("other-bucket"))
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Empty(t, store.CallsTo("GetObject"), "existence check must not fetch bodies")
	assert.Empty(t, store.CallsTo("DownloadObject"))
}

func TestClient_Exists_OtherErrorsPropagate(t *testing.T) {
	store := hcpStore()
	store.FailOn("StatObject", "", errs.New(errs.ErrKindConnectionFailed, "dial"))

	ok, err := New(store).Exists(context.Background(), "HCP_1200/README.txt")
	assert.False(t, ok)
	assert.True(t, errs.IsConnectionFailed(err))
}

func TestClient_ListObjects_Flat(t *testing.T) {
	store := hcpStore()
	c := New(store)

	keys, err := c.ListObjects(context.Background(), "HCP_1200/100206")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"HCP_1200/100206/T1w/T1w.nii.gz",
		"HCP_1200/100206/T1w/T2w.nii.gz",
	}, keys)

	calls := store.CallsTo("ListPage")
	require.Len(t, calls, 1)
	assert.Equal(t, "HCP_1200/100206", calls[0].Key, "flat mode keeps the prefix as given")
}

func TestClient_ListObjects_Delimiter(t *testing.T) {
	store := hcpStore()
	c := New(store)

	prefixes, err := c.ListObjects(context.Background(), "HCP_1200", Delimiter(true))
	require.NoError(t, err)
	assert.Equal(t, []string{"HCP_1200/100206/", "HCP_1200/100307/"}, prefixes)
	assert.Equal(t, "HCP_1200/", store.CallsTo("ListPage")[0].Key)
}

func TestClient_ListObjects_DelimiterWithoutTrailingSlash(t *testing.T) {
	store := hcpStore()
	c := New(store)

	prefixes, err := c.ListObjects(context.Background(), "HCP_1200", Delimiter(true), TrailingSlash(false))
	require.NoError(t, err)
	assert.Equal(t, []string{"HCP_1200/"}, prefixes)
	assert.Equal(t, "HCP_1200", store.CallsTo("ListPage")[0].Key)
}

func TestClient_ListObjects_MaxKeysBound(t *testing.T) {
	store := fstest.New()
	for i := 0; i < 25; i++ {
		store.Put(DefaultBucket, fmt.Sprintf("HCP_1200/%06d/file.txt", i), "x")
	}
	c := New(store)
	ctx := context.Background()

	for _, k := range []int{1, 7, 25, 100} {
		keys, err := c.ListObjects(ctx, "HCP_1200/", MaxKeys(k))
		require.NoError(t, err)
		assert.LessOrEqual(t, len(keys), k)
	}

	keys, err := c.ListObjects(ctx, "HCP_1200/", MaxKeys(7))
	require.NoError(t, err)
	assert.Len(t, keys, 7)
	assert.Len(t, store.CallsTo("ListPage"), 5, "no auto-pagination")
}

func TestClampMaxKeys(t *testing.T) {
	assert.Equal(t, MaxKeysLimit, clampMaxKeys(0))
	assert.Equal(t, MaxKeysLimit, clampMaxKeys(1300))
	assert.Equal(t, 1, clampMaxKeys(1))
	assert.Equal(t, 500, clampMaxKeys(500))
}

func TestClient_ListObjects_QueryMismatch(t *testing.T) {
	buf := &bytes.Buffer{}
	log := logger.New(&logger.Config{Level: "warn", Format: "json", Output: buf})
	c := New(hcpStore(), WithLogger(log))

	// A file key has no children in delimiter mode.
	keys, err := c.ListObjects(context.Background(), "HCP_1200/README.txt", Delimiter(true))
	assert.Nil(t, keys)
	require.Error(t, err)
	assert.True(t, errs.IsQueryMismatch(err))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "HCP_1200/README.txt/", entry["prefix"])
}

func TestClient_ListObjects_ServiceError(t *testing.T) {
	store := hcpStore()
	store.FailOn("ListPage", "", errs.New(errs.ErrKindQueryFailed, "500"))

	_, err := New(store).ListObjects(context.Background(), "HCP_1200")
	assert.True(t, errs.IsQueryFailed(err))
	assert.False(t, errs.IsQueryMismatch(err))
}

func TestClient_GetObject(t *testing.T) {
	store := hcpStore()
	c := New(store)

	obj, found, err := c.GetObject(context.Background(), "HCP_1200/README.txt")
	require.NoError(t, err)
	require.True(t, found)
	defer obj.Close()

	body, err := io.ReadAll(obj)
	require.NoError(t, err)
	assert.Equal(t, "readme", string(body))
	assert.Equal(t, int64(6), obj.Info().Size)
}

func TestClient_GetObject_AbsentSkipsFetch(t *testing.T) {
	store := hcpStore()
	c := New(store)

	obj, found, err := c.GetObject(context.Background(), "HCP_1200/nope.txt")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, obj)
	assert.Len(t, store.CallsTo("ListPage"), 1)
	assert.Empty(t, store.CallsTo("GetObject"))
}

func TestClient_GetObject_VanishedBetweenListAndFetch(t *testing.T) {
	store := hcpStore()
	store.FailOn("GetObject", "HCP_1200/README.txt", errs.New(errs.ErrKindNotFound, "gone"))

	obj, found, err := New(store).GetObject(context.Background(), "HCP_1200/README.txt")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, obj)
}

func TestClient_GetObject_FetchError(t *testing.T) {
	store := hcpStore()
	boom := errors.New("reset by peer")
	store.FailOn("GetObject", "", errs.Wrap(errs.ErrKindConnectionFailed, "get", boom))

	_, found, err := New(store).GetObject(context.Background(), "HCP_1200/README.txt")
	assert.False(t, found)
	assert.ErrorIs(t, err, boom)
}

func TestClient_GetObject_IgnoresDelimiterOption(t *testing.T) {
	store := hcpStore()
	opts := []CallOption{Delimiter(true)}

	obj, found, err := New(store).GetObject(context.Background(), "HCP_1200/README.txt", opts...)
	require.NoError(t, err)
	require.True(t, found)
	obj.Close()

	assert.Equal(t, "HCP_1200/README.txt", store.CallsTo("ListPage")[0].Key)
}

func TestNew_Options(t *testing.T) {
	c := New(fstest.New(),
		WithDefaultBucket("bkt"),
		WithLocalRoot("/tmp/x"),
		WithMaxKeys(50),
		WithConcurrency(0),
		WithLogger(nil),
	)

	assert.Equal(t, "bkt", c.Bucket())
	assert.Equal(t, "/tmp/x", c.localRoot)
	assert.Equal(t, 50, c.maxKeys)
	assert.Equal(t, 1, c.concurrency)
	assert.NotNil(t, c.log)
	assert.NotNil(t, c.Store())
}

func TestClient_ListAll_FollowsEveryPage(t *testing.T) {
	store := hcpStore()
	store.PageSize = 2
	c := New(store)

	keys, err := c.ListAll(context.Background(), "HCP_1200/", MaxKeys(1))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"HCP_1200/100206/T1w/T1w.nii.gz",
		"HCP_1200/100206/T1w/T2w.nii.gz",
		"HCP_1200/100307/T1w/T1w.nii.gz",
		"HCP_1200/README.txt",
	}, keys)
	assert.Len(t, store.CallsTo("ListPage"), 2)
}

func TestClient_ListAll_Delimiter(t *testing.T) {
	store := hcpStore()
	store.PageSize = 2

	entries, err := New(store).ListAll(context.Background(), "HCP_1200", Delimiter(true))
	require.NoError(t, err)
	assert.Equal(t, []string{"HCP_1200/100206/", "HCP_1200/100307/", "HCP_1200/README.txt"}, entries)
}

func TestClient_ListAll_Empty(t *testing.T) {
	_, err := New(hcpStore()).ListAll(context.Background(), "nothing/")
	assert.True(t, errs.IsQueryMismatch(err))
}
