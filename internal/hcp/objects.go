package hcp

import (
	"context"
	"strings"

	"github.com/koustreak/hcpfetch/internal/errs"
	"github.com/koustreak/hcpfetch/internal/filestore"
)

// ListBuckets returns the names of all buckets visible to the store's
// credentials.
func (c *Client) ListBuckets(ctx context.Context) ([]string, error) {
	buckets, err := c.store.ListBuckets(ctx)
	if err != nil {
		return nil, err
	}

	names := make([]string, len(buckets))
	for i, b := range buckets {
		names[i] = b.Name
	}
	return names, nil
}

// Exists reports whether key is present, using a metadata-only request.
// A not-found answer is false with a nil error; every other failure is
// returned.
func (c *Client) Exists(ctx context.Context, key string, opts ...CallOption) (bool, error) {
	o := c.resolve(opts)

	if _, err := c.store.StatObject(ctx, o.bucket, key); err != nil {
		if errs.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// EffectivePrefix returns the prefix ListObjects sends: in delimiter mode a
// non-empty prefix without a trailing "/" gains one, unless trailingSlash
// is off.
func EffectivePrefix(prefix string, delimiter, trailingSlash bool) string {
	if delimiter && trailingSlash && prefix != "" && !strings.HasSuffix(prefix, PathDelimiter) {
		return prefix + PathDelimiter
	}
	return prefix
}

// ListObjects lists at most MaxKeys entries under prefix with a single
// request. In delimiter mode it returns the next level's common prefixes,
// otherwise full object keys.
//
// An empty result is reported as an error of kind QueryMismatch, so that
// callers can tell "nothing under that prefix for this mode" apart from a
// successful listing. Check it with errs.IsQueryMismatch.
func (c *Client) ListObjects(ctx context.Context, prefix string, opts ...CallOption) ([]string, error) {
	o := c.resolve(opts)
	effective := EffectivePrefix(prefix, o.delimiter, o.trailingSlash)

	req := filestore.PageOptions{
		Prefix:  effective,
		MaxKeys: o.maxKeys,
	}
	if o.delimiter {
		req.Delimiter = PathDelimiter
	}

	page, err := c.store.ListPage(ctx, o.bucket, req)
	if err != nil {
		return nil, err
	}

	var entries []string
	if o.delimiter {
		entries = page.CommonPrefixes
	} else {
		entries = make([]string, 0, len(page.Objects))
		for _, obj := range page.Objects {
			entries = append(entries, obj.Key)
		}
	}

	if len(entries) == 0 {
		return nil, c.mismatch(o, effective)
	}

	if len(entries) > o.maxKeys {
		entries = entries[:o.maxKeys]
	}
	return entries, nil
}

// ListAll walks every listing page under prefix, ignoring MaxKeys. Without
// delimiter mode it returns every object key below prefix; in delimiter mode
// it returns the next level's prefixes and the keys at that level.
// An empty result is a QueryMismatch, as for ListObjects.
func (c *Client) ListAll(ctx context.Context, prefix string, opts ...CallOption) ([]string, error) {
	o := c.resolve(opts)
	effective := EffectivePrefix(prefix, o.delimiter, o.trailingSlash)

	objects, err := c.store.ListObjects(ctx, o.bucket, filestore.ListOptions{
		Prefix:    effective,
		Recursive: !o.delimiter,
	})
	if err != nil {
		return nil, err
	}
	if len(objects) == 0 {
		return nil, c.mismatch(o, effective)
	}

	entries := make([]string, len(objects))
	for i, obj := range objects {
		entries[i] = obj.Key
	}
	return entries, nil
}

// mismatch logs and builds the QueryMismatch error for an empty listing.
func (c *Client) mismatch(o callOptions, prefix string) error {
	c.log.WarnWith("invalid prefix (if it is not, disable delimiter mode)", map[string]any{
		"bucket":    o.bucket,
		"prefix":    prefix,
		"delimiter": o.delimiter,
	})
	return errs.Newf(errs.ErrKindQueryMismatch, "no entries under prefix %q", prefix)
}

// GetObject fetches key. It first lists key as a flat prefix and returns
// found=false without fetching when nothing matches. The object can still
// vanish between the listing and the fetch; a not-found from the fetch is
// reported the same way.
//
// The caller MUST Close the returned object.
func (c *Client) GetObject(ctx context.Context, key string, opts ...CallOption) (filestore.Object, bool, error) {
	opts = append(opts[:len(opts):len(opts)], Delimiter(false))

	keys, err := c.ListObjects(ctx, key, opts...)
	if err != nil {
		if errs.IsQueryMismatch(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if len(keys) == 0 {
		return nil, false, nil
	}

	o := c.resolve(opts)
	obj, err := c.store.GetObject(ctx, o.bucket, key)
	if err != nil {
		if errs.IsNotFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return obj, true, nil
}
