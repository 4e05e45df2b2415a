// Package fstest provides an in-memory filestore.Store for tests.
package fstest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/koustreak/hcpfetch/internal/errs"
	"github.com/koustreak/hcpfetch/internal/filestore"
)

// Call records one Store method invocation.
type Call struct {
	Op     string
	Bucket string
	Key    string // object key, or the listing prefix
	Token  string // continuation token of ListPage calls
}

// Store is an in-memory filestore.Store. The zero value is not usable;
// call New.
type Store struct {
	// PageSize caps ListPage results independently of MaxKeys. 0 means
	// no cap.
	PageSize int

	mu      sync.Mutex
	buckets map[string]map[string][]byte
	fail    map[string]error
	calls   []Call
}

var _ filestore.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		buckets: make(map[string]map[string][]byte),
		fail:    make(map[string]error),
	}
}

// Put adds an object, creating the bucket as needed.
func (s *Store) Put(bucket, key, body string) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.buckets[bucket] == nil {
		s.buckets[bucket] = make(map[string][]byte)
	}
	s.buckets[bucket][key] = []byte(body)
	return s
}

// Delete removes an object.
func (s *Store) Delete(bucket, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buckets[bucket], key)
}

// FailOn makes every call of op fail with err. When key is non-empty only
// calls for that key fail.
func (s *Store) FailOn(op, key string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[op+"\x00"+key] = err
}

// Calls returns the recorded invocations in order.
func (s *Store) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CallsTo returns the recorded invocations of op.
func (s *Store) CallsTo(op string) []Call {
	var out []Call
	for _, c := range s.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// record logs the call and returns the injected failure, if any.
func (s *Store) record(c Call) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, c)
	if err, ok := s.fail[c.Op+"\x00"+c.Key]; ok {
		return err
	}
	return s.fail[c.Op+"\x00"]
}

func (s *Store) lookup(bucket, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	objs, ok := s.buckets[bucket]
	if !ok {
		return nil, errs.Newf(errs.ErrKindNotFound, "no such bucket %q", bucket)
	}
	body, ok := objs[key]
	if !ok {
		return nil, errs.Newf(errs.ErrKindNotFound, "no such key %q", key)
	}
	return body, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.record(Call{Op: "Ping"})
}

func (s *Store) Close() error {
	return nil
}

func (s *Store) ListBuckets(ctx context.Context) ([]filestore.BucketInfo, error) {
	if err := s.record(Call{Op: "ListBuckets"}); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]filestore.BucketInfo, 0, len(s.buckets))
	for name := range s.buckets {
		out = append(out, filestore.BucketInfo{Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) ListObjects(ctx context.Context, bucket string, opts filestore.ListOptions) ([]filestore.ObjectInfo, error) {
	req := filestore.PageOptions{Prefix: opts.Prefix}
	if !opts.Recursive {
		req.Delimiter = "/"
	}

	var out []filestore.ObjectInfo
	for {
		page, err := s.ListPage(ctx, bucket, req)
		if err != nil {
			return nil, err
		}
		for _, p := range page.CommonPrefixes {
			out = append(out, filestore.ObjectInfo{Key: p, Size: -1, IsDir: true})
		}
		out = append(out, page.Objects...)
		if opts.Limit > 0 && len(out) >= opts.Limit {
			return out[:opts.Limit], nil
		}
		if page.NextContinuationToken == "" {
			return out, nil
		}
		req.ContinuationToken = page.NextContinuationToken
	}
}

type entry struct {
	key      string
	size     int64
	isPrefix bool
}

// ListPage lists keys in lexical order. Continuation tokens are offsets
// into that order, encoded as "offset-N".
func (s *Store) ListPage(ctx context.Context, bucket string, opts filestore.PageOptions) (*filestore.ListPage, error) {
	if err := s.record(Call{Op: "ListPage", Bucket: bucket, Key: opts.Prefix, Token: opts.ContinuationToken}); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(errs.ErrKindTimeout, "list canceled", err)
	}

	offset := 0
	if opts.ContinuationToken != "" {
		n, err := strconv.Atoi(strings.TrimPrefix(opts.ContinuationToken, "offset-"))
		if err != nil {
			return nil, errs.Newf(errs.ErrKindInvalidInput, "bad continuation token %q", opts.ContinuationToken)
		}
		offset = n
	}

	entries, err := s.entries(bucket, opts.Prefix, opts.Delimiter)
	if err != nil {
		return nil, err
	}

	limit := len(entries)
	if opts.MaxKeys > 0 && opts.MaxKeys < limit {
		limit = opts.MaxKeys
	}
	if s.PageSize > 0 && s.PageSize < limit {
		limit = s.PageSize
	}

	page := &filestore.ListPage{}
	end := offset + limit
	if end > len(entries) {
		end = len(entries)
	}
	if offset < end {
		for _, e := range entries[offset:end] {
			if e.isPrefix {
				page.CommonPrefixes = append(page.CommonPrefixes, e.key)
				continue
			}
			page.Objects = append(page.Objects, filestore.ObjectInfo{
				Key:   e.key,
				Size:  e.size,
				IsDir: filestore.IsDirKey(e.key),
			})
		}
	}
	if end < len(entries) {
		page.IsTruncated = true
		page.NextContinuationToken = "offset-" + strconv.Itoa(end)
	}
	return page, nil
}

func (s *Store) entries(bucket, prefix, delimiter string) ([]entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	objs, ok := s.buckets[bucket]
	if !ok {
		return nil, errs.Newf(errs.ErrKindNotFound, "no such bucket %q", bucket)
	}

	seen := make(map[string]bool)
	var out []entry
	for key, body := range objs {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if delimiter != "" {
			rest := key[len(prefix):]
			if i := strings.Index(rest, delimiter); i >= 0 {
				p := prefix + rest[:i+len(delimiter)]
				if !seen[p] {
					seen[p] = true
					out = append(out, entry{key: p, isPrefix: true})
				}
				continue
			}
		}
		out = append(out, entry{key: key, size: int64(len(body))})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out, nil
}

func (s *Store) GetObject(ctx context.Context, bucket, key string) (filestore.Object, error) {
	if err := s.record(Call{Op: "GetObject", Bucket: bucket, Key: key}); err != nil {
		return nil, err
	}
	body, err := s.lookup(bucket, key)
	if err != nil {
		return nil, err
	}
	return &object{
		ReadCloser: io.NopCloser(bytes.NewReader(body)),
		info: &filestore.ObjectInfo{
			Key:         key,
			Size:        int64(len(body)),
			ContentType: "application/octet-stream",
		},
	}, nil
}

func (s *Store) StatObject(ctx context.Context, bucket, key string) (*filestore.ObjectInfo, error) {
	if err := s.record(Call{Op: "StatObject", Bucket: bucket, Key: key}); err != nil {
		return nil, err
	}
	body, err := s.lookup(bucket, key)
	if err != nil {
		return nil, err
	}
	return &filestore.ObjectInfo{Key: key, Size: int64(len(body)), IsDir: filestore.IsDirKey(key)}, nil
}

func (s *Store) DownloadObject(ctx context.Context, bucket, key, path string) error {
	if err := s.record(Call{Op: "DownloadObject", Bucket: bucket, Key: key}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return errs.Wrap(errs.ErrKindTimeout, "download canceled", err)
	}
	body, err := s.lookup(bucket, key)
	if err != nil {
		return err
	}
	return filestore.WriteFile(path, bytes.NewReader(body))
}

func (s *Store) PresignGetURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	if err := s.record(Call{Op: "PresignGetURL", Bucket: bucket, Key: key}); err != nil {
		return "", err
	}
	return fmt.Sprintf("mem://%s/%s?ttl=%s", bucket, key, ttl), nil
}

type object struct {
	io.ReadCloser
	info *filestore.ObjectInfo
}

func (o *object) Info() *filestore.ObjectInfo {
	return o.info
}
