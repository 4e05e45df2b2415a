package hcp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/koustreak/hcpfetch/internal/errs"
	"github.com/koustreak/hcpfetch/internal/filestore"
	"golang.org/x/sync/errgroup"
)

// DownloadReport summarises a DownloadPrefix call.
type DownloadReport struct {
	Bucket string
	Prefix string

	// Pages is the number of listing requests issued.
	Pages int

	// Dirs are the local directories created for directory markers.
	Dirs []string

	// Files are the local paths written, in completion order.
	Files []string
}

// DownloadPrefix mirrors every object under prefix into the local root.
//
// The whole listing is collected first, following continuation tokens
// until the store reports no further page. Directory markers (keys ending
// in "/") become directories under <root>/<bucket>/<marker>, all of them
// before any file transfer starts. Each file key is written to
// <root>/<segments[trim:]...> where segments is the bucket followed by the
// key's path segments; existing files are overwritten.
//
// There is no rollback: when a transfer fails the files already written
// stay on disk and the error is returned together with the partial report.
func (c *Client) DownloadPrefix(ctx context.Context, prefix string, opts ...CallOption) (*DownloadReport, error) {
	o := c.resolve(opts)
	report := &DownloadReport{Bucket: o.bucket, Prefix: prefix}

	if o.trim < 0 {
		return report, errs.Newf(errs.ErrKindInvalidInput, "trim must not be negative, got %d", o.trim)
	}

	log := c.log.With().
		Str("bucket", o.bucket).
		Str("prefix", prefix).
		Logger()

	markers, keys, pages, err := c.collect(ctx, o.bucket, prefix)
	report.Pages = pages
	if err != nil {
		return report, err
	}

	// Resolve every destination up front so a bad key or trim fails
	// before anything touches the disk.
	dirs := make([]string, len(markers))
	for i, marker := range markers {
		dir, err := MarkerPath(o.localRoot, o.bucket, marker)
		if err != nil {
			return report, err
		}
		dirs[i] = dir
	}
	dests := make([]string, len(keys))
	for i, key := range keys {
		dest, err := DestinationPath(o.localRoot, o.bucket, key, o.trim)
		if err != nil {
			return report, err
		}
		dests[i] = dest
	}

	if len(markers) == 0 && len(keys) == 0 {
		log.Warn("nothing to download under prefix")
		return report, nil
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return report, fmt.Errorf("create directory %s: %w", dir, err)
		}
		log.Debugf("ensured directory %s", dir)
		report.Dirs = append(report.Dirs, dir)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for i, key := range keys {
		if gctx.Err() != nil {
			break
		}
		dest := dests[i]
		g.Go(func() error {
			// A sibling already failed; its error is the one Wait reports.
			if gctx.Err() != nil {
				return nil
			}
			if err := c.fetch(gctx, o.bucket, key, dest); err != nil {
				return err
			}
			log.Debugf("downloaded %s to %s", key, dest)

			mu.Lock()
			report.Files = append(report.Files, dest)
			mu.Unlock()
			return nil
		})
	}

	err = g.Wait()
	if err == nil && ctx.Err() != nil {
		err = errs.Wrap(errs.ErrKindTimeout, "download canceled", ctx.Err())
	}
	if err != nil {
		log.ErrorWith("download aborted", err, map[string]any{"written": len(report.Files)})
		return report, err
	}

	log.InfoWith("download complete", map[string]any{
		"pages": report.Pages,
		"dirs":  len(report.Dirs),
		"files": len(report.Files),
	})
	return report, nil
}

// collect pages through the listing under prefix and partitions the keys
// into directory markers and file keys.
func (c *Client) collect(ctx context.Context, bucket, prefix string) (markers, keys []string, pages int, err error) {
	token := ""
	for {
		page, err := c.store.ListPage(ctx, bucket, filestore.PageOptions{
			Prefix:            prefix,
			ContinuationToken: token,
		})
		if err != nil {
			return nil, nil, pages, err
		}
		pages++

		for _, obj := range page.Objects {
			if filestore.IsDirKey(obj.Key) {
				markers = append(markers, obj.Key)
			} else {
				keys = append(keys, obj.Key)
			}
		}

		token = page.NextContinuationToken
		if token == "" {
			return markers, keys, pages, nil
		}
	}
}

// fetch ensures the parent directory of dest exists and downloads key into
// it. MkdirAll tolerates concurrent workers creating the same directory.
func (c *Client) fetch(ctx context.Context, bucket, key, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", dest, err)
	}
	return c.store.DownloadObject(ctx, bucket, key, dest)
}

// MarkerPath returns the local directory for a directory marker:
// <root>/<bucket>/<marker>.
func MarkerPath(root, bucket, marker string) (string, error) {
	segments := append([]string{bucket}, strings.Split(marker, PathDelimiter)...)
	return within(root, segments)
}

// DestinationPath returns the local file path for key. The bucket name and
// the key's segments form one path; its first trim segments are dropped
// and the rest is joined onto root. Trim counts the bucket as the first
// segment, so trim 1 keeps the key's directories intact.
//
//	DestinationPath("data", "bkt", "x/y.txt", 0) // data/bkt/x/y.txt
//	DestinationPath("data", "bkt", "x/y.txt", 1) // data/x/y.txt
func DestinationPath(root, bucket, key string, trim int) (string, error) {
	segments := append([]string{bucket}, strings.Split(key, PathDelimiter)...)
	if trim < 0 || trim >= len(segments) {
		return "", errs.Newf(errs.ErrKindInvalidInput,
			"trim %d leaves nothing of %q (%d segments)", trim, bucket+PathDelimiter+key, len(segments))
	}
	return within(root, segments[trim:])
}

// within joins segments onto root and rejects results that escape root.
func within(root string, segments []string) (string, error) {
	rel := filepath.Join(segments...)
	if rel == "" || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", errs.Newf(errs.ErrKindInvalidInput, "path %q escapes the download root", strings.Join(segments, PathDelimiter))
	}
	return filepath.Join(root, rel), nil
}
