package main

import (
	"context"

	"github.com/koustreak/hcpfetch/internal/errs"
	"github.com/koustreak/hcpfetch/internal/filestore"
	"github.com/koustreak/hcpfetch/internal/filestore/minio"
	"github.com/koustreak/hcpfetch/internal/filestore/s3"
)

// storeOpener builds a filestore.Store from its config.
type storeOpener func(ctx context.Context, cfg *filestore.Config) (filestore.Store, error)

func openStore(ctx context.Context, cfg *filestore.Config) (filestore.Store, error) {
	switch cfg.Provider {
	case filestore.ProviderS3:
		return s3.New(ctx, cfg)
	case filestore.ProviderMinIO:
		return minio.New(ctx, cfg)
	default:
		return nil, errs.Newf(errs.ErrKindInvalidInput, "unknown storage provider %q", cfg.Provider)
	}
}
