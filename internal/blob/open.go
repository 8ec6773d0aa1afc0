package blob

import (
	"context"
	"fmt"

	"holo/internal/config"
	"holo/internal/services"
)

// Open returns the store selected by cfg.Blob.Backend.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is required", services.ErrConfiguration)
	}
	switch cfg.Blob.Backend {
	case config.BlobBackendS3:
		return NewS3(ctx, S3Options{
			Bucket:    cfg.Blob.S3Bucket,
			Prefix:    cfg.Blob.S3Prefix,
			Region:    cfg.Blob.S3Region,
			Endpoint:  cfg.Blob.S3Endpoint,
			PathStyle: cfg.Blob.S3PathStyle,
		})
	case config.BlobBackendLocal, "":
		return NewLocalFS(cfg.Blob.LocalRoot)
	default:
		return nil, fmt.Errorf("%w: unknown blob backend %q", services.ErrConfiguration, cfg.Blob.Backend)
	}
}
