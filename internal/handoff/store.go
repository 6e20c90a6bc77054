package handoff

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/openaq-sync/internal/config"
)

// Open returns the store selected by cfg.Backend ("file" or "minio").
func Open(ctx context.Context, cfg config.HandoffConfig) (Store, error) {
	switch cfg.Backend {
	case "", "file":
		return NewFileStore(cfg.Dir)
	case "minio":
		return NewMinioStore(ctx, cfg.Minio)
	default:
		return nil, eris.Errorf("handoff: unknown backend %q", cfg.Backend)
	}
}
