package ledger

import (
	"context"
	"fmt"

	"github.com/ahrav/go-rationale/internal/ports"
)

// Storage backends.
const (
	BackendFile = "file"
	BackendS3   = "s3"
)

// Config selects and configures the ledger backend.
type Config struct {
	// Backend is "file" (default) or "s3".
	Backend string `yaml:"backend" mapstructure:"backend" validate:"omitempty,oneof=file s3"`

	S3 S3Config `yaml:"s3" mapstructure:"s3"`
}

// Open returns the root ledger for cfg. For the file backend root is the
// target directory; for S3 it is appended to the configured prefix.
func Open(ctx context.Context, cfg Config, root string) (ports.Ledger, error) {
	switch cfg.Backend {
	case "", BackendFile:
		if root == "" {
			return nil, ports.NewConfigError("target_folder", ports.ErrConfigNotFound)
		}
		return NewFS(root), nil
	case BackendS3:
		l, err := NewS3(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		if root == "" || root == "." {
			return l, nil
		}
		return l.Sub(root), nil
	default:
		return nil, ports.NewConfigError("storage.backend", fmt.Errorf("unknown backend %q", cfg.Backend))
	}
}
