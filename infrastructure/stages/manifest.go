package stages

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ahrav/go-rationale/internal/ports"
)

// LoadManifest reads the JSON array stored under name in ledger.
func LoadManifest[T any](ctx context.Context, ledger ports.Ledger, name string) ([]T, error) {
	data, err := ledger.Read(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", name, err)
	}
	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decode manifest %s: %w", name, err)
	}
	return items, nil
}
