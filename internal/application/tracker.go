package application

import (
	"context"
	"fmt"

	"github.com/ahrav/go-rationale/internal/domain"
	"github.com/ahrav/go-rationale/internal/ports"
)

// Incomplete returns the members of indices whose output record is absent
// from the ledger, in input order. Only record existence is checked; a
// record with unusable content still counts as complete.
// Incomplete lists the ledger on every call because workers add records
// concurrently, so callers must not cache the result across passes.
func Incomplete(ctx context.Context, indices []int, ledger ports.Ledger) ([]int, error) {
	names, err := ledger.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list completed records: %w", err)
	}

	done := make(map[string]struct{}, len(names))
	for _, name := range names {
		done[name] = struct{}{}
	}

	incomplete := make([]int, 0, len(indices))
	for _, idx := range indices {
		if _, ok := done[domain.OutputName(idx)]; !ok {
			incomplete = append(incomplete, idx)
		}
	}
	return incomplete, nil
}
