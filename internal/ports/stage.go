package ports

import (
	"context"

	"github.com/ahrav/go-rationale/internal/domain"
)

// Row is one entry of an aggregated dataset. Every row references the image
// it was derived from so aggregation filters can act on it.
type Row = domain.Referencer

// Collected is what a stage recovers from one persisted record.
type Collected struct {
	Rows []Row

	// Skipped counts entries inside the record that were dropped because
	// they were malformed.
	Skipped int
}

// Stage is one step of the dataset pipeline as seen by the batch harness.
// The harness only knows indices; the stage owns its manifest, prompts and
// model calls.
type Stage interface {
	// Name identifies the stage in logs, metrics and CLI arguments.
	Name() string

	// Len returns the number of work items in the stage manifest.
	Len() int

	// Process generates the output record for the work item at index. Any
	// error is confined to that item.
	Process(ctx context.Context, index int) (any, error)

	// Marshal encodes a record returned by Process for persistence.
	Marshal(record any) ([]byte, error)

	// Collect decodes and validates a persisted record. It returns an error
	// wrapping domain.ErrMalformedRecord when the record as a whole is
	// unusable.
	Collect(data []byte) (Collected, error)
}
