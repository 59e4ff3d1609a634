package application

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"github.com/ahrav/go-rationale/internal/domain"
	"github.com/ahrav/go-rationale/internal/ports"
)

// ExcludeConfig drops dataset rows by the image they reference.
type ExcludeConfig struct {
	// Substrings excludes rows whose image reference contains any entry.
	Substrings []string `yaml:"substrings" mapstructure:"substrings" validate:"dive,min=1"`

	// Globs excludes rows whose image reference matches any doublestar
	// pattern, for example "**/ocr_vqa/**".
	Globs []string `yaml:"globs" mapstructure:"globs" validate:"dive,min=1"`
}

// AggregateConfig controls how per-item records are merged into a dataset.
type AggregateConfig struct {
	// Output is the dataset name in the target ledger.
	Output string `yaml:"dataset" mapstructure:"dataset" validate:"required"`

	Exclude ExcludeConfig `yaml:"exclude" mapstructure:"exclude"`

	// PreserveListingOrder emits rows in ledger listing order instead of
	// ascending item index.
	PreserveListingOrder bool `yaml:"preserve_listing_order" mapstructure:"preserve_listing_order"`

	// Indent, when set, pretty-prints the dataset with this indent string.
	Indent string `yaml:"indent" mapstructure:"indent"`
}

// Aggregator merges a stage's per-item records into a single dataset
// document. Unreadable or malformed records are logged and skipped; they
// never abort the aggregation.
type Aggregator struct {
	stage   ports.Stage
	records ports.Ledger
	target  ports.Ledger
	cfg     AggregateConfig
	logger  *zap.Logger
	metrics ports.MetricsCollector
}

// NewAggregator validates cfg and creates an aggregator reading records
// from records and writing the dataset to target.
func NewAggregator(
	stage ports.Stage,
	records, target ports.Ledger,
	cfg AggregateConfig,
	logger *zap.Logger,
	metrics ports.MetricsCollector,
) (*Aggregator, error) {
	if stage == nil || records == nil || target == nil {
		return nil, fmt.Errorf("%w: stage and ledgers are required", domain.ErrInvalidConfiguration)
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("%w: aggregate config: %v", domain.ErrInvalidConfiguration, err)
	}
	for _, g := range cfg.Exclude.Globs {
		if !doublestar.ValidatePattern(g) {
			return nil, fmt.Errorf("%w: invalid exclude glob %q", domain.ErrInvalidConfiguration, g)
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		stage:   stage,
		records: records,
		target:  target,
		cfg:     cfg,
		logger:  logger.With(zap.String("stage", stage.Name())),
		metrics: metricsOrNop(metrics),
	}, nil
}

// Collect reads every record, validates it through the stage and applies
// the exclusion filters, returning the dataset rows without writing them.
func (a *Aggregator) Collect(ctx context.Context) ([]ports.Row, domain.AggregateReport, error) {
	report := domain.AggregateReport{Stage: a.stage.Name(), Output: a.cfg.Output}

	names, err := a.records.List(ctx)
	if err != nil {
		return nil, report, fmt.Errorf("list records: %w", err)
	}
	names = a.order(names)

	var rows []ports.Row
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, report, err
		}
		report.Files++

		data, err := a.records.Read(ctx, name)
		if err != nil {
			report.Skipped++
			a.logger.Warn("skipping unreadable record", zap.String("record", name), zap.Error(err))
			continue
		}
		collected, err := a.stage.Collect(data)
		if err != nil {
			report.Skipped++
			a.logger.Warn("skipping malformed record", zap.String("record", name), zap.Error(err))
			continue
		}
		if collected.Skipped > 0 {
			report.EntriesSkipped += collected.Skipped
			a.logger.Debug("dropped malformed entries", zap.String("record", name), zap.Int("entries", collected.Skipped))
		}

		for _, row := range collected.Rows {
			if a.excluded(row.ImageRef()) {
				report.Excluded++
				continue
			}
			rows = append(rows, row)
		}
	}
	report.Rows = len(rows)
	return rows, report, nil
}

// Aggregate collects the dataset rows and writes them once, as a JSON array,
// to the configured output name in the target ledger.
func (a *Aggregator) Aggregate(ctx context.Context) (domain.AggregateReport, error) {
	start := time.Now()
	rows, report, err := a.Collect(ctx)
	if err != nil {
		return report, err
	}

	data, err := a.encode(rows)
	if err != nil {
		return report, fmt.Errorf("encode dataset: %w", err)
	}
	if err := a.target.Write(ctx, a.cfg.Output, data); err != nil {
		return report, fmt.Errorf("write dataset: %w", err)
	}

	labels := map[string]string{"stage": a.stage.Name()}
	a.metrics.RecordLatency(OperationAggregate, time.Since(start), labels)
	a.metrics.RecordGauge(MetricAggregateRows, float64(report.Rows), labels)
	a.metrics.RecordCounter(MetricAggregateSkipped, float64(report.Skipped), labels)
	a.metrics.RecordCounter(MetricAggregateExcluded, float64(report.Excluded), labels)

	a.logger.Info("dataset written",
		zap.String("output", a.cfg.Output),
		zap.String("location", a.target.Location()),
		zap.Int("files", report.Files),
		zap.Int("rows", report.Rows),
		zap.Int("skipped", report.Skipped),
		zap.Int("entries_skipped", report.EntriesSkipped),
		zap.Int("excluded", report.Excluded),
	)
	return report, nil
}

// order keeps record names only and sorts them by item index unless
// listing order was requested. Names that are not item records sort last.
func (a *Aggregator) order(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if strings.HasSuffix(n, domain.OutputExt) {
			out = append(out, n)
		}
	}
	if a.cfg.PreserveListingOrder {
		return out
	}

	slices.SortStableFunc(out, func(x, y string) int {
		xi, xok := domain.ParseOutputName(x)
		yi, yok := domain.ParseOutputName(y)
		switch {
		case xok && yok:
			return cmp.Compare(xi, yi)
		case xok:
			return -1
		case yok:
			return 1
		default:
			return strings.Compare(x, y)
		}
	})
	return out
}

func (a *Aggregator) excluded(ref string) bool {
	for _, s := range a.cfg.Exclude.Substrings {
		if strings.Contains(ref, s) {
			return true
		}
	}
	for _, g := range a.cfg.Exclude.Globs {
		if ok, _ := doublestar.Match(g, ref); ok {
			return true
		}
	}
	return false
}

// encode writes rows as a JSON array without HTML escaping so non-ASCII
// and markup in model text survive verbatim.
func (a *Aggregator) encode(rows []ports.Row) ([]byte, error) {
	if rows == nil {
		rows = []ports.Row{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if a.cfg.Indent != "" {
		enc.SetIndent("", a.cfg.Indent)
	}
	if err := enc.Encode(rows); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
