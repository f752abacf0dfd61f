package harvest

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// SourceSummary reports what one source contributed.
type SourceSummary struct {
	Name    string
	Method  Method
	Records int
}

// Summary reports a whole run.
type Summary struct {
	Sources []SourceSummary
	Records int
	Merge   MergeStats
}

// Pipeline harvests every source in order and merges cached metadata into the result once.
type Pipeline struct {
	harvester Strategy
	metadata  MetadataStore
	logger    *zap.Logger
}

// NewPipeline builds a pipeline around a per-source harvester.
func NewPipeline(harvester Strategy, metadata MetadataStore, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{harvester: harvester, metadata: metadata, logger: logger}
}

// Run concatenates the records of all sources in order, then merges. Any source failure stops
// the run and no records are returned.
func (p *Pipeline) Run(ctx context.Context, sources []SourceDescription) ([]Record, Summary, error) {
	var (
		all     []Record
		summary Summary
	)
	for _, source := range sources {
		if err := ctx.Err(); err != nil {
			return nil, summary, err
		}
		records, err := p.harvester.Harvest(ctx, source)
		if err != nil {
			return nil, summary, fmt.Errorf("harvest %s: %w", source.Name, err)
		}
		summary.Sources = append(summary.Sources, SourceSummary{
			Name:    source.Name,
			Method:  source.Method,
			Records: len(records),
		})
		all = append(all, records...)
	}
	summary.Records = len(all)

	stats, err := Merge(all, p.metadata)
	if err != nil {
		return nil, summary, err
	}
	summary.Merge = stats
	p.logger.Info("metadata merged",
		zap.Int("records", len(all)),
		zap.Int("matched", stats.Matched),
		zap.Int("abstracts", stats.Abstracts),
		zap.Int("fields", stats.Fields),
	)
	return all, summary, nil
}
