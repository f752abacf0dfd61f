package harvest

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/bibharvest/internal/metrics"
)

// Harvester runs the strategy matching each source's method and persists the metadata cache
// once the source is done.
type Harvester struct {
	strategies map[Method]Strategy
	metadata   MetadataStore
	logger     *zap.Logger
}

// NewHarvester wires both strategies to one fetcher and one metadata store.
func NewHarvester(fetcher Fetcher, metadata MetadataStore, logger *zap.Logger) *Harvester {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Harvester{
		strategies: map[Method]Strategy{
			MethodGetHTML: NewHTMLScraper(fetcher, metadata, logger),
			MethodPostCSV: NewCSVExporter(fetcher, metadata, logger),
		},
		metadata: metadata,
		logger:   logger,
	}
}

// WithStrategy replaces the strategy used for method.
func (h *Harvester) WithStrategy(method Method, s Strategy) *Harvester {
	h.strategies[method] = s
	return h
}

// Harvest produces the records of one source. The metadata cache is persisted even when the
// strategy fails, so enrichment done before the failure survives.
func (h *Harvester) Harvest(ctx context.Context, source SourceDescription) ([]Record, error) {
	if err := source.Validate(); err != nil {
		return nil, err
	}
	strategy, ok := h.strategies[source.Method]
	if !ok {
		return nil, fmt.Errorf("source %s: no strategy for method %q", source.Name, source.Method)
	}

	start := time.Now()
	h.logger.Info("harvesting source",
		zap.String("source", source.Name),
		zap.String("method", string(source.Method)),
		zap.String("site", source.Site),
	)
	records, err := strategy.Harvest(ctx, source)
	if perr := h.metadata.Persist(ctx); perr != nil {
		if err != nil {
			h.logger.Error("persist metadata cache", zap.String("source", source.Name), zap.Error(perr))
			return nil, err
		}
		return nil, fmt.Errorf("source %s: %w", source.Name, perr)
	}
	if err != nil {
		return nil, err
	}

	metrics.ObserveRecords(source.Name, len(records))
	h.logger.Info("source harvested",
		zap.String("source", source.Name),
		zap.Int("records", len(records)),
		zap.Duration("duration", time.Since(start)),
	)
	return records, nil
}
