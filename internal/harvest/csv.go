package harvest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
)

const utf8BOM = "\ufeff"

// CSVExporter harvests sources that export their whole result set as CSV.
type CSVExporter struct {
	fetcher  Fetcher
	metadata MetadataStore
	logger   *zap.Logger
}

// NewCSVExporter builds the post-csv strategy.
func NewCSVExporter(fetcher Fetcher, metadata MetadataStore, logger *zap.Logger) *CSVExporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CSVExporter{fetcher: fetcher, metadata: metadata, logger: logger}
}

// Harvest primes the export session, downloads the CSV and stores every row with a DOI as
// raw metadata for that DOI.
func (e *CSVExporter) Harvest(ctx context.Context, source SourceDescription) ([]Record, error) {
	payload := source.Query.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	if _, err := e.fetcher.PostJSON(ctx, source.Initial, payload); err != nil {
		return nil, err
	}
	body, err := e.fetcher.PostJSON(ctx, source.Site, payload)
	if err != nil {
		return nil, err
	}
	records, rows, err := ParseExport(source, body)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", source.Name, err)
	}
	stored := 0
	for i, rec := range records {
		if !rec.HasDOI() || e.metadata.Has(rec.DOI) {
			continue
		}
		if _, err := e.metadata.Put(rec.DOI, RawMetadata(rows[i])); err != nil {
			return nil, fmt.Errorf("store metadata %s: %w", rec.DOI, err)
		}
		stored++
	}
	e.logger.Info("export parsed",
		zap.String("source", source.Name),
		zap.Int("records", len(records)),
		zap.Int("metadata_added", stored),
	)
	return records, nil
}

// ParseExport reads a CSV body with a header line. It returns one record per row, numbered
// from zero, together with the row as a header-keyed map. Columns the source does not map, or
// the row lacks, become the sentinel; so does an empty DOI.
func ParseExport(source SourceDescription, body string) ([]Record, []map[string]string, error) {
	r := csv.NewReader(strings.NewReader(strings.TrimPrefix(body, utf8BOM)))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read csv header: %w", err)
	}

	cols := source.Columns
	var (
		records []Record
		rows    []map[string]string
	)
	for {
		line, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read csv row %d: %w", len(records), err)
		}
		row := make(map[string]string, len(header))
		for i, name := range header {
			if i < len(line) {
				row[name] = line[i]
			}
		}
		doi := strings.TrimPrefix(strings.TrimSpace(column(row, cols.DOI)), DOIPrefix)
		if doi == "" {
			doi = Sentinel
		}
		records = append(records, Record{
			Index:     len(records),
			Title:     column(row, cols.Title),
			Authors:   column(row, cols.Authors),
			Date:      column(row, cols.Date),
			Venue:     column(row, cols.Source),
			DOI:       doi,
			Bibsource: source.Name,
			PubType:   column(row, cols.PubType),
			Abstract:  column(row, cols.Abstract),
		})
		rows = append(rows, row)
	}
	return records, rows, nil
}

func column(row map[string]string, name string) string {
	if name == "" {
		return Sentinel
	}
	v, ok := row[name]
	if !ok {
		return Sentinel
	}
	return strings.TrimSpace(v)
}
