package harvest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/JakeFAU/bibharvest/internal/htmlquery"
	"github.com/JakeFAU/bibharvest/internal/metrics"
)

// Enrichment request form values understood by citation export endpoints.
const (
	enrichTargetFile = "custom-bibtex"
	enrichFormat     = "bibTex"
)

// HTMLScraper pages through a search-result listing and enriches every page with DOI metadata.
type HTMLScraper struct {
	fetcher  Fetcher
	metadata MetadataStore
	logger   *zap.Logger
}

// NewHTMLScraper builds the get-html strategy.
func NewHTMLScraper(fetcher Fetcher, metadata MetadataStore, logger *zap.Logger) *HTMLScraper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTMLScraper{fetcher: fetcher, metadata: metadata, logger: logger}
}

// Harvest fetches every page of the listing and returns its records, indexed by offset.
func (s *HTMLScraper) Harvest(ctx context.Context, source SourceDescription) ([]Record, error) {
	base := BaseURL(source)
	if !strings.Contains(base, source.PageExp) {
		return nil, fmt.Errorf("source %s: page token %q not found in %s", source.Name, source.PageExp, base)
	}

	first, err := s.fetcher.Get(ctx, PageURL(source, base, 0))
	if err != nil {
		return nil, err
	}
	doc, err := htmlquery.Parse(first)
	if err != nil {
		return nil, err
	}
	total, err := ParseCount(doc, source.Count)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", source.Name, err)
	}
	s.logger.Info("query matches",
		zap.String("source", source.Name),
		zap.Int("total", total),
		zap.Int("page_size", source.PageSize),
	)

	var records []Record
	for offset := 0; offset < total; offset += source.PageSize {
		page, err := s.fetcher.Get(ctx, PageURL(source, base, offset))
		if err != nil {
			return nil, err
		}
		batch, err := ExtractPage(source, page, offset)
		if err != nil {
			return nil, err
		}
		s.logger.Info("page extracted",
			zap.String("source", source.Name),
			zap.Int("offset", offset),
			zap.Int("records", len(batch)),
		)
		records = append(records, batch...)
		if err := s.enrich(ctx, source, batch); err != nil {
			return nil, err
		}
	}
	return records, nil
}

// BaseURL joins the site and its query parts.
func BaseURL(source SourceDescription) string {
	if len(source.Query.Parts) == 0 {
		return source.Site
	}
	return source.Site + "?" + strings.Join(source.Query.Parts, "&")
}

// PageURL substitutes the page token for the page starting at offset.
func PageURL(source SourceDescription, base string, offset int) string {
	token := offset
	if source.PageUnit != PageUnitOffset {
		token = offset / source.PageSize
	}
	return strings.ReplaceAll(base, source.PageExp, source.PageStart+strconv.Itoa(token))
}

// ParseCount reads the total result count, ignoring every non-digit character.
func ParseCount(doc *htmlquery.Node, selector string) (int, error) {
	text, ok := doc.Text(selector)
	if !ok {
		return 0, fmt.Errorf("count selector %q matched nothing", selector)
	}
	digits := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) && r < unicode.MaxASCII {
			return r
		}
		return -1
	}, text)
	if digits == "" {
		return 0, fmt.Errorf("count %q has no digits", strings.TrimSpace(text))
	}
	total, err := strconv.Atoi(digits)
	if err != nil {
		return 0, fmt.Errorf("parse count %q: %w", digits, err)
	}
	return total, nil
}

// ExtractPage turns every list item of a page into a record numbered offset+i. Fields whose
// selector matches nothing become the sentinel; the record is still produced.
func ExtractPage(source SourceDescription, page string, offset int) ([]Record, error) {
	doc, err := htmlquery.Parse(page)
	if err != nil {
		return nil, err
	}
	items := doc.All(source.ItemSelector())
	sel := source.Selectors
	records := make([]Record, 0, len(items))
	for i, item := range items {
		records = append(records, Record{
			Index:     offset + i,
			Title:     readField(item, sel.Title),
			Authors:   readField(item, sel.Authors),
			Date:      readField(item, sel.Date),
			Venue:     readField(item, sel.Source),
			DOI:       strings.TrimPrefix(readField(item, sel.DOI), DOIPrefix),
			Bibsource: source.Name,
			PubType:   readField(item, sel.PubType),
			Abstract:  readField(item, sel.Abstract),
		})
	}
	return records, nil
}

func readField(node *htmlquery.Node, selector string) string {
	text, ok := node.Text(selector)
	if !ok {
		return Sentinel
	}
	return strings.TrimSpace(text)
}

// MissingDOIs lists, once each and in order, the known DOIs of batch with no metadata yet.
func MissingDOIs(batch []Record, metadata MetadataStore) []string {
	seen := make(map[string]struct{}, len(batch))
	var missing []string
	for _, r := range batch {
		if !r.HasDOI() {
			continue
		}
		if _, dup := seen[r.DOI]; dup {
			continue
		}
		seen[r.DOI] = struct{}{}
		if !metadata.Has(r.DOI) {
			missing = append(missing, r.DOI)
		}
	}
	return missing
}

// enrich issues one batched export request for the page's unknown DOIs.
func (s *HTMLScraper) enrich(ctx context.Context, source SourceDescription, batch []Record) error {
	missing := MissingDOIs(batch, s.metadata)
	if len(missing) == 0 {
		return nil
	}
	if source.BibSite == "" {
		s.logger.Warn("no bibsite configured, skipping enrichment",
			zap.String("source", source.Name),
			zap.Int("missing", len(missing)),
		)
		return nil
	}
	metrics.ObserveEnrichmentBatch(source.Name)
	body, err := s.fetcher.PostForm(ctx, source.BibSite, map[string]string{
		"dois":       strings.Join(missing, ","),
		"targetFile": enrichTargetFile,
		"format":     enrichFormat,
	})
	if err != nil {
		return err
	}
	added, err := s.storeExport(body)
	if err != nil {
		return fmt.Errorf("source %s: %w", source.Name, err)
	}
	s.logger.Info("metadata enriched",
		zap.String("source", source.Name),
		zap.Int("requested", len(missing)),
		zap.Int("received", added),
	)
	return nil
}

type exportResponse struct {
	Items []map[string]json.RawMessage `json:"items"`
}

func (s *HTMLScraper) storeExport(body string) (int, error) {
	var resp exportResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return 0, fmt.Errorf("decode export response: %w", err)
	}
	added := 0
	for _, entry := range resp.Items {
		keys := make([]string, 0, len(entry))
		for k := range entry {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, key := range keys {
			item, err := ParseBibtexItem(key, entry[key])
			if err != nil {
				s.logger.Warn("skipping export item", zap.String("key", key), zap.Error(err))
				continue
			}
			if _, err := s.metadata.Put(key, BibtexMetadata(item)); err != nil {
				if errors.Is(err, ErrSentinelKey) {
					continue
				}
				return added, fmt.Errorf("store metadata %s: %w", key, err)
			}
			added++
		}
	}
	return added, nil
}
