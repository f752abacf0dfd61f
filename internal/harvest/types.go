// Package harvest defines the bibliographic record model and the crawl, enrichment and merge
// engine that turns source descriptions into a single record set.
package harvest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Sentinel marks a field that could not be extracted. It is ordinary, comparable data.
const Sentinel = "???"

// DOIPrefix is stripped from DOI fields scraped as resolver links.
const DOIPrefix = "https://doi.org/"

// DefaultItemSelector matches one search result in a listing page.
const DefaultItemSelector = "li.search__item"

// Method selects the extraction strategy for a source.
type Method string

// Supported source methods.
const (
	MethodGetHTML Method = "get-html"
	MethodPostCSV Method = "post-csv"
)

// PageUnit controls what replaces the page token in paginated URLs.
type PageUnit string

// Page token units.
const (
	PageUnitPage   PageUnit = "page"
	PageUnitOffset PageUnit = "offset"
)

// Record is one harvested bibliographic entry. Entries from different sources may coexist.
type Record struct {
	Index     int    `json:"index"`
	Title     string `json:"title"`
	Authors   string `json:"authors"`
	Date      string `json:"date"`
	Venue     string `json:"venue"`
	DOI       string `json:"doi"`
	Bibsource string `json:"bibsource"`
	PubType   string `json:"pubtype"`
	Abstract  string `json:"abstract"`
}

// HasDOI reports whether the record carries a resolvable DOI.
func (r Record) HasDOI() bool {
	return IsKnownDOI(r.DOI)
}

// IsKnownDOI reports whether doi may be used as a metadata key.
func IsKnownDOI(doi string) bool {
	return doi != "" && doi != Sentinel
}

// Selectors maps the fixed set of extractable fields to HTML selectors or CSV column names.
type Selectors struct {
	Title    string `json:"title,omitempty"`
	Authors  string `json:"authors,omitempty"`
	Date     string `json:"date,omitempty"`
	Source   string `json:"source,omitempty"`
	DOI      string `json:"doi,omitempty"`
	PubType  string `json:"pubtype,omitempty"`
	Abstract string `json:"abstract,omitempty"`
}

// Query holds the request parameters of a source: a list of "k=v" parts for HTML listings,
// or a JSON object posted to CSV export endpoints.
type Query struct {
	Parts   []string
	Payload map[string]any
}

// UnmarshalJSON accepts either an array of strings or an object.
func (q *Query) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	switch {
	case len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")):
		*q = Query{}
		return nil
	case trimmed[0] == '[':
		var parts []string
		if err := json.Unmarshal(trimmed, &parts); err != nil {
			return fmt.Errorf("query parts: %w", err)
		}
		*q = Query{Parts: parts}
		return nil
	case trimmed[0] == '{':
		var payload map[string]any
		if err := json.Unmarshal(trimmed, &payload); err != nil {
			return fmt.Errorf("query payload: %w", err)
		}
		*q = Query{Payload: payload}
		return nil
	default:
		return fmt.Errorf("query must be an array or an object")
	}
}

// MarshalJSON writes whichever form the query holds.
func (q Query) MarshalJSON() ([]byte, error) {
	if q.Payload != nil {
		return json.Marshal(q.Payload)
	}
	if q.Parts != nil {
		return json.Marshal(q.Parts)
	}
	return []byte("null"), nil
}

// SourceDescription is the read-only configuration of one bibliography source.
type SourceDescription struct {
	Name      string    `json:"name"`
	Method    Method    `json:"method"`
	Site      string    `json:"site"`
	Query     Query     `json:"query"`
	Initial   string    `json:"initial,omitempty"`
	BibSite   string    `json:"bibsite,omitempty"`
	Count     string    `json:"count,omitempty"`
	Item      string    `json:"item,omitempty"`
	PageSize  int       `json:"pageSize,omitempty"`
	PageExp   string    `json:"pageExp,omitempty"`
	PageStart string    `json:"pageStart,omitempty"`
	PageUnit  PageUnit  `json:"pageUnit,omitempty"`
	Selectors Selectors `json:"selectors"`
	Columns   Selectors `json:"columns"`
}

// ItemSelector returns the configured list item selector or the default one.
func (s SourceDescription) ItemSelector() string {
	if strings.TrimSpace(s.Item) == "" {
		return DefaultItemSelector
	}
	return s.Item
}

// Validate checks that the description carries what its method needs.
func (s SourceDescription) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("source name is required")
	}
	if s.Site == "" {
		return fmt.Errorf("source %s: site is required", s.Name)
	}
	switch s.Method {
	case MethodGetHTML:
		if s.Count == "" {
			return fmt.Errorf("source %s: count selector is required for %s", s.Name, s.Method)
		}
		if s.PageSize <= 0 {
			return fmt.Errorf("source %s: pageSize must be > 0", s.Name)
		}
		if s.PageExp == "" {
			return fmt.Errorf("source %s: pageExp is required for %s", s.Name, s.Method)
		}
		switch s.PageUnit {
		case "", PageUnitPage, PageUnitOffset:
		default:
			return fmt.Errorf("source %s: unknown pageUnit %q", s.Name, s.PageUnit)
		}
	case MethodPostCSV:
		if s.Initial == "" {
			return fmt.Errorf("source %s: initial endpoint is required for %s", s.Name, s.Method)
		}
	default:
		return fmt.Errorf("source %s: unknown method %q", s.Name, s.Method)
	}
	return nil
}
