package harvest

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// MetadataKind tags the variant held by a Metadata value.
type MetadataKind string

// Metadata variants.
const (
	KindRaw    MetadataKind = "raw"
	KindBibtex MetadataKind = "bibtex"
)

// Metadata is the value stored in the metadata cache: either the raw fields of an exported
// CSV row, or a structured item returned by a bibliography export endpoint.
type Metadata struct {
	Kind   MetadataKind      `json:"kind"`
	Fields map[string]string `json:"fields,omitempty"`
	Item   *BibtexItem       `json:"item,omitempty"`
}

// BibtexItem holds the fields we use from a citation export item.
type BibtexItem struct {
	Key            string `json:"key,omitempty"`
	Type           string `json:"type,omitempty"`
	Title          string `json:"title,omitempty"`
	Authors        string `json:"authors,omitempty"`
	Issued         string `json:"issued,omitempty"`
	ContainerTitle string `json:"container_title,omitempty"`
	Abstract       string `json:"abstract,omitempty"`
	// HasAbstract is set when the export carried an abstract field, even an empty one.
	HasAbstract bool   `json:"has_abstract,omitempty"`
	DOI         string `json:"doi,omitempty"`
}

// Patch carries the record fields a metadata entry can supply.
type Patch struct {
	Title   string
	Authors string
	Date    string
	Venue   string
	PubType string
}

// RawMetadata wraps an exported row.
func RawMetadata(fields map[string]string) Metadata {
	cp := make(map[string]string, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	return Metadata{Kind: KindRaw, Fields: cp}
}

// BibtexMetadata wraps a parsed export item.
func BibtexMetadata(item BibtexItem) Metadata {
	return Metadata{Kind: KindBibtex, Item: &item}
}

// Abstract returns the abstract when the entry has one.
func (m Metadata) Abstract() (string, bool) {
	switch m.Kind {
	case KindRaw:
		return lookupPresent(m.Fields, "abstract")
	case KindBibtex:
		if m.Item == nil || (!m.Item.HasAbstract && m.Item.Abstract == "") {
			return "", false
		}
		return m.Item.Abstract, true
	default:
		return "", false
	}
}

// Patch exposes the entry's record fields. Fields the entry does not know are left empty.
func (m Metadata) Patch() Patch {
	switch m.Kind {
	case KindRaw:
		var p Patch
		p.Title, _ = lookupFold(m.Fields, "title")
		p.Authors, _ = lookupFold(m.Fields, "authors")
		p.Date, _ = lookupFold(m.Fields, "date")
		p.Venue, _ = lookupFold(m.Fields, "source")
		p.PubType, _ = lookupFold(m.Fields, "pubtype")
		return p
	case KindBibtex:
		if m.Item == nil {
			return Patch{}
		}
		return Patch{
			Title:   m.Item.Title,
			Authors: m.Item.Authors,
			Date:    m.Item.Issued,
			Venue:   m.Item.ContainerTitle,
			PubType: m.Item.Type,
		}
	default:
		return Patch{}
	}
}

func lookupFold(fields map[string]string, name string) (string, bool) {
	if v, ok := fields[name]; ok && v != "" {
		return v, true
	}
	for k, v := range fields {
		if strings.EqualFold(strings.TrimSpace(k), name) && v != "" {
			return v, true
		}
	}
	return "", false
}

// lookupPresent is lookupFold without the emptiness check: a blank field still counts.
func lookupPresent(fields map[string]string, name string) (string, bool) {
	if v, ok := fields[name]; ok {
		return v, true
	}
	for k, v := range fields {
		if strings.EqualFold(strings.TrimSpace(k), name) {
			return v, true
		}
	}
	return "", false
}

// cslItem is the citation JSON shape returned by export endpoints.
type cslItem struct {
	ID             json.RawMessage `json:"id"`
	Type           string          `json:"type"`
	Title          string          `json:"title"`
	Author         []cslName       `json:"author"`
	Issued         cslDate         `json:"issued"`
	ContainerTitle string          `json:"container-title"`
	Abstract       *string         `json:"abstract"`
	DOI            string          `json:"DOI"`
}

type cslName struct {
	Family  string `json:"family"`
	Given   string `json:"given"`
	Literal string `json:"literal"`
}

type cslDate struct {
	DateParts [][]json.Number `json:"date-parts"`
	Raw       string          `json:"raw"`
}

// ParseBibtexItem decodes one export item keyed by key.
func ParseBibtexItem(key string, raw json.RawMessage) (BibtexItem, error) {
	var item cslItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return BibtexItem{}, fmt.Errorf("decode export item %s: %w", key, err)
	}
	names := make([]string, 0, len(item.Author))
	for _, a := range item.Author {
		switch {
		case a.Literal != "":
			names = append(names, a.Literal)
		case a.Given != "" && a.Family != "":
			names = append(names, a.Given+" "+a.Family)
		case a.Family != "":
			names = append(names, a.Family)
		}
	}
	var abstract string
	if item.Abstract != nil {
		abstract = *item.Abstract
	}
	return BibtexItem{
		Key:            key,
		Type:           item.Type,
		Title:          item.Title,
		Authors:        strings.Join(names, ", "),
		Issued:         item.Issued.String(),
		ContainerTitle: item.ContainerTitle,
		Abstract:       abstract,
		HasAbstract:    item.Abstract != nil,
		DOI:            item.DOI,
	}, nil
}

func (d cslDate) String() string {
	if len(d.DateParts) > 0 && len(d.DateParts[0]) > 0 {
		parts := make([]string, 0, len(d.DateParts[0]))
		for i, n := range d.DateParts[0] {
			v, err := n.Int64()
			if err != nil {
				parts = append(parts, n.String())
				continue
			}
			if i == 0 {
				parts = append(parts, strconv.FormatInt(v, 10))
			} else {
				parts = append(parts, fmt.Sprintf("%02d", v))
			}
		}
		return strings.Join(parts, "-")
	}
	return d.Raw
}
