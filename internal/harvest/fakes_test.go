package harvest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string]string
	posts map[string]string
	calls []string
	fail  map[string]error
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		pages: map[string]string{},
		posts: map[string]string{},
		fail:  map[string]error{},
	}
}

func (f *fakeFetcher) Get(_ context.Context, url string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "GET "+url)
	if err, ok := f.fail[url]; ok {
		return "", err
	}
	body, ok := f.pages[url]
	if !ok {
		return "", &TransportError{Method: "GET", URL: url, StatusCode: 404}
	}
	return body, nil
}

func (f *fakeFetcher) PostForm(_ context.Context, url string, payload map[string]string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "FORM "+url+" "+payload["dois"])
	if err, ok := f.fail[url]; ok {
		return "", err
	}
	if body, ok := f.posts[url+" "+payload["dois"]]; ok {
		return body, nil
	}
	return f.posts[url], nil
}

func (f *fakeFetcher) PostJSON(_ context.Context, url string, payload any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	f.calls = append(f.calls, "JSON "+url+" "+string(encoded))
	if err, ok := f.fail[url]; ok {
		return "", err
	}
	return f.posts[url], nil
}

func (f *fakeFetcher) callsWithPrefix(prefix string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

type fakeMetadata struct {
	data     map[string]Metadata
	persists int
	failWith error
}

func newFakeMetadata() *fakeMetadata {
	return &fakeMetadata{data: map[string]Metadata{}}
}

func (m *fakeMetadata) Has(doi string) bool {
	if !IsKnownDOI(doi) {
		return false
	}
	_, ok := m.data[doi]
	return ok
}

func (m *fakeMetadata) Get(doi string) (Metadata, error) {
	v, ok := m.data[doi]
	if !ok {
		return Metadata{}, &KeyNotFoundError{Key: doi}
	}
	return v, nil
}

func (m *fakeMetadata) Put(doi string, v Metadata) (Metadata, error) {
	if !IsKnownDOI(doi) {
		return Metadata{}, ErrSentinelKey
	}
	if existing, ok := m.data[doi]; ok {
		return existing, nil
	}
	m.data[doi] = v
	return v, nil
}

func (m *fakeMetadata) Persist(context.Context) error {
	m.persists++
	return m.failWith
}

func (m *fakeMetadata) keys() []string {
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type item struct {
	title, authors, date, venue, doi, abstract string
}

// listingPage renders a search result page in the shape the test source selects from.
func listingPage(total int, items ...item) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<html><body><span class="hits">Showing %d results</span><ul>`, total)
	for _, it := range items {
		b.WriteString(`<li class="search__item">`)
		if it.title != "" {
			fmt.Fprintf(&b, `<h5 class="title"> %s </h5>`, it.title)
		}
		if it.authors != "" {
			fmt.Fprintf(&b, `<span class="authors">%s</span>`, it.authors)
		}
		if it.date != "" {
			fmt.Fprintf(&b, `<span class="date">%s</span>`, it.date)
		}
		if it.venue != "" {
			fmt.Fprintf(&b, `<span class="venue">%s</span>`, it.venue)
		}
		if it.doi != "" {
			fmt.Fprintf(&b, `<a class="doi">%s%s</a>`, DOIPrefix, it.doi)
		}
		if it.abstract != "" {
			fmt.Fprintf(&b, `<div class="abstract">%s</div>`, it.abstract)
		}
		b.WriteString(`</li>`)
	}
	b.WriteString(`</ul></body></html>`)
	return b.String()
}

func htmlSource() SourceDescription {
	return SourceDescription{
		Name:     "acm",
		Method:   MethodGetHTML,
		Site:     "https://dl.example.org/search",
		Query:    Query{Parts: []string{"q=rust", "page=PAGE"}},
		BibSite:  "https://dl.example.org/export",
		Count:    "span.hits",
		PageSize: 2,
		PageExp:  "PAGE",
		Selectors: Selectors{
			Title:    "h5.title",
			Authors:  "span.authors",
			Date:     "span.date",
			Source:   "span.venue",
			DOI:      "a.doi",
			Abstract: "div.abstract",
		},
	}
}

func csvSource() SourceDescription {
	return SourceDescription{
		Name:    "ieee",
		Method:  MethodPostCSV,
		Site:    "https://ieee.example.org/export",
		Initial: "https://ieee.example.org/search",
		Query:   Query{Payload: map[string]any{"queryText": "rust", "rowsPerPage": 100}},
		Columns: Selectors{
			Title:    "Document Title",
			Authors:  "Authors",
			Date:     "Publication Year",
			Source:   "Publication Title",
			DOI:      "DOI",
			Abstract: "Abstract",
		},
	}
}
