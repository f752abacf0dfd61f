package harvest

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/bibharvest/internal/htmlquery"
)

func TestPageURL(t *testing.T) {
	t.Parallel()

	src := htmlSource()
	base := BaseURL(src)
	assert.Equal(t, "https://dl.example.org/search?q=rust&page=PAGE", base)
	assert.Equal(t, "https://dl.example.org/search?q=rust&page=0", PageURL(src, base, 0))
	assert.Equal(t, "https://dl.example.org/search?q=rust&page=2", PageURL(src, base, 4))

	src.PageUnit = PageUnitOffset
	src.PageStart = "start="
	src.Query.Parts = []string{"q=rust", "PAGE"}
	base = BaseURL(src)
	assert.Equal(t, "https://dl.example.org/search?q=rust&start=40", PageURL(src, base, 40))
}

func TestParseCount(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		html    string
		want    int
		wantErr bool
	}{
		{name: "plain", html: `<span class="hits">42</span>`, want: 42},
		{name: "thousands separator", html: `<span class="hits">1,234 Results</span>`, want: 1234},
		{name: "no digits", html: `<span class="hits">none</span>`, wantErr: true},
		{name: "missing", html: `<div></div>`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			doc, err := htmlquery.Parse(tt.html)
			require.NoError(t, err)
			got, err := ParseCount(doc, "span.hits")
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractPageUsesSentinelForMissingFields(t *testing.T) {
	t.Parallel()

	page := listingPage(3,
		item{title: "Ownership", authors: "A. Author", date: "2021", venue: "PLDI", doi: "10.1/a"},
		item{title: "Borrowing"},
	)
	got, err := ExtractPage(htmlSource(), page, 4)
	require.NoError(t, err)

	want := []Record{
		{Index: 4, Title: "Ownership", Authors: "A. Author", Date: "2021", Venue: "PLDI", DOI: "10.1/a", Bibsource: "acm", PubType: Sentinel, Abstract: Sentinel},
		{Index: 5, Title: "Borrowing", Authors: Sentinel, Date: Sentinel, Venue: Sentinel, DOI: Sentinel, Bibsource: "acm", PubType: Sentinel, Abstract: Sentinel},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("records mismatch (-want +got):\n%s", diff)
	}
}

func TestMissingDOIsSkipsKnownSentinelAndDuplicates(t *testing.T) {
	t.Parallel()

	md := newFakeMetadata()
	_, err := md.Put("10.1/known", RawMetadata(nil))
	require.NoError(t, err)

	batch := []Record{{DOI: "10.1/a"}, {DOI: Sentinel}, {DOI: "10.1/known"}, {DOI: "10.1/a"}, {DOI: "10.1/b"}}
	assert.Equal(t, []string{"10.1/a", "10.1/b"}, MissingDOIs(batch, md))
}

func TestHTMLScraperHarvestsEveryPageAndEnriches(t *testing.T) {
	t.Parallel()

	src := htmlSource()
	f := newFakeFetcher()
	f.pages["https://dl.example.org/search?q=rust&page=0"] = listingPage(3,
		item{title: "T0", doi: "10.1/a"},
		item{title: "T1"},
	)
	f.pages["https://dl.example.org/search?q=rust&page=1"] = listingPage(3,
		item{title: "T2", doi: "10.1/c"},
	)
	f.posts[src.BibSite+" 10.1/a"] = `{"items":[{"10.1/a":{"type":"article","title":"Full A","abstract":"Abstract A"}}]}`
	f.posts[src.BibSite+" 10.1/c"] = `{"items":[{"10.1/c":{"type":"article","title":"Full C","abstract":"Abstract C"}}]}`
	md := newFakeMetadata()

	records, err := NewHTMLScraper(f, md, nil).Harvest(context.Background(), src)
	require.NoError(t, err)

	require.Len(t, records, 3)
	for i, r := range records {
		assert.Equal(t, i, r.Index)
		assert.Equal(t, "acm", r.Bibsource)
	}
	assert.Equal(t, Sentinel, records[1].DOI)
	assert.Equal(t, []string{
		"FORM https://dl.example.org/export 10.1/a",
		"FORM https://dl.example.org/export 10.1/c",
	}, f.callsWithPrefix("FORM"))
	assert.Equal(t, []string{"10.1/a", "10.1/c"}, md.keys())
	assert.Zero(t, md.persists, "strategies leave persistence to the orchestrator")
}

func TestHTMLScraperSkipsEnrichmentWhenEveryDOIIsKnown(t *testing.T) {
	t.Parallel()

	src := htmlSource()
	f := newFakeFetcher()
	f.pages["https://dl.example.org/search?q=rust&page=0"] = listingPage(1, item{title: "T0", doi: "10.1/a"})
	md := newFakeMetadata()
	_, err := md.Put("10.1/a", RawMetadata(map[string]string{"abstract": "cached"}))
	require.NoError(t, err)

	_, err = NewHTMLScraper(f, md, nil).Harvest(context.Background(), src)
	require.NoError(t, err)
	assert.Empty(t, f.callsWithPrefix("FORM"))
}

func TestHTMLScraperSkipsMalformedExportItems(t *testing.T) {
	t.Parallel()

	src := htmlSource()
	f := newFakeFetcher()
	f.pages["https://dl.example.org/search?q=rust&page=0"] = listingPage(2,
		item{title: "T0", doi: "10.1/a"},
		item{title: "T1", doi: "10.1/b"},
	)
	f.posts[src.BibSite] = `{"items":[{"10.1/a":"not an object"},{"10.1/b":{"title":"B"}}]}`
	md := newFakeMetadata()

	_, err := NewHTMLScraper(f, md, nil).Harvest(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, []string{"10.1/b"}, md.keys())
}

func TestHTMLScraperStopsOnTransportError(t *testing.T) {
	t.Parallel()

	src := htmlSource()
	f := newFakeFetcher()
	f.pages["https://dl.example.org/search?q=rust&page=0"] = listingPage(4, item{title: "T0"}, item{title: "T1"})
	boom := errors.New("connection reset")
	f.fail["https://dl.example.org/search?q=rust&page=1"] = boom

	records, err := NewHTMLScraper(f, newFakeMetadata(), nil).Harvest(context.Background(), src)
	require.ErrorIs(t, err, boom)
	assert.Nil(t, records)
}

func TestHTMLScraperRequiresPageToken(t *testing.T) {
	t.Parallel()

	src := htmlSource()
	src.Query.Parts = []string{"q=rust"}
	_, err := NewHTMLScraper(newFakeFetcher(), newFakeMetadata(), nil).Harvest(context.Background(), src)
	require.ErrorContains(t, err, "page token")
}
