package harvest

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeOverwritesAbstractAndFillsSentinels(t *testing.T) {
	t.Parallel()

	md := newFakeMetadata()
	_, err := md.Put("10.1/a", BibtexMetadata(BibtexItem{
		Key:            "10.1/a",
		Type:           "paper-conference",
		Title:          "Export title",
		Authors:        "J Doe",
		Issued:         "2020-06-14",
		ContainerTitle: "PLDI",
		Abstract:       "Full abstract",
	}))
	require.NoError(t, err)

	records := []Record{
		{Index: 0, Title: "Listing title", Authors: Sentinel, Date: "2020", Venue: Sentinel, DOI: "10.1/a", Bibsource: "acm", PubType: Sentinel, Abstract: "Snippet"},
		{Index: 1, Title: "No DOI", Authors: Sentinel, Date: Sentinel, Venue: Sentinel, DOI: Sentinel, Bibsource: "acm", PubType: Sentinel, Abstract: Sentinel},
		{Index: 2, Title: "Unknown", Authors: "X", Date: "2019", Venue: "V", DOI: "10.1/zzz", Bibsource: "acm", PubType: Sentinel, Abstract: Sentinel},
	}
	stats, err := Merge(records, md)
	require.NoError(t, err)

	want := []Record{
		{Index: 0, Title: "Listing title", Authors: "J Doe", Date: "2020", Venue: "PLDI", DOI: "10.1/a", Bibsource: "acm", PubType: "paper-conference", Abstract: "Full abstract"},
		{Index: 1, Title: "No DOI", Authors: Sentinel, Date: Sentinel, Venue: Sentinel, DOI: Sentinel, Bibsource: "acm", PubType: Sentinel, Abstract: Sentinel},
		{Index: 2, Title: "Unknown", Authors: "X", Date: "2019", Venue: "V", DOI: "10.1/zzz", Bibsource: "acm", PubType: Sentinel, Abstract: Sentinel},
	}
	if diff := cmp.Diff(want, records); diff != "" {
		t.Fatalf("merged records mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, MergeStats{Matched: 1, Abstracts: 1, Fields: 3}, stats)
}

func TestMergeIgnoresSentinelMetadata(t *testing.T) {
	t.Parallel()

	md := newFakeMetadata()
	md.data[Sentinel] = RawMetadata(map[string]string{"abstract": "must not leak"})

	records := []Record{{DOI: Sentinel, Abstract: Sentinel}, {DOI: Sentinel, Abstract: "own"}}
	stats, err := Merge(records, md)
	require.NoError(t, err)
	assert.Equal(t, Sentinel, records[0].Abstract)
	assert.Equal(t, "own", records[1].Abstract)
	assert.Zero(t, stats.Matched)
}

func TestMergeIsIdempotent(t *testing.T) {
	t.Parallel()

	md := newFakeMetadata()
	_, err := md.Put("10.1/a", RawMetadata(map[string]string{"Abstract": "Row abstract", "title": "Row title"}))
	require.NoError(t, err)

	records := []Record{{DOI: "10.1/a", Title: Sentinel, Abstract: Sentinel}}
	_, err = Merge(records, md)
	require.NoError(t, err)
	once := append([]Record(nil), records...)

	stats, err := Merge(records, md)
	require.NoError(t, err)
	assert.Equal(t, once, records)
	assert.Equal(t, "Row abstract", records[0].Abstract)
	assert.Equal(t, "Row title", records[0].Title)
	assert.Zero(t, stats.Abstracts)
	assert.Zero(t, stats.Fields)
}

func TestMergeKeepsAbstractWhenEntryHasNone(t *testing.T) {
	t.Parallel()

	md := newFakeMetadata()
	_, err := md.Put("10.1/a", BibtexMetadata(BibtexItem{Key: "10.1/a", Title: "T"}))
	require.NoError(t, err)

	records := []Record{{DOI: "10.1/a", Title: "Mine", Abstract: "Scraped"}}
	_, err = Merge(records, md)
	require.NoError(t, err)
	assert.Equal(t, "Scraped", records[0].Abstract)
	assert.Equal(t, "Mine", records[0].Title)
}

func TestMergeOverwritesWithEmptyAbstractWhenFieldPresent(t *testing.T) {
	t.Parallel()

	present, err := ParseBibtexItem("10.1/a", []byte(`{"type":"article","abstract":""}`))
	require.NoError(t, err)
	assert.True(t, present.HasAbstract)
	absent, err := ParseBibtexItem("10.1/b", []byte(`{"type":"article"}`))
	require.NoError(t, err)
	assert.False(t, absent.HasAbstract)

	md := newFakeMetadata()
	_, err = md.Put("10.1/a", BibtexMetadata(present))
	require.NoError(t, err)
	_, err = md.Put("10.1/b", BibtexMetadata(absent))
	require.NoError(t, err)
	_, err = md.Put("10.1/c", RawMetadata(map[string]string{"Abstract": "", "Title": "Row"}))
	require.NoError(t, err)

	records := []Record{
		{DOI: "10.1/a", Abstract: "Scraped a"},
		{DOI: "10.1/b", Abstract: "Scraped b"},
		{DOI: "10.1/c", Abstract: "Scraped c"},
	}
	stats, err := Merge(records, md)
	require.NoError(t, err)
	assert.Equal(t, "", records[0].Abstract)
	assert.Equal(t, "Scraped b", records[1].Abstract)
	assert.Equal(t, "", records[2].Abstract)
	assert.Equal(t, 2, stats.Abstracts)
}
