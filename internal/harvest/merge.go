package harvest

import (
	"errors"
	"fmt"

	"dario.cat/mergo"

	"github.com/JakeFAU/bibharvest/internal/metrics"
)

// MergeStats counts what Merge changed.
type MergeStats struct {
	Matched   int
	Abstracts int
	Fields    int
}

// Merge folds cached metadata into records in place. Every record whose DOI has an entry takes
// the entry's abstract; fields still holding the sentinel are filled from the entry when it
// knows them. Fields that were extracted are never overwritten.
func Merge(records []Record, metadata MetadataStore) (MergeStats, error) {
	var stats MergeStats
	for i := range records {
		r := &records[i]
		if !r.HasDOI() || !metadata.Has(r.DOI) {
			continue
		}
		m, err := metadata.Get(r.DOI)
		if err != nil {
			var knf *KeyNotFoundError
			if errors.As(err, &knf) {
				continue
			}
			return stats, fmt.Errorf("merge %s: %w", r.DOI, err)
		}
		stats.Matched++

		if abstract, ok := m.Abstract(); ok {
			if r.Abstract != abstract {
				stats.Abstracts++
				metrics.ObserveMergePatch("abstract")
			}
			r.Abstract = abstract
		}

		n, err := fillMissing(r, m.Patch())
		if err != nil {
			return stats, fmt.Errorf("merge %s: %w", r.DOI, err)
		}
		stats.Fields += n
	}
	return stats, nil
}

// fillMissing copies patch values into the sentinel fields of r and returns how many changed.
func fillMissing(r *Record, patch Patch) (int, error) {
	current := Patch{
		Title:   blankSentinel(r.Title),
		Authors: blankSentinel(r.Authors),
		Date:    blankSentinel(r.Date),
		Venue:   blankSentinel(r.Venue),
		PubType: blankSentinel(r.PubType),
	}
	before := current
	if err := mergo.Merge(&current, patch); err != nil {
		return 0, err
	}

	changed := 0
	apply := func(field string, was, now string, dst *string) {
		if was == "" && now != "" {
			*dst = now
			changed++
			metrics.ObserveMergePatch(field)
		}
	}
	apply("title", before.Title, current.Title, &r.Title)
	apply("authors", before.Authors, current.Authors, &r.Authors)
	apply("date", before.Date, current.Date, &r.Date)
	apply("venue", before.Venue, current.Venue, &r.Venue)
	apply("pubtype", before.PubType, current.PubType, &r.PubType)
	return changed, nil
}

func blankSentinel(v string) string {
	if v == Sentinel {
		return ""
	}
	return v
}
