package archive

import (
	"context"
	"errors"
	"io/fs"
	"os"

	"github.com/rotisserie/eris"

	"github.com/aipriceaction/mirrorsync/internal/model"
)

// AggregateResult is the full-verification fact for one archive file.
type AggregateResult struct {
	Fact model.SeriesFact
	// SkippedTimestamps counts rows whose timestamp did not parse. Those rows
	// are included in RecordCount but not in the date bounds.
	SkippedTimestamps int
	// FirstBadTimestamp is the first unparsable timestamp seen, for diagnostics.
	FirstBadTimestamp string
	// MalformedRows counts lines that were not valid CSV. They are still
	// counted and bounded when their timestamp field parses.
	MalformedRows int
	// FirstMalformedLine is the line number of the first malformed row.
	FirstMalformedLine int
}

// Aggregate streams the file once and returns its row count and timestamp
// bounds. Only the running aggregates are kept in memory.
func Aggregate(ctx context.Context, path string, iv model.Interval) (*AggregateResult, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, eris.Wrapf(ErrSeriesAbsent, "archive: open %s", path)
		}
		return nil, eris.Wrapf(err, "archive: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	rowCh, errCh := StreamRows(ctx, f, StreamOptions{SkipHeader: true})

	res := &AggregateResult{}
	for r := range rowCh {
		row := r.Fields
		if len(row) < 2 {
			continue
		}
		if r.Malformed {
			if res.MalformedRows == 0 {
				res.FirstMalformedLine = r.Line
			}
			res.MalformedRows++
		}
		res.Fact.RecordCount++

		ts, err := ParseTimestamp(iv, row[colTimestamp])
		if err != nil {
			if res.SkippedTimestamps == 0 {
				res.FirstBadTimestamp = row[colTimestamp]
			}
			res.SkippedTimestamps++
			continue
		}

		if res.Fact.Earliest == nil || ts.Before(*res.Fact.Earliest) {
			t := ts
			res.Fact.Earliest = &t
		}
		if res.Fact.Latest == nil || ts.After(*res.Fact.Latest) {
			t := ts
			res.Fact.Latest = &t
		}
	}

	for err := range errCh {
		if err != nil {
			return nil, eris.Wrapf(err, "archive: aggregate %s", path)
		}
	}
	return res, nil
}
