package archive

import (
	"encoding/csv"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/aipriceaction/mirrorsync/internal/model"
)

// Column positions of an archive data row.
const (
	colSymbol    = 0
	colTimestamp = 1
	colClose     = 5
	colVolume    = 6
	minFields    = 7
)

// Layouts accepted per interval. Intraday files carry both the T-separated and
// the space-separated form depending on which downloader wrote them; both stay
// supported.
var timestampLayouts = map[model.Interval][]string{
	model.Daily:  {time.DateOnly},
	model.Hourly: {"2006-01-02T15:04:05", time.DateTime},
	model.Minute: {"2006-01-02T15:04:05", time.DateTime},
}

// ParseTimestamp parses raw with the layouts registered for iv.
func ParseTimestamp(iv model.Interval, raw string) (time.Time, error) {
	layouts, ok := timestampLayouts[iv]
	if !ok {
		return time.Time{}, eris.Wrapf(ErrMalformedRecord, "archive: no timestamp layout for interval %q", iv)
	}
	raw = strings.TrimSpace(raw)
	for _, layout := range layouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, eris.Wrapf(ErrMalformedRecord, "archive: timestamp %q does not match %s layout", raw, iv.Name())
}

// ParseRecord converts one archive line into a SyncRecord. Any failure is
// reported as ErrMalformedRecord; no partially parsed record is returned.
func ParseRecord(line string, iv model.Interval) (model.SyncRecord, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	row, err := r.Read()
	if err != nil {
		return model.SyncRecord{}, eris.Wrapf(ErrMalformedRecord, "archive: read line %q: %v", line, err)
	}
	if len(row) < minFields {
		return model.SyncRecord{}, eris.Wrapf(ErrMalformedRecord, "archive: %d fields, want at least %d", len(row), minFields)
	}

	ts, err := ParseTimestamp(iv, row[colTimestamp])
	if err != nil {
		return model.SyncRecord{}, err
	}

	closePrice := 0.0
	if s := strings.TrimSpace(row[colClose]); s != "" {
		closePrice, err = strconv.ParseFloat(s, 64)
		if err != nil {
			return model.SyncRecord{}, eris.Wrapf(ErrMalformedRecord, "archive: close %q", s)
		}
	}

	var volume int64
	if s := strings.TrimSpace(row[colVolume]); s != "" {
		volume, err = strconv.ParseInt(s, 10, 64)
		if err != nil {
			return model.SyncRecord{}, eris.Wrapf(ErrMalformedRecord, "archive: volume %q", s)
		}
		if volume < 0 {
			return model.SyncRecord{}, eris.Wrapf(ErrMalformedRecord, "archive: negative volume %d", volume)
		}
	}

	return model.SyncRecord{
		Symbol:       strings.TrimSpace(row[colSymbol]),
		Interval:     iv,
		TimestampRaw: strings.TrimSpace(row[colTimestamp]),
		Timestamp:    ts,
		Close:        closePrice,
		Volume:       volume,
	}, nil
}
