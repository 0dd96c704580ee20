package mirror

import (
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/aipriceaction/mirrorsync/internal/model"
)

// zoneSuffix matches a trailing "Z", "+hh:mm", "+hhmm" or "+hh" offset.
var zoneSuffix = regexp.MustCompile(`(?:[Zz]|[+-]\d{2}(?::?\d{2})?)$`)

var mirrorLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	time.DateOnly,
}

// NormalizeTimestamp parses a mirror timestamp into a zone-less UTC value.
// Any offset suffix is dropped without shifting the wall-clock fields, so
// "2024-06-10T00:00:00+07:00" and "2024-06-10 00:00:00" compare equal.
func NormalizeTimestamp(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if len(s) > len(time.DateOnly) {
		head, tail := s[:len(time.DateOnly)], s[len(time.DateOnly):]
		s = head + zoneSuffix.ReplaceAllString(tail, "")
	}
	for _, layout := range mirrorLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, eris.Errorf("mirror: unrecognized timestamp %q", raw)
}

func latestFact(symbol string, iv model.Interval, raw string, closePx float64, volume int64) (*model.SeriesFact, error) {
	ts, err := NormalizeTimestamp(raw)
	if err != nil {
		return nil, eris.Wrapf(err, "mirror: latest %s/%s", symbol, iv)
	}
	return &model.SeriesFact{
		RecordCount: 1,
		Latest:      &ts,
		Close:       closePx,
		Volume:      volume,
	}, nil
}

func summaryFact(key model.SeriesKey, count int64, minRaw, maxRaw string) (model.SeriesFact, error) {
	fact := model.SeriesFact{RecordCount: count}
	if minRaw != "" {
		t, err := NormalizeTimestamp(minRaw)
		if err != nil {
			return fact, eris.Wrapf(err, "mirror: summary %s", key)
		}
		fact.Earliest = &t
	}
	if maxRaw != "" {
		t, err := NormalizeTimestamp(maxRaw)
		if err != nil {
			return fact, eris.Wrapf(err, "mirror: summary %s", key)
		}
		fact.Latest = &t
	}
	return fact, nil
}
