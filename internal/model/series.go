package model

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Dataset identifies one of the two archive/mirror pairs.
type Dataset string

const (
	DatasetPrimary   Dataset = "primary"
	DatasetSecondary Dataset = "secondary"
)

// Datasets returns both datasets in reporting order.
func Datasets() []Dataset {
	return []Dataset{DatasetPrimary, DatasetSecondary}
}

// ParseDataset converts a flag value into a Dataset.
func ParseDataset(s string) (Dataset, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "primary", "vn":
		return DatasetPrimary, nil
	case "secondary", "crypto":
		return DatasetSecondary, nil
	default:
		return "", eris.Errorf("unknown dataset: %q (valid: primary, secondary)", s)
	}
}

// Interval is the sampling interval of a series. The underlying value is the
// code stored in the mirror's interval column.
type Interval string

const (
	Daily  Interval = "1D"
	Hourly Interval = "1H"
	Minute Interval = "1m"
)

// Intervals returns all intervals in their fixed order.
func Intervals() []Interval {
	return []Interval{Daily, Hourly, Minute}
}

// FileName returns the archive file name holding this interval's series.
func (i Interval) FileName() string {
	switch i {
	case Daily:
		return "1D.csv"
	case Hourly:
		return "1h.csv"
	case Minute:
		return "1m.csv"
	default:
		return ""
	}
}

// MigrationToken returns the --interval value understood by the migration tool.
func (i Interval) MigrationToken() string {
	switch i {
	case Daily:
		return "1D"
	case Hourly:
		return "1h"
	case Minute:
		return "1m"
	default:
		return ""
	}
}

// Name returns the human-readable interval name.
func (i Interval) Name() string {
	switch i {
	case Daily:
		return "daily"
	case Hourly:
		return "hourly"
	case Minute:
		return "minute"
	default:
		return "unknown"
	}
}

// Order returns the position of the interval in Intervals(), or -1.
func (i Interval) Order() int {
	for n, iv := range Intervals() {
		if iv == i {
			return n
		}
	}
	return -1
}

// Valid reports whether i is one of the known intervals.
func (i Interval) Valid() bool {
	return i.Order() >= 0
}

// ParseInterval accepts mirror codes ("1D", "1H", "1m"), migration tokens
// ("1h"), and names ("daily", "hourly", "minute").
func ParseInterval(s string) (Interval, error) {
	s = strings.TrimSpace(s)
	switch s {
	case "1D", "1d":
		return Daily, nil
	case "1H", "1h":
		return Hourly, nil
	case "1m":
		return Minute, nil
	}
	switch strings.ToLower(s) {
	case "daily":
		return Daily, nil
	case "hourly":
		return Hourly, nil
	case "minute":
		return Minute, nil
	}
	return "", eris.Errorf("unknown interval: %q (valid: 1D, 1H, 1m)", s)
}

// SeriesKey uniquely identifies one logical time series.
type SeriesKey struct {
	Dataset  Dataset  `json:"dataset" yaml:"dataset"`
	Symbol   string   `json:"symbol" yaml:"symbol"`
	Interval Interval `json:"interval" yaml:"interval"`
}

// String renders the key as SYMBOL/INTERVAL.
func (k SeriesKey) String() string {
	return fmt.Sprintf("%s/%s", k.Symbol, k.Interval)
}

// Less orders keys by dataset, symbol, then interval order.
func (k SeriesKey) Less(o SeriesKey) bool {
	if k.Dataset != o.Dataset {
		return k.Dataset < o.Dataset
	}
	if k.Symbol != o.Symbol {
		return k.Symbol < o.Symbol
	}
	return k.Interval.Order() < o.Interval.Order()
}

// SeriesFact is what one side (archive or mirror) knows about a series.
// Latest-check facts carry only Latest, Close and Volume.
type SeriesFact struct {
	RecordCount int64      `json:"record_count"`
	Earliest    *time.Time `json:"earliest,omitempty"`
	Latest      *time.Time `json:"latest,omitempty"`
	Close       float64    `json:"close"`
	Volume      int64      `json:"volume"`
}

// SyncRecord is one parsed archive data row.
type SyncRecord struct {
	Symbol       string    `json:"symbol"`
	Interval     Interval  `json:"interval"`
	TimestampRaw string    `json:"timestamp_raw"`
	Timestamp    time.Time `json:"timestamp"`
	Close        float64   `json:"close"`
	Volume       int64     `json:"volume"`
}

// Fact converts the record into a latest-check fact.
func (r SyncRecord) Fact() SeriesFact {
	ts := r.Timestamp
	return SeriesFact{
		RecordCount: 1,
		Latest:      &ts,
		Close:       r.Close,
		Volume:      r.Volume,
	}
}

// CivilDate truncates t to its calendar date, ignoring any location offset.
func CivilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the absolute number of calendar days between a and b.
func DaysBetween(a, b time.Time) int {
	diff := CivilDate(a).Sub(CivilDate(b))
	if diff < 0 {
		diff = -diff
	}
	return int(diff / (24 * time.Hour))
}

// SortKeys sorts keys in place by Less.
func SortKeys(keys []SeriesKey) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
}
