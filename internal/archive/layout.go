// Package archive reads the per-symbol CSV archive: latest-line tail reads,
// single-pass aggregates, and record parsing.
package archive

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/aipriceaction/mirrorsync/internal/model"
)

var (
	// ErrSeriesAbsent means the symbol has no file for the interval. Expected, not an error condition.
	ErrSeriesAbsent = eris.New("archive: series absent")
	// ErrNoDataFound means the file exists but holds no data line.
	ErrNoDataFound = eris.New("archive: no data found")
	// ErrMalformedRecord means a data line could not be parsed.
	ErrMalformedRecord = eris.New("archive: malformed record")
	// ErrArchiveUnavailable means the dataset root directory does not exist.
	ErrArchiveUnavailable = eris.New("archive: dataset directory not found")
)

// excludedDirs are sub-directories of a dataset root that never hold symbols.
var excludedDirs = map[string]bool{
	"archive": true,
}

// Series is one archive file for a symbol and interval.
type Series struct {
	Key  model.SeriesKey
	Path string
}

// Filter narrows discovery to a symbol and/or interval. Zero values match all.
type Filter struct {
	Symbol   string
	Interval model.Interval
}

// Layout resolves series files under a dataset root laid out as
// <root>/<symbol>/<interval-file>.
type Layout struct {
	Dataset model.Dataset
	Root    string
}

// NewLayout creates a Layout for the dataset rooted at root.
func NewLayout(ds model.Dataset, root string) *Layout {
	return &Layout{Dataset: ds, Root: root}
}

// SeriesPath returns the file path for a symbol and interval.
func (l *Layout) SeriesPath(symbol string, iv model.Interval) string {
	return filepath.Join(l.Root, symbol, iv.FileName())
}

// Symbols lists the symbol directories under the root, sorted.
func (l *Layout) Symbols() ([]string, error) {
	entries, err := os.ReadDir(l.Root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, eris.Wrapf(ErrArchiveUnavailable, "archive: read %s", l.Root)
		}
		return nil, eris.Wrapf(err, "archive: read %s", l.Root)
	}

	var symbols []string
	for _, e := range entries {
		if !e.IsDir() || excludedDirs[e.Name()] {
			continue
		}
		symbols = append(symbols, e.Name())
	}
	sort.Strings(symbols)
	return symbols, nil
}

// Discover returns every existing series file matching the filter, ordered by
// symbol then interval.
func (l *Layout) Discover(f Filter) ([]Series, error) {
	var symbols []string
	if f.Symbol != "" {
		if _, err := os.Stat(l.Root); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, eris.Wrapf(ErrArchiveUnavailable, "archive: stat %s", l.Root)
			}
			return nil, eris.Wrapf(err, "archive: stat %s", l.Root)
		}
		symbols = []string{f.Symbol}
	} else {
		var err error
		symbols, err = l.Symbols()
		if err != nil {
			return nil, err
		}
	}

	intervals := model.Intervals()
	if f.Interval != "" {
		intervals = []model.Interval{f.Interval}
	}

	var out []Series
	for _, sym := range symbols {
		for _, iv := range intervals {
			path := l.SeriesPath(sym, iv)
			info, err := os.Stat(path)
			if err != nil || info.IsDir() {
				continue
			}
			out = append(out, Series{
				Key:  model.SeriesKey{Dataset: l.Dataset, Symbol: sym, Interval: iv},
				Path: path,
			})
		}
	}
	return out, nil
}

// IntervalInventory counts the files and bytes stored for one interval.
type IntervalInventory struct {
	Files      int   `json:"files"`
	TotalBytes int64 `json:"total_bytes"`
}

// Inventory sums file counts and sizes per interval across all symbols.
func (l *Layout) Inventory() (map[model.Interval]IntervalInventory, error) {
	symbols, err := l.Symbols()
	if err != nil {
		return nil, err
	}

	inv := make(map[model.Interval]IntervalInventory, len(model.Intervals()))
	for _, iv := range model.Intervals() {
		var item IntervalInventory
		for _, sym := range symbols {
			info, err := os.Stat(l.SeriesPath(sym, iv))
			if err != nil || info.IsDir() {
				continue
			}
			item.Files++
			item.TotalBytes += info.Size()
		}
		inv[iv] = item
	}
	return inv, nil
}
