// Package migrate groups mirror-missing series into per-interval batches and
// hands each batch to the external migration tool, one at a time.
package migrate

import (
	"path/filepath"
	"strings"

	"github.com/aipriceaction/mirrorsync/internal/archive"
	"github.com/aipriceaction/mirrorsync/internal/model"
	"github.com/aipriceaction/mirrorsync/internal/reconcile"
)

// BuildBatches groups the MissingFromMirror outcomes of a dataset result by
// interval. Each key lands in exactly one batch; batches follow interval
// order and keys within a batch are sorted.
func BuildBatches(res *reconcile.DatasetResult) []model.MigrationBatch {
	layout := archive.NewLayout(res.Dataset, res.ArchiveRoot)

	byInterval := make(map[model.Interval][]model.SeriesKey)
	seen := make(map[model.SeriesKey]bool)
	for _, o := range res.OutcomesOf(model.OutcomeMissingFromMirror) {
		if seen[o.Key] {
			continue
		}
		seen[o.Key] = true
		byInterval[o.Key.Interval] = append(byInterval[o.Key.Interval], o.Key)
	}

	var batches []model.MigrationBatch
	for _, iv := range model.Intervals() {
		keys := byInterval[iv]
		if len(keys) == 0 {
			continue
		}
		model.SortKeys(keys)

		paths := make([]string, len(keys))
		for i, k := range keys {
			paths[i] = layout.SeriesPath(k.Symbol, k.Interval)
		}
		batches = append(batches, model.MigrationBatch{
			Dataset:      res.Dataset,
			Interval:     iv,
			Keys:         keys,
			Paths:        paths,
			SourceDir:    commonParent(paths),
			TargetMirror: res.MirrorTarget,
		})
	}
	return batches
}

// commonParent returns the deepest directory containing every symbol
// directory of the given series files. For files laid out as
// <root>/<symbol>/<file> this is the dataset root.
func commonParent(paths []string) string {
	if len(paths) == 0 {
		return ""
	}
	dir := filepath.Dir(filepath.Dir(filepath.Clean(paths[0])))
	for _, p := range paths[1:] {
		symbolDir := filepath.Dir(filepath.Clean(p))
		for !within(symbolDir, dir) {
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}
	return dir
}

func within(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
