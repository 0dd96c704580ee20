package report

import (
	"sort"

	"github.com/aipriceaction/mirrorsync/internal/model"
)

type itemKey struct {
	key  model.SeriesKey
	text string
}

// listing sorts items by series key then text and keeps the first max.
func listing(items []itemKey, max int) Listing {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].key != items[j].key {
			return items[i].key.Less(items[j].key)
		}
		return items[i].text < items[j].text
	})

	l := Listing{Total: len(items)}
	for i, it := range items {
		if i == max {
			l.Remaining = len(items) - max
			break
		}
		l.Items = append(l.Items, formatItem(it))
	}
	return l
}

func formatItem(it itemKey) string {
	if it.key.Symbol == "" {
		return it.text
	}
	return it.key.String() + ": " + it.text
}
