// Package reconcile classifies every series of a dataset by comparing what the
// archive and the mirror know about it.
package reconcile

import (
	"time"

	"github.com/aipriceaction/mirrorsync/internal/model"
)

// dailyToleranceDays is the allowed calendar-day drift between the archive
// and mirror latest dates of a daily series. It is not calendar-aware.
const dailyToleranceDays = 1

// CompareLatest classifies a series from the latest record on each side.
// A nil fact means the side has no data for the key. Absence always takes
// precedence over staleness.
func CompareLatest(key model.SeriesKey, archiveFact, mirrorFact *model.SeriesFact) model.Outcome {
	if o, ok := compareAbsence(key, archiveFact, mirrorFact); ok {
		return o
	}
	if archiveFact.Latest == nil || mirrorFact.Latest == nil {
		return model.InSync(key)
	}
	if drifted(key.Interval, *archiveFact.Latest, *mirrorFact.Latest) {
		return model.Outdated(key, *archiveFact.Latest, *mirrorFact.Latest)
	}
	return model.InSync(key)
}

// CompareFull classifies a series from aggregate facts. Every applicable
// mismatch is reported: record count, then earliest and latest calendar date
// independently. Date bounds are compared only when both sides carry them.
func CompareFull(key model.SeriesKey, archiveFact, mirrorFact *model.SeriesFact) []model.Outcome {
	if o, ok := compareAbsence(key, archiveFact, mirrorFact); ok {
		return []model.Outcome{o}
	}

	var out []model.Outcome
	if archiveFact.RecordCount != mirrorFact.RecordCount {
		out = append(out, model.CountMismatch(key, archiveFact.RecordCount, mirrorFact.RecordCount))
	}
	if a, m := archiveFact.Earliest, mirrorFact.Earliest; a != nil && m != nil && !sameDate(*a, *m) {
		out = append(out, model.DateRangeMismatch(key, model.FieldEarliest, *a, *m))
	}
	if a, m := archiveFact.Latest, mirrorFact.Latest; a != nil && m != nil && !sameDate(*a, *m) {
		out = append(out, model.DateRangeMismatch(key, model.FieldLatest, *a, *m))
	}
	if len(out) == 0 {
		return []model.Outcome{model.InSync(key)}
	}
	return out
}

func compareAbsence(key model.SeriesKey, archiveFact, mirrorFact *model.SeriesFact) (model.Outcome, bool) {
	switch {
	case archiveFact == nil && mirrorFact == nil:
		return model.InSync(key), true
	case mirrorFact == nil:
		return model.MissingFromMirror(key), true
	case archiveFact == nil:
		return model.MissingFromArchive(key), true
	}
	return model.Outcome{}, false
}

// drifted applies the per-interval staleness policy: daily series tolerate a
// one-day gap, intraday series must end on the same calendar date.
func drifted(iv model.Interval, archiveLatest, mirrorLatest time.Time) bool {
	if iv == model.Daily {
		return model.DaysBetween(archiveLatest, mirrorLatest) > dailyToleranceDays
	}
	return !sameDate(archiveLatest, mirrorLatest)
}

func sameDate(a, b time.Time) bool {
	return model.CivilDate(a).Equal(model.CivilDate(b))
}
