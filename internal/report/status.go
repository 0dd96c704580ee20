package report

import (
	"io"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/aipriceaction/mirrorsync/internal/archive"
	"github.com/aipriceaction/mirrorsync/internal/mirror"
	"github.com/aipriceaction/mirrorsync/internal/model"
)

// Verdict compares the mirror's symbol count with the archive's file count
// for one interval.
type Verdict string

const (
	VerdictInSync      Verdict = "in_sync"
	VerdictMirrorOnly  Verdict = "mirror_only"
	VerdictArchiveOnly Verdict = "archive_only"
	VerdictOutOfSync   Verdict = "out_of_sync"
	VerdictEmpty       Verdict = "empty"
)

// IntervalStatus is the inventory of one interval on both sides.
type IntervalStatus struct {
	Interval      model.Interval `json:"interval" yaml:"interval"`
	MirrorSymbols int64          `json:"mirror_symbols" yaml:"mirror_symbols"`
	MirrorRecords int64          `json:"mirror_records" yaml:"mirror_records"`
	ArchiveFiles  int            `json:"archive_files" yaml:"archive_files"`
	ArchiveBytes  int64          `json:"archive_bytes" yaml:"archive_bytes"`
	Verdict       Verdict        `json:"verdict" yaml:"verdict"`
}

// DatasetStatus is the inventory of one dataset.
type DatasetStatus struct {
	Dataset      model.Dataset    `json:"dataset" yaml:"dataset"`
	Label        string           `json:"label" yaml:"label"`
	MirrorError  string           `json:"mirror_error,omitempty" yaml:"mirror_error,omitempty"`
	ArchiveError string           `json:"archive_error,omitempty" yaml:"archive_error,omitempty"`
	Intervals    []IntervalStatus `json:"intervals" yaml:"intervals"`
}

// StatusInput is what the status command gathered for one dataset. Either
// side may be missing, in which case its error is set.
type StatusInput struct {
	Dataset    model.Dataset
	Label      string
	Totals     map[model.Interval]mirror.IntervalTotals
	MirrorErr  error
	Inventory  map[model.Interval]archive.IntervalInventory
	ArchiveErr error
}

// BuildStatus computes per-interval verdicts for one dataset.
func BuildStatus(in StatusInput) DatasetStatus {
	ds := DatasetStatus{Dataset: in.Dataset, Label: in.Label}
	if in.MirrorErr != nil {
		ds.MirrorError = in.MirrorErr.Error()
	}
	if in.ArchiveErr != nil {
		ds.ArchiveError = in.ArchiveErr.Error()
	}
	for _, iv := range model.Intervals() {
		t := in.Totals[iv]
		inv := in.Inventory[iv]
		ds.Intervals = append(ds.Intervals, IntervalStatus{
			Interval:      iv,
			MirrorSymbols: t.Symbols,
			MirrorRecords: t.Records,
			ArchiveFiles:  inv.Files,
			ArchiveBytes:  inv.TotalBytes,
			Verdict:       verdict(t.Symbols, int64(inv.Files)),
		})
	}
	return ds
}

func verdict(mirrorSymbols, archiveFiles int64) Verdict {
	switch {
	case mirrorSymbols == 0 && archiveFiles == 0:
		return VerdictEmpty
	case archiveFiles == 0:
		return VerdictMirrorOnly
	case mirrorSymbols == 0:
		return VerdictArchiveOnly
	case mirrorSymbols == archiveFiles:
		return VerdictInSync
	default:
		return VerdictOutOfSync
	}
}

// DailyInSync reports whether every dataset's daily interval is in sync.
func DailyInSync(statuses []DatasetStatus) bool {
	for _, s := range statuses {
		for _, iv := range s.Intervals {
			if iv.Interval == model.Daily && iv.Verdict != VerdictInSync {
				return false
			}
		}
	}
	return len(statuses) > 0
}

// RenderStatus writes the inventory view with thousands separators.
func RenderStatus(out io.Writer, statuses []DatasetStatus) error {
	mp := message.NewPrinter(language.English)
	p := &printer{w: out}

	p.line(strings.Repeat("=", 60))
	p.line("MIRROR / ARCHIVE SYNC STATUS")
	p.line(strings.Repeat("=", 60))

	for _, s := range statuses {
		p.line("")
		p.line("%s (%s)", s.Label, s.Dataset)
		p.line(strings.Repeat("-", 40))

		p.line("Mirror:")
		if s.MirrorError != "" {
			p.line("  unavailable: %s", s.MirrorError)
		} else {
			for _, iv := range s.Intervals {
				if iv.MirrorRecords == 0 {
					p.line("  %s: no data", iv.Interval)
					continue
				}
				p.line("  %s", mp.Sprintf("%s: %d symbols, %d records", iv.Interval, iv.MirrorSymbols, iv.MirrorRecords))
			}
		}

		p.line("Archive:")
		if s.ArchiveError != "" {
			p.line("  unavailable: %s", s.ArchiveError)
		} else {
			for _, iv := range s.Intervals {
				if iv.ArchiveFiles == 0 {
					p.line("  %s: no files", iv.Interval)
					continue
				}
				mb := float64(iv.ArchiveBytes) / (1024 * 1024)
				p.line("  %s", mp.Sprintf("%s: %d files, %.1f MB total", iv.Interval, iv.ArchiveFiles, mb))
			}
		}

		p.line("Status:")
		for _, iv := range s.Intervals {
			p.line("  %s: %s", iv.Interval, describeVerdict(mp, iv))
		}
	}

	p.line("")
	if DailyInSync(statuses) {
		p.line("Daily data is fully synced between mirror and archive.")
	} else {
		p.line("Daily data sync issues detected.")
	}
	return p.err
}

func describeVerdict(mp *message.Printer, iv IntervalStatus) string {
	switch iv.Verdict {
	case VerdictInSync:
		return mp.Sprintf("IN SYNC (%d symbols)", iv.MirrorSymbols)
	case VerdictMirrorOnly:
		return mp.Sprintf("mirror only (%d symbols)", iv.MirrorSymbols)
	case VerdictArchiveOnly:
		return mp.Sprintf("archive only (%d symbols)", iv.ArchiveFiles)
	case VerdictOutOfSync:
		return mp.Sprintf("OUT OF SYNC (mirror: %d, archive: %d)", iv.MirrorSymbols, iv.ArchiveFiles)
	default:
		return "no data"
	}
}
