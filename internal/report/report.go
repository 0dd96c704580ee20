// Package report turns run results into bounded, deterministic summaries.
package report

import (
	"fmt"
	"time"

	"github.com/aipriceaction/mirrorsync/internal/model"
	"github.com/aipriceaction/mirrorsync/internal/reconcile"
)

// DefaultMaxItems is the head length of every itemized listing.
const DefaultMaxItems = 10

// IntervalCounts tallies distinct series per classification for one interval.
type IntervalCounts struct {
	Interval model.Interval `json:"interval" yaml:"interval"`
	InSync   int            `json:"in_sync" yaml:"in_sync"`
	Stale    int            `json:"stale" yaml:"stale"`
	Missing  int            `json:"missing" yaml:"missing"`
	Orphaned int            `json:"orphaned" yaml:"orphaned"`
	Resolved int            `json:"resolved" yaml:"resolved"`
}

// Listing is a sorted head of items plus the count of items left out.
type Listing struct {
	Total     int      `json:"total" yaml:"total"`
	Items     []string `json:"items,omitempty" yaml:"items,omitempty"`
	Remaining int      `json:"remaining,omitempty" yaml:"remaining,omitempty"`
}

// Migration summarizes one dispatched batch.
type Migration struct {
	Interval model.Interval        `json:"interval" yaml:"interval"`
	Status   model.MigrationStatus `json:"status" yaml:"status"`
	Series   int                   `json:"series" yaml:"series"`
	Elapsed  string                `json:"elapsed" yaml:"elapsed"`
	Error    string                `json:"error,omitempty" yaml:"error,omitempty"`
}

// Dataset is the report section for one dataset.
type Dataset struct {
	Dataset    model.Dataset    `json:"dataset" yaml:"dataset"`
	Label      string           `json:"label" yaml:"label"`
	Checked    int              `json:"checked" yaml:"checked"`
	Error      string           `json:"error,omitempty" yaml:"error,omitempty"`
	Cancelled  bool             `json:"cancelled,omitempty" yaml:"cancelled,omitempty"`
	Clean      bool             `json:"clean" yaml:"clean"`
	Intervals  []IntervalCounts `json:"intervals" yaml:"intervals"`
	Missing    Listing          `json:"missing" yaml:"missing"`
	Stale      Listing          `json:"stale" yaml:"stale"`
	Orphaned   Listing          `json:"orphaned" yaml:"orphaned"`
	Warnings   Listing          `json:"warnings" yaml:"warnings"`
	Migrations []Migration      `json:"migrations,omitempty" yaml:"migrations,omitempty"`
}

// Report is the rendered view of a reconcile.Run.
type Report struct {
	RunID     string         `json:"run_id" yaml:"run_id"`
	Mode      reconcile.Mode `json:"mode" yaml:"mode"`
	StartedAt time.Time      `json:"started_at" yaml:"started_at"`
	Elapsed   string         `json:"elapsed,omitempty" yaml:"elapsed,omitempty"`
	Clean     bool           `json:"clean" yaml:"clean"`
	Datasets  []Dataset      `json:"datasets" yaml:"datasets"`
}

// Build summarizes run. maxItems <= 0 uses DefaultMaxItems.
func Build(run *reconcile.Run, maxItems int) *Report {
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}
	r := &Report{
		RunID:     run.ID,
		Mode:      run.Mode,
		StartedAt: run.StartedAt,
		Clean:     run.Clean(),
	}
	if !run.FinishedAt.IsZero() {
		r.Elapsed = run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond).String()
	}
	for _, d := range run.Datasets {
		r.Datasets = append(r.Datasets, buildDataset(d, maxItems))
	}
	return r
}

func buildDataset(d *reconcile.DatasetResult, maxItems int) Dataset {
	resolved := resolvedKeys(d.Migrations)

	out := Dataset{
		Dataset:   d.Dataset,
		Label:     d.Label,
		Checked:   d.Checked,
		Error:     d.ErrText(),
		Cancelled: d.Cancelled,
		Clean:     d.Clean(),
	}

	tallies := make(map[model.Interval]*tally)
	for _, iv := range model.Intervals() {
		tallies[iv] = newTally()
	}

	var missing, stale, orphaned []itemKey
	for _, o := range d.Outcomes {
		t, ok := tallies[o.Key.Interval]
		if !ok {
			continue
		}
		switch {
		case o.Kind == model.OutcomeInSync:
			t.inSync[o.Key] = struct{}{}
		case o.Kind == model.OutcomeMissingFromMirror:
			t.missing[o.Key] = struct{}{}
			text := o.Describe()
			if resolved[o.Key] {
				t.resolved[o.Key] = struct{}{}
				text += " (resolved)"
			}
			missing = append(missing, itemKey{o.Key, text})
		case o.Kind == model.OutcomeMissingFromArchive:
			t.orphaned[o.Key] = struct{}{}
			orphaned = append(orphaned, itemKey{o.Key, o.Describe()})
		case o.Kind.Stale():
			t.stale[o.Key] = struct{}{}
			stale = append(stale, itemKey{o.Key, o.Describe()})
		}
	}

	for _, iv := range model.Intervals() {
		t := tallies[iv]
		out.Intervals = append(out.Intervals, IntervalCounts{
			Interval: iv,
			InSync:   len(t.inSync),
			Stale:    len(t.stale),
			Missing:  len(t.missing),
			Orphaned: len(t.orphaned),
			Resolved: len(t.resolved),
		})
	}

	out.Missing = listing(missing, maxItems)
	out.Stale = listing(stale, maxItems)
	out.Orphaned = listing(orphaned, maxItems)

	warnings := make([]itemKey, 0, len(d.Warnings))
	for _, w := range d.Warnings {
		warnings = append(warnings, itemKey{w.Key, fmt.Sprintf("%s: %s", w.Kind, w.Message)})
	}
	out.Warnings = listing(warnings, maxItems)

	for _, m := range d.Migrations {
		out.Migrations = append(out.Migrations, Migration{
			Interval: m.Batch.Interval,
			Status:   m.Status,
			Series:   len(m.Batch.Keys),
			Elapsed:  m.Duration.Round(time.Millisecond).String(),
			Error:    m.Error,
		})
	}
	return out
}

type keySet map[model.SeriesKey]struct{}

// tally holds the distinct series seen per classification for one interval.
type tally struct {
	inSync, stale, missing, orphaned, resolved keySet
}

func newTally() *tally {
	return &tally{keySet{}, keySet{}, keySet{}, keySet{}, keySet{}}
}

func resolvedKeys(results []model.MigrationResult) map[model.SeriesKey]bool {
	out := make(map[model.SeriesKey]bool)
	for _, r := range results {
		if !r.Resolved() {
			continue
		}
		for _, k := range r.Batch.Keys {
			out[k] = true
		}
	}
	return out
}
