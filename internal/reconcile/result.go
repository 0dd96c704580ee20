package reconcile

import (
	"time"

	"github.com/aipriceaction/mirrorsync/internal/model"
)

// Mode selects how much of each series is compared.
type Mode string

const (
	// ModeLatest compares only the most recent record per series.
	ModeLatest Mode = "latest"
	// ModeFull compares record counts and date bounds per series.
	ModeFull Mode = "full"
)

// WarningKind classifies a locally recovered per-series problem.
type WarningKind string

const (
	WarnNoData          WarningKind = "no_data"
	WarnMalformedRecord WarningKind = "malformed_record"
	WarnBadTimestamps   WarningKind = "bad_timestamps"
	WarnArchiveRead     WarningKind = "archive_read"
	WarnMirrorQuery     WarningKind = "mirror_query"
)

// Warning is a per-series problem that did not stop the run.
type Warning struct {
	Key     model.SeriesKey `json:"key" yaml:"key"`
	Kind    WarningKind     `json:"kind" yaml:"kind"`
	Path    string          `json:"path,omitempty" yaml:"path,omitempty"`
	Message string          `json:"message" yaml:"message"`
}

// DatasetSpec locates one dataset's archive and mirror.
type DatasetSpec struct {
	Dataset      model.Dataset
	Label        string
	ArchiveRoot  string
	Driver       string
	MirrorTarget string
}

// DatasetResult is the run-scoped outcome of checking one dataset. It is
// built by a single engine call and never shared between runs.
type DatasetResult struct {
	Dataset      model.Dataset           `json:"dataset" yaml:"dataset"`
	Label        string                  `json:"label" yaml:"label"`
	Mode         Mode                    `json:"mode" yaml:"mode"`
	ArchiveRoot  string                  `json:"archive_root" yaml:"archive_root"`
	MirrorTarget string                  `json:"mirror_target" yaml:"mirror_target"`
	Checked      int                     `json:"checked" yaml:"checked"`
	Outcomes     []model.Outcome         `json:"outcomes" yaml:"outcomes"`
	Warnings     []Warning               `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Migrations   []model.MigrationResult `json:"migrations,omitempty" yaml:"migrations,omitempty"`
	Cancelled    bool                    `json:"cancelled,omitempty" yaml:"cancelled,omitempty"`
	Err          error                   `json:"-" yaml:"-"`
}

// ErrText returns the dataset-level error message, or "".
func (r *DatasetResult) ErrText() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Discrepancies returns every outcome that is not InSync.
func (r *DatasetResult) Discrepancies() []model.Outcome {
	var out []model.Outcome
	for _, o := range r.Outcomes {
		if o.Kind != model.OutcomeInSync {
			out = append(out, o)
		}
	}
	return out
}

// OutcomesOf returns the outcomes of the given kind, in result order.
func (r *DatasetResult) OutcomesOf(kind model.OutcomeKind) []model.Outcome {
	var out []model.Outcome
	for _, o := range r.Outcomes {
		if o.Kind == kind {
			out = append(out, o)
		}
	}
	return out
}

// MigrationFailed reports whether any dispatched batch did not succeed.
func (r *DatasetResult) MigrationFailed() bool {
	for _, m := range r.Migrations {
		if m.Status == model.MigrationFailed || m.Status == model.MigrationTimedOut {
			return true
		}
	}
	return false
}

// Clean reports whether the dataset is fully in sync with no dataset-level
// error and no failed migration.
func (r *DatasetResult) Clean() bool {
	return r.Err == nil && !r.Cancelled && !r.MigrationFailed() && len(r.Discrepancies()) == 0
}

// Run groups the dataset results of one invocation.
type Run struct {
	ID         string           `json:"id" yaml:"id"`
	Mode       Mode             `json:"mode" yaml:"mode"`
	StartedAt  time.Time        `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time        `json:"finished_at" yaml:"finished_at"`
	Datasets   []*DatasetResult `json:"datasets" yaml:"datasets"`
}

// Clean reports whether every dataset is clean.
func (r *Run) Clean() bool {
	for _, d := range r.Datasets {
		if !d.Clean() {
			return false
		}
	}
	return true
}

// Interrupted reports whether any dataset stopped scheduling early.
func (r *Run) Interrupted() bool {
	for _, d := range r.Datasets {
		if d.Cancelled {
			return true
		}
	}
	return false
}
