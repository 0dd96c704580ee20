package model

import (
	"fmt"
	"sort"
	"time"
)

// OutcomeKind classifies the comparison result for one series.
type OutcomeKind string

const (
	OutcomeInSync             OutcomeKind = "in_sync"
	OutcomeMissingFromMirror  OutcomeKind = "missing_from_mirror"
	OutcomeMissingFromArchive OutcomeKind = "missing_from_archive"
	OutcomeOutdated           OutcomeKind = "outdated"
	OutcomeCountMismatch      OutcomeKind = "count_mismatch"
	OutcomeDateRangeMismatch  OutcomeKind = "date_range_mismatch"
)

// Stale reports whether the kind means both sides exist but disagree.
func (k OutcomeKind) Stale() bool {
	return k == OutcomeOutdated || k == OutcomeCountMismatch || k == OutcomeDateRangeMismatch
}

// DateField names which bound a DateRangeMismatch refers to.
type DateField string

const (
	FieldEarliest DateField = "earliest"
	FieldLatest   DateField = "latest"
)

// Outcome is the tagged comparison result for one series. Only the fields
// belonging to Kind are populated.
type Outcome struct {
	Key  SeriesKey   `json:"key" yaml:"key"`
	Kind OutcomeKind `json:"kind" yaml:"kind"`

	// Outdated
	ArchiveLatest *time.Time `json:"archive_latest,omitempty" yaml:"archive_latest,omitempty"`
	MirrorLatest  *time.Time `json:"mirror_latest,omitempty" yaml:"mirror_latest,omitempty"`

	// CountMismatch
	ArchiveCount int64 `json:"archive_count,omitempty" yaml:"archive_count,omitempty"`
	MirrorCount  int64 `json:"mirror_count,omitempty" yaml:"mirror_count,omitempty"`

	// DateRangeMismatch
	Field        DateField `json:"field,omitempty" yaml:"field,omitempty"`
	ArchiveValue string    `json:"archive_value,omitempty" yaml:"archive_value,omitempty"`
	MirrorValue  string    `json:"mirror_value,omitempty" yaml:"mirror_value,omitempty"`
}

// InSync records a series both sides agree on.
func InSync(key SeriesKey) Outcome {
	return Outcome{Key: key, Kind: OutcomeInSync}
}

// MissingFromMirror records a series only the archive holds.
func MissingFromMirror(key SeriesKey) Outcome {
	return Outcome{Key: key, Kind: OutcomeMissingFromMirror}
}

// MissingFromArchive records a series only the mirror holds.
func MissingFromArchive(key SeriesKey) Outcome {
	return Outcome{Key: key, Kind: OutcomeMissingFromArchive}
}

// Outdated records a series whose latest dates drifted apart.
func Outdated(key SeriesKey, archiveLatest, mirrorLatest time.Time) Outcome {
	return Outcome{Key: key, Kind: OutcomeOutdated, ArchiveLatest: &archiveLatest, MirrorLatest: &mirrorLatest}
}

// CountMismatch records differing row counts.
func CountMismatch(key SeriesKey, archiveCount, mirrorCount int64) Outcome {
	return Outcome{Key: key, Kind: OutcomeCountMismatch, ArchiveCount: archiveCount, MirrorCount: mirrorCount}
}

// DateRangeMismatch records a differing earliest or latest calendar date.
func DateRangeMismatch(key SeriesKey, field DateField, archiveValue, mirrorValue time.Time) Outcome {
	return Outcome{
		Key:          key,
		Kind:         OutcomeDateRangeMismatch,
		Field:        field,
		ArchiveValue: archiveValue.Format(time.DateOnly),
		MirrorValue:  mirrorValue.Format(time.DateOnly),
	}
}

// Describe renders the outcome detail for reports and logs.
func (o Outcome) Describe() string {
	switch o.Kind {
	case OutcomeInSync:
		return "in sync"
	case OutcomeMissingFromMirror:
		return "missing from mirror"
	case OutcomeMissingFromArchive:
		return "found in mirror but missing from archive"
	case OutcomeOutdated:
		return fmt.Sprintf("outdated (archive: %s, mirror: %s)", formatTime(o.ArchiveLatest), formatTime(o.MirrorLatest))
	case OutcomeCountMismatch:
		return fmt.Sprintf("archive=%d records, mirror=%d records", o.ArchiveCount, o.MirrorCount)
	case OutcomeDateRangeMismatch:
		return fmt.Sprintf("%s_date archive=%s, mirror=%s", o.Field, o.ArchiveValue, o.MirrorValue)
	default:
		return string(o.Kind)
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 {
		return t.Format(time.DateOnly)
	}
	return t.Format(time.DateTime)
}

// SortOutcomes orders outcomes by key, then kind, for deterministic output.
func SortOutcomes(outcomes []Outcome) {
	sort.SliceStable(outcomes, func(i, j int) bool {
		a, b := outcomes[i], outcomes[j]
		if a.Key != b.Key {
			return a.Key.Less(b.Key)
		}
		return a.Kind < b.Kind
	})
}

// MigrationBatch is one external migration invocation: every missing series
// of a single interval within one dataset.
type MigrationBatch struct {
	Dataset      Dataset     `json:"dataset" yaml:"dataset"`
	Interval     Interval    `json:"interval" yaml:"interval"`
	Keys         []SeriesKey `json:"keys" yaml:"keys"`
	Paths        []string    `json:"paths" yaml:"paths"`
	SourceDir    string      `json:"source_dir" yaml:"source_dir"`
	TargetMirror string      `json:"target_mirror" yaml:"target_mirror"`
}

// MigrationStatus is the terminal state of one dispatched batch.
type MigrationStatus string

const (
	MigrationSucceeded MigrationStatus = "succeeded"
	MigrationFailed    MigrationStatus = "failed"
	MigrationTimedOut  MigrationStatus = "timed_out"
	MigrationSkipped   MigrationStatus = "skipped"
)

// MigrationResult records how a batch's migration invocation ended.
type MigrationResult struct {
	Batch    MigrationBatch  `json:"batch" yaml:"batch"`
	Status   MigrationStatus `json:"status" yaml:"status"`
	ExitCode int             `json:"exit_code,omitempty" yaml:"exit_code,omitempty"`
	Error    string          `json:"error,omitempty" yaml:"error,omitempty"`
	Stderr   string          `json:"stderr,omitempty" yaml:"stderr,omitempty"`
	Duration time.Duration   `json:"duration" yaml:"duration"`
}

// Resolved reports whether the batch's keys are now present in the mirror.
func (r MigrationResult) Resolved() bool {
	return r.Status == MigrationSucceeded
}
