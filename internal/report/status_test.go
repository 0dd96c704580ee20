package report

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aipriceaction/mirrorsync/internal/archive"
	"github.com/aipriceaction/mirrorsync/internal/mirror"
	"github.com/aipriceaction/mirrorsync/internal/model"
)

func TestBuildStatus_Verdicts(t *testing.T) {
	s := BuildStatus(StatusInput{
		Dataset: model.DatasetPrimary,
		Label:   "VN",
		Totals: map[model.Interval]mirror.IntervalTotals{
			model.Daily:  {Symbols: 3, Records: 12345},
			model.Hourly: {Symbols: 2, Records: 50},
		},
		Inventory: map[model.Interval]archive.IntervalInventory{
			model.Daily:  {Files: 3, TotalBytes: 3 * 1024 * 1024},
			model.Hourly: {Files: 5, TotalBytes: 100},
			model.Minute: {Files: 1, TotalBytes: 10},
		},
	})

	require.Len(t, s.Intervals, 3)
	assert.Equal(t, VerdictInSync, s.Intervals[0].Verdict)
	assert.Equal(t, VerdictOutOfSync, s.Intervals[1].Verdict)
	assert.Equal(t, VerdictArchiveOnly, s.Intervals[2].Verdict)
	assert.True(t, DailyInSync([]DatasetStatus{s}))

	var buf bytes.Buffer
	require.NoError(t, RenderStatus(&buf, []DatasetStatus{s}))
	out := buf.String()
	assert.Contains(t, out, "1D: 3 symbols, 12,345 records")
	assert.Contains(t, out, "1D: 3 files, 3.0 MB total")
	assert.Contains(t, out, "1H: OUT OF SYNC (mirror: 2, archive: 5)")
	assert.Contains(t, out, "1m: no data")
	assert.Contains(t, out, "Daily data is fully synced")
}

func TestVerdict(t *testing.T) {
	assert.Equal(t, VerdictEmpty, verdict(0, 0))
	assert.Equal(t, VerdictMirrorOnly, verdict(4, 0))
	assert.Equal(t, VerdictArchiveOnly, verdict(0, 4))
	assert.Equal(t, VerdictInSync, verdict(4, 4))
	assert.Equal(t, VerdictOutOfSync, verdict(4, 5))
}

func TestRenderStatus_Unavailable(t *testing.T) {
	s := BuildStatus(StatusInput{
		Dataset:    model.DatasetSecondary,
		Label:      "Crypto",
		MirrorErr:  errors.New("mirror: unavailable"),
		ArchiveErr: errors.New("archive: dataset directory not found"),
	})
	assert.False(t, DailyInSync([]DatasetStatus{s}))

	var buf bytes.Buffer
	require.NoError(t, RenderStatus(&buf, []DatasetStatus{s}))
	assert.Contains(t, buf.String(), "unavailable: mirror: unavailable")
	assert.Contains(t, buf.String(), "unavailable: archive: dataset directory not found")
	assert.Contains(t, buf.String(), "Daily data sync issues detected.")
}
