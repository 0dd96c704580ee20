package report

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/aipriceaction/mirrorsync/internal/reconcile"
)

// Render writes the human-readable report.
func Render(out io.Writer, r *Report) error {
	p := &printer{w: out}

	title := "LATEST CHECK"
	if r.Mode == reconcile.ModeFull {
		title = "FULL VERIFICATION"
	}
	p.line(strings.Repeat("=", 60))
	p.line("%s  run %s", title, r.RunID)
	p.line(strings.Repeat("=", 60))

	for _, d := range r.Datasets {
		p.line("")
		p.line("%s (%s)", d.Label, d.Dataset)
		p.line(strings.Repeat("-", 40))
		if d.Error != "" {
			p.line("error: %s", d.Error)
		}
		if d.Cancelled {
			p.line("interrupted after %d series", d.Checked)
		} else {
			p.line("checked %d series", d.Checked)
		}

		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "INTERVAL\tIN SYNC\tSTALE\tMISSING\tORPHANED\tRESOLVED")
		for _, c := range d.Intervals {
			_, _ = fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\n",
				c.Interval.Name(), c.InSync, c.Stale, c.Missing, c.Orphaned, c.Resolved)
		}
		if err := tw.Flush(); err != nil {
			return err
		}

		p.listing("Missing from mirror", d.Missing)
		p.listing("Stale", d.Stale)
		p.listing("Missing from archive", d.Orphaned)

		if len(d.Migrations) > 0 {
			p.line("")
			p.line("Migrations:")
			for _, m := range d.Migrations {
				p.line("  %s: %s (%d series, %s)", m.Interval.Name(), m.Status, m.Series, m.Elapsed)
				if m.Error != "" {
					p.line("    %s", m.Error)
				}
			}
		}
		p.listing("Warnings", d.Warnings)
	}

	p.line("")
	if r.Clean {
		p.line("All data is in sync.")
	} else {
		p.line("Discrepancies found.")
	}
	return p.err
}

// printer remembers the first write error so Render can report it once.
type printer struct {
	w   io.Writer
	err error
}

func (p *printer) line(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format+"\n", args...)
}

func (p *printer) listing(title string, l Listing) {
	if l.Total == 0 {
		return
	}
	p.line("")
	p.line("%s (%d):", title, l.Total)
	for _, item := range l.Items {
		p.line("  - %s", item)
	}
	if l.Remaining > 0 {
		p.line("  ... and %d more", l.Remaining)
	}
}
