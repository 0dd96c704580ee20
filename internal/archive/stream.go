package archive

import (
	"bufio"
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// maxLineBytes bounds a single archive line.
const maxLineBytes = 1 << 20

// StreamOptions configures StreamRows.
type StreamOptions struct {
	SkipHeader bool // drop the first row
	BufferSize int  // row channel capacity, default 64
}

// Row is one archive line split into fields.
type Row struct {
	Line   int
	Fields []string
	// Malformed is set when the line is not valid CSV on its own. Fields then
	// holds a plain comma split with quotes stripped.
	Malformed bool
}

// StreamRows reads r line by line and sends each non-blank line on the
// returned channel. Every line is split independently, so an unbalanced quote
// never spills into the next line. The caller must drain the row channel; a
// read error, if any, is delivered on the error channel. Both channels are
// closed when reading stops.
func StreamRows(ctx context.Context, r io.Reader, opts StreamOptions) (<-chan Row, <-chan error) {
	size := opts.BufferSize
	if size <= 0 {
		size = 64
	}
	rowCh := make(chan Row, size)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

		first := true
		lineNo := 0
		for scanner.Scan() {
			lineNo++
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "archive: stream cancelled")
				return
			}

			line := scanner.Text()
			if strings.TrimSpace(line) == "" {
				continue
			}
			if first && opts.SkipHeader {
				first = false
				continue
			}
			first = false

			fields, ok := splitLine(line)
			select {
			case rowCh <- Row{Line: lineNo, Fields: fields, Malformed: !ok}:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "archive: stream cancelled")
				return
			}
		}
		if err := scanner.Err(); err != nil {
			errCh <- eris.Wrapf(err, "archive: read line %d", lineNo+1)
		}
	}()

	return rowCh, errCh
}

// splitLine parses a single line as CSV. When that fails the line is split on
// commas and the boolean is false.
func splitLine(line string) ([]string, bool) {
	r := csv.NewReader(strings.NewReader(line))
	r.FieldsPerRecord = -1
	if fields, err := r.Read(); err == nil {
		return fields, true
	}
	fields := strings.Split(line, ",")
	for i, f := range fields {
		fields[i] = strings.Trim(f, `"`)
	}
	return fields, false
}
