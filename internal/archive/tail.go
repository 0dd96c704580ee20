package archive

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/rotisserie/eris"
)

// DefaultChunkSize is the backward-scan read size used by TailLine.
const DefaultChunkSize = 4096

// headerTokens mark a header row; matched case-insensitively as a line prefix.
var headerTokens = []string{"ticker,", "symbol,"}

// IsHeader reports whether line looks like a CSV header row.
func IsHeader(line string) bool {
	lower := strings.ToLower(line)
	for _, tok := range headerTokens {
		if strings.HasPrefix(lower, tok) {
			return true
		}
	}
	return false
}

// TailLine returns the last non-blank, non-header line of the file at path
// without reading the whole file. The file is scanned backward in chunks of
// chunkSize bytes; the result does not depend on chunkSize.
func TailLine(path string, chunkSize int) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", eris.Wrapf(ErrSeriesAbsent, "archive: open %s", path)
		}
		return "", eris.Wrapf(err, "archive: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	info, err := f.Stat()
	if err != nil {
		return "", eris.Wrapf(err, "archive: stat %s", path)
	}

	line, err := tailLine(f, info.Size(), chunkSize)
	if err != nil {
		return "", eris.Wrapf(err, "archive: tail %s", path)
	}
	return line, nil
}

// tailLine scans r backward from size. Each chunk's leading fragment, which may
// be a truncated line, is held back and completed by the next (earlier) chunk;
// only the chunk at offset 0 has no fragment.
func tailLine(r io.ReaderAt, size int64, chunkSize int) (string, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	pos := size
	var fragment []byte
	buf := make([]byte, chunkSize)

	for pos > 0 {
		n := int64(chunkSize)
		if n > pos {
			n = pos
		}
		pos -= n

		if _, err := r.ReadAt(buf[:n], pos); err != nil && !errors.Is(err, io.EOF) {
			return "", eris.Wrap(err, "read chunk")
		}

		data := make([]byte, 0, int(n)+len(fragment))
		data = append(data, buf[:n]...)
		data = append(data, fragment...)

		lines := bytes.Split(data, []byte{'\n'})
		if pos > 0 {
			fragment = lines[0]
			lines = lines[1:]
		} else {
			fragment = nil
		}

		for i := len(lines) - 1; i >= 0; i-- {
			line := strings.TrimSpace(string(lines[i]))
			if line == "" || IsHeader(line) {
				continue
			}
			return line, nil
		}
	}

	return "", ErrNoDataFound
}
