package sample

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// HeaderField is the first column of every header line the sampling tool prints.
const HeaderField = "nsample"

// ErrNoHeader is returned when records appear before any header line.
var ErrNoHeader = errors.New("sample stream has no header line")

// Reader splits sampling tool output into records. Lines before the first
// header (event-to-counter mapping banners and similar) are ignored, as are
// blank lines and lines starting with '#' or '['. A repeated header line
// replaces the mapping for the records that follow it.
type Reader struct {
	scanner *bufio.Scanner
	fields  FieldMap
	line    int
}

func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Reader{scanner: scanner}
}

// Fields returns the mapping in force for the last record returned by Next.
func (r *Reader) Fields() FieldMap {
	return r.fields
}

// Line returns the input line number of the last record returned by Next.
func (r *Reader) Line() int {
	return r.line
}

// Next returns the next record, or io.EOF at the end of the stream.
func (r *Reader) Next() (Record, error) {
	for r.scanner.Scan() {
		r.line++
		text := strings.TrimSpace(r.scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") || strings.HasPrefix(text, "[") {
			continue
		}

		tokens := strings.Fields(text)
		if tokens[0] == HeaderField {
			fields, err := ParseHeader(text)
			if err != nil {
				return nil, err
			}
			r.fields = fields
			continue
		}

		if r.fields == nil {
			// banner lines printed ahead of the header
			continue
		}
		return Record(tokens), nil
	}

	if err := r.scanner.Err(); err != nil {
		return nil, err
	}
	if r.fields == nil {
		return nil, ErrNoHeader
	}
	return nil, io.EOF
}
