package transport

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/marmos91/objectloader/pkg/base"
)

// Objects travel one per line as "id<TAB>json". The id prefix lets a reader
// route a line without decoding the object.

// maxLineSize bounds a single object line.
const maxLineSize = 64 << 20

// ErrMalformedLine is returned for a line without the id prefix.
var ErrMalformedLine = errors.New("transport: malformed object line")

// WriteLine writes one object line.
func WriteLine(w io.Writer, id string, raw []byte) error {
	buf := make([]byte, 0, len(id)+len(raw)+2)
	buf = append(buf, id...)
	buf = append(buf, '\t')
	buf = append(buf, raw...)
	buf = append(buf, '\n')
	_, err := w.Write(buf)
	return err
}

// WriteItem encodes it and writes it as one line.
func WriteItem(w io.Writer, it base.Item) error {
	raw, err := base.Encode(it.Base)
	if err != nil {
		return fmt.Errorf("encode %s: %w", it.BaseID, err)
	}
	return WriteLine(w, it.BaseID, raw)
}

// ParseLine decodes one object line. A line holding only JSON is accepted
// too; its id is then taken from the object.
func ParseLine(line []byte) (base.Item, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return base.Item{}, ErrMalformedLine
	}

	id, raw, found := bytes.Cut(line, []byte{'\t'})
	if !found {
		if line[0] != '{' {
			return base.Item{}, ErrMalformedLine
		}
		return base.NewItemFromJSON(line)
	}

	it, err := base.NewItemFromJSON(raw)
	if err != nil {
		return base.Item{}, err
	}
	if it.BaseID != string(id) {
		return base.Item{}, fmt.Errorf("line %q: %w", id, base.ErrIDMismatch)
	}
	return it, nil
}

// ReadLines calls fn for every object line in r. Malformed lines are passed
// to onBad when it is non-nil and otherwise skipped. Reading stops at the
// first error returned by fn.
func ReadLines(r io.Reader, fn func(base.Item) error, onBad func(line []byte, err error)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for sc.Scan() {
		line := sc.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		it, err := ParseLine(line)
		if err != nil {
			if onBad != nil {
				onBad(line, err)
			}
			continue
		}
		if err := fn(it); err != nil {
			return err
		}
	}
	return sc.Err()
}
