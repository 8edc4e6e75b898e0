package runtime

import (
	"bufio"
	"io"
)

// lineDecoder reads newline-delimited JSON progress lines off an image pull/build
// response stream. the Docker SDK returns these as a raw stream rather than a typed
// iterator, so callers that want to observe progress (rather than just draining it) need
// a small reader like this one. kept minimal on purpose: the orchestrator only forwards
// the raw line text as a lifecycle event message, it does not need the structured
// Status/Progress/ID fields Docker's JSON schema defines.
type lineDecoder struct {
	scanner *bufio.Scanner
}

func newLineDecoder(r io.Reader) *lineDecoder {
	return &lineDecoder{scanner: bufio.NewScanner(r)}
}

func (d *lineDecoder) next() (string, error) {
	if d.scanner.Scan() {
		return d.scanner.Text(), nil
	}
	if err := d.scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}
