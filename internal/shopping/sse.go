package shopping

import (
	"bufio"
	"bytes"
	"io"
)

const maxEventSize = 4 << 20

// readEvents parses a text/event-stream body and calls fn with the data of
// each event. Fields other than data are ignored. It returns the first
// error from fn or the reader; a cleanly closed stream returns nil.
func readEvents(r io.Reader, fn func(data []byte) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), maxEventSize)

	var data bytes.Buffer
	pending := false
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			if pending {
				if err := fn(bytes.Clone(data.Bytes())); err != nil {
					return err
				}
			}
			data.Reset()
			pending = false
			continue
		}
		if line[0] == ':' {
			continue
		}

		field, value, found := bytes.Cut(line, []byte(":"))
		if found {
			value = bytes.TrimPrefix(value, []byte(" "))
		}
		if string(field) != "data" {
			continue
		}
		if pending {
			data.WriteByte('\n')
		}
		data.Write(value)
		pending = true
	}
	return scanner.Err()
}
