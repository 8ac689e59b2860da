package protocol

import (
	"bytes"
	"encoding/json"
)

// AllDecodable reports whether every line in buf parses as a complete JSON
// value. The trailing data after the last newline counts as a line, so a
// partially received object makes AllDecodable return false until the rest
// of it arrives. Empty lines are ignored. An empty buffer is decodable.
func AllDecodable(buf []byte) bool {
	for _, line := range splitLines(buf) {
		if !json.Valid(line) {
			return false
		}
	}
	return true
}

// DecodeLines parses each line of buf independently. Lines that fail to
// parse are returned in skipped rather than aborting the whole buffer: one
// corrupt line must not take down the records around it.
//
// Decoded values follow encoding/json conventions for untyped decoding:
// objects become map[string]any, arrays []any, numbers float64.
func DecodeLines(buf []byte) (objs []any, skipped [][]byte) {
	for _, line := range splitLines(buf) {
		var obj any
		if err := json.Unmarshal(line, &obj); err != nil {
			skipped = append(skipped, line)
			continue
		}
		objs = append(objs, obj)
	}
	return objs, skipped
}

// splitLines splits buf on newlines, dropping empty lines and trailing
// carriage returns. The remainder after the last newline is a line too.
func splitLines(buf []byte) [][]byte {
	var lines [][]byte
	for _, line := range bytes.Split(buf, []byte{'\n'}) {
		line = bytes.TrimSuffix(line, []byte{'\r'})
		if len(line) == 0 {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}
