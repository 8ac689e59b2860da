package protocol

import (
	"bytes"
	"testing"
)

// Benchmark Encode with a bare command
func BenchmarkEncode_NoArguments(b *testing.B) {
	cmd := NewCommand(CmdGuestPing, nil)
	b.ResetTimer()

	for b.Loop() {
		if _, err := cmd.Encode(); err != nil {
			b.Fatal(err)
		}
	}
}

// Benchmark Encode with typical arguments
func BenchmarkEncode_WithArguments(b *testing.B) {
	cmd := NewCommand("guest-file-open", map[string]any{
		"path": "/var/log/messages",
		"mode": "r",
	})
	b.ResetTimer()

	for b.Loop() {
		if _, err := cmd.Encode(); err != nil {
			b.Fatal(err)
		}
	}
}

// Benchmark AllDecodable on a complete single-line buffer
func BenchmarkAllDecodable_Complete(b *testing.B) {
	buf := []byte(`{"return": {"version": "7.2", "supported_commands": []}}` + "\n")
	b.ResetTimer()

	for b.Loop() {
		if !AllDecodable(buf) {
			b.Fatal("buffer should be decodable")
		}
	}
}

// Benchmark AllDecodable on a buffer ending in a partial line
func BenchmarkAllDecodable_Partial(b *testing.B) {
	buf := []byte(`{"return": {}}` + "\n" + `{"return": {"version`)
	b.ResetTimer()

	for b.Loop() {
		if AllDecodable(buf) {
			b.Fatal("buffer should not be decodable")
		}
	}
}

// Benchmark DecodeLines on a multi-record buffer
func BenchmarkDecodeLines(b *testing.B) {
	var buf bytes.Buffer
	for range 16 {
		buf.WriteString(`{"return": {"version": "7.2"}}` + "\n")
	}
	data := buf.Bytes()
	b.ResetTimer()

	for b.Loop() {
		objs, skipped := DecodeLines(data)
		if len(objs) != 16 || len(skipped) != 0 {
			b.Fatalf("decoded %d objects, skipped %d", len(objs), len(skipped))
		}
	}
}
