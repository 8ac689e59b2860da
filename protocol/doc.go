// Package protocol implements the wire format spoken by the QEMU guest
// agent: newline-delimited JSON objects over a byte stream.
//
// This package serves as a foundation for building higher-level guest agent
// clients with different properties (pooling, retries, circuit breaking).
// It focuses on correctness of serialization and parsing, without imposing
// connection management on clients.
//
// # Core Types
//
// Command and Reply are pure data containers without embedded logic:
//
//   - Command: a guest agent command envelope ("execute" / "arguments")
//   - Reply: a decoded object carrying a "return" or "error" member
//
// # Serialization
//
// Encode serializes a command to a single newline-terminated line:
//
//	data, err := protocol.Command{Execute: "guest-ping"}.Encode()
//	conn.Write(data)
//
// # Parsing
//
// The agent writes complete JSON objects but the stream may deliver them in
// arbitrary chunks, so parsing is incremental. AllDecodable reports whether
// a buffer needs more bytes before every line parses:
//
//	buf = append(buf, chunk...)
//	if protocol.AllDecodable(buf) {
//	    objs, skipped := protocol.DecodeLines(buf)
//	    ...
//	}
//
// DecodeLines never fails: lines that cannot be parsed are returned in
// skipped for the caller to count or log.
//
// # Replies
//
// Decoded objects that correlate to a sent command are recognized with
// AsReply; everything else (events, partial garbage) is left to the caller
// to discard:
//
//	for _, obj := range objs {
//	    if reply, ok := protocol.AsReply(obj); ok {
//	        if payload, ok := reply.ErrorPayload(); ok {
//	            // command failed
//	        }
//	    }
//	}
//
// # Thread Safety
//
// All functions are pure and safe for concurrent use. Command and Reply
// values are not synchronized; callers must not share one across goroutines
// while mutating it.
package protocol
