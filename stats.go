package qga

import (
	"sync/atomic"
	"time"
)

// ClientStats contains statistics about client operations.
// All fields are safe for concurrent access.
//
// Struct is optimized to fit within a single cache line (64 bytes).
//
// For Prometheus integration, expose these as counters with an agent label:
//   - Commands, Replies, ErrorReplies, Timeouts
//   - LockFailures, LinesSkipped, RecordsDropped, TransportErrors
type ClientStats struct {
	Commands        uint64 // Commands sent to the agent
	Replies         uint64 // Reply records consumed by commands
	ErrorReplies    uint64 // Replies carrying an error payload
	Timeouts        uint64 // Commands unanswered before the deadline
	LockFailures    uint64 // Failed exclusive slot acquisitions
	LinesSkipped    uint64 // Undecodable lines dropped by the decoder
	RecordsDropped  uint64 // Decoded records discarded (stale or non-reply)
	TransportErrors uint64 // Send and receive failures
}

// ChannelStats contains statistics about the channel slot.
//
// For Prometheus integration, expose these as:
//   - Gauge: Live
//   - Counters: Dials, Teardowns, LockAcquires, LockWaits
//   - Histogram: lock wait duration (derive from LockWaits and LockWaitTime)
type ChannelStats struct {
	Dials        int64         // Channels dialed
	Teardowns    int64         // Channels closed after failure or shutdown
	LockAcquires int64         // Total slot acquisitions
	LockWaits    int64         // Acquisitions that had to wait or dial
	LockWaitTime time.Duration // Total time spent waiting for the slot
	Live         int32         // Channels currently open (0 or 1)
}

// clientStatsCollector provides internal methods for updating client stats.
// Not exported - the client updates its own stats.
type clientStatsCollector struct {
	stats *ClientStats
}

func newClientStatsCollector() *clientStatsCollector {
	return &clientStatsCollector{
		stats: &ClientStats{},
	}
}

func (c *clientStatsCollector) recordCommand() {
	atomic.AddUint64(&c.stats.Commands, 1)
}

func (c *clientStatsCollector) recordReply() {
	atomic.AddUint64(&c.stats.Replies, 1)
}

func (c *clientStatsCollector) recordErrorReply() {
	atomic.AddUint64(&c.stats.ErrorReplies, 1)
}

func (c *clientStatsCollector) recordTimeout() {
	atomic.AddUint64(&c.stats.Timeouts, 1)
}

func (c *clientStatsCollector) recordLockFailure() {
	atomic.AddUint64(&c.stats.LockFailures, 1)
}

func (c *clientStatsCollector) recordLineSkipped() {
	atomic.AddUint64(&c.stats.LinesSkipped, 1)
}

func (c *clientStatsCollector) recordRecordDropped() {
	atomic.AddUint64(&c.stats.RecordsDropped, 1)
}

func (c *clientStatsCollector) recordTransportError() {
	atomic.AddUint64(&c.stats.TransportErrors, 1)
}

func (c *clientStatsCollector) snapshot() ClientStats {
	return ClientStats{
		Commands:        atomic.LoadUint64(&c.stats.Commands),
		Replies:         atomic.LoadUint64(&c.stats.Replies),
		ErrorReplies:    atomic.LoadUint64(&c.stats.ErrorReplies),
		Timeouts:        atomic.LoadUint64(&c.stats.Timeouts),
		LockFailures:    atomic.LoadUint64(&c.stats.LockFailures),
		LinesSkipped:    atomic.LoadUint64(&c.stats.LinesSkipped),
		RecordsDropped:  atomic.LoadUint64(&c.stats.RecordsDropped),
		TransportErrors: atomic.LoadUint64(&c.stats.TransportErrors),
	}
}
