package qga

import (
	"context"
	"errors"
	"time"

	"github.com/virtkit/qga/protocol"
)

// pollInterval bounds one availability wait inside getResponse so that
// context cancellation is noticed while the agent is silent.
const pollInterval = 100 * time.Millisecond

// readObjects reads whatever the agent has written and decodes it into
// objects, one JSON value per line.
//
// The agent writes complete lines but the stream delivers arbitrary chunks,
// so the buffer is re-checked after every read and the loop keeps waiting,
// up to timeout, while any line of it is still unparseable. The final
// decode skips lines that never became valid; a skipped line is counted and
// logged, never surfaced as an error. The buffer is local to one call:
// whatever was read is either returned as objects or dropped here.
//
// Returns immediately when the agent has written nothing at all.
func (c *Client) readObjects(tr Transport, timeout time.Duration) ([]any, error) {
	avail, err := tr.DataAvailable(0)
	if err != nil || !avail {
		return nil, err
	}

	var buf []byte
	var readErr error
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		avail, err := tr.DataAvailable(remaining)
		if err != nil {
			readErr = err
			break
		}
		if !avail {
			break
		}
		chunk, err := tr.Recv()
		buf = append(buf, chunk...)
		if err != nil {
			readErr = err
			break
		}
		if protocol.AllDecodable(buf) {
			break
		}
	}

	objs, skipped := protocol.DecodeLines(buf)
	for _, line := range skipped {
		c.stats.recordLineSkipped()
		c.logger.Debug("skipping undecodable line", "agent", c.cfg.Name, "line", string(line))
	}
	for _, obj := range objs {
		c.logger.Debug("decoded object", "agent", c.cfg.Name, "object", obj)
	}
	return objs, readErr
}

// getResponse polls for decoded objects until one of them is a reply or the
// deadline elapses. found is false when the agent stayed silent or produced
// only non-reply objects; those are dropped, never queued for later calls.
//
// The deadline starts at timeout and is clamped to the context deadline.
// Cancellation is honored between polls.
func (c *Client) getResponse(ctx context.Context, tr Transport, timeout time.Duration) (reply protocol.Reply, found bool, err error) {
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, false, nil
		}
		if err := ctx.Err(); err != nil {
			// A context deadline was already folded into the reply
			// deadline above, so expiry is the ordinary no-reply
			// outcome. Only cancellation surfaces as a context error.
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, false, nil
			}
			return nil, false, err
		}

		avail, err := tr.DataAvailable(min(remaining, pollInterval))
		if err != nil {
			return nil, false, err
		}
		if !avail {
			continue
		}

		objs, err := c.readObjects(tr, min(c.cfg.ReadTimeout, remaining))
		for _, obj := range objs {
			if r, ok := protocol.AsReply(obj); ok {
				return r, true, nil
			}
			c.stats.recordRecordDropped()
		}
		if err != nil {
			return nil, false, err
		}
	}
}

// drainStale discards objects still buffered from an earlier command that
// timed out before consuming its reply. Called with the slot held, right
// before sending. Read failures are left for the send to surface.
func (c *Client) drainStale(tr Transport) {
	objs, err := c.readObjects(tr, c.cfg.ReadTimeout)
	for range objs {
		c.stats.recordRecordDropped()
	}
	if len(objs) > 0 {
		c.logger.Debug("discarded stale objects", "agent", c.cfg.Name, "count", len(objs))
	}
	if err != nil {
		c.logger.Debug("read failure while draining", "agent", c.cfg.Name, "error", err)
	}
}
