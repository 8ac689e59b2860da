package qga

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/virtkit/qga/protocol"
)

// TestTimeoutNoReply tests that a command against a silent agent fails with
// *ProtocolError once its deadline elapses, not earlier.
func TestTimeoutNoReply(t *testing.T) {
	tr := &fakeTransport{}
	client := newTestClient(t, tr, Config{})

	start := time.Now()
	_, err := client.Cmd(context.Background(), protocol.CmdGuestPing, nil,
		WithTimeout(300*time.Millisecond))
	elapsed := time.Since(start)

	var protoErr *ProtocolError
	require.ErrorAs(t, err, &protoErr)
	assert.Contains(t, string(protoErr.Data), "guest-ping")
	assert.GreaterOrEqual(t, elapsed, 250*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)
	assert.Equal(t, uint64(1), client.Stats().Timeouts)
}

func TestTimeoutConfigDefault(t *testing.T) {
	tr := &fakeTransport{}
	client := newTestClient(t, tr, Config{CommandTimeout: 100 * time.Millisecond})

	start := time.Now()
	_, err := client.Cmd(context.Background(), protocol.CmdGuestPing, nil)

	var protoErr *ProtocolError
	require.ErrorAs(t, err, &protoErr)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestTimeoutOptionOverridesConfig(t *testing.T) {
	tr := &fakeTransport{}
	client := newTestClient(t, tr, Config{CommandTimeout: time.Hour})

	start := time.Now()
	_, err := client.Cmd(context.Background(), protocol.CmdGuestPing, nil,
		WithTimeout(100*time.Millisecond))

	var protoErr *ProtocolError
	require.ErrorAs(t, err, &protoErr)
	assert.Less(t, time.Since(start), 2*time.Second)
}

// TestTimeoutContextDeadline tests that a context deadline tighter than the
// command timeout bounds the wait, with the usual no-reply outcome.
func TestTimeoutContextDeadline(t *testing.T) {
	tr := &fakeTransport{}
	client := newTestClient(t, tr, Config{CommandTimeout: time.Hour})

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := client.Cmd(ctx, protocol.CmdGuestPing, nil)

	var protoErr *ProtocolError
	require.ErrorAs(t, err, &protoErr)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, int64(0), client.ChannelStats().Teardowns)
}

// TestTimeoutContextCancel tests that canceling the context aborts the wait
// promptly and keeps the channel.
func TestTimeoutContextCancel(t *testing.T) {
	tr := &fakeTransport{}
	client := newTestClient(t, tr, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := client.Cmd(ctx, protocol.CmdGuestPing, nil)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, int64(0), client.ChannelStats().Teardowns)
	assert.Equal(t, uint64(0), client.Stats().TransportErrors)
}

// TestTimeoutLock tests that a caller waiting on a busy channel gives up
// with *LockError after LockTimeout.
func TestTimeoutLock(t *testing.T) {
	release := make(chan struct{})
	tr := &fakeTransport{}
	tr.respond = func([]byte) string {
		<-release
		return `{"return": {}}` + "\n"
	}
	client := newTestClient(t, tr, Config{LockTimeout: 60 * time.Millisecond})

	done := make(chan error, 1)
	go func() {
		_, err := client.Cmd(context.Background(), protocol.CmdGuestPing, nil)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond) // let the first command take the slot

	start := time.Now()
	_, err := client.Cmd(context.Background(), protocol.CmdGuestPing, nil)
	elapsed := time.Since(start)

	var lockErr *LockError
	require.ErrorAs(t, err, &lockErr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, elapsed, time.Second)
	assert.Equal(t, uint64(1), client.Stats().LockFailures)

	close(release)
	require.NoError(t, <-done)
}

// TestTimeoutLateReplyDiscarded tests that a reply arriving after its
// command gave up is drained by the next command, not mistaken for that
// command's reply.
func TestTimeoutLateReplyDiscarded(t *testing.T) {
	tr := &fakeTransport{}
	tr.respond = func(line []byte) string {
		if strings.Contains(string(line), `"id":2`) {
			return `{"return": 2}` + "\n"
		}
		return ""
	}
	client := newTestClient(t, tr, Config{})

	_, err := client.Cmd(context.Background(), protocol.CmdGuestSync,
		map[string]any{"id": 1}, WithTimeout(40*time.Millisecond))
	var protoErr *ProtocolError
	require.ErrorAs(t, err, &protoErr)

	// The reply to the timed-out command arrives while nothing is waiting.
	tr.enqueue(`{"return": 1}` + "\n")

	ret, err := client.Cmd(context.Background(), protocol.CmdGuestSync, map[string]any{"id": 2})
	require.NoError(t, err)
	assert.Equal(t, float64(2), ret)
	assert.Equal(t, uint64(1), client.Stats().RecordsDropped)
	assert.Equal(t, uint64(1), client.Stats().Timeouts)
}

// TestTimeoutChannelKept tests that reply timeouts release the channel
// instead of destroying it, and that the next command reuses it.
func TestTimeoutChannelKept(t *testing.T) {
	tr := &fakeTransport{}
	client := newTestClient(t, tr, Config{})

	for i := 0; i < 3; i++ {
		_, err := client.Cmd(context.Background(), protocol.CmdGuestPing, nil,
			WithTimeout(30*time.Millisecond))
		var protoErr *ProtocolError
		require.ErrorAs(t, err, &protoErr)
	}

	tr.mu.Lock()
	tr.respond = respondAlways(`{"return": {}}`)
	tr.mu.Unlock()

	_, err := client.Cmd(context.Background(), protocol.CmdGuestPing, nil)
	require.NoError(t, err)

	channel := client.ChannelStats()
	assert.Equal(t, int64(1), channel.Dials)
	assert.Equal(t, int64(0), channel.Teardowns)
	assert.Equal(t, uint64(3), client.Stats().Timeouts)
}
