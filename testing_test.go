package qga

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeTransport is a scripted in-memory Transport. Bytes queued by the
// respond hook or by enqueue become available to the client immediately.
type fakeTransport struct {
	mu      sync.Mutex
	queue   []byte
	sent    [][]byte
	sendErr error
	recvErr error // reported once the queue is drained, like a closed stream
	closed  bool

	// respond produces the agent's output for one sent line. An empty
	// string means the agent stays silent.
	respond func(line []byte) string
}

func (t *fakeTransport) DataAvailable(timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		t.mu.Lock()
		if len(t.queue) > 0 {
			t.mu.Unlock()
			return true, nil
		}
		if t.recvErr != nil {
			err := t.recvErr
			t.mu.Unlock()
			return false, err
		}
		t.mu.Unlock()

		if !time.Now().Before(deadline) {
			return false, nil
		}
		time.Sleep(time.Millisecond)
	}
}

func (t *fakeTransport) Recv() ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.queue
	t.queue = nil
	return out, nil
}

func (t *fakeTransport) Send(data []byte) error {
	t.mu.Lock()
	if t.sendErr != nil {
		err := t.sendErr
		t.mu.Unlock()
		return err
	}
	t.sent = append(t.sent, append([]byte(nil), data...))
	respond := t.respond
	t.mu.Unlock()

	if respond != nil {
		if out := respond(data); out != "" {
			t.enqueue(out)
		}
	}
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *fakeTransport) enqueue(s string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.queue = append(t.queue, s...)
}

func (t *fakeTransport) setSendErr(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sendErr = err
}

func (t *fakeTransport) setRecvErr(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recvErr = err
}

// sentCommands returns the execute member of every line sent so far.
func (t *fakeTransport) sentCommands() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var names []string
	for _, line := range t.sent {
		var cmd struct {
			Execute string `json:"execute"`
		}
		if err := json.Unmarshal(line, &cmd); err != nil {
			continue
		}
		names = append(names, cmd.Execute)
	}
	return names
}

// respondByCommand builds a respond hook answering each command name with a
// fixed line. Commands not in the map get silence.
func respondByCommand(responses map[string]string) func([]byte) string {
	return func(line []byte) string {
		var cmd struct {
			Execute string `json:"execute"`
		}
		if err := json.Unmarshal(line, &cmd); err != nil {
			return ""
		}
		if resp, ok := responses[cmd.Execute]; ok {
			return resp + "\n"
		}
		return ""
	}
}

// respondAlways answers every sent line with the same line.
func respondAlways(response string) func([]byte) string {
	return func([]byte) string {
		return response + "\n"
	}
}

// guestInfoResponse builds a guest-info success reply advertising cmds.
func guestInfoResponse(cmds ...string) string {
	list := make([]any, 0, len(cmds))
	for _, c := range cmds {
		list = append(list, map[string]any{"name": c, "enabled": true})
	}
	data, err := json.Marshal(map[string]any{
		"return": map[string]any{
			"version":            "7.2.0",
			"supported_commands": list,
		},
	})
	if err != nil {
		panic(err)
	}
	return string(data)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestClient creates a client wired to tr instead of a real socket.
func newTestClient(t testing.TB, tr Transport, config Config) *Client {
	t.Helper()

	config.dial = func(ctx context.Context) (Transport, error) {
		return tr, nil
	}
	if config.Logger == nil {
		config.Logger = discardLogger()
	}

	client, err := NewClient(nil, config)
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

// createAgentSocket starts a fake agent listening on a unix socket and
// returns the socket path.
func createAgentSocket(t testing.TB, handler func(conn net.Conn)) string {
	path := filepath.Join(t.TempDir(), "qga.sock")
	listener, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("Failed to start fake agent: %v", err)
	}
	serveAgent(t, listener, handler)
	return path
}

// createAgentTCP starts a fake agent on a loopback TCP listener and returns
// its address.
func createAgentTCP(t testing.TB, handler func(conn net.Conn)) string {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to start fake agent: %v", err)
	}
	serveAgent(t, listener, handler)
	return listener.Addr().String()
}

func serveAgent(t testing.TB, listener net.Listener, handler func(conn net.Conn)) {
	t.Cleanup(func() {
		listener.Close()
	})

	// Accept connections in background
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}

			go func(c net.Conn) {
				defer c.Close()

				if handler != nil {
					handler(c)
				}
			}(conn)
		}
	}()
}

// scriptedAgent answers each received command by name, like respondByCommand
// but over a real connection.
func scriptedAgent(responses map[string]string) func(net.Conn) {
	return func(conn net.Conn) {
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			var cmd struct {
				Execute string `json:"execute"`
			}
			if err := json.Unmarshal(scanner.Bytes(), &cmd); err != nil {
				continue
			}
			resp, ok := responses[cmd.Execute]
			if !ok || resp == "" {
				continue
			}
			if _, err := conn.Write([]byte(resp + "\n")); err != nil {
				return
			}
		}
	}
}
