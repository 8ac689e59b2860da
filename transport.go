package qga

import (
	"bufio"
	"errors"
	"io"
	"net"
	"os"
	"time"
)

// Transport is the byte-stream channel to the guest agent. Implementations
// are not safe for concurrent use; the client serializes access through the
// exclusive command slot.
type Transport interface {
	// DataAvailable reports whether at least one byte can be read within
	// timeout. A false return with a nil error means the timeout elapsed
	// with the stream still open but silent.
	DataAvailable(timeout time.Duration) (bool, error)

	// Recv returns the bytes already received without waiting for more.
	// It returns nil when nothing is pending.
	Recv() ([]byte, error)

	// Send writes data in full.
	Send(data []byte) error

	// Close tears down the channel.
	Close() error
}

// socketTransport adapts a net.Conn to the Transport interface. The
// availability poll is implemented with read deadlines: a one-byte peek
// under a deadline either buffers pending data or times out.
type socketTransport struct {
	conn         net.Conn
	reader       *bufio.Reader
	writeTimeout time.Duration
}

func newSocketTransport(conn net.Conn, writeTimeout time.Duration) *socketTransport {
	return &socketTransport{
		conn:         conn,
		reader:       bufio.NewReader(conn),
		writeTimeout: writeTimeout,
	}
}

func (t *socketTransport) DataAvailable(timeout time.Duration) (bool, error) {
	if t.reader.Buffered() > 0 {
		return true, nil
	}

	// A deadline at or before now would fail the read without polling.
	if timeout < time.Millisecond {
		timeout = time.Millisecond
	}
	if err := t.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return false, err
	}

	_, err := t.reader.Peek(1)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrDeadlineExceeded):
		return false, nil
	default:
		return false, err
	}
}

func (t *socketTransport) Recv() ([]byte, error) {
	n := t.reader.Buffered()
	if n == 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(t.reader, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (t *socketTransport) Send(data []byte) error {
	if t.writeTimeout > 0 {
		if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
			return err
		}
	}
	_, err := t.conn.Write(data)
	return err
}

func (t *socketTransport) Close() error {
	return t.conn.Close()
}
