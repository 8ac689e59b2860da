package qga

import (
	"context"
	"errors"
	"fmt"
)

// Error types for guest agent operations.
// These errors help callers determine appropriate error handling strategy,
// particularly regarding channel management (redial vs. reuse).

// ErrClientClosed is returned by commands issued after Close.
var ErrClientClosed = errors.New("guest agent client is closed")

// ConnectError reports that the channel to the guest agent could not be
// established, either at construction or on a redial after a failure.
//
// Common causes:
//   - virtio-serial socket path does not exist yet (guest still booting)
//   - guest agent daemon not running inside the guest
//   - dial timeout or connection refused on a TCP chardev
//
// Channel handling: there is no channel; the next command dials again.
type ConnectError struct {
	Network string
	Addr    string
	Err     error
}

func (e *ConnectError) Error() string {
	if e.Addr == "" {
		return fmt.Sprintf("could not connect to guest agent: %v", e.Err)
	}
	return fmt.Sprintf("could not connect to guest agent at %s %s: %v", e.Network, e.Addr, e.Err)
}

// Unwrap returns the underlying error for error chain inspection
func (e *ConnectError) Unwrap() error {
	return e.Err
}

// ShouldCloseChannel returns false - the channel was never established
func (e *ConnectError) ShouldCloseChannel() bool {
	return false
}

// SocketError reports an I/O failure on an established channel.
//
// Common causes:
//   - guest rebooted or was destroyed, closing the chardev
//   - agent daemon stopped inside the guest
//   - network failure on a TCP chardev
//
// Channel handling: CLOSE the channel; the next command dials a fresh one.
type SocketError struct {
	Op   string // operation that failed: send, receive
	Data []byte // encoded command being processed, if any
	Err  error
}

func (e *SocketError) Error() string {
	if len(e.Data) == 0 {
		return fmt.Sprintf("transport failure during %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("transport failure during %s of %q: %v", e.Op, e.Data, e.Err)
}

// Unwrap returns the underlying error for error chain inspection
func (e *SocketError) Unwrap() error {
	return e.Err
}

// ShouldCloseChannel returns true - the channel is broken
func (e *SocketError) ShouldCloseChannel() bool {
	return true
}

// LockError reports that the exclusive command slot could not be acquired
// in time. Some other command was still in flight when the lock timeout or
// the caller's context expired.
//
// Channel handling: the channel was never touched, the in-flight command
// keeps using it.
type LockError struct {
	Err error
}

func (e *LockError) Error() string {
	return fmt.Sprintf("could not acquire exclusive lock to send command: %v", e.Err)
}

// Unwrap returns the underlying error for error chain inspection
func (e *LockError) Unwrap() error {
	return e.Err
}

// ShouldCloseChannel returns false - the channel was not involved
func (e *LockError) ShouldCloseChannel() bool {
	return false
}

// ProtocolError reports that the agent produced no reply before the
// deadline. The command may still have been executed; arriving late, its
// reply is discarded by the next command's pre-send drain.
//
// Common causes:
//   - agent daemon hung or not yet started inside the guest
//   - command legitimately slow (guest-fsfreeze-freeze under load)
//   - deadline too tight for the command
//
// Channel handling: the channel stays up; a late reply is drained later.
type ProtocolError struct {
	Data []byte // encoded command that went unanswered
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("no response received for command %q", e.Data)
}

// ShouldCloseChannel returns false - a silent agent may just be slow
func (e *ProtocolError) ShouldCloseChannel() bool {
	return false
}

// CmdError reports an error reply from the guest agent. The command reached
// the agent and was rejected or failed; the channel itself is healthy.
//
// Common causes:
//   - command not implemented by this agent build (class CommandNotFound)
//   - command disabled in the agent configuration (class CommandDisabled)
//   - invalid arguments for the command
//
// Channel handling: the channel can be REUSED.
type CmdError struct {
	Cmd  string         // command name
	Args map[string]any // arguments as passed to Cmd
	Data any            // error payload, verbatim from the reply
}

func (e *CmdError) Error() string {
	if len(e.Args) == 0 {
		return fmt.Sprintf("guest agent command %q failed: %v", e.Cmd, e.Data)
	}
	return fmt.Sprintf("guest agent command %q failed: %v (arguments: %v)", e.Cmd, e.Data, e.Args)
}

// Class returns the error class reported by the agent, such as
// "CommandNotFound", or "" when the payload carries none.
func (e *CmdError) Class() string {
	if m, ok := e.Data.(map[string]any); ok {
		if s, ok := m["class"].(string); ok {
			return s
		}
	}
	return ""
}

// Desc returns the human-readable description reported by the agent, or ""
// when the payload carries none.
func (e *CmdError) Desc() string {
	if m, ok := e.Data.(map[string]any); ok {
		if s, ok := m["desc"].(string); ok {
			return s
		}
	}
	return ""
}

// ShouldCloseChannel returns false - the agent answered, the channel works
func (e *CmdError) ShouldCloseChannel() bool {
	return false
}

// ChannelStateError is an interface for errors that indicate whether the
// channel should be torn down. Implemented by all client error types.
type ChannelStateError interface {
	error
	ShouldCloseChannel() bool
}

// ShouldCloseChannel is a helper function to determine if an error requires
// tearing down the channel so the next command dials a fresh one.
//
// Returns true for:
//   - SocketError
//   - unknown error types (conservative)
//
// Returns false for:
//   - ConnectError, LockError, ProtocolError, CmdError
//   - context cancellation (the caller gave up, the channel is fine)
//   - nil
func ShouldCloseChannel(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var e ChannelStateError
	if errors.As(err, &e) {
		return e.ShouldCloseChannel()
	}

	// Unknown error type - be conservative and redial
	return true
}
