package protocol

import "encoding/json"

// Guest agent command names used by the client itself. The full command
// vocabulary depends on the agent build; see SupportedCommands.
const (
	CmdGuestSync     = "guest-sync"
	CmdGuestPing     = "guest-ping"
	CmdGuestInfo     = "guest-info"
	CmdGuestShutdown = "guest-shutdown"
)

// Command represents a guest agent command envelope.
// This is a low-level container for command data; Encode produces the wire
// representation. Fields map directly to protocol elements.
type Command struct {
	// Execute is the command name, e.g. "guest-ping".
	Execute string `json:"execute"`

	// Arguments holds the command arguments. A nil map leaves the member
	// off the wire entirely; an empty map is sent as {}.
	Arguments map[string]any `json:"arguments"`
}

// MarshalJSON keeps the nil/empty distinction for Arguments, which an
// omitempty tag cannot express.
func (c Command) MarshalJSON() ([]byte, error) {
	env := struct {
		Execute   string          `json:"execute"`
		Arguments *map[string]any `json:"arguments,omitempty"`
	}{Execute: c.Execute}
	if c.Arguments != nil {
		env.Arguments = &c.Arguments
	}
	return json.Marshal(env)
}

// NewCommand creates a command envelope.
//
// Usage:
//
//	cmd := protocol.NewCommand("guest-shutdown", map[string]any{"mode": "powerdown"})
//	data, err := cmd.Encode()
func NewCommand(name string, args map[string]any) Command {
	return Command{Execute: name, Arguments: args}
}

// Encode serializes the command as a single JSON line terminated by a
// newline. The agent parses its input incrementally, so the terminator is
// what makes the command take effect promptly.
func (c Command) Encode() ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
