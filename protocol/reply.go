package protocol

// Reply represents a decoded guest agent object that answers a command: a
// JSON object carrying a top-level "return" or "error" member. The agent
// also emits other objects (events, stray output from a restarting agent);
// those do not satisfy AsReply and are discarded by clients.
type Reply map[string]any

// AsReply reports whether obj answers a command, and converts it.
func AsReply(obj any) (Reply, bool) {
	m, ok := obj.(map[string]any)
	if !ok {
		return nil, false
	}
	if _, ok := m["return"]; ok {
		return Reply(m), true
	}
	if _, ok := m["error"]; ok {
		return Reply(m), true
	}
	return nil, false
}

// Return returns the success payload. ok is false when the reply carries an
// error instead. The payload may be any JSON value; guest-ping returns an
// empty object, guest-info a populated one.
func (r Reply) Return() (any, bool) {
	v, ok := r["return"]
	return v, ok
}

// ErrorPayload returns the error payload verbatim, typically an object with
// "class" and "desc" members. ok is false on success replies.
func (r Reply) ErrorPayload() (any, bool) {
	v, ok := r["error"]
	return v, ok
}

// SupportedCommands extracts the command names advertised in a guest-info
// return payload. List entries that are not objects or carry no "name"
// string contribute nothing. A payload of the wrong shape yields nil.
func SupportedCommands(payload any) []string {
	m, ok := payload.(map[string]any)
	if !ok {
		return nil
	}
	list, ok := m["supported_commands"].([]any)
	if !ok {
		return nil
	}
	var names []string
	for _, entry := range list {
		em, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		if name, ok := em["name"].(string); ok {
			names = append(names, name)
		}
	}
	return names
}
