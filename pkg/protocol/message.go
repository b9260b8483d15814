// Package protocol implements the line-delimited JSON wire protocol.
//
// Every message is a single JSON object on one line, terminated by a
// newline. The envelope has a fixed set of named fields plus arbitrary
// additional fields that are folded into Extra, so unknown producers can
// attach data without breaking older peers.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformed indicates a line that could not be decoded into a Message.
// Decoding never panics; every failure wraps this sentinel.
var ErrMalformed = errors.New("malformed message")

// Message is the wire envelope. A decoded Message is treated as an
// immutable value; producers construct a fresh one for each send.
type Message struct {
	Type     string
	Account  string
	Password string
	Nickname string
	From     string
	To       string
	Content  string
	Extra    map[string]string
}

// New returns a Message of the given type.
func New(msgType string) *Message {
	return &Message{Type: msgType}
}

// GetExtra returns the extra field for key, or "" if absent.
func (m *Message) GetExtra(key string) string {
	if m.Extra == nil {
		return ""
	}
	return m.Extra[key]
}

// SetExtra sets an extra field, allocating the map on first use.
func (m *Message) SetExtra(key, value string) {
	if m.Extra == nil {
		m.Extra = make(map[string]string)
	}
	m.Extra[key] = value
}

// Encode serializes the message to a single JSON line without the
// trailing newline. Empty envelope fields are omitted; Extra entries are
// written as-is. The wire namespace is flat: envelope field names are
// reserved, so an Extra entry under a reserved key shares the envelope
// field's wire key (a non-empty envelope field wins) and decodes back
// into the envelope field, not into Extra. Key order is deterministic
// (sorted), so the output is stable but not necessarily byte-identical
// to the line it was decoded from. Control characters, quotes and
// backslashes are escaped by the JSON encoder, so the result never
// contains a raw newline.
func (m *Message) Encode() ([]byte, error) {
	fields := make(map[string]string, len(m.Extra)+7)
	for k, v := range m.Extra {
		fields[k] = v
	}
	putNonEmpty(fields, "type", m.Type)
	putNonEmpty(fields, "account", m.Account)
	putNonEmpty(fields, "password", m.Password)
	putNonEmpty(fields, "nickname", m.Nickname)
	putNonEmpty(fields, "from", m.From)
	putNonEmpty(fields, "to", m.To)
	putNonEmpty(fields, "content", m.Content)

	line, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return line, nil
}

// Decode parses one line into a Message. Missing optional fields decode
// to empty strings; reserved keys always bind to their envelope field
// and only unknown fields land in Extra. Decoding fails only if the line
// is not a JSON object or the mandatory type field is absent.
func Decode(line []byte) (*Message, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(line, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	msg := &Message{}
	for key, val := range raw {
		value, ok := rawToString(val)
		if !ok {
			continue // null fields are treated as absent
		}
		switch key {
		case "type":
			msg.Type = value
		case "account":
			msg.Account = value
		case "password":
			msg.Password = value
		case "nickname":
			msg.Nickname = value
		case "from":
			msg.From = value
		case "to":
			msg.To = value
		case "content":
			msg.Content = value
		default:
			msg.SetExtra(key, value)
		}
	}

	if msg.Type == "" {
		return nil, fmt.Errorf("%w: missing type field", ErrMalformed)
	}
	return msg, nil
}

// rawToString converts a JSON value to its string form. Strings are
// unquoted; numbers, booleans, arrays and objects keep their literal
// text, which matches how the envelope treats all values as strings.
func rawToString(raw json.RawMessage) (string, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", false
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", false
		}
		return s, true
	}
	return string(trimmed), true
}

func putNonEmpty(fields map[string]string, key, value string) {
	if value != "" {
		fields[key] = value
	}
}
