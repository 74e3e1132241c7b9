package bus

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

var (
	// ErrInvalidCommand is returned for control lines that are not JSON objects.
	ErrInvalidCommand = errors.New("invalid command")
)

// Command is one control-channel instruction for the peer. Fields holds the
// whole object, "command" included, so unknown fields pass through untouched.
type Command struct {
	Name   string                     `json:"-"`
	Fields map[string]json.RawMessage `json:"-"`
}

// ParseCommand parses a single control line. The object need not carry a
// "command" field; Name is empty in that case.
func ParseCommand(line []byte) (Command, error) {
	line = bytes.TrimSpace(line)
	if !gjson.ValidBytes(line) {
		return Command{}, fmt.Errorf("%w: malformed JSON", ErrInvalidCommand)
	}
	parsed := gjson.ParseBytes(line)
	if !parsed.IsObject() {
		return Command{}, fmt.Errorf("%w: expected object, got %s", ErrInvalidCommand, parsed.Type)
	}

	// Values are kept as raw text; a repeated key keeps its last value.
	fields := make(map[string]json.RawMessage)
	parsed.ForEach(func(key, value gjson.Result) bool {
		fields[key.String()] = json.RawMessage(value.Raw)
		return true
	})

	cmd := Command{Fields: fields}
	if name := parsed.Get("command"); name.Type == gjson.String {
		cmd.Name = name.String()
	}
	return cmd, nil
}

// Params returns every field other than "command".
func (c Command) Params() map[string]json.RawMessage {
	params := make(map[string]json.RawMessage, len(c.Fields))
	for k, v := range c.Fields {
		if k != "command" {
			params[k] = v
		}
	}
	return params
}

// MarshalJSON encodes the command as the compact object sent to the peer.
func (c Command) MarshalJSON() ([]byte, error) {
	if c.Fields == nil {
		return []byte("{}"), nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(c.Fields); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
