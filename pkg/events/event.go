// Package events defines the lifecycle and response events written to the
// host's event channel, and the Emitter that writes them.
//
// Every event is one compact JSON object on its own line, with "type" as the
// first key:
//
//	{"type":"asbplayer_connected","client":"10.0.0.5:51000"}
package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

const (
	TypeServerReady    = "asbplayer_server_ready"
	TypeConnected      = "asbplayer_connected"
	TypeDisconnected   = "asbplayer_disconnected"
	TypeResponse       = "asbplayer_response"
	TypeServerError    = "asbplayer_server_error"
	TypeServerShutdown = "asbplayer_server_shutdown"
)

// Shutdown reasons.
const (
	ReasonKeyboardInterrupt = "keyboard_interrupt"
	ReasonTerminated        = "terminated"
)

// Event is a typed envelope over an open set of payload fields.
type Event struct {
	Type   string
	Fields map[string]any
}

func newEvent(typ string, key string, value any) Event {
	return Event{Type: typ, Fields: map[string]any{key: value}}
}

func Ready(url string) Event { return newEvent(TypeServerReady, "url", url) }

func Connected(client string) Event { return newEvent(TypeConnected, "client", client) }

func Disconnected(client string) Event { return newEvent(TypeDisconnected, "client", client) }

// Response wraps a JSON payload received from the peer. data must be valid JSON.
func Response(data json.RawMessage) Event { return newEvent(TypeResponse, "data", data) }

func ServerError(err error) Event { return newEvent(TypeServerError, "error", err.Error()) }

func Shutdown(reason string) Event { return newEvent(TypeServerShutdown, "reason", reason) }

// MarshalJSON writes "type" first, then the payload fields in key order.
// HTML characters are left unescaped so subtitle text reaches the host as sent.
func (e Event) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	buf.WriteString(`{"type":`)
	if err := enc.Encode(e.Type); err != nil {
		return nil, err
	}
	trimNewline(&buf)

	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		if k == "type" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		buf.WriteByte(',')
		if err := enc.Encode(k); err != nil {
			return nil, err
		}
		trimNewline(&buf)
		buf.WriteByte(':')
		if err := enc.Encode(e.Fields[k]); err != nil {
			return nil, fmt.Errorf("encoding event field %q: %w", k, err)
		}
		trimNewline(&buf)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func trimNewline(buf *bytes.Buffer) {
	if n := buf.Len(); n > 0 && buf.Bytes()[n-1] == '\n' {
		buf.Truncate(n - 1)
	}
}
