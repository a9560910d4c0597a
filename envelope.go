package mediator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ForwardMessageType is the message type suffix of a forward envelope.
// Both "did:sov:BzCbsNYhMrjHiqZDTUASHg;spec/routing/1.0/forward" and
// "https://didcomm.org/routing/1.0/forward" match.
const ForwardMessageType = "routing/1.0/forward"

// Envelope is an opaque payload addressed to a relay key.
type Envelope struct {
	// To is the destination relay key.
	To string
	// Payload is queued as-is. The mediator never decrypts it.
	Payload []byte
}

type forwardMessage struct {
	Type string          `json:"@type"`
	ID   string          `json:"@id,omitempty"`
	To   string          `json:"to"`
	Msg  json.RawMessage `json:"msg"`
}

// ParseForward decodes a forward message into an Envelope.
// The msg field may be a JSON object or a JSON string; either way its
// bytes become the payload.
func ParseForward(data []byte) (Envelope, error) {
	var m forwardMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if !strings.HasSuffix(m.Type, ForwardMessageType) {
		return Envelope{}, fmt.Errorf("%w: unexpected type %q", ErrInvalidEnvelope, m.Type)
	}

	env := Envelope{To: m.To}
	msg := bytes.TrimSpace(m.Msg)
	if len(msg) > 0 && msg[0] == '"' {
		var s string
		if err := json.Unmarshal(msg, &s); err != nil {
			return Envelope{}, fmt.Errorf("%w: msg: %v", ErrInvalidEnvelope, err)
		}
		env.Payload = []byte(s)
	} else {
		env.Payload = msg
	}

	if err := env.validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

func (e Envelope) validate() error {
	if e.To == "" {
		return fmt.Errorf("%w: missing destination", ErrInvalidEnvelope)
	}
	if len(e.Payload) == 0 || bytes.Equal(e.Payload, []byte("null")) {
		return fmt.Errorf("%w: missing message", ErrInvalidEnvelope)
	}
	return nil
}
