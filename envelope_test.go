package mediator

import (
	"errors"
	"testing"
)

func TestParseForward(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		to      string
		payload string
	}{
		{
			name:    "didcomm type with object msg",
			data:    `{"@type":"https://didcomm.org/routing/1.0/forward","@id":"1","to":"key1","msg":{"protected":"abc"}}`,
			to:      "key1",
			payload: `{"protected":"abc"}`,
		},
		{
			name:    "legacy type",
			data:    `{"@type":"did:sov:BzCbsNYhMrjHiqZDTUASHg;spec/routing/1.0/forward","to":"key2","msg":{"a":1}}`,
			to:      "key2",
			payload: `{"a":1}`,
		},
		{
			name:    "string msg is unquoted",
			data:    `{"@type":"https://didcomm.org/routing/1.0/forward","to":"key3","msg":"{\"ciphertext\":\"x\"}"}`,
			to:      "key3",
			payload: `{"ciphertext":"x"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := ParseForward([]byte(tt.data))
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if env.To != tt.to || string(env.Payload) != tt.payload {
				t.Errorf("got to=%q payload=%s", env.To, env.Payload)
			}
		})
	}

	for name, data := range map[string]string{
		"not json":     `[`,
		"wrong type":   `{"@type":"https://didcomm.org/basic-routing/1.0/add-route","to":"k","msg":{}}`,
		"missing to":   `{"@type":"https://didcomm.org/routing/1.0/forward","msg":{"a":1}}`,
		"missing msg":  `{"@type":"https://didcomm.org/routing/1.0/forward","to":"k"}`,
		"null msg":     `{"@type":"https://didcomm.org/routing/1.0/forward","to":"k","msg":null}`,
		"empty string": `{"@type":"https://didcomm.org/routing/1.0/forward","to":"k","msg":""}`,
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseForward([]byte(data)); !errors.Is(err, ErrInvalidEnvelope) {
				t.Errorf("expected ErrInvalidEnvelope, got %v", err)
			}
		})
	}
}
