// Package secret provides shared-secret verifiers for mailbox creation.
package secret

import (
	"context"
	"crypto/subtle"
	"strings"
)

// Static is a fixed allowlist of accepted secrets.
// Safe for concurrent use (read-only after creation).
type Static struct {
	secrets [][]byte
}

// NewStatic creates a verifier accepting any of secrets. Empty entries are ignored.
func NewStatic(secrets ...string) *Static {
	s := &Static{}
	for _, v := range secrets {
		if v = strings.TrimSpace(v); v != "" {
			s.secrets = append(s.secrets, []byte(v))
		}
	}
	return s
}

// Parse builds a verifier from a comma-separated list such as "a,b,c".
func Parse(csv string) *Static {
	return NewStatic(strings.Split(csv, ",")...)
}

// Verify reports whether candidate is on the allowlist. Every entry is
// compared in constant time so timing does not reveal which one matched.
func (s *Static) Verify(_ context.Context, candidate string) bool {
	if candidate == "" {
		return false
	}
	c := []byte(candidate)
	matched := 0
	for _, secret := range s.secrets {
		matched |= subtle.ConstantTimeCompare(secret, c)
	}
	return matched == 1
}

// Len returns the number of accepted secrets.
func (s *Static) Len() int {
	return len(s.secrets)
}
