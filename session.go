package mediator

import "sync"

// ChannelState is the secure channel's connection state.
type ChannelState int

const (
	StateNegotiating ChannelState = iota
	StateConnected
	StateClosed
)

func (s ChannelState) String() string {
	switch s {
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session carries what the secure-channel layer knows about the channel a
// management request arrived on, plus the mailbox bound to it.
// The channel layer owns the Session and passes it to every Handle call.
// Safe for concurrent use.
type Session struct {
	// ChannelID identifies the secure channel.
	ChannelID string
	// MultiParty is true for broadcast channels, which cannot manage a mailbox.
	MultiParty bool

	mu        sync.RWMutex
	state     ChannelState
	mailboxID string
}

// NewSession creates a single-party session.
func NewSession(channelID string, state ChannelState) *Session {
	return &Session{ChannelID: channelID, state: state}
}

// State returns the channel state.
func (s *Session) State() ChannelState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SetState records a channel state change.
func (s *Session) SetState(state ChannelState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// MailboxID returns the bound mailbox id, or "" if none.
func (s *Session) MailboxID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mailboxID
}

// Bind binds mailboxID to the session and returns the previous binding.
// Channel layers that persist bindings call it to restore one.
func (s *Session) Bind(mailboxID string) (previous string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	previous, s.mailboxID = s.mailboxID, mailboxID
	return previous
}

// usable reports whether management requests may run on the session.
func (s *Session) usable() bool {
	return s != nil && !s.MultiParty && s.State() == StateConnected
}
