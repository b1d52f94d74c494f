package relay

import (
	"github.com/pscheid92/chatrelay/internal/domain"
	"github.com/pscheid92/chatrelay/internal/irc"
)

// Event is delivered to every registered consumer.
type Event interface{ isEvent() }

type baseEvent struct{}

func (baseEvent) isEvent() {}

// ChatEvent carries one relayed protocol message.
type ChatEvent struct {
	baseEvent
	Message *irc.Message
}

// IdentityEvent announces a new active identity; nil means anonymous.
type IdentityEvent struct {
	baseEvent
	Identity *domain.Identity
}

// ConnectionEvent announces an upstream state transition.
type ConnectionEvent struct {
	baseEvent
	State State
}

// Consumer receives events. Send must not block; an error means the
// consumer is gone and it will be removed.
type Consumer interface {
	ID() string
	Send(ev Event) error
}
