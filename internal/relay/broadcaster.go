package relay

import (
	"log/slog"
	"slices"

	"github.com/pscheid92/chatrelay/internal/domain"
)

type consumerEntry struct {
	consumer Consumer
	channel  string
}

// Broadcaster keeps consumers in registration order and owns the channel
// interest each of them holds in the Registry. It is not safe for
// concurrent use; the Supervisor goroutine owns it.
type Broadcaster struct {
	registry  *Registry
	consumers []*consumerEntry
	onJoin    func(channel string)
	onPart    func(channel string)
	onEvict   func(id string, err error)
}

// NewBroadcaster creates a broadcaster on top of registry.
// onJoin is called when a channel gains its first watcher.
// onPart is called when a channel loses its last watcher.
// onEvict is called after a consumer is dropped for a failed Send.
func NewBroadcaster(registry *Registry, onJoin, onPart func(string), onEvict func(string, error)) *Broadcaster {
	noop := func(string) {}
	if onJoin == nil {
		onJoin = noop
	}
	if onPart == nil {
		onPart = noop
	}
	if onEvict == nil {
		onEvict = func(string, error) {}
	}
	return &Broadcaster{registry: registry, onJoin: onJoin, onPart: onPart, onEvict: onEvict}
}

func (b *Broadcaster) Register(c Consumer) error {
	if b.find(c.ID()) >= 0 {
		return domain.ErrDuplicateConsumer
	}
	b.consumers = append(b.consumers, &consumerEntry{consumer: c})
	return nil
}

// Deregister removes a consumer and releases its channel interest. Unknown
// ids are ignored, so release happens at most once.
func (b *Broadcaster) Deregister(id string) bool {
	i := b.find(id)
	if i < 0 {
		return false
	}
	entry := b.consumers[i]
	b.consumers = slices.Delete(b.consumers, i, i+1)
	b.release(entry)
	return true
}

// Watch points a consumer at channel, releasing any channel it watched
// before. Watching the current channel again is a no-op.
func (b *Broadcaster) Watch(id, channel string) error {
	i := b.find(id)
	if i < 0 {
		return domain.ErrUnknownConsumer
	}
	entry := b.consumers[i]
	if entry.channel == channel {
		return nil
	}
	b.release(entry)
	entry.channel = channel
	if b.registry.Join(channel) {
		b.onJoin(channel)
	}
	return nil
}

// Unwatch releases the consumer's interest in channel if it holds it.
func (b *Broadcaster) Unwatch(id, channel string) {
	i := b.find(id)
	if i < 0 {
		return
	}
	entry := b.consumers[i]
	if entry.channel != channel {
		return
	}
	b.release(entry)
}

// Broadcast delivers ev to every consumer registered when the call began.
// Consumers whose Send fails are removed; delivery to the rest continues.
func (b *Broadcaster) Broadcast(ev Event) {
	snapshot := slices.Clone(b.consumers)
	for _, entry := range snapshot {
		if err := entry.consumer.Send(ev); err != nil {
			id := entry.consumer.ID()
			slog.Debug("Dropping consumer after failed send", "consumer_id", id, "error", err)
			if b.Deregister(id) {
				b.onEvict(id, err)
			}
		}
	}
}

// Channel returns the channel a consumer watches, or "".
func (b *Broadcaster) Channel(id string) string {
	if i := b.find(id); i >= 0 {
		return b.consumers[i].channel
	}
	return ""
}

func (b *Broadcaster) Len() int {
	return len(b.consumers)
}

func (b *Broadcaster) release(entry *consumerEntry) {
	if entry.channel == "" {
		return
	}
	channel := entry.channel
	entry.channel = ""
	if b.registry.Part(channel) {
		b.onPart(channel)
	}
}

func (b *Broadcaster) find(id string) int {
	return slices.IndexFunc(b.consumers, func(e *consumerEntry) bool {
		return e.consumer.ID() == id
	})
}
