// Package merge combines a channel's historical backfill with its live
// message stream for one consumer.
package merge

import (
	"slices"
	"strings"
	"sync"

	"github.com/pscheid92/chatrelay/internal/irc"
)

// View is one consumer's picture of a channel: the buffered messages plus
// the ids already delivered. Live messages and backfill share the same id
// set, so a message is accepted at most once whichever path it takes.
type View struct {
	mu       sync.Mutex
	capacity int
	channel  string
	seen     *SeenIDs
	messages []*irc.Message
}

// NewView creates a view holding at most capacity messages and ids.
func NewView(capacity int) *View {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &View{capacity: capacity, seen: NewSeenIDs(capacity)}
}

// Reset starts over for a new channel.
func (v *View) Reset(channel string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.channel = channel
	v.seen.Clear()
	v.messages = nil
}

func (v *View) Channel() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.channel
}

// AcceptFor applies one live message relayed on channel and reports whether
// it should be delivered. Moderation commands always apply; other messages
// are dropped when their id was already seen. The second result is false,
// and nothing is applied, unless the view currently shows channel.
func (v *View) AcceptFor(channel string, msg *irc.Message) (accepted, watching bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.channel == "" || v.channel != channel {
		return false, false
	}
	return v.apply(msg), true
}

// MergeBackfillFor applies a historical batch in order and returns the
// messages that were accepted. It merges only while the view still shows
// channel; the second result is false when the view moved on.
func (v *View) MergeBackfillFor(channel string, batch []*irc.Message) ([]*irc.Message, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.channel != channel {
		return nil, false
	}
	return v.merge(batch), true
}

// Messages returns the buffered messages, oldest first.
func (v *View) Messages() []*irc.Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	return slices.Clone(v.messages)
}

func (v *View) merge(batch []*irc.Message) []*irc.Message {
	accepted := make([]*irc.Message, 0, len(batch))
	for _, msg := range batch {
		if v.apply(msg) {
			accepted = append(accepted, msg)
		}
	}
	return accepted
}

func (v *View) apply(msg *irc.Message) bool {
	switch msg.Command {
	case irc.CmdClearChat:
		v.clearChat(msg.Trailing)
		return true
	case irc.CmdClearMsg:
		v.clearMessage(msg.Tag("target-msg-id"))
		return true
	}

	if id := msg.ID(); id != "" && !v.seen.Add(id) {
		return false
	}

	v.messages = append(v.messages, msg)
	if over := len(v.messages) - v.capacity; over > 0 {
		v.messages = slices.Delete(v.messages, 0, over)
	}
	return true
}

// clearChat wipes the buffer, or only one user's lines when login is set.
func (v *View) clearChat(login string) {
	if login == "" {
		v.messages = nil
		return
	}
	v.messages = slices.DeleteFunc(v.messages, func(m *irc.Message) bool {
		return strings.EqualFold(m.Username, login) || strings.EqualFold(m.Tag("login"), login)
	})
}

func (v *View) clearMessage(targetID string) {
	if targetID == "" {
		return
	}
	v.messages = slices.DeleteFunc(v.messages, func(m *irc.Message) bool {
		return m.ID() == targetID
	})
}
