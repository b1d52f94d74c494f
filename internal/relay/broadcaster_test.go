package relay

import (
	"errors"
	"sync"
	"testing"

	"github.com/pscheid92/chatrelay/internal/domain"
	"github.com/pscheid92/chatrelay/internal/irc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingConsumer records delivered events and optionally fails.
type recordingConsumer struct {
	id string

	mu     sync.Mutex
	events []Event
	err    error
}

func newRecordingConsumer(id string) *recordingConsumer {
	return &recordingConsumer{id: id}
}

func (c *recordingConsumer) ID() string { return c.id }

func (c *recordingConsumer) Send(ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.events = append(c.events, ev)
	return nil
}

func (c *recordingConsumer) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

func (c *recordingConsumer) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

type channelLog struct {
	joins []string
	parts []string
}

func newTestBroadcaster() (*Broadcaster, *Registry, *channelLog) {
	log := &channelLog{}
	reg := NewRegistry()
	b := NewBroadcaster(reg,
		func(ch string) { log.joins = append(log.joins, ch) },
		func(ch string) { log.parts = append(log.parts, ch) },
		nil,
	)
	return b, reg, log
}

func chatEvent(raw string) ChatEvent {
	return ChatEvent{Message: irc.Parse(raw)}
}

func TestBroadcaster_TwoConsumersOneJoin(t *testing.T) {
	b, reg, log := newTestBroadcaster()
	a, c := newRecordingConsumer("a"), newRecordingConsumer("b")
	require.NoError(t, b.Register(a))
	require.NoError(t, b.Register(c))

	require.NoError(t, b.Watch("a", "somechannel"))
	require.NoError(t, b.Watch("b", "somechannel"))
	assert.Equal(t, []string{"somechannel"}, log.joins)
	assert.Equal(t, 2, reg.Count("somechannel"))

	b.Unwatch("a", "somechannel")
	assert.Empty(t, log.parts)

	b.Unwatch("b", "somechannel")
	assert.Equal(t, []string{"somechannel"}, log.parts)
	assert.Equal(t, 0, reg.Count("somechannel"))
}

func TestBroadcaster_WatchSwitchReleasesPrevious(t *testing.T) {
	b, reg, log := newTestBroadcaster()
	require.NoError(t, b.Register(newRecordingConsumer("a")))

	require.NoError(t, b.Watch("a", "one"))
	require.NoError(t, b.Watch("a", "one"))
	require.NoError(t, b.Watch("a", "two"))

	assert.Equal(t, []string{"one", "two"}, log.joins)
	assert.Equal(t, []string{"one"}, log.parts)
	assert.Equal(t, []string{"two"}, reg.Channels())
	assert.Equal(t, "two", b.Channel("a"))
}

func TestBroadcaster_DeregisterReleasesOnce(t *testing.T) {
	b, reg, log := newTestBroadcaster()
	require.NoError(t, b.Register(newRecordingConsumer("a")))
	require.NoError(t, b.Watch("a", "c"))

	assert.True(t, b.Deregister("a"))
	assert.False(t, b.Deregister("a"))
	b.Unwatch("a", "c")

	assert.Equal(t, []string{"c"}, log.parts)
	assert.Equal(t, 0, reg.Len())
	assert.Equal(t, 0, b.Len())
}

func TestBroadcaster_RejectsDuplicateAndUnknown(t *testing.T) {
	b, _, _ := newTestBroadcaster()
	require.NoError(t, b.Register(newRecordingConsumer("a")))

	assert.ErrorIs(t, b.Register(newRecordingConsumer("a")), domain.ErrDuplicateConsumer)
	assert.ErrorIs(t, b.Watch("ghost", "c"), domain.ErrUnknownConsumer)
}

func TestBroadcaster_DeliversInRegistrationOrder(t *testing.T) {
	b, _, _ := newTestBroadcaster()
	var order []string
	for _, id := range []string{"first", "second", "third"} {
		require.NoError(t, b.Register(&orderConsumer{id: id, order: &order}))
	}

	b.Broadcast(chatEvent(":u!u@u PRIVMSG #c :hi"))

	assert.Equal(t, []string{"first", "second", "third"}, order)
}

type orderConsumer struct {
	id    string
	order *[]string
}

func (c *orderConsumer) ID() string { return c.id }

func (c *orderConsumer) Send(Event) error {
	*c.order = append(*c.order, c.id)
	return nil
}

func TestBroadcaster_FailingConsumerIsRemoved(t *testing.T) {
	log := &channelLog{}
	reg := NewRegistry()
	var evicted []string
	b := NewBroadcaster(reg,
		func(ch string) { log.joins = append(log.joins, ch) },
		func(ch string) { log.parts = append(log.parts, ch) },
		func(id string, _ error) { evicted = append(evicted, id) },
	)

	bad, good := newRecordingConsumer("bad"), newRecordingConsumer("good")
	require.NoError(t, b.Register(bad))
	require.NoError(t, b.Register(good))
	require.NoError(t, b.Watch("bad", "lonely"))
	bad.fail(errors.New("socket gone"))

	b.Broadcast(chatEvent(":u!u@u PRIVMSG #c :one"))
	b.Broadcast(chatEvent(":u!u@u PRIVMSG #c :two"))

	assert.Equal(t, []string{"bad"}, evicted)
	assert.Equal(t, []string{"lonely"}, log.parts)
	assert.Equal(t, 1, b.Len())
	assert.Len(t, good.Events(), 2)
}

func TestBroadcaster_SendThatDeregistersOthersUsesSnapshot(t *testing.T) {
	b, _, _ := newTestBroadcaster()
	late := newRecordingConsumer("late")
	trigger := &hookConsumer{id: "trigger", hook: func() {
		b.Deregister("late")
	}}
	require.NoError(t, b.Register(trigger))
	require.NoError(t, b.Register(late))

	assert.NotPanics(t, func() {
		b.Broadcast(chatEvent(":u!u@u PRIVMSG #c :x"))
	})
	assert.Equal(t, 1, b.Len())
}

type hookConsumer struct {
	id   string
	hook func()
}

func (c *hookConsumer) ID() string { return c.id }

func (c *hookConsumer) Send(Event) error {
	c.hook()
	return nil
}
