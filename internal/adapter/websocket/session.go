package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/chatrelay/internal/adapter/metrics"
	"github.com/pscheid92/chatrelay/internal/domain"
	"github.com/pscheid92/chatrelay/internal/irc"
	"github.com/pscheid92/chatrelay/internal/merge"
	"github.com/pscheid92/chatrelay/internal/relay"
)

const (
	backfillTimeout = 20 * time.Second
	profileTimeout  = 10 * time.Second
	maxMessageSize  = 8 << 10
)

var (
	errSlowConsumer  = errors.New("consumer send buffer full")
	errSessionClosed = errors.New("consumer session closed")
)

// Relay is the part of the Supervisor a session drives.
type Relay interface {
	Register(c relay.Consumer) error
	Deregister(consumerID string)
	Watch(consumerID, channel string) error
	Unwatch(consumerID, channel string)
	SendText(channel, text string) error
	Identity() *domain.Identity
}

// Backfill loads a channel's recent history.
type Backfill interface {
	Recent(ctx context.Context, channel string) []*irc.Message
}

// Profiles resolves profile metadata on behalf of the active identity.
type Profiles interface {
	Profile(ctx context.Context, login string) (*domain.Profile, error)
}

// Session is one consumer connection. It filters relayed events down to the
// watched channel, runs them through the consumer's merge view and queues
// them for the writer. Send is called from the Supervisor goroutine and so
// never blocks and never calls back into the relay.
type Session struct {
	id       string
	conn     *websocket.Conn
	writer   *clientWriter
	view     *merge.View
	relay    Relay
	backfill Backfill
	profiles Profiles
	metrics  *metrics.WebSocketMetrics

	ctx    context.Context
	cancel context.CancelFunc
}

func newSession(ctx context.Context, id string, conn *websocket.Conn, clock clockwork.Clock, r Relay, backfill Backfill, profiles Profiles, messageCap int, m *metrics.WebSocketMetrics) *Session {
	ctx, cancel := context.WithCancel(ctx)
	return &Session{
		id:       id,
		conn:     conn,
		writer:   newClientWriter(conn, clock, m),
		view:     merge.NewView(messageCap),
		relay:    r,
		backfill: backfill,
		profiles: profiles,
		metrics:  m,
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (s *Session) ID() string { return s.id }

// Send implements relay.Consumer.
func (s *Session) Send(ev relay.Event) error {
	switch ev := ev.(type) {
	case relay.ChatEvent:
		accepted, watching := s.view.AcceptFor(ev.Message.Channel, ev.Message)
		if !watching {
			return nil
		}
		if !accepted {
			if s.metrics != nil {
				s.metrics.Duplicates.Inc()
			}
			return nil
		}
		return s.push(chatEvent{Type: evChat, Message: ev.Message})
	case relay.IdentityEvent:
		return s.push(identityEvent{Type: evIdentity, Identity: publicIdentity(ev.Identity)})
	case relay.ConnectionEvent:
		return s.push(connectionEvent{Type: evConnection, State: ev.State})
	default:
		return nil
	}
}

// push queues an event. A full queue drops the consumer; the connection is
// closed on another goroutine.
func (s *Session) push(ev any) error {
	frame, err := json.Marshal(ev)
	if err != nil {
		slog.ErrorContext(s.ctx, "Failed to encode consumer event", "error", err)
		return nil
	}
	if s.writer.enqueue(frame) {
		return nil
	}
	if s.writer.stopped() {
		return errSessionClosed
	}
	if s.metrics != nil {
		s.metrics.SlowDisconnects.Inc()
	}
	go s.writer.stopGraceful(websocket.ClosePolicyViolation, "too slow")
	return errSlowConsumer
}

// run reads commands until the connection fails or ctx ends, then
// deregisters from the relay.
func (s *Session) run() {
	defer s.close()

	if err := s.relay.Register(s); err != nil {
		slog.WarnContext(s.ctx, "Consumer registration failed", "error", err)
		return
	}
	defer s.relay.Deregister(s.id)

	_ = s.push(identityEvent{Type: evIdentity, Identity: publicIdentity(s.relay.Identity())})

	s.conn.SetReadLimit(maxMessageSize)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.DebugContext(s.ctx, "Consumer read failed", "error", err)
			}
			return
		}
		s.writer.updateReadDeadline()
		s.handle(data)
	}
}

func (s *Session) handle(data []byte) {
	cmd, err := decodeCommand(data)
	if err != nil {
		s.pushError("", err)
		return
	}
	if s.metrics != nil {
		s.metrics.CommandsReceived.WithLabelValues(commandLabel(cmd.Type)).Inc()
	}

	switch cmd.Type {
	case cmdWatch:
		s.watch(cmd.Channel)
	case cmdUnwatch:
		s.unwatch(cmd.Channel)
	case cmdSendText:
		s.sendText(cmd.Channel, cmd.Text)
	case cmdRequestProfile:
		s.requestProfile(cmd.Login)
	case cmdHistory:
		_ = s.push(messagesEvent{Type: evHistory, Channel: s.view.Channel(), Messages: s.view.Messages()})
	default:
		_ = s.push(errorEvent{Type: evError, Error: "unknown command", Code: codeUnknownCommand, Command: cmd.Type})
	}
}

func (s *Session) watch(channel string) {
	channel = irc.NormalizeChannel(channel)
	if channel == "" {
		s.pushError(cmdWatch, domain.ErrInvalidChannel)
		return
	}

	previous := s.view.Channel()
	if previous == channel {
		_ = s.push(identityEvent{Type: evIdentity, Identity: publicIdentity(s.relay.Identity())})
		return
	}

	s.view.Reset(channel)
	if err := s.relay.Watch(s.id, channel); err != nil {
		s.view.Reset(previous)
		s.pushError(cmdWatch, err)
		return
	}

	_ = s.push(identityEvent{Type: evIdentity, Identity: publicIdentity(s.relay.Identity())})
	go s.loadBackfill(channel)
}

func (s *Session) unwatch(channel string) {
	channel = irc.NormalizeChannel(channel)
	if channel == "" {
		channel = s.view.Channel()
	}
	s.relay.Unwatch(s.id, channel)
	if s.view.Channel() == channel {
		s.view.Reset("")
	}
}

func (s *Session) sendText(channel, text string) {
	if channel == "" {
		channel = s.view.Channel()
	}
	if err := s.relay.SendText(channel, text); err != nil {
		s.pushError(cmdSendText, err)
	}
}

func (s *Session) loadBackfill(channel string) {
	if s.backfill == nil {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, backfillTimeout)
	defer cancel()

	batch := s.backfill.Recent(ctx, channel)
	accepted, ok := s.view.MergeBackfillFor(channel, batch)
	if !ok {
		slog.DebugContext(ctx, "Discarding backfill for abandoned channel", "channel", channel)
		return
	}
	_ = s.push(messagesEvent{Type: evBackfill, Channel: channel, Messages: accepted})
}

func (s *Session) requestProfile(login string) {
	login = irc.NormalizeChannel(login)
	if login == "" || s.profiles == nil {
		_ = s.push(profileEvent{Type: evProfile, Login: login})
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(s.ctx, profileTimeout)
		defer cancel()

		profile, err := s.profiles.Profile(ctx, login)
		if err != nil {
			slog.WarnContext(ctx, "Profile lookup failed", "login", login, "error", err)
			profile = nil
		}
		_ = s.push(profileEvent{Type: evProfile, Login: login, Profile: profile})
	}()
}

func (s *Session) pushError(command string, err error) {
	_ = s.push(errorEvent{Type: evError, Error: err.Error(), Code: errorCode(err), Command: command})
}

func (s *Session) close() {
	s.cancel()
	s.writer.stop()
}

// publicIdentity keeps tokens off the wire. Identity already hides them in
// JSON; the copy keeps the relay's value untouched.
func publicIdentity(identity *domain.Identity) *domain.Identity {
	if identity == nil {
		return nil
	}
	return &domain.Identity{UserID: identity.UserID, Login: identity.Login, DisplayName: identity.DisplayName}
}

func commandLabel(t string) string {
	switch t {
	case cmdWatch, cmdUnwatch, cmdSendText, cmdRequestProfile, cmdHistory:
		return t
	default:
		return "unknown"
	}
}
