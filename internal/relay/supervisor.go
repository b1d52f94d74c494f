package relay

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/chatrelay/internal/adapter/metrics"
	"github.com/pscheid92/chatrelay/internal/domain"
	"github.com/pscheid92/chatrelay/internal/irc"
	"golang.org/x/time/rate"
)

const (
	DefaultURL               = "wss://irc-ws.chat.twitch.tv:443"
	defaultKeepaliveInterval = 60 * time.Second
	defaultDialTimeout       = 15 * time.Second

	commandTimeout = 5 * time.Second
	stopTimeout    = 10 * time.Second

	// The gateway allows 20 messages per 30 seconds for regular users.
	chatRateBurst  = 20
	chatRateWindow = 30 * time.Second
)

// AuthRejectedFunc is told which identity the gateway refused. It runs on
// its own goroutine and may call back into the Supervisor.
type AuthRejectedFunc func(rejected *domain.Identity)

// Config holds Supervisor tunables. Zero values select defaults.
type Config struct {
	URL               string
	GuestPrefix       string
	KeepaliveInterval time.Duration
	BackoffFloor      time.Duration
	BackoffCeiling    time.Duration
	DialTimeout       time.Duration
}

func (c Config) withDefaults() Config {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.GuestPrefix == "" {
		c.GuestPrefix = irc.DefaultGuestPrefix
	}
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = defaultKeepaliveInterval
	}
	if c.BackoffFloor <= 0 {
		c.BackoffFloor = defaultBackoffFloor
	}
	if c.BackoffCeiling <= 0 {
		c.BackoffCeiling = defaultBackoffCeiling
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = defaultDialTimeout
	}
	return c
}

// Status is a point-in-time view of the Supervisor.
type Status struct {
	State              State         `json:"state"`
	Login              string        `json:"login,omitempty"`
	Nick               string        `json:"nick,omitempty"`
	Channels           []string      `json:"channels"`
	Consumers          int           `json:"consumers"`
	LastReconnectDelay time.Duration `json:"lastReconnectDelay"`
	ReconnectAttempts  int           `json:"reconnectAttempts"`
}

// Supervisor owns the single upstream connection.
type Supervisor struct {
	cmdCh   chan supervisorCmd
	done    chan struct{}
	clock   clockwork.Clock
	dialer  Dialer
	cfg     Config
	metrics *metrics.RelayMetrics
	onAuth  AuthRejectedFunc

	ctx    context.Context
	cancel context.CancelFunc

	// Everything below is owned by the run goroutine.
	state       State
	identity    *domain.Identity
	nick        string
	conn        Conn
	connGen     uint64
	registry    *Registry
	broadcaster *Broadcaster
	backoff     *Backoff
	lastDelay   time.Duration
	attempts    int
	limiter     *rate.Limiter

	reconnectTimer clockwork.Timer
	reconnectGen   uint64

	keepaliveTimer clockwork.Timer
	keepaliveGen   uint64
	pongSeen       bool
}

// NewSupervisor creates a Supervisor and starts its goroutine. It stays
// Disconnected until Connect is called.
func NewSupervisor(cfg Config, dialer Dialer, clock clockwork.Clock, m *metrics.RelayMetrics, onAuthRejected AuthRejectedFunc) *Supervisor {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	s := &Supervisor{
		cmdCh:    make(chan supervisorCmd, 256),
		done:     make(chan struct{}),
		clock:    clock,
		dialer:   dialer,
		cfg:      cfg,
		metrics:  m,
		onAuth:   onAuthRejected,
		ctx:      ctx,
		cancel:   cancel,
		registry: NewRegistry(),
		backoff:  NewBackoff(cfg.BackoffFloor, cfg.BackoffCeiling),
		limiter:  rate.NewLimiter(rate.Every(chatRateWindow/chatRateBurst), chatRateBurst),
	}
	s.broadcaster = NewBroadcaster(s.registry, s.onFirstWatcher, s.onLastWatcher, s.onConsumerEvicted)

	go s.run()
	return s
}

// Connect starts connecting unless a connection is open or opening.
func (s *Supervisor) Connect() {
	s.post(connectCmd{})
}

// SetIdentity replaces the active identity and reconnects immediately with
// it. nil switches to anonymous mode.
func (s *Supervisor) SetIdentity(identity *domain.Identity) error {
	errCh := make(chan error, 1)
	if !s.post(setIdentityCmd{identity: identity.Clone(), reply: errCh}) {
		return domain.ErrStopped
	}
	return s.await(errCh)
}

// Identity returns a copy of the active identity, or nil when anonymous.
func (s *Supervisor) Identity() *domain.Identity {
	replyCh := make(chan *domain.Identity, 1)
	if !s.post(identityCmd{reply: replyCh}) {
		return nil
	}
	timer := s.clock.NewTimer(commandTimeout)
	defer timer.Stop()
	select {
	case id := <-replyCh:
		return id
	case <-timer.Chan():
		slog.Warn("Identity query timed out", "timeout", commandTimeout)
		return nil
	case <-s.done:
		return nil
	}
}

// Register adds a consumer to the fan-out list.
func (s *Supervisor) Register(c Consumer) error {
	errCh := make(chan error, 1)
	if !s.post(registerCmd{consumer: c, reply: errCh}) {
		return domain.ErrStopped
	}
	return s.await(errCh)
}

// Deregister removes a consumer and releases its channel interest.
func (s *Supervisor) Deregister(consumerID string) {
	s.post(deregisterCmd{consumerID: consumerID})
}

// Watch moves a consumer's interest to channel.
func (s *Supervisor) Watch(consumerID, channel string) error {
	channel = irc.NormalizeChannel(channel)
	if channel == "" || strings.ContainsAny(channel, " \r\n") {
		return domain.ErrInvalidChannel
	}
	errCh := make(chan error, 1)
	if !s.post(watchCmd{consumerID: consumerID, channel: channel, reply: errCh}) {
		return domain.ErrStopped
	}
	return s.await(errCh)
}

// Unwatch releases a consumer's interest in channel.
func (s *Supervisor) Unwatch(consumerID, channel string) {
	s.post(unwatchCmd{consumerID: consumerID, channel: irc.NormalizeChannel(channel)})
}

// SendText sends a chat message to channel as the active identity.
func (s *Supervisor) SendText(channel, text string) error {
	channel = irc.NormalizeChannel(channel)
	if channel == "" {
		return domain.ErrInvalidChannel
	}
	errCh := make(chan error, 1)
	if !s.post(sendTextCmd{channel: channel, text: text, reply: errCh}) {
		return domain.ErrStopped
	}
	return s.await(errCh)
}

// Status returns a snapshot of the connection and registry state.
func (s *Supervisor) Status() Status {
	replyCh := make(chan Status, 1)
	if !s.post(statusCmd{reply: replyCh}) {
		return Status{State: Disconnected}
	}
	timer := s.clock.NewTimer(commandTimeout)
	defer timer.Stop()
	select {
	case st := <-replyCh:
		return st
	case <-timer.Chan():
		slog.Warn("Status query timed out", "timeout", commandTimeout)
		return Status{State: Disconnected}
	case <-s.done:
		return Status{State: Disconnected}
	}
}

// Stop closes the upstream connection and ends the Supervisor goroutine.
func (s *Supervisor) Stop() {
	if !s.post(stopCmd{}) {
		return
	}

	timeout := s.clock.NewTimer(stopTimeout)
	defer timeout.Stop()

	select {
	case <-s.done:
		slog.Info("Supervisor stopped gracefully")
	case <-timeout.Chan():
		slog.Warn("Supervisor stop timeout exceeded", "timeout", stopTimeout)
	}
}

func (s *Supervisor) post(cmd supervisorCmd) bool {
	select {
	case s.cmdCh <- cmd:
		return true
	case <-s.done:
		return false
	}
}

func (s *Supervisor) await(errCh chan error) error {
	timer := s.clock.NewTimer(commandTimeout)
	defer timer.Stop()
	select {
	case err := <-errCh:
		return err
	case <-timer.Chan():
		return fmt.Errorf("supervisor command timed out after %v", commandTimeout)
	case <-s.done:
		return domain.ErrStopped
	}
}

func (s *Supervisor) run() {
	defer close(s.done)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Supervisor panic recovered", "panic", r)
			s.shutdown()
		}
	}()

	for cmd := range s.cmdCh {
		switch c := cmd.(type) {
		case connectCmd:
			s.connect()
		case setIdentityCmd:
			s.handleSetIdentity(c.identity)
			c.reply <- nil
		case identityCmd:
			c.reply <- s.identity.Clone()
		case registerCmd:
			err := s.broadcaster.Register(c.consumer)
			s.metrics.Consumers.Set(float64(s.broadcaster.Len()))
			c.reply <- err
		case deregisterCmd:
			s.broadcaster.Deregister(c.consumerID)
			s.metrics.Consumers.Set(float64(s.broadcaster.Len()))
		case watchCmd:
			c.reply <- s.broadcaster.Watch(c.consumerID, c.channel)
		case unwatchCmd:
			s.broadcaster.Unwatch(c.consumerID, c.channel)
		case sendTextCmd:
			c.reply <- s.handleSendText(c.channel, c.text)
		case statusCmd:
			c.reply <- s.status()
		case dialResultCmd:
			s.handleDialResult(c)
		case frameCmd:
			s.handleFrame(c.gen, c.payload)
		case closedCmd:
			s.handleClosed(c.gen, c.err)
		case reconnectTimerCmd:
			s.handleReconnectTimer(c.gen)
		case keepaliveTickCmd:
			s.handleKeepaliveTick(c.gen)
		case stopCmd:
			s.shutdown()
			return
		}
	}
}

func (s *Supervisor) connect() {
	if s.state != Disconnected {
		return
	}
	s.setState(Connecting)
	s.connGen++
	gen := s.connGen

	slog.Info("Connecting to chat gateway", "url", s.cfg.URL, "anonymous", s.identity == nil)

	go func() {
		ctx, cancel := context.WithTimeout(s.ctx, s.cfg.DialTimeout)
		defer cancel()
		conn, err := s.dialer.Dial(ctx, s.cfg.URL)
		if !s.post(dialResultCmd{gen: gen, conn: conn, err: err}) && conn != nil {
			_ = conn.Close()
		}
	}()
}

func (s *Supervisor) handleDialResult(c dialResultCmd) {
	if c.gen != s.connGen || s.state != Connecting {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		return
	}

	if c.err != nil {
		slog.Warn("Chat gateway dial failed", "error", c.err)
		s.metrics.DialFailures.Inc()
		s.closeConnection(true)
		return
	}

	s.conn = c.conn
	go s.readLoop(c.gen, c.conn)

	s.nick = irc.GuestNick(s.cfg.GuestPrefix)
	pass := irc.AnonymousPassword
	if s.identity != nil {
		s.nick = s.identity.Login
		pass = irc.Pass(s.identity.AccessToken)
	}
	s.writeLines(irc.CapabilityRequest, pass, irc.Nick(s.nick))
}

func (s *Supervisor) readLoop(gen uint64, conn Conn) {
	for {
		payload, err := conn.ReadFrame()
		if err != nil {
			s.post(closedCmd{gen: gen, err: err})
			return
		}
		if !s.post(frameCmd{gen: gen, payload: payload}) {
			return
		}
	}
}

func (s *Supervisor) handleFrame(gen uint64, payload string) {
	for _, line := range irc.SplitLines(payload) {
		// An earlier line may have closed this connection.
		if gen != s.connGen || s.conn == nil {
			return
		}
		s.metrics.LinesReceived.Inc()

		if irc.IsPing(line) {
			s.writeLines(irc.Pong)
			continue
		}

		msg := irc.Parse(line)
		if msg == nil {
			continue
		}

		switch msg.Command {
		case irc.CmdWelcome:
			s.handleWelcome()
		case irc.CmdPong:
			s.pongSeen = true
		case irc.CmdReconnect:
			slog.Info("Chat gateway requested reconnect")
			s.closeConnection(true)
		case irc.CmdNotice:
			if isAuthFailure(msg) {
				s.handleAuthRejected()
			}
		}

		if irc.Relayed(msg.Command) {
			s.metrics.MessagesRelayed.WithLabelValues(msg.Command).Inc()
			s.broadcaster.Broadcast(ChatEvent{Message: msg})
		}
	}
}

func (s *Supervisor) handleWelcome() {
	if s.state == Ready {
		return
	}
	s.setState(Ready)
	s.backoff.Reset()
	s.attempts = 0

	channels := s.registry.Channels()
	slog.Info("Chat gateway ready", "nick", s.nick, "channels", len(channels))

	for _, ch := range channels {
		s.writeLines(irc.Join(ch))
	}
	s.armKeepalive(true)
	s.broadcaster.Broadcast(ConnectionEvent{State: Ready})
}

func (s *Supervisor) handleAuthRejected() {
	s.metrics.AuthRejections.Inc()
	rejected := s.identity.Clone()
	if rejected == nil {
		slog.Warn("Chat gateway rejected anonymous login")
		return
	}
	slog.Warn("Chat gateway rejected credentials", "login", rejected.Login)
	if s.onAuth != nil {
		go s.onAuth(rejected)
	}
}

func (s *Supervisor) handleClosed(gen uint64, err error) {
	if gen != s.connGen {
		return
	}
	slog.Info("Chat gateway connection closed", "error", err)
	s.closeConnection(true)
}

func (s *Supervisor) handleSetIdentity(identity *domain.Identity) {
	s.identity = identity
	s.cancelReconnect()
	s.closeConnection(false)
	s.connect()
	s.broadcaster.Broadcast(IdentityEvent{Identity: identity.Clone()})
}

func (s *Supervisor) handleSendText(channel, text string) error {
	if s.identity == nil {
		return domain.ErrNotAuthenticated
	}
	if s.state != Ready {
		return domain.ErrNotReady
	}
	if !s.limiter.AllowN(s.clock.Now(), 1) {
		return domain.ErrRateLimited
	}
	s.writeLines(irc.Privmsg(channel, text))
	return nil
}

// closeConnection tears down the current connection, if any, and moves to
// Disconnected. Commands already queued for the old connection become stale.
func (s *Supervisor) closeConnection(scheduleReconnect bool) {
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.connGen++
	s.stopKeepalive()

	if s.state != Disconnected {
		s.setState(Disconnected)
		s.broadcaster.Broadcast(ConnectionEvent{State: Disconnected})
	}

	if scheduleReconnect {
		s.scheduleReconnect()
	}
}

func (s *Supervisor) scheduleReconnect() {
	if s.reconnectTimer != nil {
		return
	}
	delay := s.backoff.Next()
	s.lastDelay = delay
	s.attempts++
	s.reconnectGen++
	gen := s.reconnectGen

	s.metrics.Reconnects.Inc()
	s.metrics.ReconnectDelay.Set(delay.Seconds())
	slog.Info("Scheduling reconnect", "delay", delay)

	s.reconnectTimer = s.clock.AfterFunc(delay, func() {
		s.post(reconnectTimerCmd{gen: gen})
	})
}

func (s *Supervisor) cancelReconnect() {
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	s.reconnectGen++
}

func (s *Supervisor) handleReconnectTimer(gen uint64) {
	if gen != s.reconnectGen {
		return
	}
	s.reconnectTimer = nil
	s.connect()
}

func (s *Supervisor) armKeepalive(resetPong bool) {
	if resetPong {
		s.pongSeen = true
	}
	s.keepaliveGen++
	gen := s.keepaliveGen
	s.keepaliveTimer = s.clock.AfterFunc(s.cfg.KeepaliveInterval, func() {
		s.post(keepaliveTickCmd{gen: gen})
	})
}

func (s *Supervisor) stopKeepalive() {
	if s.keepaliveTimer != nil {
		s.keepaliveTimer.Stop()
		s.keepaliveTimer = nil
	}
	s.keepaliveGen++
}

func (s *Supervisor) handleKeepaliveTick(gen uint64) {
	if gen != s.keepaliveGen || s.state != Ready {
		return
	}
	s.keepaliveTimer = nil

	if !s.pongSeen {
		slog.Warn("No PONG since last keepalive, closing connection")
		s.metrics.KeepaliveTimeouts.Inc()
		s.closeConnection(true)
		return
	}

	s.pongSeen = false
	s.writeLines(irc.Ping)
	if s.conn != nil {
		s.armKeepalive(false)
	}
}

func (s *Supervisor) onFirstWatcher(channel string) {
	s.metrics.ChannelsJoined.Set(float64(s.registry.Len()))
	if s.state == Ready {
		s.writeLines(irc.Join(channel))
	}
}

func (s *Supervisor) onLastWatcher(channel string) {
	s.metrics.ChannelsJoined.Set(float64(s.registry.Len()))
	if s.state == Ready {
		s.writeLines(irc.Part(channel))
	}
}

func (s *Supervisor) onConsumerEvicted(id string, err error) {
	slog.Info("Consumer evicted", "consumer_id", id, "error", err)
	s.metrics.ConsumerEvictions.Inc()
	s.metrics.Consumers.Set(float64(s.broadcaster.Len()))
}

// writeLines sends lines in order. A failed write closes the connection and
// schedules a reconnect.
func (s *Supervisor) writeLines(lines ...string) {
	for _, line := range lines {
		if s.conn == nil {
			return
		}
		if err := s.conn.WriteLine(line); err != nil {
			slog.Warn("Upstream write failed", "error", err)
			s.closeConnection(true)
			return
		}
	}
}

func (s *Supervisor) setState(state State) {
	s.state = state
	s.metrics.ConnectionState.Set(float64(state))
}

func (s *Supervisor) status() Status {
	st := Status{
		State:              s.state,
		Nick:               s.nick,
		Channels:           s.registry.Channels(),
		Consumers:          s.broadcaster.Len(),
		LastReconnectDelay: s.lastDelay,
		ReconnectAttempts:  s.attempts,
	}
	if s.identity != nil {
		st.Login = s.identity.Login
	}
	return st
}

func (s *Supervisor) shutdown() {
	s.cancelReconnect()
	s.stopKeepalive()
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.connGen++
	s.setState(Disconnected)
	s.cancel()
}

func isAuthFailure(msg *irc.Message) bool {
	return strings.HasPrefix(msg.Trailing, "Login authentication failed") ||
		strings.HasPrefix(msg.Trailing, "Improperly formatted auth") ||
		strings.HasPrefix(msg.Trailing, "Login unsuccessful")
}
