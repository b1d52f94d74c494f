package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

const (
	wsWriteDeadline    = 5 * time.Second
	wsHandshakeTimeout = 10 * time.Second
	wsSendBufferSize   = 64
	wsReadLimit        = 1 << 20
)

var errSendBufferFull = errors.New("upstream send buffer full")

// WebSocketDialer dials the chat gateway with gorilla/websocket.
type WebSocketDialer struct {
	clock  clockwork.Clock
	dialer *websocket.Dialer
	header http.Header
}

func NewWebSocketDialer(clock clockwork.Clock) *WebSocketDialer {
	return &WebSocketDialer{
		clock: clock,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: wsHandshakeTimeout,
		},
	}
}

func (d *WebSocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	conn, resp, err := d.dialer.DialContext(ctx, url, d.header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}
	conn.SetReadLimit(wsReadLimit)
	return newWSConn(conn, d.clock), nil
}

// wsConn serializes writes through one goroutine so WriteLine never blocks
// the caller on the network.
type wsConn struct {
	connection  *websocket.Conn
	clock       clockwork.Clock
	sendChannel chan string
	doneChannel chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

func newWSConn(connection *websocket.Conn, clock clockwork.Clock) *wsConn {
	c := &wsConn{
		connection:  connection,
		clock:       clock,
		sendChannel: make(chan string, wsSendBufferSize),
		doneChannel: make(chan struct{}),
	}
	c.wg.Add(1)
	go c.run()
	return c
}

func (c *wsConn) run() {
	defer c.wg.Done()
	for {
		select {
		case line := <-c.sendChannel:
			_ = c.connection.SetWriteDeadline(c.clock.Now().Add(wsWriteDeadline))
			if err := c.connection.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
				_ = c.connection.Close()
				return
			}
		case <-c.doneChannel:
			return
		}
	}
}

func (c *wsConn) WriteLine(line string) error {
	select {
	case <-c.doneChannel:
		return net.ErrClosed
	default:
	}

	select {
	case c.sendChannel <- line:
		return nil
	default:
		return errSendBufferFull
	}
}

func (c *wsConn) ReadFrame() (string, error) {
	_, data, err := c.connection.ReadMessage()
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (c *wsConn) Close() error {
	var err error
	c.stopOnce.Do(func() {
		close(c.doneChannel)
		c.wg.Wait()
		closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.connection.SetWriteDeadline(c.clock.Now().Add(wsWriteDeadline))
		_ = c.connection.WriteMessage(websocket.CloseMessage, closeMsg)
		err = c.connection.Close()
	})
	return err
}
