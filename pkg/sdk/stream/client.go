// Package stream maintains the websocket to the backend's /ws endpoint and
// turns pushed account updates into a channel the desk core can drain. It
// supplements polling, it does not replace it.
package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/deskbot/godesk/pkg/logger"
	"github.com/deskbot/godesk/pkg/syncgroup"
)

const (
	handshakeTimeout     = 10 * time.Second
	pingInterval         = 30 * time.Second
	writeTimeout         = 10 * time.Second
	reconnectBaseDelay   = time.Second
	reconnectMaxDelay    = 30 * time.Second
	maxReconnectAttempts = 10
	updateBufferSize     = 16
)

// WSURL derives the websocket endpoint from the backend's HTTP base URL.
func WSURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", errors.Wrap(err, "parse backend url")
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", errors.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = "/ws"
	u.RawQuery = ""
	return u.String(), nil
}

type Client struct {
	url string
	log *logrus.Entry

	conn   *websocket.Conn
	connMu sync.Mutex

	running bool
	runMu   sync.Mutex

	channels map[string]bool
	chanMu   sync.Mutex

	updates chan AccountUpdate
	group   *syncgroup.SyncGroup
	ctx     context.Context
	cancel  context.CancelFunc

	attempts int
}

func NewClient(wsURL string) *Client {
	return &Client{
		url:      wsURL,
		log:      logger.WithField("component", "stream"),
		channels: make(map[string]bool),
		updates:  make(chan AccountUpdate, updateBufferSize),
		group:    syncgroup.New(),
	}
}

// Updates is the receive side of the pushed account updates. It is never
// closed; stop consuming after Stop.
func (c *Client) Updates() <-chan AccountUpdate {
	return c.updates
}

// Start connects, subscribes to the account channel and launches the read
// and keepalive loops. Returns an error only when the first dial fails.
func (c *Client) Start(ctx context.Context) error {
	c.runMu.Lock()
	if c.running {
		c.runMu.Unlock()
		return errors.New("stream already running")
	}
	c.running = true
	c.runMu.Unlock()

	c.ctx, c.cancel = context.WithCancel(ctx)

	if err := c.connect(); err != nil {
		c.runMu.Lock()
		c.running = false
		c.runMu.Unlock()
		return errors.Wrap(err, "stream connect")
	}
	if err := c.Subscribe(ChannelAccount); err != nil {
		c.log.Warnf("initial subscribe failed: %v", err)
	}

	c.group.Go(c.readLoop)
	c.group.Go(c.pingLoop)

	c.log.Infof("connected to %s", c.url)
	return nil
}

// Stop closes the connection and waits for the loops to return. Safe to
// call more than once.
func (c *Client) Stop() {
	c.runMu.Lock()
	if !c.running {
		c.runMu.Unlock()
		return
	}
	c.running = false
	c.runMu.Unlock()

	c.cancel()
	c.closeConn(true)
	c.group.Wait()
	c.log.Info("stopped")
}

// Subscribe asks the backend for pushes on a channel. Subscriptions are
// remembered and replayed after a reconnect.
func (c *Client) Subscribe(channel string) error {
	c.chanMu.Lock()
	c.channels[channel] = true
	c.chanMu.Unlock()
	return c.send(envelope{Type: typeSubscribe, Channel: channel})
}

func (c *Client) connect() error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	headers := http.Header{}
	headers.Set("User-Agent", "godesk-client")

	conn, _, err := dialer.DialContext(c.ctx, c.url, headers)
	if err != nil {
		return err
	}

	c.connMu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = conn
	c.connMu.Unlock()

	c.attempts = 0
	return nil
}

func (c *Client) closeConn(sendClose bool) {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return
	}
	if sendClose {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeTimeout))
	}
	_ = c.conn.Close()
	c.conn = nil
}

func (c *Client) send(msg envelope) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return errors.New("not connected")
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(msg)
}

func (c *Client) resubscribe() {
	c.chanMu.Lock()
	channels := make([]string, 0, len(c.channels))
	for ch := range c.channels {
		channels = append(channels, ch)
	}
	c.chanMu.Unlock()

	for _, ch := range channels {
		if err := c.send(envelope{Type: typeSubscribe, Channel: ch}); err != nil {
			c.log.Warnf("resubscribe %s: %v", ch, err)
		}
	}
}

func (c *Client) readLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()
		if conn == nil {
			if !c.reconnect() {
				return
			}
			continue
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			c.closeConn(false)
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("server closed the stream")
			} else {
				select {
				case <-c.ctx.Done():
					return
				default:
					c.log.Warnf("read error: %v", err)
				}
			}
			if !c.reconnect() {
				return
			}
			continue
		}

		c.handle(data)
	}
}

func (c *Client) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.connMu.Lock()
			conn := c.conn
			c.connMu.Unlock()
			if conn == nil {
				continue
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				c.log.Debugf("ping failed: %v", err)
			}
		}
	}
}

// reconnect dials again with linear backoff capped at reconnectMaxDelay.
// Returns false when the attempt budget is spent or the client is stopping.
func (c *Client) reconnect() bool {
	select {
	case <-c.ctx.Done():
		return false
	default:
	}

	c.attempts++
	if c.attempts > maxReconnectAttempts {
		c.log.Errorf("giving up after %d reconnect attempts", maxReconnectAttempts)
		return false
	}

	delay := reconnectBaseDelay * time.Duration(c.attempts)
	if delay > reconnectMaxDelay {
		delay = reconnectMaxDelay
	}
	c.log.Infof("reconnecting in %v (attempt %d/%d)", delay, c.attempts, maxReconnectAttempts)

	select {
	case <-c.ctx.Done():
		return false
	case <-time.After(delay):
	}

	if err := c.connect(); err != nil {
		c.log.Warnf("reconnect failed: %v", err)
		return true
	}
	c.resubscribe()
	return true
}

func (c *Client) handle(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.log.Debugf("dropping unparseable frame: %v", err)
		return
	}

	switch env.Type {
	case typeSubscribed:
		c.log.Debugf("subscribed to %s", env.Channel)
	case typeAccountUpdate:
		var upd AccountUpdate
		if err := json.Unmarshal(env.Data, &upd); err != nil {
			c.log.Debugf("bad account_update payload: %v", err)
			return
		}
		select {
		case c.updates <- upd:
		default:
			// Consumer is behind; the next poll catches it up.
			c.log.Debug("update buffer full, dropping push")
		}
	default:
		c.log.Debugf("ignoring frame type %q", env.Type)
	}
}
