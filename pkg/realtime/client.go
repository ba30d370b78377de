package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ConnState is the websocket client's connection lifecycle state.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnectedUnacked
	StateConnectedAcked
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnectedUnacked:
		return "connected_unacked"
	case StateConnectedAcked:
		return "connected_acked"
	default:
		return fmt.Sprintf("ConnState(%d)", int32(s))
	}
}

var (
	// ErrAlreadyConnected is returned by Connect on a client that is not
	// disconnected.
	ErrAlreadyConnected = errors.New("realtime: client already connected")

	// ErrNotAcked is returned by Subscribe before the server has
	// acknowledged the connection.
	ErrNotAcked = errors.New("realtime: connection not acknowledged")
)

// AuthFunc mints connection- or subscription-level credentials. An empty
// channel requests connection-level material. The client never caches the
// result: every connect and every subscribe asks again.
type AuthFunc func(ctx context.Context, channel string) (AuthMaterial, error)

// EventHandler receives each event delivered to one subscription.
type EventHandler func(msg *Message)

// ErrorHandler receives error frames addressed to one subscription.
type ErrorHandler func(errs []MessageError)

// ClientConfig configures a Client.
type ClientConfig struct {
	// URL is the websocket endpoint.
	URL string

	// Auth mints credentials. Required.
	Auth AuthFunc

	// OnDisconnect, when set, is called from its own goroutine after the
	// transport drops, whether by server close, read failure, or the
	// acknowledgement timer expiring. Reconnection policy belongs to the
	// caller; subscriptions do not survive the drop and must be
	// re-established with fresh credentials.
	OnDisconnect func()

	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

type subscription struct {
	channel string
	handler EventHandler
	onError ErrorHandler
}

// Client is the subscriber side of the realtime transport. It tracks the
// connection lifecycle, routes data frames to local subscriptions, and
// enforces the keep-alive contract: a connection_ack arms a liveness timer,
// each ka frame cancels it, and an expired timer tears the connection down.
type Client struct {
	cfg    ClientConfig
	logger *slog.Logger

	mu       sync.Mutex
	state    ConnState
	conn     *websocket.Conn
	subs     map[string]*subscription
	ackTimer *time.Timer

	writeMu sync.Mutex
}

// NewClient builds a disconnected client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("realtime: client URL is required")
	}
	if cfg.Auth == nil {
		return nil, errors.New("realtime: client Auth is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		logger: logger,
		subs:   make(map[string]*subscription),
	}, nil
}

// State returns the current connection state.
func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// authSubprotocols builds the two-element subprotocol list that smuggles the
// connection credentials into the websocket handshake: the protocol name and
// a "header-" entry holding the base64url-encoded (unpadded) auth JSON.
func authSubprotocols(auth AuthMaterial) ([]string, error) {
	encoded, err := json.Marshal(auth)
	if err != nil {
		return nil, fmt.Errorf("realtime: encoding connection auth: %w", err)
	}
	return []string{
		"aws-appsync-event-ws",
		"header-" + base64.RawURLEncoding.EncodeToString(encoded),
	}, nil
}

// Connect dials the endpoint, sends connection_init, and starts the read
// loop. It returns once the socket is open; acknowledgement arrives
// asynchronously and gates Subscribe.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.state = StateConnecting
	c.mu.Unlock()

	auth, err := c.cfg.Auth(ctx, "")
	if err != nil {
		c.setDisconnected()
		return fmt.Errorf("realtime: minting connection auth: %w", err)
	}
	protocols, err := authSubprotocols(auth)
	if err != nil {
		c.setDisconnected()
		return err
	}

	dialer := c.cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	d := *dialer
	d.Subprotocols = protocols

	conn, _, err := d.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		c.setDisconnected()
		return fmt.Errorf("realtime: dialing %s: %w", c.cfg.URL, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.state = StateConnectedUnacked
	c.mu.Unlock()

	if err := c.writeJSON(&Message{Type: MessageConnectionInit}); err != nil {
		c.teardown(false)
		return fmt.Errorf("realtime: sending connection_init: %w", err)
	}

	go c.readLoop(conn)
	return nil
}

// Subscribe registers a handler under a caller-chosen local id and sends the
// subscribe frame with freshly minted channel credentials. The connection
// must already be acknowledged. Error frames for the subscription are routed
// to onError; there is no transport-level retry.
func (c *Client) Subscribe(ctx context.Context, id, channel string, handler EventHandler, onError ErrorHandler) error {
	c.mu.Lock()
	if c.state != StateConnectedAcked {
		c.mu.Unlock()
		return ErrNotAcked
	}
	if _, exists := c.subs[id]; exists {
		c.mu.Unlock()
		return fmt.Errorf("realtime: subscription id %q already in use", id)
	}
	c.mu.Unlock()

	auth, err := c.cfg.Auth(ctx, channel)
	if err != nil {
		return fmt.Errorf("realtime: minting subscribe auth for %s: %w", channel, err)
	}

	c.mu.Lock()
	c.subs[id] = &subscription{channel: channel, handler: handler, onError: onError}
	c.mu.Unlock()

	err = c.writeJSON(&Message{
		Type:          MessageSubscribe,
		ID:            id,
		Channel:       channel,
		Authorization: auth,
	})
	if err != nil {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
		return fmt.Errorf("realtime: sending subscribe for %s: %w", channel, err)
	}
	return nil
}

// Unsubscribe drops the local handler immediately and tells the server to
// stop delivery. Frames still in flight for the id are discarded. Unknown
// ids are a no-op.
func (c *Client) Unsubscribe(id string) error {
	c.mu.Lock()
	_, known := c.subs[id]
	delete(c.subs, id)
	connected := c.conn != nil && c.state == StateConnectedAcked
	c.mu.Unlock()

	if !known || !connected {
		return nil
	}
	if err := c.writeJSON(&Message{Type: MessageUnsubscribe, ID: id}); err != nil {
		return fmt.Errorf("realtime: sending unsubscribe for %q: %w", id, err)
	}
	return nil
}

// Close tears the connection down without invoking OnDisconnect.
func (c *Client) Close() error {
	c.teardown(false)
	return nil
}

func (c *Client) setDisconnected() {
	c.mu.Lock()
	c.state = StateDisconnected
	c.mu.Unlock()
}

// teardown closes the socket, cancels the liveness timer, and invalidates
// every subscription. Handlers registered before the drop never fire again.
func (c *Client) teardown(notify bool) {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	if c.ackTimer != nil {
		c.ackTimer.Stop()
		c.ackTimer = nil
	}
	c.subs = make(map[string]*subscription)
	wasConnected := c.state != StateDisconnected
	c.state = StateDisconnected
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if notify && wasConnected && c.cfg.OnDisconnect != nil {
		go c.cfg.OnDisconnect()
	}
}

func (c *Client) writeJSON(msg *Message) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errors.New("realtime: not connected")
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(msg)
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			c.mu.Lock()
			stale := c.conn != conn
			c.mu.Unlock()
			if !stale {
				c.logger.Debug("realtime connection closed", "error", err)
				c.teardown(true)
			}
			return
		}
		c.handle(conn, &msg)
	}
}

func (c *Client) handle(conn *websocket.Conn, msg *Message) {
	switch msg.Type {
	case MessageConnectionAck:
		c.onAck(conn, msg.ConnectionTimeoutMs)

	case MessageKeepAlive:
		// A keep-alive only proves the connection was alive; it cancels
		// the pending deadline but does not start a new one. Only the
		// next connection_ack re-arms the timer.
		c.mu.Lock()
		if c.ackTimer != nil {
			c.ackTimer.Stop()
			c.ackTimer = nil
		}
		c.mu.Unlock()

	case MessageData:
		c.mu.Lock()
		sub := c.subs[msg.ID]
		c.mu.Unlock()
		if sub == nil {
			// Late frame for an unsubscribed or unknown id.
			c.logger.Debug("dropping data frame for unknown subscription", "id", msg.ID)
			return
		}
		sub.handler(msg)

	case MessageSubscribeError, MessageUnsubscribeError, MessageBroadcastError:
		c.mu.Lock()
		sub := c.subs[msg.ID]
		c.mu.Unlock()
		if sub == nil || sub.onError == nil {
			c.logger.Debug("dropping error frame without subscriber",
				"type", msg.Type, "id", msg.ID)
			return
		}
		sub.onError(msg.Errors)

	case MessageSubscribeSuccess, MessageUnsubscribeSuccess:
		c.logger.Debug("subscription state change confirmed", "type", msg.Type, "id", msg.ID)

	default:
		// Liberal receiver: unknown frame types are ignored.
		c.logger.Debug("ignoring unknown frame type", "type", msg.Type)
	}
}

func (c *Client) onAck(conn *websocket.Conn, timeoutMs int) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.state = StateConnectedAcked
	if c.ackTimer != nil {
		c.ackTimer.Stop()
	}
	if timeoutMs > 0 {
		c.ackTimer = time.AfterFunc(time.Duration(timeoutMs)*time.Millisecond, func() {
			c.logger.Warn("realtime connection timed out waiting for keep-alive")
			c.teardown(true)
		})
	} else {
		c.ackTimer = nil
	}
	c.mu.Unlock()
}
