package transport

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ConnState is the connection lifecycle state.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateErrored
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateErrored:
		return "errored"
	default:
		return "disconnected"
	}
}

type connEvent int

const (
	eventDial connEvent = iota
	eventDialSucceeded
	eventDialFailed
	eventConnLost
	eventClosed
)

// transition is the pure state function; effects (timers, writes,
// callbacks) are decided by the caller from the state it returns.
func transition(s ConnState, ev connEvent) ConnState {
	switch ev {
	case eventDial:
		return StateConnecting
	case eventDialSucceeded:
		return StateConnected
	case eventDialFailed, eventConnLost:
		return StateErrored
	case eventClosed:
		return StateDisconnected
	}
	return s
}

// Conn is the subset of *websocket.Conn the client needs; tests substitute
// an in-memory implementation.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type Options struct {
	URL   string
	Token string

	HeartbeatInterval time.Duration // default 25s
	PongTimeout       time.Duration // default 10s; 0 disables the pong watchdog
	QueueCapacity     int           // default 64
	MaxAttempts       int           // default 5
	BackoffBase       time.Duration // default 1s
	BackoffCap        time.Duration // default 30s

	Dial      func(url string) (Conn, error)
	Scheduler Scheduler

	// OnMessage receives every decoded frame that is not consumed by the
	// transport itself (ping/pong/auth_ack).
	OnMessage     func(Envelope)
	OnStateChange func(ConnState)
	// OnGiveUp fires exactly once when the reconnect budget is exhausted.
	OnGiveUp func()
}

// Client keeps one logical connection to a room's event channel alive:
// auth handshake, heartbeat, buffered outbound queue, and exponential
// backoff reconnection.
type Client struct {
	opts Options

	mu             sync.Mutex
	state          ConnState
	conn           Conn
	queue          *sendQueue
	attempts       int
	authed         bool
	closing        bool
	gaveUp         bool
	heartbeatTimer Timer
	pongTimer      Timer
	reconnectTimer Timer
}

type outFrame struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

func NewClient(opts Options) *Client {
	if opts.HeartbeatInterval == 0 {
		opts.HeartbeatInterval = 25 * time.Second
	}
	if opts.PongTimeout == 0 {
		opts.PongTimeout = 10 * time.Second
	}
	if opts.QueueCapacity == 0 {
		opts.QueueCapacity = 64
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = 5
	}
	if opts.BackoffBase == 0 {
		opts.BackoffBase = time.Second
	}
	if opts.BackoffCap == 0 {
		opts.BackoffCap = 30 * time.Second
	}
	if opts.Dial == nil {
		opts.Dial = defaultDial
	}
	if opts.Scheduler == nil {
		opts.Scheduler = SystemScheduler
	}

	return &Client{
		opts:  opts,
		state: StateDisconnected,
		queue: newSendQueue(opts.QueueCapacity),
	}
}

func defaultDial(url string) (Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// State reports the current connection state.
func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect starts dialing. A fresh Connect resets the reconnect budget.
func (c *Client) Connect() {
	c.mu.Lock()
	if c.state == StateConnecting || c.state == StateConnected {
		c.mu.Unlock()
		return
	}
	c.closing = false
	c.attempts = 0
	c.gaveUp = false
	notify := c.setStateLocked(transition(c.state, eventDial))
	c.mu.Unlock()

	notify()
	go c.dial()
}

func (c *Client) dial() {
	conn, err := c.opts.Dial(c.opts.URL)

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}

	if err != nil {
		notify := c.setStateLocked(transition(c.state, eventDialFailed))
		giveUp := c.scheduleReconnectLocked()
		c.mu.Unlock()
		notify()
		giveUp()
		return
	}

	c.conn = conn
	c.attempts = 0
	notify := c.setStateLocked(transition(c.state, eventDialSucceeded))

	// The auth message goes out before anything queued while offline.
	if c.opts.Token != "" {
		frame, _ := json.Marshal(outFrame{Type: "auth", Payload: map[string]string{"token": c.opts.Token}})
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			log.Printf("transport: auth write failed: %v", err)
		}
	}

	// Flush frames buffered while disconnected, strictly before anything
	// the caller sends after this point.
	for _, frame := range c.queue.drain() {
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			log.Printf("transport: flush write failed: %v", err)
			break
		}
	}

	c.scheduleHeartbeatLocked()
	c.mu.Unlock()

	notify()
	go c.readLoop(conn)
}

// Send marshals a typed frame and writes it immediately when connected,
// or buffers it for the next flush. Buffer overflow drops the oldest
// pending frame.
func (c *Client) Send(messageType string, payload interface{}) error {
	data, err := json.Marshal(outFrame{Type: messageType, Payload: payload})
	if err != nil {
		return err
	}
	return c.sendFrame(data)
}

func (c *Client) sendFrame(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateConnected && c.conn != nil {
		return c.conn.WriteMessage(websocket.TextMessage, data)
	}
	if c.queue.push(data) {
		log.Printf("transport: outbound queue full, dropped oldest frame")
	}
	return nil
}

func (c *Client) readLoop(conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleConnLost(conn, err)
			return
		}

		env := Decode(data)
		switch env.Kind {
		case KindPing:
			frame, _ := json.Marshal(outFrame{Type: "pong"})
			c.sendFrame(frame)
		case KindPong:
			c.mu.Lock()
			if c.pongTimer != nil {
				c.pongTimer.Stop()
				c.pongTimer = nil
			}
			c.mu.Unlock()
		case KindAuthAck:
			c.mu.Lock()
			c.authed = true
			c.mu.Unlock()
		default:
			if c.opts.OnMessage != nil {
				c.opts.OnMessage(env)
			}
		}
	}
}

func (c *Client) handleConnLost(conn Conn, err error) {
	c.mu.Lock()
	if c.conn != nil && c.conn != conn {
		// A stale read loop from a replaced connection; the new one is
		// already live.
		c.mu.Unlock()
		return
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.stopConnTimersLocked()
	c.authed = false

	if c.closing || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		notify := c.setStateLocked(transition(c.state, eventClosed))
		c.mu.Unlock()
		notify()
		return
	}

	log.Printf("transport: connection lost: %v", err)
	notify := c.setStateLocked(transition(c.state, eventConnLost))
	giveUp := c.scheduleReconnectLocked()
	c.mu.Unlock()
	notify()
	giveUp()
}

// scheduleReconnectLocked applies the backoff policy. The returned func
// runs the give-up callback outside the lock, or nothing.
func (c *Client) scheduleReconnectLocked() func() {
	if c.gaveUp {
		return func() {}
	}
	if c.attempts >= c.opts.MaxAttempts {
		c.gaveUp = true
		cb := c.opts.OnGiveUp
		return func() {
			if cb != nil {
				cb()
			}
		}
	}

	c.attempts++
	delay := backoffDelay(c.attempts, c.opts.BackoffBase, c.opts.BackoffCap)
	c.reconnectTimer = c.opts.Scheduler.AfterFunc(delay, func() {
		c.mu.Lock()
		if c.closing || c.state == StateConnected {
			c.mu.Unlock()
			return
		}
		notify := c.setStateLocked(transition(c.state, eventDial))
		c.mu.Unlock()
		notify()
		c.dial()
	})
	return func() {}
}

// backoffDelay is base·2^(attempt−1) capped at max.
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

func (c *Client) scheduleHeartbeatLocked() {
	if c.opts.HeartbeatInterval <= 0 {
		return
	}
	c.heartbeatTimer = c.opts.Scheduler.AfterFunc(c.opts.HeartbeatInterval, c.heartbeat)
}

func (c *Client) heartbeat() {
	c.mu.Lock()
	if c.state != StateConnected || c.conn == nil {
		c.mu.Unlock()
		return
	}

	frame, _ := json.Marshal(outFrame{Type: "ping"})
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		log.Printf("transport: ping write failed: %v", err)
	}

	// A missing pong means a half-open connection; the watchdog forces a
	// teardown so the reconnect policy takes over.
	if c.opts.PongTimeout > 0 && c.pongTimer == nil {
		c.pongTimer = c.opts.Scheduler.AfterFunc(c.opts.PongTimeout, c.pongTimeout)
	}
	c.scheduleHeartbeatLocked()
	c.mu.Unlock()
}

func (c *Client) pongTimeout() {
	c.mu.Lock()
	c.pongTimer = nil
	conn := c.conn
	connected := c.state == StateConnected
	c.mu.Unlock()

	if connected && conn != nil {
		log.Printf("transport: pong timeout, dropping connection")
		conn.Close()
	}
}

// Disconnect closes intentionally: timers stop, the normal-closure code
// suppresses auto-reconnect, and the authenticated flag resets.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.closing = true
	c.stopConnTimersLocked()
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.authed = false
	conn := c.conn
	c.conn = nil
	notify := c.setStateLocked(transition(c.state, eventClosed))
	c.mu.Unlock()

	if conn != nil {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	}
	notify()
}

// Authenticated reports whether the server acknowledged the auth message
// on the current connection.
func (c *Client) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authed
}

func (c *Client) stopConnTimersLocked() {
	if c.heartbeatTimer != nil {
		c.heartbeatTimer.Stop()
		c.heartbeatTimer = nil
	}
	if c.pongTimer != nil {
		c.pongTimer.Stop()
		c.pongTimer = nil
	}
}

// setStateLocked updates the state and returns the change callback to run
// after the lock is released.
func (c *Client) setStateLocked(next ConnState) func() {
	if next == c.state {
		return func() {}
	}
	c.state = next
	cb := c.opts.OnStateChange
	return func() {
		if cb != nil {
			cb(next)
		}
	}
}
