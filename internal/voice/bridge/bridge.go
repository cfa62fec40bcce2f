// Package bridge implements voice.Handle on top of a websocket connection to
// a voice node. The node owns the real-time session for one assistant
// identity; this client only issues join/leave/pause/resume requests, relays
// stream-end events and measures round-trip latency.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"crabstack.local/projects/crab-voice/internal/ids"
	"crabstack.local/projects/crab-voice/internal/voice"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultRequestTimeout   = 15 * time.Second
	defaultPingInterval     = 10 * time.Second
	writeTimeout            = 5 * time.Second
	maxMessageBytes         = 1 << 20
	maxReconnectBackoff     = 30 * time.Second
)

var errClientClosed = errors.New("bridge client closed")

type Option func(*Client)

func WithPingInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pingInterval = d
		}
	}
}

func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.requestTimeout = d
		}
	}
}

func WithDialer(dialer *websocket.Dialer) Option {
	return func(c *Client) {
		if dialer != nil {
			c.dialer = dialer
		}
	}
}

type Client struct {
	identity       string
	url            string
	logger         *log.Logger
	dialer         *websocket.Dialer
	pingInterval   time.Duration
	requestTimeout time.Duration

	writeMu sync.Mutex

	mu        sync.Mutex
	conn      *websocket.Conn
	started   bool
	closed    bool
	pending   map[string]chan result
	listeners []func(voice.StreamEnded)
	done      chan struct{}

	latencyBits atomic.Uint64
	measured    atomic.Bool
}

type result struct {
	msg inbound
	err error
}

func New(identity, url string, logger *log.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	c := &Client{
		identity:       strings.TrimSpace(identity),
		url:            strings.TrimSpace(url),
		logger:         logger,
		dialer:         &websocket.Dialer{HandshakeTimeout: defaultHandshakeTimeout},
		pingInterval:   defaultPingInterval,
		requestTimeout: defaultRequestTimeout,
		pending:        make(map[string]chan result),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

func (c *Client) Identity() string {
	return c.identity
}

func (c *Client) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errClientClosed
	}
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("bridge %s already started", c.identity)
	}
	c.started = true
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		c.mu.Lock()
		c.started = false
		c.mu.Unlock()
		return err
	}

	go c.run(conn)
	c.logger.Printf("voice bridge connected identity=%s url=%s", c.identity, c.url)
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	close(c.done)
	c.mu.Unlock()

	c.failPending(errClientClosed)
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(500*time.Millisecond))
		_ = conn.Close()
	}
	return nil
}

func (c *Client) JoinCall(ctx context.Context, chatID int64, stream voice.StreamDescriptor) error {
	payload := &streamPayload{
		Path:      stream.Path,
		AudioOnly: stream.AudioOnly,
		Quality:   string(stream.Quality),
	}
	if stream.Seek > 0 {
		payload.SeekSeconds = stream.Seek.Seconds()
	}
	_, err := c.call(ctx, request{Op: opJoin, ChatID: chatID, Stream: payload})
	return err
}

func (c *Client) LeaveCall(ctx context.Context, chatID int64) error {
	_, err := c.call(ctx, request{Op: opLeave, ChatID: chatID})
	return err
}

func (c *Client) PauseStream(ctx context.Context, chatID int64) (bool, error) {
	msg, err := c.call(ctx, request{Op: opPause, ChatID: chatID})
	if err != nil {
		return false, err
	}
	return msg.flag(), nil
}

func (c *Client) ResumeStream(ctx context.Context, chatID int64) (bool, error) {
	msg, err := c.call(ctx, request{Op: opResume, ChatID: chatID})
	if err != nil {
		return false, err
	}
	return msg.flag(), nil
}

func (c *Client) Ping() (float64, bool) {
	if !c.measured.Load() {
		return 0, false
	}
	return math.Float64frombits(c.latencyBits.Load()), true
}

func (c *Client) OnStreamEnd(fn func(voice.StreamEnded)) error {
	if fn == nil {
		return fmt.Errorf("stream end callback is required")
	}
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial voice bridge %s: %w", c.identity, err)
	}
	conn.SetReadLimit(maxMessageBytes)
	conn.SetPongHandler(c.handlePong)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return nil, errClientClosed
	}
	c.conn = conn
	c.mu.Unlock()
	return conn, nil
}

// run serves conn until it fails, then redials with capped backoff until the
// client is closed.
func (c *Client) run(conn *websocket.Conn) {
	for {
		c.serve(conn)

		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}
		c.failPending(voice.ErrConnectionNotFound)

		next, ok := c.redial()
		if !ok {
			return
		}
		conn = next
	}
}

func (c *Client) redial() (*websocket.Conn, bool) {
	backoff := time.Second
	for {
		select {
		case <-c.done:
			return nil, false
		case <-time.After(backoff):
		}

		ctx, cancel := context.WithTimeout(context.Background(), defaultHandshakeTimeout)
		conn, err := c.dial(ctx)
		cancel()
		if err == nil {
			c.logger.Printf("voice bridge reconnected identity=%s", c.identity)
			return conn, true
		}
		if errors.Is(err, errClientClosed) {
			return nil, false
		}
		c.logger.Printf("voice bridge reconnect failed identity=%s backoff=%s err=%v", c.identity, backoff, err)
		backoff *= 2
		if backoff > maxReconnectBackoff {
			backoff = maxReconnectBackoff
		}
	}
}

func (c *Client) serve(conn *websocket.Conn) {
	stopPing := make(chan struct{})
	defer close(stopPing)
	go c.pingLoop(conn, stopPing)

	for {
		var msg inbound
		if err := conn.ReadJSON(&msg); err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if !closed {
				c.logger.Printf("voice bridge read failed identity=%s err=%v", c.identity, err)
			}
			_ = conn.Close()
			return
		}
		c.route(msg)
	}
}

func (c *Client) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	c.sendPing(conn)
	for {
		select {
		case <-stop:
			return
		case <-c.done:
			return
		case <-ticker.C:
			c.sendPing(conn)
		}
	}
}

func (c *Client) sendPing(conn *websocket.Conn) {
	stamp := strconv.FormatInt(time.Now().UnixNano(), 10)
	if err := conn.WriteControl(websocket.PingMessage, []byte(stamp), time.Now().Add(writeTimeout)); err != nil {
		c.logger.Printf("voice bridge ping failed identity=%s err=%v", c.identity, err)
	}
}

func (c *Client) handlePong(appData string) error {
	sent, err := strconv.ParseInt(appData, 10, 64)
	if err != nil {
		return nil
	}
	rtt := time.Since(time.Unix(0, sent))
	if rtt < 0 {
		return nil
	}
	ms := float64(rtt.Microseconds()) / 1000
	c.latencyBits.Store(math.Float64bits(ms))
	c.measured.Store(true)
	return nil
}

func (c *Client) route(msg inbound) {
	if msg.Event != "" {
		c.handleEvent(msg)
		return
	}
	if msg.ID == "" {
		c.logger.Printf("voice bridge dropped message without id identity=%s", c.identity)
		return
	}

	c.mu.Lock()
	ch, ok := c.pending[msg.ID]
	delete(c.pending, msg.ID)
	c.mu.Unlock()
	if !ok {
		c.logger.Printf("voice bridge dropped late response identity=%s id=%s", c.identity, msg.ID)
		return
	}
	ch <- result{msg: msg}
}

func (c *Client) handleEvent(msg inbound) {
	if msg.Event != eventStreamEnd {
		c.logger.Printf("voice bridge ignored event=%s identity=%s", msg.Event, c.identity)
		return
	}

	c.mu.Lock()
	listeners := make([]func(voice.StreamEnded), len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	update := voice.StreamEnded{ChatID: msg.ChatID, Reason: msg.Reason}
	for _, fn := range listeners {
		c.notify(fn, update)
	}
}

func (c *Client) notify(fn func(voice.StreamEnded), update voice.StreamEnded) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Printf("voice bridge stream end callback panic identity=%s chat_id=%d panic=%v", c.identity, update.ChatID, r)
		}
	}()
	fn(update)
}

func (c *Client) call(ctx context.Context, req request) (inbound, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	c.mu.Lock()
	conn := c.conn
	if c.closed || conn == nil {
		c.mu.Unlock()
		return inbound{}, fmt.Errorf("%w: bridge %s is not connected", voice.ErrConnectionNotFound, c.identity)
	}
	req.ID = ids.New()
	ch := make(chan result, 1)
	c.pending[req.ID] = ch
	c.mu.Unlock()

	if err := c.write(conn, req); err != nil {
		c.forget(req.ID)
		return inbound{}, fmt.Errorf("%w: write %s: %v", voice.ErrConnectionNotFound, req.Op, err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	select {
	case res := <-ch:
		if res.err != nil {
			return inbound{}, res.err
		}
		return res.msg, res.msg.err()
	case <-timeoutCtx.Done():
		c.forget(req.ID)
		if ctx.Err() != nil {
			return inbound{}, ctx.Err()
		}
		return inbound{}, fmt.Errorf("%w: %s timed out after %s", voice.ErrServerError, req.Op, c.requestTimeout)
	}
}

func (c *Client) write(conn *websocket.Conn, req request) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	return conn.WriteJSON(req)
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) failPending(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]chan result)
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- result{err: err}
	}
}
