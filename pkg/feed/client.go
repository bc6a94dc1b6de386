package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-pantilt/pkg/protocol"
)

// ErrClientClosed is returned once the connection is gone.
var ErrClientClosed = errors.New("feed client closed")

const writeWait = 5 * time.Second

// Client is a perception process connected to a feed server.
type Client struct {
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex

	mu       sync.Mutex
	pending  map[string]chan *protocol.Message // ack reply_to / pong id
	onPacket func(protocol.PacketData)

	frameID atomic.Uint64
	done    chan struct{}
	closed  atomic.Bool
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientLogger sets the structured logger.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger.With("component", "feed-client")
	}
}

// Dial connects to a feed server, e.g. ws://localhost:8080/ws/perception/cam0.
func Dial(ctx context.Context, url string, opts ...ClientOption) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	c := &Client{
		conn:    conn,
		logger:  slog.Default().With("component", "feed-client"),
		pending: make(map[string]chan *protocol.Message),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	go c.readLoop()
	return c, nil
}

// OnPacket sets the callback for mirrored control packets. It runs on the
// read goroutine.
func (c *Client) OnPacket(fn func(protocol.PacketData)) {
	c.mu.Lock()
	c.onPacket = fn
	c.mu.Unlock()
}

// Observe publishes a detected target.
func (c *Client) Observe(x, y int, identity *uint32, embedding []float64) error {
	msg, err := protocol.NewObservationMessage(x, y, identity, embedding, c.frameID.Add(1))
	if err != nil {
		return err
	}
	return c.write(msg)
}

// Absent publishes a frame with no target.
func (c *Client) Absent() error {
	msg, err := protocol.NewAbsentMessage(c.frameID.Add(1))
	if err != nil {
		return err
	}
	return c.write(msg)
}

// Submit sends a task request and waits for its ack. A rejected request
// returns the ack with its Error set and a nil error.
func (c *Client) Submit(ctx context.Context, data protocol.TaskData) (protocol.AckData, error) {
	data.ReplyTo = uuid.New().String()
	msg, err := protocol.NewTaskMessage(data)
	if err != nil {
		return protocol.AckData{}, err
	}

	reply, err := c.roundTrip(ctx, data.ReplyTo, msg)
	if err != nil {
		return protocol.AckData{}, err
	}
	ack, err := reply.GetAckData()
	if err != nil {
		return protocol.AckData{}, err
	}
	return *ack, nil
}

// Ping measures the round trip to the server.
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	id := uuid.New().String()
	msg, err := protocol.NewPingMessage(id)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	if _, err := c.roundTrip(ctx, id, msg); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

func (c *Client) roundTrip(ctx context.Context, key string, msg *protocol.Message) (*protocol.Message, error) {
	reply := make(chan *protocol.Message, 1)
	c.mu.Lock()
	c.pending[key] = reply
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, key)
		c.mu.Unlock()
	}()

	if err := c.write(msg); err != nil {
		return nil, err
	}

	select {
	case r := <-reply:
		return r, nil
	case <-c.done:
		return nil, ErrClientClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) write(msg *protocol.Message) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	data, err := msg.Bytes()
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) readLoop() {
	defer close(c.done)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !c.closed.Load() {
				c.logger.Warn("feed connection lost", "error", err)
			}
			c.closed.Store(true)
			return
		}

		msg, err := protocol.ParseMessage(data)
		if err != nil {
			c.logger.Debug("parse error", "error", err)
			continue
		}
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg *protocol.Message) {
	switch msg.Type {
	case protocol.TypeAck:
		if ack, err := msg.GetAckData(); err == nil {
			c.deliver(ack.ReplyTo, msg)
		}

	case protocol.TypePong:
		if pong, err := msg.GetPongData(); err == nil {
			c.deliver(pong.ID, msg)
		}

	case protocol.TypePacket:
		c.mu.Lock()
		fn := c.onPacket
		c.mu.Unlock()
		if fn == nil {
			return
		}
		if p, err := msg.GetPacketData(); err == nil {
			fn(*p)
		}
	}
}

func (c *Client) deliver(key string, msg *protocol.Message) {
	c.mu.Lock()
	reply, ok := c.pending[key]
	c.mu.Unlock()
	if !ok {
		return
	}
	select {
	case reply <- msg:
	default:
	}
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close sends a close frame and closes the connection.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	c.writeMu.Unlock()

	return c.conn.Close()
}
